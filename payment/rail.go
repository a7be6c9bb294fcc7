// Package payment defines the contract with the external payment rail. The
// engine only issues instructions; settlement on the rail itself re-enters
// the engine as new triggers.
package payment

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
)

// PayeeRole identifies who an instruction pays.
type PayeeRole string

const (
	PayeeSeller   PayeeRole = "seller"
	PayeePlatform PayeeRole = "platform"
	PayeeBuyer    PayeeRole = "buyer"
)

// ErrAmountMismatch signals that the amount reported by the rail does not
// match what the sale requires. Intake must be rejected, never adjusted.
var ErrAmountMismatch = errors.New("payment: amount mismatch")

//go:generate mockgen -source=rail.go -destination=mock_rail.go -package=payment

// Rail is the external payment collaborator. Any error from Payout or
// Refund aborts the triggering transition entirely.
type Rail interface {
	// ConfirmIntake acknowledges that amountPaid has arrived for the
	// transaction. Implementations return ErrAmountMismatch when the paid
	// amount differs from the expected one.
	ConfirmIntake(ctx context.Context, txnID string, amountPaid, expected int64) error
	// Payout instructs the rail to pay amount to the payee and returns the
	// rail-side instruction id.
	Payout(ctx context.Context, txnID string, payee PayeeRole, amount int64) (string, error)
	// Refund instructs the rail to return amount to the buyer.
	Refund(ctx context.Context, txnID string, amount int64) (string, error)
}

// LogRail is the default stand-in rail: it accepts matching intakes and
// answers payout and refund instructions with fresh instruction ids while
// logging them. Real rail adapters replace it in production wiring.
type LogRail struct {
	Log *slog.Logger
}

func (r *LogRail) logger() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return slog.Default()
}

func (r *LogRail) ConfirmIntake(_ context.Context, txnID string, amountPaid, expected int64) error {
	if amountPaid != expected {
		return ErrAmountMismatch
	}
	r.logger().Info("payment intake confirmed", "txn_id", txnID, "amount", amountPaid)
	return nil
}

func (r *LogRail) Payout(_ context.Context, txnID string, payee PayeeRole, amount int64) (string, error) {
	id := uuid.NewString()
	r.logger().Info("payout instructed", "txn_id", txnID, "payee", payee, "amount", amount, "instruction", id)
	return id, nil
}

func (r *LogRail) Refund(_ context.Context, txnID string, amount int64) (string, error) {
	id := uuid.NewString()
	r.logger().Info("refund instructed", "txn_id", txnID, "amount", amount, "instruction", id)
	return id, nil
}
