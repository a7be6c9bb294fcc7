package txn

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"carvault/payment"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store defines the data access required by the lifecycle service.
type Store interface {
	InsertIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) error
	Insert(ctx context.Context, tx pgx.Tx, params CreateParams) (Transaction, error)
	LockByID(ctx context.Context, tx pgx.Tx, id string) (Transaction, error)
	SetStatus(ctx context.Context, tx pgx.Tx, id string, to Status) error
	CreateHandoverSession(ctx context.Context, tx pgx.Tx, txnID, secret string) error
	VerifyContractGate(ctx context.Context, tx pgx.Tx, txnID string) (bool, error)
	RecordInstruction(ctx context.Context, tx pgx.Tx, txnID, kind, payee string, amount int64, instructionRef string) error
	AppendTimeline(ctx context.Context, tx pgx.Tx, txnID, eventType string, actorID *string, payload map[string]any) error
	EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Service drives the custody lifecycle of a sale: intake of funds,
// cancellation/refund and the contract gate. Release lives in the handover
// package since it is driven by the handover protocol.
type Service struct {
	pool TxBeginner
	repo Store
	rail payment.Rail
}

func NewService(pool TxBeginner, repo Store, rail payment.Rail) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	return &Service{pool: pool, repo: repo, rail: rail}
}

// Create opens a sale on buyer commitment. The car price is fixed here and
// immutable from funds_held on.
func (s *Service) Create(ctx context.Context, actorID string, params CreateParams) (Transaction, error) {
	if params.CarID == "" || params.BuyerID == "" || params.SellerID == "" {
		return Transaction{}, fmt.Errorf("txn: car, buyer and seller ids are required")
	}
	if params.CarPrice < 0 || params.DeliveryCost < 0 {
		return Transaction{}, fmt.Errorf("txn: negative amount")
	}
	if params.CommissionRateBP < 0 || params.CommissionRateBP >= 10000 {
		return Transaction{}, fmt.Errorf("txn: commission rate out of range")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Transaction{}, fmt.Errorf("txn: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.Insert(ctx, tx, params)
	if err != nil {
		return Transaction{}, err
	}

	if err := s.repo.AppendTimeline(ctx, tx, rec.ID, EventSaleCreated, &actorID, map[string]any{
		"car_id":    rec.CarID,
		"car_price": rec.CarPrice,
	}); err != nil {
		return Transaction{}, err
	}
	if err := s.repo.EnqueueOutbox(ctx, tx, TopicSaleCreated, map[string]any{
		"transaction_id": rec.ID,
		"buyer_id":       rec.BuyerID,
		"seller_id":      rec.SellerID,
	}); err != nil {
		return Transaction{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, fmt.Errorf("txn: commit create: %w", err)
	}
	return rec, nil
}

// IntakeParams normalizes a payment-confirmation webhook.
type IntakeParams struct {
	TransactionID  string
	AmountPaid     int64
	IdempotencyKey string
}

// ConfirmIntake applies an external payment confirmation. Replays of the
// same webhook are absorbed by the idempotency key; a second, distinct
// confirmation of an already funded sale is an invalid transition. On
// success the sale moves to funds_held and the handover session with its
// one-time secret is created.
func (s *Service) ConfirmIntake(ctx context.Context, params IntakeParams) error {
	if params.IdempotencyKey == "" {
		return fmt.Errorf("txn: missing idempotency key")
	}
	if params.TransactionID == "" {
		return fmt.Errorf("txn: missing transaction id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("txn: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.InsertIdempotencyKey(ctx, tx, params.IdempotencyKey); err != nil {
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			return nil
		}
		return err
	}

	rec, err := s.repo.LockByID(ctx, tx, params.TransactionID)
	if err != nil {
		return err
	}
	if err := EnsureTransition(rec.Status, StatusFundsHeld); err != nil {
		return err
	}

	// An amount mismatch rejects the intake outright; state is untouched.
	if err := s.rail.ConfirmIntake(ctx, rec.ID, params.AmountPaid, rec.BuyerTotal()); err != nil {
		return fmt.Errorf("txn: confirm intake: %w", err)
	}

	if err := s.repo.SetStatus(ctx, tx, rec.ID, StatusFundsHeld); err != nil {
		return err
	}
	if err := s.repo.CreateHandoverSession(ctx, tx, rec.ID, uuid.NewString()); err != nil {
		return err
	}
	if err := s.repo.AppendTimeline(ctx, tx, rec.ID, EventFundsHeld, nil, map[string]any{
		"amount_paid": params.AmountPaid,
	}); err != nil {
		return err
	}
	if err := s.repo.EnqueueOutbox(ctx, tx, TopicFundsHeld, map[string]any{
		"transaction_id": rec.ID,
		"amount":         params.AmountPaid,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("txn: commit intake: %w", err)
	}
	return nil
}

// CancelParams describe an explicit withdrawal or admin override.
type CancelParams struct {
	TransactionID string
	ActorID       string
	Reason        string
}

// Cancel withdraws a sale before release. A funded sale is refunded in
// full; retrying a cancellation of an already cancelled sale is a no-op.
// Negotiating sales must be resolved back to funds_held first.
func (s *Service) Cancel(ctx context.Context, params CancelParams) error {
	if params.TransactionID == "" {
		return fmt.Errorf("txn: missing transaction id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("txn: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.LockByID(ctx, tx, params.TransactionID)
	if err != nil {
		return err
	}
	if rec.Status == StatusCancelled {
		return nil
	}
	if err := EnsureTransition(rec.Status, StatusCancelled); err != nil {
		return err
	}

	if rec.Status == StatusFundsHeld {
		refund := rec.BuyerTotal()
		instructionRef, err := s.rail.Refund(ctx, rec.ID, refund)
		if err != nil {
			return fmt.Errorf("txn: refund: %w", err)
		}
		if err := s.repo.RecordInstruction(ctx, tx, rec.ID, "refund", string(payment.PayeeBuyer), refund, instructionRef); err != nil {
			return err
		}
	}

	if err := s.repo.SetStatus(ctx, tx, rec.ID, StatusCancelled); err != nil {
		return err
	}
	if err := s.repo.AppendTimeline(ctx, tx, rec.ID, EventSaleCancelled, &params.ActorID, map[string]any{
		"previous_status": string(rec.Status),
		"reason":          params.Reason,
	}); err != nil {
		return err
	}
	if err := s.repo.EnqueueOutbox(ctx, tx, TopicCancelled, map[string]any{
		"transaction_id": rec.ID,
		"refunded":       rec.Status == StatusFundsHeld,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("txn: commit cancel: %w", err)
	}
	return nil
}

// SignContract flips the contract gate. Re-signing is a no-op; terminal
// sales reject the action.
func (s *Service) SignContract(ctx context.Context, txnID, actorID string) error {
	if txnID == "" {
		return fmt.Errorf("txn: missing transaction id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("txn: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.LockByID(ctx, tx, txnID)
	if err != nil {
		return err
	}
	if rec.Status.Terminal() {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, rec.Status)
	}

	changed, err := s.repo.VerifyContractGate(ctx, tx, rec.ID)
	if err != nil {
		return err
	}
	if changed {
		if err := s.repo.AppendTimeline(ctx, tx, rec.ID, EventContractSigned, &actorID, nil); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("txn: commit contract signature: %w", err)
	}
	return nil
}

// Reader serves the read side of the transactions aggregate.
type Reader struct {
	pool *pgxpool.Pool
	repo *Repository
}

func NewReader(pool *pgxpool.Pool) *Reader {
	return &Reader{pool: pool, repo: NewRepository()}
}

func (r *Reader) Get(ctx context.Context, id string) (Transaction, error) {
	return r.repo.GetByID(ctx, r.pool, id)
}

func (r *Reader) Timeline(ctx context.Context, id string) ([]TimelineEvent, error) {
	if _, err := r.repo.GetByID(ctx, r.pool, id); err != nil {
		return nil, err
	}
	return r.repo.ListTimeline(ctx, r.pool, id)
}
