package txn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"carvault/db"
)

var (
	// ErrDuplicateIdempotencyKey signals the idempotency insert hit an
	// already-consumed trigger key.
	ErrDuplicateIdempotencyKey = errors.New("txn: duplicate idempotency key")
	// ErrNotFound is returned when no transaction row exists for the id.
	ErrNotFound = errors.New("txn: not found")
	// ErrCarBusy is returned when the car already has a live sale.
	ErrCarBusy = errors.New("txn: car already has an active sale")
)

// Repository owns the SQL for the transactions aggregate and its satellite
// tables (timeline, outbox, idempotency, payout instructions, gate rows).
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

const transactionColumns = `
id, car_id, buyer_id, seller_id, car_price, commission_rate_bp,
delivery_method, delivery_cost, status, negotiation_opened_at,
negotiation_deadline, created_at, updated_at`

func scanTransaction(row pgx.Row) (Transaction, error) {
	var t Transaction
	err := row.Scan(
		&t.ID, &t.CarID, &t.BuyerID, &t.SellerID, &t.CarPrice, &t.CommissionRateBP,
		&t.DeliveryMethod, &t.DeliveryCost, &t.Status, &t.NegotiationOpenedAt,
		&t.NegotiationDeadline, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrNotFound
		}
		return Transaction{}, fmt.Errorf("txn: scan transaction: %w", err)
	}
	return t, nil
}

// InsertIdempotencyKey attempts to reserve the trigger key inside the active
// transaction.
func (r *Repository) InsertIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) error {
	if key == "" {
		return fmt.Errorf("txn: empty idempotency key")
	}

	if _, err := tx.Exec(ctx, `INSERT INTO idempotency (key) VALUES ($1)`, key); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("txn: insert idempotency key: %w", err)
	}

	return nil
}

// CreateParams enumerates the fields required to open a sale.
type CreateParams struct {
	CarID            string
	BuyerID          string
	SellerID         string
	CarPrice         int64
	CommissionRateBP int64
	DeliveryMethod   *string
	DeliveryCost     int64
}

// Insert opens the sale row plus its pending contract and compliance gate
// rows in one shot.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, params CreateParams) (Transaction, error) {
	const insertSQL = `
INSERT INTO transactions (car_id, buyer_id, seller_id, car_price, commission_rate_bp, delivery_method, delivery_cost)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + transactionColumns

	rec, err := scanTransaction(tx.QueryRow(ctx, insertSQL,
		params.CarID, params.BuyerID, params.SellerID,
		params.CarPrice, params.CommissionRateBP,
		params.DeliveryMethod, params.DeliveryCost,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Transaction{}, ErrCarBusy
		}
		return Transaction{}, fmt.Errorf("txn: insert: %w", err)
	}

	const gatesSQL = `
INSERT INTO verification_gates (transaction_id, category)
VALUES ($1, 'contract'), ($1, 'compliance')`
	if _, err := tx.Exec(ctx, gatesSQL, rec.ID); err != nil {
		return Transaction{}, fmt.Errorf("txn: seed gate rows: %w", err)
	}

	return rec, nil
}

// LockByID loads the sale with a row lock, serializing every concurrent
// trigger on the same aggregate.
func (r *Repository) LockByID(ctx context.Context, tx pgx.Tx, id string) (Transaction, error) {
	const q = `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1 FOR UPDATE`
	return scanTransaction(tx.QueryRow(ctx, q, id))
}

// GetByID loads the sale without locking.
func (r *Repository) GetByID(ctx context.Context, q db.Querier, id string) (Transaction, error) {
	const sel = `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	return scanTransaction(q.QueryRow(ctx, sel, id))
}

// SetStatus moves the already-locked sale to the target status.
func (r *Repository) SetStatus(ctx context.Context, tx pgx.Tx, id string, to Status) error {
	const q = `
UPDATE transactions
SET status = $1, updated_at = get_tx_timestamp()
WHERE id = $2`
	if _, err := tx.Exec(ctx, q, string(to), id); err != nil {
		return fmt.Errorf("txn: set status: %w", err)
	}
	return nil
}

// OpenNegotiation stamps the negotiation window on the locked sale.
func (r *Repository) OpenNegotiation(ctx context.Context, tx pgx.Tx, id string, deadline time.Time) error {
	const q = `
UPDATE transactions
SET status = 'negotiating',
    negotiation_opened_at = get_tx_timestamp(),
    negotiation_deadline = $1,
    updated_at = get_tx_timestamp()
WHERE id = $2`
	if _, err := tx.Exec(ctx, q, deadline, id); err != nil {
		return fmt.Errorf("txn: open negotiation: %w", err)
	}
	return nil
}

// CloseNegotiation returns the locked sale to funds_held and clears the window.
func (r *Repository) CloseNegotiation(ctx context.Context, tx pgx.Tx, id string) error {
	const q = `
UPDATE transactions
SET status = 'funds_held',
    negotiation_opened_at = NULL,
    negotiation_deadline = NULL,
    updated_at = get_tx_timestamp()
WHERE id = $1`
	if _, err := tx.Exec(ctx, q, id); err != nil {
		return fmt.Errorf("txn: close negotiation: %w", err)
	}
	return nil
}

// CreateHandoverSession installs the one-time secret holder created when
// funds arrive.
func (r *Repository) CreateHandoverSession(ctx context.Context, tx pgx.Tx, txnID, secret string) error {
	const q = `INSERT INTO handover_sessions (transaction_id, secret) VALUES ($1, $2)`
	if _, err := tx.Exec(ctx, q, txnID, secret); err != nil {
		return fmt.Errorf("txn: create handover session: %w", err)
	}
	return nil
}

// VerifyContractGate flips the contract gate to verified. It reports false
// when the gate was already verified so callers can skip duplicate events.
func (r *Repository) VerifyContractGate(ctx context.Context, tx pgx.Tx, txnID string) (bool, error) {
	const q = `
UPDATE verification_gates
SET state = 'verified', updated_at = get_tx_timestamp()
WHERE transaction_id = $1 AND category = 'contract' AND state <> 'verified'`
	tag, err := tx.Exec(ctx, q, txnID)
	if err != nil {
		return false, fmt.Errorf("txn: verify contract gate: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RecordInstruction persists a rail instruction. The unique constraint on
// (transaction, kind, payee) makes a double payout a hard database error.
func (r *Repository) RecordInstruction(ctx context.Context, tx pgx.Tx, txnID, kind string, payee string, amount int64, instructionRef string) error {
	const q = `
INSERT INTO payout_instructions (transaction_id, kind, payee_role, amount, instruction_ref)
VALUES ($1, $2, $3, $4, $5)`
	if _, err := tx.Exec(ctx, q, txnID, kind, payee, amount, instructionRef); err != nil {
		return fmt.Errorf("txn: record %s instruction: %w", kind, err)
	}
	return nil
}

// AppendTimeline appends an immutable business event for the sale.
func (r *Repository) AppendTimeline(ctx context.Context, tx pgx.Tx, txnID, eventType string, actorID *string, payload map[string]any) error {
	body, err := json.Marshal(payloadOrEmpty(payload))
	if err != nil {
		return fmt.Errorf("txn: marshal timeline payload: %w", err)
	}

	var actor any
	if actorID != nil && *actorID != "" {
		actor = *actorID
	}

	const q = `
INSERT INTO timeline_events (transaction_id, type, payload, actor_id)
VALUES ($1, $2, $3::jsonb, $4::uuid)`
	if _, err := tx.Exec(ctx, q, txnID, eventType, body, actor); err != nil {
		return fmt.Errorf("txn: insert timeline event: %w", err)
	}
	return nil
}

// EnqueueOutbox stages a message for the relay in the same transaction as
// the state change it announces.
func (r *Repository) EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payloadOrEmpty(payload))
	if err != nil {
		return fmt.Errorf("txn: marshal outbox payload: %w", err)
	}

	const q = `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`
	if _, err := tx.Exec(ctx, q, topic, body); err != nil {
		return fmt.Errorf("txn: enqueue outbox: %w", err)
	}
	return nil
}

// ListTimeline returns the sale's events in append order.
func (r *Repository) ListTimeline(ctx context.Context, q db.Querier, txnID string) ([]TimelineEvent, error) {
	const sel = `
SELECT id, transaction_id, seq, type, actor_id::text, created_at, payload
FROM timeline_events
WHERE transaction_id = $1
ORDER BY seq`
	rows, err := q.Query(ctx, sel, txnID)
	if err != nil {
		return nil, fmt.Errorf("txn: list timeline: %w", err)
	}
	defer rows.Close()

	events := make([]TimelineEvent, 0, 8)
	for rows.Next() {
		var ev TimelineEvent
		if err := rows.Scan(&ev.ID, &ev.TransactionID, &ev.Seq, &ev.Type, &ev.ActorID, &ev.CreatedAt, &ev.Payload); err != nil {
			return nil, fmt.Errorf("txn: scan timeline event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("txn: iterate timeline: %w", err)
	}
	return events, nil
}

func payloadOrEmpty(payload map[string]any) map[string]any {
	if payload == nil {
		return map[string]any{}
	}
	return payload
}
