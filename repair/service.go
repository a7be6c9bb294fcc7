package repair

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"carvault/txn"
)

var (
	ErrNotFound = errors.New("repair: quotation not found")
	// ErrBadStatus rejects a decision that does not fit the quotation's
	// current status.
	ErrBadStatus = errors.New("repair: invalid status transition")
	// ErrDuplicateQuotation is returned when the sale already has one.
	ErrDuplicateQuotation = errors.New("repair: quotation already exists")
)

const (
	eventQuotationCreated = "QUOTATION_CREATED"
	eventQuotationDecided = "QUOTATION_DECIDED"
	eventRepairStarted    = "REPAIR_STARTED"
	eventRepairCompleted  = "REPAIR_COMPLETED"
)

// Service owns the repair quotation attached to a sale. Mutations lock the
// owning transaction row first so a buyer decision can never race a release
// attempt on the same sale.
type Service struct {
	pool *pgxpool.Pool
	txns *txn.Repository
}

func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool, txns: txn.NewRepository()}
}

// ItemParams is one defect line of a new quotation.
type ItemParams struct {
	DefectID string
	Cost     int64
	Note     string
}

// CreateParams describe a new quotation for a sale.
type CreateParams struct {
	TransactionID string
	ActorID       string
	Items         []ItemParams
}

// Create registers the workshop's quotation. The total is the sum of the
// items; a sale carries at most one quotation.
func (s *Service) Create(ctx context.Context, params CreateParams) (Quotation, error) {
	if params.TransactionID == "" {
		return Quotation{}, fmt.Errorf("repair: missing transaction id")
	}
	if len(params.Items) == 0 {
		return Quotation{}, fmt.Errorf("repair: at least one item is required")
	}
	var total int64
	for _, item := range params.Items {
		if item.Cost < 0 {
			return Quotation{}, fmt.Errorf("repair: negative item cost")
		}
		if item.DefectID == "" {
			return Quotation{}, fmt.Errorf("repair: item defect id is required")
		}
		total += item.Cost
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Quotation{}, fmt.Errorf("repair: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	sale, err := s.txns.LockByID(ctx, tx, params.TransactionID)
	if err != nil {
		return Quotation{}, err
	}
	if sale.Status.Terminal() {
		return Quotation{}, fmt.Errorf("%w: sale is %s", ErrBadStatus, sale.Status)
	}

	const insertSQL = `
INSERT INTO repair_quotations (transaction_id, total_amount)
VALUES ($1, $2)
ON CONFLICT (transaction_id) DO NOTHING
RETURNING id, transaction_id, total_amount, status, created_at, updated_at`
	quo, err := scanQuotation(tx.QueryRow(ctx, insertSQL, sale.ID, total))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Quotation{}, ErrDuplicateQuotation
		}
		return Quotation{}, err
	}

	const itemSQL = `
INSERT INTO repair_items (quotation_id, defect_id, cost, note)
VALUES ($1, $2, $3, $4)
RETURNING id`
	for _, item := range params.Items {
		var itemID string
		if err := tx.QueryRow(ctx, itemSQL, quo.ID, item.DefectID, item.Cost, item.Note).Scan(&itemID); err != nil {
			return Quotation{}, fmt.Errorf("repair: insert item: %w", err)
		}
		quo.Items = append(quo.Items, Item{
			ID:          itemID,
			QuotationID: quo.ID,
			DefectID:    item.DefectID,
			Cost:        item.Cost,
			Note:        item.Note,
		})
	}

	if err := s.txns.AppendTimeline(ctx, tx, sale.ID, eventQuotationCreated, &params.ActorID, map[string]any{
		"quotation_id": quo.ID,
		"total_amount": total,
		"items":        len(params.Items),
	}); err != nil {
		return Quotation{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Quotation{}, fmt.Errorf("repair: commit create: %w", err)
	}
	return quo, nil
}

// Accept records the buyer's agreement to the repair plan; the total will
// be deducted from the seller at release.
func (s *Service) Accept(ctx context.Context, quotationID, actorID string) error {
	return s.decide(ctx, quotationID, actorID, StatusAcceptedByBuyer)
}

// Decline records the buyer's waiver: the car is taken as-is and nothing is
// deducted. The mechanical gate is satisfied either way.
func (s *Service) Decline(ctx context.Context, quotationID, actorID string) error {
	return s.decide(ctx, quotationID, actorID, StatusDeniedByBuyer)
}

func (s *Service) decide(ctx context.Context, quotationID, actorID string, target QuotationStatus) error {
	return s.transition(ctx, quotationID, actorID, target, map[QuotationStatus]bool{
		StatusPendingBuyer: true,
		target:             true, // replays are no-ops
	}, eventQuotationDecided)
}

// StartRepair moves an accepted quotation into the workshop, which holds
// the mechanical gate open until the work is done.
func (s *Service) StartRepair(ctx context.Context, quotationID, actorID string) error {
	return s.transition(ctx, quotationID, actorID, StatusInRepair, map[QuotationStatus]bool{
		StatusAcceptedByBuyer: true,
		StatusInRepair:        true,
	}, eventRepairStarted)
}

// CompleteRepair returns the quotation to accepted once the workshop is
// done, satisfying the mechanical gate again.
func (s *Service) CompleteRepair(ctx context.Context, quotationID, actorID string) error {
	return s.transition(ctx, quotationID, actorID, StatusAcceptedByBuyer, map[QuotationStatus]bool{
		StatusInRepair:        true,
		StatusAcceptedByBuyer: true,
	}, eventRepairCompleted)
}

func (s *Service) transition(ctx context.Context, quotationID, actorID string, target QuotationStatus, allowedFrom map[QuotationStatus]bool, event string) error {
	if quotationID == "" {
		return fmt.Errorf("repair: missing quotation id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repair: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		txnID   string
		current QuotationStatus
	)
	const lookup = `SELECT transaction_id, status FROM repair_quotations WHERE id = $1`
	if err := tx.QueryRow(ctx, lookup, quotationID).Scan(&txnID, &current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("repair: load quotation: %w", err)
	}

	// Serialize against release attempts on the sale.
	if _, err := s.txns.LockByID(ctx, tx, txnID); err != nil {
		return err
	}

	// Re-read under the lock; the pre-lock read may be stale.
	if err := tx.QueryRow(ctx, lookup, quotationID).Scan(&txnID, &current); err != nil {
		return fmt.Errorf("repair: reload quotation: %w", err)
	}
	if current == target {
		return nil
	}
	if !allowedFrom[current] {
		return fmt.Errorf("%w: %s -> %s", ErrBadStatus, current, target)
	}

	const update = `
UPDATE repair_quotations
SET status = $1, updated_at = get_tx_timestamp()
WHERE id = $2`
	if _, err := tx.Exec(ctx, update, string(target), quotationID); err != nil {
		return fmt.Errorf("repair: update status: %w", err)
	}

	if err := s.txns.AppendTimeline(ctx, tx, txnID, event, &actorID, map[string]any{
		"quotation_id": quotationID,
		"from":         string(current),
		"to":           string(target),
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("repair: commit transition: %w", err)
	}
	return nil
}

// Get loads a quotation with its items.
func (s *Service) Get(ctx context.Context, quotationID string) (Quotation, error) {
	const q = `
SELECT id, transaction_id, total_amount, status, created_at, updated_at
FROM repair_quotations
WHERE id = $1`
	quo, err := scanQuotation(s.pool.QueryRow(ctx, q, quotationID))
	if err != nil {
		return Quotation{}, err
	}

	const itemsSQL = `
SELECT id, quotation_id, defect_id, cost, note
FROM repair_items
WHERE quotation_id = $1
ORDER BY defect_id`
	rows, err := s.pool.Query(ctx, itemsSQL, quo.ID)
	if err != nil {
		return Quotation{}, fmt.Errorf("repair: list items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.QuotationID, &item.DefectID, &item.Cost, &item.Note); err != nil {
			return Quotation{}, fmt.Errorf("repair: scan item: %w", err)
		}
		quo.Items = append(quo.Items, item)
	}
	if err := rows.Err(); err != nil {
		return Quotation{}, fmt.Errorf("repair: iterate items: %w", err)
	}
	return quo, nil
}

func scanQuotation(row pgx.Row) (Quotation, error) {
	var q Quotation
	if err := row.Scan(&q.ID, &q.TransactionID, &q.TotalAmount, &q.Status, &q.CreatedAt, &q.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Quotation{}, ErrNotFound
		}
		return Quotation{}, fmt.Errorf("repair: scan quotation: %w", err)
	}
	return q, nil
}
