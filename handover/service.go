package handover

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"carvault/compliance"
	"carvault/document"
	"carvault/gates"
	"carvault/payment"
	"carvault/repair"
	"carvault/settlement"
	"carvault/txn"
)

var (
	ErrSessionNotFound = errors.New("handover: session not found")
	// ErrSecretMismatch is deliberately generic: a wrong secret mutates
	// nothing and reveals nothing about the sale.
	ErrSecretMismatch = errors.New("handover: secret mismatch")
	// ErrNotReady rejects buyer actions while the seller has not captured
	// the handover documentation.
	ErrNotReady = errors.New("handover: session not ready")
)

// DefaultNegotiationWindow is how long a dispute keeps the sale in
// negotiation before the sweep returns it to the handover checklist.
const DefaultNegotiationWindow = 48 * time.Hour

// Service drives the two-party handover protocol: seller-side preparation,
// the buyer's mutual confirmation that releases the vault, and the
// time-boxed negotiation detour. Every mutation locks the transaction row,
// so gate evaluation and the lifecycle write are one atomic unit.
type Service struct {
	pool     *pgxpool.Pool
	txns     *txn.Repository
	screener compliance.Screener
	rail     payment.Rail
	window   time.Duration
}

func NewService(pool *pgxpool.Pool, screener compliance.Screener, rail payment.Rail, window time.Duration) *Service {
	if window <= 0 {
		window = DefaultNegotiationWindow
	}
	return &Service{
		pool:     pool,
		txns:     txn.NewRepository(),
		screener: screener,
		rail:     rail,
		window:   window,
	}
}

// Get returns the session for the sale, secret included; the HTTP layer
// decides who may see which fields.
func (s *Service) Get(ctx context.Context, txnID string) (Session, error) {
	return s.loadSession(ctx, s.pool, txnID, false)
}

// CaptureDocumentation records the seller's physical-documentation step and
// opens the session for the buyer. Re-capturing is a no-op.
func (s *Service) CaptureDocumentation(ctx context.Context, txnID, actorID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("handover: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	sale, err := s.txns.LockByID(ctx, tx, txnID)
	if err != nil {
		return err
	}
	if sale.Status != txn.StatusFundsHeld {
		return fmt.Errorf("%w: sale is %s", txn.ErrInvalidTransition, sale.Status)
	}

	const update = `
UPDATE handover_sessions
SET documentation_captured = true,
    phase = 'ready',
    updated_at = get_tx_timestamp()
WHERE transaction_id = $1 AND phase = 'preparing'`
	tag, err := tx.Exec(ctx, update, txnID)
	if err != nil {
		return fmt.Errorf("handover: capture documentation: %w", err)
	}
	if tag.RowsAffected() > 0 {
		if err := s.txns.AppendTimeline(ctx, tx, txnID, "HANDOVER_READY", &actorID, nil); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("handover: commit capture: %w", err)
	}
	return nil
}

// UpdateChecklist merges the buyer's inspection ticks into the session.
func (s *Service) UpdateChecklist(ctx context.Context, txnID string, items map[string]bool) (Session, error) {
	if len(items) == 0 {
		return Session{}, fmt.Errorf("handover: empty checklist update")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Session{}, fmt.Errorf("handover: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	sale, err := s.txns.LockByID(ctx, tx, txnID)
	if err != nil {
		return Session{}, err
	}
	if sale.Status != txn.StatusFundsHeld {
		return Session{}, fmt.Errorf("%w: sale is %s", txn.ErrInvalidTransition, sale.Status)
	}

	session, err := s.loadSession(ctx, tx, txnID, true)
	if err != nil {
		return Session{}, err
	}
	if session.Phase != PhaseReady {
		return Session{}, ErrNotReady
	}

	if session.Checklist == nil {
		session.Checklist = make(map[string]bool, len(items))
	}
	for k, v := range items {
		session.Checklist[k] = v
	}

	const update = `
UPDATE handover_sessions
SET checklist = $1, updated_at = get_tx_timestamp()
WHERE transaction_id = $2`
	if _, err := tx.Exec(ctx, update, session.Checklist, txnID); err != nil {
		return Session{}, fmt.Errorf("handover: update checklist: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Session{}, fmt.Errorf("handover: commit checklist: %w", err)
	}
	return session, nil
}

// ConfirmParams carry the buyer's release request.
type ConfirmParams struct {
	TransactionID   string
	PresentedSecret string
	IdempotencyKey  string
	ActorID         string
}

// Confirm is the release commit point. Under the row lock it verifies the
// presented secret, re-evaluates every gate, computes the settlement and
// issues both payout instructions; any shortfall rolls the whole attempt
// back, leaving the secret valid for retry. A compliance match is the one
// exception: the veto itself is persisted (in its own transaction) even
// though the release is refused.
func (s *Service) Confirm(ctx context.Context, params ConfirmParams) error {
	if params.TransactionID == "" {
		return fmt.Errorf("handover: missing transaction id")
	}
	if params.IdempotencyKey == "" {
		return fmt.Errorf("handover: missing idempotency key")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("handover: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.txns.InsertIdempotencyKey(ctx, tx, params.IdempotencyKey); err != nil {
		if errors.Is(err, txn.ErrDuplicateIdempotencyKey) {
			return nil
		}
		return err
	}

	sale, err := s.txns.LockByID(ctx, tx, params.TransactionID)
	if err != nil {
		return err
	}
	if err := txn.EnsureTransition(sale.Status, txn.StatusReleased); err != nil {
		return err
	}

	session, err := s.loadSession(ctx, tx, sale.ID, true)
	if err != nil {
		return err
	}
	if session.Phase != PhaseReady || !session.DocumentationCaptured {
		return ErrNotReady
	}
	if session.Secret != params.PresentedSecret {
		return ErrSecretMismatch
	}

	snapshot, quotation, sellerName, err := s.loadGateFacts(ctx, tx, sale)
	if err != nil {
		return err
	}

	res, err := s.screener.Screen(ctx, sellerName)
	if err != nil {
		return fmt.Errorf("handover: compliance screening: %w", err)
	}
	snapshot.ComplianceBlocked = res.Status == compliance.StatusMatch

	if err := gates.Evaluate(snapshot); err != nil {
		if errors.Is(err, gates.ErrComplianceBlocked) {
			_ = tx.Rollback(ctx)
			if recErr := s.persistComplianceBlock(ctx, sale.ID, sellerName, res); recErr != nil {
				return recErr
			}
		}
		return err
	}

	// Latest clear screening is recorded alongside the release.
	if err := compliance.Record(ctx, tx, sale.ID, sellerName, res); err != nil {
		return err
	}

	var deduction int64
	if quotation != nil {
		deduction = quotation.Deduction()
	}
	split, err := settlement.Compute(settlement.Params{
		CarPrice:         sale.CarPrice,
		DeliveryCost:     sale.DeliveryCost,
		RepairDeduction:  deduction,
		CommissionRateBP: sale.CommissionRateBP,
	})
	if err != nil {
		return fmt.Errorf("handover: settlement: %w", err)
	}

	// Rail failures abort the transition entirely: nothing below commits
	// until both instructions are accepted.
	sellerRef, err := s.rail.Payout(ctx, sale.ID, payment.PayeeSeller, split.SellerNet)
	if err != nil {
		return fmt.Errorf("handover: seller payout: %w", err)
	}
	platformRef, err := s.rail.Payout(ctx, sale.ID, payment.PayeePlatform, split.PlatformFee)
	if err != nil {
		return fmt.Errorf("handover: platform payout: %w", err)
	}

	if err := s.txns.RecordInstruction(ctx, tx, sale.ID, "payout", string(payment.PayeeSeller), split.SellerNet, sellerRef); err != nil {
		return err
	}
	if err := s.txns.RecordInstruction(ctx, tx, sale.ID, "payout", string(payment.PayeePlatform), split.PlatformFee, platformRef); err != nil {
		return err
	}
	if err := s.txns.SetStatus(ctx, tx, sale.ID, txn.StatusReleased); err != nil {
		return err
	}
	if err := s.setPhase(ctx, tx, sale.ID, PhaseComplete); err != nil {
		return err
	}
	if err := s.txns.AppendTimeline(ctx, tx, sale.ID, txn.EventFundsReleased, &params.ActorID, map[string]any{
		"seller_net":       split.SellerNet,
		"platform_fee":     split.PlatformFee,
		"repair_deduction": deduction,
	}); err != nil {
		return err
	}
	if err := s.txns.EnqueueOutbox(ctx, tx, txn.TopicReleased, map[string]any{
		"transaction_id": sale.ID,
		"seller_net":     split.SellerNet,
		"platform_fee":   split.PlatformFee,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("handover: commit release: %w", err)
	}
	return nil
}

// DisputeParams carry the buyer's objection during handover.
type DisputeParams struct {
	TransactionID string
	ActorID       string
	Reason        string
}

// Dispute opens the negotiation detour. Funds stay held and no payout
// instruction is issued until an explicit resolution.
func (s *Service) Dispute(ctx context.Context, params DisputeParams) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("handover: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	sale, err := s.txns.LockByID(ctx, tx, params.TransactionID)
	if err != nil {
		return err
	}
	if sale.Status == txn.StatusNegotiating {
		return nil
	}
	if err := txn.EnsureTransition(sale.Status, txn.StatusNegotiating); err != nil {
		return err
	}

	session, err := s.loadSession(ctx, tx, sale.ID, true)
	if err != nil {
		return err
	}
	if session.Phase != PhaseReady {
		return ErrNotReady
	}

	deadline := time.Now().UTC().Add(s.window)
	if err := s.txns.OpenNegotiation(ctx, tx, sale.ID, deadline); err != nil {
		return err
	}
	if err := s.setPhase(ctx, tx, sale.ID, PhaseNegotiating); err != nil {
		return err
	}
	if err := s.txns.AppendTimeline(ctx, tx, sale.ID, txn.EventNegotiationOpened, &params.ActorID, map[string]any{
		"reason":   params.Reason,
		"deadline": deadline,
	}); err != nil {
		return err
	}
	if err := s.txns.EnqueueOutbox(ctx, tx, txn.TopicNegotiating, map[string]any{
		"transaction_id": sale.ID,
		"deadline":       deadline,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("handover: commit dispute: %w", err)
	}
	return nil
}

// ResolveParams carry an explicit negotiation resolution.
type ResolveParams struct {
	TransactionID string
	ActorID       string
	Note          string
}

// Resolve closes the negotiation and returns the sale to the handover
// checklist. It never releases or cancels by itself.
func (s *Service) Resolve(ctx context.Context, params ResolveParams) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("handover: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	sale, err := s.txns.LockByID(ctx, tx, params.TransactionID)
	if err != nil {
		return err
	}
	if sale.Status == txn.StatusFundsHeld {
		return nil
	}
	// Only an open negotiation may resolve back to funds_held. The generic
	// edge check is not enough here: created -> funds_held is legal too, but
	// that edge belongs to payment intake.
	if sale.Status != txn.StatusNegotiating {
		return fmt.Errorf("%w: %s -> %s", txn.ErrInvalidTransition, sale.Status, txn.StatusFundsHeld)
	}

	if err := s.closeNegotiation(ctx, tx, sale.ID, &params.ActorID, map[string]any{
		"resolution": "manual",
		"note":       params.Note,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("handover: commit resolve: %w", err)
	}
	return nil
}

// ExpireNegotiations closes every negotiation whose window has passed,
// returning control to the handover checklist. It deliberately never
// releases or cancels: an unresolved sale stays held until someone decides.
func (s *Service) ExpireNegotiations(ctx context.Context) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("handover: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const expired = `
SELECT id FROM transactions
WHERE status = 'negotiating' AND negotiation_deadline <= now()
FOR UPDATE SKIP LOCKED`
	rows, err := tx.Query(ctx, expired)
	if err != nil {
		return 0, fmt.Errorf("handover: find expired negotiations: %w", err)
	}
	ids := make([]string, 0, 4)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("handover: scan expired negotiation: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("handover: iterate expired negotiations: %w", err)
	}

	for _, id := range ids {
		if err := s.closeNegotiation(ctx, tx, id, nil, map[string]any{
			"resolution": "timeout",
		}); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("handover: commit expiry sweep: %w", err)
	}
	return len(ids), nil
}

// Snapshot is the read model behind the gate status endpoint. It reports
// the persisted compliance gate rather than screening live; release and
// certification always re-screen regardless of what this shows.
func (s *Service) Snapshot(ctx context.Context, txnID string) (map[gates.Category]gates.State, error) {
	sale, err := s.txns.GetByID(ctx, s.pool, txnID)
	if err != nil {
		return nil, err
	}

	snapshot, _, _, err := s.loadGateFacts(ctx, s.pool, sale)
	if err != nil {
		return nil, err
	}

	var complianceState string
	const gateSQL = `
SELECT state FROM verification_gates
WHERE transaction_id = $1 AND category = 'compliance'`
	if err := s.pool.QueryRow(ctx, gateSQL, txnID).Scan(&complianceState); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("handover: load compliance gate: %w", err)
	}
	snapshot.ComplianceBlocked = complianceState == string(gates.StateBlocked)

	states := snapshot.States()
	if complianceState == string(gates.StateVerified) {
		states[gates.CategoryCompliance] = gates.StateVerified
	}
	return states, nil
}

// SettlementPreview computes the split the release would pay out right
// now, using the current quotation. It is a read model; the binding
// computation happens inside Confirm under the row lock.
func (s *Service) SettlementPreview(ctx context.Context, txnID string) (settlement.Settlement, error) {
	sale, err := s.txns.GetByID(ctx, s.pool, txnID)
	if err != nil {
		return settlement.Settlement{}, err
	}

	_, quotation, _, err := s.loadGateFacts(ctx, s.pool, sale)
	if err != nil {
		return settlement.Settlement{}, err
	}
	var deduction int64
	if quotation != nil {
		deduction = quotation.Deduction()
	}

	return settlement.Compute(settlement.Params{
		CarPrice:         sale.CarPrice,
		DeliveryCost:     sale.DeliveryCost,
		RepairDeduction:  deduction,
		CommissionRateBP: sale.CommissionRateBP,
	})
}

func (s *Service) closeNegotiation(ctx context.Context, tx pgx.Tx, txnID string, actorID *string, payload map[string]any) error {
	if err := s.txns.CloseNegotiation(ctx, tx, txnID); err != nil {
		return err
	}
	if err := s.setPhase(ctx, tx, txnID, PhaseReady); err != nil {
		return err
	}
	if err := s.txns.AppendTimeline(ctx, tx, txnID, txn.EventNegotiationClosed, actorID, payload); err != nil {
		return err
	}
	return s.txns.EnqueueOutbox(ctx, tx, txn.TopicNegotiationClosed, map[string]any{
		"transaction_id": txnID,
		"resolution":     payload["resolution"],
	})
}

// loadGateFacts assembles the gate snapshot minus compliance, which the
// caller settles (live screen on write paths, persisted gate on reads).
func (s *Service) loadGateFacts(ctx context.Context, q querier, sale txn.Transaction) (gates.Snapshot, *repair.Quotation, string, error) {
	var snapshot gates.Snapshot

	var caseStatus string
	const caseSQL = `SELECT status FROM document_cases WHERE car_id = $1`
	if err := q.QueryRow(ctx, caseSQL, sale.CarID).Scan(&caseStatus); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return gates.Snapshot{}, nil, "", fmt.Errorf("handover: load document case: %w", err)
	}
	snapshot.DocumentCaseCertified = caseStatus == string(document.CaseCertified)

	var quotation *repair.Quotation
	const quoSQL = `
SELECT id, status, total_amount FROM repair_quotations WHERE transaction_id = $1`
	var quo repair.Quotation
	err := q.QueryRow(ctx, quoSQL, sale.ID).Scan(&quo.ID, &quo.Status, &quo.TotalAmount)
	switch {
	case err == nil:
		quo.TransactionID = sale.ID
		quotation = &quo
		snapshot.QuotationStatus = string(quo.Status)
	case errors.Is(err, pgx.ErrNoRows):
		// no defects found
	default:
		return gates.Snapshot{}, nil, "", fmt.Errorf("handover: load quotation: %w", err)
	}

	var contractState string
	const contractSQL = `
SELECT state FROM verification_gates
WHERE transaction_id = $1 AND category = 'contract'`
	if err := q.QueryRow(ctx, contractSQL, sale.ID).Scan(&contractState); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return gates.Snapshot{}, nil, "", fmt.Errorf("handover: load contract gate: %w", err)
	}
	snapshot.ContractSigned = contractState == string(gates.StateVerified)

	var sellerName string
	if err := q.QueryRow(ctx, `SELECT full_name FROM users WHERE id = $1`, sale.SellerID).Scan(&sellerName); err != nil {
		return gates.Snapshot{}, nil, "", fmt.Errorf("handover: load seller: %w", err)
	}

	return snapshot, quotation, sellerName, nil
}

// persistComplianceBlock records the screening match and flips the
// compliance gate in its own transaction so the veto survives the rolled
// back release attempt.
func (s *Service) persistComplianceBlock(ctx context.Context, txnID, sellerName string, res compliance.Result) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("handover: begin compliance tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := compliance.Record(ctx, tx, txnID, sellerName, res); err != nil {
		return err
	}
	const block = `
UPDATE verification_gates
SET state = 'blocked', updated_at = get_tx_timestamp()
WHERE transaction_id = $1 AND category = 'compliance'`
	if _, err := tx.Exec(ctx, block, txnID); err != nil {
		return fmt.Errorf("handover: block compliance gate: %w", err)
	}
	if err := s.txns.AppendTimeline(ctx, tx, txnID, "COMPLIANCE_BLOCKED", nil, map[string]any{
		"list_source": res.ListSource,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("handover: commit compliance block: %w", err)
	}
	return nil
}

func (s *Service) setPhase(ctx context.Context, tx pgx.Tx, txnID string, phase Phase) error {
	const q = `
UPDATE handover_sessions
SET phase = $1, updated_at = get_tx_timestamp()
WHERE transaction_id = $2`
	if _, err := tx.Exec(ctx, q, string(phase), txnID); err != nil {
		return fmt.Errorf("handover: set phase: %w", err)
	}
	return nil
}

// querier matches both pgxpool.Pool and pgx.Tx for the read helpers.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *Service) loadSession(ctx context.Context, q querier, txnID string, forUpdate bool) (Session, error) {
	sel := `
SELECT id, transaction_id, secret, phase, documentation_captured, checklist, created_at, updated_at
FROM handover_sessions
WHERE transaction_id = $1`
	if forUpdate {
		sel += `
FOR UPDATE`
	}

	var session Session
	err := q.QueryRow(ctx, sel, txnID).Scan(
		&session.ID, &session.TransactionID, &session.Secret, &session.Phase,
		&session.DocumentationCaptured, &session.Checklist,
		&session.CreatedAt, &session.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, fmt.Errorf("handover: load session: %w", err)
	}
	return session, nil
}
