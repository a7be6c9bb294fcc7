package document

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"carvault/compliance"
	"carvault/gates"
	"carvault/txn"
)

var (
	ErrCaseNotFound     = errors.New("document: case not found")
	ErrDocumentNotFound = errors.New("document: not found")
	// ErrNotFinalReview rejects certification while any document is still
	// pending or rejected.
	ErrNotFinalReview = errors.New("document: case is not in final review")
	// ErrNotRejected rejects resubmission of a document that was never
	// rejected.
	ErrNotRejected = errors.New("document: only rejected documents can be resubmitted")
)

const (
	eventDocumentsCertified = "DOCUMENTS_CERTIFIED"
	eventComplianceBlocked  = "COMPLIANCE_BLOCKED"

	topicDocumentsCertified = "documents.certified"
	topicComplianceBlocked  = "compliance.blocked"
)

// Service owns the per-vehicle document case workflow. Every action locks
// the case row, mutates one document and recomputes the aggregate from the
// full set before committing.
type Service struct {
	pool     *pgxpool.Pool
	screener compliance.Screener
	txns     *txn.Repository
}

func NewService(pool *pgxpool.Pool, screener compliance.Screener) *Service {
	return &Service{pool: pool, screener: screener, txns: txn.NewRepository()}
}

// SubmitParams describe an uploaded document reference.
type SubmitParams struct {
	CarID   string
	Type    Type
	Ref     string
	ActorID string
}

// Submit registers a document reference for review, creating the vehicle's
// case on first use.
func (s *Service) Submit(ctx context.Context, params SubmitParams) (Document, error) {
	if params.CarID == "" || params.Ref == "" {
		return Document{}, fmt.Errorf("document: car id and document ref are required")
	}
	switch params.Type {
	case TypeInvoice, TypeID, TypeContract, TypeTaxRecord:
	default:
		return Document{}, fmt.Errorf("document: unknown type %q", params.Type)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Document{}, fmt.Errorf("document: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var caseID string
	const upsertCase = `
INSERT INTO document_cases (car_id) VALUES ($1)
ON CONFLICT (car_id) DO UPDATE SET updated_at = get_tx_timestamp()
RETURNING id`
	if err := tx.QueryRow(ctx, upsertCase, params.CarID).Scan(&caseID); err != nil {
		return Document{}, fmt.Errorf("document: upsert case: %w", err)
	}

	const insertDoc = `
INSERT INTO documents (case_id, doc_type, doc_ref)
VALUES ($1, $2, $3)
RETURNING id, case_id, doc_type, doc_ref, state, reviewed_by::text, created_at, updated_at`
	doc, err := scanDocument(tx.QueryRow(ctx, insertDoc, caseID, string(params.Type), params.Ref))
	if err != nil {
		return Document{}, fmt.Errorf("document: insert: %w", err)
	}

	if _, err := s.recompute(ctx, tx, caseID); err != nil {
		return Document{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Document{}, fmt.Errorf("document: commit submit: %w", err)
	}
	return doc, nil
}

// Approve marks one document approved. Re-approving is a no-op.
func (s *Service) Approve(ctx context.Context, docID, actorID string) (CaseStatus, error) {
	return s.review(ctx, docID, actorID, StateApproved)
}

// Reject marks one document rejected. A rejection on a certified case
// revokes the standing certification: the aggregate recomputation drops
// below final review and clears the certification stamp.
func (s *Service) Reject(ctx context.Context, docID, actorID string) (CaseStatus, error) {
	return s.review(ctx, docID, actorID, StateRejected)
}

func (s *Service) review(ctx context.Context, docID, actorID string, target State) (CaseStatus, error) {
	if docID == "" {
		return "", fmt.Errorf("document: missing document id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("document: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	caseID, _, err := s.lockCaseByDocument(ctx, tx, docID)
	if err != nil {
		return "", err
	}

	// Independent and idempotent per document: only flip when the state
	// actually changes.
	const update = `
UPDATE documents
SET state = $1, reviewed_by = $2::uuid, updated_at = get_tx_timestamp()
WHERE id = $3 AND state <> $1`
	var reviewer any
	if actorID != "" {
		reviewer = actorID
	}
	if _, err := tx.Exec(ctx, update, string(target), reviewer, docID); err != nil {
		return "", fmt.Errorf("document: update state: %w", err)
	}

	status, err := s.recompute(ctx, tx, caseID)
	if err != nil {
		return "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("document: commit review: %w", err)
	}
	return status, nil
}

// Resubmit replaces the reference of a rejected document and returns it to
// pending review.
func (s *Service) Resubmit(ctx context.Context, docID, newRef string) (CaseStatus, error) {
	if docID == "" || newRef == "" {
		return "", fmt.Errorf("document: document id and new ref are required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("document: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	caseID, state, err := s.lockCaseByDocument(ctx, tx, docID)
	if err != nil {
		return "", err
	}
	if state != StateRejected {
		return "", ErrNotRejected
	}

	const update = `
UPDATE documents
SET doc_ref = $1, state = 'pending', reviewed_by = NULL, updated_at = get_tx_timestamp()
WHERE id = $2`
	if _, err := tx.Exec(ctx, update, newRef, docID); err != nil {
		return "", fmt.Errorf("document: resubmit: %w", err)
	}

	status, err := s.recompute(ctx, tx, caseID)
	if err != nil {
		return "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("document: commit resubmit: %w", err)
	}
	return status, nil
}

// CertifyParams identify the certification action.
type CertifyParams struct {
	CarID   string
	ActorID string
}

// Certify is the explicit transition from final review to certified. The
// seller of the live sale is re-screened on every attempt: a match persists
// the compliance block and refuses certification, everything else leaves
// the case untouched. Certifying an already certified case is a no-op.
func (s *Service) Certify(ctx context.Context, params CertifyParams) error {
	if params.CarID == "" {
		return fmt.Errorf("document: missing car id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("document: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		caseID     string
		caseStatus CaseStatus
	)
	const lockCase = `SELECT id, status FROM document_cases WHERE car_id = $1 FOR UPDATE`
	if err := tx.QueryRow(ctx, lockCase, params.CarID).Scan(&caseID, &caseStatus); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrCaseNotFound
		}
		return fmt.Errorf("document: lock case: %w", err)
	}
	if caseStatus == CaseCertified {
		return nil
	}

	states, err := s.documentStates(ctx, tx, caseID)
	if err != nil {
		return err
	}
	if Aggregate(states, false) != CaseFinalReview {
		return fmt.Errorf("%w: aggregate is %s", ErrNotFinalReview, Aggregate(states, false))
	}

	sale, sellerName, err := s.liveSale(ctx, tx, params.CarID)
	if err != nil {
		return err
	}

	if sale != "" {
		res, err := s.screener.Screen(ctx, sellerName)
		if err != nil {
			return fmt.Errorf("document: compliance screening: %w", err)
		}
		if err := compliance.Record(ctx, tx, sale, sellerName, res); err != nil {
			return err
		}
		if res.Status == compliance.StatusMatch {
			// The veto itself must stick even though certification fails.
			if err := s.blockComplianceGate(ctx, tx, sale, res.ListSource); err != nil {
				return err
			}
			if err := tx.Commit(ctx); err != nil {
				return fmt.Errorf("document: commit compliance block: %w", err)
			}
			return gates.ErrComplianceBlocked
		}
	}

	var actor any
	if params.ActorID != "" {
		actor = params.ActorID
	}
	const certify = `
UPDATE document_cases
SET status = 'certified',
    certified_at = get_tx_timestamp(),
    certified_by = $1::uuid,
    updated_at = get_tx_timestamp()
WHERE id = $2`
	if _, err := tx.Exec(ctx, certify, actor, caseID); err != nil {
		return fmt.Errorf("document: certify: %w", err)
	}

	if sale != "" {
		actorPtr := &params.ActorID
		if params.ActorID == "" {
			actorPtr = nil
		}
		if err := s.txns.AppendTimeline(ctx, tx, sale, eventDocumentsCertified, actorPtr, map[string]any{
			"case_id": caseID,
		}); err != nil {
			return err
		}
		if err := s.txns.EnqueueOutbox(ctx, tx, topicDocumentsCertified, map[string]any{
			"transaction_id": sale,
			"car_id":         params.CarID,
		}); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("document: commit certify: %w", err)
	}
	return nil
}

// GetCase returns the case and its documents for a vehicle.
func (s *Service) GetCase(ctx context.Context, carID string) (Case, []Document, error) {
	const caseSQL = `
SELECT id, car_id, status, certified_at, certified_by::text, created_at, updated_at
FROM document_cases
WHERE car_id = $1`
	var c Case
	err := s.pool.QueryRow(ctx, caseSQL, carID).
		Scan(&c.ID, &c.CarID, &c.Status, &c.CertifiedAt, &c.CertifiedBy, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Case{}, nil, ErrCaseNotFound
		}
		return Case{}, nil, fmt.Errorf("document: load case: %w", err)
	}

	const docsSQL = `
SELECT id, case_id, doc_type, doc_ref, state, reviewed_by::text, created_at, updated_at
FROM documents
WHERE case_id = $1
ORDER BY created_at`
	rows, err := s.pool.Query(ctx, docsSQL, c.ID)
	if err != nil {
		return Case{}, nil, fmt.Errorf("document: list documents: %w", err)
	}
	defer rows.Close()

	docs := make([]Document, 0, 4)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return Case{}, nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return Case{}, nil, fmt.Errorf("document: iterate documents: %w", err)
	}
	return c, docs, nil
}

// lockCaseByDocument locks the owning case row, serializing concurrent
// reviews on the same vehicle, and returns the document's current state.
func (s *Service) lockCaseByDocument(ctx context.Context, tx pgx.Tx, docID string) (string, State, error) {
	const q = `
SELECT c.id, d.state
FROM documents d
JOIN document_cases c ON c.id = d.case_id
WHERE d.id = $1
FOR UPDATE OF c`
	var (
		caseID string
		state  State
	)
	if err := tx.QueryRow(ctx, q, docID).Scan(&caseID, &state); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", "", ErrDocumentNotFound
		}
		return "", "", fmt.Errorf("document: lock case: %w", err)
	}
	return caseID, state, nil
}

func (s *Service) documentStates(ctx context.Context, tx pgx.Tx, caseID string) ([]State, error) {
	rows, err := tx.Query(ctx, `SELECT state FROM documents WHERE case_id = $1`, caseID)
	if err != nil {
		return nil, fmt.Errorf("document: load states: %w", err)
	}
	defer rows.Close()

	var states []State
	for rows.Next() {
		var st State
		if err := rows.Scan(&st); err != nil {
			return nil, fmt.Errorf("document: scan state: %w", err)
		}
		states = append(states, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("document: iterate states: %w", err)
	}
	return states, nil
}

// recompute rewrites the aggregate status from the full document set. A
// downgrade below certified clears the certification stamp so a later
// re-approval cannot silently restore it without a fresh Certify.
func (s *Service) recompute(ctx context.Context, tx pgx.Tx, caseID string) (CaseStatus, error) {
	states, err := s.documentStates(ctx, tx, caseID)
	if err != nil {
		return "", err
	}

	var certified bool
	if err := tx.QueryRow(ctx, `SELECT certified_at IS NOT NULL FROM document_cases WHERE id = $1`, caseID).Scan(&certified); err != nil {
		return "", fmt.Errorf("document: load certification: %w", err)
	}

	status := Aggregate(states, certified)

	const update = `
UPDATE document_cases
SET status = $1,
    certified_at = CASE WHEN $1 = 'certified' THEN certified_at ELSE NULL END,
    certified_by = CASE WHEN $1 = 'certified' THEN certified_by ELSE NULL END,
    updated_at = get_tx_timestamp()
WHERE id = $2`
	if _, err := tx.Exec(ctx, update, string(status), caseID); err != nil {
		return "", fmt.Errorf("document: store aggregate: %w", err)
	}
	return status, nil
}

func (s *Service) liveSale(ctx context.Context, tx pgx.Tx, carID string) (string, string, error) {
	const q = `
SELECT t.id, u.full_name
FROM transactions t
JOIN users u ON u.id = t.seller_id
WHERE t.car_id = $1 AND t.status IN ('created','funds_held','negotiating')`
	var (
		saleID     string
		sellerName string
	)
	err := tx.QueryRow(ctx, q, carID).Scan(&saleID, &sellerName)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", nil
	}
	if err != nil {
		return "", "", fmt.Errorf("document: find live sale: %w", err)
	}
	return saleID, sellerName, nil
}

func (s *Service) blockComplianceGate(ctx context.Context, tx pgx.Tx, txnID, listSource string) error {
	const q = `
UPDATE verification_gates
SET state = 'blocked', updated_at = get_tx_timestamp()
WHERE transaction_id = $1 AND category = 'compliance'`
	if _, err := tx.Exec(ctx, q, txnID); err != nil {
		return fmt.Errorf("document: block compliance gate: %w", err)
	}
	if err := s.txns.AppendTimeline(ctx, tx, txnID, eventComplianceBlocked, nil, map[string]any{
		"list_source": listSource,
	}); err != nil {
		return err
	}
	return s.txns.EnqueueOutbox(ctx, tx, topicComplianceBlocked, map[string]any{
		"transaction_id": txnID,
		"list_source":    listSource,
	})
}

func scanDocument(row pgx.Row) (Document, error) {
	var d Document
	if err := row.Scan(&d.ID, &d.CaseID, &d.Type, &d.Ref, &d.State, &d.ReviewedBy, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, ErrDocumentNotFound
		}
		return Document{}, fmt.Errorf("document: scan: %w", err)
	}
	return d, nil
}
