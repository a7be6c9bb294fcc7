package document

import "time"

// Type of a sale document.
type Type string

const (
	TypeInvoice   Type = "invoice"
	TypeID        Type = "id"
	TypeContract  Type = "contract"
	TypeTaxRecord Type = "tax_record"
)

// State of a single document under review.
type State string

const (
	StatePending  State = "pending"
	StateApproved State = "approved"
	StateRejected State = "rejected"
)

// CaseStatus is the derived aggregate status of a vehicle's document case.
type CaseStatus string

const (
	CasePendingDocs CaseStatus = "pending_docs"
	CasePartial     CaseStatus = "partial"
	CaseFinalReview CaseStatus = "final_review"
	CaseCertified   CaseStatus = "certified"
)

// Document mirrors the documents table. Ref is an opaque handle into the
// external document store; content never enters the engine.
type Document struct {
	ID         string
	CaseID     string
	Type       Type
	Ref        string
	State      State
	ReviewedBy *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Case mirrors the document_cases table.
type Case struct {
	ID          string
	CarID       string
	Status      CaseStatus
	CertifiedAt *time.Time
	CertifiedBy *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
