package repair

import "time"

// QuotationStatus tracks the buyer's decision on the repair plan. Accepted
// and denied both satisfy the mechanical gate; a quotation awaiting the
// buyer or a car still in the workshop does not.
type QuotationStatus string

const (
	StatusPendingBuyer    QuotationStatus = "pending_buyer"
	StatusAcceptedByBuyer QuotationStatus = "accepted_by_buyer"
	StatusDeniedByBuyer   QuotationStatus = "denied_by_buyer"
	StatusInRepair        QuotationStatus = "in_repair"
)

// Item is one line of a quotation.
type Item struct {
	ID          string
	QuotationID string
	DefectID    string
	Cost        int64
	Note        string
}

// Quotation mirrors the repair_quotations table.
type Quotation struct {
	ID            string
	TransactionID string
	TotalAmount   int64
	Status        QuotationStatus
	Items         []Item
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Deduction is the amount withheld from the seller. Only an accepted repair
// plan deducts; a waived one leaves the full price with the seller.
func (q Quotation) Deduction() int64 {
	if q.Status == StatusAcceptedByBuyer || q.Status == StatusInRepair {
		return q.TotalAmount
	}
	return 0
}
