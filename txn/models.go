package txn

import "time"

// Status is the lifecycle state of a sale's custody.
type Status string

const (
	StatusCreated     Status = "created"
	StatusFundsHeld   Status = "funds_held"
	StatusNegotiating Status = "negotiating"
	StatusReleased    Status = "released"
	StatusCancelled   Status = "cancelled"
)

// Terminal reports whether no further transition may leave the status.
func (s Status) Terminal() bool {
	return s == StatusReleased || s == StatusCancelled
}

// Transaction mirrors the transactions table.
type Transaction struct {
	ID                  string
	CarID               string
	BuyerID             string
	SellerID            string
	CarPrice            int64
	CommissionRateBP    int64
	DeliveryMethod      *string
	DeliveryCost        int64
	Status              Status
	NegotiationOpenedAt *time.Time
	NegotiationDeadline *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// BuyerTotal is what the buyer pays into the vault.
func (t Transaction) BuyerTotal() int64 {
	return t.CarPrice + t.DeliveryCost
}

// TimelineEvent captures an immutable business event for a transaction.
type TimelineEvent struct {
	ID            int64
	TransactionID string
	Seq           int
	Type          string
	ActorID       *string
	CreatedAt     time.Time
	Payload       []byte
}

// OutboxMessage represents a transactional outbox entry.
type OutboxMessage struct {
	ID        string
	Topic     string
	Payload   []byte
	Status    string
	Attempts  int
	CreatedAt time.Time
}

// Timeline event types.
const (
	EventSaleCreated       = "SALE_CREATED"
	EventFundsHeld         = "FUNDS_HELD"
	EventContractSigned    = "CONTRACT_SIGNED"
	EventFundsReleased     = "FUNDS_RELEASED"
	EventSaleCancelled     = "SALE_CANCELLED"
	EventNegotiationOpened = "NEGOTIATION_OPENED"
	EventNegotiationClosed = "NEGOTIATION_CLOSED"
)

// Outbox topics published on lifecycle changes.
const (
	TopicSaleCreated       = "txn.created"
	TopicFundsHeld         = "txn.funds_held"
	TopicReleased          = "txn.released"
	TopicCancelled         = "txn.cancelled"
	TopicNegotiating       = "txn.negotiating"
	TopicNegotiationClosed = "txn.negotiation_closed"
)
