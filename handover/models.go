package handover

import "time"

// Phase of a handover session.
type Phase string

const (
	// PhasePreparing: funds are held but the seller has not captured the
	// handover documentation yet.
	PhasePreparing Phase = "preparing"
	// PhaseReady: the buyer may inspect, confirm or dispute.
	PhaseReady Phase = "ready"
	// PhaseNegotiating: a dispute is open; funds stay held.
	PhaseNegotiating Phase = "negotiating"
	// PhaseComplete: funds released.
	PhaseComplete Phase = "complete"
	// PhaseClosed: the sale was cancelled underneath the session.
	PhaseClosed Phase = "closed"
)

// Session mirrors the handover_sessions table. Secret is the one-time token
// the seller displays out-of-band and the buyer presents to trigger the
// release; the engine only ever compares it for equality.
type Session struct {
	ID                    string
	TransactionID         string
	Secret                string
	Phase                 Phase
	DocumentationCaptured bool
	Checklist             map[string]bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}
