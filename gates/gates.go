// Package gates aggregates the independent release preconditions of a sale.
// Evaluation is a pure function over a snapshot assembled by the caller
// inside its own database transaction, so eligibility is re-derived on every
// attempt and never cached across requests.
package gates

import (
	"errors"
	"fmt"
	"strings"
)

// Category identifies one verification gate.
type Category string

const (
	CategoryLegal      Category = "legal"
	CategoryMechanical Category = "mechanical"
	CategoryCompliance Category = "compliance"
	CategoryContract   Category = "contract"
)

// State of a single gate.
type State string

const (
	StatePending  State = "pending"
	StateVerified State = "verified"
	StateBlocked  State = "blocked"
)

// ErrComplianceBlocked is the hard veto: a compliance match makes release
// impossible regardless of every other gate and needs human escalation
// rather than a retry.
var ErrComplianceBlocked = errors.New("gates: compliance screening blocked")

// ReleaseBlockedError enumerates the gates that kept a release from
// proceeding. It is returned instead of a generic failure so callers can
// tell the parties exactly what is still missing.
type ReleaseBlockedError struct {
	Unmet []Category
}

func (e *ReleaseBlockedError) Error() string {
	names := make([]string, len(e.Unmet))
	for i, c := range e.Unmet {
		names[i] = string(c)
	}
	return fmt.Sprintf("gates: release blocked, unmet: %s", strings.Join(names, ", "))
}

// Snapshot carries the gate-relevant facts of one release or certification
// attempt, loaded fresh from the system of record.
type Snapshot struct {
	// DocumentCaseCertified reports whether the vehicle's document case has
	// been explicitly certified.
	DocumentCaseCertified bool
	// QuotationStatus is the repair quotation status, or empty when no
	// quotation exists (no defects found, which satisfies the gate).
	QuotationStatus string
	// ContractSigned reports the contract gate.
	ContractSigned bool
	// ComplianceBlocked reports a live screening match. A pending screening
	// is tolerated as non-blocking.
	ComplianceBlocked bool
}

// Quotation statuses that satisfy the mechanical gate: the buyer either
// accepted the repair plan or explicitly waived it and takes the car as-is.
const (
	QuotationAccepted = "accepted_by_buyer"
	QuotationDenied   = "denied_by_buyer"
)

// States derives the current state of all four gates from the snapshot.
func (s Snapshot) States() map[Category]State {
	states := map[Category]State{
		CategoryLegal:      StatePending,
		CategoryMechanical: StatePending,
		CategoryCompliance: StatePending,
		CategoryContract:   StatePending,
	}
	if s.DocumentCaseCertified {
		states[CategoryLegal] = StateVerified
	}
	if s.mechanicalSatisfied() {
		states[CategoryMechanical] = StateVerified
	}
	if s.ContractSigned {
		states[CategoryContract] = StateVerified
	}
	if s.ComplianceBlocked {
		states[CategoryCompliance] = StateBlocked
	}
	return states
}

func (s Snapshot) mechanicalSatisfied() bool {
	switch s.QuotationStatus {
	case "", QuotationAccepted, QuotationDenied:
		return true
	default:
		return false
	}
}

// Evaluate returns nil when the sale may be released. A compliance match
// always yields ErrComplianceBlocked; any other shortfall yields a
// ReleaseBlockedError listing every unmet gate.
func Evaluate(s Snapshot) error {
	if s.ComplianceBlocked {
		return ErrComplianceBlocked
	}

	var unmet []Category
	if !s.DocumentCaseCertified {
		unmet = append(unmet, CategoryLegal)
	}
	if !s.mechanicalSatisfied() {
		unmet = append(unmet, CategoryMechanical)
	}
	if !s.ContractSigned {
		unmet = append(unmet, CategoryContract)
	}
	if len(unmet) > 0 {
		return &ReleaseBlockedError{Unmet: unmet}
	}
	return nil
}
