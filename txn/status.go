package txn

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition signals an attempt to move a sale along an edge the
// lifecycle does not allow. Wrapped errors carry the offending pair.
var ErrInvalidTransition = errors.New("txn: invalid status transition")

// validNext enumerates every legal lifecycle edge. Release and cancellation
// are terminal; negotiation is a detour that can only return to funds_held,
// never straight to a terminal state.
var validNext = map[Status][]Status{
	StatusCreated:     {StatusFundsHeld, StatusCancelled},
	StatusFundsHeld:   {StatusReleased, StatusNegotiating, StatusCancelled},
	StatusNegotiating: {StatusFundsHeld},
	StatusReleased:    {},
	StatusCancelled:   {},
}

// ValidTransition reports whether from -> to is a legal lifecycle edge.
func ValidTransition(from, to Status) bool {
	for _, next := range validNext[from] {
		if next == to {
			return true
		}
	}
	return false
}

// EnsureTransition returns a wrapped ErrInvalidTransition unless from -> to
// is legal.
func EnsureTransition(from, to Status) error {
	if !ValidTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
