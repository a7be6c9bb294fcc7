// Package compliance screens sale parties against external watch lists.
// A match is a hard veto on certification and release. Results are never
// cached: every attempt screens again and records the outcome.
package compliance

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Status of one screening.
type Status string

const (
	StatusClear Status = "clear"
	StatusMatch Status = "match"
)

// Result of screening a person.
type Result struct {
	Status     Status
	ListSource string
}

// Screener is the external screening collaborator.
type Screener interface {
	Screen(ctx context.Context, personName string) (Result, error)
}

// ListScreener matches case-insensitively against a fixed name list. It is
// the default wiring for environments without a real screening provider.
type ListScreener struct {
	Source  string
	Blocked []string
}

// NewListScreener builds a screener over a configured denied-party list.
func NewListScreener(blocked []string) *ListScreener {
	return &ListScreener{Source: "configured_denied_parties", Blocked: blocked}
}

func (s *ListScreener) Screen(_ context.Context, personName string) (Result, error) {
	needle := strings.ToLower(strings.TrimSpace(personName))
	for _, name := range s.Blocked {
		if strings.ToLower(strings.TrimSpace(name)) == needle {
			return Result{Status: StatusMatch, ListSource: s.Source}, nil
		}
	}
	return Result{Status: StatusClear}, nil
}

// Record appends a screening audit row inside the caller's transaction so
// that the outcome commits (or rolls back) together with whatever decision
// it informed.
func Record(ctx context.Context, tx pgx.Tx, txnID, subjectName string, res Result) error {
	const q = `
INSERT INTO screenings (transaction_id, subject_name, status, list_source)
VALUES ($1, $2, $3, $4)
`
	if _, err := tx.Exec(ctx, q, txnID, subjectName, string(res.Status), res.ListSource); err != nil {
		return fmt.Errorf("compliance: record screening: %w", err)
	}
	return nil
}
