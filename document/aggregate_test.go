package document_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"carvault/document"
)

func TestAggregate(t *testing.T) {
	tests := []struct {
		name      string
		states    []document.State
		certified bool
		want      document.CaseStatus
	}{
		{
			name: "EmptyCase",
			want: document.CasePendingDocs,
		},
		{
			name:   "NothingApprovedYet",
			states: []document.State{document.StatePending, document.StatePending},
			want:   document.CasePendingDocs,
		},
		{
			name:   "SomeApproved",
			states: []document.State{document.StateApproved, document.StateApproved, document.StatePending},
			want:   document.CasePartial,
		},
		{
			name:   "RejectionHoldsBackFinalReview",
			states: []document.State{document.StateApproved, document.StateApproved, document.StateRejected},
			want:   document.CasePartial,
		},
		{
			name:   "AllApproved",
			states: []document.State{document.StateApproved, document.StateApproved, document.StateApproved},
			want:   document.CaseFinalReview,
		},
		{
			name:      "CertificationIsExplicit",
			states:    []document.State{document.StateApproved},
			certified: true,
			want:      document.CaseCertified,
		},
		{
			name:      "RejectionRevokesCertifiedAggregate",
			states:    []document.State{document.StateApproved, document.StateRejected},
			certified: true,
			want:      document.CasePartial,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, document.Aggregate(tt.states, tt.certified))
		})
	}
}
