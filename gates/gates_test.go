package gates_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carvault/gates"
)

func TestEvaluate(t *testing.T) {
	allClear := gates.Snapshot{
		DocumentCaseCertified: true,
		QuotationStatus:       gates.QuotationAccepted,
		ContractSigned:        true,
	}

	t.Run("AllGatesMet", func(t *testing.T) {
		require.NoError(t, gates.Evaluate(allClear))
	})

	t.Run("NoQuotationMeansNoDefects", func(t *testing.T) {
		s := allClear
		s.QuotationStatus = ""
		require.NoError(t, gates.Evaluate(s))
	})

	t.Run("WaivedRepairSatisfiesMechanical", func(t *testing.T) {
		s := allClear
		s.QuotationStatus = gates.QuotationDenied
		require.NoError(t, gates.Evaluate(s))
	})

	t.Run("PendingQuotationBlocks", func(t *testing.T) {
		s := allClear
		s.QuotationStatus = "pending_buyer"
		var blocked *gates.ReleaseBlockedError
		require.ErrorAs(t, gates.Evaluate(s), &blocked)
		assert.Equal(t, []gates.Category{gates.CategoryMechanical}, blocked.Unmet)
	})

	t.Run("InRepairBlocks", func(t *testing.T) {
		s := allClear
		s.QuotationStatus = "in_repair"
		var blocked *gates.ReleaseBlockedError
		require.ErrorAs(t, gates.Evaluate(s), &blocked)
		assert.Equal(t, []gates.Category{gates.CategoryMechanical}, blocked.Unmet)
	})

	t.Run("EnumeratesEveryUnmetGate", func(t *testing.T) {
		s := gates.Snapshot{QuotationStatus: "pending_buyer"}
		var blocked *gates.ReleaseBlockedError
		require.ErrorAs(t, gates.Evaluate(s), &blocked)
		assert.ElementsMatch(t,
			[]gates.Category{gates.CategoryLegal, gates.CategoryMechanical, gates.CategoryContract},
			blocked.Unmet)
		assert.Contains(t, blocked.Error(), "legal")
		assert.Contains(t, blocked.Error(), "contract")
	})

	t.Run("ComplianceVetoesEverything", func(t *testing.T) {
		s := allClear
		s.ComplianceBlocked = true
		require.ErrorIs(t, gates.Evaluate(s), gates.ErrComplianceBlocked)
	})
}

func TestSnapshotStates(t *testing.T) {
	s := gates.Snapshot{
		DocumentCaseCertified: true,
		QuotationStatus:       "pending_buyer",
		ComplianceBlocked:     true,
	}

	states := s.States()

	assert.Equal(t, gates.StateVerified, states[gates.CategoryLegal])
	assert.Equal(t, gates.StatePending, states[gates.CategoryMechanical])
	assert.Equal(t, gates.StatePending, states[gates.CategoryContract])
	assert.Equal(t, gates.StateBlocked, states[gates.CategoryCompliance])
}
