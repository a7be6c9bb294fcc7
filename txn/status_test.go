package txn_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carvault/txn"
)

func TestValidTransition(t *testing.T) {
	allowed := [][2]txn.Status{
		{txn.StatusCreated, txn.StatusFundsHeld},
		{txn.StatusCreated, txn.StatusCancelled},
		{txn.StatusFundsHeld, txn.StatusReleased},
		{txn.StatusFundsHeld, txn.StatusNegotiating},
		{txn.StatusFundsHeld, txn.StatusCancelled},
		{txn.StatusNegotiating, txn.StatusFundsHeld},
	}

	seen := map[[2]txn.Status]bool{}
	for _, edge := range allowed {
		seen[edge] = true
		assert.True(t, txn.ValidTransition(edge[0], edge[1]), "%s -> %s", edge[0], edge[1])
	}

	all := []txn.Status{
		txn.StatusCreated, txn.StatusFundsHeld, txn.StatusNegotiating,
		txn.StatusReleased, txn.StatusCancelled,
	}
	for _, from := range all {
		for _, to := range all {
			if seen[[2]txn.Status{from, to}] {
				continue
			}
			assert.False(t, txn.ValidTransition(from, to), "%s -> %s must be rejected", from, to)
		}
	}
}

func TestEnsureTransition(t *testing.T) {
	require.NoError(t, txn.EnsureTransition(txn.StatusCreated, txn.StatusFundsHeld))

	// No skipping: a created sale can never be released directly, and a
	// negotiation never resolves straight into a terminal state.
	require.ErrorIs(t, txn.EnsureTransition(txn.StatusCreated, txn.StatusReleased), txn.ErrInvalidTransition)
	require.ErrorIs(t, txn.EnsureTransition(txn.StatusNegotiating, txn.StatusReleased), txn.ErrInvalidTransition)
	require.ErrorIs(t, txn.EnsureTransition(txn.StatusNegotiating, txn.StatusCancelled), txn.ErrInvalidTransition)
	require.ErrorIs(t, txn.EnsureTransition(txn.StatusReleased, txn.StatusCancelled), txn.ErrInvalidTransition)
}

func TestTerminal(t *testing.T) {
	assert.True(t, txn.StatusReleased.Terminal())
	assert.True(t, txn.StatusCancelled.Terminal())
	assert.False(t, txn.StatusFundsHeld.Terminal())
	assert.False(t, txn.StatusNegotiating.Terminal())
}
