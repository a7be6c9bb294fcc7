package compliance_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carvault/compliance"
)

func TestListScreener(t *testing.T) {
	screener := &compliance.ListScreener{
		Source:  "pld-local",
		Blocked: []string{"Ana Blocked", "  Pedro Vetado "},
	}

	t.Run("Clear", func(t *testing.T) {
		res, err := screener.Screen(context.Background(), "Maria Compradora")
		require.NoError(t, err)
		assert.Equal(t, compliance.StatusClear, res.Status)
		assert.Empty(t, res.ListSource)
	})

	t.Run("MatchIgnoresCaseAndPadding", func(t *testing.T) {
		res, err := screener.Screen(context.Background(), "  ana blocked")
		require.NoError(t, err)
		assert.Equal(t, compliance.StatusMatch, res.Status)
		assert.Equal(t, "pld-local", res.ListSource)
	})

	t.Run("MatchOnTrimmedListEntry", func(t *testing.T) {
		res, err := screener.Screen(context.Background(), "pedro vetado")
		require.NoError(t, err)
		assert.Equal(t, compliance.StatusMatch, res.Status)
	})
}
