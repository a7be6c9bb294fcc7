package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFanOut(t *testing.T) {
	const buyer = "b1"
	const seller = "s1"

	t.Run("created notifies seller only", func(t *testing.T) {
		out := fanOut("txn.created", "t1", buyer, seller)
		if assert.Len(t, out, 1) {
			assert.Equal(t, seller, out[0].UserID)
			assert.Equal(t, "/transactions/t1", out[0].Link)
		}
	})

	t.Run("released notifies both parties", func(t *testing.T) {
		out := fanOut("txn.released", "t1", buyer, seller)
		assert.Len(t, out, 2)
		assert.Equal(t, buyer, out[0].UserID)
		assert.Equal(t, seller, out[1].UserID)
	})

	t.Run("missing recipients are skipped", func(t *testing.T) {
		out := fanOut("txn.cancelled", "t1", buyer, "")
		if assert.Len(t, out, 1) {
			assert.Equal(t, buyer, out[0].UserID)
		}
	})

	t.Run("unknown topic fans out to nobody", func(t *testing.T) {
		assert.Empty(t, fanOut("txn.weird", "t1", buyer, seller))
	})
}
