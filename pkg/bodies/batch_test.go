package bodies

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDedupe(t *testing.T) {
	mk := func(id, body string) *WriteItem {
		item, err := NewWriteItem(id, "", []byte(body), time.Time{})
		require.NoError(t, err)
		return item
	}

	t.Run("no duplicates", func(t *testing.T) {
		batch := []*WriteItem{mk("a", "1"), mk("b", "2")}
		assert.Equal(t, batch, Dedupe(batch))
	})

	t.Run("last occurrence wins", func(t *testing.T) {
		batch := []*WriteItem{mk("a", "1"), mk("b", "2"), mk("a", "3")}
		out := Dedupe(batch)

		assert.Equal(t, []string{"b", "a"}, IDs(out))
		assert.Equal(t, []byte("3"), out[1].Body())
	})

	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, Dedupe(nil))
	})
}
