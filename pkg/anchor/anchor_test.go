package anchor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		t.Parallel()
		a, err := New("Migrate the billing service to the new auth tokens")
		require.NoError(t, err)
		assert.Equal(t, "Migrate the billing service to the new auth tokens", a.Text())
		assert.Len(t, a.Hash(), 64)
	})

	t.Run("hash is stable for equal text", func(t *testing.T) {
		t.Parallel()
		a, err := New("ship the release")
		require.NoError(t, err)
		b, err := New("  ship the release  ")
		require.NoError(t, err)
		assert.Equal(t, a.Hash(), b.Hash())
	})

	t.Run("empty rejected", func(t *testing.T) {
		t.Parallel()
		_, err := New("")
		require.ErrorIs(t, err, ErrEmptyAnchor)
	})

	t.Run("stop words only rejected", func(t *testing.T) {
		t.Parallel()
		_, err := New("the and of to")
		require.ErrorIs(t, err, ErrEmptyAnchor)
	})
}

func TestScore(t *testing.T) {
	t.Parallel()

	a, err := New("migrate billing service auth tokens")
	require.NoError(t, err)

	t.Run("identical text scores one", func(t *testing.T) {
		t.Parallel()
		score, ok := a.Score("migrate billing service auth tokens")
		require.True(t, ok)
		assert.InDelta(t, 1.0, score, 1e-9)
	})

	t.Run("disjoint text scores zero", func(t *testing.T) {
		t.Parallel()
		score, ok := a.Score("bake sourdough bread overnight")
		require.True(t, ok)
		assert.Zero(t, score)
	})

	t.Run("partial overlap", func(t *testing.T) {
		t.Parallel()
		// Anchor tokens: migrate billing service auth tokens (5).
		// Message tokens: billing auth metrics (3). Shared 2, union 6.
		score, ok := a.Score("billing auth metrics")
		require.True(t, ok)
		assert.InDelta(t, 2.0/6.0, score, 1e-9)
	})

	t.Run("no content tokens gives no signal", func(t *testing.T) {
		t.Parallel()
		_, ok := a.Score("the a an of !!!")
		assert.False(t, ok)
		_, ok = a.Score("")
		assert.False(t, ok)
	})

	t.Run("case and punctuation ignored", func(t *testing.T) {
		t.Parallel()
		score, ok := a.Score("MIGRATE, billing; SERVICE. auth? tokens!")
		require.True(t, ok)
		assert.InDelta(t, 1.0, score, 1e-9)
	})
}

func TestDrifted(t *testing.T) {
	t.Parallel()

	a, err := New("migrate billing service auth tokens")
	require.NoError(t, err)

	t.Run("on-task message is not drift", func(t *testing.T) {
		t.Parallel()
		assert.False(t, a.Drifted("rotating auth tokens for billing now", DefaultThreshold))
	})

	t.Run("off-task message is drift", func(t *testing.T) {
		t.Parallel()
		assert.True(t, a.Drifted("researching vacation destinations in portugal", DefaultThreshold))
	})

	t.Run("score at threshold is not drift", func(t *testing.T) {
		t.Parallel()
		// Shared 1 (billing), union 5: score 0.2 == threshold exactly.
		assert.False(t, a.Drifted("billing", 0.2))
	})

	t.Run("empty message is never drift", func(t *testing.T) {
		t.Parallel()
		assert.False(t, a.Drifted("", DefaultThreshold))
	})
}
