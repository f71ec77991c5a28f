package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFixed(t *testing.T) {
	t.Parallel()

	instant := time.Date(2026, 2, 20, 14, 32, 0, 0, time.UTC)
	c := Fixed(instant)

	assert.Equal(t, instant, c.Now())
	assert.Equal(t, time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC), c.Today())
}

func TestFixedNormalizesZone(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("UTC+5", 5*3600)
	c := Fixed(time.Date(2026, 2, 20, 2, 0, 0, 0, loc))

	// 02:00 at UTC+5 is the previous day in UTC.
	assert.Equal(t, time.Date(2026, 2, 19, 0, 0, 0, 0, time.UTC), c.Today())
}

func TestSystem(t *testing.T) {
	t.Parallel()

	c := System()
	now := c.Now()
	assert.Equal(t, time.UTC, now.Location())

	today := c.Today()
	assert.Equal(t, 0, today.Hour())
	assert.Equal(t, 0, today.Minute())
}
