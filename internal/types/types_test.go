package types_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tinode/fanout/internal/types"
)

func TestMessageBefore_OrdersByTimestampThenID(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	earlier := types.Message{ID: "b", CreatedAt: t0}
	later := types.Message{ID: "a", CreatedAt: t0.Add(time.Second)}

	assert.True(t, earlier.Before(later))
	assert.False(t, later.Before(earlier))

	// Identical timestamps fall back to lexicographic id order.
	tieA := types.Message{ID: "a", CreatedAt: t0}
	tieB := types.Message{ID: "b", CreatedAt: t0}
	assert.True(t, tieA.Before(tieB))
	assert.False(t, tieB.Before(tieA))
	assert.False(t, tieA.Before(tieA))
}
