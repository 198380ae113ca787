package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterAllowsUpToBudget(t *testing.T) {
	l := NewSlidingWindowLimiter(map[string]int{CategoryTrading: 3})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(ctx, CategoryTrading))
	}
	assert.Equal(t, 3, l.Pending(CategoryTrading))
}

func TestLimiterBlocksWhenWindowFull(t *testing.T) {
	l := NewSlidingWindowLimiter(map[string]int{CategoryTrading: 1})
	require.NoError(t, l.Acquire(context.Background(), CategoryTrading))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := l.Acquire(ctx, CategoryTrading)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLimiterPrunesExpiredTimestamps(t *testing.T) {
	l := NewSlidingWindowLimiter(map[string]int{CategoryData: 2})

	base := time.Now()
	l.now = func() time.Time { return base }
	require.NoError(t, l.Acquire(context.Background(), CategoryData))
	require.NoError(t, l.Acquire(context.Background(), CategoryData))

	// Window full at base; advancing past the window frees both slots
	l.now = func() time.Time { return base.Add(61 * time.Second) }
	require.NoError(t, l.Acquire(context.Background(), CategoryData))
	assert.Equal(t, 1, l.Pending(CategoryData))
}

func TestLimiterUnknownCategoryDefaults(t *testing.T) {
	l := NewSlidingWindowLimiter(map[string]int{})
	require.NoError(t, l.Acquire(context.Background(), "other"))
}

func TestIGLimiterBudgets(t *testing.T) {
	l := NewIGLimiter()
	assert.Equal(t, 60, l.limits[CategoryData])
	assert.Equal(t, 15, l.limits[CategoryTrading])
	assert.Equal(t, 30, l.limits[CategoryHistorical])
}
