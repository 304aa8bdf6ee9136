package breaker

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/kirillm/riskgate/internal/domain"
	"github.com/kirillm/riskgate/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLossThrottle_Multiplier(t *testing.T) {
	tests := []struct {
		name     string
		outcomes []bool // true = win
		want     float64
		streak   int
	}{
		{"no trades", nil, 1.0, 0},
		{"below threshold", []bool{false, false}, 1.0, 2},
		{"at threshold", []bool{false, false, false}, 0.5, 3},
		{"above threshold", []bool{false, false, false, false, false}, 0.5, 5},
		{"win breaks streak", []bool{false, false, false, true}, 1.0, 0},
		{"streak restarts after win", []bool{false, false, true, false}, 1.0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			th := NewLossThrottle(domain.DefaultThrottleConfig(), storage.NewMemoryStorage(), testLogger())
			require.NoError(t, th.Initialize(ctx))

			for i, win := range tt.outcomes {
				require.NoError(t, th.RecordOutcome(ctx, outcome(fmt.Sprintf("t%d", i), win, 0)))
			}
			assert.Equal(t, tt.want, th.Multiplier())
			assert.Equal(t, tt.streak, th.Status().ConsecutiveLosses)
			assert.Equal(t, 100*tt.want, th.AdjustedSize(100))
		})
	}
}

func TestLossThrottle_ManualResetAndRestore(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	cfg := domain.ThrottleConfig{ConsecutiveLossThreshold: 2, SizeReductionFactor: 0.25}

	th := NewLossThrottle(cfg, store, testLogger())
	require.NoError(t, th.Initialize(ctx))
	for i := 0; i < 2; i++ {
		require.NoError(t, th.RecordOutcome(ctx, outcome(fmt.Sprintf("l%d", i), false, -1)))
	}
	assert.True(t, th.Status().IsThrottled)

	// Серия переживает рестарт
	restored := NewLossThrottle(cfg, store, testLogger())
	require.NoError(t, restored.Initialize(ctx))
	assert.Equal(t, 0.25, restored.Multiplier())

	assert.ErrorIs(t, restored.ManualReset(ctx, ""), domain.ErrOperatorRequired)
	require.NoError(t, restored.ManualReset(ctx, "ops"))
	assert.Equal(t, 1.0, restored.Multiplier())
	assert.Equal(t, 0, restored.Status().ConsecutiveLosses)
}

func TestLossThrottle_UpdateConfig(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	th := NewLossThrottle(domain.DefaultThrottleConfig(), store, testLogger())
	require.NoError(t, th.Initialize(ctx))

	assert.ErrorIs(t, th.UpdateConfig(ctx, domain.ThrottleConfig{ConsecutiveLossThreshold: 3, SizeReductionFactor: 0}), domain.ErrInvalidInput)
	assert.ErrorIs(t, th.UpdateConfig(ctx, domain.ThrottleConfig{ConsecutiveLossThreshold: 0, SizeReductionFactor: 0.5}), domain.ErrInvalidInput)

	next := domain.ThrottleConfig{ConsecutiveLossThreshold: 1, SizeReductionFactor: 0.75}
	require.NoError(t, th.UpdateConfig(ctx, next))
	require.NoError(t, th.RecordOutcome(ctx, outcome("l", false, -1)))
	assert.Equal(t, 0.75, th.Multiplier())

	restored := NewLossThrottle(domain.DefaultThrottleConfig(), store, testLogger())
	require.NoError(t, restored.Initialize(ctx))
	assert.Equal(t, next, restored.Config())
}

func TestLossThrottle_StoreFailureKeepsStreak(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	th := NewLossThrottle(domain.DefaultThrottleConfig(), store, testLogger())
	require.NoError(t, th.Initialize(ctx))
	require.NoError(t, th.RecordOutcome(ctx, outcome("l1", false, -1)))

	store.SetFailure(errors.New("db down"))
	err := th.RecordOutcome(ctx, outcome("l2", false, -1))
	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.Equal(t, 1, th.Status().ConsecutiveLosses)
}

func TestLossThrottle_RepeatedTradeCountedOnce(t *testing.T) {
	ctx := context.Background()
	th := NewLossThrottle(domain.DefaultThrottleConfig(), storage.NewMemoryStorage(), testLogger())
	require.NoError(t, th.Initialize(ctx))

	require.NoError(t, th.RecordOutcome(ctx, outcome("l1", false, -1)))
	require.NoError(t, th.RecordOutcome(ctx, outcome("l1", false, -1)))
	assert.Equal(t, 1, th.Status().ConsecutiveLosses)

	require.NoError(t, th.RecordOutcome(ctx, outcome("l2", false, -1)))
	assert.Equal(t, 2, th.Status().ConsecutiveLosses)
}
