package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kirillm/riskgate/internal/domain"
	"github.com/kirillm/riskgate/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWinRate(t *testing.T, cfg domain.WinRateConfig) (*WinRateBreaker, *storage.MemoryStorage) {
	t.Helper()
	store := storage.NewMemoryStorage()
	b := NewWinRateBreaker(cfg, store, testLogger(), nil)
	require.NoError(t, b.Initialize(context.Background()))
	return b, store
}

func addTrades(t *testing.T, b *WinRateBreaker, prefix string, n int, win bool) {
	t.Helper()
	pnl := -1.0
	if win {
		pnl = 2.0
	}
	for i := 0; i < n; i++ {
		require.NoError(t, b.AddTrade(context.Background(), outcome(fmt.Sprintf("%s-%d", prefix, i), win, pnl)))
	}
}

func TestWinRateBreaker_MinimumTradesScenario(t *testing.T) {
	ctx := context.Background()
	b, store := newWinRate(t, domain.WinRateConfig{
		ThresholdPercent:  40,
		WindowSize:        50,
		MinimumTrades:     50,
		EnableCautionFlag: true,
	})

	addTrades(t, b, "loss", 49, false)
	res, err := b.CheckWinRate(ctx)
	require.NoError(t, err)
	assert.True(t, res.IsCaution)
	assert.False(t, res.IsBreached)
	assert.Empty(t, store.Triggers())

	addTrades(t, b, "fifty", 1, false)
	res, err = b.CheckWinRate(ctx)
	require.NoError(t, err)
	assert.True(t, res.IsBreached)
	assert.False(t, res.IsCaution)
	assert.Equal(t, 0.0, res.Snapshot.WinRatePercent)
	require.NotNil(t, res.Trigger)
	assert.Len(t, store.Triggers(), 1)

	addTrades(t, b, "more", 5, false)
	res, err = b.CheckWinRate(ctx)
	require.NoError(t, err)
	assert.True(t, res.IsBreached)
	assert.Nil(t, res.Trigger)
	assert.Len(t, store.Triggers(), 1)
}

func TestWinRateBreaker_InsufficientNeverBreaches(t *testing.T) {
	ctx := context.Background()
	b, _ := newWinRate(t, domain.WinRateConfig{ThresholdPercent: 90, WindowSize: 10, MinimumTrades: 5})

	for i := 0; i < 4; i++ {
		addTrades(t, b, fmt.Sprintf("l%d", i), 1, false)
		res, err := b.CheckWinRate(ctx)
		require.NoError(t, err)
		assert.False(t, res.IsBreached)
		// caution выключен в конфигурации
		assert.False(t, res.IsCaution)
	}
}

func TestWinRateBreaker_SnapshotCounts(t *testing.T) {
	b, _ := newWinRate(t, domain.WinRateConfig{ThresholdPercent: 40, WindowSize: 7, MinimumTrades: 1})

	for i := 0; i < 20; i++ {
		addTrades(t, b, fmt.Sprintf("t%d", i), 1, i%3 == 0)
		snap := b.Snapshot()
		assert.LessOrEqual(t, snap.TradesInWindow, snap.WindowSize)
		assert.Equal(t, snap.TradesInWindow, snap.WinningTrades+snap.LosingTrades)
	}
}

func TestWinRateBreaker_BoundaryComparison(t *testing.T) {
	tests := []struct {
		name      string
		inclusive bool
		want      bool
	}{
		{"strict below does not fire at equality", false, false},
		{"inclusive fires at equality", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _ := newWinRate(t, domain.WinRateConfig{ThresholdPercent: 50, WindowSize: 4, MinimumTrades: 4, BreachInclusive: tt.inclusive})
			addTrades(t, b, "w", 2, true)
			addTrades(t, b, "l", 2, false)

			res, err := b.CheckWinRate(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 50.0, res.Snapshot.WinRatePercent)
			assert.Equal(t, tt.want, res.IsBreached)
		})
	}
}

func TestWinRateBreaker_StaysBreachedUntilReset(t *testing.T) {
	ctx := context.Background()
	b, store := newWinRate(t, domain.WinRateConfig{ThresholdPercent: 50, WindowSize: 4, MinimumTrades: 4})

	addTrades(t, b, "l", 4, false)
	res, err := b.CheckWinRate(ctx)
	require.NoError(t, err)
	require.True(t, res.IsBreached)

	addTrades(t, b, "w", 4, true)
	res, err = b.CheckWinRate(ctx)
	require.NoError(t, err)
	assert.True(t, res.IsBreached)
	assert.Equal(t, 100.0, res.Snapshot.WinRatePercent)

	require.NoError(t, b.Reset(ctx, "ops", false))
	res, err = b.CheckWinRate(ctx)
	require.NoError(t, err)
	assert.False(t, res.IsBreached)
	assert.Equal(t, 4, res.Snapshot.TradesInWindow)

	triggers := store.Triggers()
	require.Len(t, triggers, 1)
	assert.Equal(t, "ops", triggers[0].ResetBy)
}

func TestWinRateBreaker_ResetClearHistory(t *testing.T) {
	ctx := context.Background()
	cfg := domain.WinRateConfig{ThresholdPercent: 50, WindowSize: 10, MinimumTrades: 2}
	b, store := newWinRate(t, cfg)

	addTrades(t, b, "l", 3, false)
	require.NoError(t, b.Reset(ctx, "ops", true))
	assert.Equal(t, 0, b.Snapshot().TradesInWindow)

	// Очищенная история не возвращается после рестарта
	restored := NewWinRateBreaker(cfg, store, testLogger(), nil)
	require.NoError(t, restored.Initialize(ctx))
	assert.Equal(t, 0, restored.Snapshot().TradesInWindow)

	assert.ErrorIs(t, b.Reset(ctx, "", false), domain.ErrOperatorRequired)
}

func TestWinRateBreaker_InitializeHydratesNewestTrades(t *testing.T) {
	ctx := context.Background()
	cfg := domain.WinRateConfig{ThresholdPercent: 50, WindowSize: 3, MinimumTrades: 1}
	b, store := newWinRate(t, cfg)

	addTrades(t, b, "t", 5, true)

	restored := NewWinRateBreaker(cfg, store, testLogger(), nil)
	require.NoError(t, restored.Initialize(ctx))
	assert.Equal(t, []string{"t-2", "t-3", "t-4"}, ids(restored.window))
}

func TestWinRateBreaker_UpdateConfigResizesWindow(t *testing.T) {
	ctx := context.Background()
	b, _ := newWinRate(t, domain.WinRateConfig{ThresholdPercent: 50, WindowSize: 5, MinimumTrades: 1})
	addTrades(t, b, "t", 5, true)

	err := b.UpdateConfig(ctx, domain.WinRateConfig{ThresholdPercent: 50, WindowSize: 2, MinimumTrades: 3})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	require.NoError(t, b.UpdateConfig(ctx, domain.WinRateConfig{ThresholdPercent: 50, WindowSize: 2, MinimumTrades: 1}))
	assert.Equal(t, []string{"t-3", "t-4"}, ids(b.window))
	assert.Equal(t, 2, b.Snapshot().WindowSize)
}

func TestWinRateBreaker_AddTradeValidationAndPersistence(t *testing.T) {
	ctx := context.Background()
	b, store := newWinRate(t, domain.DefaultWinRateConfig())

	assert.ErrorIs(t, b.AddTrade(ctx, domain.TradeOutcome{}), domain.ErrInvalidInput)

	store.SetFailure(errors.New("db down"))
	err := b.AddTrade(ctx, outcome("x", true, 1))
	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.Equal(t, 0, b.Snapshot().TradesInWindow)
}

func TestAnalyzeTrades(t *testing.T) {
	tests := []struct {
		name   string
		trades []domain.TradeOutcome
		want   TradeAnalysis
	}{
		{
			name:   "no trades",
			trades: nil,
			want:   TradeAnalysis{StreakType: "none"},
		},
		{
			name: "mixed with losing streak",
			trades: []domain.TradeOutcome{
				outcome("a", true, 4),
				outcome("b", true, 2),
				outcome("c", false, -1),
				outcome("d", false, -2),
			},
			want: TradeAnalysis{
				TotalTrades:        4,
				CurrentStreak:      2,
				StreakType:         "loss",
				AvgWinPercent:      3,
				AvgLossPercent:     -1.5,
				ProfitFactor:       2,
				LargestWinPercent:  4,
				LargestLossPercent: -2,
			},
		},
		{
			name: "only wins uses sentinel",
			trades: []domain.TradeOutcome{
				outcome("a", true, 1),
				outcome("b", true, 3),
			},
			want: TradeAnalysis{
				TotalTrades:       2,
				CurrentStreak:     2,
				StreakType:        "win",
				AvgWinPercent:     2,
				ProfitFactor:      domain.ProfitFactorNoLosses,
				LargestWinPercent: 3,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, analyzeTrades(tt.trades))
		})
	}
}

func TestWinRateBreaker_AddTradeIdempotent(t *testing.T) {
	ctx := context.Background()
	b, store := newWinRate(t, domain.WinRateConfig{ThresholdPercent: 50, WindowSize: 5, MinimumTrades: 1})

	require.NoError(t, b.AddTrade(ctx, outcome("t1", false, -1)))
	require.NoError(t, b.AddTrade(ctx, outcome("t1", false, -1)))

	snap := b.Snapshot()
	assert.Equal(t, 1, snap.TradesInWindow)
	assert.Equal(t, 1, snap.LosingTrades)

	saved, err := store.GetRecentTradeOutcomes(ctx, time.Time{}, 10)
	require.NoError(t, err)
	assert.Len(t, saved, 1)
}

func TestWinRateBreaker_ConcurrentAddTradeAndResize(t *testing.T) {
	ctx := context.Background()
	b, _ := newWinRate(t, domain.WinRateConfig{ThresholdPercent: 50, WindowSize: 20, MinimumTrades: 1})

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				assert.NoError(t, b.AddTrade(ctx, outcome(fmt.Sprintf("w%d-%d", w, i), i%2 == 0, 1)))
			}
		}(w)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			size := 3 + i%15
			assert.NoError(t, b.UpdateConfig(ctx, domain.WinRateConfig{ThresholdPercent: 50, WindowSize: size, MinimumTrades: 1}))
		}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			snap := b.Snapshot()
			assert.LessOrEqual(t, snap.TradesInWindow, snap.WindowSize)
			assert.Equal(t, snap.TradesInWindow, snap.WinningTrades+snap.LosingTrades)
		}
	}()
	wg.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()
	assert.LessOrEqual(t, b.window.Len(), b.window.Cap())
	assert.Equal(t, b.cfg.WindowSize, b.window.Cap())
	snap := b.snapshot()
	assert.Equal(t, snap.TradesInWindow, snap.WinningTrades+snap.LosingTrades)
}
