package gate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/kirillm/riskgate/internal/domain"
	"github.com/kirillm/riskgate/internal/storage"
	"github.com/kirillm/riskgate/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *utils.Logger {
	return utils.NewLoggerTo(io.Discard, "error")
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.WinRate = domain.WinRateConfig{ThresholdPercent: 50, WindowSize: 4, MinimumTrades: 4, EnableCautionFlag: true}
	opts.Throttle = domain.ThrottleConfig{ConsecutiveLossThreshold: 2, SizeReductionFactor: 0.5}
	opts.PositionLimit = domain.PositionLimitConfig{MaxPositions: 1, EnableQueue: true, MaxQueueSize: 2, QueueExpiryMinutes: 30}
	return opts
}

func newGate(t *testing.T) (*Gate, *storage.MemoryStorage) {
	t.Helper()
	store := storage.NewMemoryStorage()
	reg := NewRegistry(store, testOptions(), testLogger())
	t.Cleanup(reg.Close)
	require.NoError(t, reg.Initialize(context.Background()))
	return New(reg, testLogger()), store
}

func capital(v float64) *float64 { return &v }

func trade(id string, win bool) domain.TradeOutcome {
	pnl := -1.0
	if win {
		pnl = 1.0
	}
	return domain.TradeOutcome{TradeID: id, IsWin: win, PnLPercent: pnl}
}

func systemStatus(t *testing.T, store *storage.MemoryStorage) string {
	t.Helper()
	v, err := store.GetConfigParam(context.Background(), domain.SystemStatusKey)
	require.NoError(t, err)
	return v
}

func TestGate_AdmitThenQueue(t *testing.T) {
	ctx := context.Background()
	g, store := newGate(t)
	assert.Equal(t, domain.SystemStatusTrading, systemStatus(t, store))

	v, err := g.Evaluate(ctx, Signal{SignalID: "s1", BaseSize: 100})
	require.NoError(t, err)
	assert.Equal(t, ActionAdmit, v.Action)
	assert.Equal(t, 1.0, v.SizeMultiplier)
	assert.Equal(t, 100.0, v.AdjustedSize)
	assert.True(t, v.WinRateCaution)

	v, err = g.Evaluate(ctx, Signal{SignalID: "s2", BaseSize: 100})
	require.NoError(t, err)
	assert.Equal(t, ActionQueue, v.Action)
	assert.Equal(t, 1, v.QueuePosition)
	assert.NotEmpty(t, v.QueuedSignalID)

	row, ok := store.QueuedSignal(v.QueuedSignalID)
	require.True(t, ok)
	assert.Equal(t, 100.0, row.SignalData["adjusted_size"])
}

func TestGate_ThrottleReducesSize(t *testing.T) {
	ctx := context.Background()
	g, _ := newGate(t)

	require.NoError(t, g.RecordTrade(ctx, trade("t1", false)))
	require.NoError(t, g.RecordTrade(ctx, trade("t2", false)))

	v, err := g.Evaluate(ctx, Signal{SignalID: "s1", BaseSize: 80})
	require.NoError(t, err)
	assert.Equal(t, ActionAdmit, v.Action)
	assert.Equal(t, 0.5, v.SizeMultiplier)
	assert.Equal(t, 40.0, v.AdjustedSize)
}

func TestGate_DrawdownBlocksWithoutTouchingQueue(t *testing.T) {
	ctx := context.Background()
	g, store := newGate(t)

	_, err := g.Evaluate(ctx, Signal{SignalID: "s0", CurrentCapital: capital(100)})
	require.NoError(t, err)

	v, err := g.Evaluate(ctx, Signal{SignalID: "s1", CurrentCapital: capital(80)})
	require.NoError(t, err)
	assert.Equal(t, ActionBlock, v.Action)
	assert.Equal(t, domain.BreakerCapitalDrawdown, v.BlockedBy)
	assert.Equal(t, domain.SystemStatusHalted, systemStatus(t, store))

	status := g.Registry().Positions.CheckCanOpen()
	assert.Equal(t, 1, status.CurrentPositions)
	assert.Equal(t, 0, status.QueuedSignalsCount)

	blocked := store.BlockedSignals()
	require.Len(t, blocked, 1)
	assert.Equal(t, "s1", blocked[0].SignalID)

	// Без капитала в сигнале блокирует активный триггер
	v, err = g.Evaluate(ctx, Signal{SignalID: "s2"})
	require.NoError(t, err)
	assert.Equal(t, ActionBlock, v.Action)
}

func TestGate_WinRateBlocks(t *testing.T) {
	ctx := context.Background()
	g, store := newGate(t)

	for i := 0; i < 4; i++ {
		require.NoError(t, g.RecordTrade(ctx, trade(fmt.Sprintf("t%d", i), false)))
	}

	v, err := g.Evaluate(ctx, Signal{SignalID: "s1", BaseSize: 10})
	require.NoError(t, err)
	assert.Equal(t, ActionBlock, v.Action)
	assert.Equal(t, domain.BreakerRollingWinRate, v.BlockedBy)
	assert.Equal(t, domain.SystemStatusHalted, systemStatus(t, store))
}

func TestGate_ResetOneBreakerLeavesOthers(t *testing.T) {
	ctx := context.Background()
	g, store := newGate(t)
	reg := g.Registry()

	_, err := reg.Drawdown.CheckDrawdown(ctx, 100)
	require.NoError(t, err)
	_, err = reg.Drawdown.CheckDrawdown(ctx, 50)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		require.NoError(t, g.RecordTrade(ctx, trade(fmt.Sprintf("t%d", i), false)))
	}
	_, err = reg.WinRate.CheckWinRate(ctx)
	require.NoError(t, err)
	require.True(t, reg.Drawdown.IsBreached())
	require.True(t, reg.WinRate.Status().IsBreached)

	require.NoError(t, reg.Drawdown.Reset(ctx, "ops", nil))
	assert.False(t, reg.Drawdown.IsBreached())
	assert.True(t, reg.WinRate.Status().IsBreached)
	assert.Equal(t, 4, reg.Throttle.Status().ConsecutiveLosses)

	active, err := store.GetActiveTrigger(ctx, domain.BreakerRollingWinRate)
	require.NoError(t, err)
	assert.NotNil(t, active)

	require.NoError(t, reg.SyncSystemStatus(ctx))
	assert.Equal(t, domain.SystemStatusHalted, systemStatus(t, store))
}

func TestGate_KillSwitch(t *testing.T) {
	ctx := context.Background()
	g, store := newGate(t)
	reg := g.Registry()

	assert.ErrorIs(t, reg.KillSwitch.Activate(ctx, "", "x"), domain.ErrOperatorRequired)
	require.NoError(t, reg.KillSwitch.Activate(ctx, "ops", "exchange maintenance"))
	require.NoError(t, reg.SyncSystemStatus(ctx))

	v, err := g.Evaluate(ctx, Signal{SignalID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, ActionBlock, v.Action)
	assert.Equal(t, domain.BreakerKillSwitch, v.BlockedBy)
	assert.Contains(t, v.Reason, "exchange maintenance")

	// Остановка переживает рестарт
	restored := NewRegistry(store, testOptions(), testLogger())
	t.Cleanup(restored.Close)
	require.NoError(t, restored.Initialize(ctx))
	assert.True(t, restored.KillSwitch.IsActive())
	assert.Equal(t, domain.SystemStatusHalted, restored.SystemStatus())

	require.NoError(t, restored.KillSwitch.Deactivate(ctx, "ops"))
	require.NoError(t, restored.SyncSystemStatus(ctx))
	assert.Equal(t, domain.SystemStatusTrading, systemStatus(t, store))
}

func TestGate_StoreFailureFailsClosed(t *testing.T) {
	ctx := context.Background()
	g, store := newGate(t)

	store.SetFailure(errors.New("db down"))
	_, err := g.Evaluate(ctx, Signal{SignalID: "s1", CurrentCapital: capital(100)})
	assert.ErrorIs(t, err, domain.ErrPersistence)

	_, err = g.Evaluate(ctx, Signal{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

type stubExecutor struct {
	err   error
	sizes []float64
}

func (s *stubExecutor) ExecuteSignal(ctx context.Context, signal Signal, size float64) error {
	s.sizes = append(s.sizes, size)
	return s.err
}

func TestGate_Execute(t *testing.T) {
	ctx := context.Background()
	g, _ := newGate(t)

	failing := &stubExecutor{err: errors.New("rejected by venue")}
	_, err := g.Execute(ctx, Signal{SignalID: "s1", BaseSize: 10}, failing)
	assert.Error(t, err)
	assert.Equal(t, 0, g.Registry().Positions.CheckCanOpen().CurrentPositions)

	ok := &stubExecutor{}
	v, err := g.Execute(ctx, Signal{SignalID: "s2", BaseSize: 10}, ok)
	require.NoError(t, err)
	assert.Equal(t, ActionAdmit, v.Action)
	assert.Equal(t, []float64{10}, ok.sizes)

	v, err = g.Execute(ctx, Signal{SignalID: "s3", BaseSize: 10}, ok)
	require.NoError(t, err)
	assert.Equal(t, ActionQueue, v.Action)
	assert.Len(t, ok.sizes, 1)
}

func TestRegistry_Reset(t *testing.T) {
	ctx := context.Background()
	g, store := newGate(t)
	reg := g.Registry()

	_, err := g.Evaluate(ctx, Signal{SignalID: "s0", CurrentCapital: capital(100)})
	require.NoError(t, err)
	_, err = g.Evaluate(ctx, Signal{SignalID: "s1", CurrentCapital: capital(10)})
	require.NoError(t, err)
	require.NoError(t, g.RecordTrade(ctx, trade("t1", false)))

	assert.ErrorIs(t, reg.Reset(ctx, ""), domain.ErrOperatorRequired)
	require.NoError(t, reg.Reset(ctx, "ops"))

	assert.False(t, reg.Halted())
	assert.Equal(t, 0, reg.Throttle.Status().ConsecutiveLosses)
	assert.Equal(t, 0, reg.Positions.CheckCanOpen().CurrentPositions)
	assert.Equal(t, domain.SystemStatusTrading, systemStatus(t, store))
}

func TestGate_RestartKeepsOpenPositions(t *testing.T) {
	ctx := context.Background()
	g, store := newGate(t)

	v, err := g.Evaluate(ctx, Signal{SignalID: "A", BaseSize: 10})
	require.NoError(t, err)
	require.Equal(t, ActionAdmit, v.Action)
	v, err = g.Evaluate(ctx, Signal{SignalID: "B", BaseSize: 10})
	require.NoError(t, err)
	require.Equal(t, ActionQueue, v.Action)

	reg := NewRegistry(store, testOptions(), testLogger())
	t.Cleanup(reg.Close)
	require.NoError(t, reg.Initialize(ctx))
	restarted := New(reg, testLogger())

	v, err = restarted.Evaluate(ctx, Signal{SignalID: "C", BaseSize: 10})
	require.NoError(t, err)
	assert.NotEqual(t, ActionAdmit, v.Action)
	assert.Equal(t, 1, reg.Positions.CheckCanOpen().CurrentPositions)
}

// streakFailStore отказывает только в записи серии убытков
type streakFailStore struct {
	*storage.MemoryStorage
	fail bool
}

func (s *streakFailStore) SetConfigParam(ctx context.Context, key, value string) error {
	if s.fail && key == domain.ConfigKeyThrottleStreak {
		return errors.New("db down")
	}
	return s.MemoryStorage.SetConfigParam(ctx, key, value)
}

func TestGate_RecordTradeRetryAfterPartialFailure(t *testing.T) {
	ctx := context.Background()
	store := &streakFailStore{MemoryStorage: storage.NewMemoryStorage()}
	reg := NewRegistry(store, testOptions(), testLogger())
	t.Cleanup(reg.Close)
	require.NoError(t, reg.Initialize(ctx))
	g := New(reg, testLogger())

	store.fail = true
	err := g.RecordTrade(ctx, trade("t1", false))
	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.Equal(t, 1, reg.WinRate.Snapshot().TradesInWindow)
	assert.Equal(t, 0, reg.Throttle.Status().ConsecutiveLosses)

	store.fail = false
	require.NoError(t, g.RecordTrade(ctx, trade("t1", false)))
	snap := reg.WinRate.Snapshot()
	assert.Equal(t, 1, snap.TradesInWindow)
	assert.Equal(t, 1, snap.LosingTrades)
	assert.Equal(t, 1, reg.Throttle.Status().ConsecutiveLosses)

	// Повтор полностью учтенной сделки ничего не меняет
	require.NoError(t, g.RecordTrade(ctx, trade("t1", false)))
	assert.Equal(t, 1, reg.WinRate.Snapshot().TradesInWindow)
	assert.Equal(t, 1, reg.Throttle.Status().ConsecutiveLosses)
}
