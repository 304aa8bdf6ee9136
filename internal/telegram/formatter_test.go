package telegram

import (
	"testing"
	"time"

	"github.com/kirillm/riskgate/internal/admission"
	"github.com/kirillm/riskgate/internal/breaker"
	"github.com/kirillm/riskgate/internal/domain"
	"github.com/kirillm/riskgate/internal/gate"
	"github.com/stretchr/testify/assert"
)

func TestFormatter_T(t *testing.T) {
	tests := []struct {
		name string
		lang Lang
		key  string
		want string
	}{
		{"english", LangEN, "error", "Error"},
		{"russian", LangRU, "error", "Ошибка"},
		{"unknown key", LangEN, "unknown_key", "unknown_key"},
		{"unknown lang falls back", Lang("de"), "error", "Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewFormatter(tt.lang).T(tt.key))
		})
	}
}

func TestFormatter_FormatTrigger(t *testing.T) {
	f := NewFormatter(LangEN)
	msg := f.FormatTrigger(domain.TriggerRecord{
		BreakerType:     domain.BreakerCapitalDrawdown,
		ThresholdValue:  20,
		ActualValue:     25.5,
		CapitalSnapshot: 7450,
		TriggeredAt:     time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	})

	assert.Contains(t, msg, "`capital_drawdown`")
	assert.Contains(t, msg, "Threshold: 20.00")
	assert.Contains(t, msg, "Actual: 25.50")
	assert.Contains(t, msg, "Capital: 7450.00")
	assert.Contains(t, msg, "2024-05-01T10:00:00Z")
	assert.Contains(t, msg, "manual reset")

	// Без капитала строка не выводится
	msg = f.FormatTrigger(domain.TriggerRecord{BreakerType: domain.BreakerRollingWinRate, ThresholdValue: 40})
	assert.NotContains(t, msg, "Capital")
}

func TestFormatter_FormatStatus(t *testing.T) {
	f := NewFormatter(LangEN)
	msg := f.FormatStatus(gate.Snapshot{
		SystemStatus: domain.SystemStatusHalted,
		KillSwitch:   gate.KillSwitchStatus{Active: true, Reason: "maintenance"},
		Drawdown:     breaker.DrawdownStatus{DrawdownPercent: 21, ThresholdPercent: 20, PeakCapital: 1000, IsBreached: true},
		WinRate: breaker.WinRateStatus{
			Snapshot:         breaker.WinRateSnapshot{WindowSize: 50, TradesInWindow: 10, WinRatePercent: 60},
			ThresholdPercent: 40,
		},
		Throttle:  breaker.ThrottleStatus{ConsecutiveLosses: 3, Threshold: 3, SizeMultiplier: 0.5, IsThrottled: true},
		Positions: admission.LimitStatus{CurrentPositions: 2, MaxPositions: 5, QueuedSignalsCount: 1},
	})

	assert.Contains(t, msg, "halted")
	assert.Contains(t, msg, "maintenance")
	assert.Contains(t, msg, "21.00% / 20.00%")
	assert.Contains(t, msg, "BREACHED")
	assert.Contains(t, msg, "(10/50 trades)")
	assert.Contains(t, msg, "x0.50 (throttled)")
	assert.Contains(t, msg, "2 / 5, queued 1")
}

func TestFormatter_FormatQueue(t *testing.T) {
	f := NewFormatter(LangEN)
	assert.Contains(t, f.FormatQueue(admission.QueueStatus{}), "Queue is empty")

	q := admission.QueueStatus{QueueLength: 1, MaxQueueSize: 10, Signals: []admission.QueueEntry{
		{QueuedSignal: domain.QueuedSignal{SignalID: "sig-1"}, Position: 1, SecondsRemaining: 125},
	}}
	msg := f.FormatQueue(q)
	assert.Contains(t, msg, "(1/10)")
	assert.Contains(t, msg, "1. `sig-1` expires in 2m")
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{-time.Second, "0s"},
		{45 * time.Second, "45s"},
		{5 * time.Minute, "5m"},
		{90 * time.Minute, "1h 30m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.d))
	}
}

func TestSplitMessage(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitMessage("short", 10))
	assert.Equal(t, []string{"aaaa\nbbbb", "cccc"}, splitMessage("aaaa\nbbbb\ncccc", 10))
}
