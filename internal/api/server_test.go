package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kirillm/riskgate/internal/admission"
	"github.com/kirillm/riskgate/internal/breaker"
	"github.com/kirillm/riskgate/internal/domain"
	"github.com/kirillm/riskgate/internal/gate"
	"github.com/kirillm/riskgate/internal/storage"
	"github.com/kirillm/riskgate/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func newTestServer(t *testing.T) (http.Handler, *storage.MemoryStorage, *gate.Registry) {
	t.Helper()
	logger := utils.NewLoggerTo(io.Discard, "error")
	store := storage.NewMemoryStorage()

	opts := gate.DefaultOptions()
	opts.PositionLimit = domain.PositionLimitConfig{MaxPositions: 1, EnableQueue: true, MaxQueueSize: 5, QueueExpiryMinutes: 30}
	reg := gate.NewRegistry(store, opts, logger)
	t.Cleanup(reg.Close)
	require.NoError(t, reg.Initialize(context.Background()))

	return NewServer(logger, gate.New(reg, logger), 0).Handler(), store, reg
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func decodeData(t *testing.T, env envelope, v interface{}) {
	t.Helper()
	require.True(t, env.Success, env.Error)
	require.NoError(t, json.Unmarshal(env.Data, v))
}

func TestServer_MethodAndBodyChecks(t *testing.T) {
	h, _, _ := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		code   int
	}{
		{"health ok", http.MethodGet, "/health", nil, http.StatusOK},
		{"health wrong method", http.MethodPost, "/health", nil, http.StatusMethodNotAllowed},
		{"check wrong method", http.MethodGet, "/breakers/drawdown/check", nil, http.StatusMethodNotAllowed},
		{"check without capital", http.MethodPost, "/breakers/drawdown/check", map[string]interface{}{}, http.StatusBadRequest},
		{"check negative capital", http.MethodPost, "/breakers/drawdown/check", map[string]interface{}{"current_capital": -1}, http.StatusBadRequest},
		{"drawdown reset without operator", http.MethodPost, "/breakers/drawdown/reset", map[string]interface{}{}, http.StatusBadRequest},
		{"winrate reset without operator", http.MethodPost, "/breakers/winrate/reset", map[string]interface{}{"clear_history": true}, http.StatusBadRequest},
		{"throttle reset without operator", http.MethodPost, "/breakers/throttle/reset", map[string]interface{}{}, http.StatusBadRequest},
		{"trade without id", http.MethodPost, "/breakers/winrate/trades", map[string]interface{}{"is_win": true}, http.StatusBadRequest},
		{"request without signal", http.MethodPost, "/positions/request", map[string]interface{}{}, http.StatusBadRequest},
		{"closed without position", http.MethodPost, "/positions/closed", map[string]interface{}{}, http.StatusBadRequest},
		{"cancel without id", http.MethodDelete, "/positions/queue/", nil, http.StatusBadRequest},
		{"evaluate without signal", http.MethodPost, "/signals/evaluate", map[string]interface{}{"base_size": 10}, http.StatusBadRequest},
		{"halt without operator", http.MethodPost, "/system/halt", map[string]interface{}{"reason": "x"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := do(t, h, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.code == http.StatusOK, env.Success)
		})
	}
}

func TestServer_InvalidJSON(t *testing.T) {
	h, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/signals/evaluate", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid request body")
}

func TestServer_DrawdownBreachAndReset(t *testing.T) {
	h, _, reg := newTestServer(t)

	code, _ := do(t, h, http.MethodPost, "/breakers/drawdown/check", map[string]interface{}{"current_capital": 1000})
	require.Equal(t, http.StatusOK, code)

	code, env := do(t, h, http.MethodPost, "/breakers/drawdown/check", map[string]interface{}{"current_capital": 750})
	require.Equal(t, http.StatusOK, code)
	var result breaker.DrawdownResult
	decodeData(t, env, &result)
	assert.True(t, result.IsBreached)
	assert.InDelta(t, 25.0, result.DrawdownPercent, 1e-9)
	require.NotNil(t, result.Trigger)
	assert.Equal(t, domain.SystemStatusHalted, reg.SystemStatus())

	// Жесткий предохранитель блокирует сигнал, очередь не трогается
	_, env = do(t, h, http.MethodPost, "/signals/evaluate", map[string]interface{}{"signal_id": "s1", "base_size": 100})
	var verdict gate.Verdict
	decodeData(t, env, &verdict)
	assert.Equal(t, gate.ActionBlock, verdict.Action)
	assert.Equal(t, domain.BreakerCapitalDrawdown, verdict.BlockedBy)
	assert.Equal(t, 0, reg.Positions.CheckCanOpen().CurrentPositions)

	code, env = do(t, h, http.MethodPost, "/breakers/drawdown/reset", map[string]interface{}{"operator_id": "ops", "new_peak": 750})
	require.Equal(t, http.StatusOK, code)
	var status breaker.DrawdownStatus
	decodeData(t, env, &status)
	assert.False(t, status.IsBreached)
	assert.Nil(t, status.ActiveTrigger)
	assert.Equal(t, 750.0, status.PeakCapital)
	assert.Equal(t, domain.SystemStatusTrading, reg.SystemStatus())

	_, env = do(t, h, http.MethodGet, "/status", nil)
	var snap gate.Snapshot
	decodeData(t, env, &snap)
	assert.Equal(t, domain.SystemStatusTrading, snap.SystemStatus)
}

func TestServer_PositionsQueueFlow(t *testing.T) {
	h, store, _ := newTestServer(t)

	_, env := do(t, h, http.MethodPost, "/positions/request", map[string]interface{}{"signal_id": "s1"})
	var d admission.Decision
	decodeData(t, env, &d)
	assert.Equal(t, admission.OutcomeAllowed, d.Outcome)

	for i, id := range []string{"s2", "s3"} {
		_, env = do(t, h, http.MethodPost, "/positions/request", map[string]interface{}{"signal_id": id, "signal_data": map[string]interface{}{"token": "abc"}})
		decodeData(t, env, &d)
		assert.Equal(t, admission.OutcomeQueued, d.Outcome)
		assert.Equal(t, i+1, d.QueuePosition)
	}

	code, _ := do(t, h, http.MethodDelete, "/positions/queue/s3", nil)
	assert.Equal(t, http.StatusOK, code)
	code, env = do(t, h, http.MethodDelete, "/positions/queue/s3", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.False(t, env.Success)

	_, env = do(t, h, http.MethodGet, "/positions/queue", nil)
	var q admission.QueueStatus
	decodeData(t, env, &q)
	require.Equal(t, 1, q.QueueLength)
	assert.Equal(t, "s2", q.Signals[0].SignalID)

	_, env = do(t, h, http.MethodPost, "/positions/closed", map[string]interface{}{"position_id": "p1"})
	var closed struct {
		Dequeued *domain.QueuedSignal  `json:"dequeued_signal"`
		Limit    admission.LimitStatus `json:"limit"`
	}
	decodeData(t, env, &closed)
	require.NotNil(t, closed.Dequeued)
	assert.Equal(t, "s2", closed.Dequeued.SignalID)
	assert.Equal(t, domain.QueueStatusExecuted, closed.Dequeued.Status)
	assert.Equal(t, 1, closed.Limit.CurrentPositions)
	require.Len(t, store.SlotEvents(), 1)
	assert.Equal(t, "p1", store.SlotEvents()[0].PositionID)
}

func TestServer_ConfigPartialUpdate(t *testing.T) {
	h, _, reg := newTestServer(t)

	code, env := do(t, h, http.MethodPut, "/breakers/drawdown/config", map[string]interface{}{"threshold_percent": 30})
	require.Equal(t, http.StatusOK, code)
	var cfg domain.DrawdownConfig
	decodeData(t, env, &cfg)
	assert.Equal(t, 30.0, cfg.ThresholdPercent)
	assert.True(t, cfg.BreachInclusive)

	code, _ = do(t, h, http.MethodPut, "/breakers/drawdown/config", map[string]interface{}{"threshold_percent": 0})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, 30.0, reg.Drawdown.Config().ThresholdPercent)

	code, _ = do(t, h, http.MethodPut, "/positions/config", map[string]interface{}{"max_positions": 3})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 3, reg.Positions.Config().MaxPositions)
	assert.Equal(t, 5, reg.Positions.Config().MaxQueueSize)

	code, _ = do(t, h, http.MethodPut, "/breakers/throttle/config", map[string]interface{}{"size_reduction_factor": 0.25})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 0.25, reg.Throttle.Config().SizeReductionFactor)

	code, _ = do(t, h, http.MethodGet, "/breakers/winrate/config", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestServer_TradesFeedWinRateAndThrottle(t *testing.T) {
	h, _, reg := newTestServer(t)

	for _, id := range []string{"t1", "t2", "t3"} {
		code, _ := do(t, h, http.MethodPost, "/breakers/winrate/trades", map[string]interface{}{"trade_id": id, "is_win": false, "pnl_percent": -2})
		require.Equal(t, http.StatusOK, code)
	}

	_, env := do(t, h, http.MethodGet, "/breakers/winrate/analysis", nil)
	var analysis breaker.TradeAnalysis
	decodeData(t, env, &analysis)
	assert.Equal(t, 3, analysis.TotalTrades)
	assert.Equal(t, "loss", analysis.StreakType)
	assert.Equal(t, 3, analysis.CurrentStreak)

	// Меньше минимума сделок: только caution
	_, env = do(t, h, http.MethodPost, "/breakers/winrate/check", nil)
	var wr breaker.WinRateResult
	decodeData(t, env, &wr)
	assert.False(t, wr.IsBreached)
	assert.True(t, wr.IsCaution)

	assert.True(t, reg.Throttle.Status().IsThrottled)
	_, env = do(t, h, http.MethodPost, "/signals/evaluate", map[string]interface{}{"signal_id": "s1", "base_size": 100})
	var verdict gate.Verdict
	decodeData(t, env, &verdict)
	assert.Equal(t, gate.ActionAdmit, verdict.Action)
	assert.Equal(t, 50.0, verdict.AdjustedSize)

	code, _ := do(t, h, http.MethodPost, "/breakers/throttle/reset", map[string]interface{}{"operator_id": "ops"})
	require.Equal(t, http.StatusOK, code)
	assert.False(t, reg.Throttle.Status().IsThrottled)
}

func TestServer_HaltAndResume(t *testing.T) {
	h, _, reg := newTestServer(t)

	code, _ := do(t, h, http.MethodPost, "/system/halt", map[string]interface{}{"operator_id": "ops", "reason": "maintenance"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, domain.SystemStatusHalted, reg.SystemStatus())

	_, env := do(t, h, http.MethodPost, "/signals/evaluate", map[string]interface{}{"signal_id": "s1", "base_size": 1})
	var verdict gate.Verdict
	decodeData(t, env, &verdict)
	assert.Equal(t, gate.ActionBlock, verdict.Action)

	code, _ = do(t, h, http.MethodPost, "/system/resume", map[string]interface{}{"operator_id": "ops"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, domain.SystemStatusTrading, reg.SystemStatus())
}

func TestServer_EvaluateFailsClosed(t *testing.T) {
	h, store, _ := newTestServer(t)
	store.SetFailure(errors.New("connection refused"))

	code, env := do(t, h, http.MethodPost, "/signals/evaluate", map[string]interface{}{"signal_id": "s1", "base_size": 100, "current_capital": 5000})
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.False(t, env.Success)
	assert.Contains(t, env.Error, "signal blocked")
}
