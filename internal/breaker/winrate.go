package breaker

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/kirillm/riskgate/internal/config"
	"github.com/kirillm/riskgate/internal/domain"
	"github.com/kirillm/riskgate/internal/monitoring"
	"github.com/kirillm/riskgate/pkg/utils"
)

// WinRateSnapshot статистика по текущему окну
type WinRateSnapshot struct {
	WindowSize     int     `json:"window_size"`
	TradesInWindow int     `json:"trades_in_window"`
	WinningTrades  int     `json:"winning_trades"`
	LosingTrades   int     `json:"losing_trades"`
	WinRatePercent float64 `json:"win_rate_percent"`
}

// WinRateResult результат проверки win rate
type WinRateResult struct {
	Snapshot      WinRateSnapshot       `json:"snapshot"`
	IsBreached    bool                  `json:"is_breached"`
	IsCaution     bool                  `json:"is_caution"`
	Trigger       *domain.TriggerRecord `json:"trigger,omitempty"` // только при новом срабатывании
	ActiveTrigger *domain.TriggerRecord `json:"active_trigger,omitempty"`
	Message       string                `json:"message"`
}

// WinRateStatus снимок состояния предохранителя
type WinRateStatus struct {
	Snapshot         WinRateSnapshot       `json:"snapshot"`
	ThresholdPercent float64               `json:"threshold"`
	MinimumTrades    int                   `json:"minimum_trades"`
	IsBreached       bool                  `json:"is_breached"`
	ActiveTrigger    *domain.TriggerRecord `json:"active_trigger"`
}

// TradeAnalysis диагностика последних сделок в окне
type TradeAnalysis struct {
	TotalTrades        int     `json:"total_trades"`
	CurrentStreak      int     `json:"current_streak"`
	StreakType         string  `json:"streak_type"` // win, loss, none
	AvgWinPercent      float64 `json:"avg_win_percent"`
	AvgLossPercent     float64 `json:"avg_loss_percent"`
	ProfitFactor       float64 `json:"profit_factor"`
	LargestWinPercent  float64 `json:"largest_win_percent"`
	LargestLossPercent float64 `json:"largest_loss_percent"`
}

// WinRateBreaker останавливает торговлю при низком win rate в скользящем окне
type WinRateBreaker struct {
	mu       sync.Mutex
	cfg      domain.WinRateConfig
	store    Store
	window   *Window
	triggers *triggerBook
	logger   *utils.Logger
	now      func() time.Time
}

// NewWinRateBreaker создает предохранитель по win rate
func NewWinRateBreaker(cfg domain.WinRateConfig, store Store, logger *utils.Logger, notifier Notifier) *WinRateBreaker {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	logger = logger.Named("winrate")
	return &WinRateBreaker{
		cfg:    cfg,
		store:  store,
		window: NewWindow(cfg.WindowSize),
		triggers: &triggerBook{
			breakerType: domain.BreakerRollingWinRate,
			store:       store,
			notifier:    notifier,
			logger:      logger,
		},
		logger: logger,
		now:    time.Now,
	}
}

// Initialize восстанавливает конфигурацию, окно сделок и активный триггер из хранилища
func (b *WinRateBreaker) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var cfg domain.WinRateConfig
	found, err := config.LoadBlob(ctx, b.store, domain.ConfigKeyWinRate, &cfg)
	if err != nil {
		return persistenceErr("load win rate config", err)
	}
	if found {
		b.cfg = cfg
	}
	if err := ValidateWinRateConfig(b.cfg); err != nil {
		return fmt.Errorf("win rate config: %w", err)
	}

	var since time.Time
	raw, err := b.store.GetConfigParam(ctx, domain.StateKeyWinRateHistoryClears)
	if err != nil {
		return persistenceErr("load history marker", err)
	}
	if raw != "" {
		if since, err = time.Parse(time.RFC3339Nano, raw); err != nil {
			return fmt.Errorf("invalid history marker %q: %w", raw, err)
		}
	}

	recent, err := b.store.GetRecentTradeOutcomes(ctx, since, b.cfg.WindowSize)
	if err != nil {
		return persistenceErr("load trade history", err)
	}
	window := NewWindow(b.cfg.WindowSize)
	for i := len(recent) - 1; i >= 0; i-- {
		window.Push(recent[i])
	}
	b.window = window

	if err := b.triggers.load(ctx); err != nil {
		return err
	}

	b.logger.Info("initialized: %d/%d trades, breached=%v", window.Len(), window.Cap(), b.triggers.isActive())
	return nil
}

// AddTrade сохраняет результат сделки и добавляет его в окно.
// Повторный вызов с trade_id, который уже есть в окне, ничего не меняет.
func (b *WinRateBreaker) AddTrade(ctx context.Context, outcome domain.TradeOutcome) error {
	if outcome.TradeID == "" {
		return fmt.Errorf("%w: trade_id is required", domain.ErrInvalidInput)
	}
	if outcome.ClosedAt.IsZero() {
		outcome.ClosedAt = b.now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.window.Contains(outcome.TradeID) {
		b.logger.Debug("trade %s already recorded, skipping", outcome.TradeID)
		return nil
	}
	if err := b.store.SaveTradeOutcome(ctx, &outcome); err != nil {
		return persistenceErr("save trade outcome", err)
	}
	b.window.Push(outcome)
	return nil
}

// Snapshot считает статистику по текущему окну
func (b *WinRateBreaker) Snapshot() WinRateSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshot()
}

func (b *WinRateBreaker) snapshot() WinRateSnapshot {
	snap := WinRateSnapshot{
		WindowSize:     b.window.Cap(),
		TradesInWindow: b.window.Len(),
	}
	for _, o := range b.window.Items() {
		if o.IsWin {
			snap.WinningTrades++
		} else {
			snap.LosingTrades++
		}
	}
	if snap.TradesInWindow > 0 {
		snap.WinRatePercent = float64(snap.WinningTrades) * 100 / float64(snap.TradesInWindow)
	}
	return snap
}

// CheckWinRate проверяет win rate. При недостатке сделок возвращает только caution.
// Триггер создается один раз за эпизод и держится до ручного сброса.
func (b *WinRateBreaker) CheckWinRate(ctx context.Context) (WinRateResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := b.snapshot()
	monitoring.UpdateWinRate(snap.WinRatePercent)

	result := WinRateResult{Snapshot: snap}

	if snap.TradesInWindow < b.cfg.MinimumTrades {
		result.IsCaution = b.cfg.EnableCautionFlag
		result.ActiveTrigger = b.triggers.snapshot()
		result.Message = fmt.Sprintf("insufficient trades for win rate check: %d/%d", snap.TradesInWindow, b.cfg.MinimumTrades)
		return result, nil
	}

	if b.below(snap.WinRatePercent) {
		rec, err := b.triggers.trip(ctx, b.cfg.ThresholdPercent, snap.WinRatePercent, 0, b.now())
		if err != nil {
			return WinRateResult{}, err
		}
		result.Trigger = rec
	}

	result.IsBreached = b.triggers.isActive()
	result.ActiveTrigger = b.triggers.snapshot()

	switch {
	case result.IsBreached && b.below(snap.WinRatePercent):
		result.Message = fmt.Sprintf("win rate %.2f%% below threshold %.2f%%", snap.WinRatePercent, b.cfg.ThresholdPercent)
	case result.IsBreached:
		result.Message = fmt.Sprintf("win rate %.2f%% recovered, breaker awaits manual reset", snap.WinRatePercent)
	default:
		result.Message = fmt.Sprintf("win rate %.2f%% within limits", snap.WinRatePercent)
	}
	return result, nil
}

// AnalyzeRecentTrades считает серии и средние по окну
func (b *WinRateBreaker) AnalyzeRecentTrades() TradeAnalysis {
	b.mu.Lock()
	items := b.window.Items()
	b.mu.Unlock()

	return analyzeTrades(items)
}

func analyzeTrades(items []domain.TradeOutcome) TradeAnalysis {
	analysis := TradeAnalysis{TotalTrades: len(items), StreakType: "none"}
	if len(items) == 0 {
		return analysis
	}

	last := items[len(items)-1].IsWin
	for i := len(items) - 1; i >= 0 && items[i].IsWin == last; i-- {
		analysis.CurrentStreak++
	}
	if last {
		analysis.StreakType = "win"
	} else {
		analysis.StreakType = "loss"
	}

	var sumWins, sumLosses float64
	var wins, losses int
	for _, o := range items {
		if o.IsWin {
			wins++
			sumWins += o.PnLPercent
			analysis.LargestWinPercent = math.Max(analysis.LargestWinPercent, o.PnLPercent)
		} else {
			losses++
			sumLosses += o.PnLPercent
			analysis.LargestLossPercent = math.Min(analysis.LargestLossPercent, o.PnLPercent)
		}
	}
	if wins > 0 {
		analysis.AvgWinPercent = sumWins / float64(wins)
	}
	if losses > 0 {
		analysis.AvgLossPercent = sumLosses / float64(losses)
	}

	switch {
	case sumLosses != 0:
		analysis.ProfitFactor = sumWins / math.Abs(sumLosses)
	case sumWins > 0:
		analysis.ProfitFactor = domain.ProfitFactorNoLosses
	}
	return analysis
}

// Reset сбрасывает активный триггер; clearHistory дополнительно очищает окно
func (b *WinRateBreaker) Reset(ctx context.Context, operatorID string, clearHistory bool) error {
	if operatorID == "" {
		return domain.ErrOperatorRequired
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if err := b.triggers.resolve(ctx, operatorID, now); err != nil {
		return err
	}
	if clearHistory {
		// Метка нужна, чтобы очищенная история не вернулась при следующем Initialize
		if err := b.store.SetConfigParam(ctx, domain.StateKeyWinRateHistoryClears, now.UTC().Format(time.RFC3339Nano)); err != nil {
			return persistenceErr("save history marker", err)
		}
		b.window.Clear()
		b.logger.Info("trade history cleared by %s", operatorID)
	}
	return nil
}

// Status возвращает текущий снимок состояния
func (b *WinRateBreaker) Status() WinRateStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	return WinRateStatus{
		Snapshot:         b.snapshot(),
		ThresholdPercent: b.cfg.ThresholdPercent,
		MinimumTrades:    b.cfg.MinimumTrades,
		IsBreached:       b.triggers.isActive(),
		ActiveTrigger:    b.triggers.snapshot(),
	}
}

// Config возвращает текущую конфигурацию
func (b *WinRateBreaker) Config() domain.WinRateConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg
}

// UpdateConfig заменяет конфигурацию целиком. При смене window_size окно
// пересобирается из самых свежих сделок под тем же мьютексом, что и AddTrade.
func (b *WinRateBreaker) UpdateConfig(ctx context.Context, cfg domain.WinRateConfig) error {
	if err := ValidateWinRateConfig(cfg); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := config.SaveBlob(ctx, b.store, domain.ConfigKeyWinRate, cfg); err != nil {
		return persistenceErr("save win rate config", err)
	}
	if cfg.WindowSize != b.window.Cap() {
		b.window = b.window.Resized(cfg.WindowSize)
		b.logger.Info("window resized to %d, kept %d trades", cfg.WindowSize, b.window.Len())
	}
	b.cfg = cfg
	return nil
}

// ResetState очищает состояние в памяти (тесты и обслуживание), хранилище не трогает
func (b *WinRateBreaker) ResetState() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.window = NewWindow(b.cfg.WindowSize)
	b.triggers.active = nil
}

// ValidateWinRateConfig проверяет настройки
func ValidateWinRateConfig(cfg domain.WinRateConfig) error {
	return cfg.Validate()
}

func (b *WinRateBreaker) below(winRate float64) bool {
	if b.cfg.BreachInclusive {
		return winRate <= b.cfg.ThresholdPercent
	}
	return winRate < b.cfg.ThresholdPercent
}
