package breaker

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/kirillm/riskgate/internal/config"
	"github.com/kirillm/riskgate/internal/domain"
	"github.com/kirillm/riskgate/internal/monitoring"
	"github.com/kirillm/riskgate/pkg/utils"
)

// ThrottleStatus снимок состояния throttle
type ThrottleStatus struct {
	ConsecutiveLosses   int     `json:"current"`
	Threshold           int     `json:"threshold"`
	SizeReductionFactor float64 `json:"size_reduction_factor"`
	IsThrottled         bool    `json:"is_throttled"`
	SizeMultiplier      float64 `json:"size_multiplier"`
}

// LossThrottle уменьшает размер позиции после серии убытков.
// Никогда не блокирует допуск; серия обнуляется первой прибыльной сделкой.
type LossThrottle struct {
	mu     sync.Mutex
	cfg    domain.ThrottleConfig
	store  ParamStore
	logger *utils.Logger
	streak int
	// lastTrade последняя учтенная сделка; повтор того же trade_id не меняет серию
	lastTrade string
}

// NewLossThrottle создает throttle
func NewLossThrottle(cfg domain.ThrottleConfig, store ParamStore, logger *utils.Logger) *LossThrottle {
	return &LossThrottle{
		cfg:    cfg,
		store:  store,
		logger: logger.Named("throttle"),
	}
}

// Initialize восстанавливает конфигурацию и текущую серию
func (t *LossThrottle) Initialize(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var cfg domain.ThrottleConfig
	found, err := config.LoadBlob(ctx, t.store, domain.ConfigKeyThrottle, &cfg)
	if err != nil {
		return persistenceErr("load throttle config", err)
	}
	if found {
		t.cfg = cfg
	}
	if err := ValidateThrottleConfig(t.cfg); err != nil {
		return fmt.Errorf("throttle config: %w", err)
	}

	raw, err := t.store.GetConfigParam(ctx, domain.ConfigKeyThrottleStreak)
	if err != nil {
		return persistenceErr("load loss streak", err)
	}
	if raw != "" {
		streak, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid stored loss streak %q: %w", raw, err)
		}
		t.streak = streak
	}
	monitoring.UpdateLossStreak(t.streak)

	t.logger.Info("initialized: streak=%d threshold=%d", t.streak, t.cfg.ConsecutiveLossThreshold)
	return nil
}

// RecordOutcome обновляет серию убытков
func (t *LossThrottle) RecordOutcome(ctx context.Context, outcome domain.TradeOutcome) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if outcome.TradeID != "" && outcome.TradeID == t.lastTrade {
		return nil
	}

	next := 0
	if !outcome.IsWin {
		next = t.streak + 1
	}
	if err := t.saveStreak(ctx, next); err != nil {
		return err
	}

	wasThrottled := t.throttled()
	t.streak = next
	t.lastTrade = outcome.TradeID
	monitoring.UpdateLossStreak(next)

	switch {
	case !wasThrottled && t.throttled():
		t.logger.Warn("%d consecutive losses, position size x%.2f", next, t.cfg.SizeReductionFactor)
	case wasThrottled && !t.throttled():
		t.logger.Info("loss streak broken by %s, full size restored", outcome.TradeID)
	}
	return nil
}

// Multiplier возвращает множитель размера позиции
func (t *LossThrottle) Multiplier() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.multiplier()
}

// AdjustedSize применяет множитель к базовому размеру
func (t *LossThrottle) AdjustedSize(baseSize float64) float64 {
	return baseSize * t.Multiplier()
}

// ManualReset обнуляет серию
func (t *LossThrottle) ManualReset(ctx context.Context, operatorID string) error {
	if operatorID == "" {
		return domain.ErrOperatorRequired
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.saveStreak(ctx, 0); err != nil {
		return err
	}
	t.streak = 0
	monitoring.UpdateLossStreak(0)
	t.logger.Info("loss streak reset by %s", operatorID)
	return nil
}

// Status возвращает текущий снимок состояния
func (t *LossThrottle) Status() ThrottleStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	return ThrottleStatus{
		ConsecutiveLosses:   t.streak,
		Threshold:           t.cfg.ConsecutiveLossThreshold,
		SizeReductionFactor: t.cfg.SizeReductionFactor,
		IsThrottled:         t.throttled(),
		SizeMultiplier:      t.multiplier(),
	}
}

// Config возвращает текущую конфигурацию
func (t *LossThrottle) Config() domain.ThrottleConfig {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cfg
}

// UpdateConfig заменяет конфигурацию целиком
func (t *LossThrottle) UpdateConfig(ctx context.Context, cfg domain.ThrottleConfig) error {
	if err := ValidateThrottleConfig(cfg); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := config.SaveBlob(ctx, t.store, domain.ConfigKeyThrottle, cfg); err != nil {
		return persistenceErr("save throttle config", err)
	}
	t.cfg = cfg
	return nil
}

// ResetState очищает состояние в памяти
func (t *LossThrottle) ResetState() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.streak = 0
	t.lastTrade = ""
}

// ValidateThrottleConfig проверяет настройки
func ValidateThrottleConfig(cfg domain.ThrottleConfig) error {
	return cfg.Validate()
}

func (t *LossThrottle) throttled() bool {
	return t.streak >= t.cfg.ConsecutiveLossThreshold
}

func (t *LossThrottle) multiplier() float64 {
	if t.throttled() {
		return t.cfg.SizeReductionFactor
	}
	return 1.0
}

func (t *LossThrottle) saveStreak(ctx context.Context, streak int) error {
	if err := t.store.SetConfigParam(ctx, domain.ConfigKeyThrottleStreak, strconv.Itoa(streak)); err != nil {
		return persistenceErr("save loss streak", err)
	}
	return nil
}
