package breaker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/kirillm/riskgate/internal/config"
	"github.com/kirillm/riskgate/internal/domain"
	"github.com/kirillm/riskgate/internal/monitoring"
	"github.com/kirillm/riskgate/pkg/utils"
)

// DrawdownResult результат проверки просадки
type DrawdownResult struct {
	CurrentCapital   float64               `json:"current_capital"`
	PeakCapital      float64               `json:"peak_capital"`
	DrawdownPercent  float64               `json:"drawdown_percent"`
	ThresholdPercent float64               `json:"threshold_percent"`
	IsBreached       bool                  `json:"is_breached"`
	Trigger          *domain.TriggerRecord `json:"trigger,omitempty"` // только при новом срабатывании
}

// DrawdownStatus снимок состояния предохранителя
type DrawdownStatus struct {
	CurrentCapital   float64               `json:"current"`
	PeakCapital      float64               `json:"peak_capital"`
	DrawdownPercent  float64               `json:"drawdown_percent"`
	ThresholdPercent float64               `json:"threshold"`
	IsBreached       bool                  `json:"is_breached"`
	ActiveTrigger    *domain.TriggerRecord `json:"active_trigger"`
}

// DrawdownBreaker останавливает торговлю при просадке капитала от пика.
// Пик монотонно растет; сброс только ручной.
type DrawdownBreaker struct {
	mu       sync.Mutex
	cfg      domain.DrawdownConfig
	store    Store
	triggers *triggerBook
	logger   *utils.Logger
	now      func() time.Time

	peak    float64
	current float64
}

// NewDrawdownBreaker создает предохранитель по просадке
func NewDrawdownBreaker(cfg domain.DrawdownConfig, store Store, logger *utils.Logger, notifier Notifier) *DrawdownBreaker {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	logger = logger.Named("drawdown")
	return &DrawdownBreaker{
		cfg:   cfg,
		store: store,
		triggers: &triggerBook{
			breakerType: domain.BreakerCapitalDrawdown,
			store:       store,
			notifier:    notifier,
			logger:      logger,
		},
		logger: logger,
		now:    time.Now,
	}
}

// Initialize восстанавливает конфигурацию, пик капитала и активный триггер из хранилища
func (b *DrawdownBreaker) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var cfg domain.DrawdownConfig
	found, err := config.LoadBlob(ctx, b.store, domain.ConfigKeyDrawdown, &cfg)
	if err != nil {
		return persistenceErr("load drawdown config", err)
	}
	if found {
		b.cfg = cfg
	}
	if err := ValidateDrawdownConfig(b.cfg); err != nil {
		return fmt.Errorf("drawdown config: %w", err)
	}

	raw, err := b.store.GetConfigParam(ctx, domain.StateKeyDrawdownPeak)
	if err != nil {
		return persistenceErr("load peak capital", err)
	}
	if raw != "" {
		peak, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("invalid stored peak capital %q: %w", raw, err)
		}
		b.peak = peak
		b.current = peak
	}

	if err := b.triggers.load(ctx); err != nil {
		return err
	}
	if b.triggers.isActive() {
		b.current = b.triggers.active.CapitalSnapshot
	}

	b.logger.Info("initialized: peak=%.2f threshold=%.2f%% breached=%v", b.peak, b.cfg.ThresholdPercent, b.triggers.isActive())
	return nil
}

// CheckDrawdown обновляет пик и текущий капитал и проверяет порог.
// Повторное превышение при активном триггере не создает новую запись.
func (b *DrawdownBreaker) CheckDrawdown(ctx context.Context, currentCapital float64) (DrawdownResult, error) {
	if currentCapital < 0 {
		return DrawdownResult{}, fmt.Errorf("%w: current capital must be non-negative", domain.ErrInvalidInput)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if currentCapital > b.peak {
		if err := b.savePeak(ctx, currentCapital); err != nil {
			return DrawdownResult{}, err
		}
		b.peak = currentCapital
	}
	b.current = currentCapital

	drawdown := b.drawdownPercent()
	monitoring.UpdateDrawdown(drawdown)

	result := DrawdownResult{
		CurrentCapital:   b.current,
		PeakCapital:      b.peak,
		DrawdownPercent:  drawdown,
		ThresholdPercent: b.cfg.ThresholdPercent,
	}

	if b.exceeds(drawdown) {
		rec, err := b.triggers.trip(ctx, b.cfg.ThresholdPercent, drawdown, currentCapital, b.now())
		if err != nil {
			return DrawdownResult{}, err
		}
		result.Trigger = rec
	}
	result.IsBreached = b.triggers.isActive()

	return result, nil
}

// Reset сбрасывает активный триггер. newPeak, если задан, становится новым пиком.
func (b *DrawdownBreaker) Reset(ctx context.Context, operatorID string, newPeak *float64) error {
	if operatorID == "" {
		return domain.ErrOperatorRequired
	}
	if newPeak != nil && *newPeak < 0 {
		return fmt.Errorf("%w: new peak must be non-negative", domain.ErrInvalidInput)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.triggers.resolve(ctx, operatorID, b.now()); err != nil {
		return err
	}
	if newPeak != nil {
		if err := b.savePeak(ctx, *newPeak); err != nil {
			return err
		}
		b.peak = *newPeak
		b.logger.Info("peak capital reassigned to %.2f by %s", *newPeak, operatorID)
	}
	monitoring.UpdateDrawdown(b.drawdownPercent())
	return nil
}

// Status возвращает текущий снимок состояния
func (b *DrawdownBreaker) Status() DrawdownStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	return DrawdownStatus{
		CurrentCapital:   b.current,
		PeakCapital:      b.peak,
		DrawdownPercent:  b.drawdownPercent(),
		ThresholdPercent: b.cfg.ThresholdPercent,
		IsBreached:       b.triggers.isActive(),
		ActiveTrigger:    b.triggers.snapshot(),
	}
}

// IsBreached сообщает, есть ли активный триггер
func (b *DrawdownBreaker) IsBreached() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.triggers.isActive()
}

// Config возвращает текущую конфигурацию
func (b *DrawdownBreaker) Config() domain.DrawdownConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg
}

// UpdateConfig заменяет конфигурацию целиком
func (b *DrawdownBreaker) UpdateConfig(ctx context.Context, cfg domain.DrawdownConfig) error {
	if err := ValidateDrawdownConfig(cfg); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := config.SaveBlob(ctx, b.store, domain.ConfigKeyDrawdown, cfg); err != nil {
		return persistenceErr("save drawdown config", err)
	}
	b.cfg = cfg
	b.logger.Info("config updated: threshold=%.2f%% inclusive=%v", cfg.ThresholdPercent, cfg.BreachInclusive)
	return nil
}

// ResetState очищает состояние в памяти (тесты и обслуживание), хранилище не трогает
func (b *DrawdownBreaker) ResetState() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.peak = 0
	b.current = 0
	b.triggers.active = nil
}

// ValidateDrawdownConfig проверяет настройки
func ValidateDrawdownConfig(cfg domain.DrawdownConfig) error {
	return cfg.Validate()
}

func (b *DrawdownBreaker) drawdownPercent() float64 {
	if b.peak <= 0 {
		return 0
	}
	return (b.peak - b.current) * 100 / b.peak
}

func (b *DrawdownBreaker) exceeds(drawdown float64) bool {
	if b.cfg.BreachInclusive {
		return drawdown >= b.cfg.ThresholdPercent
	}
	return drawdown > b.cfg.ThresholdPercent
}

func (b *DrawdownBreaker) savePeak(ctx context.Context, peak float64) error {
	if err := b.store.SetConfigParam(ctx, domain.StateKeyDrawdownPeak, strconv.FormatFloat(peak, 'f', -1, 64)); err != nil {
		return persistenceErr("save peak capital", err)
	}
	return nil
}
