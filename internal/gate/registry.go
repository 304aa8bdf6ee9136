package gate

import (
	"context"
	"fmt"
	"sync"

	"github.com/kirillm/riskgate/internal/admission"
	"github.com/kirillm/riskgate/internal/breaker"
	"github.com/kirillm/riskgate/internal/domain"
	"github.com/kirillm/riskgate/pkg/utils"
)

// Store хранилище, общее для всех компонентов реестра
type Store interface {
	breaker.Store
	admission.Store
}

// Options конфигурация компонентов реестра
type Options struct {
	Drawdown      domain.DrawdownConfig
	WinRate       domain.WinRateConfig
	Throttle      domain.ThrottleConfig
	PositionLimit domain.PositionLimitConfig
	Dispatcher    admission.DispatcherConfig
	Counter       admission.PositionCounter // может быть nil
	Notifier      breaker.Notifier          // может быть nil
}

// DefaultOptions дефолтная конфигурация
func DefaultOptions() Options {
	return Options{
		Drawdown:      domain.DefaultDrawdownConfig(),
		WinRate:       domain.DefaultWinRateConfig(),
		Throttle:      domain.DefaultThrottleConfig(),
		PositionLimit: domain.DefaultPositionLimitConfig(),
		Dispatcher:    admission.DefaultDispatcherConfig(),
	}
}

// Registry владеет единственными экземплярами предохранителей и контроллера допуска.
// Создается один раз при старте и передается потребителям по указателю.
type Registry struct {
	Drawdown   *breaker.DrawdownBreaker
	WinRate    *breaker.WinRateBreaker
	Throttle   *breaker.LossThrottle
	Positions  *admission.Controller
	Dispatcher *admission.Dispatcher
	KillSwitch *KillSwitch

	store  Store
	logger *utils.Logger

	statusMu sync.Mutex
	status   string
}

// NewRegistry собирает все компоненты поверх одного хранилища
func NewRegistry(store Store, opts Options, logger *utils.Logger) *Registry {
	dispatcher := admission.NewDispatcher(opts.Dispatcher, store, logger)
	return &Registry{
		Drawdown:   breaker.NewDrawdownBreaker(opts.Drawdown, store, logger, opts.Notifier),
		WinRate:    breaker.NewWinRateBreaker(opts.WinRate, store, logger, opts.Notifier),
		Throttle:   breaker.NewLossThrottle(opts.Throttle, store, logger),
		Positions:  admission.NewController(opts.PositionLimit, store, opts.Counter, dispatcher, logger),
		Dispatcher: dispatcher,
		KillSwitch: NewKillSwitch(store, logger),
		store:      store,
		logger:     logger.Named("registry"),
	}
}

// Initialize восстанавливает состояние всех компонентов из хранилища
func (r *Registry) Initialize(ctx context.Context) error {
	if err := r.Drawdown.Initialize(ctx); err != nil {
		return fmt.Errorf("drawdown breaker: %w", err)
	}
	if err := r.WinRate.Initialize(ctx); err != nil {
		return fmt.Errorf("win rate breaker: %w", err)
	}
	if err := r.Throttle.Initialize(ctx); err != nil {
		return fmt.Errorf("loss throttle: %w", err)
	}
	if err := r.Positions.Initialize(ctx); err != nil {
		return fmt.Errorf("admission controller: %w", err)
	}
	if err := r.KillSwitch.restore(ctx); err != nil {
		return err
	}
	if err := r.SyncSystemStatus(ctx); err != nil {
		return err
	}

	r.logger.Info("risk gate initialized, system status: %s", r.SystemStatus())
	return nil
}

// Reset сбрасывает все предохранители, throttle, очередь и kill switch
func (r *Registry) Reset(ctx context.Context, operatorID string) error {
	if operatorID == "" {
		return domain.ErrOperatorRequired
	}
	if err := r.Drawdown.Reset(ctx, operatorID, nil); err != nil {
		return fmt.Errorf("drawdown breaker: %w", err)
	}
	if err := r.WinRate.Reset(ctx, operatorID, false); err != nil {
		return fmt.Errorf("win rate breaker: %w", err)
	}
	if err := r.Throttle.ManualReset(ctx, operatorID); err != nil {
		return fmt.Errorf("loss throttle: %w", err)
	}
	if err := r.Positions.Reset(ctx); err != nil {
		return fmt.Errorf("admission controller: %w", err)
	}
	if err := r.KillSwitch.Deactivate(ctx, operatorID); err != nil {
		return err
	}
	return r.SyncSystemStatus(ctx)
}

// Snapshot сводное состояние всех компонентов
type Snapshot struct {
	SystemStatus string                 `json:"system_status"`
	KillSwitch   KillSwitchStatus       `json:"kill_switch"`
	Drawdown     breaker.DrawdownStatus `json:"capital_drawdown"`
	WinRate      breaker.WinRateStatus  `json:"rolling_win_rate"`
	Throttle     breaker.ThrottleStatus `json:"consecutive_loss"`
	Positions    admission.LimitStatus  `json:"position_limit"`
}

// Snapshot собирает текущее состояние без обращения к хранилищу
func (r *Registry) Snapshot() Snapshot {
	return Snapshot{
		SystemStatus: r.SystemStatus(),
		KillSwitch:   r.KillSwitch.Status(),
		Drawdown:     r.Drawdown.Status(),
		WinRate:      r.WinRate.Status(),
		Throttle:     r.Throttle.Status(),
		Positions:    r.Positions.CheckCanOpen(),
	}
}

// Close останавливает воркеры исполнения
func (r *Registry) Close() {
	r.Dispatcher.Close()
}

// Halted сообщает, остановлена ли торговля жестким предохранителем или kill switch
func (r *Registry) Halted() bool {
	return r.KillSwitch.IsActive() || r.Drawdown.IsBreached() || r.WinRate.Status().IsBreached
}

// SyncSystemStatus записывает system_status, если он изменился
func (r *Registry) SyncSystemStatus(ctx context.Context) error {
	next := domain.SystemStatusTrading
	if r.Halted() {
		next = domain.SystemStatusHalted
	}

	r.statusMu.Lock()
	defer r.statusMu.Unlock()

	if next == r.status {
		return nil
	}
	if err := r.store.SetConfigParam(ctx, domain.SystemStatusKey, next); err != nil {
		return fmt.Errorf("save system status: %w: %w", domain.ErrPersistence, err)
	}
	if r.status != "" {
		r.logger.Warn("system status changed: %s -> %s", r.status, next)
	}
	r.status = next
	return nil
}

// SystemStatus последний записанный system_status
func (r *Registry) SystemStatus() string {
	r.statusMu.Lock()
	defer r.statusMu.Unlock()
	return r.status
}
