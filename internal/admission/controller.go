package admission

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillm/riskgate/internal/config"
	"github.com/kirillm/riskgate/internal/domain"
	"github.com/kirillm/riskgate/internal/monitoring"
	"github.com/kirillm/riskgate/pkg/utils"
)

// Store все, что нужно контроллеру от хранилища
type Store interface {
	SaveQueuedSignal(ctx context.Context, signal *domain.QueuedSignal) error
	UpdateQueuedSignalStatus(ctx context.Context, id, status string) error
	GetQueuedSignalsByStatus(ctx context.Context, status string) ([]domain.QueuedSignal, error)
	SaveBlockedSignal(ctx context.Context, signal *domain.BlockedSignal) error
	SaveSlotEvent(ctx context.Context, event *domain.SlotEvent) error
	config.ParamStore
	LogStore
}

// PositionCounter внешний источник числа открытых позиций
type PositionCounter interface {
	CountOpenPositions(ctx context.Context) (int, error)
}

// Outcome результат запроса слота
type Outcome string

const (
	OutcomeAllowed Outcome = "allowed"
	OutcomeQueued  Outcome = "queued"
	OutcomeBlocked Outcome = "blocked"
)

// Источники освобождения слота помимо закрытия позиции (SlotEvent.PositionID)
const (
	slotSourceSync    = "position_sync"
	slotSourceConfig  = "config_update"
	slotSourceRequest = "admission_request"
)

// Decision ответ RequestPosition
type Decision struct {
	Outcome        Outcome    `json:"outcome"`
	QueuePosition  int        `json:"queue_position,omitempty"` // 1-based
	QueuedSignalID string     `json:"queued_signal_id,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	Reason         string     `json:"reason,omitempty"`
}

// LimitStatus ответ CheckCanOpen
type LimitStatus struct {
	CurrentPositions   int    `json:"current_positions"`
	MaxPositions       int    `json:"max_positions"`
	CanOpen            bool   `json:"can_open"`
	SlotsAvailable     int    `json:"slots_available"`
	QueuedSignalsCount int    `json:"queued_signals_count"`
	Message            string `json:"message"`
}

// QueueEntry сигнал в очереди с позицией
type QueueEntry struct {
	domain.QueuedSignal
	Position         int `json:"position"`
	SecondsRemaining int `json:"seconds_remaining"`
}

// QueueStatus снимок очереди
type QueueStatus struct {
	QueueLength  int          `json:"queue_length"`
	MaxQueueSize int          `json:"max_queue_size"`
	EnableQueue  bool         `json:"enable_queue"`
	Signals      []QueueEntry `json:"signals"`
}

// Controller ограничивает число одновременно открытых позиций и ведет FIFO-очередь
// сигналов, ожидающих слот. Проверка лимита и выдача слота выполняются под одним
// мьютексом, поэтому параллельные запросы не превышают max_positions.
type Controller struct {
	mu         sync.Mutex
	cfg        domain.PositionLimitConfig
	store      Store
	counter    PositionCounter
	dispatcher *Dispatcher
	logger     *utils.Logger
	now        func() time.Time

	open  int
	queue []domain.QueuedSignal
}

// NewController создает контроллер. counter может быть nil: тогда счетчик
// открытых позиций ведется через RequestPosition/OnPositionClosed и сохраняется
// в хранилище под StateKeyOpenPositions.
func NewController(cfg domain.PositionLimitConfig, store Store, counter PositionCounter, dispatcher *Dispatcher, logger *utils.Logger) *Controller {
	return &Controller{
		cfg:        cfg,
		store:      store,
		counter:    counter,
		dispatcher: dispatcher,
		logger:     logger.Named("admission"),
		now:        time.Now,
	}
}

// Initialize восстанавливает конфигурацию, число открытых позиций и очередь.
// Просроченные pending-записи сразу помечаются expired.
func (c *Controller) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var cfg domain.PositionLimitConfig
	found, err := config.LoadBlob(ctx, c.store, domain.ConfigKeyPositionLimit, &cfg)
	if err != nil {
		return persistenceErr("load position limit config", err)
	}
	if found {
		c.cfg = cfg
	}
	if err := ValidateConfig(c.cfg); err != nil {
		return fmt.Errorf("position limit config: %w", err)
	}

	raw, err := c.store.GetConfigParam(ctx, domain.StateKeyOpenPositions)
	if err != nil {
		return persistenceErr("load open positions", err)
	}
	if raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid stored open positions %q: %w", raw, err)
		}
		if n > 0 {
			c.open = n
		}
	}
	// Внешний счетчик, если задан, важнее сохраненного значения
	if err := c.syncPositions(ctx); err != nil {
		return err
	}

	pending, err := c.store.GetQueuedSignalsByStatus(ctx, domain.QueueStatusPending)
	if err != nil {
		return persistenceErr("load pending signals", err)
	}

	now := c.now()
	queue := make([]domain.QueuedSignal, 0, len(pending))
	expired := 0
	for _, s := range pending {
		if s.IsExpired(now) {
			if err := c.setStatus(ctx, &s, domain.QueueStatusExpired); err != nil {
				return err
			}
			expired++
			continue
		}
		queue = append(queue, s)
	}
	c.queue = queue
	c.updateGauges()

	c.logger.Info("initialized: open=%d/%d queued=%d expired=%d", c.open, c.cfg.MaxPositions, len(queue), expired)
	return nil
}

// SyncPositions перечитывает число открытых позиций из внешнего источника.
// Освободившиеся слоты сразу отдаются сигналам из очереди.
func (c *Controller) SyncPositions(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.syncPositions(ctx); err != nil {
		return err
	}
	_, err := c.fillFreeSlots(ctx, slotSourceSync)
	c.persistOpen(ctx)
	c.updateGauges()
	return err
}

func (c *Controller) syncPositions(ctx context.Context) error {
	if c.counter == nil {
		return nil
	}
	n, err := c.counter.CountOpenPositions(ctx)
	if err != nil {
		return persistenceErr("count open positions", err)
	}
	if n < 0 {
		n = 0
	}
	c.open = n
	return nil
}

// SetExecuteCallback регистрирует колбэк для сигналов, извлеченных из очереди
func (c *Controller) SetExecuteCallback(fn ExecuteFunc) {
	if c.dispatcher == nil {
		c.logger.Warn("no dispatcher configured, execute callback ignored")
		return
	}
	c.dispatcher.SetCallback(fn)
}

// CheckCanOpen возвращает состояние лимита без изменения состояния
func (c *Controller) CheckCanOpen() LimitStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	slots := c.cfg.MaxPositions - c.open
	if slots < 0 {
		slots = 0
	}
	status := LimitStatus{
		CurrentPositions:   c.open,
		MaxPositions:       c.cfg.MaxPositions,
		CanOpen:            slots > 0,
		SlotsAvailable:     slots,
		QueuedSignalsCount: len(c.queue),
	}
	if status.CanOpen {
		status.Message = fmt.Sprintf("%d slot(s) available", slots)
	} else {
		status.Message = fmt.Sprintf("position limit reached (%d/%d)", c.open, c.cfg.MaxPositions)
	}
	return status
}

// RequestPosition выдает слот, ставит сигнал в очередь или блокирует его
func (c *Controller) RequestPosition(ctx context.Context, signalID string, signalData map[string]interface{}) (Decision, error) {
	if signalID == "" {
		return Decision{}, fmt.Errorf("%w: signal_id is required", domain.ErrInvalidInput)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Новый сигнал не обгоняет тех, кто уже ждет слот
	dequeued, err := c.fillFreeSlots(ctx, slotSourceRequest)
	if len(dequeued) > 0 {
		c.persistOpen(ctx)
	}
	if err != nil {
		c.updateGauges()
		return Decision{}, err
	}

	if c.open < c.cfg.MaxPositions {
		if err := c.saveOpen(ctx, c.open+1); err != nil {
			return Decision{}, err
		}
		c.open++
		c.updateGauges()
		return Decision{Outcome: OutcomeAllowed}, nil
	}

	reason := fmt.Sprintf("position limit reached (%d/%d)", c.open, c.cfg.MaxPositions)

	if !c.cfg.EnableQueue || c.cfg.MaxQueueSize < 1 {
		blocked := &domain.BlockedSignal{
			SignalID:    signalID,
			BreakerType: domain.BreakerPositionLimit,
			Reason:      reason,
			SignalData:  signalData,
			BlockedAt:   c.now(),
		}
		if err := c.store.SaveBlockedSignal(ctx, blocked); err != nil {
			return Decision{}, persistenceErr("save blocked signal", err)
		}
		c.logger.Info("signal %s blocked: %s", signalID, reason)
		return Decision{Outcome: OutcomeBlocked, Reason: reason}, nil
	}

	if err := c.purgeExpired(ctx); err != nil {
		return Decision{}, err
	}
	for len(c.queue) >= c.cfg.MaxQueueSize {
		oldest := c.queue[0]
		if err := c.setStatus(ctx, &oldest, domain.QueueStatusExpired); err != nil {
			return Decision{}, err
		}
		c.queue = c.queue[1:]
		c.logger.Warn("queue full, evicted oldest signal %s", oldest.SignalID)
	}

	now := c.now()
	queued := domain.QueuedSignal{
		ID:         uuid.New().String(),
		SignalID:   signalID,
		QueuedAt:   now,
		ExpiresAt:  now.Add(c.cfg.QueueExpiry()),
		SignalData: signalData,
		Status:     domain.QueueStatusPending,
	}
	if err := c.store.SaveQueuedSignal(ctx, &queued); err != nil {
		return Decision{}, persistenceErr("save queued signal", err)
	}
	c.queue = append(c.queue, queued)
	c.updateGauges()

	expiresAt := queued.ExpiresAt
	c.logger.Info("signal %s queued at position %d", signalID, len(c.queue))
	return Decision{
		Outcome:        OutcomeQueued,
		QueuePosition:  len(c.queue),
		QueuedSignalID: queued.ID,
		ExpiresAt:      &expiresAt,
		Reason:         reason,
	}, nil
}

// OnPositionClosed освобождает слот и передает его самому старому живому сигналу
// из очереди. Возвращает nil, если ничего не извлечено.
func (c *Controller) OnPositionClosed(ctx context.Context, positionID string) (*domain.QueuedSignal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.open > 0 {
		c.open--
	}
	dequeued, err := c.fillFreeSlots(ctx, positionID)
	c.persistOpen(ctx)
	c.updateGauges()
	if err != nil {
		return nil, err
	}
	if len(dequeued) == 0 {
		return nil, nil
	}
	c.logger.Info("position %s closed, dequeued signal %s", positionID, dequeued[0].SignalID)
	out := dequeued[0]
	return &out, nil
}

// fillFreeSlots отдает свободные слоты самым старым живым сигналам очереди,
// помечает их executed, пишет SlotEvent и передает диспетчеру. Вызывается под c.mu.
func (c *Controller) fillFreeSlots(ctx context.Context, source string) ([]domain.QueuedSignal, error) {
	if len(c.queue) == 0 || c.open >= c.cfg.MaxPositions {
		return nil, nil
	}
	if err := c.purgeExpired(ctx); err != nil {
		return nil, err
	}

	var dequeued []domain.QueuedSignal
	for c.open < c.cfg.MaxPositions && len(c.queue) > 0 {
		before := len(c.queue)
		next := c.queue[0]
		if err := c.setStatus(ctx, &next, domain.QueueStatusExecuted); err != nil {
			return dequeued, err
		}
		c.queue = c.queue[1:]
		// Освободившийся слот сразу занимает извлеченный сигнал
		c.open++

		event := &domain.SlotEvent{
			EventType:         domain.SlotEventDequeued,
			PositionID:        source,
			SignalID:          next.SignalID,
			QueueLengthBefore: before,
			QueueLengthAfter:  len(c.queue),
			CreatedAt:         c.now(),
		}
		if err := c.store.SaveSlotEvent(ctx, event); err != nil {
			// Сигнал уже executed в хранилище, откатывать нечего
			monitoring.RecordError("slot_event")
			c.logger.Error("failed to save slot event for %s: %v", next.SignalID, err)
		}

		c.logger.Info("slot freed by %s, dequeued signal %s", source, next.SignalID)
		if c.dispatcher != nil {
			c.dispatcher.Submit(next)
		}
		dequeued = append(dequeued, next)
	}
	return dequeued, nil
}

// CancelQueuedSignal убирает первый сигнал с данным signal_id из очереди
func (c *Controller) CancelQueuedSignal(ctx context.Context, signalID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.queue {
		if c.queue[i].SignalID != signalID {
			continue
		}
		s := c.queue[i]
		if err := c.setStatus(ctx, &s, domain.QueueStatusCancelled); err != nil {
			return false, err
		}
		c.queue = append(c.queue[:i:i], c.queue[i+1:]...)
		c.updateGauges()
		c.logger.Info("queued signal %s cancelled", signalID)
		return true, nil
	}
	return false, nil
}

// QueueStatus удаляет просроченные сигналы и возвращает снимок очереди
func (c *Controller) QueueStatus(ctx context.Context) (QueueStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.purgeExpired(ctx); err != nil {
		return QueueStatus{}, err
	}
	c.updateGauges()

	now := c.now()
	status := QueueStatus{
		QueueLength:  len(c.queue),
		MaxQueueSize: c.cfg.MaxQueueSize,
		EnableQueue:  c.cfg.EnableQueue,
		Signals:      make([]QueueEntry, 0, len(c.queue)),
	}
	for i, s := range c.queue {
		status.Signals = append(status.Signals, QueueEntry{
			QueuedSignal:     s,
			Position:         i + 1,
			SecondsRemaining: int(s.ExpiresAt.Sub(now).Seconds()),
		})
	}
	return status, nil
}

// Config возвращает текущую конфигурацию
func (c *Controller) Config() domain.PositionLimitConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// UpdateConfig заменяет конфигурацию целиком; уже стоящие в очереди сигналы не пересматриваются
func (c *Controller) UpdateConfig(ctx context.Context, cfg domain.PositionLimitConfig) error {
	if err := ValidateConfig(cfg); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := config.SaveBlob(ctx, c.store, domain.ConfigKeyPositionLimit, cfg); err != nil {
		return persistenceErr("save position limit config", err)
	}
	c.cfg = cfg
	c.logger.Info("config updated: max_positions=%d queue=%v/%d expiry=%dm",
		cfg.MaxPositions, cfg.EnableQueue, cfg.MaxQueueSize, cfg.QueueExpiryMinutes)

	// Увеличенный лимит сразу отдается очереди
	dequeued, err := c.fillFreeSlots(ctx, slotSourceConfig)
	if len(dequeued) > 0 {
		c.persistOpen(ctx)
	}
	c.updateGauges()
	return err
}

// Reset отменяет все ожидающие сигналы и перечитывает число открытых позиций
func (c *Controller) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.queue) > 0 {
		s := c.queue[0]
		if err := c.setStatus(ctx, &s, domain.QueueStatusCancelled); err != nil {
			return err
		}
		c.queue = c.queue[1:]
	}
	c.open = 0
	if err := c.syncPositions(ctx); err != nil {
		return err
	}
	c.updateGauges()
	return c.saveOpen(ctx, c.open)
}

// ValidateConfig проверяет настройки лимита позиций
func ValidateConfig(cfg domain.PositionLimitConfig) error {
	return cfg.Validate()
}

// purgeExpired помечает просроченные сигналы expired и убирает их из очереди
func (c *Controller) purgeExpired(ctx context.Context) error {
	now := c.now()
	kept := c.queue[:0:0]
	for i, s := range c.queue {
		if !s.IsExpired(now) {
			kept = append(kept, s)
			continue
		}
		if err := c.setStatus(ctx, &s, domain.QueueStatusExpired); err != nil {
			c.queue = append(kept, c.queue[i:]...)
			return err
		}
		c.logger.Info("queued signal %s expired", s.SignalID)
	}
	c.queue = kept
	return nil
}

func (c *Controller) saveOpen(ctx context.Context, n int) error {
	if err := c.store.SetConfigParam(ctx, domain.StateKeyOpenPositions, strconv.Itoa(n)); err != nil {
		return persistenceErr("save open positions", err)
	}
	return nil
}

// persistOpen сохраняет счетчик после того, как изменение уже применено в памяти.
// Откатить его нельзя, поэтому ошибка только логируется и считается в метриках.
func (c *Controller) persistOpen(ctx context.Context) {
	if err := c.saveOpen(ctx, c.open); err != nil {
		monitoring.RecordError("open_positions")
		c.logger.Error("failed to persist open positions: %v", err)
	}
}

func (c *Controller) setStatus(ctx context.Context, s *domain.QueuedSignal, status string) error {
	if err := c.store.UpdateQueuedSignalStatus(ctx, s.ID, status); err != nil {
		return persistenceErr("update queued signal "+s.ID, err)
	}
	s.Status = status
	monitoring.RecordQueueTransition(status)
	return nil
}

func (c *Controller) updateGauges() {
	monitoring.UpdateSlots(c.open, len(c.queue))
}

func persistenceErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrPersistence, err)
}
