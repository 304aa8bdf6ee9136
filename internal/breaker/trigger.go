package breaker

import (
	"context"
	"errors"
	"time"

	"github.com/kirillm/riskgate/internal/domain"
	"github.com/kirillm/riskgate/internal/monitoring"
	"github.com/kirillm/riskgate/pkg/utils"
)

// triggerBook кэш активного триггера одного предохранителя поверх TriggerStore.
// Вызывается только под мьютексом владельца.
type triggerBook struct {
	breakerType domain.BreakerType
	store       TriggerStore
	notifier    Notifier
	logger      *utils.Logger
	active      *domain.TriggerRecord
}

func (b *triggerBook) load(ctx context.Context) error {
	rec, err := b.store.GetActiveTrigger(ctx, b.breakerType)
	if err != nil {
		return persistenceErr("load active trigger", err)
	}
	b.active = rec
	monitoring.SetBreached(string(b.breakerType), rec != nil)
	return nil
}

func (b *triggerBook) isActive() bool {
	return b.active.IsActive()
}

// snapshot возвращает копию активного триггера
func (b *triggerBook) snapshot() *domain.TriggerRecord {
	if b.active == nil {
		return nil
	}
	rec := *b.active
	return &rec
}

// trip создает активный триггер. Возвращает nil, если он уже существовал.
func (b *triggerBook) trip(ctx context.Context, threshold, actual, capital float64, now time.Time) (*domain.TriggerRecord, error) {
	if b.isActive() {
		return nil, nil
	}

	rec := &domain.TriggerRecord{
		BreakerType:     b.breakerType,
		ThresholdValue:  threshold,
		ActualValue:     actual,
		CapitalSnapshot: capital,
		TriggeredAt:     now,
	}
	err := b.store.InsertActiveTrigger(ctx, rec)
	if errors.Is(err, domain.ErrStateConflict) {
		// Триггер создан другим процессом: подхватываем его вместо дубликата
		b.logger.Warn("active %s trigger already stored, adopting it", b.breakerType)
		return nil, b.load(ctx)
	}
	if err != nil {
		return nil, persistenceErr("insert trigger", err)
	}

	b.active = rec
	monitoring.SetBreached(string(b.breakerType), true)
	monitoring.RecordTrigger(string(b.breakerType))
	b.logger.Warn("%s breached: actual=%.2f threshold=%.2f", b.breakerType, actual, threshold)
	b.notifier.NotifyTrigger(*rec)

	out := *rec
	return &out, nil
}

// resolve сбрасывает активный триггер, если он есть
func (b *triggerBook) resolve(ctx context.Context, operatorID string, now time.Time) error {
	if b.active != nil {
		if err := b.store.ResolveTrigger(ctx, b.active.ID, operatorID, now); err != nil {
			return persistenceErr("resolve trigger", err)
		}
	}
	b.active = nil
	monitoring.SetBreached(string(b.breakerType), false)
	b.logger.Info("%s reset by %s", b.breakerType, operatorID)
	b.notifier.NotifyReset(b.breakerType, operatorID)
	return nil
}
