package breaker

import (
	"context"
	"fmt"
	"time"

	"github.com/kirillm/riskgate/internal/domain"
)

// TriggerStore хранилище записей срабатывания
type TriggerStore interface {
	InsertActiveTrigger(ctx context.Context, record *domain.TriggerRecord) error
	GetActiveTrigger(ctx context.Context, breakerType domain.BreakerType) (*domain.TriggerRecord, error)
	ResolveTrigger(ctx context.Context, id int64, resetBy string, resetAt time.Time) error
}

// ParamStore хранилище параметров ключ/значение
type ParamStore interface {
	SetConfigParam(ctx context.Context, key, value string) error
	GetConfigParam(ctx context.Context, key string) (string, error)
}

// TradeStore хранилище истории закрытых сделок
type TradeStore interface {
	SaveTradeOutcome(ctx context.Context, outcome *domain.TradeOutcome) error
	GetRecentTradeOutcomes(ctx context.Context, since time.Time, limit int) ([]domain.TradeOutcome, error)
}

// Store все, что нужно предохранителям от хранилища
type Store interface {
	TriggerStore
	ParamStore
	TradeStore
}

// Notifier получает уведомления о срабатывании и сбросе предохранителей
type Notifier interface {
	NotifyTrigger(record domain.TriggerRecord)
	NotifyReset(breakerType domain.BreakerType, operatorID string)
}

type nopNotifier struct{}

func (nopNotifier) NotifyTrigger(domain.TriggerRecord) {}
func (nopNotifier) NotifyReset(domain.BreakerType, string) {}

func persistenceErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrPersistence, err)
}
