package domain

import (
	"context"
	"time"
)

// TriggerRepository определяет интерфейс для работы с TriggerRecord
type TriggerRepository interface {
	// InsertActive возвращает ErrStateConflict если активный триггер уже существует
	InsertActive(ctx context.Context, record *TriggerRecord) error
	GetActive(ctx context.Context, breakerType BreakerType) (*TriggerRecord, error)
	Resolve(ctx context.Context, id int64, resetBy string, resetAt time.Time) error
	GetRecent(ctx context.Context, limit int) ([]TriggerRecord, error)
}

// TradeOutcomeRepository определяет интерфейс для истории сделок
type TradeOutcomeRepository interface {
	Save(ctx context.Context, outcome *TradeOutcome) error
	// GetRecent возвращает последние limit сделок, закрытых после since, от новых к старым
	GetRecent(ctx context.Context, since time.Time, limit int) ([]TradeOutcome, error)
}

// QueuedSignalRepository определяет интерфейс для очереди сигналов
type QueuedSignalRepository interface {
	Save(ctx context.Context, signal *QueuedSignal) error
	UpdateStatus(ctx context.Context, id, status string) error
	// GetByStatus возвращает сигналы в порядке queued_at
	GetByStatus(ctx context.Context, status string) ([]QueuedSignal, error)
}

// AuditRepository определяет интерфейс для аудит-записей
type AuditRepository interface {
	SaveBlocked(ctx context.Context, signal *BlockedSignal) error
	SaveSlotEvent(ctx context.Context, event *SlotEvent) error
}

// ConfigRepository определяет интерфейс для работы с конфигурацией
type ConfigRepository interface {
	Set(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, error)
}
