package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/kirillm/riskgate/internal/domain"
)

// AuditRepository сохраняет аудит-записи допуска сигналов
type AuditRepository struct {
	db *sql.DB
}

// NewAuditRepository создает новый репозиторий
func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// SaveBlocked сохраняет отклоненный сигнал
func (r *AuditRepository) SaveBlocked(ctx context.Context, signal *domain.BlockedSignal) error {
	if signal.BlockedAt.IsZero() {
		signal.BlockedAt = time.Now()
	}
	data, err := marshalSignalData(signal.SignalData)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO blocked_signals (signal_id, breaker_type, reason, signal_data, blocked_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	return r.db.QueryRowContext(
		ctx,
		query,
		signal.SignalID,
		string(signal.BreakerType),
		signal.Reason,
		data,
		signal.BlockedAt,
	).Scan(&signal.ID)
}

// SaveSlotEvent сохраняет событие освобождения слота
func (r *AuditRepository) SaveSlotEvent(ctx context.Context, event *domain.SlotEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO slot_events (event_type, position_id, signal_id, queue_length_before, queue_length_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	return r.db.QueryRowContext(
		ctx,
		query,
		event.EventType,
		event.PositionID,
		event.SignalID,
		event.QueueLengthBefore,
		event.QueueLengthAfter,
		event.CreatedAt,
	).Scan(&event.ID)
}

// SaveLog сохраняет системный лог. Пустой data пишется как NULL.
func (r *AuditRepository) SaveLog(ctx context.Context, level, message, data string) error {
	query := `INSERT INTO logs (level, message, data, created_at) VALUES ($1, $2, NULLIF($3, '')::jsonb, $4)`
	_, err := r.db.ExecContext(ctx, query, level, message, data, time.Now())
	return err
}
