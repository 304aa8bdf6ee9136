package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/kirillm/riskgate/internal/domain"
	"github.com/lib/pq"
)

// pgUniqueViolation код ошибки PostgreSQL для нарушения уникального индекса
const pgUniqueViolation = "23505"

// TriggerRepository управляет записями срабатываний предохранителей
type TriggerRepository struct {
	db *sql.DB
}

// NewTriggerRepository создает новый репозиторий
func NewTriggerRepository(db *sql.DB) *TriggerRepository {
	return &TriggerRepository{db: db}
}

// InsertActive сохраняет новый активный триггер, если для этого типа его еще нет
func (r *TriggerRepository) InsertActive(ctx context.Context, record *domain.TriggerRecord) error {
	if record.TriggeredAt.IsZero() {
		record.TriggeredAt = time.Now()
	}

	query := `
		INSERT INTO trigger_records (breaker_type, threshold_value, actual_value, capital_snapshot, triggered_at)
		SELECT $1, $2, $3, $4, $5
		WHERE NOT EXISTS (
			SELECT 1 FROM trigger_records WHERE breaker_type = $1 AND reset_at IS NULL
		)
		RETURNING id
	`
	err := r.db.QueryRowContext(
		ctx,
		query,
		string(record.BreakerType),
		record.ThresholdValue,
		record.ActualValue,
		record.CapitalSnapshot,
		record.TriggeredAt,
	).Scan(&record.ID)

	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrStateConflict
	}
	// Параллельная вставка может пройти NOT EXISTS, но упрется в частичный уникальный индекс
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
		return domain.ErrStateConflict
	}
	return err
}

// GetActive получает активный триггер для типа предохранителя (nil если нет)
func (r *TriggerRepository) GetActive(ctx context.Context, breakerType domain.BreakerType) (*domain.TriggerRecord, error) {
	query := `
		SELECT id, breaker_type, threshold_value, actual_value, capital_snapshot, triggered_at, reset_at, COALESCE(reset_by, '')
		FROM trigger_records
		WHERE breaker_type = $1 AND reset_at IS NULL
		ORDER BY triggered_at DESC
		LIMIT 1
	`
	records, err := r.query(ctx, query, string(breakerType))
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// Resolve помечает триггер сброшенным
func (r *TriggerRepository) Resolve(ctx context.Context, id int64, resetBy string, resetAt time.Time) error {
	query := `
		UPDATE trigger_records
		SET reset_at = $1, reset_by = $2
		WHERE id = $3 AND reset_at IS NULL
	`
	_, err := r.db.ExecContext(ctx, query, resetAt, resetBy, id)
	return err
}

// GetRecent получает последние N триггеров
func (r *TriggerRepository) GetRecent(ctx context.Context, limit int) ([]domain.TriggerRecord, error) {
	query := `
		SELECT id, breaker_type, threshold_value, actual_value, capital_snapshot, triggered_at, reset_at, COALESCE(reset_by, '')
		FROM trigger_records
		ORDER BY triggered_at DESC
		LIMIT $1
	`
	return r.query(ctx, query, limit)
}

// query helper
func (r *TriggerRepository) query(ctx context.Context, query string, args ...interface{}) ([]domain.TriggerRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.TriggerRecord
	for rows.Next() {
		var rec domain.TriggerRecord
		var breakerType string
		var resetAt sql.NullTime
		err := rows.Scan(
			&rec.ID,
			&breakerType,
			&rec.ThresholdValue,
			&rec.ActualValue,
			&rec.CapitalSnapshot,
			&rec.TriggeredAt,
			&resetAt,
			&rec.ResetBy,
		)
		if err != nil {
			return nil, err
		}
		rec.BreakerType = domain.BreakerType(breakerType)
		if resetAt.Valid {
			t := resetAt.Time
			rec.ResetAt = &t
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}
