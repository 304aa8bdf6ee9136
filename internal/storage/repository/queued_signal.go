package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/kirillm/riskgate/internal/domain"
)

// QueuedSignalRepository реализует работу с очередью сигналов
type QueuedSignalRepository struct {
	db *sql.DB
}

// NewQueuedSignalRepository создает новый репозиторий
func NewQueuedSignalRepository(db *sql.DB) *QueuedSignalRepository {
	return &QueuedSignalRepository{db: db}
}

// Save сохраняет сигнал в очереди
func (r *QueuedSignalRepository) Save(ctx context.Context, signal *domain.QueuedSignal) error {
	data, err := marshalSignalData(signal.SignalData)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO queued_signals (id, signal_id, queued_at, expires_at, signal_data, status)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = r.db.ExecContext(
		ctx,
		query,
		signal.ID,
		signal.SignalID,
		signal.QueuedAt,
		signal.ExpiresAt,
		data,
		signal.Status,
	)
	return err
}

// UpdateStatus переводит сигнал в новый статус. Терминальные статусы не перезаписываются.
func (r *QueuedSignalRepository) UpdateStatus(ctx context.Context, id, status string) error {
	query := `
		UPDATE queued_signals
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`
	_, err := r.db.ExecContext(ctx, query, status, id, domain.QueueStatusPending)
	return err
}

// GetByStatus получает сигналы с указанным статусом в порядке постановки в очередь
func (r *QueuedSignalRepository) GetByStatus(ctx context.Context, status string) ([]domain.QueuedSignal, error) {
	query := `
		SELECT id, signal_id, queued_at, expires_at, signal_data, status
		FROM queued_signals
		WHERE status = $1
		ORDER BY queued_at ASC, seq ASC
	`
	rows, err := r.db.QueryContext(ctx, query, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var signals []domain.QueuedSignal
	for rows.Next() {
		var s domain.QueuedSignal
		var data []byte
		if err := rows.Scan(&s.ID, &s.SignalID, &s.QueuedAt, &s.ExpiresAt, &data, &s.Status); err != nil {
			return nil, err
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &s.SignalData); err != nil {
				return nil, fmt.Errorf("failed to decode signal_data for %s: %w", s.ID, err)
			}
		}
		signals = append(signals, s)
	}

	return signals, rows.Err()
}

func marshalSignalData(data map[string]interface{}) ([]byte, error) {
	if data == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode signal_data: %w", err)
	}
	return b, nil
}
