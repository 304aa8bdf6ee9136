package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// StateRepository хранит состояние и настройки предохранителей как пары ключ/значение
// (пик капитала, серия убытков, system_status, JSON-конфиги)
type StateRepository struct {
	db *sql.DB
}

func NewStateRepository(db *sql.DB) *StateRepository {
	return &StateRepository{db: db}
}

// Put записывает значение, перезаписывая прежнее
func (r *StateRepository) Put(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO config_params (key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.ExecContext(ctx, query, key, value, time.Now())
	return err
}

// Lookup возвращает значение и признак того, что ключ записан
func (r *StateRepository) Lookup(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM config_params WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}
