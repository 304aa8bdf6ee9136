package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kirillm/riskgate/internal/domain"
	"github.com/kirillm/riskgate/internal/storage/repository"
	_ "github.com/lib/pq"
)

// PostgresStorage является фасадом для работы с PostgreSQL через репозитории
type PostgresStorage struct {
	db       *sql.DB
	triggers *repository.TriggerRepository
	trades   *repository.TradeOutcomeRepository
	queue    *repository.QueuedSignalRepository
	audit    *repository.AuditRepository
	state    *repository.StateRepository
}

// NewPostgresStorage подключается к базе и применяет миграции
func NewPostgresStorage(dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime time.Duration) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Настройка connection pool из конфигурации
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	storage := &PostgresStorage{
		db:       db,
		triggers: repository.NewTriggerRepository(db),
		trades:   repository.NewTradeOutcomeRepository(db),
		queue:    repository.NewQueuedSignalRepository(db),
		audit:    repository.NewAuditRepository(db),
		state:    repository.NewStateRepository(db),
	}

	// Запускаем миграции
	if err := storage.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return storage, nil
}

func (s *PostgresStorage) migrate() error {
	migrations := []string{
		// Срабатывания предохранителей
		`CREATE TABLE IF NOT EXISTS trigger_records (
			id BIGSERIAL PRIMARY KEY,
			breaker_type VARCHAR(32) NOT NULL,
			threshold_value NUMERIC NOT NULL,
			actual_value NUMERIC NOT NULL,
			capital_snapshot NUMERIC NOT NULL DEFAULT 0,
			triggered_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			reset_at TIMESTAMPTZ,
			reset_by VARCHAR(100)
		)`,
		// Не больше одного активного триггера на тип
		`CREATE UNIQUE INDEX IF NOT EXISTS uniq_trigger_records_active
			ON trigger_records(breaker_type) WHERE reset_at IS NULL`,
		// История закрытых сделок для rolling win rate
		`CREATE TABLE IF NOT EXISTS trade_outcomes (
			id BIGSERIAL PRIMARY KEY,
			trade_id VARCHAR(100) NOT NULL,
			closed_at TIMESTAMPTZ NOT NULL,
			is_win BOOLEAN NOT NULL,
			pnl_percent NUMERIC NOT NULL
		)`,
		// Очередь сигналов на открытие позиции
		`CREATE TABLE IF NOT EXISTS queued_signals (
			id UUID PRIMARY KEY,
			signal_id VARCHAR(100) NOT NULL,
			queued_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			signal_data JSONB NOT NULL DEFAULT '{}',
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			seq BIGSERIAL
		)`,
		`ALTER TABLE queued_signals ADD COLUMN IF NOT EXISTS seq BIGSERIAL`,
		`CREATE TABLE IF NOT EXISTS blocked_signals (
			id BIGSERIAL PRIMARY KEY,
			signal_id VARCHAR(100) NOT NULL,
			breaker_type VARCHAR(32) NOT NULL,
			reason TEXT,
			signal_data JSONB NOT NULL DEFAULT '{}',
			blocked_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS slot_events (
			id BIGSERIAL PRIMARY KEY,
			event_type VARCHAR(50) NOT NULL,
			position_id VARCHAR(100),
			signal_id VARCHAR(100),
			queue_length_before INTEGER NOT NULL,
			queue_length_after INTEGER NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		// Конфигурация предохранителей и system_status
		`CREATE TABLE IF NOT EXISTS config_params (
			id SERIAL PRIMARY KEY,
			key VARCHAR(100) NOT NULL UNIQUE,
			value TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS logs (
			id SERIAL PRIMARY KEY,
			level VARCHAR(10) NOT NULL,
			message TEXT NOT NULL,
			data JSONB,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trigger_records_triggered_at ON trigger_records(triggered_at)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_outcomes_closed_at ON trade_outcomes(closed_at)`,
		`CREATE INDEX IF NOT EXISTS idx_queued_signals_status ON queued_signals(status, queued_at)`,
		`CREATE INDEX IF NOT EXISTS idx_blocked_signals_blocked_at ON blocked_signals(blocked_at)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_created_at ON logs(created_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// ==================== TRIGGERS ====================

func (s *PostgresStorage) InsertActiveTrigger(ctx context.Context, record *domain.TriggerRecord) error {
	return s.triggers.InsertActive(ctx, record)
}

func (s *PostgresStorage) GetActiveTrigger(ctx context.Context, breakerType domain.BreakerType) (*domain.TriggerRecord, error) {
	return s.triggers.GetActive(ctx, breakerType)
}

func (s *PostgresStorage) ResolveTrigger(ctx context.Context, id int64, resetBy string, resetAt time.Time) error {
	return s.triggers.Resolve(ctx, id, resetBy, resetAt)
}

func (s *PostgresStorage) GetRecentTriggers(ctx context.Context, limit int) ([]domain.TriggerRecord, error) {
	return s.triggers.GetRecent(ctx, limit)
}

// ==================== TRADE OUTCOMES ====================

func (s *PostgresStorage) SaveTradeOutcome(ctx context.Context, outcome *domain.TradeOutcome) error {
	return s.trades.Save(ctx, outcome)
}

func (s *PostgresStorage) GetRecentTradeOutcomes(ctx context.Context, since time.Time, limit int) ([]domain.TradeOutcome, error) {
	return s.trades.GetRecent(ctx, since, limit)
}

// ==================== QUEUED SIGNALS ====================

func (s *PostgresStorage) SaveQueuedSignal(ctx context.Context, signal *domain.QueuedSignal) error {
	return s.queue.Save(ctx, signal)
}

func (s *PostgresStorage) UpdateQueuedSignalStatus(ctx context.Context, id, status string) error {
	return s.queue.UpdateStatus(ctx, id, status)
}

func (s *PostgresStorage) GetQueuedSignalsByStatus(ctx context.Context, status string) ([]domain.QueuedSignal, error) {
	return s.queue.GetByStatus(ctx, status)
}

// ==================== AUDIT ====================

func (s *PostgresStorage) SaveBlockedSignal(ctx context.Context, signal *domain.BlockedSignal) error {
	return s.audit.SaveBlocked(ctx, signal)
}

func (s *PostgresStorage) SaveSlotEvent(ctx context.Context, event *domain.SlotEvent) error {
	return s.audit.SaveSlotEvent(ctx, event)
}

// ==================== CONFIG PARAMS ====================

func (s *PostgresStorage) SetConfigParam(ctx context.Context, key, value string) error {
	return s.state.Put(ctx, key, value)
}

// GetConfigParam возвращает "" для незаписанного ключа
func (s *PostgresStorage) GetConfigParam(ctx context.Context, key string) (string, error) {
	value, _, err := s.state.Lookup(ctx, key)
	return value, err
}

// ==================== LOGS ====================

func (s *PostgresStorage) SaveLog(ctx context.Context, level, message, data string) error {
	return s.audit.SaveLog(ctx, level, message, data)
}

// Close закрывает соединение с базой данных
func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
