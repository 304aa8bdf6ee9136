package domain

import "time"

// TriggerRecord представляет срабатывание предохранителя и его последующий сброс.
// Запись с ResetAt == nil считается активной; для каждого BreakerType активна максимум одна.
type TriggerRecord struct {
	ID              int64       `db:"id" json:"id"`
	BreakerType     BreakerType `db:"breaker_type" json:"breaker_type"`
	ThresholdValue  float64     `db:"threshold_value" json:"threshold_value"`
	ActualValue     float64     `db:"actual_value" json:"actual_value"`
	CapitalSnapshot float64     `db:"capital_snapshot" json:"capital_snapshot"`
	TriggeredAt     time.Time   `db:"triggered_at" json:"triggered_at"`
	ResetAt         *time.Time  `db:"reset_at" json:"reset_at,omitempty"`
	ResetBy         string      `db:"reset_by" json:"reset_by,omitempty"`
}

// IsActive сообщает, что триггер еще не сброшен
func (t *TriggerRecord) IsActive() bool {
	return t != nil && t.ResetAt == nil
}

// TradeOutcome результат закрытой сделки
type TradeOutcome struct {
	TradeID    string    `db:"trade_id" json:"trade_id"`
	ClosedAt   time.Time `db:"closed_at" json:"closed_at"`
	IsWin      bool      `db:"is_win" json:"is_win"`
	PnLPercent float64   `db:"pnl_percent" json:"pnl_percent"`
}

// QueuedSignal сигнал, ожидающий свободного слота.
// Статус переходит из pending ровно в один из executed/expired/cancelled.
type QueuedSignal struct {
	ID         string                 `db:"id" json:"id"`
	SignalID   string                 `db:"signal_id" json:"signal_id"`
	QueuedAt   time.Time              `db:"queued_at" json:"queued_at"`
	ExpiresAt  time.Time              `db:"expires_at" json:"expires_at"`
	SignalData map[string]interface{} `db:"signal_data" json:"signal_data"` // JSON
	Status     string                 `db:"status" json:"status"`
}

// IsExpired проверяет истек ли срок ожидания
func (q *QueuedSignal) IsExpired(now time.Time) bool {
	return !now.Before(q.ExpiresAt)
}

// BlockedSignal аудит-запись отклоненного сигнала
type BlockedSignal struct {
	ID          int64                  `db:"id" json:"id"`
	SignalID    string                 `db:"signal_id" json:"signal_id"`
	BreakerType BreakerType            `db:"breaker_type" json:"breaker_type"`
	Reason      string                 `db:"reason" json:"reason"`
	SignalData  map[string]interface{} `db:"signal_data" json:"signal_data"` // JSON
	BlockedAt   time.Time              `db:"blocked_at" json:"blocked_at"`
}

// SlotEvent аудит-запись освобождения слота, после которого из очереди извлечен сигнал
type SlotEvent struct {
	ID                int64     `db:"id" json:"id"`
	EventType         string    `db:"event_type" json:"event_type"`
	PositionID        string    `db:"position_id" json:"position_id"`
	SignalID          string    `db:"signal_id" json:"signal_id"`
	QueueLengthBefore int       `db:"queue_length_before" json:"queue_length_before"`
	QueueLengthAfter  int       `db:"queue_length_after" json:"queue_length_after"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}

// ==================== Breaker configs ====================

// DrawdownConfig настройки предохранителя по просадке капитала
type DrawdownConfig struct {
	ThresholdPercent float64 `json:"threshold_percent" yaml:"threshold_percent"`
	// BreachInclusive: true означает drawdown >= threshold, false - строго >
	BreachInclusive bool `json:"breach_inclusive" yaml:"breach_inclusive"`
}

// WinRateConfig настройки предохранителя по скользящему win rate
type WinRateConfig struct {
	ThresholdPercent  float64 `json:"threshold_percent" yaml:"threshold_percent"`
	WindowSize        int     `json:"window_size" yaml:"window_size"`
	MinimumTrades     int     `json:"minimum_trades" yaml:"minimum_trades"`
	EnableCautionFlag bool    `json:"enable_caution_flag" yaml:"enable_caution_flag"`
	// BreachInclusive: true означает win_rate <= threshold, false - строго <
	BreachInclusive bool `json:"breach_inclusive" yaml:"breach_inclusive"`
}

// ThrottleConfig настройки снижения размера позиции после серии убытков
type ThrottleConfig struct {
	ConsecutiveLossThreshold int     `json:"consecutive_loss_threshold" yaml:"consecutive_loss_threshold"`
	SizeReductionFactor      float64 `json:"size_reduction_factor" yaml:"size_reduction_factor"`
}

// PositionLimitConfig настройки лимита одновременно открытых позиций
type PositionLimitConfig struct {
	MaxPositions       int  `json:"max_positions" yaml:"max_positions"`
	EnableQueue        bool `json:"enable_queue" yaml:"enable_queue"`
	MaxQueueSize       int  `json:"max_queue_size" yaml:"max_queue_size"`
	QueueExpiryMinutes int  `json:"queue_expiry_minutes" yaml:"queue_expiry_minutes"`
}

// QueueExpiry возвращает время жизни сигнала в очереди
func (c PositionLimitConfig) QueueExpiry() time.Duration {
	return time.Duration(c.QueueExpiryMinutes) * time.Minute
}

// DefaultDrawdownConfig дефолтные настройки
func DefaultDrawdownConfig() DrawdownConfig {
	return DrawdownConfig{ThresholdPercent: 20, BreachInclusive: true}
}

// DefaultWinRateConfig дефолтные настройки
func DefaultWinRateConfig() WinRateConfig {
	return WinRateConfig{
		ThresholdPercent:  40,
		WindowSize:        50,
		MinimumTrades:     20,
		EnableCautionFlag: true,
	}
}

// DefaultThrottleConfig дефолтные настройки
func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{ConsecutiveLossThreshold: 3, SizeReductionFactor: 0.5}
}

// DefaultPositionLimitConfig дефолтные настройки
func DefaultPositionLimitConfig() PositionLimitConfig {
	return PositionLimitConfig{
		MaxPositions:       5,
		EnableQueue:        true,
		MaxQueueSize:       10,
		QueueExpiryMinutes: 30,
	}
}
