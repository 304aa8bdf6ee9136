package domain

// BreakerType идентифицирует предохранитель
type BreakerType string

// Breaker types
const (
	BreakerCapitalDrawdown BreakerType = "capital_drawdown"
	BreakerRollingWinRate  BreakerType = "rolling_win_rate"
	BreakerConsecutiveLoss BreakerType = "consecutive_loss"
	BreakerPositionLimit   BreakerType = "position_limit"

	// BreakerKillSwitch ручная остановка оператором
	BreakerKillSwitch BreakerType = "kill_switch"
)

// QueuedSignal statuses
const (
	QueueStatusPending   = "pending"
	QueueStatusExecuted  = "executed"
	QueueStatusExpired   = "expired"
	QueueStatusCancelled = "cancelled"
)

// Slot event types
const (
	SlotEventDequeued = "slot_freed_dequeued"
)

// system_status values
const (
	SystemStatusKey     = "system_status"
	SystemStatusTrading = "trading"
	SystemStatusHalted  = "halted"
)

// Config keys
const (
	ConfigKeyDrawdown       = "breaker_config:capital_drawdown"
	ConfigKeyWinRate        = "breaker_config:rolling_win_rate"
	ConfigKeyThrottle       = "breaker_config:consecutive_loss"
	ConfigKeyPositionLimit  = "breaker_config:position_limit"
	ConfigKeyThrottleStreak = "throttle_streak"
)

// ProfitFactorNoLosses возвращается как profit factor, когда убыточных сделок нет
const ProfitFactorNoLosses = 999.99

// Persisted breaker state keys
const (
	StateKeyDrawdownPeak         = "drawdown_peak_capital"
	StateKeyWinRateHistoryClears = "winrate_history_cleared_at"
	StateKeyHaltReason           = "system_halt_reason"
	StateKeyOpenPositions        = "open_positions"
)
