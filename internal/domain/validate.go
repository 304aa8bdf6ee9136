package domain

import "fmt"

// Validate проверяет настройки предохранителя по просадке
func (c DrawdownConfig) Validate() error {
	if c.ThresholdPercent <= 0 || c.ThresholdPercent > 100 {
		return fmt.Errorf("%w: threshold_percent must be in (0, 100]", ErrInvalidInput)
	}
	return nil
}

// Validate проверяет настройки win rate. minimum_trades больше window_size
// навсегда отключил бы предохранитель.
func (c WinRateConfig) Validate() error {
	if c.ThresholdPercent < 0 || c.ThresholdPercent > 100 {
		return fmt.Errorf("%w: threshold_percent must be in [0, 100]", ErrInvalidInput)
	}
	if c.WindowSize < 1 {
		return fmt.Errorf("%w: window_size must be positive", ErrInvalidInput)
	}
	if c.MinimumTrades < 1 || c.MinimumTrades > c.WindowSize {
		return fmt.Errorf("%w: minimum_trades must be in [1, window_size]", ErrInvalidInput)
	}
	return nil
}

// Validate проверяет настройки throttle
func (c ThrottleConfig) Validate() error {
	if c.ConsecutiveLossThreshold < 1 {
		return fmt.Errorf("%w: consecutive_loss_threshold must be positive", ErrInvalidInput)
	}
	if c.SizeReductionFactor <= 0 || c.SizeReductionFactor > 1 {
		return fmt.Errorf("%w: size_reduction_factor must be in (0, 1]", ErrInvalidInput)
	}
	return nil
}

// Validate проверяет настройки лимита позиций
func (c PositionLimitConfig) Validate() error {
	if c.MaxPositions < 0 {
		return fmt.Errorf("%w: max_positions must not be negative", ErrInvalidInput)
	}
	if c.EnableQueue && c.MaxQueueSize < 1 {
		return fmt.Errorf("%w: max_queue_size must be positive when queue is enabled", ErrInvalidInput)
	}
	if c.QueueExpiryMinutes < 1 {
		return fmt.Errorf("%w: queue_expiry_minutes must be positive", ErrInvalidInput)
	}
	return nil
}
