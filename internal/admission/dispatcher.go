package admission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kirillm/riskgate/internal/domain"
	"github.com/kirillm/riskgate/internal/monitoring"
	"github.com/kirillm/riskgate/pkg/utils"
)

// ExecuteFunc исполняет сигнал, извлеченный из очереди. Результат не анализируется,
// ошибка только логируется.
type ExecuteFunc func(ctx context.Context, signalData map[string]interface{}) error

// ErrNotExecuted колбэк оборачивает в нее ошибку, когда сигнал гарантированно не исполнен
// (ордер не отправлен). Повторяются только такие ошибки: любая другая ошибка,
// паника или таймаут означают неизвестный исход, и сигнал больше не передается.
var ErrNotExecuted = errors.New("signal not executed")

// LogStore хранилище системных логов
type LogStore interface {
	SaveLog(ctx context.Context, level, message, data string) error
}

// DispatcherConfig настройки исполнения колбэков
type DispatcherConfig struct {
	Workers      int
	BufferSize   int
	Timeout      time.Duration // на одну попытку
	MaxAttempts  int
	RetryBackoff time.Duration // линейный: attempt * RetryBackoff
}

// DefaultDispatcherConfig дефолтные настройки
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Workers:      2,
		BufferSize:   64,
		Timeout:      30 * time.Second,
		MaxAttempts:  1,
		RetryBackoff: time.Second,
	}
}

// Dispatcher передает извлеченные из очереди сигналы в колбэк исполнения
// на фиксированном пуле воркеров, не задерживая обработчик закрытия позиции.
type Dispatcher struct {
	cfg    DispatcherConfig
	store  LogStore
	logger *utils.Logger

	mu       sync.RWMutex
	callback ExecuteFunc
	closed   bool

	jobs chan domain.QueuedSignal
	wg   sync.WaitGroup
}

// NewDispatcher создает диспетчер и запускает воркеры
func NewDispatcher(cfg DispatcherConfig, store LogStore, logger *utils.Logger) *Dispatcher {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultDispatcherConfig().Timeout
	}

	d := &Dispatcher{
		cfg:    cfg,
		store:  store,
		logger: logger.Named("dispatcher"),
		jobs:   make(chan domain.QueuedSignal, cfg.BufferSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// SetCallback регистрирует колбэк исполнения (nil снимает регистрацию)
func (d *Dispatcher) SetCallback(fn ExecuteFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callback = fn
}

// HasCallback сообщает, зарегистрирован ли колбэк
func (d *Dispatcher) HasCallback() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.callback != nil
}

// Submit ставит сигнал в буфер без блокировки. Возвращает false, если колбэк
// не зарегистрирован, буфер полон или диспетчер закрыт.
func (d *Dispatcher) Submit(signal domain.QueuedSignal) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.callback == nil {
		return false
	}
	if d.closed {
		d.logger.Warn("dispatcher closed, dropping signal %s", signal.SignalID)
		monitoring.RecordDispatch("dropped")
		return false
	}

	select {
	case d.jobs <- signal:
		return true
	default:
		d.logger.Error("dispatch buffer full (%d), dropping signal %s", cap(d.jobs), signal.SignalID)
		monitoring.RecordDispatch("dropped")
		d.saveFailure(signal, 0, fmt.Errorf("dispatch buffer full"))
		return false
	}
}

// Close прекращает прием сигналов, дожидается обработки буфера и остановки воркеров
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for signal := range d.jobs {
		d.process(signal)
	}
}

func (d *Dispatcher) process(signal domain.QueuedSignal) {
	d.mu.RLock()
	fn := d.callback
	d.mu.RUnlock()
	if fn == nil {
		return
	}

	var err error
	attempt := 1
	for ; ; attempt++ {
		if err = d.attempt(fn, signal); err == nil {
			monitoring.RecordDispatch("success")
			d.logger.Info("signal %s executed (attempt %d)", signal.SignalID, attempt)
			return
		}

		d.logger.Warn("execute callback for %s failed (attempt %d/%d): %v", signal.SignalID, attempt, d.cfg.MaxAttempts, err)
		if attempt >= d.cfg.MaxAttempts {
			break
		}
		if !errors.Is(err, ErrNotExecuted) {
			d.logger.Warn("outcome of %s unknown, not retrying", signal.SignalID)
			break
		}
		monitoring.RecordDispatch("retry")
		time.Sleep(time.Duration(attempt) * d.cfg.RetryBackoff)
	}

	monitoring.RecordDispatch("failed")
	monitoring.RecordError("execute_callback")
	d.saveFailure(signal, attempt, err)
}

// attempt вызывает колбэк с таймаутом; паника превращается в ошибку
func (d *Dispatcher) attempt(fn ExecuteFunc, signal domain.QueuedSignal) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("execute callback panic: %v", r)
			}
		}()
		done <- fn(ctx, signal.SignalData)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("execute callback timed out after %v: %w", d.cfg.Timeout, ctx.Err())
	}
}

func (d *Dispatcher) saveFailure(signal domain.QueuedSignal, attempts int, cause error) {
	if d.store == nil {
		return
	}
	data, _ := json.Marshal(map[string]interface{}{
		"queued_signal_id": signal.ID,
		"signal_id":        signal.SignalID,
		"attempts":         attempts,
		"error":            cause.Error(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.store.SaveLog(ctx, "error", "execute callback failed", string(data)); err != nil {
		d.logger.Error("failed to save callback failure for %s: %v", signal.SignalID, err)
	}
}
