package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kirillm/riskgate/internal/gate"
	"github.com/kirillm/riskgate/internal/monitoring"
	"github.com/kirillm/riskgate/pkg/utils"
)

// DefaultInterval интервал обслуживания по умолчанию
const DefaultInterval = time.Minute

// Task периодическая задача обслуживания
type Task func(ctx context.Context) error

type namedTask struct {
	name string
	fn   Task
}

// Orchestrator периодически обслуживает реестр: сверяет число открытых позиций,
// убирает просроченные сигналы из очереди и пересчитывает system_status.
type Orchestrator struct {
	reg      *gate.Registry
	interval time.Duration
	logger   *utils.Logger
	tasks    []namedTask

	mu        sync.Mutex
	stopChan  chan struct{}
	done      chan struct{}
	isRunning bool
}

// New создает новый orchestrator
func New(reg *gate.Registry, interval time.Duration, logger *utils.Logger) *Orchestrator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	o := &Orchestrator{
		reg:      reg,
		interval: interval,
		logger:   logger.Named("orchestrator"),
	}
	o.AddTask("sync_positions", reg.Positions.SyncPositions)
	o.AddTask("purge_queue", func(ctx context.Context) error {
		_, err := reg.Positions.QueueStatus(ctx)
		return err
	})
	o.AddTask("system_status", reg.SyncSystemStatus)
	return o
}

// AddTask добавляет задачу в цикл. Вызывать до Start.
func (o *Orchestrator) AddTask(name string, fn Task) {
	o.tasks = append(o.tasks, namedTask{name: name, fn: fn})
}

// Start запускает orchestrator
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.isRunning {
		return fmt.Errorf("orchestrator already running")
	}

	o.isRunning = true
	o.stopChan = make(chan struct{})
	o.done = make(chan struct{})
	o.logger.Info("started (interval: %v, tasks: %d)", o.interval, len(o.tasks))

	go o.run(ctx, o.stopChan, o.done)
	return nil
}

// Stop останавливает orchestrator и дожидается завершения текущего цикла
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.isRunning {
		o.mu.Unlock()
		return
	}
	close(o.stopChan)
	done := o.done
	o.isRunning = false
	o.mu.Unlock()

	<-done
	o.logger.Info("stopped")
}

// run основной цикл orchestrator
func (o *Orchestrator) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := o.RunCycle(ctx); err != nil {
				o.logger.Error("maintenance cycle: %v", err)
			}

		case <-stop:
			return

		case <-ctx.Done():
			return
		}
	}
}

// RunCycle выполняет все задачи один раз. Сбой одной задачи не останавливает остальные.
func (o *Orchestrator) RunCycle(ctx context.Context) error {
	var errs []error
	for _, t := range o.tasks {
		if err := t.fn(ctx); err != nil {
			monitoring.RecordError("maintenance_" + t.name)
			errs = append(errs, fmt.Errorf("%s: %w", t.name, err))
		}
	}
	return errors.Join(errs...)
}
