package gate

import (
	"context"
	"fmt"

	"github.com/kirillm/riskgate/internal/admission"
	"github.com/kirillm/riskgate/internal/domain"
	"github.com/kirillm/riskgate/internal/monitoring"
	"github.com/kirillm/riskgate/pkg/utils"
)

// Action итоговое решение по сигналу
type Action string

const (
	ActionAdmit Action = "admit"
	ActionQueue Action = "queue"
	ActionBlock Action = "block"
)

// Signal торговый сигнал, претендующий на капитал
type Signal struct {
	SignalID       string                 `json:"signal_id"`
	BaseSize       float64                `json:"base_size"`
	CurrentCapital *float64               `json:"current_capital,omitempty"`
	Data           map[string]interface{} `json:"signal_data,omitempty"`
}

// Verdict решение RiskGate
type Verdict struct {
	Action         Action             `json:"action"`
	SizeMultiplier float64            `json:"size_multiplier"`
	AdjustedSize   float64            `json:"adjusted_size"`
	BlockedBy      domain.BreakerType `json:"blocked_by,omitempty"`
	Reason         string             `json:"reason,omitempty"`
	QueuePosition  int                `json:"queue_position,omitempty"`
	QueuedSignalID string             `json:"queued_signal_id,omitempty"`
	WinRateCaution bool               `json:"win_rate_caution,omitempty"`
}

// Executor внешний исполнитель ордеров
type Executor interface {
	ExecuteSignal(ctx context.Context, signal Signal, size float64) error
}

// Gate последовательно применяет жесткие предохранители, throttle и лимит позиций
type Gate struct {
	reg    *Registry
	logger *utils.Logger
}

// New создает RiskGate поверх реестра
func New(reg *Registry, logger *utils.Logger) *Gate {
	return &Gate{reg: reg, logger: logger.Named("gate")}
}

// Registry возвращает реестр компонентов
func (g *Gate) Registry() *Registry {
	return g.reg
}

// Evaluate выносит решение по сигналу. Ошибка означает недоступность проверки:
// вызывающая сторона должна считать сигнал недопущенным.
func (g *Gate) Evaluate(ctx context.Context, signal Signal) (Verdict, error) {
	if signal.SignalID == "" {
		return Verdict{}, fmt.Errorf("%w: signal_id is required", domain.ErrInvalidInput)
	}

	verdict, err := g.evaluate(ctx, signal)
	if err != nil {
		monitoring.RecordError("gate_evaluate")
		g.logger.Error("evaluate %s failed, failing closed: %v", signal.SignalID, err)
		return Verdict{}, err
	}

	monitoring.RecordDecision(string(verdict.Action))
	g.logger.Debug("signal %s: %s x%.2f %s", signal.SignalID, verdict.Action, verdict.SizeMultiplier, verdict.Reason)
	return verdict, nil
}

func (g *Gate) evaluate(ctx context.Context, signal Signal) (Verdict, error) {
	reg := g.reg

	if reg.KillSwitch.IsActive() {
		return g.block(ctx, signal, domain.BreakerKillSwitch, "trading halted: "+reg.KillSwitch.Status().Reason)
	}

	// Жесткие предохранители: при срабатывании очередь не трогаем
	if signal.CurrentCapital != nil {
		res, err := reg.Drawdown.CheckDrawdown(ctx, *signal.CurrentCapital)
		if err != nil {
			return Verdict{}, err
		}
		if res.Trigger != nil {
			if err := reg.SyncSystemStatus(ctx); err != nil {
				return Verdict{}, err
			}
		}
		if res.IsBreached {
			return g.block(ctx, signal, domain.BreakerCapitalDrawdown,
				fmt.Sprintf("drawdown %.2f%% reached threshold %.2f%%", res.DrawdownPercent, res.ThresholdPercent))
		}
	} else if reg.Drawdown.IsBreached() {
		return g.block(ctx, signal, domain.BreakerCapitalDrawdown, "drawdown breaker active")
	}

	wr, err := reg.WinRate.CheckWinRate(ctx)
	if err != nil {
		return Verdict{}, err
	}
	if wr.Trigger != nil {
		if err := reg.SyncSystemStatus(ctx); err != nil {
			return Verdict{}, err
		}
	}
	// Активный триггер держит блокировку даже если в окне недостаточно сделок
	if wr.IsBreached || wr.ActiveTrigger.IsActive() {
		return g.block(ctx, signal, domain.BreakerRollingWinRate, wr.Message)
	}

	multiplier := reg.Throttle.Multiplier()
	verdict := Verdict{
		SizeMultiplier: multiplier,
		AdjustedSize:   signal.BaseSize * multiplier,
		WinRateCaution: wr.IsCaution,
	}

	decision, err := reg.Positions.RequestPosition(ctx, signal.SignalID, g.signalData(signal, verdict))
	if err != nil {
		return Verdict{}, err
	}

	switch decision.Outcome {
	case admission.OutcomeAllowed:
		verdict.Action = ActionAdmit
	case admission.OutcomeQueued:
		verdict.Action = ActionQueue
		verdict.QueuePosition = decision.QueuePosition
		verdict.QueuedSignalID = decision.QueuedSignalID
		verdict.Reason = decision.Reason
	default:
		verdict.Action = ActionBlock
		verdict.BlockedBy = domain.BreakerPositionLimit
		verdict.Reason = decision.Reason
	}
	return verdict, nil
}

// block сохраняет аудит-запись и возвращает блокирующий вердикт
func (g *Gate) block(ctx context.Context, signal Signal, by domain.BreakerType, reason string) (Verdict, error) {
	blocked := &domain.BlockedSignal{
		SignalID:    signal.SignalID,
		BreakerType: by,
		Reason:      reason,
		SignalData:  signal.Data,
	}
	if err := g.reg.store.SaveBlockedSignal(ctx, blocked); err != nil {
		return Verdict{}, fmt.Errorf("save blocked signal: %w: %w", domain.ErrPersistence, err)
	}

	g.logger.Info("signal %s blocked by %s: %s", signal.SignalID, by, reason)
	return Verdict{
		Action:         ActionBlock,
		SizeMultiplier: 0,
		BlockedBy:      by,
		Reason:         reason,
	}, nil
}

// signalData дополняет данные сигнала размером, чтобы колбэк исполнения
// получил его после извлечения из очереди
func (g *Gate) signalData(signal Signal, verdict Verdict) map[string]interface{} {
	data := make(map[string]interface{}, len(signal.Data)+3)
	for k, v := range signal.Data {
		data[k] = v
	}
	data["signal_id"] = signal.SignalID
	data["base_size"] = signal.BaseSize
	data["adjusted_size"] = verdict.AdjustedSize
	return data
}

// RecordTrade передает результат закрытой сделки в win rate предохранитель и throttle.
// После частичного сбоя вызов можно повторить: win rate пропустит сделку,
// уже попавшую в окно, а throttle не меняет серию, пока не сохранит ее.
func (g *Gate) RecordTrade(ctx context.Context, outcome domain.TradeOutcome) error {
	if err := g.reg.WinRate.AddTrade(ctx, outcome); err != nil {
		return err
	}
	return g.reg.Throttle.RecordOutcome(ctx, outcome)
}

// Execute оценивает сигнал и передает допущенный исполнителю со скорректированным размером.
// Поставленный в очередь сигнал исполнится позже через колбэк контроллера.
func (g *Gate) Execute(ctx context.Context, signal Signal, executor Executor) (Verdict, error) {
	verdict, err := g.Evaluate(ctx, signal)
	if err != nil {
		return Verdict{}, err
	}
	if verdict.Action != ActionAdmit {
		return verdict, nil
	}

	if err := executor.ExecuteSignal(ctx, signal, verdict.AdjustedSize); err != nil {
		// Слот не был занят: возвращаем его
		if _, closeErr := g.reg.Positions.OnPositionClosed(ctx, "failed:"+signal.SignalID); closeErr != nil {
			g.logger.Error("failed to release slot for %s: %v", signal.SignalID, closeErr)
		}
		return verdict, fmt.Errorf("execute signal %s: %w", signal.SignalID, err)
	}
	return verdict, nil
}
