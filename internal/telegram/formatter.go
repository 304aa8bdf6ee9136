package telegram

import (
	"fmt"
	"strings"
	"time"

	"github.com/kirillm/riskgate/internal/admission"
	"github.com/kirillm/riskgate/internal/domain"
	"github.com/kirillm/riskgate/internal/gate"
)

// Lang представляет язык
type Lang string

const (
	LangEN Lang = "en"
	LangRU Lang = "ru"
)

// Formatter форматирует уведомления и ответы операторам
type Formatter struct {
	lang Lang
}

// NewFormatter создает новый форматтер
func NewFormatter(lang Lang) *Formatter {
	if lang != LangRU && lang != LangEN {
		lang = LangEN
	}
	return &Formatter{lang: lang}
}

var translations = map[string]map[Lang]string{
	"status":         {LangEN: "Risk gate status", LangRU: "Статус риск-гейта"},
	"breached":       {LangEN: "BREACHED", LangRU: "СРАБОТАЛ"},
	"ok":             {LangEN: "ok", LangRU: "норма"},
	"trigger":        {LangEN: "Circuit breaker triggered", LangRU: "Сработал предохранитель"},
	"reset":          {LangEN: "Circuit breaker reset", LangRU: "Предохранитель сброшен"},
	"threshold":      {LangEN: "Threshold", LangRU: "Порог"},
	"actual":         {LangEN: "Actual", LangRU: "Факт"},
	"capital":        {LangEN: "Capital", LangRU: "Капитал"},
	"operator":       {LangEN: "Operator", LangRU: "Оператор"},
	"manual_reset":   {LangEN: "Trading stays halted until manual reset", LangRU: "Торговля остановлена до ручного сброса"},
	"queue":          {LangEN: "Signal queue", LangRU: "Очередь сигналов"},
	"queue_empty":    {LangEN: "Queue is empty", LangRU: "Очередь пуста"},
	"throttled":      {LangEN: "throttled", LangRU: "снижен размер"},
	"kill_switch":    {LangEN: "Kill switch", LangRU: "Kill switch"},
	"error":          {LangEN: "Error", LangRU: "Ошибка"},
	"access_denied":  {LangEN: "Access denied", LangRU: "Доступ запрещен"},
	"admin_required": {LangEN: "Admin permission required", LangRU: "Требуются права администратора"},
}

// T переводит строку
func (f *Formatter) T(key string) string {
	if trans, ok := translations[key]; ok {
		if val, ok := trans[f.lang]; ok {
			return val
		}
	}
	return key
}

// FormatTrigger уведомление о срабатывании предохранителя
func (f *Formatter) FormatTrigger(record domain.TriggerRecord) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🚨 *%s*: `%s`\n", f.T("trigger"), record.BreakerType)
	fmt.Fprintf(&sb, "%s: %.2f\n", f.T("threshold"), record.ThresholdValue)
	fmt.Fprintf(&sb, "%s: %.2f\n", f.T("actual"), record.ActualValue)
	if record.CapitalSnapshot > 0 {
		fmt.Fprintf(&sb, "%s: %.2f\n", f.T("capital"), record.CapitalSnapshot)
	}
	fmt.Fprintf(&sb, "%s\n", record.TriggeredAt.UTC().Format(time.RFC3339))
	sb.WriteString(f.T("manual_reset"))
	return sb.String()
}

// FormatReset уведомление о сбросе предохранителя
func (f *Formatter) FormatReset(breakerType domain.BreakerType, operatorID string) string {
	return fmt.Sprintf("✅ *%s*: `%s`\n%s: %s", f.T("reset"), breakerType, f.T("operator"), operatorID)
}

// FormatStatus сводка состояния всех предохранителей
func (f *Formatter) FormatStatus(s gate.Snapshot) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 *%s*: %s\n\n", f.T("status"), s.SystemStatus)

	if s.KillSwitch.Active {
		fmt.Fprintf(&sb, "⛔ %s: %s\n", f.T("kill_switch"), s.KillSwitch.Reason)
	}

	fmt.Fprintf(&sb, "`capital_drawdown`: %.2f%% / %.2f%% (peak %.2f) %s\n",
		s.Drawdown.DrawdownPercent, s.Drawdown.ThresholdPercent, s.Drawdown.PeakCapital, f.flag(s.Drawdown.IsBreached))

	snap := s.WinRate.Snapshot
	fmt.Fprintf(&sb, "`rolling_win_rate`: %.2f%% / %.2f%% (%d/%d trades) %s\n",
		snap.WinRatePercent, s.WinRate.ThresholdPercent, snap.TradesInWindow, snap.WindowSize, f.flag(s.WinRate.IsBreached))

	fmt.Fprintf(&sb, "`consecutive_loss`: %d / %d, x%.2f", s.Throttle.ConsecutiveLosses, s.Throttle.Threshold, s.Throttle.SizeMultiplier)
	if s.Throttle.IsThrottled {
		fmt.Fprintf(&sb, " (%s)", f.T("throttled"))
	}
	sb.WriteString("\n")

	fmt.Fprintf(&sb, "`position_limit`: %d / %d, queued %d\n",
		s.Positions.CurrentPositions, s.Positions.MaxPositions, s.Positions.QueuedSignalsCount)
	return sb.String()
}

// FormatQueue список сигналов в очереди
func (f *Formatter) FormatQueue(q admission.QueueStatus) string {
	if q.QueueLength == 0 {
		return "📭 " + f.T("queue_empty")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📋 *%s* (%d/%d)\n", f.T("queue"), q.QueueLength, q.MaxQueueSize)
	for _, s := range q.Signals {
		fmt.Fprintf(&sb, "%d. `%s` expires in %s\n", s.Position, s.SignalID, FormatDuration(time.Duration(s.SecondsRemaining)*time.Second))
	}
	return sb.String()
}

// FormatError форматирует ошибку
func (f *Formatter) FormatError(err error) string {
	return fmt.Sprintf("❌ %s: %v", f.T("error"), err)
}

// FormatSuccess форматирует успешный ответ
func (f *Formatter) FormatSuccess(message string) string {
	return "✅ " + message
}

func (f *Formatter) flag(breached bool) string {
	if breached {
		return "🔴 " + f.T("breached")
	}
	return "🟢 " + f.T("ok")
}

// FormatDuration форматирует длительность
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
