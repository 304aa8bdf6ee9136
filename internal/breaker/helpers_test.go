package breaker

import (
	"io"
	"time"

	"github.com/kirillm/riskgate/internal/domain"
	"github.com/kirillm/riskgate/pkg/utils"
)

func testLogger() *utils.Logger {
	return utils.NewLoggerTo(io.Discard, "error")
}

type recordingNotifier struct {
	triggers []domain.TriggerRecord
	resets   []string
}

func (n *recordingNotifier) NotifyTrigger(record domain.TriggerRecord) {
	n.triggers = append(n.triggers, record)
}

func (n *recordingNotifier) NotifyReset(breakerType domain.BreakerType, operatorID string) {
	n.resets = append(n.resets, string(breakerType)+":"+operatorID)
}

func outcome(id string, win bool, pnl float64) domain.TradeOutcome {
	return domain.TradeOutcome{TradeID: id, IsWin: win, PnLPercent: pnl, ClosedAt: time.Now()}
}
