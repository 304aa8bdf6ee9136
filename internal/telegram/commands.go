package telegram

import (
	"context"
	"fmt"
	"strings"

	"github.com/kirillm/riskgate/internal/domain"
	"github.com/kirillm/riskgate/internal/gate"
)

const helpText = `Risk gate commands:
/status - breaker and position limit status
/queue - signals waiting for a slot
/reset <drawdown|winrate|throttle> [clear] - manual breaker reset
/halt [reason] - stop admitting signals
/resume - release the kill switch`

// RegisterCommands подключает команды операторов к реестру
func (b *Bot) RegisterCommands(reg *gate.Registry) {
	r := b.router
	f := b.formatter

	help := func(ctx context.Context, userID int64, args *CommandArgs) (string, error) {
		return helpText, nil
	}
	r.RegisterHandler(CmdStart, help)
	r.RegisterHandler(CmdHelp, help)

	r.RegisterHandler(CmdStatus, func(ctx context.Context, userID int64, args *CommandArgs) (string, error) {
		return f.FormatStatus(reg.Snapshot()), nil
	})

	r.RegisterHandler(CmdQueue, func(ctx context.Context, userID int64, args *CommandArgs) (string, error) {
		q, err := reg.Positions.QueueStatus(ctx)
		if err != nil {
			return "", err
		}
		return f.FormatQueue(q), nil
	})

	r.RegisterAdminHandler(CmdReset, func(ctx context.Context, userID int64, args *CommandArgs) (string, error) {
		operator := operatorID(userID)

		var err error
		switch args.Breaker {
		case domain.BreakerCapitalDrawdown:
			err = reg.Drawdown.Reset(ctx, operator, nil)
		case domain.BreakerRollingWinRate:
			err = reg.WinRate.Reset(ctx, operator, args.ClearHistory)
		case domain.BreakerConsecutiveLoss:
			err = reg.Throttle.ManualReset(ctx, operator)
		default:
			err = fmt.Errorf("%w: unknown breaker %s", domain.ErrInvalidInput, args.Breaker)
		}
		if err != nil {
			return "", err
		}
		if err := reg.SyncSystemStatus(ctx); err != nil {
			return "", err
		}
		return f.FormatSuccess(fmt.Sprintf("`%s` reset, system %s", args.Breaker, reg.SystemStatus())), nil
	})

	r.RegisterAdminHandler(CmdHalt, func(ctx context.Context, userID int64, args *CommandArgs) (string, error) {
		if err := reg.KillSwitch.Activate(ctx, operatorID(userID), args.Reason); err != nil {
			return "", err
		}
		if err := reg.SyncSystemStatus(ctx); err != nil {
			return "", err
		}
		return "⛔ " + strings.TrimSpace("trading halted "+args.Reason), nil
	})

	r.RegisterAdminHandler(CmdResume, func(ctx context.Context, userID int64, args *CommandArgs) (string, error) {
		if err := reg.KillSwitch.Deactivate(ctx, operatorID(userID)); err != nil {
			return "", err
		}
		if err := reg.SyncSystemStatus(ctx); err != nil {
			return "", err
		}
		return f.FormatSuccess("kill switch released, system " + reg.SystemStatus()), nil
	})
}

func operatorID(userID int64) string {
	return fmt.Sprintf("telegram:%d", userID)
}
