package telegram

import (
	"fmt"
	"strings"

	"github.com/kirillm/riskgate/internal/domain"
)

// CommandArgs распарсенная команда оператора
type CommandArgs struct {
	Command      string
	Breaker      domain.BreakerType // для /reset
	ClearHistory bool               // /reset winrate clear
	Reason       string             // для /halt
	Raw          []string
}

// Operator commands
const (
	CmdStart  = "start"
	CmdHelp   = "help"
	CmdStatus = "status"
	CmdQueue  = "queue"
	CmdReset  = "reset"
	CmdHalt   = "halt"
	CmdResume = "resume"
)

var breakerAliases = map[string]domain.BreakerType{
	"drawdown":         domain.BreakerCapitalDrawdown,
	"capital_drawdown": domain.BreakerCapitalDrawdown,
	"winrate":          domain.BreakerRollingWinRate,
	"rolling_win_rate": domain.BreakerRollingWinRate,
	"throttle":         domain.BreakerConsecutiveLoss,
	"consecutive_loss": domain.BreakerConsecutiveLoss,
}

// ParseCommand парсит команду и аргументы
func ParseCommand(text string) (*CommandArgs, error) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return nil, fmt.Errorf("not a command")
	}

	parts := strings.Fields(text)
	// /status@riskgate_bot в группах
	cmd := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	if i := strings.Index(cmd, "@"); i >= 0 {
		cmd = cmd[:i]
	}
	if cmd == "" {
		return nil, fmt.Errorf("empty command")
	}

	args := &CommandArgs{
		Command: cmd,
		Raw:     parts[1:],
	}

	switch cmd {
	case CmdStart, CmdHelp, CmdStatus, CmdQueue, CmdResume:
		return args, nil

	case CmdHalt:
		// /halt [reason...]
		args.Reason = strings.Join(parts[1:], " ")
		return args, nil

	case CmdReset:
		// /reset <drawdown|winrate|throttle> [clear]
		if len(parts) < 2 {
			return nil, fmt.Errorf("usage: /reset <drawdown|winrate|throttle> [clear]")
		}
		bt, ok := breakerAliases[strings.ToLower(parts[1])]
		if !ok {
			return nil, fmt.Errorf("unknown breaker %q", parts[1])
		}
		args.Breaker = bt
		if len(parts) >= 3 {
			if strings.ToLower(parts[2]) != "clear" || bt != domain.BreakerRollingWinRate {
				return nil, fmt.Errorf("only /reset winrate accepts 'clear'")
			}
			args.ClearHistory = true
		}
		return args, nil

	default:
		return nil, fmt.Errorf("unknown command /%s", cmd)
	}
}
