package execution

import (
	"fmt"
	"log/slog"
	"os"

	"perp_go/internal/exchange"
)

// Mode selects how fills are produced.
type Mode string

const (
	ModeBacktest Mode = "BACKTEST"
	ModePaper    Mode = "PAPER"
	ModeLive     Mode = "LIVE"
)

// New returns the executor for a mode. Live mode is behind a safety
// latch: without CONFIRM_REAL_MONEY=true in the environment the process
// refuses to start rather than quietly trading real funds.
func New(mode Mode, submitter *exchange.Submitter) (Execution, error) {
	slog.Info("initializing execution", slog.String("mode", string(mode)))

	switch mode {
	case ModeBacktest:
		return NewSim(), nil

	case ModePaper:
		return NewPaper(), nil

	case ModeLive:
		if os.Getenv("CONFIRM_REAL_MONEY") != "true" {
			return nil, fmt.Errorf("live trading requires CONFIRM_REAL_MONEY=true")
		}
		if submitter == nil {
			return nil, fmt.Errorf("live mode needs an exchange submitter")
		}
		slog.Warn("LIVE trading enabled: real orders will be placed")
		return NewLive(submitter), nil

	default:
		return nil, fmt.Errorf("unknown execution mode: %s", mode)
	}
}
