package rules

import (
	"context"
	"fmt"

	"github.com/eddiefleurent/riskd/internal/broker"
	"github.com/eddiefleurent/riskd/internal/riskmodel"
)

func init() {
	register("daily_loss", func() Rule { return &dailyLossRule{} })
}

// dailyLossRule is the account-wide kill switch: once the session's
// realized P&L breaches -max_usd, trading locks out until the next reset
// (spec §4.6).
//
// currentDailyPnL is read *after* the P&L engine has already applied this
// event's delta (spec §9 open question, resolved): this rule therefore
// tests current_daily_pnl < -max_usd directly rather than re-adding a
// delta of its own, which would double-count.
type dailyLossRule struct{}

func (r *dailyLossRule) Check(
	_ context.Context,
	ev riskmodel.Event,
	cfg riskmodel.RuleDescriptor,
	_ broker.Broker,
	_ bool,
	currentDailyPnL float64,
) (riskmodel.BreachResult, error) {
	maxUSD, ok := floatParam(cfg.Parameters, "max_usd")
	if !ok {
		return riskmodel.BreachResult{Status: riskmodel.StatusValid}, nil
	}

	switch ev.Kind {
	case riskmodel.PositionClosed, riskmodel.PositionPnlUpdate:
	default:
		return riskmodel.BreachResult{Status: riskmodel.StatusValid}, nil
	}

	if currentDailyPnL < -maxUSD {
		return riskmodel.BreachResult{
			Status: riskmodel.StatusBreach,
			Reason: fmt.Sprintf("daily realized P&L %.2f breaches -%.2f", currentDailyPnL, maxUSD),
			Action: riskmodel.ActionKillSwitch,
		}, nil
	}
	return riskmodel.BreachResult{Status: riskmodel.StatusValid}, nil
}

func floatParam(params map[string]any, key string) (float64, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
