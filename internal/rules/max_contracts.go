package rules

import (
	"context"
	"fmt"

	"github.com/eddiefleurent/riskd/internal/broker"
	"github.com/eddiefleurent/riskd/internal/riskmodel"
)

func init() {
	register("max_contracts", func() Rule { return &maxContractsRule{} })
}

// maxContractsRule breaches when a contract's net position size exceeds a
// configured cap (spec §4.6). Its default enforcement action is flatten;
// parameters.enforcement may override that to kill_switch (supplemental,
// grounded on project-x-py's max_contracts.py).
type maxContractsRule struct{}

func (r *maxContractsRule) Check(
	ctx context.Context,
	ev riskmodel.Event,
	cfg riskmodel.RuleDescriptor,
	brk broker.Broker,
	_ bool,
	_ float64,
) (riskmodel.BreachResult, error) {
	limit, ok := intParam(cfg.Parameters, "max_contracts")
	if !ok {
		return riskmodel.BreachResult{Status: riskmodel.StatusValid}, nil
	}
	action := enforcementAction(cfg.Parameters)

	switch p := ev.Payload.(type) {
	case riskmodel.PositionUpdatedPayload:
		if abs(p.Size) > limit {
			return breach(p.ContractID, action,
				fmt.Sprintf("position size %d exceeds max_contracts=%d", abs(p.Size), limit)), nil
		}
		return riskmodel.BreachResult{Status: riskmodel.StatusValid}, nil

	case riskmodel.OrderFilledPayload:
		projected, err := projectedNetSize(ctx, brk, p)
		if err != nil {
			// Conservative fallback (spec §4.6): judge the fill alone.
			if p.Size > limit {
				return breach(p.ContractID, action,
					fmt.Sprintf("fill size %d exceeds max_contracts=%d (broker query unavailable)", p.Size, limit)), nil
			}
			return riskmodel.BreachResult{Status: riskmodel.StatusValid}, nil
		}
		if abs(projected) > limit {
			return breach(p.ContractID, action,
				fmt.Sprintf("projected position %d exceeds max_contracts=%d", abs(projected), limit)), nil
		}
		return riskmodel.BreachResult{Status: riskmodel.StatusValid}, nil

	default:
		return riskmodel.BreachResult{Status: riskmodel.StatusValid}, nil
	}
}

func projectedNetSize(ctx context.Context, brk broker.Broker, fill riskmodel.OrderFilledPayload) (int, error) {
	pos, err := brk.GetPosition(ctx, fill.ContractID)
	if err != nil {
		return 0, err
	}
	current := pos.Size
	if fill.Side == riskmodel.Sell {
		return current - fill.Size, nil
	}
	return current + fill.Size, nil
}

func breach(contract riskmodel.ContractID, action riskmodel.BreachAction, reason string) riskmodel.BreachResult {
	return riskmodel.BreachResult{
		Status:         riskmodel.StatusBreach,
		Reason:         reason,
		Action:         action,
		TargetContract: contract,
	}
}

func enforcementAction(params map[string]any) riskmodel.BreachAction {
	if v, ok := params["enforcement"].(string); ok && v == "kill_switch" {
		return riskmodel.ActionKillSwitch
	}
	return riskmodel.ActionFlatten
}

func intParam(params map[string]any, key string) (int, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
