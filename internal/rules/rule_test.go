package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/riskd/internal/broker"
	"github.com/eddiefleurent/riskd/internal/riskmodel"
)

const mnq riskmodel.ContractID = "CON.F.US.MNQ.Z25"

func maxContractsDescriptor(limit int, enforcement string) riskmodel.RuleDescriptor {
	params := map[string]any{"max_contracts": float64(limit)}
	if enforcement != "" {
		params["enforcement"] = enforcement
	}
	return riskmodel.RuleDescriptor{Name: "max_contracts", Enabled: true, Parameters: params}
}

func TestMaxContractsBreachesOnPositionUpdatedOversize(t *testing.T) {
	rule, _ := NewRegistry().Build("max_contracts")
	result, err := rule.Check(context.Background(), riskmodel.Event{
		Kind:    riskmodel.PositionUpdated,
		Payload: riskmodel.PositionUpdatedPayload{ContractID: mnq, Size: 5},
	}, maxContractsDescriptor(4, ""), broker.NewMockBroker(), true, 0)
	require.NoError(t, err)
	assert.Equal(t, riskmodel.StatusBreach, result.Status)
	assert.Equal(t, riskmodel.ActionFlatten, result.Action)
}

func TestMaxContractsValidWithinLimit(t *testing.T) {
	rule, _ := NewRegistry().Build("max_contracts")
	result, err := rule.Check(context.Background(), riskmodel.Event{
		Kind:    riskmodel.PositionUpdated,
		Payload: riskmodel.PositionUpdatedPayload{ContractID: mnq, Size: 3},
	}, maxContractsDescriptor(4, ""), broker.NewMockBroker(), true, 0)
	require.NoError(t, err)
	assert.Equal(t, riskmodel.StatusValid, result.Status)
}

func TestMaxContractsEnforcementOverrideToKillSwitch(t *testing.T) {
	rule, _ := NewRegistry().Build("max_contracts")
	result, err := rule.Check(context.Background(), riskmodel.Event{
		Kind:    riskmodel.PositionUpdated,
		Payload: riskmodel.PositionUpdatedPayload{ContractID: mnq, Size: 10},
	}, maxContractsDescriptor(4, "kill_switch"), broker.NewMockBroker(), true, 0)
	require.NoError(t, err)
	assert.Equal(t, riskmodel.ActionKillSwitch, result.Action)
}

func TestMaxContractsOrderFilledProjectsNetSize(t *testing.T) {
	brk := broker.NewMockBroker()
	brk.Positions[mnq] = &broker.Position{ContractID: mnq, Size: 3}

	rule, _ := NewRegistry().Build("max_contracts")
	result, err := rule.Check(context.Background(), riskmodel.Event{
		Kind:    riskmodel.OrderFilled,
		Payload: riskmodel.OrderFilledPayload{ContractID: mnq, Side: riskmodel.Buy, Size: 2},
	}, maxContractsDescriptor(4, ""), brk, true, 0)
	require.NoError(t, err)
	assert.Equal(t, riskmodel.StatusBreach, result.Status, "projected 3+2=5 > 4")
}

func TestMaxContractsOrderFilledSellReducesProjection(t *testing.T) {
	brk := broker.NewMockBroker()
	brk.Positions[mnq] = &broker.Position{ContractID: mnq, Size: 5}

	rule, _ := NewRegistry().Build("max_contracts")
	result, err := rule.Check(context.Background(), riskmodel.Event{
		Kind:    riskmodel.OrderFilled,
		Payload: riskmodel.OrderFilledPayload{ContractID: mnq, Side: riskmodel.Sell, Size: 2},
	}, maxContractsDescriptor(4, ""), brk, true, 0)
	require.NoError(t, err)
	assert.Equal(t, riskmodel.StatusValid, result.Status, "projected 5-2=3 <= 4")
}

func TestMaxContractsOrderFilledFallsBackConservativelyOnBrokerError(t *testing.T) {
	brk := broker.NewMockBroker()
	brk.Errs["GetPosition"] = assert.AnError

	rule, _ := NewRegistry().Build("max_contracts")
	result, err := rule.Check(context.Background(), riskmodel.Event{
		Kind:    riskmodel.OrderFilled,
		Payload: riskmodel.OrderFilledPayload{ContractID: mnq, Side: riskmodel.Buy, Size: 5},
	}, maxContractsDescriptor(4, ""), brk, true, 0)
	require.NoError(t, err)
	assert.Equal(t, riskmodel.StatusBreach, result.Status, "fill size 5 alone exceeds 4")
}

func TestMaxContractsOrderFilledFallbackValidWhenFillAloneWithinLimit(t *testing.T) {
	brk := broker.NewMockBroker()
	brk.Errs["GetPosition"] = assert.AnError

	rule, _ := NewRegistry().Build("max_contracts")
	result, err := rule.Check(context.Background(), riskmodel.Event{
		Kind:    riskmodel.OrderFilled,
		Payload: riskmodel.OrderFilledPayload{ContractID: mnq, Side: riskmodel.Buy, Size: 2},
	}, maxContractsDescriptor(4, ""), brk, true, 0)
	require.NoError(t, err)
	assert.Equal(t, riskmodel.StatusValid, result.Status)
}

func dailyLossDescriptor(maxUSD float64) riskmodel.RuleDescriptor {
	return riskmodel.RuleDescriptor{
		Name: "daily_loss", Enabled: true,
		Parameters: map[string]any{"max_usd": maxUSD},
	}
}

func TestDailyLossBreachesWhenPostUpdateAccumulatorExceedsLimit(t *testing.T) {
	rule, _ := NewRegistry().Build("daily_loss")
	result, err := rule.Check(context.Background(), riskmodel.Event{
		Kind:    riskmodel.PositionClosed,
		Payload: riskmodel.PositionClosedPayload{ContractID: mnq, PnL: -10},
	}, dailyLossDescriptor(200), broker.NewMockBroker(), true, -205)
	require.NoError(t, err)
	assert.Equal(t, riskmodel.StatusBreach, result.Status)
	assert.Equal(t, riskmodel.ActionKillSwitch, result.Action)
}

func TestDailyLossValidWhenWithinLimit(t *testing.T) {
	rule, _ := NewRegistry().Build("daily_loss")
	result, err := rule.Check(context.Background(), riskmodel.Event{
		Kind:    riskmodel.PositionPnlUpdate,
		Payload: riskmodel.PositionPnlUpdatePayload{ContractID: mnq, RealizedPnL: -10},
	}, dailyLossDescriptor(200), broker.NewMockBroker(), true, -150)
	require.NoError(t, err)
	assert.Equal(t, riskmodel.StatusValid, result.Status)
}

func TestDailyLossIgnoresOtherEventKinds(t *testing.T) {
	rule, _ := NewRegistry().Build("daily_loss")
	result, err := rule.Check(context.Background(), riskmodel.Event{
		Kind:    riskmodel.PositionUpdated,
		Payload: riskmodel.PositionUpdatedPayload{ContractID: mnq, Size: 2},
	}, dailyLossDescriptor(200), broker.NewMockBroker(), true, -9999)
	require.NoError(t, err)
	assert.Equal(t, riskmodel.StatusValid, result.Status)
}

func TestRegistryBuildUnknownNameReportsNotOK(t *testing.T) {
	_, ok := NewRegistry().Build("not_a_real_rule")
	assert.False(t, ok)
}

func TestEvaluateAllShortCircuitsOnFirstBreach(t *testing.T) {
	reg := NewRegistry()
	descs := []riskmodel.RuleDescriptor{
		maxContractsDescriptor(4, ""),
		dailyLossDescriptor(10),
	}
	ev := riskmodel.Event{
		Kind:    riskmodel.PositionUpdated,
		Payload: riskmodel.PositionUpdatedPayload{ContractID: mnq, Size: 10},
	}
	result, name, err := reg.EvaluateAll(context.Background(), ev, descs, broker.NewMockBroker(), true, -9999, nil)
	require.NoError(t, err)
	assert.Equal(t, "max_contracts", name)
	assert.Equal(t, riskmodel.StatusBreach, result.Status)
}

func TestEvaluateAllSkipsDisabledRules(t *testing.T) {
	reg := NewRegistry()
	desc := maxContractsDescriptor(4, "")
	desc.Enabled = false
	ev := riskmodel.Event{
		Kind:    riskmodel.PositionUpdated,
		Payload: riskmodel.PositionUpdatedPayload{ContractID: mnq, Size: 10},
	}
	result, name, err := reg.EvaluateAll(context.Background(), ev, []riskmodel.RuleDescriptor{desc}, broker.NewMockBroker(), true, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, riskmodel.StatusValid, result.Status)
	assert.Empty(t, name)
}

func TestEvaluateAllReportsUnknownRuleWithoutAborting(t *testing.T) {
	reg := NewRegistry()
	unknownSeen := ""
	descs := []riskmodel.RuleDescriptor{
		{Name: "not_registered", Enabled: true},
		dailyLossDescriptor(10),
	}
	ev := riskmodel.Event{
		Kind:    riskmodel.PositionClosed,
		Payload: riskmodel.PositionClosedPayload{ContractID: mnq, PnL: -5},
	}
	result, name, err := reg.EvaluateAll(context.Background(), ev, descs, broker.NewMockBroker(), true, -20,
		func(n string) { unknownSeen = n })
	require.NoError(t, err)
	assert.Equal(t, "not_registered", unknownSeen)
	assert.Equal(t, "daily_loss", name)
	assert.Equal(t, riskmodel.StatusBreach, result.Status)
}
