// Package planner turns detected signals into executable trading plans.
package planner

import (
	"github.com/M3R1ttt/nof1-tracker/internal/types"
)

// Build maps each signal to one trading plan, preserving the detector's
// emission order so a SWITCH_EXIT plan always precedes its SWITCH_ENTER.
// Plans are never merged or netted across symbols or signals; each is an
// independent unit with its own failure domain.
func Build(signals []types.Signal) []types.TradingPlan {
	plans := make([]types.TradingPlan, 0, len(signals))
	for _, sig := range signals {
		if plan, ok := planFor(sig); ok {
			plans = append(plans, plan)
		}
	}
	return plans
}

func planFor(sig types.Signal) (types.TradingPlan, bool) {
	pos := sig.Position
	if pos.IsFlat() {
		return types.TradingPlan{}, false
	}

	plan := types.TradingPlan{
		Symbol:         sig.Symbol,
		Quantity:       pos.AbsQuantity(),
		Leverage:       pos.Leverage,
		ReferencePrice: pos.CurrentPrice,
		SignalType:     sig.Type,
		Reason:         sig.Reason,
	}

	if sig.Type.IsExit() {
		// Close the previous position: opposite side, absolute quantity,
		// no protective legs.
		plan.Side = pos.Side()
		plan.Kind = types.PlanExit
		return plan, true
	}

	plan.Side = pos.Side()
	plan.Kind = types.PlanEntry
	plan.TakeProfit = pos.ExitPlan.ProfitTarget
	plan.StopLoss = pos.ExitPlan.StopLoss
	return plan, true
}
