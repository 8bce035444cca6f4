package planner

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/M3R1ttt/nof1-tracker/internal/types"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestBuildEntryPlan(t *testing.T) {
	signals := []types.Signal{{
		Type:   types.SignalEnter,
		Symbol: "BTCUSDT",
		Position: types.Position{
			Symbol:       "BTCUSDT",
			Quantity:     d("0.5"),
			EntryOrderID: 101,
			CurrentPrice: d("111000"),
			Leverage:     10,
			ExitPlan: types.ExitPlan{
				ProfitTarget: d("115000"),
				StopLoss:     d("108000"),
			},
		},
		Reason: "agent opened LONG BTCUSDT",
	}}

	plans := Build(signals)
	if len(plans) != 1 {
		t.Fatalf("Build() returned %d plans, want 1", len(plans))
	}

	plan := plans[0]
	if plan.Kind != types.PlanEntry {
		t.Errorf("plan kind = %s, want entry", plan.Kind)
	}
	if plan.Side != types.SideLong {
		t.Errorf("plan side = %s, want LONG", plan.Side)
	}
	if !plan.Quantity.Equal(d("0.5")) {
		t.Errorf("plan quantity = %s, want 0.5", plan.Quantity)
	}
	if plan.Leverage != 10 {
		t.Errorf("plan leverage = %d, want 10", plan.Leverage)
	}
	if !plan.TakeProfit.Equal(d("115000")) {
		t.Errorf("plan take profit = %s, want 115000", plan.TakeProfit)
	}
	if !plan.StopLoss.Equal(d("108000")) {
		t.Errorf("plan stop loss = %s, want 108000", plan.StopLoss)
	}
	if !plan.ReferencePrice.Equal(d("111000")) {
		t.Errorf("plan reference price = %s, want 111000", plan.ReferencePrice)
	}
}

func TestBuildExitPlanHasNoProtectiveLegs(t *testing.T) {
	signals := []types.Signal{{
		Type:   types.SignalExit,
		Symbol: "BTCUSDT",
		Position: types.Position{
			Symbol:       "BTCUSDT",
			Quantity:     d("-0.3"),
			EntryOrderID: 101,
			Leverage:     8,
			ExitPlan: types.ExitPlan{
				ProfitTarget: d("105000"),
				StopLoss:     d("115000"),
			},
		},
	}}

	plans := Build(signals)
	if len(plans) != 1 {
		t.Fatalf("Build() returned %d plans, want 1", len(plans))
	}

	plan := plans[0]
	if plan.Kind != types.PlanExit {
		t.Errorf("plan kind = %s, want exit", plan.Kind)
	}
	if plan.Side != types.SideShort {
		t.Errorf("plan side = %s, want SHORT (the side being closed)", plan.Side)
	}
	if !plan.Quantity.Equal(d("0.3")) {
		t.Errorf("plan quantity = %s, want unsigned 0.3", plan.Quantity)
	}
	if !plan.TakeProfit.IsZero() || !plan.StopLoss.IsZero() {
		t.Errorf("exit plan carries protective legs: tp=%s sl=%s",
			plan.TakeProfit, plan.StopLoss)
	}
}

func TestBuildPreservesSignalOrder(t *testing.T) {
	old := types.Position{
		Symbol:       "BTCUSDT",
		Quantity:     d("0.5"),
		EntryOrderID: 101,
		Leverage:     10,
	}
	replacement := types.Position{
		Symbol:       "BTCUSDT",
		Quantity:     d("-0.3"),
		EntryOrderID: 202,
		Leverage:     8,
	}
	signals := []types.Signal{
		{Type: types.SignalSwitchExit, Symbol: "BTCUSDT", Position: old},
		{Type: types.SignalSwitchEnter, Symbol: "BTCUSDT", Position: replacement},
	}

	plans := Build(signals)
	if len(plans) != 2 {
		t.Fatalf("Build() returned %d plans, want 2", len(plans))
	}
	if plans[0].Kind != types.PlanExit {
		t.Errorf("plans[0].Kind = %s, want exit before enter", plans[0].Kind)
	}
	if plans[1].Kind != types.PlanEntry {
		t.Errorf("plans[1].Kind = %s, want entry after exit", plans[1].Kind)
	}
	if plans[1].Side != types.SideShort {
		t.Errorf("plans[1].Side = %s, want SHORT", plans[1].Side)
	}
}

func TestBuildSkipsFlatPositions(t *testing.T) {
	signals := []types.Signal{{
		Type:     types.SignalEnter,
		Symbol:   "BTCUSDT",
		Position: types.Position{Symbol: "BTCUSDT"},
	}}

	if plans := Build(signals); len(plans) != 0 {
		t.Errorf("Build() returned %d plans for a flat position, want 0", len(plans))
	}
}

func TestBuildDoesNotMergeAcrossSymbols(t *testing.T) {
	long := types.Position{
		Symbol: "BTCUSDT", Quantity: d("0.5"), EntryOrderID: 101, Leverage: 10,
	}
	short := types.Position{
		Symbol: "ETHUSDT", Quantity: d("-2"), EntryOrderID: 102, Leverage: 5,
	}
	signals := []types.Signal{
		{Type: types.SignalEnter, Symbol: "BTCUSDT", Position: long},
		{Type: types.SignalEnter, Symbol: "ETHUSDT", Position: short},
	}

	plans := Build(signals)
	if len(plans) != 2 {
		t.Fatalf("Build() returned %d plans, want one per signal", len(plans))
	}
	if plans[0].Symbol != "BTCUSDT" || plans[1].Symbol != "ETHUSDT" {
		t.Errorf("plan symbols = %s, %s; want BTCUSDT, ETHUSDT",
			plans[0].Symbol, plans[1].Symbol)
	}
}
