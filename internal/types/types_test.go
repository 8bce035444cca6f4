package types

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestSide(t *testing.T) {
	tests := []struct {
		quantity string
		want     Side
		opposite Side
	}{
		{"0.5", SideLong, SideShort},
		{"-0.5", SideShort, SideLong},
		{"0", SideFlat, SideFlat},
	}

	for _, tt := range tests {
		pos := Position{Symbol: "BTCUSDT", Quantity: d(tt.quantity)}
		if got := pos.Side(); got != tt.want {
			t.Errorf("quantity %s: Side() = %s, want %s", tt.quantity, got, tt.want)
		}
		if got := pos.Side().Opposite(); got != tt.opposite {
			t.Errorf("quantity %s: Opposite() = %s, want %s", tt.quantity, got, tt.opposite)
		}
	}
}

func TestPositionAbsQuantity(t *testing.T) {
	pos := Position{Quantity: d("-0.75")}
	if !pos.AbsQuantity().Equal(d("0.75")) {
		t.Errorf("AbsQuantity() = %s, want 0.75", pos.AbsQuantity())
	}
	if pos.IsFlat() {
		t.Error("IsFlat() = true for an open short")
	}
	if !(Position{}).IsFlat() {
		t.Error("IsFlat() = false for the zero position")
	}
}

func TestExitPlanLevels(t *testing.T) {
	var plan ExitPlan
	if plan.HasProfitTarget() || plan.HasStopLoss() {
		t.Error("zero plan reports set levels")
	}

	plan.ProfitTarget = d("112880.2")
	if !plan.HasProfitTarget() {
		t.Error("HasProfitTarget() = false with a target set")
	}
	if plan.HasStopLoss() {
		t.Error("HasStopLoss() = true with only a target set")
	}
}

func TestSignalTypeStrings(t *testing.T) {
	tests := []struct {
		typ    SignalType
		want   string
		isExit bool
	}{
		{SignalEnter, "ENTER", false},
		{SignalExit, "EXIT", true},
		{SignalSwitchExit, "SWITCH_EXIT", true},
		{SignalSwitchEnter, "SWITCH_ENTER", false},
		{SignalStopTrigger, "STOP_TRIGGER", true},
	}

	for _, tt := range tests {
		if got := tt.typ.String(); got != tt.want {
			t.Errorf("String() = %s, want %s", got, tt.want)
		}
		if got := tt.typ.IsExit(); got != tt.isExit {
			t.Errorf("%s.IsExit() = %v, want %v", tt.want, got, tt.isExit)
		}
	}
}

func TestInsufficientMarginError(t *testing.T) {
	err := &InsufficientMarginError{
		Symbol:    "BTCUSDT",
		Required:  d("10000"),
		Available: d("5000"),
	}

	if !err.Deficit().Equal(d("5000")) {
		t.Errorf("Deficit() = %s, want 5000", err.Deficit())
	}
	for _, want := range []string{"BTCUSDT", "10000", "5000"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Error() = %q, missing %q", err.Error(), want)
		}
	}

	wrapped := fmt.Errorf("execute plan: %w", err)
	if !IsInsufficientMargin(wrapped) {
		t.Error("IsInsufficientMargin() = false for a wrapped margin error")
	}
	if IsInsufficientMargin(errors.New("plain")) {
		t.Error("IsInsufficientMargin() = true for an unrelated error")
	}
	if IsInsufficientMargin(nil) {
		t.Error("IsInsufficientMargin(nil) = true")
	}
}

func TestPlanKindString(t *testing.T) {
	if PlanEntry.String() != "entry" || PlanExit.String() != "exit" {
		t.Errorf("PlanKind strings = %s/%s, want entry/exit", PlanEntry, PlanExit)
	}
}

func TestAgentSnapshotPosition(t *testing.T) {
	snap := AgentSnapshot{
		AgentID: "deepseek",
		Positions: map[string]Position{
			"BTCUSDT": {Symbol: "BTCUSDT", Quantity: d("0.5")},
		},
	}

	if _, ok := snap.Position("BTCUSDT"); !ok {
		t.Error("Position(BTCUSDT) not found")
	}
	if _, ok := snap.Position("ETHUSDT"); ok {
		t.Error("Position(ETHUSDT) found in a snapshot without it")
	}
}
