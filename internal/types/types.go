// Package types defines shared types used across the position tracker.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// UnsetOrderID is the sentinel the signal source uses for "no order".
const UnsetOrderID int64 = -1

// Side represents the direction of a position.
type Side int

const (
	SideFlat Side = iota
	SideLong
	SideShort
)

func (s Side) String() string {
	switch s {
	case SideLong:
		return "LONG"
	case SideShort:
		return "SHORT"
	default:
		return "FLAT"
	}
}

// Opposite returns the opposite side.
func (s Side) Opposite() Side {
	switch s {
	case SideLong:
		return SideShort
	case SideShort:
		return SideLong
	default:
		return SideFlat
	}
}

// ExitPlan holds the profit target and stop loss attached to a position.
// A zero decimal means the level is not set.
type ExitPlan struct {
	ProfitTarget decimal.Decimal
	StopLoss     decimal.Decimal
}

// HasProfitTarget returns true if a profit target is set.
func (p ExitPlan) HasProfitTarget() bool {
	return !p.ProfitTarget.IsZero()
}

// HasStopLoss returns true if a stop loss is set.
func (p ExitPlan) HasStopLoss() bool {
	return !p.StopLoss.IsZero()
}

// Position is one position held by a tracked agent. Quantity is signed:
// positive for long, negative for short, zero for flat.
type Position struct {
	Symbol            string
	Quantity          decimal.Decimal
	EntryOrderID      int64
	EntryPrice        decimal.Decimal
	CurrentPrice      decimal.Decimal
	Leverage          int
	ExitPlan          ExitPlan
	TakeProfitOrderID int64
	StopLossOrderID   int64
}

// Side returns the direction implied by the signed quantity.
func (p Position) Side() Side {
	switch p.Quantity.Sign() {
	case 1:
		return SideLong
	case -1:
		return SideShort
	default:
		return SideFlat
	}
}

// AbsQuantity returns the unsigned quantity.
func (p Position) AbsQuantity() decimal.Decimal {
	return p.Quantity.Abs()
}

// IsFlat returns true if the position has zero quantity.
func (p Position) IsFlat() bool {
	return p.Quantity.IsZero()
}

// AgentSnapshot is one polled view of an agent's positions. It is never
// mutated after construction.
type AgentSnapshot struct {
	AgentID   string
	FetchedAt time.Time
	Positions map[string]Position
}

// Position returns the position for a symbol, if present.
func (s AgentSnapshot) Position(symbol string) (Position, bool) {
	pos, ok := s.Positions[symbol]
	return pos, ok
}

// SignalType classifies a detected position change.
type SignalType int

const (
	SignalEnter SignalType = iota
	SignalExit
	SignalSwitchExit
	SignalSwitchEnter
	SignalStopTrigger
)

func (t SignalType) String() string {
	switch t {
	case SignalEnter:
		return "ENTER"
	case SignalExit:
		return "EXIT"
	case SignalSwitchExit:
		return "SWITCH_EXIT"
	case SignalSwitchEnter:
		return "SWITCH_ENTER"
	case SignalStopTrigger:
		return "STOP_TRIGGER"
	default:
		return "UNKNOWN"
	}
}

// IsExit returns true for signal types that close an existing position.
func (t SignalType) IsExit() bool {
	switch t {
	case SignalExit, SignalSwitchExit, SignalStopTrigger:
		return true
	default:
		return false
	}
}

// Signal represents one detected position change for one symbol.
// For exit-type signals Position is the previous position being closed;
// for entry-type signals it is the new position being opened.
type Signal struct {
	Type     SignalType
	Symbol   string
	Position Position
	Reason   string
}

// PlanKind distinguishes entry plans from exit plans.
type PlanKind int

const (
	PlanEntry PlanKind = iota
	PlanExit
)

func (k PlanKind) String() string {
	if k == PlanExit {
		return "exit"
	}
	return "entry"
}

// TradingPlan is one executable unit derived from a signal. Quantity is
// always positive; Side is the direction of the target position for entries
// and of the position being closed for exits.
type TradingPlan struct {
	Symbol         string
	Side           Side
	Quantity       decimal.Decimal
	Leverage       int
	Kind           PlanKind
	TakeProfit     decimal.Decimal // zero = no protective take-profit leg
	StopLoss       decimal.Decimal // zero = no protective stop-loss leg
	ReferencePrice decimal.Decimal // last price seen on the source position
	SignalType     SignalType
	Reason         string
}

// ExecutionResult is the outcome of executing one trading plan. A filled
// primary order with failed protective legs still reports Success=true;
// the missing leg order ids stay empty and the failures are listed in
// Warnings.
type ExecutionResult struct {
	Plan              TradingPlan
	Success           bool
	OrderID           string
	ClientOrderID     string
	TakeProfitOrderID string
	StopLossOrderID   string
	ExecutedQty       decimal.Decimal
	AvgPrice          decimal.Decimal
	Warnings          []string
	Err               error
	ExecutedAt        time.Time
}

// RiskAssessment is the scored view of a proposed trade.
type RiskAssessment struct {
	Score    int
	Warnings []string
	Valid    bool
}
