// Package detector diffs successive agent position snapshots into typed
// trading signals.
package detector

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/M3R1ttt/nof1-tracker/internal/types"
)

// Detector classifies per-symbol position changes between two snapshots of
// the same agent. It holds no state of its own; the previous snapshot is
// supplied by the caller, so detection is a pure function of its inputs.
type Detector struct {
	logger *slog.Logger
}

// New creates a new detector.
func New(logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{logger: logger}
}

// Detect compares the previous snapshot (nil meaning the agent has never
// been polled) with the new one and returns the ordered signal list.
//
// Symbols are processed independently in sorted order. Each symbol yields
// at most one outcome, evaluated in strict priority:
//
//  1. entry order id rotated while quantity stays nonzero: a switch,
//     emitted as an adjacent SWITCH_EXIT / SWITCH_ENTER pair so downstream
//     execution closes before it opens;
//  2. symbol absent before, nonzero now: ENTER;
//  3. nonzero before, zero (or gone) now: EXIT;
//  4. position unchanged but current price crossed its exit plan: STOP_TRIGGER;
//  5. anything else, including a quantity change under the same entry order
//     id, is a no-op.
//
// A malformed snapshot aborts the whole diff with ErrMalformedSnapshot and
// no signals; callers must not advance session state in that case.
func (d *Detector) Detect(prev *types.AgentSnapshot, next types.AgentSnapshot) ([]types.Signal, error) {
	if err := validateSnapshot(next); err != nil {
		return nil, err
	}
	if prev != nil {
		if err := validateSnapshot(*prev); err != nil {
			return nil, err
		}
	}

	var signals []types.Signal
	for _, symbol := range unionSymbols(prev, next) {
		signals = append(signals, d.classify(prev, next, symbol)...)
	}

	return signals, nil
}

// classify evaluates one symbol and returns zero, one, or (for a switch)
// two signals.
func (d *Detector) classify(prev *types.AgentSnapshot, next types.AgentSnapshot, symbol string) []types.Signal {
	newPos, inNew := next.Position(symbol)

	var oldPos types.Position
	inOld := false
	if prev != nil {
		oldPos, inOld = prev.Position(symbol)
	}

	switch {
	case inOld && inNew && oldPos.EntryOrderID != newPos.EntryOrderID && !newPos.IsFlat():
		d.logger.Debug("switch detected",
			"symbol", symbol,
			"old_entry_oid", oldPos.EntryOrderID,
			"new_entry_oid", newPos.EntryOrderID,
		)
		return []types.Signal{
			{
				Type:     types.SignalSwitchExit,
				Symbol:   symbol,
				Position: oldPos,
				Reason: fmt.Sprintf("entry order rotated %d -> %d, closing %s %s",
					oldPos.EntryOrderID, newPos.EntryOrderID, oldPos.Side(), symbol),
			},
			{
				Type:     types.SignalSwitchEnter,
				Symbol:   symbol,
				Position: newPos,
				Reason: fmt.Sprintf("entry order rotated %d -> %d, opening %s %s",
					oldPos.EntryOrderID, newPos.EntryOrderID, newPos.Side(), symbol),
			},
		}

	case !inOld && inNew && !newPos.IsFlat():
		return []types.Signal{{
			Type:     types.SignalEnter,
			Symbol:   symbol,
			Position: newPos,
			Reason: fmt.Sprintf("agent opened %s %s qty=%s lev=%dx",
				newPos.Side(), symbol, newPos.AbsQuantity(), newPos.Leverage),
		}}

	case inOld && !oldPos.IsFlat() && (!inNew || newPos.IsFlat()):
		return []types.Signal{{
			Type:     types.SignalExit,
			Symbol:   symbol,
			Position: oldPos,
			Reason: fmt.Sprintf("agent closed %s %s qty=%s",
				oldPos.Side(), symbol, oldPos.AbsQuantity()),
		}}

	case inOld && inNew && oldPos.EntryOrderID == newPos.EntryOrderID && !newPos.IsFlat():
		if reason, crossed := exitPlanCrossed(newPos); crossed {
			return []types.Signal{{
				Type:     types.SignalStopTrigger,
				Symbol:   symbol,
				Position: newPos,
				Reason:   reason,
			}}
		}
	}

	// Same entry order id with only quantity or price drift stays silent.
	return nil
}

// exitPlanCrossed reports whether the position's current price has crossed
// its profit target or stop loss. For longs the trigger is price >= target
// or price <= stop; for shorts it is mirrored.
func exitPlanCrossed(pos types.Position) (string, bool) {
	plan := pos.ExitPlan
	price := pos.CurrentPrice
	if price.IsZero() {
		return "", false
	}

	switch pos.Side() {
	case types.SideLong:
		if plan.HasProfitTarget() && price.GreaterThanOrEqual(plan.ProfitTarget) {
			return fmt.Sprintf("long %s price %s reached profit target %s",
				pos.Symbol, price, plan.ProfitTarget), true
		}
		if plan.HasStopLoss() && price.LessThanOrEqual(plan.StopLoss) {
			return fmt.Sprintf("long %s price %s breached stop loss %s",
				pos.Symbol, price, plan.StopLoss), true
		}
	case types.SideShort:
		if plan.HasProfitTarget() && price.LessThanOrEqual(plan.ProfitTarget) {
			return fmt.Sprintf("short %s price %s reached profit target %s",
				pos.Symbol, price, plan.ProfitTarget), true
		}
		if plan.HasStopLoss() && price.GreaterThanOrEqual(plan.StopLoss) {
			return fmt.Sprintf("short %s price %s breached stop loss %s",
				pos.Symbol, price, plan.StopLoss), true
		}
	}

	return "", false
}

// validateSnapshot rejects snapshots the diff cannot safely interpret.
func validateSnapshot(snap types.AgentSnapshot) error {
	if snap.AgentID == "" {
		return fmt.Errorf("%w: missing agent id", types.ErrMalformedSnapshot)
	}

	for symbol, pos := range snap.Positions {
		if symbol == "" || pos.Symbol == "" {
			return fmt.Errorf("%w: empty symbol in snapshot for agent %s",
				types.ErrMalformedSnapshot, snap.AgentID)
		}
		if pos.Symbol != symbol {
			return fmt.Errorf("%w: position keyed %s carries symbol %s",
				types.ErrMalformedSnapshot, symbol, pos.Symbol)
		}
		if !pos.IsFlat() {
			if pos.Leverage <= 0 {
				return fmt.Errorf("%w: %s has nonpositive leverage %d",
					types.ErrMalformedSnapshot, symbol, pos.Leverage)
			}
			if pos.EntryOrderID == types.UnsetOrderID || pos.EntryOrderID == 0 {
				return fmt.Errorf("%w: %s open without entry order id",
					types.ErrMalformedSnapshot, symbol)
			}
		}
	}

	return nil
}

// unionSymbols returns the sorted union of symbols across both snapshots so
// the emitted signal list is deterministic.
func unionSymbols(prev *types.AgentSnapshot, next types.AgentSnapshot) []string {
	seen := make(map[string]struct{}, len(next.Positions))
	for symbol := range next.Positions {
		seen[symbol] = struct{}{}
	}
	if prev != nil {
		for symbol := range prev.Positions {
			seen[symbol] = struct{}{}
		}
	}

	symbols := make([]string, 0, len(seen))
	for symbol := range seen {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}
