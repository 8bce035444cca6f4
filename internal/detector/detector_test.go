package detector

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/M3R1ttt/nof1-tracker/internal/types"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func snapshot(agentID string, positions ...types.Position) types.AgentSnapshot {
	snap := types.AgentSnapshot{
		AgentID:   agentID,
		FetchedAt: time.Now(),
		Positions: make(map[string]types.Position, len(positions)),
	}
	for _, pos := range positions {
		snap.Positions[pos.Symbol] = pos
	}
	return snap
}

func longBTC(qty string, entryOID int64) types.Position {
	return types.Position{
		Symbol:       "BTCUSDT",
		Quantity:     d(qty),
		EntryOrderID: entryOID,
		EntryPrice:   d("110000"),
		CurrentPrice: d("111000"),
		Leverage:     10,
	}
}

func TestDetectFirstPollEnters(t *testing.T) {
	det := New(nil)

	next := snapshot("deepseek", longBTC("0.5", 101))
	signals, err := det.Detect(nil, next)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if len(signals) != 1 {
		t.Fatalf("Detect() returned %d signals, want 1", len(signals))
	}
	sig := signals[0]
	if sig.Type != types.SignalEnter {
		t.Errorf("signal type = %s, want ENTER", sig.Type)
	}
	if sig.Symbol != "BTCUSDT" {
		t.Errorf("signal symbol = %s, want BTCUSDT", sig.Symbol)
	}
	if !sig.Position.Quantity.Equal(d("0.5")) {
		t.Errorf("signal quantity = %s, want 0.5", sig.Position.Quantity)
	}
}

func TestDetectIdenticalSnapshotsAreSilent(t *testing.T) {
	det := New(nil)

	prev := snapshot("deepseek", longBTC("0.5", 101))
	next := snapshot("deepseek", longBTC("0.5", 101))

	signals, err := det.Detect(&prev, next)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if len(signals) != 0 {
		t.Fatalf("Detect() returned %d signals, want 0", len(signals))
	}
}

func TestDetectQuantityChangeUnderSameEntryOrderIsSilent(t *testing.T) {
	det := New(nil)

	prev := snapshot("deepseek", longBTC("0.5", 101))
	next := snapshot("deepseek", longBTC("0.8", 101))

	signals, err := det.Detect(&prev, next)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if len(signals) != 0 {
		t.Fatalf("quantity drift produced %d signals, want 0", len(signals))
	}
}

func TestDetectSwitchEmitsAdjacentPair(t *testing.T) {
	det := New(nil)

	old := longBTC("0.5", 101)
	replacement := types.Position{
		Symbol:       "BTCUSDT",
		Quantity:     d("-0.3"),
		EntryOrderID: 202,
		EntryPrice:   d("111500"),
		CurrentPrice: d("111500"),
		Leverage:     8,
	}
	prev := snapshot("deepseek", old)
	next := snapshot("deepseek", replacement)

	signals, err := det.Detect(&prev, next)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if len(signals) != 2 {
		t.Fatalf("Detect() returned %d signals, want 2", len(signals))
	}
	if signals[0].Type != types.SignalSwitchExit {
		t.Errorf("first signal = %s, want SWITCH_EXIT", signals[0].Type)
	}
	if signals[1].Type != types.SignalSwitchEnter {
		t.Errorf("second signal = %s, want SWITCH_ENTER", signals[1].Type)
	}
	if got := signals[0].Position.EntryOrderID; got != 101 {
		t.Errorf("switch exit carries entry oid %d, want 101 (old position)", got)
	}
	if got := signals[1].Position.EntryOrderID; got != 202 {
		t.Errorf("switch enter carries entry oid %d, want 202 (new position)", got)
	}
	if signals[1].Position.Side() != types.SideShort {
		t.Errorf("switch enter side = %s, want SHORT", signals[1].Position.Side())
	}
}

func TestDetectExit(t *testing.T) {
	tests := []struct {
		name string
		next types.AgentSnapshot
	}{
		{
			name: "position gone from snapshot",
			next: snapshot("deepseek"),
		},
		{
			name: "position flat in snapshot",
			next: snapshot("deepseek", types.Position{
				Symbol:       "BTCUSDT",
				Quantity:     decimal.Zero,
				EntryOrderID: 101,
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			det := New(nil)
			prev := snapshot("deepseek", longBTC("0.5", 101))

			signals, err := det.Detect(&prev, tt.next)
			if err != nil {
				t.Fatalf("Detect() error = %v", err)
			}
			if len(signals) != 1 {
				t.Fatalf("Detect() returned %d signals, want 1", len(signals))
			}
			if signals[0].Type != types.SignalExit {
				t.Errorf("signal type = %s, want EXIT", signals[0].Type)
			}
			if !signals[0].Position.Quantity.Equal(d("0.5")) {
				t.Errorf("exit carries quantity %s, want the closed position's 0.5",
					signals[0].Position.Quantity)
			}
		})
	}
}

func TestDetectStopTrigger(t *testing.T) {
	tests := []struct {
		name         string
		quantity     string
		currentPrice string
		profitTarget string
		stopLoss     string
		want         bool
	}{
		{
			name:         "long reaches profit target",
			quantity:     "0.5",
			currentPrice: "112900",
			profitTarget: "112880.2",
			want:         true,
		},
		{
			name:         "long below profit target",
			quantity:     "0.5",
			currentPrice: "112000",
			profitTarget: "112880.2",
			want:         false,
		},
		{
			name:         "long breaches stop loss",
			quantity:     "0.5",
			currentPrice: "108000",
			stopLoss:     "108500",
			want:         true,
		},
		{
			name:         "long above stop loss",
			quantity:     "0.5",
			currentPrice: "109000",
			stopLoss:     "108500",
			want:         false,
		},
		{
			name:         "short reaches profit target below",
			quantity:     "-0.5",
			currentPrice: "104000",
			profitTarget: "105000",
			want:         true,
		},
		{
			name:         "short breaches stop loss above",
			quantity:     "-0.5",
			currentPrice: "115200",
			stopLoss:     "115000",
			want:         true,
		},
		{
			name:         "short between levels",
			quantity:     "-0.5",
			currentPrice: "110000",
			profitTarget: "105000",
			stopLoss:     "115000",
			want:         false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			det := New(nil)

			pos := types.Position{
				Symbol:       "BTCUSDT",
				Quantity:     d(tt.quantity),
				EntryOrderID: 101,
				EntryPrice:   d("110000"),
				CurrentPrice: d(tt.currentPrice),
				Leverage:     10,
			}
			if tt.profitTarget != "" {
				pos.ExitPlan.ProfitTarget = d(tt.profitTarget)
			}
			if tt.stopLoss != "" {
				pos.ExitPlan.StopLoss = d(tt.stopLoss)
			}

			prevPos := pos
			prevPos.CurrentPrice = d("110000")
			prev := snapshot("deepseek", prevPos)
			next := snapshot("deepseek", pos)

			signals, err := det.Detect(&prev, next)
			if err != nil {
				t.Fatalf("Detect() error = %v", err)
			}

			if tt.want {
				if len(signals) != 1 || signals[0].Type != types.SignalStopTrigger {
					t.Fatalf("got %v, want one STOP_TRIGGER", signals)
				}
			} else if len(signals) != 0 {
				t.Fatalf("got %d signals, want 0", len(signals))
			}
		})
	}
}

func TestDetectMalformedSnapshot(t *testing.T) {
	tests := []struct {
		name string
		next types.AgentSnapshot
	}{
		{
			name: "missing agent id",
			next: snapshot("", longBTC("0.5", 101)),
		},
		{
			name: "mismatched symbol key",
			next: types.AgentSnapshot{
				AgentID: "deepseek",
				Positions: map[string]types.Position{
					"ETHUSDT": longBTC("0.5", 101),
				},
			},
		},
		{
			name: "open position with nonpositive leverage",
			next: snapshot("deepseek", types.Position{
				Symbol:       "BTCUSDT",
				Quantity:     d("0.5"),
				EntryOrderID: 101,
				Leverage:     0,
			}),
		},
		{
			name: "open position without entry order id",
			next: snapshot("deepseek", types.Position{
				Symbol:       "BTCUSDT",
				Quantity:     d("0.5"),
				EntryOrderID: types.UnsetOrderID,
				Leverage:     10,
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			det := New(nil)
			signals, err := det.Detect(nil, tt.next)
			if !errors.Is(err, types.ErrMalformedSnapshot) {
				t.Fatalf("Detect() error = %v, want ErrMalformedSnapshot", err)
			}
			if signals != nil {
				t.Errorf("Detect() returned signals alongside error")
			}
		})
	}
}

func TestDetectSymbolsProcessedInSortedOrder(t *testing.T) {
	det := New(nil)

	eth := longBTC("1.0", 103)
	eth.Symbol = "ETHUSDT"
	sol := longBTC("2.0", 104)
	sol.Symbol = "SOLUSDT"
	next := snapshot("deepseek", sol, longBTC("0.5", 101), eth)

	signals, err := det.Detect(nil, next)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	want := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}
	if len(signals) != len(want) {
		t.Fatalf("Detect() returned %d signals, want %d", len(signals), len(want))
	}
	for i, symbol := range want {
		if signals[i].Symbol != symbol {
			t.Errorf("signals[%d].Symbol = %s, want %s", i, signals[i].Symbol, symbol)
		}
	}
}

func TestDetectSwitchWithFlatNewPositionIsExit(t *testing.T) {
	det := New(nil)

	prev := snapshot("deepseek", longBTC("0.5", 101))
	next := snapshot("deepseek", types.Position{
		Symbol:       "BTCUSDT",
		Quantity:     decimal.Zero,
		EntryOrderID: 202,
	})

	signals, err := det.Detect(&prev, next)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if len(signals) != 1 || signals[0].Type != types.SignalExit {
		t.Fatalf("got %v, want one EXIT (rotation into a flat position closes)", signals)
	}
}
