package follower

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/M3R1ttt/nof1-tracker/internal/alerting"
	"github.com/M3R1ttt/nof1-tracker/internal/detector"
	"github.com/M3R1ttt/nof1-tracker/internal/exchange"
	"github.com/M3R1ttt/nof1-tracker/internal/executor"
	"github.com/M3R1ttt/nof1-tracker/internal/types"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// mockSource scripts snapshot responses per call.
type mockSource struct {
	fn func(ctx context.Context, agentID string) (types.AgentSnapshot, error)
}

func (m *mockSource) GetAgentSnapshot(ctx context.Context, agentID string) (types.AgentSnapshot, error) {
	return m.fn(ctx, agentID)
}

func staticSource(snap types.AgentSnapshot) *mockSource {
	return &mockSource{fn: func(ctx context.Context, agentID string) (types.AgentSnapshot, error) {
		return snap, nil
	}}
}

func openSnapshot(agentID string) types.AgentSnapshot {
	return types.AgentSnapshot{
		AgentID:   agentID,
		FetchedAt: time.Now(),
		Positions: map[string]types.Position{
			"BTCUSDT": {
				Symbol:       "BTCUSDT",
				Quantity:     d("0.5"),
				EntryOrderID: 101,
				EntryPrice:   d("110000"),
				CurrentPrice: d("111000"),
				Leverage:     10,
			},
		},
	}
}

type followerParts struct {
	follower *Follower
	paper    *exchange.Paper
	sessions *detector.SessionState
	alerter  *alerting.MockAlerter
}

func newTestFollower(t *testing.T, source SnapshotSource) followerParts {
	t.Helper()

	paper := exchange.NewPaper(nil)
	paper.SetPrice("BTCUSDT", d("111000"))

	sessions := detector.NewSessionState()
	mock := alerting.NewMockAlerter()

	fol := New(
		Config{AgentID: "deepseek", PollInterval: time.Minute},
		source,
		detector.New(nil),
		executor.New(executor.DefaultConfig(), paper, nil),
		sessions,
		mock,
		nil,
		nil,
		nil,
	)

	return followerParts{follower: fol, paper: paper, sessions: sessions, alerter: mock}
}

func waitForAlert(t *testing.T, mock *alerting.MockAlerter, substr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if mock.HasAlertContaining(substr) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no alert containing %q arrived; got %v", substr, mock.Alerts())
}

func TestRunCycleExecutesEnter(t *testing.T) {
	parts := newTestFollower(t, staticSource(openSnapshot("deepseek")))

	if err := parts.follower.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle() error = %v", err)
	}

	positions, err := parts.paper.GetPositions(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("GetPositions() error = %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("got %d venue positions, want 1 after replicated entry", len(positions))
	}
	if !positions[0].Quantity.Equal(d("0.5")) {
		t.Errorf("venue quantity = %s, want 0.5", positions[0].Quantity)
	}
	if parts.sessions.Previous("deepseek") == nil {
		t.Error("session state did not advance after the cycle")
	}

	waitForAlert(t, parts.alerter, "Trade executed")
}

func TestRunCycleIdleWhenNothingChanged(t *testing.T) {
	parts := newTestFollower(t, staticSource(openSnapshot("deepseek")))

	if err := parts.follower.runCycle(context.Background()); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	before, _ := parts.paper.GetPositions(context.Background(), "")

	if err := parts.follower.runCycle(context.Background()); err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	after, _ := parts.paper.GetPositions(context.Background(), "")

	if len(before) != len(after) || !before[0].Quantity.Equal(after[0].Quantity) {
		t.Errorf("idle cycle changed venue positions: %v -> %v", before, after)
	}
}

func TestRunCycleAdvancesStateWhenExecutionFails(t *testing.T) {
	parts := newTestFollower(t, staticSource(openSnapshot("deepseek")))
	parts.paper.SetConnected(false)

	if err := parts.follower.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle() error = %v (execution failure must not fail the cycle)", err)
	}
	if parts.sessions.Previous("deepseek") == nil {
		t.Error("session state must advance past a completed diff even when plans fail")
	}

	waitForAlert(t, parts.alerter, "Trade failed")
}

func TestRunCycleMalformedSnapshotLeavesStateUntouched(t *testing.T) {
	bad := openSnapshot("deepseek")
	pos := bad.Positions["BTCUSDT"]
	pos.Leverage = 0
	bad.Positions["BTCUSDT"] = pos

	parts := newTestFollower(t, staticSource(bad))

	err := parts.follower.runCycle(context.Background())
	if !errors.Is(err, types.ErrMalformedSnapshot) {
		t.Fatalf("runCycle() error = %v, want ErrMalformedSnapshot", err)
	}
	if parts.sessions.Previous("deepseek") != nil {
		t.Error("malformed snapshot advanced session state")
	}
	if orders, _ := parts.paper.GetPositions(context.Background(), ""); len(orders) != 0 {
		t.Error("malformed snapshot reached the venue")
	}
}

func TestRunTerminatesOnUnknownAgent(t *testing.T) {
	source := &mockSource{fn: func(ctx context.Context, agentID string) (types.AgentSnapshot, error) {
		return types.AgentSnapshot{}, fmt.Errorf("%w: %s", types.ErrUnknownAgent, agentID)
	}}
	parts := newTestFollower(t, source)

	err := parts.follower.Run(context.Background())
	if !errors.Is(err, types.ErrUnknownAgent) {
		t.Fatalf("Run() error = %v, want ErrUnknownAgent", err)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	parts := newTestFollower(t, staticSource(openSnapshot("deepseek")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- parts.follower.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v, want nil on cancellation", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancellation")
	}
}

func TestRunRetriesAfterTransientCycleError(t *testing.T) {
	calls := 0
	source := &mockSource{fn: func(ctx context.Context, agentID string) (types.AgentSnapshot, error) {
		calls++
		if calls == 1 {
			return types.AgentSnapshot{}, errors.New("signal source flaked")
		}
		return openSnapshot(agentID), nil
	}}

	paper := exchange.NewPaper(nil)
	paper.SetPrice("BTCUSDT", d("111000"))
	sessions := detector.NewSessionState()

	fol := New(
		Config{AgentID: "deepseek", PollInterval: 20 * time.Millisecond},
		source,
		detector.New(nil),
		executor.New(executor.DefaultConfig(), paper, nil),
		sessions,
		nil, nil, nil, nil,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fol.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sessions.Previous("deepseek") != nil {
			cancel()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sessions.Previous("deepseek") == nil {
		t.Fatal("session never recovered after a transient fetch failure")
	}
}

func TestNotifyMissingLegsFlagsUnprotectedEntry(t *testing.T) {
	parts := newTestFollower(t, staticSource(openSnapshot("deepseek")))

	plan := types.TradingPlan{
		Symbol:     "BTCUSDT",
		Side:       types.SideLong,
		Quantity:   d("0.5"),
		Leverage:   10,
		Kind:       types.PlanEntry,
		TakeProfit: d("115000"),
		StopLoss:   d("108000"),
	}
	result := types.ExecutionResult{
		Plan:            plan,
		Success:         true,
		OrderID:         "9001",
		StopLossOrderID: "9002",
		// TakeProfitOrderID empty: the leg failed.
	}

	parts.follower.handleResult(context.Background(), result)

	waitForAlert(t, parts.alerter, "without take-profit")
	if parts.alerter.HasAlertContaining("without stop-loss") {
		t.Error("stop-loss leg was placed but still alerted")
	}
	if !parts.alerter.HasAlertWithSeverity(alerting.SeverityCritical) {
		t.Error("missing protective leg must alert at critical severity")
	}
}
