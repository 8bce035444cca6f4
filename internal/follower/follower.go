// Package follower runs the per-agent polling session that drives the
// detect/plan/execute pipeline.
package follower

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/M3R1ttt/nof1-tracker/internal/alerting"
	"github.com/M3R1ttt/nof1-tracker/internal/detector"
	"github.com/M3R1ttt/nof1-tracker/internal/executor"
	"github.com/M3R1ttt/nof1-tracker/internal/metrics"
	"github.com/M3R1ttt/nof1-tracker/internal/persistence"
	"github.com/M3R1ttt/nof1-tracker/internal/planner"
	"github.com/M3R1ttt/nof1-tracker/internal/risk"
	"github.com/M3R1ttt/nof1-tracker/internal/types"
)

// SnapshotSource fetches the current positions of a tracked agent.
type SnapshotSource interface {
	GetAgentSnapshot(ctx context.Context, agentID string) (types.AgentSnapshot, error)
}

// Config holds one following session's settings.
type Config struct {
	AgentID      string
	PollInterval time.Duration
	RiskOnly     bool
}

// Follower polls one agent on a fixed interval and converts snapshot diffs
// into executed trades. A cycle never overlaps the previous one, and
// cancellation takes effect between cycles only: an in-flight cycle always
// finishes and fully advances session state before the loop exits.
type Follower struct {
	cfg      Config
	source   SnapshotSource
	detector *detector.Detector
	engine   *executor.Engine
	sessions *detector.SessionState
	alerter  alerting.Alerter
	journal  persistence.Journal
	recorder *metrics.Recorder
	logger   *slog.Logger
}

// New creates a follower. The alerter, journal and recorder are optional.
func New(
	cfg Config,
	source SnapshotSource,
	det *detector.Detector,
	engine *executor.Engine,
	sessions *detector.SessionState,
	alerter alerting.Alerter,
	journal persistence.Journal,
	recorder *metrics.Recorder,
	logger *slog.Logger,
) *Follower {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	return &Follower{
		cfg:      cfg,
		source:   source,
		detector: det,
		engine:   engine,
		sessions: sessions,
		alerter:  alerter,
		journal:  journal,
		recorder: recorder,
		logger:   logger.With("agent", cfg.AgentID),
	}
}

// Run polls until the context is cancelled or the session hits a terminal
// error. An unknown agent terminates the session; every other cycle error
// is logged and retried implicitly on the next tick.
func (f *Follower) Run(ctx context.Context) error {
	f.logger.Info("following agent",
		"interval", f.cfg.PollInterval,
		"risk_only", f.cfg.RiskOnly,
	)
	f.notify(alerting.EventFollowStarted, "Following agent",
		"agent", f.cfg.AgentID,
		"interval", f.cfg.PollInterval.String(),
	)

	ticker := time.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()

	// First cycle fires immediately rather than waiting a full interval.
	if err := f.runCycle(ctx); err != nil {
		if errors.Is(err, types.ErrUnknownAgent) {
			return f.terminate(err)
		}
		f.logCycleError(err)
	}

	for {
		select {
		case <-ctx.Done():
			f.logger.Info("follow session stopped")
			f.notify(alerting.EventFollowStopped, "Stopped following agent",
				"agent", f.cfg.AgentID)
			return nil
		case <-ticker.C:
			if err := f.runCycle(ctx); err != nil {
				if errors.Is(err, types.ErrUnknownAgent) {
					return f.terminate(err)
				}
				f.logCycleError(err)
			}
		}
	}
}

func (f *Follower) terminate(err error) error {
	f.logger.Error("terminating session", "err", err)
	f.notify(alerting.EventFollowStopped, "Session terminated",
		"agent", f.cfg.AgentID,
		"error", err.Error(),
	)
	return fmt.Errorf("agent %s: %w", f.cfg.AgentID, err)
}

func (f *Follower) logCycleError(err error) {
	f.logger.Error("poll cycle failed", "err", err)
	if f.recorder != nil {
		f.recorder.RecordCycle(f.cfg.AgentID, "error")
		f.recorder.RecordError("poll_cycle")
	}
}

// runCycle performs one complete poll: fetch, diff, plan, execute, advance.
// Session state advances whenever the diff completed, even if execution of
// some plans failed; a malformed snapshot leaves state untouched.
func (f *Follower) runCycle(ctx context.Context) error {
	timer := metrics.NewTimer()

	snapshot, err := f.source.GetAgentSnapshot(ctx, f.cfg.AgentID)
	if err != nil {
		return fmt.Errorf("fetch snapshot: %w", err)
	}

	prev := f.sessions.Previous(f.cfg.AgentID)
	signals, err := f.detector.Detect(prev, snapshot)
	if err != nil {
		return fmt.Errorf("detect: %w", err)
	}

	if len(signals) == 0 {
		f.sessions.Advance(snapshot)
		if f.recorder != nil {
			f.recorder.RecordCycle(f.cfg.AgentID, "idle")
		}
		timer.ObserveCycle()
		return nil
	}

	f.logger.Info("signals detected", "count", len(signals))
	for _, sig := range signals {
		assessment := risk.Score(sig.Position.Leverage)
		f.logger.Info("signal",
			"type", sig.Type.String(),
			"symbol", sig.Symbol,
			"qty", sig.Position.Quantity,
			"risk_score", assessment.Score,
			"risk_warnings", assessment.Warnings,
			"reason", sig.Reason,
		)
		if f.recorder != nil {
			f.recorder.RecordSignal(f.cfg.AgentID, sig.Type.String())
		}
		f.journalSignal(ctx, sig)
	}

	plans := planner.Build(signals)
	if f.recorder != nil {
		for _, plan := range plans {
			f.recorder.RecordPlan(f.cfg.AgentID, plan.Kind.String())
		}
	}

	results := f.engine.ExecuteAll(ctx, plans)

	// State advances past the executed diff regardless of per-plan
	// failures: the next cycle diffs against what the agent actually
	// holds now, so failed plans are not replayed against a stale base.
	f.sessions.Advance(snapshot)

	for _, result := range results {
		f.handleResult(ctx, result)
	}

	if f.recorder != nil {
		f.recorder.RecordCycle(f.cfg.AgentID, "traded")
	}
	timer.ObserveCycle()
	return nil
}

// handleResult logs, journals and notifies one plan outcome. Notification
// is fired on a separate goroutine and never awaited.
func (f *Follower) handleResult(ctx context.Context, result types.ExecutionResult) {
	plan := result.Plan

	if f.recorder != nil {
		status := "failed"
		if result.Success {
			status = "submitted"
		}
		f.recorder.RecordOrder(plan.Symbol, plan.Side.String(), status)
		if types.IsInsufficientMargin(result.Err) {
			f.recorder.RecordMarginRejection()
		}
	}

	if result.Success {
		f.logger.Info("plan executed",
			"symbol", plan.Symbol,
			"side", plan.Side,
			"kind", plan.Kind,
			"order_id", result.OrderID,
			"executed_qty", result.ExecutedQty,
			"warnings", result.Warnings,
		)
		f.notify(alerting.EventTradeExecuted, "Trade executed",
			"agent", f.cfg.AgentID,
			"symbol", plan.Symbol,
			"side", plan.Side.String(),
			"kind", plan.Kind.String(),
			"order_id", result.OrderID,
		)
		f.notifyMissingLegs(plan, result)
	} else {
		f.logger.Warn("plan failed",
			"symbol", plan.Symbol,
			"side", plan.Side,
			"kind", plan.Kind,
			"err", result.Err,
		)
		event := alerting.EventTradeFailed
		if types.IsInsufficientMargin(result.Err) {
			event = alerting.EventMarginRejected
		}
		f.notify(event, "Trade failed",
			"agent", f.cfg.AgentID,
			"symbol", plan.Symbol,
			"side", plan.Side.String(),
			"error", errString(result.Err),
		)
	}

	f.journalExecution(ctx, result)
}

// notifyMissingLegs surfaces entries that filled without full protection.
func (f *Follower) notifyMissingLegs(plan types.TradingPlan, result types.ExecutionResult) {
	if plan.Kind != types.PlanEntry {
		return
	}
	if !plan.TakeProfit.IsZero() && result.TakeProfitOrderID == "" {
		if f.recorder != nil {
			f.recorder.RecordProtectiveLegFailure(plan.Symbol, "take_profit")
		}
		f.notify(alerting.EventProtectiveLegMissing, "Entry filled without take-profit",
			"agent", f.cfg.AgentID,
			"symbol", plan.Symbol,
			"order_id", result.OrderID,
		)
	}
	if !plan.StopLoss.IsZero() && result.StopLossOrderID == "" {
		if f.recorder != nil {
			f.recorder.RecordProtectiveLegFailure(plan.Symbol, "stop_loss")
		}
		f.notify(alerting.EventProtectiveLegMissing, "Entry filled without stop-loss",
			"agent", f.cfg.AgentID,
			"symbol", plan.Symbol,
			"order_id", result.OrderID,
		)
	}
}

// notify delivers an alert without awaiting it. Delivery uses its own
// timeout so a stuck channel cannot hold up shutdown indefinitely.
func (f *Follower) notify(event alerting.Event, message string, fields ...any) {
	if f.alerter == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := f.alerter.Alert(ctx, alerting.EventSeverity(event), message, fields...); err != nil {
			f.logger.Warn("alert delivery failed", "event", string(event), "err", err)
		}
	}()
}

func (f *Follower) journalSignal(ctx context.Context, sig types.Signal) {
	if f.journal == nil {
		return
	}
	if err := f.journal.SaveSignal(ctx, f.cfg.AgentID, sig); err != nil {
		f.logger.Warn("journal signal failed", "err", err)
	}
}

func (f *Follower) journalExecution(ctx context.Context, result types.ExecutionResult) {
	if f.journal == nil {
		return
	}
	if err := f.journal.SaveExecution(ctx, f.cfg.AgentID, result); err != nil {
		f.logger.Warn("journal execution failed", "err", err)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
