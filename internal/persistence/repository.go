// Package persistence provides a write-only journal of detected signals and
// execution outcomes for audit. The journal is history, not state: the
// polling loop never reads it back, and diff state stays in memory.
package persistence

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/M3R1ttt/nof1-tracker/internal/types"
)

// Journal defines the audit trail interface.
type Journal interface {
	// Signal operations
	SaveSignal(ctx context.Context, agentID string, signal types.Signal) error
	GetSignals(ctx context.Context, agentID string, limit int) ([]SignalRecord, error)

	// Execution operations
	SaveExecution(ctx context.Context, agentID string, result types.ExecutionResult) error
	GetExecutions(ctx context.Context, agentID string, limit int) ([]ExecutionRecord, error)
	GetExecutionsBySymbol(ctx context.Context, symbol string, limit int) ([]ExecutionRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// SignalRecord is a persisted signal.
type SignalRecord struct {
	ID         int64
	AgentID    string
	Symbol     string
	SignalType string
	Quantity   decimal.Decimal
	Leverage   int
	Reason     string
	CreatedAt  time.Time
}

// ExecutionRecord is a persisted execution outcome.
type ExecutionRecord struct {
	ID                int64
	AgentID           string
	Symbol            string
	Side              string
	Kind              string
	Quantity          decimal.Decimal
	ExecutedQty       decimal.Decimal
	AvgPrice          decimal.Decimal
	Success           bool
	OrderID           string
	TakeProfitOrderID string
	StopLossOrderID   string
	Error             string
	ExecutedAt        time.Time
}
