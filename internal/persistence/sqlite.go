package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/M3R1ttt/nof1-tracker/internal/types"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteJournal implements Journal using SQLite.
type SQLiteJournal struct {
	db *sql.DB
}

// NewSQLiteJournal opens (or creates) a journal database.
func NewSQLiteJournal(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	j := &SQLiteJournal{db: db}
	if err := j.Migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return j, nil
}

// Migrate runs database migrations.
func (j *SQLiteJournal) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS signals (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			signal_type TEXT NOT NULL,
			quantity TEXT NOT NULL,
			leverage INTEGER NOT NULL,
			reason TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_agent ON signals(agent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_symbol ON signals(symbol)`,

		`CREATE TABLE IF NOT EXISTS executions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			kind TEXT NOT NULL,
			quantity TEXT NOT NULL,
			executed_qty TEXT NOT NULL DEFAULT '0',
			avg_price TEXT NOT NULL DEFAULT '0',
			success INTEGER NOT NULL,
			order_id TEXT,
			take_profit_order_id TEXT,
			stop_loss_order_id TEXT,
			error TEXT,
			executed_at DATETIME NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_agent ON executions(agent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_symbol ON executions(symbol)`,
	}

	for _, m := range migrations {
		if _, err := j.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("run migration: %w", err)
		}
	}

	return nil
}

// SaveSignal stores one detected signal.
func (j *SQLiteJournal) SaveSignal(ctx context.Context, agentID string, signal types.Signal) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO signals (agent_id, symbol, signal_type, quantity, leverage, reason)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		agentID,
		signal.Symbol,
		signal.Type.String(),
		signal.Position.Quantity.String(),
		signal.Position.Leverage,
		signal.Reason,
	)
	if err != nil {
		return fmt.Errorf("save signal: %w", err)
	}
	return nil
}

// GetSignals returns the most recent signals for an agent.
func (j *SQLiteJournal) GetSignals(ctx context.Context, agentID string, limit int) ([]SignalRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, agent_id, symbol, signal_type, quantity, leverage, reason, created_at
		 FROM signals WHERE agent_id = ? ORDER BY id DESC LIMIT ?`,
		agentID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query signals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []SignalRecord
	for rows.Next() {
		var rec SignalRecord
		var qty string
		if err := rows.Scan(&rec.ID, &rec.AgentID, &rec.Symbol, &rec.SignalType,
			&qty, &rec.Leverage, &rec.Reason, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		rec.Quantity, err = decimal.NewFromString(qty)
		if err != nil {
			return nil, fmt.Errorf("parse quantity %q: %w", qty, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SaveExecution stores one execution outcome.
func (j *SQLiteJournal) SaveExecution(ctx context.Context, agentID string, result types.ExecutionResult) error {
	errMsg := ""
	if result.Err != nil {
		errMsg = result.Err.Error()
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO executions
		 (agent_id, symbol, side, kind, quantity, executed_qty, avg_price,
		  success, order_id, take_profit_order_id, stop_loss_order_id, error, executed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		agentID,
		result.Plan.Symbol,
		result.Plan.Side.String(),
		result.Plan.Kind.String(),
		result.Plan.Quantity.String(),
		result.ExecutedQty.String(),
		result.AvgPrice.String(),
		boolToInt(result.Success),
		result.OrderID,
		result.TakeProfitOrderID,
		result.StopLossOrderID,
		errMsg,
		result.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("save execution: %w", err)
	}
	return nil
}

// GetExecutions returns the most recent executions for an agent.
func (j *SQLiteJournal) GetExecutions(ctx context.Context, agentID string, limit int) ([]ExecutionRecord, error) {
	return j.queryExecutions(ctx, "agent_id", agentID, limit)
}

// GetExecutionsBySymbol returns the most recent executions for a symbol.
func (j *SQLiteJournal) GetExecutionsBySymbol(ctx context.Context, symbol string, limit int) ([]ExecutionRecord, error) {
	return j.queryExecutions(ctx, "symbol", symbol, limit)
}

func (j *SQLiteJournal) queryExecutions(ctx context.Context, column, value string, limit int) ([]ExecutionRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	query := fmt.Sprintf(
		`SELECT id, agent_id, symbol, side, kind, quantity, executed_qty, avg_price,
		        success, order_id, take_profit_order_id, stop_loss_order_id, error, executed_at
		 FROM executions WHERE %s = ? ORDER BY id DESC LIMIT ?`, column)

	rows, err := j.db.QueryContext(ctx, query, value, limit)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []ExecutionRecord
	for rows.Next() {
		var rec ExecutionRecord
		var qty, executedQty, avgPrice string
		var success int
		if err := rows.Scan(&rec.ID, &rec.AgentID, &rec.Symbol, &rec.Side, &rec.Kind,
			&qty, &executedQty, &avgPrice, &success, &rec.OrderID,
			&rec.TakeProfitOrderID, &rec.StopLossOrderID, &rec.Error, &rec.ExecutedAt); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		rec.Success = success != 0
		if rec.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, fmt.Errorf("parse quantity %q: %w", qty, err)
		}
		if rec.ExecutedQty, err = decimal.NewFromString(executedQty); err != nil {
			return nil, fmt.Errorf("parse executed qty %q: %w", executedQty, err)
		}
		if rec.AvgPrice, err = decimal.NewFromString(avgPrice); err != nil {
			return nil, fmt.Errorf("parse avg price %q: %w", avgPrice, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close closes the database.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
