// Package executor validates and submits trading plans against an exchange
// gateway.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/M3R1ttt/nof1-tracker/internal/exchange"
	"github.com/M3R1ttt/nof1-tracker/internal/types"
)

// Margin usage above this ratio of the available balance is allowed but
// flagged to the operator.
var warnMarginUsageRatio = decimal.RequireFromString("0.8")

// Config holds execution engine settings.
type Config struct {
	// RiskOnly skips order submission: plans are validated and margins
	// checked but nothing reaches the venue.
	RiskOnly bool

	// PriceTolerancePct flags plans whose reference price has drifted more
	// than this percentage from the live ticker. Informational only.
	PriceTolerancePct decimal.Decimal

	// MarginBudget caps the margin a single plan may consume. Zero means
	// the full available balance.
	MarginBudget decimal.Decimal

	// FallbackPrice is the conservative price used for the margin check
	// when the ticker cannot be fetched.
	FallbackPrice decimal.Decimal
}

// DefaultConfig returns conservative execution defaults.
func DefaultConfig() Config {
	return Config{
		PriceTolerancePct: decimal.RequireFromString("1.0"),
		FallbackPrice:     decimal.NewFromInt(100000),
	}
}

// Engine executes trading plans. Each plan is an isolated failure domain:
// a failure in one never unwinds another, and a protective-leg failure
// never rolls back its own filled entry.
type Engine struct {
	cfg     Config
	gateway exchange.Gateway
	logger  *slog.Logger
}

// New creates an execution engine.
func New(cfg Config, gateway exchange.Gateway, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FallbackPrice.IsZero() {
		cfg.FallbackPrice = DefaultConfig().FallbackPrice
	}
	return &Engine{cfg: cfg, gateway: gateway, logger: logger}
}

// ExecuteAll executes a cycle's plans. Plans for different symbols run
// concurrently; plans sharing a symbol (a switch's close and open) run
// strictly in order within one goroutine. Results come back in the same
// order as the input plans, aggregated only after every plan finished.
func (e *Engine) ExecuteAll(ctx context.Context, plans []types.TradingPlan) []types.ExecutionResult {
	if len(plans) == 0 {
		return nil
	}

	indexed := make([]types.ExecutionResult, len(plans))

	groups := make(map[string][]int)
	var order []string
	for i, plan := range plans {
		if _, ok := groups[plan.Symbol]; !ok {
			order = append(order, plan.Symbol)
		}
		groups[plan.Symbol] = append(groups[plan.Symbol], i)
	}

	var wg sync.WaitGroup
	for _, symbol := range order {
		indices := groups[symbol]
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, i := range indices {
				indexed[i] = e.Execute(ctx, plans[i])
			}
		}()
	}
	wg.Wait()

	return indexed
}

// Execute runs one trading plan through the full pipeline: connectivity,
// margin validation, leverage, primary order, protective legs.
func (e *Engine) Execute(ctx context.Context, plan types.TradingPlan) types.ExecutionResult {
	result := types.ExecutionResult{
		Plan:          plan,
		ClientOrderID: clientOrderID(),
		ExecutedAt:    time.Now(),
	}

	if err := e.validatePlan(plan); err != nil {
		result.Err = err
		return result
	}

	// 1. Connectivity. No in-call retry: the next poll cycle retries.
	if err := e.gateway.Ping(ctx); err != nil {
		e.logger.Warn("gateway unreachable, plan skipped",
			"symbol", plan.Symbol, "err", err)
		result.Err = fmt.Errorf("%w: %v", types.ErrConnectivity, err)
		return result
	}

	// 2. Best-effort price discovery. A dead ticker falls back to a
	// conservative fixed price instead of aborting the plan.
	price := e.lookupPrice(ctx, plan, &result)

	// 3. Margin validation.
	if err := e.checkMargin(ctx, plan, price, &result); err != nil {
		result.Err = err
		return result
	}

	if e.cfg.RiskOnly {
		e.logger.Info("risk-only mode, order not submitted",
			"symbol", plan.Symbol,
			"side", plan.Side,
			"qty", plan.Quantity,
			"kind", plan.Kind,
		)
		result.Success = true
		result.Warnings = append(result.Warnings, "risk-only: no order submitted")
		return result
	}

	// 4. Best-effort leverage. The entry still goes out at whatever
	// leverage is active on the venue if this fails.
	if err := e.gateway.SetLeverage(ctx, plan.Symbol, plan.Leverage); err != nil {
		e.logger.Warn("set leverage failed, continuing",
			"symbol", plan.Symbol,
			"leverage", plan.Leverage,
			"err", err,
		)
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("leverage not set: %v", err))
	}

	// 5. Primary order. Failure aborts the plan; nothing to compensate.
	resp, err := e.placePrimary(ctx, plan, result.ClientOrderID)
	if err != nil {
		result.Err = err
		return result
	}
	result.Success = true
	result.OrderID = resp.OrderID
	result.ExecutedQty = resp.ExecutedQty
	result.AvgPrice = resp.AvgPrice

	e.logger.Info("primary order placed",
		"symbol", plan.Symbol,
		"side", plan.Side,
		"kind", plan.Kind,
		"order_id", resp.OrderID,
		"executed_qty", resp.ExecutedQty,
		"avg_price", resp.AvgPrice,
	)

	// 6. Protective legs, fire-and-record. A filled entry without a leg is
	// surfaced to the operator, never silently unwound.
	if plan.Kind == types.PlanEntry {
		e.placeProtectiveLegs(ctx, plan, resp, &result)
	}

	return result
}

// validatePlan rejects plans the gateway could never accept.
func (e *Engine) validatePlan(plan types.TradingPlan) error {
	if plan.Symbol == "" {
		return fmt.Errorf("%w: missing symbol", types.ErrInvalidPlan)
	}
	if !plan.Quantity.IsPositive() {
		return fmt.Errorf("%w: nonpositive quantity %s", types.ErrInvalidPlan, plan.Quantity)
	}
	if plan.Leverage <= 0 {
		return fmt.Errorf("%w: nonpositive leverage %d", types.ErrInvalidPlan, plan.Leverage)
	}
	if plan.Side == types.SideFlat {
		return fmt.Errorf("%w: flat side", types.ErrInvalidPlan)
	}
	return nil
}

// lookupPrice fetches the live ticker, falling back to the configured
// conservative price. Also emits the informational price-tolerance warning.
func (e *Engine) lookupPrice(ctx context.Context, plan types.TradingPlan, result *types.ExecutionResult) decimal.Decimal {
	price, err := e.gateway.GetTicker(ctx, plan.Symbol)
	if err != nil || price.IsZero() {
		e.logger.Warn("ticker unavailable, using fallback price",
			"symbol", plan.Symbol,
			"fallback", e.cfg.FallbackPrice,
			"err", err,
		)
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("ticker unavailable, margin checked at %s", e.cfg.FallbackPrice))
		return e.cfg.FallbackPrice
	}

	if !e.cfg.PriceTolerancePct.IsZero() && !plan.ReferencePrice.IsZero() {
		drift := price.Sub(plan.ReferencePrice).Abs().
			Div(plan.ReferencePrice).
			Mul(decimal.NewFromInt(100))
		if drift.GreaterThan(e.cfg.PriceTolerancePct) {
			e.logger.Warn("price drifted beyond tolerance",
				"symbol", plan.Symbol,
				"reference", plan.ReferencePrice,
				"live", price,
				"drift_pct", drift.StringFixed(2),
			)
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("price drift %s%% exceeds tolerance %s%%",
					drift.StringFixed(2), e.cfg.PriceTolerancePct))
		}
	}

	return price
}

// checkMargin computes requiredMargin = quantity * price / leverage and
// rejects the plan when it exceeds the available balance (or the configured
// budget). Usage above 80% proceeds with a warning.
func (e *Engine) checkMargin(ctx context.Context, plan types.TradingPlan, price decimal.Decimal, result *types.ExecutionResult) error {
	account, err := e.gateway.GetAccount(ctx)
	if err != nil {
		// Balance unknown: treat like a connectivity failure so the next
		// cycle retries rather than trading blind.
		e.logger.Warn("account fetch failed, plan skipped",
			"symbol", plan.Symbol, "err", err)
		return fmt.Errorf("%w: account query: %v", types.ErrConnectivity, err)
	}

	available := account.AvailableBalance
	if !e.cfg.MarginBudget.IsZero() && e.cfg.MarginBudget.LessThan(available) {
		available = e.cfg.MarginBudget
	}

	required := plan.Quantity.Mul(price).Div(decimal.NewFromInt(int64(plan.Leverage)))
	if required.GreaterThan(available) {
		err := &types.InsufficientMarginError{
			Symbol:    plan.Symbol,
			Required:  required,
			Available: available,
		}
		e.logger.Warn("insufficient margin",
			"symbol", plan.Symbol,
			"required", required.StringFixed(2),
			"available", available.StringFixed(2),
			"deficit", err.Deficit().StringFixed(2),
		)
		return err
	}

	if !available.IsZero() {
		usage := required.Div(available)
		if usage.GreaterThan(warnMarginUsageRatio) {
			e.logger.Warn("high margin usage",
				"symbol", plan.Symbol,
				"usage", usage.StringFixed(2),
			)
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("margin usage %s exceeds 0.8 of available balance", usage.StringFixed(2)))
		}
	}

	return nil
}

// placePrimary submits the plan's market order.
func (e *Engine) placePrimary(ctx context.Context, plan types.TradingPlan, clientID string) (*exchange.OrderResponse, error) {
	req := exchange.OrderRequest{
		Symbol:        plan.Symbol,
		Type:          exchange.OrderTypeMarket,
		Quantity:      plan.Quantity,
		Leverage:      plan.Leverage,
		ClientOrderID: clientID,
	}

	switch plan.Kind {
	case types.PlanEntry:
		req.Side = orderSide(plan.Side)
	case types.PlanExit:
		req.Side = orderSide(plan.Side.Opposite())
		req.ReduceOnly = true
	}

	resp, err := e.gateway.PlaceOrder(ctx, req)
	if err != nil {
		e.logger.Error("primary order failed",
			"symbol", plan.Symbol,
			"side", req.Side,
			"kind", plan.Kind,
			"err", err,
		)
		return nil, fmt.Errorf("%w: %v", types.ErrOrderRejected, err)
	}
	return resp, nil
}

// placeProtectiveLegs submits the take-profit and stop-loss orders for a
// filled entry, sized by the actually executed quantity. Each leg is an
// isolated failure: a failed leg is logged and left missing from the
// result, and never flips Success or cancels the primary.
func (e *Engine) placeProtectiveLegs(ctx context.Context, plan types.TradingPlan, primary *exchange.OrderResponse, result *types.ExecutionResult) {
	qty := primary.ExecutedQty
	if qty.IsZero() {
		qty = plan.Quantity
	}
	closeSide := orderSide(plan.Side.Opposite())

	if !plan.TakeProfit.IsZero() {
		resp, err := e.gateway.PlaceOrder(ctx, exchange.OrderRequest{
			Symbol:        plan.Symbol,
			Side:          closeSide,
			Type:          exchange.OrderTypeTakeProfitMarket,
			Quantity:      qty,
			StopPrice:     plan.TakeProfit,
			ClosePosition: true,
		})
		if err != nil {
			e.logger.Error("take-profit leg failed, entry left unprotected",
				"symbol", plan.Symbol,
				"stop_price", plan.TakeProfit,
				"err", err,
			)
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("%v: take-profit: %v", types.ErrProtectiveLeg, err))
		} else {
			result.TakeProfitOrderID = resp.OrderID
		}
	}

	if !plan.StopLoss.IsZero() {
		resp, err := e.gateway.PlaceOrder(ctx, exchange.OrderRequest{
			Symbol:        plan.Symbol,
			Side:          closeSide,
			Type:          exchange.OrderTypeStopMarket,
			Quantity:      qty,
			StopPrice:     plan.StopLoss,
			ClosePosition: true,
		})
		if err != nil {
			e.logger.Error("stop-loss leg failed, entry left unprotected",
				"symbol", plan.Symbol,
				"stop_price", plan.StopLoss,
				"err", err,
			)
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("%v: stop-loss: %v", types.ErrProtectiveLeg, err))
		} else {
			result.StopLossOrderID = resp.OrderID
		}
	}
}

func orderSide(side types.Side) exchange.OrderSide {
	if side == types.SideShort {
		return exchange.OrderSideSell
	}
	return exchange.OrderSideBuy
}

// clientOrderID creates a unique client order id for idempotency.
func clientOrderID() string {
	return fmt.Sprintf("nof1-%s-%s",
		time.Now().Format("20060102150405"),
		uuid.New().String()[:8],
	)
}
