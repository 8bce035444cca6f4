package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/M3R1ttt/nof1-tracker/internal/types"
)

// Paper is an in-memory gateway for dry runs and tests. Market orders fill
// immediately at the last set price; stop and take-profit orders rest as
// open orders and are never triggered (the tracker's own diff loop decides
// exits).
type Paper struct {
	logger *slog.Logger

	mu          sync.RWMutex
	balance     decimal.Decimal
	positions   map[string]PositionInfo
	openOrders  map[string]OpenOrder
	prices      map[string]decimal.Decimal
	leverages   map[string]int
	nextOrderID atomic.Int64
	connected   atomic.Bool
}

// NewPaper creates a paper gateway with a default balance of 10,000 USDT.
func NewPaper(logger *slog.Logger) *Paper {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Paper{
		logger:     logger,
		balance:    decimal.NewFromInt(10000),
		positions:  make(map[string]PositionInfo),
		openOrders: make(map[string]OpenOrder),
		prices:     make(map[string]decimal.Decimal),
		leverages:  make(map[string]int),
	}
	p.nextOrderID.Store(1)
	p.connected.Store(true)
	return p
}

// Name returns the venue name.
func (p *Paper) Name() string { return "paper" }

// SetBalance overrides the simulated balance.
func (p *Paper) SetBalance(balance decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balance = balance
}

// SetPrice sets the simulated last price for a symbol.
func (p *Paper) SetPrice(symbol string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price
}

// SetConnected toggles simulated connectivity.
func (p *Paper) SetConnected(connected bool) {
	p.connected.Store(connected)
}

// Ping reports simulated connectivity.
func (p *Paper) Ping(ctx context.Context) error {
	if !p.connected.Load() {
		return types.ErrConnectivity
	}
	return nil
}

// GetAccount returns the simulated account.
func (p *Paper) GetAccount(ctx context.Context) (*Account, error) {
	if !p.connected.Load() {
		return nil, types.ErrNotConnected
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return &Account{
		TotalBalance:     p.balance,
		AvailableBalance: p.balance,
		UpdatedAt:        time.Now(),
	}, nil
}

// GetPositions returns simulated positions.
func (p *Paper) GetPositions(ctx context.Context, symbol string) ([]PositionInfo, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []PositionInfo
	for sym, pos := range p.positions {
		if symbol != "" && sym != symbol {
			continue
		}
		out = append(out, pos)
	}
	return out, nil
}

// SetLeverage records the requested leverage.
func (p *Paper) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if leverage <= 0 {
		return fmt.Errorf("%w: leverage %d", types.ErrLeverageSet, leverage)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.leverages[symbol] = leverage
	return nil
}

// PlaceOrder simulates order placement. Market orders fill fully at the
// last set price (or the request's stop/limit price when no price is set).
func (p *Paper) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error) {
	if !p.connected.Load() {
		return nil, types.ErrNotConnected
	}
	if req.Symbol == "" {
		return nil, types.ErrInvalidSymbol
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	orderID := strconv.FormatInt(p.nextOrderID.Add(1), 10)

	if req.Type == OrderTypeStopMarket || req.Type == OrderTypeTakeProfitMarket {
		p.openOrders[orderID] = OpenOrder{
			OrderID:   orderID,
			Symbol:    req.Symbol,
			Side:      req.Side,
			Type:      req.Type,
			Quantity:  req.Quantity,
			StopPrice: req.StopPrice,
			Status:    OrderStatusNew,
		}
		return &OrderResponse{
			OrderID: orderID,
			Symbol:  req.Symbol,
			Status:  OrderStatusNew,
		}, nil
	}

	fillPrice, ok := p.prices[req.Symbol]
	if !ok || fillPrice.IsZero() {
		fillPrice = req.Price
	}
	if fillPrice.IsZero() {
		return nil, fmt.Errorf("no price available for %s", req.Symbol)
	}

	p.applyFill(req, fillPrice)

	p.logger.Debug("paper order filled",
		"order_id", orderID,
		"symbol", req.Symbol,
		"side", req.Side,
		"qty", req.Quantity,
		"price", fillPrice,
	)

	return &OrderResponse{
		OrderID:     orderID,
		Symbol:      req.Symbol,
		Status:      OrderStatusFilled,
		AvgPrice:    fillPrice,
		ExecutedQty: req.Quantity,
	}, nil
}

// applyFill folds a filled market order into the simulated position book.
// Caller holds the lock.
func (p *Paper) applyFill(req OrderRequest, price decimal.Decimal) {
	signed := req.Quantity
	if req.Side == OrderSideSell {
		signed = signed.Neg()
	}

	pos, exists := p.positions[req.Symbol]
	if !exists {
		lev := p.leverages[req.Symbol]
		if lev == 0 {
			lev = req.Leverage
		}
		if lev == 0 {
			lev = 1
		}
		p.positions[req.Symbol] = PositionInfo{
			Symbol:     req.Symbol,
			Quantity:   signed,
			EntryPrice: price,
			MarkPrice:  price,
			Leverage:   lev,
		}
		return
	}

	newQty := pos.Quantity.Add(signed)
	if newQty.IsZero() {
		delete(p.positions, req.Symbol)
		return
	}
	pos.Quantity = newQty
	pos.MarkPrice = price
	p.positions[req.Symbol] = pos
}

// CancelOrder cancels a resting order.
func (p *Paper) CancelOrder(ctx context.Context, symbol, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.openOrders[orderID]; !ok {
		return fmt.Errorf("order %s not found", orderID)
	}
	delete(p.openOrders, orderID)
	return nil
}

// GetOrder returns a resting order.
func (p *Paper) GetOrder(ctx context.Context, symbol, orderID string) (*OpenOrder, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	order, ok := p.openOrders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %s not found", orderID)
	}
	return &order, nil
}

// GetOpenOrders lists resting orders.
func (p *Paper) GetOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []OpenOrder
	for _, order := range p.openOrders {
		if symbol != "" && order.Symbol != symbol {
			continue
		}
		out = append(out, order)
	}
	return out, nil
}

// CancelAllOrders cancels every resting order for a symbol.
func (p *Paper) CancelAllOrders(ctx context.Context, symbol string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, order := range p.openOrders {
		if symbol == "" || order.Symbol == symbol {
			delete(p.openOrders, id)
		}
	}
	return nil
}

// GetTicker returns the last set price.
func (p *Paper) GetTicker(ctx context.Context, symbol string) (decimal.Decimal, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	price, ok := p.prices[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("no ticker for %s", symbol)
	}
	return price, nil
}

// FormatQuantity truncates to three decimals, mirroring a typical futures
// step size.
func (p *Paper) FormatQuantity(symbol string, qty decimal.Decimal) string {
	return qty.RoundDown(3).String()
}

// FormatPrice rounds to two decimals.
func (p *Paper) FormatPrice(symbol string, price decimal.Decimal) string {
	return price.Round(2).String()
}
