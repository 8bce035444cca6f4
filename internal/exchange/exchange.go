// Package exchange provides venue connectivity for order execution.
package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide is the exchange-facing order direction.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType is the exchange order type.
type OrderType string

const (
	OrderTypeMarket           OrderType = "MARKET"
	OrderTypeLimit            OrderType = "LIMIT"
	OrderTypeStopMarket       OrderType = "STOP_MARKET"
	OrderTypeTakeProfitMarket OrderType = "TAKE_PROFIT_MARKET"
)

// OrderStatus is the venue-reported order state.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// OrderRequest describes one order to place.
type OrderRequest struct {
	Symbol        string
	Side          OrderSide
	Type          OrderType
	Quantity      decimal.Decimal
	Price         decimal.Decimal // limit orders only
	StopPrice     decimal.Decimal // stop-market / take-profit-market
	Leverage      int
	ClosePosition bool
	ReduceOnly    bool
	ClientOrderID string
}

// OrderResponse is the venue's acknowledgement of a placed order.
type OrderResponse struct {
	OrderID     string
	Symbol      string
	Status      OrderStatus
	AvgPrice    decimal.Decimal
	ExecutedQty decimal.Decimal
}

// Account summarizes the venue account state relevant to margin checks.
type Account struct {
	TotalBalance     decimal.Decimal
	AvailableBalance decimal.Decimal
	UnrealizedPnL    decimal.Decimal
	UpdatedAt        time.Time
}

// PositionInfo is an open position as reported by the venue.
type PositionInfo struct {
	Symbol        string
	Quantity      decimal.Decimal // signed
	EntryPrice    decimal.Decimal
	MarkPrice     decimal.Decimal
	Leverage      int
	UnrealizedPnL decimal.Decimal
}

// OpenOrder is an open order as reported by the venue.
type OpenOrder struct {
	OrderID   string
	Symbol    string
	Side      OrderSide
	Type      OrderType
	Quantity  decimal.Decimal
	StopPrice decimal.Decimal
	Status    OrderStatus
}

// Gateway is the capability set the execution engine is written against.
// Concrete venues are interchangeable variants selected by configuration.
type Gateway interface {
	// Connectivity
	Ping(ctx context.Context) error

	// Account and positions
	GetAccount(ctx context.Context) (*Account, error)
	GetPositions(ctx context.Context, symbol string) ([]PositionInfo, error)

	// Orders
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	GetOrder(ctx context.Context, symbol, orderID string) (*OpenOrder, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error)
	CancelAllOrders(ctx context.Context, symbol string) error

	// Market data
	GetTicker(ctx context.Context, symbol string) (decimal.Decimal, error)

	// Venue precision
	FormatQuantity(symbol string, qty decimal.Decimal) string
	FormatPrice(symbol string, price decimal.Decimal) string

	Name() string
}

// Config selects and configures a gateway variant.
type Config struct {
	Type               string // "binance" | "paper"
	APIKey             string
	APISecret          string
	BaseURL            string
	Testnet            bool
	RateLimitPerSecond int
	Timeout            time.Duration
}

// New builds a gateway from configuration. The variant set is closed:
// adding a venue means adding a case here.
func New(cfg Config, logger *slog.Logger) (Gateway, error) {
	switch cfg.Type {
	case "binance":
		return NewBinance(cfg, logger)
	case "paper", "":
		return NewPaper(logger), nil
	default:
		return nil, fmt.Errorf("unknown exchange type %q", cfg.Type)
	}
}
