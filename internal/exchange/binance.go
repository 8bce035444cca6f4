package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/M3R1ttt/nof1-tracker/internal/types"
)

const (
	binanceFuturesURL        = "https://fapi.binance.com"
	binanceFuturesTestnetURL = "https://testnet.binancefuture.com"

	recvWindowMs = 5000
)

// Binance implements Gateway against the Binance USD-M futures REST API.
type Binance struct {
	cfg     Config
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger

	// Symbol precision cache populated lazily from exchangeInfo.
	precMu     sync.RWMutex
	precisions map[string]symbolPrecision
}

type symbolPrecision struct {
	quantity int
	price    int
}

// NewBinance creates a Binance futures gateway.
func NewBinance(cfg Config, logger *slog.Logger) (*Binance, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("%w: binance requires api_key and api_secret", types.ErrInvalidConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = binanceFuturesURL
		if cfg.Testnet {
			baseURL = binanceFuturesTestnetURL
		}
	}

	rps := cfg.RateLimitPerSecond
	if rps <= 0 {
		rps = 10
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &Binance{
		cfg:        cfg,
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), rps),
		logger:     logger,
		precisions: make(map[string]symbolPrecision),
	}, nil
}

// Name returns the venue name.
func (b *Binance) Name() string { return "binance" }

// Ping checks REST connectivity.
func (b *Binance) Ping(ctx context.Context) error {
	var out struct{}
	if err := b.do(ctx, http.MethodGet, "/fapi/v1/ping", nil, false, &out); err != nil {
		return fmt.Errorf("%w: %v", types.ErrConnectivity, err)
	}
	return nil
}

type binanceBalance struct {
	Asset            string `json:"asset"`
	Balance          string `json:"balance"`
	AvailableBalance string `json:"availableBalance"`
	CrossUnPnl       string `json:"crossUnPnl"`
}

// GetAccount returns the USDT futures balance.
func (b *Binance) GetAccount(ctx context.Context) (*Account, error) {
	var balances []binanceBalance
	if err := b.do(ctx, http.MethodGet, "/fapi/v2/balance", nil, true, &balances); err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}

	for _, bal := range balances {
		if bal.Asset != "USDT" {
			continue
		}
		total, err := decimal.NewFromString(bal.Balance)
		if err != nil {
			return nil, fmt.Errorf("parse balance %q: %w", bal.Balance, err)
		}
		avail, err := decimal.NewFromString(bal.AvailableBalance)
		if err != nil {
			return nil, fmt.Errorf("parse available balance %q: %w", bal.AvailableBalance, err)
		}
		upnl, _ := decimal.NewFromString(bal.CrossUnPnl)
		return &Account{
			TotalBalance:     total,
			AvailableBalance: avail,
			UnrealizedPnL:    upnl,
			UpdatedAt:        time.Now(),
		}, nil
	}

	return nil, fmt.Errorf("no USDT balance in account")
}

type binancePosition struct {
	Symbol           string `json:"symbol"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	MarkPrice        string `json:"markPrice"`
	Leverage         string `json:"leverage"`
	UnRealizedProfit string `json:"unRealizedProfit"`
}

// GetPositions returns open positions, optionally filtered by symbol.
func (b *Binance) GetPositions(ctx context.Context, symbol string) ([]PositionInfo, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}

	var raw []binancePosition
	if err := b.do(ctx, http.MethodGet, "/fapi/v2/positionRisk?"+params.Encode(), nil, true, &raw); err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}

	var positions []PositionInfo
	for _, p := range raw {
		qty, err := decimal.NewFromString(p.PositionAmt)
		if err != nil || qty.IsZero() {
			continue
		}
		entry, _ := decimal.NewFromString(p.EntryPrice)
		mark, _ := decimal.NewFromString(p.MarkPrice)
		lev, _ := strconv.Atoi(p.Leverage)
		upnl, _ := decimal.NewFromString(p.UnRealizedProfit)
		positions = append(positions, PositionInfo{
			Symbol:        p.Symbol,
			Quantity:      qty,
			EntryPrice:    entry,
			MarkPrice:     mark,
			Leverage:      lev,
			UnrealizedPnL: upnl,
		})
	}

	return positions, nil
}

// SetLeverage sets the leverage for a symbol.
func (b *Binance) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))

	var out struct {
		Leverage int    `json:"leverage"`
		Symbol   string `json:"symbol"`
	}
	if err := b.do(ctx, http.MethodPost, "/fapi/v1/leverage?"+params.Encode(), nil, true, &out); err != nil {
		return fmt.Errorf("%w: %s: %v", types.ErrLeverageSet, symbol, err)
	}
	return nil
}

type binanceOrder struct {
	OrderID       int64  `json:"orderId"`
	Symbol        string `json:"symbol"`
	Status        string `json:"status"`
	AvgPrice      string `json:"avgPrice"`
	ExecutedQty   string `json:"executedQty"`
	OrigQty       string `json:"origQty"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	StopPrice     string `json:"stopPrice"`
	ClientOrderID string `json:"clientOrderId"`
}

// PlaceOrder submits an order to the venue.
func (b *Binance) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error) {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", string(req.Side))
	params.Set("type", string(req.Type))
	if req.ClientOrderID != "" {
		params.Set("newClientOrderId", req.ClientOrderID)
	}

	switch req.Type {
	case OrderTypeMarket:
		params.Set("quantity", b.FormatQuantity(req.Symbol, req.Quantity))
	case OrderTypeLimit:
		params.Set("quantity", b.FormatQuantity(req.Symbol, req.Quantity))
		params.Set("price", b.FormatPrice(req.Symbol, req.Price))
		params.Set("timeInForce", "GTC")
	case OrderTypeStopMarket, OrderTypeTakeProfitMarket:
		params.Set("stopPrice", b.FormatPrice(req.Symbol, req.StopPrice))
		if req.ClosePosition {
			params.Set("closePosition", "true")
		} else {
			params.Set("quantity", b.FormatQuantity(req.Symbol, req.Quantity))
			params.Set("reduceOnly", "true")
		}
	default:
		return nil, fmt.Errorf("unsupported order type %q", req.Type)
	}
	if req.ReduceOnly && req.Type == OrderTypeMarket {
		params.Set("reduceOnly", "true")
	}
	// Market orders need the final fill in the response.
	params.Set("newOrderRespType", "RESULT")

	var raw binanceOrder
	if err := b.do(ctx, http.MethodPost, "/fapi/v1/order?"+params.Encode(), nil, true, &raw); err != nil {
		return nil, fmt.Errorf("place %s %s %s: %w", req.Type, req.Side, req.Symbol, err)
	}

	avg, _ := decimal.NewFromString(raw.AvgPrice)
	executed, _ := decimal.NewFromString(raw.ExecutedQty)
	return &OrderResponse{
		OrderID:     strconv.FormatInt(raw.OrderID, 10),
		Symbol:      raw.Symbol,
		Status:      OrderStatus(raw.Status),
		AvgPrice:    avg,
		ExecutedQty: executed,
	}, nil
}

// CancelOrder cancels one order.
func (b *Binance) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)

	var raw binanceOrder
	if err := b.do(ctx, http.MethodDelete, "/fapi/v1/order?"+params.Encode(), nil, true, &raw); err != nil {
		return fmt.Errorf("cancel order %s/%s: %w", symbol, orderID, err)
	}
	return nil
}

// GetOrder queries one order's status.
func (b *Binance) GetOrder(ctx context.Context, symbol, orderID string) (*OpenOrder, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)

	var raw binanceOrder
	if err := b.do(ctx, http.MethodGet, "/fapi/v1/order?"+params.Encode(), nil, true, &raw); err != nil {
		return nil, fmt.Errorf("get order %s/%s: %w", symbol, orderID, err)
	}
	return toOpenOrder(raw), nil
}

// GetOpenOrders lists open orders, optionally filtered by symbol.
func (b *Binance) GetOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}

	var raw []binanceOrder
	if err := b.do(ctx, http.MethodGet, "/fapi/v1/openOrders?"+params.Encode(), nil, true, &raw); err != nil {
		return nil, fmt.Errorf("get open orders: %w", err)
	}

	orders := make([]OpenOrder, 0, len(raw))
	for _, o := range raw {
		orders = append(orders, *toOpenOrder(o))
	}
	return orders, nil
}

// CancelAllOrders cancels every open order for a symbol.
func (b *Binance) CancelAllOrders(ctx context.Context, symbol string) error {
	params := url.Values{}
	params.Set("symbol", symbol)

	var out struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := b.do(ctx, http.MethodDelete, "/fapi/v1/allOpenOrders?"+params.Encode(), nil, true, &out); err != nil {
		return fmt.Errorf("cancel all orders %s: %w", symbol, err)
	}
	return nil
}

// GetTicker returns the latest price for a symbol.
func (b *Binance) GetTicker(ctx context.Context, symbol string) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var out struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := b.do(ctx, http.MethodGet, "/fapi/v1/ticker/price?"+params.Encode(), nil, false, &out); err != nil {
		return decimal.Zero, fmt.Errorf("get ticker %s: %w", symbol, err)
	}

	price, err := decimal.NewFromString(out.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse ticker price %q: %w", out.Price, err)
	}
	return price, nil
}

// FormatQuantity rounds a quantity down to the venue's step precision.
func (b *Binance) FormatQuantity(symbol string, qty decimal.Decimal) string {
	prec := b.precision(symbol)
	return qty.RoundDown(int32(prec.quantity)).String()
}

// FormatPrice rounds a price to the venue's tick precision.
func (b *Binance) FormatPrice(symbol string, price decimal.Decimal) string {
	prec := b.precision(symbol)
	return price.Round(int32(prec.price)).String()
}

// precision returns cached precision for a symbol, fetching exchangeInfo on
// first use. Falls back to 3 quantity / 2 price decimals when the venue
// cannot be queried.
func (b *Binance) precision(symbol string) symbolPrecision {
	b.precMu.RLock()
	prec, ok := b.precisions[symbol]
	b.precMu.RUnlock()
	if ok {
		return prec
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.loadExchangeInfo(ctx); err != nil {
		b.logger.Warn("exchangeInfo fetch failed, using default precision",
			"symbol", symbol, "err", err)
		return symbolPrecision{quantity: 3, price: 2}
	}

	b.precMu.RLock()
	prec, ok = b.precisions[symbol]
	b.precMu.RUnlock()
	if !ok {
		return symbolPrecision{quantity: 3, price: 2}
	}
	return prec
}

func (b *Binance) loadExchangeInfo(ctx context.Context) error {
	var out struct {
		Symbols []struct {
			Symbol            string `json:"symbol"`
			QuantityPrecision int    `json:"quantityPrecision"`
			PricePrecision    int    `json:"pricePrecision"`
		} `json:"symbols"`
	}
	if err := b.do(ctx, http.MethodGet, "/fapi/v1/exchangeInfo", nil, false, &out); err != nil {
		return err
	}

	b.precMu.Lock()
	for _, s := range out.Symbols {
		b.precisions[s.Symbol] = symbolPrecision{
			quantity: s.QuantityPrecision,
			price:    s.PricePrecision,
		}
	}
	b.precMu.Unlock()
	return nil
}

// do performs one REST call, signing the query when required.
func (b *Binance) do(ctx context.Context, method, path string, body io.Reader, signed bool, out any) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}

	fullURL := b.baseURL + path
	if signed {
		basePath := path
		query := url.Values{}
		if idx := strings.Index(path, "?"); idx >= 0 {
			basePath = path[:idx]
			parsed, err := url.ParseQuery(path[idx+1:])
			if err != nil {
				return fmt.Errorf("parse query: %w", err)
			}
			query = parsed
		}
		query.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		query.Set("recvWindow", strconv.Itoa(recvWindowMs))
		encoded := query.Encode()
		fullURL = b.baseURL + basePath + "?" + encoded + "&signature=" + b.sign(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-MBX-APIKEY", b.cfg.APIKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Msg != "" {
			return fmt.Errorf("binance %d (code %d): %s", resp.StatusCode, apiErr.Code, apiErr.Msg)
		}
		return fmt.Errorf("binance %d: %s", resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// sign computes the HMAC-SHA256 signature over the query string.
func (b *Binance) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(b.cfg.APISecret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

func toOpenOrder(o binanceOrder) *OpenOrder {
	qty, _ := decimal.NewFromString(o.OrigQty)
	stop, _ := decimal.NewFromString(o.StopPrice)
	return &OpenOrder{
		OrderID:   strconv.FormatInt(o.OrderID, 10),
		Symbol:    o.Symbol,
		Side:      OrderSide(o.Side),
		Type:      OrderType(o.Type),
		Quantity:  qty,
		StopPrice: stop,
		Status:    OrderStatus(o.Status),
	}
}
