// Package feed polls the trading-signal source for agent positions.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/M3R1ttt/nof1-tracker/internal/types"
)

const defaultBaseURL = "https://nof1.ai/api"

// wirePosition is the signal source's position record.
type wirePosition struct {
	Symbol       string `json:"symbol"`
	Quantity     string `json:"quantity"` // signed decimal string
	EntryOid     int64  `json:"entry_oid"`
	EntryPrice   string `json:"entry_price"`
	CurrentPrice string `json:"current_price"`
	Leverage     int    `json:"leverage"`
	ExitPlan     *struct {
		ProfitTarget string `json:"profit_target"`
		StopLoss     string `json:"stop_loss"`
	} `json:"exit_plan"`
	TpOid int64 `json:"tp_oid"`
	SlOid int64 `json:"sl_oid"`
}

type wireResponse struct {
	AgentID   string         `json:"agent_id"`
	Positions []wirePosition `json:"positions"`
}

// Config holds feed client settings.
type Config struct {
	BaseURL            string
	Timeout            time.Duration
	RateLimitPerSecond int
}

// Client fetches agent position snapshots over HTTP. Retry across failures
// is the polling loop's concern; the client performs exactly one attempt
// per call.
type Client struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient creates a feed client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	rps := cfg.RateLimitPerSecond
	if rps <= 0 {
		rps = 5
	}

	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		logger:  logger,
	}
}

// GetAgentSnapshot fetches the agent's current positions and converts them
// into an immutable snapshot. An agent the source does not know returns
// ErrUnknownAgent.
func (c *Client) GetAgentSnapshot(ctx context.Context, agentID string) (types.AgentSnapshot, error) {
	if agentID == "" {
		return types.AgentSnapshot{}, types.ErrUnknownAgent
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return types.AgentSnapshot{}, err
	}

	endpoint := fmt.Sprintf("%s/agents/%s/positions", c.baseURL, url.PathEscape(agentID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return types.AgentSnapshot{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return types.AgentSnapshot{}, fmt.Errorf("fetch positions for %s: %w", agentID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.AgentSnapshot{}, fmt.Errorf("read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return types.AgentSnapshot{}, fmt.Errorf("%w: %s", types.ErrUnknownAgent, agentID)
	default:
		return types.AgentSnapshot{}, fmt.Errorf("signal source returned %d: %s",
			resp.StatusCode, string(body))
	}

	var wire wireResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return types.AgentSnapshot{}, fmt.Errorf("decode positions: %w", err)
	}

	return toSnapshot(agentID, wire)
}

// toSnapshot converts wire records into the internal snapshot form.
func toSnapshot(agentID string, wire wireResponse) (types.AgentSnapshot, error) {
	snap := types.AgentSnapshot{
		AgentID:   agentID,
		FetchedAt: time.Now(),
		Positions: make(map[string]types.Position, len(wire.Positions)),
	}

	for _, wp := range wire.Positions {
		if wp.Symbol == "" {
			return types.AgentSnapshot{}, fmt.Errorf("%w: position without symbol",
				types.ErrMalformedSnapshot)
		}

		qty, err := decimal.NewFromString(wp.Quantity)
		if err != nil {
			return types.AgentSnapshot{}, fmt.Errorf("%w: %s quantity %q",
				types.ErrMalformedSnapshot, wp.Symbol, wp.Quantity)
		}

		pos := types.Position{
			Symbol:            wp.Symbol,
			Quantity:          qty,
			EntryOrderID:      wp.EntryOid,
			Leverage:          wp.Leverage,
			TakeProfitOrderID: orderIDOrUnset(wp.TpOid),
			StopLossOrderID:   orderIDOrUnset(wp.SlOid),
		}

		if wp.EntryPrice != "" {
			pos.EntryPrice, err = decimal.NewFromString(wp.EntryPrice)
			if err != nil {
				return types.AgentSnapshot{}, fmt.Errorf("%w: %s entry price %q",
					types.ErrMalformedSnapshot, wp.Symbol, wp.EntryPrice)
			}
		}
		if wp.CurrentPrice != "" {
			pos.CurrentPrice, err = decimal.NewFromString(wp.CurrentPrice)
			if err != nil {
				return types.AgentSnapshot{}, fmt.Errorf("%w: %s current price %q",
					types.ErrMalformedSnapshot, wp.Symbol, wp.CurrentPrice)
			}
		}

		if wp.ExitPlan != nil {
			if wp.ExitPlan.ProfitTarget != "" {
				pos.ExitPlan.ProfitTarget, err = decimal.NewFromString(wp.ExitPlan.ProfitTarget)
				if err != nil {
					return types.AgentSnapshot{}, fmt.Errorf("%w: %s profit target %q",
						types.ErrMalformedSnapshot, wp.Symbol, wp.ExitPlan.ProfitTarget)
				}
			}
			if wp.ExitPlan.StopLoss != "" {
				pos.ExitPlan.StopLoss, err = decimal.NewFromString(wp.ExitPlan.StopLoss)
				if err != nil {
					return types.AgentSnapshot{}, fmt.Errorf("%w: %s stop loss %q",
						types.ErrMalformedSnapshot, wp.Symbol, wp.ExitPlan.StopLoss)
				}
			}
		}

		snap.Positions[wp.Symbol] = pos
	}

	return snap, nil
}

func orderIDOrUnset(oid int64) int64 {
	if oid == 0 {
		return types.UnsetOrderID
	}
	return oid
}
