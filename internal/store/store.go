// Package store is the client for the shared PostgREST-style table API that
// holds active_trades, executed_trades and spot. It has no trading logic of
// its own: it is pure transport plus the single conditional-update idiom
// (PreLockOrder) that the rest of the system relies on for mutual exclusion.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"trademanager/internal/models"
)

func unmarshalRepresentation(body []byte, rows *[]models.ActiveTrade) error {
	return json.Unmarshal(body, rows)
}

// Client talks to the shared store over HTTP.
type Client struct {
	http *resty.Client
}

// New builds a Client against baseURL, authenticating with apiKey when set.
func New(baseURL, apiKey string) *Client {
	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(250 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Prefer", "return=representation")
	if apiKey != "" {
		http.SetHeader("Authorization", "Bearer "+apiKey)
	}
	return &Client{http: http}
}

// ManageFilter restricts ListActiveTrades to rows with a given manage flag.
// An empty filter lists every row.
type ManageFilter models.ManageFlag

// ListActiveTrades returns active_trades rows, restricted to one manage flag
// when filter is set; callers skip the rows they may not act on.
func (c *Client) ListActiveTrades(ctx context.Context, filter ManageFilter) ([]models.ActiveTrade, error) {
	req := c.http.R().SetContext(ctx)
	if filter != "" {
		req.SetQueryParam("manage", "eq."+string(filter))
	}
	var rows []models.ActiveTrade
	resp, err := req.SetResult(&rows).Get("/active_trades")
	if err != nil {
		return nil, fmt.Errorf("list active_trades: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("list active_trades: status %d: %s", resp.StatusCode(), resp.String())
	}
	return rows, nil
}

// PreLockOrder is the compare-and-set that prevents two dispatcher ticks
// from submitting for the same row. It issues a conditional PATCH that only
// matches when order_id is still null, and reports whether it won the race.
func (c *Client) PreLockOrder(ctx context.Context, id string, reason models.Reason) (bool, error) {
	body := map[string]any{
		"order_id":     models.OrderIDSent,
		"order_status": models.OrderStatusWorking,
		"comment":      string(reason),
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("id", "eq."+id).
		SetQueryParam("order_id", "is.null").
		SetBody(body).
		Patch("/active_trades")
	if err != nil {
		return false, fmt.Errorf("pre-lock %s: %w", id, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return false, fmt.Errorf("pre-lock %s: status %d: %s", id, resp.StatusCode(), resp.String())
	}
	var rows []models.ActiveTrade
	if err := unmarshalRepresentation(resp.Body(), &rows); err != nil {
		return false, fmt.Errorf("pre-lock %s: decode: %w", id, err)
	}
	if len(rows) == 0 {
		// Another tick already pre-locked this row; not an error, just a lost race.
		return false, nil
	}
	return true, nil
}

// orderIDRank orders the null -> sent -> real-id -> Error progression so
// auditOrderIDRegression can detect a write that moves a row backwards.
func orderIDRank(id *string) int {
	if id == nil {
		return 0
	}
	switch *id {
	case models.OrderIDSent:
		return 1
	case models.OrderIDError:
		return 3
	default:
		return 2
	}
}

// auditOrderIDRegression re-reads a row's current order_id before a write
// that touches that field and logs a loud, non-blocking warning if the write
// would move it backwards in the null -> sent -> real-id -> Error
// progression. Modeled on the teacher's SaveState high-water-mark audit:
// load the prior value, compare, log, and never block the write on it.
func (c *Client) auditOrderIDRegression(ctx context.Context, id string, newOrderID any) {
	var rows []models.ActiveTrade
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("id", "eq."+id).
		SetQueryParam("select", "order_id").
		SetResult(&rows).
		Get("/active_trades")
	if err != nil || resp.StatusCode() != http.StatusOK || len(rows) == 0 {
		return
	}

	var newID *string
	switch v := newOrderID.(type) {
	case string:
		newID = &v
	case nil:
		newID = nil
	default:
		return
	}

	oldRank, newRank := orderIDRank(rows[0].OrderID), orderIDRank(newID)
	if newRank < oldRank {
		log.Printf("[CRITICAL_STATE_REGRESSION] order_id regressed for active_trade %s! Old: %v, New: %v", id, rows[0].OrderID, newID)
	}
}

// UpdateActiveTrade persists an arbitrary field set on a row by id.
func (c *Client) UpdateActiveTrade(ctx context.Context, id string, fields map[string]any) error {
	if newOrderID, touchesOrderID := fields["order_id"]; touchesOrderID {
		c.auditOrderIDRegression(ctx, id, newOrderID)
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("id", "eq."+id).
		SetBody(fields).
		Patch("/active_trades")
	if err != nil {
		return fmt.Errorf("update active_trade %s: %w", id, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("update active_trade %s: status %d: %s", id, resp.StatusCode(), resp.String())
	}
	return nil
}

// ResetForRetry clears a soft-failed row's pre-lock placeholder back to
// null so a later tick can re-pre-lock and retry, tagging comment with the
// bumped attempt count the send pipeline's backoff gate reads back. The
// conditional match on order_id=eq.sent keeps this narrowly scoped to the
// pre-lock placeholder; it never touches a row already carrying a real
// broker order id, so it cannot trip auditOrderIDRegression's guard.
func (c *Client) ResetForRetry(ctx context.Context, id, comment string) (bool, error) {
	body := map[string]any{
		"order_id":     nil,
		"order_status": models.OrderStatusWorking,
		"comment":      comment,
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("id", "eq."+id).
		SetQueryParam("order_id", "eq."+models.OrderIDSent).
		SetBody(body).
		Patch("/active_trades")
	if err != nil {
		return false, fmt.Errorf("reset for retry %s: %w", id, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return false, fmt.Errorf("reset for retry %s: status %d: %s", id, resp.StatusCode(), resp.String())
	}
	var rows []models.ActiveTrade
	if err := unmarshalRepresentation(resp.Body(), &rows); err != nil {
		return false, fmt.Errorf("reset for retry %s: decode: %w", id, err)
	}
	return len(rows) > 0, nil
}

// DeleteActiveTrade removes a row once its lifecycle has closed.
func (c *Client) DeleteActiveTrade(ctx context.Context, id string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("id", "eq."+id).
		Delete("/active_trades")
	if err != nil {
		return fmt.Errorf("delete active_trade %s: %w", id, err)
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusNoContent {
		return fmt.Errorf("delete active_trade %s: status %d: %s", id, resp.StatusCode(), resp.String())
	}
	return nil
}

// InsertExecutedOpen appends the open leg of the historical ledger. Failures
// are returned to the caller, which logs and swallows them: a missed ledger
// write must never block trading logic.
func (c *Client) InsertExecutedOpen(ctx context.Context, row models.ExecutedTrade) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(row).
		Post("/executed_trades")
	if err != nil {
		return fmt.Errorf("insert executed_trade open %s: %w", row.ActiveTradeID, err)
	}
	if resp.StatusCode() != http.StatusCreated && resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("insert executed_trade open %s: status %d: %s", row.ActiveTradeID, resp.StatusCode(), resp.String())
	}
	return nil
}

// InsertExecutedClose patches the close leg onto the row opened by
// InsertExecutedOpen, keyed on active_trade_id.
func (c *Client) InsertExecutedClose(ctx context.Context, activeTradeID string, closeTS time.Time, closePrice, closeCostBasis any, reason models.Reason) error {
	body := map[string]any{
		"close_ts":         closeTS,
		"close_price":      closePrice,
		"close_cost_basis": closeCostBasis,
		"close_reason":     string(reason),
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("active_trade_id", "eq."+activeTradeID).
		SetBody(body).
		Patch("/executed_trades")
	if err != nil {
		return fmt.Errorf("insert executed_trade close %s: %w", activeTradeID, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("insert executed_trade close %s: status %d: %s", activeTradeID, resp.StatusCode(), resp.String())
	}
	return nil
}

// GetSpot fetches the latest snapshot for one instrument.
func (c *Client) GetSpot(ctx context.Context, instrumentID string) (models.Spot, bool, error) {
	var rows []models.Spot
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("instrument_id", "eq."+instrumentID).
		SetResult(&rows).
		Get("/spot")
	if err != nil {
		return models.Spot{}, false, fmt.Errorf("get spot %s: %w", instrumentID, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return models.Spot{}, false, fmt.Errorf("get spot %s: status %d: %s", instrumentID, resp.StatusCode(), resp.String())
	}
	if len(rows) == 0 {
		return models.Spot{}, false, nil
	}
	return rows[0], true, nil
}

// SpotLookup adapts the store's GetSpot into the condition package's pure
// lookup signature, logging (and swallowing) transport errors: a stale or
// missing spot row should skip a check, not crash the evaluation loop.
func (c *Client) SpotLookup(ctx context.Context) func(instrumentID string) (models.Spot, bool) {
	return func(instrumentID string) (models.Spot, bool) {
		spot, ok, err := c.GetSpot(ctx, instrumentID)
		if err != nil {
			log.Printf("spot lookup %s: %v", instrumentID, err)
			return models.Spot{}, false
		}
		return spot, ok
	}
}
