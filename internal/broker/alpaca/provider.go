// Package alpaca implements broker.Broker against the Alpaca trading API.
package alpaca

import (
	"context"
	"errors"
	"fmt"
	"time"

	alpacasdk "github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"trademanager/internal/broker"
	"trademanager/internal/models"
)

// Provider is the concrete Alpaca implementation of broker.Broker.
type Provider struct {
	tradeClient *alpacasdk.Client
	rthStart    string // "HH:MM" in America/New_York
	rthEnd      string
	loc         *time.Location
}

var _ broker.Broker = (*Provider)(nil)

// New builds a Provider against the given Alpaca credentials and base URL.
func New(keyID, secretKey, baseURL, rthStart, rthEnd string, loc *time.Location) *Provider {
	return &Provider{
		tradeClient: alpacasdk.NewClient(alpacasdk.ClientOpts{
			APIKey:    keyID,
			APISecret: secretKey,
			BaseURL:   baseURL,
		}),
		rthStart: rthStart,
		rthEnd:   rthEnd,
		loc:      loc,
	}
}

// SubmitOrder places a market order, translating side and symbol per the
// spec's Tradier-style vocabulary (spec.md §6).
func (p *Provider) SubmitOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderResult, error) {
	side := broker.MapSide(req.AssetType, models.SideNone, req.Reason)
	alpacaSide, err := toAlpacaSide(side)
	if err != nil {
		return broker.OrderResult{}, err
	}

	symbol := req.Symbol
	if req.AssetType == models.AssetOption {
		symbol = broker.NormalizeOCC(symbol)
	}

	qty := req.Qty
	orderReq := alpacasdk.PlaceOrderRequest{
		Symbol:        symbol,
		Qty:           &qty,
		Side:          alpacaSide,
		Type:          alpacasdk.Market,
		TimeInForce:   alpacasdk.Day,
		ClientOrderID: req.ClientOrderID,
	}

	o, err := p.tradeClient.PlaceOrder(orderReq)
	if err != nil {
		// Report the API's own HTTP status so 4xx rejections classify as
		// fatal; transport errors with no response count as a soft 500.
		code := 500
		var apiErr *alpacasdk.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode != 0 {
			code = apiErr.StatusCode
		}
		return broker.OrderResult{HTTPCode: code, Message: err.Error()}, err
	}
	return mapOrder(o), nil
}

// GetOrderStatus polls the current broker-side state of a previously
// submitted order.
func (p *Provider) GetOrderStatus(ctx context.Context, orderID string) (broker.OrderResult, error) {
	o, err := p.tradeClient.GetOrder(orderID)
	if err != nil {
		return broker.OrderResult{HTTPCode: 500, Message: err.Error()}, err
	}
	return mapOrder(o), nil
}

// IsRTHOpenForOptions reports whether now falls inside the configured
// options regular-trading-hours window, carried over from the teacher's
// Provider.GetClock use in risk checks.
func (p *Provider) IsRTHOpenForOptions(ctx context.Context, now time.Time) (bool, error) {
	clock, err := p.tradeClient.GetClock()
	if err != nil {
		return false, fmt.Errorf("get clock: %w", err)
	}
	if !clock.IsOpen {
		return false, nil
	}

	nyNow := now.In(p.loc)
	start, err := parseClockTime(p.rthStart, nyNow)
	if err != nil {
		return false, err
	}
	end, err := parseClockTime(p.rthEnd, nyNow)
	if err != nil {
		return false, err
	}
	return !nyNow.Before(start) && !nyNow.After(end), nil
}

func parseClockTime(hhmm string, ref time.Time) (time.Time, error) {
	t, err := time.ParseInLocation("15:04", hhmm, ref.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("parse clock time %q: %w", hhmm, err)
	}
	return time.Date(ref.Year(), ref.Month(), ref.Day(), t.Hour(), t.Minute(), 0, 0, ref.Location()), nil
}

func toAlpacaSide(side string) (alpacasdk.Side, error) {
	switch side {
	case "buy", "buy_to_open", "buy_to_close":
		return alpacasdk.Buy, nil
	case "sell", "sell_to_close", "sell_to_open":
		return alpacasdk.Sell, nil
	default:
		return "", fmt.Errorf("unmapped side %q", side)
	}
}

func mapOrder(o *alpacasdk.Order) broker.OrderResult {
	if o == nil {
		return broker.OrderResult{}
	}
	var fillPrice *decimal.Decimal
	if o.FilledAvgPrice != nil {
		fp := *o.FilledAvgPrice
		fillPrice = &fp
	}
	return broker.OrderResult{
		OrderID:   o.ID,
		FillPrice: fillPrice,
		Status:    string(o.Status),
		HTTPCode:  200,
	}
}
