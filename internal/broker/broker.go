// Package broker defines the narrow interface the dispatch and reconcile
// loops depend on, plus the pure helpers (side mapping, status
// categorization) that are shared across concrete implementations.
package broker

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"trademanager/internal/models"
)

// OrderRequest is what the core asks a broker to submit.
type OrderRequest struct {
	Symbol        string // equity ticker, or OCC code (any "O:" prefix stripped) for options
	AssetType     models.AssetType
	Qty           decimal.Decimal
	Reason        models.Reason // entry, sl, tp, force, close
	ClientOrderID string        // idempotency key the pipeline generates once per send attempt
}

// OrderResult is what a broker returns for a submit or status call.
// A success response does not always carry a fill price or an order id (see
// spec.md §4.2 step 3): FillPrice is nil and OrderID is empty when absent.
type OrderResult struct {
	OrderID   string
	FillPrice *decimal.Decimal
	Status    string
	HTTPCode  int
	Message   string
}

// Outcome classifies an OrderResult for the send pipeline and reconciler.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeSoftFail
	OutcomeFatal
)

// ClassifyHTTPStatus buckets a broker HTTP response per spec.md §4.2 step 3:
// 2xx is success, 429/5xx is a transient soft-fail worth retrying on a later
// tick, everything else (4xx auth/validation errors) is fatal for the row.
func ClassifyHTTPStatus(code int) Outcome {
	switch {
	case code >= 200 && code < 300:
		return OutcomeSuccess
	case code == 429 || code >= 500:
		return OutcomeSoftFail
	default:
		return OutcomeFatal
	}
}

// MapSide translates the spec's Tradier-style vocabulary into buy/sell.
// Entry opens a position (buy for equity long intent, buy_to_open for
// options); any other reason closes it (sell / sell_to_close).
func MapSide(assetType models.AssetType, side models.Side, reason models.Reason) string {
	opening := reason == models.ReasonEntry

	if assetType != models.AssetOption {
		if opening {
			return "buy"
		}
		return "sell"
	}

	if opening {
		return "buy_to_open"
	}
	return "sell_to_close"
}

// NormalizeOCC strips an optional leading "O:" prefix some feeds attach to
// OCC option symbols; Alpaca expects the bare OCC code.
func NormalizeOCC(symbol string) string {
	return strings.TrimPrefix(symbol, "O:")
}

// Broker is the interface the core depends on. A row's asset type and
// reason are carried in OrderRequest so the implementation can choose the
// right side/asset_class without the core knowing broker wire details.
type Broker interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	GetOrderStatus(ctx context.Context, orderID string) (OrderResult, error)
	// IsRTHOpenForOptions reports whether now falls inside the options
	// regular-trading-hours window (spec.md §4.2 step 0).
	IsRTHOpenForOptions(ctx context.Context, now time.Time) (bool, error)
}
