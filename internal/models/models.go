// Package models holds the domain types shared by the store, broker,
// condition and dispatch/reconcile packages.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetType identifies the instrument class of a trade leg.
type AssetType string

const (
	AssetEquity AssetType = "equity"
	AssetOption AssetType = "option"
)

// CallPut identifies the option right. Empty for equities.
type CallPut string

const (
	Call     CallPut = "c"
	Put      CallPut = "p"
	NoOption CallPut = ""
)

// Side is the directional bias of the position (equities only; options use CallPut).
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
	SideNone  Side = ""
)

// ManageFlag controls whether the core is allowed to act on a row.
type ManageFlag string

const (
	ManageOn         ManageFlag = "Y" // automation on
	ManageFrozen     ManageFlag = "N" // frozen, core must not touch
	ManageForceClose ManageFlag = "C" // force-close requested
)

// Status is the lifecycle stage of a row.
type Status string

const (
	StatusWaiting     Status = "nt-waiting"
	StatusManaging    Status = "nt-managing"
	StatusPosManaging Status = "pos-managing" // externally assigned, never by the core
)

// Condition is the trigger style for entry/SL checks.
type Condition string

const (
	CondNow        Condition = "now"
	CondAtTouch    Condition = "at"
	CondCloseAbove Condition = "ca"
	CondCloseBelow Condition = "cb"
)

// Reason tags a send-pipeline invocation and, on fill, an executed-trade close.
type Reason string

const (
	ReasonEntry Reason = "entry"
	ReasonSL    Reason = "sl"
	ReasonTP    Reason = "tp"
	ReasonForce Reason = "force"
	ReasonClose Reason = "close" // default close reason when comment tag is absent/unknown
)

// Sentinel order_id values. A real order id is any other non-empty string.
const (
	OrderIDSent  = "sent"  // pre-lock placeholder
	OrderIDError = "Error" // fatal-freeze placeholder
)

// Broker order statuses. TerminalStatuses is the terminal subset.
const (
	OrderStatusWorking       = "working" // internal pre-lock status, never sent to the broker
	OrderStatusPendingNew    = "pending_new"
	OrderStatusNew           = "new"
	OrderStatusAccepted      = "accepted"
	OrderStatusPartiallyFill = "partially_filled"
	OrderStatusFilled        = "filled"
	OrderStatusCanceled      = "canceled"
	OrderStatusRejected      = "rejected"
	OrderStatusExpired       = "expired"
	OrderStatusErrorInternal = "error" // internal frozen-row status, never sent to the broker
)

// TerminalStatuses is the set of broker statuses that admit no further transition.
var TerminalStatuses = map[string]bool{
	OrderStatusFilled:   true,
	OrderStatusCanceled: true,
	OrderStatusRejected: true,
	OrderStatusExpired:  true,
}

// IsTerminal reports whether status is a member of TerminalStatuses.
func IsTerminal(status string) bool {
	return TerminalStatuses[status]
}

// ActiveTrade is one row of the active_trades table: one lifecycle intent.
type ActiveTrade struct {
	ID     string     `json:"id"`
	Symbol string     `json:"symbol"`
	OCC    string     `json:"occ"`
	Asset  AssetType  `json:"asset_type"`
	CP     CallPut    `json:"cp"`
	Side   Side       `json:"side"`
	Qty    int64      `json:"qty"`
	Manage ManageFlag `json:"manage"`
	Status Status     `json:"status"`

	EntryCond  Condition       `json:"entry_cond"`
	EntryType  AssetType       `json:"entry_type"`
	EntryTF    string          `json:"entry_tf"`
	EntryLevel decimal.Decimal `json:"entry_level"`
	EntryTime  *time.Time      `json:"entry_time"`
	EndTime    *time.Time      `json:"end_time"`

	SLEnabled bool            `json:"sl_enabled"`
	SLCond    Condition       `json:"sl_cond"`
	SLType    AssetType       `json:"sl_type"`
	SLTF      string          `json:"sl_tf"`
	SLLevel   decimal.Decimal `json:"sl_level"`

	TPEnabled bool             `json:"tp_enabled"`
	TPLevel   *decimal.Decimal `json:"tp_level"`
	TPType    AssetType        `json:"tp_type"`

	OrderID     *string `json:"order_id"`
	OrderStatus string  `json:"order_status"`
	Comment     string  `json:"comment"`

	TradeType string `json:"trade_type"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InstrumentID returns the traded instrument's id: the OCC code for options,
// the ticker otherwise.
func (t ActiveTrade) InstrumentID() string {
	if t.Asset == AssetOption {
		return t.OCC
	}
	return t.Symbol
}

// HasNonTerminalOrder reports whether the row is currently working an order:
// a pre-lock placeholder, or a real id with a non-terminal status. The
// fatal-freeze placeholder is a terminal dead end, not a live order, and
// reports false; callers that need to tell it apart from a null order_id must
// check OrderID directly.
func (t ActiveTrade) HasNonTerminalOrder() bool {
	if t.OrderID == nil {
		return false
	}
	id := *t.OrderID
	if id == OrderIDError {
		return false
	}
	if id == OrderIDSent {
		return true
	}
	return !IsTerminal(t.OrderStatus)
}

// Multiplier returns the contract multiplier used for cost-basis calculations.
func (t ActiveTrade) Multiplier() decimal.Decimal {
	if t.Asset == AssetOption {
		return decimal.NewFromInt(100)
	}
	return decimal.NewFromInt(1)
}

// ExecutedTrade is an append-only ledger row keyed by ActiveTradeID.
type ExecutedTrade struct {
	ActiveTradeID  string          `json:"active_trade_id"`
	TradeType      string          `json:"trade_type"`
	Symbol         string          `json:"symbol"`
	OCC            string          `json:"occ"`
	AssetType      AssetType       `json:"asset_type"`
	Qty            int64           `json:"qty"`
	OpenTS         time.Time       `json:"open_ts"`
	OpenPrice      decimal.Decimal `json:"open_price"`
	OpenCostBasis  decimal.Decimal `json:"open_cost_basis"`
	CloseTS        time.Time       `json:"close_ts,omitempty"`
	ClosePrice     decimal.Decimal `json:"close_price,omitempty"`
	CloseCostBasis decimal.Decimal `json:"close_cost_basis,omitempty"`
	CloseReason    Reason          `json:"close_reason,omitempty"`
}

// Spot is the read-only latest-market-data snapshot for one instrument.
type Spot struct {
	InstrumentID string                     `json:"instrument_id"`
	LastPrice    decimal.Decimal            `json:"last_price"`
	TFCloses     map[string]decimal.Decimal `json:"tf_closes"`
}

// Close returns the bucket close for tf, or (zero, false) when absent.
func (s Spot) Close(tf string) (decimal.Decimal, bool) {
	v, ok := s.TFCloses[tf]
	return v, ok
}
