// Package condition implements the pure entry/SL/TP evaluator. It has no
// knowledge of the store or broker — callers supply a SpotLookup closure.
package condition

import (
	"trademanager/internal/models"

	"github.com/shopspring/decimal"
)

// SpotLookup resolves the latest snapshot for an instrument id.
type SpotLookup func(instrumentID string) (models.Spot, bool)

// Result is the outcome of a single check.
type Result struct {
	Trigger   bool
	PriceUsed decimal.Decimal
	HasPrice  bool
}

func noTrigger() Result { return Result{} }

// instrumentFor resolves which spot row a check should read, defaulting to
// the underlying when the *_type field is empty or not "option".
func instrumentFor(row models.ActiveTrade, checkType models.AssetType) string {
	if checkType == models.AssetOption {
		return row.OCC
	}
	return row.Symbol
}

// profitWhenUp resolves the directional polarity per spec §4.1.
func profitWhenUp(row models.ActiveTrade) bool {
	if row.Asset == models.AssetOption {
		switch row.CP {
		case models.Call, "call":
			return true
		case models.Put, "put":
			return false
		}
	}
	switch row.Side {
	case models.SideShort:
		return false
	default:
		// long, or side unspecified: default long.
		return true
	}
}

// CheckEntry implements spec §4.1 check_entry.
func CheckEntry(row models.ActiveTrade, lookup SpotLookup) Result {
	return checkTouchOrClose(row, row.EntryType, row.EntryCond, row.EntryTF, row.EntryLevel, lookup, entryAtDirection)
}

// CheckSL implements spec §4.1 check_sl. Returns no-trigger when SL is disabled.
func CheckSL(row models.ActiveTrade, lookup SpotLookup) Result {
	if !row.SLEnabled || row.SLCond == "" {
		return noTrigger()
	}
	return checkTouchOrClose(row, row.SLType, row.SLCond, row.SLTF, row.SLLevel, lookup, entryAtDirection)
}

// CheckTP implements spec §4.1 check_tp. TP has no tp_cond: it is always a
// touch-style threshold on last price. Returns no-trigger when TP disabled
// or tp_level is unset.
func CheckTP(row models.ActiveTrade, lookup SpotLookup) Result {
	if !row.TPEnabled || row.TPLevel == nil {
		return noTrigger()
	}
	instrumentID := instrumentFor(row, row.TPType)
	spot, ok := lookup(instrumentID)
	if !ok {
		return noTrigger()
	}

	level := *row.TPLevel
	last := spot.LastPrice
	up := profitWhenUp(row)

	var trigger bool
	if up {
		trigger = last.GreaterThanOrEqual(level)
	} else {
		trigger = last.LessThanOrEqual(level)
	}
	return Result{Trigger: trigger, PriceUsed: last, HasPrice: true}
}

// entryAtDirection is the "at" trigger polarity for entry and SL checks:
// profit-when-up => price <= level (support touch); else price >= level.
func entryAtDirection(up bool, last, level decimal.Decimal) bool {
	if up {
		return last.LessThanOrEqual(level)
	}
	return last.GreaterThanOrEqual(level)
}

// checkTouchOrClose implements the now/at/ca/cb price-source logic shared by
// check_entry and check_sl.
func checkTouchOrClose(
	row models.ActiveTrade,
	checkType models.AssetType,
	cond models.Condition,
	tf string,
	level decimal.Decimal,
	lookup SpotLookup,
	atDirection func(up bool, last, level decimal.Decimal) bool,
) Result {
	instrumentID := instrumentFor(row, checkType)
	spot, ok := lookup(instrumentID)
	if !ok {
		return noTrigger()
	}

	switch cond {
	case models.CondNow:
		// Always triggers; price_used is left unset so the caller falls back
		// to the broker fill price.
		return Result{Trigger: true}
	case models.CondAtTouch:
		up := profitWhenUp(row)
		last := spot.LastPrice
		return Result{Trigger: atDirection(up, last, level), PriceUsed: last, HasPrice: true}
	case models.CondCloseAbove:
		close, ok := spot.Close(tf)
		if !ok {
			return noTrigger()
		}
		return Result{Trigger: close.GreaterThan(level), PriceUsed: close, HasPrice: true}
	case models.CondCloseBelow:
		close, ok := spot.Close(tf)
		if !ok {
			return noTrigger()
		}
		return Result{Trigger: close.LessThan(level), PriceUsed: close, HasPrice: true}
	default:
		return noTrigger()
	}
}
