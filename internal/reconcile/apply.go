// Package reconcile applies broker-observed order status transitions to
// active_trades, bridging the in-flight truth table and the historical
// ledger. ApplyStatus is shared between the polling reconciler loop and the
// trade-event listener so that applying the same event twice is a no-op
// (spec.md §8 property 6: idempotent transition application).
package reconcile

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"trademanager/internal/metrics"
	"trademanager/internal/models"
	"trademanager/internal/store"
)

// ApplyStatus applies one observed broker status to row. It is a no-op when
// the broker status matches what is already persisted.
func ApplyStatus(ctx context.Context, st *store.Client, row models.ActiveTrade, brokerStatus string, fillPrice *decimal.Decimal, fillTime *time.Time) error {
	if brokerStatus == row.OrderStatus {
		return nil
	}

	switch {
	case row.Status == models.StatusWaiting && brokerStatus == models.OrderStatusFilled:
		return applyEntryFilled(ctx, st, row, fillPrice, fillTime)

	case (row.Status == models.StatusManaging || row.Status == models.StatusPosManaging) && brokerStatus == models.OrderStatusFilled:
		return applyExitFilled(ctx, st, row, fillPrice, fillTime)

	case models.IsTerminal(brokerStatus):
		// Terminal-unfilled: canceled, rejected, expired. Freeze the row.
		metrics.ReconcileTransitions.WithLabelValues(brokerStatus).Inc()
		return st.UpdateActiveTrade(ctx, row.ID, map[string]any{
			"order_status": brokerStatus,
			"manage":       models.ManageFrozen,
		})

	default:
		// Non-terminal intermediate (pending_new, accepted, partially_filled, ...).
		metrics.ReconcileTransitions.WithLabelValues(brokerStatus).Inc()
		return st.UpdateActiveTrade(ctx, row.ID, map[string]any{
			"order_status": brokerStatus,
		})
	}
}

func applyEntryFilled(ctx context.Context, st *store.Client, row models.ActiveTrade, fillPrice *decimal.Decimal, fillTime *time.Time) error {
	price := decimal.Zero
	if fillPrice != nil {
		price = *fillPrice
	} else {
		log.Printf("entry filled for %s with no fill price reported by broker; promoting anyway", row.ID)
	}
	ts := time.Now()
	if fillTime != nil {
		ts = *fillTime
	}

	basis := price.Mul(decimal.NewFromInt(row.Qty)).Mul(row.Multiplier())
	if err := st.InsertExecutedOpen(ctx, models.ExecutedTrade{
		ActiveTradeID: row.ID,
		TradeType:     row.TradeType,
		Symbol:        row.Symbol,
		OCC:           row.OCC,
		AssetType:     row.Asset,
		Qty:           row.Qty,
		OpenTS:        ts,
		OpenPrice:     price,
		OpenCostBasis: basis,
	}); err != nil {
		// Best-effort ledger write; never block the state transition on it.
		log.Printf("insert executed_trade open for %s: %v", row.ID, err)
	}

	metrics.OrdersFilled.WithLabelValues(string(models.ReasonEntry)).Inc()
	metrics.ReconcileTransitions.WithLabelValues(models.OrderStatusFilled).Inc()
	return st.UpdateActiveTrade(ctx, row.ID, map[string]any{
		"order_status": models.OrderStatusFilled,
		"status":       models.StatusManaging,
	})
}

func applyExitFilled(ctx context.Context, st *store.Client, row models.ActiveTrade, fillPrice *decimal.Decimal, fillTime *time.Time) error {
	reason := closeReasonFromComment(row.Comment)

	price := decimal.Zero
	havePrice := fillPrice != nil
	if havePrice {
		price = *fillPrice
	} else {
		log.Printf("exit filled for %s with no fill price reported by broker; deleting anyway", row.ID)
	}
	ts := time.Now()
	if fillTime != nil {
		ts = *fillTime
	}
	basis := price.Mul(decimal.NewFromInt(row.Qty)).Mul(row.Multiplier())

	if err := st.InsertExecutedClose(ctx, row.ID, ts, price, basis, reason); err != nil {
		log.Printf("insert executed_trade close for %s: %v", row.ID, err)
	}

	metrics.OrdersFilled.WithLabelValues(string(reason)).Inc()
	metrics.ReconcileTransitions.WithLabelValues(models.OrderStatusFilled).Inc()
	if err := st.DeleteActiveTrade(ctx, row.ID); err != nil {
		return fmt.Errorf("delete closed row %s: %w", row.ID, err)
	}
	return nil
}

func closeReasonFromComment(comment string) models.Reason {
	switch models.Reason(comment) {
	case models.ReasonSL, models.ReasonTP, models.ReasonForce:
		return models.Reason(comment)
	default:
		return models.ReasonClose
	}
}
