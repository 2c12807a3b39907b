package reconcile

import (
	"context"
	"log"
	"time"

	"trademanager/internal/broker"
	"trademanager/internal/metrics"
	"trademanager/internal/models"
	"trademanager/internal/store"
)

const statusTimeout = 5 * time.Second

// Loop polls the broker for status on every working order and applies
// observed transitions via ApplyStatus.
type Loop struct {
	Store    *store.Client
	Broker   broker.Broker
	Interval time.Duration
}

// Run blocks, sleeping Interval between full passes over active_trades.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.Interval)
	defer ticker.Stop()

	for {
		start := time.Now()
		if err := l.tick(ctx); err != nil {
			log.Printf("reconcile tick error: %v", err)
		}
		metrics.LoopTickSeconds.WithLabelValues("reconcile").Observe(time.Since(start).Seconds())
		metrics.LoopHeartbeat.WithLabelValues("reconcile").Set(float64(time.Now().Unix()))

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (l *Loop) tick(ctx context.Context) error {
	rows, err := l.Store.ListActiveTrades(ctx, "")
	if err != nil {
		return err
	}

	for _, row := range rows {
		if row.Manage != models.ManageOn && row.Manage != models.ManageForceClose {
			continue
		}
		if !hasTrackableOrder(row) {
			continue
		}
		if models.IsTerminal(row.OrderStatus) {
			continue
		}
		l.reconcileRow(ctx, row)
	}
	return nil
}

// hasTrackableOrder reports whether a row carries a real order id the
// broker can be polled about (excludes the pre-lock and freeze sentinels).
func hasTrackableOrder(row models.ActiveTrade) bool {
	if row.OrderID == nil {
		return false
	}
	id := *row.OrderID
	return id != models.OrderIDSent && id != models.OrderIDError
}

func (l *Loop) reconcileRow(ctx context.Context, row models.ActiveTrade) {
	statusCtx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()

	result, err := l.Broker.GetOrderStatus(statusCtx, *row.OrderID)
	if err != nil {
		log.Printf("poll order status %s: %v", row.ID, err)
		return
	}
	if result.Status == row.OrderStatus {
		return
	}

	if err := ApplyStatus(ctx, l.Store, row, result.Status, result.FillPrice, nil); err != nil {
		log.Printf("apply status %s: %v", row.ID, err)
	}
}
