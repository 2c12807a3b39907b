package dispatch

import (
	"context"
	"log"
	"time"

	"trademanager/internal/broker"
	"trademanager/internal/condition"
	"trademanager/internal/metrics"
	"trademanager/internal/models"
	"trademanager/internal/store"
)

// Loop runs the dispatcher tick forever until ctx is cancelled.
type Loop struct {
	Store    *store.Client
	Broker   broker.Broker
	Interval time.Duration
	Retry    RetryPolicy
}

// Run blocks, sleeping Interval between full passes over active_trades.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.Interval)
	defer ticker.Stop()

	for {
		start := time.Now()
		if err := l.tick(ctx); err != nil {
			log.Printf("dispatch tick error: %v", err)
		}
		metrics.LoopTickSeconds.WithLabelValues("dispatch").Observe(time.Since(start).Seconds())
		metrics.LoopHeartbeat.WithLabelValues("dispatch").Set(float64(time.Now().Unix()))

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
	lookup := l.Store.SpotLookup(ctx)

	now := time.Now()
	for _, row := range rows {
		if row.Manage != models.ManageOn && row.Manage != models.ManageForceClose {
			continue
		}
		l.handleRow(ctx, row, lookup, now)
	}
	return nil
}

func (l *Loop) handleRow(ctx context.Context, row models.ActiveTrade, lookup condition.SpotLookup, now time.Time) {
	// Step 1: auto-promote filled entries — a defensive mirror of the reconciler.
	if row.Status == models.StatusWaiting && row.OrderID != nil && *row.OrderID != models.OrderIDSent && *row.OrderID != models.OrderIDError && row.OrderStatus == models.OrderStatusFilled {
		if err := l.Store.UpdateActiveTrade(ctx, row.ID, map[string]any{"status": models.StatusManaging}); err != nil {
			log.Printf("auto-promote %s: %v", row.ID, err)
		}
		row.Status = models.StatusManaging
	}

	// Step 2: time windows (manage=Y only).
	if row.Manage == models.ManageOn {
		if row.Status == models.StatusWaiting {
			if row.EntryTime != nil && now.Before(*row.EntryTime) {
				return
			}
			if row.EndTime != nil && now.After(*row.EndTime) {
				if err := l.Store.DeleteActiveTrade(ctx, row.ID); err != nil {
					log.Printf("delete expired row %s: %v", row.ID, err)
				}
				return
			}
		} else if row.EndTime != nil && now.After(*row.EndTime) {
			if err := l.Store.UpdateActiveTrade(ctx, row.ID, map[string]any{
				"manage":  models.ManageForceClose,
				"comment": "time_exit",
			}); err != nil {
				log.Printf("mark time_exit %s: %v", row.ID, err)
			}
			row.Manage = models.ManageForceClose
			row.Comment = "time_exit"
		}
	}

	// Step 3: force-close.
	if row.Manage == models.ManageForceClose {
		if row.Status == models.StatusWaiting {
			if err := l.Store.DeleteActiveTrade(ctx, row.ID); err != nil {
				log.Printf("delete force-closed waiting row %s: %v", row.ID, err)
			}
			return
		}
		if row.HasNonTerminalOrder() {
			return
		}
		if err := SendOrder(ctx, l.Store, l.Broker, row, models.ReasonForce, l.Retry); err != nil {
			log.Printf("force-close send %s: %v", row.ID, err)
		}
		return
	}

	if row.Manage != models.ManageOn {
		return
	}

	// Step 4: entry.
	if row.Status == models.StatusWaiting {
		if row.HasNonTerminalOrder() {
			return
		}
		res := condition.CheckEntry(row, lookup)
		if res.Trigger {
			if err := SendOrder(ctx, l.Store, l.Broker, row, models.ReasonEntry, l.Retry); err != nil {
				log.Printf("entry send %s: %v", row.ID, err)
			}
		}
		return
	}

	// Step 5: exit. SL takes priority over TP.
	if row.Status == models.StatusManaging || row.Status == models.StatusPosManaging {
		if row.HasNonTerminalOrder() {
			return
		}
		sl := condition.CheckSL(row, lookup)
		if sl.Trigger {
			if err := SendOrder(ctx, l.Store, l.Broker, row, models.ReasonSL, l.Retry); err != nil {
				log.Printf("sl send %s: %v", row.ID, err)
			}
			return
		}
		tp := condition.CheckTP(row, lookup)
		if tp.Trigger {
			if err := SendOrder(ctx, l.Store, l.Broker, row, models.ReasonTP, l.Retry); err != nil {
				log.Printf("tp send %s: %v", row.ID, err)
			}
		}
	}
}
