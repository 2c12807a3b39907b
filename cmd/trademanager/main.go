// Command trademanager is the composition root: it wires the store and
// broker clients, starts the dispatcher and reconciler loops and the
// optional trade-event listener, and shuts everything down on SIGINT/SIGTERM.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"trademanager/internal/broker"
	brokeralpaca "trademanager/internal/broker/alpaca"
	"trademanager/internal/broker/alpacastream"
	"trademanager/internal/config"
	"trademanager/internal/dispatch"
	"trademanager/internal/logger"
	"trademanager/internal/models"
	"trademanager/internal/reconcile"
	"trademanager/internal/store"
)

func main() {
	cfg := config.Load()
	logger.Setup("core.log", cfg.MaxLogSizeMB, cfg.MaxLogBackups)

	log.Printf("trademanager starting: loop_interval=%.1fs rth=%s-%s", cfg.LoopIntervalSeconds, cfg.RTHOptionsStart, cfg.RTHOptionsEnd)

	storeClient := store.New(cfg.StoreBaseURL, cfg.StoreAPIKey)
	var brokerClient broker.Broker = brokeralpaca.New(
		cfg.AlpacaKeyID, cfg.AlpacaSecretKey, cfg.AlpacaBaseURL,
		cfg.RTHOptionsStart, cfg.RTHOptionsEnd, config.NewYorkLoc,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	interval := time.Duration(cfg.LoopIntervalSeconds * float64(time.Second))

	retry := dispatch.RetryPolicy{
		MaxAttempts: cfg.SoftFailMaxAttempts,
		BackoffBase: time.Duration(cfg.SoftFailBackoffSeconds * float64(time.Second)),
	}
	dispatchLoop := &dispatch.Loop{Store: storeClient, Broker: brokerClient, Interval: interval, Retry: retry}
	wg.Add(1)
	go func() {
		defer wg.Done()
		dispatchLoop.Run(ctx)
	}()

	reconcileLoop := &reconcile.Loop{Store: storeClient, Broker: brokerClient, Interval: interval}
	wg.Add(1)
	go func() {
		defer wg.Done()
		reconcileLoop.Run(ctx)
	}()

	if streamURL := os.Getenv("APCA_STREAM_URL"); streamURL != "" {
		listener := alpacastream.New(streamURL, cfg.AlpacaKeyID, cfg.AlpacaSecretKey, func(update alpacastream.TradeUpdate) {
			applyTradeUpdate(ctx, storeClient, update)
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			listener.Run(ctx)
		}()
	}

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		log.Printf("metrics server listening on %s", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, nil); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Println("shutdown signal received, stopping loops")
	cancel()
	wg.Wait()
	log.Println("trademanager stopped")
}

// applyTradeUpdate looks up the row referenced by the trade-event listener
// and applies its status through the same idempotent path the reconciler
// uses, with a short retry loop since the dispatcher may not have persisted
// order_id onto the row yet.
func applyTradeUpdate(ctx context.Context, st *store.Client, update alpacastream.TradeUpdate) {
	if update.Order.ID == "" || update.Order.Status == "" {
		return
	}

	var row models.ActiveTrade
	var found bool
	for attempt := 0; attempt < 3; attempt++ {
		rows, err := st.ListActiveTrades(ctx, "")
		if err != nil {
			log.Printf("trade_updates: list active_trades: %v", err)
			return
		}
		for _, r := range rows {
			if r.OrderID != nil && *r.OrderID == update.Order.ID {
				row, found = r, true
				break
			}
		}
		if found {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	if !found {
		return
	}

	if err := reconcile.ApplyStatus(ctx, st, row, update.Order.Status, parseFillPrice(update.Order.FilledAvgPrice), nil); err != nil {
		log.Printf("trade_updates: apply status for %s: %v", row.ID, err)
	}
}

func parseFillPrice(raw *string) *decimal.Decimal {
	if raw == nil {
		return nil
	}
	d, err := decimal.NewFromString(*raw)
	if err != nil {
		return nil
	}
	return &d
}
