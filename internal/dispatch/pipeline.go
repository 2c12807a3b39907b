// Package dispatch implements the atomic 4-step send pipeline and the
// dispatcher loop that drives entries, exits, force-closes, and time-window
// expiry over active_trades.
package dispatch

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"trademanager/internal/broker"
	"trademanager/internal/metrics"
	"trademanager/internal/models"
	"trademanager/internal/store"
)

const (
	submitTimeout = 8 * time.Second
	postSendSleep = 1 * time.Second

	retryTag = "_retry_"
)

// RetryPolicy bounds how many times the send pipeline will soft-fail-retry a
// row before freezing it, and how long it waits between attempts.
// MaxAttempts <= 0 disables the budget (retry indefinitely).
type RetryPolicy struct {
	MaxAttempts int
	BackoffBase time.Duration
}

// retryAttempt reads back the attempt count a prior soft-fail tagged onto
// comment (e.g. "entry_retry_2"), or 0 if the row has never soft-failed.
func retryAttempt(comment string) int {
	idx := strings.LastIndex(comment, retryTag)
	if idx == -1 {
		return 0
	}
	n, err := strconv.Atoi(comment[idx+len(retryTag):])
	if err != nil {
		return 0
	}
	return n
}

// backoffDuration doubles base per attempt past the first, mirroring the
// teacher's stream-reconnect backoff.
func backoffDuration(base time.Duration, attempt int) time.Duration {
	if attempt <= 0 || base <= 0 {
		return 0
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// SendOrder implements the atomic 4-step pipeline. It mutates the row's
// persisted state in the store as a side effect and returns any store error
// for logging; callers should not retry within the same tick.
func SendOrder(ctx context.Context, st *store.Client, bk broker.Broker, row models.ActiveTrade, reason models.Reason, retry RetryPolicy) error {
	// Step 0 — options RTH gate. Never mutates the row. When the gate check
	// itself errors, the send proceeds without any hours check.
	if row.Asset == models.AssetOption {
		open, err := bk.IsRTHOpenForOptions(ctx, time.Now())
		if err != nil {
			log.Printf("rth gate check failed for %s: %v (proceeding without the hours gate)", row.ID, err)
		} else if !open {
			return nil
		}
	}

	// A row coming back from a soft-fail carries its attempt count in
	// comment; gate the retry behind exponential backoff measured from the
	// last write before re-pre-locking.
	attempt := retryAttempt(row.Comment)
	if attempt > 0 {
		if wait := backoffDuration(retry.BackoffBase, attempt); wait > 0 && time.Since(row.UpdatedAt) < wait {
			return nil
		}
	}

	// Step 1 — pre-lock.
	won, err := st.PreLockOrder(ctx, row.ID, reason)
	if err != nil {
		return fmt.Errorf("pre-lock %s: %w", row.ID, err)
	}
	if !won {
		// Another worker or a concurrent reconciliation already claimed the row.
		return nil
	}

	// Step 2 — submit.
	submitCtx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()

	req := broker.OrderRequest{
		Symbol:        row.InstrumentID(),
		AssetType:     row.Asset,
		Qty:           decimal.NewFromInt(row.Qty),
		Reason:        reason,
		ClientOrderID: uuid.New().String(),
	}
	result, submitErr := bk.SubmitOrder(submitCtx, req)

	// Step 3 — finalize.
	finalizeErr := finalize(ctx, st, row, reason, result, submitErr, attempt, retry)
	time.Sleep(postSendSleep)
	return finalizeErr
}

func finalize(ctx context.Context, st *store.Client, row models.ActiveTrade, reason models.Reason, result broker.OrderResult, submitErr error, attempt int, retry RetryPolicy) error {
	if result.OrderID != "" {
		metrics.OrdersSubmitted.WithLabelValues(string(reason)).Inc()
		return st.UpdateActiveTrade(ctx, row.ID, map[string]any{
			"order_id":     result.OrderID,
			"order_status": models.OrderStatusPendingNew,
			"comment":      string(reason),
		})
	}

	outcome := broker.ClassifyHTTPStatus(result.HTTPCode)
	message := result.Message
	if submitErr != nil && message == "" {
		message = submitErr.Error()
	}
	if len(message) > 150 {
		message = message[:150]
	}

	switch outcome {
	case broker.OutcomeSoftFail:
		next := attempt + 1
		if retry.MaxAttempts > 0 && next > retry.MaxAttempts {
			log.Printf("soft-fail budget exceeded for %s after %d attempts: http=%d %s", row.ID, next, result.HTTPCode, message)
			metrics.OrdersFrozen.WithLabelValues(string(reason)).Inc()
			return st.UpdateActiveTrade(ctx, row.ID, map[string]any{
				"order_id":     models.OrderIDError,
				"order_status": models.OrderStatusErrorInternal,
				"manage":       models.ManageFrozen,
				"comment":      fmt.Sprintf("%s_error_soft_fail_budget: %s", reason, message),
			})
		}
		log.Printf("soft-fail submitting %s (attempt %d): http=%d %s", row.ID, next, result.HTTPCode, message)
		if _, err := st.ResetForRetry(ctx, row.ID, fmt.Sprintf("%s%s%d", reason, retryTag, next)); err != nil {
			return fmt.Errorf("reset for retry %s: %w", row.ID, err)
		}
		return nil
	default:
		metrics.OrdersFrozen.WithLabelValues(string(reason)).Inc()
		return st.UpdateActiveTrade(ctx, row.ID, map[string]any{
			"order_id":     models.OrderIDError,
			"order_status": models.OrderStatusErrorInternal,
			"manage":       models.ManageFrozen,
			"comment":      fmt.Sprintf("%s_error_%d: %s", reason, result.HTTPCode, message),
		})
	}
}
