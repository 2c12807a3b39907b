package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"trademanager/internal/broker"
	"trademanager/internal/models"
	"trademanager/internal/store"
)

// mockBroker is a hand-rolled stub satisfying broker.Broker, in the style of
// the teacher's MockProvider for market.MarketProvider.
type mockBroker struct {
	submitResult broker.OrderResult
	submitErr    error
	submitCalls  int
	rthOpen      bool
}

func (m *mockBroker) SubmitOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderResult, error) {
	m.submitCalls++
	return m.submitResult, m.submitErr
}

func (m *mockBroker) GetOrderStatus(ctx context.Context, orderID string) (broker.OrderResult, error) {
	return broker.OrderResult{}, nil
}

func (m *mockBroker) IsRTHOpenForOptions(ctx context.Context, now time.Time) (bool, error) {
	return m.rthOpen, nil
}

func newTestStore(t *testing.T, onRequest func(r *http.Request)) (*store.Client, func()) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		onRequest(r)
		w.WriteHeader(http.StatusOK)
		switch r.URL.Path {
		case "/active_trades":
			json.NewEncoder(w).Encode([]models.ActiveTrade{{ID: "row-1"}})
		default:
			json.NewEncoder(w).Encode(map[string]any{})
		}
	}))
	return store.New(srv.URL, ""), srv.Close
}

func TestSendOrder_Success_WritesRealOrderID(t *testing.T) {
	var patches []map[string]any
	st, closeSrv := newTestStore(t, func(r *http.Request) {
		if r.Method == http.MethodPatch {
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			patches = append(patches, body)
		}
	})
	defer closeSrv()

	bk := &mockBroker{submitResult: broker.OrderResult{OrderID: "abc-123", Status: models.OrderStatusPendingNew}}
	row := models.ActiveTrade{ID: "row-1", Symbol: "SPY", Asset: models.AssetEquity, Qty: 1}

	err := SendOrder(context.Background(), st, bk, row, models.ReasonEntry, testRetryPolicy())
	require.NoError(t, err)
	require.Equal(t, 1, bk.submitCalls)
	require.Len(t, patches, 2) // pre-lock + finalize
	require.Equal(t, "abc-123", patches[1]["order_id"])
	require.Equal(t, models.OrderStatusPendingNew, patches[1]["order_status"])
}

func TestSendOrder_FatalFailure_FreezesRow(t *testing.T) {
	var patches []map[string]any
	st, closeSrv := newTestStore(t, func(r *http.Request) {
		if r.Method == http.MethodPatch {
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			patches = append(patches, body)
		}
	})
	defer closeSrv()

	bk := &mockBroker{submitResult: broker.OrderResult{HTTPCode: 403, Message: "forbidden"}}
	row := models.ActiveTrade{ID: "row-1", Symbol: "SPY", Asset: models.AssetEquity, Qty: 1}

	err := SendOrder(context.Background(), st, bk, row, models.ReasonEntry, testRetryPolicy())
	require.NoError(t, err)
	require.Len(t, patches, 2)
	require.Equal(t, models.OrderIDError, patches[1]["order_id"])
	require.Equal(t, string(models.ManageFrozen), patches[1]["manage"])
}

func TestSendOrder_SoftFailure_ResetsForRetryWithAttemptTag(t *testing.T) {
	var patches []map[string]any
	st, closeSrv := newTestStore(t, func(r *http.Request) {
		if r.Method == http.MethodPatch {
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			patches = append(patches, body)
		}
	})
	defer closeSrv()

	bk := &mockBroker{submitResult: broker.OrderResult{HTTPCode: 503, Message: "unavailable"}}
	row := models.ActiveTrade{ID: "row-1", Symbol: "SPY", Asset: models.AssetEquity, Qty: 1}

	err := SendOrder(context.Background(), st, bk, row, models.ReasonEntry, testRetryPolicy())
	require.NoError(t, err)
	require.Len(t, patches, 2, "pre-lock patch plus the reset-for-retry patch")
	require.Nil(t, patches[1]["order_id"], "reset-for-retry clears order_id back to null")
	require.Equal(t, "entry_retry_1", patches[1]["comment"])
}

func TestSendOrder_SoftFailure_FreezesOnceBudgetExceeded(t *testing.T) {
	var patches []map[string]any
	st, closeSrv := newTestStore(t, func(r *http.Request) {
		if r.Method == http.MethodPatch {
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			patches = append(patches, body)
		}
	})
	defer closeSrv()

	bk := &mockBroker{submitResult: broker.OrderResult{HTTPCode: 503, Message: "unavailable"}}
	row := models.ActiveTrade{ID: "row-1", Symbol: "SPY", Asset: models.AssetEquity, Qty: 1, Comment: "entry_retry_5"}

	err := SendOrder(context.Background(), st, bk, row, models.ReasonEntry, testRetryPolicy())
	require.NoError(t, err)
	require.Len(t, patches, 2)
	require.Equal(t, models.OrderIDError, patches[1]["order_id"])
	require.Equal(t, string(models.ManageFrozen), patches[1]["manage"])
}

func TestSendOrder_SoftFailure_BackoffSkipsSubmitBeforeWindowElapses(t *testing.T) {
	called := false
	st, closeSrv := newTestStore(t, func(r *http.Request) { called = true })
	defer closeSrv()

	bk := &mockBroker{submitResult: broker.OrderResult{OrderID: "should-not-be-used"}}
	row := models.ActiveTrade{
		ID: "row-1", Symbol: "SPY", Asset: models.AssetEquity, Qty: 1,
		Comment: "entry_retry_1", UpdatedAt: time.Now(),
	}

	err := SendOrder(context.Background(), st, bk, row, models.ReasonEntry, testRetryPolicy())
	require.NoError(t, err)
	require.False(t, called, "backoff window has not elapsed, so no store or broker call should fire")
	require.Equal(t, 0, bk.submitCalls)
}

func testRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, BackoffBase: 2 * time.Second}
}

func TestSendOrder_OptionsRTHGate_SkipsOutsideWindow(t *testing.T) {
	called := false
	st, closeSrv := newTestStore(t, func(r *http.Request) { called = true })
	defer closeSrv()

	bk := &mockBroker{rthOpen: false}
	row := models.ActiveTrade{ID: "row-1", OCC: "AMD260102P00180000", Asset: models.AssetOption, Qty: 1}

	err := SendOrder(context.Background(), st, bk, row, models.ReasonEntry, testRetryPolicy())
	require.NoError(t, err)
	require.False(t, called, "rth gate must not mutate the row")
	require.Equal(t, 0, bk.submitCalls)
}

func TestSendOrder_PreLockLoses_NoSubmit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode([]models.ActiveTrade{})
	}))
	defer srv.Close()
	st := store.New(srv.URL, "")

	bk := &mockBroker{submitResult: broker.OrderResult{OrderID: "should-not-be-used"}}
	row := models.ActiveTrade{ID: "row-1", Symbol: "SPY", Asset: models.AssetEquity, Qty: 1}

	err := SendOrder(context.Background(), st, bk, row, models.ReasonEntry, testRetryPolicy())
	require.NoError(t, err)
	require.Equal(t, 0, bk.submitCalls)
}
