package store

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"trademanager/internal/models"
)

func TestPreLockOrder_WinsRace(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "eq.row-1", r.URL.Query().Get("id"))
		require.Equal(t, "is.null", r.URL.Query().Get("order_id"))
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode([]models.ActiveTrade{{ID: "row-1"}})
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	won, err := c.PreLockOrder(context.Background(), "row-1", models.ReasonEntry)
	require.NoError(t, err)
	require.True(t, won)
}

func TestPreLockOrder_LosesRace(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode([]models.ActiveTrade{})
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	won, err := c.PreLockOrder(context.Background(), "row-1", models.ReasonEntry)
	require.NoError(t, err)
	require.False(t, won)
}

func TestListActiveTrades_FiltersByManage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "eq.Y", r.URL.Query().Get("manage"))
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode([]models.ActiveTrade{{ID: "a"}, {ID: "b"}})
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	rows, err := c.ListActiveTrades(context.Background(), ManageFilter(models.ManageOn))
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestResetForRetry_WinsOnSentPlaceholder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "eq.sent", r.URL.Query().Get("order_id"))
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		require.Nil(t, body["order_id"])
		require.Equal(t, "entry_retry_2", body["comment"])
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode([]models.ActiveTrade{{ID: "row-1"}})
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	won, err := c.ResetForRetry(context.Background(), "row-1", "entry_retry_2")
	require.NoError(t, err)
	require.True(t, won)
}

func TestResetForRetry_LosesWhenNotPreLocked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode([]models.ActiveTrade{})
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	won, err := c.ResetForRetry(context.Background(), "row-1", "entry_retry_2")
	require.NoError(t, err)
	require.False(t, won)
}

func TestUpdateActiveTrade_LogsRegressionButStillWrites(t *testing.T) {
	var getCount, patchCount int
	realID := "real-order-id"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			getCount++
			require.Equal(t, "order_id", r.URL.Query().Get("select"))
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode([]models.ActiveTrade{{ID: "row-1", OrderID: &realID}})
		case http.MethodPatch:
			patchCount++
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode([]models.ActiveTrade{{ID: "row-1"}})
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	err := c.UpdateActiveTrade(context.Background(), "row-1", map[string]any{"order_id": models.OrderIDSent})
	require.NoError(t, err, "a detected regression still logs rather than blocking the write")
	require.Equal(t, 1, getCount, "a write touching order_id must audit against the prior value first")
	require.Equal(t, 1, patchCount)
}

func TestUpdateActiveTrade_NoAuditWhenOrderIDUntouched(t *testing.T) {
	var getCount int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			getCount++
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode([]models.ActiveTrade{{ID: "row-1"}})
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	err := c.UpdateActiveTrade(context.Background(), "row-1", map[string]any{"order_status": models.OrderStatusFilled})
	require.NoError(t, err)
	require.Equal(t, 0, getCount, "writes that don't touch order_id skip the audit read")
}

func TestGetSpot_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode([]models.Spot{})
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, ok, err := c.GetSpot(context.Background(), "SPY")
	require.NoError(t, err)
	require.False(t, ok)
}
