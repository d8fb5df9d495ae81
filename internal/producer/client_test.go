package producer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aigrc/govevents/internal/events"
)

func testEvent(id string, criticality string) *events.GovernanceEvent {
	return &events.GovernanceEvent{
		ID:          id,
		Type:        events.TypeScanCompleted,
		Criticality: criticality,
		OrgID:       "org-pangolabs",
		AssetID:     "asset-1",
		ProducedAt:  time.Now(),
		Data:        map[string]any{"findings": 0},
	}
}

func TestClient_Push_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/events", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(SyncResponse{GovernanceEvent: testEvent("evt_1", "normal"), Status: "created"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")
	defer client.Dispose()

	resp, err := client.Push(context.Background(), testEvent("evt_1", "normal"))
	require.NoError(t, err)
	assert.Equal(t, "created", resp.Status)
}

func TestClient_Push_ClientError_NotRetried(t *testing.T) {
	var attempts atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": "EVT_SCHEMA_INVALID", "message": "bad event"},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")
	defer client.Dispose()

	_, err := client.Push(context.Background(), testEvent("evt_1", "normal"))
	require.Error(t, err)

	var httpErr *HTTPError

	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadRequest, httpErr.StatusCode)
	assert.Equal(t, "EVT_SCHEMA_INVALID", httpErr.Code)
	assert.EqualValues(t, 1, attempts.Load())
}

func TestClient_Push_ServerError_RetriesThenSucceeds(t *testing.T) {
	var attempts atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(SyncResponse{GovernanceEvent: testEvent("evt_1", "normal"), Status: "accepted"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key", WithMaxRetries(5))
	defer client.Dispose()

	resp, err := client.Push(context.Background(), testEvent("evt_1", "normal"))
	require.NoError(t, err)
	assert.Equal(t, "accepted", resp.Status)
	assert.EqualValues(t, 3, attempts.Load())
}

func TestClient_Push_ServerError_ExhaustsRetries(t *testing.T) {
	var attempts atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key", WithMaxRetries(2))
	defer client.Dispose()

	_, err := client.Push(context.Background(), testEvent("evt_1", "normal"))
	require.Error(t, err)

	var httpErr *HTTPError

	require.ErrorAs(t, err, &httpErr)
	assert.EqualValues(t, 3, attempts.Load()) // initial attempt + 2 retries
}

func TestClient_Push_RateLimited_SurfacesRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")
	defer client.Dispose()

	_, err := client.Push(context.Background(), testEvent("evt_1", "normal"))
	require.Error(t, err)

	var rateLimitErr *RateLimitError

	require.ErrorAs(t, err, &rateLimitErr)
	assert.Equal(t, 30*time.Second, rateLimitErr.RetryAfter)
}

func TestClient_PushBatch_Empty_NoNetworkCall(t *testing.T) {
	called := false

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")
	defer client.Dispose()

	resp, err := client.PushBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, &BatchResponse{}, resp)
	assert.False(t, called)
}

func TestClient_Send_RoutesCriticalsViaSyncAndRestViaBatch(t *testing.T) {
	var syncCalls, batchCalls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		switch r.URL.Path {
		case "/v1/events":
			syncCalls.Add(1)
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(SyncResponse{GovernanceEvent: testEvent("evt_crit", "critical"), Status: "created"})
		case "/v1/events/batch":
			batchCalls.Add(1)
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(BatchResponse{
				Accepted: 2,
				Results: []BatchItemResult{
					{ID: "evt_a", Status: "created"},
					{ID: "evt_b", Status: "created"},
				},
			})
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")
	defer client.Dispose()

	resp, err := client.Send(context.Background(), []*events.GovernanceEvent{
		testEvent("evt_crit", "critical"),
		testEvent("evt_a", "normal"),
		testEvent("evt_b", "normal"),
	})
	require.NoError(t, err)

	assert.EqualValues(t, 1, syncCalls.Load())
	assert.EqualValues(t, 1, batchCalls.Load())
	assert.Equal(t, 3, resp.Accepted)
	require.Len(t, resp.Results, 3)
	assert.Equal(t, "evt_crit", resp.Results[0].ID)
}

func TestClient_Send_Empty_ReturnsEmptyBatchResponse(t *testing.T) {
	client := NewClient("http://unused.invalid", "test-key")
	defer client.Dispose()

	resp, err := client.Send(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, &BatchResponse{}, resp)
}

func TestClient_HealthCheck_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")
	defer client.Dispose()

	require.NoError(t, client.HealthCheck(context.Background()))
}

func TestClient_Dispose_RejectsFurtherCalls(t *testing.T) {
	client := NewClient("http://unused.invalid", "test-key")
	client.Dispose()
	client.Dispose() // idempotent

	_, err := client.Push(context.Background(), testEvent("evt_1", "normal"))
	require.ErrorIs(t, err, ErrDisposed)

	_, err = client.PushBatch(context.Background(), []*events.GovernanceEvent{testEvent("evt_1", "normal")})
	require.ErrorIs(t, err, ErrDisposed)

	err = client.HealthCheck(context.Background())
	require.ErrorIs(t, err, ErrDisposed)
}

func TestClient_BaseURLTrailingSlash_Stripped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"///", "test-key")
	defer client.Dispose()

	require.NoError(t, client.HealthCheck(context.Background()))
}
