package strategyapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envelope(code int, data any) string {
	b, _ := json.Marshal(map[string]any{"code": code, "message": "m", "data": data})
	return string(b)
}

func newTestClient(t *testing.T, primary string, backups ...string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		BaseURL:       primary,
		BackupURLs:    backups,
		Timeout:       200 * time.Millisecond,
		RetryTimes:    3,
		RetryInterval: time.Millisecond,
		HealthPath:    "/api/v1/health",
	})
	require.NoError(t, err)
	return c
}

func TestCallUnwrapsEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/strategies/7", r.URL.Path)
		io.WriteString(w, envelope(200, map[string]any{"id": 7}))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	data, err := c.GetStrategy(context.Background(), 7)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":7}`, string(data))
}

func TestCallRetriesThenFailsOver(t *testing.T) {
	var primaryHits, backupHits int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&primaryHits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer primary.Close()
	backup := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&backupHits, 1)
		io.WriteString(w, envelope(200, []any{}))
	}))
	defer backup.Close()

	c := newTestClient(t, primary.URL, backup.URL)
	_, err := c.Call(context.Background(), http.MethodGet, "/api/v1/executions", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&primaryHits))
	assert.Equal(t, int32(1), atomic.LoadInt32(&backupHits))
}

func TestCallDoesNotRetryClientErrors(t *testing.T) {
	var primaryHits, backupHits int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&primaryHits, 1)
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"code":400,"message":"bad ratio"}`)
	}))
	defer primary.Close()
	backup := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&backupHits, 1)
	}))
	defer backup.Close()

	c := newTestClient(t, primary.URL, backup.URL)
	err := c.UpdateStrategy(context.Background(), 1, StrategyUpdate{ExecutionStatus: "partial"})
	require.Error(t, err)
	assert.Equal(t, 400, StatusCode(err))
	assert.False(t, errors.Is(err, ErrUpstreamUnavailable))
	assert.Contains(t, err.Error(), "bad ratio")
	assert.Equal(t, int32(1), atomic.LoadInt32(&primaryHits))
	assert.Equal(t, int32(0), atomic.LoadInt32(&backupHits))
}

func TestCallEnvelopeCodes(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		if r.URL.Path == "/api/v1/strategies/404" {
			io.WriteString(w, envelope(404, nil))
			return
		}
		if n < 3 {
			io.WriteString(w, envelope(500, nil))
			return
		}
		io.WriteString(w, envelope(200, map[string]any{"ok": true}))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	data, err := c.GetStrategy(context.Background(), 1)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(data))
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))

	_, err = c.GetStrategy(context.Background(), 404)
	assert.True(t, IsNotFound(err))
	var ce *CallError
	require.True(t, errors.As(err, &ce))
	assert.True(t, ce.FromEnvelope)
}

func TestCallTimeoutEverywhereIsUpstreamUnavailable(t *testing.T) {
	var hits int32
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	primary := httptest.NewServer(slow)
	defer primary.Close()
	backup := httptest.NewServer(slow)
	defer backup.Close()

	c, err := NewClient(Config{
		BaseURL:       primary.URL,
		BackupURLs:    []string{backup.URL},
		Timeout:       30 * time.Millisecond,
		RetryTimes:    3,
		RetryInterval: time.Millisecond,
	})
	require.NoError(t, err)

	_, err = c.SearchStrategies(context.Background(), SearchParams{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUpstreamUnavailable))
	var ce *CallError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, KindTimeout, ce.Kind)
	assert.Equal(t, backup.URL, ce.Endpoint)
	assert.Equal(t, int32(6), atomic.LoadInt32(&hits))
}

func TestCallConnectionRefusedIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	c := newTestClient(t, addr)
	_, err := c.Call(context.Background(), http.MethodGet, "/x", nil, nil)
	require.Error(t, err)
	var ce *CallError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, KindNetwork, ce.Kind)
	assert.True(t, ce.Transient())
}

func TestCallStopsOnCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, RetryTimes: 5, RetryInterval: time.Hour})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	_, err = c.Call(ctx, http.MethodGet, "/x", nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestProbeOrder(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.URL.Path)
		mu.Unlock()
		switch r.URL.Path {
		case "/api/v1/health":
			w.WriteHeader(http.StatusNotFound)
		case "/ping":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	report := c.Probe(context.Background())
	require.Len(t, report.Endpoints, 1)
	assert.True(t, report.AnyHealthy())
	assert.Equal(t, "/health", report.Endpoints[0].Path)
	assert.Equal(t, []string{"/api/v1/health", "/ping", "/health"}, seen)
}

func TestProbeAllDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	report := c.Probe(context.Background())
	assert.False(t, report.AnyHealthy())
	assert.NotEmpty(t, report.Endpoints[0].Err)
}

func TestSearchStrategiesQueryAndShapes(t *testing.T) {
	loc, _ := time.LoadLocation("Asia/Shanghai")
	active := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "2024-03-01 10:00:00", q.Get("start_time"))
		assert.Equal(t, "true", q.Get("is_active"))
		assert.Equal(t, "updated_at", q.Get("sort_by"))
		assert.Equal(t, "desc", q.Get("order"))
		io.WriteString(w, envelope(200, map[string]any{"items": []any{map[string]any{"id": 1}, map[string]any{"id": 2}}}))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	items, err := c.SearchStrategies(context.Background(), SearchParams{
		StartTime: time.Date(2024, 3, 1, 10, 0, 0, 0, loc),
		IsActive:  &active,
		SortBy:    "updated_at",
		Order:     "desc",
		Location:  loc,
	})
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestCreateAndListExecutions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var p ExecutionPayload
			require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
			assert.Equal(t, int64(9), p.StrategyID)
			io.WriteString(w, envelope(200, map[string]any{"id": 31, "execution_result": "success", "execution_time": "2024-03-01 10:00:00"}))
		default:
			assert.Equal(t, "9", r.URL.Query().Get("strategy_id"))
			io.WriteString(w, envelope(200, []any{map[string]any{"id": "31", "volume": "500", "execution_price": 12.5}}))
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ack, err := c.CreateExecution(context.Background(), ExecutionPayload{StrategyID: 9, StockCode: "600000", ExecutionPrice: 12.5, Volume: 500})
	require.NoError(t, err)
	assert.Equal(t, int64(31), ack.ID)
	assert.Equal(t, "success", ack.ExecutionResult)

	list, err := c.ListExecutions(context.Background(), ExecutionFilter{StrategyID: 9})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(500), list[0].Volume)
	assert.Equal(t, 12.5, list[0].ExecutionPrice)
}

func TestCreateExecutionSendsSameIdempotencyKeyOnRetry(t *testing.T) {
	var hits int32
	var keys []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		mu.Unlock()
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		io.WriteString(w, envelope(200, map[string]any{"id": 5}))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ack, err := c.CreateExecution(context.Background(), ExecutionPayload{StrategyID: 9, StockCode: "600000", IdempotencyKey: "rec-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(5), ack.ID)
	assert.Equal(t, []string{"rec-1", "rec-1"}, keys)
}

func TestCallTruncatesPlainErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, strings.Repeat("x", maxErrorBody+50))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.GetStrategy(context.Background(), 1)
	require.Error(t, err)
	var ce *CallError
	require.True(t, errors.As(err, &ce))
	assert.Len(t, ce.Message, maxErrorBody+3)
	assert.True(t, strings.HasSuffix(ce.Message, "..."))
}

func TestBreakerSkipsOpenEndpoint(t *testing.T) {
	var primaryHits int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&primaryHits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer primary.Close()
	backup := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, envelope(200, nil))
	}))
	defer backup.Close()

	c, err := NewClient(Config{
		BaseURL:          primary.URL,
		BackupURLs:       []string{backup.URL},
		RetryTimes:       2,
		BreakerThreshold: 2,
		BreakerCooldown:  time.Hour,
	})
	require.NoError(t, err)

	_, err = c.Call(context.Background(), http.MethodGet, "/x", nil, nil)
	require.NoError(t, err)
	_, err = c.Call(context.Background(), http.MethodGet, "/x", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&primaryHits))
}
