package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// okBody renders a platform success envelope with cost metadata
func okBody(available, restoreRate float64) string {
	return fmt.Sprintf(`{
		"data": {"product": {"id": "prod-1"}},
		"extensions": {"cost": {
			"requestedQueryCost": 10,
			"actualQueryCost": 8,
			"throttleStatus": {
				"maximumAvailable": 1000,
				"currentlyAvailable": %f,
				"restoreRate": %f
			}
		}}
	}`, available, restoreRate)
}

func newTestPool(t *testing.T, endpoint string, cache *QueryCache) *Pool {
	t.Helper()
	return NewPool(PoolConfig{
		Endpoint:      endpoint,
		AccessToken:   "test-token",
		MaxConcurrent: 2,
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
		Timeout:       5 * time.Second,
	}, cache, NewCostModel(1000), zaptest.NewLogger(t))
}

func TestPool_ExecuteDecodesResponseAndCost(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Equal(t, "test-token", r.Header.Get("X-Access-Token"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Contains(t, req.Query, "product")

		fmt.Fprint(w, okBody(950, 50))
	}))
	defer srv.Close()

	pool := newTestPool(t, srv.URL, nil)
	resp, err := pool.Execute(context.Background(), &Request{
		Query:     `query { product(id: "prod-1") { id } }`,
		Variables: map[string]any{"id": "prod-1"},
	})
	require.NoError(t, err)

	assert.JSONEq(t, `{"product": {"id": "prod-1"}}`, string(resp.Data))
	assert.Equal(t, 8, resp.Cost.ActualCost)
	assert.Equal(t, int32(1), requests.Load())

	costs := pool.RecentCosts()
	require.Len(t, costs, 1)
	assert.Equal(t, 50.0, costs[0].RestoreRate)
}

func TestPool_QueriesHitTheCache(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		fmt.Fprint(w, okBody(950, 50))
	}))
	defer srv.Close()

	pool := newTestPool(t, srv.URL, NewQueryCache(time.Minute, 16))
	req := &Request{Query: `query { product(id: "prod-1") { id } }`}

	for i := 0; i < 3; i++ {
		_, err := pool.Execute(context.Background(), req)
		require.NoError(t, err)
	}

	assert.Equal(t, int32(1), requests.Load())
	stats := pool.CacheStats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, 1, stats.Entries)
}

func TestPool_MutationsBypassTheCache(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		fmt.Fprint(w, okBody(950, 50))
	}))
	defer srv.Close()

	pool := newTestPool(t, srv.URL, NewQueryCache(time.Minute, 16))
	req := &Request{Query: `mutation productUpdate($id: ID!) { productUpdate(id: $id) { id } }`}

	for i := 0; i < 3; i++ {
		_, err := pool.Execute(context.Background(), req)
		require.NoError(t, err)
	}

	assert.Equal(t, int32(3), requests.Load())
	assert.Equal(t, int64(0), pool.CacheStats().Hits)
}

func TestPool_TransientFailuresAreRetried(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, okBody(950, 50))
	}))
	defer srv.Close()

	pool := newTestPool(t, srv.URL, nil)
	resp, err := pool.Execute(context.Background(), &Request{Query: `query { shop { name } }`})
	require.NoError(t, err)
	assert.NotNil(t, resp)
	assert.Equal(t, int32(3), requests.Load())
}

func TestPool_RateLimitResponsesAreRetried(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, okBody(950, 50))
	}))
	defer srv.Close()

	pool := newTestPool(t, srv.URL, nil)
	_, err := pool.Execute(context.Background(), &Request{Query: `query { shop { name } }`})
	require.NoError(t, err)
	assert.Equal(t, int32(2), requests.Load())
}

func TestPool_RejectionsSurfaceImmediately(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	pool := newTestPool(t, srv.URL, nil)
	_, err := pool.Execute(context.Background(), &Request{Query: `mutation x { y { id } }`})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, int32(1), requests.Load(), "rejections must not be retried")
}

func TestPool_UserErrorsAreRejections(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"errors": [{"message": "sku already taken"}]}`)
	}))
	defer srv.Close()

	pool := newTestPool(t, srv.URL, nil)
	_, err := pool.Execute(context.Background(), &Request{Query: `mutation x { y { id } }`})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "sku already taken")
}

func TestPool_ThrottleErrorCodeIsRetried(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			fmt.Fprint(w, `{"errors": [{"message": "throttled", "extensions": {"code": "THROTTLED"}}]}`)
			return
		}
		fmt.Fprint(w, okBody(950, 50))
	}))
	defer srv.Close()

	pool := newTestPool(t, srv.URL, nil)
	_, err := pool.Execute(context.Background(), &Request{Query: `query { shop { name } }`})
	require.NoError(t, err)
	assert.Equal(t, int32(2), requests.Load())
}

func TestPool_UndecodableResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html>not json</html>`)
	}))
	defer srv.Close()

	pool := newTestPool(t, srv.URL, nil)
	_, err := pool.Execute(context.Background(), &Request{Query: `query { shop { name } }`})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestPool_WaitsBelowLowWaterMark(t *testing.T) {
	pool := NewPool(PoolConfig{
		Endpoint:     "http://unused",
		LowWaterMark: 100,
	}, nil, nil, zaptest.NewLogger(t))

	var slept time.Duration
	pool.sleep = func(ctx context.Context, d time.Duration) error {
		slept = d
		return nil
	}

	pool.throttle.currentlyAvailable = 50
	pool.throttle.restoreRate = 10
	pool.throttle.observedAt = time.Now()

	err := pool.waitForCapacity(context.Background(), &Request{Query: "query { shop { name } }"})
	require.NoError(t, err)

	// Roughly (100-50)/10 seconds, minus whatever restored since observedAt
	assert.Greater(t, slept, 4*time.Second)
	assert.LessOrEqual(t, slept, 5*time.Second)
}

func TestPool_NoWaitAboveLowWaterMark(t *testing.T) {
	pool := NewPool(PoolConfig{Endpoint: "http://unused", LowWaterMark: 100}, nil, nil, zaptest.NewLogger(t))
	pool.sleep = func(ctx context.Context, d time.Duration) error {
		t.Fatal("must not sleep with capacity available")
		return nil
	}

	pool.throttle.currentlyAvailable = 500
	pool.throttle.restoreRate = 10
	pool.throttle.observedAt = time.Now()

	require.NoError(t, pool.waitForCapacity(context.Background(), &Request{Query: "query { shop { name } }"}))
}

func TestPool_CostWindowIsBounded(t *testing.T) {
	pool := NewPool(PoolConfig{Endpoint: "http://unused"}, nil, nil, zaptest.NewLogger(t))
	for i := 0; i < costWindowSize+10; i++ {
		pool.observeCost(OperationCost{ActualCost: i})
	}
	costs := pool.RecentCosts()
	assert.Len(t, costs, costWindowSize)
	// Oldest entries fell off the front
	assert.Equal(t, 10, costs[0].ActualCost)
}

func TestPool_ExecuteHonorsContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		fmt.Fprint(w, okBody(950, 50))
	}))
	defer srv.Close()

	pool := newTestPool(t, srv.URL, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := pool.Execute(ctx, &Request{Query: `query { shop { name } }`})
	require.Error(t, err)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, isTransient(fmt.Errorf("wrapped: %w", ErrUnavailable)))
	assert.True(t, isTransient(fmt.Errorf("wrapped: %w", ErrThrottled)))
	assert.False(t, isTransient(fmt.Errorf("wrapped: %w", ErrRejected)))
	assert.False(t, isTransient(nil))
}

func TestRequest_IsMutation(t *testing.T) {
	assert.True(t, (&Request{Query: "mutation x { y }"}).IsMutation())
	assert.True(t, (&Request{Query: "  mutation x { y }"}).IsMutation())
	assert.False(t, (&Request{Query: "query { y }"}).IsMutation())
	assert.False(t, (&Request{Query: "{ y }"}).IsMutation())
}

func TestSleepContext(t *testing.T) {
	require.NoError(t, sleepContext(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, sleepContext(ctx, time.Minute))
}
