package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// maxResponseSize caps a platform response body at 10MB
const maxResponseSize = 10 * 1024 * 1024

// costWindowSize bounds the rolling window of recent operation costs
const costWindowSize = 64

// PoolConfig tunes the client pool
type PoolConfig struct {
	// Endpoint is the platform's GraphQL endpoint
	Endpoint string
	// AccessToken authenticates requests when non-empty
	AccessToken string
	// MaxConcurrent bounds in-flight requests across all workers
	MaxConcurrent int
	// RetryAttempts caps transient-error retries per call
	RetryAttempts int
	// RetryDelay is the base backoff delay, doubled per attempt
	RetryDelay time.Duration
	// Timeout bounds one HTTP round trip
	Timeout time.Duration
	// LowWaterMark is the remaining-cost floor under which callers sleep
	// until the platform's bucket restores
	LowWaterMark float64
}

// applyDefaults fills zero fields with production defaults
func (c *PoolConfig) applyDefaults() {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.LowWaterMark <= 0 {
		c.LowWaterMark = 100
	}
}

// throttleState is the shared view of the platform's cost bucket.
// One lock guards it; every worker consults it before sending.
type throttleState struct {
	mu                 sync.Mutex
	currentlyAvailable float64
	restoreRate        float64
	observedAt         time.Time
}

// Pool is a bounded-concurrency, rate-limit-aware transport for the remote
// platform. Reads go through the query cache; mutations never do. Transient
// failures are retried with exponential backoff; rejections surface
// immediately.
type Pool struct {
	config     PoolConfig
	httpClient *http.Client
	cache      *QueryCache
	costModel  *CostModel
	logger     *zap.Logger

	// slots bounds concurrent platform calls
	slots chan struct{}

	throttle throttleState

	costMu     sync.Mutex
	costWindow []OperationCost

	// sleep is swappable for tests
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPool creates a client pool. cache may be nil to disable read caching.
func NewPool(config PoolConfig, cache *QueryCache, costModel *CostModel, logger *zap.Logger) *Pool {
	config.applyDefaults()
	return &Pool{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		cache:      cache,
		costModel:  costModel,
		logger:     logger,
		slots:      make(chan struct{}, config.MaxConcurrent),
		sleep:      sleepContext,
	}
}

// Execute runs one query or mutation against the platform, honoring the
// cache for reads, the concurrency bound, and the throttle window.
func (p *Pool) Execute(ctx context.Context, req *Request) (*Response, error) {
	mutation := req.IsMutation()

	var cacheKey string
	if !mutation && p.cache != nil {
		cacheKey = Key(req.Query, req.Variables)
		if cached, ok := p.cache.Get(cacheKey); ok {
			return cached, nil
		}
	}

	select {
	case p.slots <- struct{}{}:
		defer func() { <-p.slots }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := p.waitForCapacity(ctx, req); err != nil {
		return nil, err
	}

	resp, err := p.executeWithRetry(ctx, req)
	if err != nil {
		return nil, err
	}

	if !mutation && p.cache != nil {
		p.cache.Set(cacheKey, resp)
	}
	return resp, nil
}

// PredictCost exposes the cost model's estimate for batch planning
func (p *Pool) PredictCost(req *Request) int {
	if p.costModel == nil {
		return baseCostObject
	}
	return p.costModel.PredictCost(req.Query, req.Variables)
}

// RecentCosts returns a copy of the rolling cost window
func (p *Pool) RecentCosts() []OperationCost {
	p.costMu.Lock()
	defer p.costMu.Unlock()
	out := make([]OperationCost, len(p.costWindow))
	copy(out, p.costWindow)
	return out
}

// CacheStats reports the query cache's effectiveness, zero when disabled
func (p *Pool) CacheStats() CacheStats {
	if p.cache == nil {
		return CacheStats{}
	}
	return p.cache.Stats()
}

// waitForCapacity sleeps until the platform's cost bucket has restored past
// the low-water mark. Sleep duration is required/restore_rate seconds.
func (p *Pool) waitForCapacity(ctx context.Context, req *Request) error {
	p.throttle.mu.Lock()
	available := p.throttle.currentlyAvailable
	restoreRate := p.throttle.restoreRate
	observedAt := p.throttle.observedAt
	p.throttle.mu.Unlock()

	if observedAt.IsZero() || restoreRate <= 0 {
		return nil
	}

	// Credit back what has restored since the last observation
	available += time.Since(observedAt).Seconds() * restoreRate
	if available >= p.config.LowWaterMark {
		return nil
	}

	required := p.config.LowWaterMark - available
	wait := time.Duration(required / restoreRate * float64(time.Second))
	p.logger.Debug("throttle window below low-water mark, pausing",
		zap.Float64("currently_available", available),
		zap.Float64("restore_rate", restoreRate),
		zap.Duration("wait", wait),
		zap.String("kind", trimmedQueryKind(req.Query)),
	)
	return p.sleep(ctx, wait)
}

// executeWithRetry retries transient failures with exponential backoff;
// rejections are permanent and surface on the first occurrence
func (p *Pool) executeWithRetry(ctx context.Context, req *Request) (*Response, error) {
	var resp *Response

	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(p.config.RetryDelay),
			backoff.WithMultiplier(2),
			backoff.WithRandomizationFactor(0),
			backoff.WithMaxElapsedTime(0),
		),
		uint64(p.config.RetryAttempts),
	), ctx)

	attempt := 0
	operation := func() error {
		attempt++
		r, err := p.doRequest(ctx, req)
		if err != nil {
			if isTransient(err) {
				p.logger.Warn("remote call failed, will retry",
					zap.Int("attempt", attempt),
					zap.Error(err),
				)
				return err
			}
			return backoff.Permanent(err)
		}
		resp = r
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return resp, nil
}

// doRequest performs one HTTP round trip and decodes the cost metadata
func (p *Pool) doRequest(ctx context.Context, req *Request) (*Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("remote: failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("remote: failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.config.AccessToken != "" {
		httpReq.Header.Set("X-Access-Token", p.config.AccessToken)
	}

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	switch {
	case httpResp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: HTTP %d", ErrThrottled, httpResp.StatusCode)
	case httpResp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: HTTP %d", ErrUnavailable, httpResp.StatusCode)
	case httpResp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: HTTP %d", ErrRejected, httpResp.StatusCode)
	}

	var wire wireResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	resp := wire.toResponse()
	p.observeCost(resp.Cost)

	if resp.IsThrottled() {
		return nil, fmt.Errorf("%w: %s", ErrThrottled, firstErrorMessage(resp.Errors))
	}
	if resp.HasUserErrors() {
		return nil, fmt.Errorf("%w: %s", ErrRejected, firstErrorMessage(resp.Errors))
	}
	return resp, nil
}

// observeCost folds one response's cost metadata into the shared throttle
// state and the rolling window
func (p *Pool) observeCost(cost OperationCost) {
	if cost.RestoreRate > 0 {
		p.throttle.mu.Lock()
		p.throttle.currentlyAvailable = cost.CurrentlyAvailable
		p.throttle.restoreRate = cost.RestoreRate
		p.throttle.observedAt = time.Now()
		p.throttle.mu.Unlock()
	}

	p.costMu.Lock()
	p.costWindow = append(p.costWindow, cost)
	if len(p.costWindow) > costWindowSize {
		p.costWindow = p.costWindow[len(p.costWindow)-costWindowSize:]
	}
	p.costMu.Unlock()
}

// isTransient reports whether an error warrants a retry
func isTransient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrUnavailable), errors.Is(err, ErrThrottled):
		return true
	default:
		return false
	}
}

// firstErrorMessage summarizes a platform error list for wrapping
func firstErrorMessage(errs []GraphQLError) string {
	if len(errs) == 0 {
		return "unknown platform error"
	}
	return errs[0].Message
}

// sleepContext sleeps for d or until the context is cancelled
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
