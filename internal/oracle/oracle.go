// Package oracle resolves the wager token's USD price. Prices are only
// consulted at room creation, so the oracle caches aggressively and
// never blocks room creation on a fetch failure: it degrades to the
// last cached price, then to a configured floor.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/castlemate/castlemate/internal/obslog"
)

type priceResponse struct {
	PriceUsd float64 `json:"price_usd"`
}

// FetchFunc fetches a fresh USD price. Swappable in tests.
type FetchFunc func(ctx context.Context) (float64, error)

type Oracle struct {
	fetch FetchFunc
	ttl   time.Duration
	floor float64

	mu       sync.Mutex
	cached   float64
	cachedAt time.Time
}

// New builds an oracle backed by an HTTP market-data endpoint.
// floor is the hardcoded last-resort price; it must be > 0.
func New(endpoint string, ttl time.Duration, floor float64) *Oracle {
	httpc := &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second}
	return NewWithFetcher(func(ctx context.Context) (float64, error) {
		return fetchHTTP(ctx, httpc, endpoint)
	}, ttl, floor)
}

// NewWithFetcher builds an oracle with a custom fetch function.
func NewWithFetcher(fetch FetchFunc, ttl time.Duration, floor float64) *Oracle {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if floor <= 0 {
		floor = 0.01
	}
	return &Oracle{fetch: fetch, ttl: ttl, floor: floor}
}

// PriceUSD returns the current token price. It never fails: a fetch
// error falls back to the stale cached price, then to the floor.
func (o *Oracle) PriceUSD(ctx context.Context) float64 {
	o.mu.Lock()
	if o.cached > 0 && time.Since(o.cachedAt) < o.ttl {
		p := o.cached
		o.mu.Unlock()
		return p
	}
	stale := o.cached
	o.mu.Unlock()

	p, err := o.fetch(ctx)
	if err != nil || p <= 0 {
		if err != nil {
			obslog.L().Warn("oracle_fetch_error", zap.Error(err))
		}
		if stale > 0 {
			return stale
		}
		return o.floor
	}

	o.mu.Lock()
	o.cached = p
	o.cachedAt = time.Now()
	o.mu.Unlock()
	return p
}

func fetchHTTP(ctx context.Context, httpc *fasthttp.Client, endpoint string) (float64, error) {
	if strings.TrimSpace(endpoint) == "" {
		return 0, fmt.Errorf("oracle endpoint not configured")
	}
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(endpoint)

	deadline := time.Now().Add(10 * time.Second)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := httpc.DoDeadline(req, resp, deadline); err != nil {
		return 0, fmt.Errorf("oracle request failed: %w", err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return 0, fmt.Errorf("oracle status %d", resp.StatusCode())
	}
	var pr priceResponse
	if err := json.Unmarshal(resp.Body(), &pr); err != nil {
		return 0, fmt.Errorf("decode oracle response: %w", err)
	}
	if pr.PriceUsd <= 0 {
		return 0, fmt.Errorf("oracle returned non-positive price")
	}
	return pr.PriceUsd, nil
}
