package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// HTTPClient talks to the node's REST gateway. Reads are retried with
// backoff; SubmitTransfer is never retried here because a client-side
// error does not prove the transfer failed on-chain.
type HTTPClient struct {
	baseURL string
	http    *fasthttp.Client

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*HTTPClient)

func WithTimeout(d time.Duration) Option {
	return func(c *HTTPClient) { c.defaultTimeout = d }
}

func WithRetry(max int) Option {
	return func(c *HTTPClient) { c.retryMax = max }
}

func WithMaxConnsPerHost(n int) Option {
	return func(c *HTTPClient) { c.http.MaxConnsPerHost = n }
}

func NewHTTPClient(baseURL string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 15 * time.Second, WriteTimeout: 15 * time.Second, MaxConnsPerHost: 32},
		defaultTimeout: 15 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type txEnvelope struct {
	Transaction *Transaction `json:"transaction"`
}

type deriveRequest struct {
	Mint  string `json:"mint"`
	Owner string `json:"owner"`
}

type deriveResponse struct {
	Address string `json:"address"`
}

type submitResponse struct {
	Signature string `json:"signature"`
	Error     string `json:"error,omitempty"`
}

func (c *HTTPClient) Transaction(ctx context.Context, id string) (*Transaction, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrTxNotFound
	}
	var env txEnvelope
	err := c.doJSON(ctx, fasthttp.MethodGet, "/v1/transactions/"+url.PathEscape(id), nil, &env, true)
	if err != nil {
		if errors.Is(err, errStatusNotFound) {
			return nil, ErrTxNotFound
		}
		return nil, err
	}
	if env.Transaction == nil {
		return nil, ErrTxNotFound
	}
	return env.Transaction, nil
}

func (c *HTTPClient) DepositAddress(ctx context.Context, mint, owner string) (string, error) {
	var resp deriveResponse
	req := deriveRequest{Mint: strings.TrimSpace(mint), Owner: strings.TrimSpace(owner)}
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/v1/addresses/derive", req, &resp, true); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Address) == "" {
		return "", errors.New("ledger: empty derived address")
	}
	return resp.Address, nil
}

func (c *HTTPClient) SubmitTransfer(ctx context.Context, t *Transfer) (string, error) {
	if t == nil || t.Signature == "" {
		return "", ErrSubmitRejected
	}
	var resp submitResponse
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/v1/transfers", t, &resp, false); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrSubmitRejected, resp.Error)
	}
	if strings.TrimSpace(resp.Signature) == "" {
		return "", errors.New("ledger: submit returned no signature")
	}
	return resp.Signature, nil
}

var errStatusNotFound = errors.New("ledger: status 404")

func (c *HTTPClient) doJSON(ctx context.Context, method, path string, in any, out any, retry bool) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")

	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req.SetBody(payload)
	}

	attempts := 1
	if retry && c.retryMax > 1 {
		attempts = c.retryMax
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err != nil {
			lastErr = fmt.Errorf("ledger request failed: %w", err)
			if attempt == attempts {
				return lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		status := resp.StatusCode()
		if status == fasthttp.StatusNotFound {
			return errStatusNotFound
		}
		if status < 200 || status >= 300 {
			lastErr = fmt.Errorf("ledger api error: status=%d body=%s", status, truncate(string(resp.Body()), 512))
			if attempt == attempts || !shouldRetryStatus(status) {
				return lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		if out != nil {
			if err := json.Unmarshal(resp.Body(), out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	}
	return lastErr
}

func (c *HTTPClient) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
