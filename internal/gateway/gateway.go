// Package gateway is the outbound-call primitive for the PrepDeck backend.
//
// Every backend call in the client core goes through a Client: it injects
// session credentials and the locale hint, collapses concurrent identical
// reads into one round trip, revalidates cached GET payloads with ETags,
// bounds each attempt with a timeout, and retries transient failures with
// exponential backoff.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prepdeck/prepdeck/internal/apierror"
	"github.com/prepdeck/prepdeck/internal/retry"
	"github.com/prepdeck/prepdeck/internal/traces"
)

// Options configures a Client.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client // defaults to a plain client; timeouts come from CallOptions
	Logger     *slog.Logger
	Retry      retry.Policy  // zero value falls back to retry.DefaultPolicy
	Timeout    time.Duration // default per-attempt timeout (15s if zero)
}

// Client issues backend calls with dedup, conditional caching, and retry.
// Construct one per backend; all state is instance-scoped so tests can
// run isolated instances.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	policy     retry.Policy
	timeout    time.Duration

	mu        sync.Mutex
	inflight  map[string]*inflightCall
	cache     map[string]cacheEntry
	authToken string
	locale    string
}

// inflightCall is the dedup record for one outstanding request key.
// Followers wait on done and then read payload/err.
type inflightCall struct {
	done    chan struct{}
	payload []byte
	err     error
}

// cacheEntry pairs a revalidation token with the payload it covers.
// Entries are superseded atomically on every successful fetch.
type cacheEntry struct {
	etag    string
	payload []byte
}

// CallOptions configures a single call. The zero value is a plain GET.
type CallOptions struct {
	Method    string // defaults to GET
	Body      any    // JSON-encoded when non-nil
	Headers   map[string]string
	Timeout   time.Duration // overrides the client default for this call
	NoRetry   bool          // disable retry even for retryable failures
	NoDedupe  bool          // opt out of in-flight deduplication
	SkipCache bool          // force a fresh read, bypassing the revalidation token
}

// New creates a Client for the given backend.
func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	policy := opts.Retry
	if policy.MaxAttempts == 0 {
		policy = retry.DefaultPolicy()
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
		policy:     policy,
		timeout:    timeout,
		inflight:   make(map[string]*inflightCall),
		cache:      make(map[string]cacheEntry),
	}
}

// SetAuthToken installs the session bearer token attached to every call.
func (c *Client) SetAuthToken(token string) {
	c.mu.Lock()
	c.authToken = token
	c.mu.Unlock()
}

// SetLocale installs the locale hint attached to every call.
func (c *Client) SetLocale(locale string) {
	c.mu.Lock()
	c.locale = locale
	c.mu.Unlock()
}

// Clear wipes all caches, in-flight trackers, and injected auth/locale
// state. Called on sign-out.
func (c *Client) Clear() {
	c.mu.Lock()
	c.inflight = make(map[string]*inflightCall)
	c.cache = make(map[string]cacheEntry)
	c.authToken = ""
	c.locale = ""
	c.mu.Unlock()
}

// Invalidate drops cached payloads whose URL starts with the given path
// prefix. Used after a purchase lands so stale account views are not
// served from the revalidation cache.
func (c *Client) Invalidate(pathPrefix string) {
	full := c.baseURL + pathPrefix
	c.mu.Lock()
	for url := range c.cache {
		if strings.HasPrefix(url, full) {
			delete(c.cache, url)
		}
	}
	c.mu.Unlock()
}

// Call issues a request and returns the response payload.
// Failures are always *apierror.APIError values.
func (c *Client) Call(ctx context.Context, path string, opts CallOptions) ([]byte, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	url := c.baseURL + path

	ctx, span := traces.StartSpan(ctx, "gateway.call", traces.Endpoint(path))
	defer span.End()

	// Only idempotent reads are deduplicated.
	if method == http.MethodGet && !opts.NoDedupe {
		return c.callDeduped(ctx, method, url, opts)
	}
	return c.callWithRetry(ctx, method, url, opts)
}

// GetJSON issues a GET and decodes the response into out.
func (c *Client) GetJSON(ctx context.Context, path string, out any, opts CallOptions) error {
	opts.Method = http.MethodGet
	payload, err := c.Call(ctx, path, opts)
	if err != nil {
		return err
	}
	return decode(payload, out)
}

// PostJSON issues a POST with a JSON body and decodes the response into out.
func (c *Client) PostJSON(ctx context.Context, path string, body, out any) error {
	payload, err := c.Call(ctx, path, CallOptions{Method: http.MethodPost, Body: body})
	if err != nil {
		return err
	}
	return decode(payload, out)
}

func decode(payload []byte, out any) error {
	if out == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return apierror.Network(fmt.Sprintf("malformed response: %v", err))
	}
	return nil
}

// callDeduped collapses concurrent identical reads: the first caller for
// a key performs the round trip, everyone else waits for its result. The
// entry is removed when the call settles, success or failure.
func (c *Client) callDeduped(ctx context.Context, method, url string, opts CallOptions) ([]byte, error) {
	key := method + " " + url

	c.mu.Lock()
	if call, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		dedupHits.Inc()
		select {
		case <-call.done:
			return call.payload, call.err
		case <-ctx.Done():
			return nil, apierror.Network(ctx.Err().Error())
		}
	}
	call := &inflightCall{done: make(chan struct{})}
	c.inflight[key] = call
	c.mu.Unlock()

	payload, err := c.callWithRetry(ctx, method, url, opts)

	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()

	call.payload, call.err = payload, err
	close(call.done)
	return payload, err
}

func (c *Client) callWithRetry(ctx context.Context, method, url string, opts CallOptions) ([]byte, error) {
	var bodyBytes []byte
	if opts.Body != nil {
		var err error
		bodyBytes, err = json.Marshal(opts.Body)
		if err != nil {
			return nil, apierror.Network(fmt.Sprintf("encode request body: %v", err))
		}
	}

	policy := c.policy
	if opts.NoRetry {
		policy.MaxAttempts = 1
	}

	start := time.Now()
	var payload []byte
	err := retry.Do(ctx, policy, func() error {
		var attemptErr error
		payload, attemptErr = c.attempt(ctx, method, url, bodyBytes, opts)
		if attemptErr == nil {
			return nil
		}
		if !apierror.Retryable(attemptErr) {
			return retry.Permanent(attemptErr)
		}
		retriesTotal.Inc()
		c.logger.Warn("request failed, will retry",
			"method", method, "url", url, "error", attemptErr)
		return attemptErr
	})
	callLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		// retry.Do can surface a bare context error from a cancelled
		// backoff sleep; keep the taxonomy uniform.
		if apierror.From(err) == nil {
			err = apierror.Network(err.Error())
		}
		callsTotal.WithLabelValues(outcomeLabel(err)).Inc()
		return nil, err
	}
	callsTotal.WithLabelValues("success").Inc()
	return payload, nil
}

// attempt performs one HTTP round trip. Classification:
//   - transport failure          -> status 0, network (deadline -> timeout)
//   - 304 with a cached payload  -> cached payload, no error
//   - 2xx                        -> payload, cache superseded when an ETag is present
//   - anything else              -> *apierror.APIError from the response body
func (c *Client) attempt(ctx context.Context, method, url string, body []byte, opts CallOptions) ([]byte, error) {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = c.timeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, url, reader)
	if err != nil {
		return nil, apierror.Network(err.Error())
	}

	c.mu.Lock()
	token, locale := c.authToken, c.locale
	var cached cacheEntry
	var haveCached bool
	if method == http.MethodGet && !opts.SkipCache {
		cached, haveCached = c.cache[url]
	}
	c.mu.Unlock()

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if locale != "" {
		req.Header.Set("Accept-Language", locale)
	}
	if haveCached {
		req.Header.Set("If-None-Match", cached.etag)
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, apierror.Timeout(fmt.Sprintf("%s %s exceeded %v", method, url, timeout))
		}
		return nil, apierror.Network(err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotModified && haveCached {
		cacheHits.Inc()
		return cached.payload, nil
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierror.Network(fmt.Sprintf("read response: %v", err))
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if method == http.MethodGet {
			if etag := resp.Header.Get("ETag"); etag != "" {
				c.mu.Lock()
				c.cache[url] = cacheEntry{etag: etag, payload: payload}
				c.mu.Unlock()
			}
		}
		return payload, nil
	}

	return nil, parseError(resp.StatusCode, payload)
}

// errorBody is the backend's error envelope. Both the nested and the
// flat shapes occur in the wild.
type errorBody struct {
	Error *struct {
		Message string                `json:"message"`
		Code    string                `json:"code"`
		Details []apierror.FieldError `json:"details"`
	} `json:"error"`
	Message string                `json:"message"`
	Code    string                `json:"code"`
	Details []apierror.FieldError `json:"details"`
}

func parseError(status int, payload []byte) *apierror.APIError {
	var body errorBody
	if err := json.Unmarshal(payload, &body); err == nil {
		if body.Error != nil {
			ae := apierror.New(status, body.Error.Code, body.Error.Message)
			ae.Details = body.Error.Details
			return ae
		}
		if body.Message != "" {
			ae := apierror.New(status, body.Code, body.Message)
			ae.Details = body.Details
			return ae
		}
	}
	return apierror.New(status, "", http.StatusText(status))
}

func outcomeLabel(err error) string {
	switch {
	case apierror.IsTimeout(err):
		return "timeout"
	case apierror.IsNetwork(err):
		return "network_error"
	case apierror.IsRateLimited(err):
		return "rate_limited"
	case apierror.IsServerError(err):
		return "server_error"
	default:
		return "client_error"
	}
}
