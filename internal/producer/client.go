package producer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/aigrc/govevents/internal/events"
)

const (
	// DefaultTimeout is the per-request timeout applied unless overridden.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxRetries bounds retries of 5xx/timeout failures.
	DefaultMaxRetries = 3
	// defaultRetryAfter is used when a 429 response carries no Retry-After
	// header, or one that doesn't parse as an integer second count.
	defaultRetryAfter = 60 * time.Second
	// retryInitialInterval and retryMultiplier reproduce the
	// 2^attempt * 1000ms backoff schedule over successive retries
	// (1s, 2s, 4s, ...).
	retryInitialInterval = 1 * time.Second
	retryMultiplier      = 2.0
)

// WireError mirrors the server's {code,message,field?,schemaPath?} error
// detail.
type WireError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Field      string `json:"field,omitempty"`
	SchemaPath string `json:"schemaPath,omitempty"`
}

// SyncResponse mirrors the body returned by POST /v1/events. StatusCode
// carries the HTTP response code alongside the decoded body: the wire
// status word is always "accepted", so callers that need to distinguish a
// fresh acceptance (201) from a replayed duplicate (200) read StatusCode
// rather than Status.
type SyncResponse struct {
	*events.GovernanceEvent
	Status     string `json:"status"`
	StatusCode int    `json:"-"`
}

// BatchItemResult is one element's outcome within a BatchResponse.
type BatchItemResult struct {
	ID         string     `json:"id,omitempty"`
	Status     string     `json:"status"`
	ReceivedAt *time.Time `json:"receivedAt,omitempty"`
	Error      *WireError `json:"error,omitempty"`
}

// BatchResponse mirrors the body returned by POST /v1/events/batch, and is
// also the type Send() merges all channel outcomes into.
type BatchResponse struct {
	Accepted  int               `json:"accepted"`
	Rejected  int               `json:"rejected"`
	Duplicate int               `json:"duplicate"`
	Results   []BatchItemResult `json:"results"`
}

// Client is the producer-side HTTP client: retrying, channel-selecting,
// and disposable. A Client is safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	headers    map[string]string
	timeout    time.Duration
	maxRetries int

	mu       sync.Mutex
	cancels  map[*context.CancelFunc]struct{}
	disposed atomic.Bool
}

// ClientOption configures a Client at construction time.
type ClientOption func(*Client)

// WithTimeout overrides the per-request timeout (default 30s).
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithMaxRetries overrides the maximum retry count for 5xx/timeout
// failures (default 3).
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) { c.maxRetries = n }
}

// WithHTTPClient overrides the underlying *http.Client, e.g. for tests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithHeader sets a static header applied to every request.
func WithHeader(key, value string) ClientOption {
	return func(c *Client) {
		c.headers[key] = value
	}
}

// NewClient constructs a Client. baseURL's trailing slashes are stripped so
// callers may pass either form.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{},
		headers:    map[string]string{},
		timeout:    DefaultTimeout,
		maxRetries: DefaultMaxRetries,
		cancels:    map[*context.CancelFunc]struct{}{},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Push implements the sync channel (§4.C7): POST /v1/events.
func (c *Client) Push(ctx context.Context, event *events.GovernanceEvent) (*SyncResponse, error) {
	if c.disposed.Load() {
		return nil, ErrDisposed
	}

	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("producer: failed to marshal event: %w", err)
	}

	var resp SyncResponse

	err = c.withRetry(ctx, func(attemptCtx context.Context) error {
		status, header, respBody, doErr := c.do(attemptCtx, http.MethodPost, "/v1/events", body)
		if doErr != nil {
			return doErr
		}

		if status >= 400 {
			return classifyErrorResponse(status, header, respBody)
		}

		if err := json.Unmarshal(respBody, &resp); err != nil {
			return err
		}

		resp.StatusCode = status

		return nil
	})
	if err != nil {
		return nil, err
	}

	return &resp, nil
}

// PushBatch implements the batch channel (§4.C8): POST /v1/events/batch.
func (c *Client) PushBatch(ctx context.Context, evts []*events.GovernanceEvent) (*BatchResponse, error) {
	if c.disposed.Load() {
		return nil, ErrDisposed
	}

	if len(evts) == 0 {
		return &BatchResponse{}, nil
	}

	body, err := json.Marshal(evts)
	if err != nil {
		return nil, fmt.Errorf("producer: failed to marshal batch: %w", err)
	}

	var resp BatchResponse

	err = c.withRetry(ctx, func(attemptCtx context.Context) error {
		status, header, respBody, doErr := c.do(attemptCtx, http.MethodPost, "/v1/events/batch", body)
		if doErr != nil {
			return doErr
		}

		if status >= 400 {
			return classifyErrorResponse(status, header, respBody)
		}

		return json.Unmarshal(respBody, &resp)
	})
	if err != nil {
		return nil, err
	}

	return &resp, nil
}

// Send auto-selects the channel per §4.C10:
//  1. Empty slice → synthetic empty BatchResponse, no network call.
//  2. Critical events are extracted and pushed individually via Sync
//     first, in input order.
//  3. The remainder is routed by size: 0 or 1 → Sync, 2+ → Batch.
//  4. Results are merged into a single BatchResponse, criticals first.
//
// A Push failure for a critical event does not abort the remaining
// criticals or the batch remainder; it is recorded as a rejected result
// carrying the failure's message, matching the buffer's best-effort
// semantics (§4.C9).
func (c *Client) Send(ctx context.Context, evts []*events.GovernanceEvent) (*BatchResponse, error) {
	if c.disposed.Load() {
		return nil, ErrDisposed
	}

	if len(evts) == 0 {
		return &BatchResponse{}, nil
	}

	var criticals, rest []*events.GovernanceEvent

	for _, e := range evts {
		if e.Criticality == events.CriticalityCritical {
			criticals = append(criticals, e)
		} else {
			rest = append(rest, e)
		}
	}

	merged := &BatchResponse{}

	for _, e := range criticals {
		c.appendPushResult(ctx, merged, e)
	}

	switch len(rest) {
	case 0:
		return merged, nil
	case 1:
		c.appendPushResult(ctx, merged, rest[0])

		return merged, nil
	default:
		batch, err := c.PushBatch(ctx, rest)
		if err != nil {
			return merged, err
		}

		merged.Accepted += batch.Accepted
		merged.Rejected += batch.Rejected
		merged.Duplicate += batch.Duplicate
		merged.Results = append(merged.Results, batch.Results...)

		return merged, nil
	}
}

// appendPushResult pushes a single event and folds its outcome into merged,
// treating a Push failure as a rejected result rather than aborting Send.
func (c *Client) appendPushResult(ctx context.Context, merged *BatchResponse, e *events.GovernanceEvent) {
	resp, err := c.Push(ctx, e)
	if err != nil {
		merged.Rejected++
		merged.Results = append(merged.Results, BatchItemResult{
			ID:     e.ID,
			Status: "rejected",
			Error:  &WireError{Code: "EVT_INTERNAL", Message: err.Error()},
		})

		return
	}

	item := BatchItemResult{ID: resp.ID, Status: resp.Status, ReceivedAt: resp.ReceivedAt}

	if resp.StatusCode == http.StatusCreated {
		merged.Accepted++
	} else {
		merged.Duplicate++
	}

	merged.Results = append(merged.Results, item)
}

// HealthCheck reports success iff GET /v1/health returns a 2xx status.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.disposed.Load() {
		return ErrDisposed
	}

	status, _, _, err := c.do(ctx, http.MethodGet, "/v1/health", nil)
	if err != nil {
		return err
	}

	if status < 200 || status >= 300 {
		return &HTTPError{StatusCode: status, Message: "health check failed"}
	}

	return nil
}

// Dispose cancels all in-flight requests and invalidates the client.
// Subsequent Push/PushBatch/Send/HealthCheck calls return ErrDisposed.
func (c *Client) Dispose() {
	if !c.disposed.CompareAndSwap(false, true) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for cancel := range c.cancels {
		(*cancel)()
	}

	c.cancels = map[*context.CancelFunc]struct{}{}
}

// withRetry runs op, retrying 5xx/timeout failures with the
// 2^attempt*1000ms schedule up to maxRetries. 4xx failures (including
// RateLimitError) and ErrDisposed are surfaced immediately.
func (c *Client) withRetry(ctx context.Context, op func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.Multiplier = retryMultiplier
	b.RandomizationFactor = 0

	bounded := backoff.WithMaxRetries(b, uint64(c.maxRetries)) //nolint: gosec

	return backoff.Retry(func() error {
		err := op(ctx)
		if err == nil {
			return nil
		}

		if !isRetryable(err) {
			return backoff.Permanent(err)
		}

		return err
	}, bounded)
}

// do issues one HTTP request with an independent cancellation handle tied
// to c.timeout, registering its cancel func so Dispose can abort it.
func (c *Client) do(ctx context.Context, method, path string, body []byte) (int, http.Header, []byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.mu.Lock()
	c.cancels[&cancel] = struct{}{}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.cancels, &cancel)
		c.mu.Unlock()
	}()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(attemptCtx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("producer: failed to build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return 0, nil, nil, ErrRequestTimedOut
		}

		return 0, nil, nil, fmt.Errorf("producer: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("producer: failed to read response body: %w", err)
	}

	return resp.StatusCode, resp.Header, respBody, nil
}

// classifyErrorResponse maps a non-2xx response to a typed error: 429
// becomes RateLimitError (Retry-After from the header, defaulting to 60s),
// everything else becomes HTTPError carrying the server's code/message
// when the body parsed as the standard envelope.
func classifyErrorResponse(status int, header http.Header, body []byte) error {
	var envelope struct {
		Error WireError `json:"error"`
	}

	_ = json.Unmarshal(body, &envelope)

	if status == http.StatusTooManyRequests {
		return &RateLimitError{RetryAfter: retryAfterFromHeader(header.Get("Retry-After"))}
	}

	return &HTTPError{StatusCode: status, Code: envelope.Error.Code, Message: envelope.Error.Message}
}

// retryAfterFromHeader parses a Retry-After header (seconds form) into a
// duration, falling back to defaultRetryAfter.
func retryAfterFromHeader(header string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || seconds < 0 {
		return defaultRetryAfter
	}

	return time.Duration(seconds) * time.Second
}
