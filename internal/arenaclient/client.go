// Package arenaclient is a Go client for the arena HTTP API and sockets.
package arenaclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/park285/goban-arena/internal/game"
	"github.com/park285/goban-arena/pkg/arenadto"
)

// HeaderProvider allows injecting per-request headers
type HeaderProvider func() map[string]string

// APIError is a non-2xx response. Domain is decoded from the error body
// when the server sent one.
type APIError struct {
	Status int
	Domain arenadto.DomainError
}

func (e *APIError) Error() string {
	return fmt.Sprintf("arena api error: status=%d code=%s: %s", e.Status, e.Domain.Code, e.Domain.Error())
}

type Client struct {
	baseURL string
	http    *fasthttp.Client
	headers HeaderProvider

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithHeaderProvider(h HeaderProvider) Option {
	return func(c *Client) { c.headers = h }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

// WithUser sends X-User-Id on every request.
func WithUser(userID string) Option {
	return WithHeaderProvider(func() map[string]string {
		return map[string]string{"X-User-Id": userID}
	})
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 64},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) CreateAISession(ctx context.Context, req arenadto.CreateAISessionRequest) (string, error) {
	var resp arenadto.SessionCreatedResponse
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/api/sessions/ai", req, &resp, false); err != nil {
		return "", err
	}
	return resp.SessionID, nil
}

func (c *Client) Session(ctx context.Context, id string) (*game.Snapshot, error) {
	var snap game.Snapshot
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/api/sessions/"+url.PathEscape(id), nil, &snap, true); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Act submits one action. Actions are not retried: a lost response may
// still have been applied, so callers re-read the session instead.
func (c *Client) Act(ctx context.Context, id string, req arenadto.ActionRequest) (*game.Snapshot, error) {
	var snap game.Snapshot
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/api/sessions/"+url.PathEscape(id)+"/actions", req, &snap, false); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *Client) Enqueue(ctx context.Context, req arenadto.EnqueueRequest) (arenadto.MatchResponse, error) {
	var resp arenadto.MatchResponse
	err := c.doJSON(ctx, fasthttp.MethodPost, "/api/matchmaking/queue", req, &resp, false)
	return resp, err
}

func (c *Client) Poll(ctx context.Context) (arenadto.MatchResponse, error) {
	var resp arenadto.MatchResponse
	err := c.doJSON(ctx, fasthttp.MethodPost, "/api/matchmaking/poll", nil, &resp, true)
	return resp, err
}

func (c *Client) Dequeue(ctx context.Context) error {
	return c.doJSON(ctx, fasthttp.MethodDelete, "/api/matchmaking/queue", nil, nil, false)
}

func (c *Client) Rating(ctx context.Context, userID, mode string) (arenadto.RatingResponse, error) {
	var resp arenadto.RatingResponse
	path := "/api/ratings/" + url.PathEscape(userID)
	if mode != "" {
		path += "?mode=" + url.QueryEscape(mode)
	}
	err := c.doJSON(ctx, fasthttp.MethodGet, path, nil, &resp, true)
	return resp, err
}

func (c *Client) doJSON(ctx context.Context, method, path string, in any, out any, retry bool) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")

	if c.headers != nil {
		for k, v := range c.headers() {
			if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
				req.Header.Set(k, v)
			}
		}
	}

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
		if err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx)); err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
		} else if status := resp.StatusCode(); status < 200 || status >= 300 {
			apiErr := &APIError{Status: status}
			var body arenadto.ErrorResponse
			if json.Unmarshal(resp.Body(), &body) == nil {
				apiErr.Domain = body.Error
			}
			if !shouldRetryStatus(status) {
				return apiErr
			}
			lastErr = apiErr
		} else {
			if out != nil && len(resp.Body()) > 0 {
				if err := json.Unmarshal(resp.Body(), out); err != nil {
					return fmt.Errorf("decode response: %w", err)
				}
			}
			return nil
		}
		if attempt == attempts {
			break
		}
		if err := sleepWithContext(ctx, backoffDuration(attempt)); err != nil {
			return lastErr
		}
	}
	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
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
