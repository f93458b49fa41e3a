// Package katago talks to a KataGo analysis service over HTTP.
package katago

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/park285/goban-arena/internal/ai"
	"github.com/park285/goban-arena/internal/ai/gtp"
	"github.com/park285/goban-arena/internal/board"
)

type Client struct {
	baseURL string
	http    *fasthttp.Client
	name    string

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

// WithDial replaces the transport dialer (tests use an in-memory listener).
func WithDial(dial fasthttp.DialFunc) Option {
	return func(c *Client) { c.http.Dial = dial }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 32},
		name:           "katago",
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type analyzeRequest struct {
	ID            string      `json:"id"`
	Rules         string      `json:"rules"`
	Komi          float64     `json:"komi"`
	BoardXSize    int         `json:"boardXSize"`
	BoardYSize    int         `json:"boardYSize"`
	InitialStones [][2]string `json:"initialStones"`
	Moves         [][2]string `json:"moves"`
	InitialPlayer string      `json:"initialPlayer"`
	MaxVisits     int         `json:"maxVisits"`
}

type moveInfo struct {
	Move    string  `json:"move"`
	Order   int     `json:"order"`
	Winrate float64 `json:"winrate"`
}

type analyzeResponse struct {
	ID        string     `json:"id"`
	Error     string     `json:"error,omitempty"`
	MoveInfos []moveInfo `json:"moveInfos"`
}

// resignBelow is the winrate under which the engine gives up.
const resignBelow = 0.02

func (c *Client) Name() string { return c.name }

func (c *Client) GenMove(ctx context.Context, req ai.Request) (ai.Response, error) {
	size := req.Board.Size()
	in := analyzeRequest{
		ID:            req.SessionID,
		Rules:         "chinese",
		Komi:          req.Komi,
		BoardXSize:    size,
		BoardYSize:    size,
		InitialStones: [][2]string{},
		Moves:         [][2]string{},
		InitialPlayer: colorLetter(req.ToPlay),
		MaxVisits:     visitsForLevel(req.Level),
	}
	for _, s := range []board.Stone{board.Black, board.White} {
		for _, p := range req.Board.Stones(s) {
			in.InitialStones = append(in.InitialStones, [2]string{colorLetter(s), gtp.Vertex(p, size)})
		}
	}

	var out analyzeResponse
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/analyze", in, &out); err != nil {
		return ai.Response{}, err
	}
	if out.Error != "" {
		return ai.Response{}, fmt.Errorf("katago: %s", out.Error)
	}
	best, ok := bestMove(out.MoveInfos)
	if !ok {
		return ai.Response{}, errors.New("katago: no candidate moves")
	}
	if best.Winrate > 0 && best.Winrate < resignBelow {
		return ai.Response{Resign: true}, nil
	}
	p, pass, resign, err := gtp.ParseVertex(best.Move, size)
	if err != nil {
		return ai.Response{}, fmt.Errorf("katago: %w", err)
	}
	return ai.Response{Point: p, Pass: pass, Resign: resign}, nil
}

func bestMove(infos []moveInfo) (moveInfo, bool) {
	if len(infos) == 0 {
		return moveInfo{}, false
	}
	best := infos[0]
	for _, mi := range infos[1:] {
		if mi.Order < best.Order {
			best = mi
		}
	}
	return best, true
}

func visitsForLevel(level int) int {
	if level < 1 {
		level = 1
	}
	if level > 10 {
		level = 10
	}
	return 1 << uint(level)
}

func colorLetter(s board.Stone) string {
	if s == board.White {
		return "W"
	}
	return "B"
}

func (c *Client) doJSON(ctx context.Context, method, path string, in any, out any) error {
	url := c.baseURL + path
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(url)
	req.Header.SetContentType("application/json")

	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req.SetBody(payload)
	}

	attempts := c.retryMax
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		deadline := c.computeDeadline(ctx)
		err := c.http.DoDeadline(req, resp, deadline)
		if err != nil {
			if attempt == attempts {
				return fmt.Errorf("request failed: %w", err)
			}
			lastErr = err
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		status := resp.StatusCode()
		if status < 200 || status >= 300 {
			err := fmt.Errorf("katago api error: status=%d body=%s", status, truncate(string(resp.Body()), 512))
			if attempt == attempts || !shouldRetryStatus(status) {
				return err
			}
			lastErr = err
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

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
