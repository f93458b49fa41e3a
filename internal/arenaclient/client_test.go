package arenaclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/park285/goban-arena/pkg/arenadto"
)

func TestSessionRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-User-Id") != "alice" {
			t.Errorf("missing user header")
		}
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"id":"s-1","variant":"classic","board_size":9}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithUser("alice"), WithTimeout(2*time.Second))
	snap, err := c.Session(context.Background(), "s-1")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if snap.ID != "s-1" || calls.Load() != 2 {
		t.Fatalf("snap = %+v after %d calls", snap, calls.Load())
	}
}

func TestActDecodesDomainErrorWithoutRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req arenadto.ActionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Kind != "move" {
			t.Errorf("body = %+v %v", req, err)
		}
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(arenadto.ErrorResponse{Error: arenadto.DomainError{Code: "WRONG_TURN", Message: "not your turn"}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithUser("bob"))
	_, err := c.Act(context.Background(), "s-1", arenadto.ActionRequest{Kind: "move", X: 3, Y: 3})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusConflict || apiErr.Domain.Code != "WRONG_TURN" {
		t.Fatalf("err = %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("action sent %d times", calls.Load())
	}
}
