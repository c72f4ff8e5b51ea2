package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"listwatch/internal/retry"
	"listwatch/pkg/logx"
)

func fastPolicy() retry.Policy {
	return retry.Policy{Timeout: time.Millisecond, Connection: time.Millisecond, Other: time.Millisecond}
}

func TestFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("unexpected method %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %q", ct)
		}
		w.Write([]byte(`[{"market":"KRW-BTC"}]`))
	}))
	defer srv.Close()

	f := New(time.Second, fastPolicy(), logx.Nop())
	body, at, err := f.Fetch(context.Background(), "upbit", srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(body) != `[{"market":"KRW-BTC"}]` {
		t.Fatalf("unexpected body: %s", body)
	}
	if at <= 0 {
		t.Fatalf("expected positive observation time, got %d", at)
	}
}

func TestFetchRetriesNon200(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	f := New(time.Second, fastPolicy(), logx.Nop())
	body, _, err := f.Fetch(context.Background(), "x", srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(body) != `{}` {
		t.Fatalf("unexpected body: %s", body)
	}
	if got := calls.Load(); got != 4 {
		t.Fatalf("expected 4 requests, got %d", got)
	}
}

func TestFetchNeverGivesUpUntilCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	f := New(time.Second, fastPolicy(), logx.Nop())
	_, _, err := f.Fetch(ctx, "x", srv.URL)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestFetchConnectionFailureRetries(t *testing.T) {
	// Point at a closed port; success arrives once a real server appears.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	url := srv.URL
	srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	f := New(time.Second, fastPolicy(), logx.Nop())
	_, _, err := f.Fetch(ctx, "x", url)
	if err == nil {
		t.Fatal("expected context error against closed port")
	}
}
