package interpret

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/harunnryd/echovoice/pkg/errorsx"
	"github.com/harunnryd/echovoice/pkg/metrics"
	"github.com/harunnryd/echovoice/pkg/resilience"
)

func TestInterpretPostsTranscript(t *testing.T) {
	var got interpretRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/interpret" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %q", ct)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"ai_response":"A noun names a thing."}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL + "/")
	reply, err := c.Interpret(context.Background(), "what is a noun.")
	if err != nil {
		t.Fatalf("interpret: %v", err)
	}
	if reply != "A noun names a thing." {
		t.Fatalf("unexpected reply %q", reply)
	}
	if got.Transcript != "what is a noun." {
		t.Fatalf("unexpected transcript %q", got.Transcript)
	}
}

func TestInterpretMissingFieldIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"other":"x"}`))
	}))
	defer srv.Close()

	reply, err := NewClient(srv.URL).Interpret(context.Background(), "hi.")
	if err != nil || reply != "" {
		t.Fatalf("expected empty reply, got %q err=%v", reply, err)
	}
}

func TestInterpretFailures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		reason errorsx.ReasonCode
	}{
		{"server_error", http.StatusInternalServerError, "boom", errorsx.ReasonInterpretationFailed},
		{"bad_json", http.StatusOK, "{not json", errorsx.ReasonInterpretationFailed},
		{"rate_limited", http.StatusTooManyRequests, "slow down", errorsx.ReasonInterpretRateLimit},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL).Interpret(context.Background(), "hi.")
			if !errors.Is(err, ErrInterpretationFailed) {
				t.Fatalf("expected ErrInterpretationFailed, got %v", err)
			}
			if r := errorsx.Reason(err); r != tc.reason {
				t.Fatalf("expected reason %s, got %s", tc.reason, r)
			}
		})
	}
}

func TestInterpretNetworkErrorAndTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()
	if _, err := NewClient(url).Interpret(context.Background(), "hi."); !errors.Is(err, ErrInterpretationFailed) {
		t.Fatalf("expected failure on closed server, got %v", err)
	}

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer slow.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := NewClient(slow.URL).Interpret(ctx, "hi.")
	if !errorsx.HasReason(err, errorsx.ReasonInterpretTimeout) {
		t.Fatalf("expected timeout reason, got %v", err)
	}
}

func TestInterpretBreakerOpensAfterRateLimits(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	mem := metrics.NewMemoryObserver()
	c := NewClient(srv.URL, WithObserver(mem), WithBreaker(resilience.NewCircuitBreaker(2, time.Minute)))
	for i := 0; i < 3; i++ {
		_, _ = c.Interpret(context.Background(), "hi.")
	}
	if calls != 2 {
		t.Fatalf("expected breaker to block third call, got %d calls", calls)
	}
	if mem.Count(metrics.EventBreakerOpen) != 1 || mem.Count(metrics.EventBreakerDenied) != 1 {
		t.Fatalf("unexpected breaker events: %#v", mem.Events())
	}
	_, err := c.Interpret(context.Background(), "hi.")
	if !errorsx.HasReason(err, errorsx.ReasonInterpretCircuitOpen) || !errors.Is(err, ErrInterpretationFailed) {
		t.Fatalf("expected circuit open failure, got %v", err)
	}
}
