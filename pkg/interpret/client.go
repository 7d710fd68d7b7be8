package interpret

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
	"time"

	"github.com/harunnryd/echovoice/pkg/errorsx"
	"github.com/harunnryd/echovoice/pkg/logging"
	"github.com/harunnryd/echovoice/pkg/metrics"
	"github.com/harunnryd/echovoice/pkg/resilience"
)

// ErrInterpretationFailed matches every error returned by Client.Interpret.
var ErrInterpretationFailed = errors.New("interpretation failed")

const interpretPath = "/api/interpret"

type interpretRequest struct {
	Transcript string `json:"transcript"`
}

type interpretResponse struct {
	AIResponse string `json:"ai_response"`
}

// Client calls the interpretation backend. It never retries and sets no
// timeout of its own; callers bound each call through ctx.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string

	breaker *resilience.CircuitBreaker
	obs     metrics.Observer
	log     *slog.Logger
}

type Option func(*Client)

// WithBreaker guards calls with cb. Rate limited responses count against it.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *Client) { c.breaker = cb }
}

func WithObserver(obs metrics.Observer) Option {
	return func(c *Client) { c.obs = metrics.OrNoop(obs) }
}

func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = logging.NewComponentLogger(log, "interpret") }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		HTTPClient: &http.Client{},
		BaseURL:    strings.TrimRight(baseURL, "/"),
		obs:        metrics.NoopObserver{},
		log:        logging.NewComponentLogger(nil, "interpret"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker != nil {
		c.breaker.OnStateChange(func(open bool) {
			name := metrics.EventBreakerClose
			if open {
				name = metrics.EventBreakerOpen
			}
			c.obs.RecordEvent(metrics.MetricsEvent{Name: name, Time: time.Now(), Tags: map[string]string{"target": "interpret"}})
			c.log.Info(name)
		})
	}
	return c
}

// Interpret sends transcript to the backend and returns its reply. A reply
// without ai_response is the empty string.
func (c *Client) Interpret(ctx context.Context, transcript string) (string, error) {
	if c.breaker != nil && !c.breaker.Allow() {
		c.obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventBreakerDenied, Time: time.Now(), Tags: map[string]string{"target": "interpret"}})
		return "", errorsx.Wrap(fmt.Errorf("%w: circuit open", ErrInterpretationFailed), errorsx.ReasonInterpretCircuitOpen)
	}
	reply, err := c.do(ctx, transcript)
	if c.breaker != nil {
		if err != nil {
			c.breaker.OnError(err)
		} else {
			c.breaker.OnSuccess()
		}
	}
	return reply, err
}

func (c *Client) do(ctx context.Context, transcript string) (string, error) {
	body, err := json.Marshal(interpretRequest{Transcript: transcript})
	if err != nil {
		return "", failed(err, errorsx.ReasonInterpretationFailed)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+interpretPath, bytes.NewReader(body))
	if err != nil {
		return "", failed(err, errorsx.ReasonInterpretationFailed)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", failed(err, errorsx.ReasonInterpretTimeout)
		}
		return "", failed(err, errorsx.ReasonInterpretationFailed)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventRateLimit, Time: time.Now(), Tags: map[string]string{"target": "interpret"}})
		rl := resilience.RateLimitError{Provider: "interpret", Message: "interpret rate limited: " + strings.TrimSpace(string(b))}
		return "", errorsx.Wrap(fmt.Errorf("%w: %w", ErrInterpretationFailed, rl), errorsx.ReasonInterpretRateLimit)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", failed(fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(b))), errorsx.ReasonInterpretationFailed)
	}
	var out interpretResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", failed(fmt.Errorf("decode response: %w", err), errorsx.ReasonInterpretationFailed)
	}
	return out.AIResponse, nil
}

func failed(err error, reason errorsx.ReasonCode) error {
	return errorsx.Wrap(fmt.Errorf("%w: %w", ErrInterpretationFailed, err), reason)
}
