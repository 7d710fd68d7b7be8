package lessons

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/echovoice/pkg/errorsx"
	"github.com/harunnryd/echovoice/pkg/logging"
	"github.com/harunnryd/echovoice/pkg/metrics"
	"github.com/harunnryd/echovoice/pkg/resilience"
)

const lessonsPath = "/api/lessons"

// Record is one lesson as served by the backend.
type Record struct {
	ID          ID       `json:"id"`
	Level       string   `json:"level"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Topics      []string `json:"topics"`
}

// ID is a lesson identifier. The backend sends either numbers or strings;
// an ID remembers which and encodes back to the same kind.
type ID struct {
	Value   string
	Numeric bool
}

// StringID returns an ID that encodes as a JSON string.
func StringID(v string) ID { return ID{Value: v} }

// NumberID returns an ID that encodes as a JSON number. v must be a valid
// JSON number literal.
func NumberID(v string) ID { return ID{Value: v, Numeric: true} }

func (id ID) String() string { return id.Value }

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = StringID(s)
		return nil
	}
	if string(b) == "null" {
		*id = ID{}
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("lesson id: %w", err)
	}
	*id = NumberID(n.String())
	return nil
}

func (id ID) MarshalJSON() ([]byte, error) {
	if id.Numeric {
		return []byte(id.Value), nil
	}
	return json.Marshal(id.Value)
}

// Catalog fetches the lesson list once per process. A failed fetch leaves
// the catalog empty; the session keeps working without it.
type Catalog struct {
	HTTPClient *http.Client
	BaseURL    string

	retry resilience.RetryPolicy
	obs   metrics.Observer
	log   *slog.Logger

	once    sync.Once
	mu      sync.RWMutex
	records []Record
	loadErr error
}

func NewCatalog(baseURL string, timeout time.Duration, retry resilience.RetryPolicy, obs metrics.Observer, log *slog.Logger) *Catalog {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Catalog{
		HTTPClient: &http.Client{Timeout: timeout},
		BaseURL:    strings.TrimRight(baseURL, "/"),
		retry:      retry,
		obs:        metrics.OrNoop(obs),
		log:        logging.NewComponentLogger(log, "lessons"),
	}
}

// Load performs the one-time fetch. Later calls return the first result.
func (c *Catalog) Load(ctx context.Context) error {
	c.once.Do(func() {
		var records []Record
		err := c.retry.Do(ctx, func(ctx context.Context) error {
			var err error
			records, err = c.fetch(ctx)
			return err
		})
		c.mu.Lock()
		defer c.mu.Unlock()
		if err != nil {
			c.loadErr = errorsx.Wrap(err, errorsx.ReasonCatalogFetch)
			c.log.Warn("catalog_fetch_failed", "error", c.loadErr)
			return
		}
		c.records = records
		c.log.Info("catalog_loaded", "count", len(records))
		c.obs.RecordEvent(metrics.MetricsEvent{
			Name:  metrics.EventCatalogLoaded,
			Time:  time.Now(),
			Value: float64(len(records)),
		})
	})
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loadErr
}

// Lessons returns a copy of the loaded records; empty before or after a
// failed Load. Topics is never nil.
func (c *Catalog) Lessons() []Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Record, len(c.records))
	for i, r := range c.records {
		topics := make([]string, len(r.Topics))
		copy(topics, r.Topics)
		r.Topics = topics
		out[i] = r
	}
	return out
}

func (c *Catalog) fetch(ctx context.Context) ([]Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+lessonsPath, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("lessons: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var records []Record
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("lessons: decode: %w", err)
	}
	return records, nil
}
