package observers

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/echovoice/pkg/metrics"
)

// SessionSummary aggregates per-session turn outcomes.
type SessionSummary struct {
	SessionID      string `json:"session_id"`
	Dispatched     int    `json:"dispatched"`
	Replied        int    `json:"replied"`
	Failed         int    `json:"failed"`
	SpokenChars    int    `json:"spoken_chars"`
	PlaybackErrors int    `json:"playback_errors"`
	RecordedAtUTC  string `json:"recorded_at_utc"`
}

// SummaryObserver counts turns per session and writes one
// <session>.summary.json per session on Close.
type SummaryObserver struct {
	dir   string
	mu    sync.Mutex
	stats map[string]*SessionSummary
}

func NewSummaryObserver(dir string) *SummaryObserver {
	return &SummaryObserver{dir: dir, stats: make(map[string]*SessionSummary)}
}

func (o *SummaryObserver) RecordEvent(ev metrics.MetricsEvent) {
	id := ""
	if ev.Tags != nil {
		id = ev.Tags["session_id"]
	}
	if id == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	stat := o.stats[id]
	if stat == nil {
		stat = &SessionSummary{SessionID: id}
		o.stats[id] = stat
	}
	switch ev.Name {
	case metrics.EventUtteranceDispatched:
		stat.Dispatched++
	case metrics.EventInterpretDone:
		stat.Replied++
	case metrics.EventInterpretFailed:
		stat.Failed++
	case metrics.EventPlaybackStarted:
		stat.SpokenChars += intField(ev.Fields, "chars")
	case metrics.EventPlaybackFailed:
		stat.PlaybackErrors++
	}
}

// Snapshot returns a copy of the summary for sessionID.
func (o *SummaryObserver) Snapshot(sessionID string) (SessionSummary, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	stat, ok := o.stats[sessionID]
	if !ok {
		return SessionSummary{}, false
	}
	return *stat, true
}

func (o *SummaryObserver) Close() error {
	if strings.TrimSpace(o.dir) == "" {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := os.MkdirAll(o.dir, 0o755); err != nil {
		return err
	}
	var errOut error
	for id, stat := range o.stats {
		stat.RecordedAtUTC = time.Now().UTC().Format(time.RFC3339)
		b, err := json.MarshalIndent(stat, "", "  ")
		if err != nil {
			errOut = errors.Join(errOut, err)
			continue
		}
		path := filepath.Join(o.dir, sanitizeID(id)+".summary.json")
		if err := os.WriteFile(path, b, 0o644); err != nil {
			errOut = errors.Join(errOut, err)
		}
	}
	return errOut
}

func intField(fields map[string]any, key string) int {
	if fields == nil {
		return 0
	}
	switch v := fields[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

var _ metrics.Observer = (*SummaryObserver)(nil)
