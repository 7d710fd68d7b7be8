package observers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/echovoice/pkg/metrics"
)

// LatencyObserver logs per-turn timings: dispatch to reply, and dispatch to
// the start of spoken playback.
type LatencyObserver struct {
	mu    sync.Mutex
	turns map[string]*turnTrace
	log   *slog.Logger
}

type turnTrace struct {
	sessionID  string
	dispatched time.Time
	settled    time.Time
	failed     bool
}

func NewLatencyObserver(log *slog.Logger) *LatencyObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LatencyObserver{
		turns: make(map[string]*turnTrace),
		log:   log,
	}
}

func (o *LatencyObserver) RecordEvent(ev metrics.MetricsEvent) {
	turnID := ""
	if ev.Tags != nil {
		turnID = ev.Tags["turn_id"]
	}
	if turnID == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	t := o.turns[turnID]
	if t == nil {
		t = &turnTrace{sessionID: ev.Tags["session_id"]}
		o.turns[turnID] = t
	}
	switch ev.Name {
	case metrics.EventUtteranceDispatched:
		t.dispatched = ev.Time
	case metrics.EventInterpretDone:
		t.settled = ev.Time
	case metrics.EventInterpretFailed:
		t.settled = ev.Time
		t.failed = true
		o.logLocked(turnID, t, time.Time{})
		delete(o.turns, turnID)
	case metrics.EventPlaybackStarted, metrics.EventPlaybackFailed:
		o.logLocked(turnID, t, ev.Time)
		delete(o.turns, turnID)
	}
}

// Pending reports how many turns are still being tracked.
func (o *LatencyObserver) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.turns)
}

func (o *LatencyObserver) logLocked(turnID string, t *turnTrace, playback time.Time) {
	o.log.Info("turn_latency",
		"session_id", t.sessionID,
		"turn_id", turnID,
		"failed", t.failed,
		"interpret_ms", durationMs(t.dispatched, t.settled),
		"time_to_speech_ms", durationMs(t.dispatched, playback),
	)
}

func durationMs(a, b time.Time) int64 {
	if a.IsZero() || b.IsZero() {
		return -1
	}
	return b.Sub(a).Milliseconds()
}
