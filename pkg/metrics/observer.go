package metrics

import "time"

// Event names emitted by the dialogue stack.
const (
	EventSessionStarted      = "session_started"
	EventSessionStopped      = "session_stopped"
	EventSnapshot            = "transcript_snapshot"
	EventStateChange         = "state_change"
	EventUtteranceDispatched = "utterance_dispatched"
	EventDispatchIgnored     = "dispatch_ignored"
	EventInterpretDone       = "interpret_done"
	EventInterpretFailed     = "interpret_failed"
	EventPlaybackStarted     = "playback_started"
	EventPlaybackCancelled   = "playback_cancelled"
	EventPlaybackFailed      = "playback_failed"
	EventCatalogLoaded       = "catalog_loaded"
	EventRateLimit           = "rate_limit"
	EventBreakerDenied       = "breaker_denied"
	EventBreakerOpen         = "breaker_open"
	EventBreakerClose        = "breaker_close"
)

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type Flusher interface {
	Flush() error
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}

// OrNoop returns obs, or a NoopObserver when obs is nil.
func OrNoop(obs Observer) Observer {
	if obs == nil {
		return NoopObserver{}
	}
	return obs
}
