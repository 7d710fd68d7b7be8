package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/harunnryd/echovoice/pkg/adapters/stt"
	"github.com/harunnryd/echovoice/pkg/frames"
)

var ErrNotStarted = errors.New("mock recognizer: not started")

type RecognizerConfig struct {
	StreamID string
	// Unavailable makes Available report false.
	Unavailable bool
	// StartErr is returned by Start when set.
	StartErr error
	// Script is emitted as final segments after Start, one every Interval.
	Script   []string
	Interval time.Duration
	// EndAfterScript ends the session once the script is exhausted.
	EndAfterScript bool
}

// Recognizer is a scriptable stt.Recognizer. Tests drive it with Push and End.
type Recognizer struct {
	cfg  RecognizerConfig
	pts  *frames.PTSGen
	mu   sync.Mutex
	out  chan frames.Frame
	done chan struct{}

	starts int
	stops  int
}

func NewRecognizer(cfg RecognizerConfig) *Recognizer {
	if cfg.StreamID == "" {
		cfg.StreamID = "mock"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 500 * time.Millisecond
	}
	return &Recognizer{cfg: cfg, pts: frames.NewPTSGen()}
}

func (r *Recognizer) Name() string    { return "mock_stt" }
func (r *Recognizer) Available() bool { return !r.cfg.Unavailable }

func (r *Recognizer) Start(ctx context.Context) error {
	if r.cfg.StartErr != nil {
		return r.cfg.StartErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts++
	r.out = make(chan frames.Frame, 64)
	r.done = make(chan struct{})
	if len(r.cfg.Script) > 0 {
		go r.playScript(ctx, r.done)
	}
	return nil
}

// Stop ends the current session, emitting an ended frame first.
func (r *Recognizer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	r.closeLocked("stopped")
	return nil
}

func (r *Recognizer) Results() <-chan frames.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.out
}

// Push emits one recognition segment on the current session.
func (r *Recognizer) Push(text string, final bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done == nil {
		return ErrNotStarted
	}
	r.out <- frames.NewTextFrame(r.cfg.StreamID, r.pts.Next(r.cfg.StreamID), text, final, map[string]string{frames.MetaSource: "stt"})
	return nil
}

// PushAt emits a segment with an explicit timestamp.
func (r *Recognizer) PushAt(pts int64, text string, final bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done == nil {
		return ErrNotStarted
	}
	r.out <- frames.NewTextFrame(r.cfg.StreamID, pts, text, final, map[string]string{frames.MetaSource: "stt"})
	return nil
}

// End simulates the engine stopping on its own.
func (r *Recognizer) End(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLocked(reason)
}

// Counts returns how many times Start and Stop were called.
func (r *Recognizer) Counts() (starts, stops int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts, r.stops
}

func (r *Recognizer) closeLocked(reason string) {
	if r.done == nil {
		return
	}
	select {
	case r.out <- frames.NewControlFrame(r.cfg.StreamID, r.pts.Next(r.cfg.StreamID), frames.ControlEnded, map[string]string{frames.MetaReason: reason}):
	default:
	}
	close(r.done)
	close(r.out)
	r.done = nil
}

func (r *Recognizer) playScript(ctx context.Context, done chan struct{}) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for _, line := range r.cfg.Script {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
		}
		r.mu.Lock()
		if r.done != done {
			r.mu.Unlock()
			return
		}
		select {
		case r.out <- frames.NewTextFrame(r.cfg.StreamID, r.pts.Next(r.cfg.StreamID), line, true, map[string]string{frames.MetaSource: "stt"}):
		default:
		}
		r.mu.Unlock()
	}
	if r.cfg.EndAfterScript {
		r.mu.Lock()
		if r.done == done {
			r.closeLocked("script_done")
		}
		r.mu.Unlock()
	}
}

var _ stt.Recognizer = (*Recognizer)(nil)
