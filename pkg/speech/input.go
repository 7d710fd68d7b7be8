package speech

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/echovoice/pkg/adapters/stt"
	"github.com/harunnryd/echovoice/pkg/errorsx"
	"github.com/harunnryd/echovoice/pkg/frames"
	"github.com/harunnryd/echovoice/pkg/logging"
	"github.com/harunnryd/echovoice/pkg/redact"
)

// Snapshot is the recognizer's best guess at everything said since the
// current listening session started.
type Snapshot struct {
	Text      string
	IsFinal   bool
	Timestamp time.Time
}

// InputStream turns a recognizer's segment frames into cumulative snapshots.
// Recognizer errors never escape a session: the stream just stops listening.
type InputStream struct {
	rec       stt.Recognizer
	supported bool
	log       *slog.Logger

	mu        sync.Mutex
	listening bool
	gen       uint64
	committed []string
	interim   string
	lastPTS   int64
	cancel    context.CancelFunc

	// emitMu serializes callbacks with Stop so no snapshot of a stopped
	// session is delivered after Stop returns.
	emitMu     sync.Mutex
	onSnapshot func(Snapshot)
	onEnded    func()
}

// NewInputStream wraps rec. Availability is probed once, here.
func NewInputStream(rec stt.Recognizer, log *slog.Logger) *InputStream {
	s := &InputStream{
		rec: rec,
		log: logging.NewComponentLogger(log, "speech_input"),
	}
	s.supported = rec != nil && rec.Available()
	return s
}

// SetCallbacks registers the snapshot and ended handlers. Either may be nil.
func (s *InputStream) SetCallbacks(onSnapshot func(Snapshot), onEnded func()) {
	s.emitMu.Lock()
	s.onSnapshot = onSnapshot
	s.onEnded = onEnded
	s.emitMu.Unlock()
}

func (s *InputStream) Supported() bool { return s.supported }

func (s *InputStream) Listening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listening
}

// Start opens a new listening session beginning from an empty transcript.
// It is a no-op when unsupported or already listening.
func (s *InputStream) Start(ctx context.Context) error {
	if !s.supported {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.listening {
		s.mu.Unlock()
		return nil
	}
	s.listening = true
	s.gen++
	gen := s.gen
	s.committed = nil
	s.interim = ""
	s.lastPTS = 0
	sessCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	if err := s.rec.Start(sessCtx); err != nil {
		cancel()
		s.mu.Lock()
		if s.gen == gen {
			s.listening = false
			s.cancel = nil
		}
		s.mu.Unlock()
		s.log.Warn("stt_start_failed", "provider", s.rec.Name(), "error", err)
		return errorsx.Wrap(err, errorsx.ReasonSTTStart)
	}
	results := s.rec.Results()

	s.mu.Lock()
	if s.gen != gen {
		// Stopped while the recognizer was starting.
		s.mu.Unlock()
		cancel()
		_ = s.rec.Stop()
		return nil
	}
	s.mu.Unlock()

	s.log.Debug("listening_started", "provider", s.rec.Name())
	go s.pump(gen, results)
	return nil
}

// Stop closes the current session. Errors from the recognizer are logged and
// dropped. The ended callback fires if a session was open.
func (s *InputStream) Stop() {
	s.emitMu.Lock()
	s.mu.Lock()
	wasListening := s.listening
	s.listening = false
	s.gen++
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	onEnded := s.onEnded
	s.emitMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if s.rec != nil {
		if err := s.rec.Stop(); err != nil {
			s.log.Warn("stt_stop_failed", "provider", s.rec.Name(), "error", errorsx.Wrap(err, errorsx.ReasonSTTStop))
		}
	}
	if wasListening && onEnded != nil {
		onEnded()
	}
}

func (s *InputStream) pump(gen uint64, results <-chan frames.Frame) {
	for f := range results {
		switch v := f.(type) {
		case frames.TextFrame:
			s.applyText(gen, v)
		case frames.ControlFrame:
			if v.Code() == frames.ControlEnded {
				s.log.Debug("stt_session_ended", "reason", v.Meta()[frames.MetaReason])
				s.end(gen)
				return
			}
		}
	}
	s.end(gen)
}

func (s *InputStream) applyText(gen uint64, f frames.TextFrame) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if s.gen != gen || !s.listening {
		s.mu.Unlock()
		return
	}
	if f.PTS() <= s.lastPTS {
		s.mu.Unlock()
		s.log.Debug("stale_segment_dropped", "pts", f.PTS())
		return
	}
	s.lastPTS = f.PTS()
	seg := strings.TrimSpace(f.Text())
	if f.IsFinal() {
		if seg != "" {
			s.committed = append(s.committed, seg)
		}
		s.interim = ""
	} else {
		s.interim = seg
	}
	parts := s.committed
	if s.interim != "" {
		parts = append(append([]string(nil), s.committed...), s.interim)
	}
	snap := Snapshot{
		Text:      strings.TrimSpace(strings.Join(parts, " ")),
		IsFinal:   f.IsFinal(),
		Timestamp: time.Unix(0, f.PTS()),
	}
	s.mu.Unlock()

	s.log.Debug("transcript_snapshot", "text", redact.Text(snap.Text), "final", snap.IsFinal)
	if s.onSnapshot != nil {
		s.onSnapshot(snap)
	}
}

func (s *InputStream) end(gen uint64) {
	s.emitMu.Lock()
	s.mu.Lock()
	if s.gen != gen || !s.listening {
		s.mu.Unlock()
		s.emitMu.Unlock()
		return
	}
	s.listening = false
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	onEnded := s.onEnded
	s.emitMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if onEnded != nil {
		onEnded()
	}
}
