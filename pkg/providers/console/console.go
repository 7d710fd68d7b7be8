// Package console provides terminal speech providers: typed lines stand in
// for recognized speech and replies are printed instead of spoken.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/harunnryd/echovoice/pkg/adapters/stt"
	"github.com/harunnryd/echovoice/pkg/adapters/tts"
	"github.com/harunnryd/echovoice/pkg/frames"
)

// Recognizer reads lines from an io.Reader. Each line is one final segment.
// End of input ends the session and every later one.
type Recognizer struct {
	streamID string
	pts      *frames.PTSGen
	lines    chan string
	eof      chan struct{}

	readOnce sync.Once
	in       io.Reader

	mu  sync.Mutex
	out chan frames.Frame
	gen uint64
}

func NewRecognizer(in io.Reader) *Recognizer {
	return &Recognizer{
		streamID: "console",
		pts:      frames.NewPTSGen(),
		lines:    make(chan string),
		eof:      make(chan struct{}),
		in:       in,
	}
}

func (r *Recognizer) Name() string    { return "console_stt" }
func (r *Recognizer) Available() bool { return r.in != nil }

func (r *Recognizer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	// One reader goroutine for the life of the process; sessions take turns
	// consuming its lines.
	r.readOnce.Do(func() { go r.read() })

	r.mu.Lock()
	r.closeLocked("replaced")
	r.gen++
	gen := r.gen
	out := make(chan frames.Frame, 16)
	r.out = out
	r.mu.Unlock()

	go r.session(ctx, gen, out)
	return nil
}

func (r *Recognizer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLocked("stopped")
	return nil
}

func (r *Recognizer) Results() <-chan frames.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.out
}

func (r *Recognizer) read() {
	defer close(r.eof)
	sc := bufio.NewScanner(r.in)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		r.lines <- line
	}
}

func (r *Recognizer) session(ctx context.Context, gen uint64, out chan frames.Frame) {
	for {
		select {
		case <-ctx.Done():
			r.end(gen, "cancelled")
			return
		case <-r.eof:
			r.end(gen, "eof")
			return
		case line := <-r.lines:
			r.mu.Lock()
			if r.gen != gen || r.out != out {
				r.mu.Unlock()
				// Not ours any more; hand the line to whoever listens next.
				go func() {
					select {
					case r.lines <- line:
					case <-r.eof:
					}
				}()
				return
			}
			out <- frames.NewTextFrame(r.streamID, r.pts.Next(r.streamID), line, true, map[string]string{frames.MetaSource: "console"})
			r.mu.Unlock()
		}
	}
}

func (r *Recognizer) end(gen uint64, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen == gen {
		r.closeLocked(reason)
	}
}

func (r *Recognizer) closeLocked(reason string) {
	if r.out == nil {
		return
	}
	select {
	case r.out <- frames.NewControlFrame(r.streamID, r.pts.Next(r.streamID), frames.ControlEnded, map[string]string{frames.MetaReason: reason}):
	default:
	}
	close(r.out)
	r.out = nil
	r.gen++
}

// Synthesizer prints replies to an io.Writer.
type Synthesizer struct {
	mu     sync.Mutex
	w      io.Writer
	prefix string
}

func NewSynthesizer(w io.Writer, prefix string) *Synthesizer {
	if prefix == "" {
		prefix = "echo> "
	}
	return &Synthesizer{w: w, prefix: prefix}
}

func (s *Synthesizer) Name() string    { return "console_tts" }
func (s *Synthesizer) Available() bool { return s.w != nil }

func (s *Synthesizer) Speak(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintln(s.w, s.prefix+text)
	return err
}

// Cancel is a no-op: printed text cannot be taken back.
func (s *Synthesizer) Cancel() error { return nil }

var (
	_ stt.Recognizer  = (*Recognizer)(nil)
	_ tts.Synthesizer = (*Synthesizer)(nil)
)
