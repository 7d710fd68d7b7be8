package speech

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/harunnryd/echovoice/pkg/adapters/tts"
	"github.com/harunnryd/echovoice/pkg/errorsx"
	"github.com/harunnryd/echovoice/pkg/logging"
	"github.com/harunnryd/echovoice/pkg/redact"
)

// Player plays one utterance at a time: every Speak cancels whatever is
// playing before starting.
type Player struct {
	mu    sync.Mutex
	synth tts.Synthesizer
	log   *slog.Logger
}

func NewPlayer(synth tts.Synthesizer, log *slog.Logger) *Player {
	return &Player{synth: synth, log: logging.NewComponentLogger(log, "speech_output")}
}

// Speak replaces current playback with text. Empty text is a no-op. Device
// failures are logged and returned with reason playback_failed; callers are
// free to ignore them.
func (p *Player) Speak(text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.synth == nil || !p.synth.Available() {
		err := errorsx.Newf(errorsx.ReasonPlaybackFailed, "speech synthesis unavailable")
		p.log.Warn("playback_failed", "error", err)
		return err
	}
	if err := p.synth.Cancel(); err != nil {
		// Cancel is best effort; the new utterance still plays.
		p.log.Debug("playback_cancel_failed", "provider", p.synth.Name(), "error", err)
	}
	if err := p.synth.Speak(text); err != nil {
		err = errorsx.Wrap(err, errorsx.ReasonPlaybackFailed)
		p.log.Warn("playback_failed", "provider", p.synth.Name(), "error", err)
		return err
	}
	p.log.Debug("playback_started", "provider", p.synth.Name(), "text", redact.Text(text))
	return nil
}

// Cancel stops current playback, if any.
func (p *Player) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.synth == nil {
		return
	}
	if err := p.synth.Cancel(); err != nil {
		p.log.Debug("playback_cancel_failed", "provider", p.synth.Name(), "error", err)
	}
}
