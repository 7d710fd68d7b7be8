package mock

import (
	"errors"
	"fmt"
	"sync"

	"github.com/harunnryd/echovoice/pkg/adapters/tts"
)

var ErrOverlap = errors.New("mock synthesizer: overlapping playback")

type SynthesizerConfig struct {
	Unavailable bool
	SpeakErr    error
	CancelErr   error
}

// Synthesizer records every call in order and tracks active utterances.
// Speaking while another utterance is active is recorded as an overlap.
type Synthesizer struct {
	cfg      SynthesizerConfig
	mu       sync.Mutex
	calls    []string
	active   int
	overlaps int
	spoken   []string
}

func NewSynthesizer(cfg SynthesizerConfig) *Synthesizer {
	return &Synthesizer{cfg: cfg}
}

func (s *Synthesizer) Name() string    { return "mock_tts" }
func (s *Synthesizer) Available() bool { return !s.cfg.Unavailable }

func (s *Synthesizer) Speak(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "start:"+text)
	if s.cfg.SpeakErr != nil {
		return s.cfg.SpeakErr
	}
	if s.active > 0 {
		s.overlaps++
	}
	s.active++
	s.spoken = append(s.spoken, text)
	return nil
}

func (s *Synthesizer) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "cancel")
	s.active = 0
	return s.cfg.CancelErr
}

// Finish marks the current utterance as played to completion.
func (s *Synthesizer) Finish() {
	s.mu.Lock()
	if s.active > 0 {
		s.active--
	}
	s.mu.Unlock()
}

func (s *Synthesizer) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *Synthesizer) Spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.spoken...)
}

// Check returns ErrOverlap if two utterances were ever active at once.
func (s *Synthesizer) Check() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.overlaps > 0 {
		return fmt.Errorf("%w (%d times)", ErrOverlap, s.overlaps)
	}
	return nil
}

var _ tts.Synthesizer = (*Synthesizer)(nil)
