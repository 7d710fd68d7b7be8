package stt

import (
	"context"

	"github.com/harunnryd/echovoice/pkg/frames"
)

// Recognizer defines the contract for any continuous speech-recognition engine.
//
// A recognizer runs one session at a time. Start opens a session and Results
// returns that session's channel of text and control frames. The channel is
// closed when the session ends; implementations emit a frames.ControlEnded
// frame first when they can.
type Recognizer interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Available reports whether the capability exists on this host.
	Available() bool
	// Start opens a new recognition session.
	Start(ctx context.Context) error
	// Stop closes the current session. Stopping an idle recognizer is a no-op.
	Stop() error
	// Results returns the frame channel of the current session.
	Results() <-chan frames.Frame
}

// Config contains vendor-agnostic recognition configuration.
type Config struct {
	StreamID   string
	Language   string
	SampleRate int
}
