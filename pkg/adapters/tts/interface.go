package tts

// Synthesizer defines the contract for any speech-synthesis device.
// Speak starts playback and returns without waiting for it to finish.
type Synthesizer interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Available reports whether the capability exists on this host.
	Available() bool
	// Speak begins playback of text.
	Speak(text string) error
	// Cancel stops any playback in progress. It is a no-op when idle.
	Cancel() error
}

// Config contains vendor-agnostic synthesis configuration.
type Config struct {
	StreamID   string
	Voice      string
	SampleRate int
	Rate       float64
	Pitch      float64
}
