package dialogue

import (
	"context"
	"errors"

	"github.com/harunnryd/echovoice/pkg/speech"
)

// ErrCapabilityUnavailable is returned by Start when speech recognition is
// not available on this host.
var ErrCapabilityUnavailable = errors.New("speech recognition unavailable")

// SpeechInput is the recognizer side of a session.
type SpeechInput interface {
	Supported() bool
	Start(ctx context.Context) error
	Stop()
	SetCallbacks(onSnapshot func(speech.Snapshot), onEnded func())
}

// SpeechOutput plays replies. A returned error is informational only.
type SpeechOutput interface {
	Speak(text string) error
}

// Interpreter turns an utterance into a reply.
type Interpreter interface {
	Interpret(ctx context.Context, transcript string) (string, error)
}

// Utterance is the text captured at dispatch time.
type Utterance struct {
	Text string
}

type TurnStatus string

const (
	TurnPending TurnStatus = "pending"
	TurnReplied TurnStatus = "replied"
	TurnFailed  TurnStatus = "failed"
)

// Turn is one utterance and its outcome.
type Turn struct {
	ID        string
	Utterance Utterance
	Status    TurnStatus
	Reply     string
	Err       error
}

// SessionState is what a presentation layer renders.
type SessionState struct {
	SessionID  string `json:"session_id,omitempty"`
	Supported  bool   `json:"supported"`
	Listening  bool   `json:"listening"`
	State      string `json:"state"`
	Transcript string `json:"transcript"`
	LastReply  string `json:"last_reply"`
	Pending    bool   `json:"pending"`
}
