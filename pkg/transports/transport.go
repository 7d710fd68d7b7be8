package transports

import "context"

// Transport is a presentation surface for a dialogue session: something that
// lets a user or client start and stop listening and read the session state.
// Implementations own their network lifecycle.
type Transport interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
}

// ReadyReporter allows transports to expose readiness metadata (e.g., listen
// addresses). Used for informational logging only.
type ReadyReporter interface {
	ReadyFields() map[string]any
}
