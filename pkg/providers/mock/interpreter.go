package mock

import (
	"context"
	"sync"
	"sync/atomic"
)

// Interpreter is an in-memory stand-in for the interpretation backend.
// Each call may be held open until Release is called.
type Interpreter struct {
	Reply func(transcript string) (string, error)
	// Hold makes every call block until Release or ctx cancellation.
	Hold bool

	mu        sync.Mutex
	calls     []string
	release   chan struct{}
	active    int32
	maxActive int32
}

func NewInterpreter(reply func(string) (string, error)) *Interpreter {
	if reply == nil {
		reply = func(t string) (string, error) { return "echo: " + t, nil }
	}
	return &Interpreter{Reply: reply, release: make(chan struct{}, 64)}
}

func (i *Interpreter) Interpret(ctx context.Context, transcript string) (string, error) {
	n := atomic.AddInt32(&i.active, 1)
	defer atomic.AddInt32(&i.active, -1)
	for {
		m := atomic.LoadInt32(&i.maxActive)
		if n <= m || atomic.CompareAndSwapInt32(&i.maxActive, m, n) {
			break
		}
	}
	i.mu.Lock()
	i.calls = append(i.calls, transcript)
	i.mu.Unlock()

	if i.Hold {
		select {
		case <-i.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return i.Reply(transcript)
}

// Release lets one held call complete.
func (i *Interpreter) Release() {
	i.release <- struct{}{}
}

func (i *Interpreter) Calls() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.calls...)
}

// MaxConcurrent reports the highest number of calls seen in flight at once.
func (i *Interpreter) MaxConcurrent() int {
	return int(atomic.LoadInt32(&i.maxActive))
}
