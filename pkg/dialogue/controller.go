package dialogue

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harunnryd/echovoice/pkg/errorsx"
	"github.com/harunnryd/echovoice/pkg/logging"
	"github.com/harunnryd/echovoice/pkg/metrics"
	"github.com/harunnryd/echovoice/pkg/redact"
	"github.com/harunnryd/echovoice/pkg/speech"
	"github.com/harunnryd/echovoice/pkg/turn"
)

const DefaultInterpretTimeout = 15 * time.Second

type Config struct {
	// InterpretTimeout bounds each interpretation call. A call that runs
	// past it settles as failed.
	InterpretTimeout time.Duration
	Observer         metrics.Observer
	Logger           *slog.Logger
}

// Controller owns one dialogue session: it listens, decides when an
// utterance is complete, keeps at most one interpretation in flight and
// speaks the replies.
type Controller struct {
	input     SpeechInput
	output    SpeechOutput
	interp    Interpreter
	supported bool
	timeout   time.Duration
	obs       metrics.Observer
	log       *slog.Logger
	fsm       *turn.Machine

	// opMu serializes Start and Stop, which call into the input stream
	// without holding mu.
	opMu sync.Mutex

	mu             sync.Mutex
	sessionID      string
	listening      bool
	transcript     string
	lastReply      string
	lastSnapshotAt time.Time
	segmenter      turn.Segmenter
	inFlight       *Turn
	lastTurn       *Turn
	// replySeq counts applied replies. A reply is spoken only while it is
	// still the latest one.
	replySeq uint64

	// speakMu orders the staleness check and Speak across turns.
	speakMu sync.Mutex

	subMu   sync.Mutex
	subs    map[int]func(SessionState)
	nextSub int

	notifyMu   sync.Mutex
	dirty      bool
	delivering bool

	wg sync.WaitGroup
}

func NewController(input SpeechInput, output SpeechOutput, interp Interpreter, cfg Config) *Controller {
	if cfg.InterpretTimeout <= 0 {
		cfg.InterpretTimeout = DefaultInterpretTimeout
	}
	c := &Controller{
		input:     input,
		output:    output,
		interp:    interp,
		supported: input != nil && input.Supported(),
		timeout:   cfg.InterpretTimeout,
		obs:       metrics.OrNoop(cfg.Observer),
		log:       logging.NewComponentLogger(cfg.Logger, "dialogue"),
		fsm:       turn.NewMachine(),
		subs:      make(map[int]func(SessionState)),
	}
	c.fsm.AddListener(turn.StateListenerFunc(c.onStateChange))
	if input != nil {
		input.SetCallbacks(c.onSnapshot, c.onEnded)
	}
	return c
}

// Start opens a listening session with an empty transcript. It is ignored
// while already listening. Recognizer failures leave the session idle and
// are not returned.
func (c *Controller) Start(ctx context.Context) error {
	if !c.supported {
		c.log.Warn("capability_unavailable")
		return errorsx.Wrap(ErrCapabilityUnavailable, errorsx.ReasonCapabilityUnavailable)
	}
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.listening {
		c.mu.Unlock()
		return nil
	}
	c.listening = true
	c.transcript = ""
	c.lastSnapshotAt = time.Time{}
	c.segmenter.Reset()
	c.sessionID = uuid.NewString()
	sessionID := c.sessionID
	c.transitionLocked(c.restingStateLocked(), "start")
	c.mu.Unlock()

	c.record(metrics.EventSessionStarted, sessionID, "", nil)
	c.log.Info("session_started", "session_id", sessionID)

	if err := c.input.Start(ctx); err != nil {
		c.log.Warn("listening_failed", "session_id", sessionID, "error", err)
		c.mu.Lock()
		c.listening = false
		c.transitionLocked(c.restingStateLocked(), "input_failed")
		c.mu.Unlock()
	}
	c.notify()
	return nil
}

// Stop closes the input. A request in flight keeps running and its reply
// is still applied and spoken.
func (c *Controller) Stop() {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if !c.listening {
		c.mu.Unlock()
		return
	}
	c.listening = false
	sessionID := c.sessionID
	c.transitionLocked(turn.StateIdle, "stop")
	c.mu.Unlock()

	c.input.Stop()
	c.record(metrics.EventSessionStopped, sessionID, "", nil)
	c.log.Info("session_stopped", "session_id", sessionID)
	c.notify()
}

// SendNow dispatches the current transcript without waiting for the
// segmenter. It reports false, and does nothing else, when the transcript
// is empty or a request is already in flight.
func (c *Controller) SendNow() bool {
	c.mu.Lock()
	text := strings.TrimSpace(c.transcript)
	if text == "" || c.inFlight != nil {
		reason := "empty_transcript"
		if c.inFlight != nil {
			reason = "in_flight"
		}
		sessionID := c.sessionID
		c.mu.Unlock()
		c.record(metrics.EventDispatchIgnored, sessionID, "", map[string]any{"reason": reason, "trigger": "send_now"})
		return false
	}
	c.dispatchLocked(text, "send_now")
	c.mu.Unlock()
	c.notify()
	return true
}

// State returns a snapshot of the session.
func (c *Controller) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// LastTurn returns the most recently settled turn.
func (c *Controller) LastTurn() (Turn, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastTurn == nil {
		return Turn{}, false
	}
	return *c.lastTurn, true
}

// Subscribe registers fn to receive the session state after changes. The
// returned func removes it.
//
// Delivery happens on a separate goroutine, one call at a time, and
// coalesces bursts: fn may skip intermediate states but always sees the
// latest one. fn may call back into the controller.
func (c *Controller) Subscribe(fn func(SessionState)) func() {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subMu.Unlock()
	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

// Drain waits for an in-flight request to settle or ctx to end.
func (c *Controller) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) onSnapshot(snap speech.Snapshot) {
	c.mu.Lock()
	if !c.listening {
		c.mu.Unlock()
		return
	}
	if !snap.Timestamp.IsZero() {
		if !c.lastSnapshotAt.IsZero() && !snap.Timestamp.After(c.lastSnapshotAt) {
			c.mu.Unlock()
			c.log.Debug("stale_snapshot_dropped", "at", snap.Timestamp)
			return
		}
		c.lastSnapshotAt = snap.Timestamp
	}
	c.transcript = snap.Text
	sessionID := c.sessionID
	ready := c.segmenter.Ready(snap.Text)
	suppressed := ready && c.inFlight != nil
	if ready && !suppressed {
		c.dispatchLocked(strings.TrimSpace(snap.Text), "segmenter")
	}
	c.mu.Unlock()

	c.record(metrics.EventSnapshot, sessionID, "", map[string]any{"final": snap.IsFinal, "chars": len(snap.Text)})
	if suppressed {
		c.record(metrics.EventDispatchIgnored, sessionID, "", map[string]any{"reason": "in_flight", "trigger": "segmenter"})
	}
	c.notify()
}

func (c *Controller) onEnded() {
	c.mu.Lock()
	if !c.listening {
		c.mu.Unlock()
		return
	}
	c.listening = false
	sessionID := c.sessionID
	c.transitionLocked(turn.StateIdle, "input_ended")
	c.mu.Unlock()

	c.record(metrics.EventSessionStopped, sessionID, "", map[string]any{"reason": "input_ended"})
	c.log.Info("listening_ended", "session_id", sessionID)
	c.notify()
}

// dispatchLocked fills the in-flight slot and starts the request. The text
// is captured here; later snapshots do not affect it.
func (c *Controller) dispatchLocked(text, trigger string) {
	t := &Turn{
		ID:        uuid.NewString(),
		Utterance: Utterance{Text: text},
		Status:    TurnPending,
	}
	c.inFlight = t
	sessionID := c.sessionID
	c.transitionLocked(turn.StateAwaiting, trigger)
	c.record(metrics.EventUtteranceDispatched, sessionID, t.ID, map[string]any{"trigger": trigger, "text": text})
	c.log.Info("utterance_dispatched", "session_id", sessionID, "turn_id", t.ID, "trigger", trigger, "text", redact.Text(text))

	c.wg.Add(1)
	go c.run(t, sessionID)
}

func (c *Controller) run(t *Turn, sessionID string) {
	defer c.wg.Done()

	started := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	reply, err := c.interp.Interpret(ctx, t.Utterance.Text)
	cancel()
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		err = errorsx.Wrap(err, errorsx.ReasonInterpretTimeout)
	}
	elapsed := time.Since(started)

	var seq uint64
	c.mu.Lock()
	if c.inFlight == t {
		c.inFlight = nil
	}
	if err != nil {
		t.Status = TurnFailed
		t.Err = err
	} else {
		t.Status = TurnReplied
		t.Reply = reply
		c.lastReply = reply
		c.replySeq++
		seq = c.replySeq
	}
	settled := *t
	c.lastTurn = &settled
	c.transitionLocked(c.restingStateLocked(), string(t.Status))
	c.mu.Unlock()

	if err != nil {
		c.record(metrics.EventInterpretFailed, sessionID, t.ID, map[string]any{"reason": string(errorsx.Reason(err)), "ms": elapsed.Milliseconds()})
		c.log.Warn("interpret_failed", "session_id", sessionID, "turn_id", t.ID, "reason", errorsx.Reason(err), "error", err)
		c.notify()
		return
	}
	c.record(metrics.EventInterpretDone, sessionID, t.ID, map[string]any{"ms": elapsed.Milliseconds(), "reply": reply})
	c.log.Info("interpret_done", "session_id", sessionID, "turn_id", t.ID, "ms", elapsed.Milliseconds())
	c.notify()

	if strings.TrimSpace(reply) == "" || c.output == nil {
		return
	}
	c.speak(t.ID, sessionID, reply, seq)
}

// speak plays reply unless a newer reply was applied since it settled.
func (c *Controller) speak(turnID, sessionID, reply string, seq uint64) {
	c.speakMu.Lock()
	defer c.speakMu.Unlock()

	c.mu.Lock()
	stale := seq != c.replySeq
	c.mu.Unlock()
	if stale {
		c.record(metrics.EventPlaybackCancelled, sessionID, turnID, map[string]any{"reason": "superseded"})
		c.log.Debug("playback_superseded", "session_id", sessionID, "turn_id", turnID)
		return
	}
	if err := c.output.Speak(reply); err != nil {
		c.record(metrics.EventPlaybackFailed, sessionID, turnID, map[string]any{"reason": string(errorsx.Reason(err))})
		return
	}
	c.record(metrics.EventPlaybackStarted, sessionID, turnID, map[string]any{"chars": len(reply)})
}

// restingStateLocked is where the session goes when nothing is in flight.
func (c *Controller) restingStateLocked() turn.State {
	if c.inFlight != nil {
		return turn.StateAwaiting
	}
	if c.listening {
		return turn.StateListening
	}
	return turn.StateIdle
}

func (c *Controller) transitionLocked(to turn.State, reason string) {
	if err := c.fsm.Transition(to, reason); err != nil {
		c.log.Error("state_transition_failed", "error", err)
	}
}

func (c *Controller) stateLocked() SessionState {
	return SessionState{
		SessionID:  c.sessionID,
		Supported:  c.supported,
		Listening:  c.listening,
		State:      c.fsm.State().String(),
		Transcript: c.transcript,
		LastReply:  c.lastReply,
		Pending:    c.inFlight != nil,
	}
}

// onStateChange runs inside transitionLocked, so mu is held.
func (c *Controller) onStateChange(ev turn.StateChange) {
	c.obs.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventStateChange,
		Time: ev.Timestamp,
		Tags: map[string]string{
			"session_id": c.sessionID,
			"from":       ev.FromState.String(),
			"to":         ev.ToState.String(),
		},
		Fields: map[string]any{"reason": ev.Reason},
	})
}

// notify marks the state dirty and makes sure a delivery goroutine is
// running. It never calls subscribers itself, so it is safe under the
// input stream's callback lock.
func (c *Controller) notify() {
	c.notifyMu.Lock()
	c.dirty = true
	if c.delivering {
		c.notifyMu.Unlock()
		return
	}
	c.delivering = true
	c.notifyMu.Unlock()
	go c.deliver()
}

// deliver pushes state to subscribers until no change is pending. Each
// round reads state fresh, so the last delivery reflects the latest change.
func (c *Controller) deliver() {
	for {
		c.notifyMu.Lock()
		if !c.dirty {
			c.delivering = false
			c.notifyMu.Unlock()
			return
		}
		c.dirty = false
		c.notifyMu.Unlock()

		c.subMu.Lock()
		subs := make([]func(SessionState), 0, len(c.subs))
		for _, fn := range c.subs {
			subs = append(subs, fn)
		}
		c.subMu.Unlock()
		if len(subs) == 0 {
			continue
		}

		state := c.State()
		for _, fn := range subs {
			fn(state)
		}
	}
}

func (c *Controller) record(name, sessionID, turnID string, fields map[string]any) {
	tags := map[string]string{}
	if sessionID != "" {
		tags["session_id"] = sessionID
	}
	if turnID != "" {
		tags["turn_id"] = turnID
	}
	c.obs.RecordEvent(metrics.MetricsEvent{Name: name, Time: time.Now(), Tags: tags, Fields: fields})
}
