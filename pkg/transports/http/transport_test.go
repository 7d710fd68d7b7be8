package httptransport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harunnryd/echovoice/pkg/dialogue"
	"github.com/harunnryd/echovoice/pkg/errorsx"
	"github.com/harunnryd/echovoice/pkg/lessons"
)

type fakeSession struct {
	mu        sync.Mutex
	state     dialogue.SessionState
	startErr  error
	starts    int
	stops     int
	startCtx  context.Context
	listeners map[int]func(dialogue.SessionState)
	nextID    int
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		state:     dialogue.SessionState{Supported: true, State: "IDLE"},
		listeners: make(map[int]func(dialogue.SessionState)),
	}
}

func (f *fakeSession) Start(ctx context.Context) error {
	f.mu.Lock()
	f.starts++
	f.startCtx = ctx
	if f.startErr != nil {
		f.mu.Unlock()
		return f.startErr
	}
	f.state.Listening = true
	f.state.State = "LISTENING"
	st := f.state
	fns := f.snapshotListeners()
	f.mu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
	return nil
}

func (f *fakeSession) Stop() {
	f.mu.Lock()
	f.stops++
	f.state.Listening = false
	f.state.State = "IDLE"
	f.mu.Unlock()
}

func (f *fakeSession) SendNow() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.Transcript != ""
}

func (f *fakeSession) State() dialogue.SessionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSession) Subscribe(fn func(dialogue.SessionState)) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

func (f *fakeSession) counts() (starts, stops int, ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops, f.startCtx
}

func (f *fakeSession) snapshotListeners() []func(dialogue.SessionState) {
	out := make([]func(dialogue.SessionState), 0, len(f.listeners))
	for _, fn := range f.listeners {
		out = append(out, fn)
	}
	return out
}

type fakeCatalog []lessons.Record

func (c fakeCatalog) Lessons() []lessons.Record { return c }

func TestSessionEndpoints(t *testing.T) {
	sess := newFakeSession()
	tr := New(Config{}, sess, nil, nil)
	srv := httptest.NewServer(tr.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/session/start", "application/json", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	var st dialogue.SessionState
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !st.Listening || st.State != "LISTENING" {
		t.Fatalf("unexpected start response %d %#v", resp.StatusCode, st)
	}
	if _, _, ctx := sess.counts(); ctx == nil || ctx.Err() != nil {
		t.Fatalf("expected session to start with a live context")
	}

	resp, err = http.Post(srv.URL+"/session/send", "application/json", nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	var sent sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&sent); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if sent.Dispatched {
		t.Fatalf("expected empty transcript not to dispatch")
	}

	resp, err = http.Post(srv.URL+"/session/stop", "application/json", nil)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	resp.Body.Close()
	if _, stops, _ := sess.counts(); stops != 1 {
		t.Fatalf("expected one stop, got %d", stops)
	}

	resp, err = http.Get(srv.URL + "/session")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	st = dialogue.SessionState{}
	_ = json.NewDecoder(resp.Body).Decode(&st)
	resp.Body.Close()
	if st.Listening || st.State != "IDLE" {
		t.Fatalf("expected idle state, got %#v", st)
	}
}

func TestStartUnavailableReturns503(t *testing.T) {
	sess := newFakeSession()
	sess.startErr = errorsx.Wrap(dialogue.ErrCapabilityUnavailable, errorsx.ReasonCapabilityUnavailable)
	tr := New(Config{}, sess, nil, nil)

	rec := httptest.NewRecorder()
	tr.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/session/start", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Reason != string(errorsx.ReasonCapabilityUnavailable) {
		t.Fatalf("unexpected reason %q", body.Reason)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	tr := New(Config{}, newFakeSession(), nil, nil)
	rec := httptest.NewRecorder()
	tr.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/session/start", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestLessonsEndpoint(t *testing.T) {
	catalog := fakeCatalog{
		{ID: lessons.NumberID("1"), Level: "beginner", Title: "Greetings"},
		{ID: lessons.StringID("007"), Level: "A1", Title: "Numbers", Topics: []string{}},
	}
	tr := New(Config{}, newFakeSession(), catalog, nil)
	rec := httptest.NewRecorder()
	tr.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/lessons", nil))
	var got []lessons.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(got) != 2 || got[0].Title != "Greetings" || got[1].ID != lessons.StringID("007") {
		t.Fatalf("unexpected lessons %#v", got)
	}

	tr = New(Config{}, newFakeSession(), nil, nil)
	rec = httptest.NewRecorder()
	tr.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/lessons", nil))
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("expected empty array, got %q", rec.Body.String())
	}
}

func TestCORS(t *testing.T) {
	tr := New(Config{AllowedOrigins: []string{"app.example.com"}}, newFakeSession(), nil, nil)

	req := httptest.NewRequest(http.MethodOptions, "/session/start", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	tr.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Fatalf("unexpected allow origin %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}

	req = httptest.NewRequest(http.MethodGet, "/session", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	tr.Handler().ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("expected no allow origin for unknown origin")
	}
}

func TestEventsStreamPushesState(t *testing.T) {
	sess := newFakeSession()
	tr := New(Config{}, sess, nil, nil)
	srv := httptest.NewServer(tr.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/session/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var ev event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read initial: %v", err)
	}
	if ev.Type != "state" || ev.State == nil || ev.State.State != "IDLE" {
		t.Fatalf("unexpected initial event %#v", ev)
	}

	if err := conn.WriteJSON(command{Action: "start"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	ev = event{}
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read pushed: %v", err)
	}
	if ev.Type != "state" || ev.State == nil || !ev.State.Listening {
		t.Fatalf("expected pushed listening state, got %#v", ev)
	}

	if err := conn.WriteJSON(command{Action: "dance"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	ev = event{}
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read error: %v", err)
	}
	if ev.Type != "error" {
		t.Fatalf("expected error event, got %#v", ev)
	}
}

func TestStartAndStopServer(t *testing.T) {
	tr := New(Config{Addr: "127.0.0.1:0"}, newFakeSession(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := tr.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	addr, _ := tr.ReadyFields()["addr"].(string)
	resp, err := http.Get("http://" + addr + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if err := tr.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := tr.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

// gatedConn blocks every write until the gate opens.
type gatedConn struct {
	gate chan struct{}
	mu   sync.Mutex
	msgs [][]byte
}

func (g *gatedConn) WriteMessage(_ int, data []byte) error {
	<-g.gate
	g.mu.Lock()
	g.msgs = append(g.msgs, data)
	g.mu.Unlock()
	return nil
}

func (g *gatedConn) Close() error { return nil }

func (g *gatedConn) written() []event {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]event, 0, len(g.msgs))
	for _, m := range g.msgs {
		var ev event
		_ = json.Unmarshal(m, &ev)
		out = append(out, ev)
	}
	return out
}

func TestSlowClientStillReceivesLatestState(t *testing.T) {
	conn := &gatedConn{gate: make(chan struct{})}
	c := newClient(conn)
	done := make(chan struct{})
	go func() {
		c.loop()
		close(done)
	}()

	for i := 0; i < 100; i++ {
		s := dialogue.SessionState{Transcript: strings.Repeat("a", i)}
		c.enqueue(event{Type: "state", State: &s})
	}
	ok := true
	c.enqueue(event{Type: "send", Dispatched: &ok})
	final := dialogue.SessionState{Transcript: "final", Listening: true}
	c.enqueue(event{Type: "state", State: &final})
	close(conn.gate)

	deadline := time.Now().Add(time.Second)
	for {
		got := conn.written()
		if n := len(got); n > 0 && got[n-1].State != nil && got[n-1].State.Transcript == "final" {
			var replies int
			for _, ev := range got {
				if ev.Type == "send" {
					replies++
				}
			}
			if replies != 1 {
				t.Fatalf("expected one send response, got %d in %#v", replies, got)
			}
			if len(got) > 4 {
				t.Fatalf("expected intermediate states to be coalesced, got %d messages", len(got))
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("latest state never written, got %#v", got)
		}
		time.Sleep(2 * time.Millisecond)
	}

	c.close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("writer loop did not exit after close")
	}
}
