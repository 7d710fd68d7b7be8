// Package httptransport exposes a dialogue session over HTTP and pushes
// session state to websocket clients.
package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harunnryd/echovoice/pkg/dialogue"
	"github.com/harunnryd/echovoice/pkg/errorsx"
	"github.com/harunnryd/echovoice/pkg/lessons"
	"github.com/harunnryd/echovoice/pkg/logging"
	"github.com/harunnryd/echovoice/pkg/transports"
)

// Session is the part of dialogue.Controller the transport drives.
type Session interface {
	Start(ctx context.Context) error
	Stop()
	SendNow() bool
	State() dialogue.SessionState
	Subscribe(fn func(dialogue.SessionState)) func()
}

// Catalog lists lessons.
type Catalog interface {
	Lessons() []lessons.Record
}

type Config struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	EventsPath     string   `mapstructure:"events_path"`
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.EventsPath == "" {
		c.EventsPath = "/session/events"
	}
	return c
}

type Transport struct {
	cfg      Config
	session  Session
	catalog  Catalog
	log      *slog.Logger
	upgrader websocket.Upgrader
	handler  http.Handler

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	ctx      context.Context
	clients  map[*client]struct{}

	draining atomic.Bool
}

func New(cfg Config, session Session, catalog Catalog, log *slog.Logger) *Transport {
	cfg = cfg.withDefaults()
	t := &Transport{
		cfg:     cfg,
		session: session,
		catalog: catalog,
		log:     logging.NewComponentLogger(log, "http_transport"),
		ctx:     context.Background(),
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
	t.upgrader.CheckOrigin = t.checkOrigin
	t.handler = t.routes()
	return t
}

func (t *Transport) Name() string { return "http" }

// Handler returns the routed handler, for tests and embedding.
func (t *Transport) Handler() http.Handler { return t.handler }

func (t *Transport) ReadyFields() map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()
	addr := t.cfg.Addr
	if t.listener != nil {
		addr = t.listener.Addr().String()
	}
	return map[string]any{"addr": addr, "events_path": t.cfg.EventsPath}
}

// Start listens on the configured address. Session starts requested over
// HTTP are bound to ctx, not to the request.
func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ln, err := net.Listen("tcp", t.cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           t.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	t.mu.Lock()
	t.ctx = ctx
	t.server = srv
	t.listener = ln
	t.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = t.Stop()
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.log.Error("http_transport_server_error", "error", err.Error())
		}
	}()
	t.log.Info("http_transport_listening", "addr", ln.Addr().String())
	return nil
}

func (t *Transport) Stop() error {
	if !t.draining.CompareAndSwap(false, true) {
		return nil
	}
	t.mu.Lock()
	srv := t.server
	clients := make([]*client, 0, len(t.clients))
	for c := range t.clients {
		clients = append(clients, c)
	}
	t.clients = make(map[*client]struct{})
	t.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func (t *Transport) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/session", t.only(http.MethodGet, t.handleState))
	mux.HandleFunc("/session/start", t.only(http.MethodPost, t.handleStart))
	mux.HandleFunc("/session/stop", t.only(http.MethodPost, t.handleStop))
	mux.HandleFunc("/session/send", t.only(http.MethodPost, t.handleSend))
	mux.HandleFunc("/lessons", t.only(http.MethodGet, t.handleLessons))
	mux.HandleFunc(t.cfg.EventsPath, t.handleEvents)
	return t.cors(mux)
}

func (t *Transport) only(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func (t *Transport) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && t.checkOrigin(r) {
			if len(t.cfg.AllowedOrigins) == 0 {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (t *Transport) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, t.session.State())
}

func (t *Transport) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := t.session.Start(t.baseContext()); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, dialogue.ErrCapabilityUnavailable) {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, errorBody{Error: err.Error(), Reason: string(errorsx.Reason(err))})
		return
	}
	writeJSON(w, http.StatusOK, t.session.State())
}

func (t *Transport) handleStop(w http.ResponseWriter, r *http.Request) {
	t.session.Stop()
	writeJSON(w, http.StatusOK, t.session.State())
}

func (t *Transport) handleSend(w http.ResponseWriter, r *http.Request) {
	dispatched := t.session.SendNow()
	writeJSON(w, http.StatusOK, sendResponse{Dispatched: dispatched, State: t.session.State()})
}

func (t *Transport) handleLessons(w http.ResponseWriter, r *http.Request) {
	records := []lessons.Record{}
	if t.catalog != nil {
		records = t.catalog.Lessons()
	}
	writeJSON(w, http.StatusOK, records)
}

func (t *Transport) baseContext() context.Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ctx
}

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

type sendResponse struct {
	Dispatched bool                  `json:"dispatched"`
	State      dialogue.SessionState `json:"state"`
}

// writeJSON encodes v before touching the response, so an encoding failure
// becomes a 500 instead of a 200 with a truncated body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"encode response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(b, '\n'))
}

func (t *Transport) checkOrigin(r *http.Request) bool {
	if len(t.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	originHost := strings.TrimPrefix(origin, "https://")
	originHost = strings.TrimPrefix(originHost, "http://")
	for _, allowed := range t.cfg.AllowedOrigins {
		a := strings.TrimRight(strings.TrimSpace(allowed), "/")
		if a == "" {
			continue
		}
		if a == "*" {
			return true
		}
		if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
			if strings.EqualFold(a, origin) {
				return true
			}
			continue
		}
		if strings.EqualFold(a, originHost) {
			return true
		}
	}
	return false
}

var (
	_ transports.Transport     = (*Transport)(nil)
	_ transports.ReadyReporter = (*Transport)(nil)
)
