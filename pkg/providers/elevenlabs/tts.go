package elevenlabs

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/harunnryd/echovoice/pkg/adapters/tts"
	"github.com/harunnryd/echovoice/pkg/errorsx"
	"github.com/harunnryd/echovoice/pkg/logging"
	"github.com/harunnryd/echovoice/pkg/resilience"
)

const defaultBaseURL = "wss://api.elevenlabs.io"

type Config struct {
	APIKey       string
	VoiceID      string
	ModelID      string
	OutputFormat string
	Stability    float64
	Similarity   float64
	// BaseURL overrides the websocket endpoint host.
	BaseURL string
	// Sink receives decoded audio bytes, for example a player's stdin.
	Sink   io.Writer
	Logger *slog.Logger
}

// Synthesizer speaks each utterance over its own stream-input websocket.
// Cancel closes the socket, so no audio of a cancelled utterance reaches
// the sink afterwards.
type Synthesizer struct {
	cfg    Config
	logger *slog.Logger
	dialer websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
	gen  uint64
	// sinkMu keeps chunks of different utterances from interleaving.
	sinkMu sync.Mutex
}

func New(cfg Config) *Synthesizer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "pcm_16000"
	}
	if cfg.Stability == 0 {
		cfg.Stability = 0.5
	}
	if cfg.Similarity == 0 {
		cfg.Similarity = 0.8
	}
	return &Synthesizer{
		cfg:    cfg,
		logger: logging.NewComponentLogger(cfg.Logger, "elevenlabs_tts"),
		dialer: websocket.Dialer{Proxy: http.ProxyFromEnvironment},
	}
}

func (s *Synthesizer) Name() string { return "elevenlabs_tts" }

func (s *Synthesizer) Available() bool {
	return s.cfg.APIKey != "" && s.cfg.VoiceID != "" && s.cfg.Sink != nil
}

// Speak connects, sends text and returns; audio streams to the sink in the
// background.
func (s *Synthesizer) Speak(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	u, err := s.buildURL()
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonTTSConnect)
	}
	conn, resp, err := s.dialer.Dial(u, http.Header{"xi-api-key": []string{s.cfg.APIKey}})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			return errorsx.Wrap(resilience.RateLimitError{Provider: "elevenlabs", Message: resp.Status}, errorsx.ReasonTTSConnect)
		}
		return errorsx.Wrap(fmt.Errorf("elevenlabs dial: %w", err), errorsx.ReasonTTSConnect)
	}

	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.gen++
	gen := s.gen
	s.conn = conn
	s.mu.Unlock()

	messages := []map[string]any{
		{
			"text": " ",
			"voice_settings": map[string]any{
				"stability":        s.cfg.Stability,
				"similarity_boost": s.cfg.Similarity,
			},
		},
		{"text": text + " ", "flush": true},
		// Empty text closes the input stream.
		{"text": ""},
	}
	for _, m := range messages {
		if err := s.send(conn, m); err != nil {
			s.drop(gen)
			return errorsx.Wrap(fmt.Errorf("elevenlabs send: %w", err), errorsx.ReasonTTSSend)
		}
	}
	s.logger.Debug("tts_stream_started", slog.Int("chars", len(text)))
	go s.readLoop(gen, conn)
	return nil
}

// Cancel stops the current utterance. It is a no-op when idle.
func (s *Synthesizer) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

func (s *Synthesizer) drop(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == gen && s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

func (s *Synthesizer) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}

func (s *Synthesizer) buildURL() (string, error) {
	base, err := url.Parse(s.cfg.BaseURL)
	if err != nil {
		return "", err
	}
	base.Path = "/v1/text-to-speech/" + url.PathEscape(s.cfg.VoiceID) + "/stream-input"
	q := url.Values{}
	if s.cfg.ModelID != "" {
		q.Set("model_id", s.cfg.ModelID)
	}
	q.Set("output_format", s.cfg.OutputFormat)
	base.RawQuery = q.Encode()
	return base.String(), nil
}

func (s *Synthesizer) readLoop(gen uint64, conn *websocket.Conn) {
	defer s.drop(gen)
	chunks := 0
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if s.current(gen) && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.logger.Warn("tts_read_error", slog.String("error", err.Error()))
			}
			return
		}
		raw, final, ok := s.decode(data)
		if ok && len(raw) > 0 {
			s.sinkMu.Lock()
			if s.current(gen) {
				if _, err := s.cfg.Sink.Write(raw); err != nil {
					s.logger.Warn("tts_sink_write_failed", slog.String("error", err.Error()))
				}
				chunks++
			}
			s.sinkMu.Unlock()
		}
		if final {
			s.logger.Debug("tts_stream_done", slog.Int("chunks", chunks))
			return
		}
	}
}

type streamMessage struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
}

func (s *Synthesizer) decode(data []byte) ([]byte, bool, bool) {
	var msg streamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Debug("tts_unexpected_payload", slog.Int("bytes", len(data)))
		return nil, false, false
	}
	if msg.Audio == "" {
		return nil, msg.IsFinal, false
	}
	raw, err := base64.StdEncoding.DecodeString(msg.Audio)
	if err != nil {
		s.logger.Warn("tts_audio_decode_error", slog.String("error", err.Error()))
		return nil, msg.IsFinal, false
	}
	return raw, msg.IsFinal, true
}

func (s *Synthesizer) send(conn *websocket.Conn, payload map[string]any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, b)
}

var _ tts.Synthesizer = (*Synthesizer)(nil)
