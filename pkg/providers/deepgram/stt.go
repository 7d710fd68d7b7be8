package deepgram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/harunnryd/echovoice/pkg/adapters/stt"
	"github.com/harunnryd/echovoice/pkg/errorsx"
	"github.com/harunnryd/echovoice/pkg/frames"
	"github.com/harunnryd/echovoice/pkg/logging"
	"github.com/harunnryd/echovoice/pkg/redact"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

// AudioSource opens the raw audio for one listening session.
type AudioSource func(ctx context.Context) (io.ReadCloser, error)

type Config struct {
	APIKey         string
	Model          string
	Language       string
	SampleRate     int
	Encoding       string
	Interim        bool
	VADEvents      bool
	UtteranceEndMS int
	StreamID       string
	Source         AudioSource
	Logger         *slog.Logger
}

// Recognizer streams microphone audio to Deepgram's live API and reports
// transcript segments as text frames.
type Recognizer struct {
	cfg    Config
	logger *slog.Logger
	pts    *frames.PTSGen

	mu   sync.Mutex
	sess *session
}

type session struct {
	mu     sync.Mutex
	out    chan frames.Frame
	closed bool
	cancel context.CancelFunc
	client *client.WSCallback
	source io.ReadCloser
}

func New(cfg Config) *Recognizer {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "linear16"
	}
	if cfg.Language == "" {
		cfg.Language = "en-US"
	}
	if cfg.StreamID == "" {
		cfg.StreamID = "mic"
	}
	return &Recognizer{
		cfg:    cfg,
		logger: logging.NewComponentLogger(cfg.Logger, "deepgram_stt"),
		pts:    frames.NewPTSGen(),
	}
}

func (r *Recognizer) Name() string { return "deepgram_streaming" }

func (r *Recognizer) Available() bool {
	return strings.TrimSpace(r.cfg.APIKey) != "" && r.cfg.Source != nil
}

func (r *Recognizer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !r.Available() {
		return errorsx.Newf(errorsx.ReasonCapabilityUnavailable, "deepgram: api key or audio source missing")
	}
	sessCtx, cancel := context.WithCancel(ctx)
	src, err := r.cfg.Source(sessCtx)
	if err != nil {
		cancel()
		return errorsx.Wrap(fmt.Errorf("deepgram: open audio source: %w", err), errorsx.ReasonSTTStart)
	}
	sess := &session{out: make(chan frames.Frame, 256), cancel: cancel, source: src}

	transcriptOptions := &interfaces.LiveTranscriptionOptions{
		Model:          r.cfg.Model,
		Language:       r.cfg.Language,
		Encoding:       r.cfg.Encoding,
		SampleRate:     r.cfg.SampleRate,
		InterimResults: r.cfg.Interim,
		VadEvents:      r.cfg.VADEvents,
		SmartFormat:    true,
	}
	if r.cfg.UtteranceEndMS > 0 {
		transcriptOptions.UtteranceEndMs = fmt.Sprintf("%d", r.cfg.UtteranceEndMS)
	}

	cb := &callback{parent: r, sess: sess}
	dg, err := client.NewWSUsingCallback(sessCtx, r.cfg.APIKey, &interfaces.ClientOptions{EnableKeepAlive: true}, transcriptOptions, cb)
	if err != nil {
		cancel()
		_ = src.Close()
		return errorsx.Wrap(fmt.Errorf("deepgram: create client: %w", err), errorsx.ReasonSTTConnect)
	}
	if connected := dg.Connect(); !connected {
		cancel()
		_ = src.Close()
		return errorsx.Newf(errorsx.ReasonSTTConnect, "deepgram connection failed")
	}
	sess.client = dg

	r.mu.Lock()
	prev := r.sess
	r.sess = sess
	r.mu.Unlock()
	if prev != nil {
		r.stopSession(prev, "replaced")
	}

	r.logger.Info("deepgram_connected",
		slog.String("stream_id", r.cfg.StreamID),
		slog.String("model", r.cfg.Model),
		slog.String("language", r.cfg.Language))

	go func() {
		err := dg.Stream(src)
		if err != nil && sessCtx.Err() == nil {
			r.logger.Error("deepgram_stream_error",
				slog.String("stream_id", r.cfg.StreamID),
				slog.String("error", err.Error()))
		}
		// Audio source exhausted or failed; the session is over either way.
		r.stopSession(sess, "source_closed")
	}()
	return nil
}

func (r *Recognizer) Stop() error {
	r.mu.Lock()
	sess := r.sess
	r.sess = nil
	r.mu.Unlock()
	if sess == nil {
		return nil
	}
	r.stopSession(sess, "stopped")
	return nil
}

func (r *Recognizer) Results() <-chan frames.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess == nil {
		return nil
	}
	return r.sess.out
}

func (r *Recognizer) stopSession(sess *session, reason string) {
	sess.cancel()
	if sess.client != nil {
		sess.client.Stop()
	}
	if sess.source != nil {
		_ = sess.source.Close()
	}
	r.finish(sess, reason)
}

func (r *Recognizer) emit(sess *session, f frames.Frame) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return
	}
	select {
	case sess.out <- f:
	default:
		r.logger.Warn("deepgram_out_channel_full", slog.String("stream_id", r.cfg.StreamID))
	}
}

func (r *Recognizer) finish(sess *session, reason string) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return
	}
	ended := frames.NewControlFrame(r.cfg.StreamID, r.pts.Next(r.cfg.StreamID), frames.ControlEnded, map[string]string{
		frames.MetaSource: "stt",
		frames.MetaReason: reason,
	})
	select {
	case sess.out <- ended:
	default:
	}
	sess.closed = true
	close(sess.out)
}

// --- Callback Implementation ---

type callback struct {
	parent *Recognizer
	sess   *session
}

func (c *callback) Open(or *msginterfaces.OpenResponse) error {
	c.parent.logger.Debug("deepgram_connection_opened", slog.String("stream_id", c.parent.cfg.StreamID))
	return nil
}

func (c *callback) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	transcript := mr.Channel.Alternatives[0].Transcript
	if transcript == "" {
		return nil
	}
	isFinal := mr.IsFinal || mr.SpeechFinal

	c.parent.logger.Debug("transcript_received",
		slog.String("stream_id", c.parent.cfg.StreamID),
		slog.String("transcript", redact.Text(transcript)),
		slog.Bool("is_final", isFinal))

	id := c.parent.cfg.StreamID
	c.parent.emit(c.sess, frames.NewTextFrame(id, c.parent.pts.Next(id), transcript, isFinal, map[string]string{frames.MetaSource: "stt"}))
	return nil
}

func (c *callback) Metadata(md *msginterfaces.MetadataResponse) error {
	c.parent.logger.Debug("deepgram_metadata_received",
		slog.String("stream_id", c.parent.cfg.StreamID),
		slog.String("request_id", md.RequestID))
	return nil
}

func (c *callback) SpeechStarted(ssr *msginterfaces.SpeechStartedResponse) error {
	return nil
}

func (c *callback) UtteranceEnd(ur *msginterfaces.UtteranceEndResponse) error {
	c.parent.logger.Debug("utterance_end_event", slog.String("stream_id", c.parent.cfg.StreamID))
	return nil
}

func (c *callback) Close(cr *msginterfaces.CloseResponse) error {
	c.parent.logger.Info("deepgram_connection_closed", slog.String("stream_id", c.parent.cfg.StreamID))
	c.parent.finish(c.sess, "connection_closed")
	return nil
}

func (c *callback) Error(er *msginterfaces.ErrorResponse) error {
	c.parent.logger.Error("deepgram_error",
		slog.String("stream_id", c.parent.cfg.StreamID),
		slog.String("error_code", er.ErrCode),
		slog.String("error_message", er.ErrMsg))
	c.parent.finish(c.sess, "error")
	return nil
}

func (c *callback) UnhandledEvent(byData []byte) error {
	c.parent.logger.Debug("deepgram_unhandled_event",
		slog.String("stream_id", c.parent.cfg.StreamID),
		slog.Int("bytes", len(byData)))
	return nil
}

var _ stt.Recognizer = (*Recognizer)(nil)
