package echovoice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/harunnryd/echovoice/pkg/configutil"
	"github.com/harunnryd/echovoice/pkg/dialogue"
	"github.com/harunnryd/echovoice/pkg/interpret"
	"github.com/harunnryd/echovoice/pkg/lessons"
	"github.com/harunnryd/echovoice/pkg/logging"
	"github.com/harunnryd/echovoice/pkg/metrics"
	"github.com/harunnryd/echovoice/pkg/observers"
	"github.com/harunnryd/echovoice/pkg/redact"
	"github.com/harunnryd/echovoice/pkg/resilience"
	"github.com/harunnryd/echovoice/pkg/runner"
	"github.com/harunnryd/echovoice/pkg/speech"
	"github.com/harunnryd/echovoice/pkg/transports"
	httptransport "github.com/harunnryd/echovoice/pkg/transports/http"
)

// Engine wires recognizer, synthesizer, backend clients and the HTTP
// surface around one dialogue controller.
type Engine struct {
	cfg        Config
	log        *slog.Logger
	controller *dialogue.Controller
	input      *speech.InputStream
	player     *speech.Player
	catalog    *lessons.Catalog
	transport  transports.Transport
	runner     *runner.LifecycleRunner
	asyncObs   *metrics.AsyncObserver
	multiObs   *observers.MultiObserver
	summaryObs *observers.SummaryObserver
}

type EngineOptions struct {
	Config    Config
	Providers *ProviderRegistry
	Logger    *slog.Logger
	// Interpreter replaces the HTTP interpretation client when set.
	Interpreter dialogue.Interpreter
	// ExtraObservers receive every event alongside the built-in ones.
	ExtraObservers []metrics.Observer
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	redact.SetEnabled(cfg.Privacy.RedactPII)
	base := opts.Logger
	if base == nil {
		base = slog.Default()
	}
	log := logging.NewComponentLogger(base, "engine")

	log.Info("echovoice_init",
		"environment", cfg.Environment,
		"stt_provider", cfg.Vendors.STT.Provider,
		"tts_provider", cfg.Vendors.TTS.Provider,
		"backend", cfg.Backend.BaseURL,
	)

	obsList := []metrics.Observer{
		observers.NewLatencyObserver(base),
		observers.NewLoggerObserver(base),
	}
	var summaryObs *observers.SummaryObserver
	if dir := strings.TrimSpace(cfg.Observability.ArtifactsDir); dir != "" {
		if cfg.Observability.RetentionDays > 0 {
			removed, err := observers.PurgeArtifacts(dir, time.Duration(cfg.Observability.RetentionDays)*24*time.Hour)
			if err != nil {
				log.Warn("artifact_purge_failed", "dir", dir, "error", err)
			} else if removed > 0 {
				log.Info("artifacts_purged", "dir", dir, "removed", removed)
			}
		}
		summaryObs = observers.NewSummaryObserver(dir)
		obsList = append(obsList, observers.NewTimelineObserver(dir), summaryObs)
	}
	obsList = append(obsList, opts.ExtraObservers...)
	multiObs := observers.NewMultiObserver(obsList...)
	// Turn and session outcomes feed the summary and latency observers, so
	// only the high-volume events are sampled.
	sampler := metrics.NewSamplingObserver(multiObs, cfg.Observability.SampleRate).Always(
		metrics.EventSessionStarted,
		metrics.EventSessionStopped,
		metrics.EventUtteranceDispatched,
		metrics.EventInterpretDone,
		metrics.EventInterpretFailed,
		metrics.EventPlaybackStarted,
		metrics.EventPlaybackFailed,
	)
	asyncObs := metrics.NewAsyncObserver(sampler, 2048)

	providers := opts.Providers
	if providers == nil {
		providers = NewProviderRegistry()
	}
	rec, err := providers.BuildSTT(cfg.Vendors.STT, base)
	if err != nil {
		asyncObs.Close()
		return nil, err
	}
	synth, err := providers.BuildTTS(cfg.Vendors.TTS, base)
	if err != nil {
		asyncObs.Close()
		return nil, err
	}

	interp := opts.Interpreter
	if interp == nil {
		breaker := resilience.NewCircuitBreaker(cfg.Backend.CircuitThreshold, configutil.Millis(cfg.Backend.CircuitCooldownMS, 30*time.Second))
		interp = interpret.NewClient(cfg.Backend.BaseURL,
			interpret.WithBreaker(breaker),
			interpret.WithObserver(asyncObs),
			interpret.WithLogger(base),
		)
	}

	input := speech.NewInputStream(rec, base)
	player := speech.NewPlayer(synth, base)
	controller := dialogue.NewController(input, player, interp, dialogue.Config{
		InterpretTimeout: configutil.Millis(cfg.Backend.InterpretTimeoutMS, dialogue.DefaultInterpretTimeout),
		Observer:         asyncObs,
		Logger:           base,
	})
	catalog := lessons.NewCatalog(cfg.Backend.BaseURL,
		configutil.Millis(cfg.Backend.LessonsTimeoutMS, 5*time.Second),
		resilience.NewRetryPolicy(cfg.Backend.LessonsRetries, configutil.Millis(cfg.Backend.LessonsBackoffMS, 250*time.Millisecond)),
		asyncObs, base)

	e := &Engine{
		cfg:        cfg,
		log:        log,
		controller: controller,
		input:      input,
		player:     player,
		catalog:    catalog,
		asyncObs:   asyncObs,
		multiObs:   multiObs,
		summaryObs: summaryObs,
	}
	if cfg.HTTP.Enabled {
		e.transport = httptransport.New(cfg.HTTP.Config, controller, catalog, base)
	}
	e.runner = runner.NewLifecycleRunner(e, runner.Hooks{
		OnStart: e.onStart,
		OnStop:  e.onStop,
	}, configutil.Millis(cfg.Backend.InterpretTimeoutMS, dialogue.DefaultInterpretTimeout)+5*time.Second)

	if !controller.State().Supported {
		log.Warn("speech_input_unavailable", "provider", cfg.Vendors.STT.Provider)
	}
	return e, nil
}

// Run blocks until ctx is cancelled or Stop is called, then drains.
func (e *Engine) Run(ctx context.Context) error {
	return e.runner.Run(ctx)
}

func (e *Engine) Stop() error {
	return e.runner.Stop()
}

func (e *Engine) State() runner.State {
	return e.runner.State()
}

func (e *Engine) Controller() *dialogue.Controller { return e.controller }

func (e *Engine) Catalog() *lessons.Catalog { return e.catalog }

func (e *Engine) Transport() transports.Transport { return e.transport }

func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) onStart(ctx context.Context) error {
	if e.transport != nil {
		if err := e.transport.Start(ctx); err != nil {
			return fmt.Errorf("start %s transport: %w", e.transport.Name(), err)
		}
	}
	go func() {
		// Failure leaves the catalog empty; Load already logged it.
		_ = e.catalog.Load(ctx)
	}()
	if e.cfg.Session.AutoStart {
		if err := e.controller.Start(ctx); err != nil {
			if !errors.Is(err, dialogue.ErrCapabilityUnavailable) {
				return err
			}
			e.log.Warn("auto_start_skipped", "error", err)
		}
	}
	fields := []any{"message", "EchoVoice Ready", "auto_start", e.cfg.Session.AutoStart}
	if rr, ok := e.transport.(transports.ReadyReporter); ok {
		for k, v := range rr.ReadyFields() {
			fields = append(fields, k, v)
		}
	}
	e.log.Info("engine_ready", fields...)
	return nil
}

// Drain stops accepting input and waits for an in-flight turn to settle.
func (e *Engine) Drain(ctx context.Context) error {
	if e.transport != nil {
		if err := e.transport.Stop(); err != nil {
			e.log.Warn("transport_stop_failed", "error", err)
		}
	}
	e.controller.Stop()
	return e.controller.Drain(ctx)
}

func (e *Engine) onStop() {
	e.player.Cancel()
	e.asyncObs.Close()
	if dropped := e.asyncObs.Dropped(); dropped > 0 {
		e.log.Warn("metrics_dropped", "count", dropped)
	}
	if err := e.multiObs.Close(); err != nil {
		e.log.Warn("observer_close_failed", "error", err)
	}
	e.log.Info("shutdown", "goroutines", runtime.NumGoroutine())
}

// SessionSummary reports turn counts for the current session. It is only
// available when an artifacts directory is configured.
func (e *Engine) SessionSummary() (observers.SessionSummary, bool) {
	if e.summaryObs == nil {
		return observers.SessionSummary{}, false
	}
	return e.summaryObs.Snapshot(e.controller.State().SessionID)
}
