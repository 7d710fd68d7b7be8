package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/harunnryd/echovoice/pkg/adapters/stt"
	"github.com/harunnryd/echovoice/pkg/adapters/tts"
	"github.com/harunnryd/echovoice/pkg/configutil"
	"github.com/harunnryd/echovoice/pkg/echovoice"
	"github.com/harunnryd/echovoice/pkg/providers/console"
	"github.com/harunnryd/echovoice/pkg/providers/deepgram"
	"github.com/harunnryd/echovoice/pkg/providers/elevenlabs"
	"github.com/harunnryd/echovoice/pkg/providers/mock"
)

const stdioPath = "-"

type deepgramSettings struct {
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	Language       string `mapstructure:"language"`
	SampleRate     int    `mapstructure:"sample_rate"`
	Encoding       string `mapstructure:"encoding"`
	Interim        *bool  `mapstructure:"interim"`
	VADEvents      *bool  `mapstructure:"vad_events"`
	UtteranceEndMS *int   `mapstructure:"utterance_end_ms"`
	AudioSource    string `mapstructure:"audio_source"`
}

type elevenlabsSettings struct {
	APIKey       string  `mapstructure:"api_key"`
	VoiceID      string  `mapstructure:"voice_id"`
	ModelID      string  `mapstructure:"model_id"`
	OutputFormat string  `mapstructure:"output_format"`
	Stability    float64 `mapstructure:"stability"`
	Similarity   float64 `mapstructure:"similarity"`
	BaseURL      string  `mapstructure:"base_url"`
	AudioSink    string  `mapstructure:"audio_sink"`
}

type consoleSTTSettings struct {
	Input string `mapstructure:"input"`
}

type consoleTTSSettings struct {
	Output string `mapstructure:"output"`
	Prefix string `mapstructure:"prefix"`
}

type mockSTTSettings struct {
	Script         []string `mapstructure:"script"`
	IntervalMS     int      `mapstructure:"interval_ms"`
	EndAfterScript *bool    `mapstructure:"end_after_script"`
	Unavailable    bool     `mapstructure:"unavailable"`
}

type mockTTSSettings struct {
	Unavailable bool `mapstructure:"unavailable"`
}

func registerProviders(reg *echovoice.ProviderRegistry) {
	reg.RegisterSTT("deepgram", func(raw map[string]any, log *slog.Logger) (stt.Recognizer, error) {
		if err := validateSettings("vendors.stt.settings", raw, configutil.Schema{
			Required: []string{"api_key", "model"},
			Optional: []string{"language", "sample_rate", "encoding", "interim", "vad_events", "utterance_end_ms", "audio_source"},
		}); err != nil {
			return nil, err
		}
		var settings deepgramSettings
		if err := configutil.DecodeSettings(raw, &settings); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(settings.APIKey, "vendors.stt.settings.api_key"); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(settings.Model, "vendors.stt.settings.model"); err != nil {
			return nil, err
		}
		if settings.Encoding == "" {
			settings.Encoding = "linear16"
		}
		if !validDeepgramEncoding(settings.Encoding) {
			return nil, fmt.Errorf("vendors.stt.settings.encoding must be one of [linear16, mulaw], got %s", settings.Encoding)
		}
		utteranceEnd := configutil.IntValue(settings.UtteranceEndMS, 1000)
		if utteranceEnd < 0 || utteranceEnd > 5000 {
			return nil, fmt.Errorf("vendors.stt.settings.utterance_end_ms must be between 0 and 5000, got %d", utteranceEnd)
		}
		return deepgram.New(deepgram.Config{
			APIKey:         settings.APIKey,
			Model:          settings.Model,
			Language:       settings.Language,
			SampleRate:     settings.SampleRate,
			Encoding:       settings.Encoding,
			Interim:        configutil.BoolValue(settings.Interim, true),
			VADEvents:      configutil.BoolValue(settings.VADEvents, true),
			UtteranceEndMS: utteranceEnd,
			Source:         audioSource(settings.AudioSource),
			Logger:         log,
		}), nil
	})

	reg.RegisterSTT("console", func(raw map[string]any, log *slog.Logger) (stt.Recognizer, error) {
		if err := validateSettings("vendors.stt.settings", raw, configutil.Schema{
			Optional: []string{"input"},
		}); err != nil {
			return nil, err
		}
		var settings consoleSTTSettings
		if err := configutil.DecodeSettings(raw, &settings); err != nil {
			return nil, err
		}
		in, err := openInput(settings.Input)
		if err != nil {
			return nil, err
		}
		return console.NewRecognizer(in), nil
	})

	reg.RegisterSTT("mock", func(raw map[string]any, log *slog.Logger) (stt.Recognizer, error) {
		if err := validateSettings("vendors.stt.settings", raw, configutil.Schema{
			Optional: []string{"script", "interval_ms", "end_after_script", "unavailable"},
		}); err != nil {
			return nil, err
		}
		var settings mockSTTSettings
		if err := configutil.DecodeSettings(raw, &settings); err != nil {
			return nil, err
		}
		return mock.NewRecognizer(mock.RecognizerConfig{
			Script:         settings.Script,
			Interval:       configutil.Millis(settings.IntervalMS, 500*time.Millisecond),
			EndAfterScript: configutil.BoolValue(settings.EndAfterScript, false),
			Unavailable:    settings.Unavailable,
		}), nil
	})

	reg.RegisterTTS("elevenlabs", func(raw map[string]any, log *slog.Logger) (tts.Synthesizer, error) {
		if err := validateSettings("vendors.tts.settings", raw, configutil.Schema{
			Required: []string{"api_key", "voice_id"},
			Optional: []string{"model_id", "output_format", "stability", "similarity", "base_url", "audio_sink"},
		}); err != nil {
			return nil, err
		}
		var settings elevenlabsSettings
		if err := configutil.DecodeSettings(raw, &settings); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(settings.APIKey, "vendors.tts.settings.api_key"); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(settings.VoiceID, "vendors.tts.settings.voice_id"); err != nil {
			return nil, err
		}
		sink, err := openOutput(settings.AudioSink)
		if err != nil {
			return nil, err
		}
		return elevenlabs.New(elevenlabs.Config{
			APIKey:       settings.APIKey,
			VoiceID:      settings.VoiceID,
			ModelID:      settings.ModelID,
			OutputFormat: settings.OutputFormat,
			Stability:    settings.Stability,
			Similarity:   settings.Similarity,
			BaseURL:      settings.BaseURL,
			Sink:         sink,
			Logger:       log,
		}), nil
	})

	reg.RegisterTTS("console", func(raw map[string]any, log *slog.Logger) (tts.Synthesizer, error) {
		if err := validateSettings("vendors.tts.settings", raw, configutil.Schema{
			Optional: []string{"output", "prefix"},
		}); err != nil {
			return nil, err
		}
		var settings consoleTTSSettings
		if err := configutil.DecodeSettings(raw, &settings); err != nil {
			return nil, err
		}
		out, err := openOutput(settings.Output)
		if err != nil {
			return nil, err
		}
		return console.NewSynthesizer(out, settings.Prefix), nil
	})

	reg.RegisterTTS("mock", func(raw map[string]any, log *slog.Logger) (tts.Synthesizer, error) {
		if err := validateSettings("vendors.tts.settings", raw, configutil.Schema{
			Optional: []string{"unavailable"},
		}); err != nil {
			return nil, err
		}
		var settings mockTTSSettings
		if err := configutil.DecodeSettings(raw, &settings); err != nil {
			return nil, err
		}
		return mock.NewSynthesizer(mock.SynthesizerConfig{Unavailable: settings.Unavailable}), nil
	})
}

func validateSettings(path string, input map[string]any, schema configutil.Schema) error {
	if err := configutil.ValidateSettings(input, schema); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func validDeepgramEncoding(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "linear16", "mulaw":
		return true
	default:
		return false
	}
}

// audioSource opens raw microphone audio for each listening session:
// stdin for "-" or empty, otherwise a file or named pipe.
func audioSource(path string) deepgram.AudioSource {
	path = strings.TrimSpace(path)
	return func(ctx context.Context) (io.ReadCloser, error) {
		if path == "" || path == stdioPath {
			return io.NopCloser(os.Stdin), nil
		}
		return os.Open(path)
	}
}

func openInput(path string) (io.Reader, error) {
	path = strings.TrimSpace(path)
	if path == "" || path == stdioPath {
		return os.Stdin, nil
	}
	return os.Open(path)
}

func openOutput(path string) (io.Writer, error) {
	path = strings.TrimSpace(path)
	if path == "" || path == stdioPath {
		return os.Stdout, nil
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}
