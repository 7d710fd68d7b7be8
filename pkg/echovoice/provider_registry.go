package echovoice

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/harunnryd/echovoice/pkg/adapters/stt"
	"github.com/harunnryd/echovoice/pkg/adapters/tts"
)

// STTFactory builds a recognizer from its vendor settings.
type STTFactory func(settings map[string]any, log *slog.Logger) (stt.Recognizer, error)

// TTSFactory builds a synthesizer from its vendor settings.
type TTSFactory func(settings map[string]any, log *slog.Logger) (tts.Synthesizer, error)

type ProviderRegistry struct {
	stt map[string]STTFactory
	tts map[string]TTSFactory
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		stt: make(map[string]STTFactory),
		tts: make(map[string]TTSFactory),
	}
}

func (r *ProviderRegistry) RegisterSTT(name string, factory STTFactory) {
	r.stt[normalizeName(name)] = factory
}

func (r *ProviderRegistry) RegisterTTS(name string, factory TTSFactory) {
	r.tts[normalizeName(name)] = factory
}

func (r *ProviderRegistry) BuildSTT(vc VendorConfig, log *slog.Logger) (stt.Recognizer, error) {
	fn := r.stt[normalizeName(vc.Provider)]
	if fn == nil {
		return nil, fmt.Errorf("stt provider not registered: %s (known: %s)", vc.Provider, strings.Join(keys(r.stt), ", "))
	}
	return fn(vc.Settings, log)
}

func (r *ProviderRegistry) BuildTTS(vc VendorConfig, log *slog.Logger) (tts.Synthesizer, error) {
	fn := r.tts[normalizeName(vc.Provider)]
	if fn == nil {
		return nil, fmt.Errorf("tts provider not registered: %s (known: %s)", vc.Provider, strings.Join(keys(r.tts), ", "))
	}
	return fn(vc.Settings, log)
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
