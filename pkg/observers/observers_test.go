package observers

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/harunnryd/echovoice/pkg/metrics"
)

func TestTimelineObserverWritesJSONL(t *testing.T) {
	dir := t.TempDir()
	obs := NewTimelineObserver(dir)

	obs.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventUtteranceDispatched,
		Time: time.Now(),
		Tags: map[string]string{"session_id": "sess/1", "turn_id": "t1"},
		Fields: map[string]any{
			"text": "what is a noun.",
		},
	})
	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventSnapshot, Time: time.Now()})
	_ = obs.Close()

	b, err := os.ReadFile(filepath.Join(dir, "sess_1.jsonl"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d", len(lines))
	}
	var entry timelineEvent
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry.Event != metrics.EventUtteranceDispatched || entry.TurnID != "t1" || entry.SessionID != "sess/1" {
		t.Fatalf("unexpected entry: %#v", entry)
	}
}

func TestSummaryObserverCountsTurns(t *testing.T) {
	dir := t.TempDir()
	obs := NewSummaryObserver(dir)
	tags := map[string]string{"session_id": "s1"}
	for _, name := range []string{
		metrics.EventUtteranceDispatched,
		metrics.EventInterpretDone,
		metrics.EventUtteranceDispatched,
		metrics.EventInterpretFailed,
	} {
		obs.RecordEvent(metrics.MetricsEvent{Name: name, Tags: tags})
	}
	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventPlaybackStarted, Tags: tags, Fields: map[string]any{"chars": 12}})

	got, ok := obs.Snapshot("s1")
	if !ok {
		t.Fatalf("expected summary for s1")
	}
	if got.Dispatched != 2 || got.Replied != 1 || got.Failed != 1 || got.SpokenChars != 12 {
		t.Fatalf("unexpected summary: %#v", got)
	}
	if err := obs.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "s1.summary.json")); err != nil {
		t.Fatalf("expected summary file: %v", err)
	}
}

func TestLatencyObserverLogsOnPlayback(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	obs := NewLatencyObserver(log)
	start := time.Now()
	tags := map[string]string{"session_id": "s1", "turn_id": "t1"}

	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventUtteranceDispatched, Time: start, Tags: tags})
	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventInterpretDone, Time: start.Add(120 * time.Millisecond), Tags: tags})
	if obs.Pending() != 1 {
		t.Fatalf("expected turn to be pending until playback")
	}
	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventPlaybackStarted, Time: start.Add(150 * time.Millisecond), Tags: tags})

	if obs.Pending() != 0 {
		t.Fatalf("expected turn to be released")
	}
	out := buf.String()
	if !strings.Contains(out, `"interpret_ms":120`) || !strings.Contains(out, `"time_to_speech_ms":150`) {
		t.Fatalf("unexpected log output: %s", out)
	}
}

func TestPurgeArtifactsKeepsFreshAndForeignFiles(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "old.jsonl")
	fresh := filepath.Join(dir, "fresh.jsonl")
	foreign := filepath.Join(dir, "notes.txt")
	for _, p := range []string{old, fresh, foreign} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	past := time.Now().Add(-48 * time.Hour)
	_ = os.Chtimes(old, past, past)
	_ = os.Chtimes(foreign, past, past)

	removed, err := PurgeArtifacts(dir, 24*time.Hour)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, err := os.Stat(foreign); err != nil {
		t.Fatalf("expected foreign file to survive")
	}
}
