package console

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/harunnryd/echovoice/pkg/frames"
)

func collect(t *testing.T, ch <-chan frames.Frame) []frames.Frame {
	t.Helper()
	var out []frames.Frame
	timeout := time.After(time.Second)
	for {
		select {
		case f, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, f)
		case <-timeout:
			t.Fatalf("channel not closed in time")
		}
	}
}

func TestRecognizerEmitsLinesThenEnds(t *testing.T) {
	r := NewRecognizer(strings.NewReader("what is a noun.\n\n  okay echo  \n"))
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	got := collect(t, r.Results())
	if len(got) != 3 {
		t.Fatalf("expected 2 text frames and an end frame, got %d", len(got))
	}
	first, ok := got[0].(frames.TextFrame)
	if !ok || first.Text() != "what is a noun." || !first.IsFinal() {
		t.Fatalf("unexpected first frame %#v", got[0])
	}
	if second := got[1].(frames.TextFrame); second.Text() != "okay echo" {
		t.Fatalf("unexpected second frame %q", second.Text())
	}
	end, ok := got[2].(frames.ControlFrame)
	if !ok || end.Code() != frames.ControlEnded || end.Meta()[frames.MetaReason] != "eof" {
		t.Fatalf("expected eof end frame, got %#v", got[2])
	}
}

func TestRecognizerStopClosesSession(t *testing.T) {
	r := NewRecognizer(strings.NewReader(""))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = r.Start(ctx)
	ch := r.Results()
	_ = r.Stop()
	_ = collect(t, ch)
	if r.Results() != nil {
		t.Fatalf("expected no session after stop")
	}
}

func TestSynthesizerPrints(t *testing.T) {
	var buf bytes.Buffer
	s := NewSynthesizer(&buf, "")
	if err := s.Speak("A noun names a thing."); err != nil {
		t.Fatalf("speak: %v", err)
	}
	if buf.String() != "echo> A noun names a thing.\n" {
		t.Fatalf("unexpected output %q", buf.String())
	}
}
