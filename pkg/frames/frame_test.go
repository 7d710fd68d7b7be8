package frames

import "testing"

func TestTextFrameFinalMeta(t *testing.T) {
	f := NewTextFrame("s1", 10, "hello", true, map[string]string{MetaSource: "stt"})
	if !f.IsFinal() {
		t.Fatalf("expected final frame")
	}
	meta := f.Meta()
	if meta[MetaIsFinal] != "true" || meta[MetaStreamID] != "s1" || meta[MetaSource] != "stt" {
		t.Fatalf("unexpected meta: %#v", meta)
	}
	meta[MetaSource] = "mutated"
	if f.Meta()[MetaSource] != "stt" {
		t.Fatalf("expected meta to be copied")
	}
}

func TestPTSGenMonotonic(t *testing.T) {
	g := NewPTSGen()
	prev := g.Next("a")
	for i := 0; i < 100; i++ {
		next := g.Next("a")
		if next <= prev {
			t.Fatalf("expected strictly increasing pts, got %d after %d", next, prev)
		}
		prev = next
	}
}
