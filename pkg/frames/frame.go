package frames

import (
	"sync"
	"time"
)

type Kind string

const (
	KindText    Kind = "text"
	KindControl Kind = "control"
)

type ControlCode string

const (
	// ControlEnded marks the end of a recognition session, whatever the cause.
	ControlEnded ControlCode = "ended"
)

const (
	MetaStreamID = "stream_id"
	MetaSource   = "source"
	MetaIsFinal  = "is_final"
	MetaReason   = "reason"
)

type Frame interface {
	Kind() Kind
	PTS() int64
	Meta() map[string]string
}

// TextFrame carries one recognition segment. Interim segments are replaced by
// the next segment; final segments are committed.
type TextFrame struct {
	pts   int64
	text  string
	final bool
	meta  map[string]string
}

func NewTextFrame(streamID string, pts int64, text string, final bool, meta map[string]string) TextFrame {
	m := mergeMeta(streamID, meta)
	if final {
		m[MetaIsFinal] = "true"
	} else {
		m[MetaIsFinal] = "false"
	}
	return TextFrame{
		pts:   pts,
		text:  text,
		final: final,
		meta:  m,
	}
}

func (t TextFrame) Kind() Kind              { return KindText }
func (t TextFrame) PTS() int64              { return t.pts }
func (t TextFrame) Meta() map[string]string { return cloneMeta(t.meta) }
func (t TextFrame) Text() string            { return t.text }
func (t TextFrame) IsFinal() bool           { return t.final }

type ControlFrame struct {
	pts  int64
	code ControlCode
	meta map[string]string
}

func NewControlFrame(streamID string, pts int64, code ControlCode, meta map[string]string) ControlFrame {
	return ControlFrame{
		pts:  pts,
		code: code,
		meta: mergeMeta(streamID, meta),
	}
}

func (c ControlFrame) Kind() Kind              { return KindControl }
func (c ControlFrame) PTS() int64              { return c.pts }
func (c ControlFrame) Meta() map[string]string { return cloneMeta(c.meta) }
func (c ControlFrame) Code() ControlCode       { return c.code }

// PTSGen hands out strictly increasing presentation timestamps per stream,
// anchored to wall-clock time.
type PTSGen struct {
	mu    sync.Mutex
	value map[string]int64
}

func NewPTSGen() *PTSGen {
	return &PTSGen{value: make(map[string]int64)}
}

func (g *PTSGen) Next(streamID string) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now().UnixNano()
	v := g.value[streamID] + time.Microsecond.Nanoseconds()
	if now > v {
		v = now
	}
	g.value[streamID] = v
	return v
}

func mergeMeta(streamID string, meta map[string]string) map[string]string {
	out := make(map[string]string, 2+len(meta))
	if streamID != "" {
		out[MetaStreamID] = streamID
	}
	for k, v := range meta {
		out[k] = v
	}
	return out
}

func cloneMeta(meta map[string]string) map[string]string {
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
