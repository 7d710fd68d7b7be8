package observers

import (
	"context"
	"log/slog"

	"github.com/harunnryd/echovoice/pkg/metrics"
)

type LoggerObserver struct {
	log   *slog.Logger
	level slog.Level
}

// NewLoggerObserver logs every event at debug level.
func NewLoggerObserver(log *slog.Logger) *LoggerObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LoggerObserver{log: log, level: slog.LevelDebug}
}

func (o *LoggerObserver) RecordEvent(ev metrics.MetricsEvent) {
	if !o.log.Enabled(context.Background(), o.level) {
		return
	}
	attrs := []slog.Attr{
		slog.String("name", ev.Name),
		slog.Time("time", ev.Time),
	}
	if ev.Value != 0 {
		attrs = append(attrs, slog.Float64("value", ev.Value))
	}
	for k, v := range ev.Tags {
		attrs = append(attrs, slog.String(k, v))
	}
	for k, v := range ev.Fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	o.log.LogAttrs(context.Background(), o.level, "metrics", attrs...)
}

type MultiObserver struct {
	list []metrics.Observer
}

func NewMultiObserver(list ...metrics.Observer) *MultiObserver {
	return &MultiObserver{list: list}
}

func (m *MultiObserver) RecordEvent(ev metrics.MetricsEvent) {
	for _, obs := range m.list {
		if obs != nil {
			obs.RecordEvent(ev)
		}
	}
}

// Close closes every member that implements io.Closer-like Close methods.
func (m *MultiObserver) Close() error {
	var first error
	for _, obs := range m.list {
		switch c := obs.(type) {
		case interface{ Close() error }:
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		case interface{ Close() }:
			c.Close()
		}
	}
	return first
}
