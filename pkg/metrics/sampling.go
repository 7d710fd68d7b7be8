package metrics

import (
	"math"
	"sync"
)

// SamplingObserver thins high-volume events. Each event name is counted on
// its own, so a chatty event cannot crowd out a rare one, and names passed
// to Always are never sampled.
type SamplingObserver struct {
	inner Observer
	every uint64

	mu     sync.Mutex
	counts map[string]uint64
	always map[string]bool
}

// NewSamplingObserver forwards about rate of each event name. A rate of 0
// drops everything not marked Always; 1 or more forwards everything.
func NewSamplingObserver(inner Observer, rate float64) *SamplingObserver {
	var every uint64
	switch {
	case rate <= 0:
		every = 0
	case rate >= 1:
		every = 1
	default:
		every = uint64(math.Max(1, math.Round(1/rate)))
	}
	return &SamplingObserver{
		inner:  OrNoop(inner),
		every:  every,
		counts: make(map[string]uint64),
		always: make(map[string]bool),
	}
}

// Always exempts the named events from sampling.
func (s *SamplingObserver) Always(names ...string) *SamplingObserver {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range names {
		s.always[n] = true
	}
	return s
}

func (s *SamplingObserver) RecordEvent(ev MetricsEvent) {
	if s.keep(ev.Name) {
		s.inner.RecordEvent(ev)
	}
}

func (s *SamplingObserver) keep(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.always[name] || s.every == 1 {
		return true
	}
	if s.every == 0 {
		return false
	}
	s.counts[name]++
	return s.counts[name]%s.every == 0
}
