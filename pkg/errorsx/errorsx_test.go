package errorsx

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapAndReason(t *testing.T) {
	err := Wrap(assertErr{}, ReasonInterpretationFailed)
	if Reason(err) != ReasonInterpretationFailed {
		t.Fatalf("expected reason %s, got %s", ReasonInterpretationFailed, Reason(err))
	}
	if !HasReason(err, ReasonInterpretationFailed) {
		t.Fatalf("expected HasReason true")
	}
}

func TestWrapPreservesExistingReason(t *testing.T) {
	first := Wrap(assertErr{}, ReasonInterpretRateLimit)
	second := Wrap(first, ReasonInterpretationFailed)
	if Reason(second) != ReasonInterpretRateLimit {
		t.Fatalf("expected reason preserved, got %s", Reason(second))
	}
}

func TestReasonSurvivesFmtWrapping(t *testing.T) {
	sentinel := errors.New("sentinel")
	err := fmt.Errorf("outer: %w", Wrap(sentinel, ReasonCatalogFetch))
	if Reason(err) != ReasonCatalogFetch {
		t.Fatalf("expected reason through fmt wrap, got %s", Reason(err))
	}
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected errors.Is to reach sentinel")
	}
}

func TestNilAndUnreasoned(t *testing.T) {
	if Wrap(nil, ReasonPlaybackFailed) != nil {
		t.Fatalf("expected nil wrap to stay nil")
	}
	if Reason(nil) != ReasonUnknown || Reason(assertErr{}) != ReasonUnknown {
		t.Fatalf("expected unknown reason")
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
