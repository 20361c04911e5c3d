package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestAsUnwrapsWrapped(t *testing.T) {
	base := InvalidAction("wrong_state", "ride is not ongoing", false)
	err := fmt.Errorf("end trip: %w", base)
	got := As(err)
	if got != base {
		t.Fatalf("expected original error, got %#v", got)
	}
	if KindOf(err) != KindInvalidAction {
		t.Fatalf("unexpected kind %q", KindOf(err))
	}
}

func TestAsUnknownIsInternal(t *testing.T) {
	cause := errors.New("connection refused")
	got := As(cause)
	if got.Kind != KindInternal || !errors.Is(got, cause) {
		t.Fatalf("expected internal wrapping cause, got %#v", got)
	}
	if As(nil) != nil {
		t.Fatalf("nil must stay nil")
	}
}

func TestRetryableClasses(t *testing.T) {
	if !NoCapacity("none").Retryable {
		t.Fatalf("no capacity should be retryable")
	}
	if !Upstream("no_route", "x", nil).Retryable {
		t.Fatalf("upstream should be retryable")
	}
	if Validation("missing_field", "x").Retryable {
		t.Fatalf("validation should not be retryable")
	}
}
