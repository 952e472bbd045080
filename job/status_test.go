package job

import (
	"strings"
	"testing"
)

func TestStatusHasAndAny(t *testing.T) {
	s := StatusRunning | StatusIdling

	if !s.Has(StatusRunning) {
		t.Errorf("expected RUNNING to be set")
	}
	if !s.Has(StatusRunning | StatusIdling) {
		t.Errorf("Has with multiple flags should require all of them")
	}
	if s.Has(StatusRunning | StatusStopped) {
		t.Errorf("Has must not match a partially present flag set")
	}
	if !s.Any(StatusStopped | StatusIdling) {
		t.Errorf("Any should match when at least one flag is present")
	}
	if s.Any(StatusStopped | StatusKilled) {
		t.Errorf("Any must not match when no flag is present")
	}
}

func TestStatusDone(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusKilled, StatusStopped | StatusKilled} {
		if !s.Done() {
			t.Errorf("%v should be terminal", s)
		}
	}
	for _, s := range []Status{StatusFresh, StatusRunning | StatusIdling, StatusStopped} {
		if s.Done() {
			t.Errorf("%v should not be terminal", s)
		}
	}
}

func TestStatusString(t *testing.T) {
	s := StatusRunning | StatusIdling
	str := s.String()
	if !strings.Contains(str, "RUNNING") || !strings.Contains(str, "IDLING") {
		t.Errorf("String() = %q, want both RUNNING and IDLING", str)
	}

	if got := Status(0).String(); got == "" {
		t.Errorf("zero status should still stringify, got empty")
	}
}
