package id_test

import (
	"strings"
	"testing"

	"github.com/pygame-community/snakecore-jobs/id"
)

func TestNewJobID_Format(t *testing.T) {
	classNS := id.Stamp()
	j := id.NewJobID("EchoJob", classNS)

	if j.IsNil() {
		t.Fatal("expected non-nil JobID")
	}
	if got := j.ClassName(); got != "EchoJob" {
		t.Errorf("ClassName() = %q, want %q", got, "EchoJob")
	}
	parts := strings.Split(j.String(), "-")
	if len(parts) != 3 {
		t.Fatalf("expected 3 dash-delimited fields, got %d (%q)", len(parts), j)
	}
}

func TestNewJobID_NeverReused(t *testing.T) {
	classNS := id.Stamp()
	seen := make(map[id.JobID]struct{})
	for i := 0; i < 10000; i++ {
		j := id.NewJobID("Echo", classNS)
		if _, dup := seen[j]; dup {
			t.Fatalf("identifier %q issued twice", j)
		}
		seen[j] = struct{}{}
	}
}

func TestNewManagerID_Format(t *testing.T) {
	m := id.NewManagerID()
	parts := strings.Split(m.String(), "-")
	if len(parts) != 2 {
		t.Fatalf("expected 2 numeric fields, got %d (%q)", len(parts), m)
	}
}

func TestScheduleID_FourFields(t *testing.T) {
	m := id.NewManagerID()
	s := id.NewScheduleID(m, 12345, 67890)

	parsed, err := id.ParseScheduleID(s.String())
	if err != nil {
		t.Fatalf("ParseScheduleID: %v", err)
	}
	if parsed != s {
		t.Errorf("round-trip mismatch: %q != %q", parsed, s)
	}
	if got := s.TargetNS(); got != 12345 {
		t.Errorf("TargetNS() = %d, want 12345", got)
	}
}

func TestParseScheduleID_Invalid(t *testing.T) {
	cases := []string{
		"",
		"1-2-3",
		"1-2-3-4-5",
		"a-2-3-4",
		"1-2-x-4",
	}
	for _, c := range cases {
		if _, err := id.ParseScheduleID(c); err == nil {
			t.Errorf("ParseScheduleID(%q): expected error", c)
		}
	}
}

func TestStamp_Monotonic(t *testing.T) {
	prev := id.Stamp()
	for i := 0; i < 1000; i++ {
		next := id.Stamp()
		if next <= prev {
			t.Fatalf("stamp not strictly increasing: %d then %d", prev, next)
		}
		prev = next
	}
}
