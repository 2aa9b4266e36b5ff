package services_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"livestreamdvr/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "converting", "remux", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"converting", "remux", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestTypedErrorsCarryMarkers(t *testing.T) {
	cause := errors.New("executable file not found")
	cases := []struct {
		name   string
		err    error
		marker error
	}{
		{"spawn", &services.SpawnError{Label: "remux", Bin: "ffmpeg", Args: []string{"-i", "a"}, Err: cause}, services.ErrExternalTool},
		{"validation", &services.ValidationError{Op: "remux", Path: "/x", Reason: "input missing"}, services.ErrValidation},
		{"tool", &services.ToolFailure{Label: "remux", ExitCode: 1}, services.ErrExternalTool},
		{"orphan", &services.OrphanedJobError{Name: "capture_x", PID: 10}, services.ErrNotFound},
		{"anomaly", &services.TimelineAnomaly{Title: "x", At: time.Unix(10, 0), Previous: time.Unix(20, 0)}, services.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tc.err)
			if !errors.Is(wrapped, tc.marker) {
				t.Fatalf("expected %v to match marker %v", wrapped, tc.marker)
			}
			if tc.err.Error() == "" {
				t.Fatal("expected non-empty message")
			}
		})
	}

	spawn := &services.SpawnError{Label: "remux", Bin: "ffmpeg", Args: []string{"-i", "a"}, Err: cause}
	if !errors.Is(spawn, cause) {
		t.Fatal("expected spawn error to unwrap to its cause")
	}
	if !strings.Contains(spawn.Error(), "ffmpeg -i a") {
		t.Fatalf("expected command line in message, got %q", spawn.Error())
	}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"tool failure", &services.ToolFailure{ExitCode: 2}, true},
		{"transient", services.Wrap(services.ErrTransient, "capture", "run", "network", nil), true},
		{"spawn", &services.SpawnError{Bin: "streamlink", Err: errors.New("missing")}, false},
		{"validation", &services.ValidationError{Op: "cut", Reason: "bad range"}, false},
		{"configuration", services.Wrap(services.ErrConfiguration, "", "", "no binary", nil), false},
		{"canceled", fmt.Errorf("wait: %w", context.Canceled), false},
		{"plain", errors.New("plain"), false},
	}
	for _, tc := range cases {
		if got := services.Retryable(tc.err); got != tc.want {
			t.Fatalf("%s: Retryable=%v want %v", tc.name, got, tc.want)
		}
	}
}
