package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// SpawnError reports that an external binary could not be started at all.
type SpawnError struct {
	Label string
	Bin   string
	Args  []string
	Err   error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s (%s): %v", labelOr(e.Label, e.Bin), commandLine(e.Bin, e.Args), e.Err)
}

func (e *SpawnError) Unwrap() []error { return []error{ErrExternalTool, e.Err} }

// ValidationError reports a precondition failure detected before any process runs.
type ValidationError struct {
	Op     string
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Path, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ToolFailure reports a process that exited non-zero or produced no usable
// artifact. Captured output is kept for diagnostics.
type ToolFailure struct {
	Label    string
	Bin      string
	Args     []string
	ExitCode int
	Stdout   []string
	Stderr   []string
	Message  string
}

func (e *ToolFailure) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = "unknown error"
	}
	return fmt.Sprintf("%s exited with code %d: %s", labelOr(e.Label, e.Bin), e.ExitCode, msg)
}

func (e *ToolFailure) Unwrap() error { return ErrExternalTool }

// OrphanedJobError describes a persisted job whose process did not survive a restart.
type OrphanedJobError struct {
	Name    string
	PID     int
	Bin     string
	VODUUID string
}

func (e *OrphanedJobError) Error() string {
	return fmt.Sprintf("job %s: pid %d (%s) is no longer running", e.Name, e.PID, e.Bin)
}

func (e *OrphanedJobError) Unwrap() error { return ErrNotFound }

// TimelineAnomaly describes a chapter event that arrived out of order.
type TimelineAnomaly struct {
	Title    string
	At       time.Time
	Previous time.Time
}

func (e *TimelineAnomaly) Error() string {
	return fmt.Sprintf("chapter %q at %s precedes previous chapter at %s",
		e.Title, e.At.UTC().Format(time.RFC3339), e.Previous.UTC().Format(time.RFC3339))
}

func (e *TimelineAnomaly) Unwrap() error { return ErrValidation }

// Retryable reports whether an operation that failed with err may be attempted
// again by a retry policy.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var spawnErr *SpawnError
	if errors.As(err, &spawnErr) {
		return false
	}
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrConfiguration), errors.Is(err, ErrNotFound):
		return false
	case errors.Is(err, ErrExternalTool), errors.Is(err, ErrTransient), errors.Is(err, ErrTimeout):
		return true
	default:
		return false
	}
}

func labelOr(label, fallback string) string {
	if label = strings.TrimSpace(label); label != "" {
		return label
	}
	return fallback
}

func commandLine(bin string, args []string) string {
	if len(args) == 0 {
		return bin
	}
	return bin + " " + strings.Join(args, " ")
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
