package procexec

import (
	"strings"
	"time"
)

// Stream identifies which output pipe a line came from.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// Line is one line of tool output. Lines from the same stream arrive in the
// order the OS delivered them.
type Line struct {
	Stream Stream
	Text   string
	At     time.Time
}

// Command describes one external tool invocation.
type Command struct {
	// Label is a short human description used in logs, metrics and errors.
	Label string
	Bin   string
	Args  []string
	// Env is appended to the daemon environment.
	Env []string
	Dir string
	// CaptureOutput keeps the complete stdout in Result.Output. The line
	// tails in Result are bounded and only suit diagnostics.
	CaptureOutput bool
}

func (c Command) label() string {
	if c.Label != "" {
		return c.Label
	}
	return c.Bin
}

// String renders the command line for diagnostics. It is never executed.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Bin
	}
	return c.Bin + " " + strings.Join(c.Args, " ")
}

// Result is delivered when a process closes, whatever the outcome.
type Result struct {
	Label     string
	Bin       string
	Args      []string
	PID       int
	ExitCode  int
	Stdout    []string
	Stderr    []string
	Stopped   bool
	StartedAt time.Time
	EndedAt   time.Time

	// Output is the unabridged stdout, set only for CaptureOutput commands.
	Output []byte
}

// Runtime reports the wall-clock time between spawn and close.
func (r Result) Runtime() time.Duration {
	if r.EndedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// RunningProcess is the registry entry for a live process.
type RunningProcess struct {
	ID        uint64
	PID       int
	Label     string
	Bin       string
	Args      []string
	StartedAt time.Time
}
