package notifications

import (
	"context"
	"errors"
	"time"
)

// Kind identifies a notification.
type Kind string

const (
	KindJobUpdate     Kind = "job_update"
	KindJobClear      Kind = "job_clear"
	KindVODTransition Kind = "vod_transition"
	KindVODFailed     Kind = "vod_failed"
)

// Event is one downstream notification. Fields irrelevant to a Kind are zero.
type Event struct {
	Kind     Kind      `json:"kind"`
	JobName  string    `json:"job_name,omitempty"`
	PID      int       `json:"pid,omitempty"`
	VODUUID  string    `json:"vod_uuid,omitempty"`
	Basename string    `json:"basename,omitempty"`
	From     string    `json:"from,omitempty"`
	To       string    `json:"to,omitempty"`
	Progress *float64  `json:"progress,omitempty"`
	Status   string    `json:"status,omitempty"`
	Message  string    `json:"message,omitempty"`
	At       time.Time `json:"at"`
}

// Notifier publishes events. Implementations must not block for long; a
// returned error is logged by the caller and otherwise ignored.
type Notifier interface {
	Publish(ctx context.Context, event Event) error
}

// Noop discards every event.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }

// Multi publishes to each notifier in order and joins their errors.
type Multi []Notifier

func (m Multi) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OrNoop returns n, or Noop when n is nil.
func OrNoop(n Notifier) Notifier {
	if n == nil {
		return Noop{}
	}
	return n
}
