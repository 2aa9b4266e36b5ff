// Package fsm is a small strict state machine. Unknown transitions are
// errors.
package fsm

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidTransition is returned when no edge leaves the current state on
// the given event.
var ErrInvalidTransition = errors.New("invalid transition")

// Transition is one edge. Guard may reject it; Action runs before the state
// changes and aborts the transition on error.
type Transition[S ~string, E ~string] struct {
	From   S
	Event  E
	To     S
	Guard  func(ctx context.Context, from S, event E) error
	Action func(ctx context.Context, from, to S, event E) error
}

// Machine holds the current state of one entity.
type Machine[S ~string, E ~string] struct {
	mu    sync.Mutex
	state S
	index map[string]Transition[S, E]
}

// New builds a machine in the initial state. Duplicate (From, Event) pairs
// are rejected.
func New[S ~string, E ~string](initial S, transitions []Transition[S, E]) (*Machine[S, E], error) {
	idx := make(map[string]Transition[S, E], len(transitions))
	for _, t := range transitions {
		k := key(t.From, t.Event)
		if _, exists := idx[k]; exists {
			return nil, fmt.Errorf("duplicate transition: %s on %s", t.From, t.Event)
		}
		idx[k] = t
	}
	return &Machine[S, E]{state: initial, index: idx}, nil
}

// State returns the current state.
func (m *Machine[S, E]) State() S {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Restore sets the state directly, for entities loaded from storage.
func (m *Machine[S, E]) Restore(state S) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}

// Can reports whether event has an edge from the current state.
func (m *Machine[S, E]) Can(event E) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.index[key(m.state, event)]
	return ok
}

// Fire applies event. Guard and Action run outside the lock; a concurrent
// change of state in the meantime fails the transition.
func (m *Machine[S, E]) Fire(ctx context.Context, event E) (S, error) {
	m.mu.Lock()
	from := m.state
	t, ok := m.index[key(from, event)]
	m.mu.Unlock()
	if !ok {
		return from, fmt.Errorf("%w: state=%s event=%s", ErrInvalidTransition, from, event)
	}

	to := t.To
	if t.Guard != nil {
		if err := t.Guard(ctx, from, event); err != nil {
			return from, err
		}
	}
	if t.Action != nil {
		if err := t.Action(ctx, from, to, event); err != nil {
			return from, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != from {
		return m.state, fmt.Errorf("concurrent transition: from=%s cur=%s event=%s", from, m.state, event)
	}
	m.state = to
	return to, nil
}

func key[S ~string, E ~string](from S, event E) string {
	return string(from) + "|" + string(event)
}
