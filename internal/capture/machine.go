package capture

import (
	"context"
	"time"

	"livestreamdvr/internal/fsm"
	"livestreamdvr/internal/vod"
)

// Event drives a VOD's state machine.
type Event string

const (
	EventLive      Event = "live"
	EventCaptured  Event = "captured"
	EventReconvert Event = "reconvert"
	EventConverted Event = "converted"
)

// newMachine builds the transition table for one actor. Actions run with
// the actor lock held and commit the VOD before the state moves.
func (m *Manager) newMachine(a *actor) *fsm.Machine[vod.State, Event] {
	machine, err := fsm.New(a.v.State(), []fsm.Transition[vod.State, Event]{
		{
			From: vod.StateIdle, Event: EventLive, To: vod.StateCapturing,
			Action: func(ctx context.Context, _, to vod.State, _ Event) error {
				return m.commit(ctx, a, func(v *vod.VOD) {
					now := time.Now().UTC()
					if v.StartedAt == nil {
						v.StartedAt = &now
					}
					v.CaptureStartedAt = &now
					v.SetState(to)
				})
			},
		},
		{
			From: vod.StateCapturing, Event: EventCaptured, To: vod.StateConverting,
			Action: func(ctx context.Context, _, to vod.State, _ Event) error {
				return m.commit(ctx, a, func(v *vod.VOD) {
					now := time.Now().UTC()
					v.ConversionStartedAt = &now
					v.SetState(to)
				})
			},
		},
		{
			From: vod.StateConverting, Event: EventReconvert, To: vod.StateConverting,
			Action: func(ctx context.Context, _, _ vod.State, _ Event) error {
				return m.commit(ctx, a, func(v *vod.VOD) {
					now := time.Now().UTC()
					v.ConversionStartedAt = &now
				})
			},
		},
		{
			From: vod.StateConverting, Event: EventConverted, To: vod.StateFinalized,
			Action: func(ctx context.Context, _, to vod.State, _ Event) error {
				return m.commit(ctx, a, func(v *vod.VOD) {
					m.finalizeFields(ctx, v)
					v.SetState(to)
				})
			},
		},
	})
	if err != nil {
		// The table above is static; a duplicate edge is a programming error.
		panic(err)
	}
	return machine
}
