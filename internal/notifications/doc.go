// Package notifications carries fire-and-forget updates to downstream
// consumers: job progress, job clears and VOD state transitions.
//
// Bus is an in-process fan-out that drops instead of blocking when a
// subscriber falls behind. The ntfy sender pushes VOD transitions and failures
// to a configured topic. NewService combines them according to config.
// Publishing never fails the operation that triggered it.
package notifications
