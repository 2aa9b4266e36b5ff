// Package capture drives a broadcast from "went live" to a finalized VOD.
//
// The Manager keeps one actor per VOD. Every transition, chapter append and
// save for a VOD happens under that actor's mutex, so a capture exit and an
// administrative command can never interleave on the same record. States
// follow idle, capturing, converting, finalized through internal/fsm; the
// failed and stopped flags sit beside the state and never move it.
//
// Capture runs streamlink as a supervised job. A retryable exit starts a new
// part file after the configured delay until the retry budget is spent; a
// clean exit moves the VOD to converting, where every captured segment is
// remuxed with a bounded number of concurrent ffmpeg jobs. An upstream
// "ended" event is only recorded as a hint: the capture process exit is what
// advances the state.
//
// Recover reconciles persisted jobs at startup. Orphaned jobs and VODs left
// mid-flight flag their VOD for recapture or reconversion; nothing is
// resumed automatically.
package capture
