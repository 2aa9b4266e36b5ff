// Package timeline derives chapter offsets and durations for a broadcast.
//
// Chapters arrive as raw events carrying a wall-clock timestamp. Each
// chapter's offset is measured from the broadcast start; its duration runs
// until the next chapter, or until the broadcast end for the last one.
// Events older than the previous chapter are rejected with a
// *services.TimelineAnomaly and never appended, so durations stay
// non-negative. A Timeline is owned by one VOD and is not safe for
// concurrent use.
package timeline
