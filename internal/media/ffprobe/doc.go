// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// Key types:
//   - Result: parsed ffprobe output containing streams and format metadata
//   - Stream: individual audio/video/subtitle stream properties
//   - Format: container-level metadata (duration, size, bitrate)
//
// Inspect runs ffprobe through a procexec runner so the invocation shows up
// in the running-process table like every other tool.
package ffprobe
