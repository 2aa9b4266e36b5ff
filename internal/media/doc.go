// Package media implements the tool-backed media operations: remux, cut,
// thumbnail, contact sheet, ffprobe and mediainfo.
//
// Long operations run as supervised jobs so their progress is visible in the
// job registry. Every operation validates its inputs before spawning and
// decides success by inspecting the artifact it was asked to produce: a
// non-empty output counts as success even when the tool exits non-zero, and
// a missing or zero-byte output is a failure even when it exits zero.
// Zero-byte outputs are removed before the failure is reported.
package media
