// Package vod models one recorded broadcast and persists it in SQLite.
//
// A VOD carries the lifecycle flags driven by the capture package, the
// ordered segment files it is made of, and the chapters accumulated while it
// was live. Provider-specific details live behind the sealed ProviderData
// interface so callers handle every provider explicitly.
//
// The Store follows the usual WAL plus busy-retry SQLite setup: one row per
// VOD, child tables for segments and chapters, and a single schema version
// row checked on open. Save replaces a VOD's children in one transaction so
// readers never see a half-written segment list.
package vod
