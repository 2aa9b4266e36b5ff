package vod

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"livestreamdvr/internal/timeline"
)

// State is the lifecycle position derived from a VOD's flags.
type State string

const (
	StateIdle       State = "idle"
	StateCapturing  State = "capturing"
	StateConverting State = "converting"
	StateFinalized  State = "finalized"
)

// Recovery names the work a VOD needs after its job was lost.
type Recovery string

const (
	RecoveryNone      Recovery = ""
	RecoveryRecapture Recovery = "recapture"
	RecoveryReconvert Recovery = "reconvert"
)

// Segment is one media file making up the VOD. Size is nil until measured.
type Segment struct {
	Basename string `json:"basename"`
	Size     *int64 `json:"size,omitempty"`
	Deleted  bool   `json:"deleted"`
}

// VOD is one recorded broadcast.
type VOD struct {
	UUID      string
	ChannelID string
	Data      ProviderData
	Basename  string
	Directory string

	IsCapturing   bool
	IsConverting  bool
	IsFinalized   bool
	Failed        bool
	Stopped       bool
	LastError     string
	NeedsRecovery Recovery
	Retries       int

	CreatedAt           time.Time
	StartedAt           *time.Time
	EndedAt             *time.Time
	SavedAt             *time.Time
	CaptureStartedAt    *time.Time
	ConversionStartedAt *time.Time
	// EndHintAt records the upstream "broadcast ended" signal. It never
	// changes state by itself.
	EndHintAt *time.Time

	Segments []Segment
	Chapters []timeline.Chapter
	// Duration in seconds. Once set it is authoritative; see SetDuration.
	Duration *float64
}

// Provider returns the VOD's provider, or "" when no data is attached.
func (v *VOD) Provider() Provider {
	if v.Data == nil {
		return ""
	}
	return v.Data.Provider()
}

// State derives the lifecycle position from the flags.
func (v *VOD) State() State {
	switch {
	case v.IsFinalized:
		return StateFinalized
	case v.IsConverting:
		return StateConverting
	case v.IsCapturing:
		return StateCapturing
	default:
		return StateIdle
	}
}

// SetState rewrites the flags to match s.
func (v *VOD) SetState(s State) {
	v.IsCapturing = s == StateCapturing
	v.IsConverting = s == StateConverting
	v.IsFinalized = s == StateFinalized
}

// TotalSize sums the sizes of segments that are not deleted. Unmeasured
// segments count as zero.
func (v *VOD) TotalSize() int64 {
	var total int64
	for _, seg := range v.Segments {
		if seg.Deleted || seg.Size == nil {
			continue
		}
		total += *seg.Size
	}
	return total
}

// SegmentPath joins the VOD directory with a segment basename.
func (v *VOD) SegmentPath(seg Segment) string {
	return filepath.Join(v.Directory, seg.Basename)
}

// LiveSegments returns the segments that still exist on disk.
func (v *VOD) LiveSegments() []Segment {
	out := make([]Segment, 0, len(v.Segments))
	for _, seg := range v.Segments {
		if !seg.Deleted {
			out = append(out, seg)
		}
	}
	return out
}

// AddSegment registers a segment file by basename. An existing entry with
// the same basename is revived instead of duplicated.
func (v *VOD) AddSegment(basename string) {
	for i := range v.Segments {
		if v.Segments[i].Basename == basename {
			v.Segments[i].Deleted = false
			return
		}
	}
	v.Segments = append(v.Segments, Segment{Basename: basename})
}

// RefreshSegments stats every segment, refreshing sizes and marking missing
// files deleted. It reports whether anything changed.
func (v *VOD) RefreshSegments() (bool, error) {
	changed := false
	for i := range v.Segments {
		seg := &v.Segments[i]
		info, err := os.Stat(v.SegmentPath(*seg))
		if errors.Is(err, os.ErrNotExist) {
			if !seg.Deleted {
				seg.Deleted = true
				changed = true
			}
			continue
		}
		if err != nil {
			return changed, fmt.Errorf("stat segment %s: %w", seg.Basename, err)
		}
		size := info.Size()
		if seg.Deleted || seg.Size == nil || *seg.Size != size {
			seg.Deleted = false
			seg.Size = &size
			changed = true
		}
	}
	return changed, nil
}

// RebuildSegments replaces the segment list with the regular files in the
// VOD directory matching pattern, sorted by name.
func (v *VOD) RebuildSegments(pattern string) error {
	if pattern == "" {
		pattern = v.Basename + "*"
	}
	matches, err := filepath.Glob(filepath.Join(v.Directory, pattern))
	if err != nil {
		return fmt.Errorf("glob segments: %w", err)
	}
	sort.Strings(matches)
	segments := make([]Segment, 0, len(matches))
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		size := info.Size()
		segments = append(segments, Segment{Basename: filepath.Base(path), Size: &size})
	}
	v.Segments = segments
	return nil
}

// SetDuration stores seconds unless a duration is already known and force is
// false. It reports whether the value was written.
func (v *VOD) SetDuration(seconds float64, force bool) bool {
	if v.Duration != nil && !force {
		return false
	}
	if seconds < 0 {
		return false
	}
	v.Duration = &seconds
	return true
}

// Timeline rebuilds the chapter timeline from the persisted chapters. Until
// the VOD is finalized the end hint, when present, closes the last chapter.
func (v *VOD) Timeline(logger *slog.Logger) *timeline.Timeline {
	end := v.EndedAt
	if end == nil {
		end = v.EndHintAt
	}
	return timeline.Load(v.StartedAt, end, v.Chapters, logger)
}

// GameOffset is the first chapter's offset from the broadcast start.
func (v *VOD) GameOffset() (float64, bool) {
	return v.Timeline(nil).GameOffset()
}

// CurrentChapter returns the newest chapter.
func (v *VOD) CurrentChapter() (timeline.Chapter, bool) {
	return v.Timeline(nil).Current()
}

// CheckInvariants reports flag combinations that must never be persisted.
func (v *VOD) CheckInvariants() error {
	if v.IsFinalized && (v.IsCapturing || v.IsConverting) {
		return fmt.Errorf("vod %s: finalized while capturing=%t converting=%t", v.UUID, v.IsCapturing, v.IsConverting)
	}
	if v.IsCapturing && v.IsConverting {
		return fmt.Errorf("vod %s: capturing and converting at once", v.UUID)
	}
	if v.Data == nil {
		return fmt.Errorf("vod %s: missing provider data", v.UUID)
	}
	for i := 1; i < len(v.Chapters); i++ {
		if v.Chapters[i].StartedAt.Before(v.Chapters[i-1].StartedAt) {
			return fmt.Errorf("vod %s: chapter %d starts before chapter %d", v.UUID, i, i-1)
		}
	}
	return nil
}
