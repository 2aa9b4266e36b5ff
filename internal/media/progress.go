package media

import (
	"math"
	"regexp"

	"livestreamdvr/internal/textutil"
)

var (
	durationPattern = regexp.MustCompile(`Duration:\s*(\d+:\d{2}:\d{2}(?:\.\d+)?)`)
	timePattern     = regexp.MustCompile(`time=\s*(\d+:\d{2}:\d{2}(?:\.\d+)?)`)
)

// DurationProgress turns ffmpeg-style output into a completion fraction.
// The first "Duration: HH:MM:SS" line sets the total unless one was given up
// front; every "time=HH:MM:SS" line after that yields current/total clamped
// to [0,1]. Without a total nothing is reported.
type DurationProgress struct {
	total float64
	fixed bool
}

// NewDurationProgress returns a parser. A positive total skips Duration
// line detection, which suits cuts where the span is known.
func NewDurationProgress(total float64) *DurationProgress {
	if total > 0 && !math.IsInf(total, 0) {
		return &DurationProgress{total: total, fixed: true}
	}
	return &DurationProgress{}
}

// Total returns the duration in seconds once known.
func (p *DurationProgress) Total() (float64, bool) {
	return p.total, p.total > 0
}

// Feed parses one output line.
func (p *DurationProgress) Feed(line string) (float64, bool) {
	if p.total <= 0 {
		if m := durationPattern.FindStringSubmatch(line); m != nil {
			if v, ok := textutil.ParseClock(m[1]); ok && v > 0 {
				p.total = v
			}
		}
		return 0, false
	}
	m := timePattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	current, ok := textutil.ParseClock(m[1])
	if !ok {
		return 0, false
	}
	return math.Max(0, math.Min(1, current/p.total)), true
}
