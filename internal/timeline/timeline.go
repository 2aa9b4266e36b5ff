package timeline

import (
	"log/slog"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"livestreamdvr/internal/logging"
	"livestreamdvr/internal/metrics"
	"livestreamdvr/internal/services"
)

// Raw is an inbound chapter event.
type Raw struct {
	At           time.Time `json:"at"`
	Title        string    `json:"title"`
	CategoryID   string    `json:"category_id,omitempty"`
	CategoryName string    `json:"category_name,omitempty"`
	ViewerCount  *int      `json:"viewer_count,omitempty"`
	Online       bool      `json:"online"`
	IsMature     bool      `json:"is_mature,omitempty"`
}

// Chapter is a derived sub-interval of a broadcast. Offset and Duration are
// in seconds and stay nil until they can be computed.
type Chapter struct {
	StartedAt    time.Time `json:"started_at"`
	Offset       *float64  `json:"offset,omitempty"`
	Duration     *float64  `json:"duration,omitempty"`
	Title        string    `json:"title"`
	CategoryID   string    `json:"category_id,omitempty"`
	CategoryName string    `json:"category_name,omitempty"`
	ViewerCount  *int      `json:"viewer_count,omitempty"`
	Online       bool      `json:"online"`
	IsMature     bool      `json:"is_mature,omitempty"`
}

// End returns StartedAt plus Duration when the duration is known.
func (c Chapter) End() (time.Time, bool) {
	if c.Duration == nil {
		return time.Time{}, false
	}
	return c.StartedAt.Add(time.Duration(*c.Duration * float64(time.Second))), true
}

// Timeline holds the ordered chapters of one broadcast.
type Timeline struct {
	startedAt *time.Time
	endedAt   *time.Time
	chapters  []Chapter
	logger    *slog.Logger
}

// New creates an empty timeline. A nil startedAt leaves offsets undefined.
func New(startedAt *time.Time, logger *slog.Logger) *Timeline {
	return &Timeline{startedAt: copyTime(startedAt), logger: logging.NewComponentLogger(logger, "timeline")}
}

// Load rebuilds a timeline from persisted chapters and recomputes the
// derived fields.
func Load(startedAt, endedAt *time.Time, chapters []Chapter, logger *slog.Logger) *Timeline {
	t := New(startedAt, logger)
	t.endedAt = copyTime(endedAt)
	t.chapters = append([]Chapter(nil), chapters...)
	t.recompute()
	return t
}

// Append normalises raw, adds it as the newest chapter, and closes the
// previous chapter's duration. An event older than the previous chapter is
// logged and rejected with *services.TimelineAnomaly.
func (t *Timeline) Append(raw Raw) (Chapter, error) {
	ch := Chapter{
		StartedAt:    raw.At,
		Title:        clean(raw.Title),
		CategoryID:   strings.TrimSpace(raw.CategoryID),
		CategoryName: clean(raw.CategoryName),
		ViewerCount:  raw.ViewerCount,
		Online:       raw.Online,
		IsMature:     raw.IsMature,
	}
	if n := len(t.chapters); n > 0 {
		prev := t.chapters[n-1].StartedAt
		if raw.At.Before(prev) {
			metrics.IncTimelineAnomaly()
			logging.WarnWithContext(t.logger, "out-of-order chapter skipped", "timeline_anomaly",
				logging.String("title", ch.Title),
				logging.String("at", raw.At.UTC().Format(time.RFC3339)),
				logging.String("previous", prev.UTC().Format(time.RFC3339)),
				logging.String(logging.FieldImpact, "chapter list omits this event"),
			)
			return Chapter{}, &services.TimelineAnomaly{Title: ch.Title, At: raw.At, Previous: prev}
		}
	}
	t.chapters = append(t.chapters, ch)
	t.recompute()
	return t.chapters[len(t.chapters)-1], nil
}

// Finalize closes the last chapter at endedAt. With no chapters it does
// nothing; with a nil endedAt the last duration stays unset.
func (t *Timeline) Finalize(endedAt *time.Time) {
	if endedAt != nil {
		t.endedAt = copyTime(endedAt)
	}
	if len(t.chapters) == 0 {
		return
	}
	t.recompute()
}

// Recalculate replaces the broadcast bounds and recomputes every chapter.
func (t *Timeline) Recalculate(startedAt, endedAt *time.Time) {
	t.startedAt = copyTime(startedAt)
	t.endedAt = copyTime(endedAt)
	t.recompute()
}

// Chapters returns a copy of the chapter list.
func (t *Timeline) Chapters() []Chapter {
	out := make([]Chapter, len(t.chapters))
	copy(out, t.chapters)
	return out
}

// Len reports the number of chapters.
func (t *Timeline) Len() int { return len(t.chapters) }

// Current returns the newest chapter.
func (t *Timeline) Current() (Chapter, bool) {
	if len(t.chapters) == 0 {
		return Chapter{}, false
	}
	return t.chapters[len(t.chapters)-1], true
}

// GameOffset is the first chapter's offset: time from stream start to the
// first tracked category.
func (t *Timeline) GameOffset() (float64, bool) {
	if len(t.chapters) == 0 || t.chapters[0].Offset == nil {
		return 0, false
	}
	return *t.chapters[0].Offset, true
}

func (t *Timeline) recompute() {
	for i := range t.chapters {
		ch := &t.chapters[i]
		begin := ch.StartedAt
		ch.Offset = nil
		if t.startedAt != nil {
			offset := ch.StartedAt.Sub(*t.startedAt).Seconds()
			if offset < 0 {
				// Started before the capture: count from the broadcast start.
				offset = 0
				begin = *t.startedAt
			}
			ch.Offset = &offset
		}

		var end *time.Time
		if i+1 < len(t.chapters) {
			next := t.chapters[i+1].StartedAt
			end = &next
		} else if t.endedAt != nil {
			end = t.endedAt
		}
		ch.Duration = nil
		if end != nil {
			d := end.Sub(begin).Seconds()
			if d < 0 {
				d = 0
			}
			ch.Duration = &d
		}
	}
}

func clean(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
