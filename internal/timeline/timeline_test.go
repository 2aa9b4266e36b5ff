package timeline_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"livestreamdvr/internal/logging"
	"livestreamdvr/internal/services"
	"livestreamdvr/internal/timeline"
)

var t0 = time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }

func ptr(t time.Time) *time.Time { return &t }

func floatsOf(t *testing.T, chapters []timeline.Chapter, pick func(timeline.Chapter) *float64) []float64 {
	t.Helper()
	out := make([]float64, 0, len(chapters))
	for _, ch := range chapters {
		v := pick(ch)
		if v == nil {
			t.Fatalf("unset value in chapter %+v", ch)
		}
		out = append(out, *v)
	}
	return out
}

func equal(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestOffsetsAndDurations(t *testing.T) {
	tl := timeline.New(ptr(t0), logging.NewNop())
	for i, sec := range []int{10, 40, 100} {
		ch, err := tl.Append(timeline.Raw{At: at(sec), Title: "part", Online: true})
		if err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
		if ch.Duration != nil {
			t.Fatalf("newest chapter should have no duration yet, got %v", *ch.Duration)
		}
	}
	last, _ := tl.Current()
	if last.Duration != nil {
		t.Fatal("last duration must wait for the broadcast end")
	}

	tl.Finalize(ptr(at(150)))
	chapters := tl.Chapters()
	offsets := floatsOf(t, chapters, func(c timeline.Chapter) *float64 { return c.Offset })
	durations := floatsOf(t, chapters, func(c timeline.Chapter) *float64 { return c.Duration })
	if !equal(offsets, []float64{10, 40, 100}) {
		t.Fatalf("offsets = %v", offsets)
	}
	if !equal(durations, []float64{30, 60, 50}) {
		t.Fatalf("durations = %v", durations)
	}
	if off, ok := tl.GameOffset(); !ok || off != 10 {
		t.Fatalf("game offset = %v, %v", off, ok)
	}
}

func TestFinalizeWithoutChaptersIsNoop(t *testing.T) {
	tl := timeline.New(ptr(t0), logging.NewNop())
	tl.Finalize(ptr(at(60)))
	tl.Finalize(nil)
	if tl.Len() != 0 {
		t.Fatal("no chapters expected")
	}
	if _, ok := tl.Current(); ok {
		t.Fatal("Current should report nothing")
	}
	if _, ok := tl.GameOffset(); ok {
		t.Fatal("GameOffset should be unknown")
	}
}

func TestOutOfOrderChapterIsFlaggedAndSkipped(t *testing.T) {
	tl := timeline.New(ptr(t0), logging.NewNop())
	if _, err := tl.Append(timeline.Raw{At: at(10), Title: "a"}); err != nil {
		t.Fatal(err)
	}
	if _, err := tl.Append(timeline.Raw{At: at(40), Title: "b"}); err != nil {
		t.Fatal(err)
	}
	_, err := tl.Append(timeline.Raw{At: at(20), Title: "late"})
	var anomaly *services.TimelineAnomaly
	if !errors.As(err, &anomaly) {
		t.Fatalf("expected TimelineAnomaly, got %v", err)
	}
	if !errors.Is(err, services.ErrValidation) {
		t.Fatal("anomaly should classify as validation")
	}
	if !anomaly.Previous.Equal(at(40)) {
		t.Fatalf("previous = %v", anomaly.Previous)
	}
	chapters := tl.Chapters()
	if len(chapters) != 2 || *chapters[0].Duration != 30 {
		t.Fatalf("prior chapters changed: %+v", chapters)
	}

	if _, err := tl.Append(timeline.Raw{At: at(40), Title: "same instant"}); err != nil {
		t.Fatalf("equal timestamps are allowed: %v", err)
	}
	for _, ch := range tl.Chapters() {
		if ch.Duration != nil && *ch.Duration < 0 {
			t.Fatalf("negative duration in %+v", ch)
		}
	}
}

func TestChapterBeforeStartIsMeasuredFromStart(t *testing.T) {
	tl := timeline.New(ptr(t0), logging.NewNop())
	if _, err := tl.Append(timeline.Raw{At: at(-300), Title: "pre-stream"}); err != nil {
		t.Fatal(err)
	}
	if _, err := tl.Append(timeline.Raw{At: at(60), Title: "main"}); err != nil {
		t.Fatal(err)
	}
	first := tl.Chapters()[0]
	if *first.Offset != 0 || *first.Duration != 60 {
		t.Fatalf("offset=%v duration=%v", *first.Offset, *first.Duration)
	}
}

func TestUnknownStartLeavesOffsetsUnset(t *testing.T) {
	tl := timeline.New(nil, logging.NewNop())
	if _, err := tl.Append(timeline.Raw{At: at(10), Title: "a"}); err != nil {
		t.Fatal(err)
	}
	if _, err := tl.Append(timeline.Raw{At: at(25), Title: "b"}); err != nil {
		t.Fatal(err)
	}
	tl.Finalize(nil)
	chapters := tl.Chapters()
	if chapters[0].Offset != nil || chapters[1].Offset != nil {
		t.Fatal("offsets must stay undefined without a start")
	}
	if *chapters[0].Duration != 15 {
		t.Fatalf("duration = %v", *chapters[0].Duration)
	}
	if chapters[1].Duration != nil {
		t.Fatal("last duration must stay unset without an end")
	}

	tl.Recalculate(ptr(t0), ptr(at(30)))
	chapters = tl.Chapters()
	if *chapters[0].Offset != 10 || *chapters[1].Duration != 5 {
		t.Fatalf("recalculated = %+v", chapters)
	}
}

func TestTitlesAreNormalised(t *testing.T) {
	tl := timeline.New(ptr(t0), logging.NewNop())
	ch, err := tl.Append(timeline.Raw{At: at(0), Title: "  Pok\u0065\u0301mon  ", CategoryName: " Caf\u0065\u0301 "})
	if err != nil {
		t.Fatal(err)
	}
	if ch.Title != "Pok\u00e9mon" || ch.CategoryName != "Caf\u00e9" {
		t.Fatalf("title=%q category=%q", ch.Title, ch.CategoryName)
	}
}

func TestLoadRecomputes(t *testing.T) {
	tl := timeline.Load(ptr(t0), ptr(at(150)), []timeline.Chapter{
		{StartedAt: at(10), Title: "a"},
		{StartedAt: at(40), Title: "b"},
	}, logging.NewNop())
	chapters := tl.Chapters()
	if *chapters[1].Duration != 110 || *chapters[1].Offset != 40 {
		t.Fatalf("chapters = %+v", chapters)
	}
	end, ok := chapters[0].End()
	if !ok || !end.Equal(at(40)) {
		t.Fatalf("End = %v, %v", end, ok)
	}
}

func TestWriteFFMetadata(t *testing.T) {
	tl := timeline.New(ptr(t0), logging.NewNop())
	_, _ = tl.Append(timeline.Raw{At: at(10), Title: "Intro; hi", CategoryName: "Just Chatting"})
	_, _ = tl.Append(timeline.Raw{At: at(40), Title: "Game=on"})
	tl.Finalize(ptr(at(100)))

	var buf bytes.Buffer
	if err := timeline.WriteFFMetadata(&buf, "stream #1", tl.Chapters()); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		";FFMETADATA1\n",
		"title=stream \\#1\n",
		"START=10000\nEND=40000\ntitle=Just Chatting: Intro\\; hi\n",
		"START=40000\nEND=100000\ntitle=Game\\=on\n",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}
