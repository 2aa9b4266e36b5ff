package vod_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"livestreamdvr/internal/timeline"
	"livestreamdvr/internal/vod"
)

func size(n int64) *int64 { return &n }

func TestTotalSizeRespectsDeletedFlag(t *testing.T) {
	v := &vod.VOD{Segments: []vod.Segment{
		{Basename: "a.ts", Size: size(1024)},
		{Basename: "b.ts", Size: size(2048)},
		{Basename: "c.ts", Size: size(0), Deleted: true},
	}}
	if got := v.TotalSize(); got != 3072 {
		t.Fatalf("TotalSize = %d, want 3072", got)
	}

	v.Segments[2].Size = size(4096)
	if got := v.TotalSize(); got != 3072 {
		t.Fatalf("deleted segment counted: TotalSize = %d, want 3072", got)
	}
	v.Segments[2].Deleted = false
	if got := v.TotalSize(); got != 7168 {
		t.Fatalf("restored segment not counted: TotalSize = %d, want 7168", got)
	}

	v.Segments = append(v.Segments, vod.Segment{Basename: "unmeasured.ts"})
	if got := v.TotalSize(); got != 7168 {
		t.Fatalf("unmeasured segment changed total: %d", got)
	}
}

func TestStateFollowsFlags(t *testing.T) {
	v := &vod.VOD{}
	if v.State() != vod.StateIdle {
		t.Fatalf("zero VOD state = %s", v.State())
	}
	for _, s := range []vod.State{vod.StateCapturing, vod.StateConverting, vod.StateFinalized, vod.StateIdle} {
		v.SetState(s)
		if v.State() != s {
			t.Fatalf("SetState(%s) gave %s", s, v.State())
		}
	}
	v.SetState(vod.StateFinalized)
	if v.IsCapturing || v.IsConverting {
		t.Fatal("finalized VOD still capturing or converting")
	}
}

func TestCheckInvariants(t *testing.T) {
	base := func() *vod.VOD {
		return &vod.VOD{UUID: "u", Data: vod.TwitchData{Login: "chan"}}
	}
	if err := base().CheckInvariants(); err != nil {
		t.Fatalf("valid VOD rejected: %v", err)
	}

	cases := map[string]func(*vod.VOD){
		"finalized and capturing":  func(v *vod.VOD) { v.IsFinalized, v.IsCapturing = true, true },
		"finalized and converting": func(v *vod.VOD) { v.IsFinalized, v.IsConverting = true, true },
		"capturing and converting": func(v *vod.VOD) { v.IsCapturing, v.IsConverting = true, true },
		"no provider":              func(v *vod.VOD) { v.Data = nil },
		"chapters out of order": func(v *vod.VOD) {
			now := time.Now()
			v.Chapters = []timeline.Chapter{{StartedAt: now}, {StartedAt: now.Add(-time.Second)}}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			v := base()
			mutate(v)
			if err := v.CheckInvariants(); err == nil {
				t.Fatal("expected invariant violation")
			}
		})
	}
}

func TestSetDurationIsAuthoritativeUnlessForced(t *testing.T) {
	v := &vod.VOD{}
	if !v.SetDuration(120, false) {
		t.Fatal("first SetDuration should write")
	}
	if v.SetDuration(90, false) {
		t.Fatal("unforced SetDuration overwrote an existing duration")
	}
	if *v.Duration != 120 {
		t.Fatalf("duration = %v, want 120", *v.Duration)
	}
	if !v.SetDuration(90, true) || *v.Duration != 90 {
		t.Fatalf("forced SetDuration did not write: %v", *v.Duration)
	}
	if v.SetDuration(-1, true) {
		t.Fatal("negative duration accepted")
	}
}

func TestRefreshSegmentsMarksMissingFilesDeleted(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.ts"), make([]byte, 100), 0o644); err != nil {
		t.Fatal(err)
	}
	v := &vod.VOD{Directory: dir}
	v.AddSegment("a.ts")
	v.AddSegment("gone.ts")
	v.AddSegment("a.ts")
	if len(v.Segments) != 2 {
		t.Fatalf("AddSegment duplicated an entry: %+v", v.Segments)
	}

	changed, err := v.RefreshSegments()
	if err != nil {
		t.Fatalf("RefreshSegments: %v", err)
	}
	if !changed {
		t.Fatal("expected a change")
	}
	if v.Segments[0].Size == nil || *v.Segments[0].Size != 100 || v.Segments[0].Deleted {
		t.Fatalf("segment a not measured: %+v", v.Segments[0])
	}
	if !v.Segments[1].Deleted {
		t.Fatal("missing segment not marked deleted")
	}
	if got := v.TotalSize(); got != 100 {
		t.Fatalf("TotalSize = %d", got)
	}

	changed, err = v.RefreshSegments()
	if err != nil || changed {
		t.Fatalf("second refresh changed=%v err=%v", changed, err)
	}
	if len(v.LiveSegments()) != 1 {
		t.Fatalf("LiveSegments = %+v", v.LiveSegments())
	}
}

func TestRebuildSegmentsFromDisk(t *testing.T) {
	dir := t.TempDir()
	for name, n := range map[string]int{"show_part2.ts": 20, "show.ts": 10, "other.ts": 5} {
		if err := os.WriteFile(filepath.Join(dir, name), make([]byte, n), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "show_dir"), 0o755); err != nil {
		t.Fatal(err)
	}
	v := &vod.VOD{Directory: dir, Basename: "show"}
	if err := v.RebuildSegments(""); err != nil {
		t.Fatalf("RebuildSegments: %v", err)
	}
	var names []string
	for _, seg := range v.Segments {
		names = append(names, seg.Basename)
	}
	if strings.Join(names, ",") != "show.ts,show_part2.ts" {
		t.Fatalf("segments = %v", names)
	}
	if v.TotalSize() != 30 {
		t.Fatalf("TotalSize = %d", v.TotalSize())
	}
}

func TestProviderSwitchIsExhaustive(t *testing.T) {
	name := vod.Cases[string]{
		OnTwitch:  func(d vod.TwitchData) string { return "twitch:" + d.Login },
		OnYouTube: func(d vod.YouTubeData) string { return "youtube:" + d.VideoID },
		OnKick:    func(d vod.KickData) string { return "kick:" + d.Slug },
	}
	cases := []struct {
		data vod.ProviderData
		want string
		url  string
	}{
		{vod.TwitchData{Login: "someone"}, "twitch:someone", "https://www.twitch.tv/someone"},
		{vod.YouTubeData{VideoID: "abc123"}, "youtube:abc123", "https://www.youtube.com/watch?v=abc123"},
		{vod.YouTubeData{ChannelHandle: "chan"}, "youtube:", "https://www.youtube.com/@chan/live"},
		{vod.KickData{Slug: "streamer"}, "kick:streamer", "https://kick.com/streamer"},
		{&vod.KickData{Slug: "ptr"}, "kick:ptr", "https://kick.com/ptr"},
	}
	for _, tc := range cases {
		if got := vod.Switch[string](tc.data, name); got != tc.want {
			t.Errorf("Switch(%#v) = %q, want %q", tc.data, got, tc.want)
		}
		if got := tc.data.StreamURL(); got != tc.url {
			t.Errorf("StreamURL(%#v) = %q, want %q", tc.data, got, tc.url)
		}
	}
}

func TestDecodeProviderData(t *testing.T) {
	data, err := vod.DecodeProviderData(vod.ProviderKick, []byte(`{"slug":"x","livestream_id":"9"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if kick, ok := data.(vod.KickData); !ok || kick.LivestreamID != "9" {
		t.Fatalf("decoded %#v", data)
	}
	if _, err := vod.DecodeProviderData("myspace", nil); err == nil {
		t.Fatal("unknown provider accepted")
	}
	if _, err := vod.ParseProvider(" YouTube "); err != nil {
		t.Fatalf("ParseProvider: %v", err)
	}
}
