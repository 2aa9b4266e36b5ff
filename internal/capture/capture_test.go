package capture_test

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"go.uber.org/goleak"

	"livestreamdvr/internal/capture"
	"livestreamdvr/internal/config"
	"livestreamdvr/internal/jobs"
	"livestreamdvr/internal/logging"
	"livestreamdvr/internal/media"
	"livestreamdvr/internal/procexec"
	"livestreamdvr/internal/services"
	"livestreamdvr/internal/testsupport"
	"livestreamdvr/internal/timeline"
	"livestreamdvr/internal/vod"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// outputArg sets $out to the argument following --output.
const outputArg = `out=""; prev=""
for a in "$@"; do
  if [ "$prev" = "--output" ]; then out="$a"; fi
  prev="$a"
done
`

const (
	streamlinkOK = outputArg + `echo "[cli][info] Opening stream: 1080p60 (hls)"
printf 'captured-broadcast' > "$out"
exit 0`

	streamlinkFlaky = outputArg + `printf 'partial' > "$out"
echo "error: Unable to open URL" >&2
exit 1`

	streamlinkEndless = outputArg + `printf 'live' > "$out"
exec sleep 30`

	ffmpegOK = `for a in "$@"; do out="$a"; done
printf 'remuxed-video' > "$out"
exit 0`

	ffprobeOK = `echo '{"streams": [{"codec_type": "video"}], "format": {"duration": "3600.5", "size": "13"}}'`
)

type harness struct {
	cfg      *config.Config
	store    *vod.Store
	registry *jobs.Registry
	mgr      *capture.Manager
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	return newHarnessFor(t, cfg, testsupport.MustOpenStore(t, cfg))
}

func newHarnessFor(t *testing.T, cfg *config.Config, store *vod.Store) *harness {
	t.Helper()
	logger := logging.NewNop()
	runner := procexec.New(logger)
	registry := jobs.NewRegistry(cfg, logger, nil)
	pipeline := media.New(cfg, runner, registry, logger)
	mgr := capture.New(cfg, store, registry, runner, pipeline, nil, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := mgr.Close(ctx); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return &harness{cfg: cfg, store: store, registry: registry, mgr: mgr}
}

func (h *harness) live(t *testing.T, channel string) *vod.VOD {
	t.Helper()
	v, err := h.mgr.WentLive(context.Background(), capture.LiveEvent{
		ChannelID: channel,
		Provider:  vod.TwitchData{Login: channel, UserID: "42"},
	})
	if err != nil {
		t.Fatalf("WentLive: %v", err)
	}
	return v
}

func (h *harness) settle(t *testing.T, id string) *vod.VOD {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := h.mgr.Wait(ctx, id); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	v, err := h.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return v
}

func waitForFile(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("%s never appeared", path)
}

func TestWentLiveCapturesConvertsAndFinalizes(t *testing.T) {
	h := newHarness(t, testsupport.WithFakeTools(map[string]string{
		"streamlink": streamlinkOK,
		"ffmpeg":     ffmpegOK,
		"ffprobe":    ffprobeOK,
	}))
	started := h.live(t, "chan-1")
	if started.State() != vod.StateCapturing {
		t.Fatalf("state after WentLive = %s, want capturing", started.State())
	}

	v := h.settle(t, started.UUID)
	if v.State() != vod.StateFinalized {
		t.Fatalf("state = %s, want finalized (last error %q)", v.State(), v.LastError)
	}
	if v.Failed || v.Stopped {
		t.Fatalf("failed=%t stopped=%t, want neither", v.Failed, v.Stopped)
	}
	live := v.LiveSegments()
	if len(live) != 1 || live[0].Basename != v.Basename+".mp4" {
		t.Fatalf("segments = %+v, want one %s.mp4", live, v.Basename)
	}
	if got := v.TotalSize(); got != int64(len("remuxed-video")) {
		t.Fatalf("TotalSize = %d, want %d", got, len("remuxed-video"))
	}
	if _, err := os.Stat(filepath.Join(v.Directory, v.Basename+".ts")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("captured source still on disk: %v", err)
	}
	if v.Duration == nil || *v.Duration != 3600.5 {
		t.Fatalf("Duration = %v, want 3600.5", v.Duration)
	}
	if v.EndedAt == nil || v.CaptureStartedAt == nil || v.ConversionStartedAt == nil {
		t.Fatalf("timestamps not filled: ended=%v capture=%v conversion=%v", v.EndedAt, v.CaptureStartedAt, v.ConversionStartedAt)
	}
	if _, ok := h.registry.FindByName("capture_" + v.UUID); ok {
		t.Fatal("capture job still registered after exit")
	}
}

func TestCaptureRetriesIntoNewPartsThenFails(t *testing.T) {
	h := newHarness(t, testsupport.WithMaxRetries(2), testsupport.WithFakeTools(map[string]string{
		"streamlink": streamlinkFlaky,
	}))
	started := h.live(t, "chan-2")

	v := h.settle(t, started.UUID)
	if !v.Failed {
		t.Fatal("expected failed after the retry budget")
	}
	if v.State() != vod.StateCapturing {
		t.Fatalf("state = %s, want capturing", v.State())
	}
	if v.Retries != 2 {
		t.Fatalf("Retries = %d, want 2", v.Retries)
	}
	want := []string{v.Basename + ".ts", v.Basename + "_part1.ts", v.Basename + "_part2.ts"}
	var got []string
	for _, seg := range v.LiveSegments() {
		got = append(got, seg.Basename)
		if _, err := os.Stat(v.SegmentPath(seg)); err != nil {
			t.Fatalf("partial %s removed: %v", seg.Basename, err)
		}
	}
	if !slices.Equal(got, want) {
		t.Fatalf("segments = %v, want %v", got, want)
	}
	if v.TotalSize() != int64(3*len("partial")) {
		t.Fatalf("TotalSize = %d", v.TotalSize())
	}
	if v.LastError == "" {
		t.Fatal("LastError not recorded")
	}
}

func TestStopMarksStoppedNotFailed(t *testing.T) {
	h := newHarness(t, testsupport.WithFakeTools(map[string]string{
		"streamlink": streamlinkEndless,
	}))
	started := h.live(t, "chan-3")
	waitForFile(t, filepath.Join(started.Directory, started.Basename+".ts"))

	if err := h.mgr.Ended(context.Background(), started.UUID, time.Now()); err != nil {
		t.Fatalf("Ended: %v", err)
	}
	mid, err := h.mgr.Get(context.Background(), started.UUID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if mid.State() != vod.StateCapturing || mid.EndHintAt == nil {
		t.Fatalf("after Ended: state=%s hint=%v, want capturing with hint", mid.State(), mid.EndHintAt)
	}

	if err := h.mgr.Stop(context.Background(), started.UUID); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	v := h.settle(t, started.UUID)
	if !v.Stopped || v.Failed {
		t.Fatalf("stopped=%t failed=%t, want stopped only", v.Stopped, v.Failed)
	}
	if v.State() != vod.StateCapturing {
		t.Fatalf("state = %s, want capturing", v.State())
	}
	if v.Retries != 0 {
		t.Fatalf("Retries = %d; a stop must not retry", v.Retries)
	}
	if err := h.mgr.Stop(context.Background(), started.UUID); !errors.Is(err, capture.ErrNotRunning) {
		t.Fatalf("second Stop = %v, want ErrNotRunning", err)
	}
}

func TestRetryConvertsStoppedCapture(t *testing.T) {
	h := newHarness(t, testsupport.WithFakeTools(map[string]string{
		"streamlink": streamlinkEndless,
		"ffmpeg":     ffmpegOK,
		"ffprobe":    ffprobeOK,
	}))
	started := h.live(t, "chan-4")
	waitForFile(t, filepath.Join(started.Directory, started.Basename+".ts"))
	if err := h.mgr.Stop(context.Background(), started.UUID); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	h.settle(t, started.UUID)

	if err := h.mgr.Retry(context.Background(), started.UUID); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	v := h.settle(t, started.UUID)
	if v.State() != vod.StateFinalized {
		t.Fatalf("state = %s, want finalized (last error %q)", v.State(), v.LastError)
	}
	if v.Stopped || v.Failed || v.LastError != "" {
		t.Fatalf("flags not cleared: stopped=%t failed=%t err=%q", v.Stopped, v.Failed, v.LastError)
	}
	if err := h.mgr.Retry(context.Background(), started.UUID); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("Retry on finalized = %v, want validation error", err)
	}
}

func TestMissingCaptureToolFailsVOD(t *testing.T) {
	h := newHarness(t)
	h.cfg.Binaries.Streamlink = filepath.Join(testsupport.BaseDir(h.cfg), "missing", "streamlink")

	v, err := h.mgr.WentLive(context.Background(), capture.LiveEvent{
		ChannelID: "chan-5",
		Provider:  vod.KickData{Slug: "chan-5"},
	})
	var spawnErr *services.SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("WentLive error = %v, want SpawnError", err)
	}
	if v == nil || !v.Failed || v.State() != vod.StateIdle {
		t.Fatalf("vod = %+v, want failed idle", v)
	}
	stored, err := h.store.Get(context.Background(), v.UUID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !stored.Failed || stored.LastError == "" {
		t.Fatalf("stored failed=%t err=%q", stored.Failed, stored.LastError)
	}
}

func TestRetryRestartsCaptureThatNeverBegan(t *testing.T) {
	h := newHarness(t, testsupport.WithFakeTools(map[string]string{
		"streamlink": streamlinkOK,
		"ffmpeg":     ffmpegOK,
		"ffprobe":    ffprobeOK,
	}))
	streamlink := h.cfg.Binaries.Streamlink
	h.cfg.Binaries.Streamlink = filepath.Join(testsupport.BaseDir(h.cfg), "missing", "streamlink")

	failed, err := h.mgr.WentLive(context.Background(), capture.LiveEvent{
		ChannelID: "chan-9",
		Provider:  vod.TwitchData{Login: "chan9"},
	})
	if err == nil || !failed.Failed || failed.State() != vod.StateIdle {
		t.Fatalf("WentLive = %v, vod %+v; want failed idle", err, failed)
	}

	h.cfg.Binaries.Streamlink = streamlink
	if err := h.mgr.Retry(context.Background(), failed.UUID); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	v := h.settle(t, failed.UUID)
	if v.State() != vod.StateFinalized || v.Failed || v.LastError != "" {
		t.Fatalf("state=%s failed=%t err=%q, want clean finalized", v.State(), v.Failed, v.LastError)
	}

	fresh := testsupport.NewVOD(t, h.store, "chan-9", "", vod.TwitchData{Login: "chan9"})
	if err := h.mgr.Retry(context.Background(), fresh.UUID); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("Retry on untouched idle vod = %v, want validation error", err)
	}
}

func TestEmptyCaptureFails(t *testing.T) {
	h := newHarness(t, testsupport.WithFakeTools(map[string]string{
		"streamlink": `exit 0`,
	}))
	started := h.live(t, "chan-6")
	v := h.settle(t, started.UUID)
	if !v.Failed || v.State() != vod.StateCapturing {
		t.Fatalf("failed=%t state=%s, want failed capturing", v.Failed, v.State())
	}
	if v.LastError != "capture produced no data" {
		t.Fatalf("LastError = %q", v.LastError)
	}
}

func TestChapterRejectsOutOfOrderEvents(t *testing.T) {
	h := newHarness(t)
	v := testsupport.NewVOD(t, h.store, "chan-7", "", vod.YouTubeData{ChannelHandle: "chan7"})
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

	if _, err := h.mgr.Chapter(ctx, v.UUID, timeline.Raw{At: t0, Title: "Intro", CategoryName: "Just Chatting"}); err != nil {
		t.Fatalf("Chapter: %v", err)
	}
	if _, err := h.mgr.Chapter(ctx, v.UUID, timeline.Raw{At: t0.Add(30 * time.Minute), Title: "Game"}); err != nil {
		t.Fatalf("Chapter: %v", err)
	}
	_, err := h.mgr.Chapter(ctx, v.UUID, timeline.Raw{At: t0.Add(10 * time.Minute), Title: "Late"})
	var anomaly *services.TimelineAnomaly
	if !errors.As(err, &anomaly) {
		t.Fatalf("out-of-order Chapter = %v, want TimelineAnomaly", err)
	}

	stored, err := h.store.Get(ctx, v.UUID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(stored.Chapters) != 2 || stored.Chapters[1].Title != "Game" {
		t.Fatalf("chapters = %+v, want Intro and Game", stored.Chapters)
	}
	if d := stored.Chapters[0].Duration; d == nil || *d != 1800 {
		t.Fatalf("first chapter duration = %v, want 1800", d)
	}
}

func TestEndedClosesLastChapterAndKeepsGameOffset(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	v := testsupport.NewVOD(t, h.store, "chan-8", "", vod.TwitchData{Login: "chan8"})
	v.StartedAt = &t0
	if err := h.store.Save(ctx, v); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, err := h.mgr.Chapter(ctx, v.UUID, timeline.Raw{At: t0.Add(10 * time.Minute), Title: "Ranked", CategoryName: "Chess"}); err != nil {
		t.Fatalf("Chapter: %v", err)
	}
	if err := h.mgr.Ended(ctx, v.UUID, t0.Add(70*time.Minute)); err != nil {
		t.Fatalf("Ended: %v", err)
	}

	stored, err := h.store.Get(ctx, v.UUID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(stored.Chapters) != 1 {
		t.Fatalf("chapters = %+v", stored.Chapters)
	}
	if d := stored.Chapters[0].Duration; d == nil || *d != 3600 {
		t.Fatalf("last chapter duration = %v, want 3600", d)
	}
	if offset, ok := stored.GameOffset(); !ok || offset != 600 {
		t.Fatalf("GameOffset = %v, %t; want 600", offset, ok)
	}
	if current, ok := stored.CurrentChapter(); !ok || current.CategoryName != "Chess" {
		t.Fatalf("CurrentChapter = %+v, %t", current, ok)
	}
}

func TestRecoverFlagsInterruptedVODs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	capturing := testsupport.NewVOD(t, store, "chan-8", "", vod.TwitchData{Login: "chan8"})
	capturing.SetState(vod.StateCapturing)
	if err := store.Save(ctx, capturing); err != nil {
		t.Fatalf("Save: %v", err)
	}
	converting := testsupport.NewVOD(t, store, "chan-9", "", vod.TwitchData{Login: "chan9"})
	converting.SetState(vod.StateConverting)
	if err := store.Save(ctx, converting); err != nil {
		t.Fatalf("Save: %v", err)
	}
	stopped := testsupport.NewVOD(t, store, "chan-10", "", vod.TwitchData{Login: "chan10"})
	stopped.SetState(vod.StateCapturing)
	stopped.Stopped = true
	if err := store.Save(ctx, stopped); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// A job record from a previous session whose process has exited.
	dead := exec.Command("true")
	if err := dead.Run(); err != nil {
		t.Fatalf("run true: %v", err)
	}
	previous := jobs.NewRegistry(cfg, logging.NewNop(), nil)
	job, err := previous.Create("capture_" + capturing.UUID)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	job.SetExec("/usr/bin/streamlink", []string{"--output", "x.ts"})
	job.SetPID(dead.Process.Pid)
	job.AddMetadata(map[string]any{jobs.MetaVODUUID: capturing.UUID, jobs.MetaKind: "capture"})
	if !job.Save() {
		t.Fatal("job record not saved")
	}

	h := newHarnessFor(t, cfg, store)
	report, err := h.mgr.Recover(ctx)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if len(report.Orphans) != 1 || report.Orphans[0].VODUUID != capturing.UUID {
		t.Fatalf("orphans = %+v", report.Orphans)
	}
	if len(report.Adopted) != 0 {
		t.Fatalf("adopted = %v, want none", report.Adopted)
	}
	slices.Sort(report.Flagged)
	want := []string{capturing.UUID, converting.UUID}
	slices.Sort(want)
	if !slices.Equal(report.Flagged, want) {
		t.Fatalf("flagged = %v, want %v", report.Flagged, want)
	}

	checks := map[string]vod.Recovery{
		capturing.UUID:  vod.RecoveryRecapture,
		converting.UUID: vod.RecoveryReconvert,
		stopped.UUID:    vod.RecoveryNone,
	}
	for id, need := range checks {
		got, err := store.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.NeedsRecovery != need {
			t.Fatalf("%s NeedsRecovery = %q, want %q", id, got.NeedsRecovery, need)
		}
		if got.Failed {
			t.Fatalf("%s marked failed by recovery", id)
		}
	}
}
