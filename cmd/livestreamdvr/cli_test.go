package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"livestreamdvr/internal/config"
	"livestreamdvr/internal/inbox"
	"livestreamdvr/internal/testsupport"
	"livestreamdvr/internal/timeline"
	"livestreamdvr/internal/vod"
)

const (
	ffmpegOK = `for a in "$@"; do out="$a"; done
printf 'remuxed' > "$out"
exit 0`

	ffprobeOK = `echo '{"format": {"duration": "90.0"}}'`
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
}

func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	data, err := cfg.Encode()
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return &cliTestEnv{cfg: cfg, configPath: configPath}
}

func runCLI(t *testing.T, env *cliTestEnv, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", env.configPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected %q in output:\n%s", needle, haystack)
	}
}

func inboxCommands(t *testing.T, dir string) []inbox.Command {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read inbox: %v", err)
	}
	var cmds []inbox.Command
	for _, entry := range entries {
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			t.Fatalf("read %s: %v", entry.Name(), err)
		}
		cmd, err := inbox.Parse(data)
		if err != nil {
			t.Fatalf("parse %s: %v", entry.Name(), err)
		}
		cmds = append(cmds, cmd)
	}
	return cmds
}

func TestConfigCommands(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env, "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, env.configPath)

	out, _, err = runCLI(t, env, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, env.cfg.Paths.StorageDir)

	target := filepath.Join(t.TempDir(), "nested", "config.toml")
	out, _, err = runCLI(t, env, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}
	if _, _, err := runCLI(t, env, "config", "init", "--path", target); err == nil {
		t.Fatal("config init over an existing file should fail without --overwrite")
	}
	if _, _, err := runCLI(t, env, "config", "init", "--path", target, "--overwrite"); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}
}

func TestTriggerCommandsWriteInboxFiles(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env, "trigger", "live", "chan-1", "--provider", "kick", "--id", "slug1")
	if err != nil {
		t.Fatalf("trigger live: %v", err)
	}
	requireContains(t, out, "Queued live trigger")
	if _, _, err := runCLI(t, env, "trigger", "chapter", "vod-1", "Just", "Chatting", "--category", "Talk", "--viewers", "12"); err != nil {
		t.Fatalf("trigger chapter: %v", err)
	}
	if _, _, err := runCLI(t, env, "trigger", "stop", "vod-1"); err != nil {
		t.Fatalf("trigger stop: %v", err)
	}

	cmds := inboxCommands(t, env.cfg.Paths.InboxDir)
	if len(cmds) != 3 {
		t.Fatalf("inbox holds %d commands, want 3", len(cmds))
	}
	byType := make(map[inbox.Type]inbox.Command)
	for _, c := range cmds {
		byType[c.Type] = c
	}

	ev, err := byType[inbox.TypeLive].LiveEvent()
	if err != nil {
		t.Fatalf("LiveEvent: %v", err)
	}
	if ev.ChannelID != "chan-1" || ev.Provider != (vod.KickData{Slug: "slug1"}) {
		t.Fatalf("live event = %+v", ev)
	}
	chapter := byType[inbox.TypeChapter].Chapter
	if chapter == nil || chapter.Title != "Just Chatting" || chapter.CategoryName != "Talk" {
		t.Fatalf("chapter = %+v", chapter)
	}
	if chapter.ViewerCount == nil || *chapter.ViewerCount != 12 {
		t.Fatalf("viewer count = %v, want 12", chapter.ViewerCount)
	}
	if byType[inbox.TypeStop].VODUUID != "vod-1" {
		t.Fatalf("stop command = %+v", byType[inbox.TypeStop])
	}
}

func TestTriggerLiveRejectsUnknownProvider(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, env, "trigger", "live", "chan-1", "--provider", "myspace"); err == nil {
		t.Fatal("expected unknown provider to fail")
	}
	entries, _ := os.ReadDir(env.cfg.Paths.InboxDir)
	if len(entries) != 0 {
		t.Fatalf("inbox holds %d files, want none", len(entries))
	}
}

func TestVODListingAndShow(t *testing.T) {
	env := setupCLITestEnv(t)
	store := testsupport.MustOpenStore(t, env.cfg)
	first := testsupport.NewVOD(t, store, "chan-a", "", vod.TwitchData{Login: "chana"})
	testsupport.NewVOD(t, store, "chan-b", "", vod.YouTubeData{ChannelHandle: "@chanb"})
	t0 := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	first.StartedAt = &t0
	first.Chapters = []timeline.Chapter{{StartedAt: t0.Add(15 * time.Minute), Title: "Speedrun", CategoryName: "Celeste", Online: true}}
	if err := store.Save(context.Background(), first); err != nil {
		t.Fatalf("save vod: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	out, _, err := runCLI(t, env, "vods")
	if err != nil {
		t.Fatalf("vods: %v", err)
	}
	requireContains(t, out, first.UUID)
	requireContains(t, out, "chan-b")

	out, _, err = runCLI(t, env, "vods", "--channel", "chan-a", "--json")
	if err != nil {
		t.Fatalf("vods --json: %v", err)
	}
	var listed []map[string]any
	if err := json.Unmarshal([]byte(out), &listed); err != nil {
		t.Fatalf("decode vods json: %v\n%s", err, out)
	}
	if len(listed) != 1 || listed[0]["UUID"] != first.UUID {
		t.Fatalf("vods --channel = %v", listed)
	}

	out, _, err = runCLI(t, env, "vods", "--active")
	if err != nil {
		t.Fatalf("vods --active: %v", err)
	}
	requireContains(t, out, "No VODs")

	out, _, err = runCLI(t, env, "vod", "show", first.UUID)
	if err != nil {
		t.Fatalf("vod show: %v", err)
	}
	requireContains(t, out, "https://www.twitch.tv/chana")
	requireContains(t, out, string(vod.StateIdle))
	requireContains(t, out, "Game at    00:15:00")
	requireContains(t, out, "Current    Speedrun [Celeste]")

	if _, _, err := runCLI(t, env, "vod", "show", "missing"); err == nil {
		t.Fatal("vod show of a missing uuid should fail")
	}
}

func TestVODRetryRunsLocallyWithoutDaemon(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithFakeTools(map[string]string{
		"ffmpeg":  ffmpegOK,
		"ffprobe": ffprobeOK,
	}))
	store := testsupport.MustOpenStore(t, env.cfg)
	v := testsupport.NewVOD(t, store, "chan-r", "", vod.KickData{Slug: "chanr"})
	v.SetState(vod.StateCapturing)
	v.Stopped = true
	v.AddSegment(v.Basename + ".ts")
	testsupport.WriteFile(t, filepath.Join(v.Directory, v.Basename+".ts"), 64)
	if err := store.Save(context.Background(), v); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	out, _, err := runCLI(t, env, "vod", "retry", v.UUID)
	if err != nil {
		t.Fatalf("vod retry: %v\n%s", err, out)
	}
	requireContains(t, out, string(vod.StateFinalized))

	out, _, err = runCLI(t, env, "vod", "show", v.UUID, "--json")
	if err != nil {
		t.Fatalf("vod show: %v", err)
	}
	var shown struct {
		IsFinalized bool
		Stopped     bool
		Duration    *float64
	}
	if err := json.Unmarshal([]byte(out), &shown); err != nil {
		t.Fatalf("decode vod json: %v", err)
	}
	if !shown.IsFinalized || shown.Stopped || shown.Duration == nil || *shown.Duration != 90 {
		t.Fatalf("vod after retry = %+v", shown)
	}
}

func TestVODRetryQueuesWhileDaemonHoldsLock(t *testing.T) {
	env := setupCLITestEnv(t)
	lock := flock.New(env.cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil || !locked {
		t.Fatalf("TryLock = %t, %v", locked, err)
	}
	t.Cleanup(func() { _ = lock.Unlock() })

	out, _, err := runCLI(t, env, "vod", "retry", "vod-9")
	if err != nil {
		t.Fatalf("vod retry: %v", err)
	}
	requireContains(t, out, "queued retry")

	cmds := inboxCommands(t, env.cfg.Paths.InboxDir)
	if len(cmds) != 1 || cmds[0].Type != inbox.TypeRetry || cmds[0].VODUUID != "vod-9" {
		t.Fatalf("inbox = %+v", cmds)
	}
}

func TestJobsWithoutRecords(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, env, "jobs")
	if err != nil {
		t.Fatalf("jobs: %v", err)
	}
	requireContains(t, out, "No job records")
}

func TestCutRejectsMalformedTimes(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, env, "cut", "in.ts", "out.mp4", "--start", "5", "--end", "00:01:00")
	if err == nil || !strings.Contains(err.Error(), "HH:MM:SS") {
		t.Fatalf("cut error = %v, want a clock format error", err)
	}
}

func TestRenderTablePadsShortRows(t *testing.T) {
	out := renderTable([]string{"A", "B"}, [][]string{{"only"}}, nil)
	requireContains(t, out, "only")
	if strings.Count(out, "\n") < 5 {
		t.Fatalf("table has too few lines:\n%s", out)
	}
}

func TestLogsShowsJobOutputTail(t *testing.T) {
	env := setupCLITestEnv(t)
	path := filepath.Join(env.cfg.SoftwareLogDir(), "capture_vod-3_stderr.log")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("one\ntwo\nthree\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	out, _, err := runCLI(t, env, "logs", "capture_vod-3", "-n", "2")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if out != "two\nthree\n" {
		t.Fatalf("logs output = %q", out)
	}
	if _, _, err := runCLI(t, env, "logs", "capture_vod-3", "--stream", "both"); err == nil {
		t.Fatal("expected invalid --stream to fail")
	}
}
