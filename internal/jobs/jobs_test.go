package jobs_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"livestreamdvr/internal/config"
	"livestreamdvr/internal/jobs"
	"livestreamdvr/internal/logging"
	"livestreamdvr/internal/notifications"
	"livestreamdvr/internal/procexec"
	"livestreamdvr/internal/services"
	"livestreamdvr/internal/testsupport"
)

func newRegistry(t *testing.T, notifier notifications.Notifier) (*jobs.Registry, *config.Config) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	return jobs.NewRegistry(cfg, logging.NewNop(), notifier), cfg
}

func TestCreateRejectsDuplicateAndInvalidNames(t *testing.T) {
	reg, _ := newRegistry(t, nil)
	if _, err := reg.Create("capture_abc"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := reg.Create("capture_abc"); !errors.Is(err, jobs.ErrJobExists) {
		t.Fatalf("expected ErrJobExists, got %v", err)
	}
	for _, name := range []string{"", "  ", "a/b"} {
		if _, err := reg.Create(name); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("Create(%q) = %v, want validation error", name, err)
		}
	}
}

func TestClearRemovesNameAndPIDLookups(t *testing.T) {
	reg, cfg := newRegistry(t, nil)
	job, err := reg.Create("remux_vod1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	job.SetPID(4242)
	if !job.Save() {
		t.Fatal("Save returned false")
	}
	if _, ok := reg.FindByPID(4242); !ok {
		t.Fatal("FindByPID should succeed before clear")
	}

	job.Clear()
	job.Clear()

	if _, ok := reg.FindByName("remux_vod1"); ok {
		t.Fatal("FindByName succeeded after clear")
	}
	if _, ok := reg.FindByPID(4242); ok {
		t.Fatal("FindByPID succeeded after clear")
	}
	if _, err := os.Stat(filepath.Join(cfg.Paths.PidsDir, "remux_vod1.json")); !os.IsNotExist(err) {
		t.Fatalf("record should be removed, stat err = %v", err)
	}
	if reg.Remove("remux_vod1") {
		t.Fatal("second Remove should report false")
	}
}

func TestConcurrentCreateAndClearKeepsCount(t *testing.T) {
	reg, _ := newRegistry(t, nil)
	const total = 64
	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			job, err := reg.Create(fmt.Sprintf("job_%d", i))
			if err != nil {
				t.Errorf("Create: %v", err)
				return
			}
			if i%2 == 0 {
				job.Clear()
				job.Clear()
			}
		}(i)
	}
	wg.Wait()
	if got := reg.Len(); got != total/2 {
		t.Fatalf("Len = %d, want %d", got, total/2)
	}
	list := reg.List()
	for i := 1; i < len(list); i++ {
		if list[i-1].ID() >= list[i].ID() {
			t.Fatalf("List not ordered by id: %d before %d", list[i-1].ID(), list[i].ID())
		}
	}
}

func TestSetProgressClamps(t *testing.T) {
	reg, _ := newRegistry(t, nil)
	job, _ := reg.Create("thumb")
	if _, ok := job.Progress(); ok {
		t.Fatal("progress should start unset")
	}
	cases := []struct {
		in   float64
		want float64
	}{
		{0.25, 0.25},
		{-3, 0},
		{42, 1},
		{math.NaN(), 1},
	}
	for _, tc := range cases {
		job.SetProgress(tc.in)
		got, ok := job.Progress()
		if !ok || got != tc.want {
			t.Fatalf("SetProgress(%v) -> %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestSaveWritesReloadableRecord(t *testing.T) {
	reg, cfg := newRegistry(t, nil)
	job, _ := reg.Create("capture_xyz")
	job.SetExec("/usr/bin/streamlink", []string{"--output", "x.ts", "https://twitch.tv/x", "best"})
	job.SetPID(999)
	job.AddMetadata(map[string]any{jobs.MetaVODUUID: "uuid-1", jobs.MetaKind: "capture"})
	job.SetProgress(0.5)
	if !job.Save() {
		t.Fatal("Save returned false")
	}

	rec, err := jobs.ReadRecord(filepath.Join(cfg.Paths.PidsDir, "capture_xyz.json"))
	if err != nil {
		t.Fatalf("ReadRecord: %v", err)
	}
	if rec.Name != "capture_xyz" || rec.PID != 999 || rec.Bin != "/usr/bin/streamlink" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if len(rec.Args) != 4 || rec.Args[3] != "best" {
		t.Fatalf("args = %v", rec.Args)
	}
	if rec.VODUUID() != "uuid-1" {
		t.Fatalf("VODUUID = %q", rec.VODUUID())
	}
	if rec.Progress == nil || *rec.Progress != 0.5 {
		t.Fatalf("progress = %v", rec.Progress)
	}
	if rec.StartedAt.IsZero() {
		t.Fatal("dt_started_at missing")
	}
}

func TestSetMetadataReplacesBag(t *testing.T) {
	reg, _ := newRegistry(t, nil)
	job, _ := reg.Create("meta")
	job.AddMetadata(map[string]any{"a": 1, "b": 2})
	job.SetMetadata(map[string]any{"c": 3})
	job.AddMetadata(map[string]any{"d": 4})

	meta := job.Metadata()
	if len(meta) != 2 || meta["c"] != 3 || meta["d"] != 4 {
		t.Fatalf("metadata = %v, want only c and d", meta)
	}
	meta["c"] = 99
	if job.Metadata()["c"] != 3 {
		t.Fatal("Metadata returned the internal map")
	}
}

func TestSaveReportsFailureWithoutPanicking(t *testing.T) {
	reg, cfg := newRegistry(t, nil)
	job, _ := reg.Create("blocked")
	if err := os.RemoveAll(cfg.Paths.PidsDir); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cfg.Paths.PidsDir, []byte("not a dir"), 0o644); err != nil {
		t.Fatal(err)
	}
	if job.Save() {
		t.Fatal("Save should fail when the pids dir is a file")
	}
}

func TestSuperviseDeliversLinesInOrderBeforeWait(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	bus := notifications.NewBus(256)
	sub := bus.Subscribe()
	defer sub.Close()
	reg, cfg := newRegistry(t, bus)
	runner := procexec.New(logging.NewNop())
	bin := testsupport.FakeTool(t, testsupport.BaseDir(cfg), "counter",
		"for p in 0.25 0.5 0.75 1; do echo \"progress $p\"; done\necho done 1>&2\nexit 0")

	var (
		mu   sync.Mutex
		seen []float64
	)
	job, err := reg.Supervise(context.Background(), runner, jobs.SuperviseRequest{
		Name:     "count_vod",
		Command:  procexec.Command{Label: "counter", Bin: bin},
		Metadata: map[string]any{jobs.MetaVODUUID: "vod-9"},
		LogName:  "count_vod",
		OnLine: func(j *jobs.Job, line procexec.Line) {
			if line.Stream != procexec.Stdout {
				return
			}
			v, err := strconv.ParseFloat(strings.TrimPrefix(line.Text, "progress "), 64)
			if err != nil {
				return
			}
			j.SetProgress(v)
			mu.Lock()
			seen = append(seen, v)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("Supervise: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := job.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("exit code = %d", res.ExitCode)
	}

	mu.Lock()
	got := fmt.Sprint(seen)
	mu.Unlock()
	if got != "[0.25 0.5 0.75 1]" {
		t.Fatalf("progress sequence = %s", got)
	}
	if p, _ := job.Progress(); p != 1 {
		t.Fatalf("final progress = %v", p)
	}
	if job.Status() != jobs.StatusStopped {
		t.Fatalf("status = %s", job.Status())
	}
	if _, ok := reg.FindByName("count_vod"); ok {
		t.Fatal("job still registered after close")
	}
	if len(runner.Running()) != 0 {
		t.Fatal("runner still tracks the process")
	}

	stdoutLog, err := os.ReadFile(filepath.Join(cfg.SoftwareLogDir(), "count_vod_stdout.log"))
	if err != nil {
		t.Fatalf("read stdout log: %v", err)
	}
	if !strings.HasPrefix(string(stdoutLog), "## count_vod started") || !strings.Contains(string(stdoutLog), "progress 1\n") {
		t.Fatalf("stdout log content:\n%s", stdoutLog)
	}

	var cleared bool
	for !cleared {
		select {
		case ev := <-sub.C():
			if ev.Kind == notifications.KindJobClear && ev.JobName == "count_vod" && ev.VODUUID == "vod-9" {
				cleared = true
			}
		case <-ctx.Done():
			t.Fatal("no job_clear notification")
		}
	}
}

func TestSuperviseNonZeroExitSetsErrorStatus(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	reg, cfg := newRegistry(t, nil)
	runner := procexec.New(logging.NewNop())
	bin := testsupport.FakeTool(t, testsupport.BaseDir(cfg), "broken", "echo '[error] boom' 1>&2\nexit 2")

	job, err := reg.Supervise(context.Background(), runner, jobs.SuperviseRequest{
		Name:    "broken",
		Command: procexec.Command{Label: "broken", Bin: bin},
	})
	if err != nil {
		t.Fatalf("Supervise: %v", err)
	}
	_, err = job.Wait(context.Background())
	var failure *services.ToolFailure
	if !errors.As(err, &failure) || failure.ExitCode != 2 || failure.Message != "boom" {
		t.Fatalf("expected ToolFailure(2, boom), got %v", err)
	}
	if job.Status() != jobs.StatusError {
		t.Fatalf("status = %s", job.Status())
	}
	if code, ok := job.ExitCode(); !ok || code != 2 {
		t.Fatalf("exit code = %d, %v", code, ok)
	}
}

func TestSuperviseSpawnFailureClearsJob(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	reg, _ := newRegistry(t, nil)
	runner := procexec.New(logging.NewNop())

	_, err := reg.Supervise(context.Background(), runner, jobs.SuperviseRequest{
		Name:    "ghost",
		Command: procexec.Command{Label: "ghost", Bin: "/nonexistent/ghost-tool"},
	})
	var spawn *services.SpawnError
	if !errors.As(err, &spawn) {
		t.Fatalf("expected SpawnError, got %v", err)
	}
	if reg.Len() != 0 {
		t.Fatalf("registry should be empty, has %d", reg.Len())
	}
}

func TestStopSupervisedJobIsStoppedNotFailed(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	reg, cfg := newRegistry(t, nil)
	runner := procexec.New(logging.NewNop())
	bin := testsupport.FakeTool(t, testsupport.BaseDir(cfg), "forever", "echo started\nexec sleep 30")

	started := make(chan struct{})
	var once sync.Once
	job, err := reg.Supervise(context.Background(), runner, jobs.SuperviseRequest{
		Name:    "forever",
		Command: procexec.Command{Label: "forever", Bin: bin},
		OnLine:  func(*jobs.Job, procexec.Line) { once.Do(func() { close(started) }) },
	})
	if err != nil {
		t.Fatalf("Supervise: %v", err)
	}
	<-started
	if err := job.Stop(time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	res, err := job.Wait(context.Background())
	if !errors.Is(err, procexec.ErrStopped) || !res.Stopped {
		t.Fatalf("expected stopped result, got %+v, %v", res, err)
	}
	if job.Status() != jobs.StatusStopped {
		t.Fatalf("status = %s", job.Status())
	}
}

func TestReconcileReportsOrphans(t *testing.T) {
	reg, cfg := newRegistry(t, nil)
	done := exec.Command("true")
	if err := done.Run(); err != nil {
		t.Skipf("true unavailable: %v", err)
	}
	deadPID := done.ProcessState.Pid()

	stale, _ := reg.Create("capture_dead")
	stale.SetExec("/usr/bin/streamlink", nil)
	stale.SetPID(deadPID)
	stale.AddMetadata(map[string]any{jobs.MetaVODUUID: "vod-dead"})
	if !stale.Save() {
		t.Fatal("Save failed")
	}

	// A fresh registry stands in for the restarted daemon.
	restarted := jobs.NewRegistry(cfg, logging.NewNop(), nil)
	adopted, orphans, err := restarted.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(adopted) != 0 {
		t.Fatalf("adopted = %d, want 0", len(adopted))
	}
	if len(orphans) != 1 || orphans[0].VODUUID != "vod-dead" || orphans[0].PID != deadPID {
		t.Fatalf("orphans = %+v", orphans)
	}
	if !errors.Is(orphans[0], services.ErrNotFound) {
		t.Fatal("orphan should unwrap to ErrNotFound")
	}
	if _, err := os.Stat(filepath.Join(cfg.Paths.PidsDir, "capture_dead.json")); !os.IsNotExist(err) {
		t.Fatalf("orphan record should be removed, stat err = %v", err)
	}
	if restarted.Len() != 0 {
		t.Fatal("orphan must not be resurrected")
	}
}

func TestReconcileAdoptsLiveProcessAndStopClears(t *testing.T) {
	reg, cfg := newRegistry(t, nil)
	sleeper := exec.Command("sleep", "30")
	if err := sleeper.Start(); err != nil {
		t.Skipf("sleep unavailable: %v", err)
	}
	reaped := make(chan struct{})
	go func() {
		_ = sleeper.Wait()
		close(reaped)
	}()
	t.Cleanup(func() {
		_ = sleeper.Process.Kill()
		<-reaped
	})

	live, _ := reg.Create("capture_live")
	live.SetExec("sleep", []string{"30"})
	live.SetPID(sleeper.Process.Pid)
	if !live.Save() {
		t.Fatal("Save failed")
	}

	restarted := jobs.NewRegistry(cfg, logging.NewNop(), nil)
	adopted, orphans, err := restarted.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(orphans) != 0 || len(adopted) != 1 {
		t.Fatalf("adopted=%d orphans=%d", len(adopted), len(orphans))
	}
	job := adopted[0]
	if !job.Snapshot().Adopted || job.Status() != jobs.StatusRunning {
		t.Fatalf("snapshot = %+v", job.Snapshot())
	}
	if found, ok := restarted.FindByPID(sleeper.Process.Pid); !ok || found != job {
		t.Fatal("adopted job not found by pid")
	}

	if err := job.Stop(2 * time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := job.Wait(context.Background()); !errors.Is(err, procexec.ErrStopped) {
		t.Fatalf("Wait = %v, want ErrStopped", err)
	}
	if restarted.Len() != 0 {
		t.Fatal("stopped adopted job still registered")
	}
}

func TestReadRecordsSkipsBrokenFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "empty.json"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "ok.json"), []byte(`{"name":"ok","pid":12,"dt_started_at":"2024-01-02T03:04:05Z"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	recs, errs := jobs.ReadRecords(dir)
	if len(recs) != 1 || recs[0].Name != "ok" || recs[0].PID != 12 {
		t.Fatalf("records = %+v", recs)
	}
	if len(errs) != 1 {
		t.Fatalf("errors = %v", errs)
	}
	if recs, errs := jobs.ReadRecords(filepath.Join(dir, "missing")); recs != nil || errs != nil {
		t.Fatal("missing dir should yield nothing")
	}
}
