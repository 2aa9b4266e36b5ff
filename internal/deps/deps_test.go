package deps

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"livestreamdvr/internal/services"
	"livestreamdvr/internal/testsupport"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	script := []byte("#!/bin/sh\nexit 0\n")
	if err := os.WriteFile(present, script, 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Unset", Command: "  ", Optional: true},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}

	if !results[0].Available || results[0].Path != present {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[0].Detail != "" {
		t.Fatalf("unexpected detail for available dependency: %s", results[0].Detail)
	}

	if results[1].Available {
		t.Fatalf("expected missing binary to be unavailable")
	}
	if results[1].Detail == "" {
		t.Fatalf("expected detail message for missing binary")
	}
	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}
	if results[2].Detail != "command not configured" {
		t.Fatalf("unexpected detail for unset command: %q", results[2].Detail)
	}

	missing := MissingRequired(results)
	if len(missing) != 1 || missing[0] != "Missing" {
		t.Fatalf("MissingRequired = %v", missing)
	}
}

func TestResolvePathLookup(t *testing.T) {
	binDir := t.TempDir()
	testsupport.FakeTool(t, binDir, "streamlink", "exit 0")
	t.Setenv("PATH", binDir)

	path, err := Resolve("streamlink", "streamlink")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if path != filepath.Join(binDir, "streamlink") {
		t.Fatalf("path = %s", path)
	}
}

func TestResolveMissingIsSpawnError(t *testing.T) {
	t.Setenv("PATH", "")
	_, err := Resolve("vcsi", "vcsi")
	var spawn *services.SpawnError
	if !errors.As(err, &spawn) || spawn.Label != "vcsi" {
		t.Fatalf("expected SpawnError for vcsi, got %v", err)
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatal("missing tool should classify as external tool error")
	}
}

func TestResolveRejectsNonExecutable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Resolve("ffmpeg", path); err == nil {
		t.Fatal("expected error for non-executable file")
	}
}

func TestRequirementsCoverConfiguredTools(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	reqs := Requirements(cfg)
	names := map[string]bool{}
	for _, r := range reqs {
		names[r.Name] = r.Optional
	}
	for _, required := range []string{"streamlink", "ffmpeg"} {
		optional, ok := names[required]
		if !ok || optional {
			t.Fatalf("%s should be a required dependency", required)
		}
	}
	if len(reqs) != 5 {
		t.Fatalf("expected 5 requirements, got %d", len(reqs))
	}
}
