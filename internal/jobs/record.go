package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/renameio/v2"
)

const recordExt = ".json"

// Record is the on-disk form of a job.
type Record struct {
	Name       string         `json:"name"`
	PID        int            `json:"pid"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	StartedAt  time.Time      `json:"dt_started_at"`
	Bin        string         `json:"bin,omitempty"`
	Args       []string       `json:"args,omitempty"`
	Progress   *float64       `json:"progress,omitempty"`
	Status     Status         `json:"status,omitempty"`
	LogExcerpt []string       `json:"log_excerpt,omitempty"`
}

// VODUUID returns the vod_uuid metadata entry if present.
func (r Record) VODUUID() string {
	if v, ok := r.Metadata[MetaVODUUID].(string); ok {
		return v
	}
	return ""
}

// Alive reports whether the recorded process still runs the recorded binary.
func (r Record) Alive() bool { return processMatches(r.PID, r.Bin) }

func recordPath(dir, name string) string {
	return filepath.Join(dir, name+recordExt)
}

func writeRecord(path string, rec Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode job record: %w", err)
	}
	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending job record: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()
	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write job record: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace job record: %w", err)
	}
	return nil
}

// ReadRecord loads one job record.
func ReadRecord(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return Record{}, fmt.Errorf("job record %s is empty", path)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("decode job record %s: %w", path, err)
	}
	if rec.Name == "" {
		rec.Name = strings.TrimSuffix(filepath.Base(path), recordExt)
	}
	return rec, nil
}

// ReadRecords loads every job record in dir, ordered by start time. Broken
// records are returned as errors alongside the ones that parsed.
func ReadRecords(dir string) ([]Record, []error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, []error{fmt.Errorf("read pids dir: %w", err)}
	}
	var (
		out  []Record
		errs []error
	)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), recordExt) {
			continue
		}
		rec, err := ReadRecord(filepath.Join(dir, entry.Name()))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].Name < out[j].Name
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, errs
}
