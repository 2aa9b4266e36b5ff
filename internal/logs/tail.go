package logs

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

const maxLine = 1024 * 1024

// Last returns up to n trailing lines of path and the offset just past them.
// A missing file yields no lines and offset 0.
func Last(path string, n int) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	var (
		ring   []string
		offset int64
	)
	for scanner.Scan() {
		offset += int64(len(scanner.Bytes())) + 1
		if n <= 0 {
			continue
		}
		if len(ring) == n {
			ring = ring[1:]
		}
		ring = append(ring, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("read log: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		return nil, 0, fmt.Errorf("stat log: %w", err)
	}
	if offset > info.Size() {
		// Final line had no newline; leave it for Follow.
		offset -= int64(len(lastLine(ring))) + 1
		if len(ring) > 0 {
			ring = ring[:len(ring)-1]
		}
	}
	return ring, offset, nil
}

func lastLine(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}

// Follow calls emit for each complete line written to path after offset. It
// blocks until ctx is done and then returns nil.
func Follow(ctx context.Context, path string, offset int64, emit func(string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch log: %w", err)
	}
	defer watcher.Close()
	// The directory is watched so rotation and late creation are seen.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch log dir: %w", err)
	}

	offset, err = readFrom(path, offset, emit)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch log: %w", err)
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if offset, err = readFrom(path, offset, emit); err != nil {
				return err
			}
		}
	}
}

// readFrom emits complete lines after offset and returns the new offset.
func readFrom(path string, offset int64, emit func(string)) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return offset, fmt.Errorf("open log: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return offset, fmt.Errorf("stat log: %w", err)
	}
	if info.Size() < offset {
		offset = 0
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return offset, fmt.Errorf("seek log: %w", err)
	}
	data, err := io.ReadAll(io.LimitReader(file, info.Size()-offset))
	if err != nil {
		return offset, fmt.Errorf("read log: %w", err)
	}
	for {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		emit(string(bytes.TrimSuffix(data[:idx], []byte("\r"))))
		offset += int64(idx) + 1
		data = data[idx+1:]
	}
	return offset, nil
}
