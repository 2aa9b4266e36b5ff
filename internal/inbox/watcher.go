package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"livestreamdvr/internal/capture"
	"livestreamdvr/internal/logging"
	"livestreamdvr/internal/metrics"
	"livestreamdvr/internal/services"
	"livestreamdvr/internal/timeline"
	"livestreamdvr/internal/vod"
)

// Handler receives dispatched commands. *capture.Manager implements it.
type Handler interface {
	WentLive(ctx context.Context, ev capture.LiveEvent) (*vod.VOD, error)
	Ended(ctx context.Context, id string, at time.Time) error
	Chapter(ctx context.Context, id string, raw timeline.Raw) (timeline.Chapter, error)
	Stop(ctx context.Context, id string) error
	Retry(ctx context.Context, id string) error
}

// Watcher dispatches command files dropped into a directory.
type Watcher struct {
	dir     string
	handler Handler
	logger  *slog.Logger
}

// NewWatcher builds a watcher for dir.
func NewWatcher(dir string, handler Handler, logger *slog.Logger) *Watcher {
	return &Watcher{
		dir:     dir,
		handler: handler,
		logger:  logging.NewComponentLogger(logger, "inbox"),
	}
}

// Run processes files already present, then every new file, until ctx is
// done.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, "inbox", "create inbox dir", w.dir, err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify.NewWatcher: %w", err)
	}
	defer func() {
		_ = fsw.Close()
	}()
	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	// Files written between startup and Add are picked up here.
	if err := w.Drain(ctx); err != nil {
		return err
	}
	w.logger.Info("watching for triggers", logging.String("dir", w.dir))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return errors.New("inbox watcher closed")
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !isCommandFile(event.Name) {
				continue
			}
			w.Process(ctx, event.Name)
		case err, ok := <-fsw.Errors:
			if !ok {
				return errors.New("inbox watcher closed")
			}
			w.logger.Warn("inbox watcher error", logging.Error(err))
		}
	}
}

// Drain processes every command file currently in the directory in name
// order.
func (w *Watcher) Drain(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("read inbox: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() && isCommandFile(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	slices.Sort(names)
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil
		}
		w.Process(ctx, filepath.Join(w.dir, name))
	}
	return nil
}

// Process handles one command file. A file still being written is left for
// its next write event.
func (w *Watcher) Process(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			w.logger.Warn("command file unreadable", logging.String("path", path), logging.Error(err))
		}
		return
	}
	cmd, err := Parse(data)
	if errors.Is(err, errIncomplete) {
		return
	}
	if err != nil {
		w.reject(path, "invalid", err)
		return
	}
	ctx = services.WithRequestID(ctx, filepath.Base(path))
	if err := w.dispatch(ctx, cmd); err != nil {
		w.reject(path, string(cmd.Type), err)
		return
	}
	logging.WithContext(ctx, w.logger).Debug("command applied",
		logging.String("type", string(cmd.Type)),
		logging.String(logging.FieldVODUUID, cmd.VODUUID),
	)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		w.logger.Warn("processed command not removed", logging.String("path", path), logging.Error(err))
	}
	metrics.IncInboxCommand(string(cmd.Type), "ok")
}

func (w *Watcher) dispatch(ctx context.Context, cmd Command) error {
	switch cmd.Type {
	case TypeLive:
		ev, err := cmd.LiveEvent()
		if err != nil {
			return err
		}
		v, err := w.handler.WentLive(ctx, ev)
		if err != nil {
			return err
		}
		w.logger.Info("live trigger accepted",
			logging.String(logging.FieldVODUUID, v.UUID),
			logging.String(logging.FieldChannelID, v.ChannelID),
		)
		return nil
	case TypeEnded:
		var at time.Time
		if cmd.At != nil {
			at = *cmd.At
		}
		return w.handler.Ended(ctx, cmd.VODUUID, at)
	case TypeChapter:
		raw := *cmd.Chapter
		if raw.At.IsZero() && cmd.At != nil {
			raw.At = *cmd.At
		}
		_, err := w.handler.Chapter(ctx, cmd.VODUUID, raw)
		return err
	case TypeStop:
		return w.handler.Stop(ctx, cmd.VODUUID)
	case TypeRetry:
		return w.handler.Retry(ctx, cmd.VODUUID)
	default:
		return &services.ValidationError{Op: "dispatch command", Path: string(cmd.Type), Reason: "unknown type"}
	}
}

func (w *Watcher) reject(path, kind string, cause error) {
	metrics.IncInboxCommand(kind, "rejected")
	target := path + rejectedExt
	if err := os.Rename(path, target); err != nil && !errors.Is(err, os.ErrNotExist) {
		w.logger.Warn("rejected command not renamed", logging.String("path", path), logging.Error(err))
		target = path
	}
	logging.WarnWithContext(w.logger, "trigger rejected", "inbox_rejected",
		logging.String("path", target),
		logging.String("type", kind),
		logging.Error(cause),
		logging.String(logging.FieldErrorHint, "fix the command and write it again"),
		logging.String(logging.FieldImpact, "the trigger was not applied"),
	)
}

// isCommandFile skips renameio temp files (dot-prefixed) and rejected files.
func isCommandFile(path string) bool {
	name := filepath.Base(path)
	return !strings.HasPrefix(name, ".") && strings.HasSuffix(name, commandExt)
}
