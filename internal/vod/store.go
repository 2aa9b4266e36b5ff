package vod

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"livestreamdvr/internal/services"
	"livestreamdvr/internal/textutil"
	"livestreamdvr/internal/timeline"
)

// CreateParams describes a new VOD. Directory defaults to
// <storage_dir>/<channel id>; Basename defaults to
// <channel>_<started_at UTC>.
type CreateParams struct {
	ChannelID string
	Basename  string
	Directory string
	Provider  ProviderData
	StartedAt *time.Time
}

// Create inserts a new idle VOD.
func (s *Store) Create(ctx context.Context, params CreateParams) (*VOD, error) {
	channel := strings.TrimSpace(params.ChannelID)
	if channel == "" {
		return nil, &services.ValidationError{Op: "create vod", Reason: "channel id is required"}
	}
	if err := ValidateProviderData(params.Provider); err != nil {
		return nil, &services.ValidationError{Op: "create vod", Path: channel, Reason: err.Error()}
	}

	now := time.Now().UTC()
	v := &VOD{
		UUID:      uuid.NewString(),
		ChannelID: channel,
		Data:      params.Provider,
		Basename:  textutil.SanitizeFileName(strings.TrimSpace(params.Basename)),
		Directory: params.Directory,
		CreatedAt: now,
		StartedAt: params.StartedAt,
	}
	if v.Basename == "" {
		ref := now
		if params.StartedAt != nil {
			ref = params.StartedAt.UTC()
		}
		v.Basename = textutil.SanitizeFileName(channel + "_" + ref.Format("2006-01-02T15-04-05Z"))
	}
	if v.Directory == "" {
		v.Directory = filepath.Join(s.storageDir, textutil.SanitizeFileName(channel))
	}

	if err := s.Save(ctx, v); err != nil {
		return nil, fmt.Errorf("create vod: %w", err)
	}
	return v, nil
}

// Get loads one VOD. A missing uuid returns an error wrapping
// services.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*VOD, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+vodColumns+" FROM vods WHERE uuid = ?", id)
	v, err := scanVOD(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("vod %s: %w", id, services.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load vod %s: %w", id, err)
	}
	if err := s.loadChildren(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

// List returns every VOD, oldest first.
func (s *Store) List(ctx context.Context) ([]*VOD, error) {
	return s.query(ctx, "SELECT "+vodColumns+" FROM vods ORDER BY created_at, uuid")
}

// ListByChannel returns a channel's VODs, oldest first.
func (s *Store) ListByChannel(ctx context.Context, channel string) ([]*VOD, error) {
	return s.query(ctx, "SELECT "+vodColumns+" FROM vods WHERE channel_id = ? ORDER BY created_at, uuid", channel)
}

// ListActive returns VODs persisted as capturing or converting.
func (s *Store) ListActive(ctx context.Context) ([]*VOD, error) {
	return s.query(ctx, "SELECT "+vodColumns+" FROM vods WHERE is_capturing = 1 OR is_converting = 1 ORDER BY created_at, uuid")
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]*VOD, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query vods: %w", err)
	}
	var out []*VOD
	for rows.Next() {
		v, err := scanVOD(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan vod: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate vods: %w", err)
	}
	rows.Close()

	for _, v := range out {
		if err := s.loadChildren(ctx, v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) loadChildren(ctx context.Context, v *VOD) error {
	segRows, err := s.db.QueryContext(ctx,
		"SELECT basename, size_bytes, deleted FROM segments WHERE vod_uuid = ? ORDER BY position", v.UUID)
	if err != nil {
		return fmt.Errorf("query segments of %s: %w", v.UUID, err)
	}
	v.Segments = nil
	for segRows.Next() {
		seg, err := scanSegment(segRows)
		if err != nil {
			segRows.Close()
			return fmt.Errorf("scan segment of %s: %w", v.UUID, err)
		}
		v.Segments = append(v.Segments, seg)
	}
	err = segRows.Err()
	segRows.Close()
	if err != nil {
		return fmt.Errorf("iterate segments of %s: %w", v.UUID, err)
	}

	chRows, err := s.db.QueryContext(ctx,
		"SELECT "+chapterColumns+" FROM chapters WHERE vod_uuid = ? ORDER BY position", v.UUID)
	if err != nil {
		return fmt.Errorf("query chapters of %s: %w", v.UUID, err)
	}
	v.Chapters = nil
	for chRows.Next() {
		ch, err := scanChapter(chRows)
		if err != nil {
			chRows.Close()
			return fmt.Errorf("scan chapter of %s: %w", v.UUID, err)
		}
		v.Chapters = append(v.Chapters, ch)
	}
	err = chRows.Err()
	chRows.Close()
	if err != nil {
		return fmt.Errorf("iterate chapters of %s: %w", v.UUID, err)
	}
	return nil
}

// Save upserts v and replaces its segments and chapters in one transaction.
// SavedAt is stamped on success. A VOD that violates CheckInvariants is
// rejected.
func (s *Store) Save(ctx context.Context, v *VOD) error {
	if err := v.CheckInvariants(); err != nil {
		return &services.ValidationError{Op: "save vod", Path: v.UUID, Reason: err.Error()}
	}
	providerJSON, err := encodeProviderData(v.Data)
	if err != nil {
		return err
	}
	savedAt := time.Now().UTC()

	err = retryOnBusy(ctx, func() error {
		return s.saveTx(ctx, v, providerJSON, savedAt)
	})
	if err != nil {
		return fmt.Errorf("save vod %s: %w", v.UUID, err)
	}
	v.SavedAt = &savedAt
	return nil
}

func (s *Store) saveTx(ctx context.Context, v *VOD, providerJSON string, savedAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `INSERT INTO vods (`+vodColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(uuid) DO UPDATE SET
            channel_id = excluded.channel_id,
            provider = excluded.provider,
            provider_data = excluded.provider_data,
            basename = excluded.basename,
            directory = excluded.directory,
            is_capturing = excluded.is_capturing,
            is_converting = excluded.is_converting,
            is_finalized = excluded.is_finalized,
            failed = excluded.failed,
            stopped = excluded.stopped,
            last_error = excluded.last_error,
            needs_recovery = excluded.needs_recovery,
            retries = excluded.retries,
            duration_seconds = excluded.duration_seconds,
            started_at = excluded.started_at,
            ended_at = excluded.ended_at,
            saved_at = excluded.saved_at,
            capture_started_at = excluded.capture_started_at,
            conversion_started_at = excluded.conversion_started_at,
            end_hint_at = excluded.end_hint_at`,
		v.UUID,
		v.ChannelID,
		string(v.Data.Provider()),
		providerJSON,
		v.Basename,
		v.Directory,
		boolToInt(v.IsCapturing),
		boolToInt(v.IsConverting),
		boolToInt(v.IsFinalized),
		boolToInt(v.Failed),
		boolToInt(v.Stopped),
		nullableString(v.LastError),
		nullableString(string(v.NeedsRecovery)),
		v.Retries,
		nullableFloat(v.Duration),
		formatTime(v.CreatedAt),
		nullableTime(v.StartedAt),
		nullableTime(v.EndedAt),
		formatTime(savedAt),
		nullableTime(v.CaptureStartedAt),
		nullableTime(v.ConversionStartedAt),
		nullableTime(v.EndHintAt),
	)
	if err != nil {
		return fmt.Errorf("upsert vod: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM segments WHERE vod_uuid = ?", v.UUID); err != nil {
		return fmt.Errorf("clear segments: %w", err)
	}
	for i, seg := range v.Segments {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO segments (vod_uuid, position, basename, size_bytes, deleted) VALUES (?, ?, ?, ?, ?)",
			v.UUID, i, seg.Basename, nullableInt64(seg.Size), boolToInt(seg.Deleted),
		); err != nil {
			return fmt.Errorf("insert segment %s: %w", seg.Basename, err)
		}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM chapters WHERE vod_uuid = ?", v.UUID); err != nil {
		return fmt.Errorf("clear chapters: %w", err)
	}
	for i, ch := range v.Chapters {
		if err := insertChapter(ctx, tx, v.UUID, i, ch); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func insertChapter(ctx context.Context, tx *sql.Tx, id string, position int, ch timeline.Chapter) error {
	var viewers any
	if ch.ViewerCount != nil {
		viewers = *ch.ViewerCount
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO chapters (vod_uuid, position, `+chapterColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		position,
		formatTime(ch.StartedAt),
		nullableFloat(ch.Offset),
		nullableFloat(ch.Duration),
		ch.Title,
		nullableString(ch.CategoryID),
		nullableString(ch.CategoryName),
		viewers,
		boolToInt(ch.Online),
		boolToInt(ch.IsMature),
	)
	if err != nil {
		return fmt.Errorf("insert chapter %d: %w", position, err)
	}
	return nil
}
