package vod

import (
	"database/sql"
	"fmt"
	"time"

	"livestreamdvr/internal/timeline"
)

const vodColumns = "uuid, channel_id, provider, provider_data, basename, directory, is_capturing, is_converting, is_finalized, failed, stopped, last_error, needs_recovery, retries, duration_seconds, created_at, started_at, ended_at, saved_at, capture_started_at, conversion_started_at, end_hint_at"

const chapterColumns = "started_at, offset_seconds, duration_seconds, title, category_id, category_name, viewer_count, online, is_mature"

type scanner interface{ Scan(dest ...any) error }

func scanVOD(row scanner) (*VOD, error) {
	var (
		id            string
		channel       string
		provider      string
		providerData  string
		basename      string
		directory     string
		capturing     int64
		converting    int64
		finalized     int64
		failed        int64
		stopped       int64
		lastError     sql.NullString
		recovery      sql.NullString
		retries       int64
		duration      sql.NullFloat64
		createdRaw    string
		startedRaw    sql.NullString
		endedRaw      sql.NullString
		savedRaw      sql.NullString
		captureRaw    sql.NullString
		conversionRaw sql.NullString
		endHintRaw    sql.NullString
	)
	if err := row.Scan(
		&id,
		&channel,
		&provider,
		&providerData,
		&basename,
		&directory,
		&capturing,
		&converting,
		&finalized,
		&failed,
		&stopped,
		&lastError,
		&recovery,
		&retries,
		&duration,
		&createdRaw,
		&startedRaw,
		&endedRaw,
		&savedRaw,
		&captureRaw,
		&conversionRaw,
		&endHintRaw,
	); err != nil {
		return nil, err
	}

	data, err := DecodeProviderData(Provider(provider), []byte(providerData))
	if err != nil {
		return nil, fmt.Errorf("vod %s: %w", id, err)
	}
	created, err := parseTime(createdRaw)
	if err != nil {
		return nil, fmt.Errorf("vod %s created_at: %w", id, err)
	}

	v := &VOD{
		UUID:          id,
		ChannelID:     channel,
		Data:          data,
		Basename:      basename,
		Directory:     directory,
		IsCapturing:   capturing != 0,
		IsConverting:  converting != 0,
		IsFinalized:   finalized != 0,
		Failed:        failed != 0,
		Stopped:       stopped != 0,
		LastError:     lastError.String,
		NeedsRecovery: Recovery(recovery.String),
		Retries:       int(retries),
		CreatedAt:     created,
	}
	if duration.Valid {
		d := duration.Float64
		v.Duration = &d
	}
	for _, field := range []struct {
		raw sql.NullString
		dst **time.Time
	}{
		{startedRaw, &v.StartedAt},
		{endedRaw, &v.EndedAt},
		{savedRaw, &v.SavedAt},
		{captureRaw, &v.CaptureStartedAt},
		{conversionRaw, &v.ConversionStartedAt},
		{endHintRaw, &v.EndHintAt},
	} {
		if !field.raw.Valid {
			continue
		}
		ts, err := parseTime(field.raw.String)
		if err != nil {
			return nil, fmt.Errorf("vod %s: %w", id, err)
		}
		*field.dst = &ts
	}
	return v, nil
}

func scanSegment(row scanner) (Segment, error) {
	var (
		seg     Segment
		size    sql.NullInt64
		deleted int64
	)
	if err := row.Scan(&seg.Basename, &size, &deleted); err != nil {
		return Segment{}, err
	}
	if size.Valid {
		n := size.Int64
		seg.Size = &n
	}
	seg.Deleted = deleted != 0
	return seg, nil
}

func scanChapter(row scanner) (timeline.Chapter, error) {
	var (
		ch           timeline.Chapter
		startedRaw   string
		offset       sql.NullFloat64
		duration     sql.NullFloat64
		categoryID   sql.NullString
		categoryName sql.NullString
		viewers      sql.NullInt64
		online       int64
		mature       int64
	)
	if err := row.Scan(&startedRaw, &offset, &duration, &ch.Title, &categoryID, &categoryName, &viewers, &online, &mature); err != nil {
		return timeline.Chapter{}, err
	}
	started, err := parseTime(startedRaw)
	if err != nil {
		return timeline.Chapter{}, err
	}
	ch.StartedAt = started
	if offset.Valid {
		o := offset.Float64
		ch.Offset = &o
	}
	if duration.Valid {
		d := duration.Float64
		ch.Duration = &d
	}
	if viewers.Valid {
		n := int(viewers.Int64)
		ch.ViewerCount = &n
	}
	ch.CategoryID = categoryID.String
	ch.CategoryName = categoryName.String
	ch.Online = online != 0
	ch.IsMature = mature != 0
	return ch, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", value, err)
	}
	return t, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return formatTime(*value)
}

func nullableFloat(value *float64) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullableInt64(value *int64) any {
	if value == nil {
		return nil
	}
	return *value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
