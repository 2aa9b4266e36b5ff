package services

import "context"

type contextKey string

const (
	vodKey       contextKey = "vod_uuid"
	jobKey       contextKey = "job_name"
	stageKey     contextKey = "stage"
	requestIDKey contextKey = "request_id"
)

// WithVOD annotates context with the broadcast identifier.
func WithVOD(ctx context.Context, uuid string) context.Context {
	if uuid == "" {
		return ctx
	}
	return context.WithValue(ctx, vodKey, uuid)
}

// VODFromContext extracts the broadcast identifier if present.
func VODFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(vodKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithJob annotates context with the supervised job name.
func WithJob(ctx context.Context, name string) context.Context {
	if name == "" {
		return ctx
	}
	return context.WithValue(ctx, jobKey, name)
}

// JobFromContext returns the job name if present.
func JobFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(jobKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithStage annotates context with the lifecycle stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	if stage == "" {
		return ctx
	}
	return context.WithValue(ctx, stageKey, stage)
}

// StageFromContext returns the stage name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(stageKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
