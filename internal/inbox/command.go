package inbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"livestreamdvr/internal/capture"
	"livestreamdvr/internal/services"
	"livestreamdvr/internal/timeline"
	"livestreamdvr/internal/vod"
)

// Type names a command.
type Type string

const (
	TypeLive    Type = "live"
	TypeEnded   Type = "ended"
	TypeChapter Type = "chapter"
	TypeStop    Type = "stop"
	TypeRetry   Type = "retry"
)

// Command is one trigger file. Which fields apply depends on Type.
type Command struct {
	Type Type `json:"type"`

	// live
	ChannelID    string          `json:"channel_id,omitempty"`
	Provider     string          `json:"provider,omitempty"`
	ProviderData json.RawMessage `json:"provider_data,omitempty"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	Basename     string          `json:"basename,omitempty"`

	// ended, chapter, stop, retry
	VODUUID string        `json:"vod_uuid,omitempty"`
	At      *time.Time    `json:"at,omitempty"`
	Chapter *timeline.Raw `json:"chapter,omitempty"`
}

// errIncomplete marks a file that is still being written.
var errIncomplete = errors.New("command file incomplete")

// Parse decodes and validates a command file body. Unknown fields are
// rejected so typos surface instead of being ignored.
func Parse(data []byte) (Command, error) {
	var cmd Command
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cmd); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Command{}, errIncomplete
		}
		return Command{}, &services.ValidationError{Op: "parse command", Reason: err.Error()}
	}
	if err := cmd.Validate(); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

// Validate checks that the fields the command type needs are present.
func (c Command) Validate() error {
	invalid := func(reason string) error {
		return &services.ValidationError{Op: "validate command", Path: string(c.Type), Reason: reason}
	}
	switch c.Type {
	case TypeLive:
		if strings.TrimSpace(c.ChannelID) == "" {
			return invalid("channel_id is required")
		}
		if _, err := c.LiveEvent(); err != nil {
			return invalid(err.Error())
		}
	case TypeEnded, TypeStop, TypeRetry:
		if strings.TrimSpace(c.VODUUID) == "" {
			return invalid("vod_uuid is required")
		}
	case TypeChapter:
		if strings.TrimSpace(c.VODUUID) == "" {
			return invalid("vod_uuid is required")
		}
		if c.Chapter == nil {
			return invalid("chapter is required")
		}
	case "":
		return invalid("type is required")
	default:
		return invalid(fmt.Sprintf("unknown type %q", c.Type))
	}
	return nil
}

// LiveEvent converts a live command into the lifecycle's event.
func (c Command) LiveEvent() (capture.LiveEvent, error) {
	provider, err := vod.ParseProvider(c.Provider)
	if err != nil {
		return capture.LiveEvent{}, err
	}
	data, err := vod.DecodeProviderData(provider, c.ProviderData)
	if err != nil {
		return capture.LiveEvent{}, err
	}
	if err := vod.ValidateProviderData(data); err != nil {
		return capture.LiveEvent{}, err
	}
	return capture.LiveEvent{
		ChannelID: strings.TrimSpace(c.ChannelID),
		Provider:  data,
		StartedAt: c.StartedAt,
		Basename:  c.Basename,
	}, nil
}

// NewLive builds a live command from provider data.
func NewLive(channelID string, data vod.ProviderData, startedAt *time.Time) (Command, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Command{}, fmt.Errorf("encode provider data: %w", err)
	}
	return Command{
		Type:         TypeLive,
		ChannelID:    channelID,
		Provider:     string(data.Provider()),
		ProviderData: raw,
		StartedAt:    startedAt,
	}, nil
}
