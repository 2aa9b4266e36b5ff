package ffprobe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"livestreamdvr/internal/procexec"
)

// Runner executes a tool to completion. *procexec.Runner satisfies it.
type Runner interface {
	Run(ctx context.Context, cmd procexec.Command) (procexec.Result, error)
}

// Result represents the parsed output from an ffprobe inspection.
type Result struct {
	Streams  []Stream  `json:"streams"`
	Format   Format    `json:"format"`
	Chapters []Chapter `json:"chapters,omitempty"`
	raw      []byte
}

// Stream describes a single stream in the media container.
type Stream struct {
	Index      int    `json:"index"`
	CodecName  string `json:"codec_name"`
	CodecType  string `json:"codec_type"`
	CodecTag   string `json:"codec_tag_string"`
	Duration   string `json:"duration"`
	BitRate    string `json:"bit_rate"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	SampleRate string `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// Format captures container-level metadata extracted by ffprobe.
type Format struct {
	Filename   string `json:"filename"`
	NBStreams  int    `json:"nb_streams"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
	FormatName string `json:"format_name"`
}

// Chapter is an embedded chapter marker, written by remux when a metadata
// file is supplied.
type Chapter struct {
	ID        int               `json:"id"`
	StartTime string            `json:"start_time"`
	EndTime   string            `json:"end_time"`
	Tags      map[string]string `json:"tags"`
}

// Inspect executes ffprobe against the provided path and decodes the JSON response.
func Inspect(ctx context.Context, runner Runner, binary string, path string) (Result, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffprobe"
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return Result{}, errors.New("ffprobe inspect: empty path")
	}

	res, err := runner.Run(ctx, procexec.Command{
		Label:         "ffprobe",
		Bin:           binary,
		Args:          []string{"-v", "error", "-hide_banner", "-show_format", "-show_streams", "-show_chapters", "-of", "json", "--", path},
		CaptureOutput: true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("ffprobe inspect: %w", err)
	}
	output := res.Output

	var result Result
	if err := json.Unmarshal(output, &result); err != nil {
		return Result{}, fmt.Errorf("ffprobe parse: %w", err)
	}
	result.raw = append([]byte(nil), output...)
	return result, nil
}

// RawJSON returns the raw ffprobe JSON payload.
func (r Result) RawJSON() []byte {
	return append([]byte(nil), r.raw...)
}

// StreamsOf returns the streams of one codec type ("video", "audio") in
// index order.
func (r Result) StreamsOf(codecType string) []Stream {
	var out []Stream
	for _, stream := range r.Streams {
		if strings.EqualFold(stream.CodecType, codecType) {
			out = append(out, stream)
		}
	}
	return out
}

// DurationSeconds returns the container duration. ok is false when ffprobe
// reported none, or a value that is not a positive number.
func (r Result) DurationSeconds() (float64, bool) {
	d, err := strconv.ParseFloat(strings.TrimSpace(r.Format.Duration), 64)
	if err != nil || math.IsNaN(d) || math.IsInf(d, 0) || d <= 0 {
		return 0, false
	}
	return d, true
}
