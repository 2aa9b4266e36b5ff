package media

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"livestreamdvr/internal/media/ffprobe"
	"livestreamdvr/internal/procexec"
)

// Probe runs ffprobe against path. Probes are short, so they run bare
// rather than as supervised jobs.
func (p *Pipeline) Probe(ctx context.Context, path string) (ffprobe.Result, error) {
	if err := requireInput("probe", path); err != nil {
		return ffprobe.Result{}, err
	}
	bin, err := p.tool("ffprobe", p.cfg.Binaries.FFprobe)
	if err != nil {
		return ffprobe.Result{}, err
	}
	return ffprobe.Inspect(ctx, p.runner, bin, path)
}

// Track is one mediainfo track. Values are mostly strings.
type Track map[string]any

// String returns a track field as text.
func (t Track) String(key string) string {
	switch v := t[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Float returns a numeric track field, or 0.
func (t Track) Float(key string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(t.String(key)), 64)
	if err != nil {
		return 0
	}
	return v
}

// MediaInfo is the general track plus the first video and audio tracks.
type MediaInfo struct {
	General Track
	Video   Track
	Audio   Track
}

// DurationSeconds reads the general track duration.
func (m MediaInfo) DurationSeconds() float64 { return m.General.Float("Duration") }

// Resolution returns the video dimensions, or zeros without a video track.
func (m MediaInfo) Resolution() (int, int) {
	return int(m.Video.Float("Width")), int(m.Video.Float("Height"))
}

type mediainfoDocument struct {
	Media struct {
		Track []Track `json:"track"`
	} `json:"media"`
}

// MediaInfo runs mediainfo --Full --Output=JSON against path.
func (p *Pipeline) MediaInfo(ctx context.Context, path string) (MediaInfo, error) {
	if err := requireInput("mediainfo", path); err != nil {
		return MediaInfo{}, err
	}
	bin, err := p.tool("mediainfo", p.cfg.Binaries.Mediainfo)
	if err != nil {
		return MediaInfo{}, err
	}
	res, err := p.runner.Run(ctx, procexec.Command{
		Label:         "mediainfo",
		Bin:           bin,
		Args:          []string{"--Full", "--Output=JSON", path},
		CaptureOutput: true,
	})
	if err != nil {
		return MediaInfo{}, fmt.Errorf("mediainfo: %w", err)
	}
	return parseMediaInfo(res.Output)
}

func parseMediaInfo(data []byte) (MediaInfo, error) {
	var doc mediainfoDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return MediaInfo{}, fmt.Errorf("mediainfo parse: %w", err)
	}
	var info MediaInfo
	for _, track := range doc.Media.Track {
		switch track.String("@type") {
		case "General":
			if info.General == nil {
				info.General = track
			}
		case "Video":
			if info.Video == nil {
				info.Video = track
			}
		case "Audio":
			if info.Audio == nil {
				info.Audio = track
			}
		}
	}
	if info.General == nil {
		return MediaInfo{}, fmt.Errorf("mediainfo parse: no general track")
	}
	return info, nil
}
