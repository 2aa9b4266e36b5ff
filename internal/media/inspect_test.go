package media_test

import (
	"context"
	"testing"

	"go.uber.org/goleak"

	"livestreamdvr/internal/jobs"
	"livestreamdvr/internal/logging"
	"livestreamdvr/internal/media"
	"livestreamdvr/internal/procexec"
	"livestreamdvr/internal/testsupport"
)

func TestMediaInfoParsesTracks(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	pipeline, _, cfg := newPipeline(t, map[string]string{
		"mediainfo": `cat <<'JSON'
{"media": {"@ref": "vod.mp4", "track": [
  {"@type": "General", "Duration": "3600.250", "FileSize": "1048576", "Format": "MPEG-4"},
  {"@type": "Video", "Width": "1920", "Height": "1080", "FrameRate": "60.000"},
  {"@type": "Audio", "Format": "AAC", "Channels": "2"}
]}}
JSON`,
	})
	in := input(t, cfg, "vod.mp4")

	info, err := pipeline.MediaInfo(context.Background(), in)
	if err != nil {
		t.Fatalf("MediaInfo: %v", err)
	}
	if info.DurationSeconds() != 3600.25 {
		t.Fatalf("duration = %v", info.DurationSeconds())
	}
	if w, h := info.Resolution(); w != 1920 || h != 1080 {
		t.Fatalf("resolution = %dx%d", w, h)
	}
	if info.Audio.String("Format") != "AAC" {
		t.Fatalf("audio format = %q", info.Audio.String("Format"))
	}
}

func TestProbeUsesFFprobe(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	pipeline, _, cfg := newPipeline(t, map[string]string{
		"ffprobe": `echo '{"streams": [{"codec_type": "video"}, {"codec_type": "audio"}], "format": {"duration": "120.5", "size": "4096"}}'`,
	})
	in := input(t, cfg, "vod.mp4")

	res, err := pipeline.Probe(context.Background(), in)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if d, ok := res.DurationSeconds(); !ok || d != 120.5 || len(res.StreamsOf("audio")) != 1 {
		t.Fatalf("unexpected probe result %+v", res)
	}
}

const manyChaptersProbe = `echo '{'
echo '  "chapters": ['
i=0
while [ $i -lt 250 ]; do
  sep=','
  [ $i -eq 249 ] && sep=''
  printf '    {\n      "id": %d,\n      "start_time": "%d.000",\n      "end_time": "%d.000",\n      "tags": {\n        "title": "Chapter %d"\n      }\n    }%s\n' $i $i $((i+1)) $i "$sep"
  i=$((i+1))
done
echo '  ],'
echo '  "format": {"duration": "250.0"}'
echo '}'`

func TestProbeParsesOutputLongerThanLineTail(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	cfg := testsupport.NewConfig(t, testsupport.WithFakeTools(map[string]string{"ffprobe": manyChaptersProbe}))
	logger := logging.NewNop()
	runner := procexec.New(logger, procexec.WithMaxLines(100))
	pipeline := media.New(cfg, runner, jobs.NewRegistry(cfg, logger, nil), logger)
	in := input(t, cfg, "vod.mp4")

	res, err := pipeline.Probe(context.Background(), in)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if len(res.Chapters) != 250 || res.Chapters[249].Tags["title"] != "Chapter 249" {
		t.Fatalf("chapters = %d", len(res.Chapters))
	}
	if d, ok := res.DurationSeconds(); !ok || d != 250 {
		t.Fatalf("duration = %v, %t", d, ok)
	}
}
