package media

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"livestreamdvr/internal/logging"
	"livestreamdvr/internal/preflight"
	"livestreamdvr/internal/procexec"
	"livestreamdvr/internal/services"
	"livestreamdvr/internal/textutil"
)

var audioExtensions = map[string]bool{
	".m4a": true, ".aac": true, ".mp3": true, ".ogg": true, ".opus": true, ".flac": true,
}

// RemuxRequest repackages Input into the container implied by Output.
type RemuxRequest struct {
	Input  string
	Output string
	// MetadataFile is an ffmetadata file whose chapters and tags are copied in.
	MetadataFile string
	Overwrite    bool
	JobOptions
}

// CutRequest copies the [Start, End) span of Input, in seconds.
type CutRequest struct {
	Input     string
	Output    string
	Start     float64
	End       float64
	Overwrite bool
	JobOptions
}

// Remux copies all streams into a new container without re-encoding.
func (p *Pipeline) Remux(ctx context.Context, req RemuxRequest) (Result, error) {
	const op = "remux"
	if err := requireInput(op, req.Input); err != nil {
		return Result{}, err
	}
	if req.MetadataFile != "" {
		if err := requireInput(op, req.MetadataFile); err != nil {
			return Result{}, err
		}
	}
	if err := prepareOutput(op, req.Input, req.Output, req.Overwrite); err != nil {
		return Result{}, err
	}
	bin, err := p.tool("ffmpeg", p.cfg.Binaries.FFmpeg)
	if err != nil {
		return Result{}, err
	}

	cmd := procexec.Command{Label: op, Bin: bin, Args: p.remuxArgs(req)}
	res, err := p.run(ctx, invocation{
		op:       op,
		name:     req.name(op, req.Output),
		cmd:      cmd,
		output:   req.Output,
		progress: NewDurationProgress(0),
		opts:     req.JobOptions,
	})
	if err != nil {
		return res, err
	}
	attrs := []logging.Attr{
		logging.String("output", res.Output),
		logging.String("size", textutil.FormatBytes(res.Size)),
		logging.Duration("runtime", res.Runtime),
	}
	if free, ferr := preflight.FreeBytes(filepath.Dir(res.Output)); ferr == nil {
		attrs = append(attrs, logging.String("free_space", textutil.FormatBytes(int64(free))))
	}
	p.logger.Info("remux finished", logging.Args(attrs...)...)
	return res, nil
}

func (p *Pipeline) remuxArgs(req RemuxRequest) []string {
	args := []string{"-i", req.Input}
	if req.MetadataFile != "" {
		args = append(args, "-i", req.MetadataFile, "-map_metadata", "1")
	}
	args = append(args, "-c", "copy")
	ext := strings.ToLower(filepath.Ext(req.Output))
	if !p.isAudio(ext) {
		args = append(args, "-bsf:a", "aac_adtstoasc")
	}
	if ext == ".mp4" {
		args = append(args, "-movflags", "faststart")
	}
	if req.Overwrite {
		args = append(args, "-y")
	}
	if p.cfg.Media.VerboseTools {
		args = append(args, "-loglevel", "repeat+level+verbose")
	}
	return append(args, req.Output)
}

func (p *Pipeline) isAudio(ext string) bool {
	if audioExtensions[ext] {
		return true
	}
	return p.cfg.Capture.AudioContainer != "" && ext == "."+p.cfg.Capture.AudioContainer
}

// Cut extracts a span with stream copy.
func (p *Pipeline) Cut(ctx context.Context, req CutRequest) (Result, error) {
	const op = "cut"
	if err := requireInput(op, req.Input); err != nil {
		return Result{}, err
	}
	if req.Start < 0 || req.End <= req.Start {
		return Result{}, &services.ValidationError{
			Op:     op,
			Path:   req.Input,
			Reason: fmt.Sprintf("invalid span %.3f-%.3f", req.Start, req.End),
		}
	}
	if err := prepareOutput(op, req.Input, req.Output, req.Overwrite); err != nil {
		return Result{}, err
	}
	bin, err := p.tool("ffmpeg", p.cfg.Binaries.FFmpeg)
	if err != nil {
		return Result{}, err
	}

	span := req.End - req.Start
	args := []string{
		"-i", req.Input,
		"-ss", strconv.FormatFloat(req.Start, 'f', -1, 64),
		"-t", strconv.FormatFloat(span, 'f', -1, 64),
		"-c", "copy",
	}
	if req.Overwrite {
		args = append(args, "-y")
	}
	args = append(args, req.Output)

	return p.run(ctx, invocation{
		op:       op,
		name:     req.name(op, req.Output),
		cmd:      procexec.Command{Label: op, Bin: bin, Args: args},
		output:   req.Output,
		progress: NewDurationProgress(span),
		opts:     req.JobOptions,
	})
}
