package media

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"livestreamdvr/internal/procexec"
	"livestreamdvr/internal/services"
	"livestreamdvr/internal/textutil"
)

var gridPattern = regexp.MustCompile(`^\d+x\d+$`)

// ThumbnailRequest grabs a representative frame near Offset.
type ThumbnailRequest struct {
	Input  string
	Width  int
	Offset time.Duration
	JobOptions
}

// ContactSheetRequest renders a grid of frames with vcsi.
type ContactSheetRequest struct {
	Input  string
	Output string
	Width  int
	Grid   string
	// Overwrite regenerates an existing sheet.
	Overwrite bool
	JobOptions
}

// ThumbnailPath is the cache location for a thumbnail of input at width and
// offset. The same inputs always map to the same file.
func (p *Pipeline) ThumbnailPath(input string, width int, offset time.Duration) string {
	sum := md5.Sum([]byte(input + strconv.Itoa(width) + strconv.FormatInt(offset.Milliseconds(), 10)))
	return filepath.Join(p.cfg.ThumbnailCacheDir(), hex.EncodeToString(sum[:])+"."+p.cfg.Media.ThumbnailFormat)
}

// Thumbnail returns a cached frame grab, producing it on first use.
func (p *Pipeline) Thumbnail(ctx context.Context, req ThumbnailRequest) (Result, error) {
	const op = "thumbnail"
	if err := requireInput(op, req.Input); err != nil {
		return Result{}, err
	}
	if req.Width <= 0 {
		req.Width = p.cfg.Media.ThumbnailWidth
	}
	if req.Offset < 0 {
		return Result{}, &services.ValidationError{Op: op, Path: req.Input, Reason: "negative offset"}
	}
	output := p.ThumbnailPath(req.Input, req.Width, req.Offset)
	if res, ok := cached(output, false); ok {
		return res, nil
	}
	if err := prepareOutput(op, req.Input, output, true); err != nil {
		return Result{}, err
	}
	bin, err := p.tool("ffmpeg", p.cfg.Binaries.FFmpeg)
	if err != nil {
		return Result{}, err
	}

	args := []string{
		"-ss", textutil.FFmpegTimestamp(req.Offset),
		"-i", req.Input,
		"-vf", fmt.Sprintf("thumbnail,scale=%d:-1", req.Width),
		"-frames:v", "1",
		output,
	}
	return p.run(ctx, invocation{
		op:     op,
		name:   req.name(op, output),
		cmd:    procexec.Command{Label: op, Bin: bin, Args: args},
		output: output,
		opts:   req.JobOptions,
	})
}

// ContactSheet renders a frame grid next to the input unless one exists.
func (p *Pipeline) ContactSheet(ctx context.Context, req ContactSheetRequest) (Result, error) {
	const op = "contact_sheet"
	if err := requireInput(op, req.Input); err != nil {
		return Result{}, err
	}
	if req.Output == "" {
		req.Output = strings.TrimSuffix(req.Input, filepath.Ext(req.Input)) + "-contact_sheet.jpg"
	}
	if req.Width <= 0 {
		req.Width = p.cfg.Media.ContactSheetWidth
	}
	if req.Grid == "" {
		req.Grid = p.cfg.Media.ContactSheetGrid
	}
	if !gridPattern.MatchString(req.Grid) {
		return Result{}, &services.ValidationError{Op: op, Path: req.Input, Reason: fmt.Sprintf("grid %q must look like 3x5", req.Grid)}
	}
	if res, ok := cached(req.Output, req.Overwrite); ok {
		return res, nil
	}
	if err := prepareOutput(op, req.Input, req.Output, true); err != nil {
		return Result{}, err
	}
	bin, err := p.tool("vcsi", p.cfg.Binaries.VCSI)
	if err != nil {
		return Result{}, err
	}

	args := []string{req.Input, "-t", "-w", strconv.Itoa(req.Width), "-g", req.Grid, "-o", req.Output}
	return p.run(ctx, invocation{
		op:     op,
		name:   req.name(op, req.Output),
		cmd:    procexec.Command{Label: op, Bin: bin, Args: args},
		output: req.Output,
		opts:   req.JobOptions,
	})
}

// ClearThumbnails removes every cached thumbnail.
func (p *Pipeline) ClearThumbnails() (int, error) {
	entries, err := os.ReadDir(p.cfg.ThumbnailCacheDir())
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(p.cfg.ThumbnailCacheDir(), entry.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}
