// Package clip cuts aligned dialog segments out of episode video files
// with ffmpeg and writes a companion subtitle file re-timed to the
// clip's own zero point. Extraction is idempotent: the same segment
// always produces the same file names, and re-runs replace the
// previous output atomically.
package clip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/reelspeak/reelspeak/internal/align"
	"github.com/reelspeak/reelspeak/internal/subtitle"
)

// Common errors for clip extraction. All are per-segment: the batch
// pipeline logs and continues past them.
var (
	ErrMissingSource = errors.New("source video not found")
	ErrZeroDuration  = errors.New("segment has zero or negative duration")
	ErrOutOfRange    = errors.New("segment timecodes exceed episode duration")
	ErrFFmpegFailed  = errors.New("ffmpeg extraction failed")
)

// Clip is the extracted artifact for one segment.
type Clip struct {
	SegmentID    string        `json:"segment_id"`
	VideoPath    string        `json:"video_path"`
	SubtitlePath string        `json:"subtitle_path"`
	Duration     time.Duration `json:"duration"`
}

// Config controls cut windows and output placement.
type Config struct {
	// OutputDir is the root clip directory; clips land in a
	// per-episode subdirectory beneath it.
	OutputDir string

	// PaddingBefore/PaddingAfter widen the cut window around the
	// segment, clamped to the episode bounds.
	PaddingBefore time.Duration
	PaddingAfter  time.Duration

	// Precise forces a re-encode so cuts land exactly on the requested
	// timecodes instead of the nearest keyframe.
	Precise bool

	// FFmpegBin and FFprobeBin override the binaries resolved from PATH.
	FFmpegBin  string
	FFprobeBin string
}

type commandRunner func(ctx context.Context, name string, args ...string) error

type outputRunner func(ctx context.Context, name string, args ...string) (string, error)

func defaultCommandRunner(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func defaultOutputRunner(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Extractor cuts segment clips from episode video.
type Extractor struct {
	cfg    Config
	logger *slog.Logger
	run    commandRunner
	probe  outputRunner
}

// New constructs an Extractor.
func New(cfg Config, logger *slog.Logger) *Extractor {
	if cfg.FFmpegBin == "" {
		cfg.FFmpegBin = "ffmpeg"
	}
	if cfg.FFprobeBin == "" {
		cfg.FFprobeBin = "ffprobe"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		cfg:    cfg,
		logger: logger.With("component", "extractor"),
		run:    defaultCommandRunner,
		probe:  defaultOutputRunner,
	}
}

// WithCommandRunner injects a custom ffmpeg runner for tests.
func (e *Extractor) WithCommandRunner(r func(ctx context.Context, name string, args ...string) error) {
	if r != nil {
		e.run = r
	}
}

// WithProbeRunner injects a custom ffprobe runner for tests.
func (e *Extractor) WithProbeRunner(r func(ctx context.Context, name string, args ...string) (string, error)) {
	if r != nil {
		e.probe = r
	}
}

// EpisodeDuration asks ffprobe for the container duration of a video.
func (e *Extractor) EpisodeDuration(ctx context.Context, videoPath string) (time.Duration, error) {
	out, err := e.probe(ctx, e.cfg.FFprobeBin,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		videoPath,
	)
	if err != nil {
		return 0, fmt.Errorf("probe duration of %s: %w", videoPath, err)
	}

	seconds, err := strconv.ParseFloat(out, 64)
	if err != nil {
		return 0, fmt.Errorf("parse ffprobe duration %q: %w", out, err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// Extract cuts one segment's span from the episode video, writes the
// clip and its re-timed companion subtitles, and returns the Clip
// record. The cut window is [start-padding, end+padding] clamped to
// [0, episodeDuration].
func (e *Extractor) Extract(ctx context.Context, videoPath string, episodeDuration time.Duration, seg align.Segment) (Clip, error) {
	if _, err := os.Stat(videoPath); err != nil {
		return Clip{}, fmt.Errorf("%w: %s", ErrMissingSource, videoPath)
	}
	if seg.End <= seg.Start {
		return Clip{}, fmt.Errorf("%w: %s", ErrZeroDuration, seg.ID)
	}
	if seg.Start >= episodeDuration {
		return Clip{}, fmt.Errorf("%w: %s starts at %v, episode is %v",
			ErrOutOfRange, seg.ID, seg.Start, episodeDuration)
	}

	start := seg.Start - e.cfg.PaddingBefore
	if start < 0 {
		start = 0
	}
	end := seg.End + e.cfg.PaddingAfter
	if end > episodeDuration {
		end = episodeDuration
	}

	episodeDir := filepath.Join(e.cfg.OutputDir, seg.EpisodeID)
	if err := os.MkdirAll(episodeDir, 0o755); err != nil {
		return Clip{}, fmt.Errorf("create clip directory: %w", err)
	}

	clipPath := filepath.Join(episodeDir, seg.ID+".mp4")
	subPath := filepath.Join(episodeDir, seg.ID+".srt")
	tmpPath := filepath.Join(episodeDir, "."+seg.ID+".mp4.tmp")

	e.logger.Debug("extracting clip",
		"segment", seg.ID,
		"start", start,
		"end", end,
		"precise", e.cfg.Precise,
	)

	err := e.cut(ctx, videoPath, tmpPath, start, end, e.cfg.Precise)
	if err != nil && !e.cfg.Precise {
		// Stream copy can fail when cut points sit between keyframes;
		// retry with a re-encode before giving up.
		e.logger.Warn("stream copy failed, re-encoding", "segment", seg.ID, "error", err)
		_ = os.Remove(tmpPath)
		err = e.cut(ctx, videoPath, tmpPath, start, end, true)
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return Clip{}, fmt.Errorf("%w: %s: %v", ErrFFmpegFailed, seg.ID, err)
	}

	// Atomic replace keeps re-extraction idempotent.
	if err := os.Rename(tmpPath, clipPath); err != nil {
		_ = os.Remove(tmpPath)
		return Clip{}, fmt.Errorf("finalize clip %s: %w", seg.ID, err)
	}

	if err := e.writeSubtitles(subPath, seg.Cues, start); err != nil {
		return Clip{}, err
	}

	return Clip{
		SegmentID:    seg.ID,
		VideoPath:    clipPath,
		SubtitlePath: subPath,
		Duration:     end - start,
	}, nil
}

func (e *Extractor) cut(ctx context.Context, src, dst string, start, end time.Duration, reencode bool) error {
	args := []string{
		"-y",
		"-ss", formatSeconds(start),
		"-i", src,
		"-t", formatSeconds(end - start),
	}
	if reencode {
		args = append(args, "-c:v", "libx264", "-preset", "veryfast", "-c:a", "aac")
	} else {
		args = append(args, "-c", "copy", "-avoid_negative_ts", "make_zero")
	}
	args = append(args, "-f", "mp4", dst)

	return e.run(ctx, e.cfg.FFmpegBin, args...)
}

func (e *Extractor) writeSubtitles(path string, cues []subtitle.Cue, origin time.Duration) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create subtitle file %s: %w", path, err)
	}
	defer f.Close()

	if err := subtitle.Write(f, subtitle.Retime(cues, origin)); err != nil {
		return fmt.Errorf("write subtitle file %s: %w", path, err)
	}
	return nil
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
