// Package pipeline runs the offline per-episode processing chain:
// parse inputs, align script to subtitles, extract clips, and index
// the results. Episodes process in parallel and fail independently.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/reelspeak/reelspeak/internal/align"
	"github.com/reelspeak/reelspeak/internal/clip"
	"github.com/reelspeak/reelspeak/internal/index"
	"github.com/reelspeak/reelspeak/internal/script"
	"github.com/reelspeak/reelspeak/internal/subtitle"
)

var (
	ErrNoEpisodes       = errors.New("no episodes found")
	ErrIncompleteInputs = errors.New("episode is missing an input file")
)

// EpisodeInput names the three files an episode needs.
type EpisodeInput struct {
	ID           string // e.g. "S01E01"
	Season       int
	Episode      int
	VideoPath    string
	ScriptPath   string
	SubtitlePath string
}

// Result summarizes one episode's processing.
type Result struct {
	EpisodeID      string
	Segments       int
	Clips          int
	Indexed        int
	AcceptanceRate float64
	Flagged        bool
	Err            error
}

// Extractor is the slice of clip.Extractor the pipeline needs.
type Extractor interface {
	EpisodeDuration(ctx context.Context, videoPath string) (time.Duration, error)
	Extract(ctx context.Context, videoPath string, episodeDuration time.Duration, seg align.Segment) (clip.Clip, error)
}

// Recorder is the slice of catalog.Store the pipeline needs.
type Recorder interface {
	ReplaceEpisode(episodeID string) error
	UpsertSegment(seg align.Segment) error
	UpsertClip(c clip.Clip) error
	RecordEpisode(report align.Report, flagged bool) error
}

// Indexer is the slice of index.Indexer the pipeline needs.
type Indexer interface {
	IndexEpisode(ctx context.Context, episodeID string, items []index.Item) (int, error)
}

// Options configures a Runner.
type Options struct {
	Workers         int     // parallel episodes (default: 2)
	AcceptanceFloor float64 // flag episodes with alignment below this
	IndexFlagged    bool    // index flagged episodes anyway
}

// Runner drives the per-episode pipeline.
type Runner struct {
	aligner   *align.Aligner
	extractor Extractor
	catalog   Recorder
	indexer   Indexer
	opts      Options
	logger    *slog.Logger
}

// New creates a Runner. A nil logger discards output.
func New(aligner *align.Aligner, ex Extractor, cat Recorder, ix Indexer, opts Options, logger *slog.Logger) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runner{
		aligner:   aligner,
		extractor: ex,
		catalog:   cat,
		indexer:   ix,
		opts:      opts,
		logger:    logger.With("component", "pipeline"),
	}
}

// Run processes episodes in parallel, at most Workers at a time. One
// episode failing never stops the others; per-episode errors land in
// the corresponding Result. Results come back in input order.
func (r *Runner) Run(ctx context.Context, episodes []EpisodeInput) ([]Result, error) {
	if len(episodes) == 0 {
		return nil, ErrNoEpisodes
	}

	results := make([]Result, len(episodes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)

	for i, ep := range episodes {
		i, ep := i, ep
		g.Go(func() error {
			results[i] = r.ProcessEpisode(gctx, ep)
			if results[i].Err != nil {
				r.logger.Error("episode failed", "episode", ep.ID, "error", results[i].Err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// ProcessEpisode runs the full chain for one episode: parse subtitle
// and script, align, extract a clip per accepted segment, record the
// outcome in the catalog, and index clips for retrieval. Episodes
// with an acceptance rate below the floor are flagged in the catalog
// and kept out of the index until a run with IndexFlagged set; their
// clips and catalog rows are still written so the flag can be
// reviewed without re-processing.
func (r *Runner) ProcessEpisode(ctx context.Context, ep EpisodeInput) Result {
	res := Result{EpisodeID: ep.ID}
	log := r.logger.With("episode", ep.ID)

	cues, err := parseSubtitleFile(ep.SubtitlePath)
	if err != nil {
		res.Err = fmt.Errorf("parse subtitles: %w", err)
		return res
	}
	utterances, err := parseScriptFile(ep.ScriptPath)
	if err != nil {
		res.Err = fmt.Errorf("parse script: %w", err)
		return res
	}

	report := r.aligner.Align(ep.ID, ep.Season, ep.Episode, cues, utterances)
	res.Segments = len(report.Segments)
	res.AcceptanceRate = report.AcceptanceRate()
	res.Flagged = res.AcceptanceRate < r.opts.AcceptanceFloor
	log.Info("alignment complete",
		"segments", res.Segments,
		"rejected", len(report.Rejections),
		"acceptance", res.AcceptanceRate,
		"flagged", res.Flagged)

	duration, err := r.extractor.EpisodeDuration(ctx, ep.VideoPath)
	if err != nil {
		res.Err = fmt.Errorf("probe video: %w", err)
		return res
	}

	// Clear the episode's previous rows first so a run that yields
	// fewer segments never leaves stale ones behind.
	if err := r.catalog.ReplaceEpisode(ep.ID); err != nil {
		res.Err = fmt.Errorf("catalog reset: %w", err)
		return res
	}

	var items []index.Item
	for _, seg := range report.Segments {
		if err := r.catalog.UpsertSegment(seg); err != nil {
			res.Err = fmt.Errorf("catalog segment %s: %w", seg.ID, err)
			return res
		}
		c, err := r.extractor.Extract(ctx, ep.VideoPath, duration, seg)
		if err != nil {
			log.Warn("clip extraction failed, skipping segment", "segment", seg.ID, "error", err)
			continue
		}
		res.Clips++
		if err := r.catalog.UpsertClip(c); err != nil {
			res.Err = fmt.Errorf("catalog clip %s: %w", seg.ID, err)
			return res
		}
		items = append(items, index.Item{Segment: seg, ClipPath: c.VideoPath})
	}

	if err := r.catalog.RecordEpisode(report, res.Flagged); err != nil {
		res.Err = fmt.Errorf("catalog episode: %w", err)
		return res
	}

	if res.Flagged && !r.opts.IndexFlagged {
		log.Warn("flagged episode kept out of the index", "acceptance", res.AcceptanceRate)
	} else if len(items) > 0 {
		indexed, err := r.indexer.IndexEpisode(ctx, ep.ID, items)
		res.Indexed = indexed
		if err != nil {
			res.Err = fmt.Errorf("index episode: %w", err)
			return res
		}
	}

	log.Info("episode processed", "clips", res.Clips, "indexed", res.Indexed)
	return res
}

var episodePattern = regexp.MustCompile(`(?i)^S(\d{1,2})E(\d{1,2})$`)

// DiscoverEpisodes scans dir for SxxEyy triples: video (.mp4 or
// .mkv), script (.txt), and subtitles (.srt) sharing a basename.
// Triples missing a file are skipped with ErrIncompleteInputs
// reported per-episode via the returned map.
func DiscoverEpisodes(dir string) ([]EpisodeInput, map[string]error, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("read data dir: %w", err)
	}

	byID := make(map[string]*EpisodeInput)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := filepath.Ext(name)
		base := name[:len(name)-len(ext)]

		m := episodePattern.FindStringSubmatch(base)
		if m == nil {
			continue
		}
		season, _ := strconv.Atoi(m[1])
		episode, _ := strconv.Atoi(m[2])
		id := fmt.Sprintf("S%02dE%02d", season, episode)

		in, ok := byID[id]
		if !ok {
			in = &EpisodeInput{ID: id, Season: season, Episode: episode}
			byID[id] = in
		}

		path := filepath.Join(dir, name)
		switch ext {
		case ".mp4", ".mkv":
			in.VideoPath = path
		case ".txt":
			in.ScriptPath = path
		case ".srt":
			in.SubtitlePath = path
		}
	}

	skipped := make(map[string]error)
	var episodes []EpisodeInput
	for id, in := range byID {
		if in.VideoPath == "" || in.ScriptPath == "" || in.SubtitlePath == "" {
			skipped[id] = fmt.Errorf("%w: video=%v script=%v subtitles=%v",
				ErrIncompleteInputs, in.VideoPath != "", in.ScriptPath != "", in.SubtitlePath != "")
			continue
		}
		episodes = append(episodes, *in)
	}
	sort.Slice(episodes, func(i, j int) bool { return episodes[i].ID < episodes[j].ID })

	if len(episodes) == 0 && len(skipped) == 0 {
		return nil, nil, ErrNoEpisodes
	}
	return episodes, skipped, nil
}

func parseSubtitleFile(path string) ([]subtitle.Cue, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrIncompleteInputs, path)
		}
		return nil, err
	}
	defer f.Close()
	return subtitle.Parse(f)
}

func parseScriptFile(path string) ([]script.Utterance, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrIncompleteInputs, path)
		}
		return nil, err
	}
	defer f.Close()
	return script.Parse(f)
}
