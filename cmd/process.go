package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/reelspeak/reelspeak/internal/align"
	"github.com/reelspeak/reelspeak/internal/catalog"
	"github.com/reelspeak/reelspeak/internal/clip"
	"github.com/reelspeak/reelspeak/internal/config"
	"github.com/reelspeak/reelspeak/internal/index"
	"github.com/reelspeak/reelspeak/internal/pipeline"
)

var (
	processVerbose bool
	processPrecise bool
	skipIndex      bool
	forceIndex     bool
)

var processCmd = &cobra.Command{
	Use:   "process [data-dir]",
	Short: "Build the clip corpus from episode inputs",
	Long: `Process episode inputs into a searchable clip corpus.

The data directory must hold one triple per episode, named by episode
id: S01E01.mp4 (or .mkv), S01E01.txt (script), S01E01.srt (subtitles).

Each episode is aligned, cut into clips, recorded in the catalog, and
indexed into Milvus. Episodes whose alignment acceptance falls below
the configured floor are flagged for review and kept out of the index
until re-run with --force-index.

Required environment variables:
  OPENAI_API_KEY     - OpenAI API key for embeddings
  MILVUS_ADDRESS     - Milvus server address (default: localhost:19530)

Examples:
  reelspeak process ./data
  reelspeak process ./data --precise
  reelspeak process ./data --skip-index --verbose`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)
	processCmd.Flags().BoolVar(&processVerbose, "verbose", false, "Show detailed progress")
	processCmd.Flags().BoolVar(&processPrecise, "precise", false, "Re-encode clips for frame-accurate cuts (slower)")
	processCmd.Flags().BoolVar(&skipIndex, "skip-index", false, "Extract clips and fill the catalog without indexing")
	processCmd.Flags().BoolVar(&forceIndex, "force-index", false, "Index flagged episodes despite low alignment acceptance")
}

func runProcess(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if len(args) > 0 {
		cfg.Paths.DataDir = args[0]
	}
	if processPrecise {
		cfg.Clip.Precise = true
	}

	logger := newLogger(processVerbose)

	episodes, skipped, err := pipeline.DiscoverEpisodes(cfg.Paths.DataDir)
	if err != nil {
		return fmt.Errorf("discover episodes: %w", err)
	}
	for id, reason := range skipped {
		logger.Warn("skipping episode", "episode", id, "reason", reason)
	}
	if len(episodes) == 0 {
		fmt.Println("No complete episodes found in", cfg.Paths.DataDir)
		return nil
	}

	store, err := catalog.Open(cfg.Paths.CatalogDB)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer store.Close()

	aligner := align.New(align.Options{
		Threshold: cfg.Align.Threshold,
		Window:    cfg.Align.Window,
		MaxRun:    cfg.Align.MaxRun,
		MaxGap:    msToDuration(cfg.Align.MaxGapMS),
	})

	extractor := clip.New(clip.Config{
		OutputDir:     cfg.Paths.ClipsDir,
		PaddingBefore: secondsToDuration(cfg.Clip.PaddingBefore),
		PaddingAfter:  secondsToDuration(cfg.Clip.PaddingAfter),
		Precise:       cfg.Clip.Precise,
		FFmpegBin:     cfg.Paths.FFmpegBin,
		FFprobeBin:    cfg.Paths.FFprobeBin,
	}, logger)

	var ix pipeline.Indexer
	if skipIndex {
		ix = noopIndexer{}
	} else {
		if cfg.OpenAIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY environment variable is required (or use --skip-index)")
		}
		embedder, err := index.NewOpenAIEmbedder(cfg.Index.EmbeddingModel, cfg.Index.Dimension)
		if err != nil {
			return fmt.Errorf("create embedder: %w", err)
		}
		milvusCfg := index.DefaultMilvusConfig()
		milvusCfg.Address = cfg.Index.MilvusAddress
		milvusCfg.CollectionName = cfg.Index.Collection
		milvusCfg.Dimension = cfg.Index.Dimension
		vectorStore, err := index.NewMilvusStore(ctx, milvusCfg)
		if err != nil {
			return fmt.Errorf("connect to Milvus: %w", err)
		}
		defer vectorStore.Close()

		ixCfg := index.DefaultIndexerConfig()
		ixCfg.BatchSize = cfg.Index.BatchSize
		ix = index.NewIndexer(embedder, vectorStore, ixCfg, logger)
	}

	runner := pipeline.New(aligner, extractor, store, ix, pipeline.Options{
		Workers:         cfg.Pipeline.Workers,
		AcceptanceFloor: cfg.Align.AcceptanceFloor,
		IndexFlagged:    forceIndex,
	}, logger)

	results, err := runner.Run(ctx, episodes)
	if err != nil {
		return fmt.Errorf("processing failed: %w", err)
	}

	printResults(results)
	return nil
}

// noopIndexer satisfies the pipeline when --skip-index is set.
type noopIndexer struct{}

func (noopIndexer) IndexEpisode(_ context.Context, _ string, items []index.Item) (int, error) {
	return 0, nil
}

func printResults(results []pipeline.Result) {
	// LipGloss signature purple/pink palette
	var (
		headerColor  = lipgloss.Color("#F780FF") // Bright pink/magenta
		episodeColor = lipgloss.Color("#BD93F9") // Purple
		numberColor  = lipgloss.Color("#FF79C6") // Pink
		okColor      = lipgloss.Color("#50FA7B") // Green
		flagColor    = lipgloss.Color("#FFB86C") // Orange
		errColor     = lipgloss.Color("#FF5555") // Red
		borderColor  = lipgloss.Color("#6272A4") // Muted purple
		summaryColor = lipgloss.Color("#8BE9FD") // Cyan accent
	)

	const (
		idWidth     = 10
		numWidth    = 10
		rateWidth   = 12
		statusWidth = 28
	)

	headerStyle := lipgloss.NewStyle().
		Foreground(headerColor).
		Bold(true).
		Padding(0, 1)

	borderStyle := lipgloss.NewStyle().Foreground(borderColor)

	headers := []string{
		headerStyle.Width(idWidth).Render("EPISODE"),
		headerStyle.Width(numWidth).Render("SEGMENTS"),
		headerStyle.Width(numWidth).Render("CLIPS"),
		headerStyle.Width(numWidth).Render("INDEXED"),
		headerStyle.Width(rateWidth).Render("ACCEPTANCE"),
		headerStyle.Width(statusWidth).Render("STATUS"),
	}
	fmt.Println(strings.Join(headers, borderStyle.Render("│")))

	separatorParts := []string{
		strings.Repeat("─", idWidth),
		strings.Repeat("─", numWidth),
		strings.Repeat("─", numWidth),
		strings.Repeat("─", numWidth),
		strings.Repeat("─", rateWidth),
		strings.Repeat("─", statusWidth),
	}
	fmt.Println(borderStyle.Render(strings.Join(separatorParts, "┼")))

	idStyle := lipgloss.NewStyle().Foreground(episodeColor).Padding(0, 1).Width(idWidth)
	numStyle := lipgloss.NewStyle().Foreground(numberColor).Padding(0, 1).Width(numWidth).Align(lipgloss.Right)
	rateStyle := lipgloss.NewStyle().Foreground(numberColor).Padding(0, 1).Width(rateWidth).Align(lipgloss.Right)

	totalClips := 0
	failures := 0
	for _, res := range results {
		status := "ok"
		statusColor := okColor
		switch {
		case res.Err != nil:
			status = res.Err.Error()
			statusColor = errColor
			failures++
		case res.Flagged:
			status = "flagged: low acceptance"
			statusColor = flagColor
		}
		totalClips += res.Clips

		statusStyle := lipgloss.NewStyle().Foreground(statusColor).Padding(0, 1).Width(statusWidth)

		cells := []string{
			idStyle.Render(res.EpisodeID),
			numStyle.Render(fmt.Sprintf("%d", res.Segments)),
			numStyle.Render(fmt.Sprintf("%d", res.Clips)),
			numStyle.Render(fmt.Sprintf("%d", res.Indexed)),
			rateStyle.Render(fmt.Sprintf("%.1f%%", res.AcceptanceRate*100)),
			statusStyle.Render(status),
		}
		fmt.Println(strings.Join(cells, borderStyle.Render("│")))
	}

	fmt.Println()
	summaryStyle := lipgloss.NewStyle().Foreground(summaryColor).Italic(true)
	fmt.Println(summaryStyle.Render(fmt.Sprintf(
		"%d episodes processed, %d clips extracted, %d failures",
		len(results), totalClips, failures)))
}

func msToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
