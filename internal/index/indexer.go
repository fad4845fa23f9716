package index

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/reelspeak/reelspeak/internal/align"
)

// Indexing errors.
var (
	ErrNoItems     = errors.New("no items to index")
	ErrIndexFailed = errors.New("indexing failed")
)

// Item pairs an aligned segment with the path of its extracted clip.
type Item struct {
	Segment  align.Segment
	ClipPath string
}

// IndexerConfig holds tuning knobs for batch indexing.
type IndexerConfig struct {
	BatchSize    int           // segments embedded per API call (default: 64)
	MaxRetries   int           // attempts per batch before isolation (default: 3)
	RetryBackoff time.Duration // initial backoff, doubled per retry (default: 1s)
}

// DefaultIndexerConfig returns sensible defaults.
func DefaultIndexerConfig() IndexerConfig {
	return IndexerConfig{
		BatchSize:    64,
		MaxRetries:   3,
		RetryBackoff: time.Second,
	}
}

// Indexer embeds segment dialog and writes entries to the vector store.
type Indexer struct {
	embedder Embedder
	store    VectorStore
	config   IndexerConfig
	logger   *slog.Logger
}

// NewIndexer creates an Indexer. A nil logger discards output.
func NewIndexer(embedder Embedder, store VectorStore, config IndexerConfig, logger *slog.Logger) *Indexer {
	if config.BatchSize <= 0 {
		config.BatchSize = 64
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = time.Second
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Indexer{
		embedder: embedder,
		store:    store,
		config:   config,
		logger:   logger.With("component", "indexer"),
	}
}

// IndexEpisode replaces an episode's entries in the vector store.
// Existing entries for the episode are removed first so re-processing
// an episode never leaves stale segments behind. Segments whose
// embedding fails after retries are skipped and logged rather than
// failing the whole episode; the count of indexed segments is returned.
func (ix *Indexer) IndexEpisode(ctx context.Context, episodeID string, items []Item) (int, error) {
	if len(items) == 0 {
		return 0, ErrNoItems
	}

	if err := ix.store.DeleteEpisode(ctx, episodeID); err != nil {
		return 0, fmt.Errorf("%w: clearing episode %s: %v", ErrIndexFailed, episodeID, err)
	}

	indexed := 0
	for start := 0; start < len(items); start += ix.config.BatchSize {
		end := start + ix.config.BatchSize
		if end > len(items) {
			end = len(items)
		}
		batch := items[start:end]

		entries, err := ix.embedBatch(ctx, batch)
		if err != nil {
			// Batch failed after retries; embed one at a time so a
			// single bad segment doesn't sink its neighbors.
			ix.logger.Warn("batch embedding failed, isolating segments",
				"episode", episodeID, "batch_start", start, "error", err)
			entries = ix.embedIsolated(ctx, batch)
		}
		if len(entries) == 0 {
			continue
		}

		if err := ix.store.Upsert(ctx, entries); err != nil {
			return indexed, fmt.Errorf("%w: upserting batch for %s: %v", ErrIndexFailed, episodeID, err)
		}
		indexed += len(entries)
	}

	ix.logger.Info("episode indexed", "episode", episodeID, "segments", indexed, "skipped", len(items)-indexed)
	return indexed, nil
}

func (ix *Indexer) embedBatch(ctx context.Context, batch []Item) ([]Entry, error) {
	texts := make([]string, len(batch))
	for i, it := range batch {
		texts[i] = embeddingText(it.Segment)
	}

	vectors, err := ix.embedWithRetry(ctx, texts)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, len(batch))
	for i, it := range batch {
		entries[i] = newEntry(it, vectors[i])
	}
	return entries, nil
}

func (ix *Indexer) embedIsolated(ctx context.Context, batch []Item) []Entry {
	entries := make([]Entry, 0, len(batch))
	for _, it := range batch {
		vectors, err := ix.embedWithRetry(ctx, []string{embeddingText(it.Segment)})
		if err != nil {
			ix.logger.Warn("skipping segment, embedding failed",
				"segment", it.Segment.ID, "error", err)
			continue
		}
		entries = append(entries, newEntry(it, vectors[0]))
	}
	return entries
}

func (ix *Indexer) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	backoff := ix.config.RetryBackoff
	var lastErr error
	for attempt := 0; attempt < ix.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		vectors, err := ix.embedder.Embed(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// embeddingText picks what gets embedded for a segment. Script dialog
// is the cleaner transcription; subtitle text serves as fallback for
// segments where the script line was empty after normalization.
func embeddingText(seg align.Segment) string {
	if seg.ScriptText != "" {
		return seg.ScriptText
	}
	return seg.SubtitleText
}

func newEntry(it Item, vector []float32) Entry {
	seg := it.Segment
	return Entry{
		ID:        seg.ID,
		Text:      embeddingText(seg),
		Embedding: vector,
		Meta: Meta{
			Character:  seg.Character,
			EpisodeID:  seg.EpisodeID,
			Season:     seg.Season,
			Episode:    seg.Episode,
			Start:      seg.Start,
			End:        seg.End,
			ClipPath:   it.ClipPath,
			Confidence: seg.Confidence,
		},
	}
}
