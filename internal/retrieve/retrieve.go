// Package retrieve picks the catalog clip that best matches a
// generated reply, honoring per-session dedup.
package retrieve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/reelspeak/reelspeak/internal/index"
	"github.com/reelspeak/reelspeak/internal/session"
)

// Retrieval errors.
var (
	ErrNoDialog        = errors.New("no dialog available for character")
	ErrRetrievalFailed = errors.New("retrieval failed")
)

const (
	defaultPoolFactor = 4
	maxPoolSize       = 200
)

// Options tunes candidate selection.
type Options struct {
	// TopK is the number of ranked candidates to return (default: 1).
	TopK int
	// PoolFactor over-fetches TopK*PoolFactor candidates before
	// ranking, capped at 200 (default: 4).
	PoolFactor int
	// MaxRetries bounds embedding attempts per query (default: 3).
	MaxRetries int
	// RetryBackoff is the initial wait between attempts, doubled per
	// retry (default: 1s).
	RetryBackoff time.Duration
}

// Result is a selected clip with its similarity score.
type Result struct {
	ID       string
	Text     string
	Score    float64
	Meta     index.Meta
	Repeated bool // true when dedup had to be relaxed
}

// Engine matches reply text against the indexed corpus.
type Engine struct {
	embedder index.Embedder
	store    index.VectorStore
	opts     Options
	logger   *slog.Logger
}

// New creates an Engine. A nil logger discards output.
func New(embedder index.Embedder, store index.VectorStore, opts Options, logger *slog.Logger) *Engine {
	if opts.TopK <= 0 {
		opts.TopK = 1
	}
	if opts.PoolFactor <= 0 {
		opts.PoolFactor = defaultPoolFactor
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = time.Second
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		embedder: embedder,
		store:    store,
		opts:     opts,
		logger:   logger.With("component", "retrieve"),
	}
}

// Select finds the clip best matching reply for the given character.
// Clips already played in sess are excluded; when every matching clip
// has been played the exclusion is relaxed and a repeat is returned
// with Repeated set. ErrNoDialog means the corpus holds no clips for
// the character at all. The chosen clip is marked used in sess.
func (e *Engine) Select(ctx context.Context, reply, character string, sess *session.State) (Result, error) {
	query, err := e.embedQuery(ctx, reply)
	if err != nil {
		return Result{}, fmt.Errorf("%w: embedding reply: %v", ErrRetrievalFailed, err)
	}

	pool := e.poolSize()
	var exclude []string
	if sess != nil {
		exclude = sess.UsedIDs()
	}

	candidates, err := e.store.Search(ctx, query, pool, &index.SearchOptions{
		Character:  character,
		ExcludeIDs: exclude,
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrRetrievalFailed, err)
	}

	repeated := false
	if len(candidates) == 0 && len(exclude) > 0 {
		// Everything matching has been played; a repeat beats silence.
		e.logger.Debug("relaxing dedup", "character", character, "excluded", len(exclude))
		candidates, err = e.store.Search(ctx, query, pool, &index.SearchOptions{
			Character: character,
		})
		if err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrRetrievalFailed, err)
		}
		repeated = true
	}
	if len(candidates) == 0 {
		return Result{}, fmt.Errorf("%w: %s", ErrNoDialog, character)
	}

	rankCandidates(candidates)
	best := candidates[0]

	if sess != nil {
		sess.MarkUsed(best.ID)
	}
	e.logger.Debug("clip selected",
		"segment", best.ID, "score", best.Score, "repeated", repeated)

	return Result{
		ID:       best.ID,
		Text:     best.Text,
		Score:    best.Score,
		Meta:     best.Meta,
		Repeated: repeated,
	}, nil
}

// Rank orders candidates for a query without session bookkeeping,
// returning up to TopK results. Used by the align/debug tooling.
func (e *Engine) Rank(ctx context.Context, reply, character string) ([]Result, error) {
	query, err := e.embedQuery(ctx, reply)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding reply: %v", ErrRetrievalFailed, err)
	}

	candidates, err := e.store.Search(ctx, query, e.poolSize(), &index.SearchOptions{
		Character: character,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRetrievalFailed, err)
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoDialog, character)
	}

	rankCandidates(candidates)
	if len(candidates) > e.opts.TopK {
		candidates = candidates[:e.opts.TopK]
	}

	results := make([]Result, len(candidates))
	for i, c := range candidates {
		results[i] = Result{ID: c.ID, Text: c.Text, Score: c.Score, Meta: c.Meta}
	}
	return results, nil
}

// embedQuery embeds the reply text with bounded retries and doubling
// backoff, giving up early when the context expires.
func (e *Engine) embedQuery(ctx context.Context, reply string) ([]float32, error) {
	backoff := e.opts.RetryBackoff
	var lastErr error
	for attempt := 0; attempt < e.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		vectors, err := e.embedder.Embed(ctx, []string{reply})
		if err == nil {
			return vectors[0], nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (e *Engine) poolSize() int {
	pool := e.opts.TopK * e.opts.PoolFactor
	if pool > maxPoolSize {
		pool = maxPoolSize
	}
	return pool
}

// rankCandidates sorts by similarity score, breaking ties on
// alignment confidence and finally on segment id so results are
// deterministic across runs.
func rankCandidates(candidates []index.Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		if candidates[i].Meta.Confidence != candidates[j].Meta.Confidence {
			return candidates[i].Meta.Confidence > candidates[j].Meta.Confidence
		}
		return candidates[i].ID < candidates[j].ID
	})
}
