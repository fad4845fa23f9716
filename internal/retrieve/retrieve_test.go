package retrieve

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/reelspeak/reelspeak/internal/index"
	"github.com/reelspeak/reelspeak/internal/session"
)

type stubEmbedder struct {
	dim       int
	failCalls int // fail this many calls before succeeding
	calls     int
}

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	s.calls++
	if s.failCalls > 0 {
		s.failCalls--
		return nil, errors.New("transient embedding error")
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = make([]float32, s.dim)
	}
	return vectors, nil
}

func (s *stubEmbedder) Dimension() int { return s.dim }
func (s *stubEmbedder) Model() string  { return "stub" }

// stubStore replays canned candidates and applies the exclusion
// filter the way the real store would server-side.
type stubStore struct {
	candidates []index.Candidate
	searchErr  error
	calls      []index.SearchOptions
}

func (s *stubStore) Upsert(context.Context, []index.Entry) error { return nil }

func (s *stubStore) Search(_ context.Context, _ []float32, topK int, opts *index.SearchOptions) ([]index.Candidate, error) {
	if opts != nil {
		s.calls = append(s.calls, *opts)
	}
	if s.searchErr != nil {
		return nil, s.searchErr
	}

	excluded := make(map[string]struct{})
	if opts != nil {
		for _, id := range opts.ExcludeIDs {
			excluded[id] = struct{}{}
		}
	}
	var out []index.Candidate
	for _, c := range s.candidates {
		if opts != nil && opts.Character != "" && c.Meta.Character != opts.Character {
			continue
		}
		if _, ok := excluded[c.ID]; ok {
			continue
		}
		out = append(out, c)
		if len(out) == topK {
			break
		}
	}
	return out, nil
}

func (s *stubStore) DeleteEpisode(context.Context, string) error { return nil }
func (s *stubStore) Count(context.Context) (int64, error)        { return int64(len(s.candidates)), nil }
func (s *stubStore) Close() error                                { return nil }

func candidate(id string, score, confidence float64, character string) index.Candidate {
	return index.Candidate{
		ID:    id,
		Text:  "some dialog",
		Score: score,
		Meta:  index.Meta{Character: character, Confidence: confidence, ClipPath: "/clips/" + id + ".mp4"},
	}
}

func TestSelectPicksHighestScore(t *testing.T) {
	store := &stubStore{candidates: []index.Candidate{
		candidate("S01E01_seg_0001", 0.80, 0.9, "PICARD"),
		candidate("S01E01_seg_0002", 0.95, 0.9, "PICARD"),
		candidate("S01E01_seg_0003", 0.70, 0.9, "PICARD"),
	}}
	engine := New(&stubEmbedder{dim: 4}, store, Options{}, nil)
	sess := session.NewTracker().Start()

	result, err := engine.Select(context.Background(), "make it so", "PICARD", sess)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if result.ID != "S01E01_seg_0002" {
		t.Errorf("selected %s, want S01E01_seg_0002", result.ID)
	}
	if result.Repeated {
		t.Error("Repeated = true on first selection")
	}
	if !sess.Used("S01E01_seg_0002") {
		t.Error("selected clip not marked used in session")
	}
}

func TestSelectTieBreaksDeterministically(t *testing.T) {
	store := &stubStore{candidates: []index.Candidate{
		candidate("S01E01_seg_0005", 0.90, 0.80, "PICARD"),
		candidate("S01E01_seg_0002", 0.90, 0.95, "PICARD"),
		candidate("S01E01_seg_0001", 0.90, 0.95, "PICARD"),
	}}
	engine := New(&stubEmbedder{dim: 4}, store, Options{}, nil)

	// Equal scores fall through to confidence, then lowest id.
	result, err := engine.Select(context.Background(), "hello", "PICARD", nil)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if result.ID != "S01E01_seg_0001" {
		t.Errorf("selected %s, want S01E01_seg_0001", result.ID)
	}
}

func TestSelectExcludesUsedClips(t *testing.T) {
	store := &stubStore{candidates: []index.Candidate{
		candidate("S01E01_seg_0001", 0.95, 0.9, "PICARD"),
		candidate("S01E01_seg_0002", 0.80, 0.9, "PICARD"),
	}}
	engine := New(&stubEmbedder{dim: 4}, store, Options{}, nil)
	sess := session.NewTracker().Start()
	sess.MarkUsed("S01E01_seg_0001")

	result, err := engine.Select(context.Background(), "hello", "PICARD", sess)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if result.ID != "S01E01_seg_0002" {
		t.Errorf("selected %s, want the unused S01E01_seg_0002", result.ID)
	}
}

func TestSelectRelaxesDedupWhenExhausted(t *testing.T) {
	store := &stubStore{candidates: []index.Candidate{
		candidate("S01E01_seg_0001", 0.95, 0.9, "PICARD"),
	}}
	engine := New(&stubEmbedder{dim: 4}, store, Options{}, nil)
	sess := session.NewTracker().Start()
	sess.MarkUsed("S01E01_seg_0001")

	result, err := engine.Select(context.Background(), "hello", "PICARD", sess)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if result.ID != "S01E01_seg_0001" {
		t.Errorf("selected %s, want repeated S01E01_seg_0001", result.ID)
	}
	if !result.Repeated {
		t.Error("Repeated = false on relaxed selection")
	}
	if len(store.calls) != 2 {
		t.Fatalf("store searched %d times, want 2 (filtered + relaxed)", len(store.calls))
	}
	if len(store.calls[1].ExcludeIDs) != 0 {
		t.Error("relaxed search still carried exclusions")
	}
}

func TestSelectNoDialogForCharacter(t *testing.T) {
	store := &stubStore{candidates: []index.Candidate{
		candidate("S01E01_seg_0001", 0.95, 0.9, "DATA"),
	}}
	engine := New(&stubEmbedder{dim: 4}, store, Options{}, nil)

	_, err := engine.Select(context.Background(), "hello", "WESLEY", nil)
	if !errors.Is(err, ErrNoDialog) {
		t.Errorf("error = %v, want ErrNoDialog", err)
	}
}

func TestSelectCharacterFilterApplied(t *testing.T) {
	store := &stubStore{candidates: []index.Candidate{
		candidate("S01E01_seg_0001", 0.99, 0.9, "DATA"),
		candidate("S01E01_seg_0002", 0.50, 0.9, "PICARD"),
	}}
	engine := New(&stubEmbedder{dim: 4}, store, Options{}, nil)

	result, err := engine.Select(context.Background(), "hello", "PICARD", nil)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if result.ID != "S01E01_seg_0002" {
		t.Errorf("selected %s, want PICARD's clip despite lower score", result.ID)
	}
	if store.calls[0].Character != "PICARD" {
		t.Errorf("search character = %q, want PICARD", store.calls[0].Character)
	}
}

func TestSelectRetriesEmbedding(t *testing.T) {
	store := &stubStore{candidates: []index.Candidate{
		candidate("S01E01_seg_0001", 0.95, 0.9, "PICARD"),
	}}
	embedder := &stubEmbedder{dim: 4, failCalls: 2}
	engine := New(embedder, store, Options{RetryBackoff: time.Millisecond}, nil)

	result, err := engine.Select(context.Background(), "hello", "PICARD", nil)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if result.ID != "S01E01_seg_0001" {
		t.Errorf("selected %s, want S01E01_seg_0001", result.ID)
	}
	if embedder.calls != 3 {
		t.Errorf("embedder called %d times, want 3 (2 failures + 1 success)", embedder.calls)
	}
}

func TestSelectGivesUpAfterRetries(t *testing.T) {
	embedder := &stubEmbedder{dim: 4, failCalls: 10}
	engine := New(embedder, &stubStore{}, Options{MaxRetries: 2, RetryBackoff: time.Millisecond}, nil)

	if _, err := engine.Select(context.Background(), "hello", "PICARD", nil); !errors.Is(err, ErrRetrievalFailed) {
		t.Errorf("error = %v, want ErrRetrievalFailed", err)
	}
	if embedder.calls != 2 {
		t.Errorf("embedder called %d times, want 2", embedder.calls)
	}
}

func TestSelectSearchError(t *testing.T) {
	store := &stubStore{searchErr: errors.New("milvus down")}
	engine := New(&stubEmbedder{dim: 4}, store, Options{}, nil)

	_, err := engine.Select(context.Background(), "hello", "PICARD", nil)
	if !errors.Is(err, ErrRetrievalFailed) {
		t.Errorf("error = %v, want ErrRetrievalFailed", err)
	}
}

func TestRankReturnsTopK(t *testing.T) {
	store := &stubStore{candidates: []index.Candidate{
		candidate("S01E01_seg_0001", 0.70, 0.9, "PICARD"),
		candidate("S01E01_seg_0002", 0.90, 0.9, "PICARD"),
		candidate("S01E01_seg_0003", 0.80, 0.9, "PICARD"),
	}}
	engine := New(&stubEmbedder{dim: 4}, store, Options{TopK: 2}, nil)

	results, err := engine.Rank(context.Background(), "hello", "PICARD")
	if err != nil {
		t.Fatalf("Rank() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Rank() returned %d results, want 2", len(results))
	}
	if results[0].ID != "S01E01_seg_0002" || results[1].ID != "S01E01_seg_0003" {
		t.Errorf("order = [%s %s], want score-descending", results[0].ID, results[1].ID)
	}
}

func TestPoolSizeCapped(t *testing.T) {
	engine := New(&stubEmbedder{dim: 4}, &stubStore{}, Options{TopK: 100, PoolFactor: 10}, nil)
	if got := engine.poolSize(); got != maxPoolSize {
		t.Errorf("poolSize() = %d, want %d", got, maxPoolSize)
	}
}
