package index

import (
	"context"
	"time"
)

// Meta is the segment metadata stored alongside each embedding. The
// retrieval path filters on Character and resolves ClipPath for
// playback without touching any other store.
type Meta struct {
	Character  string        `json:"character"`
	EpisodeID  string        `json:"episode_id"`
	Season     int           `json:"season"`
	Episode    int           `json:"episode"`
	Start      time.Duration `json:"start"`
	End        time.Duration `json:"end"`
	ClipPath   string        `json:"clip_path"`
	Confidence float64       `json:"confidence"`
}

// Entry is one indexed segment: its id, embedding, and metadata.
type Entry struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding"`
	Meta      Meta      `json:"meta"`
}

// Candidate is a search hit with its similarity score.
type Candidate struct {
	ID    string  `json:"id"`
	Text  string  `json:"text"`
	Score float64 `json:"score"`
	Meta  Meta    `json:"meta"`
}

// SearchOptions filters a similarity search.
type SearchOptions struct {
	// Character restricts hits to segments spoken by this character.
	Character string

	// ExcludeIDs removes already-used segment ids from the result set.
	ExcludeIDs []string
}

// VectorStore is the interface to the segment embedding index.
type VectorStore interface {
	// Upsert inserts entries, replacing any existing entries with the
	// same ids. Re-indexing an episode is therefore idempotent.
	Upsert(ctx context.Context, entries []Entry) error

	// Search returns the topK nearest candidates to the query vector,
	// ranked by descending similarity, honoring the filter options.
	Search(ctx context.Context, queryVector []float32, topK int, opts *SearchOptions) ([]Candidate, error)

	// DeleteEpisode removes every entry belonging to an episode.
	DeleteEpisode(ctx context.Context, episodeID string) error

	// Count returns the number of indexed entries.
	Count(ctx context.Context) (int64, error)

	// Close releases resources and closes connections.
	Close() error
}
