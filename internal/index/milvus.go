package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

// Common errors for Milvus operations.
var (
	ErrInvalidDimension = errors.New("invalid vector dimension")
	ErrEmptyEntries     = errors.New("no entries provided for upsert")
	ErrConnectionFailed = errors.New("failed to connect to Milvus")
	ErrUpsertFailed     = errors.New("failed to upsert entries")
	ErrSearchFailed     = errors.New("failed to search vectors")
)

// MilvusConfig holds configuration for the Milvus connection and collection.
type MilvusConfig struct {
	Address        string // Milvus server address (e.g., "localhost:19530")
	CollectionName string // Name of the collection
	Dimension      int    // Vector dimension (e.g., 3072 for text-embedding-3-large)
	IndexType      string // Index type (default: "HNSW")
	MetricType     string // Similarity metric (default: "COSINE")

	// HNSW index parameters
	M              int // HNSW M parameter (default: 16)
	EfConstruction int // HNSW efConstruction (default: 256)
}

// DefaultMilvusConfig returns default configuration from environment variables.
func DefaultMilvusConfig() MilvusConfig {
	address := os.Getenv("MILVUS_ADDRESS")
	if address == "" {
		address = "localhost:19530"
	}

	collection := os.Getenv("MILVUS_COLLECTION")
	if collection == "" {
		collection = "reelspeak_segments"
	}

	return MilvusConfig{
		Address:        address,
		CollectionName: collection,
		Dimension:      3072,
		IndexType:      "HNSW",
		MetricType:     "COSINE",
		M:              16,
		EfConstruction: 256,
	}
}

// MilvusStore implements VectorStore using Milvus.
type MilvusStore struct {
	client client.Client
	config MilvusConfig
}

// NewMilvusStore connects to Milvus and ensures the segment collection
// exists with the proper schema.
func NewMilvusStore(ctx context.Context, config MilvusConfig) (*MilvusStore, error) {
	if config.Dimension <= 0 {
		return nil, ErrInvalidDimension
	}

	c, err := client.NewGrpcClient(ctx, config.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	store := &MilvusStore{client: c, config: config}
	if err := store.ensureCollection(ctx); err != nil {
		c.Close()
		return nil, err
	}

	return store, nil
}

// ensureCollection creates the collection with schema if it doesn't exist.
func (m *MilvusStore) ensureCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.config.CollectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if has {
		return nil
	}

	schema := &entity.Schema{
		CollectionName: m.config.CollectionName,
		Fields: []*entity.Field{
			{
				Name:       "segment_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:       "text",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "4096"},
			},
			{
				Name:     "embedding",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", m.config.Dimension),
				},
			},
			{
				Name:       "character",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:       "episode_id",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "16"},
			},
			{
				Name:     "season",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     "episode",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     "start_ms",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     "end_ms",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:       "clip_path",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "512"},
			},
			{
				Name:     "confidence",
				DataType: entity.FieldTypeDouble,
			},
		},
	}

	if err := m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexHNSW(entity.COSINE, m.config.M, m.config.EfConstruction)
	if err != nil {
		return fmt.Errorf("failed to create index config: %w", err)
	}
	if err := m.client.CreateIndex(ctx, m.config.CollectionName, "embedding", idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	if err := m.client.LoadCollection(ctx, m.config.CollectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	return nil
}

// Upsert deletes any existing entries with the same ids, then inserts
// the new ones. Keyed deletion plus insert keeps re-indexing idempotent.
func (m *MilvusStore) Upsert(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return ErrEmptyEntries
	}

	for _, e := range entries {
		if len(e.Embedding) != m.config.Dimension {
			return fmt.Errorf("%w: entry %s has dimension %d, expected %d",
				ErrInvalidDimension, e.ID, len(e.Embedding), m.config.Dimension)
		}
	}

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	if err := m.client.Delete(ctx, m.config.CollectionName, "", idInExpr("segment_id", ids)); err != nil {
		return fmt.Errorf("%w: delete existing: %v", ErrUpsertFailed, err)
	}

	segmentIDs := make([]string, len(entries))
	texts := make([]string, len(entries))
	embeddings := make([][]float32, len(entries))
	characters := make([]string, len(entries))
	episodeIDs := make([]string, len(entries))
	seasons := make([]int64, len(entries))
	episodes := make([]int64, len(entries))
	startMS := make([]int64, len(entries))
	endMS := make([]int64, len(entries))
	clipPaths := make([]string, len(entries))
	confidences := make([]float64, len(entries))

	for i, e := range entries {
		segmentIDs[i] = e.ID
		texts[i] = e.Text
		embeddings[i] = e.Embedding
		characters[i] = e.Meta.Character
		episodeIDs[i] = e.Meta.EpisodeID
		seasons[i] = int64(e.Meta.Season)
		episodes[i] = int64(e.Meta.Episode)
		startMS[i] = e.Meta.Start.Milliseconds()
		endMS[i] = e.Meta.End.Milliseconds()
		clipPaths[i] = e.Meta.ClipPath
		confidences[i] = e.Meta.Confidence
	}

	columns := []entity.Column{
		entity.NewColumnVarChar("segment_id", segmentIDs),
		entity.NewColumnVarChar("text", texts),
		entity.NewColumnFloatVector("embedding", m.config.Dimension, embeddings),
		entity.NewColumnVarChar("character", characters),
		entity.NewColumnVarChar("episode_id", episodeIDs),
		entity.NewColumnInt64("season", seasons),
		entity.NewColumnInt64("episode", episodes),
		entity.NewColumnInt64("start_ms", startMS),
		entity.NewColumnInt64("end_ms", endMS),
		entity.NewColumnVarChar("clip_path", clipPaths),
		entity.NewColumnDouble("confidence", confidences),
	}

	if _, err := m.client.Insert(ctx, m.config.CollectionName, "", columns...); err != nil {
		return fmt.Errorf("%w: %v", ErrUpsertFailed, err)
	}
	if err := m.client.Flush(ctx, m.config.CollectionName, false); err != nil {
		return fmt.Errorf("failed to flush data: %w", err)
	}

	return nil
}

// Search performs top-K similarity search with character and
// exclusion filtering applied server-side.
func (m *MilvusStore) Search(ctx context.Context, queryVector []float32, topK int, opts *SearchOptions) ([]Candidate, error) {
	if len(queryVector) != m.config.Dimension {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrInvalidDimension, m.config.Dimension, len(queryVector))
	}

	var clauses []string
	if opts != nil {
		if opts.Character != "" {
			clauses = append(clauses, fmt.Sprintf(`character == "%s"`, escapeExpr(opts.Character)))
		}
		if len(opts.ExcludeIDs) > 0 {
			clauses = append(clauses, "not "+idInExpr("segment_id", opts.ExcludeIDs))
		}
	}
	expr := strings.Join(clauses, " and ")

	sp, err := entity.NewIndexHNSWSearchParam(64) // ef parameter for search
	if err != nil {
		return nil, fmt.Errorf("failed to create search params: %w", err)
	}

	outputFields := []string{
		"segment_id", "text", "character", "episode_id",
		"season", "episode", "start_ms", "end_ms", "clip_path", "confidence",
	}

	results, err := m.client.Search(
		ctx,
		m.config.CollectionName,
		nil, // partition names
		expr,
		outputFields,
		[]entity.Vector{entity.FloatVector(queryVector)},
		"embedding",
		entity.COSINE,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchFailed, err)
	}
	if len(results) == 0 {
		return []Candidate{}, nil
	}

	candidates := make([]Candidate, 0, results[0].ResultCount)
	for i := 0; i < results[0].ResultCount; i++ {
		cand := Candidate{Score: float64(results[0].Scores[i])}
		for _, field := range results[0].Fields {
			switch field.Name() {
			case "segment_id":
				cand.ID = field.(*entity.ColumnVarChar).Data()[i]
			case "text":
				cand.Text = field.(*entity.ColumnVarChar).Data()[i]
			case "character":
				cand.Meta.Character = field.(*entity.ColumnVarChar).Data()[i]
			case "episode_id":
				cand.Meta.EpisodeID = field.(*entity.ColumnVarChar).Data()[i]
			case "season":
				cand.Meta.Season = int(field.(*entity.ColumnInt64).Data()[i])
			case "episode":
				cand.Meta.Episode = int(field.(*entity.ColumnInt64).Data()[i])
			case "start_ms":
				cand.Meta.Start = time.Duration(field.(*entity.ColumnInt64).Data()[i]) * time.Millisecond
			case "end_ms":
				cand.Meta.End = time.Duration(field.(*entity.ColumnInt64).Data()[i]) * time.Millisecond
			case "clip_path":
				cand.Meta.ClipPath = field.(*entity.ColumnVarChar).Data()[i]
			case "confidence":
				cand.Meta.Confidence = field.(*entity.ColumnDouble).Data()[i]
			}
		}
		candidates = append(candidates, cand)
	}

	return candidates, nil
}

// DeleteEpisode removes all entries belonging to an episode.
func (m *MilvusStore) DeleteEpisode(ctx context.Context, episodeID string) error {
	expr := fmt.Sprintf(`episode_id == "%s"`, escapeExpr(episodeID))
	if err := m.client.Delete(ctx, m.config.CollectionName, "", expr); err != nil {
		return fmt.Errorf("failed to delete episode %s: %w", episodeID, err)
	}
	return nil
}

// Count returns the number of indexed entries.
func (m *MilvusStore) Count(ctx context.Context) (int64, error) {
	stats, err := m.client.GetCollectionStatistics(ctx, m.config.CollectionName)
	if err != nil {
		return 0, fmt.Errorf("failed to get stats: %w", err)
	}

	var count int64
	fmt.Sscanf(stats["row_count"], "%d", &count)
	return count, nil
}

// Close releases resources and closes the Milvus connection.
func (m *MilvusStore) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}

func idInExpr(field string, ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = `"` + escapeExpr(id) + `"`
	}
	return fmt.Sprintf("%s in [%s]", field, strings.Join(quoted, ", "))
}

func escapeExpr(s string) string {
	return strings.ReplaceAll(s, `"`, ``)
}
