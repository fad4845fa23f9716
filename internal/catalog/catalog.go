// Package catalog is the pipeline's durable bookkeeping: which
// segments and clips exist for each episode, and which episodes were
// flagged for manual review because too little of their dialog
// aligned. The vector store holds the searchable embeddings; the
// catalog holds the ground truth the pipeline needs between runs.
package catalog

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/reelspeak/reelspeak/internal/align"
	"github.com/reelspeak/reelspeak/internal/clip"
)

// EpisodeRecord summarizes one processed episode.
type EpisodeRecord struct {
	EpisodeID      string
	Season         int
	Episode        int
	Accepted       int
	Rejected       int
	AcceptanceRate float64
	OffsetApplied  int
	Flagged        bool
	ProcessedAt    time.Time
}

// Store is a SQLite-backed catalog. SQLite serializes writes, so all
// methods are safe for concurrent use by parallel episode workers.
type Store struct {
	db *sql.DB
}

// Open creates or opens the catalog database at the given path,
// applying the schema on first use.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate catalog: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS episodes (
		episode_id      TEXT PRIMARY KEY,
		season          INTEGER NOT NULL,
		episode         INTEGER NOT NULL,
		accepted        INTEGER NOT NULL,
		rejected        INTEGER NOT NULL,
		acceptance_rate REAL NOT NULL,
		offset_applied  INTEGER NOT NULL,
		flagged         INTEGER NOT NULL,
		processed_at    TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS segments (
		id             TEXT PRIMARY KEY,
		episode_id     TEXT NOT NULL,
		season         INTEGER NOT NULL,
		episode        INTEGER NOT NULL,
		character      TEXT NOT NULL,
		start_ms       INTEGER NOT NULL,
		end_ms         INTEGER NOT NULL,
		script_text    TEXT NOT NULL,
		subtitle_text  TEXT NOT NULL,
		confidence     REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_segments_episode ON segments(episode_id);
	CREATE TABLE IF NOT EXISTS clips (
		segment_id    TEXT PRIMARY KEY,
		video_path    TEXT NOT NULL,
		subtitle_path TEXT NOT NULL,
		duration_ms   INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ReplaceEpisode removes all segments and clips recorded for an
// episode. Called before re-processing so a rerun never leaves stale
// rows behind.
func (s *Store) ReplaceEpisode(episodeID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("replace episode %s: %w", episodeID, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`DELETE FROM clips WHERE segment_id IN (SELECT id FROM segments WHERE episode_id = ?)`,
		episodeID,
	); err != nil {
		return fmt.Errorf("delete clips for %s: %w", episodeID, err)
	}
	if _, err := tx.Exec(`DELETE FROM segments WHERE episode_id = ?`, episodeID); err != nil {
		return fmt.Errorf("delete segments for %s: %w", episodeID, err)
	}

	return tx.Commit()
}

// UpsertSegment stores or replaces a segment by id.
func (s *Store) UpsertSegment(seg align.Segment) error {
	_, err := s.db.Exec(
		`INSERT INTO segments (id, episode_id, season, episode, character, start_ms, end_ms, script_text, subtitle_text, confidence)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   character = excluded.character,
		   start_ms = excluded.start_ms,
		   end_ms = excluded.end_ms,
		   script_text = excluded.script_text,
		   subtitle_text = excluded.subtitle_text,
		   confidence = excluded.confidence`,
		seg.ID, seg.EpisodeID, seg.Season, seg.Episode, seg.Character,
		seg.Start.Milliseconds(), seg.End.Milliseconds(),
		seg.ScriptText, seg.SubtitleText, seg.Confidence,
	)
	if err != nil {
		return fmt.Errorf("upsert segment %s: %w", seg.ID, err)
	}
	return nil
}

// UpsertClip stores or replaces a clip record by segment id.
func (s *Store) UpsertClip(c clip.Clip) error {
	_, err := s.db.Exec(
		`INSERT INTO clips (segment_id, video_path, subtitle_path, duration_ms)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (segment_id) DO UPDATE SET
		   video_path = excluded.video_path,
		   subtitle_path = excluded.subtitle_path,
		   duration_ms = excluded.duration_ms`,
		c.SegmentID, c.VideoPath, c.SubtitlePath, c.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("upsert clip %s: %w", c.SegmentID, err)
	}
	return nil
}

// RecordEpisode stores the per-episode alignment outcome.
func (s *Store) RecordEpisode(report align.Report, flagged bool) error {
	_, err := s.db.Exec(
		`INSERT INTO episodes (episode_id, season, episode, accepted, rejected, acceptance_rate, offset_applied, flagged, processed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (episode_id) DO UPDATE SET
		   accepted = excluded.accepted,
		   rejected = excluded.rejected,
		   acceptance_rate = excluded.acceptance_rate,
		   offset_applied = excluded.offset_applied,
		   flagged = excluded.flagged,
		   processed_at = excluded.processed_at`,
		report.EpisodeID, report.Season, report.Episode,
		len(report.Segments), len(report.Rejections),
		report.AcceptanceRate(), report.OffsetApplied,
		boolToInt(flagged), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record episode %s: %w", report.EpisodeID, err)
	}
	return nil
}

// EpisodeFlagged reports whether an episode was marked for manual
// review. Unknown episodes are not flagged.
func (s *Store) EpisodeFlagged(episodeID string) (bool, error) {
	var flagged int
	err := s.db.QueryRow(`SELECT flagged FROM episodes WHERE episode_id = ?`, episodeID).Scan(&flagged)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query episode %s: %w", episodeID, err)
	}
	return flagged != 0, nil
}

// Episodes returns all recorded episodes ordered by id.
func (s *Store) Episodes() ([]EpisodeRecord, error) {
	rows, err := s.db.Query(
		`SELECT episode_id, season, episode, accepted, rejected, acceptance_rate, offset_applied, flagged, processed_at
		 FROM episodes ORDER BY episode_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list episodes: %w", err)
	}
	defer rows.Close()

	var records []EpisodeRecord
	for rows.Next() {
		var (
			rec       EpisodeRecord
			flagged   int
			processed string
		)
		if err := rows.Scan(&rec.EpisodeID, &rec.Season, &rec.Episode, &rec.Accepted,
			&rec.Rejected, &rec.AcceptanceRate, &rec.OffsetApplied, &flagged, &processed); err != nil {
			return nil, fmt.Errorf("scan episode row: %w", err)
		}
		rec.Flagged = flagged != 0
		rec.ProcessedAt, _ = time.Parse(time.RFC3339, processed)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SegmentCount returns the number of cataloged segments for an episode.
func (s *Store) SegmentCount(episodeID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM segments WHERE episode_id = ?`, episodeID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count segments for %s: %w", episodeID, err)
	}
	return n, nil
}

// ClipForSegment resolves a segment id to its extracted clip, if any.
func (s *Store) ClipForSegment(segmentID string) (clip.Clip, bool, error) {
	var (
		c          clip.Clip
		durationMS int64
	)
	err := s.db.QueryRow(
		`SELECT segment_id, video_path, subtitle_path, duration_ms FROM clips WHERE segment_id = ?`,
		segmentID,
	).Scan(&c.SegmentID, &c.VideoPath, &c.SubtitlePath, &durationMS)
	if err == sql.ErrNoRows {
		return clip.Clip{}, false, nil
	}
	if err != nil {
		return clip.Clip{}, false, fmt.Errorf("query clip %s: %w", segmentID, err)
	}
	c.Duration = time.Duration(durationMS) * time.Millisecond
	return c, true, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
