package catalog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/reelspeak/reelspeak/internal/align"
	"github.com/reelspeak/reelspeak/internal/clip"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testSegment(id string) align.Segment {
	return align.Segment{
		ID:           id,
		EpisodeID:    "S01E01",
		Season:       1,
		Episode:      1,
		Character:    "PICARD",
		Start:        10 * time.Second,
		End:          11 * time.Second,
		ScriptText:   "Engage.",
		SubtitleText: "Engage.",
		Confidence:   0.97,
	}
}

func TestUpsertSegmentIdempotent(t *testing.T) {
	s := openTestStore(t)

	seg := testSegment("S01E01_seg_0000")
	if err := s.UpsertSegment(seg); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}

	seg.Confidence = 0.99
	if err := s.UpsertSegment(seg); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	n, err := s.SegmentCount("S01E01")
	if err != nil {
		t.Fatalf("SegmentCount failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 segment after double upsert, got %d", n)
	}
}

func TestClipRoundTrip(t *testing.T) {
	s := openTestStore(t)

	c := clip.Clip{
		SegmentID:    "S01E01_seg_0000",
		VideoPath:    "/clips/S01E01/S01E01_seg_0000.mp4",
		SubtitlePath: "/clips/S01E01/S01E01_seg_0000.srt",
		Duration:     1400 * time.Millisecond,
	}
	if err := s.UpsertClip(c); err != nil {
		t.Fatalf("UpsertClip failed: %v", err)
	}

	got, found, err := s.ClipForSegment(c.SegmentID)
	if err != nil {
		t.Fatalf("ClipForSegment failed: %v", err)
	}
	if !found {
		t.Fatal("expected clip to be found")
	}
	if got != c {
		t.Errorf("round trip mismatch: %+v != %+v", got, c)
	}

	_, found, err = s.ClipForSegment("missing")
	if err != nil {
		t.Fatalf("ClipForSegment(missing) failed: %v", err)
	}
	if found {
		t.Error("expected missing clip to report not found")
	}
}

func TestReplaceEpisode(t *testing.T) {
	s := openTestStore(t)

	for _, id := range []string{"S01E01_seg_0000", "S01E01_seg_0001"} {
		if err := s.UpsertSegment(testSegment(id)); err != nil {
			t.Fatal(err)
		}
		if err := s.UpsertClip(clip.Clip{SegmentID: id, VideoPath: id + ".mp4", SubtitlePath: id + ".srt"}); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.ReplaceEpisode("S01E01"); err != nil {
		t.Fatalf("ReplaceEpisode failed: %v", err)
	}

	n, err := s.SegmentCount("S01E01")
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("expected 0 segments after replace, got %d", n)
	}

	_, found, err := s.ClipForSegment("S01E01_seg_0000")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Error("expected clips removed with their episode")
	}
}

func TestRecordEpisodeAndFlag(t *testing.T) {
	s := openTestStore(t)

	report := align.Report{
		EpisodeID: "S01E01",
		Season:    1,
		Episode:   1,
		Segments:  []align.Segment{testSegment("S01E01_seg_0000")},
		Rejections: []align.Rejection{
			{UtteranceIndex: 1, Speaker: "WORF", Text: "unmatched", BestScore: 0.2},
			{UtteranceIndex: 2, Speaker: "DATA", Text: "also unmatched", BestScore: 0.3},
		},
	}

	if err := s.RecordEpisode(report, true); err != nil {
		t.Fatalf("RecordEpisode failed: %v", err)
	}

	flagged, err := s.EpisodeFlagged("S01E01")
	if err != nil {
		t.Fatalf("EpisodeFlagged failed: %v", err)
	}
	if !flagged {
		t.Error("expected episode to be flagged")
	}

	// Re-record unflagged: upsert semantics.
	if err := s.RecordEpisode(report, false); err != nil {
		t.Fatalf("second RecordEpisode failed: %v", err)
	}
	flagged, err = s.EpisodeFlagged("S01E01")
	if err != nil {
		t.Fatal(err)
	}
	if flagged {
		t.Error("expected flag cleared after re-record")
	}

	records, err := s.Episodes()
	if err != nil {
		t.Fatalf("Episodes failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 episode record, got %d", len(records))
	}
	rec := records[0]
	if rec.Accepted != 1 || rec.Rejected != 2 {
		t.Errorf("unexpected counts: %+v", rec)
	}
	if rec.AcceptanceRate < 0.33 || rec.AcceptanceRate > 0.34 {
		t.Errorf("unexpected acceptance rate: %f", rec.AcceptanceRate)
	}

	unknown, err := s.EpisodeFlagged("S09E99")
	if err != nil {
		t.Fatal(err)
	}
	if unknown {
		t.Error("unknown episodes must not be flagged")
	}
}
