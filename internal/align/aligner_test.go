package align

import (
	"fmt"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/reelspeak/reelspeak/internal/script"
	"github.com/reelspeak/reelspeak/internal/subtitle"
)

func sec(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func TestAlignSplitUtterance(t *testing.T) {
	cues := []subtitle.Cue{
		{Index: 1, Start: sec(10.0), End: sec(10.5), Text: "Hello"},
		{Index: 2, Start: sec(10.6), End: sec(11.2), Text: "there"},
	}
	utterances := []script.Utterance{
		{Index: 0, Speaker: "PICARD", Text: "Hello there"},
	}

	report := New(Options{}).Align("S01E01", 1, 1, cues, utterances)

	if len(report.Segments) != 1 {
		t.Fatalf("expected 1 segment, got %d (rejections: %+v)", len(report.Segments), report.Rejections)
	}

	seg := report.Segments[0]
	if seg.Character != "PICARD" {
		t.Errorf("expected character PICARD, got %q", seg.Character)
	}
	if seg.Start != sec(10.0) || seg.End != sec(11.2) {
		t.Errorf("expected span [10.0, 11.2], got [%v, %v]", seg.Start, seg.End)
	}
	if math.Abs(seg.Confidence-1.0) > 0.01 {
		t.Errorf("expected confidence near 1.0, got %f", seg.Confidence)
	}
	if seg.ID != "S01E01_seg_0000" {
		t.Errorf("unexpected segment id %q", seg.ID)
	}
	if seg.SubtitleText != "Hello there" {
		t.Errorf("unexpected subtitle text %q", seg.SubtitleText)
	}
}

func TestAlignSequenceConsumesCuesMonotonically(t *testing.T) {
	cues := []subtitle.Cue{
		{Index: 1, Start: sec(1), End: sec(2), Text: "Space, the final frontier."},
		{Index: 2, Start: sec(3), End: sec(4), Text: "These are the voyages"},
		{Index: 3, Start: sec(4.2), End: sec(5), Text: "of the starship Enterprise."},
		{Index: 4, Start: sec(6), End: sec(7), Text: "Fascinating."},
	}
	utterances := []script.Utterance{
		{Index: 0, Speaker: "PICARD", Text: "Space, the final frontier."},
		{Index: 1, Speaker: "PICARD", Text: "These are the voyages of the starship Enterprise."},
		{Index: 2, Speaker: "SPOCK", Text: "Fascinating."},
	}

	report := New(Options{}).Align("S01E01", 1, 1, cues, utterances)

	if len(report.Segments) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(report.Segments))
	}

	// The multi-cue utterance should span cues 2 and 3.
	if report.Segments[1].Start != sec(3) || report.Segments[1].End != sec(5) {
		t.Errorf("expected second segment [3,5], got [%v,%v]",
			report.Segments[1].Start, report.Segments[1].End)
	}

	// Invariants: start < end, non-overlapping, ordered.
	for i, seg := range report.Segments {
		if seg.Start >= seg.End {
			t.Errorf("segment %d has start >= end: [%v,%v]", i, seg.Start, seg.End)
		}
		if i > 0 && seg.Start < report.Segments[i-1].End {
			t.Errorf("segment %d overlaps previous: %v < %v", i, seg.Start, report.Segments[i-1].End)
		}
	}
}

func TestAlignRejectsGarbage(t *testing.T) {
	cues := []subtitle.Cue{
		{Index: 1, Start: sec(1), End: sec(2), Text: "Tea, Earl Grey, hot."},
	}
	utterances := []script.Utterance{
		{Index: 0, Speaker: "PICARD", Text: "Tea, Earl Grey, hot."},
		{Index: 1, Speaker: "WORF", Text: "Today is a good day to die."},
	}

	report := New(Options{}).Align("S01E01", 1, 1, cues, utterances)

	if len(report.Segments) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(report.Segments))
	}
	if len(report.Rejections) != 1 {
		t.Fatalf("expected 1 rejection, got %d", len(report.Rejections))
	}
	if report.Rejections[0].Speaker != "WORF" {
		t.Errorf("expected WORF rejected, got %+v", report.Rejections[0])
	}
	if report.Rejections[0].BestScore >= DefaultOptions().Threshold {
		t.Errorf("rejection best score %f should be below threshold", report.Rejections[0].BestScore)
	}
}

func TestAlignDropsUnattributedUtterances(t *testing.T) {
	cues := []subtitle.Cue{
		{Index: 1, Start: sec(1), End: sec(2), Text: "Engage."},
	}
	utterances := []script.Utterance{
		{Index: 0, Speaker: "", Text: "The bridge hums quietly."},
		{Index: 1, Speaker: "PICARD", Text: "Engage."},
	}

	report := New(Options{}).Align("S01E01", 1, 1, cues, utterances)

	if len(report.Segments) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(report.Segments))
	}
	if len(report.Rejections) != 0 {
		t.Errorf("speakerless utterances should be dropped, not rejected: %+v", report.Rejections)
	}
}

func TestAlignDeterminism(t *testing.T) {
	cues := make([]subtitle.Cue, 0, 20)
	utterances := make([]script.Utterance, 0, 10)
	for i := 0; i < 10; i++ {
		text := fmt.Sprintf("This is spoken line number %d of the episode.", i)
		cues = append(cues, subtitle.Cue{
			Index: i + 1,
			Start: sec(float64(i * 3)),
			End:   sec(float64(i*3) + 2),
			Text:  text,
		})
		utterances = append(utterances, script.Utterance{Index: i, Speaker: "DATA", Text: text})
	}

	aligner := New(Options{})
	first := aligner.Align("S02E05", 2, 5, cues, utterances)
	second := aligner.Align("S02E05", 2, 5, cues, utterances)

	if !reflect.DeepEqual(first, second) {
		t.Error("identical inputs produced different reports")
	}
	if rate := first.AcceptanceRate(); rate != 1.0 {
		t.Errorf("expected full acceptance, got %f", rate)
	}
}

func TestAlignGapBreaksRun(t *testing.T) {
	// Two cues far apart must not be combined into one run.
	cues := []subtitle.Cue{
		{Index: 1, Start: sec(1), End: sec(2), Text: "Shields up."},
		{Index: 2, Start: sec(30), End: sec(31), Text: "Red alert."},
	}
	utterances := []script.Utterance{
		{Index: 0, Speaker: "RIKER", Text: "Shields up. Red alert."},
	}

	report := New(Options{}).Align("S01E01", 1, 1, cues, utterances)

	// Either a single-cue partial match above threshold or a rejection is
	// acceptable, but never a segment spanning the 28s gap.
	for _, seg := range report.Segments {
		if seg.End-seg.Start > sec(5) {
			t.Errorf("segment spans the silence gap: [%v,%v]", seg.Start, seg.End)
		}
	}
}

func TestAlignOffsetCorrection(t *testing.T) {
	// A recap the script omits: eight junk cues before the dialog the
	// script knows about. With a tight window the first pass misses
	// everything; the offset pass should recover it.
	var cues []subtitle.Cue
	for i := 0; i < 8; i++ {
		cues = append(cues, subtitle.Cue{
			Index: i + 1,
			Start: sec(float64(i * 2)),
			End:   sec(float64(i*2) + 1),
			Text:  fmt.Sprintf("Previously on recap fragment %d", i),
		})
	}
	lines := []string{
		"Captain, sensors are picking up a vessel.",
		"On screen, Mister Worf.",
		"It appears to be a freighter of Ferengi design.",
	}
	for i, line := range lines {
		cues = append(cues, subtitle.Cue{
			Index: len(cues) + 1,
			Start: sec(float64(20 + i*3)),
			End:   sec(float64(20+i*3) + 2),
			Text:  line,
		})
	}

	utterances := []script.Utterance{
		{Index: 0, Speaker: "WORF", Text: lines[0]},
		{Index: 1, Speaker: "PICARD", Text: lines[1]},
		{Index: 2, Speaker: "WORF", Text: lines[2]},
	}

	report := New(Options{Window: 3, OffsetProbe: 3}).Align("S03E01", 3, 1, cues, utterances)

	if len(report.Segments) != 3 {
		t.Fatalf("expected offset correction to recover 3 segments, got %d", len(report.Segments))
	}
	if report.OffsetApplied == 0 {
		t.Error("expected a non-zero offset to be recorded")
	}
}

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Hello, there!", "hello there"},
		{"<i>Hello</i> there", "hello there"},
		{"PICARD: Make it so.", "make it so"},
		{"(sighs) Fine. [beat] Go.", "fine go"},
		{"  spaced    out  ", "spaced out"},
		{"Don't panic", "don't panic"},
	}

	for _, tt := range tests {
		if got := normalizeText(tt.input); got != tt.want {
			t.Errorf("normalizeText(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestSimilarity(t *testing.T) {
	if s := similarity("make it so", "make it so"); s != 1.0 {
		t.Errorf("identical strings should score 1.0, got %f", s)
	}
	if s := similarity("make it so", "tea earl grey"); s > 0.5 {
		t.Errorf("unrelated strings should score low, got %f", s)
	}
	if s := similarity("", ""); s != 0 {
		t.Errorf("empty strings should score 0, got %f", s)
	}
	if s := similarity("make it so", "make it sew"); s < 0.8 {
		t.Errorf("near-identical strings should score high, got %f", s)
	}
}
