package subtitle

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

const sampleSRT = `1
00:00:10,000 --> 00:00:10,500
Hello

2
00:00:10,600 --> 00:00:11,200
<i>there</i>

3
00:00:12,000 --> 00:00:13,250
Make it so.
`

func TestParse(t *testing.T) {
	cues, err := Parse(strings.NewReader(sampleSRT))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if len(cues) != 3 {
		t.Fatalf("expected 3 cues, got %d", len(cues))
	}

	if cues[0].Start != 10*time.Second {
		t.Errorf("expected first cue at 10s, got %v", cues[0].Start)
	}
	if cues[0].End != 10*time.Second+500*time.Millisecond {
		t.Errorf("expected first cue end at 10.5s, got %v", cues[0].End)
	}
	if cues[0].Text != "Hello" {
		t.Errorf("expected text %q, got %q", "Hello", cues[0].Text)
	}

	// HTML markup should be stripped
	if cues[1].Text != "there" {
		t.Errorf("expected HTML stripped to %q, got %q", "there", cues[1].Text)
	}

	if cues[2].Index != 3 {
		t.Errorf("expected index 3, got %d", cues[2].Index)
	}
}

func TestParseMultilineText(t *testing.T) {
	input := `1
00:00:01,000 --> 00:00:03,000
First line
second line

`
	cues, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(cues) != 1 {
		t.Fatalf("expected 1 cue, got %d", len(cues))
	}
	if cues[0].Text != "First line\nsecond line" {
		t.Errorf("unexpected text: %q", cues[0].Text)
	}
}

func TestParseBOM(t *testing.T) {
	input := "\uFEFF1\n00:00:01,000 --> 00:00:02,000\nHi\n"
	cues, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(cues) != 1 || cues[0].Text != "Hi" {
		t.Errorf("unexpected cues: %+v", cues)
	}
}

func TestParseRejectsOutOfOrderCues(t *testing.T) {
	input := `1
00:00:10,000 --> 00:00:11,000
First

2
00:00:05,000 --> 00:00:06,000
Backwards
`
	_, err := Parse(strings.NewReader(input))
	if !errors.Is(err, ErrBadCueOrder) {
		t.Errorf("expected ErrBadCueOrder, got %v", err)
	}
}

func TestParseRejectsInvertedSpan(t *testing.T) {
	input := `1
00:00:10,000 --> 00:00:09,000
Inverted
`
	_, err := Parse(strings.NewReader(input))
	if !errors.Is(err, ErrBadCueOrder) {
		t.Errorf("expected ErrBadCueOrder, got %v", err)
	}
}

func TestParseEmpty(t *testing.T) {
	_, err := Parse(strings.NewReader("\n\n"))
	if !errors.Is(err, ErrEmptyFile) {
		t.Errorf("expected ErrEmptyFile, got %v", err)
	}
}

func TestParseTimecode(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"00:00:10,500", 10*time.Second + 500*time.Millisecond, false},
		{"01:02:03,004", time.Hour + 2*time.Minute + 3*time.Second + 4*time.Millisecond, false},
		{"00:00:10.500", 10*time.Second + 500*time.Millisecond, false}, // dot separator variant
		{"garbage", 0, true},
		{"00:00", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseTimecode(tt.input)
		if tt.wantErr {
			if !errors.Is(err, ErrBadTimecode) {
				t.Errorf("ParseTimecode(%q): expected ErrBadTimecode, got %v", tt.input, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseTimecode(%q) failed: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseTimecode(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestFormatTimecodeRoundTrip(t *testing.T) {
	original := time.Hour + 23*time.Minute + 45*time.Second + 678*time.Millisecond
	formatted := FormatTimecode(original)
	if formatted != "01:23:45,678" {
		t.Errorf("unexpected format: %q", formatted)
	}

	parsed, err := ParseTimecode(formatted)
	if err != nil {
		t.Fatalf("round trip parse failed: %v", err)
	}
	if parsed != original {
		t.Errorf("round trip mismatch: %v != %v", parsed, original)
	}
}

func TestRetime(t *testing.T) {
	cues := []Cue{
		{Index: 5, Start: 10 * time.Second, End: 11 * time.Second, Text: "a"},
		{Index: 6, Start: 12 * time.Second, End: 13 * time.Second, Text: "b"},
	}

	shifted := Retime(cues, 9*time.Second+900*time.Millisecond)

	if len(shifted) != 2 {
		t.Fatalf("expected 2 cues, got %d", len(shifted))
	}
	if shifted[0].Index != 1 || shifted[1].Index != 2 {
		t.Errorf("expected renumbering from 1, got %d and %d", shifted[0].Index, shifted[1].Index)
	}
	if shifted[0].Start != 100*time.Millisecond {
		t.Errorf("expected shifted start 100ms, got %v", shifted[0].Start)
	}
	if shifted[1].End != 3*time.Second+100*time.Millisecond {
		t.Errorf("expected shifted end 3.1s, got %v", shifted[1].End)
	}
}

func TestRetimeClampsNegativeStarts(t *testing.T) {
	cues := []Cue{
		{Start: 1 * time.Second, End: 3 * time.Second, Text: "overlaps origin"},
		{Start: 0, End: 1 * time.Second, Text: "entirely before origin"},
	}

	// Origin past the second cue's end drops it; the first gets clamped.
	shifted := Retime([]Cue{cues[1], cues[0]}, 2*time.Second)
	if len(shifted) != 1 {
		t.Fatalf("expected 1 cue, got %d", len(shifted))
	}
	if shifted[0].Start != 0 {
		t.Errorf("expected clamped start 0, got %v", shifted[0].Start)
	}
}

func TestWriteRoundTrip(t *testing.T) {
	cues := []Cue{
		{Index: 1, Start: time.Second, End: 2 * time.Second, Text: "One"},
		{Index: 2, Start: 3 * time.Second, End: 4 * time.Second, Text: "Two\nlines"},
	}

	var buf bytes.Buffer
	if err := Write(&buf, cues); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	parsed, err := Parse(&buf)
	if err != nil {
		t.Fatalf("Parse of written output failed: %v", err)
	}
	if len(parsed) != 2 {
		t.Fatalf("expected 2 cues, got %d", len(parsed))
	}
	if parsed[1].Text != "Two\nlines" {
		t.Errorf("unexpected text after round trip: %q", parsed[1].Text)
	}
}
