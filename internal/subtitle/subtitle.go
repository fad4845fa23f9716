// Package subtitle parses and writes SubRip (.srt) cue files and
// normalizes their timecodes into time.Duration offsets from the start
// of the episode. Cues are expected to be pre-synchronized against the
// video by an external correction tool; this package only validates
// ordering and format.
package subtitle

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Common errors for subtitle parsing.
var (
	ErrBadTimecode = errors.New("malformed subtitle timecode")
	ErrBadCueOrder = errors.New("subtitle cues out of order")
	ErrEmptyFile   = errors.New("subtitle file contains no cues")
)

// Cue is a single subtitle entry with start/end offsets from episode zero.
type Cue struct {
	Index int           `json:"index"`
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
	Text  string        `json:"text"`
}

// Duration returns the on-screen time of the cue.
func (c Cue) Duration() time.Duration {
	return c.End - c.Start
}

var (
	htmlTagPattern  = regexp.MustCompile(`<[^>]+>`)
	timecodePattern = regexp.MustCompile(`^(\d{1,2}):(\d{2}):(\d{2})[,.](\d{1,3})$`)
)

// ParseTimecode converts an SRT timestamp (HH:MM:SS,mmm) into a duration.
func ParseTimecode(s string) (time.Duration, error) {
	m := timecodePattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrBadTimecode, s)
	}

	hours, _ := strconv.Atoi(m[1])
	minutes, _ := strconv.Atoi(m[2])
	seconds, _ := strconv.Atoi(m[3])
	millis, _ := strconv.Atoi(m[4])

	return time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds)*time.Second +
		time.Duration(millis)*time.Millisecond, nil
}

// FormatTimecode renders a duration as an SRT timestamp (HH:MM:SS,mmm).
func FormatTimecode(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	seconds := d / time.Second
	d -= seconds * time.Second
	millis := d / time.Millisecond

	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, seconds, millis)
}

// Parse reads an SRT stream into an ordered cue sequence.
// HTML markup inside cue text is stripped. Cues must have start < end
// and strictly increasing start times; violations are a format error.
func Parse(r io.Reader) ([]Cue, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var (
		cues    []Cue
		current *Cue
		text    []string
	)

	flush := func() {
		if current == nil {
			return
		}
		current.Text = strings.TrimSpace(strings.Join(text, "\n"))
		if current.Text != "" {
			cues = append(cues, *current)
		}
		current = nil
		text = nil
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		// Strip the UTF-8 BOM some subtitle rips carry on the first line.
		line = strings.TrimPrefix(line, "\uFEFF")

		switch {
		case line == "":
			flush()

		case strings.Contains(line, "-->"):
			parts := strings.SplitN(line, "-->", 2)
			start, err := ParseTimecode(parts[0])
			if err != nil {
				return nil, err
			}
			// Some rips append position hints after the end timecode.
			endField := strings.Fields(strings.TrimSpace(parts[1]))
			if len(endField) == 0 {
				return nil, fmt.Errorf("%w: %q", ErrBadTimecode, line)
			}
			end, err := ParseTimecode(endField[0])
			if err != nil {
				return nil, err
			}
			if current == nil {
				current = &Cue{Index: len(cues) + 1}
			}
			current.Start = start
			current.End = end

		case current == nil && isSequenceNumber(line):
			current = &Cue{Index: len(cues) + 1}

		case current != nil:
			cleaned := strings.TrimSpace(htmlTagPattern.ReplaceAllString(line, ""))
			if cleaned != "" {
				text = append(text, cleaned)
			}
		}
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read subtitle stream: %w", err)
	}
	if len(cues) == 0 {
		return nil, ErrEmptyFile
	}
	if err := validateOrder(cues); err != nil {
		return nil, err
	}

	return cues, nil
}

// validateOrder enforces the cue sequence invariants: each cue spans a
// positive range and start times increase monotonically.
func validateOrder(cues []Cue) error {
	var prevStart time.Duration = -1
	for _, cue := range cues {
		if cue.Start >= cue.End {
			return fmt.Errorf("%w: cue %d has start %s >= end %s",
				ErrBadCueOrder, cue.Index, FormatTimecode(cue.Start), FormatTimecode(cue.End))
		}
		if cue.Start <= prevStart {
			return fmt.Errorf("%w: cue %d starts at %s, before previous cue",
				ErrBadCueOrder, cue.Index, FormatTimecode(cue.Start))
		}
		prevStart = cue.Start
	}
	return nil
}

// Retime shifts cues so that the given origin becomes time zero,
// renumbering from 1. Used to produce companion subtitles for an
// extracted clip. Cues that would start before zero are clamped.
func Retime(cues []Cue, origin time.Duration) []Cue {
	shifted := make([]Cue, 0, len(cues))
	for _, cue := range cues {
		start := cue.Start - origin
		end := cue.End - origin
		if end <= 0 {
			continue
		}
		if start < 0 {
			start = 0
		}
		shifted = append(shifted, Cue{
			Index: len(shifted) + 1,
			Start: start,
			End:   end,
			Text:  cue.Text,
		})
	}
	return shifted
}

// Write renders cues as an SRT document.
func Write(w io.Writer, cues []Cue) error {
	for i, cue := range cues {
		_, err := fmt.Fprintf(w, "%d\n%s --> %s\n%s\n\n",
			i+1, FormatTimecode(cue.Start), FormatTimecode(cue.End), cue.Text)
		if err != nil {
			return fmt.Errorf("write cue %d: %w", i+1, err)
		}
	}
	return nil
}

func isSequenceNumber(line string) bool {
	if line == "" {
		return false
	}
	for _, r := range line {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
