// Package script parses episode transcripts into ordered, attributed
// utterances. Transcripts interleave dialog ("SPEAKER: line"), stage
// directions in brackets or parentheses, and continuation lines that
// belong to the most recent speaker.
package script

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// ErrNoDialog is returned when a transcript yields no attributed utterances.
var ErrNoDialog = errors.New("script contains no dialog")

// Utterance is one attributed block of dialog in script order.
type Utterance struct {
	Index   int    `json:"index"`
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

var (
	stageDirectionPattern = regexp.MustCompile(`[\[\(][^\]\)]*[\]\)]`)
	speakerLinePattern    = regexp.MustCompile(`^([A-Z][A-Z\s'\-\.]+?)\s*:\s*(.*)$`)
	inlineSpeakerPattern  = regexp.MustCompile(`([A-Z][A-Z'\-]+\s*:)`)
)

// logSpeaker is the character credited with "Captain's log" entries,
// which transcripts record without a speaker prefix.
const logSpeaker = "PICARD"

// Parse reads a transcript into ordered utterances. Stage directions
// are stripped, continuation lines are appended to the current
// speaker, and lines with no attributable speaker are dropped.
func Parse(r io.Reader) ([]Utterance, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var (
		utterances []Utterance
		speaker    string
		text       []string
	)

	flush := func() {
		if speaker == "" || len(text) == 0 {
			return
		}
		joined := strings.TrimSpace(strings.Join(text, " "))
		utterances = appendSplitting(utterances, speaker, joined)
		text = nil
	}

	for scanner.Scan() {
		line := strings.TrimSpace(stageDirectionPattern.ReplaceAllString(scanner.Text(), ""))
		if line == "" {
			continue
		}

		// Log entries carry no speaker prefix but are always the captain's.
		if strings.HasPrefix(strings.ToLower(line), "captain's log") {
			flush()
			speaker = logSpeaker
			text = []string{line}
			continue
		}

		if m := speakerLinePattern.FindStringSubmatch(line); m != nil {
			flush()
			speaker = strings.TrimSpace(m[1])
			rest := strings.TrimSpace(m[2])
			if rest != "" {
				text = []string{rest}
			}
			continue
		}

		if speaker != "" {
			text = append(text, line)
		}
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read script stream: %w", err)
	}
	if len(utterances) == 0 {
		return nil, ErrNoDialog
	}

	return utterances, nil
}

// appendSplitting adds dialog for a speaker, splitting off any inline
// "SPEAKER:" hand-offs that the transcript collapsed into one block.
func appendSplitting(utterances []Utterance, speaker, text string) []Utterance {
	parts := inlineSpeakerPattern.Split(text, -1)
	markers := inlineSpeakerPattern.FindAllString(text, -1)

	first := strings.TrimSpace(parts[0])
	if first != "" {
		utterances = append(utterances, Utterance{
			Index:   len(utterances),
			Speaker: speaker,
			Text:    first,
		})
	}

	for i, marker := range markers {
		next := strings.TrimSpace(parts[i+1])
		if next == "" {
			continue
		}
		utterances = append(utterances, Utterance{
			Index:   len(utterances),
			Speaker: strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(marker), ":")),
			Text:    next,
		})
	}

	return utterances
}
