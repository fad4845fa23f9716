// Package align matches an episode's script utterances against its
// subtitle cues, producing attributed dialog segments with precise
// timecodes. Both inputs are ordered, so matching is a monotonic
// windowed search: each utterance is compared against runs of
// consecutive cues ahead of a cursor that only moves forward, which
// keeps accepted segments non-overlapping by construction.
package align

import (
	"fmt"
	"time"

	"github.com/reelspeak/reelspeak/internal/script"
	"github.com/reelspeak/reelspeak/internal/subtitle"
)

// Options tunes the matching pass. Thresholds are deliberately
// configurable: the right values depend on subtitle quality and should
// be validated against a hand-checked episode sample.
type Options struct {
	// Threshold is the minimum similarity for an utterance to produce
	// a segment. Utterances scoring below it are rejected, not
	// force-matched.
	Threshold float64

	// Window bounds the look-ahead from the cursor, in cues.
	Window int

	// MaxRun caps how many consecutive cues one utterance may span.
	MaxRun int

	// MaxGap breaks a cue run when consecutive cues are separated by
	// more than this much silence.
	MaxGap time.Duration

	// EarlyExit stops the search for an utterance once a run scores
	// at least this high.
	EarlyExit float64

	// OffsetProbe is how many leading utterances to sample when
	// deciding whether the episode needs offset correction.
	OffsetProbe int

	// OffsetMinAcceptance triggers the offset-correction pass when the
	// probe's acceptance rate falls below it.
	OffsetMinAcceptance float64

	// OffsetShifts are the candidate cursor starting points (in cues)
	// tried during offset correction.
	OffsetShifts []int
}

// DefaultOptions returns matching parameters tuned against
// hand-labeled episodes.
func DefaultOptions() Options {
	return Options{
		Threshold:           0.62,
		Window:              100,
		MaxRun:              8,
		MaxGap:              2500 * time.Millisecond,
		EarlyExit:           0.95,
		OffsetProbe:         25,
		OffsetMinAcceptance: 0.3,
		OffsetShifts:        []int{2, 4, 8, 16, 32, 64},
	}
}

// Segment is one aligned dialog utterance: the unit indexed and
// extracted downstream. Start/End come from the matched cue run;
// Character comes from the script.
type Segment struct {
	ID             string         `json:"id"`
	EpisodeID      string         `json:"episode_id"`
	Season         int            `json:"season"`
	Episode        int            `json:"episode"`
	UtteranceIndex int            `json:"utterance_index"`
	Character      string         `json:"character"`
	Start          time.Duration  `json:"start"`
	End            time.Duration  `json:"end"`
	ScriptText     string         `json:"script_text"`
	SubtitleText   string         `json:"subtitle_text"`
	Confidence     float64        `json:"confidence"`
	Cues           []subtitle.Cue `json:"-"`
}

// Rejection records an utterance that found no cue run above threshold.
type Rejection struct {
	UtteranceIndex int     `json:"utterance_index"`
	Speaker        string  `json:"speaker"`
	Text           string  `json:"text"`
	BestScore      float64 `json:"best_score"`
}

// Report is the outcome of aligning one episode.
type Report struct {
	EpisodeID  string      `json:"episode_id"`
	Season     int         `json:"season"`
	Episode    int         `json:"episode"`
	Segments   []Segment   `json:"segments"`
	Rejections []Rejection `json:"rejections"`

	// OffsetApplied is the cue shift chosen by offset correction,
	// zero when the episode aligned without it.
	OffsetApplied int `json:"offset_applied"`
}

// AcceptanceRate is the fraction of attributed utterances that
// produced a segment.
func (r Report) AcceptanceRate() float64 {
	total := len(r.Segments) + len(r.Rejections)
	if total == 0 {
		return 0
	}
	return float64(len(r.Segments)) / float64(total)
}

// Aligner matches script utterances to subtitle cue runs.
type Aligner struct {
	opts Options
}

// New creates an Aligner. Zero-valued options fall back to defaults
// field by field so callers can override just the threshold.
func New(opts Options) *Aligner {
	def := DefaultOptions()
	if opts.Threshold <= 0 {
		opts.Threshold = def.Threshold
	}
	if opts.Window <= 0 {
		opts.Window = def.Window
	}
	if opts.MaxRun <= 0 {
		opts.MaxRun = def.MaxRun
	}
	if opts.MaxGap <= 0 {
		opts.MaxGap = def.MaxGap
	}
	if opts.EarlyExit <= 0 {
		opts.EarlyExit = def.EarlyExit
	}
	if opts.OffsetProbe <= 0 {
		opts.OffsetProbe = def.OffsetProbe
	}
	if opts.OffsetMinAcceptance <= 0 {
		opts.OffsetMinAcceptance = def.OffsetMinAcceptance
	}
	if len(opts.OffsetShifts) == 0 {
		opts.OffsetShifts = def.OffsetShifts
	}
	return &Aligner{opts: opts}
}

// Align matches every attributed utterance against the cue sequence.
// Identical inputs always produce identical reports: ties between cue
// runs are broken toward the earliest run, and the offset-correction
// pass tries candidate shifts in a fixed order.
func (a *Aligner) Align(episodeID string, season, episode int, cues []subtitle.Cue, utterances []script.Utterance) Report {
	spoken := make([]script.Utterance, 0, len(utterances))
	for _, u := range utterances {
		if u.Speaker != "" && u.Text != "" {
			spoken = append(spoken, u)
		}
	}

	normalized := make([]string, len(cues))
	for i, cue := range cues {
		normalized[i] = normalizeText(cue.Text)
	}

	report := a.alignFrom(episodeID, season, episode, cues, normalized, spoken, 0)

	// Subtitle timing sometimes drifts from script order globally, for
	// example when the subtitle file includes a recap the script omits.
	// When the opening stretch barely matches, probe a handful of
	// coarse cursor shifts and keep whichever aligns the most dialog.
	if a.probeAcceptance(report) < a.opts.OffsetMinAcceptance {
		best := report
		for _, shift := range a.opts.OffsetShifts {
			if shift >= len(cues) {
				break
			}
			candidate := a.alignFrom(episodeID, season, episode, cues, normalized, spoken, shift)
			if len(candidate.Segments) > len(best.Segments) {
				candidate.OffsetApplied = shift
				best = candidate
			}
		}
		report = best
	}

	return report
}

// probeAcceptance measures acceptance over the leading utterances, the
// stretch most affected by a global subtitle offset.
func (a *Aligner) probeAcceptance(r Report) float64 {
	total := len(r.Segments) + len(r.Rejections)
	if total == 0 {
		return 1 // nothing to align is not a sync problem
	}

	cutoff := a.opts.OffsetProbe
	accepted, counted := 0, 0
	for _, seg := range r.Segments {
		if seg.UtteranceIndex < cutoff {
			accepted++
			counted++
		}
	}
	for _, rej := range r.Rejections {
		if rej.UtteranceIndex < cutoff {
			counted++
		}
	}
	if counted == 0 {
		return 1
	}
	return float64(accepted) / float64(counted)
}

// alignFrom runs one monotonic matching pass with the cursor starting
// at the given cue index.
func (a *Aligner) alignFrom(episodeID string, season, episode int, cues []subtitle.Cue, normalized []string, utterances []script.Utterance, start int) Report {
	report := Report{
		EpisodeID: episodeID,
		Season:    season,
		Episode:   episode,
	}

	cursor := start
	for _, u := range utterances {
		target := normalizeText(u.Text)
		if target == "" {
			continue
		}

		pos, run, score := a.bestRun(target, cues, normalized, cursor)
		if run == 0 || score < a.opts.Threshold {
			report.Rejections = append(report.Rejections, Rejection{
				UtteranceIndex: u.Index,
				Speaker:        u.Speaker,
				Text:           u.Text,
				BestScore:      score,
			})
			continue
		}

		matched := cues[pos : pos+run]
		report.Segments = append(report.Segments, Segment{
			ID:             fmt.Sprintf("%s_seg_%04d", episodeID, len(report.Segments)),
			EpisodeID:      episodeID,
			Season:         season,
			Episode:        episode,
			UtteranceIndex: u.Index,
			Character:      u.Speaker,
			Start:          matched[0].Start,
			End:            matched[run-1].End,
			ScriptText:     u.Text,
			SubtitleText:   joinCueText(matched),
			Confidence:     score,
			Cues:           append([]subtitle.Cue(nil), matched...),
		})

		// Consume the matched cues: the cursor never backtracks, so no
		// cue can appear in two segments.
		cursor = pos + run
	}

	return report
}

// bestRun searches the look-ahead window for the run of consecutive
// cues whose concatenated text best matches the target. Returns the
// run's starting position, its length in cues, and its score. Equal
// scores keep the earlier, shorter run so results are deterministic.
func (a *Aligner) bestRun(target string, cues []subtitle.Cue, normalized []string, cursor int) (pos, run int, score float64) {
	limit := cursor + a.opts.Window
	if limit > len(cues) {
		limit = len(cues)
	}

	for i := cursor; i < limit; i++ {
		combined := ""
		lastEnd := time.Duration(-1)

		for j := i; j < i+a.opts.MaxRun && j < len(cues); j++ {
			if lastEnd >= 0 && cues[j].Start-lastEnd > a.opts.MaxGap {
				break
			}
			lastEnd = cues[j].End

			if normalized[j] == "" {
				continue
			}
			if combined == "" {
				combined = normalized[j]
			} else {
				combined += " " + normalized[j]
			}

			if s := similarity(target, combined); s > score {
				pos, run, score = i, j-i+1, s
				if score >= a.opts.EarlyExit {
					return pos, run, score
				}
			}
		}
	}

	return pos, run, score
}

func joinCueText(cues []subtitle.Cue) string {
	text := ""
	for _, cue := range cues {
		if text == "" {
			text = cue.Text
		} else {
			text += " " + cue.Text
		}
	}
	return text
}
