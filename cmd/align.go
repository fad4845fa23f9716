package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/reelspeak/reelspeak/internal/align"
	"github.com/reelspeak/reelspeak/internal/script"
	"github.com/reelspeak/reelspeak/internal/subtitle"
)

var (
	alignEpisodeID string
	alignThreshold float64
	alignExport    string
	showRejections bool
)

var alignCmd = &cobra.Command{
	Use:   "align [script] [subtitles]",
	Short: "Align a script against subtitles and display segments",
	Long: `Align a script file against an SRT subtitle file and display the
matched segments without extracting clips.

Useful for tuning the similarity threshold and inspecting why an
episode was flagged for low acceptance.

Examples:
  reelspeak align data/S01E01.txt data/S01E01.srt
  reelspeak align data/S01E01.txt data/S01E01.srt --threshold 0.7
  reelspeak align data/S01E01.txt data/S01E01.srt --rejections
  reelspeak align data/S01E01.txt data/S01E01.srt --export report.json`,
	Args: cobra.ExactArgs(2),
	RunE: runAlign,
}

func init() {
	rootCmd.AddCommand(alignCmd)
	alignCmd.Flags().StringVar(&alignEpisodeID, "episode-id", "S00E00", "Episode id used in segment ids")
	alignCmd.Flags().Float64Var(&alignThreshold, "threshold", 0, "Similarity threshold override (0 = configured default)")
	alignCmd.Flags().StringVar(&alignExport, "export", "", "Export the alignment report to a JSON file: --export <filename>")
	alignCmd.Flags().BoolVar(&showRejections, "rejections", false, "List rejected utterances instead of segments")
}

func runAlign(cmd *cobra.Command, args []string) error {
	scriptFile, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open script: %w", err)
	}
	defer scriptFile.Close()

	subtitleFile, err := os.Open(args[1])
	if err != nil {
		return fmt.Errorf("open subtitles: %w", err)
	}
	defer subtitleFile.Close()

	utterances, err := script.Parse(scriptFile)
	if err != nil {
		return fmt.Errorf("parse script: %w", err)
	}
	cues, err := subtitle.Parse(subtitleFile)
	if err != nil {
		return fmt.Errorf("parse subtitles: %w", err)
	}

	var season, episode int
	fmt.Sscanf(alignEpisodeID, "S%dE%d", &season, &episode)

	aligner := align.New(align.Options{Threshold: alignThreshold})
	report := aligner.Align(alignEpisodeID, season, episode, cues, utterances)

	if alignExport != "" {
		return exportReport(report, alignExport)
	}
	if showRejections {
		printRejections(report)
		return nil
	}
	printSegments(report)
	return nil
}

func exportReport(report align.Report, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	fmt.Printf("✓ Exported %d segments to %s\n", len(report.Segments), filename)
	return nil
}

func printSegments(report align.Report) {
	var (
		headerColor  = lipgloss.Color("#F780FF") // Bright pink/magenta
		idColor      = lipgloss.Color("#BD93F9") // Purple
		charColor    = lipgloss.Color("#FF79C6") // Pink
		textColor    = lipgloss.Color("#E9E9F4") // Light purple/white
		borderColor  = lipgloss.Color("#6272A4") // Muted purple
		summaryColor = lipgloss.Color("#8BE9FD") // Cyan accent
	)

	const (
		idWidth   = 18
		charWidth = 12
		timeWidth = 22
		confWidth = 8
		textWidth = 44
	)

	headerStyle := lipgloss.NewStyle().
		Foreground(headerColor).
		Bold(true).
		Padding(0, 1)

	borderStyle := lipgloss.NewStyle().Foreground(borderColor)

	headers := []string{
		headerStyle.Width(idWidth).Render("SEGMENT"),
		headerStyle.Width(charWidth).Render("CHARACTER"),
		headerStyle.Width(timeWidth).Render("TIME"),
		headerStyle.Width(confWidth).Render("CONF"),
		headerStyle.Width(textWidth).Render("DIALOG"),
	}
	fmt.Println(strings.Join(headers, borderStyle.Render("│")))

	separatorParts := []string{
		strings.Repeat("─", idWidth),
		strings.Repeat("─", charWidth),
		strings.Repeat("─", timeWidth),
		strings.Repeat("─", confWidth),
		strings.Repeat("─", textWidth),
	}
	fmt.Println(borderStyle.Render(strings.Join(separatorParts, "┼")))

	idStyle := lipgloss.NewStyle().Foreground(idColor).Padding(0, 1).Width(idWidth)
	charStyle := lipgloss.NewStyle().Foreground(charColor).Padding(0, 1).Width(charWidth)
	timeStyle := lipgloss.NewStyle().Foreground(textColor).Padding(0, 1).Width(timeWidth)
	confStyle := lipgloss.NewStyle().Foreground(charColor).Padding(0, 1).Width(confWidth).Align(lipgloss.Right)
	textStyle := lipgloss.NewStyle().Foreground(textColor).Padding(0, 1).Width(textWidth)

	for _, seg := range report.Segments {
		cells := []string{
			idStyle.Render(seg.ID),
			charStyle.Render(seg.Character),
			timeStyle.Render(fmt.Sprintf("%s → %s", formatClock(seg.Start), formatClock(seg.End))),
			confStyle.Render(fmt.Sprintf("%.2f", seg.Confidence)),
			textStyle.Render(truncate(seg.ScriptText, textWidth-2)),
		}
		fmt.Println(strings.Join(cells, borderStyle.Render("│")))
	}

	fmt.Println()
	summaryStyle := lipgloss.NewStyle().Foreground(summaryColor).Italic(true)
	summary := fmt.Sprintf("%d segments, %d rejections, %.1f%% acceptance",
		len(report.Segments), len(report.Rejections), report.AcceptanceRate()*100)
	if report.OffsetApplied != 0 {
		summary += fmt.Sprintf(" (offset correction: %+d cues)", report.OffsetApplied)
	}
	fmt.Println(summaryStyle.Render(summary))
}

func printRejections(report align.Report) {
	var (
		headerColor = lipgloss.Color("#F780FF")
		charColor   = lipgloss.Color("#FF79C6")
		textColor   = lipgloss.Color("#E9E9F4")
		scoreColor  = lipgloss.Color("#FF5555")
	)

	headerStyle := lipgloss.NewStyle().Foreground(headerColor).Bold(true)
	charStyle := lipgloss.NewStyle().Foreground(charColor)
	textStyle := lipgloss.NewStyle().Foreground(textColor)
	scoreStyle := lipgloss.NewStyle().Foreground(scoreColor)

	fmt.Println(headerStyle.Render(fmt.Sprintf("Rejected utterances (%d):", len(report.Rejections))))
	fmt.Println()
	for _, rej := range report.Rejections {
		fmt.Printf("%s %s %s\n",
			scoreStyle.Render(fmt.Sprintf("[%.2f]", rej.BestScore)),
			charStyle.Render(rej.Speaker+":"),
			textStyle.Render(truncate(rej.Text, 80)))
	}
}

func formatClock(d time.Duration) string {
	d = d.Round(time.Millisecond)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d.Seconds()
	return fmt.Sprintf("%02d:%02d:%04.1f", h, m, s)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
