package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "reelspeak",
	Short: "Reelspeak - chat with TV characters through real clips",
	Long: `Reelspeak turns episode video, subtitles, and scripts into a searchable
corpus of dialog clips, then answers chat messages with the real clip
whose line best matches an in-character reply.

The process command builds the corpus offline; the chat command serves
conversations against it.`,
}

// Execute runs the root command
func Execute() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: ~/.config/reelspeak/config.toml)")
}
