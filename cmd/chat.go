package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/reelspeak/reelspeak/internal/config"
	"github.com/reelspeak/reelspeak/internal/index"
	"github.com/reelspeak/reelspeak/internal/persona"
	"github.com/reelspeak/reelspeak/internal/retrieve"
	"github.com/reelspeak/reelspeak/internal/session"
)

var (
	chatCharacter string
	chatVerbose   bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with characters through real clips",
	Long: `Start an interactive conversation answered with real dialog clips.

Each message is routed to a character (address one directly with
"Data, ..." or pin one with --character), an in-character reply is
generated, and the clip whose line best matches it is returned. Clips
already played in the conversation are not repeated until every
matching clip has been used.

Required environment variables:
  OPENAI_API_KEY     - OpenAI API key for embeddings and replies
  MILVUS_ADDRESS     - Milvus server address (default: localhost:19530)

Examples:
  reelspeak chat
  reelspeak chat --character PICARD
  reelspeak chat --verbose`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatCharacter, "character", "", "Answer every message as this character")
	chatCmd.Flags().BoolVar(&chatVerbose, "verbose", false, "Show match scores and clip metadata")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.OpenAIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY environment variable is required")
	}
	if chatCharacter != "" && !persona.Roster(cfg.Chat.Roster).Contains(chatCharacter) {
		return fmt.Errorf("character %q is not on the roster (%s)",
			chatCharacter, strings.Join(cfg.Chat.Roster, ", "))
	}

	embedder, err := index.NewOpenAIEmbedder(cfg.Index.EmbeddingModel, cfg.Index.Dimension)
	if err != nil {
		return fmt.Errorf("create embedder: %w", err)
	}

	milvusCfg := index.DefaultMilvusConfig()
	milvusCfg.Address = cfg.Index.MilvusAddress
	milvusCfg.CollectionName = cfg.Index.Collection
	milvusCfg.Dimension = cfg.Index.Dimension
	vectorStore, err := index.NewMilvusStore(ctx, milvusCfg)
	if err != nil {
		return fmt.Errorf("connect to Milvus: %w", err)
	}
	defer vectorStore.Close()

	count, err := vectorStore.Count(ctx)
	if err != nil {
		return fmt.Errorf("check index: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("the index is empty; run 'reelspeak process' first")
	}

	llm, err := persona.NewOpenAILLM(persona.LLMConfig{
		Model:       cfg.Chat.Model,
		Temperature: cfg.Chat.Temperature,
		MaxTokens:   cfg.Chat.MaxTokens,
		APIKey:      cfg.OpenAIKey,
	})
	if err != nil {
		return fmt.Errorf("create LLM: %w", err)
	}

	generator := persona.NewGenerator(llm, persona.Roster(cfg.Chat.Roster), persona.LLMConfig{})
	engine := retrieve.New(embedder, vectorStore, retrieve.Options{PoolFactor: cfg.Chat.PoolFactor}, newLogger(chatVerbose))
	sess := session.NewTracker().Start()

	// Styling
	var (
		promptColor = lipgloss.Color("#8BE9FD") // Cyan
		charColor   = lipgloss.Color("#F780FF") // Bright pink
		replyColor  = lipgloss.Color("#E9E9F4") // Light purple/white
		metaColor   = lipgloss.Color("#6272A4") // Muted purple
		errorColor  = lipgloss.Color("#FF5555") // Red
	)
	promptStyle := lipgloss.NewStyle().Foreground(promptColor).Bold(true)
	charStyle := lipgloss.NewStyle().Foreground(charColor).Bold(true)
	replyStyle := lipgloss.NewStyle().Foreground(replyColor)
	metaStyle := lipgloss.NewStyle().Foreground(metaColor).Italic(true)
	errorStyle := lipgloss.NewStyle().Foreground(errorColor)

	fmt.Println(metaStyle.Render("Type a message, or 'exit' to leave."))
	fmt.Println()

	var history []persona.Turn
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(promptStyle.Render("you> "))
		if !scanner.Scan() {
			break
		}
		message := strings.TrimSpace(scanner.Text())
		if message == "" {
			continue
		}
		if message == "exit" || message == "quit" {
			break
		}

		// Every turn gets a bounded budget for its LLM and embedding
		// calls; retries inside it back off until the deadline.
		turnCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Chat.TimeoutSeconds)*time.Second)

		character := chatCharacter
		if character == "" {
			character, err = generator.DetectCharacter(turnCtx, message)
			if err != nil {
				fmt.Println(errorStyle.Render("error: " + err.Error()))
				cancel()
				continue
			}
		}

		reply, err := generator.Reply(turnCtx, character, message, history)
		if err != nil {
			fmt.Println(errorStyle.Render("error: " + err.Error()))
			cancel()
			continue
		}

		result, err := engine.Select(turnCtx, reply, character, sess)
		cancel()
		if err != nil {
			if errors.Is(err, retrieve.ErrNoDialog) {
				fmt.Println(metaStyle.Render(fmt.Sprintf("(no dialog available for %s)", character)))
				continue
			}
			fmt.Println(errorStyle.Render("error: " + err.Error()))
			continue
		}

		fmt.Printf("%s %s\n", charStyle.Render(character+">"), replyStyle.Render(result.Text))
		meta := fmt.Sprintf("  clip: %s", result.Meta.ClipPath)
		if result.Repeated {
			meta += " (repeat)"
		}
		if chatVerbose {
			meta += fmt.Sprintf("  score=%.3f confidence=%.2f %s",
				result.Score, result.Meta.Confidence, result.Meta.EpisodeID)
		}
		fmt.Println(metaStyle.Render(meta))
		fmt.Println()

		history = append(history, persona.Turn{User: message, Character: character, Reply: result.Text})
	}

	return scanner.Err()
}
