// Package config loads reelspeak configuration from a TOML file with
// environment variable overrides for secrets and endpoints.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Paths contains directory configuration for the processing pipeline.
type Paths struct {
	DataDir    string `toml:"data_dir"`    // episode video/script/subtitle inputs
	ClipsDir   string `toml:"clips_dir"`   // extracted clip output
	CatalogDB  string `toml:"catalog_db"`  // sqlite catalog path
	FFmpegBin  string `toml:"ffmpeg_bin"`  // defaults to "ffmpeg" on PATH
	FFprobeBin string `toml:"ffprobe_bin"` // defaults to "ffprobe" on PATH
}

// Align contains script-to-subtitle alignment tuning.
type Align struct {
	Threshold       float64 `toml:"threshold"`        // minimum similarity to accept a match
	Window          int     `toml:"window"`           // look-ahead cues per utterance
	MaxRun          int     `toml:"max_run"`          // max consecutive cues per segment
	MaxGapMS        int     `toml:"max_gap_ms"`       // max silence inside a cue run
	AcceptanceFloor float64 `toml:"acceptance_floor"` // flag episodes below this rate
}

// Clip contains extraction settings.
type Clip struct {
	PaddingBefore float64 `toml:"padding_before"` // seconds before first cue
	PaddingAfter  float64 `toml:"padding_after"`  // seconds after last cue
	Precise       bool    `toml:"precise"`        // re-encode instead of stream copy
}

// Index contains embedding and vector store settings.
type Index struct {
	MilvusAddress  string `toml:"milvus_address"`
	Collection     string `toml:"collection"`
	EmbeddingModel string `toml:"embedding_model"`
	Dimension      int    `toml:"dimension"`
	BatchSize      int    `toml:"batch_size"`
}

// Chat contains retrieval and persona settings.
type Chat struct {
	Model          string   `toml:"model"`
	Temperature    float32  `toml:"temperature"`
	MaxTokens      int      `toml:"max_tokens"`
	Roster         []string `toml:"roster"`
	PoolFactor     int      `toml:"pool_factor"`
	TimeoutSeconds int      `toml:"timeout_seconds"` // per-turn budget for LLM and embedding calls
}

// Pipeline contains batch processing settings.
type Pipeline struct {
	Workers int `toml:"workers"` // parallel episodes
}

// Config is the root configuration.
type Config struct {
	Paths    Paths    `toml:"paths"`
	Align    Align    `toml:"align"`
	Clip     Clip     `toml:"clip"`
	Index    Index    `toml:"index"`
	Chat     Chat     `toml:"chat"`
	Pipeline Pipeline `toml:"pipeline"`

	// OpenAIKey is never read from TOML; it comes from the
	// OPENAI_API_KEY environment variable only.
	OpenAIKey string `toml:"-"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:    "data",
			ClipsDir:   "clips",
			CatalogDB:  "catalog.db",
			FFmpegBin:  "ffmpeg",
			FFprobeBin: "ffprobe",
		},
		Align: Align{
			Threshold:       0.62,
			Window:          100,
			MaxRun:          8,
			MaxGapMS:        2500,
			AcceptanceFloor: 0.5,
		},
		Clip: Clip{
			PaddingBefore: 0.1,
			PaddingAfter:  0.1,
		},
		Index: Index{
			MilvusAddress:  "localhost:19530",
			Collection:     "reelspeak_segments",
			EmbeddingModel: "text-embedding-3-large",
			Dimension:      3072,
			BatchSize:      64,
		},
		Chat: Chat{
			Model:       "gpt-4o",
			Temperature: 0.7,
			MaxTokens:   120,
			PoolFactor:  4,
			// The TNG bridge crew ships as the default roster so chat
			// works out of the box; override per corpus.
			Roster:         []string{"PICARD", "RIKER", "DATA", "WORF", "TROI", "CRUSHER", "LA FORGE"},
			TimeoutSeconds: 30,
		},
		Pipeline: Pipeline{
			Workers: 2,
		},
	}
}

// Load reads configuration from path (or defaults when the file is
// absent), applies environment overrides, and validates. The resolved
// path and whether a file was found are returned alongside the config.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// applyEnv overlays environment variables onto the loaded config.
// Secrets and deployment endpoints belong in the environment, not in
// a file that gets committed.
func (c *Config) applyEnv() {
	c.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	if v := os.Getenv("MILVUS_ADDRESS"); v != "" {
		c.Index.MilvusAddress = v
	}
	if v := os.Getenv("MILVUS_COLLECTION"); v != "" {
		c.Index.Collection = v
	}
	if v := os.Getenv("REELSPEAK_DATA_DIR"); v != "" {
		c.Paths.DataDir = v
	}
	if v := os.Getenv("REELSPEAK_CLIPS_DIR"); v != "" {
		c.Paths.ClipsDir = v
	}
}

// Validate reports the first configuration error found.
func (c *Config) Validate() error {
	if c.Align.Threshold <= 0 || c.Align.Threshold > 1 {
		return fmt.Errorf("align.threshold must be in (0, 1], got %v", c.Align.Threshold)
	}
	if c.Align.AcceptanceFloor < 0 || c.Align.AcceptanceFloor > 1 {
		return fmt.Errorf("align.acceptance_floor must be in [0, 1], got %v", c.Align.AcceptanceFloor)
	}
	if c.Align.Window <= 0 {
		return fmt.Errorf("align.window must be positive, got %d", c.Align.Window)
	}
	if c.Align.MaxRun <= 0 {
		return fmt.Errorf("align.max_run must be positive, got %d", c.Align.MaxRun)
	}
	if c.Clip.PaddingBefore < 0 || c.Clip.PaddingAfter < 0 {
		return errors.New("clip padding must not be negative")
	}
	if c.Index.Dimension <= 0 {
		return fmt.Errorf("index.dimension must be positive, got %d", c.Index.Dimension)
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be positive, got %d", c.Pipeline.Workers)
	}
	if c.Chat.TimeoutSeconds <= 0 {
		return fmt.Errorf("chat.timeout_seconds must be positive, got %d", c.Chat.TimeoutSeconds)
	}
	return nil
}

// DefaultConfigPath returns ~/.config/reelspeak/config.toml.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".config", "reelspeak", "config.toml"), nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return "", false, err
		}
	}

	expanded, err := expandPath(path)
	if err != nil {
		return "", false, err
	}
	if _, err := os.Stat(expanded); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return expanded, false, nil
		}
		return "", false, fmt.Errorf("stat config: %w", err)
	}
	return expanded, true, nil
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expand path: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return filepath.Clean(path), nil
}
