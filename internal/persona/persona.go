package persona

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrGenerationFailed = errors.New("reply generation failed")
	ErrEmptyRoster      = errors.New("character roster is empty")
)

// Turn is one exchange in a conversation.
type Turn struct {
	// User is the message the viewer typed.
	User string `json:"user"`

	// Character is the name of the character who replied.
	Character string `json:"character"`

	// Reply is the dialog line that was played back.
	Reply string `json:"reply"`
}

// Roster is the set of characters clips exist for. The first entry is
// the default addressee when a message doesn't name anyone.
type Roster []string

// Contains reports whether name is on the roster (case-insensitive).
func (r Roster) Contains(name string) bool {
	for _, c := range r {
		if strings.EqualFold(c, name) {
			return true
		}
	}
	return false
}

// canonical returns the roster spelling of name.
func (r Roster) canonical(name string) string {
	for _, c := range r {
		if strings.EqualFold(c, name) {
			return c
		}
	}
	return name
}

// Generator produces in-character replies and resolves which
// character a message addresses.
type Generator struct {
	llm    LLM
	roster Roster
	config LLMConfig
}

// NewGenerator creates a reply generator with the given LLM implementation.
func NewGenerator(llm LLM, roster Roster, config LLMConfig) *Generator {
	def := DefaultLLMConfig()
	if config.MaxRetries <= 0 {
		config.MaxRetries = def.MaxRetries
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = def.RetryBackoff
	}
	return &Generator{
		llm:    llm,
		roster: roster,
		config: config,
	}
}

// generate invokes the LLM with bounded retries and doubling backoff,
// giving up early when the context expires.
func (g *Generator) generate(ctx context.Context, prompt string) (string, error) {
	backoff := g.config.RetryBackoff
	var lastErr error
	for attempt := 0; attempt < g.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		text, err := g.llm.Generate(ctx, prompt)
		if err == nil {
			return text, nil
		}
		lastErr = err
	}
	return "", lastErr
}

// DetectCharacter resolves which roster character a message addresses.
// Messages that open with a roster name ("Data, what do you think?")
// resolve without an LLM call; anything else asks the model, falling
// back to the roster's first entry when it can't decide.
func (g *Generator) DetectCharacter(ctx context.Context, message string) (string, error) {
	if len(g.roster) == 0 {
		return "", ErrEmptyRoster
	}

	if name, ok := addressedName(message); ok && g.roster.Contains(name) {
		return g.roster.canonical(name), nil
	}

	text, err := g.generate(ctx, assembleDetectPrompt(g.roster, message))
	if err != nil {
		return "", fmt.Errorf("%w: character detection: %w", ErrGenerationFailed, err)
	}

	name := strings.TrimSpace(strings.Trim(strings.TrimSpace(text), `."'`))
	if g.roster.Contains(name) {
		return g.roster.canonical(name), nil
	}
	return g.roster[0], nil
}

// Reply generates a short in-character response to message, given the
// conversation so far. The reply text is what retrieval matches
// against the corpus, so it is kept to a single spoken line.
func (g *Generator) Reply(ctx context.Context, character, message string, history []Turn) (string, error) {
	if g.llm == nil {
		return "", fmt.Errorf("%w: LLM is required", ErrGenerationFailed)
	}
	if character == "" {
		return "", fmt.Errorf("%w: character is required", ErrGenerationFailed)
	}
	if strings.TrimSpace(message) == "" {
		return "", fmt.Errorf("%w: message is required", ErrGenerationFailed)
	}

	text, err := g.generate(ctx, assembleReplyPrompt(character, message, history))
	if err != nil {
		return "", fmt.Errorf("%w: LLM invocation failed: %w", ErrGenerationFailed, err)
	}

	reply := strings.TrimSpace(strings.Trim(strings.TrimSpace(text), `"`))
	if reply == "" {
		return "", fmt.Errorf("%w: empty reply from model", ErrGenerationFailed)
	}
	return reply, nil
}

// addressedName extracts a leading "Name," vocative from a message.
func addressedName(message string) (string, bool) {
	trimmed := strings.TrimSpace(message)
	idx := strings.IndexAny(trimmed, ",:")
	if idx <= 0 {
		return "", false
	}
	name := strings.TrimSpace(trimmed[:idx])
	// Vocatives are short; a long prefix before a comma is just prose.
	if name == "" || len(strings.Fields(name)) > 2 {
		return "", false
	}
	return name, true
}

func assembleReplyPrompt(character, message string, history []Turn) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("You are %s. ", character))
	b.WriteString("Respond fully in character with a single short spoken line of dialog. ")
	b.WriteString("Do not narrate, do not use stage directions, and do not break character. ")
	b.WriteString("Keep the reply under 25 words so it reads like a line the character would actually say.\n\n")

	if len(history) > 0 {
		b.WriteString("# Conversation So Far\n\n")
		for _, t := range history {
			b.WriteString(fmt.Sprintf("Viewer: %s\n", t.User))
			b.WriteString(fmt.Sprintf("%s: %s\n", t.Character, t.Reply))
		}
		b.WriteString("\n")
	}

	b.WriteString("# New Message\n\n")
	b.WriteString(fmt.Sprintf("Viewer: %s\n\n", message))
	b.WriteString(fmt.Sprintf("Reply as %s:", character))

	return b.String()
}

func assembleDetectPrompt(roster Roster, message string) string {
	var b strings.Builder

	b.WriteString("Decide which of the following characters this message is addressed to. ")
	b.WriteString("Answer with exactly one name from the list and nothing else.\n\n")
	b.WriteString(fmt.Sprintf("**Characters:** %s\n\n", strings.Join(roster, ", ")))
	b.WriteString(fmt.Sprintf("**Message:** %s\n", message))

	return b.String()
}
