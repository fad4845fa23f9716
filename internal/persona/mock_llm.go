package persona

import (
	"context"
	"errors"
)

// MockLLM is a deterministic LLM implementation for testing.
type MockLLM struct {
	// Response is the fixed text returned by Generate.
	Response string

	// Error, if set, is returned by Generate instead of a response.
	Error error

	// FailCalls makes the first N calls fail before Response is
	// returned, for exercising retry paths.
	FailCalls int

	// Prompts stores every prompt passed to Generate, in order.
	Prompts []string
}

// NewMockLLM creates a mock LLM with the given fixed response.
func NewMockLLM(response string) *MockLLM {
	return &MockLLM{Response: response}
}

// NewMockLLMWithError creates a mock LLM that always returns an error.
func NewMockLLMWithError(err error) *MockLLM {
	return &MockLLM{Error: err}
}

// Generate returns the configured response or error.
func (m *MockLLM) Generate(_ context.Context, prompt string) (string, error) {
	m.Prompts = append(m.Prompts, prompt)
	if m.FailCalls > 0 {
		m.FailCalls--
		return "", errors.New("transient model error")
	}
	if m.Error != nil {
		return "", m.Error
	}
	return m.Response, nil
}
