// Package nl2sql turns a natural-language question and a schema rendering
// into one candidate SQL statement by asking a completion service.
package nl2sql

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

type Request struct {
	Question string `json:"question"`
	// Schema is the rendered catalog embedded verbatim in the prompt.
	Schema  string `json:"schema"`
	Dialect string `json:"dialect"`
}

type Result struct {
	SQL      string `json:"sql"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type Translator interface {
	Translate(ctx context.Context, req Request) (Result, error)
}

type Config struct {
	Provider    string
	BaseURL     string
	APIKey      string
	Model       string
	// Temperature is sent only when non-nil.
	Temperature *float64
	Timeout     time.Duration
}

// New builds the translator for cfg.Provider. An empty provider selects OpenAI.
func New(ctx context.Context, cfg Config) (Translator, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderOpenAI:
		return NewOpenAITranslator(cfg)
	case ProviderGemini:
		return NewGeminiTranslator(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported completion provider %q", cfg.Provider)
	}
}
