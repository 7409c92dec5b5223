package nl2sql

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

type GeminiTranslator struct {
	client      *genai.Client
	model       string
	temperature *float64
	timeout     time.Duration
}

func NewGeminiTranslator(ctx context.Context, cfg Config) (*GeminiTranslator, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultGeminiModel
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &GeminiTranslator{
		client:      client,
		model:       model,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
	}, nil
}

func (t *GeminiTranslator) Translate(ctx context.Context, req Request) (Result, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	system, user := buildPrompt(req)
	genCfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
	}
	if t.temperature != nil {
		genCfg.Temperature = genai.Ptr(float32(*t.temperature))
	}
	resp, err := t.client.Models.GenerateContent(ctx, t.model, genai.Text(user), genCfg)
	if err != nil {
		return Result{}, fmt.Errorf("generate content: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return Result{}, fmt.Errorf("empty gemini candidates")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			text.WriteString(part.Text)
		}
	}
	return Result{
		SQL:      strings.TrimSpace(text.String()),
		Provider: ProviderGemini,
		Model:    t.model,
	}, nil
}
