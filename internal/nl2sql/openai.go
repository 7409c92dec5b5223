package nl2sql

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const defaultOpenAIModel = "gpt-4"

type OpenAITranslator struct {
	client      openai.Client
	model       string
	temperature *float64
}

func NewOpenAITranslator(cfg Config) (*OpenAITranslator, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultOpenAIModel
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	return &OpenAITranslator{
		client:      openai.NewClient(opts...),
		model:       model,
		temperature: cfg.Temperature,
	}, nil
}

func (t *OpenAITranslator) Translate(ctx context.Context, req Request) (Result, error) {
	system, user := buildPrompt(req)
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(t.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
	}
	if t.temperature != nil {
		params.Temperature = openai.Float(*t.temperature)
	}
	completion, err := t.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Result{}, fmt.Errorf("request chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return Result{}, fmt.Errorf("empty chat completion choices")
	}
	return Result{
		SQL:      strings.TrimSpace(completion.Choices[0].Message.Content),
		Provider: ProviderOpenAI,
		Model:    t.model,
	}, nil
}
