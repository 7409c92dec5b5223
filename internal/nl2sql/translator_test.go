package nl2sql

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func TestBuildPromptEmbedsSchemaDialectAndQuestion(t *testing.T) {
	system, user := buildPrompt(Request{
		Question: "how many users are there?",
		Schema:   `[{"table_name":"users","columns":[{"name":"id","type":"integer"}]}]`,
		Dialect:  "postgres",
	})
	if system != "You are a SQL query generator. Generate only the SQL query without any explanation." {
		t.Fatalf("system prompt = %q", system)
	}
	want := "Given the following database schema:\n" +
		`[{"table_name":"users","columns":[{"name":"id","type":"integer"}]}]` +
		"\n\nSQL dialect: postgres\n\nConvert this question into a SQL query:\nhow many users are there?\n\n" +
		"Return only the SQL query without any explanation."
	if user != want {
		t.Fatalf("user prompt = %q, want %q", user, want)
	}
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	if _, err := New(context.Background(), Config{Provider: "llama", APIKey: "k"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	for _, provider := range []string{ProviderOpenAI, ProviderGemini} {
		if _, err := New(context.Background(), Config{Provider: provider}); err == nil {
			t.Fatalf("expected error for provider %q without api key", provider)
		}
	}
}

func TestOpenAITranslatorSendsOneRequestAndTrimsContent(t *testing.T) {
	var calls atomic.Int32
	var captured struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-4",
			"choices": [{
				"index": 0,
				"finish_reason": "stop",
				"message": {"role": "assistant", "content": "\n  SELECT COUNT(*) FROM users;  \n"}
			}]
		}`))
	}))
	defer server.Close()

	translator, err := NewOpenAITranslator(Config{BaseURL: server.URL + "/v1/", APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("NewOpenAITranslator() error = %v", err)
	}
	result, err := translator.Translate(context.Background(), Request{
		Question: "how many users are there?",
		Schema:   "[]",
		Dialect:  "postgres",
	})
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if result.SQL != "SELECT COUNT(*) FROM users;" {
		t.Fatalf("SQL = %q", result.SQL)
	}
	if result.Provider != ProviderOpenAI || result.Model != "gpt-4" {
		t.Fatalf("result = %+v", result)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
	if captured.Model != "gpt-4" {
		t.Fatalf("model = %q", captured.Model)
	}
	if len(captured.Messages) != 2 || captured.Messages[0].Role != "system" || captured.Messages[1].Role != "user" {
		t.Fatalf("messages = %+v", captured.Messages)
	}
	if !strings.Contains(captured.Messages[1].Content, "how many users are there?") {
		t.Fatalf("user message = %q", captured.Messages[1].Content)
	}
}

func TestOpenAITranslatorSendsTemperatureOnlyWhenSet(t *testing.T) {
	temperature := 0.2
	tests := []struct {
		name        string
		temperature *float64
		wantSent    bool
	}{
		{name: "provider default", temperature: nil, wantSent: false},
		{name: "explicit", temperature: &temperature, wantSent: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var body map[string]any
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
					t.Errorf("decode request: %v", err)
				}
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"id":"chatcmpl-3","object":"chat.completion","created":1,"model":"gpt-4",` +
					`"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"SELECT 1"}}]}`))
			}))
			defer server.Close()

			translator, err := NewOpenAITranslator(Config{BaseURL: server.URL + "/v1/", APIKey: "sk-test", Temperature: tc.temperature})
			if err != nil {
				t.Fatalf("NewOpenAITranslator() error = %v", err)
			}
			if _, err := translator.Translate(context.Background(), Request{Question: "q"}); err != nil {
				t.Fatalf("Translate() error = %v", err)
			}
			got, sent := body["temperature"]
			if sent != tc.wantSent {
				t.Fatalf("temperature sent = %v (%v), want %v", sent, got, tc.wantSent)
			}
			if sent && got != 0.2 {
				t.Fatalf("temperature = %v, want 0.2", got)
			}
		})
	}
}

func TestOpenAITranslatorDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}))
	defer server.Close()

	translator, err := NewOpenAITranslator(Config{BaseURL: server.URL + "/v1/", APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("NewOpenAITranslator() error = %v", err)
	}
	if _, err := translator.Translate(context.Background(), Request{Question: "q"}); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestOpenAITranslatorEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"chatcmpl-2","object":"chat.completion","created":1,"model":"gpt-4","choices":[]}`))
	}))
	defer server.Close()

	translator, err := NewOpenAITranslator(Config{BaseURL: server.URL + "/v1/", APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("NewOpenAITranslator() error = %v", err)
	}
	_, err = translator.Translate(context.Background(), Request{Question: "q"})
	if err == nil || !strings.Contains(err.Error(), "empty chat completion choices") {
		t.Fatalf("error = %v", err)
	}
}

func TestGeminiTranslatorConcatenatesTextParts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if !strings.HasSuffix(r.URL.Path, "models/gemini-2.5-flash:generateContent") {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"candidates": [{
				"content": {"role": "model", "parts": [{"text": " SELECT name "}, {"text": "FROM users; "}]}
			}]
		}`))
	}))
	defer server.Close()

	translator, err := NewGeminiTranslator(context.Background(), Config{BaseURL: server.URL, APIKey: "g-test"})
	if err != nil {
		t.Fatalf("NewGeminiTranslator() error = %v", err)
	}
	result, err := translator.Translate(context.Background(), Request{Question: "list user names", Schema: "[]", Dialect: "sqlite"})
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if result.SQL != "SELECT name FROM users;" {
		t.Fatalf("SQL = %q", result.SQL)
	}
	if result.Provider != ProviderGemini {
		t.Fatalf("Provider = %q", result.Provider)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}
