package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/askdb/askdb/internal/assistant"
	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/history"
	"github.com/askdb/askdb/internal/query"
	"github.com/askdb/askdb/internal/schema"
)

type fakeAssistant struct {
	answer    assistant.Answer
	err       error
	snapshot  schema.Snapshot
	schemaErr error

	gotSource   string
	gotQuestion string
}

func (f *fakeAssistant) Ask(_ context.Context, source, question string) (assistant.Answer, error) {
	f.gotSource = source
	f.gotQuestion = question
	return f.answer, f.err
}

func (f *fakeAssistant) DescribeSchema(context.Context) (schema.Snapshot, error) {
	return f.snapshot, f.schemaErr
}

type fakeHistory struct {
	records  []history.Record
	err      error
	gotLimit int
}

func (f *fakeHistory) ListRecent(_ context.Context, limit int) ([]history.Record, error) {
	f.gotLimit = limit
	return f.records, f.err
}

func newTestHandler(t *testing.T, deps Dependencies) http.Handler {
	t.Helper()
	cfg, err := config.Load("askdb-bot", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	return NewHandler(cfg, deps)
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v body=%s", err, rr.Body.String())
	}
	return body
}

func TestAskReturnsAnswer(t *testing.T) {
	fake := &fakeAssistant{answer: assistant.Answer{
		Question: "how many users?",
		SQL:      "SELECT count(*) FROM users",
		Columns:  []string{"count"},
		Rows:     [][]any{{int64(42)}},
		Reply:    "(42,)",
	}}
	h := newTestHandler(t, Dependencies{Assistant: fake})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(`{"question":"  how many users?  "}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	if fake.gotSource != assistant.SourceAPI {
		t.Fatalf("source = %q", fake.gotSource)
	}
	if fake.gotQuestion != "how many users?" {
		t.Fatalf("question = %q", fake.gotQuestion)
	}

	body := decodeBody(t, rr)
	if body["sql"] != "SELECT count(*) FROM users" {
		t.Fatalf("sql = %v", body["sql"])
	}
	if body["reply"] != "(42,)" {
		t.Fatalf("reply = %v", body["reply"])
	}
	if body["row_count"] != float64(1) {
		t.Fatalf("row_count = %v", body["row_count"])
	}
}

func TestAskRejectsBadRequests(t *testing.T) {
	h := newTestHandler(t, Dependencies{Assistant: &fakeAssistant{}})

	tests := []struct {
		name string
		body string
		code string
	}{
		{name: "invalid json", body: `{`, code: "INVALID_JSON"},
		{name: "unknown field", body: `{"question":"x","tenant":"y"}`, code: "INVALID_JSON"},
		{name: "blank question", body: `{"question":"   "}`, code: "QUESTION_REQUIRED"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(tc.body)))
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d", rr.Code)
			}
			if got := decodeBody(t, rr)["error_code"]; got != tc.code {
				t.Fatalf("error_code = %v, want %s", got, tc.code)
			}
		})
	}
}

func TestAskMapsPipelineErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{
			name:   "completion",
			err:    &assistant.StageError{Stage: assistant.StageTranslate, Err: errors.New("rate limited")},
			status: http.StatusBadGateway,
			code:   "COMPLETION_FAILED",
		},
		{
			name:   "execute",
			err:    &assistant.StageError{Stage: assistant.StageExecute, Err: errors.New(`relation "userz" does not exist`)},
			status: http.StatusBadGateway,
			code:   "DATABASE_ERROR",
		},
		{
			name:   "guard",
			err:    &assistant.StageError{Stage: assistant.StageGuard, Err: fmt.Errorf("%w: multiple statements", query.ErrStatementNotAllowed)},
			status: http.StatusUnprocessableEntity,
			code:   "STATEMENT_NOT_ALLOWED",
		},
		{
			name:   "internal",
			err:    &assistant.StageError{Stage: assistant.StageInternal, Err: errors.New("panic: boom")},
			status: http.StatusInternalServerError,
			code:   "INTERNAL",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fake := &fakeAssistant{answer: assistant.Answer{SQL: "SELECT 1; SELECT 2"}, err: tc.err}
			h := newTestHandler(t, Dependencies{Assistant: fake})

			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(`{"question":"q"}`)))
			if rr.Code != tc.status {
				t.Fatalf("status = %d, want %d", rr.Code, tc.status)
			}
			body := decodeBody(t, rr)
			if body["error_code"] != tc.code {
				t.Fatalf("error_code = %v", body["error_code"])
			}
			if body["message"] != tc.err.Error() {
				t.Fatalf("message = %v", body["message"])
			}
			extra, _ := body["context"].(map[string]any)
			if extra["reply"] != "Sorry, I encountered an error: "+tc.err.Error() {
				t.Fatalf("reply = %v", extra["reply"])
			}
		})
	}
}

func TestAskWithoutAssistantIsNotImplemented(t *testing.T) {
	h := newTestHandler(t, Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(`{"question":"q"}`)))
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestSchemaEndpoint(t *testing.T) {
	fake := &fakeAssistant{snapshot: schema.Snapshot{Tables: []schema.Table{{
		Name:    "users",
		Columns: []schema.Column{{Name: "id", Type: "integer"}},
	}}}}
	h := newTestHandler(t, Dependencies{Assistant: fake})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/schema", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"table_name":"users"`) {
		t.Fatalf("body = %s", rr.Body.String())
	}

	fake.schemaErr = errors.New("connection refused")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/schema", nil))
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	reader := &fakeHistory{records: []history.Record{{
		RunID:      "run-1",
		Source:     assistant.SourceSlack,
		Question:   "how many users?",
		Outcome:    history.OutcomeReplied,
		ReceivedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}}}
	h := newTestHandler(t, Dependencies{History: reader})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/history?limit=5", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if reader.gotLimit != 5 {
		t.Fatalf("limit = %d", reader.gotLimit)
	}
	records, _ := decodeBody(t, rr)["records"].([]any)
	if len(records) != 1 {
		t.Fatalf("records = %v", records)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/history?limit=-1", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}

	reader.err = errors.New("db down")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/history", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
	if reader.gotLimit != 0 {
		t.Fatalf("limit = %d, want default 0", reader.gotLimit)
	}
}

func TestHistoryDisabled(t *testing.T) {
	h := newTestHandler(t, Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/history", nil))
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d", rr.Code)
	}
}
