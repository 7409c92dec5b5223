package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/askdb/askdb/internal/assistant"
	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/query"
)

const maxAskBodyBytes = 64 << 10

type askRequest struct {
	Question string `json:"question"`
}

type askResponse struct {
	Question string   `json:"question"`
	SQL      string   `json:"sql"`
	Columns  []string `json:"columns"`
	RowCount int      `json:"row_count"`
	Reply    string   `json:"reply"`
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Assistant == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASSISTANT_NOT_CONFIGURED", "assistant is not configured", false, nil)
		return
	}
	if err := auth.RequireRole(r, auth.RoleAsker); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var req askRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAskBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}

	answer, err := deps.Assistant.Ask(r.Context(), assistant.SourceAPI, question)
	if err != nil {
		status, code, retryable := classifyAskError(err)
		writeError(r.Context(), w, status, code, err.Error(), retryable, map[string]any{
			"sql":   answer.SQL,
			"reply": assistant.ErrorReply(err),
		})
		return
	}

	writeJSON(w, http.StatusOK, askResponse{
		Question: answer.Question,
		SQL:      answer.SQL,
		Columns:  answer.Columns,
		RowCount: len(answer.Rows),
		Reply:    answer.Reply,
	})
}

func classifyAskError(err error) (status int, code string, retryable bool) {
	switch {
	case errors.Is(err, query.ErrStatementNotAllowed):
		return http.StatusUnprocessableEntity, "STATEMENT_NOT_ALLOWED", false
	case errors.Is(err, assistant.ErrCompletion):
		return http.StatusBadGateway, "COMPLETION_FAILED", true
	case errors.Is(err, assistant.ErrDatabase):
		return http.StatusBadGateway, "DATABASE_ERROR", true
	default:
		return http.StatusInternalServerError, "INTERNAL", false
	}
}

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Assistant == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASSISTANT_NOT_CONFIGURED", "assistant is not configured", false, nil)
		return
	}
	if err := auth.RequireRole(r, auth.RoleSchemaReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	snapshot, err := deps.Assistant.DescribeSchema(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "SCHEMA_FETCH_FAILED", "failed to read database schema", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func handleHistory(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.History == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "HISTORY_NOT_CONFIGURED", "query history is not enabled", false, nil)
		return
	}
	if err := auth.RequireRole(r, auth.RoleHistoryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a non-negative integer", false, nil)
			return
		}
		limit = parsed
	}

	records, err := deps.History.ListRecent(r.Context(), limit)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "HISTORY_FETCH_FAILED", "failed to list query history", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}
