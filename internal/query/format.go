package query

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	NoResultsReply = "No results found."
	resultsHeader  = "Here's what I found:\n"
)

// Format renders rows as the chat reply: a header followed by one tuple line
// per row, or NoResultsReply when there are none.
func Format(result Result) string {
	if len(result.Rows) == 0 {
		return NoResultsReply
	}
	var builder strings.Builder
	builder.WriteString(resultsHeader)
	for _, row := range result.Rows {
		builder.WriteString(FormatRow(row))
		builder.WriteByte('\n')
	}
	return builder.String()
}

// FormatRow renders a row in tuple form. A single value keeps a trailing
// comma, as in (42,). Strings are quoted the way a Python repr quotes them:
// single quotes unless the text holds a single quote and no double quote.
// Times render as a quoted RFC 3339 string rather than a datetime(...) call.
func FormatRow(row []any) string {
	switch len(row) {
	case 0:
		return "()"
	case 1:
		return "(" + formatValue(row[0]) + ",)"
	}
	parts := make([]string, len(row))
	for i, value := range row {
		parts[i] = formatValue(value)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func formatValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return "None"
	case bool:
		if typed {
			return "True"
		}
		return "False"
	case string:
		return quote(typed)
	case []byte:
		return quote(string(typed))
	case time.Time:
		return quote(typed.Format(time.RFC3339Nano))
	case float64:
		return formatFloat(typed, 64)
	case float32:
		return formatFloat(float64(typed), 32)
	case fmt.Stringer:
		return quote(typed.String())
	default:
		return fmt.Sprint(typed)
	}
}

func formatFloat(value float64, bitSize int) string {
	switch {
	case math.IsNaN(value):
		return "nan"
	case math.IsInf(value, 1):
		return "inf"
	case math.IsInf(value, -1):
		return "-inf"
	}
	format := byte('f')
	if abs := math.Abs(value); abs >= 1e16 || (abs != 0 && abs < 1e-4) {
		format = 'g'
	}
	text := strconv.FormatFloat(value, format, -1, bitSize)
	if !strings.ContainsAny(text, ".e") {
		text += ".0"
	}
	return text
}

func quote(value string) string {
	delim := '\''
	if strings.ContainsRune(value, '\'') && !strings.ContainsRune(value, '"') {
		delim = '"'
	}
	var builder strings.Builder
	builder.WriteRune(delim)
	for _, r := range value {
		switch r {
		case '\\':
			builder.WriteString(`\\`)
		case '\n':
			builder.WriteString(`\n`)
		case '\r':
			builder.WriteString(`\r`)
		case '\t':
			builder.WriteString(`\t`)
		case delim:
			builder.WriteRune('\\')
			builder.WriteRune(r)
		default:
			builder.WriteRune(r)
		}
	}
	builder.WriteRune(delim)
	return builder.String()
}
