package query

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode"
)

var ErrStatementNotAllowed = errors.New("statement not allowed")

var readOnlyPrefixes = []string{"select", "with", "show", "explain", "values", "table"}

// writeKeywords may not appear as bare words anywhere in a read-only
// statement. This catches data-modifying CTEs, EXPLAIN ANALYZE of a write,
// SELECT INTO and row locks.
var writeKeywords = []string{
	"insert", "update", "delete", "merge", "upsert",
	"create", "drop", "alter", "truncate", "grant", "revoke",
	"copy", "call", "do", "into", "attach", "detach", "pragma", "vacuum",
	"analyze", "analyse",
}

// CheckReadOnly accepts a single statement that starts with a read-only
// keyword and names no write keyword outside quotes and comments. Trailing
// semicolons are ignored.
func CheckReadOnly(sqlText string) error {
	words, separators := scanStatement(sqlText)
	if len(words) == 0 {
		return fmt.Errorf("%w: empty statement", ErrStatementNotAllowed)
	}
	if separators > 0 {
		return fmt.Errorf("%w: multiple statements", ErrStatementNotAllowed)
	}
	if !slices.Contains(readOnlyPrefixes, words[0]) {
		return fmt.Errorf("%w: only read-only statements may run", ErrStatementNotAllowed)
	}
	for _, word := range words[1:] {
		if slices.Contains(writeKeywords, word) {
			return fmt.Errorf("%w: %s is not allowed in a read-only statement", ErrStatementNotAllowed, strings.ToUpper(word))
		}
	}
	return nil
}

// scanStatement returns the lower-cased bare words of sqlText, skipping
// quoted text, quoted identifiers and comments, and counts the semicolons
// that are followed by anything but whitespace, comments or more semicolons.
func scanStatement(sqlText string) (words []string, separators int) {
	runes := []rune(sqlText)
	pendingSeparator := false
	var word strings.Builder
	flush := func() {
		if word.Len() == 0 {
			return
		}
		if pendingSeparator {
			separators++
			pendingSeparator = false
		}
		words = append(words, strings.ToLower(word.String()))
		word.Reset()
	}

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			flush()
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
		case r == '/' && i+1 < len(runes) && runes[i+1] == '*':
			flush()
			i += 2
			for i < len(runes) && !(runes[i] == '*' && i+1 < len(runes) && runes[i+1] == '/') {
				i++
			}
			i++
		case r == '\'' || r == '"' || r == '`':
			flush()
			if pendingSeparator {
				separators++
				pendingSeparator = false
			}
			for i++; i < len(runes); i++ {
				if runes[i] != r {
					continue
				}
				// A doubled quote is an escaped quote.
				if i+1 < len(runes) && runes[i+1] == r {
					i++
					continue
				}
				break
			}
		case r == ';':
			flush()
			pendingSeparator = true
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '$':
			word.WriteRune(r)
		default:
			flush()
			if pendingSeparator && !unicode.IsSpace(r) {
				separators++
				pendingSeparator = false
			}
		}
	}
	flush()
	return words, separators
}
