package query

import (
	"errors"
	"testing"
)

func TestCheckReadOnly(t *testing.T) {
	tests := []struct {
		sql     string
		allowed bool
	}{
		{sql: "SELECT COUNT(*) FROM users;", allowed: true},
		{sql: "  select 1", allowed: true},
		{sql: "SELECT 1;;  ", allowed: true},
		{sql: "WITH t AS (SELECT 1) SELECT * FROM t", allowed: true},
		{sql: "(SELECT 1)", allowed: true},
		{sql: "EXPLAIN SELECT 1", allowed: true},
		{sql: "SHOW TABLES", allowed: true},
		{sql: "VALUES (1), (2)", allowed: true},
		{sql: "TABLE users", allowed: true},
		{sql: "SELECT ';' AS sep", allowed: true},
		{sql: "SELECT 'it''s; fine' AS note", allowed: true},
		{sql: "SELECT updated_at, \"delete\" FROM users", allowed: true},
		{sql: "SELECT 'drop table users' AS note", allowed: true},
		{sql: "SELECT 1 -- trailing comment", allowed: true},
		{sql: "SELECT 1; -- done", allowed: true},
		{sql: "/* count */ SELECT COUNT(*) FROM users", allowed: true},
		{sql: "DELETE FROM users", allowed: false},
		{sql: "selectivity", allowed: false},
		{sql: "SELECT 1; DROP TABLE users", allowed: false},
		{sql: "SELECT 1 -- it's fine\n; DROP TABLE users", allowed: false},
		{sql: "SELECT 1 /* it's fine */; DROP TABLE users", allowed: false},
		{sql: "SELECT 1; 'x'", allowed: false},
		{sql: "WITH d AS (DELETE FROM users RETURNING *) SELECT * FROM d", allowed: false},
		{sql: "EXPLAIN ANALYZE DELETE FROM users", allowed: false},
		{sql: "EXPLAIN (ANALYZE) SELECT 1", allowed: false},
		{sql: "SELECT * INTO backup FROM users", allowed: false},
		{sql: "SELECT * FROM users FOR UPDATE", allowed: false},
		{sql: "", allowed: false},
		{sql: ";;", allowed: false},
		{sql: "-- only a comment", allowed: false},
	}
	for _, tc := range tests {
		err := CheckReadOnly(tc.sql)
		if tc.allowed && err != nil {
			t.Fatalf("CheckReadOnly(%q) error = %v", tc.sql, err)
		}
		if !tc.allowed && !errors.Is(err, ErrStatementNotAllowed) {
			t.Fatalf("CheckReadOnly(%q) error = %v, want ErrStatementNotAllowed", tc.sql, err)
		}
	}
}
