// Package schema reads the table and column catalog of the target database.
package schema

import (
	"context"
	"encoding/json"
	"fmt"
)

type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type Table struct {
	Name    string   `json:"table_name"`
	Columns []Column `json:"columns"`
}

// Snapshot is the catalog as seen by one Inspect call. Table and column order
// is whatever the catalog returned.
type Snapshot struct {
	Tables []Table `json:"tables"`
}

// Source produces schema snapshots.
type Source interface {
	Inspect(ctx context.Context) (Snapshot, error)
}

// Map returns the snapshot as table name -> column name -> declared type.
func (s Snapshot) Map() map[string]map[string]string {
	out := make(map[string]map[string]string, len(s.Tables))
	for _, table := range s.Tables {
		columns := make(map[string]string, len(table.Columns))
		for _, column := range table.Columns {
			columns[column.Name] = column.Type
		}
		out[table.Name] = columns
	}
	return out
}

// Render returns the JSON text embedded in completion prompts.
func (s Snapshot) Render() (string, error) {
	tables := s.Tables
	if tables == nil {
		tables = []Table{}
	}
	raw, err := json.Marshal(tables)
	if err != nil {
		return "", fmt.Errorf("marshal schema snapshot: %w", err)
	}
	return string(raw), nil
}
