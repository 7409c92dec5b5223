package archive

import (
	"bytes"
	"fmt"

	"github.com/parquet-go/parquet-go"

	"github.com/askdb/askdb/internal/history"
)

type parquetRecord struct {
	RunID            string `parquet:"run_id"`
	Source           string `parquet:"source"`
	Channel          string `parquet:"channel"`
	User             string `parquet:"user_id"`
	EventTS          string `parquet:"event_ts"`
	Question         string `parquet:"question"`
	SQL              string `parquet:"generated_sql"`
	Outcome          string `parquet:"outcome"`
	ErrorStage       string `parquet:"error_stage"`
	ErrorMessage     string `parquet:"error_message"`
	RowCount         int64  `parquet:"row_count"`
	DurationMS       int64  `parquet:"duration_ms"`
	ReceivedAtUnixMs int64  `parquet:"received_at_unix_ms"`
}

// EncodeRecords writes records as one Parquet file.
func EncodeRecords(records []history.Record) ([]byte, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("records are required")
	}

	rows := make([]parquetRecord, 0, len(records))
	for _, record := range records {
		rows = append(rows, parquetRecord{
			RunID:            record.RunID,
			Source:           record.Source,
			Channel:          record.Channel,
			User:             record.User,
			EventTS:          record.EventTS,
			Question:         record.Question,
			SQL:              record.SQL,
			Outcome:          string(record.Outcome),
			ErrorStage:       record.ErrorStage,
			ErrorMessage:     record.ErrorMessage,
			RowCount:         int64(record.RowCount),
			DurationMS:       record.Duration.Milliseconds(),
			ReceivedAtUnixMs: record.ReceivedAt.UnixMilli(),
		})
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[parquetRecord](buf)
	if _, err := writer.Write(rows); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}
