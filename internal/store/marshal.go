package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/equigive/taskflow/internal/task"
)

// JSON column helpers. Dependencies, metadata, and comments are stored as
// JSON text so they stay queryable with SQLite's json_each without extra
// join tables.

func marshalDeps(deps []string) (string, error) {
	if deps == nil {
		deps = []string{}
	}
	b, err := json.Marshal(deps)
	if err != nil {
		return "", fmt.Errorf("marshal dependencies: %w", err)
	}
	return string(b), nil
}

func unmarshalDeps(data string) ([]string, error) {
	deps := []string{}
	if err := json.Unmarshal([]byte(data), &deps); err != nil {
		return nil, fmt.Errorf("unmarshal dependencies: %w", err)
	}
	return deps, nil
}

func marshalMetadata(meta map[string]string) (string, error) {
	if meta == nil {
		meta = map[string]string{}
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	return string(b), nil
}

func unmarshalMetadata(data string) (map[string]string, error) {
	meta := map[string]string{}
	if err := json.Unmarshal([]byte(data), &meta); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return meta, nil
}

func marshalComments(comments []task.Comment) (string, error) {
	if comments == nil {
		comments = []task.Comment{}
	}
	b, err := json.Marshal(comments)
	if err != nil {
		return "", fmt.Errorf("marshal comments: %w", err)
	}
	return string(b), nil
}

func unmarshalComments(data string) ([]task.Comment, error) {
	comments := []task.Comment{}
	if err := json.Unmarshal([]byte(data), &comments); err != nil {
		return nil, fmt.Errorf("unmarshal comments: %w", err)
	}
	return comments, nil
}

// Timestamps are stored as RFC 3339 text in UTC.

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// nullString maps empty strings to SQL NULL for the correlation columns, so
// the partial indexes stay small and absent keys never match lookups.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// correlationColumns extracts the indexed correlation values from metadata.
func correlationColumns(meta map[string]string) (envelopeID, signRequestID sql.NullString) {
	return nullString(meta[task.MetaEnvelopeID]), nullString(meta[task.MetaSignRequestID])
}
