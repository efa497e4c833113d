package service

import (
	"bytes"
	"encoding/base64"
	"sort"
	"strings"
	"time"

	"crewcommand_backend/internal/sync/repository"
	"crewcommand_backend/platform/apperr"
	"crewcommand_backend/platform/validator"

	"github.com/google/uuid"
)

const cursorSeparator = "|"

// EncodeCursor returns the opaque resume token for a feed row.
func EncodeCursor(at time.Time, entityType string, id uuid.UUID) string {
	raw := at.UTC().Format(time.RFC3339Nano) + cursorSeparator + entityType + cursorSeparator + id.String()
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor accepts either a bare ISO-8601 timestamp or a token produced by
// EncodeCursor. An empty string means "from the beginning".
func DecodeCursor(raw string) (repository.FeedCursor, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return repository.FeedCursor{}, nil
	}

	if ts, err := validator.ParseTimestamp(raw); err == nil {
		ts = ts.UTC()
		return repository.FeedCursor{At: &ts}, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return repository.FeedCursor{}, invalidCursor()
	}
	parts := strings.SplitN(string(decoded), cursorSeparator, 3)
	if len(parts) != 3 || parts[1] == "" {
		return repository.FeedCursor{}, invalidCursor()
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return repository.FeedCursor{}, invalidCursor()
	}
	id, err := uuid.Parse(parts[2])
	if err != nil {
		return repository.FeedCursor{}, invalidCursor()
	}

	ts = ts.UTC()
	return repository.FeedCursor{At: &ts, Composite: true, EntityType: parts[1], EntityID: id}, nil
}

func invalidCursor() error {
	return apperr.Validation("cursor: must be an ISO-8601 timestamp or a cursor returned by pull")
}

// feedLess is the global feed order: timestamp, then id bytes, then type.
func feedLess(a, b repository.FeedRow) bool {
	if !a.CursorAt.Equal(b.CursorAt) {
		return a.CursorAt.Before(b.CursorAt)
	}
	if c := bytes.Compare(a.EntityID[:], b.EntityID[:]); c != 0 {
		return c < 0
	}
	return a.EntityType < b.EntityType
}

// mergeFeed merges per-table pages, each already in feed order, and keeps the
// first limit rows.
func mergeFeed(pages [][]repository.FeedRow, limit int) []repository.FeedRow {
	total := 0
	for _, p := range pages {
		total += len(p)
	}
	merged := make([]repository.FeedRow, 0, total)
	for _, p := range pages {
		merged = append(merged, p...)
	}
	sort.SliceStable(merged, func(i, j int) bool { return feedLess(merged[i], merged[j]) })
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}
