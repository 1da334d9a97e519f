package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RequestLogEntry is one row in the append-only request log. The usage
// limiter reads these rows as a sliding window; they are never mutated.
type RequestLogEntry struct {
	ID            string
	IdentityID    string
	Timestamp     time.Time
	Endpoint      string
	WasBlocked    bool
	Model         string
	RequestTokens int
}

// InsertRequest appends one request log entry. A missing ID or timestamp
// is filled in.
func (s *Store) InsertRequest(e *RequestLogEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	blocked := 0
	if e.WasBlocked {
		blocked = 1
	}

	_, err := s.writer.Exec(`
		INSERT INTO request_log (id, identity_id, timestamp, endpoint, was_blocked, model, request_tokens)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.IdentityID, e.Timestamp.UTC().Format(time.RFC3339),
		e.Endpoint, blocked, e.Model, e.RequestTokens,
	)
	if err != nil {
		return fmt.Errorf("store: insert request log: %w", err)
	}
	return nil
}

// CountRequestsSince returns the number of logged requests (blocked or
// admitted) for the identity with timestamps at or after since.
func (s *Store) CountRequestsSince(identityID string, since time.Time) (int, error) {
	var n int
	err := s.reader.QueryRow(`
		SELECT COUNT(*) FROM request_log
		WHERE identity_id = ? AND timestamp >= ?`,
		identityID, since.UTC().Format(time.RFC3339),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count requests: %w", err)
	}
	return n, nil
}

// CountBlockedRequests returns the cumulative number of blocked requests
// for the identity over all time.
func (s *Store) CountBlockedRequests(identityID string) (int, error) {
	var n int
	err := s.reader.QueryRow(`
		SELECT COUNT(*) FROM request_log
		WHERE identity_id = ? AND was_blocked = 1`,
		identityID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count blocked requests: %w", err)
	}
	return n, nil
}

// ListRequests returns a page of request log entries for an identity,
// newest first. Intended for operational inspection.
func (s *Store) ListRequests(identityID string, limit, offset int) ([]*RequestLogEntry, error) {
	rows, err := s.reader.Query(`
		SELECT id, identity_id, timestamp, endpoint, was_blocked, model, request_tokens
		FROM request_log
		WHERE identity_id = ?
		ORDER BY timestamp DESC
		LIMIT ? OFFSET ?`,
		identityID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list requests: %w", err)
	}
	defer rows.Close()

	var results []*RequestLogEntry
	for rows.Next() {
		e := &RequestLogEntry{}
		var ts string
		var blocked int
		if err := rows.Scan(&e.ID, &e.IdentityID, &ts, &e.Endpoint, &blocked, &e.Model, &e.RequestTokens); err != nil {
			return nil, fmt.Errorf("store: scan request log row: %w", err)
		}
		e.WasBlocked = blocked != 0
		if e.Timestamp, err = time.Parse(time.RFC3339, ts); err != nil {
			return nil, fmt.Errorf("store: parse request timestamp: %w", err)
		}
		results = append(results, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list requests iteration: %w", err)
	}
	return results, nil
}
