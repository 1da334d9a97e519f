package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// Subscription status codes, mirroring the App Store subscription
// statuses returned by the subscription-status API.
const (
	StatusUnknown       = 0
	StatusActive        = 1
	StatusExpired       = 2
	StatusBillingRetry  = 3
	StatusBillingGrace  = 4
	StatusRevoked       = 5
)

// BlockedForever is the sentinel block-until timestamp for permanent
// blocks. Stored as RFC3339 it sorts after every real timestamp.
var BlockedForever = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)

// Identity represents one subscriber. AccountToken is nil for the shared
// anonymous identity; at most one row exists per non-nil account token.
type Identity struct {
	ID           string
	AccountToken *string
	Environment  string
	ProductID    string
	Status       int
	BlockedUntil *time.Time
	SessionToken string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Anonymous reports whether this identity has no account token.
func (i *Identity) Anonymous() bool {
	return i.AccountToken == nil
}

// PermanentlyBlocked reports whether the block-until field carries the
// forever sentinel.
func (i *Identity) PermanentlyBlocked() bool {
	return i.BlockedUntil != nil && i.BlockedUntil.Equal(BlockedForever)
}

// FindIdentityByAccountToken returns the identity for the given account
// token, or the shared anonymous identity when token is nil. Returns
// ErrNotFound if no matching row exists.
func (s *Store) FindIdentityByAccountToken(token *string) (*Identity, error) {
	const cols = "id, account_token, environment, product_id, status, blocked_until, session_token, created_at, updated_at"

	var row *sql.Row
	if token == nil {
		row = s.reader.QueryRow("SELECT "+cols+" FROM identities WHERE account_token IS NULL LIMIT 1")
	} else {
		row = s.reader.QueryRow("SELECT "+cols+" FROM identities WHERE account_token = ?", *token)
	}
	return scanIdentity(row)
}

// GetIdentity returns the identity with the given surrogate id.
func (s *Store) GetIdentity(id string) (*Identity, error) {
	row := s.reader.QueryRow(
		"SELECT id, account_token, environment, product_id, status, blocked_until, session_token, created_at, updated_at FROM identities WHERE id = ?",
		id,
	)
	return scanIdentity(row)
}

// InsertIdentity persists a new identity. A missing ID is generated. The
// unique index on account_token rejects duplicates for named identities.
func (s *Store) InsertIdentity(ident *Identity) error {
	if ident.ID == "" {
		ident.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	ident.CreatedAt = now
	ident.UpdatedAt = now

	_, err := s.writer.Exec(`
		INSERT INTO identities (id, account_token, environment, product_id, status, blocked_until, session_token, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ident.ID,
		nullString(ident.AccountToken),
		ident.Environment,
		ident.ProductID,
		ident.Status,
		nullTime(ident.BlockedUntil),
		ident.SessionToken,
		now.Format(time.RFC3339),
		now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("store: insert identity: %w", err)
	}
	return nil
}

// UpdateIdentitySubscription refreshes the reverification fields in place.
func (s *Store) UpdateIdentitySubscription(id, environment, productID string, status int) error {
	_, err := s.writer.Exec(`
		UPDATE identities SET environment = ?, product_id = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		environment, productID, status, time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("store: update identity subscription: %w", err)
	}
	return nil
}

// UpdateIdentitySessionToken caches the most recently issued session token
// on the identity row.
func (s *Store) UpdateIdentitySessionToken(id, token string) error {
	_, err := s.writer.Exec(`
		UPDATE identities SET session_token = ?, updated_at = ?
		WHERE id = ?`,
		token, time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("store: update identity session token: %w", err)
	}
	return nil
}

// ExtendIdentityBlock sets the block-until timestamp, but only if the new
// value is strictly later than the current one (or the field was unset).
// A block is never shortened. The guard runs inside the UPDATE itself so
// concurrent limiters cannot shorten each other's blocks. Returns whether
// the row was updated.
func (s *Store) ExtendIdentityBlock(id string, until time.Time) (bool, error) {
	ts := until.UTC().Format(time.RFC3339)
	res, err := s.writer.Exec(`
		UPDATE identities SET blocked_until = ?, updated_at = ?
		WHERE id = ? AND (blocked_until IS NULL OR blocked_until < ?)`,
		ts, time.Now().UTC().Format(time.RFC3339), id, ts,
	)
	if err != nil {
		return false, fmt.Errorf("store: extend identity block: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: extend identity block rows affected: %w", err)
	}
	return n > 0, nil
}

// scanIdentity reads one identity row, mapping sql.ErrNoRows to ErrNotFound.
func scanIdentity(row *sql.Row) (*Identity, error) {
	var (
		ident        Identity
		accountToken sql.NullString
		blockedUntil sql.NullString
		createdAt    string
		updatedAt    string
	)
	err := row.Scan(
		&ident.ID, &accountToken, &ident.Environment, &ident.ProductID,
		&ident.Status, &blockedUntil, &ident.SessionToken, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: scan identity: %w", err)
	}

	if accountToken.Valid {
		ident.AccountToken = &accountToken.String
	}
	if blockedUntil.Valid {
		t, err := time.Parse(time.RFC3339, blockedUntil.String)
		if err != nil {
			return nil, fmt.Errorf("store: parse blocked_until: %w", err)
		}
		ident.BlockedUntil = &t
	}
	if ident.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("store: parse created_at: %w", err)
	}
	if ident.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("store: parse updated_at: %w", err)
	}
	return &ident, nil
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
