package store

// SQL schema constants for all picogate tables.

// One row per subscriber identity. account_token is nullable: all
// anonymous callers share the single row whose account_token is NULL.
// The partial unique index enforces at most one identity per non-null
// account token.
const schemaIdentities = `
CREATE TABLE IF NOT EXISTS identities (
    id TEXT PRIMARY KEY,
    account_token TEXT,
    environment TEXT NOT NULL DEFAULT '',
    product_id TEXT NOT NULL DEFAULT '',
    status INTEGER NOT NULL DEFAULT 0,
    blocked_until TEXT,
    session_token TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_identities_account_token
    ON identities(account_token) WHERE account_token IS NOT NULL;
`

// Append-only request log read by the usage limiter as a sliding window.
const schemaRequestLog = `
CREATE TABLE IF NOT EXISTS request_log (
    id TEXT PRIMARY KEY,
    identity_id TEXT NOT NULL REFERENCES identities(id),
    timestamp TEXT NOT NULL,
    endpoint TEXT NOT NULL,
    was_blocked INTEGER NOT NULL DEFAULT 0,
    model TEXT NOT NULL DEFAULT '',
    request_tokens INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_request_log_identity_ts ON request_log(identity_id, timestamp);
`

const schemaMigrations = `
CREATE TABLE IF NOT EXISTS migrations (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
);
`

// allSchemas is the ordered list of schema DDL statements that form
// the initial (version-1) database layout.
var allSchemas = []string{
	schemaIdentities,
	schemaRequestLog,
	schemaMigrations,
}
