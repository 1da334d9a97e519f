package store

import (
	"path/filepath"
	"testing"
	"time"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func insertIdentity(t *testing.T, s *Store, token *string) *Identity {
	t.Helper()
	ident := &Identity{
		AccountToken: token,
		Environment:  "Sandbox",
		ProductID:    "com.example.sub.monthly",
		Status:       StatusActive,
	}
	if err := s.InsertIdentity(ident); err != nil {
		t.Fatalf("inserting identity: %v", err)
	}
	return ident
}

func strPtr(s string) *string { return &s }

func TestOpenCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	defer s.Close()
	if err := s.Ping(); err != nil {
		t.Errorf("ping: %v", err)
	}
}

func TestCloseIdempotent(t *testing.T) {
	s := newStore(t)
	if err := s.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestInsertAndFindIdentity(t *testing.T) {
	s := newStore(t)
	ident := insertIdentity(t, s, strPtr("acct-1"))

	if ident.ID == "" {
		t.Fatal("expected a generated id")
	}

	got, err := s.FindIdentityByAccountToken(strPtr("acct-1"))
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.ID != ident.ID {
		t.Errorf("expected id %s, got %s", ident.ID, got.ID)
	}
	if got.AccountToken == nil || *got.AccountToken != "acct-1" {
		t.Errorf("account token not round-tripped: %v", got.AccountToken)
	}
	if got.Status != StatusActive || got.Environment != "Sandbox" {
		t.Errorf("fields not round-tripped: %+v", got)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps not populated")
	}
}

func TestFindIdentity_NotFound(t *testing.T) {
	s := newStore(t)
	if _, err := s.FindIdentityByAccountToken(strPtr("missing")); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetIdentity("no-such-id"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound from GetIdentity, got %v", err)
	}
}

func TestDuplicateAccountTokenRejected(t *testing.T) {
	s := newStore(t)
	insertIdentity(t, s, strPtr("acct-dup"))

	second := &Identity{AccountToken: strPtr("acct-dup"), Environment: "Sandbox", Status: StatusActive}
	if err := s.InsertIdentity(second); err == nil {
		t.Fatal("expected unique index violation for duplicate account token")
	}
}

func TestAnonymousIdentityLookup(t *testing.T) {
	s := newStore(t)
	anon := insertIdentity(t, s, nil)
	insertIdentity(t, s, strPtr("acct-named"))

	got, err := s.FindIdentityByAccountToken(nil)
	if err != nil {
		t.Fatalf("anonymous lookup: %v", err)
	}
	if got.ID != anon.ID {
		t.Errorf("expected the NULL-token row, got %s", got.ID)
	}
	if !got.Anonymous() {
		t.Error("Anonymous() must report true for a NULL account token")
	}
}

func TestUpdateIdentitySubscription(t *testing.T) {
	s := newStore(t)
	ident := insertIdentity(t, s, strPtr("acct-upd"))

	if err := s.UpdateIdentitySubscription(ident.ID, "Production", "com.example.sub.yearly", StatusExpired); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.GetIdentity(ident.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Environment != "Production" || got.ProductID != "com.example.sub.yearly" || got.Status != StatusExpired {
		t.Errorf("subscription fields not updated: %+v", got)
	}
}

func TestUpdateIdentitySessionToken(t *testing.T) {
	s := newStore(t)
	ident := insertIdentity(t, s, strPtr("acct-tok"))

	if err := s.UpdateIdentitySessionToken(ident.ID, "jwt-abc"); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := s.GetIdentity(ident.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.SessionToken != "jwt-abc" {
		t.Errorf("expected cached session token, got %q", got.SessionToken)
	}
}

func TestExtendIdentityBlock_Monotonic(t *testing.T) {
	s := newStore(t)
	ident := insertIdentity(t, s, strPtr("acct-block"))

	later := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	extended, err := s.ExtendIdentityBlock(ident.ID, later)
	if err != nil {
		t.Fatalf("first extend: %v", err)
	}
	if !extended {
		t.Fatal("expected first extend to apply")
	}

	// A shorter block must not overwrite a longer one.
	sooner := later.Add(-30 * time.Minute)
	extended, err = s.ExtendIdentityBlock(ident.ID, sooner)
	if err != nil {
		t.Fatalf("shorter extend: %v", err)
	}
	if extended {
		t.Fatal("a block must never be shortened")
	}

	got, err := s.GetIdentity(ident.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.BlockedUntil == nil || !got.BlockedUntil.Equal(later) {
		t.Errorf("expected blocked_until %v, got %v", later, got.BlockedUntil)
	}
}

func TestExtendIdentityBlock_ForeverSentinel(t *testing.T) {
	s := newStore(t)
	ident := insertIdentity(t, s, strPtr("acct-forever"))

	if _, err := s.ExtendIdentityBlock(ident.ID, BlockedForever); err != nil {
		t.Fatalf("extend: %v", err)
	}
	got, err := s.GetIdentity(ident.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !got.PermanentlyBlocked() {
		t.Fatalf("expected permanent block, got %v", got.BlockedUntil)
	}

	// The sentinel sorts after any real timestamp; nothing extends past it.
	extended, err := s.ExtendIdentityBlock(ident.ID, time.Now().UTC().Add(24*time.Hour))
	if err != nil {
		t.Fatalf("extend past sentinel: %v", err)
	}
	if extended {
		t.Error("nothing may extend past the forever sentinel")
	}
}

func TestRequestLogCounts(t *testing.T) {
	s := newStore(t)
	ident := insertIdentity(t, s, strPtr("acct-log"))

	now := time.Now().UTC()
	entries := []*RequestLogEntry{
		{IdentityID: ident.ID, Timestamp: now.Add(-2 * time.Hour), Endpoint: "/v1/chat/completions"},
		{IdentityID: ident.ID, Timestamp: now.Add(-30 * time.Second), Endpoint: "/v1/chat/completions", Model: "gpt-4o", RequestTokens: 12},
		{IdentityID: ident.ID, Timestamp: now.Add(-10 * time.Second), Endpoint: "/v1/chat/completions", WasBlocked: true},
	}
	for _, e := range entries {
		if err := s.InsertRequest(e); err != nil {
			t.Fatalf("inserting: %v", err)
		}
	}

	n, err := s.CountRequestsSince(ident.ID, now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("count since: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 rows inside the window, got %d", n)
	}

	blocked, err := s.CountBlockedRequests(ident.ID)
	if err != nil {
		t.Fatalf("count blocked: %v", err)
	}
	if blocked != 1 {
		t.Errorf("expected 1 blocked row, got %d", blocked)
	}
}

func TestListRequests_NewestFirst(t *testing.T) {
	s := newStore(t)
	ident := insertIdentity(t, s, strPtr("acct-list"))

	base := time.Now().UTC().Add(-time.Minute)
	for i := range 3 {
		err := s.InsertRequest(&RequestLogEntry{
			IdentityID: ident.ID,
			Timestamp:  base.Add(time.Duration(i) * time.Second),
			Endpoint:   "/v1/chat/completions",
			Model:      "gpt-4o",
		})
		if err != nil {
			t.Fatalf("inserting: %v", err)
		}
	}

	got, err := s.ListRequests(ident.ID, 2, 0)
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}
	if !got[0].Timestamp.After(got[1].Timestamp) {
		t.Error("expected newest-first ordering")
	}
	if got[0].Model != "gpt-4o" {
		t.Errorf("model not round-tripped: %q", got[0].Model)
	}
}

func TestPruneRequestLog(t *testing.T) {
	s := newStore(t)
	ident := insertIdentity(t, s, strPtr("acct-prune"))

	old := &RequestLogEntry{IdentityID: ident.ID, Timestamp: time.Now().UTC().AddDate(0, 0, -60), Endpoint: "/v1/chat/completions"}
	fresh := &RequestLogEntry{IdentityID: ident.ID, Endpoint: "/v1/chat/completions"}
	if err := s.InsertRequest(old); err != nil {
		t.Fatalf("inserting old: %v", err)
	}
	if err := s.InsertRequest(fresh); err != nil {
		t.Fatalf("inserting fresh: %v", err)
	}

	pruned, err := s.PruneRequestLog(30)
	if err != nil {
		t.Fatalf("pruning: %v", err)
	}
	if pruned != 1 {
		t.Errorf("expected 1 pruned row, got %d", pruned)
	}

	n, err := s.CountRequestsSince(ident.ID, time.Time{})
	if err != nil {
		t.Fatalf("counting: %v", err)
	}
	if n != 1 {
		t.Errorf("expected only the fresh row to remain, got %d", n)
	}
}

func TestMigrateIdempotent(t *testing.T) {
	s := newStore(t)
	if err := s.Migrate(); err != nil {
		t.Fatalf("re-running migrations: %v", err)
	}
}
