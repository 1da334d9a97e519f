package appstore

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/picolabs/picogate/internal/config"
	"github.com/picolabs/picogate/internal/httperr"
	"github.com/picolabs/picogate/internal/store"
	"github.com/picolabs/picogate/internal/testutil"
)

func strPtr(s string) *string { return &s }

func testPrivateKeyPEM(t *testing.T) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating API key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshalling API key: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
}

func testAppStoreConfig(t *testing.T, pki *testPKI, productionURL, sandboxURL string) config.AppStoreConfig {
	t.Helper()
	return config.AppStoreConfig{
		PrivateKey:    testPrivateKeyPEM(t),
		IssuerID:      "test-issuer",
		KeyID:         "test-key",
		BundleID:      testBundleID,
		AppAppleID:    123456,
		RootCertDir:   pki.rootDir,
		ProductionURL: productionURL,
		SandboxURL:    sandboxURL,
	}
}

func newTestService(t *testing.T, pki *testPKI, productionURL, sandboxURL string) (*Service, *store.Store) {
	t.Helper()
	db := testutil.NewTestStore(t)
	svc, err := NewService(testAppStoreConfig(t, pki, productionURL, sandboxURL), db, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, db
}

// statusHandler returns a subscription-status response whose single
// transaction carries the given signed transaction info.
func statusHandler(signedInfo string, status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := SubscriptionStatusResponse{
			BundleID:   testBundleID,
			AppAppleID: 123456,
			Data: []SubscriptionGroup{{
				SubscriptionGroupIdentifier: "group1",
				LastTransactions: []LastTransaction{{
					Status:                status,
					OriginalTransactionID: "2000000123456789",
					SignedTransactionInfo: signedInfo,
				}},
			}},
		}
		json.NewEncoder(w).Encode(resp)
	}
}

func notFoundHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}
}

func TestAuthenticate_ValidJWS(t *testing.T) {
	pki := newTestPKI(t)
	svc, _ := newTestService(t, pki, "http://unused", "http://unused")

	signed := pki.signTransaction(t, transactionClaims("Production", testBundleID, "acct-jws", time.Now().Add(time.Hour)))
	identity, err := svc.Authenticate(context.Background(), []byte(signed))
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if identity.AccountToken == nil || *identity.AccountToken != "acct-jws" {
		t.Fatal("expected account token acct-jws")
	}
	if identity.Environment != "Production" {
		t.Errorf("expected Production environment, got %s", identity.Environment)
	}
	if identity.Status != store.StatusActive {
		t.Errorf("expected active status, got %d", identity.Status)
	}
}

func TestAuthenticate_IdempotentUpsert(t *testing.T) {
	pki := newTestPKI(t)
	svc, db := newTestService(t, pki, "http://unused", "http://unused")

	signed := pki.signTransaction(t, transactionClaims("Production", testBundleID, "acct-twice", time.Now().Add(time.Hour)))

	first, err := svc.Authenticate(context.Background(), []byte(signed))
	if err != nil {
		t.Fatalf("first Authenticate: %v", err)
	}
	second, err := svc.Authenticate(context.Background(), []byte(signed))
	if err != nil {
		t.Fatalf("second Authenticate: %v", err)
	}
	if first.ID != second.ID {
		t.Fatal("expected the same identity row on reverification")
	}

	var count int
	err = db.Reader().QueryRow("SELECT COUNT(*) FROM identities WHERE account_token = ?", "acct-twice").Scan(&count)
	if err != nil {
		t.Fatalf("counting identities: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one identity row, got %d", count)
	}
}

func TestAuthenticate_ExpiredJWSUnauthorized(t *testing.T) {
	pki := newTestPKI(t)
	svc, _ := newTestService(t, pki, "http://unused", "http://unused")

	signed := pki.signTransaction(t, transactionClaims("Production", testBundleID, "acct-exp", time.Now().Add(-time.Hour)))
	_, err := svc.Authenticate(context.Background(), []byte(signed))
	he, ok := httperr.As(err)
	if !ok || he.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired subscription, got %v", err)
	}
}

func TestAuthenticate_RevokedJWSUnauthorized(t *testing.T) {
	pki := newTestPKI(t)
	svc, _ := newTestService(t, pki, "http://unused", "http://unused")

	claims := transactionClaims("Production", testBundleID, "acct-rev", time.Now().Add(time.Hour))
	claims["revocationDate"] = time.Now().Add(-time.Minute).UnixMilli()
	signed := pki.signTransaction(t, claims)

	_, err := svc.Authenticate(context.Background(), []byte(signed))
	he, ok := httperr.As(err)
	if !ok || he.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for revoked subscription, got %v", err)
	}
}

func TestAuthenticate_XcodeFallbackAfterWrongEnvironment(t *testing.T) {
	pki := newTestPKI(t)
	svc, _ := newTestService(t, pki, "http://unused", "http://unused")

	// An Xcode-signed payload must fail production and sandbox attempts
	// (wrong environment) and then verify in the Xcode environment.
	signed := pki.signTransaction(t, transactionClaims("Xcode", testBundleID, "", time.Time{}))
	identity, err := svc.Authenticate(context.Background(), []byte(signed))
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if identity.Environment != "Xcode" {
		t.Errorf("expected Xcode environment, got %s", identity.Environment)
	}
	if !identity.Anonymous() {
		t.Error("expected anonymous identity for payload without account token")
	}
}

func TestAuthenticate_SandboxFallbackOnNotFound(t *testing.T) {
	pki := newTestPKI(t)

	sandboxJWS := pki.signTransaction(t, transactionClaims("Sandbox", testBundleID, "acct-sb", time.Now().Add(time.Hour)))

	var productionHits int
	production := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		productionHits++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer production.Close()
	sandbox := httptest.NewServer(statusHandler(sandboxJWS, SubscriptionActive))
	defer sandbox.Close()

	svc, _ := newTestService(t, pki, production.URL, sandbox.URL)

	identity, err := svc.Authenticate(context.Background(), []byte("2000000123456789"))
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if productionHits != 1 {
		t.Errorf("expected one production attempt, got %d", productionHits)
	}
	if identity.Environment != "Sandbox" {
		t.Errorf("expected Sandbox environment, got %s", identity.Environment)
	}
	if identity.AccountToken == nil || *identity.AccountToken != "acct-sb" {
		t.Error("expected account token from decoded transaction")
	}
	if identity.Status != store.StatusActive {
		t.Errorf("expected active status, got %d", identity.Status)
	}
}

func TestAuthenticate_NotFoundEverywhereUnauthorized(t *testing.T) {
	pki := newTestPKI(t)

	production := httptest.NewServer(notFoundHandler())
	defer production.Close()
	sandbox := httptest.NewServer(notFoundHandler())
	defer sandbox.Close()

	svc, _ := newTestService(t, pki, production.URL, sandbox.URL)

	_, err := svc.Authenticate(context.Background(), []byte("1234567890"))
	he, ok := httperr.As(err)
	if !ok || he.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401 when no environment finds the transaction, got %v", err)
	}
}

func TestAuthenticate_ForeignAppRejected(t *testing.T) {
	pki := newTestPKI(t)

	prodJWS := pki.signTransaction(t, transactionClaims("Production", testBundleID, "acct-foreign", time.Now().Add(time.Hour)))
	production := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := SubscriptionStatusResponse{
			BundleID:   testBundleID,
			AppAppleID: 654321,
			Data: []SubscriptionGroup{{
				SubscriptionGroupIdentifier: "group1",
				LastTransactions: []LastTransaction{{
					Status:                SubscriptionActive,
					SignedTransactionInfo: prodJWS,
				}},
			}},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer production.Close()

	svc, db := newTestService(t, pki, production.URL, "http://unused")

	_, err := svc.Authenticate(context.Background(), []byte("1234567890"))
	he, ok := httperr.As(err)
	if !ok || he.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a transaction owned by another app, got %v", err)
	}

	if _, err := db.FindIdentityByAccountToken(strPtr("acct-foreign")); err == nil {
		t.Fatal("no identity may be created for a foreign app's transaction")
	}
}

func TestAuthenticate_UpstreamErrorSurfaced(t *testing.T) {
	pki := newTestPKI(t)

	production := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer production.Close()
	sandbox := httptest.NewServer(notFoundHandler())
	defer sandbox.Close()

	svc, _ := newTestService(t, pki, production.URL, sandbox.URL)

	_, err := svc.Authenticate(context.Background(), []byte("1234567890"))
	he, ok := httperr.As(err)
	if !ok {
		t.Fatalf("expected typed error, got %v", err)
	}
	if he.Status != http.StatusInternalServerError {
		t.Fatalf("expected upstream status surfaced, got %d", he.Status)
	}
}

func TestAuthenticate_ReceiptBody(t *testing.T) {
	pki := newTestPKI(t)

	prodJWS := pki.signTransaction(t, transactionClaims("Production", testBundleID, "acct-receipt", time.Now().Add(time.Hour)))

	var requestedPath string
	production := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestedPath = r.URL.Path
		statusHandler(prodJWS, SubscriptionActive)(w, r)
	}))
	defer production.Close()

	svc, _ := newTestService(t, pki, production.URL, "http://unused")

	receipt := buildReceipt(t, "9999888877776666")
	identity, err := svc.Authenticate(context.Background(), []byte(receipt))
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if requestedPath != "/inApps/v1/subscriptions/9999888877776666" {
		t.Errorf("expected extracted transaction id in lookup path, got %s", requestedPath)
	}
	if identity.AccountToken == nil || *identity.AccountToken != "acct-receipt" {
		t.Error("expected account token from decoded transaction")
	}
}

func TestAuthenticate_EmptyBodyBadRequest(t *testing.T) {
	pki := newTestPKI(t)
	svc, _ := newTestService(t, pki, "http://unused", "http://unused")

	_, err := svc.Authenticate(context.Background(), []byte("  "))
	he, ok := httperr.As(err)
	if !ok || he.Status != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty body, got %v", err)
	}
}

func TestAuthenticate_AnonymousSharedRow(t *testing.T) {
	pki := newTestPKI(t)
	svc, db := newTestService(t, pki, "http://unused", "http://unused")

	signed := pki.signTransaction(t, transactionClaims("Xcode", testBundleID, "", time.Time{}))

	first, err := svc.Authenticate(context.Background(), []byte(signed))
	if err != nil {
		t.Fatalf("first Authenticate: %v", err)
	}
	second, err := svc.Authenticate(context.Background(), []byte(signed))
	if err != nil {
		t.Fatalf("second Authenticate: %v", err)
	}
	if first.ID != second.ID {
		t.Fatal("anonymous verifications must share one identity row")
	}

	var count int
	if err := db.Reader().QueryRow("SELECT COUNT(*) FROM identities WHERE account_token IS NULL").Scan(&count); err != nil {
		t.Fatalf("counting anonymous identities: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one anonymous row, got %d", count)
	}
}

func TestNewService_UnconfiguredFails(t *testing.T) {
	db := testutil.NewTestStore(t)
	_, err := NewService(config.AppStoreConfig{}, db, zerolog.Nop())
	if err == nil {
		t.Fatal("expected error for unconfigured credentials")
	}
}
