package appstore

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/picolabs/picogate/internal/httperr"
)

// ErrTransactionNotFound signals a 404 from the subscription-status API.
// It triggers the production-to-sandbox fallback and is never surfaced
// directly.
var ErrTransactionNotFound = errors.New("appstore: transaction not found")

// Subscription statuses requested from the status API.
const (
	SubscriptionActive       = 1
	SubscriptionExpired      = 2
	SubscriptionBillingRetry = 3
	SubscriptionBillingGrace = 4
	SubscriptionRevoked      = 5
)

// SubscriptionStatusResponse is the subscription-status API response body.
// BundleID and AppAppleID identify the app the transaction belongs to.
type SubscriptionStatusResponse struct {
	BundleID   string              `json:"bundleId"`
	AppAppleID int64               `json:"appAppleId"`
	Data       []SubscriptionGroup `json:"data"`
}

// SubscriptionGroup carries the most recent transactions of one
// subscription group.
type SubscriptionGroup struct {
	SubscriptionGroupIdentifier string            `json:"subscriptionGroupIdentifier"`
	LastTransactions            []LastTransaction `json:"lastTransactions"`
}

// LastTransaction is one entry of a group's lastTransactions list.
type LastTransaction struct {
	Status                int    `json:"status"`
	OriginalTransactionID string `json:"originalTransactionId"`
	SignedTransactionInfo string `json:"signedTransactionInfo"`
	SignedRenewalInfo     string `json:"signedRenewalInfo"`
}

// Client calls the App Store Server API, authenticating each request with
// a short-lived self-signed ES256 JWT.
type Client struct {
	httpClient    *http.Client
	signingKey    *ecdsa.PrivateKey
	issuerID      string
	keyID         string
	bundleID      string
	productionURL string
	sandboxURL    string
}

// NewClient parses the PEM private key and prepares a client. Base URLs
// come from config so tests can point them at local servers.
func NewClient(privateKeyPEM, issuerID, keyID, bundleID, productionURL, sandboxURL string) (*Client, error) {
	key, err := parseECPrivateKey(privateKeyPEM)
	if err != nil {
		return nil, err
	}
	return &Client{
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		signingKey:    key,
		issuerID:      issuerID,
		keyID:         keyID,
		bundleID:      bundleID,
		productionURL: productionURL,
		sandboxURL:    sandboxURL,
	}, nil
}

func parseECPrivateKey(pemData string) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("appstore: private key is not PEM")
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		ec, ok := key.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("appstore: private key is not an EC key")
		}
		return ec, nil
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("appstore: parsing private key: %w", err)
	}
	return key, nil
}

// apiToken signs the per-request App Store Server API JWT.
func (c *Client) apiToken() (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": c.issuerID,
		"iat": now.Unix(),
		"exp": now.Add(5 * time.Minute).Unix(),
		"aud": "appstoreconnect-v1",
		"bid": c.bundleID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = c.keyID

	signed, err := token.SignedString(c.signingKey)
	if err != nil {
		return "", fmt.Errorf("appstore: signing API token: %w", err)
	}
	return signed, nil
}

func (c *Client) baseURL(env Environment) string {
	if env == EnvSandbox {
		return c.sandboxURL
	}
	return c.productionURL
}

// SubscriptionStatuses fetches the caller's subscription statuses by
// transaction id, filtered to active and billing-grace entries. A 404
// maps to ErrTransactionNotFound; any other non-2xx status surfaces as a
// typed error carrying the upstream status code.
func (c *Client) SubscriptionStatuses(ctx context.Context, env Environment, transactionID string) (*SubscriptionStatusResponse, error) {
	token, err := c.apiToken()
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/inApps/v1/subscriptions/%s?status=%d&status=%d",
		c.baseURL(env), transactionID, SubscriptionActive, SubscriptionBillingGrace)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("appstore: building status request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("appstore: subscription status call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("appstore: reading status response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrTransactionNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, httperr.FromUpstream(resp.StatusCode,
			fmt.Sprintf("subscription status lookup failed in %s", env))
	}

	var statuses SubscriptionStatusResponse
	if err := json.Unmarshal(body, &statuses); err != nil {
		return nil, fmt.Errorf("appstore: decoding status response: %w", err)
	}
	return &statuses, nil
}
