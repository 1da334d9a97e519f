package appstore

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TransactionPayload is the decoded claim set of a signed App Store
// transaction. Dates are milliseconds since the epoch, matching the wire
// format.
type TransactionPayload struct {
	TransactionID         string `json:"transactionId"`
	OriginalTransactionID string `json:"originalTransactionId"`
	BundleID              string `json:"bundleId"`
	ProductID             string `json:"productId"`
	AppAccountToken       string `json:"appAccountToken"`
	Environment           string `json:"environment"`
	ExpiresDate           int64  `json:"expiresDate"`
	RevocationDate        int64  `json:"revocationDate"`
	SignedDate            int64  `json:"signedDate"`
}

// Expired reports whether the subscription's expiry is in the past.
// A zero ExpiresDate means the payload carries no expiry.
func (p *TransactionPayload) Expired(now time.Time) bool {
	return p.ExpiresDate != 0 && time.UnixMilli(p.ExpiresDate).Before(now)
}

// Revoked reports whether the transaction carries a past revocation date.
func (p *TransactionPayload) Revoked(now time.Time) bool {
	return p.RevocationDate != 0 && time.UnixMilli(p.RevocationDate).Before(now)
}

// Verifier validates signed transactions (compact JWS, ES256, x5c chain)
// against the Apple root certificates loaded once at construction.
// Transaction payloads carry no numeric app id; that claim only appears
// on the subscription-status response and is checked there.
type Verifier struct {
	roots    *x509.CertPool
	bundleID string
}

// NewVerifier loads every certificate in rootCertDir (DER .cer or PEM)
// into the trust pool. The directory must hold the Apple root CAs.
func NewVerifier(rootCertDir, bundleID string) (*Verifier, error) {
	roots := x509.NewCertPool()

	entries, err := os.ReadDir(rootCertDir)
	if err != nil {
		return nil, fmt.Errorf("appstore: reading root certificate directory: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(rootCertDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("appstore: reading certificate %s: %w", entry.Name(), err)
		}
		if block, _ := pem.Decode(data); block != nil {
			data = block.Bytes
		}
		cert, err := x509.ParseCertificate(data)
		if err != nil {
			continue
		}
		roots.AddCert(cert)
		loaded++
	}
	if loaded == 0 {
		return nil, fmt.Errorf("appstore: no usable root certificates in %s", rootCertDir)
	}

	return &Verifier{roots: roots, bundleID: bundleID}, nil
}

// VerifyTransaction verifies a compact JWS signed transaction against the
// given environment. The x5c leaf certificate signs the payload; for
// Production and Sandbox the chain must verify against the Apple roots.
// Xcode builds sign with untrusted local chains, so only the leaf
// signature is checked there.
func (v *Verifier) VerifyTransaction(signed string, env Environment) (*TransactionPayload, Verdict) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"ES256"}),
		jwt.WithoutClaimsValidation(),
	)

	claims := jwt.MapClaims{}
	_, err := parser.ParseWithClaims(signed, claims, func(token *jwt.Token) (interface{}, error) {
		leaf, intermediates, err := certificateChain(token)
		if err != nil {
			return nil, err
		}
		if env != EnvXcode {
			opts := x509.VerifyOptions{
				Roots:         v.roots,
				Intermediates: intermediates,
				KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
			}
			if _, err := leaf.Verify(opts); err != nil {
				return nil, fmt.Errorf("certificate chain: %w", err)
			}
		}
		return leaf.PublicKey, nil
	})
	if err != nil {
		return nil, VerdictInvalid
	}

	payload, err := decodePayload(claims)
	if err != nil {
		return nil, VerdictInvalid
	}

	if payload.Environment != string(env) {
		return nil, VerdictWrongEnvironment
	}
	if payload.BundleID != v.bundleID {
		return nil, VerdictInvalid
	}
	return payload, VerdictVerified
}

// certificateChain extracts the x5c header: the leaf certificate first,
// followed by any intermediates.
func certificateChain(token *jwt.Token) (*x509.Certificate, *x509.CertPool, error) {
	raw, ok := token.Header["x5c"].([]interface{})
	if !ok || len(raw) == 0 {
		return nil, nil, fmt.Errorf("missing x5c header")
	}

	certs := make([]*x509.Certificate, 0, len(raw))
	for _, entry := range raw {
		s, ok := entry.(string)
		if !ok {
			return nil, nil, fmt.Errorf("malformed x5c entry")
		}
		der, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, nil, fmt.Errorf("decoding x5c entry: %w", err)
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing x5c certificate: %w", err)
		}
		certs = append(certs, cert)
	}

	intermediates := x509.NewCertPool()
	for _, cert := range certs[1:] {
		intermediates.AddCert(cert)
	}
	return certs[0], intermediates, nil
}

func decodePayload(claims jwt.MapClaims) (*TransactionPayload, error) {
	data, err := json.Marshal(claims)
	if err != nil {
		return nil, err
	}
	var payload TransactionPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}
