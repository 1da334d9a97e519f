package appstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/picolabs/picogate/internal/config"
	"github.com/picolabs/picogate/internal/httperr"
	"github.com/picolabs/picogate/internal/store"
	"github.com/picolabs/picogate/internal/tracing"
)

// Service resolves a raw verification body to an identity. The body is
// either a signed transaction (JWS), a legacy receipt, or a bare
// transaction id.
type Service struct {
	verifier   *Verifier
	client     *Client
	appAppleID int64
	db         *store.Store
	logger     zerolog.Logger
}

// NewService wires the verifier and API client from config. Returns an
// error when the credentials are incomplete; the caller then mounts the
// fail-closed handler instead.
func NewService(cfg config.AppStoreConfig, db *store.Store, logger zerolog.Logger) (*Service, error) {
	if !cfg.Configured() {
		return nil, errors.New("appstore: credentials not configured")
	}

	verifier, err := NewVerifier(cfg.RootCertDir, cfg.BundleID)
	if err != nil {
		return nil, err
	}
	client, err := NewClient(cfg.PrivateKey, cfg.IssuerID, cfg.KeyID, cfg.BundleID,
		cfg.ProductionURL, cfg.SandboxURL)
	if err != nil {
		return nil, err
	}

	return &Service{verifier: verifier, client: client, appAppleID: cfg.AppAppleID, db: db, logger: logger}, nil
}

// Authenticate resolves the request body to an identity, creating one on
// first contact. Attempt order: JWS verification per environment, then
// receipt transaction-id extraction, then the raw body as a transaction
// id against the subscription-status API with sandbox fallback.
func (s *Service) Authenticate(ctx context.Context, body []byte) (*store.Identity, error) {
	payload := strings.TrimSpace(string(body))
	if payload == "" {
		return nil, httperr.BadRequest("empty verification body")
	}

	for _, env := range jwsEnvironments {
		decoded, verdict := s.verifier.VerifyTransaction(payload, env)
		s.logger.Debug().Str("environment", string(env)).Stringer("verdict", verdict).Msg("JWS verification attempt")
		if verdict != VerdictVerified {
			continue
		}

		now := time.Now()
		if decoded.Expired(now) {
			s.logger.Info().Str("environment", string(env)).Msg("subscription expired")
			return nil, httperr.Unauthorized("subscription expired")
		}
		if decoded.Revoked(now) {
			s.logger.Info().Str("environment", string(env)).Msg("subscription revoked")
			return nil, httperr.Unauthorized("subscription revoked")
		}
		return s.upsertIdentity(accountTokenOf(decoded), env, decoded.ProductID, store.StatusActive)
	}

	// Not a verifiable JWS. Extract a transaction id from a legacy
	// receipt; when that fails the raw body itself is the transaction id
	// (permissive for sandbox and local clients).
	transactionID, err := ExtractTransactionID(payload)
	if err != nil {
		s.logger.Debug().Err(err).Msg("body is not a receipt, treating as transaction id")
		transactionID = payload
	}

	identity, err := s.lookupTransaction(ctx, transactionID, EnvProduction)
	if errors.Is(err, ErrTransactionNotFound) {
		s.logger.Info().Str("transaction_id", transactionID).Msg("not found in production, falling back to sandbox")
		identity, err = s.lookupTransaction(ctx, transactionID, EnvSandbox)
	}
	if errors.Is(err, ErrTransactionNotFound) {
		return nil, httperr.Unauthorized("transaction not found in any environment")
	}
	if err != nil {
		return nil, err
	}
	return identity, nil
}

// lookupTransaction queries the subscription-status API in one environment
// and distills the returned transactions into an identity.
func (s *Service) lookupTransaction(ctx context.Context, transactionID string, env Environment) (*store.Identity, error) {
	ctx, span := tracing.StartVerificationSpan(ctx, string(env))
	defer span.End()

	statuses, err := s.client.SubscriptionStatuses(ctx, env, transactionID)
	if err != nil {
		return nil, err
	}

	// The status response names the owning app; a transaction bought in a
	// different app proves nothing here. Zero means the claim was absent.
	if statuses.AppAppleID != 0 && statuses.AppAppleID != s.appAppleID {
		s.logger.Info().Int64("app_apple_id", statuses.AppAppleID).Str("environment", string(env)).
			Msg("transaction belongs to a different app")
		return nil, httperr.Unauthorized("transaction belongs to a different app")
	}

	if len(statuses.Data) == 0 || len(statuses.Data[0].LastTransactions) == 0 {
		s.logger.Info().Str("transaction_id", transactionID).Str("environment", string(env)).
			Msg("lookup succeeded but returned no transactions")
		return nil, httperr.Unauthorized("no active or grace period subscription status found")
	}

	// A single subscription group is assumed; iterate its transactions,
	// preferring an already recorded active status and stopping once both
	// an account token and product id are known.
	var (
		accountToken *string
		productID    string
		status       = store.StatusExpired
	)
	for _, tx := range statuses.Data[0].LastTransactions {
		if tx.SignedTransactionInfo == "" {
			continue
		}
		decoded, verdict := s.verifier.VerifyTransaction(tx.SignedTransactionInfo, env)
		if verdict != VerdictVerified {
			s.logger.Debug().Str("environment", string(env)).Stringer("verdict", verdict).
				Msg("skipping undecodable transaction")
			continue
		}

		accountToken = accountTokenOf(decoded)
		if decoded.ProductID != "" {
			productID = decoded.ProductID
		}
		if status != store.StatusActive && tx.Status != 0 {
			status = tx.Status
		}
		if accountToken != nil && productID != "" {
			break
		}
	}

	return s.upsertIdentity(accountToken, env, productID, status)
}

// upsertIdentity returns the existing identity for the account token or
// persists a new one. Lookup-before-insert keeps verification idempotent;
// the unique index backstops concurrent first contacts.
func (s *Service) upsertIdentity(accountToken *string, env Environment, productID string, status int) (*store.Identity, error) {
	existing, err := s.db.FindIdentityByAccountToken(accountToken)
	if err == nil {
		if err := s.db.UpdateIdentitySubscription(existing.ID, string(env), productID, status); err != nil {
			return nil, httperr.Internal("updating identity").WithCause(err)
		}
		existing.Environment = string(env)
		existing.ProductID = productID
		existing.Status = status
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, httperr.Internal("identity lookup failed").WithCause(err)
	}

	identity := &store.Identity{
		AccountToken: accountToken,
		Environment:  string(env),
		ProductID:    productID,
		Status:       status,
	}
	if err := s.db.InsertIdentity(identity); err != nil {
		return nil, httperr.Internal("persisting identity").WithCause(err)
	}
	s.logger.Info().Str("environment", string(env)).Bool("anonymous", accountToken == nil).
		Msg("created identity")
	return identity, nil
}

func accountTokenOf(payload *TransactionPayload) *string {
	if payload.AppAccountToken == "" {
		return nil
	}
	token := payload.AppAccountToken
	return &token
}
