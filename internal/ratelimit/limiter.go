// Package ratelimit decides per-identity admission using a sliding window
// over the request log, with escalating blocks for repeat offenders.
package ratelimit

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/picolabs/picogate/internal/config"
	"github.com/picolabs/picogate/internal/store"
)

// Block durations for the finite tiers.
const (
	minuteBlockDuration = 5 * time.Minute
	hourlyBlockDuration = time.Hour
)

// Decision is the limiter's verdict for one request.
type Decision struct {
	Blocked bool
	// Until is the block expiry. Equal to store.BlockedForever for
	// permanent blocks; zero when admitted.
	Until time.Time
}

// Permanent reports whether the decision is a forever block.
func (d Decision) Permanent() bool {
	return d.Blocked && d.Until.Equal(store.BlockedForever)
}

// RetryMessage renders the client-facing rejection message.
func (d Decision) RetryMessage(now time.Time) string {
	if d.Permanent() {
		return "usage limit exceeded"
	}
	minutes := int(d.Until.Sub(now).Round(time.Minute) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf("usage limit exceeded, retry in %d minutes", minutes)
}

// thresholds is one class's rule set. Zero disables a rule.
type thresholds struct {
	minute    int
	hourly    int
	permanent int
}

// Limiter evaluates the sliding-window rules against the request log.
type Limiter struct {
	db     *store.Store
	logger zerolog.Logger
}

func NewLimiter(db *store.Store, logger zerolog.Logger) *Limiter {
	return &Limiter{db: db, logger: logger}
}

func classThresholds(cfg config.RateLimitConfig, identity *store.Identity) thresholds {
	if identity.Anonymous() {
		return thresholds{minute: cfg.AnonMinute, hourly: cfg.AnonHourly, permanent: cfg.AnonPermanent}
	}
	return thresholds{minute: cfg.UserMinute, hourly: cfg.UserHourly, permanent: cfg.UserPermanent}
}

// Check evaluates the rules for one identity at time now. It does not log
// the request or persist the block; the interceptor does both so the log
// row can carry request metadata.
func (l *Limiter) Check(identity *store.Identity, now time.Time) (Decision, error) {
	cfg := config.Get().RateLimit
	if !cfg.Enabled {
		return Decision{}, nil
	}

	// Sticky: an existing permanent block never clears.
	if identity.PermanentlyBlocked() {
		return Decision{Blocked: true, Until: store.BlockedForever}, nil
	}
	if identity.BlockedUntil != nil && identity.BlockedUntil.After(now) {
		return Decision{Blocked: true, Until: *identity.BlockedUntil}, nil
	}

	limits := classThresholds(cfg, identity)

	if limits.permanent > 0 {
		blocked, err := l.db.CountBlockedRequests(identity.ID)
		if err != nil {
			return Decision{}, err
		}
		if blocked >= limits.permanent {
			return Decision{Blocked: true, Until: store.BlockedForever}, nil
		}
	}

	if limits.hourly > 0 {
		hourly, err := l.db.CountRequestsSince(identity.ID, now.Add(-time.Hour))
		if err != nil {
			return Decision{}, err
		}
		if hourly >= limits.hourly {
			return Decision{Blocked: true, Until: now.Add(hourlyBlockDuration)}, nil
		}
	}

	if limits.minute > 0 {
		minute, err := l.db.CountRequestsSince(identity.ID, now.Add(-time.Minute))
		if err != nil {
			return Decision{}, err
		}
		if minute >= limits.minute {
			return Decision{Blocked: true, Until: now.Add(minuteBlockDuration)}, nil
		}
	}

	return Decision{}, nil
}

// Enact persists a block decision on the identity row. The store guard
// keeps blocks monotonic, so a shorter concurrent decision is a no-op.
func (l *Limiter) Enact(identity *store.Identity, d Decision) error {
	if !d.Blocked {
		return nil
	}
	extended, err := l.db.ExtendIdentityBlock(identity.ID, d.Until)
	if err != nil {
		return err
	}
	if extended {
		l.logger.Warn().Str("identity_id", identity.ID).
			Time("blocked_until", d.Until).Bool("permanent", d.Permanent()).
			Msg("identity blocked")
	}
	return nil
}
