// Package appstore verifies App Store purchase proofs and resolves them to
// identities. Verification is attempted across three trust environments in
// order; a signed payload that fails everywhere falls back to the
// subscription-status API via an extracted (or raw) transaction id.
package appstore

// Environment is one App Store trust domain.
type Environment string

const (
	EnvProduction Environment = "Production"
	EnvSandbox    Environment = "Sandbox"
	EnvXcode      Environment = "Xcode"
)

// jwsEnvironments is the fixed order in which signed payloads are tried.
var jwsEnvironments = []Environment{EnvProduction, EnvSandbox, EnvXcode}

// Verdict is the tri-state outcome of one verification attempt.
type Verdict int

const (
	// VerdictVerified means the payload cryptographically verified in the
	// attempted environment.
	VerdictVerified Verdict = iota

	// VerdictWrongEnvironment means the signature and chain are fine but
	// the payload belongs to a different environment; the caller should
	// try the next one.
	VerdictWrongEnvironment

	// VerdictInvalid means the payload does not verify at all in this
	// environment.
	VerdictInvalid
)

func (v Verdict) String() string {
	switch v {
	case VerdictVerified:
		return "verified"
	case VerdictWrongEnvironment:
		return "wrong_environment"
	default:
		return "invalid"
	}
}
