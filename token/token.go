// Package token validates serialized access tokens against a trusted
// issuer configuration. Verification is stateless: every call checks the
// signature (via a keys.Provider), issuer, audience/client id, and the
// temporal claims, and reports exactly one failure mode from the package's
// error taxonomy. A token is never trusted until all checks pass.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ggoodman/bearergate/keys"
)

// Verification failure modes. The gate collapses all of them into an
// authentication failure for clients, but callers can distinguish them with
// errors.Is for logging and tests.
var (
	// ErrMalformed indicates the token could not be decoded structurally.
	ErrMalformed = errors.New("token: malformed")

	// ErrInvalidSignature indicates the signature did not verify against
	// the issuer's key, or the signing algorithm is not allowed.
	ErrInvalidSignature = errors.New("token: invalid signature")

	// ErrIssuerMismatch indicates the iss claim differs from the trusted
	// issuer.
	ErrIssuerMismatch = errors.New("token: issuer mismatch")

	// ErrAudienceMismatch indicates neither the aud claim nor the cid claim
	// satisfied the expected audience / client id.
	ErrAudienceMismatch = errors.New("token: audience mismatch")

	// ErrExpired indicates the token's exp claim is in the past.
	ErrExpired = errors.New("token: expired")

	// ErrNotYetValid indicates the token's nbf claim is in the future.
	ErrNotYetValid = errors.New("token: not yet valid")
)

const (
	// DefaultLeeway is the clock-skew tolerance applied to exp/nbf checks.
	DefaultLeeway = 60 * time.Second

	// MaxLeeway caps configured leeway; larger values defeat expiry.
	MaxLeeway = 60 * time.Second
)

// Config describes the trusted authorization-server identity a verifier
// enforces. Issuer and at least one of Audiences/ClientID are required.
type Config struct {
	// Issuer is the trusted issuer URL; the token's iss claim must match it
	// exactly.
	Issuer string

	// Audiences lists accepted values for the aud claim. When non-empty the
	// token's aud (string or array) must contain at least one entry.
	Audiences []string

	// ClientID, when set, must appear in the token's cid claim.
	ClientID string

	// AllowedAlgs restricts JWS algorithms. "none" is never allowed.
	// Defaults to ["RS256"].
	AllowedAlgs []string

	// Leeway is the clock-skew tolerance for temporal claims. Defaults to
	// DefaultLeeway and is clamped to MaxLeeway.
	Leeway time.Duration
}

func (c *Config) normalize() {
	if len(c.AllowedAlgs) == 0 {
		c.AllowedAlgs = []string{"RS256"}
	}
	if c.Leeway == 0 {
		c.Leeway = DefaultLeeway
	}
	if c.Leeway < 0 {
		c.Leeway = 0
	}
	if c.Leeway > MaxLeeway {
		c.Leeway = MaxLeeway
	}
}

func (c *Config) validate() error {
	if c.Issuer == "" {
		return errors.New("token: issuer is required")
	}
	if len(c.Audiences) == 0 && c.ClientID == "" {
		return errors.New("token: at least one audience or a client id is required")
	}
	for _, a := range c.Audiences {
		if a == "" {
			return errors.New("token: empty audience entry")
		}
	}
	return nil
}

// Verifier validates raw tokens. It is stateless with respect to a single
// token and safe for concurrent use.
type Verifier struct {
	cfg      Config
	provider keys.Provider
}

// NewVerifier builds a Verifier over the given key provider.
func NewVerifier(provider keys.Provider, cfg Config) (*Verifier, error) {
	if provider == nil {
		return nil, errors.New("token: key provider is required")
	}
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.Audiences = append([]string(nil), cfg.Audiences...)
	cfg.AllowedAlgs = append([]string(nil), cfg.AllowedAlgs...)
	return &Verifier{cfg: cfg, provider: provider}, nil
}

// Verify runs the full validation chain on raw and returns the decoded
// payload. Each failure mode maps to exactly one package sentinel (or a
// keys sentinel when key material could not be resolved).
func (v *Verifier) Verify(ctx context.Context, raw string) (Claims, error) {
	if raw == "" {
		return Claims{}, fmt.Errorf("%w: empty token", ErrMalformed)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(v.cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.cfg.Leeway),
	)
	parsed, err := parser.Parse(raw, keys.Keyfunc(ctx, v.provider))
	if err != nil {
		return Claims{}, mapParseError(err)
	}

	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, fmt.Errorf("%w: unexpected claims shape", ErrMalformed)
	}

	iss, err := mc.GetIssuer()
	if err != nil || iss != v.cfg.Issuer {
		return Claims{}, fmt.Errorf("%w: got %q", ErrIssuerMismatch, iss)
	}

	if len(v.cfg.Audiences) > 0 {
		auds, err := mc.GetAudience()
		if err != nil || !intersects(auds, v.cfg.Audiences) {
			return Claims{}, fmt.Errorf("%w: aud", ErrAudienceMismatch)
		}
	}
	if v.cfg.ClientID != "" {
		if !containsClaimValue(mc["cid"], v.cfg.ClientID) {
			return Claims{}, fmt.Errorf("%w: cid", ErrAudienceMismatch)
		}
	}

	return newClaims(mc), nil
}

// mapParseError translates golang-jwt sentinels into this package's
// taxonomy. Key-resolution sentinels pass through so the gate can fail
// closed on provider unavailability.
func mapParseError(err error) error {
	switch {
	case errors.Is(err, keys.ErrProviderUnavailable),
		errors.Is(err, keys.ErrUnknownKey):
		return err
	case errors.Is(err, keys.ErrMissingKeyID):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return fmt.Errorf("%w: %v", ErrNotYetValid, err)
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		// The parser is configured with WithExpirationRequired and nothing
		// else, so this sentinel can only mean a missing exp. If another
		// claim is ever made required, this arm must dispatch on the claim.
		return fmt.Errorf("%w: %v", ErrExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}

func intersects(have []string, want []string) bool {
	for _, h := range have {
		for _, w := range want {
			if h == w {
				return true
			}
		}
	}
	return false
}

// containsClaimValue reports whether a string-or-array claim value contains
// want.
func containsClaimValue(claim any, want string) bool {
	switch v := claim.(type) {
	case string:
		return v == want
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok && s == want {
				return true
			}
		}
	case []string:
		for _, s := range v {
			if s == want {
				return true
			}
		}
	}
	return false
}
