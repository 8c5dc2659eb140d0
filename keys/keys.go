// Package keys resolves the public signing keys a resource server needs to
// verify access token signatures. Keys are fetched from the issuer's JWKS
// endpoint, cached by key id with a bounded lifetime, and refreshed at most
// once per cache miss; concurrent misses coalesce into a single outstanding
// fetch. Verification fails closed: when fresh key material cannot be
// confirmed, resolution reports ErrProviderUnavailable rather than falling
// back to stale keys.
package keys

import (
	"context"
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// Sentinel errors surfaced by key resolution.
var (
	// ErrUnknownKey indicates the key id was absent from the issuer's key
	// set even after a fresh fetch.
	ErrUnknownKey = errors.New("keys: unknown key id")

	// ErrProviderUnavailable indicates the key set could not be fetched or
	// parsed. Callers must treat verification as failed, never authorize.
	ErrProviderUnavailable = errors.New("keys: provider unavailable")

	// ErrMissingKeyID indicates the token header carried no kid to resolve.
	ErrMissingKeyID = errors.New("keys: token header missing kid")
)

// SigningKey is an immutable public verification key owned by a Provider.
type SigningKey struct {
	KeyID     string
	Algorithm string
	Use       string
	// Key holds the raw public key material (*rsa.PublicKey,
	// *ecdsa.PublicKey, ed25519.PublicKey, ...).
	Key any
}

// Keyfunc adapts a Provider to the jwt.Keyfunc contract used by the token
// verifier, binding the request context into the closure. The returned func
// resolves the kid named in the token header; algorithm enforcement is left
// to the parser's valid-methods option.
func Keyfunc(ctx context.Context, p Provider) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, ErrMissingKeyID
		}
		k, err := p.Resolve(ctx, kid)
		if err != nil {
			return nil, err
		}
		return k.Key, nil
	}
}
