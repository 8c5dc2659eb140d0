package keys

import (
	"context"
	"fmt"

	jose "github.com/go-jose/go-jose/v4"
)

// StaticProvider resolves keys from a fixed key set with no fetching or
// expiry. Intended for tests and development against locally minted keys.
type StaticProvider struct {
	byID map[string]SigningKey
}

// NewStaticProvider indexes the given key set. The set is copied; later
// mutation of jwks does not affect the provider.
func NewStaticProvider(jwks *jose.JSONWebKeySet) *StaticProvider {
	return &StaticProvider{byID: indexKeySet(jwks)}
}

// Resolve implements Provider.
func (p *StaticProvider) Resolve(_ context.Context, kid string) (SigningKey, error) {
	if kid == "" {
		return SigningKey{}, ErrMissingKeyID
	}
	k, ok := p.byID[kid]
	if !ok {
		return SigningKey{}, fmt.Errorf("%w: %q", ErrUnknownKey, kid)
	}
	return k, nil
}

var _ Provider = (*StaticProvider)(nil)
var _ Provider = (*CachingProvider)(nil)
