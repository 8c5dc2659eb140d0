// Package discovery resolves an issuer's published OIDC metadata. It runs
// once at construction time to learn the jwks_uri (and advertisement-only
// endpoints); it is never consulted on the request path.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

// Metadata is the subset of the issuer's discovery document this module
// consumes. JWKSURI feeds the key provider; the endpoint fields are
// advertisement-only and never used for enforcement.
type Metadata struct {
	Issuer                string
	JWKSURI               string
	AuthorizationEndpoint string
	TokenEndpoint         string
	ScopesSupported       []string
}

// Resolve fetches /.well-known/openid-configuration for issuer and returns
// its metadata. The oidc library enforces that the document's issuer matches
// the requested one.
func Resolve(ctx context.Context, issuer string) (*Metadata, error) {
	if issuer == "" {
		return nil, errors.New("discovery: issuer is required")
	}

	provider, err := oidc.NewProvider(ctx, strings.TrimSuffix(issuer, "/"))
	if err != nil {
		return nil, fmt.Errorf("discovery: %w", err)
	}

	var meta struct {
		Issuer        string   `json:"issuer"`
		JwksURI       string   `json:"jwks_uri"`
		Authorization string   `json:"authorization_endpoint"`
		Token         string   `json:"token_endpoint"`
		Scopes        []string `json:"scopes_supported"`
	}
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("discovery: invalid metadata: %w", err)
	}
	if meta.JwksURI == "" {
		return nil, errors.New("discovery: metadata missing jwks_uri")
	}

	return &Metadata{
		Issuer:                meta.Issuer,
		JWKSURI:               meta.JwksURI,
		AuthorizationEndpoint: meta.Authorization,
		TokenEndpoint:         meta.Token,
		ScopesSupported:       append([]string(nil), meta.Scopes...),
	}, nil
}
