// Package authtest provides an in-process token authority for tests and
// local development: it mints RSA signing keys, serves OIDC discovery and
// JWKS documents over an httptest server, and signs tokens against the
// current key. It is used by this module's own tests and is exported so
// consumers can exercise their gate wiring without a real issuer.
package authtest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

// Authority is a fake authorization server. All methods are safe for
// concurrent use.
type Authority struct {
	srv *httptest.Server

	mu   sync.Mutex
	key  *rsa.PrivateKey
	kid  string
	gen  int
	jwks []byte

	keysRequests atomic.Int64
}

// NewAuthority starts an authority with a freshly generated RSA key. The
// server is shut down automatically when the test finishes.
func NewAuthority(t *testing.T) *Authority {
	t.Helper()
	a := &Authority{}
	a.rotateLocked(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, _ *http.Request) {
		meta := map[string]any{
			"issuer":                   a.Issuer(),
			"jwks_uri":                 a.JWKSURL(),
			"authorization_endpoint":   a.Issuer() + "/oauth2/auth",
			"token_endpoint":           a.Issuer() + "/oauth2/token",
			"response_types_supported": []string{"code"},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(meta)
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, _ *http.Request) {
		a.keysRequests.Add(1)
		a.mu.Lock()
		body := a.jwks
		a.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	})

	a.srv = httptest.NewServer(mux)
	t.Cleanup(a.srv.Close)
	return a
}

// Close shuts the authority's HTTP server down early, before test cleanup.
// URLs remain readable after Close so failure paths can be exercised.
func (a *Authority) Close() { a.srv.Close() }

// Issuer returns the authority's issuer URL.
func (a *Authority) Issuer() string { return a.srv.URL }

// JWKSURL returns the key set endpoint.
func (a *Authority) JWKSURL() string { return a.srv.URL + "/keys" }

// KeyID returns the kid of the current signing key.
func (a *Authority) KeyID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.kid
}

// JWKS returns the currently published key set.
func (a *Authority) JWKS() *jose.JSONWebKeySet {
	a.mu.Lock()
	defer a.mu.Unlock()
	var set jose.JSONWebKeySet
	_ = json.Unmarshal(a.jwks, &set)
	return &set
}

// KeysRequests reports how many times the JWKS endpoint has been fetched.
func (a *Authority) KeysRequests() int64 { return a.keysRequests.Load() }

// Rotate replaces the signing key with a fresh one under a new kid. Tokens
// signed before rotation no longer verify against the published set.
func (a *Authority) Rotate(t *testing.T) {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rotateLocked(t)
}

func (a *Authority) rotateLocked(t *testing.T) {
	t.Helper()
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("authtest: generate key: %v", err)
	}
	a.gen++
	a.key = pk
	a.kid = fmt.Sprintf("test-key-%d", a.gen)

	set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &pk.PublicKey,
		KeyID:     a.kid,
		Algorithm: "RS256",
		Use:       "sig",
	}}}
	body, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("authtest: marshal jwks: %v", err)
	}
	a.jwks = body
}

// SignToken signs claims with the current key (RS256, current kid).
func (a *Authority) SignToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	a.mu.Lock()
	key, kid := a.key, a.kid
	a.mu.Unlock()

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	s, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("authtest: sign token: %v", err)
	}
	return s
}

// SignTokenWithKid signs claims with the current key but an arbitrary kid
// header, for exercising unknown-key paths.
func (a *Authority) SignTokenWithKid(t *testing.T, kid string, claims jwt.MapClaims) string {
	t.Helper()
	a.mu.Lock()
	key := a.key
	a.mu.Unlock()

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	s, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("authtest: sign token: %v", err)
	}
	return s
}
