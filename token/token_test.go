package token

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ggoodman/bearergate/authtest"
	"github.com/ggoodman/bearergate/keys"
)

const testAudience = "https://api.example.com"

func newVerifier(t *testing.T, a *authtest.Authority, mutate func(*Config)) *Verifier {
	t.Helper()
	p, err := keys.NewCachingProvider(keys.Config{JWKSURL: a.JWKSURL()})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	// Negative leeway normalizes to zero tolerance so temporal tests are
	// exact; individual tests opt back into leeway explicitly.
	cfg := Config{Issuer: a.Issuer(), Audiences: []string{testAudience}, Leeway: -1}
	if mutate != nil {
		mutate(&cfg)
	}
	v, err := NewVerifier(p, cfg)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	return v
}

func baseClaims(a *authtest.Authority) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss": a.Issuer(),
		"sub": "user-123",
		"aud": testAudience,
		"exp": now.Add(time.Hour).Unix(),
		"iat": now.Unix(),
	}
}

func TestVerify_HappyPath(t *testing.T) {
	a := authtest.NewAuthority(t)
	v := newVerifier(t, a, nil)

	claims := baseClaims(a)
	claims["scp"] = "read write"
	claims["groups"] = []string{"staff"}
	tok := a.SignToken(t, claims)

	got, err := v.Verify(context.Background(), tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.Subject() != "user-123" {
		t.Fatalf("sub = %q", got.Subject())
	}
	if got.Issuer() != a.Issuer() {
		t.Fatalf("iss = %q", got.Issuer())
	}
	if got.ExpiresAt().IsZero() {
		t.Fatal("exp missing from decoded claims")
	}

	// All original claims round-trip through the decoded payload.
	var out struct {
		Scope  string   `json:"scp"`
		Groups []string `json:"groups"`
		Aud    string   `json:"aud"`
	}
	if err := got.Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Scope != "read write" || len(out.Groups) != 1 || out.Aud != testAudience {
		t.Fatalf("claims did not round-trip: %+v", out)
	}
}

func TestVerify_MalformedToken(t *testing.T) {
	a := authtest.NewAuthority(t)
	v := newVerifier(t, a, nil)

	for _, raw := range []string{"", "garbage", "a.b", "a.b.c.d"} {
		if _, err := v.Verify(context.Background(), raw); !errors.Is(err, ErrMalformed) {
			t.Fatalf("raw %q: want ErrMalformed, got %v", raw, err)
		}
	}
}

func TestVerify_InvalidSignature(t *testing.T) {
	a := authtest.NewAuthority(t)
	b := authtest.NewAuthority(t)
	v := newVerifier(t, a, nil)

	// Signed by b's key but claiming a's kid: resolves a's key, fails to
	// verify.
	tok := b.SignTokenWithKid(t, a.KeyID(), baseClaims(a))
	if _, err := v.Verify(context.Background(), tok); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("want ErrInvalidSignature, got %v", err)
	}
}

func TestVerify_DisallowedAlgorithm(t *testing.T) {
	a := authtest.NewAuthority(t)
	v := newVerifier(t, a, nil)

	hs := jwt.NewWithClaims(jwt.SigningMethodHS256, baseClaims(a))
	hs.Header["kid"] = a.KeyID()
	raw, err := hs.SignedString([]byte("shared-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := v.Verify(context.Background(), raw); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("want ErrInvalidSignature for HS256, got %v", err)
	}
}

func TestVerify_IssuerMismatch(t *testing.T) {
	a := authtest.NewAuthority(t)
	v := newVerifier(t, a, nil)

	claims := baseClaims(a)
	claims["iss"] = "https://evil.example.com"
	tok := a.SignToken(t, claims)
	if _, err := v.Verify(context.Background(), tok); !errors.Is(err, ErrIssuerMismatch) {
		t.Fatalf("want ErrIssuerMismatch, got %v", err)
	}
}

func TestVerify_AudienceMismatch(t *testing.T) {
	a := authtest.NewAuthority(t)
	v := newVerifier(t, a, nil)

	claims := baseClaims(a)
	claims["aud"] = "https://unknown.example.com"
	tok := a.SignToken(t, claims)
	if _, err := v.Verify(context.Background(), tok); !errors.Is(err, ErrAudienceMismatch) {
		t.Fatalf("want ErrAudienceMismatch, got %v", err)
	}
}

func TestVerify_AudienceArray(t *testing.T) {
	a := authtest.NewAuthority(t)
	v := newVerifier(t, a, nil)

	claims := baseClaims(a)
	claims["aud"] = []string{"https://other.example.com", testAudience}
	tok := a.SignToken(t, claims)
	if _, err := v.Verify(context.Background(), tok); err != nil {
		t.Fatalf("verify with aud array: %v", err)
	}
}

func TestVerify_ClientID(t *testing.T) {
	a := authtest.NewAuthority(t)
	v := newVerifier(t, a, func(c *Config) { c.ClientID = "client-1" })

	claims := baseClaims(a)
	claims["cid"] = "client-1"
	if _, err := v.Verify(context.Background(), a.SignToken(t, claims)); err != nil {
		t.Fatalf("verify with matching cid: %v", err)
	}

	claims["cid"] = "client-2"
	if _, err := v.Verify(context.Background(), a.SignToken(t, claims)); !errors.Is(err, ErrAudienceMismatch) {
		t.Fatalf("want ErrAudienceMismatch for wrong cid, got %v", err)
	}

	delete(claims, "cid")
	if _, err := v.Verify(context.Background(), a.SignToken(t, claims)); !errors.Is(err, ErrAudienceMismatch) {
		t.Fatalf("want ErrAudienceMismatch for absent cid, got %v", err)
	}
}

func TestVerify_Expired(t *testing.T) {
	a := authtest.NewAuthority(t)
	v := newVerifier(t, a, nil)

	claims := baseClaims(a)
	claims["exp"] = time.Now().Add(-time.Hour).Unix()
	tok := a.SignToken(t, claims)
	if _, err := v.Verify(context.Background(), tok); !errors.Is(err, ErrExpired) {
		t.Fatalf("want ErrExpired, got %v", err)
	}
}

func TestVerify_MissingExp(t *testing.T) {
	a := authtest.NewAuthority(t)
	v := newVerifier(t, a, nil)

	claims := baseClaims(a)
	delete(claims, "exp")
	tok := a.SignToken(t, claims)
	if _, err := v.Verify(context.Background(), tok); !errors.Is(err, ErrExpired) {
		t.Fatalf("want ErrExpired for missing exp, got %v", err)
	}
}

func TestVerify_NotYetValid(t *testing.T) {
	a := authtest.NewAuthority(t)
	v := newVerifier(t, a, nil)

	claims := baseClaims(a)
	claims["nbf"] = time.Now().Add(time.Hour).Unix()
	tok := a.SignToken(t, claims)
	if _, err := v.Verify(context.Background(), tok); !errors.Is(err, ErrNotYetValid) {
		t.Fatalf("want ErrNotYetValid, got %v", err)
	}
}

func TestVerify_LeewayToleratesSkew(t *testing.T) {
	a := authtest.NewAuthority(t)
	v := newVerifier(t, a, func(c *Config) { c.Leeway = 60 * time.Second })

	claims := baseClaims(a)
	claims["exp"] = time.Now().Add(-30 * time.Second).Unix()
	tok := a.SignToken(t, claims)
	if _, err := v.Verify(context.Background(), tok); err != nil {
		t.Fatalf("verify within leeway: %v", err)
	}
}

func TestVerify_SubjectlessToken(t *testing.T) {
	a := authtest.NewAuthority(t)
	v := newVerifier(t, a, nil)

	// Client-credentials tokens routinely carry no sub. Signature, issuer,
	// audience, and temporal checks are the full validation surface; a
	// missing subject is not a verification failure.
	claims := baseClaims(a)
	delete(claims, "sub")
	tok := a.SignToken(t, claims)
	got, err := v.Verify(context.Background(), tok)
	if err != nil {
		t.Fatalf("verify subjectless token: %v", err)
	}
	if got.Subject() != "" {
		t.Fatalf("sub = %q, want empty", got.Subject())
	}
}

func TestVerify_UnknownKey(t *testing.T) {
	a := authtest.NewAuthority(t)
	v := newVerifier(t, a, nil)

	tok := a.SignTokenWithKid(t, "rotated-away", baseClaims(a))
	if _, err := v.Verify(context.Background(), tok); !errors.Is(err, keys.ErrUnknownKey) {
		t.Fatalf("want keys.ErrUnknownKey, got %v", err)
	}
}

func TestVerify_KeyProviderUnavailable(t *testing.T) {
	a := authtest.NewAuthority(t)

	p, err := keys.NewCachingProvider(keys.Config{JWKSURL: a.JWKSURL() + "/missing"})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	v, err := NewVerifier(p, Config{Issuer: a.Issuer(), Audiences: []string{testAudience}})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	tok := a.SignToken(t, baseClaims(a))
	if _, err := v.Verify(context.Background(), tok); !errors.Is(err, keys.ErrProviderUnavailable) {
		t.Fatalf("want keys.ErrProviderUnavailable, got %v", err)
	}
}

func TestVerify_KeyRotation(t *testing.T) {
	a := authtest.NewAuthority(t)
	v := newVerifier(t, a, nil)

	// Prime the key cache with the original key.
	if _, err := v.Verify(context.Background(), a.SignToken(t, baseClaims(a))); err != nil {
		t.Fatalf("verify pre-rotation: %v", err)
	}

	a.Rotate(t)
	// A token under the new kid misses the cache, triggers one refresh, and
	// verifies.
	if _, err := v.Verify(context.Background(), a.SignToken(t, baseClaims(a))); err != nil {
		t.Fatalf("verify post-rotation: %v", err)
	}
}

func TestNewVerifier_Validation(t *testing.T) {
	a := authtest.NewAuthority(t)
	p, err := keys.NewCachingProvider(keys.Config{JWKSURL: a.JWKSURL()})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	if _, err := NewVerifier(nil, Config{Issuer: "x", Audiences: []string{"a"}}); err == nil {
		t.Fatal("want error for nil provider")
	}
	if _, err := NewVerifier(p, Config{Audiences: []string{"a"}}); err == nil {
		t.Fatal("want error for missing issuer")
	}
	if _, err := NewVerifier(p, Config{Issuer: "x"}); err == nil {
		t.Fatal("want error for missing audience and client id")
	}
}
