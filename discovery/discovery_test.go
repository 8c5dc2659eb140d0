package discovery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ggoodman/bearergate/authtest"
)

func TestResolve(t *testing.T) {
	a := authtest.NewAuthority(t)

	meta, err := Resolve(context.Background(), a.Issuer())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if meta.Issuer != a.Issuer() {
		t.Fatalf("issuer = %q, want %q", meta.Issuer, a.Issuer())
	}
	if meta.JWKSURI != a.JWKSURL() {
		t.Fatalf("jwks_uri = %q, want %q", meta.JWKSURI, a.JWKSURL())
	}
	if meta.AuthorizationEndpoint == "" || meta.TokenEndpoint == "" {
		t.Fatalf("expected advertisement endpoints, got %+v", meta)
	}
}

func TestResolve_EmptyIssuer(t *testing.T) {
	if _, err := Resolve(context.Background(), ""); err == nil {
		t.Fatal("want error for empty issuer")
	}
}

func TestResolve_MissingJWKSURI(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/openid-configuration" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"issuer":"` + srv.URL + `"}`))
	}))
	defer srv.Close()

	if _, err := Resolve(context.Background(), srv.URL); err == nil {
		t.Fatal("want error for metadata without jwks_uri")
	}
}

func TestResolve_IssuerMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"issuer":"https://elsewhere.example","jwks_uri":"https://elsewhere.example/keys"}`))
	}))
	defer srv.Close()

	if _, err := Resolve(context.Background(), srv.URL); err == nil {
		t.Fatal("want error when document issuer differs from requested issuer")
	}
}
