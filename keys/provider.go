package keys

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTTL bounds how long a cached key is trusted without a refresh,
	// limiting exposure after key compromise or rotation.
	DefaultTTL = 15 * time.Minute

	// DefaultFetchTimeout bounds a single JWKS fetch so a slow issuer
	// degrades to ErrProviderUnavailable instead of blocking requests.
	DefaultFetchTimeout = 10 * time.Second

	maxJWKSBody = 1 << 20 // 1 MiB
)

// Provider resolves signing keys by key id.
type Provider interface {
	Resolve(ctx context.Context, kid string) (SigningKey, error)
}

// Config controls a CachingProvider.
type Config struct {
	// JWKSURL is the issuer's key set endpoint, typically learned from OIDC
	// discovery. Required.
	JWKSURL string

	// TTL is the maximum cache lifetime per key. Defaults to DefaultTTL.
	TTL time.Duration

	// FetchTimeout bounds each JWKS fetch. Defaults to DefaultFetchTimeout.
	FetchTimeout time.Duration

	// HTTPClient used for fetches. Defaults to http.DefaultClient.
	HTTPClient *http.Client

	// Store caches keys between refreshes. Defaults to an in-process store;
	// supply rediscache.New for a shared store across replicas.
	Store Store

	// Logger receives refresh events. Defaults to slog.Default().
	Logger *slog.Logger
}

// CachingProvider fetches the issuer's JWKS on demand and caches keys by kid.
// A lookup that misses the cache triggers exactly one blocking refresh and is
// retried against the fresh set; a second miss is ErrUnknownKey. Concurrent
// misses share a single in-flight fetch.
type CachingProvider struct {
	jwksURL string
	ttl     time.Duration
	timeout time.Duration
	client  *http.Client
	store   Store
	log     *slog.Logger

	group singleflight.Group
}

// NewCachingProvider builds a provider. No network traffic occurs until the
// first Resolve call.
func NewCachingProvider(cfg Config) (*CachingProvider, error) {
	if cfg.JWKSURL == "" {
		return nil, errors.New("keys: JWKS URL is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CachingProvider{
		jwksURL: cfg.JWKSURL,
		ttl:     cfg.TTL,
		timeout: cfg.FetchTimeout,
		client:  cfg.HTTPClient,
		store:   cfg.Store,
		log:     cfg.Logger,
	}, nil
}

// Resolve implements Provider.
func (p *CachingProvider) Resolve(ctx context.Context, kid string) (SigningKey, error) {
	if kid == "" {
		return SigningKey{}, ErrMissingKeyID
	}

	if k, ok, err := p.store.Get(ctx, kid); err == nil && ok {
		return k, nil
	} else if err != nil {
		// A failing store degrades to a refresh; the fetched set below is
		// consulted directly so resolution does not depend on the store.
		p.log.WarnContext(ctx, "keys.store.get.fail", slog.String("err", err.Error()))
	}

	fresh, err := p.refresh(ctx)
	if err != nil {
		return SigningKey{}, err
	}
	if k, ok := fresh[kid]; ok {
		return k, nil
	}
	return SigningKey{}, fmt.Errorf("%w: %q", ErrUnknownKey, kid)
}

// refresh fetches and installs the issuer's current key set. Concurrent
// callers coalesce onto one fetch and share its outcome.
func (p *CachingProvider) refresh(ctx context.Context) (map[string]SigningKey, error) {
	v, err, _ := p.group.Do("jwks", func() (any, error) {
		// Detach from the triggering request's cancellation: coalesced
		// waiters from other requests share this fetch.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		defer cancel()

		start := time.Now()
		set, err := p.fetch(fctx)
		if err != nil {
			p.log.WarnContext(ctx, "keys.refresh.fail", slog.String("err", err.Error()))
			return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}

		// Install the fetched set wholesale so rotated-away keys are evicted.
		fresh := make([]SigningKey, 0, len(set))
		for _, k := range set {
			fresh = append(fresh, k)
		}
		if err := p.store.Replace(fctx, fresh, p.ttl); err != nil {
			p.log.WarnContext(ctx, "keys.store.replace.fail", slog.String("err", err.Error()))
		}
		p.log.InfoContext(ctx, "keys.refresh.ok", slog.Int("count", len(set)), slog.Duration("dur", time.Since(start)))
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]SigningKey), nil
}

func (p *CachingProvider) fetch(ctx context.Context) (map[string]SigningKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBody))
	if err != nil {
		return nil, fmt.Errorf("read jwks body: %w", err)
	}

	var jwks jose.JSONWebKeySet
	if err := json.Unmarshal(body, &jwks); err != nil {
		return nil, fmt.Errorf("parse jwks: %w", err)
	}
	return indexKeySet(&jwks), nil
}

// indexKeySet flattens a JWKS into a kid-indexed map of verification keys.
// Keys without a kid or marked for encryption use are skipped.
func indexKeySet(jwks *jose.JSONWebKeySet) map[string]SigningKey {
	out := make(map[string]SigningKey, len(jwks.Keys))
	for _, jwk := range jwks.Keys {
		if jwk.KeyID == "" || !jwk.Valid() {
			continue
		}
		if jwk.Use != "" && jwk.Use != "sig" {
			continue
		}
		pub := jwk.Public()
		out[jwk.KeyID] = SigningKey{
			KeyID:     jwk.KeyID,
			Algorithm: jwk.Algorithm,
			Use:       jwk.Use,
			Key:       pub.Key,
		}
	}
	return out
}
