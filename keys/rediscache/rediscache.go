// Package rediscache provides a Redis-backed keys.Store so a fleet of
// resource-server replicas shares one signing-key cache: a rotation absorbed
// by one replica is visible to the rest without each re-fetching the JWKS.
// Key material is public; storing it in Redis carries no confidentiality
// requirement.
package rediscache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/ggoodman/bearergate/keys"
)

// Config for the Redis-backed store.
type Config struct {
	// Client is the Redis client instance. Required unless Addr is set via
	// NewFromEnv.
	Client *redis.Client

	// KeyPrefix namespaces cache entries. Default: "bearergate:keys:".
	KeyPrefix string
}

// EnvConfig mirrors Config for environment-driven construction.
type EnvConfig struct {
	Addr      string `env:"BEARERGATE_REDIS_ADDR,default=127.0.0.1:6379"`
	DB        int    `env:"BEARERGATE_REDIS_DB,default=0"`
	Password  string `env:"BEARERGATE_REDIS_PASSWORD"`
	KeyPrefix string `env:"BEARERGATE_REDIS_KEY_PREFIX,default=bearergate:keys:"`
}

// Store implements keys.Store on Redis with native per-entry TTLs.
type Store struct {
	client    *redis.Client
	keyPrefix string
}

// New creates a Redis-backed store.
func New(cfg Config) (*Store, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "bearergate:keys:"
	}
	return &Store{client: cfg.Client, keyPrefix: cfg.KeyPrefix}, nil
}

// NewFromEnv builds a Store from BEARERGATE_REDIS_* environment variables.
func NewFromEnv() (*Store, error) {
	var ec EnvConfig
	if err := envdecode.Decode(&ec); err != nil {
		return nil, fmt.Errorf("decode env config: %w", err)
	}
	client := redis.NewClient(&redis.Options{Addr: ec.Addr, DB: ec.DB, Password: ec.Password})
	return New(Config{Client: client, KeyPrefix: ec.KeyPrefix})
}

// storedKey is the Redis representation: the JWK JSON plus the algorithm and
// use fields already normalized by the provider.
type storedKey struct {
	JWK       json.RawMessage `json:"jwk"`
	Algorithm string          `json:"alg,omitempty"`
	Use       string          `json:"use,omitempty"`
}

// Get implements keys.Store.
func (s *Store) Get(ctx context.Context, kid string) (keys.SigningKey, bool, error) {
	res := s.client.Get(ctx, s.keyPrefix+kid)
	if err := res.Err(); err != nil {
		if err == redis.Nil {
			return keys.SigningKey{}, false, nil
		}
		return keys.SigningKey{}, false, fmt.Errorf("get key %q: %w", kid, err)
	}

	var item storedKey
	if err := json.Unmarshal([]byte(res.Val()), &item); err != nil {
		return keys.SigningKey{}, false, fmt.Errorf("unmarshal stored key: %w", err)
	}
	var jwk jose.JSONWebKey
	if err := jwk.UnmarshalJSON(item.JWK); err != nil {
		return keys.SigningKey{}, false, fmt.Errorf("unmarshal jwk: %w", err)
	}
	return keys.SigningKey{
		KeyID:     kid,
		Algorithm: item.Algorithm,
		Use:       item.Use,
		Key:       jwk.Key,
	}, true, nil
}

func encodeKey(key keys.SigningKey) ([]byte, error) {
	jwk := jose.JSONWebKey{Key: key.Key, KeyID: key.KeyID, Algorithm: key.Algorithm, Use: key.Use}
	raw, err := jwk.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshal jwk: %w", err)
	}
	data, err := json.Marshal(storedKey{JWK: raw, Algorithm: key.Algorithm, Use: key.Use})
	if err != nil {
		return nil, fmt.Errorf("marshal stored key: %w", err)
	}
	return data, nil
}

// Put implements keys.Store.
func (s *Store) Put(ctx context.Context, key keys.SigningKey, ttl time.Duration) error {
	data, err := encodeKey(key)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.keyPrefix+key.KeyID, data, ttl).Err(); err != nil {
		return fmt.Errorf("set key %q: %w", key.KeyID, err)
	}
	return nil
}

// Replace implements keys.Store. The fresh set is written and stale entries
// deleted in one transactional pipeline, so a concurrent Get never observes
// the cache emptied between eviction and reinstall.
func (s *Store) Replace(ctx context.Context, ks []keys.SigningKey, ttl time.Duration) error {
	existing, err := s.scanKeys(ctx, s.keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("scan keys: %w", err)
	}

	fresh := make(map[string]struct{}, len(ks))
	pipe := s.client.TxPipeline()
	for _, k := range ks {
		data, err := encodeKey(k)
		if err != nil {
			return err
		}
		name := s.keyPrefix + k.KeyID
		fresh[name] = struct{}{}
		pipe.Set(ctx, name, data, ttl)
	}
	for _, name := range existing {
		if _, ok := fresh[name]; !ok {
			pipe.Del(ctx, name)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("replace keys: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var out []string
	var cursor uint64
	for {
		res := s.client.Scan(ctx, cursor, pattern, 100)
		if res.Err() != nil {
			return nil, res.Err()
		}
		batch, next := res.Val()
		out = append(out, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return out, nil
}

var _ keys.Store = (*Store)(nil)
