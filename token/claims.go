package token

import (
	"encoding/json"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the immutable decoded payload of a verified token. The zero
// value carries no claims. Values handed out are copies of the parsed JSON;
// callers must not rely on mutating them.
type Claims struct {
	m map[string]any
}

func newClaims(mc jwt.MapClaims) Claims {
	m := make(map[string]any, len(mc))
	for k, v := range mc {
		m[k] = v
	}
	return Claims{m: m}
}

// Subject returns the sub claim, or "" when the token carries none.
// Subjectless tokens (client-credentials grants) are valid; whether a
// subject is required is a policy decision.
func (c Claims) Subject() string {
	s, _ := c.m["sub"].(string)
	return s
}

// Issuer returns the iss claim.
func (c Claims) Issuer() string {
	s, _ := c.m["iss"].(string)
	return s
}

// ExpiresAt returns the exp claim as a time, or the zero time if absent.
func (c Claims) ExpiresAt() time.Time {
	switch v := c.m["exp"].(type) {
	case float64:
		return time.Unix(int64(v), 0)
	case int64:
		return time.Unix(v, 0)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return time.Unix(n, 0)
		}
	}
	return time.Time{}
}

// Get returns the named claim value.
func (c Claims) Get(name string) (any, bool) {
	v, ok := c.m[name]
	return v, ok
}

// StringList returns the named claim as a list of strings: a string value
// becomes a single-element list, array values keep their string elements,
// and an absent claim returns nil. This satisfies the claims mapper's
// ClaimReader contract.
func (c Claims) StringList(name string) []string {
	switch v := c.m[name].(type) {
	case string:
		return []string{v}
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Decode unmarshals the full claim set into ref via a JSON round-trip.
func (c Claims) Decode(ref any) error {
	b, err := json.Marshal(c.m)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}
