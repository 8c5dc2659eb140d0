// Package authority derives normalized authority strings from the claims of
// a validated access token. An authority is a flat permission/role label
// ("ROLE_admin", "ROLE_read") that downstream policy evaluation consumes; the
// mapper here is the only place claim shapes (string vs array, space-delimited
// scopes) are interpreted.
package authority

import (
	"sort"
	"strings"
)

// Default claim names and prefix applied when a Config field is left empty.
const (
	DefaultGroupsClaim = "groups"
	DefaultScopeClaim  = "scp"
	DefaultPrefix      = "ROLE_"
)

// Config names the claims that contribute authorities and the prefix applied
// to every derived authority. Override GroupsClaim to map a differently named
// claim (e.g. "roles"); set Prefix to an explicit empty string via
// NoPrefix to disable prefixing.
//
// A zero value maps "groups" plus "scp" with the "ROLE_" prefix.
type Config struct {
	// GroupsClaim is the claim carrying group/role membership.
	GroupsClaim string
	// ScopeClaim is the claim carrying OAuth scopes. String values are
	// split on whitespace before mapping.
	ScopeClaim string
	// Prefix is prepended to every derived authority. See NoPrefix.
	Prefix string
	// noPrefix records an explicit request for unprefixed authorities so a
	// zero Prefix can still mean "use the default".
	noPrefix bool
}

// NoPrefix returns a copy of c that produces unprefixed authorities.
func (c Config) NoPrefix() Config {
	c.Prefix = ""
	c.noPrefix = true
	return c
}

func (c Config) normalized() Config {
	if c.GroupsClaim == "" {
		c.GroupsClaim = DefaultGroupsClaim
	}
	if c.ScopeClaim == "" {
		c.ScopeClaim = DefaultScopeClaim
	}
	if c.Prefix == "" && !c.noPrefix {
		c.Prefix = DefaultPrefix
	}
	return c
}

// ClaimReader is the minimal view of a token payload the mapper needs. The
// token package's Claims type satisfies it.
type ClaimReader interface {
	// StringList returns the named claim as a list of strings. A string
	// value becomes a single-element list; an absent claim returns nil.
	StringList(name string) []string
}

// Mapper converts token claims into an authority Set. Mapping is pure and
// idempotent: the same payload always yields the same set.
type Mapper struct {
	cfg Config
}

// NewMapper builds a Mapper, applying defaults for unset Config fields.
func NewMapper(cfg Config) *Mapper {
	return &Mapper{cfg: cfg.normalized()}
}

// Map reads the configured claims and returns the union of their values,
// prefixed and deduplicated. Absent or empty claims contribute nothing; the
// returned Set is never nil.
func (m *Mapper) Map(claims ClaimReader) Set {
	out := NewSet()
	if claims == nil {
		return out
	}
	for _, name := range []string{m.cfg.GroupsClaim, m.cfg.ScopeClaim} {
		for _, v := range claims.StringList(name) {
			// Scope claims are frequently a single space-delimited string
			// ("read write"); Fields also drops empty entries.
			for _, f := range strings.Fields(v) {
				out.Add(m.cfg.Prefix + f)
			}
		}
	}
	return out
}

// Set is a deduplicated collection of authority strings. The zero value is
// not usable; construct via NewSet.
type Set map[string]struct{}

// NewSet builds a Set from the provided authorities.
func NewSet(authorities ...string) Set {
	s := make(Set, len(authorities))
	for _, a := range authorities {
		s.Add(a)
	}
	return s
}

// Add inserts an authority. Empty strings are ignored.
func (s Set) Add(authority string) {
	if authority == "" {
		return
	}
	s[authority] = struct{}{}
}

// Has reports whether the set contains the exact authority string.
// Comparison is case-sensitive.
func (s Set) Has(authority string) bool {
	_, ok := s[authority]
	return ok
}

// Len returns the number of distinct authorities.
func (s Set) Len() int { return len(s) }

// Values returns the authorities in sorted order.
func (s Set) Values() []string {
	out := make([]string, 0, len(s))
	for a := range s {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}
