package policy

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidConfig indicates malformed policy configuration. It is returned
// from table construction and file loading; startup should abort on it.
var ErrInvalidConfig = errors.New("policy: invalid configuration")

// Binding attaches a Policy to a route target. A route is an optional HTTP
// method followed by a path: "GET /api/reports" or "/api/admin/". A path
// ending in "/" matches by prefix; otherwise it matches exactly.
type Binding struct {
	Route  string
	Policy Policy

	method string
	path   string
	prefix bool
}

// Table maps request targets to policies. Tables are immutable once built;
// hot reload installs a whole new Table.
type Table struct {
	bindings []Binding
	fallback Policy
}

// NewTable validates and indexes the bindings. A nil fallback defaults to
// Authenticated, so unmatched targets fail closed.
func NewTable(bindings []Binding, fallback Policy) (*Table, error) {
	if fallback == nil {
		fallback = Authenticated()
	}
	out := make([]Binding, len(bindings))
	seen := make(map[string]struct{}, len(bindings))
	for i, b := range bindings {
		if b.Policy == nil {
			return nil, fmt.Errorf("%w: route %q has no policy", ErrInvalidConfig, b.Route)
		}
		method, path, prefix, err := parseRoute(b.Route)
		if err != nil {
			return nil, err
		}
		key := method + " " + path
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: duplicate route %q", ErrInvalidConfig, b.Route)
		}
		seen[key] = struct{}{}
		b.method, b.path, b.prefix = method, path, prefix
		out[i] = b
	}
	// Longest path first so Resolve can take the first match; method-bound
	// bindings sort ahead of method-agnostic ones at equal length.
	sort.SliceStable(out, func(i, j int) bool {
		if len(out[i].path) != len(out[j].path) {
			return len(out[i].path) > len(out[j].path)
		}
		return out[i].method != "" && out[j].method == ""
	})
	return &Table{bindings: out, fallback: fallback}, nil
}

// Resolve returns the policy governing the given method and path. The most
// specific matching binding wins; with no match the table's fallback policy
// applies.
func (t *Table) Resolve(method, path string) Policy {
	for _, b := range t.bindings {
		if b.method != "" && b.method != method {
			continue
		}
		if b.prefix {
			if strings.HasPrefix(path, b.path) {
				return b.Policy
			}
			continue
		}
		if path == b.path {
			return b.Policy
		}
	}
	return t.fallback
}

// Fallback returns the policy applied to unmatched targets.
func (t *Table) Fallback() Policy { return t.fallback }

// Len returns the number of bindings.
func (t *Table) Len() int { return len(t.bindings) }

func parseRoute(route string) (method, path string, prefix bool, err error) {
	route = strings.TrimSpace(route)
	if route == "" {
		return "", "", false, fmt.Errorf("%w: empty route", ErrInvalidConfig)
	}
	if !strings.HasPrefix(route, "/") {
		parts := strings.SplitN(route, " ", 2)
		if len(parts) != 2 || !strings.HasPrefix(strings.TrimSpace(parts[1]), "/") {
			return "", "", false, fmt.Errorf("%w: route %q is not \"[METHOD] /path\"", ErrInvalidConfig, route)
		}
		method = strings.ToUpper(parts[0])
		route = strings.TrimSpace(parts[1])
	}
	return method, route, strings.HasSuffix(route, "/"), nil
}
