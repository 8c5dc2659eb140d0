// Package policy evaluates declarative authorization requirements against an
// authenticated caller's authority set. Policies are built at startup —
// from constructors or a YAML policy table — and are immutable afterward;
// evaluation is pure and never returns an error. All configuration problems
// surface at load time as ErrInvalidConfig, never at request time.
package policy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ggoodman/bearergate/authority"
)

// Input carries the facts a policy may consult. Authorities is never nil for
// an authenticated caller; anonymous callers have Authenticated == false and
// an empty set.
type Input struct {
	Authenticated bool
	Subject       string
	Authorities   authority.Set
}

// Policy is a required-authority predicate attached to a protected target.
// Implementations are immutable and safe for concurrent use.
type Policy interface {
	// Allows reports whether the caller satisfies the policy.
	Allows(in Input) bool

	// RequiresAuthentication distinguishes Any (anonymous callers welcome)
	// from every other policy, so the gate can reject missing credentials
	// with 401 rather than evaluating further.
	RequiresAuthentication() bool

	// String renders the policy for logs and configuration errors.
	String() string
}

// Any returns the policy that allows every caller, authenticated or not.
func Any() Policy { return anyPolicy{} }

// Authenticated returns the policy satisfied by any valid authentication
// context, even one with an empty authority set.
func Authenticated() Policy { return authenticatedPolicy{} }

// HasAuthority requires the exact authority string to be present.
func HasAuthority(name string) Policy { return hasAuthority(name) }

// AnyOf requires at least one of the named authorities.
func AnyOf(names ...string) Policy {
	return anyOf(append([]string(nil), names...))
}

// AllOf requires every one of the named authorities.
func AllOf(names ...string) Policy {
	return allOf(append([]string(nil), names...))
}

// And combines policies conjunctively.
func And(ps ...Policy) Policy {
	return combined{op: "and", ps: append([]Policy(nil), ps...)}
}

// Or combines policies disjunctively.
func Or(ps ...Policy) Policy {
	return combined{op: "or", ps: append([]Policy(nil), ps...)}
}

// Not negates a policy. The result still requires authentication.
func Not(p Policy) Policy { return negated{p: p} }

type anyPolicy struct{}

func (anyPolicy) Allows(Input) bool            { return true }
func (anyPolicy) RequiresAuthentication() bool { return false }
func (anyPolicy) String() string               { return "any" }

type authenticatedPolicy struct{}

func (authenticatedPolicy) Allows(in Input) bool         { return in.Authenticated }
func (authenticatedPolicy) RequiresAuthentication() bool { return true }
func (authenticatedPolicy) String() string               { return "authenticated" }

type hasAuthority string

func (h hasAuthority) Allows(in Input) bool {
	return in.Authenticated && in.Authorities.Has(string(h))
}
func (hasAuthority) RequiresAuthentication() bool { return true }
func (h hasAuthority) String() string             { return fmt.Sprintf("hasAuthority(%q)", string(h)) }

type anyOf []string

func (a anyOf) Allows(in Input) bool {
	if !in.Authenticated {
		return false
	}
	for _, name := range a {
		if in.Authorities.Has(name) {
			return true
		}
	}
	return false
}
func (anyOf) RequiresAuthentication() bool { return true }
func (a anyOf) String() string             { return "anyOf(" + quoteList(a) + ")" }

type allOf []string

func (a allOf) Allows(in Input) bool {
	if !in.Authenticated {
		return false
	}
	for _, name := range a {
		if !in.Authorities.Has(name) {
			return false
		}
	}
	return true
}
func (allOf) RequiresAuthentication() bool { return true }
func (a allOf) String() string             { return "allOf(" + quoteList(a) + ")" }

type combined struct {
	op string
	ps []Policy
}

func (c combined) Allows(in Input) bool {
	if c.op == "and" {
		for _, p := range c.ps {
			if !p.Allows(in) {
				return false
			}
		}
		return true
	}
	for _, p := range c.ps {
		if p.Allows(in) {
			return true
		}
	}
	return false
}

func (c combined) RequiresAuthentication() bool {
	// A combination is anonymous-friendly only if every branch is: an Or of
	// Any with anything must still admit anonymous callers.
	if c.op == "or" {
		for _, p := range c.ps {
			if !p.RequiresAuthentication() {
				return false
			}
		}
		return true
	}
	for _, p := range c.ps {
		if p.RequiresAuthentication() {
			return true
		}
	}
	return false
}

func (c combined) String() string {
	parts := make([]string, len(c.ps))
	for i, p := range c.ps {
		parts[i] = p.String()
	}
	return c.op + "(" + strings.Join(parts, ", ") + ")"
}

type negated struct{ p Policy }

func (n negated) Allows(in Input) bool {
	return in.Authenticated && !n.p.Allows(in)
}
func (negated) RequiresAuthentication() bool { return true }
func (n negated) String() string             { return "not(" + n.p.String() + ")" }

func quoteList(names []string) string {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	parts := make([]string, len(sorted))
	for i, n := range sorted {
		parts[i] = fmt.Sprintf("%q", n)
	}
	return strings.Join(parts, ", ")
}
