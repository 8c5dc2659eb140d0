package policy

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// exprEnv is the evaluation environment visible to expression policies.
// hasAuthority is the primary predicate; subject, authenticated, and the raw
// authorities list are available for more elaborate rules.
func exprEnv(in Input) map[string]any {
	return map[string]any{
		"subject":       in.Subject,
		"authenticated": in.Authenticated,
		"authorities":   in.Authorities.Values(),
		"hasAuthority":  func(name string) bool { return in.Authorities.Has(name) },
	}
}

// Expression compiles a boolean authority expression into a Policy. The
// expression must evaluate to a bool; compilation errors are configuration
// errors and surface here, never at request time.
//
//	policy.Expression(`hasAuthority("ROLE_admin") || (hasAuthority("ROLE_staff") && hasAuthority("ROLE_audit"))`)
func Expression(src string) (Policy, error) {
	if src == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidConfig)
	}
	prog, err := expr.Compile(src, expr.Env(exprEnv(Input{})), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("%w: compile expression %q: %v", ErrInvalidConfig, src, err)
	}
	return &expression{src: src, prog: prog}, nil
}

// MustExpression is Expression for statically known sources; it panics on
// compile failure.
func MustExpression(src string) Policy {
	p, err := Expression(src)
	if err != nil {
		panic(err)
	}
	return p
}

type expression struct {
	src  string
	prog *vm.Program
}

func (e *expression) Allows(in Input) bool {
	if !in.Authenticated {
		return false
	}
	out, err := expr.Run(e.prog, exprEnv(in))
	if err != nil {
		// Compilation pinned the result type to bool; a runtime failure
		// still must deny rather than propagate.
		return false
	}
	b, ok := out.(bool)
	return ok && b
}

func (*expression) RequiresAuthentication() bool { return true }
func (e *expression) String() string             { return fmt.Sprintf("expr(%q)", e.src) }
