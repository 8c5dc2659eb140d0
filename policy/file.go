package policy

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// bindingSpec is the YAML shape of a single target binding. Exactly one of
// the policy fields must be set.
type bindingSpec struct {
	Route     string   `yaml:"route"`
	Policy    string   `yaml:"policy"`    // "any" | "authenticated"
	Authority string   `yaml:"authority"` // single required authority
	AnyOf     []string `yaml:"anyOf"`
	AllOf     []string `yaml:"allOf"`
	Expr      string   `yaml:"expr"`
}

type fileSpec struct {
	Default *bindingSpec  `yaml:"default"`
	Targets []bindingSpec `yaml:"targets"`
}

// LoadFile reads a YAML policy table. Any malformed binding — unknown
// fields, zero or multiple policy fields, a bad expression — fails the whole
// load with ErrInvalidConfig so misconfiguration is caught at startup.
//
// Example:
//
//	default:
//	  policy: authenticated
//	targets:
//	  - route: "GET /healthz"
//	    policy: any
//	  - route: "GET /api/reports"
//	    anyOf: ["ROLE_staff", "ROLE_admin"]
//	  - route: "/api/admin/"
//	    allOf: ["ROLE_admin"]
//	  - route: "POST /api/exports"
//	    expr: 'hasAuthority("ROLE_export") && !hasAuthority("ROLE_restricted")'
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrInvalidConfig, path, err)
	}
	return Parse(data)
}

// Parse builds a Table from YAML policy configuration.
func Parse(data []byte) (*Table, error) {
	var spec fileSpec
	if err := yaml.UnmarshalWithOptions(data, &spec, yaml.Strict()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	var fallback Policy
	if spec.Default != nil {
		if spec.Default.Route != "" {
			return nil, fmt.Errorf("%w: default binding must not name a route", ErrInvalidConfig)
		}
		p, err := spec.Default.policy()
		if err != nil {
			return nil, fmt.Errorf("default: %w", err)
		}
		fallback = p
	}

	bindings := make([]Binding, 0, len(spec.Targets))
	for _, bs := range spec.Targets {
		if bs.Route == "" {
			return nil, fmt.Errorf("%w: target binding missing route", ErrInvalidConfig)
		}
		p, err := bs.policy()
		if err != nil {
			return nil, fmt.Errorf("route %q: %w", bs.Route, err)
		}
		bindings = append(bindings, Binding{Route: bs.Route, Policy: p})
	}
	return NewTable(bindings, fallback)
}

func (bs *bindingSpec) policy() (Policy, error) {
	var set int
	for _, present := range []bool{
		bs.Policy != "",
		bs.Authority != "",
		len(bs.AnyOf) > 0,
		len(bs.AllOf) > 0,
		bs.Expr != "",
	} {
		if present {
			set++
		}
	}
	if set != 1 {
		return nil, fmt.Errorf("%w: exactly one of policy/authority/anyOf/allOf/expr required", ErrInvalidConfig)
	}

	switch {
	case bs.Policy != "":
		switch bs.Policy {
		case "any":
			return Any(), nil
		case "authenticated":
			return Authenticated(), nil
		default:
			return nil, fmt.Errorf("%w: unknown policy %q", ErrInvalidConfig, bs.Policy)
		}
	case bs.Authority != "":
		return HasAuthority(bs.Authority), nil
	case len(bs.AnyOf) > 0:
		return AnyOf(bs.AnyOf...), nil
	case len(bs.AllOf) > 0:
		return AllOf(bs.AllOf...), nil
	default:
		return Expression(bs.Expr)
	}
}
