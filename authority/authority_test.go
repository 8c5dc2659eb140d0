package authority

import (
	"reflect"
	"testing"
)

// mapClaims adapts a plain map to the ClaimReader contract for tests.
type mapClaims map[string]any

func (m mapClaims) StringList(name string) []string {
	switch v := m[name].(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		var out []string
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func TestMapper_GroupsAndScopes(t *testing.T) {
	m := NewMapper(Config{})
	got := m.Map(mapClaims{
		"groups": []string{"staff", "admin"},
		"scp":    "read write",
	})
	want := []string{"ROLE_admin", "ROLE_read", "ROLE_staff", "ROLE_write"}
	if !reflect.DeepEqual(got.Values(), want) {
		t.Fatalf("authorities = %v, want %v", got.Values(), want)
	}
}

func TestMapper_AbsentClaimsYieldEmptySet(t *testing.T) {
	m := NewMapper(Config{})
	got := m.Map(mapClaims{"sub": "user-1"})
	if got == nil {
		t.Fatal("set must be non-nil even when no claims contribute")
	}
	if got.Len() != 0 {
		t.Fatalf("want empty set, got %v", got.Values())
	}
}

func TestMapper_NilClaims(t *testing.T) {
	m := NewMapper(Config{})
	if got := m.Map(nil); got == nil || got.Len() != 0 {
		t.Fatalf("nil claims must map to empty set, got %v", got)
	}
}

func TestMapper_RenamedGroupClaim(t *testing.T) {
	m := NewMapper(Config{GroupsClaim: "roles"})
	got := m.Map(mapClaims{
		"roles":  []string{"operator"},
		"groups": []string{"ignored"},
	})
	if !got.Has("ROLE_operator") {
		t.Fatalf("want ROLE_operator in %v", got.Values())
	}
	if got.Has("ROLE_ignored") {
		t.Fatalf("default claim should not be read when renamed: %v", got.Values())
	}
}

func TestMapper_EmptyPrefix(t *testing.T) {
	m := NewMapper(Config{}.NoPrefix())
	got := m.Map(mapClaims{"scp": "read"})
	if !got.Has("read") {
		t.Fatalf("want unprefixed authority, got %v", got.Values())
	}
}

func TestMapper_CustomPrefix(t *testing.T) {
	m := NewMapper(Config{Prefix: "SCOPE_"})
	got := m.Map(mapClaims{"scp": "read"})
	if !got.Has("SCOPE_read") {
		t.Fatalf("want SCOPE_read, got %v", got.Values())
	}
}

func TestMapper_Deduplicates(t *testing.T) {
	m := NewMapper(Config{})
	got := m.Map(mapClaims{
		"groups": []string{"read", "read"},
		"scp":    "read read",
	})
	if got.Len() != 1 {
		t.Fatalf("want 1 distinct authority, got %v", got.Values())
	}
}

func TestMapper_Idempotent(t *testing.T) {
	m := NewMapper(Config{})
	claims := mapClaims{"groups": []any{"a", "b"}, "scp": "c d"}
	first := m.Map(claims).Values()
	second := m.Map(claims).Values()
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("mapping is not idempotent: %v vs %v", first, second)
	}
}

func TestSet_Basics(t *testing.T) {
	s := NewSet("ROLE_a")
	s.Add("ROLE_b")
	s.Add("") // ignored
	if !s.Has("ROLE_a") || !s.Has("ROLE_b") || s.Has("ROLE_c") {
		t.Fatalf("membership wrong: %v", s.Values())
	}
	if s.Len() != 2 {
		t.Fatalf("len = %d, want 2", s.Len())
	}
}
