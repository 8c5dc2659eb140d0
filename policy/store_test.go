package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writePolicyFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write policy file: %v", err)
	}
}

func waitFor(t *testing.T, d time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestStore_ReplaceIsAtomic(t *testing.T) {
	t1 := mustTable(t, []Binding{{Route: "/a", Policy: Any()}}, nil)
	t2 := mustTable(t, []Binding{{Route: "/a", Policy: Authenticated()}}, nil)

	s, err := NewStore(t1)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if got := s.Resolve("GET", "/a").String(); got != "any" {
		t.Fatalf("initial policy = %s", got)
	}
	s.Replace(t2)
	if got := s.Resolve("GET", "/a").String(); got != "authenticated" {
		t.Fatalf("replaced policy = %s", got)
	}
	s.Replace(nil) // ignored
	if s.Current() != t2 {
		t.Fatal("nil replace must keep current table")
	}
}

func TestStore_WatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policies.yaml")
	writePolicyFile(t, path, "targets:\n  - route: /a\n    policy: any\n")

	s, err := NewStoreFromFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Watch(ctx, path, nil)
	}()

	// Give the watcher a moment to register before mutating the file.
	time.Sleep(50 * time.Millisecond)
	writePolicyFile(t, path, "targets:\n  - route: /a\n    authority: ROLE_admin\n")

	if !waitFor(t, 2*time.Second, func() bool {
		return s.Resolve("GET", "/a").String() == `hasAuthority("ROLE_admin")`
	}) {
		t.Fatalf("policy table was not reloaded; current = %s", s.Resolve("GET", "/a"))
	}

	// A broken rewrite keeps the last good table.
	writePolicyFile(t, path, "targets:\n  - route: /a\n    policy: bogus\n")
	time.Sleep(200 * time.Millisecond)
	if got := s.Resolve("GET", "/a").String(); got != `hasAuthority("ROLE_admin")` {
		t.Fatalf("broken reload must keep previous table, got %s", got)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop on context cancellation")
	}
}

func TestNewStoreFromFile_FailsFast(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policies.yaml")
	writePolicyFile(t, path, "targets:\n  - route: /a\n    policy: bogus\n")

	if _, err := NewStoreFromFile(path); err == nil {
		t.Fatal("want startup failure for invalid policy file")
	}
}
