package keys

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStore_ReplaceDropsStale(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for _, kid := range []string{"old-1", "old-2"} {
		if err := s.Put(ctx, SigningKey{KeyID: kid, Key: struct{}{}}, time.Minute); err != nil {
			t.Fatalf("put %s: %v", kid, err)
		}
	}
	err := s.Replace(ctx, []SigningKey{
		{KeyID: "old-2", Key: struct{}{}},
		{KeyID: "new-1", Key: struct{}{}},
	}, time.Minute)
	if err != nil {
		t.Fatalf("replace: %v", err)
	}

	if _, ok, _ := s.Get(ctx, "old-1"); ok {
		t.Fatal("stale key survived replace")
	}
	for _, kid := range []string{"old-2", "new-1"} {
		if _, ok, _ := s.Get(ctx, kid); !ok {
			t.Fatalf("fresh key %s missing after replace", kid)
		}
	}
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	now := time.Now()
	s.now = func() time.Time { return now }

	if err := s.Put(ctx, SigningKey{KeyID: "kid", Key: struct{}{}}, time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "kid"); !ok {
		t.Fatal("fresh entry must be a hit")
	}

	now = now.Add(2 * time.Minute)
	if _, ok, _ := s.Get(ctx, "kid"); ok {
		t.Fatal("expired entry must behave as a miss")
	}
}
