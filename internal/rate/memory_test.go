package rate

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLimiter_AllowsUpToMax(t *testing.T) {
	l := NewMemoryLimiter(time.Minute)
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		res, err := l.Allow(ctx, "k1", 5)
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if !res.Allowed {
			t.Fatalf("hit %d should be allowed", i)
		}
		if res.Remaining != 5-i {
			t.Fatalf("hit %d remaining = %d, want %d", i, res.Remaining, 5-i)
		}
	}

	res, err := l.Allow(ctx, "k1", 5)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if res.Allowed {
		t.Fatal("6th hit in window must be denied")
	}
	if res.RetryAfter <= 0 {
		t.Fatal("denied result must carry RetryAfter")
	}
}

func TestMemoryLimiter_KeysAreIndependent(t *testing.T) {
	l := NewMemoryLimiter(time.Minute)
	ctx := context.Background()

	if res, _ := l.Allow(ctx, "a", 1); !res.Allowed {
		t.Fatal("first hit on a must pass")
	}
	if res, _ := l.Allow(ctx, "a", 1); res.Allowed {
		t.Fatal("second hit on a must be denied")
	}
	if res, _ := l.Allow(ctx, "b", 1); !res.Allowed {
		t.Fatal("b has its own bucket")
	}
}
