package status

import (
	"context"
	"testing"
)

func TestKey(t *testing.T) {
	got := Key("u1", "course-v1:edX+X+2024", "course.tar.gz")
	want := "import_status:u1|course-v1:edX+X+2024|course.tar.gz"
	if got != want {
		t.Fatalf("Key: %q want %q", got, want)
	}
}

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache()

	stage, err := cache.Get(ctx, "u1", "c1", "f1")
	if err != nil || stage != StageIdle {
		t.Fatalf("unset entry: %d %v", stage, err)
	}

	for _, s := range []int{StageExtracting, StageValidating, -StageImporting, StageSuccess} {
		if err := cache.Set(ctx, "u1", "c1", "f1", s); err != nil {
			t.Fatalf("Set(%d): %v", s, err)
		}
		got, err := cache.Get(ctx, "u1", "c1", "f1")
		if err != nil || got != s {
			t.Fatalf("Get after Set(%d): %d %v", s, got, err)
		}
	}

	// Entries are keyed per user, course and filename.
	if stage, _ := cache.Get(ctx, "u2", "c1", "f1"); stage != StageIdle {
		t.Fatalf("cross-user leak: %d", stage)
	}
	if stage, _ := cache.Get(ctx, "u1", "c1", "f2"); stage != StageIdle {
		t.Fatalf("cross-file leak: %d", stage)
	}
}
