package status

import (
	"context"
	"fmt"
	"sync"
)

// Import stages. A negative value encodes the stage that failed.
const (
	StageIdle       = 0
	StageExtracting = 1
	StageValidating = 2
	StageImporting  = 3
	StageSuccess    = 4
)

// Cache publishes import progress for polling readers. Writes are
// best-effort; a failed publish never fails the import itself.
type Cache interface {
	Set(ctx context.Context, user, courseKey, filename string, stage int) error
	Get(ctx context.Context, user, courseKey, filename string) (int, error)
}

func Key(user, courseKey, filename string) string {
	return fmt.Sprintf("import_status:%s|%s|%s", user, courseKey, filename)
}

// MemoryCache is the process-local fallback used when redis is not
// configured.
type MemoryCache struct {
	mu     sync.RWMutex
	stages map[string]int
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{stages: make(map[string]int)}
}

func (c *MemoryCache) Set(ctx context.Context, user, courseKey, filename string, stage int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stages[Key(user, courseKey, filename)] = stage
	return nil
}

func (c *MemoryCache) Get(ctx context.Context, user, courseKey, filename string) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stages[Key(user, courseKey, filename)], nil
}
