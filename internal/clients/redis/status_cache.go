package redis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/courseport-backend/internal/platform/logger"
	"github.com/yungbote/courseport-backend/internal/status"
)

// statusTTL bounds how long a finished import's stage lingers.
const statusTTL = 24 * time.Hour

type statusCache struct {
	log *logger.Logger
	rdb *goredis.Client
}

// NewStatusCache connects to REDIS_ADDR. Callers fall back to the in-process
// cache when the env var is unset.
func NewStatusCache(log *logger.Logger) (status.Cache, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &statusCache{log: log.With("service", "RedisStatusCache"), rdb: rdb}, nil
}

func (c *statusCache) Set(ctx context.Context, user, courseKey, filename string, stage int) error {
	return c.rdb.Set(ctx, status.Key(user, courseKey, filename), stage, statusTTL).Err()
}

func (c *statusCache) Get(ctx context.Context, user, courseKey, filename string) (int, error) {
	n, err := c.rdb.Get(ctx, status.Key(user, courseKey, filename)).Int()
	if errors.Is(err, goredis.Nil) {
		return status.StageIdle, nil
	}
	if err != nil {
		return status.StageIdle, err
	}
	return n, nil
}
