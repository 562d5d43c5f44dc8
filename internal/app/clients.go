package app

import (
	"os"
	"strings"

	redisclient "github.com/yungbote/courseport-backend/internal/clients/redis"
	"github.com/yungbote/courseport-backend/internal/platform/logger"
	"github.com/yungbote/courseport-backend/internal/status"
)

// resolveStatusCache uses redis when REDIS_ADDR is set so import progress
// survives restarts and is visible across replicas. Without it a single
// in-process cache is enough.
func resolveStatusCache(log *logger.Logger) status.Cache {
	if strings.TrimSpace(os.Getenv("REDIS_ADDR")) == "" {
		return status.NewMemoryCache()
	}
	cache, err := redisclient.NewStatusCache(log)
	if err != nil {
		log.Warn("Redis status cache unavailable, falling back to memory", "error", err)
		return status.NewMemoryCache()
	}
	return cache
}
