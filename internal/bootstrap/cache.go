package bootstrap

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/Adam151997/Y-CRM-sub000/internal/broker"
	"github.com/Adam151997/Y-CRM-sub000/internal/cache"
	"github.com/Adam151997/Y-CRM-sub000/internal/config"
)

// initializeStatusCache creates the cache that backs connection status
// reads. Memory for single-instance deployments, Redis via rueidis when
// several instances share state.
func initializeStatusCache(cfg *config.Config) (cache.Cache[broker.StatusSnapshot], error) {
	switch cfg.CacheBackend {
	case config.CacheBackendRedis:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		c, err := cache.NewRueidisCache[broker.StatusSnapshot](
			ctx,
			cfg.RedisAddr,
			cfg.RedisPassword,
			cfg.RedisDB,
			"connections:",
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize redis status cache: %w", err)
		}
		log.Printf("[Bootstrap] status cache: redis at %s (ttl=%s)", cfg.RedisAddr, cfg.CacheTTL)
		return c, nil

	default:
		log.Printf("[Bootstrap] status cache: in-memory (ttl=%s)", cfg.CacheTTL)
		return cache.NewMemoryCache[broker.StatusSnapshot](), nil
	}
}
