package main

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"

	ccfg "github.com/linnemanlabs/caseinv/internal/cfg"
	"github.com/linnemanlabs/caseinv/internal/enrich"
	"github.com/linnemanlabs/caseinv/internal/postgres"
	"github.com/linnemanlabs/caseinv/internal/triage"
	"github.com/linnemanlabs/caseinv/internal/triage/memstore"
	"github.com/linnemanlabs/caseinv/internal/triage/pgstore"
)

// memoryCacheEntries bounds the in-process enrichment cache.
const memoryCacheEntries = 4096

// newFlowStore returns the postgres store when a database URL is configured,
// otherwise an in-memory store. The returned func releases it.
func newFlowStore(ctx context.Context, c *ccfg.Config, L log.Logger) (triage.Store, func(), error) {
	if c.DatabaseURL == "" {
		L.Info(ctx, "using in-memory store (no database-url configured)")
		return memstore.New(), func() {}, nil
	}

	pool, err := postgres.NewPool(ctx, c.DatabaseURL, postgres.PoolOptions{
		SlowQuery: time.Duration(c.SlowQueryMillis) * time.Millisecond,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("postgres pool: %w", err)
	}
	store, err := pgstore.New(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pgstore init: %w", err)
	}
	L.Info(ctx, "using postgres store")
	return store, pool.Close, nil
}

// newEnricher builds the address enrichment client, sharing its cache through
// Redis when configured.
func newEnricher(ctx context.Context, c *ccfg.Config, L log.Logger, hooks enrich.Hooks) (*enrich.Client, func(), error) {
	var (
		cache   enrich.Cache
		release = func() {}
	)
	if c.RedisURL != "" {
		rc, err := enrich.NewRedisCache(ctx, c.RedisURL, c.EnrichCacheTTL)
		if err != nil {
			return nil, nil, fmt.Errorf("enrichment cache: %w", err)
		}
		cache = rc
		release = func() {
			if err := rc.Close(); err != nil {
				L.Warn(context.Background(), "failed to close redis cache", "error", err)
			}
		}
		L.Info(ctx, "enrichment cache", "type", "redis")
	} else {
		cache = enrich.NewMemoryCache(c.EnrichCacheTTL, memoryCacheEntries)
		L.Info(ctx, "enrichment cache", "type", "memory")
	}

	client := enrich.New(enrich.Options{
		Endpoint:     c.IPInfoEndpoint,
		Token:        c.IPInfoToken,
		RateLimitRPS: c.EnrichRateRPS,
		Cache:        cache,
		Logger:       L,
		Hooks:        hooks,
	})
	return client, release, nil
}

type flowWaiter interface {
	Wait()
}

// waitFlows blocks until running flows finish or ctx ends. Flows are never
// interrupted; an expired ctx only stops the wait.
func waitFlows(ctx context.Context, w flowWaiter) error {
	done := make(chan struct{})
	go func() {
		w.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("flows still running: %w", ctx.Err())
	}
}
