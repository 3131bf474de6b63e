package commands

import (
	"time"

	"github.com/mangatek/kumo/internal/cache"
	"github.com/mangatek/kumo/internal/config"
	"github.com/mangatek/kumo/internal/fetch"
	"github.com/mangatek/kumo/internal/identity"
)

// buildEngine assembles the fetch engine from configuration: identity pool,
// response cache and the enabled strategy executors in ascending cost order.
func buildEngine(cfg config.Config) (*fetch.Engine, error) {
	seed := time.Now().UnixNano()

	entries := identity.Defaults()
	if cfg.IdentitiesFile != "" {
		loaded, err := identity.LoadEntries(cfg.IdentitiesFile)
		if err != nil {
			return nil, err
		}
		entries = loaded
	}
	if cfg.Proxy != "" {
		for i := range entries {
			if entries[i].Proxy == "" {
				entries[i].Proxy = cfg.Proxy
			}
		}
	}
	pool, err := identity.NewPool(entries, seed)
	if err != nil {
		return nil, err
	}

	executors := []fetch.Executor{fetch.NewStaticFetcher()}
	if cfg.RenderEnabled {
		rc := fetch.DefaultRenderConfig()
		rc.MaxSessions = int64(cfg.RenderSessions)
		rc.ChromePath = cfg.ChromePath
		executors = append(executors, fetch.NewRenderFetcher(rc))
	}
	if cfg.SolverEnabled {
		sc := fetch.DefaultSolverConfig()
		sc.PoolSize = cfg.SolverPoolSize
		executors = append(executors, fetch.NewSolverFetcher(sc))
	}

	engineCfg := fetch.Config{
		Hosts:        cfg.Hosts,
		AllowedHosts: cfg.AllowedHosts,
		Timeout:      cfg.Timeout,
		PerAttempt:   cfg.PerAttempt,
		Retries:      cfg.Retries,
		Backoff: fetch.Backoff{
			Base:       cfg.BackoffBase,
			Multiplier: cfg.BackoffMultiplier,
			Cap:        cfg.BackoffCap,
		},
		CacheTTL:      cfg.CacheTTL,
		MinBodyBytes:  cfg.MinBodyBytes,
		MaxConcurrent: int64(cfg.MaxConcurrent),
	}

	return fetch.NewEngine(engineCfg, executors, pool, cache.New(cfg.CacheCapacity, cfg.CacheTTL))
}
