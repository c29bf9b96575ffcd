/**
 * Background Maintenance (spec §4.7): three independent periodic tasks that
 * never block a request path.
 *
 * Grounded on the teacher's ticker-free style (it runs one loop per worker
 * goroutine, no scheduled housekeeping) generalized here into a one-shot
 * startup sweep plus two explicit time.Ticker loops, the idiomatic Go shape
 * for this kind of task and the one the rest of the pack uses for periodic
 * sweeps.
 */

package maintenance

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/docprocd/docprocd/internal/normalize"
	"github.com/docprocd/docprocd/internal/store"
)

// TokenCleaner is the subset of orchestrator.Runtime the SmartToken sweep
// depends on.
type TokenCleaner interface {
	CleanupExpired() int
}

// Config controls the interval of each periodic task.
type Config struct {
	NormalizedCacheMaxAge     time.Duration
	NormalizedCacheGCInterval time.Duration
	SmartTokenCleanupInterval time.Duration
}

// Runner owns the startup sweep and the two periodic loops. Start them with
// Run, which blocks until ctx is cancelled.
type Runner struct {
	cache  *normalize.Cache
	guard  *store.BatchGuard
	tokens TokenCleaner
	cfg    Config
	logger *zap.Logger
}

// NewRunner wires a maintenance Runner. Defaults: GC every 30 minutes,
// SmartToken cleanup every 30 seconds, max normalized-cache age 30 days.
func NewRunner(cache *normalize.Cache, guard *store.BatchGuard, tokens TokenCleaner, cfg Config, logger *zap.Logger) *Runner {
	if cfg.NormalizedCacheGCInterval <= 0 {
		cfg.NormalizedCacheGCInterval = 30 * time.Minute
	}
	if cfg.SmartTokenCleanupInterval <= 0 {
		cfg.SmartTokenCleanupInterval = 30 * time.Second
	}
	if cfg.NormalizedCacheMaxAge <= 0 {
		cfg.NormalizedCacheMaxAge = 30 * 24 * time.Hour
	}
	return &Runner{cache: cache, guard: guard, tokens: tokens, cfg: cfg, logger: logger}
}

// Run performs the startup orphan sweep once, then runs the two ticker
// loops until ctx is cancelled. Intended to be launched in its own
// goroutine by the serve command.
func (r *Runner) Run(ctx context.Context) {
	r.startupSweep(ctx)

	gcTicker := time.NewTicker(r.cfg.NormalizedCacheGCInterval)
	defer gcTicker.Stop()

	tokenTicker := time.NewTicker(r.cfg.SmartTokenCleanupInterval)
	defer tokenTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-gcTicker.C:
			r.runCacheGC()
		case <-tokenTicker.C:
			r.runTokenCleanup()
		}
	}
}

// startupSweep removes empty batches in a processing substatus, recovering
// from a crash/restart (spec §4.5, §4.7 task 3). Runs once, at Run's start.
func (r *Runner) startupSweep(ctx context.Context) {
	removed, err := r.guard.StartupSweep(ctx)
	if err != nil {
		r.logger.Error("startup orphan sweep failed", zap.Error(err))
		return
	}
	if removed > 0 {
		r.logger.Info("startup orphan sweep removed empty batches", zap.Int64("removed", removed))
	}
}

func (r *Runner) runCacheGC() {
	removed, err := r.cache.GC(r.cfg.NormalizedCacheMaxAge)
	if err != nil {
		r.logger.Error("normalized cache gc failed, retrying next interval", zap.Error(err))
		return
	}
	if removed > 0 {
		r.logger.Info("normalized cache gc evicted stale entries", zap.Int("removed", removed))
	}
}

func (r *Runner) runTokenCleanup() {
	removed := r.tokens.CleanupExpired()
	if removed > 0 {
		r.logger.Debug("smart token cleanup removed expired tokens", zap.Int("removed", removed))
	}
}
