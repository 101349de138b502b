package health

import (
	"fmt"

	"github.com/TheProjectSEO/shield/pkg/cache"
	"github.com/TheProjectSEO/shield/pkg/config"
	"github.com/TheProjectSEO/shield/pkg/keys"
	"github.com/TheProjectSEO/shield/pkg/queue"
	"github.com/TheProjectSEO/shield/pkg/semcache"
	"github.com/TheProjectSEO/shield/pkg/worker"
)

// KeyPoolChecker judges the credential pool by daily quota utilization.
func KeyPoolChecker(mgr *keys.Manager, cfg config.HealthConfig) CheckFunc {
	return func() (Severity, string, error) {
		available, total := mgr.TotalCapacity()
		if total == 0 {
			return Critical, "no upstream keys configured", nil
		}
		utilization := 1 - float64(available)/float64(total)
		msg := fmt.Sprintf("daily quota utilization %.1f%%", utilization*100)

		switch {
		case utilization > cfg.KeyUtilizationCritical:
			return Critical, msg, nil
		case utilization > cfg.KeyUtilizationDegraded:
			return Degraded, msg, nil
		default:
			return Healthy, msg, nil
		}
	}
}

// CacheChecker judges the exact-match cache by hit rate once enough
// lookups have accumulated.
func CacheChecker(c *cache.Cache, cfg config.HealthConfig) CheckFunc {
	return func() (Severity, string, error) {
		stats := c.GetStats()
		return judgeHitRate(stats.Hits+stats.Misses, stats.HitRate, cfg)
	}
}

// SemanticCacheChecker judges the semantic cache the same way.
func SemanticCacheChecker(s *semcache.Store, cfg config.HealthConfig) CheckFunc {
	return func() (Severity, string, error) {
		stats := s.GetStats()
		return judgeHitRate(stats.Lookups, stats.HitRate, cfg)
	}
}

func judgeHitRate(samples int64, hitRate float64, cfg config.HealthConfig) (Severity, string, error) {
	if samples < int64(cfg.CacheMinSamples) {
		return Healthy, fmt.Sprintf("warming up (%d lookups)", samples), nil
	}
	msg := fmt.Sprintf("hit rate %.1f%% over %d lookups", hitRate*100, samples)
	if hitRate < cfg.CacheHitRateFloor {
		return Degraded, msg, nil
	}
	return Healthy, msg, nil
}

// QueueChecker judges the queue by its pending backlog.
func QueueChecker(q *queue.Queue, cfg config.HealthConfig) CheckFunc {
	return func() (Severity, string, error) {
		stats := q.GetStats()
		backlog := stats.Pending + stats.Retry
		msg := fmt.Sprintf("%d jobs waiting, %d processing, %d dead-lettered",
			backlog, stats.Processing, stats.DLQSize)

		switch {
		case backlog > 2*cfg.QueueSizeThreshold:
			return Critical, msg, nil
		case backlog > cfg.QueueSizeThreshold:
			return Degraded, msg, nil
		default:
			return Healthy, msg, nil
		}
	}
}

// WorkerChecker judges the pool by the fraction of workers stuck in the
// error state.
func WorkerChecker(pool *worker.Pool, cfg config.HealthConfig) CheckFunc {
	return func() (Severity, string, error) {
		stats := pool.Stats()
		if len(stats) == 0 {
			return Critical, "no workers running", nil
		}

		errored := 0
		for _, s := range stats {
			if s.Status == worker.StatusError {
				errored++
			}
		}
		ratio := float64(errored) / float64(len(stats))
		msg := fmt.Sprintf("%d of %d workers in error state", errored, len(stats))

		switch {
		case ratio > cfg.WorkerErrorRatioCritical:
			return Critical, msg, nil
		case errored > 0:
			return Degraded, msg, nil
		default:
			return Healthy, msg, nil
		}
	}
}
