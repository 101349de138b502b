package dlqstore

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/TheProjectSEO/shield/pkg/queue"
)

// Pruner removes expired dead letters from both the in-memory queue and
// the persistent store on a cron schedule.
type Pruner struct {
	store     *Store
	queue     *queue.Queue
	retention time.Duration
	cron      *cron.Cron
	logger    *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewPruner creates a pruner. The queue may be nil when only the store
// needs pruning.
func NewPruner(store *Store, q *queue.Queue, retention time.Duration) *Pruner {
	return &Pruner{
		store:     store,
		queue:     q,
		retention: retention,
		cron:      cron.New(),
		logger:    slog.Default().With("component", "dlqstore.pruner"),
	}
}

// Start schedules pruning with the given cron expression (for example
// "@hourly" or "0 3 * * *").
func (p *Pruner) Start(schedule string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("dlqstore: pruner already running")
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("dlqstore: invalid prune schedule %q: %w", schedule, err)
	}
	if _, err := p.cron.AddFunc(schedule, p.Run); err != nil {
		return fmt.Errorf("dlqstore: failed to schedule pruning: %w", err)
	}

	p.cron.Start()
	p.running = true
	p.logger.Info("dead-letter pruning scheduled", "schedule", schedule, "retention", p.retention)
	return nil
}

// Run prunes once, immediately. The cron schedule calls this on its own.
func (p *Pruner) Run() {
	start := time.Now()

	removed := 0
	if p.queue != nil {
		removed += p.queue.PruneDLQ(p.retention)
	}
	stored, err := p.store.Prune(p.retention)
	if err != nil {
		p.logger.Error("dead-letter store prune failed", "error", err)
	}

	if removed > 0 || stored > 0 {
		p.logger.Info("pruned expired dead letters",
			"queue_removed", removed,
			"store_removed", stored,
			"duration", time.Since(start),
		)
	}
}

// Stop halts the schedule, waiting for a running prune to finish.
func (p *Pruner) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	ctx := p.cron.Stop()
	<-ctx.Done()
	p.running = false
}
