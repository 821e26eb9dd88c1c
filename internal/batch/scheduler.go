package batch

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const sweepTimeout = 5 * time.Minute

// Scheduler runs the processor on a cron schedule.
type Scheduler struct {
	cron *cron.Cron
	log  *slog.Logger
}

func NewScheduler(log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		log:  log,
	}
}

// Add registers a sweep at the given cron spec (six fields, seconds first).
func (s *Scheduler) Add(spec string, p *Processor) (cron.EntryID, error) {
	return s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()

		stats, err := p.Sweep(ctx)
		if err != nil {
			s.log.Error("billing sweep failed", "err", err)
			return
		}
		s.log.Info("billing sweep completed",
			"billed", stats.Billed,
			"retried", stats.Retried,
			"permanently_failed", stats.PermanentlyFailed,
			"escalated", stats.Escalated,
			"skipped", stats.Skipped)
	})
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts scheduling and waits for in-flight sweeps.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
