package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
)

// Runner re-runs a Syncer on a fixed interval in the background.
type Runner struct {
	scheduler *gocron.Scheduler
	cancel    context.CancelFunc
}

// NewRunner schedules syncer every interval. Runs never overlap; a run that
// is still busy when the next one is due makes that one skip.
func NewRunner(syncer *Syncer, interval time.Duration) (*Runner, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("sync interval must be positive, got %s", interval)
	}

	ctx, cancel := context.WithCancel(context.Background())
	scheduler := gocron.NewScheduler(time.UTC)
	_, err := scheduler.Every(interval).SingletonMode().Do(func() {
		reports, err := syncer.RunSync(ctx)
		if err != nil {
			slog.Error("Scheduled sync failed", "error", err)
			return
		}
		slog.Info("Scheduled sync finished", "sources", len(reports))
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to schedule sync: %w", err)
	}
	return &Runner{scheduler: scheduler, cancel: cancel}, nil
}

// Start begins the schedule. The first run starts immediately.
func (r *Runner) Start() {
	r.scheduler.StartAsync()
}

// Stop cancels a running sync and stops the schedule.
func (r *Runner) Stop() {
	r.cancel()
	r.scheduler.Stop()
}
