package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	sqsbackend "github.com/commercekit/sagaflow/internal/sqs"
)

// Scheduler runs the background promotion loops: due retries back to the
// queue, delayed jobs to available, and cron firings.
type Scheduler struct {
	backend  *sqsbackend.Backend
	stop     chan struct{}
	stopOnce sync.Once
	logger   *slog.Logger
}

// New creates a new Scheduler.
func New(backend *sqsbackend.Backend, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		backend: backend,
		stop:    make(chan struct{}),
		logger:  logger,
	}
}

// Start begins all background scheduling goroutines.
func (s *Scheduler) Start() {
	// Retries are latency-sensitive: a 1s backoff should not wait
	// multiple seconds for promotion.
	go s.runLoop("retry-promoter", 200*time.Millisecond, s.backend.PromoteRetries)

	go s.runLoop("scheduled-promoter", 1*time.Second, s.backend.PromoteScheduled)

	go s.runLoop("cron-scheduler", 10*time.Second, s.backend.FireCronJobs)
}

// Stop signals all background goroutines to stop.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
}

func (s *Scheduler) runLoop(name string, interval time.Duration, fn func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := fn(ctx); err != nil {
				s.logger.Error("scheduler loop error", "loop", name, "error", err)
			}
			cancel()
		}
	}
}
