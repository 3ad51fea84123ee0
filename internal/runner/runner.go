package runner

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/archivescan/pipeline/internal/pipeline"
	"github.com/archivescan/pipeline/internal/session"
)

// Runner launches pipeline runs in the background and owns the periodic
// session expiry sweep. Submitting never blocks on a sweep.
type Runner struct {
	orchestrator *pipeline.Orchestrator
	sessions     *session.Manager
	timeout      time.Duration
	interval     time.Duration
	logger       *slog.Logger

	wg sync.WaitGroup
}

func New(o *pipeline.Orchestrator, sessions *session.Manager, sessionTimeout, sweepInterval time.Duration, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if sessionTimeout <= 0 {
		sessionTimeout = 24 * time.Hour
	}
	if sweepInterval <= 0 {
		sweepInterval = time.Hour
	}
	return &Runner{
		orchestrator: o,
		sessions:     sessions,
		timeout:      sessionTimeout,
		interval:     sweepInterval,
		logger:       logger,
	}
}

// Submit starts a pipeline run for the session in its own goroutine. The
// run's failure is already recorded in session metadata, so it is only
// logged here.
func (r *Runner) Submit(ctx context.Context, s *session.Session, zipPath string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.orchestrator.Run(ctx, s, zipPath); err != nil {
			r.logger.Error("runner.session_failed", "session_id", s.ID, "error", err)
		}
	}()
}

// StartSweeper runs the expiry sweep every interval until ctx is done.
func (r *Runner) StartSweeper(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if n := r.sessions.ExpireSweep(now, r.timeout); n > 0 {
					r.logger.Info("runner.sweep", "expired", n)
				}
			}
		}
	}()
}

// Wait blocks until every launched goroutine has finished. Meant for
// shutdown after the submit context is cancelled.
func (r *Runner) Wait() {
	r.wg.Wait()
}
