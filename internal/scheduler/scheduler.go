// Package scheduler refreshes the release cache on a cron schedule so that
// visitors rarely wait on a cold cache.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"loopweb/internal/models"

	"github.com/robfig/cron/v3"
)

// Refresher is the job the scheduler runs.
type Refresher interface {
	Refresh(ctx context.Context) (*models.RefreshResponse, error)
}

// Scheduler runs Refresher.Refresh on a schedule. Runs never overlap; a tick
// that arrives while the previous refresh is still going is skipped.
type Scheduler struct {
	cron      *cron.Cron
	refresher Refresher
	timeout   time.Duration
	logger    *slog.Logger
	entry     cron.EntryID
}

// New parses cfg.Schedule and registers the refresh job. The job does not
// run until Start is called.
func New(cfg models.RefreshConfig, refresher Refresher, logger *slog.Logger) (*Scheduler, error) {
	if refresher == nil {
		return nil, errors.New("refresher cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	cronLogger := slogAdapter{logger: logger}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		refresher: refresher,
		timeout:   timeout,
		logger:    logger,
	}

	entry, err := s.cron.AddFunc(cfg.Schedule, s.run)
	if err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", cfg.Schedule, err)
	}
	s.entry = entry

	return s, nil
}

// Start begins running the job in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Release refresh scheduled", "next", s.Next())
}

// Stop stops scheduling and waits for a running refresh to finish or for
// ctx to end, whichever comes first.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next returns the time of the next scheduled run. It is zero before Start.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// RunNow performs one refresh synchronously, used to warm the cache at
// startup.
func (s *Scheduler) RunNow(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	resp, err := s.refresher.Refresh(ctx)
	if err != nil {
		s.logger.Warn("Scheduled release refresh failed", "error", err, "duration", time.Since(start))
		return err
	}

	s.logger.Debug("Scheduled release refresh completed",
		"version", resp.Version,
		"assets", resp.Assets,
		"duration", time.Since(start))
	return nil
}

func (s *Scheduler) run() {
	_ = s.RunNow(context.Background())
}

// slogAdapter satisfies cron.Logger.
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Debug("cron: "+msg, keysAndValues...)
}

func (a slogAdapter) Error(err error, msg string, keysAndValues ...interface{}) {
	a.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
