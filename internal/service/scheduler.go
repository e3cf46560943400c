package service

import (
	"context"
	"sync"
	"time"

	"github.com/septivank/linky-feed-ingester/internal/feed"
	"go.uber.org/zap"
)

// RecentRunner runs one ingestion cycle
type RecentRunner interface {
	Run(ctx context.Context, mode feed.Mode, trigger Trigger) (Result, error)
}

// Scheduler starts a scheduled recent-mode run on every tick
type Scheduler struct {
	runner   RecentRunner
	interval time.Duration
	logger   *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// DefaultScheduleInterval is used when NewScheduler gets a non-positive interval
const DefaultScheduleInterval = 5 * time.Minute

// NewScheduler creates a scheduler; it does nothing until Start
func NewScheduler(runner RecentRunner, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultScheduleInterval
	}
	return &Scheduler{runner: runner, interval: interval, logger: logger}
}

// Start launches the ticker loop
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("scheduler started", zap.Duration("interval", s.interval))
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				// failures are logged by the runner and must not stop the loop
				_, _ = s.runner.Run(ctx, feed.ModeRecent, TriggerScheduled)
			}
		}
	}()
}

// Stop ends the loop and waits for an in-flight run to finish
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}
