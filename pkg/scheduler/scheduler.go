package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/nmasdoufi/brfwupd/pkg/config"
	"github.com/nmasdoufi/brfwupd/pkg/logging"
)

// TaskRunner defines background work to execute.
type TaskRunner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to TaskRunner.
type RunnerFunc func(ctx context.Context) error

// Run calls f(ctx).
func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

// Scheduler triggers update checks based on config.
type Scheduler struct {
	cfg    config.WatchConfig
	runner TaskRunner
	log    *logging.Logger
}

// New creates scheduler.
func New(cfg config.WatchConfig, runner TaskRunner, log *logging.Logger) *Scheduler {
	return &Scheduler{cfg: cfg, runner: runner, log: log}
}

// Start runs the task once, then on every tick until ctx is done. It returns
// an error only when the configuration is unusable.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.log.Infof("watch disabled")
		return nil
	}
	interval, err := time.ParseDuration(s.cfg.Tick)
	if err != nil {
		return fmt.Errorf("invalid watch tick: %w", err)
	}
	if interval <= 0 {
		return fmt.Errorf("invalid watch tick %q: must be positive", s.cfg.Tick)
	}
	s.log.Infof("checking for firmware updates every %s", interval)
	s.runOnce(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if err := s.runner.Run(ctx); err != nil {
		s.log.Errorf("scheduled run error: %v", err)
	}
}
