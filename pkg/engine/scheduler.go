package engine

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

// DefaultResyncSchedule runs the resync sweep every five minutes
const DefaultResyncSchedule = "*/5 * * * *"

// ResyncScheduler periodically resyncs members flagged by hierarchy changes
// across all guilds. Overlapping sweeps are skipped.
type ResyncScheduler struct {
	engine *Engine
	cron   *cron.Cron
	logger *observability.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewResyncScheduler creates a scheduler running on the standard five field
// cron schedule
func NewResyncScheduler(e *Engine, schedule string) (*ResyncScheduler, error) {
	if schedule == "" {
		schedule = DefaultResyncSchedule
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &ResyncScheduler{
		engine: e,
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger: e.logger.WithField("component", "resync_scheduler"),
		ctx:    ctx,
		cancel: cancel,
	}

	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		cancel()
		return nil, err
	}
	return s, nil
}

// Start runs the schedule in the background
func (s *ResyncScheduler) Start() {
	s.logger.Info("Starting resync scheduler")
	s.cron.Start()
}

// Stop cancels a running sweep and waits for it to return or ctx to expire
func (s *ResyncScheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ResyncScheduler) sweep() {
	defer observability.RecoverPanic(s.logger, "resync sweep")

	synced, err := s.engine.ResyncAll(s.ctx)
	if err != nil {
		s.logger.WithError(err).WithField("synced", synced).Warn("Resync sweep finished with failures")
		return
	}
	if synced > 0 {
		s.logger.WithField("synced", synced).Info("Resync sweep finished")
	}
}
