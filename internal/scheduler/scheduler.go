package scheduler

import (
	"log/slog"

	"keygate/internal/ratelimit"

	"github.com/robfig/cron/v3"
)

// Scheduler runs periodic housekeeping. Quota resets are computed lazily on
// access and need no job here; the only recurring work is dropping expired
// rate-limit windows so idle client IPs don't accumulate.
type Scheduler struct {
	limiter *ratelimit.Limiter
	logger  *slog.Logger
	c       *cron.Cron
}

func New(limiter *ratelimit.Limiter, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		limiter: limiter,
		logger:  logger.With("component", "scheduler"),
		c:       cron.New(),
	}
}

func (s *Scheduler) Start() error {
	_, err := s.c.AddFunc("@hourly", func() {
		if removed := s.limiter.Purge(); removed > 0 {
			s.logger.Debug("Purged expired rate-limit windows", "removed", removed)
		}
	})
	if err != nil {
		return err
	}
	s.c.Start()
	return nil
}

func (s *Scheduler) Stop() {
	s.c.Stop()
}
