package service

import (
	"context"
	"time"

	"mailroom/internal/constants"

	"github.com/sirupsen/logrus"
)

// Sweeper runs a named sweep function on a fixed interval until stopped.
// Both the notification queue and the dead-letter queue are driven by
// one of these.
type Sweeper struct {
	name     string
	interval time.Duration
	sweep    func(ctx context.Context) error
	logger   *logrus.Logger
	stopCh   chan struct{}
}

func NewSweeper(name string, interval time.Duration, sweep func(ctx context.Context) error, logger *logrus.Logger) *Sweeper {
	return &Sweeper{
		name:     name,
		interval: interval,
		sweep:    sweep,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start blocks, firing the sweep once immediately and then on every
// tick, until the context is cancelled or Stop is called. Run it in its
// own goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.WithFields(logrus.Fields{
		"sweeper":  s.name,
		"interval": s.interval,
	}).Info("Starting sweeper")

	s.run(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.WithField("sweeper", s.name).Info("Sweeper context cancelled, stopping")
			return
		case <-s.stopCh:
			s.logger.WithField("sweeper", s.name).Info("Sweeper stop signal received, stopping")
			return
		case <-ticker.C:
			s.run(ctx)
		}
	}
}

func (s *Sweeper) Stop() {
	close(s.stopCh)
}

func (s *Sweeper) run(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, time.Duration(constants.DefaultSweepTimeoutSec)*time.Second)
	defer cancel()

	if err := s.sweep(sweepCtx); err != nil {
		s.logger.WithError(err).WithField("sweeper", s.name).Error("Sweep failed")
	}
}
