// Package scheduler keeps the exchange-rate snapshot warm in the background
// so that message handling rarely waits on the rate provider.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"moneyman/internal/model"
)

// RateSource refreshes the rate snapshot when it is stale.
type RateSource interface {
	Rates(ctx context.Context) (*model.RateSnapshot, error)
}

// Scheduler periodically makes sure a fresh snapshot is cached.
type Scheduler struct {
	rates   RateSource
	log     *slog.Logger
	tick    time.Duration
	backoff func() backoff.BackOff
}

// New creates a Scheduler that checks the snapshot every tick.
func New(rates RateSource, tick time.Duration, log *slog.Logger) *Scheduler {
	return &Scheduler{
		rates:   rates,
		log:     log,
		tick:    tick,
		backoff: defaultBackOff,
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Second
	b.MaxInterval = 2 * time.Minute
	b.MaxElapsedTime = 10 * time.Minute
	return b
}

// SetTickInterval overrides the check interval.
func (s *Scheduler) SetTickInterval(d time.Duration) {
	s.tick = d
}

// Run starts the scheduler loop, blocking until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.warm(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.warm(ctx)
		}
	}
}

// warm retries failed refreshes with exponential backoff. A failure that
// outlasts the backoff is logged and left to the next tick.
func (s *Scheduler) warm(ctx context.Context) {
	var snap *model.RateSnapshot
	op := func() error {
		var err error
		snap, err = s.rates.Rates(ctx)
		return err
	}
	notify := func(err error, wait time.Duration) {
		s.log.Warn("refresh rates", "error", err, "retry_in", wait)
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(s.backoff(), ctx), notify); err != nil {
		if ctx.Err() == nil {
			s.log.Error("refresh rates gave up", "error", err)
		}
		return
	}
	s.log.Debug("rates warm", "fetched_at", snap.FetchedAt, "currencies", len(snap.Rates))
}
