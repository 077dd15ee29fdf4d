package rates

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"moneyman/internal/model"
)

// DefaultTTL is how long a fetched snapshot is served before a refresh.
const DefaultTTL = 12 * time.Hour

// Fetcher retrieves a fresh rate table from an external source.
type Fetcher interface {
	Latest(ctx context.Context) (*model.RateSnapshot, error)
}

// Persister loads and saves the last fetched snapshot.
type Persister interface {
	Load() (*model.RateSnapshot, error)
	Save(snap *model.RateSnapshot) error
}

// Metrics receives rate store events.
type Metrics interface {
	IncRateFetch(result string)
	IncRateCacheHit()
}

type noopMetrics struct{}

func (noopMetrics) IncRateFetch(string) {}
func (noopMetrics) IncRateCacheHit()    {}

// Store caches the rate table for a fixed TTL. Concurrent refreshes collapse
// into one fetch. Returned snapshots are shared and must not be modified.
type Store struct {
	fetcher Fetcher
	persist Persister
	log     *slog.Logger
	metrics Metrics
	ttl     time.Duration
	now     func() time.Time

	mu    sync.RWMutex
	snap  *model.RateSnapshot
	group singleflight.Group
}

// NewStore creates a Store and loads any previously persisted snapshot.
// persist may be nil to disable persistence.
func NewStore(fetcher Fetcher, persist Persister, ttl time.Duration, log *slog.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &Store{
		fetcher: fetcher,
		persist: persist,
		log:     log,
		metrics: noopMetrics{},
		ttl:     ttl,
		now:     time.Now,
	}

	if persist != nil {
		snap, err := persist.Load()
		switch {
		case err != nil:
			log.Warn("load persisted rates", "error", err)
		case snap != nil:
			s.snap = snap
			log.Info("loaded persisted rates", "fetched_at", snap.FetchedAt, "currencies", len(snap.Rates))
		}
	}
	return s
}

// SetMetrics attaches a metrics recorder.
func (s *Store) SetMetrics(m Metrics) {
	s.metrics = m
}

// Cached returns the in-memory snapshot without refreshing it, or nil.
func (s *Store) Cached() *model.RateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Rates returns the cached snapshot while it is younger than the TTL and
// refreshes it otherwise. A failed refresh returns an error wrapping ErrFetch
// and leaves the cached snapshot untouched.
func (s *Store) Rates(ctx context.Context) (*model.RateSnapshot, error) {
	if snap := s.fresh(); snap != nil {
		s.metrics.IncRateCacheHit()
		return snap, nil
	}
	return s.refresh(ctx, "stale", false)
}

// Refresh fetches a new snapshot regardless of the cached one's age.
func (s *Store) Refresh(ctx context.Context) (*model.RateSnapshot, error) {
	return s.refresh(ctx, "forced", true)
}

// Rate returns the multiplier converting one unit of from into to.
func (s *Store) Rate(ctx context.Context, from, to string) (float64, error) {
	snap, err := s.Rates(ctx)
	if err != nil {
		return 0, err
	}
	fromRate, ok := snap.Rates[from]
	if !ok || fromRate == 0 {
		return 0, &UnknownCurrencyError{Code: from}
	}
	toRate, ok := snap.Rates[to]
	if !ok {
		return 0, &UnknownCurrencyError{Code: to}
	}
	return toRate / fromRate, nil
}

// KnownCurrencies returns the currency codes of the current snapshot.
func (s *Store) KnownCurrencies(ctx context.Context) (map[string]struct{}, error) {
	snap, err := s.Rates(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[string]struct{}, len(snap.Rates))
	for code := range snap.Rates {
		known[code] = struct{}{}
	}
	return known, nil
}

func (s *Store) fresh() *model.RateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap == nil || s.snap.Age(s.now()) >= s.ttl {
		return nil
	}
	return s.snap
}

func (s *Store) refresh(ctx context.Context, key string, force bool) (*model.RateSnapshot, error) {
	ch := s.group.DoChan(key, func() (any, error) {
		if !force {
			if snap := s.fresh(); snap != nil {
				return snap, nil
			}
		}

		s.log.Info("fetching rates", "reason", key)
		// The fetch is shared by every waiter, so it must not die with the
		// first caller's context.
		snap, err := s.fetcher.Latest(context.WithoutCancel(ctx))
		if err != nil {
			s.metrics.IncRateFetch("error")
			if !errors.Is(err, ErrFetch) {
				err = fmt.Errorf("%w: %w", ErrFetch, err)
			}
			return nil, err
		}
		s.metrics.IncRateFetch("ok")

		s.mu.Lock()
		s.snap = snap
		s.mu.Unlock()

		if s.persist != nil {
			if err := s.persist.Save(snap); err != nil {
				s.log.Warn("persist rates", "error", err)
			}
		}
		return snap, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*model.RateSnapshot), nil
	}
}
