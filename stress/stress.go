// Package stress drives a lock with concurrent readers and writers and
// checks reader/writer exclusion while it runs.
package stress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"gitlab.com/slon/rwlock/rwlock"
)

var (
	// ErrInvalidConfig is wrapped by every error returned from Config.Validate.
	ErrInvalidConfig = errors.New("invalid stress config")
	// ErrExclusionViolated is wrapped by the error Run returns when a worker
	// holds the lock together with a conflicting holder.
	ErrExclusionViolated = errors.New("reader/writer exclusion violated")
)

// Config describes a workload. Every reader and writer loops
// acquire, hold, release, pause until the context is done.
type Config struct {
	Readers   int
	Writers   int
	ReadHold  time.Duration
	WriteHold time.Duration
	Pause     time.Duration

	// Clock defaults to the real clock.
	Clock clockwork.Clock
}

// Validate rejects negative counts and durations and an empty workload.
func (c Config) Validate() error {
	switch {
	case c.Readers < 0:
		return fmt.Errorf("%w: readers = %d", ErrInvalidConfig, c.Readers)
	case c.Writers < 0:
		return fmt.Errorf("%w: writers = %d", ErrInvalidConfig, c.Writers)
	case c.Readers+c.Writers == 0:
		return fmt.Errorf("%w: no readers and no writers", ErrInvalidConfig)
	case c.ReadHold < 0 || c.WriteHold < 0 || c.Pause < 0:
		return fmt.Errorf("%w: negative duration", ErrInvalidConfig)
	}
	return nil
}

// Report summarizes a finished run.
type Report struct {
	Reads                int64
	Writes               int64
	MaxConcurrentReaders int64
	Violations           int64
}

type occupancy struct {
	readers    atomic.Int64
	writers    atomic.Int64
	maxReaders atomic.Int64
	violations atomic.Int64
	reads      atomic.Int64
	writes     atomic.Int64
}

// enterRead and enterWrite report false when the caller found the lock
// shared in a way the lock must never allow.
func (o *occupancy) enterRead() bool {
	ok := o.writers.Load() == 0
	n := o.readers.Inc()
	for {
		peak := o.maxReaders.Load()
		if n <= peak || o.maxReaders.CompareAndSwap(peak, n) {
			break
		}
	}
	o.reads.Inc()
	return ok
}

func (o *occupancy) leaveRead() {
	o.readers.Dec()
}

func (o *occupancy) enterWrite() bool {
	ok := o.writers.Inc() == 1 && o.readers.Load() == 0
	o.writes.Inc()
	return ok
}

func (o *occupancy) leaveWrite() {
	o.writers.Dec()
}

// Run executes cfg against l until ctx is done. The first observed
// exclusion violation stops every worker and Run returns ErrExclusionViolated
// along with the report gathered so far.
func Run(ctx context.Context, l *rwlock.RWLock, cfg Config) (Report, error) {
	if err := cfg.Validate(); err != nil {
		return Report{}, err
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	var occ occupancy
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < cfg.Readers; i++ {
		wctx := rwlock.WithOwner(gctx, fmt.Sprintf("reader-%d", i))
		g.Go(func() error {
			for {
				if err := l.RLockContext(wctx); err != nil {
					return nil
				}
				ok := occ.enterRead()
				clock.Sleep(cfg.ReadHold)
				occ.leaveRead()
				l.RUnlockContext(wctx)

				if !ok {
					occ.violations.Inc()
					return fmt.Errorf("%w: %s got read lock while a writer held it", ErrExclusionViolated, rwlock.Owner(wctx))
				}
				if !pause(wctx, clock, cfg.Pause) {
					return nil
				}
			}
		})
	}

	for i := 0; i < cfg.Writers; i++ {
		wctx := rwlock.WithOwner(gctx, fmt.Sprintf("writer-%d", i))
		g.Go(func() error {
			for {
				if err := l.LockContext(wctx); err != nil {
					return nil
				}
				ok := occ.enterWrite()
				clock.Sleep(cfg.WriteHold)
				occ.leaveWrite()
				l.UnlockContext(wctx)

				if !ok {
					occ.violations.Inc()
					return fmt.Errorf("%w: %s got write lock while it was held", ErrExclusionViolated, rwlock.Owner(wctx))
				}
				if !pause(wctx, clock, cfg.Pause) {
					return nil
				}
			}
		})
	}

	err := g.Wait()

	return Report{
		Reads:                occ.reads.Load(),
		Writes:               occ.writes.Load(),
		MaxConcurrentReaders: occ.maxReaders.Load(),
		Violations:           occ.violations.Load(),
	}, err
}

// pause waits for d and reports whether the worker should keep going.
func pause(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-clock.After(d):
		return true
	}
}
