// Package lockmetrics exports lock phases as Prometheus metrics.
package lockmetrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"gitlab.com/slon/rwlock/rwlock"
)

const namespace = "rwlock"

var phaseLabels = map[rwlock.Phase]string{
	rwlock.AskRead:      "ask_read",
	rwlock.GotRead:      "got_read",
	rwlock.ReleaseRead:  "release_read",
	rwlock.AbandonRead:  "abandon_read",
	rwlock.AskWrite:     "ask_write",
	rwlock.GotWrite:     "got_write",
	rwlock.ReleaseWrite: "release_write",
	rwlock.AbandonWrite: "abandon_write",
}

// Metrics holds the collectors shared by every observed lock. Locks are told
// apart by the "lock" label, see For.
type Metrics struct {
	clock clockwork.Clock

	phases         *prometheus.CounterVec
	holders        *prometheus.GaugeVec
	waitingWriters *prometheus.GaugeVec
	wait           *prometheus.HistogramVec

	mu sync.Mutex
	// asked queues the start times of pending waits. Waiters sharing a
	// key are indistinguishable, so the oldest start is matched first.
	asked map[waitKey][]time.Time
}

type waitKey struct {
	lock  string
	owner string
	mode  string
}

// Option configures Metrics built by New.
type Option func(*Metrics)

// WithClock sets the time source used to measure waits.
func WithClock(c clockwork.Clock) Option {
	return func(m *Metrics) {
		m.clock = c
	}
}

// New creates the collectors and registers them in reg.
func New(reg prometheus.Registerer, opts ...Option) (*Metrics, error) {
	m := &Metrics{
		clock: clockwork.NewRealClock(),
		asked: make(map[waitKey][]time.Time),

		phases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_total",
			Help:      "Number of lock phases seen, by phase.",
		}, []string{"lock", "phase"}),
		holders: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "holders",
			Help:      "Current number of lock holders, by mode.",
		}, []string{"lock", "mode"}),
		waitingWriters: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "waiting_writers",
			Help:      "Writers that registered intent and were not granted yet.",
		}, []string{"lock"}),
		wait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "wait_seconds",
			Help:      "Time from asking for the lock to getting it.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"lock", "mode"}),
	}
	for _, opt := range opts {
		opt(m)
	}

	for _, c := range []prometheus.Collector{m.phases, m.holders, m.waitingWriters, m.wait} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("lockmetrics: register collector: %w", err)
		}
	}
	return m, nil
}

// For returns an observer that reports the phases of one lock under the
// given name.
func (m *Metrics) For(lock string) rwlock.Observer {
	return &observer{m: m, lock: lock}
}

type observer struct {
	m    *Metrics
	lock string
}

// Observe updates the collectors of the bound lock for one phase.
func (o *observer) Observe(owner string, p rwlock.Phase) {
	m := o.m
	mode := p.Mode()
	key := waitKey{lock: o.lock, owner: owner, mode: mode}

	m.phases.WithLabelValues(o.lock, phaseLabels[p]).Inc()

	switch p {
	case rwlock.AskRead, rwlock.AskWrite:
		m.startWait(key)
		if p == rwlock.AskWrite {
			m.waitingWriters.WithLabelValues(o.lock).Inc()
		}

	case rwlock.GotRead, rwlock.GotWrite:
		if d, ok := m.stopWait(key); ok {
			m.wait.WithLabelValues(o.lock, mode).Observe(d.Seconds())
		}
		m.holders.WithLabelValues(o.lock, mode).Inc()
		if p == rwlock.GotWrite {
			m.waitingWriters.WithLabelValues(o.lock).Dec()
		}

	case rwlock.ReleaseRead, rwlock.ReleaseWrite:
		m.holders.WithLabelValues(o.lock, mode).Dec()

	case rwlock.AbandonRead, rwlock.AbandonWrite:
		m.stopWait(key)
		if p == rwlock.AbandonWrite {
			m.waitingWriters.WithLabelValues(o.lock).Dec()
		}
	}
}

func (m *Metrics) startWait(key waitKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.asked[key] = append(m.asked[key], m.clock.Now())
}

func (m *Metrics) stopWait(key waitKey) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	starts := m.asked[key]
	if len(starts) == 0 {
		return 0, false
	}
	if len(starts) == 1 {
		delete(m.asked, key)
	} else {
		m.asked[key] = starts[1:]
	}
	return m.clock.Since(starts[0]), true
}
