package rwlock

import (
	"context"
	"io"
	"sync"
)

// An RWLock is a reader/writer mutual exclusion lock with writer priority.
// The lock can be held by an arbitrary number of readers or a single writer.
// The zero value for an RWLock is an unlocked lock without an observer.
//
// A goroutine blocked in Lock registers its intent before it waits, and from
// that moment no new reader is admitted until every registered writer has
// acquired and released the lock (or given up, see LockContext). A continuous
// stream of readers therefore cannot starve a writer.
//
// The lock is not reentrant. A goroutine that already holds the lock in
// either mode gets no special treatment: a writer calling RLock blocks
// forever, and so does a reader calling Lock. Keep the protected sections
// short and free of nested acquisitions.
//
// An RWLock must not be copied after first use.
type RWLock struct {
	mu sync.Mutex
	// wake is closed to wake every waiter. nil means nobody has waited
	// since the last broadcast.
	wake chan struct{}

	readers        int
	writers        int
	waitingWriters int

	obs Observer
}

// Stats is a snapshot of the lock counters.
type Stats struct {
	Readers        int
	Writers        int
	WaitingWriters int
}

// Option configures an RWLock built by New.
type Option func(*RWLock)

// WithObserver installs o as the diagnostic hook of the lock.
func WithObserver(o Observer) Option {
	return func(l *RWLock) {
		l.obs = o
	}
}

// WithSink makes the lock write one "<owner> <message>\n" line to w for
// every phase of every acquisition and release.
func WithSink(w io.Writer) Option {
	return WithObserver(NewLineObserver(w))
}

// New creates *RWLock.
func New(opts ...Option) *RWLock {
	l := &RWLock{}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RLock locks l for reading.
//
// It blocks while a writer holds the lock or waits for it. It should not be
// used for recursive read locking; a blocked Lock call excludes new readers
// from acquiring the lock.
func (l *RWLock) RLock() {
	_ = l.rlock(context.Background())
}

// RLockContext is like RLock but gives up when ctx is done. On failure it
// returns ctx.Err() and the lock state is left as if it had never been called.
func (l *RWLock) RLockContext(ctx context.Context) error {
	return l.rlock(ctx)
}

func (l *RWLock) rlock(ctx context.Context) error {
	owner := l.owner(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.emit(owner, AskRead)
	for l.writers > 0 || l.waitingWriters > 0 {
		if err := l.wait(ctx); err != nil {
			l.emit(owner, AbandonRead)
			return err
		}
	}

	l.emit(owner, GotRead)
	l.readers++
	return nil
}

// RUnlock undoes a single RLock call;
// it does not affect other simultaneous readers.
// Calling RUnlock without holding a read lock corrupts the lock state.
func (l *RWLock) RUnlock() {
	l.runlock(context.Background())
}

// RUnlockContext is like RUnlock but names the caller in diagnostic output
// after ctx, the same way RLockContext does. ctx is never waited on.
func (l *RWLock) RUnlockContext(ctx context.Context) {
	l.runlock(ctx)
}

func (l *RWLock) runlock(ctx context.Context) {
	owner := l.owner(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.emit(owner, ReleaseRead)
	l.readers--
	if l.waitingWriters > 0 {
		l.broadcast()
	}
}

// Lock locks l for writing.
// If the lock is already locked for reading or writing,
// Lock blocks until the lock is available.
func (l *RWLock) Lock() {
	_ = l.lock(context.Background())
}

// LockContext is like Lock but gives up when ctx is done. On failure it
// returns ctx.Err(), withdraws the writer's registration and wakes the
// readers that were held back by it.
func (l *RWLock) LockContext(ctx context.Context) error {
	return l.lock(ctx)
}

func (l *RWLock) lock(ctx context.Context) error {
	owner := l.owner(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.emit(owner, AskWrite)
	l.waitingWriters++
	for l.readers > 0 || l.writers > 0 {
		if err := l.wait(ctx); err != nil {
			l.emit(owner, AbandonWrite)
			l.waitingWriters--
			l.broadcast()
			return err
		}
	}

	l.emit(owner, GotWrite)
	l.waitingWriters--
	l.writers++
	return nil
}

// Unlock unlocks l for writing. Calling Unlock without holding the write
// lock corrupts the lock state.
//
// As with sync.RWMutex, a locked RWLock is not associated with a particular
// goroutine. One goroutine may RLock (Lock) an RWLock and then
// arrange for another goroutine to RUnlock (Unlock) it.
func (l *RWLock) Unlock() {
	l.unlock(context.Background())
}

// UnlockContext is like Unlock but names the caller in diagnostic output
// after ctx, the same way LockContext does. ctx is never waited on.
func (l *RWLock) UnlockContext(ctx context.Context) {
	l.unlock(ctx)
}

func (l *RWLock) unlock(ctx context.Context) {
	owner := l.owner(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.emit(owner, ReleaseWrite)
	l.writers--
	l.broadcast()
}

// RLocker returns a sync.Locker that implements Lock and Unlock by calling
// l.RLock and l.RUnlock.
func (l *RWLock) RLocker() sync.Locker {
	return (*rlocker)(l)
}

type rlocker RWLock

func (r *rlocker) Lock()   { (*RWLock)(r).RLock() }
func (r *rlocker) Unlock() { (*RWLock)(r).RUnlock() }

// Stats returns the current counters.
func (l *RWLock) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Stats{
		Readers:        l.readers,
		Writers:        l.writers,
		WaitingWriters: l.waitingWriters,
	}
}

// wait releases l.mu until the next broadcast or until ctx is done.
// l.mu must be held; it is held again on return.
func (l *RWLock) wait(ctx context.Context) error {
	if l.wake == nil {
		l.wake = make(chan struct{})
	}
	wake := l.wake

	l.mu.Unlock()
	var err error
	select {
	case <-wake:
	case <-ctx.Done():
		err = ctx.Err()
	}
	l.mu.Lock()

	return err
}

// broadcast wakes every goroutine blocked in wait. l.mu must be held.
func (l *RWLock) broadcast() {
	if l.wake != nil {
		close(l.wake)
		l.wake = nil
	}
}

func (l *RWLock) emit(owner string, p Phase) {
	if l.obs != nil {
		l.obs.Observe(owner, p)
	}
}

func (l *RWLock) owner(ctx context.Context) string {
	if l.obs == nil {
		return ""
	}
	return Owner(ctx)
}
