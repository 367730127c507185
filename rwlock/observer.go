package rwlock

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"strconv"
	"strings"
)

// Phase identifies a step of an acquisition or a release.
type Phase int

const (
	// AskRead is emitted when a read acquisition starts.
	AskRead Phase = iota
	// GotRead is emitted when a read acquisition is granted.
	GotRead
	// ReleaseRead is emitted right before a read lock is released.
	ReleaseRead
	// AskWrite is emitted when a write acquisition starts.
	AskWrite
	// GotWrite is emitted when a write acquisition is granted.
	GotWrite
	// ReleaseWrite is emitted right before the write lock is released.
	ReleaseWrite
	// AbandonRead is emitted when a cancelled read acquisition gives up.
	AbandonRead
	// AbandonWrite is emitted when a cancelled write acquisition gives up.
	AbandonWrite
)

var phaseMessages = [...]string{
	AskRead:      "Asking for read lock.",
	GotRead:      "Got read lock.",
	ReleaseRead:  "About to release read lock.",
	AskWrite:     "Asking for write lock.",
	GotWrite:     "Got write lock.",
	ReleaseWrite: "About to release write lock.",
	AbandonRead:  "Gave up waiting for read lock.",
	AbandonWrite: "Gave up waiting for write lock.",
}

// String returns the trace message of p.
func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseMessages) {
		return "Phase(" + strconv.Itoa(int(p)) + ")"
	}
	return phaseMessages[p]
}

// Mode returns "read" or "write", or "" for an unknown phase.
func (p Phase) Mode() string {
	switch p {
	case AskRead, GotRead, ReleaseRead, AbandonRead:
		return "read"
	case AskWrite, GotWrite, ReleaseWrite, AbandonWrite:
		return "write"
	default:
		return ""
	}
}

// An Observer receives every phase of every acquisition and release.
//
// Observe is called while the internal guard of the lock is held, so the
// calls made by one lock never overlap and arrive in the order of the state
// transitions. Observe must not call back into the same lock.
type Observer interface {
	Observe(owner string, p Phase)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(owner string, p Phase)

// Observe calls f(owner, p).
func (f ObserverFunc) Observe(owner string, p Phase) {
	f(owner, p)
}

// LineObserver writes each event as a single "<owner> <message>\n" line.
type LineObserver struct {
	w io.Writer
}

// NewLineObserver creates *LineObserver writing to w.
func NewLineObserver(w io.Writer) *LineObserver {
	return &LineObserver{w: w}
}

// Observe writes the line with one Write call. Write errors are dropped:
// the trace must never affect locking.
func (o *LineObserver) Observe(owner string, p Phase) {
	_, _ = io.WriteString(o.w, owner+" "+p.String()+"\n")
}

type ownerKey struct{}

// WithOwner returns a copy of ctx that names the caller in diagnostic
// output of the Context variants of the lock methods.
func WithOwner(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, ownerKey{}, name)
}

// Owner returns the name attached by WithOwner, or "goroutine-<id>" for
// the calling goroutine.
func Owner(ctx context.Context) string {
	if name, ok := ctx.Value(ownerKey{}).(string); ok {
		return name
	}
	return fmt.Sprintf("goroutine-%d", goroutineID())
}

// goroutineID parses the "goroutine N [state]:" header of the current stack.
// It returns 0 if the header has an unexpected shape.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	s := strings.TrimPrefix(string(buf[:n]), "goroutine ")
	if i := strings.IndexByte(s, ' '); i > 0 {
		s = s[:i]
	}
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
