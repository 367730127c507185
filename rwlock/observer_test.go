package rwlock

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhase_String(t *testing.T) {
	for _, tc := range []struct {
		phase   Phase
		message string
		mode    string
	}{
		{phase: AskRead, message: "Asking for read lock.", mode: "read"},
		{phase: GotRead, message: "Got read lock.", mode: "read"},
		{phase: ReleaseRead, message: "About to release read lock.", mode: "read"},
		{phase: AbandonRead, message: "Gave up waiting for read lock.", mode: "read"},
		{phase: AskWrite, message: "Asking for write lock.", mode: "write"},
		{phase: GotWrite, message: "Got write lock.", mode: "write"},
		{phase: ReleaseWrite, message: "About to release write lock.", mode: "write"},
		{phase: AbandonWrite, message: "Gave up waiting for write lock.", mode: "write"},
	} {
		t.Run(tc.message, func(t *testing.T) {
			require.Equal(t, tc.message, tc.phase.String())
			require.Equal(t, tc.mode, tc.phase.Mode())
		})
	}

	require.Equal(t, "Phase(42)", Phase(42).String())
	require.Equal(t, "Phase(-1)", Phase(-1).String())
	require.Empty(t, Phase(42).Mode())
	require.Empty(t, Phase(-1).Mode())
}

func TestOwner(t *testing.T) {
	require.Regexp(t, `^goroutine-[1-9][0-9]*$`, Owner(context.Background()))
	require.Equal(t, "t1", Owner(WithOwner(context.Background(), "t1")))

	other := make(chan string)
	go func() { other <- Owner(context.Background()) }()
	require.NotEqual(t, Owner(context.Background()), <-other)
}

func TestWithSink_Lines(t *testing.T) {
	var buf bytes.Buffer
	l := New(WithSink(&buf))
	ctx := WithOwner(context.Background(), "t1")

	require.NoError(t, l.RLockContext(ctx))
	l.RUnlockContext(ctx)
	require.NoError(t, l.LockContext(ctx))
	l.UnlockContext(ctx)

	require.Equal(t, strings.Join([]string{
		"t1 Asking for read lock.",
		"t1 Got read lock.",
		"t1 About to release read lock.",
		"t1 Asking for write lock.",
		"t1 Got write lock.",
		"t1 About to release write lock.",
		"",
	}, "\n"), buf.String())
}

func TestWithSink_GoroutineOwner(t *testing.T) {
	var buf bytes.Buffer
	l := New(WithSink(&buf))

	l.RLock()
	l.RUnlock()

	me := Owner(context.Background())
	require.Equal(t, strings.Join([]string{
		me + " Asking for read lock.",
		me + " Got read lock.",
		me + " About to release read lock.",
		"",
	}, "\n"), buf.String())
}

func TestWithSink_Abandon(t *testing.T) {
	var buf bytes.Buffer
	l := New(WithSink(&buf))
	l.Lock()

	ctx, cancel := context.WithCancel(WithOwner(context.Background(), "late"))
	cancel()
	require.ErrorIs(t, l.RLockContext(ctx), context.Canceled)
	require.ErrorIs(t, l.LockContext(ctx), context.Canceled)
	l.Unlock()

	require.Contains(t, buf.String(), "late Asking for read lock.\nlate Gave up waiting for read lock.\n")
	require.Contains(t, buf.String(), "late Asking for write lock.\nlate Gave up waiting for write lock.\n")
}

func TestObserverFunc(t *testing.T) {
	var phases []Phase
	l := New(WithObserver(ObserverFunc(func(_ string, p Phase) {
		phases = append(phases, p)
	})))

	l.RLock()
	l.RUnlock()
	l.Lock()
	l.Unlock()

	require.Equal(t, []Phase{AskRead, GotRead, ReleaseRead, AskWrite, GotWrite, ReleaseWrite}, phases)
}

// TestWithSink_MutualExclusion replays the trace of a contended run and checks
// that no write grant overlaps another holder.
func TestWithSink_MutualExclusion(t *testing.T) {
	const (
		readers = 8
		writers = 4
		rounds  = 100
	)

	var buf bytes.Buffer
	l := New(WithSink(&buf))

	var wg sync.WaitGroup
	worker := func(name string, write bool) {
		defer wg.Done()
		ctx := WithOwner(context.Background(), name)
		for i := 0; i < rounds; i++ {
			if write {
				assert.NoError(t, l.LockContext(ctx))
				l.UnlockContext(ctx)
			} else {
				assert.NoError(t, l.RLockContext(ctx))
				l.RUnlockContext(ctx)
			}
		}
	}
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go worker(fmt.Sprintf("reader-%d", i), false)
	}
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go worker(fmt.Sprintf("writer-%d", i), true)
	}
	wg.Wait()

	var (
		holdingReaders = map[string]bool{}
		holdingWriter  string
		writes         int
	)
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		line := sc.Text()
		owner, msg, ok := strings.Cut(line, " ")
		require.True(t, ok, "malformed line %q", line)

		switch msg {
		case GotWrite.String():
			require.Empty(t, holdingWriter, "second writer: %q", line)
			require.Empty(t, holdingReaders, "writer with readers: %q", line)
			holdingWriter = owner
			writes++
		case ReleaseWrite.String():
			require.Equal(t, holdingWriter, owner, "release by another owner: %q", line)
			holdingWriter = ""
		case GotRead.String():
			require.Empty(t, holdingWriter, "reader with writer: %q", line)
			require.False(t, holdingReaders[owner], "reader granted twice: %q", line)
			holdingReaders[owner] = true
		case ReleaseRead.String():
			require.True(t, holdingReaders[owner], "release by another owner: %q", line)
			delete(holdingReaders, owner)
		}
	}
	require.NoError(t, sc.Err())
	require.Equal(t, writers*rounds, writes)
	require.Empty(t, holdingReaders)
	require.Empty(t, holdingWriter)
}
