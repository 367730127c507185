package locktrace

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"gitlab.com/slon/rwlock/rwlock"
)

func TestZap(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := rwlock.New(rwlock.WithObserver(NewZap(zap.New(core))))
	ctx := rwlock.WithOwner(context.Background(), "w")

	require.NoError(t, l.LockContext(ctx))
	l.Unlock()

	entries := logs.All()
	require.Len(t, entries, 3)

	for i, want := range []struct {
		msg   string
		level zapcore.Level
	}{
		{msg: "Asking for write lock.", level: zapcore.DebugLevel},
		{msg: "Got write lock.", level: zapcore.InfoLevel},
		{msg: "About to release write lock.", level: zapcore.InfoLevel},
	} {
		require.Equal(t, want.msg, entries[i].Message)
		require.Equal(t, want.level, entries[i].Level)
		require.Equal(t, "write", entries[i].ContextMap()["mode"])
	}
	require.Equal(t, "w", entries[0].ContextMap()["owner"])
}

func TestZap_LevelFilter(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	l := rwlock.New(rwlock.WithObserver(NewZap(zap.New(core))))

	l.RLock()
	ctx, cancel := context.WithCancel(rwlock.WithOwner(context.Background(), "impatient"))
	cancel()
	require.ErrorIs(t, l.LockContext(ctx), context.Canceled)
	l.RUnlock()

	entries := logs.All()
	require.Len(t, entries, 1)
	require.Equal(t, rwlock.AbandonWrite.String(), entries[0].Message)
	require.Equal(t, "impatient", entries[0].ContextMap()["owner"])
}

func TestSlog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	l := rwlock.New(rwlock.WithObserver(NewSlog(logger)))

	require.NoError(t, l.RLockContext(rwlock.WithOwner(context.Background(), "r")))
	l.RUnlock()

	type record struct {
		Level string `json:"level"`
		Msg   string `json:"msg"`
		Owner string `json:"owner"`
		Mode  string `json:"mode"`
	}
	var records []record
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var r record
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		records = append(records, r)
	}
	require.NoError(t, sc.Err())

	require.Len(t, records, 3)
	require.Equal(t, record{Level: "DEBUG", Msg: "Asking for read lock.", Owner: "r", Mode: "read"}, records[0])
	require.Equal(t, record{Level: "INFO", Msg: "Got read lock.", Owner: "r", Mode: "read"}, records[1])
	require.Equal(t, "About to release read lock.", records[2].Msg)
}

func TestMulti(t *testing.T) {
	var first, second []rwlock.Phase
	obs := Multi(
		rwlock.ObserverFunc(func(_ string, p rwlock.Phase) { first = append(first, p) }),
		nil,
		rwlock.ObserverFunc(func(_ string, p rwlock.Phase) { second = append(second, p) }),
	)

	l := rwlock.New(rwlock.WithObserver(obs))
	l.RLock()
	l.RUnlock()

	want := []rwlock.Phase{rwlock.AskRead, rwlock.GotRead, rwlock.ReleaseRead}
	require.Equal(t, want, first)
	require.Equal(t, want, second)
}
