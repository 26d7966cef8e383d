package reload

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recorder() (Func, chan string) {
	calls := make(chan string, 16)
	return func(_ context.Context, source string) error {
		calls <- source
		return nil
	}, calls
}

func waitFor(t *testing.T, calls chan string, want string) {
	t.Helper()
	select {
	case got := <-calls:
		assert.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("no %s reload within 2s", want)
	}
}

func TestWatcher_WatchFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte("entities: []\n"), 0o644))

	fn, calls := recorder()
	w, err := NewWatcher(path, fn, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, w.WatchFile(context.Background()))
	defer w.Stop()

	// Other files in the directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(path, []byte("entities: [{name: A}]\n"), 0o644))

	waitFor(t, calls, SourceFile)
}

func TestWatcher_WatchSignals(t *testing.T) {
	fn, calls := recorder()
	w, err := NewWatcher("schema.yaml", fn, zerolog.Nop())
	require.NoError(t, err)
	w.WatchSignals(context.Background())
	defer w.Stop()

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGHUP))

	waitFor(t, calls, SourceSignal)
}

func TestWatcher_FailedReloadKeepsWatching(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0o644))

	attempts := make(chan struct{}, 16)
	w, err := NewWatcher(path, func(context.Context, string) error {
		attempts <- struct{}{}
		return errors.New("invalid schema")
	}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, w.WatchFile(context.Background()))
	defer w.Stop()

	for i := 0; i < 2; i++ {
		require.NoError(t, os.WriteFile(path, []byte{byte('b' + i)}, 0o644))
		select {
		case <-attempts:
		case <-time.After(2 * time.Second):
			t.Fatalf("attempt %d not observed", i+1)
		}
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	fn, _ := recorder()
	w, err := NewWatcher("schema.yaml", fn, zerolog.Nop())
	require.NoError(t, err)
	w.Stop()
	w.Stop()
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisTrigger_ReloadsOnMessage(t *testing.T) {
	_, client := setupRedis(t)
	fn, calls := recorder()
	trigger := NewRedisTrigger(client, "", "", fn, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- trigger.Run(ctx, ready) }()

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not ready")
	}

	require.NoError(t, trigger.Notify(context.Background(), "abc123"))
	waitFor(t, calls, SourceRedis)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRedisTrigger_Fingerprint(t *testing.T) {
	mr, client := setupRedis(t)
	fn, _ := recorder()
	trigger := NewRedisTrigger(client, "reloads", "schema:fp", fn, zerolog.Nop())
	ctx := context.Background()

	fp, err := trigger.Active(ctx)
	require.NoError(t, err)
	assert.Empty(t, fp)

	require.NoError(t, trigger.Record(ctx, "deadbeef"))
	fp, err = trigger.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", fp)

	got, err := mr.Get("schema:fp")
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", got)
}

func TestRedisTrigger_Unavailable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	fn, _ := recorder()
	trigger := NewRedisTrigger(client, "", "", fn, zerolog.Nop())
	mr.Close()

	assert.Error(t, trigger.Record(context.Background(), "x"))
	assert.Error(t, trigger.Notify(context.Background(), "x"))
}
