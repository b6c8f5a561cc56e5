package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papapumpkin/kiln/internal/testutil"
)

func startWatcher(t *testing.T, files ...string) *Watcher {
	t.Helper()
	logger, _ := testutil.NewLogger()
	w, err := New(50*time.Millisecond, logger)
	require.NoError(t, err)
	w.SetFiles(files)
	w.Start()
	t.Cleanup(w.Stop)
	return w
}

func TestWatcher_ReportsWatchedFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "main.c")
	require.NoError(t, os.WriteFile(src, []byte("int main;"), 0o644))

	w := startWatcher(t, src)
	require.NoError(t, os.WriteFile(src, []byte("int main(){}"), 0o644))

	select {
	case batch := <-w.Changes:
		assert.Equal(t, []string{src}, batch)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
	}
}

func TestWatcher_BatchesBurst(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.c")
	b := filepath.Join(dir, "b.c")

	w := startWatcher(t, a, b)
	require.NoError(t, os.WriteFile(a, []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(a, []byte("aa"), 0o644))

	select {
	case batch := <-w.Changes:
		assert.Equal(t, []string{a, b}, batch)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
	}
}

func TestWatcher_IgnoresUnwatchedFiles(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, filepath.Join(dir, "main.c"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	select {
	case batch := <-w.Changes:
		t.Errorf("unexpected change: %v", batch)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcher_MissingDirectoryIsSkipped(t *testing.T) {
	logger, logs := testutil.NewLogger()
	w, err := New(0, logger)
	require.NoError(t, err)
	defer w.Stop()
	w.Start()

	w.SetFiles([]string{filepath.Join(t.TempDir(), "gone", "x.c")})
	assert.True(t, logs.Contains("cannot watch directory"))
}

func TestRun_StopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.txt")
	w := startWatcher(t, src)

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan []string, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- Run(ctx, w, func(_ context.Context, changed []string) {
			got <- changed
			cancel()
		})
	}()

	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	select {
	case changed := <-got:
		assert.Equal(t, []string{src}, changed)
	case <-time.After(2 * time.Second):
		t.Fatal("rebuild not called")
	}
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}
