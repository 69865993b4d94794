package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func tempFile(t *testing.T, name, content string) string {
	t.Helper()
	f := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(f, []byte(content), 0o644))
	return f
}

// bumpModTime 保证修改时间前进，避免文件系统时间精度导致漏检
func bumpModTime(t *testing.T, path string, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))
}

func TestNewFileWatcher_Defaults(t *testing.T) {
	f := tempFile(t, "test.yaml", "key: val")

	w, err := NewFileWatcher([]string{f})
	require.NoError(t, err)

	assert.Equal(t, []string{f}, w.Paths())
	assert.False(t, w.IsRunning())
	assert.Equal(t, 100*time.Millisecond, w.debounceDelay)
	assert.Equal(t, time.Second, w.pollInterval)
}

func TestNewFileWatcher_WithOptions(t *testing.T) {
	f := tempFile(t, "test.yaml", "key: val")

	w, err := NewFileWatcher([]string{f},
		WithDebounceDelay(500*time.Millisecond),
		WithPollInterval(20*time.Millisecond),
		WithWatcherLogger(zap.NewNop()),
	)
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, w.debounceDelay)
	assert.Equal(t, 20*time.Millisecond, w.pollInterval)
}

func TestNewFileWatcher_NonExistentPathAllowed(t *testing.T) {
	w, err := NewFileWatcher([]string{"/nonexistent/path/config.yaml"})
	require.NoError(t, err)
	require.NotNil(t, w)
}

func TestFileWatcher_AddRemovePath(t *testing.T) {
	f1 := tempFile(t, "a.yaml", "a")
	f2 := tempFile(t, "b.yaml", "b")

	w, err := NewFileWatcher([]string{f1})
	require.NoError(t, err)

	require.NoError(t, w.AddPath(f2))
	require.NoError(t, w.AddPath(f2))
	assert.Equal(t, []string{f1, f2}, w.Paths())

	require.NoError(t, w.RemovePath(f1))
	assert.Equal(t, []string{f2}, w.Paths())
	assert.Error(t, w.RemovePath(f1))
}

func TestFileWatcher_Lifecycle(t *testing.T) {
	f := tempFile(t, "config.yaml", "v1")
	w, err := NewFileWatcher([]string{f})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, w.Start(ctx))
	assert.True(t, w.IsRunning())
	assert.Error(t, w.Start(ctx), "double start")

	require.NoError(t, w.Stop())
	assert.False(t, w.IsRunning())
	require.NoError(t, w.Stop(), "stop is idempotent")
}

func TestFileWatcher_DetectsWriteAndCoalesces(t *testing.T) {
	f := tempFile(t, "config.yaml", "v0")
	w, err := NewFileWatcher([]string{f},
		WithPollInterval(10*time.Millisecond),
		WithDebounceDelay(50*time.Millisecond))
	require.NoError(t, err)

	var mu sync.Mutex
	var events []FileEvent
	w.OnChange(func(evt FileEvent) {
		mu.Lock()
		events = append(events, evt)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() { _ = w.Stop() })

	bumpModTime(t, f, "v1")

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, FileOpWrite, events[0].Op)
	assert.Equal(t, f, events[0].Path)
	mu.Unlock()
}

func TestFileWatcher_DetectsCreateAndRemove(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "late.yaml")

	w, err := NewFileWatcher([]string{f},
		WithPollInterval(10*time.Millisecond),
		WithDebounceDelay(10*time.Millisecond))
	require.NoError(t, err)

	ops := make(chan FileOp, 4)
	w.OnChange(func(evt FileEvent) { ops <- evt.Op })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() { _ = w.Stop() })

	require.NoError(t, os.WriteFile(f, []byte("x"), 0o644))
	select {
	case op := <-ops:
		assert.Equal(t, FileOpCreate, op)
	case <-time.After(2 * time.Second):
		t.Fatal("create not detected")
	}

	require.NoError(t, os.Remove(f))
	select {
	case op := <-ops:
		assert.Equal(t, FileOpRemove, op)
	case <-time.After(2 * time.Second):
		t.Fatal("remove not detected")
	}
}

func TestFileWatcher_ContextCancel(t *testing.T) {
	f := tempFile(t, "config.yaml", "v1")
	w, err := NewFileWatcher([]string{f}, WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	cancel()

	// loop 已因 ctx 退出，Stop 不应阻塞
	done := make(chan struct{})
	go func() {
		_ = w.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked after context cancellation")
	}
	assert.False(t, w.IsRunning())
}

func TestFileOp_String(t *testing.T) {
	assert.Equal(t, "CREATE", FileOpCreate.String())
	assert.Equal(t, "WRITE", FileOpWrite.String())
	assert.Equal(t, "REMOVE", FileOpRemove.String())
	assert.Equal(t, "UNKNOWN", FileOp(42).String())
}
