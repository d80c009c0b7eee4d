package collector

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIgnoreSet(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".gitignore"), []byte("# build output\nbin/\n*.log\n!keep.log\n"), 0o644))

	set, err := loadIgnoreSet(root, []string{"vendor"})
	require.NoError(t, err)

	cases := map[string]bool{
		"main.go":                   false,
		".git/HEAD":                 true,
		".stopgate/ledger.json":     true,
		"bin/stopgate":              true,
		"logs/debug.log":            true,
		"vendor/github.com/x/y.go":  true,
		"internal/ledger/ledger.go": false,
	}
	for rel, want := range cases {
		assert.Equal(t, want, set.match(filepath.Join(root, rel)), rel)
	}
	assert.False(t, set.match(root))
}

func TestWatchDebouncesChanges(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "src"), 0o755))

	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, root, func(context.Context) error {
			calls.Add(1)
			return nil
		}, WatchOptions{Debounce: 100 * time.Millisecond})
	}()

	// Give the watcher time to register directories.
	time.Sleep(200 * time.Millisecond)
	for i := range 5 {
		require.NoError(t, os.WriteFile(filepath.Join(root, "src", "a.go"), []byte{byte('a' + i)}, 0o644))
	}

	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, 5*time.Second, 20*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load(), "a burst of writes should fire one callback")

	// Ignored paths never trigger the callback.
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".stopgate"), 0o755))
	time.Sleep(50 * time.Millisecond)
	before := calls.Load()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".stopgate", "ledger.json"), []byte("{}"), 0o644))
	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, before, calls.Load())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancellation")
	}
}
