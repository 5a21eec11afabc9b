package config

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func minimalRouting(receiver string) string {
	return fmt.Sprintf("route:\n  receiver: %s\nreceivers:\n  - name: %s\n", receiver, receiver)
}

func startWatcher(t *testing.T, path string) <-chan *RoutingConfig {
	t.Helper()

	ch := make(chan *RoutingConfig, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := WatchRoutingConfig(ctx, path, func(cfg *RoutingConfig) { ch <- cfg }); err != nil {
			t.Errorf("watcher stopped with error: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Let the watch establish before the test mutates the file.
	time.Sleep(100 * time.Millisecond)
	return ch
}

func waitForReceiver(t *testing.T, ch <-chan *RoutingConfig, want string) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case cfg := <-ch:
			if cfg.Route.Receiver == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for a reload with receiver %q", want)
		}
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	path := writeRoutingFile(t, minimalRouting("v1"))
	ch := startWatcher(t, path)

	require.NoError(t, os.WriteFile(path, []byte(minimalRouting("v2")), 0o644))
	waitForReceiver(t, ch, "v2")
}

func TestWatchSurvivesAtomicReplace(t *testing.T) {
	path := writeRoutingFile(t, minimalRouting("v1"))
	ch := startWatcher(t, path)

	replace := func(content string) {
		tmp := path + ".tmp"
		require.NoError(t, os.WriteFile(tmp, []byte(content), 0o644))
		require.NoError(t, os.Rename(tmp, path))
	}

	replace(minimalRouting("v2"))
	waitForReceiver(t, ch, "v2")

	// The watch must survive the inode swap and pick up the next save too.
	replace(minimalRouting("v3"))
	waitForReceiver(t, ch, "v3")
}
