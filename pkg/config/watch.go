package config

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// WatchRoutingConfig monitors the routing policy file and calls onChange
// with the freshly validated config each time the file is rewritten. It runs
// until ctx is cancelled.
//
// A reload that fails validation is logged and skipped; the previous policy
// stays active.
func WatchRoutingConfig(ctx context.Context, path string, onChange func(*RoutingConfig)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	logrus.Infof("Watching routing config %s for changes", path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			switch {
			case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
				// Atomic saves (editor rename, ConfigMap symlink swap)
				// replace the inode, leaving the old watch dead. Re-watch
				// the path, waiting briefly for the replacement to appear.
				if err := rewatch(watcher, path); err != nil {
					logrus.Errorf("Lost watch on routing config %s: %v", path, err)
					continue
				}
			case !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create):
				continue
			}

			cfg, err := LoadRoutingConfig(path)
			if err != nil {
				logrus.Errorf("Routing config reload failed, keeping previous policy: %v", err)
				continue
			}

			logrus.Infof("Routing config %s reloaded", path)
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logrus.Errorf("Routing config watcher error: %v", err)
		}
	}
}

func rewatch(watcher *fsnotify.Watcher, path string) error {
	var err error
	for i := 0; i < 20; i++ {
		if err = watcher.Add(path); err == nil {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return err
}
