package policy

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the provider when the policy file changes. A file that
// fails to parse or validate is ignored and the previous tables stay
// active. Blocks until ctx is done.
func Watch(ctx context.Context, path string, provider *Provider, logger *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(path); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			pol, err := Load(path)
			if err != nil {
				logger.Warn("policy reload rejected, keeping previous tables", "path", path, "error", err)
				continue
			}
			provider.Replace(pol)
			logger.Info("policy reloaded", "path", path, "policy_id", pol.ID)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("policy watcher error", "error", err)
		}
	}
}
