package garage

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDelay lets an editor finish writing before the file is read.
const reloadDelay = 250 * time.Millisecond

// Watch reloads the snapshot whenever its file changes, until ctx is
// cancelled. The parent directory is watched rather than the file so
// that editors which replace the file by rename keep being followed.
// Reload failures are logged and leave the model untouched.
func (s *Source) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create garage watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(s.file)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(s.file)

	s.logger.Info("watching garage snapshot", "file", s.file)

	timer := time.NewTimer(reloadDelay)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			s.logger.Debug("garage snapshot changed", "op", ev.Op.String())
			timer.Reset(reloadDelay)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("garage watcher error", "error", err)
		case <-timer.C:
			if err := s.Load(ctx); err != nil {
				s.logger.Error("garage snapshot reload failed",
					"file", s.file,
					"error", err,
				)
				continue
			}
			s.logger.Info("garage snapshot reloaded", "file", s.file)
		}
	}
}
