package session

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/binbridge/binbridge/internal/errors"
)

// WatchFile appends a log entry whenever the loaded binary changes on disk.
// The analysis is not reloaded; clients polling log_messages learn that the
// results may be stale. Watching stops on terminate or when ctx ends.
func (s *Session) WatchFile(ctx context.Context) error {
	path, err := s.FilePath()
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	// Watch the directory: editors and linkers often replace files by rename.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		cancel()
		_ = watcher.Close()
		return ErrTerminated
	}
	s.stopWatch = cancel
	s.mu.Unlock()

	go s.watchLoop(ctx, watcher, filepath.Clean(path))
	return nil
}

func (s *Session) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, path string) {
	defer errors.DeferClose(s.logger, watcher, "file watcher")

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			switch {
			case ev.Has(fsnotify.Write), ev.Has(fsnotify.Create):
				s.log.Append(fmt.Sprintf("file %s changed on disk; analysis results may be stale", path))
			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				s.log.Append(fmt.Sprintf("file %s was removed or renamed", path))
			default:
				continue
			}
			s.logger.Info().Str("file", path).Str("op", ev.Op.String()).Msg("Loaded file changed")
		case werr, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn().Err(werr).Msg("File watcher error")
		}
	}
}
