package simnet

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"lnprobe/internal/infra/metrics"
)

const reloadDebounce = 200 * time.Millisecond

// Watch reloads the graph whenever path changes, until ctx is cancelled.
// The parent directory is watched so editors that replace the file by
// rename are picked up too. A file that fails to parse leaves the previous
// graph in place.
func (n *Network) Watch(ctx context.Context, path string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return err
	}
	n.logger.Info().Str("path", abs).Msg("watcher: started")

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			n.logger.Info().Msg("watcher: stopped")
			return nil

		case <-fire:
			fire = nil
			if err := n.Reload(abs); err != nil {
				metrics.GraphReloads.WithLabelValues("error").Inc()
				n.logger.Warn().Err(err).Str("path", abs).Msg("watcher: reload failed")
				continue
			}
			metrics.GraphReloads.WithLabelValues("ok").Inc()
			n.logger.Info().Str("path", abs).Int("channels", len(n.state().snapshot.Channels)).Msg("watcher: graph reloaded")

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			fire = timer.C

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			n.logger.Error().Err(err).Msg("watcher: error")
		}
	}
}
