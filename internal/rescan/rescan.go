// Package rescan is the filesystem side of the post-apply rescan signal:
// it arms an fsnotify watch on every directory touched by an applied
// proposal and logs when something changes one of those files outside
// the IO Actor's own write path, since a later read would then fail
// its expected-hash check rather than silently applying against stale
// content.
package rescan

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/weave-editor/weave/internal/eventbus"
	"github.com/weave-editor/weave/internal/logging"
)

// Watcher arms directory watches from PostApplyRescan events drained off
// an Event Bus background subscription.
type Watcher struct {
	fs      *fsnotify.Watcher
	sub     <-chan eventbus.Envelope
	watched map[string]bool
	log     *logging.Logger

	stop chan struct{}
	done chan struct{}
}

// New creates a Watcher draining sub and starts its event loop. sub is
// typically bus.Subscribe(eventbus.PriorityBackground).
func New(sub <-chan eventbus.Envelope) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fs:      fs,
		sub:     sub,
		watched: make(map[string]bool),
		log:     logging.Get(logging.CategoryRescan),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case env, ok := <-w.sub:
			if !ok {
				return
			}
			if rescan, ok := env.Payload.(eventbus.PostApplyRescan); ok {
				w.arm(rescan.Files)
			}

		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.log.Warn("external change detected on %s (%s) after apply; next read will catch a stale hash", ev.Name, ev.Op)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error: %v", err)

		case <-w.stop:
			return
		}
	}
}

// arm adds the directory of every file in files to the watch set, no-op
// for directories already being watched.
func (w *Watcher) arm(files []string) {
	for _, f := range files {
		dir := filepath.Dir(f)
		if w.watched[dir] {
			continue
		}
		if err := w.fs.Add(dir); err != nil {
			w.log.Warn("arm watch on %s: %v", dir, err)
			continue
		}
		w.watched[dir] = true
	}
}

// Close stops the event loop and releases the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	close(w.stop)
	<-w.done
	return w.fs.Close()
}
