package fastpagi

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// Watcher watches the configuration file and journals every change to it.
// The running supervisor never reloads its configuration, so the journal
// entry is the operator's reminder to restart.
type Watcher struct {
	Events chan EventConfigChanged

	w    *fsnotify.Watcher
	j    Journaler
	path string
}

// TryWatchConfig attempts to watch the given file asynchronously, but it will
// log into the journaler if, for some reason, it fails to watch the file.
func TryWatchConfig(ctx context.Context, path string, j Journaler) *Watcher {
	w := newWatcher(path, j)

	go func() {
		if err := w.init(); err != nil {
			j.Write(&EventWarning{
				Component: "watcher",
				Error:     fmt.Sprintf("not watching config because: %v", err),
			})
			return
		}

		w.watch(ctx)
	}()

	return w
}

// NewWatcher watches the given file and logs events into the journaler. The
// watcher is stopped once the given context is canceled.
func NewWatcher(ctx context.Context, path string, j Journaler) (*Watcher, error) {
	w := newWatcher(path, j)
	if err := w.init(); err != nil {
		return nil, err
	}

	go w.watch(ctx)
	return w, nil
}

func newWatcher(path string, j Journaler) *Watcher {
	return &Watcher{
		Events: make(chan EventConfigChanged, 1),
		w:      nil,
		j:      j,
		path:   filepath.Clean(path),
	}
}

func (w *Watcher) init() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create watcher")
	}

	// Watch the directory: editors often replace the file instead of writing
	// to it, which would silently end a watch on the file itself.
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return errors.Wrap(err, "failed to watch dir")
	}

	w.w = watcher
	return nil
}

func (w *Watcher) watch(ctx context.Context) {
	defer w.w.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case err, ok := <-w.w.Errors:
			if !ok {
				return
			}
			w.j.Write(&EventWarning{
				Component: "watcher",
				Error:     "inotify error: " + err.Error(),
			})

		case evt, ok := <-w.w.Events:
			if !ok {
				return
			}

			ev, ok := translateFsnotifyEvt(evt, w.path)
			if !ok {
				continue
			}

			w.j.Write(&ev)

			// Events is only a notification; drop it if nobody is listening.
			select {
			case w.Events <- ev:
			default:
			}
		}
	}
}

// translateFsnotifyEvt translates an fsnotify event on the watched directory
// into a config change, if it concerns the config file.
func translateFsnotifyEvt(evt fsnotify.Event, path string) (EventConfigChanged, bool) {
	if filepath.Clean(evt.Name) != path {
		return EventConfigChanged{}, false
	}

	var op string

	switch {
	case evt.Op&fsnotify.Write != 0:
		op = "write"
	case evt.Op&fsnotify.Create != 0:
		op = "create"
	case evt.Op&fsnotify.Rename != 0:
		// fsnotify does not report the new name of a rename, so a rename is
		// treated like a remove.
		// See: https://github.com/fsnotify/fsnotify/issues/26
		fallthrough
	case evt.Op&fsnotify.Remove != 0:
		op = "remove"
	default:
		return EventConfigChanged{}, false
	}

	return EventConfigChanged{Path: path, Op: op}, true
}
