package workspace

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports changes to a workspace's raw image set. It exists so
// a session can keep an advisory drift count current while images are
// copied in or deleted underneath it. It only reports; reconciling
// the database against the file system stays an explicit operation.
type Watcher struct {
	fw *fsnotify.Watcher

	// Changes delivers a fresh scan of the raw image set whenever an
	// image file appears, disappears or is renamed. The channel is
	// closed when the watcher is closed.
	Changes chan []string
}

// NewWatcher starts watching the workspace root for raw-image changes.
func NewWatcher(root string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fw.Add(root); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", root, err)
	}

	w := &Watcher{
		fw:      fw,
		Changes: make(chan []string, 1),
	}
	go w.loop(root)
	return w, nil
}

func (w *Watcher) loop(root string) {
	defer close(w.Changes)
	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if !isImageEvent(ev) {
				continue
			}
			paths, err := ListImages(root)
			if err != nil {
				continue
			}
			// Coalesce: drop a stale pending scan if nobody read it.
			select {
			case <-w.Changes:
			default:
			}
			w.Changes <- paths
		case _, ok := <-w.fw.Errors:
			if !ok {
				return
			}
		}
	}
}

func isImageEvent(ev fsnotify.Event) bool {
	if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Remove) && !ev.Op.Has(fsnotify.Rename) {
		return false
	}
	ext := filepath.Ext(ev.Name)
	return ext == ".jpg" || ext == ".png"
}

// Close stops the watcher and closes the Changes channel.
func (w *Watcher) Close() error {
	return w.fw.Close()
}
