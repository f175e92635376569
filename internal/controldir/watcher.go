package controldir

import (
	"fmt"
	"strings"

	"github.com/codefionn/sessionwire/internal/logger"
	"github.com/fsnotify/fsnotify"
)

// Watcher reports changes to the session directory: sockets or aliases
// being created, removed, or retargeted. Used by the CLI's watch mode to
// refresh its listing without polling.
type Watcher struct {
	fsw *fsnotify.Watcher

	// Changes receives one signal per relevant filesystem event. The
	// channel is never closed while the watcher is open; consumers
	// should select against their own done channel.
	Changes chan struct{}

	done chan struct{}
}

// Watch starts watching the control directory. The directory is created
// first if missing, since fsnotify cannot watch a nonexistent path.
func (d *Dir) Watch() (*Watcher, error) {
	if err := d.Ensure(); err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create directory watcher: %w", err)
	}
	if err := fsw.Add(d.Path); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", d.Path, err)
	}

	w := &Watcher{
		fsw:     fsw,
		Changes: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, SocketSuffix) && !strings.HasSuffix(event.Name, AliasSuffix) {
				continue
			}
			// Coalesce: one pending signal is enough.
			select {
			case w.Changes <- struct{}{}:
			default:
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Debug("controldir: watch error: %v", err)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
