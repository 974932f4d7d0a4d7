package vfs

import (
	"github.com/fsnotify/fsnotify"

	"github.com/quakecore/q2srv/internal/logging"
)

// Watcher flushes an FS's path cache whenever one of its search-path
// directories changes on disk.
type Watcher struct {
	fs *FS
	w  *fsnotify.Watcher
}

// Watch starts watching every plain directory overlay currently in fs's
// search path. It does not watch pack archives; those are immutable for the
// life of the process.
func Watch(fs *FS) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, dir := range fs.Search().Dirs() {
		if err := w.Add(dir); err != nil {
			logging.Subsystem("vfs").Warn("watch directory failed", "dir", dir, "err", err)
			continue
		}
	}
	watcher := &Watcher{fs: fs, w: w}
	go watcher.loop()
	return watcher, nil
}

func (w *Watcher) loop() {
	log := logging.Subsystem("vfs")
	for {
		select {
		case ev, ok := <-w.w.Events:
			if !ok {
				return
			}
			log.Debug("game directory changed, flushing path cache", "event", ev.String())
			w.fs.FlushCache()
		case err, ok := <-w.w.Errors:
			if !ok {
				return
			}
			log.Warn("fsnotify error", "err", err)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.w.Close()
}
