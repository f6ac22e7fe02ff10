package config

import (
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the config file when it changes on disk and hands each
// valid reload to onChange. Invalid edits are logged and skipped so the
// running config never regresses. The returned stop function ends the
// watch.
func Watch(path string, onChange func(Config)) (func(), error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory, not the file: editors replace files on save
	// and the watch would die with the old inode.
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}

	target := filepath.Clean(path)
	done := make(chan struct{})

	go func() {
		var timer *time.Timer
		for {
			select {
			case <-done:
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				// Debounce bursts of events from a single save.
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(250*time.Millisecond, func() {
					cfg, err := Load(path)
					if err != nil {
						log.Printf("CONFIG: reload skipped: %v", err)
						return
					}
					log.Printf("CONFIG: reloaded %s", path)
					onChange(cfg)
				})
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Printf("CONFIG: watch error: %v", err)
			}
		}
	}()

	stop := func() {
		close(done)
		w.Close()
	}
	return stop, nil
}
