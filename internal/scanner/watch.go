package scanner

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// localWatcher is an optional fsnotify-based fallback for live updates on
// hosts where the external audit-log bridge described in SPEC_FULL.md §4.5
// isn't available. It translates fsnotify events into the same
// Scanner.OnChange calls the HTTP audit path uses, and installs watches on
// newly discovered directories the way the teacher's cache.Service does in
// addWatch/watchLoop.
type localWatcher struct {
	scanner *Scanner
	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
}

func newLocalWatcher(s *Scanner) (*localWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	lw := &localWatcher{scanner: s, watcher: w, ctx: ctx, cancel: cancel}

	if err := lw.addTree(s.root); err != nil {
		w.Close()
		cancel()
		return nil, err
	}

	go lw.loop()
	return lw, nil
}

// addTree installs a watch on dir and every non-excluded subdirectory.
func (lw *localWatcher) addTree(dir string) error {
	if isExcluded(filepath.Base(dir), lw.scanner.excludedPatterns) && dir != lw.scanner.root {
		return nil
	}
	if err := lw.watcher.Add(dir); err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	for _, entry := range entries {
		if entry.IsDir() {
			_ = lw.addTree(filepath.Join(dir, entry.Name()))
		}
	}
	return nil
}

func (lw *localWatcher) loop() {
	for {
		select {
		case <-lw.ctx.Done():
			return
		case evt, ok := <-lw.watcher.Events:
			if !ok {
				return
			}
			lw.handle(evt)
		case _, ok := <-lw.watcher.Errors:
			if !ok {
				return
			}
			// Errors surface as lost events; they are not replayed, and
			// anything missed is reconciled only by the next FullScan of
			// the root (which the scanner does not schedule on its own).
		}
	}
}

func (lw *localWatcher) handle(evt fsnotify.Event) {
	switch {
	case evt.Op&fsnotify.Create == fsnotify.Create:
		info, err := os.Stat(evt.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			lw.scanner.OnChange(evt.Name, Mkdir)
			_ = lw.addTree(evt.Name)
		} else {
			lw.scanner.OnChange(evt.Name, Create)
		}
	case evt.Op&fsnotify.Write == fsnotify.Write:
		if info, err := os.Stat(evt.Name); err == nil && !info.IsDir() {
			lw.scanner.OnChange(evt.Name, Create)
		}
	case evt.Op&fsnotify.Remove == fsnotify.Remove, evt.Op&fsnotify.Rename == fsnotify.Rename:
		// The path is already gone; a stat can't distinguish file from
		// directory removal, so prune both forms. Rmdir's prefix delete
		// already removes the row at the path itself, so the Delete that
		// follows finds nothing left to remove.
		lw.scanner.OnChange(evt.Name, Rmdir)
		lw.scanner.OnChange(evt.Name, Delete)
	}
}

func (lw *localWatcher) stop() {
	lw.cancel()
	lw.watcher.Close()
}
