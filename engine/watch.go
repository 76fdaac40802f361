package engine

import (
	"context"
	"os"

	"github.com/business-tech-dev/errthang/snapshot"
	"github.com/business-tech-dev/errthang/watcher"
)

// WatchEvents consumes w's debounced filesystem events and feeds the
// Engine accordingly: a create/write/chmod event is re-stat'd and
// applied as Put (or Remove, if the path vanished again before this
// goroutine got to it); a remove or rename event is applied as
// Remove. If the underlying Watcher ever populates Event.OldPath for
// a rename, that old path is removed and the new one put; today's
// fsnotify backend fires the rename on the source path alone and
// relies on the filesystem delivering a separate create event for the
// destination, so OldPath is typically empty. Runs until ctx is done
// or w's Events channel closes.
func (e *Engine) WatchEvents(ctx context.Context, w watcher.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events():
			if !ok {
				return
			}
			e.applyWatchEvent(ev)
		}
	}
}

func (e *Engine) applyWatchEvent(ev watcher.Event) {
	switch ev.Type {
	case watcher.EventRemove:
		e.Remove(ev.Path)
	case watcher.EventRename:
		if ev.OldPath != "" {
			e.Remove(ev.OldPath)
			e.putIfExists(ev.Path)
			return
		}
		e.Remove(ev.Path)
	default:
		e.putIfExists(ev.Path)
	}
}

func (e *Engine) putIfExists(path string) {
	info, err := os.Lstat(path)
	if err != nil {
		e.Remove(path)
		return
	}
	e.Put(snapshot.Item{
		Path:       path,
		Name:       info.Name(),
		IsDir:      info.IsDir(),
		Size:       info.Size(),
		ModTime:    info.ModTime(),
		HasModTime: !info.ModTime().IsZero(),
	})
}
