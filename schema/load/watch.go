package load

import (
	"context"

	"github.com/fsnotify/fsnotify"

	"github.com/syssam/loom/graph"
)

// A Watcher rebuilds the relation graph whenever the schema document
// changes on disk. Each successful rebuild delivers a fresh graph on
// Graphs; rebuild failures are delivered on Errors and leave the previous
// graph in service.
type Watcher struct {
	path   string
	fw     *fsnotify.Watcher
	graphs chan *graph.Graph
	errs   chan error
}

// Watch starts watching the schema document at path. The initial load
// happens synchronously so a broken document fails fast.
func Watch(ctx context.Context, path string) (*graph.Graph, *Watcher, error) {
	g, err := File(path)
	if err != nil {
		return nil, nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, nil, err
	}
	w := &Watcher{
		path:   path,
		fw:     fw,
		graphs: make(chan *graph.Graph, 1),
		errs:   make(chan error, 1),
	}
	go w.loop(ctx)
	return g, w, nil
}

// Graphs delivers a fresh sealed graph after each successful rebuild.
func (w *Watcher) Graphs() <-chan *graph.Graph { return w.graphs }

// Errors delivers rebuild failures.
func (w *Watcher) Errors() <-chan error { return w.errs }

// Close stops the watcher.
func (w *Watcher) Close() error { return w.fw.Close() }

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.graphs)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			g, err := File(w.path)
			if err != nil {
				select {
				case w.errs <- err:
				default:
				}
				continue
			}
			// Drop a stale pending graph so readers always see the latest.
			select {
			case <-w.graphs:
			default:
			}
			w.graphs <- g
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			default:
			}
		}
	}
}
