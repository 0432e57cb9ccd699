package watcher

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// EventKind classifies a directory notification by its effect on a name.
type EventKind int

const (
	// Appeared: a name came into existence (created or renamed into place).
	Appeared EventKind = iota + 1
	// Vanished: a name went away (renamed away or removed).
	Vanished
	// Modified: content or metadata changed under an existing name.
	Modified
)

func (k EventKind) String() string {
	switch k {
	case Appeared:
		return "appeared"
	case Vanished:
		return "vanished"
	case Modified:
		return "modified"
	}
	return "unknown"
}

// Event is a notification about one base name inside the watched directory.
type Event struct {
	Name string
	Kind EventKind
}

// Source delivers directory notifications. No ordering or batching between
// notifications for different names is assumed.
type Source interface {
	Events() <-chan Event
	Errors() <-chan error
	Close() error
}

// SourceFunc opens a Source on a directory.
type SourceFunc func(dir string) (Source, error)

type fsSource struct {
	fw     *fsnotify.Watcher
	dir    string
	events chan Event
	errors chan error
	done   chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// NewFSSource watches dir (not recursively) with fsnotify.
func NewFSSource(dir string) (Source, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, err
	}

	s := &fsSource{
		fw:     fw,
		dir:    filepath.Clean(dir),
		events: make(chan Event, 16),
		errors: make(chan error, 1),
		done:   make(chan struct{}),
	}
	go s.run()
	return s, nil
}

func (s *fsSource) Events() <-chan Event { return s.events }
func (s *fsSource) Errors() <-chan error { return s.errors }

func (s *fsSource) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.closeErr = s.fw.Close()
	})
	return s.closeErr
}

func (s *fsSource) run() {
	defer close(s.events)
	defer close(s.errors)

	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.fw.Events:
			if !ok {
				return
			}
			translated, keep := s.translate(ev)
			if !keep {
				continue
			}
			select {
			case s.events <- translated:
			case <-s.done:
				return
			}
		case err, ok := <-s.fw.Errors:
			if !ok {
				return
			}
			select {
			case s.errors <- err:
			case <-s.done:
				return
			}
		}
	}
}

func (s *fsSource) translate(ev fsnotify.Event) (Event, bool) {
	if filepath.Dir(ev.Name) != s.dir {
		return Event{}, false
	}

	out := Event{Name: filepath.Base(ev.Name)}
	switch {
	case ev.Has(fsnotify.Create):
		out.Kind = Appeared
	case ev.Has(fsnotify.Rename), ev.Has(fsnotify.Remove):
		out.Kind = Vanished
	default:
		out.Kind = Modified
	}
	return out, true
}
