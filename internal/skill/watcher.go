package skill

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/arche-ai/arche/internal/logging"
)

// Watcher observes a skills directory and reports changed skill names.
// Skill directories added after the watcher starts are picked up.
type Watcher struct {
	fs       *fsnotify.Watcher
	onChange func(name string)
	log      zerolog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// Watch starts watching dir. onChange is called with the skill name
// whenever a skill definition is created, rewritten, or removed.
func Watch(dir string, onChange func(name string)) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fs.Add(dir); err != nil {
		fs.Close()
		return nil, err
	}

	w := &Watcher{
		fs:       fs,
		onChange: onChange,
		log:      logging.ForComponent("skill-watcher"),
		done:     make(chan struct{}),
	}

	// Watch existing skill subdirectories for definition rewrites.
	if entries, err := filepath.Glob(filepath.Join(dir, "*")); err == nil {
		for _, entry := range entries {
			_ = fs.Add(entry)
		}
	}

	go w.loop()
	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.fs.Close()
		<-w.done
	})
	return err
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("skills watch error")
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op.Has(fsnotify.Create) {
		// A new skill directory needs its own watch for the file
		// written into it. The definition may already be there: its
		// write can land before the watch is in place, so check for
		// it directly.
		_ = w.fs.Add(ev.Name)
		if _, err := os.Stat(filepath.Join(ev.Name, Filename)); err == nil {
			w.onChange(filepath.Base(ev.Name))
		}
	}

	base := filepath.Base(ev.Name)
	switch {
	case base == Filename:
		name := filepath.Base(filepath.Dir(ev.Name))
		w.log.Debug().Str("skill", name).Str("op", ev.Op.String()).Msg("skill definition changed")
		w.onChange(name)
	case ev.Op.Has(fsnotify.Remove) && !strings.HasPrefix(base, "."):
		// Removing the whole skill directory.
		w.onChange(base)
	}
}
