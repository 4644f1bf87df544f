package app

import (
	"fmt"
	"path/filepath"
	"time"

	"rgb-aligner/internal/channel"
	"rgb-aligner/internal/logging"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// DefaultDebounce is how long a channel file must be quiet before a change
// is reported.
const DefaultDebounce = 300 * time.Millisecond

// ChannelWatcher reports when any of the three channel files is rewritten.
// Parent directories are watched so that editors which replace files by
// rename are still seen.
type ChannelWatcher struct {
	watcher  *fsnotify.Watcher
	paths    map[string]channel.Index
	dirs     []string
	debounce time.Duration
	log      logrus.FieldLogger
	onChange func(idx channel.Index, path string) // Called from the watch goroutine
	started  bool
	stopCh   chan struct{}
	done     chan struct{}
}

// NewChannelWatcher creates a watcher for the R, G and B files in paths.
func NewChannelWatcher(paths [channel.Count]string, debounce time.Duration, log logrus.FieldLogger) (*ChannelWatcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if log == nil {
		log = logging.Discard()
	}

	w := &ChannelWatcher{
		paths:    make(map[string]channel.Index, channel.Count),
		debounce: debounce,
		log:      log,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	seen := make(map[string]bool)
	for i, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("watch %s: %w", p, err)
		}
		if _, dup := w.paths[abs]; dup {
			return nil, fmt.Errorf("watch %s: file used for more than one channel", p)
		}
		w.paths[abs] = channel.Index(i)
		if dir := filepath.Dir(abs); !seen[dir] {
			seen[dir] = true
			w.dirs = append(w.dirs, dir)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w.watcher = watcher
	return w, nil
}

// OnChange sets the callback invoked after a channel file settles.
func (w *ChannelWatcher) OnChange(callback func(idx channel.Index, path string)) {
	w.onChange = callback
}

// Start begins watching in a background goroutine.
func (w *ChannelWatcher) Start() error {
	for _, dir := range w.dirs {
		if err := w.watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		w.log.WithField("dir", dir).Debug("Watching directory")
	}
	w.started = true
	go w.watchLoop()
	return nil
}

// Stop stops the watcher and waits for the watch goroutine to exit.
func (w *ChannelWatcher) Stop() error {
	close(w.stopCh)
	err := w.watcher.Close()
	if w.started {
		<-w.done
	}
	return err
}

func (w *ChannelWatcher) watchLoop() {
	defer close(w.done)

	pending := make(map[channel.Index]string)
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-w.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			idx, ok := w.paths[filepath.Clean(event.Name)]
			if !ok {
				continue
			}
			pending[idx] = event.Name
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			fire = timer.C

		case <-fire:
			fire = nil
			for i := 0; i < channel.Count; i++ {
				idx := channel.Index(i)
				path, ok := pending[idx]
				if !ok {
					continue
				}
				delete(pending, idx)
				w.log.WithFields(logrus.Fields{"channel": idx.String(), "path": path}).Info("Channel file changed")
				if w.onChange != nil {
					w.onChange(idx, path)
				}
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("Watcher error")
		}
	}
}
