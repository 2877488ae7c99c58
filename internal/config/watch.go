package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/user/notifirc"
)

// DebounceInterval is how long the watcher waits after the last filesystem
// event before firing a reload.
const DebounceInterval = 500 * time.Millisecond

// DirWatcher watches the config directory and its category sub-directories
// and invokes the reload callback after events settle.
type DirWatcher struct {
	log      notifirc.Logger
	dir      string
	onChange func()

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewDirWatcher builds a watcher over dir and its four category
// sub-directories. onChange runs on the watcher goroutine.
func NewDirWatcher(dir string, log notifirc.Logger, onChange func()) (*DirWatcher, error) {
	if log == nil {
		log = notifirc.NopLogger{}
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}
	for _, cat := range Categories {
		if err := w.Add(filepath.Join(dir, cat)); err != nil {
			log.Warn("cannot watch category directory", "category", cat, "error", err)
		}
	}
	return &DirWatcher{log: log, dir: dir, onChange: onChange, watcher: w}, nil
}

// Start runs the event loop until Stop is called.
func (d *DirWatcher) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	go d.run(ctx)
}

func (d *DirWatcher) run(ctx context.Context) {
	defer close(d.done)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if !d.relevant(ev) {
				continue
			}
			d.log.Debug("config change detected", "file", ev.Name, "op", ev.Op.String())
			if timer == nil {
				timer = time.NewTimer(DebounceInterval)
				fire = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(DebounceInterval)
			}
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.log.Error("config watcher error", "error", err)
		case <-fire:
			timer, fire = nil, nil
			d.onChange()
		}
	}
}

// relevant drops temp-file noise from the atomic-write helper and anything
// that is not a JSON config.
func (d *DirWatcher) relevant(ev fsnotify.Event) bool {
	base := filepath.Base(ev.Name)
	if len(base) > 0 && base[0] == '.' {
		return false
	}
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	return filepath.Ext(base) == ".json"
}

// Stop tears the watcher down and waits for the event loop to exit.
func (d *DirWatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.watcher.Close()
	if d.done != nil {
		<-d.done
	}
}
