// Package watcher tails one log file per worker: a filesystem watch plus a
// polling fallback drive reads from a private cursor, and every complete
// line is parsed through the owning client's adapter.
package watcher

import (
	"bytes"
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/user/notifirc"
	"github.com/user/notifirc/internal/metrics"
	"github.com/user/notifirc/pkg/record"
)

// DefaultPollInterval is the size-poll cadence used when the root config
// does not set one.
const DefaultPollInterval = time.Second

// Handler receives every parsed record in file order.
type Handler func(r *record.Record)

// Watcher tails a single file. The cursor is private to the run loop, so
// reads are naturally single-flight; triggers arriving mid-read coalesce
// into the next loop iteration.
type Watcher struct {
	log     notifirc.Logger
	path    string
	adapter notifirc.Adapter
	handler Handler
	poll    time.Duration

	partial *record.Record
	offset  int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Options tune a watcher.
type Options struct {
	// PollInterval overrides DefaultPollInterval.
	PollInterval time.Duration
	// Rescan streams the whole file from offset 0 on attachment instead of
	// seeking to EOF.
	Rescan bool
}

// New builds a watcher for path. The adapter supplies the path context and
// line parsing; handler receives every resulting record.
func New(path string, a notifirc.Adapter, handler Handler, log notifirc.Logger, opts Options) *Watcher {
	if log == nil {
		log = notifirc.NopLogger{}
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	w := &Watcher{
		log:     log,
		path:    path,
		adapter: a,
		handler: handler,
		poll:    poll,
	}
	if !opts.Rescan {
		if info, err := os.Stat(path); err == nil {
			w.offset = info.Size()
		}
	}
	return w
}

// Path returns the watched file path.
func (w *Watcher) Path() string { return w.path }

// Adapter returns the adapter the watcher parses lines through.
func (w *Watcher) Adapter() notifirc.Adapter { return w.adapter }

// Start launches the tail loop.
func (w *Watcher) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.partial = w.adapter.ExtractContextFromPath(w.path)

	w.wg.Add(1)
	go w.run(ctx)
}

// Stop terminates the tail loop and waits for it to return.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *Watcher) run(ctx context.Context) {
	defer w.wg.Done()

	var events <-chan fsnotify.Event
	fsw, err := fsnotify.NewWatcher()
	if err == nil {
		if err := fsw.Add(w.path); err != nil {
			w.log.Debug("file watch unavailable, polling only", "file", w.path, "error", err)
		}
		events = fsw.Events
		defer fsw.Close()
	} else {
		w.log.Debug("fsnotify unavailable, polling only", "file", w.path, "error", err)
	}

	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	// Catch anything already appended (or the whole file under rescan).
	w.read(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			w.read(ctx)
		case <-ticker.C:
			w.read(ctx)
		}
	}
}

// read advances the cursor: a shrunken file is treated as rotated and
// re-read from 0; grown files are read from the cursor to EOF. Only
// complete lines are consumed — an unterminated tail stays unread until its
// newline arrives. A cancelled ctx abandons the rest of the batch so Stop
// does not wait behind a long backlog of deliveries.
func (w *Watcher) read(ctx context.Context) {
	info, err := os.Stat(w.path)
	if err != nil {
		// Treated as absent for this cycle; the orchestrator's refresh
		// reconciles vanished paths.
		return
	}
	size := info.Size()
	if size < w.offset {
		w.log.Debug("file truncated, resetting cursor", "file", w.path, "size", size)
		w.offset = 0
	}
	if size == w.offset {
		return
	}

	f, err := os.Open(w.path)
	if err != nil {
		w.log.Error("cannot open watched file", "file", w.path, "error", err)
		return
	}
	defer f.Close()
	if _, err := f.Seek(w.offset, io.SeekStart); err != nil {
		w.log.Error("seek failed", "file", w.path, "error", err)
		return
	}
	buf, err := io.ReadAll(f)
	if err != nil {
		w.log.Error("read failed", "file", w.path, "error", err)
		return
	}

	end := bytes.LastIndexByte(buf, '\n')
	if end < 0 {
		return
	}
	complete := buf[:end+1]
	w.offset += int64(len(complete))

	clientID := ""
	if w.partial != nil {
		clientID = w.partial.Client.ID
	}
	for _, raw := range bytes.Split(complete, []byte{'\n'}) {
		select {
		case <-ctx.Done():
			return
		default:
		}
		line := string(bytes.TrimSuffix(raw, []byte{'\r'}))
		if line == "" {
			continue
		}
		metrics.LinesRead.WithLabelValues(clientID).Inc()
		if r := w.adapter.ParseLine(line, w.partial); r != nil {
			w.handler(r)
		}
	}
}
