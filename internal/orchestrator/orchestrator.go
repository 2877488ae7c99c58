// Package orchestrator wires the pipeline together: it owns the config
// store, the adapters, the file watchers, the event processor, the
// dispatcher and the live stream, and reconciles all of them on reload.
package orchestrator

import (
	"context"
	"encoding/json"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/user/notifirc"
	"github.com/user/notifirc/internal/adapter"
	"github.com/user/notifirc/internal/config"
	"github.com/user/notifirc/internal/dispatch"
	"github.com/user/notifirc/internal/metrics"
	"github.com/user/notifirc/internal/processor"
	"github.com/user/notifirc/internal/stream"
	"github.com/user/notifirc/internal/watcher"
	"github.com/user/notifirc/pkg/record"
)

// RefreshInterval is how often log-path discovery is re-run to pick up new
// or vanished files between config reloads.
const RefreshInterval = 30 * time.Second

// pipeline is the atomically swapped read side: one reload produces one new
// pipeline, so any given record is matched and dispatched against a single
// config generation.
type pipeline struct {
	proc       *processor.Processor
	dispatcher *dispatch.Dispatcher
}

// Orchestrator owns every pipeline component.
type Orchestrator struct {
	log   notifirc.Logger
	store *config.Store
	hub   *stream.Hub

	// pipe is read lock-free on the record path. Watcher goroutines deliver
	// records synchronously, so if they needed o.mu, stopping a watcher
	// under the lock would wait on a goroutine waiting on the lock.
	pipe atomic.Pointer[pipeline]

	mu        sync.RWMutex
	running   bool
	reloading bool
	adapters  map[string]*adapter.Adapter      // client id → adapter
	sinks     map[string]dispatch.SinkInstance // sink id → instance
	watchers  map[string]*watcher.Watcher      // path → watcher

	dirWatch *config.DirWatcher
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New builds an orchestrator around a loaded store.
func New(store *config.Store, log notifirc.Logger) *Orchestrator {
	if log == nil {
		log = notifirc.NopLogger{}
	}
	return &Orchestrator{
		log:      log,
		store:    store,
		hub:      stream.NewHub(),
		adapters: map[string]*adapter.Adapter{},
		sinks:    map[string]dispatch.SinkInstance{},
		watchers: map[string]*watcher.Watcher{},
	}
}

// Store returns the owned config store.
func (o *Orchestrator) Store() *config.Store { return o.store }

// Hub returns the live notification stream.
func (o *Orchestrator) Hub() *stream.Hub { return o.hub }

// Running reports whether Start has completed and Stop has not.
func (o *Orchestrator) Running() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.running
}

// Reloading reports whether a reload is in flight.
func (o *Orchestrator) Reloading() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.reloading
}

// WatcherCount returns the number of active file watchers.
func (o *Orchestrator) WatcherCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.watchers)
}

// WatchedPaths returns the currently watched paths.
func (o *Orchestrator) WatchedPaths() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	paths := make([]string, 0, len(o.watchers))
	for p := range o.watchers {
		paths = append(paths, p)
	}
	return paths
}

// Start brings the whole pipeline up from the store's current state and
// begins watching the config directory and the discovered log files.
func (o *Orchestrator) Start(ctx context.Context) error {
	sn := o.store.Snapshot()

	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.applyLocked(ctx, sn); err != nil {
		o.teardownLocked()
		return err
	}

	dw, err := config.NewDirWatcher(o.store.Dir(), o.log, func() {
		if err := o.ReloadFull(context.Background()); err != nil {
			o.log.Error("reload after config change failed", "error", err)
		}
	})
	if err != nil {
		o.log.Warn("config directory watch unavailable", "error", err)
	} else {
		o.dirWatch = dw
		dw.Start()
	}

	runCtx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.wg.Add(1)
	go o.refreshLoop(runCtx)

	o.running = true
	o.log.Info("pipeline started",
		"clients", len(o.adapters), "sinks", len(o.sinks), "watchers", len(o.watchers))
	return nil
}

// Stop tears everything down: watchers first, then sinks and adapters in
// reverse of their initialization order.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	dw := o.dirWatch
	o.dirWatch = nil
	cancel := o.cancel
	o.mu.Unlock()

	// The dir watcher goroutine may be waiting on the lock inside a
	// reload, so it is stopped before the lock is retaken.
	if cancel != nil {
		cancel()
	}
	if dw != nil {
		dw.Stop()
	}
	o.wg.Wait()

	o.mu.Lock()
	o.teardownLocked()
	o.mu.Unlock()
	o.hub.Close()
	o.log.Info("pipeline stopped")
}

func (o *Orchestrator) teardownLocked() {
	for path, w := range o.watchers {
		w.Stop()
		delete(o.watchers, path)
	}
	metrics.WatchersActive.Set(0)
	for id, si := range o.sinks {
		if err := si.Sink.Destroy(); err != nil {
			o.log.Error("sink destroy failed", "sink", id, "error", err)
		}
		delete(o.sinks, id)
	}
	for id, a := range o.adapters {
		if err := a.Destroy(); err != nil {
			o.log.Error("adapter destroy failed", "client", id, "error", err)
		}
		delete(o.adapters, id)
	}
	o.pipe.Store(nil)
}

// ReloadFull re-reads the config set and reconciles every component. On a
// load failure the previous state keeps serving.
func (o *Orchestrator) ReloadFull(ctx context.Context) error {
	o.mu.Lock()
	if o.reloading {
		o.mu.Unlock()
		return nil
	}
	o.reloading = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.reloading = false
		o.mu.Unlock()
	}()

	if err := o.store.Load(); err != nil {
		metrics.ConfigReloads.WithLabelValues("error").Inc()
		return err
	}
	sn := o.store.Snapshot()

	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.applyLocked(ctx, sn); err != nil {
		metrics.ConfigReloads.WithLabelValues("error").Inc()
		return err
	}
	metrics.ConfigReloads.WithLabelValues("ok").Inc()
	o.log.Info("configuration reloaded",
		"clients", len(o.adapters), "sinks", len(o.sinks), "watchers", len(o.watchers))
	return nil
}

// applyLocked diffs the snapshot against the live component sets: surviving
// sinks and adapters are reused, changed ones are rebuilt, removals are
// destroyed. A fresh pipeline is swapped in atomically at the end.
func (o *Orchestrator) applyLocked(ctx context.Context, sn *config.Snapshot) error {
	// Sinks.
	wantSinks := map[string]config.Sink{}
	for _, sc := range sn.Sinks {
		if sc.IsEnabled() {
			wantSinks[sc.ID] = sc
		}
	}
	for id, si := range o.sinks {
		want, ok := wantSinks[id]
		if ok && reflect.DeepEqual(si.Config, want) {
			continue
		}
		if err := si.Sink.Destroy(); err != nil {
			o.log.Error("sink destroy failed", "sink", id, "error", err)
		}
		delete(o.sinks, id)
	}
	for id, sc := range wantSinks {
		if _, ok := o.sinks[id]; ok {
			continue
		}
		inst, err := dispatch.NewSink(sc, o.log)
		if err != nil {
			o.log.Error("skipping sink", "sink", id, "error", err)
			continue
		}
		if err := inst.Initialize(ctx); err != nil {
			o.log.Error("sink initialization failed", "sink", id, "error", err)
			continue
		}
		o.sinks[id] = dispatch.SinkInstance{Config: sc, Sink: inst}
	}

	// Adapters.
	wantClients := map[string]config.Client{}
	for _, cc := range sn.Clients {
		if cc.IsEnabled() {
			wantClients[cc.ID] = cc
		}
	}
	for id, a := range o.adapters {
		want, ok := wantClients[id]
		if ok && reflect.DeepEqual(a.ClientConfig(), want) {
			continue
		}
		if err := a.Destroy(); err != nil {
			o.log.Error("adapter destroy failed", "client", id, "error", err)
		}
		delete(o.adapters, id)
	}
	for id, cc := range wantClients {
		if _, ok := o.adapters[id]; ok {
			continue
		}
		a := adapter.New(cc, o.log)
		if err := a.Initialize(ctx); err != nil {
			o.log.Error("skipping client", "client", id, "error", err)
			continue
		}
		o.adapters[id] = a
	}

	o.pipe.Store(&pipeline{
		proc:       processor.New(sn.Events, sn.Servers, o.log),
		dispatcher: dispatch.NewDispatcher(o.sinks, o.log, o.publishDelivery),
	})

	o.reconcileWatchersLocked(sn.Root)
	return nil
}

// reconcileWatchersLocked re-runs log-path discovery and starts/stops
// watchers to match.
func (o *Orchestrator) reconcileWatchersLocked(root config.Root) {
	want := map[string]*adapter.Adapter{}
	for id, a := range o.adapters {
		paths, err := a.ListLogPaths()
		if err != nil {
			o.log.Error("log path discovery failed", "client", id, "error", err)
			continue
		}
		for _, p := range paths {
			want[p] = a
		}
	}

	// A watcher whose path vanished is stopped; so is one still bound to an
	// adapter that a reload replaced, since the old adapter's compiled rules
	// are gone after Destroy. The restart below rebinds the path to the
	// current adapter instance.
	for path, w := range o.watchers {
		a, ok := want[path]
		if ok && w.Adapter() == notifirc.Adapter(a) {
			continue
		}
		w.Stop()
		delete(o.watchers, path)
		o.log.Debug("watcher stopped", "file", path)
	}

	poll := watcher.DefaultPollInterval
	if root.PollingInterval > 0 {
		poll = time.Duration(root.PollingInterval) * time.Millisecond
	}
	for path, a := range want {
		if _, ok := o.watchers[path]; ok {
			continue
		}
		w := watcher.New(path, a, o.handleRecord, o.log, watcher.Options{
			PollInterval: poll,
			Rescan:       root.RescanLogsOnStartup,
		})
		w.Start()
		o.watchers[path] = w
		o.log.Debug("watcher started", "file", path)
	}
	metrics.WatchersActive.Set(float64(len(o.watchers)))
}

// Refresh re-runs path discovery against the current config.
func (o *Orchestrator) Refresh() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running && o.pipe.Load() == nil {
		return
	}
	o.reconcileWatchersLocked(o.store.Root())
}

func (o *Orchestrator) refreshLoop(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.Refresh()
		}
	}
}

// handleRecord is the watcher callback: match the record against a single
// pipeline generation and dispatch every matched event in priority order.
// Runs on the watcher goroutine and must never take o.mu — Stop and reload
// wait for watcher goroutines while holding it.
func (o *Orchestrator) handleRecord(r *record.Record) {
	pipe := o.pipe.Load()
	if pipe == nil {
		return
	}

	metrics.RecordsParsed.WithLabelValues(r.Client.ID).Inc()
	for _, ev := range pipe.proc.ProcessMessage(r) {
		metrics.EventsMatched.WithLabelValues(ev.ID).Inc()
		pipe.dispatcher.Dispatch(context.Background(), r, ev)
	}
}

// publishDelivery feeds successful deliveries into the live stream.
func (o *Orchestrator) publishDelivery(n *notifirc.Notification) {
	payload, err := json.Marshal(map[string]any{
		"sink":      n.SinkID,
		"event":     map[string]any{"id": n.Event.ID, "name": n.Event.Name, "baseEvent": n.Event.BaseEvent},
		"title":     n.Title,
		"body":      n.Body,
		"timestamp": time.Now().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	o.hub.Publish(stream.Event{Event: "notification", Data: payload})
}

// Adapters returns the live adapters keyed by client id.
func (o *Orchestrator) Adapters() map[string]*adapter.Adapter {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]*adapter.Adapter, len(o.adapters))
	for id, a := range o.adapters {
		out[id] = a
	}
	return out
}
