package nodes

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/nerrad567/mqtt-gateway/internal/device"
	"github.com/nerrad567/mqtt-gateway/internal/node"
)

const (
	// defaultQueueSize bounds the number of pending additions.
	defaultQueueSize = 64

	// storeTimeout bounds each repository call made on behalf of a node.
	storeTimeout = 5 * time.Second
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// BuildFunc rebuilds a node from a stored descriptor.
type BuildFunc func(desc device.Descriptor) (node.Node, error)

// Registry is the live set of nodes keyed by address.
//
// Additions are asynchronous: Add queues the node and a single worker
// goroutine persists it, makes it live and emits EventAdded. Everything
// else is synchronous.
//
// The Registry is also the node.Reporter handed to every node: driver
// values fan out to SQLite, the optional MetricsWriter and the listeners.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	metrics MetricsWriter
	logger  Logger

	mu        sync.RWMutex
	nodes     map[string]node.Node
	persisted map[string]bool

	listenersMu sync.RWMutex
	listeners   []Listener

	queue   chan node.Node
	runMu   sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewRegistry creates a node registry. repo may be nil, in which case
// nothing is persisted.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:      repo,
		logger:    noopLogger{},
		nodes:     make(map[string]node.Node),
		persisted: make(map[string]bool),
		queue:     make(chan node.Node, defaultQueueSize),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetMetrics sets the time-series writer for driver values.
func (r *Registry) SetMetrics(w MetricsWriter) {
	r.metrics = w
}

// AddListener registers fn for every registry event.
func (r *Registry) AddListener(fn Listener) {
	r.listenersMu.Lock()
	r.listeners = append(r.listeners, fn)
	r.listenersMu.Unlock()
}

// Start launches the addition worker. It stops when ctx is cancelled or
// Stop is called.
func (r *Registry) Start(ctx context.Context) {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.done = make(chan struct{})

	r.wg.Add(1)
	go r.worker(ctx, r.done)
}

// Stop halts the worker and waits for it. Queued additions are dropped.
func (r *Registry) Stop() {
	r.runMu.Lock()
	if !r.running {
		r.runMu.Unlock()
		return
	}
	r.running = false
	close(r.done)
	r.runMu.Unlock()

	r.wg.Wait()
}

func (r *Registry) worker(ctx context.Context, done <-chan struct{}) {
	defer r.wg.Done()
	for {
		select {
		case n := <-r.queue:
			r.complete(ctx, n)
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Add queues n for creation and returns immediately. EventAdded for
// n.Address() follows once the node is live.
//
// Returns ErrNodeExists if the address is already live and ErrNotRunning
// if the worker has not been started.
func (r *Registry) Add(n node.Node) error {
	if r.Has(n.Address()) {
		return fmt.Errorf("%w: %s", ErrNodeExists, n.Address())
	}

	r.runMu.Lock()
	running, done := r.running, r.done
	r.runMu.Unlock()
	if !running {
		return ErrNotRunning
	}

	select {
	case r.queue <- n:
		return nil
	case <-done:
		return ErrNotRunning
	}
}

// complete persists a queued node and makes it live. A node that cannot be
// stored still goes live; its drivers are then kept in memory only.
func (r *Registry) complete(ctx context.Context, n node.Node) {
	address := n.Address()
	if r.Has(address) {
		r.logger.Warn("dropping duplicate node addition", "address", address)
		return
	}

	persisted := false
	if r.repo != nil {
		sctx, cancel := context.WithTimeout(ctx, storeTimeout)
		err := r.repo.Save(sctx, RecordOf(n))
		cancel()
		if err != nil {
			r.logger.Error("failed to persist node", "address", address, "error", err)
		} else {
			persisted = true
		}
	}

	r.mu.Lock()
	r.nodes[address] = n
	r.persisted[address] = persisted
	r.mu.Unlock()

	r.logger.Info("node added", "address", address, "type", n.Type(), "name", n.Name())
	r.emit(Event{Type: EventAdded, Address: address})
}

// Attach makes n live immediately without persisting it. It is used for
// the controller node.
func (r *Registry) Attach(n node.Node) {
	r.mu.Lock()
	r.nodes[n.Address()] = n
	r.mu.Unlock()
	r.emit(Event{Type: EventAdded, Address: n.Address()})
}

// Restore rebuilds the nodes stored in the repository. Stored driver values
// are seeded into the rebuilt nodes. A record that can no longer be built
// is deleted.
//
// Returns the number of nodes restored.
func (r *Registry) Restore(ctx context.Context, build BuildFunc) (int, error) {
	if r.repo == nil {
		return 0, nil
	}
	records, err := r.repo.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading nodes: %w", err)
	}

	restored := 0
	for _, rec := range records {
		n, err := build(rec.Descriptor)
		if err != nil {
			r.logger.Warn("discarding stored node", "address", rec.Address, "type", rec.Type, "error", err)
			if err := r.repo.Delete(ctx, rec.Address); err != nil && !errors.Is(err, ErrNodeNotFound) {
				r.logger.Error("failed to delete stored node", "address", rec.Address, "error", err)
			}
			continue
		}
		n.Seed(rec.Drivers)

		r.mu.Lock()
		r.nodes[n.Address()] = n
		r.persisted[n.Address()] = true
		r.mu.Unlock()
		restored++
	}

	r.logger.Info("nodes restored", "count", restored)
	return restored, nil
}

// Delete removes the node at address from the registry and the repository.
func (r *Registry) Delete(ctx context.Context, address string) error {
	r.mu.Lock()
	if _, ok := r.nodes[address]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNodeNotFound, address)
	}
	delete(r.nodes, address)
	persisted := r.persisted[address]
	delete(r.persisted, address)
	r.mu.Unlock()

	if persisted && r.repo != nil {
		if err := r.repo.Delete(ctx, address); err != nil && !errors.Is(err, ErrNodeNotFound) {
			r.logger.Error("failed to delete stored node", "address", address, "error", err)
		}
	}

	r.logger.Info("node deleted", "address", address)
	r.emit(Event{Type: EventDeleted, Address: address})
	return nil
}

// Get returns the node at address.
func (r *Registry) Get(address string) (node.Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[address]
	return n, ok
}

// Has reports whether a node is live at address.
func (r *Registry) Has(address string) bool {
	_, ok := r.Get(address)
	return ok
}

// Addresses returns the live addresses in sorted order.
func (r *Registry) Addresses() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.nodes))
	for a := range r.nodes {
		out = append(out, a)
	}
	r.mu.RUnlock()

	slices.Sort(out)
	return out
}

// List returns the live nodes ordered by address.
func (r *Registry) List() []node.Node {
	addresses := r.Addresses()

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]node.Node, 0, len(addresses))
	for _, a := range addresses {
		if n, ok := r.nodes[a]; ok {
			out = append(out, n)
		}
	}
	return out
}

// Len returns the number of live nodes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// QueryAll re-reports the drivers of every node.
func (r *Registry) QueryAll() error {
	for _, n := range r.List() {
		r.ReportDrivers(n.Address(), n.Drivers())
	}
	return nil
}

// SetDriver implements node.Reporter.
func (r *Registry) SetDriver(address string, d node.Driver) {
	r.mu.RLock()
	n, ok := r.nodes[address]
	persisted := r.persisted[address]
	r.mu.RUnlock()

	if persisted && r.repo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		if err := r.repo.SaveDriver(ctx, address, d); err != nil {
			r.logger.Warn("failed to persist driver", "address", address, "driver", d.Name, "error", err)
		}
		cancel()
	}
	if ok && r.metrics != nil {
		r.metrics.WriteDriver(address, string(n.Type()), d.Name, d.Value, d.UOM)
	}

	r.logger.Debug("driver set", "address", address, "driver", d.Name, "value", d.Value)
	r.emit(Event{Type: EventDriver, Address: address, Driver: &d})
}

// ReportCommand implements node.Reporter.
func (r *Registry) ReportCommand(address, command string) {
	r.logger.Info("node reported command", "address", address, "command", command)
	r.emit(Event{Type: EventCommand, Address: address, Command: command})
}

// ReportDrivers implements node.Reporter.
func (r *Registry) ReportDrivers(address string, drivers []node.Driver) {
	for _, d := range drivers {
		r.emit(Event{Type: EventDriver, Address: address, Driver: &d})
	}
}

func (r *Registry) emit(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	r.listenersMu.RLock()
	listeners := slices.Clone(r.listeners)
	r.listenersMu.RUnlock()

	for _, fn := range listeners {
		fn(e)
	}
}
