package discovery

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/nerrad567/mqtt-gateway/internal/device"
	"github.com/nerrad567/mqtt-gateway/internal/node"
	"github.com/nerrad567/mqtt-gateway/internal/topics"
)

// DefaultCreateTimeout bounds the wait for one node creation.
const DefaultCreateTimeout = 10 * time.Second

// State is the lifecycle state of one device address.
type State int

const (
	StateAbsent State = iota
	StatePendingCreate
	StateActive
	StatePendingDelete
)

var stateNames = map[State]string{
	StateAbsent:        "absent",
	StatePendingCreate: "pending-create",
	StateActive:        "active",
	StatePendingDelete: "pending-delete",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Logger defines the logging interface used by the Reconciler.
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

// Descriptors is the declared device list. *device.Store satisfies it.
type Descriptors interface {
	List() []device.Descriptor
}

// NodeRegistry is the live node set. *nodes.Registry satisfies it.
type NodeRegistry interface {
	Get(address string) (node.Node, bool)
	Add(n node.Node) error
	Delete(ctx context.Context, address string) error
	Addresses() []string
}

// TopicTable is the topic to address map. *topics.Registry satisfies it.
type TopicTable interface {
	RegisterTopics(address string, topics []string)
	UnregisterTopics(address string) []string
	TakePending() []string
}

// BuildFunc builds the node for a descriptor.
type BuildFunc func(desc device.Descriptor) (node.Node, error)

// Options configures a Reconciler.
type Options struct {
	Descriptors Descriptors
	Nodes       NodeRegistry
	Topics      TopicTable
	Build       BuildFunc

	// Guard is shared with the dispatch engine. If nil the reconciler
	// creates its own; use Guard() to hand it on.
	Guard *sync.RWMutex

	// ControllerAddress is never treated as stale.
	ControllerAddress string

	// CreateTimeout defaults to DefaultCreateTimeout.
	CreateTimeout time.Duration

	Logger Logger
}

// Result summarises one pass.
type Result struct {
	// Created and Deleted hold node addresses.
	Created []string `json:"created"`
	Deleted []string `json:"deleted"`

	// Skipped holds devices whose node could not be built; Failed holds
	// devices whose creation was refused or not confirmed in time.
	Skipped []error `json:"-"`
	Failed  []error `json:"-"`

	// Subscribe and Unsubscribe are the topics the connection manager must
	// add and drop.
	Subscribe   []string `json:"subscribe"`
	Unsubscribe []string `json:"unsubscribe"`
}

// Changed reports whether the pass touched the node set or the topics.
func (r Result) Changed() bool {
	return len(r.Created) > 0 || len(r.Deleted) > 0 ||
		len(r.Subscribe) > 0 || len(r.Unsubscribe) > 0
}

// Errors joins the per-device diagnostics of a Result.
func (r Result) Errors() error {
	return errors.Join(append(slices.Clone(r.Skipped), r.Failed...)...)
}

// Reconciler runs discovery passes.
type Reconciler struct {
	descriptors Descriptors
	nodes       NodeRegistry
	topics      TopicTable
	build       BuildFunc
	guard       *sync.RWMutex
	controller  string
	timeout     time.Duration
	logger      Logger

	waitMu  sync.Mutex
	waiters map[string]chan struct{}
	late    map[string][]string // abandoned creations and the topics they own

	stateMu sync.RWMutex
	states  map[string]State
}

// New creates a Reconciler.
func New(opts Options) (*Reconciler, error) {
	if opts.Descriptors == nil {
		return nil, fmt.Errorf("descriptor source is required")
	}
	if opts.Nodes == nil {
		return nil, fmt.Errorf("node registry is required")
	}
	if opts.Build == nil {
		return nil, fmt.Errorf("build function is required")
	}

	r := &Reconciler{
		descriptors: opts.Descriptors,
		nodes:       opts.Nodes,
		topics:      opts.Topics,
		build:       opts.Build,
		guard:       opts.Guard,
		controller:  opts.ControllerAddress,
		timeout:     opts.CreateTimeout,
		logger:      opts.Logger,
		waiters:     make(map[string]chan struct{}),
		late:        make(map[string][]string),
		states:      make(map[string]State),
	}
	if r.topics == nil {
		r.topics = topics.NewRegistry()
	}
	if r.guard == nil {
		r.guard = &sync.RWMutex{}
	}
	if r.timeout <= 0 {
		r.timeout = DefaultCreateTimeout
	}
	if r.logger == nil {
		r.logger = noopLogger{}
	}
	return r, nil
}

// Guard returns the mutex a pass holds for writing.
func (r *Reconciler) Guard() *sync.RWMutex {
	return r.guard
}

// Confirm signals that the node at address is live. It is wired to the
// node registry's EventAdded.
//
// A confirmation for a creation that already timed out adopts the node: its
// topics are registered again and it becomes active. If the device is no
// longer declared the node is deleted instead. Confirm reports whether a
// node was adopted, in which case its topics still need subscribing.
// Addresses nobody waits on are ignored.
func (r *Reconciler) Confirm(address string) bool {
	r.waitMu.Lock()
	ch, waiting := r.waiters[address]
	delete(r.waiters, address)
	owned, late := r.late[address]
	delete(r.late, address)
	r.waitMu.Unlock()

	switch {
	case waiting:
		close(ch)
		return false
	case !late:
		return false
	}

	if !r.declared(address) {
		if err := r.nodes.Delete(context.Background(), address); err != nil {
			r.logger.Error("failed to delete late node", "address", address, "error", err)
		}
		r.setState(address, StateAbsent)
		r.logger.Info("late node confirmation, device no longer declared", "address", address)
		return false
	}

	r.topics.RegisterTopics(address, owned)
	r.setState(address, StateActive)
	r.logger.Info("late node confirmation, node adopted", "address", address)
	return true
}

func (r *Reconciler) declared(address string) bool {
	for _, desc := range r.descriptors.List() {
		if desc.Address() == address {
			return true
		}
	}
	return false
}

// State returns the lifecycle state of address.
func (r *Reconciler) State(address string) State {
	if address == r.controller && address != "" {
		return StateActive
	}
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return r.states[address]
}

// States returns a copy of every tracked lifecycle state.
func (r *Reconciler) States() map[string]State {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()

	out := make(map[string]State, len(r.states))
	for a, s := range r.states {
		out[a] = s
	}
	return out
}

// Run executes one discovery pass.
//
// Missing nodes are created one at a time in declaration order, nodes whose
// device is no longer declared are deleted, and the topic table follows both.
// Per-device failures are collected in the Result; the returned error is
// non-nil only when ctx ends the pass early.
func (r *Reconciler) Run(ctx context.Context) (Result, error) {
	r.guard.Lock()
	defer r.guard.Unlock()

	start := time.Now()
	var res Result
	seen := make(map[string]bool)

	for _, desc := range r.descriptors.List() {
		address := desc.Address()

		if existing, ok := r.nodes.Get(address); ok {
			// Restored nodes own no topics until their first pass.
			r.topics.RegisterTopics(address, topics.ForDescriptor(existing.Descriptor()))
			r.forget(address)
			r.setState(address, StateActive)
			seen[address] = true
			continue
		}

		n, err := r.build(desc)
		if err != nil {
			r.logger.Warn("skipping device", "id", desc.ID, "type", desc.Type, "error", err)
			res.Skipped = append(res.Skipped, fmt.Errorf("device %s: %w", desc.ID, err))
			continue
		}

		keep, err := r.create(ctx, n, &res)
		if err != nil {
			return r.finish(res, start), err
		}
		if keep {
			seen[address] = true
		}
	}

	for _, address := range r.nodes.Addresses() {
		if address == r.controller || seen[address] {
			continue
		}
		r.remove(ctx, address, &res)
	}

	return r.finish(res, start), nil
}

// create requests n and waits for its confirmation. It reports whether a
// node may be live at the address, which holds for a confirmed node and for
// one whose confirmation timed out, since the queued addition can still
// land. A non-nil error means ctx is done.
func (r *Reconciler) create(ctx context.Context, n node.Node, res *Result) (bool, error) {
	address := n.Address()
	done := r.await(address)
	r.setState(address, StatePendingCreate)

	if err := r.nodes.Add(n); err != nil {
		r.cancelWait(address)
		r.setState(address, StateAbsent)
		r.logger.Error("node creation refused", "address", address, "error", err)
		res.Failed = append(res.Failed, fmt.Errorf("%w: %s: %w", ErrCreateFailed, address, err))
		return false, nil
	}
	r.topics.RegisterTopics(address, topics.ForDescriptor(n.Descriptor()))

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case <-done:
		r.setState(address, StateActive)
		res.Created = append(res.Created, address)
		r.logger.Info("node created", "address", address, "type", n.Type())
		return true, nil

	case <-timer.C:
		r.abandon(address)
		r.logger.Warn("node creation not confirmed", "address", address, "timeout", r.timeout)
		res.Failed = append(res.Failed, fmt.Errorf("%w: %s after %s", ErrCreateTimeout, address, r.timeout))
		return true, nil

	case <-ctx.Done():
		r.abandon(address)
		return false, ctx.Err()
	}
}

// abandon stops waiting for an unconfirmed node. Its topics were registered
// in this pass and never subscribed; they are set aside until Confirm
// adopts the node. The address stays pending-create.
func (r *Reconciler) abandon(address string) {
	r.waitMu.Lock()
	delete(r.waiters, address)
	r.late[address] = r.topics.UnregisterTopics(address)
	r.waitMu.Unlock()
}

func (r *Reconciler) forget(address string) {
	r.waitMu.Lock()
	delete(r.late, address)
	r.waitMu.Unlock()
}

func (r *Reconciler) remove(ctx context.Context, address string, res *Result) {
	r.forget(address)
	r.setState(address, StatePendingDelete)
	res.Unsubscribe = append(res.Unsubscribe, r.topics.UnregisterTopics(address)...)

	if err := r.nodes.Delete(ctx, address); err != nil {
		r.logger.Error("failed to delete stale node", "address", address, "error", err)
	} else {
		res.Deleted = append(res.Deleted, address)
		r.logger.Info("stale node deleted", "address", address)
	}
	r.setState(address, StateAbsent)
}

func (r *Reconciler) finish(res Result, start time.Time) Result {
	res.Subscribe = r.topics.TakePending()
	slices.Sort(res.Unsubscribe)
	res.Unsubscribe = slices.Compact(res.Unsubscribe)

	r.logger.Info("discovery complete",
		"created", len(res.Created),
		"deleted", len(res.Deleted),
		"skipped", len(res.Skipped),
		"failed", len(res.Failed),
		"subscribe", len(res.Subscribe),
		"unsubscribe", len(res.Unsubscribe),
		"duration", time.Since(start))
	return res
}

// await registers the one-shot channel for address. A stale channel from an
// earlier timed-out pass is replaced.
func (r *Reconciler) await(address string) <-chan struct{} {
	ch := make(chan struct{})
	r.waitMu.Lock()
	r.waiters[address] = ch
	delete(r.late, address)
	r.waitMu.Unlock()
	return ch
}

func (r *Reconciler) cancelWait(address string) {
	r.waitMu.Lock()
	delete(r.waiters, address)
	r.waitMu.Unlock()
}

func (r *Reconciler) setState(address string, s State) {
	r.stateMu.Lock()
	if s == StateAbsent {
		delete(r.states, address)
	} else {
		r.states[address] = s
	}
	r.stateMu.Unlock()
}
