package discovery

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/mqtt-gateway/internal/device"
	"github.com/nerrad567/mqtt-gateway/internal/node"
	"github.com/nerrad567/mqtt-gateway/internal/nodes"
	"github.com/nerrad567/mqtt-gateway/internal/topics"
)

// ============================================================================
// Fixtures
// ============================================================================

func entry(id, typ, status string) map[string]any {
	return map[string]any{
		"id":           id,
		"type":         typ,
		"status_topic": status,
		"cmd_topic":    "cmnd/" + id + "/POWER",
	}
}

type harness struct {
	store  *device.Store
	nodes  *nodes.Registry
	topics *topics.Registry
	rec    *Reconciler
}

// newHarness wires a reconciler to a running node registry the way the
// gateway does.
func newHarness(t *testing.T, raw ...map[string]any) *harness {
	t.Helper()

	h := &harness{
		store:  device.NewStore(),
		nodes:  nodes.NewRegistry(nil),
		topics: topics.NewRegistry(),
	}
	h.store.Replace(raw)

	ctx, cancel := context.WithCancel(context.Background())
	h.nodes.Start(ctx)
	t.Cleanup(func() {
		h.nodes.Stop()
		cancel()
	})

	rec, err := New(Options{
		Descriptors: h.store,
		Nodes:       h.nodes,
		Topics:      h.topics,
		Build: func(desc device.Descriptor) (node.Node, error) {
			return node.New(desc, node.Deps{Reporter: h.nodes})
		},
		ControllerAddress: "mqctrl",
		CreateTimeout:     2 * time.Second,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.nodes.AddListener(func(e nodes.Event) {
		if e.Type == nodes.EventAdded {
			rec.Confirm(e.Address)
		}
	})
	h.rec = rec
	return h
}

func (h *harness) run(t *testing.T) Result {
	t.Helper()
	res, err := h.rec.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return res
}

// silentRegistry accepts nodes but never confirms them.
type silentRegistry struct {
	guard  *sync.RWMutex
	added  []string
	locked bool
}

func (s *silentRegistry) Get(string) (node.Node, bool) { return nil, false }
func (s *silentRegistry) Addresses() []string          { return nil }

func (s *silentRegistry) Add(n node.Node) error {
	s.added = append(s.added, n.Address())
	if s.guard != nil {
		if s.guard.TryRLock() {
			s.guard.RUnlock()
		} else {
			s.locked = true
		}
	}
	return nil
}

func (s *silentRegistry) Delete(context.Context, string) error { return nil }

// ============================================================================
// Reconciliation
// ============================================================================

func TestRun_CreatesAndIsIdempotent(t *testing.T) {
	h := newHarness(t,
		entry("kitchen_light", "switch", "stat/kitchen/POWER"),
		entry("hall_dimmer", "dimmer", "stat/hall/POWER"),
	)

	res := h.run(t)
	if want := []string{"kitchenlight", "halldimmer"}; !reflect.DeepEqual(res.Created, want) {
		t.Errorf("Created = %v, want %v", res.Created, want)
	}
	wantTopics := []string{"stat/hall/POWER", "stat/hall/RESULT", "stat/kitchen/POWER"}
	if !reflect.DeepEqual(res.Subscribe, wantTopics) {
		t.Errorf("Subscribe = %v, want %v", res.Subscribe, wantTopics)
	}
	if got := h.rec.State("kitchenlight"); got != StateActive {
		t.Errorf("State(kitchenlight) = %v, want active", got)
	}

	again := h.run(t)
	if again.Changed() {
		t.Errorf("second pass changed something: %+v", again)
	}
	if h.nodes.Len() != 2 {
		t.Errorf("node count = %d, want 2", h.nodes.Len())
	}
}

func TestRun_ReplacesStaleDevices(t *testing.T) {
	a := entry("a", "switch", "stat/a/POWER")
	h := newHarness(t, a, entry("b", "switch", "stat/b/POWER"))
	h.run(t)

	h.store.Replace([]map[string]any{a, entry("c", "switch", "stat/c/POWER")})
	res := h.run(t)

	if want := []string{"c"}; !reflect.DeepEqual(res.Created, want) {
		t.Errorf("Created = %v, want %v", res.Created, want)
	}
	if want := []string{"b"}; !reflect.DeepEqual(res.Deleted, want) {
		t.Errorf("Deleted = %v, want %v", res.Deleted, want)
	}
	if want := []string{"stat/b/POWER"}; !reflect.DeepEqual(res.Unsubscribe, want) {
		t.Errorf("Unsubscribe = %v, want %v", res.Unsubscribe, want)
	}
	if _, ok := h.topics.Resolve("stat/b/POWER"); ok {
		t.Error("topic of deleted node still resolves")
	}
	if addr, ok := h.topics.Resolve("stat/a/POWER"); !ok || addr != "a" {
		t.Errorf("Resolve(a) = %q, %v", addr, ok)
	}
	if h.rec.State("b") != StateAbsent {
		t.Errorf("State(b) = %v, want absent", h.rec.State("b"))
	}
	if got := h.nodes.Addresses(); !reflect.DeepEqual(got, []string{"a", "c"}) {
		t.Errorf("Addresses() = %v", got)
	}
}

func TestRun_SkipsUnsupportedType(t *testing.T) {
	h := newHarness(t,
		entry("door_bell", "trigger", "stat/bell/POWER"),
		entry("lamp", "switch", "stat/lamp/POWER"),
	)

	res := h.run(t)
	if len(res.Skipped) != 1 || !errors.Is(res.Skipped[0], node.ErrUnsupportedType) {
		t.Fatalf("Skipped = %v, want one ErrUnsupportedType", res.Skipped)
	}
	if want := []string{"lamp"}; !reflect.DeepEqual(res.Created, want) {
		t.Errorf("Created = %v, want %v", res.Created, want)
	}
	if _, ok := h.topics.Resolve("stat/bell/POWER"); ok {
		t.Error("skipped device registered topics")
	}
	if !errors.Is(res.Errors(), node.ErrUnsupportedType) {
		t.Errorf("Errors() = %v", res.Errors())
	}
}

func TestRun_KeepsController(t *testing.T) {
	h := newHarness(t)
	h.nodes.Attach(node.NewController("mqctrl", "", nil, node.Deps{Reporter: h.nodes}))

	res := h.run(t)
	if len(res.Deleted) != 0 {
		t.Errorf("Deleted = %v, controller must survive", res.Deleted)
	}
	if !h.nodes.Has("mqctrl") {
		t.Error("controller removed")
	}
	if h.rec.State("mqctrl") != StateActive {
		t.Errorf("State(mqctrl) = %v, want active", h.rec.State("mqctrl"))
	}
}

func TestRun_RegistersTopicsOfRestoredNodes(t *testing.T) {
	h := newHarness(t, entry("attic_temp", "Temp", "tele/attic/SENSOR"))

	// A restored node is live before the first pass.
	desc := h.store.List()[0]
	restored, err := node.New(desc, node.Deps{Reporter: h.nodes})
	if err != nil {
		t.Fatal(err)
	}
	if err := h.nodes.Add(restored); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for !h.nodes.Has("attictemp") && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	res := h.run(t)
	if len(res.Created) != 0 {
		t.Errorf("Created = %v, want none", res.Created)
	}
	want := []string{"stat/attic/STATUS10", "tele/attic/SENSOR"}
	if !reflect.DeepEqual(res.Subscribe, want) {
		t.Errorf("Subscribe = %v, want %v", res.Subscribe, want)
	}
}

// ============================================================================
// Creation confirmation
// ============================================================================

func TestRun_CreateTimeout(t *testing.T) {
	store := device.NewStore()
	store.Replace([]map[string]any{entry("slow", "switch", "stat/slow/POWER")})
	table := topics.NewRegistry()
	guard := &sync.RWMutex{}
	reg := &silentRegistry{guard: guard}

	rec, err := New(Options{
		Descriptors: store,
		Nodes:       reg,
		Topics:      table,
		Build: func(desc device.Descriptor) (node.Node, error) {
			return node.New(desc, node.Deps{})
		},
		Guard:         guard,
		CreateTimeout: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	res, err := rec.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(res.Failed) != 1 || !errors.Is(res.Failed[0], ErrCreateTimeout) {
		t.Fatalf("Failed = %v, want ErrCreateTimeout", res.Failed)
	}
	if len(res.Created) != 0 || len(res.Subscribe) != 0 {
		t.Errorf("Created = %v, Subscribe = %v, want none", res.Created, res.Subscribe)
	}
	if _, ok := table.Resolve("stat/slow/POWER"); ok {
		t.Error("topics of an unconfirmed node should be unregistered")
	}
	if rec.State("slow") != StatePendingCreate {
		t.Errorf("State(slow) = %v, want pending-create", rec.State("slow"))
	}
	if !reg.locked {
		t.Error("guard should be write-held while creating")
	}
	if !guard.TryRLock() {
		t.Fatal("guard still held after Run")
	}
	guard.RUnlock()
}

// lateRegistry queues added nodes and makes them live only when land is
// called, as a registry worker stuck behind a slow store would.
type lateRegistry struct {
	mu      sync.Mutex
	queued  map[string]node.Node
	live    map[string]node.Node
	deleted []string

	// onAddresses runs at the start of Addresses, which a pass calls
	// after all creations.
	onAddresses func()
}

func newLateRegistry() *lateRegistry {
	return &lateRegistry{queued: make(map[string]node.Node), live: make(map[string]node.Node)}
}

func (l *lateRegistry) Add(n node.Node) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.queued[n.Address()] = n
	return nil
}

func (l *lateRegistry) land(address string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n, ok := l.queued[address]; ok {
		delete(l.queued, address)
		l.live[address] = n
	}
}

func (l *lateRegistry) Get(address string) (node.Node, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n, ok := l.live[address]
	return n, ok
}

func (l *lateRegistry) Addresses() []string {
	if l.onAddresses != nil {
		l.onAddresses()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.live))
	for a := range l.live {
		out = append(out, a)
	}
	return out
}

func (l *lateRegistry) Delete(_ context.Context, address string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.live, address)
	l.deleted = append(l.deleted, address)
	return nil
}

func newLateReconciler(t *testing.T, store *device.Store, reg *lateRegistry, table *topics.Registry) *Reconciler {
	t.Helper()
	rec, err := New(Options{
		Descriptors: store,
		Nodes:       reg,
		Topics:      table,
		Build: func(desc device.Descriptor) (node.Node, error) {
			return node.New(desc, node.Deps{})
		},
		CreateTimeout: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return rec
}

func TestConfirm_AfterTimeoutAdoptsNode(t *testing.T) {
	store := device.NewStore()
	store.Replace([]map[string]any{entry("slow", "switch", "stat/slow/POWER")})
	table := topics.NewRegistry()
	reg := newLateRegistry()
	rec := newLateReconciler(t, store, reg, table)

	res, err := rec.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(res.Failed) != 1 || !errors.Is(res.Failed[0], ErrCreateTimeout) {
		t.Fatalf("Failed = %v, want ErrCreateTimeout", res.Failed)
	}

	reg.land("slow")
	if !rec.Confirm("slow") {
		t.Fatal("Confirm() after timeout should adopt the node")
	}

	if rec.State("slow") != StateActive {
		t.Errorf("State(slow) = %v, want active", rec.State("slow"))
	}
	if addr, ok := table.Resolve("stat/slow/POWER"); !ok || addr != "slow" {
		t.Errorf("Resolve(stat/slow/POWER) = %q, %v, want slow", addr, ok)
	}
	if got := table.TakePending(); !reflect.DeepEqual(got, []string{"stat/slow/POWER"}) {
		t.Errorf("pending topics = %v, want the adopted node's topic", got)
	}
	if _, ok := reg.Get("slow"); !ok {
		t.Error("adopted node should stay live")
	}

	if rec.Confirm("slow") {
		t.Error("a second Confirm() should not adopt again")
	}

	res = mustRun(t, rec)
	if res.Changed() || len(reg.deleted) != 0 {
		t.Errorf("pass after adoption changed %+v, deleted %v", res, reg.deleted)
	}
}

func TestConfirm_DuringSamePassKeepsNode(t *testing.T) {
	store := device.NewStore()
	store.Replace([]map[string]any{entry("slow", "switch", "stat/slow/POWER")})
	table := topics.NewRegistry()
	reg := newLateRegistry()
	rec := newLateReconciler(t, store, reg, table)

	var adopted bool
	reg.onAddresses = func() {
		reg.onAddresses = nil
		reg.land("slow")
		adopted = rec.Confirm("slow")
	}

	res := mustRun(t, rec)

	if !adopted {
		t.Fatal("confirmation before the stale sweep should adopt the node")
	}
	if len(res.Deleted) != 0 || len(reg.deleted) != 0 {
		t.Fatalf("late node deleted as stale: %v", reg.deleted)
	}
	if !reflect.DeepEqual(res.Subscribe, []string{"stat/slow/POWER"}) {
		t.Errorf("Subscribe = %v, want the adopted node's topic", res.Subscribe)
	}
	if rec.State("slow") != StateActive {
		t.Errorf("State(slow) = %v, want active", rec.State("slow"))
	}
}

func TestConfirm_AfterTimeoutDeletesUndeclaredNode(t *testing.T) {
	store := device.NewStore()
	store.Replace([]map[string]any{entry("slow", "switch", "stat/slow/POWER")})
	table := topics.NewRegistry()
	reg := newLateRegistry()
	rec := newLateReconciler(t, store, reg, table)

	mustRun(t, rec)
	store.Replace([]map[string]any{entry("other", "switch", "stat/other/POWER")})

	reg.land("slow")
	if rec.Confirm("slow") {
		t.Error("Confirm() should not adopt a node whose device is gone")
	}
	if !reflect.DeepEqual(reg.deleted, []string{"slow"}) {
		t.Errorf("deleted = %v, want [slow]", reg.deleted)
	}
	if rec.State("slow") != StateAbsent {
		t.Errorf("State(slow) = %v, want absent", rec.State("slow"))
	}
	if _, ok := table.Resolve("stat/slow/POWER"); ok {
		t.Error("topics of a deleted late node should stay unregistered")
	}
}

func TestConfirm_UnknownAddressIgnored(t *testing.T) {
	store := device.NewStore()
	rec := newLateReconciler(t, store, newLateRegistry(), topics.NewRegistry())
	if rec.Confirm("nobody") {
		t.Error("Confirm() for an address nobody waits on should do nothing")
	}
}

func mustRun(t *testing.T, rec *Reconciler) Result {
	t.Helper()
	res, err := rec.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return res
}

func TestRun_ContextCancelled(t *testing.T) {
	store := device.NewStore()
	store.Replace([]map[string]any{entry("slow", "switch", "stat/slow/POWER")})

	rec, err := New(Options{
		Descriptors: store,
		Nodes:       &silentRegistry{},
		Build: func(desc device.Descriptor) (node.Node, error) {
			return node.New(desc, node.Deps{})
		},
		CreateTimeout: time.Minute,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	if _, err := rec.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("New() with no options should fail")
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateAbsent:        "absent",
		StatePendingCreate: "pending-create",
		StateActive:        "active",
		StatePendingDelete: "pending-delete",
		State(42):          "unknown",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", s, s.String(), want)
		}
	}
}
