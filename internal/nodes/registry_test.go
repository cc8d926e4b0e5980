package nodes

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/mqtt-gateway/internal/device"
	"github.com/nerrad567/mqtt-gateway/internal/node"
)

// ============================================================================
// Mocks
// ============================================================================

// MockRepository is a test implementation of Repository.
type MockRepository struct {
	mu      sync.Mutex
	records map[string]Record
	saveErr error
}

func NewMockRepository() *MockRepository {
	return &MockRepository{records: make(map[string]Record)}
}

func (m *MockRepository) Save(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	rec.Drivers = nil
	m.records[rec.Address] = rec
	return nil
}

func (m *MockRepository) Get(_ context.Context, address string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[address]
	if !ok {
		return nil, ErrNodeNotFound
	}
	return &rec, nil
}

func (m *MockRepository) List(_ context.Context) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	return out, nil
}

func (m *MockRepository) Delete(_ context.Context, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[address]; !ok {
		return ErrNodeNotFound
	}
	delete(m.records, address)
	return nil
}

func (m *MockRepository) SaveDriver(_ context.Context, address string, d node.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[address]
	if !ok {
		return ErrNodeNotFound
	}
	rec.Drivers = append(rec.Drivers, d)
	m.records[address] = rec
	return nil
}

func (m *MockRepository) has(address string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[address]
	return ok
}

type metricPoint struct {
	address, nodeType, driver string
	value                     float64
}

type mockMetrics struct {
	mu     sync.Mutex
	points []metricPoint
}

func (m *mockMetrics) WriteDriver(address, nodeType, driver string, value float64, _ int) {
	m.mu.Lock()
	m.points = append(m.points, metricPoint{address, nodeType, driver, value})
	m.mu.Unlock()
}

// eventRecorder collects events and signals each EventAdded.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
	added  chan string
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{added: make(chan string, 16)}
}

func (e *eventRecorder) listen(ev Event) {
	e.mu.Lock()
	e.events = append(e.events, ev)
	e.mu.Unlock()
	if ev.Type == EventAdded {
		e.added <- ev.Address
	}
}

func (e *eventRecorder) count(typ EventType) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ev := range e.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func waitAdded(t *testing.T, rec *eventRecorder, address string) {
	t.Helper()
	select {
	case got := <-rec.added:
		if got != address {
			t.Fatalf("added %s, want %s", got, address)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s to be added", address)
	}
}

func newSwitchNode(t *testing.T, r *Registry, id string) node.Node {
	t.Helper()
	n, err := node.New(device.Descriptor{
		ID:          id,
		Type:        device.TypeSwitch,
		StatusTopic: device.TopicList{"stat/" + id + "/POWER"},
		CmdTopic:    "cmnd/" + id + "/POWER",
		SensorID:    device.SingleSensor,
	}, node.Deps{Reporter: r})
	if err != nil {
		t.Fatalf("node.New() error = %v", err)
	}
	return n
}

func startRegistry(t *testing.T, repo Repository) (*Registry, *eventRecorder) {
	t.Helper()
	r := NewRegistry(repo)
	rec := newEventRecorder()
	r.AddListener(rec.listen)
	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	t.Cleanup(func() {
		r.Stop()
		cancel()
	})
	return r, rec
}

// ============================================================================
// Add / Delete
// ============================================================================

func TestRegistry_AddIsAsynchronous(t *testing.T) {
	repo := NewMockRepository()
	r, events := startRegistry(t, repo)

	n := newSwitchNode(t, r, "lamp")
	if err := r.Add(n); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	waitAdded(t, events, "lamp")

	if !r.Has("lamp") {
		t.Error("node not live after EventAdded")
	}
	if !repo.has("lamp") {
		t.Error("node not persisted")
	}
	if err := r.Add(n); !errors.Is(err, ErrNodeExists) {
		t.Errorf("second Add() error = %v, want ErrNodeExists", err)
	}
}

func TestRegistry_AddNotRunning(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Add(newSwitchNode(t, r, "lamp")); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Add() error = %v, want ErrNotRunning", err)
	}
}

func TestRegistry_PersistFailureStillAdds(t *testing.T) {
	repo := NewMockRepository()
	repo.saveErr = errors.New("disk full")
	r, events := startRegistry(t, repo)

	if err := r.Add(newSwitchNode(t, r, "lamp")); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	waitAdded(t, events, "lamp")
	if !r.Has("lamp") {
		t.Error("node should be live even when storage fails")
	}
}

func TestRegistry_Delete(t *testing.T) {
	repo := NewMockRepository()
	r, events := startRegistry(t, repo)

	if err := r.Add(newSwitchNode(t, r, "lamp")); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	waitAdded(t, events, "lamp")

	if err := r.Delete(context.Background(), "lamp"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if r.Has("lamp") || repo.has("lamp") {
		t.Error("node still present after Delete")
	}
	if events.count(EventDeleted) != 1 {
		t.Errorf("EventDeleted count = %d, want 1", events.count(EventDeleted))
	}
	if err := r.Delete(context.Background(), "lamp"); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNodeNotFound", err)
	}
}

// ============================================================================
// Reporter fan-out
// ============================================================================

func TestRegistry_DriverFanOut(t *testing.T) {
	repo := NewMockRepository()
	r, events := startRegistry(t, repo)
	metrics := &mockMetrics{}
	r.SetMetrics(metrics)

	n := newSwitchNode(t, r, "lamp")
	if err := r.Add(n); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	waitAdded(t, events, "lamp")

	if err := n.UpdateInfo([]byte("ON"), "stat/lamp/POWER"); err != nil {
		t.Fatalf("UpdateInfo() error = %v", err)
	}

	stored, _ := repo.Get(context.Background(), "lamp")
	if len(stored.Drivers) != 1 || stored.Drivers[0].Value != 100 {
		t.Errorf("stored drivers = %+v, want ST=100", stored.Drivers)
	}
	if len(metrics.points) != 1 || metrics.points[0] != (metricPoint{"lamp", "switch", "ST", 100}) {
		t.Errorf("metrics = %+v", metrics.points)
	}
	if events.count(EventDriver) != 1 || events.count(EventCommand) != 1 {
		t.Errorf("driver events = %d, command events = %d, want 1 and 1",
			events.count(EventDriver), events.count(EventCommand))
	}
}

func TestRegistry_AttachedNodeIsNotPersisted(t *testing.T) {
	repo := NewMockRepository()
	r, _ := startRegistry(t, repo)

	ctrl := node.NewController("mqctrl", "", nil, node.Deps{Reporter: r})
	r.Attach(ctrl)
	ctrl.SetOnline(true)

	if !r.Has("mqctrl") {
		t.Error("controller not live")
	}
	if repo.has("mqctrl") {
		t.Error("controller should not be persisted")
	}
}

func TestRegistry_QueryAll(t *testing.T) {
	r, events := startRegistry(t, nil)
	for _, id := range []string{"a", "b"} {
		if err := r.Add(newSwitchNode(t, r, id)); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
		waitAdded(t, events, id)
	}
	if err := r.QueryAll(); err != nil {
		t.Fatalf("QueryAll() error = %v", err)
	}
	if got := events.count(EventDriver); got != 2 {
		t.Errorf("driver events = %d, want one ST per node", got)
	}
	if got := r.Addresses(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Addresses() = %v", got)
	}
}

// ============================================================================
// Restore
// ============================================================================

func TestRegistry_Restore(t *testing.T) {
	repo := NewMockRepository()
	ctx := context.Background()

	good := testRecord("lamp", device.TypeSwitch)
	if err := repo.Save(ctx, good); err != nil {
		t.Fatal(err)
	}
	if err := repo.SaveDriver(ctx, "lamp", node.Driver{Name: "ST", Value: 100, UOM: node.UOMOnOff}); err != nil {
		t.Fatal(err)
	}
	if err := repo.Save(ctx, testRecord("old", "trigger")); err != nil {
		t.Fatal(err)
	}

	r := NewRegistry(repo)
	restored, err := r.Restore(ctx, func(desc device.Descriptor) (node.Node, error) {
		return node.New(desc, node.Deps{Reporter: r})
	})
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if restored != 1 {
		t.Errorf("restored = %d, want 1", restored)
	}

	n, ok := r.Get("lamp")
	if !ok {
		t.Fatal("lamp not restored")
	}
	if d := n.Drivers(); len(d) != 1 || d[0].Value != 100 {
		t.Errorf("restored drivers = %+v, want ST=100", d)
	}
	if repo.has("old") {
		t.Error("unbuildable record should be deleted")
	}
}
