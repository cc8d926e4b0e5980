package topics

import (
	"reflect"
	"slices"
	"sync"
	"testing"
)

func TestRegistry_RegisterUnregisterRoundTrip(t *testing.T) {
	r := NewRegistry()

	r.RegisterTopics("kitchen", []string{"stat/kitchen/POWER", "stat/kitchen/RESULT"})
	r.RegisterTopics("attic", []string{"tele/attic/SENSOR"})

	if r.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", r.Len())
	}
	if addr, ok := r.Resolve("stat/kitchen/RESULT"); !ok || addr != "kitchen" {
		t.Errorf("Resolve(RESULT) = %q, %v", addr, ok)
	}

	removed := r.UnregisterTopics("kitchen")
	if want := []string{"stat/kitchen/POWER", "stat/kitchen/RESULT"}; !reflect.DeepEqual(removed, want) {
		t.Errorf("UnregisterTopics() = %v, want %v", removed, want)
	}
	if _, ok := r.Resolve("stat/kitchen/POWER"); ok {
		t.Error("Resolve() still finds an unregistered topic")
	}
	if got := r.Owned("kitchen"); len(got) != 0 {
		t.Errorf("Owned(kitchen) = %v, want empty", got)
	}
	if want := []string{"tele/attic/SENSOR"}; !reflect.DeepEqual(r.Topics(), want) {
		t.Errorf("Topics() = %v, want %v", r.Topics(), want)
	}
}

func TestRegistry_RegisterIsIdempotent(t *testing.T) {
	r := NewRegistry()

	r.RegisterTopics("a", []string{"t/1", "t/2"})
	r.TakePending()
	r.RegisterTopics("a", []string{"t/1", "t/2", ""})

	if got := r.Owned("a"); !reflect.DeepEqual(got, []string{"t/1", "t/2"}) {
		t.Errorf("Owned(a) = %v, want no duplicates", got)
	}
	if got := r.TakePending(); len(got) != 0 {
		t.Errorf("TakePending() = %v, want nothing new", got)
	}
}

func TestRegistry_LastRegistrationWins(t *testing.T) {
	r := NewRegistry()

	r.RegisterTopics("a", []string{"shared/topic", "a/only"})
	r.RegisterTopics("b", []string{"shared/topic"})

	if addr, _ := r.Resolve("shared/topic"); addr != "b" {
		t.Errorf("Resolve(shared) = %q, want b", addr)
	}
	if got := r.Owned("a"); !reflect.DeepEqual(got, []string{"a/only"}) {
		t.Errorf("Owned(a) = %v, want [a/only]", got)
	}

	// Unregistering the previous owner must not remove the moved topic.
	r.UnregisterTopics("a")
	if addr, ok := r.Resolve("shared/topic"); !ok || addr != "b" {
		t.Errorf("Resolve(shared) after unregister(a) = %q, %v", addr, ok)
	}
}

func TestRegistry_TakePending(t *testing.T) {
	r := NewRegistry()

	r.RegisterTopics("a", []string{"z/1", "a/1"})
	r.RegisterTopics("b", []string{"m/1"})

	if got, want := r.TakePending(), []string{"a/1", "m/1", "z/1"}; !reflect.DeepEqual(got, want) {
		t.Errorf("TakePending() = %v, want %v", got, want)
	}
	if got := r.TakePending(); len(got) != 0 {
		t.Errorf("second TakePending() = %v, want empty", got)
	}

	// A topic registered and removed before being taken is not pending.
	r.RegisterTopics("c", []string{"c/1"})
	r.UnregisterTopics("c")
	if got := r.TakePending(); len(got) != 0 {
		t.Errorf("TakePending() after unregister = %v, want empty", got)
	}
}

func TestRegistry_Addresses(t *testing.T) {
	r := NewRegistry()
	r.RegisterTopics("b", []string{"b/1"})
	r.RegisterTopics("a", []string{"a/1"})

	if got := r.Addresses(); !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("Addresses() = %v", got)
	}
}

func TestRegistry_OwnedIsCopy(t *testing.T) {
	r := NewRegistry()
	r.RegisterTopics("a", []string{"a/1"})

	owned := r.Owned("a")
	owned[0] = "mutated"

	if _, ok := r.Resolve("a/1"); !ok {
		t.Error("mutating Owned() result changed the registry")
	}
	if r.Owned("a")[0] != "a/1" {
		t.Error("Owned() exposes internal slice")
	}
}

func TestRegistry_ConcurrentReaders(t *testing.T) {
	r := NewRegistry()
	r.RegisterTopics("a", []string{"a/1"})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				r.Resolve("a/1")
				r.Topics()
			}
		}()
	}
	for j := 0; j < 50; j++ {
		r.RegisterTopics("b", []string{"b/1"})
		r.UnregisterTopics("b")
	}
	wg.Wait()
}
