// Package notice holds the user-visible notices of the gateway, such as
// "Waiting on valid configuration". Notices persist until removed and are
// served by the API.
package notice

import (
	"cmp"
	"slices"
	"sync"
	"time"
)

// Well-known notice keys.
const (
	KeyHello   = "hello"
	KeyWaiting = "waiting"
	KeyMQTT    = "mqtt"
)

// Notice is one message shown to the user.
type Notice struct {
	Key       string    `json:"key"`
	Message   string    `json:"message"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Board is a thread-safe set of notices keyed by name.
type Board struct {
	mu        sync.RWMutex
	notices   map[string]Notice
	listeners []func([]Notice)
}

// NewBoard creates an empty board.
func NewBoard() *Board {
	return &Board{notices: make(map[string]Notice)}
}

// OnChange registers fn to receive the full notice list after each change.
func (b *Board) OnChange(fn func([]Notice)) {
	b.mu.Lock()
	b.listeners = append(b.listeners, fn)
	b.mu.Unlock()
}

// Set adds or replaces the notice under key. Setting the same message
// again is not a change.
func (b *Board) Set(key, message string) {
	b.mu.Lock()
	if cur, ok := b.notices[key]; ok && cur.Message == message {
		b.mu.Unlock()
		return
	}
	b.notices[key] = Notice{Key: key, Message: message, UpdatedAt: time.Now().UTC()}
	b.mu.Unlock()
	b.notify()
}

// Remove deletes the notice under key.
func (b *Board) Remove(key string) {
	b.mu.Lock()
	if _, ok := b.notices[key]; !ok {
		b.mu.Unlock()
		return
	}
	delete(b.notices, key)
	b.mu.Unlock()
	b.notify()
}

// Clear removes every notice.
func (b *Board) Clear() {
	b.mu.Lock()
	if len(b.notices) == 0 {
		b.mu.Unlock()
		return
	}
	b.notices = make(map[string]Notice)
	b.mu.Unlock()
	b.notify()
}

// List returns the notices ordered by key.
func (b *Board) List() []Notice {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Notice, 0, len(b.notices))
	for _, n := range b.notices {
		out = append(out, n)
	}
	slices.SortFunc(out, func(a, b Notice) int { return cmp.Compare(a.Key, b.Key) })
	return out
}

// Get returns the message under key.
func (b *Board) Get(key string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n, ok := b.notices[key]
	return n.Message, ok
}

func (b *Board) notify() {
	list := b.List()

	b.mu.RLock()
	listeners := slices.Clone(b.listeners)
	b.mu.RUnlock()

	for _, fn := range listeners {
		fn(list)
	}
}
