// Package registry records notifications sent during the current session.
//
// Entries are keyed by a locally allocated id and looked up again by action handlers
// and by the group/duplicate admission check. Entries are never removed explicitly;
// the oldest registration is evicted once capacity is reached.
package registry

import (
	"math/rand/v2"
	"sync"

	"wristrelay/internal/notification"
)

const DefaultCapacity = 512

type Registry struct {
	mu       sync.RWMutex
	capacity int
	rnd      func() int32
	entries  map[int32]*notification.Outbound
	order    []int32
}

type Option func(*Registry)

// WithCapacity bounds the registry. Values <= 0 keep DefaultCapacity.
func WithCapacity(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.capacity = n
		}
	}
}

// WithRand replaces the id source.
func WithRand(fn func() int32) Option {
	return func(r *Registry) {
		if fn != nil {
			r.rnd = fn
		}
	}
}

func New(opts ...Option) *Registry {
	r := &Registry{
		capacity: DefaultCapacity,
		rnd:      randomID,
		entries:  map[int32]*notification.Outbound{},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// randomID covers the whole signed range; rand.Int32 alone never yields negatives.
func randomID() int32 { return int32(rand.Uint32()) }

// Allocate returns a random id not currently registered. Negative values are valid.
func (r *Registry) Allocate() int32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for {
		id := r.rnd()
		if _, taken := r.entries[id]; !taken {
			return id
		}
	}
}

// Register stores n under id, replacing any previous entry with that id.
func (r *Registry) Register(id int32, n *notification.Outbound) {
	if n == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[id]; !exists {
		r.order = append(r.order, id)
	}
	r.entries[id] = n
	for len(r.order) > r.capacity {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.entries, oldest)
	}
}

func (r *Registry) Lookup(id int32) (*notification.Outbound, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.entries[id]
	return n, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Snapshot returns the registered notifications, oldest first.
func (r *Registry) Snapshot() []*notification.Outbound {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*notification.Outbound, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id])
	}
	return out
}

// HasIdentical reports whether any registered notification not excluded by skip has the
// same visible content as candidate.
func (r *Registry) HasIdentical(candidate *notification.Source, skip func(*notification.Outbound) bool) bool {
	if candidate == nil {
		return false
	}
	hash := candidate.ContentHash()
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, n := range r.entries {
		if n.Source == nil || (skip != nil && skip(n)) {
			continue
		}
		if n.Source.ContentHash() == hash && candidate.HasIdenticalContent(n.Source) {
			return true
		}
	}
	return false
}

// CanAdmit applies the group rules. In group mode summaries are dropped in favour of
// their members; outside group mode members are dropped in favour of the summary.
// Unless identical notifications are allowed, content already registered is rejected.
func (r *Registry) CanAdmit(candidate *notification.Source, groupMode, sendIdentical bool) bool {
	if candidate == nil {
		return false
	}
	switch candidate.Group {
	case notification.GroupSummary:
		if groupMode {
			return false
		}
	case notification.GroupMember:
		if !groupMode {
			return false
		}
	}
	if sendIdentical {
		return true
	}
	skip := func(n *notification.Outbound) bool {
		return groupMode && n.Source.Group == notification.GroupSummary
	}
	return !r.HasIdentical(candidate, skip)
}
