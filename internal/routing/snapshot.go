// Package routing holds the immutable backend snapshot and the
// replaceable-reference container that lets the registry reader install a
// new version without ever blocking a concurrent reader.
package routing

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/edgeproxy/edgeproxy/internal/region"
)

// Backend is a single forwarding target within a routing snapshot.
type Backend struct {
	ID        string
	App       string
	Region    region.Code
	Country   string // optional ISO 3166-1 alpha-2; "" if unknown
	Address   string
	Port      int
	Healthy   bool
	Weight    int
	SoftLimit int
	HardLimit int
}

// Valid reports whether the backend satisfies the invariants required of
// every entry in a snapshot: hard_limit >= soft_limit >= 1, weight >= 1.
func (b Backend) Valid() bool {
	return b.HardLimit >= b.SoftLimit && b.SoftLimit >= 1 && b.Weight >= 1
}

// Snapshot is an immutable, versioned view of the full backend set. Once
// constructed it is never mutated; replacement happens by installing a new
// Snapshot into a Container.
type Snapshot struct {
	Backends  []Backend
	Version   uint64
	CreatedAt time.Time
}

// NewSnapshot builds a Snapshot from backends, sorting them by id so that
// iteration order is deterministic (useful for tie-breaking and tests).
func NewSnapshot(backends []Backend, version uint64, createdAt time.Time) *Snapshot {
	cp := make([]Backend, len(backends))
	copy(cp, backends)
	sort.Slice(cp, func(i, j int) bool { return cp[i].ID < cp[j].ID })
	return &Snapshot{Backends: cp, Version: version, CreatedAt: createdAt}
}

// Find returns the backend with the given id, if present in this snapshot.
func (s *Snapshot) Find(id string) (Backend, bool) {
	if s == nil {
		return Backend{}, false
	}
	// Backends are sorted by id; a linear scan is fine at the scale this
	// proxy targets (up to thousands of backends), and a copy-on-read
	// representation already favors a plain slice over a binary-search
	// index — reload already rebuilds the slice every tick.
	for _, b := range s.Backends {
		if b.ID == id {
			return b, true
		}
	}
	return Backend{}, false
}

// Container is the shared, replaceable reference to the current Snapshot.
// Many goroutines call Current concurrently; exactly one (the registry
// reader) calls Install. Neither call blocks the other.
type Container struct {
	ptr atomic.Pointer[Snapshot]
}

// NewContainer creates a Container holding an empty, version-0 snapshot so
// that Current never returns nil before the first successful reload.
func NewContainer() *Container {
	c := &Container{}
	c.ptr.Store(NewSnapshot(nil, 0, time.Time{}))
	return c
}

// Current returns the snapshot currently installed. The returned pointer is
// safe to retain for the duration of one connection's selection: it will
// never be mutated, only superseded by a later Install.
func (c *Container) Current() *Snapshot {
	return c.ptr.Load()
}

// Install atomically replaces the current snapshot. Readers that already
// hold the old pointer keep observing it; new readers see the new one.
func (c *Container) Install(s *Snapshot) {
	c.ptr.Store(s)
}
