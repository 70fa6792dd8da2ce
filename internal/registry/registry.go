// Package registry holds the canonical in-memory table of connected
// parties. It is the single source of truth for "who is online" and never
// performs I/O; the lock is held only for map and slice mutation.
package registry

import (
	"sync"

	"classwatch/pkg/interfaces"
	"classwatch/pkg/types"
)

type entry struct {
	conn  interfaces.Connection
	party *types.Party
}

// Registry maps live transport handles to parties. It is keyed by handle,
// not externalId, so misbehaving callers may transiently register duplicate
// ids; traversal helpers resolve ties by registration order.
type Registry struct {
	mu     sync.RWMutex
	byConn map[interfaces.Connection]*entry
	order  []*entry
}

func NewRegistry() *Registry {
	return &Registry{
		byConn: make(map[interfaces.Connection]*entry),
	}
}

// Register inserts or replaces the party for a handle. A second identify on
// the same handle overwrites the prior metadata in place, keeping the
// original registration order.
func (r *Registry) Register(conn interfaces.Connection, party *types.Party) {
	if conn == nil || party == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.byConn[conn]; ok {
		e.party = party
		return
	}
	e := &entry{conn: conn, party: party}
	r.byConn[conn] = e
	r.order = append(r.order, e)
}

// AttachDirectoryRecord sets the enrichment result for a handle. Returns
// false when the handle already disconnected, which callers treat as a
// harmless race, not an error.
func (r *Registry) AttachDirectoryRecord(conn interfaces.Connection, record *types.DirectoryRecord) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byConn[conn]
	if !ok {
		return false
	}
	e.party.DirectoryRecord = record
	return true
}

// Remove deletes and returns the party for a handle, or nil if the handle
// was never identified. Idempotent, so duplicate close events are safe.
func (r *Registry) Remove(conn interfaces.Connection) *types.Party {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byConn[conn]
	if !ok {
		return nil
	}
	delete(r.byConn, conn)
	for i, o := range r.order {
		if o == e {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return e.party
}

// Get returns the party for a handle. Presence doubles as the
// "identified" check in the router's state machine.
func (r *Registry) Get(conn interfaces.Connection) (*types.Party, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byConn[conn]
	if !ok {
		return nil, false
	}
	return e.party, true
}

// Snapshot returns a point-in-time copy of every party in registration
// order. The copies are detached; later enrichment does not mutate them.
func (r *Registry) Snapshot() []types.Party {
	r.mu.RLock()
	defer r.mu.RUnlock()

	parties := make([]types.Party, 0, len(r.order))
	for _, e := range r.order {
		parties = append(parties, *e.party)
	}
	return parties
}

// ForEachByRole calls fn for every party with the given role. The entries
// are collected under the read lock and fn runs outside it, so fn may send
// on the connection without holding up the registry.
func (r *Registry) ForEachByRole(role string, fn func(conn interfaces.Connection, party *types.Party)) {
	r.mu.RLock()
	matched := make([]*entry, 0, len(r.order))
	for _, e := range r.order {
		if e.party.Role == role {
			matched = append(matched, e)
		}
	}
	r.mu.RUnlock()

	for _, e := range matched {
		fn(e.conn, e.party)
	}
}

// ForEach calls fn for every connected party, regardless of role.
func (r *Registry) ForEach(fn func(conn interfaces.Connection, party *types.Party)) {
	r.mu.RLock()
	all := make([]*entry, len(r.order))
	copy(all, r.order)
	r.mu.RUnlock()

	for _, e := range all {
		fn(e.conn, e.party)
	}
}

// FindFirstByID returns the first party registered under an externalId.
// Duplicate ids are tolerated; the earliest registration wins.
func (r *Registry) FindFirstByID(externalID string) (interfaces.Connection, *types.Party, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.order {
		if e.party.ID == externalID {
			return e.conn, e.party, true
		}
	}
	return nil, nil, false
}

// Len returns the number of identified connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}
