package reconcile

import (
	"sync"

	"choreboard/internal/model"
)

type identityKey struct {
	kind    model.EntityKind
	localID string
}

// IdentityTable records local-to-canonical id promotions. Each promotion is
// applied exactly once: once a local id has a recorded match, later lookups
// resolve through the table instead of re-running the heuristic.
type IdentityTable struct {
	mu      sync.Mutex
	forward map[identityKey]string
}

func NewIdentityTable() *IdentityTable {
	return &IdentityTable{forward: make(map[identityKey]string)}
}

// Record stores a promotion. It returns false if the local id was already
// promoted (to a possibly different canonical id); the first recording wins.
func (t *IdentityTable) Record(kind model.EntityKind, localID, canonicalID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := identityKey{kind: kind, localID: localID}
	if _, ok := t.forward[k]; ok {
		return false
	}
	t.forward[k] = canonicalID
	return true
}

// Resolve maps an id through the table. Canonical ids and unpromoted local
// ids map to themselves.
func (t *IdentityTable) Resolve(kind model.EntityKind, id string) string {
	if !model.IsLocalID(id) {
		return id
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.forward[identityKey{kind: kind, localID: id}]; ok {
		return c
	}
	return id
}
