package reactive

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"choreboard/internal/ledger"
	"choreboard/internal/model"
)

var ErrNotFound = errors.New("not found")

const changeBufferSize = 64

// Change is a notification that part of the projection moved. Subscribers
// that fall behind receive a single coalesced Resync marker instead of the
// changes they missed.
type Change struct {
	Kind   model.EntityKind `json:"kind"`
	Op     model.ChangeOp   `json:"op"`
	ID     string           `json:"id"`
	Resync bool             `json:"resync,omitempty"`
}

// Snapshot is an immutable copy of the projection at one instant. Readers
// hold it freely; the store never mutates a handed-out snapshot.
type Snapshot struct {
	Members   map[string]model.Member
	Templates map[string]model.TaskTemplate
	Instances map[string]model.TaskInstance
	Ledger    []model.LedgerEntry
}

// GuardianCount returns the number of guardians in the family.
func (s Snapshot) GuardianCount() int {
	n := 0
	for _, m := range s.Members {
		if m.IsGuardian() {
			n++
		}
	}
	return n
}

// Store is the device's reactive projection of the family's state. It has
// exactly one logical writer (the engine) and any number of subscribed
// readers. The persisted copy in the key-value cache is refreshed on a
// debounce timer; the in-memory projection is authoritative between flushes.
type Store struct {
	mu        sync.RWMutex
	members   map[string]model.Member
	templates map[string]model.TaskTemplate
	instances map[string]model.TaskInstance
	book      *ledger.Book

	subs map[chan Change]struct{}

	flusher *flusher
	logger  *slog.Logger
}

// Persister is where the projection is flushed. Satisfied by kvcache.Cache.
type Persister interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
}

type Option func(*Store)

// WithPersistence enables debounced flushing of the projection to cache
// under the given key.
func WithPersistence(p Persister, key string, debounce time.Duration) Option {
	return func(s *Store) {
		s.flusher = newFlusher(p, key, debounce, s.marshal, s.logger)
	}
}

func NewStore(logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		members:   make(map[string]model.Member),
		templates: make(map[string]model.TaskTemplate),
		instances: make(map[string]model.TaskInstance),
		book:      ledger.NewBook(),
		subs:      make(map[chan Change]struct{}),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers a change listener. The returned cancel func must be
// called when the consumer goes away. Sends never block: a consumer that
// stops draining gets a Resync marker and should re-read a Snapshot.
func (s *Store) Subscribe() (<-chan Change, func()) {
	ch := make(chan Change, changeBufferSize)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// notify fans a change out to subscribers. Callers hold s.mu.
func (s *Store) notify(c Change) {
	for ch := range s.subs {
		select {
		case ch <- c:
		default:
			// Buffer full: collapse into a resync marker if one fits.
			select {
			case ch <- Change{Resync: true}:
			default:
			}
		}
	}
	if s.flusher != nil {
		s.flusher.dirty()
	}
}

// Snapshot returns a deep copy of the projection.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Members:   make(map[string]model.Member, len(s.members)),
		Templates: make(map[string]model.TaskTemplate, len(s.templates)),
		Instances: make(map[string]model.TaskInstance, len(s.instances)),
		Ledger:    s.book.All(),
	}
	for id, m := range s.members {
		snap.Members[id] = m
	}
	for id, t := range s.templates {
		snap.Templates[id] = t
	}
	for id, i := range s.instances {
		snap.Instances[id] = i
	}
	return snap
}

// --- Member accessors ---

func (s *Store) Member(id string) (model.Member, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[id]
	return m, ok
}

func (s *Store) UpsertMember(m model.Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op := model.OpUpdate
	if _, ok := s.members[m.ID]; !ok {
		op = model.OpInsert
	}
	s.members[m.ID] = m
	s.notify(Change{Kind: model.KindMember, Op: op, ID: m.ID})
}

func (s *Store) DeleteMember(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[id]; !ok {
		return
	}
	delete(s.members, id)
	s.notify(Change{Kind: model.KindMember, Op: model.OpDelete, ID: id})
}

// --- Template accessors ---

func (s *Store) Template(id string) (model.TaskTemplate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[id]
	return t, ok
}

func (s *Store) UpsertTemplate(t model.TaskTemplate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op := model.OpUpdate
	if _, ok := s.templates[t.ID]; !ok {
		op = model.OpInsert
	}
	s.templates[t.ID] = t
	s.notify(Change{Kind: model.KindTemplate, Op: op, ID: t.ID})
}

// --- Instance accessors ---

func (s *Store) Instance(id string) (model.TaskInstance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.instances[id]
	return i, ok
}

func (s *Store) UpsertInstance(i model.TaskInstance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op := model.OpUpdate
	if _, ok := s.instances[i.ID]; !ok {
		op = model.OpInsert
	}
	s.instances[i.ID] = i
	s.notify(Change{Kind: model.KindInstance, Op: op, ID: i.ID})
}

func (s *Store) DeleteInstance(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[id]; !ok {
		return
	}
	delete(s.instances, id)
	s.notify(Change{Kind: model.KindInstance, Op: model.OpDelete, ID: id})
}

// --- Ledger accessors ---

func (s *Store) AppendLedger(e model.LedgerEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.book.Append(e)
	s.refreshMemberTotalLocked(e.MemberID)
	s.notify(Change{Kind: model.KindLedgerEntry, Op: model.OpInsert, ID: e.ID})
}

// RemoveLedger retracts an optimistic entry that lost its race and was
// never acknowledged by the remote store. Canonical entries stay put.
func (s *Store) RemoveLedger(id string, memberID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.book.Remove(id) {
		return
	}
	s.refreshMemberTotalLocked(memberID)
	s.notify(Change{Kind: model.KindLedgerEntry, Op: model.OpDelete, ID: id})
}

func (s *Store) HasLedgerEntry(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.book.Contains(id)
}

// PointsFor returns the member's displayed balance, floored at zero.
func (s *Store) PointsFor(memberID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.book.DisplayTotalFor(memberID)
}

// TrueTotalFor returns the member's signed ledger total.
func (s *Store) TrueTotalFor(memberID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.book.TotalFor(memberID)
}

func (s *Store) LedgerFor(memberID string) []model.LedgerEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.book.EntriesFor(memberID)
}

// refreshMemberTotalLocked keeps the cached Points field on the member row
// equal to the ledger fold. Callers hold s.mu.
func (s *Store) refreshMemberTotalLocked(memberID string) {
	m, ok := s.members[memberID]
	if !ok {
		return
	}
	m.Points = s.book.DisplayTotalFor(memberID)
	s.members[memberID] = m
}

// ReplaceID rewrites an entity's key after identity promotion, along with
// every reference to it held by other rows. It is applied at most once per
// promotion.
func (s *Store) ReplaceID(kind model.EntityKind, oldID, newID string) {
	if oldID == newID {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	switch kind {
	case model.KindMember:
		if m, ok := s.members[oldID]; ok {
			delete(s.members, oldID)
			if _, exists := s.members[newID]; !exists {
				m.ID = newID
				s.members[newID] = m
			}
		}
		for id, inst := range s.instances {
			changed := false
			if inst.AssignedTo == oldID {
				inst.AssignedTo = newID
				changed = true
			}
			if inst.CreatedBy == oldID {
				inst.CreatedBy = newID
				changed = true
			}
			if inst.CompletionRequestedBy == oldID {
				inst.CompletionRequestedBy = newID
				changed = true
			}
			if inst.ApprovedBy == oldID {
				inst.ApprovedBy = newID
				changed = true
			}
			if changed {
				s.instances[id] = inst
			}
		}
		for _, e := range s.book.All() {
			if e.MemberID == oldID || e.CreatedBy == oldID {
				if e.MemberID == oldID {
					e.MemberID = newID
				}
				if e.CreatedBy == oldID {
					e.CreatedBy = newID
				}
				s.book.Append(e)
			}
		}
	case model.KindTemplate:
		if t, ok := s.templates[oldID]; ok {
			delete(s.templates, oldID)
			if _, exists := s.templates[newID]; !exists {
				t.ID = newID
				s.templates[newID] = t
			}
		}
		for id, inst := range s.instances {
			if inst.TemplateID == oldID {
				inst.TemplateID = newID
				s.instances[id] = inst
			}
		}
	case model.KindInstance:
		if inst, ok := s.instances[oldID]; ok {
			delete(s.instances, oldID)
			if _, exists := s.instances[newID]; !exists {
				inst.ID = newID
				s.instances[newID] = inst
			}
		}
		for _, e := range s.book.All() {
			if e.TaskInstanceID != nil && *e.TaskInstanceID == oldID {
				id := newID
				e.TaskInstanceID = &id
				s.book.Append(e)
			}
		}
	case model.KindLedgerEntry:
		s.book.Rekey(oldID, newID)
	}

	s.notify(Change{Kind: kind, Op: model.OpUpdate, ID: newID})
}

// --- Persistence ---

type persistedProjection struct {
	Members   []model.Member       `json:"members"`
	Templates []model.TaskTemplate `json:"templates"`
	Instances []model.TaskInstance `json:"instances"`
	Ledger    []model.LedgerEntry  `json:"ledger"`
}

// marshal serializes the projection. Called by the flusher off the write
// path.
func (s *Store) marshal() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := persistedProjection{}
	for _, m := range s.members {
		p.Members = append(p.Members, m)
	}
	for _, t := range s.templates {
		p.Templates = append(p.Templates, t)
	}
	for _, i := range s.instances {
		p.Instances = append(p.Instances, i)
	}
	p.Ledger = s.book.All()
	return json.Marshal(p)
}

// Load restores the projection from the persistent cache. Called once at
// startup before any subscriber attaches.
func (s *Store) Load() error {
	if s.flusher == nil {
		return nil
	}
	data, ok, err := s.flusher.load()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	var p persistedProjection
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range p.Members {
		s.members[m.ID] = m
	}
	for _, t := range p.Templates {
		s.templates[t.ID] = t
	}
	for _, i := range p.Instances {
		s.instances[i.ID] = i
	}
	for _, e := range p.Ledger {
		s.book.Append(e)
	}
	return nil
}

// Flush forces a pending debounced write, if any. Used at shutdown.
func (s *Store) Flush() {
	if s.flusher != nil {
		s.flusher.flushNow()
	}
}
