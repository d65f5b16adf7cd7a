package ledger

import (
	"sort"
	"time"

	"choreboard/internal/model"
)

// Book is an append-only view over a member family's ledger entries. Totals
// are O(n) folds over the entry set; the fold result is cached per member and
// invalidated on append.
//
// Deductions larger than the current balance are recorded verbatim so the
// ledger stays an accurate audit trail; only the displayed total is floored
// at zero.
type Book struct {
	entries []model.LedgerEntry
	byID    map[string]int
	totals  map[string]int
}

func NewBook() *Book {
	return &Book{
		byID:   make(map[string]int),
		totals: make(map[string]int),
	}
}

// Append records a new entry. Appending an entry whose id is already present
// replaces it in place (identity promotion rewrites ids) without double
// counting.
func (b *Book) Append(e model.LedgerEntry) {
	if i, ok := b.byID[e.ID]; ok {
		b.entries[i] = e
	} else {
		b.byID[e.ID] = len(b.entries)
		b.entries = append(b.entries, e)
	}
	delete(b.totals, e.MemberID)
}

// Rekey rewrites an entry's id after its canonical identifier is assigned.
// If the canonical entry already arrived via the push channel, the
// provisional copy is discarded instead, so the delta is never counted
// twice.
func (b *Book) Rekey(oldID, newID string) {
	i, ok := b.byID[oldID]
	if !ok {
		return
	}
	if _, exists := b.byID[newID]; exists {
		b.removeAt(i, oldID)
		return
	}
	delete(b.byID, oldID)
	b.byID[newID] = i
	b.entries[i].ID = newID
}

// Remove discards an entry. Canonical entries are append-only and never
// removed; this exists solely so a losing optimistic append that was never
// mirrored can be retracted during reconciliation.
func (b *Book) Remove(id string) bool {
	i, ok := b.byID[id]
	if !ok {
		return false
	}
	b.removeAt(i, id)
	return true
}

func (b *Book) removeAt(i int, id string) {
	member := b.entries[i].MemberID
	delete(b.byID, id)
	b.entries = append(b.entries[:i], b.entries[i+1:]...)
	for j := i; j < len(b.entries); j++ {
		b.byID[b.entries[j].ID] = j
	}
	delete(b.totals, member)
}

// Contains reports whether an entry with the given id has been recorded.
func (b *Book) Contains(id string) bool {
	_, ok := b.byID[id]
	return ok
}

// TotalFor returns the true signed point total for a member: the sum of all
// their deltas, which may be negative.
func (b *Book) TotalFor(memberID string) int {
	if t, ok := b.totals[memberID]; ok {
		return t
	}
	t := 0
	for _, e := range b.entries {
		if e.MemberID == memberID {
			t += e.Delta
		}
	}
	b.totals[memberID] = t
	return t
}

// DisplayTotalFor returns the member's balance floored at zero, which is
// what screens show.
func (b *Book) DisplayTotalFor(memberID string) int {
	t := b.TotalFor(memberID)
	if t < 0 {
		return 0
	}
	return t
}

// EntriesFor returns the member's entries newest first.
func (b *Book) EntriesFor(memberID string) []model.LedgerEntry {
	var out []model.LedgerEntry
	for _, e := range b.entries {
		if e.MemberID == memberID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// All returns a copy of every entry in append order.
func (b *Book) All() []model.LedgerEntry {
	out := make([]model.LedgerEntry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Len returns the number of recorded entries.
func (b *Book) Len() int {
	return len(b.entries)
}

// NewEntry builds a ledger entry with a locally-minted id, ready for
// optimistic append and remote mirroring.
func NewEntry(familyID, memberID string, delta int, reason, createdBy string, taskInstanceID *string, now time.Time) model.LedgerEntry {
	return model.LedgerEntry{
		ID:             model.NewLocalID(),
		FamilyID:       familyID,
		MemberID:       memberID,
		Delta:          delta,
		Reason:         reason,
		CreatedBy:      createdBy,
		TaskInstanceID: taskInstanceID,
		CreatedAt:      now,
	}
}
