// Package reconcile folds canonical change events from the remote store into
// the device's local projection. The fold is idempotent and commutative: the
// same row may arrive twice (mutation response and push channel) and in
// either order, and the projection converges to the same state.
package reconcile

import (
	"log/slog"

	"choreboard/internal/model"
	"choreboard/internal/reactive"
	"choreboard/internal/remote"
)

type Reconciler struct {
	store  *reactive.Store
	ids    *IdentityTable
	logger *slog.Logger
}

func New(store *reactive.Store, ids *IdentityTable, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{store: store, ids: ids, logger: logger}
}

// Promote records that the remote store assigned canonicalID to the entity
// the device created under localID, and rewrites the projection once.
// Called with the canonical row from an insert response.
func (r *Reconciler) Promote(kind model.EntityKind, localID, canonicalID string) {
	if localID == canonicalID || !model.IsLocalID(localID) {
		return
	}
	if !r.ids.Record(kind, localID, canonicalID) {
		return
	}
	r.store.ReplaceID(kind, localID, canonicalID)
}

// ApplyEvent folds one canonical change into the projection. The remote
// store wins on every field it owns; nothing here is fatal, and malformed
// references degrade to dropped fields, never to a failed merge.
func (r *Reconciler) ApplyEvent(ev remote.ChangeEvent) {
	switch ev.Kind {
	case model.KindMember:
		if ev.Member == nil {
			return
		}
		r.applyMember(ev.Op, *ev.Member)
	case model.KindTemplate:
		if ev.Template == nil {
			return
		}
		r.applyTemplate(ev.Op, *ev.Template)
	case model.KindInstance:
		if ev.Instance == nil {
			return
		}
		r.applyInstance(ev.Op, *ev.Instance)
	case model.KindLedgerEntry:
		if ev.Entry == nil {
			return
		}
		r.applyEntry(ev.Op, *ev.Entry)
	default:
		r.logger.Warn("unknown entity kind in change event", "kind", ev.Kind)
	}
}

func (r *Reconciler) applyMember(op model.ChangeOp, canon model.Member) {
	if op == model.OpDelete {
		r.store.DeleteMember(canon.ID)
		return
	}

	if _, ok := r.store.Member(canon.ID); !ok {
		// A member created on another device, or our own creation coming
		// back before its insert ack. Match locally-minted members by
		// name+role so the same person never shows up twice.
		if localID, ok := r.findLocalMember(canon.Name, canon.Role); ok {
			r.Promote(model.KindMember, localID, canon.ID)
		}
	}

	if local, ok := r.store.Member(canon.ID); ok {
		r.store.UpsertMember(mergeMember(local, canon))
		return
	}
	r.store.UpsertMember(canon)
}

func (r *Reconciler) findLocalMember(name string, role model.Role) (string, bool) {
	snap := r.store.Snapshot()
	for id, m := range snap.Members {
		if model.IsLocalID(id) && m.Name == name && m.Role == role {
			return id, true
		}
	}
	return "", false
}

func (r *Reconciler) applyTemplate(op model.ChangeOp, canon model.TaskTemplate) {
	if op == model.OpDelete {
		// Templates are archived, never deleted; treat a stray delete as
		// an archive so instance history keeps its reference.
		if local, ok := r.store.Template(canon.ID); ok {
			local.Archived = true
			r.store.UpsertTemplate(local)
		}
		return
	}

	if local, ok := r.store.Template(canon.ID); ok {
		r.store.UpsertTemplate(mergeTemplate(local, canon))
		return
	}
	r.store.UpsertTemplate(canon)
}

func (r *Reconciler) applyInstance(op model.ChangeOp, canon model.TaskInstance) {
	if op == model.OpDelete {
		r.store.DeleteInstance(canon.ID)
		return
	}

	canon = normalizeInstance(canon)

	if local, ok := r.store.Instance(canon.ID); ok {
		r.store.UpsertInstance(mergeInstance(local, canon))
		return
	}
	r.store.UpsertInstance(canon)
}

func (r *Reconciler) applyEntry(op model.ChangeOp, canon model.LedgerEntry) {
	if op == model.OpDelete {
		// The ledger is append-only; deletes are not a thing. Drop it.
		r.logger.Warn("ignoring delete for ledger entry", "id", canon.ID)
		return
	}

	// Unknown task link: drop the field, keep the entry.
	if canon.TaskInstanceID != nil {
		id := r.ids.Resolve(model.KindInstance, *canon.TaskInstanceID)
		if _, ok := r.store.Instance(id); !ok {
			r.logger.Warn("ledger entry links unknown task instance", "entry", canon.ID, "task_instance", id)
			canon.TaskInstanceID = nil
		} else {
			canon.TaskInstanceID = &id
		}
	}

	// Appending an already-known id is a replace, so double delivery of the
	// same canonical row cannot double-count.
	r.store.AppendLedger(canon)
}

// normalizeInstance maps the legacy rejected label back to open at the
// ingestion boundary; the engine has no terminal rejected state.
func normalizeInstance(i model.TaskInstance) model.TaskInstance {
	if i.Status == model.StatusRejected {
		i.Status = model.StatusOpen
		i.CompletionRequestedBy = ""
		i.CompletionRequestedAt = nil
	}
	return i
}
