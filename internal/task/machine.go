package task

import (
	"time"

	"choreboard/internal/model"
)

// Outcome describes the side effect of a transition. A zero Outcome means the
// transition had no ledger effect (or did not apply at all).
type Outcome struct {
	// Applied is true when the transition changed the instance.
	Applied bool
	// LedgerDelta, when non-zero, is the point delta to append for the
	// instance's assignee.
	LedgerDelta int
}

// RequestCompletion attempts the open -> pending_approval transition.
//
// When the family has exactly one guardian and the actor is that guardian,
// the instance goes straight to approved with an immediate ledger award:
// nobody else could ever approve, so a pending step would deadlock the
// family. In every other case the instance waits for a different guardian.
//
// Calling this on a non-open instance is a no-op, not an error; devices race
// into that situation routinely.
func RequestCompletion(inst model.TaskInstance, actor model.Member, guardianCount int, now time.Time) (model.TaskInstance, Outcome) {
	if inst.Status != model.StatusOpen {
		return inst, Outcome{}
	}

	at := now
	inst.CompletionRequestedBy = actor.ID
	inst.CompletionRequestedAt = &at
	inst.UpdatedAt = now

	if guardianCount == 1 && actor.IsGuardian() {
		inst.Status = model.StatusApproved
		inst.ApprovedBy = actor.ID
		inst.ApprovedAt = &at
		return inst, Outcome{Applied: true, LedgerDelta: inst.Points}
	}

	inst.Status = model.StatusPendingApproval
	return inst, Outcome{Applied: true}
}

// Approve attempts the pending_approval -> approved transition. Only a
// guardian who is not the member that requested completion may approve;
// self-approval is forbidden even in multi-guardian families.
func Approve(inst model.TaskInstance, approver model.Member, now time.Time) (model.TaskInstance, Outcome) {
	if inst.Status != model.StatusPendingApproval {
		return inst, Outcome{}
	}
	if !approver.IsGuardian() {
		return inst, Outcome{}
	}
	if approver.ID == inst.CompletionRequestedBy {
		return inst, Outcome{}
	}

	at := now
	inst.Status = model.StatusApproved
	inst.ApprovedBy = approver.ID
	inst.ApprovedAt = &at
	inst.CompletionRequestedBy = ""
	inst.CompletionRequestedAt = nil
	inst.UpdatedAt = now
	return inst, Outcome{Applied: true, LedgerDelta: inst.Points}
}

// Reject returns a pending_approval instance to open, discarding the
// completion attempt. There is no terminal rejected state.
func Reject(inst model.TaskInstance, approver model.Member, now time.Time) (model.TaskInstance, bool) {
	if inst.Status != model.StatusPendingApproval {
		return inst, false
	}
	if !approver.IsGuardian() {
		return inst, false
	}

	inst.Status = model.StatusOpen
	inst.CompletionRequestedBy = ""
	inst.CompletionRequestedAt = nil
	inst.UpdatedAt = now
	return inst, true
}

// Expire applies the time-based transition to expired. It fires when the
// instance has passed its explicit expiry, or when a recurring-daily
// instance is still open past the end of its due day. Terminal instances are
// never touched, so an approved task can never be retroactively expired.
func Expire(inst model.TaskInstance, now time.Time) (model.TaskInstance, bool) {
	if inst.Status != model.StatusOpen && inst.Status != model.StatusPendingApproval {
		return inst, false
	}

	due := false
	if inst.ExpiresAt != nil && now.After(*inst.ExpiresAt) {
		due = true
	}
	if inst.ScheduleType == model.ScheduleRecurringDaily &&
		inst.Status == model.StatusOpen &&
		now.After(EndOfDay(inst.DueAt)) {
		due = true
	}
	if !due {
		return inst, false
	}

	inst.Status = model.StatusExpired
	inst.CompletionRequestedBy = ""
	inst.CompletionRequestedAt = nil
	inst.UpdatedAt = now
	return inst, true
}

// EndOfDay returns the last instant of t's calendar day in t's location.
func EndOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, int(time.Second-time.Nanosecond), t.Location())
}

// SameDay reports whether a and b fall on the same calendar day in a's
// location.
func SameDay(a, b time.Time) bool {
	b = b.In(a.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
