package reconcile

import (
	"log/slog"
	"testing"
	"time"

	"choreboard/internal/model"
	"choreboard/internal/reactive"
	"choreboard/internal/remote"
)

func setup(t *testing.T) (*Reconciler, *reactive.Store) {
	t.Helper()
	store := reactive.NewStore(slog.Default())
	r := New(store, NewIdentityTable(), slog.Default())
	return r, store
}

func memberEvent(op model.ChangeOp, m model.Member) remote.ChangeEvent {
	return remote.ChangeEvent{Op: op, Kind: model.KindMember, Member: &m}
}

func instanceEvent(op model.ChangeOp, i model.TaskInstance) remote.ChangeEvent {
	return remote.ChangeEvent{Op: op, Kind: model.KindInstance, Instance: &i}
}

func entryEvent(op model.ChangeOp, e model.LedgerEntry) remote.ChangeEvent {
	return remote.ChangeEvent{Op: op, Kind: model.KindLedgerEntry, Entry: &e}
}

func TestInsertUnknownEntityAdds(t *testing.T) {
	r, store := setup(t)

	r.ApplyEvent(memberEvent(model.OpInsert, model.Member{ID: "m1", Name: "Mara", Role: model.RoleGuardian}))

	if _, ok := store.Member("m1"); !ok {
		t.Fatal("member not added")
	}
}

func TestInsertDedupByID(t *testing.T) {
	r, store := setup(t)

	m := model.Member{ID: "m1", Name: "Mara", Role: model.RoleGuardian}
	r.ApplyEvent(memberEvent(model.OpInsert, m))
	r.ApplyEvent(memberEvent(model.OpInsert, m))

	if n := len(store.Snapshot().Members); n != 1 {
		t.Errorf("members = %d, want 1", n)
	}
}

func TestLocalMemberPromotedByNameRoleHeuristic(t *testing.T) {
	r, store := setup(t)

	store.UpsertMember(model.Member{ID: "local-abc", Name: "Alya", Role: model.RoleDependent, Age: 8})

	r.ApplyEvent(memberEvent(model.OpInsert, model.Member{ID: "canon-1", Name: "Alya", Role: model.RoleDependent}))

	snap := store.Snapshot()
	if len(snap.Members) != 1 {
		t.Fatalf("members = %d, want 1 (no side-by-side duplicate)", len(snap.Members))
	}
	m, ok := store.Member("canon-1")
	if !ok {
		t.Fatal("member not found under canonical id")
	}
	if m.Age != 8 {
		t.Errorf("locally-known age lost in merge: %d", m.Age)
	}
}

func TestHeuristicNotReappliedAfterMatch(t *testing.T) {
	r, store := setup(t)

	store.UpsertMember(model.Member{ID: "local-abc", Name: "Alya", Role: model.RoleDependent})
	r.ApplyEvent(memberEvent(model.OpInsert, model.Member{ID: "canon-1", Name: "Alya", Role: model.RoleDependent}))

	// A second dependent with the same name on another device must not be
	// folded into the first.
	r.ApplyEvent(memberEvent(model.OpInsert, model.Member{ID: "canon-2", Name: "Alya", Role: model.RoleDependent}))

	if n := len(store.Snapshot().Members); n != 2 {
		t.Errorf("members = %d, want 2", n)
	}
}

func TestPromoteViaInsertAck(t *testing.T) {
	r, store := setup(t)

	store.UpsertInstance(model.TaskInstance{ID: "local-i", Status: model.StatusOpen, Points: 2})

	r.Promote(model.KindInstance, "local-i", "canon-i")

	if _, ok := store.Instance("local-i"); ok {
		t.Error("local id still present")
	}
	if _, ok := store.Instance("canon-i"); !ok {
		t.Error("canonical id missing")
	}

	// Promotion is applied once; a second call with a different canonical id
	// must not move the row again.
	r.Promote(model.KindInstance, "local-i", "canon-other")
	if _, ok := store.Instance("canon-other"); ok {
		t.Error("promotion re-applied")
	}
}

func TestPromoteAfterPushAlreadyDeliveredCanonicalRow(t *testing.T) {
	r, store := setup(t)

	// Device created the entry optimistically; the push channel delivered
	// the canonical row before the insert ack came back.
	store.AppendLedger(model.LedgerEntry{ID: "local-e", MemberID: "alya", Delta: 2})
	r.ApplyEvent(entryEvent(model.OpInsert, model.LedgerEntry{ID: "canon-e", MemberID: "alya", Delta: 2}))

	r.Promote(model.KindLedgerEntry, "local-e", "canon-e")

	if got := store.TrueTotalFor("alya"); got != 2 {
		t.Errorf("total = %d, want 2 (delta counted once)", got)
	}
}

func TestUpdateMergesPreservingLocalOnlyFields(t *testing.T) {
	r, store := setup(t)

	due := time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)
	store.UpsertInstance(model.TaskInstance{
		ID:           "i1",
		TemplateID:   "t1",
		AssignedTo:   "alya",
		Status:       model.StatusOpen,
		ScheduleType: model.ScheduleOneTime,
		Points:       2,
		DueAt:        due,
	})

	// Partial canonical payload: only the status group.
	r.ApplyEvent(instanceEvent(model.OpUpdate, model.TaskInstance{
		ID:     "i1",
		Status: model.StatusPendingApproval,
	}))

	got, _ := store.Instance("i1")
	if got.Status != model.StatusPendingApproval {
		t.Errorf("status = %q, want pending_approval", got.Status)
	}
	if got.TemplateID != "t1" || got.AssignedTo != "alya" || got.Points != 2 || !got.DueAt.Equal(due) {
		t.Errorf("locally-known fields lost: %+v", got)
	}
}

func TestRemoteWinsOnOwnedFields(t *testing.T) {
	r, store := setup(t)

	store.UpsertInstance(model.TaskInstance{ID: "i1", Status: model.StatusApproved, ApprovedBy: "g-a", Points: 2})

	// The losing device's optimism is corrected by the canonical push
	// carrying the winning approver.
	r.ApplyEvent(instanceEvent(model.OpUpdate, model.TaskInstance{
		ID:         "i1",
		Status:     model.StatusApproved,
		ApprovedBy: "g-b",
		Points:     2,
	}))

	got, _ := store.Instance("i1")
	if got.ApprovedBy != "g-b" {
		t.Errorf("approved_by = %q, want g-b (remote wins)", got.ApprovedBy)
	}
}

func TestExpiresAtNeverClearedOrExtended(t *testing.T) {
	r, store := setup(t)

	early := time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)
	late := early.Add(2 * time.Hour)
	store.UpsertInstance(model.TaskInstance{ID: "i1", Status: model.StatusOpen, ExpiresAt: &early})

	// Payload without expiry must not clear it.
	r.ApplyEvent(instanceEvent(model.OpUpdate, model.TaskInstance{ID: "i1", Status: model.StatusOpen}))
	got, _ := store.Instance("i1")
	if got.ExpiresAt == nil || !got.ExpiresAt.Equal(early) {
		t.Error("expiry cleared by partial payload")
	}

	// Payload with a later expiry must not extend it.
	r.ApplyEvent(instanceEvent(model.OpUpdate, model.TaskInstance{ID: "i1", Status: model.StatusOpen, ExpiresAt: &late}))
	got, _ = store.Instance("i1")
	if got.ExpiresAt == nil || !got.ExpiresAt.Equal(early) {
		t.Error("expiry extended by canonical payload")
	}
}

func TestRejectedLabelNormalizedToOpen(t *testing.T) {
	r, store := setup(t)

	at := time.Now()
	r.ApplyEvent(instanceEvent(model.OpUpdate, model.TaskInstance{
		ID:                    "i1",
		Status:                model.StatusRejected,
		CompletionRequestedBy: "alya",
		CompletionRequestedAt: &at,
	}))

	got, _ := store.Instance("i1")
	if got.Status != model.StatusOpen {
		t.Errorf("status = %q, want open", got.Status)
	}
	if got.CompletionRequestedBy != "" || got.CompletionRequestedAt != nil {
		t.Error("completion request fields not cleared on normalization")
	}
}

func TestLedgerEntryWithUnknownTaskLinkDropsField(t *testing.T) {
	r, store := setup(t)

	link := "no-such-instance"
	r.ApplyEvent(entryEvent(model.OpInsert, model.LedgerEntry{
		ID: "e1", MemberID: "alya", Delta: 2, TaskInstanceID: &link,
	}))

	entries := store.LedgerFor("alya")
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1 (merge must not fail)", len(entries))
	}
	if entries[0].TaskInstanceID != nil {
		t.Error("malformed task link not dropped")
	}
	if got := store.TrueTotalFor("alya"); got != 2 {
		t.Errorf("total = %d, want 2", got)
	}
}

func TestDoubleDeliveryOfLedgerEntryCountsOnce(t *testing.T) {
	r, store := setup(t)

	e := model.LedgerEntry{ID: "e1", MemberID: "alya", Delta: 2}
	r.ApplyEvent(entryEvent(model.OpInsert, e))
	r.ApplyEvent(entryEvent(model.OpInsert, e))

	if got := store.TrueTotalFor("alya"); got != 2 {
		t.Errorf("total = %d, want 2", got)
	}
}

func TestAckAndPushConfirmationsCommute(t *testing.T) {
	// A mutation is confirmed twice: once by its own response and once by
	// the push channel. Both carry the same canonical row; folding them in
	// either order converges to the same projection.
	pending := model.TaskInstance{ID: "i1", Status: model.StatusPendingApproval, CompletionRequestedBy: "alya", Points: 2}
	approved := model.TaskInstance{ID: "i1", Status: model.StatusApproved, ApprovedBy: "g-b", Points: 2}
	award := model.LedgerEntry{ID: "e1", MemberID: "alya", Delta: 2}

	ra, sa := setup(t)
	ra.ApplyEvent(instanceEvent(model.OpUpdate, pending))
	ra.ApplyEvent(instanceEvent(model.OpUpdate, approved)) // ack
	ra.ApplyEvent(entryEvent(model.OpInsert, award))       // ack
	ra.ApplyEvent(instanceEvent(model.OpUpdate, approved)) // push
	ra.ApplyEvent(entryEvent(model.OpInsert, award))       // push

	rb, sb := setup(t)
	rb.ApplyEvent(instanceEvent(model.OpUpdate, pending))
	rb.ApplyEvent(entryEvent(model.OpInsert, award))       // push first
	rb.ApplyEvent(instanceEvent(model.OpUpdate, approved)) // push first
	rb.ApplyEvent(entryEvent(model.OpInsert, award))       // ack
	rb.ApplyEvent(instanceEvent(model.OpUpdate, approved)) // ack

	ga, _ := sa.Instance("i1")
	gb, _ := sb.Instance("i1")
	if ga.Status != model.StatusApproved || gb.Status != model.StatusApproved {
		t.Errorf("statuses = %q/%q, want approved/approved", ga.Status, gb.Status)
	}
	if ga.ApprovedBy != "g-b" || gb.ApprovedBy != "g-b" {
		t.Error("approver differs by arrival order")
	}
	if sa.TrueTotalFor("alya") != 2 || sb.TrueTotalFor("alya") != 2 {
		t.Errorf("totals = %d/%d, want 2/2", sa.TrueTotalFor("alya"), sb.TrueTotalFor("alya"))
	}
}

func TestTemplateDeleteBecomesArchive(t *testing.T) {
	r, store := setup(t)

	store.UpsertTemplate(model.TaskTemplate{ID: "t1", Title: "Dishes", Enabled: true})
	tpl := model.TaskTemplate{ID: "t1"}
	r.ApplyEvent(remote.ChangeEvent{Op: model.OpDelete, Kind: model.KindTemplate, Template: &tpl})

	got, ok := store.Template("t1")
	if !ok {
		t.Fatal("template removed; should have been archived")
	}
	if !got.Archived {
		t.Error("template not archived")
	}
}
