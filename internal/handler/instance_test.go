package handler

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"choreboard/internal/auth"
	"choreboard/internal/database"
	"choreboard/internal/model"
	"choreboard/internal/store"
)

type handlerFixture struct {
	families  *store.FamilyStore
	members   *store.MemberStore
	templates *store.TemplateStore
	instances *store.InstanceStore
	ledger    *store.LedgerStore

	family    *store.Family
	guardian  *model.Member
	guardian2 *model.Member
	dependent *model.Member
}

func setupHandlerDB(t *testing.T) *handlerFixture {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	f := &handlerFixture{
		families:  store.NewFamilyStore(db),
		members:   store.NewMemberStore(db),
		templates: store.NewTemplateStore(db),
		instances: store.NewInstanceStore(db),
		ledger:    store.NewLedgerStore(db),
	}

	fam, err := f.families.Create("The Harpers", "UTC")
	if err != nil {
		t.Fatalf("create family: %v", err)
	}
	f.family = fam

	f.guardian, err = f.members.Create(fam.ID, "Mara", model.RoleGuardian, 38, nil)
	if err != nil {
		t.Fatalf("create guardian: %v", err)
	}
	f.guardian2, err = f.members.Create(fam.ID, "Devon", model.RoleGuardian, 41, nil)
	if err != nil {
		t.Fatalf("create guardian: %v", err)
	}
	f.dependent, err = f.members.Create(fam.ID, "Alya", model.RoleDependent, 8, nil)
	if err != nil {
		t.Fatalf("create dependent: %v", err)
	}
	return f
}

func (f *handlerFixture) seedPendingInstance(t *testing.T, requestedBy string) *model.TaskInstance {
	t.Helper()
	tpl, err := f.templates.Create(model.TaskTemplate{
		FamilyID: f.family.ID, Title: "Feed the cat", Points: 2,
		ScheduleType: model.ScheduleOneTime, Enabled: true,
	})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	now := time.Now().UTC()
	reqAt := now
	inst, err := f.instances.Create(model.TaskInstance{
		FamilyID: f.family.ID, TemplateID: tpl.ID, AssignedTo: f.dependent.ID,
		CreatedBy: f.guardian.ID, Status: model.StatusPendingApproval,
		ScheduleType: model.ScheduleOneTime, Points: 2,
		CompletionRequestedBy: requestedBy, CompletionRequestedAt: &reqAt,
		DueAt: now.Add(4 * time.Hour), CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("create instance: %v", err)
	}
	return inst
}

func actorRequest(t *testing.T, method, target string, body any, actor *model.Member) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(method, target, bytes.NewReader(data))
	ctx := auth.WithActor(req.Context(), auth.Actor{
		ID: actor.ID, FamilyID: actor.FamilyID, Role: actor.Role,
	})
	return req.WithContext(ctx)
}

func approveBody(inst *model.TaskInstance, approver string) statusUpdateRequest {
	next := *inst
	next.Status = model.StatusApproved
	next.ApprovedBy = approver
	at := time.Now().UTC()
	next.ApprovedAt = &at
	next.CompletionRequestedBy = ""
	next.CompletionRequestedAt = nil
	return statusUpdateRequest{Expect: model.StatusPendingApproval, Instance: next}
}

func TestUpdateStatusApprove(t *testing.T) {
	f := setupHandlerDB(t)
	h := NewInstanceHandler(f.instances, f.templates, f.members, nil, slog.Default())
	inst := f.seedPendingInstance(t, f.dependent.ID)

	req := actorRequest(t, "POST", "/api/instances/"+inst.ID+"/status", approveBody(inst, f.guardian.ID), f.guardian)
	req.SetPathValue("id", inst.ID)
	rec := httptest.NewRecorder()
	h.UpdateStatus(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp statusUpdateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.Applied {
		t.Error("expected applied = true")
	}
	if resp.Instance.Status != model.StatusApproved {
		t.Errorf("status = %q", resp.Instance.Status)
	}
	if resp.Instance.CompletionRequestedBy != "" {
		t.Error("completion request not cleared on approval")
	}
}

func TestUpdateStatusStaleExpectationLoses(t *testing.T) {
	f := setupHandlerDB(t)
	h := NewInstanceHandler(f.instances, f.templates, f.members, nil, slog.Default())
	inst := f.seedPendingInstance(t, f.dependent.ID)

	first := actorRequest(t, "POST", "/api/instances/"+inst.ID+"/status", approveBody(inst, f.guardian.ID), f.guardian)
	first.SetPathValue("id", inst.ID)
	rec := httptest.NewRecorder()
	h.UpdateStatus(rec, first)
	if rec.Code != http.StatusOK {
		t.Fatalf("first approve: status = %d", rec.Code)
	}

	// Second guardian races in with the same stale expectation.
	second := actorRequest(t, "POST", "/api/instances/"+inst.ID+"/status", approveBody(inst, f.guardian2.ID), f.guardian2)
	second.SetPathValue("id", inst.ID)
	rec = httptest.NewRecorder()
	h.UpdateStatus(rec, second)

	if rec.Code != http.StatusOK {
		t.Fatalf("second approve: status = %d", rec.Code)
	}
	var resp statusUpdateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Applied {
		t.Error("stale expectation applied")
	}
	if resp.Instance.ApprovedBy != f.guardian.ID {
		t.Errorf("approver = %q, want first guardian", resp.Instance.ApprovedBy)
	}
}

func TestUpdateStatusSelfApprovalForbidden(t *testing.T) {
	f := setupHandlerDB(t)
	h := NewInstanceHandler(f.instances, f.templates, f.members, nil, slog.Default())
	inst := f.seedPendingInstance(t, f.guardian.ID)

	req := actorRequest(t, "POST", "/api/instances/"+inst.ID+"/status", approveBody(inst, f.guardian.ID), f.guardian)
	req.SetPathValue("id", inst.ID)
	rec := httptest.NewRecorder()
	h.UpdateStatus(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestUpdateStatusDependentCannotApprove(t *testing.T) {
	f := setupHandlerDB(t)
	h := NewInstanceHandler(f.instances, f.templates, f.members, nil, slog.Default())
	inst := f.seedPendingInstance(t, f.dependent.ID)

	req := actorRequest(t, "POST", "/api/instances/"+inst.ID+"/status", approveBody(inst, f.dependent.ID), f.dependent)
	req.SetPathValue("id", inst.ID)
	rec := httptest.NewRecorder()
	h.UpdateStatus(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestCreateInstanceChecksEligibility(t *testing.T) {
	f := setupHandlerDB(t)
	h := NewInstanceHandler(f.instances, f.templates, f.members, nil, slog.Default())

	minAge := 12
	tpl, err := f.templates.Create(model.TaskTemplate{
		FamilyID: f.family.ID, Title: "Mow the lawn", Points: 5,
		MinAge: &minAge, ScheduleType: model.ScheduleOneTime, Enabled: true,
	})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}

	body := model.TaskInstance{
		TemplateID: tpl.ID, AssignedTo: f.dependent.ID,
		DueAt: time.Now().UTC().Add(24 * time.Hour),
	}
	req := actorRequest(t, "POST", "/api/instances", body, f.guardian)
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestCreateInstanceArchivedTemplateRefused(t *testing.T) {
	f := setupHandlerDB(t)
	h := NewInstanceHandler(f.instances, f.templates, f.members, nil, slog.Default())

	tpl, err := f.templates.Create(model.TaskTemplate{
		FamilyID: f.family.ID, Title: "Old chore", Points: 1,
		ScheduleType: model.ScheduleOneTime, Enabled: true,
	})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	if _, err := f.templates.Archive(tpl.ID); err != nil {
		t.Fatalf("archive: %v", err)
	}

	body := model.TaskInstance{
		TemplateID: tpl.ID, AssignedTo: f.dependent.ID,
		DueAt: time.Now().UTC().Add(24 * time.Hour),
	}
	req := actorRequest(t, "POST", "/api/instances", body, f.guardian)
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
}
