package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"choreboard/internal/model"
	"choreboard/internal/remote"
)

func TestAppendDeductGuardianOnly(t *testing.T) {
	f := setupHandlerDB(t)
	h := NewLedgerHandler(f.ledger, f.members, nil, slog.Default())

	body := model.LedgerEntry{MemberID: f.dependent.ID, Delta: -3, Reason: "Screen time trade"}
	req := actorRequest(t, "POST", "/api/ledger", body, f.dependent)
	rec := httptest.NewRecorder()
	h.Append(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("dependent deduct: status = %d, want %d", rec.Code, http.StatusForbidden)
	}

	req = actorRequest(t, "POST", "/api/ledger", body, f.guardian)
	rec = httptest.NewRecorder()
	h.Append(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("guardian deduct: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var entry model.LedgerEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if entry.CreatedBy != f.guardian.ID {
		t.Errorf("created_by = %q", entry.CreatedBy)
	}
}

func TestAppendRejectsZeroDeltaAndEmptyReason(t *testing.T) {
	f := setupHandlerDB(t)
	h := NewLedgerHandler(f.ledger, f.members, nil, slog.Default())

	req := actorRequest(t, "POST", "/api/ledger", model.LedgerEntry{MemberID: f.dependent.ID, Delta: 0, Reason: "x"}, f.guardian)
	rec := httptest.NewRecorder()
	h.Append(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("zero delta: status = %d", rec.Code)
	}

	req = actorRequest(t, "POST", "/api/ledger", model.LedgerEntry{MemberID: f.dependent.ID, Delta: 2, Reason: "  "}, f.guardian)
	rec = httptest.NewRecorder()
	h.Append(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty reason: status = %d", rec.Code)
	}
}

func TestSnapshotFoldsPoints(t *testing.T) {
	f := setupHandlerDB(t)
	lh := NewLedgerHandler(f.ledger, f.members, nil, slog.Default())
	fh := NewFamilyHandler(f.families, f.members, f.templates, f.instances, f.ledger, slog.Default())

	for _, delta := range []int{5, -2} {
		req := actorRequest(t, "POST", "/api/ledger", model.LedgerEntry{
			MemberID: f.dependent.ID, Delta: delta, Reason: "seed",
		}, f.guardian)
		rec := httptest.NewRecorder()
		lh.Append(rec, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("seed entry: status = %d", rec.Code)
		}
	}

	req := httptest.NewRequest("GET", "/api/families/"+f.family.ID, nil)
	req.SetPathValue("familyID", f.family.ID)
	rec := httptest.NewRecorder()
	fh.Snapshot(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("snapshot: status = %d", rec.Code)
	}

	var snap remote.Family
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(snap.Ledger) != 2 {
		t.Errorf("ledger entries = %d, want 2", len(snap.Ledger))
	}
	for _, m := range snap.Members {
		if m.ID == f.dependent.ID && m.Points != 3 {
			t.Errorf("points = %d, want 3", m.Points)
		}
	}
}
