package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"choreboard/internal/model"
	"choreboard/internal/remote"
	"choreboard/internal/store"
)

type FamilyHandler struct {
	families  *store.FamilyStore
	members   *store.MemberStore
	templates *store.TemplateStore
	instances *store.InstanceStore
	ledger    *store.LedgerStore
	logger    *slog.Logger
}

func NewFamilyHandler(fs *store.FamilyStore, ms *store.MemberStore, ts *store.TemplateStore, is *store.InstanceStore, ls *store.LedgerStore, logger *slog.Logger) *FamilyHandler {
	return &FamilyHandler{
		families:  fs,
		members:   ms,
		templates: ts,
		instances: is,
		ledger:    ls,
		logger:    logger.With("component", "family_handler"),
	}
}

func (h *FamilyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Timezone string `json:"timezone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Timezone == "" {
		req.Timezone = "UTC"
	}

	fam, err := h.families.Create(req.Name, req.Timezone)
	if err != nil {
		h.logger.Error("create family", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create family")
		return
	}

	writeJSON(w, http.StatusCreated, fam)
}

// Snapshot returns the full canonical state of a family in one read. Member
// point totals are folded from the ledger so a fresh device starts from the
// same numbers it would reach by folding the entries itself.
func (h *FamilyHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	familyID := r.PathValue("familyID")

	fam, err := h.families.GetByID(familyID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get family")
		return
	}
	if fam == nil {
		writeError(w, http.StatusNotFound, "family not found")
		return
	}

	members, err := h.members.ListByFamily(familyID)
	if err != nil {
		h.logger.Error("snapshot members", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load members")
		return
	}
	for i := range members {
		total, err := h.ledger.TotalFor(members[i].ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to fold points")
			return
		}
		members[i].Points = total
	}

	templates, err := h.templates.ListByFamily(familyID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load templates")
		return
	}
	instances, err := h.instances.ListByFamily(familyID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load instances")
		return
	}
	entries, err := h.ledger.ListByFamily(familyID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load ledger")
		return
	}

	if members == nil {
		members = []model.Member{}
	}
	if templates == nil {
		templates = []model.TaskTemplate{}
	}
	if instances == nil {
		instances = []model.TaskInstance{}
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}

	writeJSON(w, http.StatusOK, remote.Family{
		Members:   members,
		Templates: templates,
		Instances: instances,
		Ledger:    entries,
	})
}
