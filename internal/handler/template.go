package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"choreboard/internal/auth"
	"choreboard/internal/model"
	"choreboard/internal/remote"
	"choreboard/internal/store"
	"choreboard/internal/websocket"
)

type TemplateHandler struct {
	templates *store.TemplateStore
	hub       *websocket.Hub
	logger    *slog.Logger
}

func NewTemplateHandler(ts *store.TemplateStore, hub *websocket.Hub, logger *slog.Logger) *TemplateHandler {
	return &TemplateHandler{templates: ts, hub: hub, logger: logger.With("component", "template_handler")}
}

func (h *TemplateHandler) broadcast(familyID string, ev remote.ChangeEvent) {
	if h.hub != nil {
		h.hub.Broadcast(familyID, ev)
	}
}

func validScheduleType(st model.ScheduleType) bool {
	switch st {
	case model.ScheduleOneTime, model.ScheduleRecurringDaily, model.ScheduleTimeSensitive:
		return true
	}
	return false
}

func (h *TemplateHandler) List(w http.ResponseWriter, r *http.Request) {
	templates, err := h.templates.ListByFamily(auth.FamilyID(r.Context()))
	if err != nil {
		h.logger.Error("list templates", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list templates")
		return
	}
	if templates == nil {
		templates = []model.TaskTemplate{}
	}
	writeJSON(w, http.StatusOK, templates)
}

func (h *TemplateHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.TaskTemplate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if req.Points <= 0 {
		writeError(w, http.StatusBadRequest, "points must be positive")
		return
	}
	if !validScheduleType(req.ScheduleType) {
		writeError(w, http.StatusBadRequest, "invalid schedule type")
		return
	}
	if req.ScheduleType == model.ScheduleTimeSensitive && req.TimeWindowMinutes <= 0 {
		writeError(w, http.StatusBadRequest, "time-sensitive templates need a time window")
		return
	}
	if req.MinAge != nil && req.MaxAge != nil && *req.MinAge > *req.MaxAge {
		writeError(w, http.StatusBadRequest, "min age exceeds max age")
		return
	}

	req.FamilyID = auth.FamilyID(r.Context())
	req.Archived = false

	tpl, err := h.templates.Create(req)
	if err != nil {
		h.logger.Error("create template", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create template")
		return
	}

	h.broadcast(tpl.FamilyID, remote.ChangeEvent{Op: model.OpInsert, Kind: model.KindTemplate, Template: tpl})
	writeJSON(w, http.StatusCreated, tpl)
}

func (h *TemplateHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	existing, err := h.templates.GetByID(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get template")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "template not found")
		return
	}

	var req model.TaskTemplate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	req.ID = id
	req.FamilyID = existing.FamilyID
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		req.Title = existing.Title
	}
	if req.Points <= 0 {
		req.Points = existing.Points
	}
	if !validScheduleType(req.ScheduleType) {
		req.ScheduleType = existing.ScheduleType
	}
	// Archival is one way: an update may archive but never resurrect.
	if existing.Archived {
		req.Archived = true
		req.Enabled = false
	}

	tpl, err := h.templates.Update(req)
	if err != nil {
		h.logger.Error("update template", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update template")
		return
	}

	h.broadcast(tpl.FamilyID, remote.ChangeEvent{Op: model.OpUpdate, Kind: model.KindTemplate, Template: tpl})
	writeJSON(w, http.StatusOK, tpl)
}

// Archive soft-deletes a template. History stays intact: existing instances
// keep their template reference.
func (h *TemplateHandler) Archive(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	existing, err := h.templates.GetByID(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get template")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "template not found")
		return
	}

	tpl, err := h.templates.Archive(id)
	if err != nil {
		h.logger.Error("archive template", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to archive template")
		return
	}

	h.broadcast(tpl.FamilyID, remote.ChangeEvent{Op: model.OpUpdate, Kind: model.KindTemplate, Template: tpl})
	writeJSON(w, http.StatusOK, tpl)
}
