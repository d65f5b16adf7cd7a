package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"choreboard/internal/auth"
	"choreboard/internal/model"
	"choreboard/internal/remote"
	"choreboard/internal/store"
	"choreboard/internal/websocket"
)

type InstanceHandler struct {
	instances *store.InstanceStore
	templates *store.TemplateStore
	members   *store.MemberStore
	hub       *websocket.Hub
	logger    *slog.Logger
}

func NewInstanceHandler(is *store.InstanceStore, ts *store.TemplateStore, ms *store.MemberStore, hub *websocket.Hub, logger *slog.Logger) *InstanceHandler {
	return &InstanceHandler{
		instances: is,
		templates: ts,
		members:   ms,
		hub:       hub,
		logger:    logger.With("component", "instance_handler"),
	}
}

func (h *InstanceHandler) broadcast(familyID string, ev remote.ChangeEvent) {
	if h.hub != nil {
		h.hub.Broadcast(familyID, ev)
	}
}

func (h *InstanceHandler) List(w http.ResponseWriter, r *http.Request) {
	instances, err := h.instances.ListByFamily(auth.FamilyID(r.Context()))
	if err != nil {
		h.logger.Error("list instances", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list instances")
		return
	}
	if instances == nil {
		instances = []model.TaskInstance{}
	}
	writeJSON(w, http.StatusOK, instances)
}

func (h *InstanceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.TaskInstance
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	tpl, err := h.templates.GetByID(req.TemplateID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check template")
		return
	}
	if tpl == nil {
		writeError(w, http.StatusBadRequest, "template not found")
		return
	}
	if tpl.Archived || !tpl.Enabled {
		writeError(w, http.StatusConflict, "template is not assignable")
		return
	}

	assignee, err := h.members.GetByID(req.AssignedTo)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check assignee")
		return
	}
	if assignee == nil {
		writeError(w, http.StatusBadRequest, "assignee not found")
		return
	}
	if !tpl.EligibleFor(assignee.Age) {
		writeError(w, http.StatusConflict, "assignee is outside the template's age range")
		return
	}

	now := time.Now().UTC()
	req.FamilyID = tpl.FamilyID
	req.Status = model.StatusOpen
	req.ScheduleType = tpl.ScheduleType
	req.Points = tpl.Points
	// Scheduler-minted instances carry a system creator; keep it.
	if req.CreatedBy == "" {
		req.CreatedBy = auth.ActorID(r.Context())
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = now

	inst, err := h.instances.Create(req)
	if err != nil {
		h.logger.Error("create instance", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create instance")
		return
	}

	h.broadcast(inst.FamilyID, remote.ChangeEvent{Op: model.OpInsert, Kind: model.KindInstance, Instance: inst})
	writeJSON(w, http.StatusCreated, inst)
}

type statusUpdateRequest struct {
	Expect   model.Status       `json:"expect"`
	Instance model.TaskInstance `json:"instance"`
}

type statusUpdateResponse struct {
	Applied  bool               `json:"applied"`
	Instance model.TaskInstance `json:"instance"`
}

// UpdateStatus is the conditional transition endpoint. The update commits
// only while the stored status still equals expect; the response always
// carries the canonical row, so a losing device can reconcile from it.
func (h *InstanceHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req statusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	existing, err := h.instances.GetByID(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get instance")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "instance not found")
		return
	}

	if msg := h.checkTransition(r, existing, req); msg != "" {
		writeError(w, http.StatusForbidden, msg)
		return
	}

	applied, cur, err := h.instances.UpdateStatusIf(id, req.Expect, req.Instance)
	if err != nil {
		h.logger.Error("conditional status update", "instance", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update status")
		return
	}

	if applied {
		h.broadcast(cur.FamilyID, remote.ChangeEvent{Op: model.OpUpdate, Kind: model.KindInstance, Instance: cur})
	}
	writeJSON(w, http.StatusOK, statusUpdateResponse{Applied: applied, Instance: *cur})
}

// checkTransition re-checks role guards against the actor before the
// compare-and-set runs. Devices apply the same guards locally; a well-behaved
// device never trips these.
func (h *InstanceHandler) checkTransition(r *http.Request, existing *model.TaskInstance, req statusUpdateRequest) string {
	actor, _ := auth.FromContext(r.Context())
	target := req.Instance.Status
	if target == model.StatusRejected {
		target = model.StatusOpen
	}

	switch target {
	case model.StatusApproved:
		if actor.Role != model.RoleGuardian {
			return "only guardians approve tasks"
		}
		if existing.Status == model.StatusPendingApproval && existing.CompletionRequestedBy == actor.ID {
			return "requester cannot approve their own completion"
		}
	case model.StatusOpen:
		if existing.Status == model.StatusPendingApproval && actor.Role != model.RoleGuardian {
			return "only guardians reject tasks"
		}
	case model.StatusExpired:
		// Any device may sweep expirations.
	case model.StatusPendingApproval:
		// Requesting completion is open to the assignee and guardians alike.
	default:
		return "unknown target status"
	}
	return ""
}
