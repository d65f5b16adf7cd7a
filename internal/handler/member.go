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

type MemberHandler struct {
	members *store.MemberStore
	hub     *websocket.Hub
	logger  *slog.Logger
}

func NewMemberHandler(ms *store.MemberStore, hub *websocket.Hub, logger *slog.Logger) *MemberHandler {
	return &MemberHandler{members: ms, hub: hub, logger: logger.With("component", "member_handler")}
}

func (h *MemberHandler) broadcast(familyID string, ev remote.ChangeEvent) {
	if h.hub != nil {
		h.hub.Broadcast(familyID, ev)
	}
}

func (h *MemberHandler) List(w http.ResponseWriter, r *http.Request) {
	members, err := h.members.ListByFamily(auth.FamilyID(r.Context()))
	if err != nil {
		h.logger.Error("list members", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list members")
		return
	}
	if members == nil {
		members = []model.Member{}
	}
	writeJSON(w, http.StatusOK, members)
}

func (h *MemberHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string     `json:"name"`
		Role model.Role `json:"role"`
		Age  int        `json:"age"`
		Tags []string   `json:"tags"`
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
	if req.Role != model.RoleGuardian && req.Role != model.RoleDependent {
		writeError(w, http.StatusBadRequest, "role must be guardian or dependent")
		return
	}
	if req.Age < 0 {
		writeError(w, http.StatusBadRequest, "age must not be negative")
		return
	}

	familyID := auth.FamilyID(r.Context())
	member, err := h.members.Create(familyID, req.Name, req.Role, req.Age, req.Tags)
	if err != nil {
		h.logger.Error("create member", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create member")
		return
	}

	h.broadcast(familyID, remote.ChangeEvent{Op: model.OpInsert, Kind: model.KindMember, Member: member})
	writeJSON(w, http.StatusCreated, member)
}

func (h *MemberHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	existing, err := h.members.GetByID(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get member")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "member not found")
		return
	}

	var req struct {
		Name string   `json:"name"`
		Age  int      `json:"age"`
		Tags []string `json:"tags"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		req.Name = existing.Name
	}
	if req.Age == 0 {
		req.Age = existing.Age
	}
	if req.Tags == nil {
		req.Tags = existing.Tags
	}

	member, err := h.members.Update(id, req.Name, req.Age, req.Tags)
	if err != nil {
		h.logger.Error("update member", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update member")
		return
	}

	h.broadcast(member.FamilyID, remote.ChangeEvent{Op: model.OpUpdate, Kind: model.KindMember, Member: member})
	writeJSON(w, http.StatusOK, member)
}

// SetPIN stores a 4-digit PIN for a member. Guardians manage PINs for the
// whole family.
func (h *MemberHandler) SetPIN(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	existing, err := h.members.GetByID(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get member")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "member not found")
		return
	}

	var req struct {
		PIN string `json:"pin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if len(req.PIN) != 4 || !isDigits(req.PIN) {
		writeError(w, http.StatusBadRequest, "PIN must be exactly 4 digits")
		return
	}

	hash, err := auth.HashPIN(req.PIN)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to hash PIN")
		return
	}

	if err := h.members.SetPIN(id, hash); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to set PIN")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "pin set"})
}

func (h *MemberHandler) ClearPIN(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.members.ClearPIN(id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to clear PIN")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "pin cleared"})
}

func (h *MemberHandler) VerifyPIN(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req struct {
		PIN string `json:"pin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	hash, err := h.members.GetPINHash(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get PIN")
		return
	}
	if hash == "" {
		writeError(w, http.StatusBadRequest, "no PIN set for this member")
		return
	}

	if !auth.VerifyPIN(hash, req.PIN) {
		writeError(w, http.StatusUnauthorized, "incorrect PIN")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "verified"})
}
