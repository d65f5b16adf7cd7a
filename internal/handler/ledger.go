package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"choreboard/internal/auth"
	"choreboard/internal/model"
	"choreboard/internal/remote"
	"choreboard/internal/store"
	"choreboard/internal/websocket"
)

type LedgerHandler struct {
	ledger  *store.LedgerStore
	members *store.MemberStore
	hub     *websocket.Hub
	logger  *slog.Logger
}

func NewLedgerHandler(ls *store.LedgerStore, ms *store.MemberStore, hub *websocket.Hub, logger *slog.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: ls, members: ms, hub: hub, logger: logger.With("component", "ledger_handler")}
}

func (h *LedgerHandler) List(w http.ResponseWriter, r *http.Request) {
	var (
		entries []model.LedgerEntry
		err     error
	)
	if memberID := r.URL.Query().Get("member"); memberID != "" {
		entries, err = h.ledger.ListByMember(memberID)
	} else {
		entries, err = h.ledger.ListByFamily(auth.FamilyID(r.Context()))
	}
	if err != nil {
		h.logger.Error("list ledger", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list ledger")
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// Append records one signed point delta. The ledger is append-only; there is
// no update or delete. Negative deltas are reserved for guardians.
func (h *LedgerHandler) Append(w http.ResponseWriter, r *http.Request) {
	var req model.LedgerEntry
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if req.Delta == 0 {
		writeError(w, http.StatusBadRequest, "delta must not be zero")
		return
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if req.Reason == "" {
		writeError(w, http.StatusBadRequest, "reason is required")
		return
	}

	if req.Delta < 0 && !auth.IsGuardian(r.Context()) {
		writeError(w, http.StatusForbidden, "only guardians deduct points")
		return
	}

	member, err := h.members.GetByID(req.MemberID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check member")
		return
	}
	if member == nil {
		writeError(w, http.StatusBadRequest, "member not found")
		return
	}

	req.FamilyID = member.FamilyID
	req.CreatedBy = auth.ActorID(r.Context())
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}

	entry, err := h.ledger.Append(req)
	if err != nil {
		h.logger.Error("append ledger entry", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to append entry")
		return
	}

	if h.hub != nil {
		h.hub.Broadcast(entry.FamilyID, remote.ChangeEvent{Op: model.OpInsert, Kind: model.KindLedgerEntry, Entry: entry})
	}
	writeJSON(w, http.StatusCreated, entry)
}
