package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/errorparty/backend/internal/repositories"
)

// LinkHandler links local users to SteamIDs, which changes who the bot befriends.
type LinkHandler struct {
	Links      LinkStore
	Reconciler RosterTrigger
}

type linkRequest struct {
	UserID  string `json:"userId"`
	SteamID string `json:"steamId"`
}

// Link handles PUT /api/v1/links. An empty steamId unlinks the user.
func (h LinkHandler) Link(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()

	if h.Links == nil {
		respondError(ctx, w, http.StatusServiceUnavailable, "link store unavailable")
		return
	}

	var req linkRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		respondError(ctx, w, http.StatusBadRequest, "userId is required")
		return
	}

	if err := h.Links.LinkAccount(ctx, req.UserID, req.SteamID); err != nil {
		switch {
		case errors.Is(err, repositories.ErrInvalidSteamID):
			respondError(ctx, w, http.StatusBadRequest, "invalid steam id")
		case errors.Is(err, repositories.ErrNotFound):
			respondError(ctx, w, http.StatusNotFound, "user not found")
		case errors.Is(err, repositories.ErrConflict):
			respondError(ctx, w, http.StatusConflict, "steam id already linked to another user")
		default:
			respondError(ctx, w, http.StatusInternalServerError, "failed to link account")
		}
		return
	}

	if h.Reconciler != nil {
		h.Reconciler.Trigger()
	}
	w.WriteHeader(http.StatusNoContent)
}
