package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/errorparty/backend/internal/coordinator"
	"github.com/errorparty/backend/internal/logging"
	"github.com/errorparty/backend/internal/middleware"
)

// BotHandler exposes the operator controls of the coordinator session.
type BotHandler struct {
	Bot              BotSession
	Roster           RosterView
	ChallengeLimiter middleware.RateLimiter
}

type challengeRequest struct {
	Code string `json:"code"`
}

type friendRequest struct {
	AccountID string `json:"accountId"`
}

type messageRequest struct {
	AccountID string `json:"accountId"`
	Text      string `json:"text"`
}

// Status handles GET /api/v1/bot/status.
func (h BotHandler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.ready(w, r) {
		return
	}
	respondJSON(r.Context(), w, http.StatusOK, h.Bot.Status())
}

// Challenge handles POST /api/v1/bot/challenge, forwarding a second-factor code to the
// pending login.
func (h BotHandler) Challenge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	if !h.ready(w, r) {
		return
	}

	if h.ChallengeLimiter != nil && !h.ChallengeLimiter.Allow("challenge:"+middleware.ClientIP(r)) {
		respondError(ctx, w, http.StatusTooManyRequests, "too many challenge attempts")
		return
	}

	var req challengeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		respondError(ctx, w, http.StatusBadRequest, "code is required")
		return
	}

	if !h.Bot.SubmitChallengeCode(code) {
		respondError(ctx, w, http.StatusConflict, "no challenge pending")
		return
	}
	respondJSON(ctx, w, http.StatusAccepted, map[string]string{"status": "submitted"})
}

// ResetRateLimit handles POST /api/v1/bot/rate-limit/reset.
func (h BotHandler) ResetRateLimit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.ready(w, r) {
		return
	}

	h.Bot.ResetRateLimit()
	logging.FromContext(r.Context()).Info("rate limit reset requested")
	respondJSON(r.Context(), w, http.StatusAccepted, map[string]string{"status": "reset"})
}

// Friends handles GET (roster listing) and POST (friend invite) on /api/v1/bot/friends.
func (h BotHandler) Friends(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listFriends(w, r)
	case http.MethodPost:
		h.inviteFriend(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h BotHandler) listFriends(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.Roster == nil {
		respondError(ctx, w, http.StatusServiceUnavailable, "roster unavailable")
		return
	}
	respondJSON(ctx, w, http.StatusOK, map[string]any{"friends": h.Roster.List()})
}

func (h BotHandler) inviteFriend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(w, r) {
		return
	}

	var req friendRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx = logging.WithAccountID(ctx, req.AccountID)
	if err := h.Bot.AddFriend(req.AccountID); err != nil {
		switch {
		case errors.Is(err, coordinator.ErrInvalidAccount):
			respondError(ctx, w, http.StatusBadRequest, "invalid account id")
		case coordinator.IsNotAvailable(err):
			respondError(ctx, w, http.StatusServiceUnavailable, "bot session unavailable")
		default:
			logging.FromContext(ctx).Error("friend invite failed", "error", err)
			respondError(ctx, w, http.StatusBadGateway, "friend invite failed")
		}
		return
	}
	respondJSON(ctx, w, http.StatusAccepted, map[string]string{"status": "invited"})
}

// Message handles POST /api/v1/bot/messages.
func (h BotHandler) Message(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	if !h.ready(w, r) {
		return
	}

	var req messageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.AccountID) == "" || strings.TrimSpace(req.Text) == "" {
		respondError(ctx, w, http.StatusBadRequest, "accountId and text are required")
		return
	}

	ctx = logging.WithAccountID(ctx, req.AccountID)
	if !h.Bot.SendDirectMessage(ctx, req.AccountID, req.Text) {
		respondError(ctx, w, http.StatusServiceUnavailable, "message not delivered")
		return
	}
	respondJSON(ctx, w, http.StatusAccepted, map[string]string{"status": "sent"})
}

func (h BotHandler) ready(w http.ResponseWriter, r *http.Request) bool {
	if h.Bot == nil {
		respondError(r.Context(), w, http.StatusServiceUnavailable, "bot session unavailable")
		return false
	}
	return true
}
