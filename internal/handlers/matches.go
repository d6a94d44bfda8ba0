package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/errorparty/backend/internal/coordinator"
	"github.com/errorparty/backend/internal/correlate"
	"github.com/errorparty/backend/internal/logging"
	"github.com/errorparty/backend/internal/matchstats"
	"github.com/errorparty/backend/internal/sharecode"
)

// MatchHandler serves share-code lookups and recorded matches.
type MatchHandler struct {
	Bot     BotSession
	Matches MatchStore
}

type lookupRequest struct {
	ShareCode string `json:"shareCode"`
}

// Lookup handles POST /api/v1/matches/lookup.
func (h MatchHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx, span := logging.StartSpan(r.Context(), "match_lookup")
	var spanErr error
	defer func() { span.EndWithError(spanErr) }()

	if h.Bot == nil {
		respondError(ctx, w, http.StatusServiceUnavailable, "bot session unavailable")
		return
	}

	var req lookupRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	match, err := h.Bot.FetchMatchByShareCode(ctx, req.ShareCode)
	if err != nil {
		spanErr = err
		status, message := lookupFailure(err)
		respondError(ctx, w, status, message)
		return
	}

	respondJSON(ctx, w, http.StatusOK, match)
}

func lookupFailure(err error) (int, string) {
	switch {
	case errors.Is(err, sharecode.ErrInvalidLength), errors.Is(err, sharecode.ErrInvalidCharacter), errors.Is(err, sharecode.ErrOutOfRange):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, correlate.ErrInFlight):
		return http.StatusConflict, "lookup for this match already in progress"
	case errors.Is(err, correlate.ErrTimeout):
		return http.StatusGatewayTimeout, "coordinator did not answer in time"
	case coordinator.IsNotAvailable(err):
		return http.StatusServiceUnavailable, "coordinator unavailable"
	case errors.Is(err, matchstats.ErrNoRounds), errors.Is(err, matchstats.ErrMissingScores), errors.Is(err, matchstats.ErrSubjectOutOfRange):
		return http.StatusUnprocessableEntity, "match data unusable"
	default:
		return http.StatusInternalServerError, "lookup failed"
	}
}

// List handles GET /api/v1/matches?accountId=...&limit=....
func (h MatchHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()

	if h.Matches == nil {
		respondError(ctx, w, http.StatusServiceUnavailable, "match store unavailable")
		return
	}

	accountID, err := coordinator.ValidateAccountID(strings.TrimSpace(r.URL.Query().Get("accountId")))
	if err != nil {
		respondError(ctx, w, http.StatusBadRequest, "invalid account id")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 100 {
			respondError(ctx, w, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	matches, err := h.Matches.ListForAccount(ctx, accountID, limit)
	if err != nil {
		logging.FromContext(ctx).Error("list matches", "accountId", accountID, "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "failed to load matches")
		return
	}
	if matches == nil {
		matches = []matchstats.NormalizedMatch{}
	}

	respondJSON(ctx, w, http.StatusOK, map[string]any{"matches": matches})
}
