package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/errorparty/backend/internal/auth"
	"github.com/errorparty/backend/internal/logging"
)

const maxBodyBytes = 1 << 16

func respondJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.FromContext(ctx).Error("encode response body", "status", status, "error", err)
		return
	}

	logger := logging.FromContext(ctx)
	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("request failed", "status", status, "response", payload)
	case status >= http.StatusBadRequest:
		logger.Warn("request returned client error", "status", status, "response", payload)
	}
}

func respondError(ctx context.Context, w http.ResponseWriter, status int, message string) {
	respondJSON(ctx, w, status, map[string]string{"error": message})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// RequireAdmin rejects requests that do not carry the operator token.
func RequireAdmin(admin AdminAuthorizer, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if admin == nil {
			respondError(ctx, w, http.StatusServiceUnavailable, "admin access unavailable")
			return
		}
		if err := admin.VerifyRequest(r); err != nil {
			switch {
			case errors.Is(err, auth.ErrNotConfigured):
				respondError(ctx, w, http.StatusForbidden, "admin access disabled")
			default:
				w.Header().Set("WWW-Authenticate", `Bearer realm="errorparty"`)
				respondError(ctx, w, http.StatusUnauthorized, "invalid admin token")
			}
			return
		}
		next(w, r)
	}
}
