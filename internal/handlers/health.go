package handlers

import (
	"net/http"
)

// HealthHandler responds with service health information.
type HealthHandler struct {
	Bot BotSession
}

// Handle implements GET /healthz. The process is healthy whatever the session state; the
// state is reported for dashboards.
func (h HealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	payload := map[string]string{
		"status": "ok",
	}
	if h.Bot != nil {
		payload["bot"] = string(h.Bot.Status().State)
	}

	respondJSON(r.Context(), w, http.StatusOK, payload)
}
