package handlers

import (
	"net/http"

	"github.com/errorparty/backend/internal/middleware"
)

// RegisterRoutes wires HTTP handlers into the provided ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps Dependencies) {
	health := HealthHandler{Bot: deps.Bot}
	bot := BotHandler{Bot: deps.Bot, Roster: deps.Roster, ChallengeLimiter: deps.ChallengeLimiter}
	stream := StatusStreamHandler{Bot: deps.Bot}
	matches := MatchHandler{Bot: deps.Bot, Matches: deps.Matches}
	links := LinkHandler{Links: deps.Links, Reconciler: deps.Reconciler}

	admin := func(h http.HandlerFunc) http.HandlerFunc { return RequireAdmin(deps.Admin, h) }

	mux.HandleFunc("/healthz", health.Handle)
	mux.HandleFunc("/api/v1/bot/status", admin(bot.Status))
	mux.HandleFunc("/api/v1/bot/status/stream", admin(stream.Handle))
	mux.HandleFunc("/api/v1/bot/challenge", admin(bot.Challenge))
	mux.HandleFunc("/api/v1/bot/rate-limit/reset", admin(bot.ResetRateLimit))
	mux.HandleFunc("/api/v1/bot/friends", admin(bot.Friends))
	mux.HandleFunc("/api/v1/bot/messages", admin(bot.Message))
	mux.HandleFunc("/api/v1/matches", admin(matches.List))
	mux.HandleFunc("/api/v1/matches/lookup", admin(matches.Lookup))
	mux.HandleFunc("/api/v1/links", admin(links.Link))
}

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Bot              BotSession
	Admin            AdminAuthorizer
	Matches          MatchStore
	Links            LinkStore
	Roster           RosterView
	Reconciler       RosterTrigger
	ChallengeLimiter middleware.RateLimiter
}
