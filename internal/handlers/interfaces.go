package handlers

import (
	"context"
	"net/http"

	"github.com/errorparty/backend/internal/coordinator"
	"github.com/errorparty/backend/internal/matchstats"
	"github.com/errorparty/backend/internal/roster"
)

// BotSession is the slice of coordinator.Manager the HTTP surface drives.
type BotSession interface {
	Status() coordinator.Status
	Subscribe() (<-chan coordinator.Status, func())
	SubmitChallengeCode(code string) bool
	ResetRateLimit()
	AddFriend(accountID string) error
	FetchMatchByShareCode(ctx context.Context, code string) (matchstats.NormalizedMatch, error)
	SendDirectMessage(ctx context.Context, accountID, text string) bool
}

// AdminAuthorizer verifies the operator's bearer token.
type AdminAuthorizer interface {
	VerifyRequest(r *http.Request) error
}

// MatchStore reads recorded matches.
type MatchStore interface {
	ListForAccount(ctx context.Context, accountID string, limit int) ([]matchstats.NormalizedMatch, error)
}

// LinkStore updates which SteamID a local user is linked to.
type LinkStore interface {
	LinkAccount(ctx context.Context, userID, steamID string) error
}

// RosterView lists the bot's friend records.
type RosterView interface {
	List() []roster.FriendRecord
}

// RosterTrigger asks the reconciler for an immediate pass.
type RosterTrigger interface {
	Trigger()
}
