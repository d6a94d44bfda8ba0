// Package chatbot answers direct messages from roster members. A message holding a share code
// is looked up and summarized, "!help" explains that, and other chatter is ignored.
package chatbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/errorparty/backend/internal/coordinator"
	"github.com/errorparty/backend/internal/matchstats"
	"github.com/errorparty/backend/internal/sharecode"
)

// Session is what the handler needs from the coordinator session.
type Session interface {
	FetchMatchByShareCode(ctx context.Context, code string) (matchstats.NormalizedMatch, error)
	SendDirectMessage(ctx context.Context, accountID, text string) bool
}

const helpText = "Send me a match share code (CSGO-xxxxx-xxxxx-xxxxx-xxxxx-xxxxx) and I'll record the match."

// Handler implements coordinator.ChatHandler.
type Handler struct {
	session Session
	logger  *slog.Logger
}

var _ coordinator.ChatHandler = (*Handler)(nil)

// New returns a Handler replying through session.
func New(session Session, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{session: session, logger: logger.With("component", "chatbot")}
}

// HandleChat reacts to one direct message.
func (h *Handler) HandleChat(ctx context.Context, accountID, text string) {
	text = strings.TrimSpace(text)
	switch {
	case text == "":
		return
	case strings.EqualFold(text, "!help"):
		h.reply(ctx, accountID, helpText)
		return
	}

	code, ok := findShareCode(text)
	if !ok {
		return
	}

	match, err := h.session.FetchMatchByShareCode(ctx, code)
	if err != nil {
		h.logger.InfoContext(ctx, "chat lookup failed", "accountId", accountID, "error", err)
		h.reply(ctx, accountID, failureText(err))
		return
	}
	h.reply(ctx, accountID, Summary(match))
}

func (h *Handler) reply(ctx context.Context, accountID, text string) {
	if !h.session.SendDirectMessage(ctx, accountID, text) {
		h.logger.DebugContext(ctx, "chat reply not delivered", "accountId", accountID)
	}
}

// findShareCode returns the first whitespace-separated word that decodes as a share code.
func findShareCode(text string) (string, bool) {
	for _, word := range strings.Fields(text) {
		word = strings.Trim(word, ".,;:!?\"'()[]<>")
		if sharecode.Validate(word) == nil {
			return word, true
		}
	}
	return "", false
}

// Summary renders a one-line description of the subject's result.
func Summary(m matchstats.NormalizedMatch) string {
	result := "Loss"
	switch {
	case m.IsWin:
		result = "Win"
	case m.IsDraw:
		result = "Draw"
	}
	return fmt.Sprintf("%s %d:%d on %s | %d/%d/%d K/D/A | %.1f%% HS | %.1f ADR",
		result, m.FinalScore[0], m.FinalScore[1], m.Map,
		m.Kills, m.Deaths, m.Assists, m.HeadshotPct, m.ADR)
}

func failureText(err error) string {
	switch {
	case errors.Is(err, sharecode.ErrInvalidLength), errors.Is(err, sharecode.ErrInvalidCharacter), errors.Is(err, sharecode.ErrOutOfRange):
		return "That share code doesn't look right."
	case coordinator.IsNotAvailable(err):
		return "The game coordinator isn't answering right now, try again later."
	default:
		return "I couldn't read that match."
	}
}
