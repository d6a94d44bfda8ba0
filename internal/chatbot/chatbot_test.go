package chatbot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/errorparty/backend/internal/coordinator"
	"github.com/errorparty/backend/internal/matchstats"
)

type fakeSession struct {
	mu      sync.Mutex
	lookups []string
	replies []string
	match   matchstats.NormalizedMatch
	err     error
}

func (f *fakeSession) FetchMatchByShareCode(_ context.Context, code string) (matchstats.NormalizedMatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups = append(f.lookups, code)
	return f.match, f.err
}

func (f *fakeSession) SendDirectMessage(_ context.Context, accountID, text string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, accountID+": "+text)
	return true
}

func newHandler(s *fakeSession) *Handler {
	return New(s, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestShareCodeMessageIsLookedUp(t *testing.T) {
	t.Parallel()

	s := &fakeSession{match: matchstats.NormalizedMatch{
		Map: "de_ancient", FinalScore: [2]int{9, 7}, IsWin: true,
		PlayerStats: matchstats.PlayerStats{Kills: 20, Deaths: 10, Assists: 5, HeadshotPct: 40, ADR: 150},
	}}
	h := newHandler(s)

	h.HandleChat(context.Background(), "76561197960287930", "gg, here: CSGO-AMDcN-f9Vme-bVrxd-RMW9P-n76Sf!")

	require.Equal(t, []string{"CSGO-AMDcN-f9Vme-bVrxd-RMW9P-n76Sf"}, s.lookups)
	require.Len(t, s.replies, 1)
	assert.Equal(t, "76561197960287930: Win 9:7 on de_ancient | 20/10/5 K/D/A | 40.0% HS | 150.0 ADR", s.replies[0])
}

func TestLookupFailureIsReported(t *testing.T) {
	t.Parallel()

	s := &fakeSession{err: fmt.Errorf("lookup: %w", coordinator.ErrNotAvailable)}
	h := newHandler(s)

	h.HandleChat(context.Background(), "76561197960287930", "CSGO-AMDcN-f9Vme-bVrxd-RMW9P-n76Sf")

	require.Len(t, s.replies, 1)
	assert.Contains(t, s.replies[0], "isn't answering")
}

func TestHelpAndChatter(t *testing.T) {
	t.Parallel()

	s := &fakeSession{}
	h := newHandler(s)

	h.HandleChat(context.Background(), "76561197960287930", "hey bot")
	h.HandleChat(context.Background(), "76561197960287930", "   ")
	assert.Empty(t, s.replies)
	assert.Empty(t, s.lookups)

	h.HandleChat(context.Background(), "76561197960287930", "!HELP")
	require.Len(t, s.replies, 1)
	assert.Contains(t, s.replies[0], "share code")
}

func TestSummaryOutcomes(t *testing.T) {
	t.Parallel()

	assert.Contains(t, Summary(matchstats.NormalizedMatch{IsDraw: true, FinalScore: [2]int{12, 12}}), "Draw 12:12")
	assert.Contains(t, Summary(matchstats.NormalizedMatch{FinalScore: [2]int{3, 13}}), "Loss 3:13")
}
