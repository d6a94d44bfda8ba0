package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/errorparty/backend/internal/correlate"
	"github.com/errorparty/backend/internal/matchstats"
	"github.com/errorparty/backend/internal/roster"
	"github.com/errorparty/backend/internal/sharecode"
)

var _ roster.Network = (*Manager)(nil)

// FetchMatchByShareCode decodes code, asks the coordinator for the match and returns the
// normalized result. Malformed codes fail immediately with a sharecode error.
func (m *Manager) FetchMatchByShareCode(ctx context.Context, code string) (matchstats.NormalizedMatch, error) {
	sc, err := sharecode.Decode(code)
	if err != nil {
		return matchstats.NormalizedMatch{}, err
	}

	issue := func() error {
		if err := m.vendor.RequestGame(sc); err != nil {
			return fmt.Errorf("request game %d: %w: %w", sc.MatchID, ErrNotAvailable, err)
		}
		return nil
	}
	list, err := m.request(ctx, correlate.MatchKey(sc.MatchID), issue, lookupTimeout)
	if err != nil {
		return matchstats.NormalizedMatch{}, err
	}

	raw, ok := list.Find(sc.MatchID)
	if !ok {
		return matchstats.NormalizedMatch{}, fmt.Errorf("match %d missing from response: %w", sc.MatchID, ErrNotAvailable)
	}
	match, err := matchstats.Normalize(raw, matchstats.WithSubjectSlot(m.cfg.SubjectSlot), matchstats.WithClock(m.now))
	if err != nil {
		return matchstats.NormalizedMatch{}, err
	}

	m.deliver(ctx, MatchRecord{
		Source:    SourceShareCode,
		ShareCode: sharecode.Normalize(code),
		Match:     match,
		Raw:       raw,
	})
	return match, nil
}

// SyncRosterMember asks the coordinator for the member's recent matches, hands every one to
// the sink and returns the most recent. ErrNotAvailable is a common outcome.
func (m *Manager) SyncRosterMember(ctx context.Context, accountID string) (matchstats.NormalizedMatch, error) {
	id, err := ValidateAccountID(accountID)
	if err != nil {
		return matchstats.NormalizedMatch{}, err
	}
	if !m.roster.Contains(id) {
		return matchstats.NormalizedMatch{}, fmt.Errorf("%s: %w", id, ErrNotInRoster)
	}

	issue := func() error {
		if err := m.vendor.RequestRecentGames(id); err != nil {
			return fmt.Errorf("request recent games for %s: %w: %w", id, ErrNotAvailable, err)
		}
		return nil
	}
	list, err := m.request(ctx, correlate.RosterSyncKey(id), issue, syncTimeout)
	if err != nil {
		return matchstats.NormalizedMatch{}, err
	}
	if len(list.Matches) == 0 {
		return matchstats.NormalizedMatch{}, fmt.Errorf("no recent matches for %s: %w", id, ErrNotAvailable)
	}

	var (
		latest matchstats.NormalizedMatch
		found  bool
	)
	for _, raw := range list.Matches {
		match, err := matchstats.Normalize(raw, matchstats.WithSubjectSlot(m.cfg.SubjectSlot), matchstats.WithClock(m.now))
		if err != nil {
			m.logger.DebugContext(ctx, "skipping unusable match", "accountId", id, "matchId", uint64(raw.MatchID), "error", err)
			continue
		}
		m.deliver(ctx, MatchRecord{Source: SourceRosterSync, AccountID: id, Match: match, Raw: raw})
		if !found || match.PlayedAt.After(latest.PlayedAt) {
			latest, found = match, true
		}
	}
	if !found {
		return matchstats.NormalizedMatch{}, fmt.Errorf("no usable matches for %s: %w", id, ErrNotAvailable)
	}
	return latest, nil
}

// SubmitChallengeCode hands code to a pending second-factor challenge. It returns false when
// no challenge is pending.
func (m *Manager) SubmitChallengeCode(code string) bool {
	reply := make(chan bool, 1)
	if err := m.send(context.Background(), challengeCmd{code: code, reply: reply}); err != nil {
		return false
	}
	ok, err := await(context.Background(), m, reply)
	return err == nil && ok
}

// ResetRateLimit clears cooldowns and failure counters and reconnects if the session is idle.
func (m *Manager) ResetRateLimit() {
	_ = m.send(context.Background(), resetCmd{})
}

// AddFriend sends a friend invite to accountID.
func (m *Manager) AddFriend(accountID string) error {
	return m.AcceptFriend(context.Background(), accountID)
}

// AcceptFriend accepts a pending request from accountID. On the network accepting and inviting
// are the same call.
func (m *Manager) AcceptFriend(ctx context.Context, accountID string) error {
	id, err := ValidateAccountID(accountID)
	if err != nil {
		return err
	}
	reply := make(chan error, 1)
	if err := m.send(ctx, addFriendCmd{accountID: id, reply: reply}); err != nil {
		return err
	}
	result, err := await(ctx, m, reply)
	if err != nil {
		return err
	}
	return result
}

// SendDirectMessage sends text to accountID. Failures are logged and reported as false.
func (m *Manager) SendDirectMessage(ctx context.Context, accountID, text string) bool {
	id, err := ValidateAccountID(accountID)
	if err != nil {
		m.logger.InfoContext(ctx, "direct message rejected", "accountId", accountID, "error", err)
		return false
	}
	reply := make(chan error, 1)
	if err := m.send(ctx, sendMessageCmd{accountID: id, text: text, reply: reply}); err != nil {
		return false
	}
	result, err := await(ctx, m, reply)
	if err == nil {
		err = result
	}
	if err != nil {
		m.logger.InfoContext(ctx, "direct message failed", "accountId", id, "error", err)
		return false
	}
	return true
}

// Relationships returns the live relationship snapshot.
func (m *Manager) Relationships(ctx context.Context) (map[string]roster.Relationship, error) {
	reply := make(chan relationshipsReply, 1)
	if err := m.send(ctx, relationshipsCmd{reply: reply}); err != nil {
		return nil, err
	}
	r, err := await(ctx, m, reply)
	if err != nil {
		return nil, err
	}
	return r.live, r.err
}

// SyncMember syncs one roster member for the Reconciler.
func (m *Manager) SyncMember(ctx context.Context, accountID string) error {
	_, err := m.SyncRosterMember(ctx, accountID)
	return err
}

// Subscribe returns a channel receiving status changes, starting with the current status.
// Slow subscribers are dropped and see their channel closed. Call the returned function to
// unsubscribe.
func (m *Manager) Subscribe() (<-chan Status, func()) {
	ch := make(chan Status, 8)
	reply := make(chan uint64, 1)
	if err := m.send(context.Background(), subscribeCmd{ch: ch, reply: reply}); err != nil {
		close(ch)
		return ch, func() {}
	}
	id, err := await(context.Background(), m, reply)
	if err != nil {
		close(ch)
		return ch, func() {}
	}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			_ = m.send(context.Background(), unsubscribeCmd{id: id})
		})
	}
}

func (m *Manager) request(ctx context.Context, key string, issue func() error, timeout timeoutKind) (matchstats.MatchList, error) {
	reply := make(chan requestReply, 1)
	if err := m.send(ctx, requestCmd{key: key, issue: issue, timeout: timeout, reply: reply}); err != nil {
		return matchstats.MatchList{}, err
	}
	r, err := await(ctx, m, reply)
	if err != nil {
		if ctx.Err() != nil {
			// The loop may still register the request; release it once it does.
			go func() {
				select {
				case late := <-reply:
					if late.result != nil {
						m.post(abandonCmd{key: key, result: late.result, err: ctx.Err()})
					}
				case <-m.done:
				}
			}()
		}
		return matchstats.MatchList{}, err
	}
	if r.err != nil {
		return matchstats.MatchList{}, r.err
	}

	select {
	case res := <-r.result:
		if res.Err != nil {
			return matchstats.MatchList{}, res.Err
		}
		return res.Payload, nil
	case <-ctx.Done():
		m.post(abandonCmd{key: key, result: r.result, err: ctx.Err()})
		return matchstats.MatchList{}, ctx.Err()
	}
}

func (m *Manager) deliver(ctx context.Context, rec MatchRecord) {
	if m.sink == nil {
		return
	}
	if err := m.sink.HandleMatch(ctx, rec); err != nil {
		m.logger.WarnContext(ctx, "match sink rejected match",
			"matchId", rec.Match.MatchID, "source", string(rec.Source), "error", err)
	}
}

// IsNotAvailable reports whether err means the session could not serve a request.
func IsNotAvailable(err error) bool {
	return errors.Is(err, ErrNotAvailable) || errors.Is(err, correlate.ErrTimeout)
}
