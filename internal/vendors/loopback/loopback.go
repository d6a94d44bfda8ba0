// Package loopback is a local stand-in for the game network. It logs in immediately, answers
// share-code lookups from JSON fixtures on disk and reports recent-match queries as
// unsupported. serve uses it when no network adapter is configured.
package loopback

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/errorparty/backend/internal/coordinator"
	"github.com/errorparty/backend/internal/matchstats"
	"github.com/errorparty/backend/internal/roster"
	"github.com/errorparty/backend/internal/sharecode"
)

// ErrFixtureNotFound is returned when no fixture exists for a requested match.
var ErrFixtureNotFound = errors.New("match fixture not found")

// Vendor implements coordinator.Vendor against a fixtures directory. Fixtures are named
// <matchid>.json and hold a single coordinator match.
type Vendor struct {
	dir    string
	logger *slog.Logger
	events chan coordinator.Event

	mu       sync.Mutex
	loggedOn bool
	live     map[string]roster.Relationship
}

var _ coordinator.Vendor = (*Vendor)(nil)

// New returns a Vendor reading fixtures from dir.
func New(dir string, logger *slog.Logger) *Vendor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Vendor{
		dir:    dir,
		logger: logger.With("component", "loopback"),
		events: make(chan coordinator.Event, 256),
		live:   make(map[string]roster.Relationship),
	}
}

func (v *Vendor) Events() <-chan coordinator.Event {
	return v.events
}

// Emit injects an event as if the network had sent it.
func (v *Vendor) Emit(ev coordinator.Event) {
	select {
	case v.events <- ev:
	default:
		v.logger.Warn("dropping event, buffer full", "type", fmt.Sprintf("%T", ev))
	}
}

func (v *Vendor) LogOn(creds coordinator.Credentials) error {
	if creds.AccountName == "" {
		v.Emit(coordinator.LoginFailed{Result: 5, Reason: "missing account name"})
		return nil
	}
	v.mu.Lock()
	v.loggedOn = true
	v.mu.Unlock()

	v.logger.Info("logged on", "account", creds.AccountName)
	v.Emit(coordinator.LoggedOn{})
	return nil
}

func (v *Vendor) LogOff() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.loggedOn = false
}

func (v *Vendor) LaunchCoordinator() error {
	v.Emit(coordinator.CoordinatorReady{})
	return nil
}

func (v *Vendor) RequestGame(sc sharecode.ShareCode) error {
	raw, err := v.loadFixture(sc.MatchID)
	if err != nil {
		return err
	}
	v.Emit(coordinator.MatchListReceived{Payload: matchstats.MatchList{Matches: []matchstats.RawMatch{raw}}})
	return nil
}

func (v *Vendor) RequestRecentGames(string) error {
	return coordinator.ErrUnsupported
}

func (v *Vendor) Relationships() map[string]roster.Relationship {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[string]roster.Relationship, len(v.live))
	for id, rel := range v.live {
		out[id] = rel
	}
	return out
}

// AddFriend befriends accountID right away, as if the other side accepted instantly.
func (v *Vendor) AddFriend(accountID string) error {
	v.mu.Lock()
	v.live[accountID] = roster.RelationshipFriend
	v.mu.Unlock()

	v.Emit(coordinator.RelationshipChanged{AccountID: accountID, Relationship: roster.RelationshipFriend})
	return nil
}

// SetRelationship changes the live relationship and reports it.
func (v *Vendor) SetRelationship(accountID string, rel roster.Relationship) {
	v.mu.Lock()
	if rel == roster.RelationshipNone {
		delete(v.live, accountID)
	} else {
		v.live[accountID] = rel
	}
	v.mu.Unlock()

	v.Emit(coordinator.RelationshipChanged{AccountID: accountID, Relationship: rel})
}

func (v *Vendor) SendMessage(accountID, text string) error {
	v.logger.Info("direct message", "accountId", accountID, "text", text)
	return nil
}

func (v *Vendor) loadFixture(matchID uint64) (matchstats.RawMatch, error) {
	path := filepath.Join(v.dir, strconv.FormatUint(matchID, 10)+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return matchstats.RawMatch{}, fmt.Errorf("match %d: %w", matchID, ErrFixtureNotFound)
		}
		return matchstats.RawMatch{}, fmt.Errorf("read fixture %s: %w", path, err)
	}

	var raw matchstats.RawMatch
	if err := json.Unmarshal(data, &raw); err != nil {
		return matchstats.RawMatch{}, fmt.Errorf("decode fixture %s: %w", path, err)
	}
	if raw.MatchID == 0 {
		raw.MatchID = matchstats.ID(matchID)
	}
	return raw, nil
}
