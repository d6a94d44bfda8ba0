// Package roster keeps the bot's friend list in line with the set of platform users who linked
// their game account.
package roster

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Relationship is the live relationship between the bot account and another account.
type Relationship int

const (
	RelationshipNone Relationship = iota
	// RelationshipIncoming is a friend request sent to the bot.
	RelationshipIncoming
	// RelationshipOutgoing is a friend request sent by the bot.
	RelationshipOutgoing
	RelationshipFriend
)

func (r Relationship) String() string {
	switch r {
	case RelationshipIncoming:
		return "incoming"
	case RelationshipOutgoing:
		return "outgoing"
	case RelationshipFriend:
		return "friend"
	default:
		return "none"
	}
}

// MarshalText lets relationships appear by name in JSON status payloads.
func (r Relationship) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Link is a platform user who linked an external game account.
type Link struct {
	ExternalAccountID string
	LocalAccountID    string
	DisplayName       string
}

// FriendRecord is the bot's view of one linked account.
type FriendRecord struct {
	ExternalAccountID string       `json:"externalAccountId"`
	LocalAccountID    string       `json:"localAccountId"`
	DisplayName       string       `json:"displayName"`
	Relationship      Relationship `json:"relationship"`
	SyncEligible      bool         `json:"syncEligible"`
	LastSyncedAt      time.Time    `json:"lastSyncedAt,omitempty"`
	LastSyncError     string       `json:"lastSyncError,omitempty"`
}

// LinkSource lists the accounts the bot should be friends with.
type LinkSource interface {
	ListLinks(ctx context.Context) ([]Link, error)
}

// Network is the live side of the roster, served by the coordinator session.
type Network interface {
	Relationships(ctx context.Context) (map[string]Relationship, error)
	AcceptFriend(ctx context.Context, accountID string) error
	SyncMember(ctx context.Context, accountID string) error
}

// Reaction tells the session what to do after a live relationship change.
type Reaction struct {
	// Accept is set for an incoming friend request.
	Accept bool
	// Welcome is set when a linked account just became a friend.
	Welcome bool
	Record  FriendRecord
}

// Roster is the in-memory set of FriendRecords. It is safe for concurrent use.
type Roster struct {
	mu      sync.RWMutex
	records map[string]FriendRecord
	links   map[string]Link
}

// New returns an empty Roster.
func New() *Roster {
	return &Roster{
		records: make(map[string]FriendRecord),
		links:   make(map[string]Link),
	}
}

// Get returns the record for accountID.
func (r *Roster) Get(accountID string) (FriendRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[accountID]
	return rec, ok
}

// Contains reports whether accountID has a record.
func (r *Roster) Contains(accountID string) bool {
	_, ok := r.Get(accountID)
	return ok
}

// Len returns the number of records.
func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// List returns every record sorted by account id.
func (r *Roster) List() []FriendRecord {
	r.mu.RLock()
	out := make([]FriendRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ExternalAccountID < out[j].ExternalAccountID })
	return out
}

// Eligible returns the sync-eligible records sorted by account id.
func (r *Roster) Eligible() []FriendRecord {
	all := r.List()
	out := all[:0]
	for _, rec := range all {
		if rec.SyncEligible {
			out = append(out, rec)
		}
	}
	return out
}

// Apply commits a plan computed by PlanPass and remembers links as the should-link set.
func (r *Roster) Apply(plan Plan, links []Link) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.links = make(map[string]Link, len(links))
	for _, l := range links {
		r.links[l.ExternalAccountID] = l
	}
	for _, id := range plan.Drop {
		delete(r.records, id)
	}
	for _, rec := range plan.Upsert {
		r.records[rec.ExternalAccountID] = rec
	}
}

// RecordSync stores the outcome of a sync attempt.
func (r *Roster) RecordSync(accountID string, at time.Time, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[accountID]
	if !ok {
		return
	}
	if err != nil {
		rec.LastSyncError = err.Error()
	} else {
		rec.LastSyncedAt = at
		rec.LastSyncError = ""
	}
	r.records[accountID] = rec
}

// HandleRelationship applies a live relationship change in place.
func (r *Roster) HandleRelationship(accountID string, rel Relationship) Reaction {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, known := r.records[accountID]
	link, linked := r.links[accountID]

	switch rel {
	case RelationshipNone:
		delete(r.records, accountID)
		return Reaction{Record: rec}

	case RelationshipFriend:
		if !linked {
			return Reaction{}
		}
		welcome := !known || rec.Relationship != RelationshipFriend
		rec = recordFor(link, rel, rec)
		r.records[accountID] = rec
		return Reaction{Welcome: welcome, Record: rec}

	case RelationshipIncoming:
		if linked {
			rec = recordFor(link, rel, rec)
			r.records[accountID] = rec
		}
		return Reaction{Accept: true, Record: rec}

	default:
		if known {
			rec.Relationship = rel
			rec.SyncEligible = false
			r.records[accountID] = rec
		}
		return Reaction{Record: rec}
	}
}

// recordFor builds the record for link while keeping the sync history of prev.
func recordFor(link Link, rel Relationship, prev FriendRecord) FriendRecord {
	return FriendRecord{
		ExternalAccountID: link.ExternalAccountID,
		LocalAccountID:    link.LocalAccountID,
		DisplayName:       link.DisplayName,
		Relationship:      rel,
		SyncEligible:      rel == RelationshipFriend,
		LastSyncedAt:      prev.LastSyncedAt,
		LastSyncError:     prev.LastSyncError,
	}
}
