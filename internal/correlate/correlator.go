// Package correlate pairs asynchronous coordinator responses with the requests that caused
// them. The coordinator answers on a single untyped channel, so every outstanding request is
// registered under a key and each inbound payload is attributed to at most one waiter.
package correlate

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/errorparty/backend/internal/matchstats"
)

var (
	// ErrInFlight is returned when a request with the same key is already outstanding.
	ErrInFlight = errors.New("request already in flight")
	// ErrTimeout resolves a request whose deadline passed without a response.
	ErrTimeout = errors.New("request timed out")
	// ErrClosed resolves requests outstanding when the correlator is closed.
	ErrClosed = errors.New("correlator closed")
)

const rosterSyncPrefix = "roster-sync:"

// MatchKey is the key for a share-code lookup.
func MatchKey(matchID uint64) string {
	return strconv.FormatUint(matchID, 10)
}

// RosterSyncKey is the key for a recent-matches query on behalf of a roster member.
func RosterSyncKey(accountID string) string {
	return rosterSyncPrefix + accountID
}

// IsRosterSync reports whether key was built by RosterSyncKey.
func IsRosterSync(key string) bool {
	return strings.HasPrefix(key, rosterSyncPrefix)
}

// Result settles a request. Exactly one of Payload and Err is set.
type Result struct {
	Payload matchstats.MatchList
	Err     error
}

// Outstanding describes a registered request for Disambiguate.
type Outstanding struct {
	Key       string
	CreatedAt time.Time
	Seq       uint64
}

// Disambiguate picks the key that payload answers. A waiter keyed by one of the payload's
// match ids wins; otherwise the oldest roster-sync waiter takes it. ok is false when nobody
// can claim the payload.
func Disambiguate(payload matchstats.MatchList, outstanding []Outstanding) (string, bool) {
	if len(outstanding) == 0 {
		return "", false
	}

	byKey := make(map[string]struct{}, len(outstanding))
	for _, o := range outstanding {
		byKey[o.Key] = struct{}{}
	}
	for _, m := range payload.Matches {
		key := MatchKey(uint64(m.MatchID))
		if _, ok := byKey[key]; ok {
			return key, true
		}
	}

	var oldest *Outstanding
	for i := range outstanding {
		o := &outstanding[i]
		if !IsRosterSync(o.Key) {
			continue
		}
		if oldest == nil || o.CreatedAt.Before(oldest.CreatedAt) ||
			(o.CreatedAt.Equal(oldest.CreatedAt) && o.Seq < oldest.Seq) {
			oldest = o
		}
	}
	if oldest == nil {
		return "", false
	}
	return oldest.Key, true
}

// Scheduler runs fn after d. The returned stop function cancels it and reports whether it did.
type Scheduler func(d time.Duration, fn func()) (stop func() bool)

// AfterFunc is the Scheduler backed by time.AfterFunc.
func AfterFunc(d time.Duration, fn func()) func() bool {
	return time.AfterFunc(d, fn).Stop
}

type pending struct {
	Outstanding
	deadline time.Time
	result   chan Result
	stop     func() bool
}

// Correlator holds the outstanding requests. It is safe for concurrent use.
type Correlator struct {
	mu       sync.Mutex
	pending  map[string]*pending
	seq      uint64
	closed   bool
	schedule Scheduler
	now      func() time.Time
	logger   *slog.Logger
}

// Option customizes a Correlator.
type Option func(*Correlator)

// WithScheduler routes timeouts through schedule.
func WithScheduler(schedule Scheduler) Option {
	return func(c *Correlator) {
		if schedule != nil {
			c.schedule = schedule
		}
	}
}

// WithClock sets the clock used for CreatedAt and deadlines.
func WithClock(now func() time.Time) Option {
	return func(c *Correlator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger for unmatched payloads.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Correlator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New returns an empty Correlator.
func New(opts ...Option) *Correlator {
	c := &Correlator{
		pending:  make(map[string]*pending),
		schedule: AfterFunc,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request registers key, calls issue and returns a channel that receives exactly one Result.
// A duplicate key fails with ErrInFlight without calling issue. So does a roster-sync key
// while another roster-sync request is outstanding, since its response carries no key.
func (c *Correlator) Request(key string, issue func() error, timeout time.Duration) (<-chan Result, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if _, ok := c.pending[key]; ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", key, ErrInFlight)
	}
	if IsRosterSync(key) {
		for other := range c.pending {
			if IsRosterSync(other) {
				c.mu.Unlock()
				return nil, fmt.Errorf("%s: %s outstanding: %w", key, other, ErrInFlight)
			}
		}
	}

	c.seq++
	now := c.now()
	p := &pending{
		Outstanding: Outstanding{Key: key, CreatedAt: now, Seq: c.seq},
		deadline:    now.Add(timeout),
		result:      make(chan Result, 1),
	}
	c.pending[key] = p
	seq := p.Seq
	p.stop = c.schedule(timeout, func() { c.expire(key, seq) })
	c.mu.Unlock()

	if issue != nil {
		if err := issue(); err != nil {
			c.mu.Lock()
			if cur, ok := c.pending[key]; ok && cur == p {
				delete(c.pending, key)
				p.stop()
			}
			c.mu.Unlock()
			return nil, err
		}
	}
	return p.result, nil
}

// ResolveIncoming hands payload to the waiter Disambiguate selects. It returns false when the
// payload was unmatched and discarded.
func (c *Correlator) ResolveIncoming(payload matchstats.MatchList) bool {
	c.mu.Lock()
	outstanding := make([]Outstanding, 0, len(c.pending))
	for _, p := range c.pending {
		outstanding = append(outstanding, p.Outstanding)
	}
	key, ok := Disambiguate(payload, outstanding)
	if !ok {
		c.mu.Unlock()
		c.logger.Warn("discarding unmatched coordinator payload",
			"matches", len(payload.Matches), "outstanding", len(outstanding))
		return false
	}
	p := c.pending[key]
	delete(c.pending, key)
	c.mu.Unlock()

	p.stop()
	p.result <- Result{Payload: payload}
	return true
}

// Reject settles key with err. It reports whether key was outstanding.
func (c *Correlator) Reject(key string, err error) bool {
	c.mu.Lock()
	p, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	p.stop()
	p.result <- Result{Err: err}
	return true
}

// Cancel settles key with err only while result is still the channel registered for it, so
// a caller giving up cannot reject a newer request for the same key.
func (c *Correlator) Cancel(key string, result <-chan Result, err error) bool {
	c.mu.Lock()
	p, ok := c.pending[key]
	if !ok || (<-chan Result)(p.result) != result {
		c.mu.Unlock()
		return false
	}
	delete(c.pending, key)
	c.mu.Unlock()

	p.stop()
	p.result <- Result{Err: err}
	return true
}

// RejectAll settles every outstanding request with err but keeps accepting new ones.
func (c *Correlator) RejectAll(err error) int {
	c.mu.Lock()
	drained := c.drain()
	c.mu.Unlock()

	for _, p := range drained {
		p.stop()
		p.result <- Result{Err: err}
	}
	return len(drained)
}

// CloseAll settles every outstanding request with err and refuses new ones.
func (c *Correlator) CloseAll(err error) {
	if err == nil {
		err = ErrClosed
	}
	c.mu.Lock()
	c.closed = true
	drained := c.drain()
	c.mu.Unlock()

	for _, p := range drained {
		p.stop()
		p.result <- Result{Err: err}
	}
}

// Len returns the number of outstanding requests.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Outstanding returns the registered requests ordered by creation.
func (c *Correlator) Outstanding() []Outstanding {
	c.mu.Lock()
	out := make([]Outstanding, 0, len(c.pending))
	for _, p := range c.pending {
		out = append(out, p.Outstanding)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func (c *Correlator) expire(key string, seq uint64) {
	c.mu.Lock()
	p, ok := c.pending[key]
	if !ok || p.Seq != seq {
		c.mu.Unlock()
		return
	}
	delete(c.pending, key)
	c.mu.Unlock()

	p.result <- Result{Err: fmt.Errorf("%s after %s: %w", key, p.deadline.Sub(p.CreatedAt), ErrTimeout)}
}

// drain must be called with mu held.
func (c *Correlator) drain() []*pending {
	drained := make([]*pending, 0, len(c.pending))
	for key, p := range c.pending {
		drained = append(drained, p)
		delete(c.pending, key)
	}
	return drained
}
