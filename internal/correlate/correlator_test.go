package correlate

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/errorparty/backend/internal/matchstats"
)

type fakeTimer struct {
	d       time.Duration
	fn      func()
	stopped bool
}

type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) schedule(d time.Duration, fn func()) func() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{d: d, fn: fn}
	s.timers = append(s.timers, t)
	return func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		wasActive := !t.stopped
		t.stopped = true
		return wasActive
	}
}

// fire runs the i-th timer unless it was stopped.
func (s *fakeScheduler) fire(i int) {
	s.mu.Lock()
	t := s.timers[i]
	stopped := t.stopped
	t.stopped = true
	s.mu.Unlock()
	if !stopped {
		t.fn()
	}
}

func newTestCorrelator() (*Correlator, *fakeScheduler) {
	s := &fakeScheduler{}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var tick int
	clock := func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return New(WithScheduler(s.schedule), WithClock(clock)), s
}

func list(ids ...uint64) matchstats.MatchList {
	var l matchstats.MatchList
	for _, id := range ids {
		l.Matches = append(l.Matches, matchstats.RawMatch{MatchID: matchstats.ID(id)})
	}
	return l
}

func TestRequestRejectsDuplicateKey(t *testing.T) {
	t.Parallel()

	c, _ := newTestCorrelator()
	calls := 0
	issue := func() error { calls++; return nil }

	_, err := c.Request(MatchKey(123), issue, time.Minute)
	require.NoError(t, err)

	_, err = c.Request(MatchKey(123), issue, time.Minute)
	require.ErrorIs(t, err, ErrInFlight)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, c.Len())
}

func TestOnlyOneRosterSyncOutstanding(t *testing.T) {
	t.Parallel()

	c, _ := newTestCorrelator()

	_, err := c.Request(RosterSyncKey("76561197960287930"), nil, time.Minute)
	require.NoError(t, err)

	_, err = c.Request(RosterSyncKey("76561197960287931"), nil, time.Minute)
	require.ErrorIs(t, err, ErrInFlight)

	_, err = c.Request(MatchKey(1), nil, time.Minute)
	require.NoError(t, err)
}

func TestResolveIncomingByMatchID(t *testing.T) {
	t.Parallel()

	c, s := newTestCorrelator()
	first, err := c.Request(MatchKey(1), nil, time.Minute)
	require.NoError(t, err)
	second, err := c.Request(MatchKey(2), nil, time.Minute)
	require.NoError(t, err)

	require.True(t, c.ResolveIncoming(list(2)))

	res := <-second
	require.NoError(t, res.Err)
	assert.Len(t, res.Payload.Matches, 1)
	assert.Equal(t, 1, c.Len())
	assert.True(t, s.timers[1].stopped)

	select {
	case <-first:
		t.Fatal("first request must still be pending")
	default:
	}
}

func TestTimeoutIsolation(t *testing.T) {
	t.Parallel()

	c, s := newTestCorrelator()
	slow, err := c.Request(MatchKey(1), nil, 30*time.Second)
	require.NoError(t, err)
	fast, err := c.Request(MatchKey(2), nil, 30*time.Second)
	require.NoError(t, err)

	s.fire(0)

	res := <-slow
	require.ErrorIs(t, res.Err, ErrTimeout)
	assert.Equal(t, 1, c.Len())

	require.True(t, c.ResolveIncoming(list(2)))
	res = <-fast
	require.NoError(t, res.Err)
	assert.Zero(t, c.Len())
}

func TestLateTimerAfterResolveIsIgnored(t *testing.T) {
	t.Parallel()

	c, s := newTestCorrelator()
	ch, err := c.Request(MatchKey(9), nil, time.Second)
	require.NoError(t, err)
	require.True(t, c.ResolveIncoming(list(9)))

	// Run the callback directly, as a timer that already fired would.
	s.timers[0].fn()

	res := <-ch
	require.NoError(t, res.Err)

	// The key can be reused and the stale timer does not touch the new request.
	_, err = c.Request(MatchKey(9), nil, time.Second)
	require.NoError(t, err)
	s.timers[0].fn()
	assert.Equal(t, 1, c.Len())
}

func TestIssueErrorRemovesEntry(t *testing.T) {
	t.Parallel()

	c, s := newTestCorrelator()
	boom := errors.New("vendor offline")

	_, err := c.Request(MatchKey(5), func() error { return boom }, time.Minute)
	require.ErrorIs(t, err, boom)
	assert.Zero(t, c.Len())
	assert.True(t, s.timers[0].stopped)
}

func TestRosterSyncTakesUnkeyedPayload(t *testing.T) {
	t.Parallel()

	c, _ := newTestCorrelator()
	lookup, err := c.Request(MatchKey(1), nil, time.Minute)
	require.NoError(t, err)
	rosterSync, err := c.Request(RosterSyncKey("76561197960287930"), nil, time.Minute)
	require.NoError(t, err)

	require.True(t, c.ResolveIncoming(list(777)))
	res := <-rosterSync
	require.NoError(t, res.Err)

	assert.False(t, c.ResolveIncoming(list()))
	select {
	case <-lookup:
		t.Fatal("share-code lookup must not take an unkeyed payload")
	default:
	}
	assert.Equal(t, 1, c.Len())
}

func TestUnmatchedPayloadIsDiscarded(t *testing.T) {
	t.Parallel()

	c, _ := newTestCorrelator()
	_, err := c.Request(MatchKey(1), nil, time.Minute)
	require.NoError(t, err)

	assert.False(t, c.ResolveIncoming(list(2)))
	assert.Equal(t, 1, c.Len())
}

func TestCloseAllRejectsEverything(t *testing.T) {
	t.Parallel()

	c, _ := newTestCorrelator()
	a, err := c.Request(MatchKey(1), nil, time.Minute)
	require.NoError(t, err)
	b, err := c.Request(RosterSyncKey("x"), nil, time.Minute)
	require.NoError(t, err)

	closing := errors.New("closing")
	c.CloseAll(closing)

	assert.ErrorIs(t, (<-a).Err, closing)
	assert.ErrorIs(t, (<-b).Err, closing)
	assert.Zero(t, c.Len())

	_, err = c.Request(MatchKey(3), nil, time.Minute)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRejectAllKeepsAccepting(t *testing.T) {
	t.Parallel()

	c, _ := newTestCorrelator()
	a, err := c.Request(MatchKey(1), nil, time.Minute)
	require.NoError(t, err)

	lost := errors.New("lost")
	assert.Equal(t, 1, c.RejectAll(lost))
	assert.ErrorIs(t, (<-a).Err, lost)

	_, err = c.Request(MatchKey(1), nil, time.Minute)
	assert.NoError(t, err)
}

func TestDisambiguate(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	outstanding := []Outstanding{
		{Key: RosterSyncKey("b"), CreatedAt: base.Add(2 * time.Second), Seq: 3},
		{Key: MatchKey(42), CreatedAt: base.Add(time.Second), Seq: 2},
		{Key: RosterSyncKey("a"), CreatedAt: base, Seq: 1},
	}

	key, ok := Disambiguate(list(42), outstanding)
	require.True(t, ok)
	assert.Equal(t, MatchKey(42), key)

	key, ok = Disambiguate(list(7), outstanding)
	require.True(t, ok)
	assert.Equal(t, RosterSyncKey("a"), key)

	key, ok = Disambiguate(list(), outstanding)
	require.True(t, ok)
	assert.Equal(t, RosterSyncKey("a"), key)

	_, ok = Disambiguate(list(7), outstanding[1:2])
	assert.False(t, ok)

	_, ok = Disambiguate(list(42), nil)
	assert.False(t, ok)
}

func TestCancelReleasesKeyForItsOwnRequestOnly(t *testing.T) {
	t.Parallel()

	c, s := newTestCorrelator()
	gaveUp := errors.New("caller gone")

	first, err := c.Request(MatchKey(123), nil, time.Minute)
	require.NoError(t, err)
	require.True(t, c.Cancel(MatchKey(123), first, gaveUp))
	assert.Zero(t, c.Len())
	assert.ErrorIs(t, (<-first).Err, gaveUp)
	assert.True(t, s.timers[0].stopped)

	second, err := c.Request(MatchKey(123), nil, time.Minute)
	require.NoError(t, err)

	// A stale cancel for the first request leaves the retry alone.
	assert.False(t, c.Cancel(MatchKey(123), first, gaveUp))
	assert.Equal(t, 1, c.Len())

	require.True(t, c.ResolveIncoming(matchstats.MatchList{Matches: []matchstats.RawMatch{{MatchID: 123}}}))
	res := <-second
	require.NoError(t, res.Err)
}
