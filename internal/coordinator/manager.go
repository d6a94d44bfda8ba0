// Package coordinator owns the long-lived session to the game network and its game
// coordinator. A single Manager goroutine processes vendor events, timer firings and operator
// commands one at a time; callers talk to it through request/reply messages.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/errorparty/backend/internal/correlate"
	"github.com/errorparty/backend/internal/matchstats"
	"github.com/errorparty/backend/internal/reconnect"
	"github.com/errorparty/backend/internal/roster"
)

// Config holds the session settings.
type Config struct {
	Primary        Credentials
	Backup         Credentials
	RequestTimeout time.Duration
	SyncTimeout    time.Duration
	Policy         reconnect.Policy
	// ReadyTimeout bounds the wait for CoordinatorReady after a launch. Zero uses SyncTimeout.
	ReadyTimeout time.Duration
	// WelcomeMessage is sent to linked accounts when they become friends. Empty disables it.
	WelcomeMessage string
	SubjectSlot    int
}

// DefaultConfig returns production timings without credentials.
func DefaultConfig() Config {
	return Config{
		RequestTimeout: 30 * time.Second,
		SyncTimeout:    60 * time.Second,
		ReadyTimeout:   60 * time.Second,
		Policy:         reconnect.Default(),
	}
}

// MatchSource tells a sink how a match was obtained.
type MatchSource string

const (
	SourceShareCode  MatchSource = "share_code"
	SourceRosterSync MatchSource = "roster_sync"
)

// MatchRecord is handed to the MatchSink for every normalized match.
type MatchRecord struct {
	Source    MatchSource
	AccountID string
	ShareCode string
	Match     matchstats.NormalizedMatch
	Raw       matchstats.RawMatch
}

// MatchSink receives normalized matches. It must not block for long.
type MatchSink interface {
	HandleMatch(ctx context.Context, rec MatchRecord) error
}

// ChatHandler receives direct messages from roster members. It runs off the Manager loop.
type ChatHandler interface {
	HandleChat(ctx context.Context, accountID, text string)
}

// Option customizes a Manager.
type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithMatchSink(sink MatchSink) Option {
	return func(m *Manager) { m.sink = sink }
}

func WithChatHandler(h ChatHandler) Option {
	return func(m *Manager) { m.chat = h }
}

// WithReadyHook registers fn to run on the loop each time the coordinator becomes ready. fn
// must not block or call back into the Manager synchronously.
func WithReadyHook(fn func()) Option {
	return func(m *Manager) { m.readyHooks = append(m.readyHooks, fn) }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

type pendingChallenge struct {
	domain string
	submit func(code string)
}

// Manager owns the session. Construct exactly one per process with NewManager.
type Manager struct {
	vendor Vendor
	roster *roster.Roster
	cfg    Config
	logger *slog.Logger
	sink   MatchSink
	chat   ChatHandler
	now    func() time.Time

	correlator *correlate.Correlator
	inbox      chan message
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	stopOnce   sync.Once

	// Owned by the loop goroutine.
	state          State
	policyState    reconnect.State
	loginAttempts  int
	authCode       string
	challenge      *pendingChallenge
	reconnectTimer *time.Timer
	reconnectGen   uint64
	readyTimer     *time.Timer
	readyGen       uint64
	readyHooks     []func()
	subscribers    map[uint64]chan Status
	nextSubscriber uint64
	lastError      string

	mu       sync.RWMutex
	snapshot Status
}

// NewManager starts the Manager loop. The session stays disconnected until Start.
func NewManager(vendor Vendor, r *roster.Roster, cfg Config, opts ...Option) *Manager {
	defaults := DefaultConfig()
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaults.RequestTimeout
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = defaults.SyncTimeout
	}
	if cfg.Policy == (reconnect.Policy{}) {
		cfg.Policy = defaults.Policy
	}
	if r == nil {
		r = roster.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		vendor:      vendor,
		roster:      r,
		cfg:         cfg,
		logger:      slog.Default(),
		now:         time.Now,
		inbox:       make(chan message, 64),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		state:       StateDisconnected,
		policyState: reconnect.NewState(cfg.Backup.Configured()),
		subscribers: make(map[uint64]chan Status),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "coordinator")
	m.correlator = correlate.New(
		correlate.WithScheduler(m.schedule),
		correlate.WithClock(m.now),
		correlate.WithLogger(m.logger),
	)
	m.snapshot = m.buildStatus()

	go m.loop()
	return m
}

// Start begins logging in. Calling it on a session that is already running has no effect.
func (m *Manager) Start() {
	_ = m.send(context.Background(), startCmd{})
}

// Stop logs off, rejects outstanding requests and stops the loop. It is idempotent.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		select {
		case m.inbox <- stopCmd{}:
		case <-m.done:
		}
	})
	<-m.done
}

// Done is closed once the Manager has stopped.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Roster returns the roster the Manager consults.
func (m *Manager) Roster() *roster.Roster {
	return m.roster
}

// Status returns the current session status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	st := m.snapshot
	m.mu.RUnlock()

	st.PendingRequests = m.correlator.Len()
	st.RosterSize = m.roster.Len()
	return st
}

func (m *Manager) loop() {
	defer close(m.done)

	events := m.vendor.Events()
	for {
		select {
		case <-m.ctx.Done():
			m.shutdown()
			return

		case ev, ok := <-events:
			if !ok {
				m.logger.Warn("vendor event stream closed")
				events = nil
				continue
			}
			m.handleEvent(ev)

		case msg := <-m.inbox:
			if _, ok := msg.(stopCmd); ok {
				m.shutdown()
				return
			}
			m.handleMessage(msg)
		}
		m.publish()
	}
}

func (m *Manager) handleEvent(ev Event) {
	switch ev := ev.(type) {
	case LoggedOn:
		if !m.handshaking() {
			m.logger.Info("discarding stale login result", "state", m.state)
			return
		}
		m.state = StateConnected
		m.challenge = nil
		m.loginAttempts = 0
		m.lastError = ""
		m.logger.Info("logged on", "credentials", m.policyState.Active.String())
		m.launchCoordinator()

	case LoginFailed:
		if !m.handshaking() {
			m.logger.Info("discarding stale login failure", "state", m.state, "result", ev.Result)
			return
		}
		m.challenge = nil
		m.fail(Classify(ev.Result), ev.String())

	case ChallengeRequired:
		if !m.handshaking() {
			m.logger.Info("discarding stale challenge", "state", m.state)
			return
		}
		m.challenge = &pendingChallenge{domain: ev.Domain, submit: ev.Submit}
		m.fail(reconnect.ChallengeRequired, "second factor required ("+ev.Domain+")")

	case SessionClosed:
		switch m.state {
		case StateDisconnected, StateRateLimited, StateStopped:
			m.logger.Debug("session closed while idle", "state", m.state, "reason", ev.Reason)
			return
		case StateAwaitingChallenge:
			if m.challenge != nil && m.challenge.submit == nil {
				return
			}
		}
		established := m.state == StateConnected || m.state == StateCoordinatorReady
		m.challenge = nil
		m.correlator.RejectAll(fmt.Errorf("session closed: %w", ErrNotAvailable))

		class := reconnect.Transient
		if established {
			class = reconnect.Dropped
		}
		m.fail(class, "session closed: "+ev.Reason)

	case CoordinatorReady:
		if m.state != StateConnected {
			m.logger.Info("discarding stale coordinator ready", "state", m.state)
			return
		}
		m.stopReadyDeadline()
		m.state = StateCoordinatorReady
		m.policyState = m.cfg.Policy.Succeeded(m.policyState)
		m.logger.Info("coordinator ready")
		for _, hook := range m.readyHooks {
			hook()
		}

	case CoordinatorLost:
		if m.state != StateCoordinatorReady {
			return
		}
		m.state = StateConnected
		n := m.correlator.RejectAll(fmt.Errorf("coordinator lost: %w", ErrNotAvailable))
		m.logger.Warn("coordinator lost", "reason", ev.Reason, "rejected", n)
		m.launchCoordinator()

	case RelationshipChanged:
		m.handleRelationship(ev)

	case ChatMessage:
		if !m.roster.Contains(ev.AccountID) {
			m.logger.Debug("ignoring message from account outside roster", "accountId", ev.AccountID)
			return
		}
		if m.chat != nil {
			go m.chat.HandleChat(m.ctx, ev.AccountID, ev.Text)
		}

	case MatchListReceived:
		m.correlator.ResolveIncoming(ev.Payload)

	default:
		m.logger.Warn("unknown vendor event", "type", fmt.Sprintf("%T", ev))
	}
}

func (m *Manager) handleRelationship(ev RelationshipChanged) {
	reaction := m.roster.HandleRelationship(ev.AccountID, ev.Relationship)
	logger := m.logger.With("accountId", ev.AccountID, "relationship", ev.Relationship.String())

	if reaction.Accept {
		if err := m.vendor.AddFriend(ev.AccountID); err != nil {
			logger.Warn("accept friend request failed", "error", err)
		} else {
			logger.Info("accepted friend request")
		}
	}
	if reaction.Welcome && m.cfg.WelcomeMessage != "" {
		if err := m.vendor.SendMessage(ev.AccountID, m.cfg.WelcomeMessage); err != nil {
			logger.Info("welcome message failed", "error", err)
		}
	}
	if reaction.Welcome && m.state == StateCoordinatorReady {
		// SyncRosterMember goes through the inbox, so it must not run on the loop.
		go m.syncNewFriend(ev.AccountID)
	}
}

// syncNewFriend pulls a new friend's recent matches without waiting for the next sweep.
func (m *Manager) syncNewFriend(accountID string) {
	err := m.SyncMember(m.ctx, accountID)
	m.roster.RecordSync(accountID, m.now(), err)
	if err != nil {
		m.logger.Info("initial sync of new friend failed", "accountId", accountID, "error", err)
		return
	}
	m.logger.Info("synced new friend", "accountId", accountID)
}

func (m *Manager) handshaking() bool {
	return m.state == StateConnecting || m.state == StateAwaitingChallenge
}

func (m *Manager) connected() bool {
	return m.state == StateConnected || m.state == StateCoordinatorReady
}

func (m *Manager) login() {
	set, st := m.cfg.Policy.Credentials(m.policyState, m.now())
	m.policyState = st

	creds := m.cfg.Primary
	if set == reconnect.Backup && m.cfg.Backup.Configured() {
		creds = m.cfg.Backup
	}
	if m.authCode != "" {
		creds.AuthCode = m.authCode
		m.authCode = ""
	}

	m.state = StateConnecting
	m.loginAttempts++
	m.logger.Info("logging in", "credentials", set.String(), "attempt", m.loginAttempts)

	if err := m.vendor.LogOn(creds); err != nil {
		m.fail(reconnect.Transient, "log on: "+err.Error())
	}
}

// fail obeys the policy decision for a classified failure.
func (m *Manager) fail(class reconnect.FailureClass, reason string) {
	decision, st := m.cfg.Policy.Next(m.policyState, class, m.now())
	m.policyState = st
	m.lastError = reason
	m.stopReadyDeadline()
	if decision.Action != reconnect.GiveUpUntilOperator {
		m.challenge = nil
	}

	logger := m.logger.With(
		"failure", class.String(),
		"reason", reason,
		"decision", decision.Action.String(),
		"delay", decision.Delay,
	)

	switch decision.Action {
	case reconnect.RetryNow:
		logger.Info("session dropped, reconnecting")
		m.login()

	case reconnect.RetryAfter:
		if class == reconnect.RateLimited {
			m.state = StateRateLimited
			logger.Warn("rate limited, cooling down", "credentials", decision.Credentials.String())
		} else {
			m.state = StateDisconnected
			logger.Info("scheduling reconnect")
		}
		m.scheduleReconnect(decision.Delay)

	case reconnect.SwitchCredentialsAndRetry:
		m.state = StateDisconnected
		logger.Warn("rate limited, switching credentials", "credentials", decision.Credentials.String())
		m.scheduleReconnect(decision.Delay)

	case reconnect.GiveUpUntilOperator:
		m.state = StateAwaitingChallenge
		if m.challenge == nil {
			m.challenge = &pendingChallenge{}
		}
		logger.Warn("login needs operator input")
	}
}

func (m *Manager) launchCoordinator() {
	if err := m.vendor.LaunchCoordinator(); err != nil {
		m.dropSession("launch coordinator: " + err.Error())
		return
	}
	m.armReadyDeadline()
}

// dropSession logs off a session that cannot reach the coordinator and hands the failure
// to the policy.
func (m *Manager) dropSession(reason string) {
	m.logger.Warn("coordinator unreachable, dropping session", "reason", reason)
	m.correlator.RejectAll(fmt.Errorf("%s: %w", reason, ErrNotAvailable))
	// Leave the connected states first so the SessionClosed caused by LogOff is ignored.
	m.state = StateDisconnected
	m.vendor.LogOff()
	m.fail(reconnect.Transient, reason)
}

func (m *Manager) readyTimeout() time.Duration {
	if m.cfg.ReadyTimeout > 0 {
		return m.cfg.ReadyTimeout
	}
	if m.cfg.SyncTimeout > 0 {
		return m.cfg.SyncTimeout
	}
	return time.Minute
}

func (m *Manager) armReadyDeadline() {
	m.stopReadyDeadline()
	gen := m.readyGen
	m.readyTimer = time.AfterFunc(m.readyTimeout(), func() { m.post(readyDue{gen: gen}) })
}

func (m *Manager) stopReadyDeadline() {
	if m.readyTimer != nil {
		m.readyTimer.Stop()
		m.readyTimer = nil
	}
	m.readyGen++
}

func (m *Manager) scheduleReconnect(d time.Duration) {
	m.stopReconnect()
	gen := m.reconnectGen
	m.reconnectTimer = time.AfterFunc(d, func() { m.post(reconnectDue{gen: gen}) })
}

func (m *Manager) stopReconnect() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.reconnectGen++
}

// schedule is the correlator's scheduler. Timeouts run on the loop.
func (m *Manager) schedule(d time.Duration, fn func()) func() bool {
	return time.AfterFunc(d, func() { m.post(timerFired{fn: fn}) }).Stop
}

func (m *Manager) post(msg message) {
	select {
	case m.inbox <- msg:
	case <-m.ctx.Done():
	}
}

func (m *Manager) shutdown() {
	if m.state == StateStopped {
		return
	}
	m.state = StateStopped
	m.stopReconnect()
	m.stopReadyDeadline()
	m.challenge = nil
	m.correlator.CloseAll(ErrSessionClosing)
	m.vendor.LogOff()
	m.publish()

	for id, ch := range m.subscribers {
		close(ch)
		delete(m.subscribers, id)
	}
	m.cancel()
	m.logger.Info("session stopped")
}

func (m *Manager) buildStatus() Status {
	now := m.now()
	st := Status{
		State:             m.state,
		CoordinatorReady:  m.state == StateCoordinatorReady,
		RateLimited:       m.state == StateRateLimited,
		ActiveCredentials: m.policyState.Active.String(),
		BackupConfigured:  m.cfg.Backup.Configured(),
		LoginAttempts:     m.loginAttempts,
		PendingChallenge:  m.challenge != nil,
		LastError:         m.lastError,
		UpdatedAt:         now,
	}
	if m.challenge != nil {
		st.ChallengeDomain = m.challenge.domain
	}

	var until time.Time
	for _, u := range m.policyState.CooldownUntil {
		if u.After(now) && u.After(until) {
			until = u
		}
	}
	if !until.IsZero() {
		st.RateLimitedUntil = &until
	}
	return st
}

// publish refreshes the snapshot and notifies subscribers when it changed.
func (m *Manager) publish() {
	st := m.buildStatus()

	m.mu.Lock()
	changed := !sameStatus(st, m.snapshot)
	m.snapshot = st
	m.mu.Unlock()

	if !changed {
		return
	}
	for id, ch := range m.subscribers {
		select {
		case ch <- st:
		default:
			close(ch)
			delete(m.subscribers, id)
			m.logger.Debug("dropping slow status subscriber", "subscriber", id)
		}
	}
}

func sameStatus(a, b Status) bool {
	if (a.RateLimitedUntil == nil) != (b.RateLimitedUntil == nil) {
		return false
	}
	if a.RateLimitedUntil != nil && !a.RateLimitedUntil.Equal(*b.RateLimitedUntil) {
		return false
	}
	return a.State == b.State &&
		a.ActiveCredentials == b.ActiveCredentials &&
		a.LoginAttempts == b.LoginAttempts &&
		a.PendingChallenge == b.PendingChallenge &&
		a.ChallengeDomain == b.ChallengeDomain &&
		a.LastError == b.LastError
}
