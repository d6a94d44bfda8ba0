package coordinator

import (
	"context"
	"fmt"

	"github.com/errorparty/backend/internal/correlate"
	"github.com/errorparty/backend/internal/roster"
)

type message interface{ isMessage() }

type startCmd struct{}

type stopCmd struct{}

type resetCmd struct{}

type timerFired struct{ fn func() }

type reconnectDue struct{ gen uint64 }

type readyDue struct{ gen uint64 }

type abandonCmd struct {
	key    string
	result <-chan correlate.Result
	err    error
}

type requestCmd struct {
	key     string
	issue   func() error
	timeout timeoutKind
	reply   chan requestReply
}

type timeoutKind int

const (
	lookupTimeout timeoutKind = iota
	syncTimeout
)

type requestReply struct {
	result <-chan correlate.Result
	err    error
}

type challengeCmd struct {
	code  string
	reply chan bool
}

type addFriendCmd struct {
	accountID string
	reply     chan error
}

type sendMessageCmd struct {
	accountID string
	text      string
	reply     chan error
}

type relationshipsCmd struct {
	reply chan relationshipsReply
}

type relationshipsReply struct {
	live map[string]roster.Relationship
	err  error
}

type subscribeCmd struct {
	ch    chan Status
	reply chan uint64
}

type unsubscribeCmd struct{ id uint64 }

func (startCmd) isMessage()         {}
func (stopCmd) isMessage()          {}
func (resetCmd) isMessage()         {}
func (timerFired) isMessage()       {}
func (reconnectDue) isMessage()     {}
func (readyDue) isMessage()         {}
func (abandonCmd) isMessage()       {}
func (requestCmd) isMessage()       {}
func (challengeCmd) isMessage()     {}
func (addFriendCmd) isMessage()     {}
func (sendMessageCmd) isMessage()   {}
func (relationshipsCmd) isMessage() {}
func (subscribeCmd) isMessage()     {}
func (unsubscribeCmd) isMessage()   {}

func (m *Manager) handleMessage(msg message) {
	switch msg := msg.(type) {
	case startCmd:
		if m.state == StateDisconnected && m.reconnectTimer == nil {
			m.login()
		}

	case resetCmd:
		m.policyState = m.cfg.Policy.Reset(m.policyState)
		m.stopReconnect()
		m.lastError = ""
		m.logger.Info("rate limit reset by operator", "state", m.state)
		if m.state == StateRateLimited || m.state == StateDisconnected {
			m.login()
		}

	case timerFired:
		msg.fn()

	case reconnectDue:
		if msg.gen != m.reconnectGen {
			return
		}
		m.reconnectTimer = nil
		if m.state == StateDisconnected || m.state == StateRateLimited {
			m.login()
		}

	case readyDue:
		if msg.gen != m.readyGen {
			return
		}
		m.readyTimer = nil
		if m.state == StateConnected {
			m.dropSession(fmt.Sprintf("coordinator not ready after %s", m.readyTimeout()))
		}

	case abandonCmd:
		if m.correlator.Cancel(msg.key, msg.result, msg.err) {
			m.logger.Debug("caller gave up on request", "key", msg.key, "error", msg.err)
		}

	case requestCmd:
		if m.state != StateCoordinatorReady {
			msg.reply <- requestReply{err: fmt.Errorf("%s: session %s: %w", msg.key, m.state, ErrNotAvailable)}
			return
		}
		timeout := m.cfg.RequestTimeout
		if msg.timeout == syncTimeout {
			timeout = m.cfg.SyncTimeout
		}
		ch, err := m.correlator.Request(msg.key, msg.issue, timeout)
		msg.reply <- requestReply{result: ch, err: err}

	case challengeCmd:
		if m.challenge == nil {
			msg.reply <- false
			return
		}
		c := m.challenge
		m.challenge = nil
		if c.submit != nil {
			m.state = StateConnecting
			c.submit(msg.code)
		} else {
			m.authCode = msg.code
			m.stopReconnect()
			m.login()
		}
		m.logger.Info("challenge code submitted", "domain", c.domain)
		msg.reply <- true

	case addFriendCmd:
		if !m.connected() {
			msg.reply <- fmt.Errorf("add friend %s: %w", msg.accountID, ErrNotAvailable)
			return
		}
		msg.reply <- m.vendor.AddFriend(msg.accountID)

	case sendMessageCmd:
		if !m.connected() {
			msg.reply <- fmt.Errorf("send message to %s: %w", msg.accountID, ErrNotAvailable)
			return
		}
		msg.reply <- m.vendor.SendMessage(msg.accountID, msg.text)

	case relationshipsCmd:
		if !m.connected() {
			msg.reply <- relationshipsReply{err: fmt.Errorf("relationships: %w", ErrNotAvailable)}
			return
		}
		live := m.vendor.Relationships()
		out := make(map[string]roster.Relationship, len(live))
		for id, rel := range live {
			out[id] = rel
		}
		msg.reply <- relationshipsReply{live: out}

	case subscribeCmd:
		m.nextSubscriber++
		m.subscribers[m.nextSubscriber] = msg.ch
		msg.ch <- m.snapshotWithCounts()
		msg.reply <- m.nextSubscriber

	case unsubscribeCmd:
		if ch, ok := m.subscribers[msg.id]; ok {
			close(ch)
			delete(m.subscribers, msg.id)
		}
	}
}

func (m *Manager) snapshotWithCounts() Status {
	st := m.buildStatus()
	st.PendingRequests = m.correlator.Len()
	st.RosterSize = m.roster.Len()
	return st
}

// send delivers msg to the loop.
func (m *Manager) send(ctx context.Context, msg message) error {
	select {
	case <-m.done:
		return ErrSessionClosing
	default:
	}
	select {
	case m.inbox <- msg:
		return nil
	case <-m.done:
		return ErrSessionClosing
	case <-ctx.Done():
		return ctx.Err()
	}
}

// await waits for the loop's reply. A message still queued when the loop stopped is never
// answered, which is reported as ErrSessionClosing.
func await[T any](ctx context.Context, m *Manager, reply <-chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-m.done:
		select {
		case v := <-reply:
			return v, nil
		default:
			return zero, ErrSessionClosing
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
