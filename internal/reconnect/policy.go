// Package reconnect decides how the coordinator session recovers from failures. The policy is
// pure: it maps a state and a classified failure to a decision and a new state, and leaves the
// timers to the caller.
package reconnect

import (
	"fmt"
	"time"
)

// FailureClass classifies why a login attempt or an established session ended.
type FailureClass int

const (
	// Transient covers network errors and unexpected vendor results.
	Transient FailureClass = iota
	// Dropped means an established session was closed by the network.
	Dropped
	// RateLimited means the network throttled the active credentials.
	RateLimited
	// ChallengeRequired means a second factor is needed before logging in again.
	ChallengeRequired
)

func (c FailureClass) String() string {
	switch c {
	case Transient:
		return "transient"
	case Dropped:
		return "dropped"
	case RateLimited:
		return "rate_limited"
	case ChallengeRequired:
		return "challenge_required"
	default:
		return fmt.Sprintf("FailureClass(%d)", int(c))
	}
}

// CredentialSet names one of the configured service accounts.
type CredentialSet int

const (
	Primary CredentialSet = iota
	Backup
)

func (s CredentialSet) String() string {
	if s == Backup {
		return "backup"
	}
	return "primary"
}

// Action is the kind of Decision.
type Action int

const (
	RetryNow Action = iota
	RetryAfter
	SwitchCredentialsAndRetry
	GiveUpUntilOperator
)

func (a Action) String() string {
	switch a {
	case RetryNow:
		return "retry_now"
	case RetryAfter:
		return "retry_after"
	case SwitchCredentialsAndRetry:
		return "switch_credentials"
	case GiveUpUntilOperator:
		return "give_up"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Decision tells the session manager what to do next. Credentials is the set the next login
// must use.
type Decision struct {
	Action      Action
	Delay       time.Duration
	Credentials CredentialSet
}

// State is the policy's memory between failures.
type State struct {
	Active        CredentialSet
	Attempts      int
	HasBackup     bool
	Healthy       bool
	CooldownUntil [2]time.Time
}

// NewState returns the initial state.
func NewState(hasBackup bool) State {
	return State{Active: Primary, HasBackup: hasBackup}
}

// RateLimitedUntil returns the latest cooldown end that is still in the future for the active set.
func (s State) RateLimitedUntil(now time.Time) (time.Time, bool) {
	until := s.CooldownUntil[s.Active]
	if until.After(now) {
		return until, true
	}
	return time.Time{}, false
}

// Policy holds the tunables. The zero value is not useful; use Default or fill every field.
type Policy struct {
	Base        time.Duration
	Ceiling     time.Duration
	Cooldown    time.Duration
	SwitchDelay time.Duration
}

// Default returns the production tunables.
func Default() Policy {
	return Policy{
		Base:        60 * time.Second,
		Ceiling:     30 * time.Minute,
		Cooldown:    time.Hour,
		SwitchDelay: 5 * time.Second,
	}
}

// Backoff returns the delay for the n-th consecutive transient failure.
func (p Policy) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := p.Base
	for i := 1; i < n; i++ {
		d *= 2
		if d >= p.Ceiling || d <= 0 {
			return p.Ceiling
		}
	}
	if d > p.Ceiling {
		return p.Ceiling
	}
	return d
}

// Next returns the decision for failure and the updated state.
func (p Policy) Next(st State, failure FailureClass, now time.Time) (Decision, State) {
	switch failure {
	case ChallengeRequired:
		st.Healthy = false
		return Decision{Action: GiveUpUntilOperator, Credentials: st.Active}, st

	case RateLimited:
		st.Healthy = false
		until := now.Add(p.Cooldown)
		st.CooldownUntil[st.Active] = until

		if st.Active == Primary && st.HasBackup && !st.CooldownUntil[Backup].After(now) {
			st.Active = Backup
			st.Attempts = 0
			return Decision{Action: SwitchCredentialsAndRetry, Delay: p.SwitchDelay, Credentials: Backup}, st
		}

		// Wait out the cooldown and return to primary. Primary may itself still be cooling
		// down, in which case the wait covers it too.
		wait := p.Cooldown
		if primaryUntil := st.CooldownUntil[Primary]; primaryUntil.After(until) {
			wait = primaryUntil.Sub(now)
		}
		st.Active = Primary
		st.Attempts = 0
		return Decision{Action: RetryAfter, Delay: wait, Credentials: Primary}, st

	case Dropped:
		if st.Healthy {
			st.Healthy = false
			st.Attempts = 0
			return Decision{Action: RetryNow, Credentials: st.Active}, st
		}
		fallthrough

	default:
		st.Healthy = false
		st.Attempts++
		return Decision{Action: RetryAfter, Delay: p.Backoff(st.Attempts), Credentials: st.Active}, st
	}
}

// Succeeded records a healthy session.
func (p Policy) Succeeded(st State) State {
	st.Attempts = 0
	st.Healthy = true
	return st
}

// Credentials returns the set a fresh login should use at now. Once the primary cooldown has
// elapsed the session returns to primary.
func (p Policy) Credentials(st State, now time.Time) (CredentialSet, State) {
	if st.Active == Backup && !st.CooldownUntil[Primary].After(now) && st.CooldownUntil[Backup].After(now) {
		st.Active = Primary
	}
	if st.Active == Backup && !st.HasBackup {
		st.Active = Primary
	}
	return st.Active, st
}

// Reset clears cooldowns and the failure counter, returning to primary.
func (p Policy) Reset(st State) State {
	return State{Active: Primary, HasBackup: st.HasBackup}
}
