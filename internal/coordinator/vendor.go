package coordinator

import (
	"fmt"

	"github.com/errorparty/backend/internal/matchstats"
	"github.com/errorparty/backend/internal/reconnect"
	"github.com/errorparty/backend/internal/roster"
	"github.com/errorparty/backend/internal/sharecode"
)

// Credentials identify one service account on the network.
type Credentials struct {
	AccountName string
	Password    string
	// AuthCode carries a second-factor code when logging in again after a challenge.
	AuthCode string
}

// Configured reports whether the credentials can be used at all.
func (c Credentials) Configured() bool {
	return c.AccountName != "" && c.Password != ""
}

// Vendor is the opaque network session. The Manager calls it only from its loop goroutine, so
// implementations need no locking of their own for these calls. Every method must return
// quickly; outcomes of handshakes arrive later on Events.
type Vendor interface {
	Events() <-chan Event
	LogOn(creds Credentials) error
	LogOff()
	LaunchCoordinator() error
	RequestGame(sc sharecode.ShareCode) error
	// RequestRecentGames may return ErrUnsupported.
	RequestRecentGames(accountID string) error
	Relationships() map[string]roster.Relationship
	AddFriend(accountID string) error
	SendMessage(accountID, text string) error
}

// Event is anything the vendor reports asynchronously.
type Event interface{ isEvent() }

type LoggedOn struct{}

type LoginFailed struct {
	Result int
	Reason string
}

// ChallengeRequired pauses the login until an operator supplies a second-factor code. Submit,
// when set, resumes the paused handshake; otherwise the Manager logs in again with the code.
type ChallengeRequired struct {
	Domain string
	Submit func(code string)
}

type SessionClosed struct{ Reason string }

type CoordinatorReady struct{}

type CoordinatorLost struct{ Reason string }

type RelationshipChanged struct {
	AccountID    string
	Relationship roster.Relationship
}

type ChatMessage struct {
	AccountID string
	Text      string
}

// MatchListReceived carries an untyped coordinator match list. It may answer a share-code
// lookup or a recent-matches query.
type MatchListReceived struct {
	Payload matchstats.MatchList
}

func (LoggedOn) isEvent()            {}
func (LoginFailed) isEvent()         {}
func (ChallengeRequired) isEvent()   {}
func (SessionClosed) isEvent()       {}
func (CoordinatorReady) isEvent()    {}
func (CoordinatorLost) isEvent()     {}
func (RelationshipChanged) isEvent() {}
func (ChatMessage) isEvent()         {}
func (MatchListReceived) isEvent()   {}

// Network result codes the Manager distinguishes.
const (
	ResultOK                         = 1
	ResultAccountLogonDenied         = 63
	ResultInvalidLoginAuthCode       = 65
	ResultRateLimitExceeded          = 84
	ResultAccountLoginDeniedNeed2FA  = 85
	ResultAccountLoginDeniedThrottle = 87
	ResultTwoFactorCodeMismatch      = 88
)

// Classify maps a login result code to a failure class.
func Classify(result int) reconnect.FailureClass {
	switch result {
	case ResultRateLimitExceeded, ResultAccountLoginDeniedThrottle:
		return reconnect.RateLimited
	case ResultAccountLogonDenied, ResultInvalidLoginAuthCode,
		ResultAccountLoginDeniedNeed2FA, ResultTwoFactorCodeMismatch:
		return reconnect.ChallengeRequired
	default:
		return reconnect.Transient
	}
}

// RelationshipFromCode maps the network's friend relationship enum.
func RelationshipFromCode(code int) roster.Relationship {
	switch code {
	case 2:
		return roster.RelationshipIncoming
	case 3:
		return roster.RelationshipFriend
	case 4:
		return roster.RelationshipOutgoing
	default:
		return roster.RelationshipNone
	}
}

func (e LoginFailed) String() string {
	return fmt.Sprintf("login failed: result %d: %s", e.Result, e.Reason)
}
