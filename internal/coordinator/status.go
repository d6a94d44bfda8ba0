package coordinator

import "time"

// State is the connection state of the session.
type State string

const (
	StateDisconnected      State = "disconnected"
	StateConnecting        State = "connecting"
	StateAwaitingChallenge State = "awaiting_challenge"
	StateConnected         State = "connected"
	StateCoordinatorReady  State = "coordinator_ready"
	StateRateLimited       State = "rate_limited"
	StateStopped           State = "stopped"
)

// Status is a read-only projection of the session.
type Status struct {
	State             State      `json:"state"`
	CoordinatorReady  bool       `json:"coordinatorReady"`
	RateLimited       bool       `json:"rateLimited"`
	RateLimitedUntil  *time.Time `json:"rateLimitedUntil,omitempty"`
	ActiveCredentials string     `json:"activeCredentials"`
	BackupConfigured  bool       `json:"backupConfigured"`
	LoginAttempts     int        `json:"loginAttempts"`
	PendingRequests   int        `json:"pendingRequests"`
	RosterSize        int        `json:"rosterSize"`
	PendingChallenge  bool       `json:"pendingChallenge"`
	ChallengeDomain   string     `json:"challengeDomain,omitempty"`
	LastError         string     `json:"lastError,omitempty"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// Ready reports whether match requests can be served.
func (s Status) Ready() bool {
	return s.State == StateCoordinatorReady
}
