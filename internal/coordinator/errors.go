package coordinator

import (
	"errors"
	"fmt"

	"github.com/leighmacdonald/steamid/v4/steamid"
)

var (
	// ErrNotAvailable means the session cannot serve the request right now. Callers should
	// treat it as a normal outcome and try again later.
	ErrNotAvailable = errors.New("coordinator not available")
	// ErrSessionClosing rejects requests outstanding when the Manager stops.
	ErrSessionClosing = fmt.Errorf("session closing: %w", ErrNotAvailable)
	// ErrNotInRoster is returned for roster operations on accounts the bot does not track.
	ErrNotInRoster = errors.New("account not in roster")
	// ErrInvalidAccount is returned for account ids that are not valid SteamID64 values.
	ErrInvalidAccount = errors.New("invalid account id")
	// ErrUnsupported is returned by vendors that cannot serve an operation.
	ErrUnsupported = errors.New("operation not supported by vendor")
)

// ValidateAccountID checks that id is a SteamID64 and returns it in canonical form.
func ValidateAccountID(id string) (string, error) {
	sid := steamid.New(id)
	if !sid.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidAccount, id)
	}
	return sid.String(), nil
}
