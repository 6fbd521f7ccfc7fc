package account

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// ErrSessionsInUse means another process holds the session lock. The lock is
// cooperative: a crashed owner leaves it behind and it must be removed by hand.
var ErrSessionsInUse = errors.New("account: sessions are already in use")

// NoSessionFileError: no stored session string exists for the account and the
// policy forbids establishing a new one.
type NoSessionFileError struct {
	Phone string
}

func (e *NoSessionFileError) Error() string {
	return fmt.Sprintf("account: no session file for %s", e.Phone)
}

// SessionUnusableError: the stored session string was rejected by the server
// (or could not be deserialized) and the policy forbids revalidation.
type SessionUnusableError struct {
	Phone string
	Err   error
}

func (e *SessionUnusableError) Error() string {
	return fmt.Sprintf("account: session for %s is unusable: %v", e.Phone, e.Err)
}

func (e *SessionUnusableError) Unwrap() error {
	return e.Err
}

// StartFailedError: an account failed to start under a non-ignore policy.
type StartFailedError struct {
	Phone string
	Err   error
}

func (e *StartFailedError) Error() string {
	return fmt.Sprintf("account: failed to start %s: %v", e.Phone, e.Err)
}

func (e *StartFailedError) Unwrap() error {
	return e.Err
}

// UnavailableError: the pool check-out deadline passed without an account
// becoming available. When accounts are parked under flood-wait timers,
// AvailableAt carries the earliest moment one of them returns.
type UnavailableError struct {
	AvailableAt time.Time
	Timeout     time.Duration
}

func (e *UnavailableError) Error() string {
	if !e.AvailableAt.IsZero() {
		return fmt.Sprintf("account: all accounts unavailable, first available at %s", e.AvailableAt.Format(time.RFC3339))
	}
	return fmt.Sprintf("account: all accounts unavailable, max waiting time of %s exceeded", e.Timeout)
}
