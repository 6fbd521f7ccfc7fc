package telegram

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// Sentinel error kinds surfaced by Client implementations. Adapters map the
// transport's native errors onto these so the pool and the scanner never see
// transport-specific types.
var (
	// ErrAuthKeyUnregistered: the stored session was rejected by the server.
	ErrAuthKeyUnregistered = errors.New("telegram: auth key unregistered")
	// ErrUserDeactivated: the account itself was deactivated.
	ErrUserDeactivated = errors.New("telegram: user deactivated")
	// ErrSessionRevoked: the authorization was revoked from another device.
	ErrSessionRevoked = errors.New("telegram: session revoked")
	// ErrPasswordNeeded: SignIn succeeded up to the 2FA step.
	ErrPasswordNeeded = errors.New("telegram: 2FA password needed")
	// ErrMsgIDInvalid: the referenced message does not exist or has no thread.
	ErrMsgIDInvalid = errors.New("telegram: message id invalid")
	// ErrPeerIDInvalid: the referenced peer cannot be used by this account.
	ErrPeerIDInvalid = errors.New("telegram: peer id invalid")
)

// FloodWaitError is the server-imposed throttle. Seconds is the
// server-dictated minimum pause before the account may issue the call again.
type FloodWaitError struct {
	Seconds int
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("telegram: flood wait %d seconds", e.Seconds)
}

// Duration returns the wait as a time.Duration.
func (e *FloodWaitError) Duration() time.Duration {
	return time.Duration(e.Seconds) * time.Second
}

// AsFloodWait extracts a FloodWaitError from err's chain.
func AsFloodWait(err error) (*FloodWaitError, bool) {
	var fw *FloodWaitError
	if errors.As(err, &fw) {
		return fw, true
	}
	return nil, false
}

// IsUnauthorized reports whether err means the stored session can no longer
// be used and a fresh login is required.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrAuthKeyUnregistered) ||
		errors.Is(err, ErrUserDeactivated) ||
		errors.Is(err, ErrSessionRevoked)
}
