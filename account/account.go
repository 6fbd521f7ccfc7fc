// Package account manages a pool of authenticated Telegram user sessions:
// the per-account lifecycle, the check-out/check-in dispatcher that absorbs
// server flood waits, and the Scanner exposing domain operations on top.
package account

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/tgscan/blob"
	"github.com/hrygo/tgscan/telegram"
)

// CodeFunc obtains a login code delivered to the account. It may block on
// human input.
type CodeFunc func(ctx context.Context) (string, error)

// PasswordFunc obtains the 2FA password of the account.
type PasswordFunc func(ctx context.Context) (string, error)

// Account is a single Telegram session: the phone number identifying it, the
// blob key its session string persists under, and the live client once
// started.
//
// Field access is guarded by mu. During a check-out the account belongs to
// exactly one caller; while parked it belongs to its flood-wait timer. These
// two states never overlap.
type Account struct {
	phone    string
	filename string
	blobs    blob.Store
	dialer   telegram.Dialer
	log      *slog.Logger

	// Code and Password supply interactive login input when a new session has
	// to be established. Set them before Start; defaults fail fast.
	Code     CodeFunc
	Password PasswordFunc

	mu               sync.Mutex
	client           telegram.Client
	started          bool
	floodWaitFrom    time.Time
	floodWaitTimeout time.Duration
}

// NewAccount creates an account whose session string lives under
// "<phone>.session" in blobs.
func NewAccount(blobs blob.Store, dialer telegram.Dialer, phone string) *Account {
	return &Account{
		phone:    phone,
		filename: phone + ".session",
		blobs:    blobs,
		dialer:   dialer,
		log:      slog.Default().With(slog.String("phone", phone)),
		Code: func(context.Context) (string, error) {
			return "", errors.New("no code retrieval function configured")
		},
		Password: func(context.Context) (string, error) {
			return "", errors.New("no password retrieval function configured")
		},
	}
}

func (a *Account) Phone() string { return a.phone }

// Filename is the blob key of the persisted session string.
func (a *Account) Filename() string { return a.filename }

func (a *Account) String() string { return "<Account " + a.phone + ">" }

// Started reports whether the account holds a live connection.
func (a *Account) Started() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.started
}

// Client returns the live client. Only valid between Start and Stop, and only
// for the caller currently holding the account.
func (a *Account) Client() telegram.Client {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.client
}

// Start brings the session up. With a stored session string it reconnects;
// when the server rejects the stored authorization (or none exists),
// revalidate decides between an interactive fresh login and failure with
// SessionUnusableError / NoSessionFileError.
func (a *Account) Start(ctx context.Context, revalidate bool) error {
	if a.Started() {
		return errors.Errorf("account %s already started", a.phone)
	}

	exists, err := a.blobs.Exists(ctx, a.filename)
	if err != nil {
		return errors.Wrapf(err, "failed to check session blob for %s", a.phone)
	}

	var client telegram.Client
	switch {
	case exists:
		client, err = a.startFromStored(ctx, revalidate)
	case revalidate:
		client, err = a.setupNewSession(ctx)
	default:
		err = &NoSessionFileError{Phone: a.phone}
	}
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.client = client
	a.started = true
	a.floodWaitFrom = time.Time{}
	a.floodWaitTimeout = 0
	a.mu.Unlock()
	return nil
}

// startFromStored restores the persisted session. Unusable sessions fall
// through to a fresh login when revalidate allows it.
func (a *Account) startFromStored(ctx context.Context, revalidate bool) (telegram.Client, error) {
	data, err := a.blobs.Read(ctx, a.filename)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read session blob for %s", a.phone)
	}

	client, err := a.dialer.FromSession(a.phone, string(data))
	if err != nil {
		// The stored blob cannot even be deserialized.
		if revalidate {
			return a.setupNewSession(ctx)
		}
		return nil, &SessionUnusableError{Phone: a.phone, Err: err}
	}

	if err := client.Connect(ctx); err != nil {
		if telegram.IsUnauthorized(err) {
			if revalidate {
				return a.setupNewSession(ctx)
			}
			return nil, &SessionUnusableError{Phone: a.phone, Err: err}
		}
		return nil, errors.Wrapf(err, "failed to connect %s", a.phone)
	}

	authorized, err := client.Authorized(ctx)
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrapf(err, "failed to check authorization of %s", a.phone)
	}
	if !authorized {
		_ = client.Disconnect(ctx)
		if revalidate {
			return a.setupNewSession(ctx)
		}
		return nil, &SessionUnusableError{Phone: a.phone, Err: telegram.ErrAuthKeyUnregistered}
	}

	return client, nil
}

// setupNewSession performs the interactive login flow: request a code, sign
// in, complete 2FA when the server demands it, and persist the fresh session
// string right away so a later Start does not read a stale blob.
func (a *Account) setupNewSession(ctx context.Context) (telegram.Client, error) {
	a.log.Info("setting up new session")

	client, err := a.dialer.Fresh(a.phone)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create client for %s", a.phone)
	}
	if err := client.Connect(ctx); err != nil {
		return nil, errors.Wrapf(err, "failed to connect %s", a.phone)
	}

	sent, err := client.SendCode(ctx, a.phone)
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrapf(err, "failed to request login code for %s", a.phone)
	}

	code, err := a.Code(ctx)
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrapf(err, "failed to obtain login code for %s", a.phone)
	}

	if err := client.SignIn(ctx, a.phone, sent.PhoneCodeHash, code); err != nil {
		if !errors.Is(err, telegram.ErrPasswordNeeded) {
			_ = client.Disconnect(ctx)
			return nil, errors.Wrapf(err, "failed to sign in %s", a.phone)
		}

		password, perr := a.Password(ctx)
		if perr != nil {
			_ = client.Disconnect(ctx)
			return nil, errors.Wrapf(perr, "failed to obtain password for %s", a.phone)
		}
		if err := client.CheckPassword(ctx, password); err != nil {
			_ = client.Disconnect(ctx)
			return nil, errors.Wrapf(err, "failed to check password for %s", a.phone)
		}
	}

	if err := a.persistSession(ctx, client); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return client, nil
}

// Stop persists the session string and disconnects. Safe to call from any
// completion path; a no-op when not started.
func (a *Account) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return nil
	}
	client := a.client
	a.started = false
	a.mu.Unlock()

	saveErr := a.persistSession(ctx, client)
	if err := client.Disconnect(ctx); err != nil {
		a.log.Warn("failed to disconnect", "error", err)
	}
	return saveErr
}

// SaveSessionString overwrites the session blob with the current
// authorization state.
func (a *Account) SaveSessionString(ctx context.Context) error {
	a.mu.Lock()
	client := a.client
	a.mu.Unlock()
	if client == nil {
		return errors.Errorf("account %s has no client", a.phone)
	}
	return a.persistSession(ctx, client)
}

func (a *Account) persistSession(ctx context.Context, client telegram.Client) error {
	s, err := client.ExportSession(ctx)
	if err != nil {
		return errors.Wrapf(err, "failed to export session for %s", a.phone)
	}
	if err := a.blobs.Write(ctx, a.filename, []byte(s)); err != nil {
		return errors.Wrapf(err, "failed to persist session for %s", a.phone)
	}
	return nil
}

// Session runs fn with the account started, stopping it on every exit path.
func (a *Account) Session(ctx context.Context, revalidate bool, fn func(ctx context.Context) error) error {
	if err := a.Start(ctx, revalidate); err != nil {
		return err
	}
	fnErr := fn(ctx)
	if err := a.Stop(context.WithoutCancel(ctx)); err != nil {
		if fnErr == nil {
			return err
		}
		a.log.Warn("failed to stop account", "error", err)
	}
	return fnErr
}

// setFloodWait marks the account parked. Called by the pool's flood timer.
func (a *Account) setFloodWait(from time.Time, timeout time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.floodWaitFrom = from
	a.floodWaitTimeout = timeout
}

func (a *Account) clearFloodWait() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.floodWaitFrom = time.Time{}
	a.floodWaitTimeout = 0
}

// FloodWaitRemaining returns the remaining penalty at now. ok is false when
// the account is not parked.
func (a *Account) FloodWaitRemaining(now time.Time) (time.Duration, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.floodWaitFrom.IsZero() {
		return 0, false
	}
	return a.floodWaitTimeout - now.Sub(a.floodWaitFrom), true
}
