package account

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/hrygo/tgscan/blob"
	"github.com/hrygo/tgscan/metrics"
	"github.com/hrygo/tgscan/telegram"
)

// Policy decides what start_sessions does with an account whose stored
// session turns out to be invalid.
type Policy string

const (
	// PolicyIgnore logs the failure and continues with the remaining accounts.
	PolicyIgnore Policy = "ignore"
	// PolicyRaise aborts the session start on the first failure.
	PolicyRaise Policy = "raise"
	// PolicyRevalidate re-runs the interactive login for invalid sessions.
	PolicyRevalidate Policy = "revalidate"
)

// SessionLockKey is the well-known blob key of the cooperative session lock.
const SessionLockKey = ".session_lock"

// DefaultMaxAccWaitingTime bounds how long a check-out waits for an account.
const DefaultMaxAccWaitingTime = 300 * time.Second

// CollectionOptions tunes a Collection.
type CollectionOptions struct {
	// Invalid is the start-up policy; defaults to PolicyRaise.
	Invalid Policy
	// MaxAccWaitingTime defaults to DefaultMaxAccWaitingTime.
	MaxAccWaitingTime time.Duration
	Logger            *slog.Logger
	Metrics           *metrics.Pool
}

// Collection owns a set of accounts and schedules them across callers.
//
// During a session every started account is in exactly one of three places:
// the available queue, a single check-out scope, or a flood-wait timer.
type Collection struct {
	accounts map[string]*Account
	blobs    blob.Store
	invalid  Policy
	maxWait  time.Duration
	log      *slog.Logger
	metrics  *metrics.Pool

	mu        sync.Mutex
	available chan *Account
	done      chan struct{} // closed when the session ends; releases timers
	pbar      ProgressReporter
	timers    sync.WaitGroup
}

// NewCollection builds a pool over accounts.
func NewCollection(blobs blob.Store, accounts map[string]*Account, opts CollectionOptions) (*Collection, error) {
	switch opts.Invalid {
	case "":
		opts.Invalid = PolicyRaise
	case PolicyIgnore, PolicyRaise, PolicyRevalidate:
	default:
		return nil, errors.Errorf("invalid policy %q", opts.Invalid)
	}
	if opts.MaxAccWaitingTime <= 0 {
		opts.MaxAccWaitingTime = DefaultMaxAccWaitingTime
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Collection{
		accounts: accounts,
		blobs:    blobs,
		invalid:  opts.Invalid,
		maxWait:  opts.MaxAccWaitingTime,
		log:      opts.Logger,
		metrics:  opts.Metrics,
	}, nil
}

// Account returns the account registered under phone, or nil.
func (c *Collection) Account(phone string) *Account {
	return c.accounts[phone]
}

// Accounts returns the accounts of the pool keyed by phone.
func (c *Collection) Accounts() map[string]*Account {
	return c.accounts
}

// Session runs fn with all sessions started and the cooperative lock held.
// The lock is removed and every started account stopped on all exit paths,
// cancellation included.
func (c *Collection) Session(ctx context.Context, pbar ProgressReporter, fn func(ctx context.Context) error) error {
	locked, err := c.blobs.Exists(ctx, SessionLockKey)
	if err != nil {
		return errors.Wrap(err, "failed to check session lock")
	}
	if locked {
		return ErrSessionsInUse
	}

	c.mu.Lock()
	c.pbar = pbar
	c.done = make(chan struct{})
	c.mu.Unlock()

	cleanup := func() {
		// Cleanup must run even when ctx is already cancelled.
		bg := context.WithoutCancel(ctx)
		if err := c.blobs.Remove(bg, SessionLockKey); err != nil {
			c.log.Warn("failed to remove session lock", "error", err)
		}
		c.closeSessions(bg)
		c.mu.Lock()
		c.pbar = nil
		c.mu.Unlock()
	}

	if err := c.startSessions(ctx); err != nil {
		cleanup()
		return err
	}
	if err := c.blobs.Touch(ctx, SessionLockKey); err != nil {
		cleanup()
		return errors.Wrap(err, "failed to create session lock")
	}

	fnErr := fn(ctx)
	cleanup()
	return fnErr
}

// startSessions launches Start for every account concurrently and fills the
// available queue with the ones that came up. Under PolicyIgnore individual
// failures are logged and dropped; otherwise the first failure cancels the
// remaining starts and is returned as a StartFailedError.
func (c *Collection) startSessions(ctx context.Context) error {
	revalidate := c.invalid == PolicyRevalidate

	if c.invalid == PolicyIgnore {
		var wg sync.WaitGroup
		for _, acc := range c.accounts {
			wg.Add(1)
			go func(acc *Account) {
				defer wg.Done()
				if err := acc.Start(ctx, revalidate); err != nil {
					c.log.Warn("account failed to start", "phone", acc.Phone(), "error", err)
				}
			}(acc)
		}
		wg.Wait()
	} else {
		g, gctx := errgroup.WithContext(ctx)
		for _, acc := range c.accounts {
			g.Go(func() error {
				if err := acc.Start(gctx, revalidate); err != nil {
					return &StartFailedError{Phone: acc.Phone(), Err: err}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	available := make(chan *Account, len(c.accounts))
	started := 0
	for _, acc := range c.accounts {
		if acc.Started() {
			available <- acc
			started++
		}
	}
	c.log.Info("sessions started", "started", started, "total", len(c.accounts))
	if started == 0 {
		c.log.Warn("no account started; every check-out will time out")
	}
	c.metrics.SetStarted(started)

	c.mu.Lock()
	c.available = available
	c.mu.Unlock()
	return nil
}

// closeSessions stops every started account in parallel and tears the queue
// down. Flood-wait timers are released first so they cannot re-enqueue into a
// closed pool.
func (c *Collection) closeSessions(ctx context.Context) {
	c.mu.Lock()
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	c.available = nil
	c.mu.Unlock()

	c.timers.Wait()

	var wg sync.WaitGroup
	for _, acc := range c.accounts {
		if !acc.Started() {
			continue
		}
		wg.Add(1)
		go func(acc *Account) {
			defer wg.Done()
			if err := acc.Stop(ctx); err != nil {
				c.log.Warn("failed to stop account", "phone", acc.Phone(), "error", err)
			}
		}(acc)
	}
	wg.Wait()

	c.metrics.SetStarted(0)
	c.metrics.SetParked(0)
}

// acquire dequeues the next available account, waiting up to the pool's
// check-out deadline. The returned duration is the time spent waiting.
func (c *Collection) acquire(ctx context.Context) (*Account, time.Duration, error) {
	c.mu.Lock()
	available := c.available
	c.mu.Unlock()
	if available == nil {
		return nil, 0, errors.New("account: no active session")
	}

	start := time.Now()
	select {
	case acc := <-available:
		return acc, time.Since(start), nil
	default:
	}

	c.log.Debug("waiting for an available account", "timeout", c.maxWait)
	timer := time.NewTimer(c.maxWait)
	defer timer.Stop()

	select {
	case acc := <-available:
		return acc, time.Since(start), nil
	case <-ctx.Done():
		return nil, time.Since(start), ctx.Err()
	case <-timer.C:
		c.metrics.ObserveCheckout("timeout", time.Since(start))
		if minWait, ok := c.minWait(); ok && minWait > 0 {
			return nil, time.Since(start), &UnavailableError{AvailableAt: time.Now().Add(minWait)}
		}
		return nil, time.Since(start), &UnavailableError{Timeout: c.maxWait}
	}
}

// release returns a checked-out account to the pool. A flood-wait failure
// parks the account instead of re-enqueueing it; every other outcome puts it
// back at the tail of the queue.
func (c *Collection) release(acc *Account, opErr error) {
	if fw, ok := telegram.AsFloodWait(opErr); ok {
		c.log.Warn("flood wait", "phone", acc.Phone(), "seconds", fw.Seconds)
		c.metrics.ObserveFloodWait(fw.Duration())
		c.parkAccount(acc, fw.Duration())
		return
	}
	c.enqueue(acc)
}

func (c *Collection) enqueue(acc *Account) {
	c.mu.Lock()
	available := c.available
	c.mu.Unlock()
	if available == nil {
		return // session already closed
	}
	available <- acc
}

// WithAccount runs fn with an exclusively checked-out account. A FloodWait
// returned by fn parks the account and is passed through to the caller as a
// retriable failure; any other error re-enqueues the account and propagates.
func (c *Collection) WithAccount(ctx context.Context, fn func(ctx context.Context, acc *Account) error) error {
	acc, wait, err := c.acquire(ctx)
	if err != nil {
		return err
	}
	c.log.Debug("account checked out", "phone", acc.Phone(), "wait", wait)

	opErr := fn(ctx, acc)
	switch {
	case opErr == nil:
		c.metrics.ObserveCheckout("ok", wait)
	default:
		if _, ok := telegram.AsFloodWait(opErr); ok {
			c.metrics.ObserveCheckout("flood", wait)
		} else {
			c.metrics.ObserveCheckout("error", wait)
		}
	}
	c.release(acc, opErr)
	return opErr
}

// parkAccount excludes the account from the queue for d and re-enqueues it
// when the penalty expires. The timer runs concurrently with the rest of the
// pool; it is the only writer of the account's flood-wait fields while the
// account is parked.
func (c *Collection) parkAccount(acc *Account, d time.Duration) {
	c.mu.Lock()
	done := c.done
	pbar := c.pbar
	c.mu.Unlock()
	if done == nil {
		return
	}

	acc.setFloodWait(time.Now(), d)
	c.metrics.AddParked(1)

	note := fmt.Sprintf("%s: flood_wait %d secs", acc, int(d.Seconds()))
	if pbar != nil {
		c.addFloodNote(pbar, note)
	} else {
		c.log.Info("account parked", "phone", acc.Phone(), "seconds", int(d.Seconds()))
	}

	c.timers.Add(1)
	go func() {
		defer c.timers.Done()
		defer c.metrics.AddParked(-1)

		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-done:
			// Session is closing; leave the account parked, it is being
			// stopped anyway.
			return
		}

		if pbar != nil {
			c.removeFloodNote(pbar, note)
		}
		acc.clearFloodWait()
		c.enqueue(acc)
		c.log.Debug("account returned from flood wait", "phone", acc.Phone())
	}()
}

// addFloodNote appends the note to the reporter postfix. The postfix is
// edited under mu so concurrent timers cannot clobber each other.
func (c *Collection) addFloodNote(pbar ProgressReporter, note string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur := pbar.Postfix(); cur != "" {
		pbar.SetPostfix(cur + ", " + note)
	} else {
		pbar.SetPostfix(note)
	}
}

// removeFloodNote removes exactly this note from the postfix. The postfix may
// have been rewritten since the account parked; a note no longer present is
// left alone instead of restoring a stale snapshot.
func (c *Collection) removeFloodNote(pbar ProgressReporter, note string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := pbar.Postfix()
	switch {
	case cur == note:
		pbar.SetPostfix("")
	case strings.Contains(cur, ", "+note):
		pbar.SetPostfix(strings.Replace(cur, ", "+note, "", 1))
	case strings.Contains(cur, note+", "):
		pbar.SetPostfix(strings.Replace(cur, note+", ", "", 1))
	}
}

// minWait returns the smallest remaining flood-wait penalty across parked
// accounts. ok is false when nothing is parked.
func (c *Collection) minWait() (time.Duration, bool) {
	now := time.Now()
	var min time.Duration
	found := false
	for _, acc := range c.accounts {
		remaining, parked := acc.FloodWaitRemaining(now)
		if !parked {
			continue
		}
		if !found || remaining < min {
			min = remaining
			found = true
		}
	}
	return min, found
}
