package account

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/tgscan/blob"
	"github.com/hrygo/tgscan/telegram"
)

// newTestPool wires a collection over fake clients, one per phone, with a
// stored session blob for each.
func newTestPool(t *testing.T, blobs *blob.Memory, opts CollectionOptions, phones ...string) (*Collection, map[string]*fakeClient) {
	t.Helper()
	ctx := context.Background()
	seedSessions(ctx, blobs, phones...)

	dialer := newFakeDialer()
	clients := make(map[string]*fakeClient, len(phones))
	accounts := make(map[string]*Account, len(phones))
	for _, phone := range phones {
		client := newFakeClient(phone)
		dialer.clients[phone] = client
		clients[phone] = client
		accounts[phone] = NewAccount(blobs, dialer, phone)
	}

	pool, err := NewCollection(blobs, accounts, opts)
	require.NoError(t, err)
	return pool, clients
}

func TestSessionMutualExclusion(t *testing.T) {
	ctx := context.Background()
	blobs := blob.NewMemory()
	require.NoError(t, blobs.Touch(ctx, SessionLockKey))

	pool, clients := newTestPool(t, blobs, CollectionOptions{}, "100")
	err := pool.Session(ctx, nil, func(ctx context.Context) error {
		t.Fatal("session body must not run")
		return nil
	})
	require.ErrorIs(t, err, ErrSessionsInUse)

	// The lock check fires before any account is touched.
	assert.False(t, clients["100"].connected.Load())
}

func TestSessionLockLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("normal exit", func(t *testing.T) {
		blobs := blob.NewMemory()
		pool, clients := newTestPool(t, blobs, CollectionOptions{}, "100", "200")

		var lockedInside bool
		err := pool.Session(ctx, nil, func(ctx context.Context) error {
			lockedInside, _ = blobs.Exists(ctx, SessionLockKey)
			return nil
		})
		require.NoError(t, err)
		assert.True(t, lockedInside)

		locked, _ := blobs.Exists(ctx, SessionLockKey)
		assert.False(t, locked)
		for phone, client := range clients {
			assert.False(t, client.connected.Load(), phone)
			assert.False(t, pool.Account(phone).Started(), phone)
		}
	})

	t.Run("error exit", func(t *testing.T) {
		blobs := blob.NewMemory()
		pool, _ := newTestPool(t, blobs, CollectionOptions{}, "100")

		fnErr := errors.New("boom")
		err := pool.Session(ctx, nil, func(ctx context.Context) error { return fnErr })
		require.ErrorIs(t, err, fnErr)

		locked, _ := blobs.Exists(ctx, SessionLockKey)
		assert.False(t, locked)
		assert.False(t, pool.Account("100").Started())
	})
}

func TestStartupFanOut(t *testing.T) {
	ctx := context.Background()

	t.Run("ignore keeps the survivors", func(t *testing.T) {
		blobs := blob.NewMemory()
		pool, clients := newTestPool(t, blobs, CollectionOptions{Invalid: PolicyIgnore}, "100", "200", "300")
		clients["200"].connectErr = errors.New("borked")

		err := pool.Session(ctx, nil, func(ctx context.Context) error {
			assert.True(t, pool.Account("100").Started())
			assert.False(t, pool.Account("200").Started())
			assert.True(t, pool.Account("300").Started())
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("raise surfaces the failure", func(t *testing.T) {
		blobs := blob.NewMemory()
		pool, clients := newTestPool(t, blobs, CollectionOptions{Invalid: PolicyRaise}, "100", "200", "300")
		clients["200"].connectErr = errors.New("borked")

		err := pool.Session(ctx, nil, func(ctx context.Context) error {
			t.Fatal("session body must not run")
			return nil
		})
		var startErr *StartFailedError
		require.ErrorAs(t, err, &startErr)
		assert.Equal(t, "200", startErr.Phone)

		locked, _ := blobs.Exists(ctx, SessionLockKey)
		assert.False(t, locked)
	})
}

func TestCheckOutQueueIsFIFO(t *testing.T) {
	ctx := context.Background()
	blobs := blob.NewMemory()
	pool, _ := newTestPool(t, blobs, CollectionOptions{}, "100", "200")

	err := pool.Session(ctx, nil, func(ctx context.Context) error {
		var order []string
		for i := 0; i < 4; i++ {
			err := pool.WithAccount(ctx, func(ctx context.Context, acc *Account) error {
				order = append(order, acc.Phone())
				return nil
			})
			require.NoError(t, err)
		}
		// A released account goes to the tail, so two accounts alternate.
		assert.Equal(t, order[0], order[2])
		assert.Equal(t, order[1], order[3])
		assert.NotEqual(t, order[0], order[1])
		return nil
	})
	require.NoError(t, err)
}

func TestCheckOutServesWaitersInArrivalOrder(t *testing.T) {
	ctx := context.Background()
	blobs := blob.NewMemory()
	pool, _ := newTestPool(t, blobs, CollectionOptions{}, "100")

	err := pool.Session(ctx, nil, func(ctx context.Context) error {
		held := make(chan struct{})
		release := make(chan struct{})
		go func() {
			_ = pool.WithAccount(ctx, func(ctx context.Context, acc *Account) error {
				close(held)
				<-release
				return nil
			})
		}()
		<-held

		// Queue several waiters while the only account is checked out. The
		// stagger guarantees each one blocks before the next arrives.
		var mu sync.Mutex
		var order []int
		var wg sync.WaitGroup
		for i := 0; i < 3; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				err := pool.WithAccount(ctx, func(ctx context.Context, acc *Account) error {
					mu.Lock()
					order = append(order, i)
					mu.Unlock()
					return nil
				})
				assert.NoError(t, err)
			}(i)
			time.Sleep(50 * time.Millisecond)
		}

		close(release)
		wg.Wait()
		assert.Equal(t, []int{0, 1, 2}, order)
		return nil
	})
	require.NoError(t, err)
}

func TestFloodWaitParking(t *testing.T) {
	ctx := context.Background()
	blobs := blob.NewMemory()
	pool, _ := newTestPool(t, blobs, CollectionOptions{MaxAccWaitingTime: 50 * time.Millisecond}, "100")

	err := pool.Session(ctx, nil, func(ctx context.Context) error {
		floodErr := &telegram.FloodWaitError{Seconds: 1}
		err := pool.WithAccount(ctx, func(ctx context.Context, acc *Account) error {
			return floodErr
		})
		require.ErrorIs(t, err, error(floodErr))

		// While parked the account is not available.
		err = pool.WithAccount(ctx, func(ctx context.Context, acc *Account) error { return nil })
		var unavailable *UnavailableError
		require.ErrorAs(t, err, &unavailable)

		// After the penalty it reappears with the flood-wait fields cleared.
		time.Sleep(1200 * time.Millisecond)
		err = pool.WithAccount(ctx, func(ctx context.Context, acc *Account) error {
			_, parked := acc.FloodWaitRemaining(time.Now())
			assert.False(t, parked)
			return nil
		})
		return err
	})
	require.NoError(t, err)
}

// fakeReporter records the postfix like the terminal progress bar does.
type fakeReporter struct {
	mu      sync.Mutex
	postfix string
}

func (r *fakeReporter) SetPostfix(s string) {
	r.mu.Lock()
	r.postfix = s
	r.mu.Unlock()
}

func (r *fakeReporter) Postfix() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.postfix
}

func (r *fakeReporter) Increment() {}

func TestFloodNoteRemovedPerAccount(t *testing.T) {
	ctx := context.Background()
	blobs := blob.NewMemory()
	pool, _ := newTestPool(t, blobs, CollectionOptions{}, "100", "200")
	pbar := &fakeReporter{}

	err := pool.Session(ctx, pbar, func(ctx context.Context) error {
		pbar.SetPostfix("@somechannel")

		var first, second string
		_ = pool.WithAccount(ctx, func(ctx context.Context, acc *Account) error {
			first = acc.Phone()
			return &telegram.FloodWaitError{Seconds: 1}
		})
		_ = pool.WithAccount(ctx, func(ctx context.Context, acc *Account) error {
			second = acc.Phone()
			return &telegram.FloodWaitError{Seconds: 2}
		})

		assert.Contains(t, pbar.Postfix(), first)
		assert.Contains(t, pbar.Postfix(), second)

		// The first penalty expiring must drop only its own note, not revive
		// the postfix it saw when it parked.
		time.Sleep(1400 * time.Millisecond)
		assert.NotContains(t, pbar.Postfix(), first)
		assert.Contains(t, pbar.Postfix(), second)

		time.Sleep(1 * time.Second)
		assert.Equal(t, "@somechannel", pbar.Postfix())
		return nil
	})
	require.NoError(t, err)
}

func TestMinWait(t *testing.T) {
	blobs := blob.NewMemory()
	pool, _ := newTestPool(t, blobs, CollectionOptions{}, "100", "200", "300")

	_, ok := pool.minWait()
	assert.False(t, ok)

	now := time.Now()
	pool.Account("100").setFloodWait(now.Add(-20*time.Second), 60*time.Second) // 40s left
	pool.Account("200").setFloodWait(now.Add(-10*time.Second), 30*time.Second) // 20s left

	min, ok := pool.minWait()
	require.True(t, ok)
	assert.InDelta(t, 20, min.Seconds(), 1)
}

func TestCheckOutDeadline(t *testing.T) {
	ctx := context.Background()
	blobs := blob.NewMemory()
	maxWait := 100 * time.Millisecond
	pool, _ := newTestPool(t, blobs, CollectionOptions{MaxAccWaitingTime: maxWait}, "100")

	err := pool.Session(ctx, nil, func(ctx context.Context) error {
		// Park the only account for a minute.
		_ = pool.WithAccount(ctx, func(ctx context.Context, acc *Account) error {
			return &telegram.FloodWaitError{Seconds: 60}
		})

		begin := time.Now()
		err := pool.WithAccount(ctx, func(ctx context.Context, acc *Account) error { return nil })
		elapsed := time.Since(begin)

		var unavailable *UnavailableError
		require.ErrorAs(t, err, &unavailable)
		assert.GreaterOrEqual(t, elapsed, maxWait)

		// available_at reflects the remaining penalty of the parked account.
		require.False(t, unavailable.AvailableAt.IsZero())
		assert.InDelta(t, 60, time.Until(unavailable.AvailableAt).Seconds(), 2)
		return nil
	})
	require.NoError(t, err)
}

func TestWithAccountReenqueuesOnError(t *testing.T) {
	ctx := context.Background()
	blobs := blob.NewMemory()
	pool, _ := newTestPool(t, blobs, CollectionOptions{MaxAccWaitingTime: 50 * time.Millisecond}, "100")

	err := pool.Session(ctx, nil, func(ctx context.Context) error {
		opErr := errors.New("some rpc failure")
		err := pool.WithAccount(ctx, func(ctx context.Context, acc *Account) error { return opErr })
		require.ErrorIs(t, err, opErr)

		// A plain failure puts the account straight back.
		return pool.WithAccount(ctx, func(ctx context.Context, acc *Account) error { return nil })
	})
	require.NoError(t, err)
}
