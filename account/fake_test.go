package account

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/hrygo/tgscan/blob"
	"github.com/hrygo/tgscan/telegram"
)

// fakeDialer hands out pre-built clients by phone.
type fakeDialer struct {
	mu       sync.Mutex
	clients  map[string]*fakeClient // returned by FromSession
	fresh    map[string]*fakeClient // returned by Fresh
	badPhone map[string]error       // FromSession failures
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		clients:  make(map[string]*fakeClient),
		fresh:    make(map[string]*fakeClient),
		badPhone: make(map[string]error),
	}
}

func (d *fakeDialer) FromSession(phone, session string) (telegram.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.badPhone[phone]; err != nil {
		return nil, err
	}
	client, ok := d.clients[phone]
	if !ok {
		return nil, errors.Errorf("no fake client for %s", phone)
	}
	client.restoredFrom = session
	return client, nil
}

func (d *fakeDialer) Fresh(phone string) (telegram.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	client, ok := d.fresh[phone]
	if !ok {
		return nil, errors.Errorf("no fresh fake client for %s", phone)
	}
	return client, nil
}

// fakeClient implements telegram.Client with hookable query methods and call
// counters.
type fakeClient struct {
	phone        string
	session      string
	restoredFrom string

	connectErr    error
	authorized    bool
	authorizedErr error

	signInErr   error
	passwordErr error

	resolve func(ctx context.Context, chatID string) (*telegram.Chat, error)
	members func(ctx context.Context, chat *telegram.Chat) (int, error)
	history func(ctx context.Context, chat *telegram.Chat, offsetID, limit int) ([]telegram.Message, error)
	replies func(ctx context.Context, chat *telegram.Chat, msgID, offsetID, limit int) ([]telegram.Message, error)

	connected      atomic.Bool
	resolveCalls   atomic.Int32
	historyCalls   atomic.Int32
	repliesCalls   atomic.Int32
	sentCode       atomic.Bool
	signedIn       atomic.Bool
	passwordChecks atomic.Int32
}

func newFakeClient(phone string) *fakeClient {
	return &fakeClient{phone: phone, session: "session-" + phone, authorized: true}
}

func (c *fakeClient) Connect(context.Context) error {
	if c.connectErr != nil {
		return c.connectErr
	}
	c.connected.Store(true)
	return nil
}

func (c *fakeClient) Disconnect(context.Context) error {
	c.connected.Store(false)
	return nil
}

func (c *fakeClient) Authorized(context.Context) (bool, error) {
	return c.authorized, c.authorizedErr
}

func (c *fakeClient) SendCode(context.Context, string) (*telegram.SentCode, error) {
	c.sentCode.Store(true)
	return &telegram.SentCode{PhoneCodeHash: "hash-" + c.phone}, nil
}

func (c *fakeClient) SignIn(_ context.Context, _, _, _ string) error {
	if c.signInErr != nil {
		return c.signInErr
	}
	c.signedIn.Store(true)
	return nil
}

func (c *fakeClient) CheckPassword(_ context.Context, _ string) error {
	c.passwordChecks.Add(1)
	if c.passwordErr != nil {
		return c.passwordErr
	}
	c.signedIn.Store(true)
	return nil
}

func (c *fakeClient) ExportSession(context.Context) (string, error) {
	return c.session, nil
}

func (c *fakeClient) ResolveChat(ctx context.Context, chatID string) (*telegram.Chat, error) {
	c.resolveCalls.Add(1)
	if c.resolve != nil {
		return c.resolve(ctx, chatID)
	}
	return &telegram.Chat{ID: 1, Username: chatID, Type: telegram.ChatTypeChannel}, nil
}

func (c *fakeClient) ChatMembersCount(ctx context.Context, chat *telegram.Chat) (int, error) {
	if c.members != nil {
		return c.members(ctx, chat)
	}
	return 0, nil
}

func (c *fakeClient) ChatHistory(ctx context.Context, chat *telegram.Chat, offsetID, limit int) ([]telegram.Message, error) {
	c.historyCalls.Add(1)
	if c.history != nil {
		return c.history(ctx, chat, offsetID, limit)
	}
	return nil, nil
}

func (c *fakeClient) DiscussionReplies(ctx context.Context, chat *telegram.Chat, msgID, offsetID, limit int) ([]telegram.Message, error) {
	c.repliesCalls.Add(1)
	if c.replies != nil {
		return c.replies(ctx, chat, msgID, offsetID, limit)
	}
	return nil, nil
}

// seedSessions writes a session blob for every phone so that Start restores
// instead of logging in.
func seedSessions(ctx context.Context, blobs *blob.Memory, phones ...string) {
	for _, phone := range phones {
		_ = blobs.Write(ctx, phone+".session", []byte("stored-"+phone))
	}
}
