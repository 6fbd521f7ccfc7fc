// Package gotd implements the telegram capability interfaces on top of the
// gotd/td MTProto client.
package gotd

import (
	"context"
	"time"

	"github.com/gotd/contrib/middleware/ratelimit"
	"github.com/gotd/td/session"
	tdclient "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hrygo/tgscan/telegram"
)

// Rate limit applied to every outgoing request, on top of the server-side
// flood-wait handling done by the account pool.
const (
	rateLimitEvery = 100 * time.Millisecond
	rateLimitBurst = 5
)

// Dialer creates gotd-backed clients for the account pool.
type Dialer struct {
	apiID   int
	apiHash string
	log     *zap.Logger
}

// DialerOption mutates a Dialer.
type DialerOption func(*Dialer)

// WithLogger routes gotd client logs through log.
func WithLogger(log *zap.Logger) DialerOption {
	return func(d *Dialer) { d.log = log }
}

// NewDialer builds a dialer with the application credentials from
// https://my.telegram.org.
func NewDialer(apiID int, apiHash string, opts ...DialerOption) (*Dialer, error) {
	if apiID == 0 || apiHash == "" {
		return nil, errors.New("api id and api hash required")
	}
	d := &Dialer{apiID: apiID, apiHash: apiHash, log: zap.NewNop()}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// FromSession restores a client from a stored session string. The string must
// parse as a gotd session; garbage fails here rather than at connect time.
func (d *Dialer) FromSession(phone, data string) (telegram.Client, error) {
	storage := &session.StorageMemory{}
	if err := storage.StoreSession(context.Background(), []byte(data)); err != nil {
		return nil, errors.Wrap(err, "failed to store session data")
	}
	loader := session.Loader{Storage: storage}
	if _, err := loader.Load(context.Background()); err != nil {
		return nil, errors.Wrap(err, "failed to parse session data")
	}
	return d.newClient(phone, storage), nil
}

// Fresh creates a client with no authorization at all. The caller is expected
// to run the interactive login flow.
func (d *Dialer) Fresh(phone string) (telegram.Client, error) {
	return d.newClient(phone, &session.StorageMemory{}), nil
}

func (d *Dialer) newClient(phone string, storage *session.StorageMemory) *Client {
	client := tdclient.NewClient(d.apiID, d.apiHash, tdclient.Options{
		SessionStorage: storage,
		Logger:         d.log.Named("td").With(zap.String("phone", phone)),
		Middlewares: []tdclient.Middleware{
			ratelimit.New(rate.Every(rateLimitEvery), rateLimitBurst),
		},
	})
	return &Client{
		phone:   phone,
		storage: storage,
		client:  client,
		api:     client.API(),
	}
}

// Client is one live gotd connection. The gotd client only serves requests
// inside Run, so Connect starts Run in a goroutine and holds it open until
// Disconnect.
type Client struct {
	phone   string
	storage *session.StorageMemory
	client  *tdclient.Client
	api     *tg.Client

	stop    context.CancelFunc
	runDone chan error
}

var _ telegram.Client = (*Client)(nil)

// Connect brings the connection up and keeps it alive in the background.
func (c *Client) Connect(ctx context.Context) error {
	if c.stop != nil {
		return errors.Errorf("client %s already connected", c.phone)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- c.client.Run(runCtx, func(ctx context.Context) error {
			close(ready)
			<-ctx.Done()
			return ctx.Err()
		})
	}()

	select {
	case <-ready:
		c.stop = cancel
		c.runDone = done
		return nil
	case err := <-done:
		cancel()
		return mapError(errors.Wrapf(err, "failed to connect %s", c.phone))
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}

// Disconnect tears the background connection down.
func (c *Client) Disconnect(ctx context.Context) error {
	if c.stop == nil {
		return nil
	}
	c.stop()
	c.stop = nil

	select {
	case err := <-c.runDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			return errors.Wrapf(err, "connection of %s failed", c.phone)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Authorized reports whether the session carries a server-accepted
// authorization.
func (c *Client) Authorized(ctx context.Context) (bool, error) {
	status, err := c.client.Auth().Status(ctx)
	if err != nil {
		return false, mapError(err)
	}
	return status.Authorized, nil
}

// SendCode asks the server to deliver a login code to the account.
func (c *Client) SendCode(ctx context.Context, phone string) (*telegram.SentCode, error) {
	sent, err := c.client.Auth().SendCode(ctx, phone, auth.SendCodeOptions{})
	if err != nil {
		return nil, mapError(err)
	}
	code, ok := sent.(*tg.AuthSentCode)
	if !ok {
		return nil, errors.Errorf("unexpected sent code type %T", sent)
	}
	return &telegram.SentCode{PhoneCodeHash: code.PhoneCodeHash}, nil
}

// SignIn completes the code step of the login flow. When the account has 2FA
// enabled it fails with telegram.ErrPasswordNeeded and CheckPassword must
// follow.
func (c *Client) SignIn(ctx context.Context, phone, codeHash, code string) error {
	_, err := c.client.Auth().SignIn(ctx, phone, code, codeHash)
	if errors.Is(err, auth.ErrPasswordAuthNeeded) {
		return telegram.ErrPasswordNeeded
	}
	if err != nil {
		return mapError(err)
	}
	return nil
}

// CheckPassword completes the 2FA step of the login flow.
func (c *Client) CheckPassword(ctx context.Context, password string) error {
	if _, err := c.client.Auth().Password(ctx, password); err != nil {
		return mapError(err)
	}
	return nil
}

// ExportSession serializes the current authorization for persistence.
func (c *Client) ExportSession(ctx context.Context) (string, error) {
	data, err := c.storage.LoadSession(ctx)
	if err != nil {
		return "", errors.Wrap(err, "failed to load session data")
	}
	return string(data), nil
}
