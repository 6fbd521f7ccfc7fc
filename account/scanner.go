package account

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/tgscan/blob"
	"github.com/hrygo/tgscan/chatcache"
	"github.com/hrygo/tgscan/telegram"
)

// Cap on how many discussion replies GetDiscussionRepliesCount counts.
const maxRepliesCount = 1000

// Page size for history and replies requests.
const pageSize = 100

// ScannerOptions configures NewScanner.
type ScannerOptions struct {
	// Phones lists the accounts to use. Empty discovers them from the blob
	// store by globbing "*.session".
	Phones []string
	// ChatCache enables the persistent chat metadata cache.
	ChatCache bool
	// Code and Password are installed on every account for interactive login.
	Code     CodeFunc
	Password PasswordFunc

	Pool CollectionOptions
}

// Scanner executes Telegram queries through the account pool, retrying on
// another account when one is parked under a flood wait.
type Scanner struct {
	pool   *Collection
	blobs  blob.Store
	cache  *chatcache.Cache // nil when disabled
	phones []string
	log    *slog.Logger
}

// NewScanner builds the accounts and the pool. The startup policy defaults
// to PolicyIgnore: a scan prefers running on the surviving accounts over
// failing outright.
func NewScanner(ctx context.Context, blobs blob.Store, dialer telegram.Dialer, opts ScannerOptions) (*Scanner, error) {
	phones := opts.Phones
	if len(phones) == 0 {
		keys, err := blobs.Glob(ctx, "*.session")
		if err != nil {
			return nil, errors.Wrap(err, "failed to discover session files")
		}
		for _, key := range keys {
			phones = append(phones, strings.TrimSuffix(key, ".session"))
		}
	}
	if len(phones) == 0 {
		return nil, errors.New("no accounts: no phones given and no session files found")
	}

	accounts := make(map[string]*Account, len(phones))
	for _, phone := range phones {
		acc := NewAccount(blobs, dialer, phone)
		if opts.Code != nil {
			acc.Code = opts.Code
		}
		if opts.Password != nil {
			acc.Password = opts.Password
		}
		accounts[phone] = acc
	}

	if opts.Pool.Invalid == "" {
		opts.Pool.Invalid = PolicyIgnore
	}
	pool, err := NewCollection(blobs, accounts, opts.Pool)
	if err != nil {
		return nil, err
	}

	s := &Scanner{
		pool:   pool,
		blobs:  blobs,
		phones: phones,
		log:    pool.log,
	}
	if opts.ChatCache {
		s.cache = chatcache.New(blobs)
	}
	return s, nil
}

// Pool exposes the underlying collection.
func (s *Scanner) Pool() *Collection { return s.pool }

// Phones returns the phone numbers the scanner operates with.
func (s *Scanner) Phones() []string { return s.phones }

// Session composes the pool session with the chat cache lifecycle: the cache
// is loaded before the accounts start and saved on every exit path.
func (s *Scanner) Session(ctx context.Context, pbar ProgressReporter, fn func(ctx context.Context) error) error {
	if s.cache != nil {
		if err := s.cache.Load(ctx); err != nil {
			return err
		}
	}

	sessionErr := s.pool.Session(ctx, pbar, fn)

	if s.cache != nil {
		if err := s.cache.Save(context.WithoutCancel(ctx)); err != nil {
			if sessionErr == nil {
				return err
			}
			s.log.Warn("failed to save chat cache", "error", err)
		}
	}
	return sessionErr
}

// command runs op through a checked-out account, looping onto the next
// available account whenever the current one gets a flood-wait penalty. The
// loop is bounded by the pool check-out deadline: once every account is
// parked long enough, acquire fails with UnavailableError.
func (s *Scanner) command(ctx context.Context, op func(ctx context.Context, client telegram.Client) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.pool.WithAccount(ctx, func(ctx context.Context, acc *Account) error {
			return op(ctx, acc.Client())
		})
		if _, ok := telegram.AsFloodWait(err); ok {
			continue
		}
		return err
	}
}

// GetChat resolves chat metadata, consulting the cache first.
func (s *Scanner) GetChat(ctx context.Context, chatID string) (*telegram.Chat, error) {
	if s.cache != nil {
		if item, ok := s.cache.Get(chatID); ok && item.Chat != nil {
			return item.Chat, nil
		}
	}

	var chat *telegram.Chat
	err := s.command(ctx, func(ctx context.Context, client telegram.Client) error {
		var err error
		chat, err = client.ResolveChat(ctx, chatID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Set(chatID, chat)
	}
	return chat, nil
}

// GetChatMembersCount returns the participant count of a channel or group,
// and 0 for user peers.
func (s *Scanner) GetChatMembersCount(ctx context.Context, chatID string) (int, error) {
	if s.cache != nil {
		if item, ok := s.cache.Get(chatID); ok && item.MembersCount != nil {
			return *item.MembersCount, nil
		}
	}

	chat, err := s.GetChat(ctx, chatID)
	if err != nil {
		return 0, err
	}

	count := 0
	if chat.Type == telegram.ChatTypeChannel || chat.Type == telegram.ChatTypeGroup {
		err = s.command(ctx, func(ctx context.Context, client telegram.Client) error {
			var err error
			count, err = client.ChatMembersCount(ctx, chat)
			return err
		})
		if err != nil {
			return 0, err
		}
	}

	if s.cache != nil {
		s.cache.SetMembersCount(chatID, count)
	}
	return count, nil
}

// HistoryOptions bounds GetChatHistory.
type HistoryOptions struct {
	// Limit is the maximum number of messages to yield; 0 means unlimited.
	Limit int
	// MinDate stops the stream at the first message strictly older than it.
	// Compared in UTC. Zero means no cutoff.
	MinDate time.Time
}

// GetChatHistory streams the chat history newest-first. The whole stream is
// served by a single checked-out account; a flood wait mid-stream parks that
// account and surfaces through Err as a retriable failure.
func (s *Scanner) GetChatHistory(ctx context.Context, chatID string, opts HistoryOptions) MessageIter {
	return &messageIter{
		scanner: s,
		chatID:  chatID,
		limit:   opts.Limit,
		minDate: opts.MinDate,
		fetch: func(ctx context.Context, client telegram.Client, chat *telegram.Chat, offsetID, limit int) ([]telegram.Message, error) {
			return client.ChatHistory(ctx, chat, offsetID, limit)
		},
	}
}

// GetDiscussionReplies streams the discussion thread of a message. A server
// response of "invalid message id" or "invalid peer id" yields an empty
// stream.
func (s *Scanner) GetDiscussionReplies(ctx context.Context, chatID string, msgID, limit int) MessageIter {
	// Locally-detectable invalid ids behave like the server's MSG_ID_INVALID:
	// an empty stream.
	if chatID == "" || msgID <= 0 {
		return &messageIter{done: true}
	}
	return &messageIter{
		scanner:        s,
		chatID:         chatID,
		limit:          limit,
		emptyOnInvalid: true,
		fetch: func(ctx context.Context, client telegram.Client, chat *telegram.Chat, offsetID, limit int) ([]telegram.Message, error) {
			return client.DiscussionReplies(ctx, chat, msgID, offsetID, limit)
		},
	}
}

// GetDiscussionRepliesCount counts the replies of a message, up to 1000.
// Invalid message or peer ids count as 0.
func (s *Scanner) GetDiscussionRepliesCount(ctx context.Context, chatID string, msgID int) (int, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		iter := s.GetDiscussionReplies(ctx, chatID, msgID, maxRepliesCount)
		count := 0
		for iter.Next(ctx) {
			count++
		}
		iter.Close()

		err := iter.Err()
		if _, ok := telegram.AsFloodWait(err); ok {
			// The serving account got parked; recount on the next one.
			continue
		}
		if err != nil {
			return 0, err
		}
		return count, nil
	}
}
