package account

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/tgscan/telegram"
)

// MessageIter is a pull iterator over a message stream, in the manner of
// sql.Rows: call Next until it returns false, then consult Err. Close is
// idempotent and must be called when abandoning the stream early.
type MessageIter interface {
	Next(ctx context.Context) bool
	Message() telegram.Message
	Err() error
	Close()
}

// messageIter serves one stream from one checked-out account. The account is
// acquired lazily on the first Next and released when the stream ends, fails
// or is closed.
type messageIter struct {
	scanner        *Scanner
	chatID         string
	fetch          func(ctx context.Context, client telegram.Client, chat *telegram.Chat, offsetID, limit int) ([]telegram.Message, error)
	limit          int
	minDate        time.Time
	emptyOnInvalid bool

	acc      *Account
	chat     *telegram.Chat
	buf      []telegram.Message
	cur      telegram.Message
	offsetID int
	yielded  int
	err      error
	done     bool
}

func (it *messageIter) Message() telegram.Message { return it.cur }

func (it *messageIter) Err() error {
	if errors.Is(it.err, errStreamEnd) {
		return nil
	}
	return it.err
}

// errStreamEnd marks normal exhaustion internally.
var errStreamEnd = errors.New("account: stream end")

func (it *messageIter) Next(ctx context.Context) bool {
	if it.done {
		return false
	}
	if it.limit > 0 && it.yielded >= it.limit {
		it.finish()
		return false
	}

	for {
		if len(it.buf) > 0 {
			msg := it.buf[0]
			it.buf = it.buf[1:]
			it.offsetID = msg.ID
			if !it.minDate.IsZero() && msg.Date.UTC().Before(it.minDate) {
				it.finish()
				return false
			}
			it.cur = msg
			it.yielded++
			return true
		}

		if err := it.fetchPage(ctx); err != nil {
			if !errors.Is(err, errStreamEnd) {
				it.fail(err)
			} else {
				it.finish()
			}
			return false
		}
	}
}

// fetchPage pulls the next page into buf, acquiring the serving account and
// resolving the chat on the first call. Returns errStreamEnd on exhaustion.
func (it *messageIter) fetchPage(ctx context.Context) error {
	pool := it.scanner.pool

	if it.acc == nil {
		acc, _, err := pool.acquire(ctx)
		if err != nil {
			return err
		}
		it.acc = acc
	}
	client := it.acc.Client()

	if it.chat == nil {
		chat, err := it.resolveChat(ctx, client)
		if err != nil {
			return err
		}
		it.chat = chat
	}

	limit := pageSize
	if it.limit > 0 && it.limit-it.yielded < limit {
		limit = it.limit - it.yielded
	}

	msgs, err := it.fetch(ctx, client, it.chat, it.offsetID, limit)
	if err != nil {
		if it.emptyOnInvalid && (errors.Is(err, telegram.ErrMsgIDInvalid) || errors.Is(err, telegram.ErrPeerIDInvalid)) {
			return errStreamEnd
		}
		return err
	}
	if len(msgs) == 0 {
		return errStreamEnd
	}
	it.buf = msgs
	return nil
}

func (it *messageIter) resolveChat(ctx context.Context, client telegram.Client) (*telegram.Chat, error) {
	cache := it.scanner.cache
	if cache != nil {
		if item, ok := cache.Get(it.chatID); ok && item.Chat != nil {
			return item.Chat, nil
		}
	}

	chat, err := client.ResolveChat(ctx, it.chatID)
	if err != nil {
		if it.emptyOnInvalid && errors.Is(err, telegram.ErrPeerIDInvalid) {
			return nil, errStreamEnd
		}
		return nil, err
	}
	if cache != nil {
		cache.Set(it.chatID, chat)
	}
	return chat, nil
}

// finish ends the stream normally and returns the account to the queue.
func (it *messageIter) finish() {
	it.done = true
	if it.acc != nil {
		it.scanner.pool.release(it.acc, nil)
		it.acc = nil
	}
}

// fail ends the stream with err. A flood wait parks the serving account; any
// other failure re-enqueues it.
func (it *messageIter) fail(err error) {
	it.done = true
	it.err = err
	if it.acc != nil {
		it.scanner.pool.release(it.acc, err)
		it.acc = nil
	}
}

func (it *messageIter) Close() {
	if !it.done {
		it.finish()
	}
}
