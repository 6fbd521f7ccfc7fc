// Package telegram defines the capability surface this project needs from a
// user-level Telegram (MTProto) client, together with the domain types and
// error kinds that cross it. The gotd-backed implementation lives in
// telegram/gotd; tests substitute fakes.
package telegram

import (
	"context"
	"time"
)

// ChatType classifies a resolved peer.
type ChatType string

const (
	ChatTypeChannel ChatType = "channel"
	ChatTypeGroup   ChatType = "group"
	ChatTypeUser    ChatType = "user"
)

// Chat is the resolved metadata of a peer. ID and AccessHash are what the
// server needs to address the peer in subsequent calls.
type Chat struct {
	ID         int64    `json:"id"`
	AccessHash int64    `json:"access_hash"`
	Username   string   `json:"username"`
	Title      string   `json:"title"`
	Type       ChatType `json:"type"`
}

// Message is one message of a chat history or discussion thread. Counters
// that the server omits are zero. Date is UTC.
type Message struct {
	ID        int       `json:"id"`
	Date      time.Time `json:"date"`
	Text      string    `json:"text"`
	Views     int       `json:"views"`
	Forwards  int       `json:"forwards"`
	Reactions int       `json:"reactions"`
	Replies   int       `json:"replies"`
}

// SentCode is the server acknowledgement of a login code request.
type SentCode struct {
	PhoneCodeHash string
}

// Client is a single authenticated connection. A Client belongs to exactly
// one account; it is not safe for concurrent use by multiple callers.
type Client interface {
	// Connect establishes the connection. The client stays connected until
	// Disconnect.
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	// Authorized reports whether the session carries a valid authorization.
	Authorized(ctx context.Context) (bool, error)

	// SendCode asks the server to deliver a login code to the account.
	SendCode(ctx context.Context, phone string) (*SentCode, error)
	// SignIn completes login with the delivered code. Returns
	// ErrPasswordNeeded when the account has 2FA enabled.
	SignIn(ctx context.Context, phone, codeHash, code string) error
	// CheckPassword completes a 2FA login.
	CheckPassword(ctx context.Context, password string) error

	// ExportSession serializes the authorization for later reuse.
	ExportSession(ctx context.Context) (string, error)

	// ResolveChat resolves a username or invite-style identifier to a Chat.
	ResolveChat(ctx context.Context, chatID string) (*Chat, error)
	// ChatMembersCount returns the participant count of a channel or group.
	ChatMembersCount(ctx context.Context, chat *Chat) (int, error)
	// ChatHistory returns up to limit messages older than offsetID in
	// newest-first order. offsetID 0 starts from the latest message. An empty
	// page means the history is exhausted.
	ChatHistory(ctx context.Context, chat *Chat, offsetID, limit int) ([]Message, error)
	// DiscussionReplies returns up to limit replies of the discussion thread
	// of msgID, newest first, older than offsetID.
	DiscussionReplies(ctx context.Context, chat *Chat, msgID, offsetID, limit int) ([]Message, error)
}

// Dialer creates Clients for accounts.
type Dialer interface {
	// FromSession builds a client restoring the given session string.
	FromSession(phone, session string) (Client, error)
	// Fresh builds a client with no authorization, for interactive login.
	Fresh(phone string) (Client, error)
}
