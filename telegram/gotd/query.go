package gotd

import (
	"context"
	"strings"
	"time"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/pkg/errors"

	"github.com/hrygo/tgscan/telegram"
)

// ResolveChat looks the username up on the server and classifies the peer.
func (c *Client) ResolveChat(ctx context.Context, chatID string) (*telegram.Chat, error) {
	username := strings.TrimPrefix(chatID, "@")
	res, err := c.api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{
		Username: username,
	})
	if err != nil {
		return nil, mapError(err)
	}

	switch peer := res.Peer.(type) {
	case *tg.PeerChannel:
		for _, ch := range res.Chats {
			channel, ok := ch.(*tg.Channel)
			if !ok || channel.ID != peer.ChannelID {
				continue
			}
			typ := telegram.ChatTypeChannel
			if channel.Megagroup {
				typ = telegram.ChatTypeGroup
			}
			return &telegram.Chat{
				ID:         channel.ID,
				AccessHash: channel.AccessHash,
				Username:   channel.Username,
				Title:      channel.Title,
				Type:       typ,
			}, nil
		}
		return nil, errors.Errorf("channel %d missing from resolve response", peer.ChannelID)

	case *tg.PeerChat:
		for _, ch := range res.Chats {
			chat, ok := ch.(*tg.Chat)
			if !ok || chat.ID != peer.ChatID {
				continue
			}
			return &telegram.Chat{
				ID:    chat.ID,
				Title: chat.Title,
				Type:  telegram.ChatTypeGroup,
			}, nil
		}
		return nil, errors.Errorf("chat %d missing from resolve response", peer.ChatID)

	case *tg.PeerUser:
		for _, u := range res.Users {
			user, ok := u.(*tg.User)
			if !ok || user.ID != peer.UserID {
				continue
			}
			return &telegram.Chat{
				ID:         user.ID,
				AccessHash: user.AccessHash,
				Username:   user.Username,
				Title:      strings.TrimSpace(user.FirstName + " " + user.LastName),
				Type:       telegram.ChatTypeUser,
			}, nil
		}
		return nil, errors.Errorf("user %d missing from resolve response", peer.UserID)

	default:
		return nil, errors.Errorf("unexpected peer type %T", res.Peer)
	}
}

// ChatMembersCount returns the participant count of a channel or group. User
// peers count 0.
func (c *Client) ChatMembersCount(ctx context.Context, chat *telegram.Chat) (int, error) {
	if chat.Type == telegram.ChatTypeUser {
		return 0, nil
	}

	// Megagroups and broadcast channels carry an access hash; plain group
	// chats do not.
	if chat.AccessHash != 0 {
		full, err := c.api.ChannelsGetFullChannel(ctx, &tg.InputChannel{
			ChannelID:  chat.ID,
			AccessHash: chat.AccessHash,
		})
		if err != nil {
			return 0, mapError(err)
		}
		channelFull, ok := full.FullChat.(*tg.ChannelFull)
		if !ok {
			return 0, errors.Errorf("unexpected full chat type %T", full.FullChat)
		}
		return channelFull.ParticipantsCount, nil
	}

	res, err := c.api.MessagesGetChats(ctx, []int64{chat.ID})
	if err != nil {
		return 0, mapError(err)
	}
	for _, ch := range res.GetChats() {
		if plain, ok := ch.(*tg.Chat); ok && plain.ID == chat.ID {
			return plain.ParticipantsCount, nil
		}
	}
	return 0, errors.Errorf("chat %d missing from response", chat.ID)
}

// ChatHistory returns one page of the chat history, newest first. offsetID 0
// starts at the latest message; otherwise messages strictly older than
// offsetID are returned.
func (c *Client) ChatHistory(ctx context.Context, chat *telegram.Chat, offsetID, limit int) ([]telegram.Message, error) {
	return pageMessages(offsetID, func(offsetID int) (tg.MessagesMessagesClass, error) {
		res, err := c.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
			Peer:     inputPeer(chat),
			OffsetID: offsetID,
			Limit:    limit,
		})
		if err != nil {
			return nil, mapError(err)
		}
		return res, nil
	})
}

// DiscussionReplies returns one page of the discussion thread of msgID,
// newest first.
func (c *Client) DiscussionReplies(ctx context.Context, chat *telegram.Chat, msgID, offsetID, limit int) ([]telegram.Message, error) {
	return pageMessages(offsetID, func(offsetID int) (tg.MessagesMessagesClass, error) {
		res, err := c.api.MessagesGetReplies(ctx, &tg.MessagesGetRepliesRequest{
			Peer:     inputPeer(chat),
			MsgID:    msgID,
			OffsetID: offsetID,
			Limit:    limit,
		})
		if err != nil {
			return nil, mapError(err)
		}
		return res, nil
	})
}

func inputPeer(chat *telegram.Chat) tg.InputPeerClass {
	switch {
	case chat.Type == telegram.ChatTypeUser:
		return &tg.InputPeerUser{UserID: chat.ID, AccessHash: chat.AccessHash}
	case chat.AccessHash == 0:
		return &tg.InputPeerChat{ChatID: chat.ID}
	default:
		return &tg.InputPeerChannel{ChannelID: chat.ID, AccessHash: chat.AccessHash}
	}
}

// pageMessages fetches from offsetID until a page yields at least one plain
// message or the raw page comes back empty. A page can consist entirely of
// service messages (joins, pins); the callers treat an empty mapped page as
// exhaustion, so such pages are skipped by advancing past their lowest ID.
func pageMessages(offsetID int, fetch func(offsetID int) (tg.MessagesMessagesClass, error)) ([]telegram.Message, error) {
	for {
		res, err := fetch(offsetID)
		if err != nil {
			return nil, err
		}
		msgs, lowestID, err := extractMessages(res)
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 || lowestID == 0 {
			return msgs, nil
		}
		offsetID = lowestID
	}
}

// extractMessages maps a raw page. lowestID is the smallest raw message ID on
// the page, service messages included; 0 means the raw page was empty.
func extractMessages(res tg.MessagesMessagesClass) ([]telegram.Message, int, error) {
	var raw []tg.MessageClass
	switch v := res.(type) {
	case *tg.MessagesChannelMessages:
		raw = v.Messages
	case *tg.MessagesMessagesSlice:
		raw = v.Messages
	case *tg.MessagesMessages:
		raw = v.Messages
	case *tg.MessagesMessagesNotModified:
		return nil, 0, nil
	default:
		return nil, 0, errors.Errorf("unexpected messages type %T", res)
	}

	msgs := make([]telegram.Message, 0, len(raw))
	lowestID := 0
	for _, m := range raw {
		if id := m.GetID(); lowestID == 0 || id < lowestID {
			lowestID = id
		}
		// Service messages and holes carry no statistics.
		msg, ok := m.(*tg.Message)
		if !ok {
			continue
		}
		msgs = append(msgs, mapMessage(msg))
	}
	return msgs, lowestID, nil
}

func mapMessage(m *tg.Message) telegram.Message {
	msg := telegram.Message{
		ID:       m.ID,
		Date:     time.Unix(int64(m.Date), 0).UTC(),
		Text:     m.Message,
		Views:    m.Views,
		Forwards: m.Forwards,
		Replies:  m.Replies.Replies,
	}
	for _, r := range m.Reactions.Results {
		msg.Reactions += r.Count
	}
	return msg
}

// mapError translates gotd failures into the error kinds the account pool
// dispatches on.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if d, ok := tgerr.AsFloodWait(err); ok {
		return &telegram.FloodWaitError{Seconds: int(d.Seconds())}
	}
	switch {
	case tgerr.Is(err, "AUTH_KEY_UNREGISTERED"):
		return telegram.ErrAuthKeyUnregistered
	case tgerr.Is(err, "USER_DEACTIVATED", "USER_DEACTIVATED_BAN"):
		return telegram.ErrUserDeactivated
	case tgerr.Is(err, "SESSION_REVOKED", "AUTH_KEY_INVALID"):
		return telegram.ErrSessionRevoked
	case tgerr.Is(err, "MSG_ID_INVALID"):
		return telegram.ErrMsgIDInvalid
	case tgerr.Is(err, "PEER_ID_INVALID", "USERNAME_INVALID", "USERNAME_NOT_OCCUPIED", "CHANNEL_INVALID"):
		return telegram.ErrPeerIDInvalid
	}
	return err
}
