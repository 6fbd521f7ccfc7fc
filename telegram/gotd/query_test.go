package gotd

import (
	"testing"

	"github.com/gotd/td/tg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func channelPage(msgs ...tg.MessageClass) tg.MessagesMessagesClass {
	return &tg.MessagesChannelMessages{Messages: msgs}
}

func TestPageMessagesSkipsServiceOnlyPages(t *testing.T) {
	// Megagroups interleave join/pin service messages with posts; a page may
	// hold nothing but those and still not mean the history is over.
	pages := []tg.MessagesMessagesClass{
		channelPage(&tg.MessageService{ID: 50}, &tg.MessageService{ID: 49}),
		channelPage(&tg.Message{ID: 48, Message: "post"}, &tg.MessageService{ID: 47}),
	}
	var offsets []int
	msgs, err := pageMessages(0, func(offsetID int) (tg.MessagesMessagesClass, error) {
		offsets = append(offsets, offsetID)
		page := pages[0]
		pages = pages[1:]
		return page, nil
	})
	require.NoError(t, err)

	// The second fetch resumes past the lowest ID of the skipped page.
	assert.Equal(t, []int{0, 49}, offsets)
	require.Len(t, msgs, 1)
	assert.Equal(t, 48, msgs[0].ID)
	assert.Equal(t, "post", msgs[0].Text)
}

func TestPageMessagesExhaustion(t *testing.T) {
	t.Run("empty page", func(t *testing.T) {
		calls := 0
		msgs, err := pageMessages(0, func(int) (tg.MessagesMessagesClass, error) {
			calls++
			return channelPage(), nil
		})
		require.NoError(t, err)
		assert.Empty(t, msgs)
		assert.Equal(t, 1, calls)
	})

	t.Run("service tail then empty", func(t *testing.T) {
		pages := []tg.MessagesMessagesClass{
			channelPage(&tg.MessageService{ID: 3}),
			channelPage(),
		}
		msgs, err := pageMessages(0, func(int) (tg.MessagesMessagesClass, error) {
			page := pages[0]
			pages = pages[1:]
			return page, nil
		})
		require.NoError(t, err)
		assert.Empty(t, msgs)
		assert.Empty(t, pages)
	})
}

func TestExtractMessages(t *testing.T) {
	msgs, lowestID, err := extractMessages(channelPage(
		&tg.Message{ID: 10, Message: "a"},
		&tg.MessageService{ID: 9},
		&tg.Message{ID: 8, Message: "b"},
	))
	require.NoError(t, err)
	assert.Equal(t, 8, lowestID)
	require.Len(t, msgs, 2)
	assert.Equal(t, 10, msgs[0].ID)
	assert.Equal(t, 8, msgs[1].ID)
}
