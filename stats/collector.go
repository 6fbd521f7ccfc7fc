// Package stats drives channel scans across the account pool and assembles
// per-message and per-channel statistics.
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/hrygo/tgscan/account"
	"github.com/hrygo/tgscan/telegram"
)

// Truncation length of Msg.Text.
const shortTextLen = 200

// Msg is the per-message statistics record.
type Msg struct {
	Username string
	Link     string
	Reach    int
	Likes    int
	Replies  int
	Forwards int
	Datetime time.Time
	Text     string
	FullText string
}

// Popularity is the engagement ratio of the message: reactions, replies and
// forwards per view. Zero reach yields zero.
func (m Msg) Popularity() float64 {
	if m.Reach == 0 {
		return 0
	}
	return float64(m.Likes+m.Replies+m.Forwards) / float64(m.Reach)
}

// Channel is the per-channel statistics record.
type Channel struct {
	Username    string
	Subscribers int
}

// ChannelStats is a channel merged with the mean reach of its messages.
// Channels without messages get reach 0.
type ChannelStats struct {
	Username    string
	Subscribers int
	Reach       int
}

// Scanner is the slice of the account.Scanner surface the collector needs.
type Scanner interface {
	Session(ctx context.Context, pbar account.ProgressReporter, fn func(ctx context.Context) error) error
	GetChatHistory(ctx context.Context, chatID string, opts account.HistoryOptions) account.MessageIter
	GetDiscussionRepliesCount(ctx context.Context, chatID string, msgID int) (int, error)
	GetChatMembersCount(ctx context.Context, chatID string) (int, error)
}

// CollectorOptions configures a Collector. MinDate and Depth are mutually
// exclusive; Depth counts days back from now.
type CollectorOptions struct {
	MinDate time.Time
	Depth   int
	Logger  *slog.Logger
}

// Collector fans channel scans out over the pool.
type Collector struct {
	scanner Scanner
	minDate time.Time
	log     *slog.Logger
}

func NewCollector(scanner Scanner, opts CollectorOptions) (*Collector, error) {
	if opts.Depth > 0 && !opts.MinDate.IsZero() {
		return nil, errors.New("can't set both depth and min date")
	}
	minDate := opts.MinDate
	if opts.Depth > 0 {
		minDate = time.Now().UTC().AddDate(0, 0, -opts.Depth)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Collector{scanner: scanner, minDate: minDate, log: log}, nil
}

// CollectAll scans every channel inside one pool session. With a progress
// reporter the channels are scanned sequentially and the reporter advanced
// per channel; without one all channels are scanned in parallel.
func (c *Collector) CollectAll(ctx context.Context, channels []string, pbar account.ProgressReporter) ([]Msg, []Channel, error) {
	var msgs []Msg
	var chans []Channel

	err := c.scanner.Session(ctx, pbar, func(ctx context.Context) error {
		var err error
		if pbar != nil {
			msgs, chans, err = c.sequentialScan(ctx, channels, pbar)
		} else {
			msgs, chans, err = c.parallelScan(ctx, channels)
		}
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return msgs, chans, nil
}

func (c *Collector) sequentialScan(ctx context.Context, channels []string, pbar account.ProgressReporter) ([]Msg, []Channel, error) {
	var msgs []Msg
	var chans []Channel

	for _, channel := range channels {
		pbar.SetPostfix(channel)

		channelMsgs, err := c.collectMsgStats(ctx, channel)
		if err != nil {
			return nil, nil, err
		}
		msgs = append(msgs, channelMsgs...)

		channelStats, err := c.collectChannelStats(ctx, channel)
		if err != nil {
			return nil, nil, err
		}
		chans = append(chans, channelStats)

		pbar.Increment()
	}
	return msgs, chans, nil
}

func (c *Collector) parallelScan(ctx context.Context, channels []string) ([]Msg, []Channel, error) {
	var mu sync.Mutex
	var msgs []Msg
	chans := make([]Channel, len(channels))

	g, gctx := errgroup.WithContext(ctx)
	for _, channel := range channels {
		g.Go(func() error {
			channelMsgs, err := c.collectMsgStats(gctx, channel)
			if err != nil {
				return err
			}
			mu.Lock()
			msgs = append(msgs, channelMsgs...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	g, gctx = errgroup.WithContext(ctx)
	for i, channel := range channels {
		g.Go(func() error {
			stats, err := c.collectChannelStats(gctx, channel)
			if err != nil {
				return err
			}
			chans[i] = stats
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return msgs, chans, nil
}

// collectMsgStats streams the channel history and then resolves the
// discussion replies count of every message concurrently.
func (c *Collector) collectMsgStats(ctx context.Context, channel string) ([]Msg, error) {
	iter := c.scanner.GetChatHistory(ctx, channel, account.HistoryOptions{MinDate: c.minDate})
	defer iter.Close()

	var msgs []Msg
	ids := make([]int, 0, 64)
	for iter.Next(ctx) {
		m := iter.Message()
		msgs = append(msgs, newMsg(channel, m))
		ids = append(ids, m.ID)
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to scan history of %s", channel)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		g.Go(func() error {
			replies, err := c.scanner.GetDiscussionRepliesCount(gctx, channel, id)
			if err != nil {
				return errors.Wrapf(err, "failed to count replies of %s/%d", channel, id)
			}
			msgs[i].Replies = replies
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	c.log.Debug("scanned channel", "channel", channel, "msgs", len(msgs))
	return msgs, nil
}

func (c *Collector) collectChannelStats(ctx context.Context, channel string) (Channel, error) {
	count, err := c.scanner.GetChatMembersCount(ctx, channel)
	if err != nil {
		return Channel{}, errors.Wrapf(err, "failed to count members of %s", channel)
	}
	return Channel{Username: channel, Subscribers: count}, nil
}

func newMsg(channel string, m telegram.Message) Msg {
	return Msg{
		Username: channel,
		Link:     MessageLink(channel, m.ID),
		Reach:    m.Views,
		Likes:    m.Reactions,
		Forwards: m.Forwards,
		Datetime: m.Date,
		Text:     Shorten(m.Text, shortTextLen),
		FullText: m.Text,
	}
}

// MessageLink builds the public link of a channel message.
func MessageLink(channel string, msgID int) string {
	return fmt.Sprintf("https://t.me/%s/%d", strings.TrimPrefix(channel, "@"), msgID)
}

// Shorten truncates text to maxLen runes, appending an ellipsis when it cut
// something off.
func Shorten(text string, maxLen int) string {
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	return string(runes[:maxLen]) + "..."
}

// MergeChannelStats joins the channel list with the mean reach of their
// messages. Channels with no messages get reach 0. The result preserves the
// channel order.
func MergeChannelStats(channels []Channel, msgs []Msg) []ChannelStats {
	sums := make(map[string]int)
	counts := make(map[string]int)
	for _, m := range msgs {
		sums[m.Username] += m.Reach
		counts[m.Username]++
	}

	out := make([]ChannelStats, 0, len(channels))
	for _, ch := range channels {
		reach := 0
		if n := counts[ch.Username]; n > 0 {
			reach = sums[ch.Username] / n
		}
		out = append(out, ChannelStats{
			Username:    ch.Username,
			Subscribers: ch.Subscribers,
			Reach:       reach,
		})
	}
	return out
}

// SortMsgsNewestFirst orders messages newest first, the order the stats
// store serves them in.
func SortMsgsNewestFirst(msgs []Msg) {
	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].Datetime.After(msgs[j].Datetime)
	})
}
