package stats

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/tgscan/account"
	"github.com/hrygo/tgscan/telegram"
)

// sliceIter serves a fixed message slice through the MessageIter interface.
type sliceIter struct {
	msgs []telegram.Message
	cur  telegram.Message
	err  error
}

func (it *sliceIter) Next(ctx context.Context) bool {
	if it.err != nil || len(it.msgs) == 0 {
		return false
	}
	it.cur = it.msgs[0]
	it.msgs = it.msgs[1:]
	return true
}

func (it *sliceIter) Message() telegram.Message { return it.cur }
func (it *sliceIter) Err() error                { return it.err }
func (it *sliceIter) Close()                    {}

// fakeScanner implements Scanner from canned data.
type fakeScanner struct {
	mu       sync.Mutex
	history  map[string][]telegram.Message
	replies  map[string]map[int]int
	members  map[string]int
	sessions int
}

func (s *fakeScanner) Session(ctx context.Context, pbar account.ProgressReporter, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	s.sessions++
	s.mu.Unlock()
	return fn(ctx)
}

func (s *fakeScanner) GetChatHistory(ctx context.Context, chatID string, opts account.HistoryOptions) account.MessageIter {
	msgs := s.history[chatID]
	var kept []telegram.Message
	for _, m := range msgs {
		if !opts.MinDate.IsZero() && m.Date.Before(opts.MinDate) {
			break
		}
		kept = append(kept, m)
	}
	return &sliceIter{msgs: kept}
}

func (s *fakeScanner) GetDiscussionRepliesCount(ctx context.Context, chatID string, msgID int) (int, error) {
	return s.replies[chatID][msgID], nil
}

func (s *fakeScanner) GetChatMembersCount(ctx context.Context, chatID string) (int, error) {
	return s.members[chatID], nil
}

// fakeProgress records reporter traffic.
type fakeProgress struct {
	mu         sync.Mutex
	postfix    string
	increments int
}

func (p *fakeProgress) SetPostfix(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.postfix = s
}

func (p *fakeProgress) Postfix() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.postfix
}

func (p *fakeProgress) Increment() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.increments++
}

func testScanner() *fakeScanner {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return &fakeScanner{
		history: map[string][]telegram.Message{
			"@alpha": {
				{ID: 3, Date: base.Add(2 * time.Hour), Text: "newest", Views: 300, Reactions: 30, Forwards: 3},
				{ID: 2, Date: base.Add(time.Hour), Text: "middle", Views: 100, Reactions: 10, Forwards: 1},
				{ID: 1, Date: base, Text: "oldest", Views: 50, Reactions: 5, Forwards: 0},
			},
			"@beta": {},
		},
		replies: map[string]map[int]int{
			"@alpha": {1: 4, 2: 0, 3: 12},
		},
		members: map[string]int{"@alpha": 1000, "@beta": 250},
	}
}

func TestCollectAllSequential(t *testing.T) {
	ctx := context.Background()
	scanner := testScanner()
	collector, err := NewCollector(scanner, CollectorOptions{})
	require.NoError(t, err)

	pbar := &fakeProgress{}
	msgs, chans, err := collector.CollectAll(ctx, []string{"@alpha", "@beta"}, pbar)
	require.NoError(t, err)

	assert.Equal(t, 1, scanner.sessions)
	assert.Equal(t, 2, pbar.increments)

	require.Len(t, msgs, 3)
	byID := map[string]Msg{}
	for _, m := range msgs {
		byID[m.Link] = m
	}
	m3 := byID["https://t.me/alpha/3"]
	assert.Equal(t, "@alpha", m3.Username)
	assert.Equal(t, 300, m3.Reach)
	assert.Equal(t, 30, m3.Likes)
	assert.Equal(t, 12, m3.Replies)
	assert.Equal(t, 3, m3.Forwards)
	assert.Equal(t, "newest", m3.FullText)

	require.Len(t, chans, 2)
	assert.Equal(t, Channel{Username: "@alpha", Subscribers: 1000}, chans[0])
	assert.Equal(t, Channel{Username: "@beta", Subscribers: 250}, chans[1])
}

func TestCollectAllParallel(t *testing.T) {
	ctx := context.Background()
	scanner := testScanner()
	collector, err := NewCollector(scanner, CollectorOptions{})
	require.NoError(t, err)

	msgs, chans, err := collector.CollectAll(ctx, []string{"@alpha", "@beta"}, nil)
	require.NoError(t, err)
	assert.Len(t, msgs, 3)

	// Channel order is preserved even with parallel workers.
	require.Len(t, chans, 2)
	assert.Equal(t, "@alpha", chans[0].Username)
	assert.Equal(t, "@beta", chans[1].Username)
}

func TestCollectorMinDate(t *testing.T) {
	ctx := context.Background()
	scanner := testScanner()
	minDate := time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)
	collector, err := NewCollector(scanner, CollectorOptions{MinDate: minDate})
	require.NoError(t, err)

	msgs, _, err := collector.CollectAll(ctx, []string{"@alpha"}, nil)
	require.NoError(t, err)
	assert.Len(t, msgs, 2) // the oldest message predates minDate
}

func TestCollectorOptionsExclusive(t *testing.T) {
	_, err := NewCollector(testScanner(), CollectorOptions{
		MinDate: time.Now(),
		Depth:   7,
	})
	assert.Error(t, err)
}

func TestMsgPopularity(t *testing.T) {
	m := Msg{Reach: 200, Likes: 10, Replies: 6, Forwards: 4}
	assert.InDelta(t, 0.1, m.Popularity(), 1e-9)

	assert.Zero(t, Msg{Likes: 5}.Popularity())
}

func TestMergeChannelStats(t *testing.T) {
	channels := []Channel{
		{Username: "@alpha", Subscribers: 1000},
		{Username: "@beta", Subscribers: 250},
	}
	msgs := []Msg{
		{Username: "@alpha", Reach: 300},
		{Username: "@alpha", Reach: 100},
	}

	merged := MergeChannelStats(channels, msgs)
	require.Len(t, merged, 2)
	assert.Equal(t, ChannelStats{Username: "@alpha", Subscribers: 1000, Reach: 200}, merged[0])
	// No messages: reach 0, not an error.
	assert.Equal(t, ChannelStats{Username: "@beta", Subscribers: 250, Reach: 0}, merged[1])
}

func TestShorten(t *testing.T) {
	assert.Equal(t, "short", Shorten("short", 10))
	assert.Equal(t, "lon...", Shorten("long text", 3))
	// Rune-aware.
	assert.Equal(t, "привет", Shorten("привет", 6))
}

func TestSortMsgsNewestFirst(t *testing.T) {
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	msgs := []Msg{
		{Link: "a", Datetime: base},
		{Link: "c", Datetime: base.Add(2 * time.Hour)},
		{Link: "b", Datetime: base.Add(time.Hour)},
	}
	SortMsgsNewestFirst(msgs)
	assert.Equal(t, []string{"c", "b", "a"}, []string{msgs[0].Link, msgs[1].Link, msgs[2].Link})
}
