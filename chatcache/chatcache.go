// Package chatcache persists resolved chat metadata between sessions so that
// repeated scans do not spend account quota on the same lookups.
package chatcache

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"

	"github.com/hrygo/tgscan/blob"
	"github.com/hrygo/tgscan/telegram"
	"github.com/hrygo/tgscan/tgurl"
)

// Key of the single cache blob in the blob store.
const cacheKey = ".chat_cache"

// Item is one cached chat. MembersCount is nil until someone asked for it.
type Item struct {
	Chat         *telegram.Chat `json:"chat"`
	MembersCount *int           `json:"members_count,omitempty"`
}

// Cache is a persistent chat_id -> Item mapping. Every key is normalized with
// tgurl.EnsureAtSingle on the way in. Safe for concurrent use.
type Cache struct {
	blobs blob.Store

	mu    sync.RWMutex
	items map[string]Item
}

func New(blobs blob.Store) *Cache {
	return &Cache{
		blobs: blobs,
		items: make(map[string]Item),
	}
}

// Get returns the cached item for key.
func (c *Cache) Get(key string) (Item, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.items[tgurl.EnsureAtSingle(key)]
	return item, ok
}

// Set stores the chat under key, keeping any previously known members count.
func (c *Cache) Set(key string, chat *telegram.Chat) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := tgurl.EnsureAtSingle(key)
	item := c.items[k]
	item.Chat = chat
	c.items[k] = item
}

// SetMembersCount records the members count for key.
func (c *Cache) SetMembersCount(key string, count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := tgurl.EnsureAtSingle(key)
	item := c.items[k]
	item.MembersCount = &count
	c.items[k] = item
}

// Contains reports whether a chat is cached under key.
func (c *Cache) Contains(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.items[tgurl.EnsureAtSingle(key)]
	return ok
}

// Len returns the number of cached chats.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Load reads the cache blob. An absent blob yields an empty cache. Keys are
// re-normalized on load so that blobs written by older versions stay usable.
func (c *Cache) Load(ctx context.Context) error {
	data, err := c.blobs.Read(ctx, cacheKey)
	if errors.Is(err, blob.ErrNotExist) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "failed to load chat cache")
	}

	var raw map[string]Item
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "failed to decode chat cache")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]Item, len(raw))
	for key, item := range raw {
		c.items[tgurl.EnsureAtSingle(key)] = item
	}
	return nil
}

// Save overwrites the cache blob with the current state.
func (c *Cache) Save(ctx context.Context) error {
	c.mu.RLock()
	data, err := json.Marshal(c.items)
	c.mu.RUnlock()
	if err != nil {
		return errors.Wrap(err, "failed to encode chat cache")
	}
	return errors.Wrap(c.blobs.Write(ctx, cacheKey, data), "failed to save chat cache")
}
