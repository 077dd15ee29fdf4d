// Package cache keeps recently seen chat messages in memory.
package cache

import (
	"errors"
	"log/slog"
	"time"

	"github.com/coocood/freecache"
	json "github.com/goccy/go-json"

	"moneyman/internal/model"
)

// minSizeMB is the smallest useful freecache size.
const minSizeMB = 1

// Messages is a size-bounded, TTL-bounded message cache keyed by channel and
// message ID.
type Messages struct {
	cache *freecache.Cache
	ttl   int
	log   *slog.Logger
}

// NewMessages creates a cache of roughly sizeMB megabytes whose entries
// expire after ttl.
func NewMessages(sizeMB int, ttl time.Duration, log *slog.Logger) *Messages {
	sizeMB = max(sizeMB, minSizeMB)
	return &Messages{
		cache: freecache.NewCache(sizeMB * 1024 * 1024),
		ttl:   max(int(ttl.Seconds()), 1),
		log:   log,
	}
}

// Put stores msg, replacing any previous version.
func (c *Messages) Put(msg model.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Warn("encode cached message", "message_id", msg.ID, "error", err)
		return
	}
	if err := c.cache.Set(key(msg.ChannelID, msg.ID), data, c.ttl); err != nil {
		// freecache rejects entries larger than 1/1024 of its size.
		c.log.Debug("cache message", "message_id", msg.ID, "error", err)
	}
}

// Get returns the cached message, if any.
func (c *Messages) Get(channelID, messageID string) (*model.Message, bool) {
	data, err := c.cache.Get(key(channelID, messageID))
	if err != nil {
		if !errors.Is(err, freecache.ErrNotFound) {
			c.log.Warn("read cached message", "message_id", messageID, "error", err)
		}
		return nil, false
	}
	var msg model.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.log.Warn("decode cached message", "message_id", messageID, "error", err)
		return nil, false
	}
	return &msg, true
}

// Delete drops a message from the cache.
func (c *Messages) Delete(channelID, messageID string) {
	c.cache.Del(key(channelID, messageID))
}

// Len reports the number of live entries.
func (c *Messages) Len() int64 {
	return c.cache.EntryCount()
}

func key(channelID, messageID string) []byte {
	return []byte(channelID + ":" + messageID)
}
