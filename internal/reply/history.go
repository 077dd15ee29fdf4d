// Package reply keeps the bot's replies in sync with the messages they answer.
package reply

import (
	"fmt"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"moneyman/internal/model"
)

// DefaultHistorySize is the number of correlations kept in memory.
const DefaultHistorySize = 256

// History is a bounded, insertion-ordered table of reply correlations keyed
// by source message. When full, the oldest correlation is dropped; the reply
// itself stays in the chat.
type History struct {
	mu      sync.Mutex
	size    int
	records *simplelru.LRU[string, *model.ReplyRecord]
	onEvict func(model.ReplyRecord)
}

// NewHistory creates a History holding at most size records. onEvict, if not
// nil, is called for every record dropped for capacity.
func NewHistory(size int, onEvict func(model.ReplyRecord)) (*History, error) {
	records, err := simplelru.NewLRU[string, *model.ReplyRecord](size, nil)
	if err != nil {
		return nil, fmt.Errorf("create history: %w", err)
	}
	return &History{size: size, records: records, onEvict: onEvict}, nil
}

// Add records a correlation, replacing any existing one for the same source.
func (h *History) Add(rec model.ReplyRecord) {
	h.mu.Lock()
	k := sourceKey(rec.SourceChannelID, rec.SourceMessageID)
	h.records.Remove(k)

	var evicted *model.ReplyRecord
	if h.records.Len() >= h.size {
		if _, oldest, ok := h.records.GetOldest(); ok {
			evicted = oldest
		}
	}
	h.records.Add(k, &rec)
	h.mu.Unlock()

	if evicted != nil && h.onEvict != nil {
		h.onEvict(*evicted)
	}
}

// BySource returns the correlation for a source message.
func (h *History) BySource(channelID, messageID string) (model.ReplyRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, ok := h.records.Peek(sourceKey(channelID, messageID))
	if !ok {
		return model.ReplyRecord{}, false
	}
	return *rec, true
}

// ByReply returns the correlation whose reply is the given message.
func (h *History) ByReply(channelID, replyID string) (model.ReplyRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, rec := range h.records.Values() {
		if rec.SourceChannelID == channelID && rec.ReplyMessageID == replyID {
			return *rec, true
		}
	}
	return model.ReplyRecord{}, false
}

// UpdateContent changes the stored reply text without changing the record's
// position in the eviction order.
func (h *History) UpdateContent(channelID, messageID, content string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, ok := h.records.Peek(sourceKey(channelID, messageID))
	if !ok {
		return false
	}
	rec.ReplyContent = content
	return true
}

// Remove drops the correlation for a source message.
func (h *History) Remove(channelID, messageID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.records.Remove(sourceKey(channelID, messageID))
}

// Len returns the number of stored correlations.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.records.Len()
}

func sourceKey(channelID, messageID string) string {
	return channelID + ":" + messageID
}
