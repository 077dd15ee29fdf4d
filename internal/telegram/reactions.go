package telegram

import (
	"sort"
	"strings"

	"moneyman/internal/model"
)

const reactionTallySize = 4096

type reactionKey struct {
	chatID    int64
	messageID int
}

// applyReactionDelta updates the tally of a message from one user's change
// and returns the resulting counts. Per-user updates carry no totals, so the
// tally only reflects changes seen since startup.
func (g *Gateway) applyReactionDelta(chatID int64, messageID int, removed, added []reactionType) map[string]int {
	key := reactionKey{chatID: chatID, messageID: messageID}
	counts, _ := g.reactions.Get(key)
	next := make(map[string]int, len(counts)+len(added))
	for k, v := range counts {
		next[k] = v
	}
	for _, r := range removed {
		if k := reactionName(r); next[k] > 0 {
			next[k]--
		}
	}
	for _, r := range added {
		next[reactionName(r)]++
	}
	for k, v := range next {
		if v <= 0 {
			delete(next, k)
		}
	}
	g.reactions.Add(key, next)
	return next
}

// setReactionCounts replaces the tally with the totals of an anonymous
// reaction update.
func (g *Gateway) setReactionCounts(chatID int64, messageID int, reactions []reactionCount) map[string]int {
	next := make(map[string]int, len(reactions))
	for _, r := range reactions {
		if r.TotalCount > 0 {
			next[reactionName(r.Type)] = r.TotalCount
		}
	}
	g.reactions.Add(reactionKey{chatID: chatID, messageID: messageID}, next)
	return next
}

// Custom emoji are keyed by ID with a prefix so they never match a flag.
func reactionName(r reactionType) string {
	if r.Type == "emoji" {
		return r.Emoji
	}
	return customPrefix + r.Type + ":" + r.CustomEmojiID
}

const customPrefix = "custom:"

func toReactions(counts map[string]int) []model.Reaction {
	out := make([]model.Reaction, 0, len(counts))
	for name, n := range counts {
		out = append(out, model.Reaction{Emoji: name, Count: n, Custom: strings.HasPrefix(name, customPrefix)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Emoji < out[j].Emoji })
	return out
}
