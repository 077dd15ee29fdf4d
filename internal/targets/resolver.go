// Package targets decides which currencies a reply converts into.
package targets

import (
	"context"
	"log/slog"
	"strings"

	"github.com/samber/lo"

	"moneyman/internal/model"
)

// Store looks up per-chat target overrides.
type Store interface {
	GetChatTargets(ctx context.Context, chatID string) (*model.ChatTargets, error)
}

// Resolver combines configured, per-chat and reaction-derived targets.
type Resolver struct {
	selected []string
	flags    map[string]string
	store    Store
	log      *slog.Logger
}

// NewResolver creates a Resolver. store may be nil when per-chat overrides
// are not available.
func NewResolver(selected []string, flags map[string]string, store Store, log *slog.Logger) *Resolver {
	return &Resolver{
		selected: lo.Uniq(selected),
		flags:    flags,
		store:    store,
		log:      log,
	}
}

// Static returns the chat's target list: its override when one is stored,
// otherwise the configured selection.
func (r *Resolver) Static(ctx context.Context, chatID string) []string {
	if r.store != nil {
		override, err := r.store.GetChatTargets(ctx, chatID)
		if err != nil {
			r.log.Warn("load chat targets", "chat_id", chatID, "error", err)
		} else if override != nil && len(override.Currencies) > 0 {
			return lo.Uniq(override.Currencies)
		}
	}
	return append([]string(nil), r.selected...)
}

// FromReactions maps reactions with a positive count to currencies through
// the flag table. Custom emoji are ignored.
func (r *Resolver) FromReactions(reactions []model.Reaction) []string {
	var out []string
	for _, re := range reactions {
		if re.Custom || re.Count <= 0 {
			continue
		}
		if code, ok := r.flag(re.Emoji); ok {
			out = append(out, code)
		}
	}
	return lo.Uniq(out)
}

// IsFlag reports whether emoji maps to a currency.
func (r *Resolver) IsFlag(emoji string) bool {
	_, ok := r.flag(emoji)
	return ok
}

func (r *Resolver) flag(emoji string) (string, bool) {
	if code, ok := r.flags[emoji]; ok {
		return code, true
	}
	// Some clients send flags with a trailing variation selector.
	code, ok := r.flags[strings.TrimSuffix(emoji, "\ufe0f")]
	return code, ok
}

// Merge appends extra targets to base, keeping the first occurrence of each.
func Merge(base []string, extra []string) []string {
	return lo.Uniq(append(append([]string(nil), base...), extra...))
}
