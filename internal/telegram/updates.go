package telegram

import (
	"context"
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	json "github.com/goccy/go-json"

	"moneyman/internal/command"
	"moneyman/internal/model"
)

const pollTimeout = 60

var allowedUpdates = []string{"message", "edited_message", "message_reaction", "message_reaction_count"}

// update extends tgbotapi.Update with the reaction updates the library
// does not model.
type update struct {
	tgbotapi.Update
	MessageReaction      *messageReactionUpdated      `json:"message_reaction,omitempty"`
	MessageReactionCount *messageReactionCountUpdated `json:"message_reaction_count,omitempty"`
}

type reactionType struct {
	Type          string `json:"type"`
	Emoji         string `json:"emoji,omitempty"`
	CustomEmojiID string `json:"custom_emoji_id,omitempty"`
}

type messageReactionUpdated struct {
	Chat        tgbotapi.Chat  `json:"chat"`
	MessageID   int            `json:"message_id"`
	Date        int            `json:"date"`
	OldReaction []reactionType `json:"old_reaction"`
	NewReaction []reactionType `json:"new_reaction"`
}

type reactionCount struct {
	Type       reactionType `json:"type"`
	TotalCount int          `json:"total_count"`
}

type messageReactionCountUpdated struct {
	Chat      tgbotapi.Chat   `json:"chat"`
	MessageID int             `json:"message_id"`
	Date      int             `json:"date"`
	Reactions []reactionCount `json:"reactions"`
}

// Run long-polls for updates until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) {
	offset := 0
	for ctx.Err() == nil {
		updates, err := g.getUpdates(offset)
		if err != nil {
			g.log.Error("get updates", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(g.pollWait):
			}
			continue
		}
		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			g.handleUpdate(ctx, u)
		}
	}
}

func (g *Gateway) getUpdates(offset int) ([]update, error) {
	params := tgbotapi.Params{}
	params.AddNonZero("offset", offset)
	params.AddNonZero("timeout", pollTimeout)
	if err := params.AddInterface("allowed_updates", allowedUpdates); err != nil {
		return nil, fmt.Errorf("encode allowed updates: %w", err)
	}

	resp, err := g.api.MakeRequest("getUpdates", params)
	if err != nil {
		return nil, err
	}
	var updates []update
	if err := json.Unmarshal(resp.Result, &updates); err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}
	return updates, nil
}

func (g *Gateway) handleUpdate(ctx context.Context, u update) {
	switch {
	case u.Message != nil:
		g.handleMessage(ctx, u.Message, model.EventCreated)
	case u.EditedMessage != nil:
		g.handleMessage(ctx, u.EditedMessage, model.EventEdited)
	case u.MessageReaction != nil:
		r := u.MessageReaction
		counts := g.applyReactionDelta(r.Chat.ID, r.MessageID, r.OldReaction, r.NewReaction)
		g.submitReaction(ctx, r.Chat.ID, r.MessageID, counts)
	case u.MessageReactionCount != nil:
		r := u.MessageReactionCount
		counts := g.setReactionCounts(r.Chat.ID, r.MessageID, r.Reactions)
		g.submitReaction(ctx, r.Chat.ID, r.MessageID, counts)
	}
}

func (g *Gateway) handleMessage(ctx context.Context, m *tgbotapi.Message, kind model.EventKind) {
	msg := toModel(m)
	if req, ok := command.Parse(msg.Content, commandPrefix); ok {
		if kind == model.EventCreated && g.commands != nil {
			req.ChatID, req.UserID = msg.ChannelID, msg.AuthorID
			g.answer(m, g.commands.Handle(ctx, req, commandPrefix))
		}
		return
	}
	g.submit(ctx, model.Event{Kind: kind, Message: msg})
}

func (g *Gateway) submitReaction(ctx context.Context, chatID int64, messageID int, counts map[string]int) {
	msg := model.Message{
		ID:        strconv.Itoa(messageID),
		ChannelID: strconv.FormatInt(chatID, 10),
		Reactions: toReactions(counts),
	}
	g.submit(ctx, model.Event{Kind: model.EventReactionChanged, Message: msg})
}

func (g *Gateway) submit(ctx context.Context, ev model.Event) {
	if g.metrics != nil {
		g.metrics.IncEvent(Transport, ev.Kind.String())
	}
	if err := g.sink.Submit(ctx, ev); err != nil {
		g.log.Warn("submit event", "kind", ev.Kind.String(), "chat_id", ev.Message.ChannelID, "message_id", ev.Message.ID, "error", err)
	}
}

func (g *Gateway) answer(m *tgbotapi.Message, text string) {
	if text == "" || m.Chat == nil {
		return
	}
	msg := tgbotapi.NewMessage(m.Chat.ID, text)
	msg.ReplyToMessageID = m.MessageID
	msg.DisableWebPagePreview = true
	if _, err := g.api.Send(msg); err != nil {
		g.log.Error("send message", "chat_id", m.Chat.ID, "error", err)
	}
}
