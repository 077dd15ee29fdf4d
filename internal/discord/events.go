package discord

import (
	"context"
	"errors"

	"github.com/bwmarrin/discordgo"
	json "github.com/goccy/go-json"

	"moneyman/internal/command"
	"moneyman/internal/model"
)

func (g *Gateway) onMessageCreate(ctx context.Context, m *discordgo.MessageCreate) {
	if m.Message == nil || m.Author == nil {
		return
	}
	if req, ok := command.Parse(m.Content, g.prefix); ok {
		if !m.Author.Bot && g.commands != nil {
			req.ChatID, req.UserID = m.ChannelID, m.Author.ID
			g.answer(ctx, m.Message, g.commands.Handle(ctx, req, g.prefix))
		}
		return
	}
	g.submit(ctx, model.Event{Kind: model.EventCreated, Message: toModel(m.Message)})
}

func (g *Gateway) onMessageUpdate(ctx context.Context, m *discordgo.MessageUpdate) {
	// Embed-only updates arrive without an author.
	if m.Message == nil || m.Author == nil {
		return
	}
	if _, ok := command.Parse(m.Content, g.prefix); ok {
		return
	}
	ev := model.Event{Kind: model.EventEdited, Message: toModel(m.Message)}
	if m.BeforeUpdate != nil {
		before := toModel(m.BeforeUpdate)
		ev.Before = &before
	}
	g.submit(ctx, ev)
}

func (g *Gateway) onMessageDelete(ctx context.Context, m *discordgo.MessageDelete) {
	if m.Message == nil {
		return
	}
	msg := model.Message{ID: m.ID, ChannelID: m.ChannelID}
	if m.BeforeDelete != nil && m.BeforeDelete.Author != nil {
		msg = toModel(m.BeforeDelete)
	}
	g.submit(ctx, model.Event{Kind: model.EventDeleted, Message: msg})
}

// eventReactionRemoveEmoji is sent when every reaction with one emoji is
// removed from a message.
const eventReactionRemoveEmoji = "MESSAGE_REACTION_REMOVE_EMOJI"

type reactionRemoveEmoji struct {
	ChannelID string          `json:"channel_id"`
	GuildID   string          `json:"guild_id"`
	MessageID string          `json:"message_id"`
	Emoji     discordgo.Emoji `json:"emoji"`
}

func (g *Gateway) onRawEvent(ctx context.Context, e *discordgo.Event) {
	if e == nil || e.Type != eventReactionRemoveEmoji {
		return
	}
	var p reactionRemoveEmoji
	if err := json.Unmarshal(e.RawData, &p); err != nil {
		g.log.Warn("decode reaction event", "type", e.Type, "error", err)
		return
	}
	g.onReaction(ctx, &discordgo.MessageReaction{
		ChannelID: p.ChannelID,
		GuildID:   p.GuildID,
		MessageID: p.MessageID,
		Emoji:     p.Emoji,
	})
}

// onReaction loads the reacted-to message for its current reaction set.
// Only the bot's own messages are passed on.
func (g *Gateway) onReaction(ctx context.Context, r *discordgo.MessageReaction) {
	if r == nil || !g.relevantEmoji(r.Emoji) {
		return
	}
	self := g.SelfID()
	if self == "" || r.UserID == self {
		return
	}
	if g.state != nil {
		if cached, err := g.state.Message(r.ChannelID, r.MessageID); err == nil && cached.Author != nil && cached.Author.ID != self {
			return
		}
	}
	msg, err := g.FetchMessage(ctx, r.ChannelID, r.MessageID)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			g.log.Warn("load reacted message", "channel_id", r.ChannelID, "message_id", r.MessageID, "error", err)
		}
		return
	}
	if msg.AuthorID != self {
		return
	}
	g.submit(ctx, model.Event{Kind: model.EventReactionChanged, Message: *msg})
}

// relevantEmoji reports whether a reaction change can alter a reply's
// targets. An empty emoji means all reactions were removed.
func (g *Gateway) relevantEmoji(e discordgo.Emoji) bool {
	if e.Name == "" && e.ID == "" {
		return true
	}
	if e.ID != "" {
		return false
	}
	return g.isFlag == nil || g.isFlag(e.Name)
}

func (g *Gateway) submit(ctx context.Context, ev model.Event) {
	if g.metrics != nil {
		g.metrics.IncEvent(Transport, ev.Kind.String())
	}
	if err := g.sink.Submit(ctx, ev); err != nil {
		g.log.Warn("submit event", "kind", ev.Kind.String(), "channel_id", ev.Message.ChannelID, "message_id", ev.Message.ID, "error", err)
	}
}

func (g *Gateway) answer(ctx context.Context, m *discordgo.Message, text string) {
	if text == "" {
		return
	}
	if _, err := g.SendReply(ctx, m.ChannelID, m.ID, text); err != nil {
		g.log.Error("send message", "channel_id", m.ChannelID, "error", err)
	}
}

func toModel(m *discordgo.Message) model.Message {
	msg := model.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		Content:   m.Content,
		CreatedAt: m.Timestamp,
	}
	if m.Author != nil {
		msg.AuthorID = m.Author.ID
		msg.AuthorIsBot = m.Author.Bot
	}
	if m.MessageReference != nil {
		msg.ReferenceID = m.MessageReference.MessageID
	}
	for _, r := range m.Reactions {
		if r == nil || r.Emoji == nil {
			continue
		}
		msg.Reactions = append(msg.Reactions, model.Reaction{
			Emoji:  r.Emoji.Name,
			Count:  r.Count,
			Custom: r.Emoji.ID != "",
		})
	}
	return msg
}
