// Package discord connects the bot to Discord through the gateway and REST
// APIs.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/bwmarrin/discordgo"

	"moneyman/internal/command"
	"moneyman/internal/model"
)

// Transport is the metrics label and log name of this gateway.
const Transport = "discord"

// maxHistoryLimit is the largest page Discord returns for channel history.
const maxHistoryLimit = 100

// stateMessageCount is how many recent messages per channel the session
// state keeps, so reactions on other users' messages skip a REST lookup.
const stateMessageCount = 200

type session interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
}

// messageState is the session's in-memory message cache.
type messageState interface {
	Message(channelID, messageID string) (*discordgo.Message, error)
}

// Sink receives chat events.
type Sink interface {
	Submit(ctx context.Context, ev model.Event) error
}

// Commands answers chat commands.
type Commands interface {
	Handle(ctx context.Context, req command.Request, prefix string) string
}

// Metrics counts received events.
type Metrics interface {
	IncEvent(transport, kind string)
}

// Gateway is the Discord chat transport.
type Gateway struct {
	dg       *discordgo.Session
	api      session
	state    messageState
	prefix   string
	sink     Sink
	commands Commands
	metrics  Metrics
	log      *slog.Logger
	isFlag   func(emoji string) bool

	mu     sync.RWMutex
	selfID string
}

// New creates a Gateway for a bot token. prefix starts command messages.
func New(token, prefix string, sink Sink, commands Commands, metrics Metrics, log *slog.Logger) (*Gateway, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsDirectMessageReactions |
		discordgo.IntentsMessageContent
	// Events for one message must reach the dispatcher in gateway order.
	dg.SyncEvents = true
	dg.State.MaxMessageCount = stateMessageCount

	g := newGateway(dg, prefix, sink, commands, metrics, log)
	g.dg = dg
	g.state = dg.State
	return g, nil
}

func newGateway(api session, prefix string, sink Sink, commands Commands, metrics Metrics, log *slog.Logger) *Gateway {
	return &Gateway{
		api:      api,
		prefix:   prefix,
		sink:     sink,
		commands: commands,
		metrics:  metrics,
		log:      log,
	}
}

// SetSink sets the event receiver. It must be called before Run.
func (g *Gateway) SetSink(sink Sink) {
	g.sink = sink
}

// SetReactionFilter limits reaction handling to emoji for which isFlag
// returns true. Removing every reaction is always handled. It must be called
// before Run.
func (g *Gateway) SetReactionFilter(isFlag func(emoji string) bool) {
	g.isFlag = isFlag
}

// Run connects to the Discord gateway and delivers events until ctx is
// cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	if g.dg == nil {
		return errors.New("discord session not configured")
	}
	g.dg.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		g.setSelfID(r.User.ID)
		g.log.Info("discord connected", "user", r.User.Username, "guilds", len(r.Guilds))
	})
	g.dg.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) { g.onMessageCreate(ctx, m) })
	g.dg.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageUpdate) { g.onMessageUpdate(ctx, m) })
	g.dg.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageDelete) { g.onMessageDelete(ctx, m) })
	g.dg.AddHandler(func(_ *discordgo.Session, r *discordgo.MessageReactionAdd) { g.onReaction(ctx, r.MessageReaction) })
	g.dg.AddHandler(func(_ *discordgo.Session, r *discordgo.MessageReactionRemove) { g.onReaction(ctx, r.MessageReaction) })
	g.dg.AddHandler(func(_ *discordgo.Session, r *discordgo.MessageReactionRemoveAll) { g.onReaction(ctx, r.MessageReaction) })
	// discordgo has no typed event for clearing one emoji.
	g.dg.AddHandler(func(_ *discordgo.Session, e *discordgo.Event) { g.onRawEvent(ctx, e) })

	if err := g.dg.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	<-ctx.Done()
	if err := g.dg.Close(); err != nil {
		return fmt.Errorf("close discord session: %w", err)
	}
	return nil
}

func (g *Gateway) setSelfID(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.selfID = id
}

// SelfID returns the bot's user ID, or "" before the session is ready.
func (g *Gateway) SelfID() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.selfID
}

// SendReply posts text as a reply to the source message without pinging
// anyone.
func (g *Gateway) SendReply(ctx context.Context, channelID, sourceMessageID, text string) (string, error) {
	sent, err := g.api.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content:         text,
		Reference:       &discordgo.MessageReference{MessageID: sourceMessageID, ChannelID: channelID},
		AllowedMentions: &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("send reply: %w", mapError(err))
	}
	return sent.ID, nil
}

// EditMessage replaces the content of one of the bot's messages.
func (g *Gateway) EditMessage(ctx context.Context, channelID, messageID, text string) error {
	edit := discordgo.NewMessageEdit(channelID, messageID).SetContent(text)
	if _, err := g.api.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("edit message: %w", mapError(err))
	}
	return nil
}

// DeleteMessage deletes a message.
func (g *Gateway) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	if err := g.api.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("delete message: %w", mapError(err))
	}
	return nil
}

// FetchMessage loads a message by ID.
func (g *Gateway) FetchMessage(ctx context.Context, channelID, messageID string) (*model.Message, error) {
	m, err := g.api.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch message: %w", mapError(err))
	}
	msg := toModel(m)
	return &msg, nil
}

// SearchHistoryAfter lists up to limit messages posted after messageID.
func (g *Gateway) SearchHistoryAfter(ctx context.Context, channelID, messageID string, limit int) ([]model.Message, error) {
	if limit <= 0 || limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	msgs, err := g.api.ChannelMessages(channelID, limit, "", messageID, "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("search history: %w", mapError(err))
	}
	out := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toModel(m))
	}
	return out, nil
}

// mapError turns REST 404 responses into model.ErrNotFound.
func mapError(err error) error {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %v", model.ErrNotFound, err)
	}
	return err
}
