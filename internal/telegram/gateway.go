// Package telegram connects the bot to Telegram through the Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	lru "github.com/hashicorp/golang-lru/v2"

	"moneyman/internal/command"
	"moneyman/internal/model"
)

// Transport is the metrics label and log name of this gateway.
const Transport = "telegram"

const commandPrefix = "/"

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
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

// Gateway is the Telegram chat transport. Telegram reports neither message
// deletions nor message contents by ID, so those events and lookups are
// unavailable here.
type Gateway struct {
	api      telegramAPI
	selfID   string
	sink     Sink
	commands Commands
	metrics  Metrics
	log      *slog.Logger

	reactions *lru.Cache[reactionKey, map[string]int]
	pollWait  time.Duration
}

// New creates a Gateway with the given bot token.
func New(token string, sink Sink, commands Commands, metrics Metrics, log *slog.Logger) (*Gateway, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return newGateway(api, strconv.FormatInt(api.Self.ID, 10), sink, commands, metrics, log), nil
}

func newGateway(api telegramAPI, selfID string, sink Sink, commands Commands, metrics Metrics, log *slog.Logger) *Gateway {
	reactions, _ := lru.New[reactionKey, map[string]int](reactionTallySize)
	return &Gateway{
		api:       api,
		selfID:    selfID,
		sink:      sink,
		commands:  commands,
		metrics:   metrics,
		log:       log,
		reactions: reactions,
		pollWait:  3 * time.Second,
	}
}

// SetSink sets the event receiver. It must be called before Run.
func (g *Gateway) SetSink(sink Sink) {
	g.sink = sink
}

// SelfID returns the bot's user ID.
func (g *Gateway) SelfID() string {
	return g.selfID
}

// SendReply posts text as a reply to the source message.
func (g *Gateway) SendReply(_ context.Context, channelID, sourceMessageID, text string) (string, error) {
	chatID, msgID, err := parseIDs(channelID, sourceMessageID)
	if err != nil {
		return "", err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = msgID
	msg.AllowSendingWithoutReply = true
	msg.DisableWebPagePreview = true

	sent, err := g.api.Send(msg)
	if err != nil {
		return "", fmt.Errorf("send reply: %w", mapError(err))
	}
	return strconv.Itoa(sent.MessageID), nil
}

// EditMessage replaces the text of one of the bot's messages.
func (g *Gateway) EditMessage(_ context.Context, channelID, messageID, text string) error {
	chatID, msgID, err := parseIDs(channelID, messageID)
	if err != nil {
		return err
	}
	edit := tgbotapi.NewEditMessageText(chatID, msgID, text)
	edit.DisableWebPagePreview = true

	if _, err := g.api.Send(edit); err != nil {
		if isNotModified(err) {
			return nil
		}
		return fmt.Errorf("edit message: %w", mapError(err))
	}
	return nil
}

// DeleteMessage deletes one of the bot's messages.
func (g *Gateway) DeleteMessage(_ context.Context, channelID, messageID string) error {
	chatID, msgID, err := parseIDs(channelID, messageID)
	if err != nil {
		return err
	}
	if _, err := g.api.Request(tgbotapi.NewDeleteMessage(chatID, msgID)); err != nil {
		return fmt.Errorf("delete message: %w", mapError(err))
	}
	return nil
}

// FetchMessage is not available in the Bot API.
func (g *Gateway) FetchMessage(context.Context, string, string) (*model.Message, error) {
	return nil, model.ErrNotSupported
}

// SearchHistoryAfter is not available in the Bot API.
func (g *Gateway) SearchHistoryAfter(context.Context, string, string, int) ([]model.Message, error) {
	return nil, model.ErrNotSupported
}

func parseIDs(channelID, messageID string) (int64, int, error) {
	chatID, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid chat ID %q", channelID)
	}
	msgID, err := strconv.Atoi(messageID)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid message ID %q", messageID)
	}
	return chatID, msgID, nil
}

// mapError turns Bot API "not found" failures into model.ErrNotFound.
func mapError(err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && strings.Contains(apiErr.Message, "not found") {
		return fmt.Errorf("%w: %s", model.ErrNotFound, apiErr.Message)
	}
	return err
}

func isNotModified(err error) bool {
	var apiErr *tgbotapi.Error
	return errors.As(err, &apiErr) && strings.Contains(apiErr.Message, "message is not modified")
}

func toModel(m *tgbotapi.Message) model.Message {
	msg := model.Message{
		ID:        strconv.Itoa(m.MessageID),
		Content:   m.Text,
		CreatedAt: time.Unix(int64(m.Date), 0),
	}
	if msg.Content == "" {
		msg.Content = m.Caption
	}
	if m.Chat != nil {
		msg.ChannelID = strconv.FormatInt(m.Chat.ID, 10)
	}
	if m.From != nil {
		msg.AuthorID = strconv.FormatInt(m.From.ID, 10)
		msg.AuthorIsBot = m.From.IsBot
	}
	if m.ReplyToMessage != nil {
		msg.ReferenceID = strconv.Itoa(m.ReplyToMessage.MessageID)
	}
	return msg
}
