package discord

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moneyman/internal/command"
	"moneyman/internal/model"
)

type mockSession struct {
	sends    []*discordgo.MessageSend
	edits    []*discordgo.MessageEdit
	deletes  []string
	messages map[string]*discordgo.Message
	history  []*discordgo.Message
	fetches  int
	err      error
	lastArgs struct {
		limit   int
		afterID string
	}
}

func (m *mockSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.sends = append(m.sends, data)
	return &discordgo.Message{ID: "r1", ChannelID: channelID}, nil
}

func (m *mockSession) ChannelMessageEditComplex(e *discordgo.MessageEdit, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.edits = append(m.edits, e)
	return &discordgo.Message{ID: e.ID}, nil
}

func (m *mockSession) ChannelMessageDelete(channelID, messageID string, _ ...discordgo.RequestOption) error {
	if m.err != nil {
		return m.err
	}
	m.deletes = append(m.deletes, channelID+"/"+messageID)
	return nil
}

func (m *mockSession) ChannelMessage(_, messageID string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.fetches++
	if m.err != nil {
		return nil, m.err
	}
	msg, ok := m.messages[messageID]
	if !ok {
		return nil, notFound()
	}
	return msg, nil
}

func (m *mockSession) ChannelMessages(_ string, limit int, _, afterID, _ string, _ ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.lastArgs.limit, m.lastArgs.afterID = limit, afterID
	return m.history, nil
}

func notFound() error {
	return &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusNotFound}}
}

type mapState map[string]*discordgo.Message

func (s mapState) Message(_, messageID string) (*discordgo.Message, error) {
	if m, ok := s[messageID]; ok {
		return m, nil
	}
	return nil, discordgo.ErrStateNotFound
}

type recordingSink struct{ events []model.Event }

func (s *recordingSink) Submit(_ context.Context, ev model.Event) error {
	s.events = append(s.events, ev)
	return nil
}

type echoCommands struct{ reqs []command.Request }

func (c *echoCommands) Handle(_ context.Context, req command.Request, prefix string) string {
	c.reqs = append(c.reqs, req)
	return prefix + req.Name + " ok"
}

func newTestGateway(s *mockSession) (*Gateway, *recordingSink, *echoCommands) {
	sink := &recordingSink{}
	cmds := &echoCommands{}
	g := newGateway(s, "!", sink, cmds, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	g.setSelfID("bot")
	return g, sink, cmds
}

var ts = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func userMessage(id, content string) *discordgo.Message {
	return &discordgo.Message{ID: id, ChannelID: "c", Content: content, Timestamp: ts, Author: &discordgo.User{ID: "u1"}}
}

func TestSendReply(t *testing.T) {
	s := &mockSession{}
	g, _, _ := newTestGateway(s)

	id, err := g.SendReply(context.Background(), "c", "m1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "r1", id)
	require.Len(t, s.sends, 1)
	assert.Equal(t, "hello", s.sends[0].Content)
	assert.Equal(t, "m1", s.sends[0].Reference.MessageID)
	assert.Empty(t, s.sends[0].AllowedMentions.Parse)
}

func TestEditAndDelete(t *testing.T) {
	s := &mockSession{}
	g, _, _ := newTestGateway(s)
	ctx := context.Background()

	require.NoError(t, g.EditMessage(ctx, "c", "r1", "new"))
	require.Len(t, s.edits, 1)
	assert.Equal(t, "r1", s.edits[0].ID)
	assert.Equal(t, "c", s.edits[0].Channel)
	require.NotNil(t, s.edits[0].Content)
	assert.Equal(t, "new", *s.edits[0].Content)

	require.NoError(t, g.DeleteMessage(ctx, "c", "r1"))
	assert.Equal(t, []string{"c/r1"}, s.deletes)
}

func TestErrorMapping(t *testing.T) {
	ctx := context.Background()

	s := &mockSession{err: notFound()}
	g, _, _ := newTestGateway(s)
	assert.ErrorIs(t, g.EditMessage(ctx, "c", "r1", "x"), model.ErrNotFound)
	assert.ErrorIs(t, g.DeleteMessage(ctx, "c", "r1"), model.ErrNotFound)
	_, err := g.FetchMessage(ctx, "c", "m1")
	assert.ErrorIs(t, err, model.ErrNotFound)

	s.err = &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusForbidden}}
	err = g.DeleteMessage(ctx, "c", "r1")
	require.Error(t, err)
	assert.False(t, errors.Is(err, model.ErrNotFound))
}

func TestFetchMessage(t *testing.T) {
	reply := &discordgo.Message{
		ID: "r1", ChannelID: "c", Content: "10.00 USD is worth 9.00 EUR.", Timestamp: ts,
		Author:           &discordgo.User{ID: "bot", Bot: true},
		MessageReference: &discordgo.MessageReference{MessageID: "m1"},
		Reactions: []*discordgo.MessageReactions{
			{Count: 2, Emoji: &discordgo.Emoji{Name: "🇯🇵"}},
			{Count: 1, Emoji: &discordgo.Emoji{ID: "123", Name: "pepe"}},
		},
	}
	g, _, _ := newTestGateway(&mockSession{messages: map[string]*discordgo.Message{"r1": reply}})

	got, err := g.FetchMessage(context.Background(), "c", "r1")
	require.NoError(t, err)
	assert.Equal(t, &model.Message{
		ID: "r1", ChannelID: "c", AuthorID: "bot", AuthorIsBot: true,
		Content: "10.00 USD is worth 9.00 EUR.", CreatedAt: ts, ReferenceID: "m1",
		Reactions: []model.Reaction{{Emoji: "🇯🇵", Count: 2}, {Emoji: "pepe", Count: 1, Custom: true}},
	}, got)
}

func TestSearchHistoryAfter(t *testing.T) {
	s := &mockSession{history: []*discordgo.Message{userMessage("m2", "hi"), userMessage("m3", "yo")}}
	g, _, _ := newTestGateway(s)

	got, err := g.SearchHistoryAfter(context.Background(), "c", "m1", 500)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, maxHistoryLimit, s.lastArgs.limit)
	assert.Equal(t, "m1", s.lastArgs.afterID)

	_, err = g.SearchHistoryAfter(context.Background(), "c", "m1", 50)
	require.NoError(t, err)
	assert.Equal(t, 50, s.lastArgs.limit)
}

func TestMessageEvents(t *testing.T) {
	ctx := context.Background()
	s := &mockSession{}
	g, sink, cmds := newTestGateway(s)

	g.onMessageCreate(ctx, &discordgo.MessageCreate{Message: userMessage("m1", "£5 please")})
	g.onMessageCreate(ctx, &discordgo.MessageCreate{Message: userMessage("m2", "!convert 5 gbp")})
	g.onMessageUpdate(ctx, &discordgo.MessageUpdate{Message: &discordgo.Message{ID: "m1", ChannelID: "c"}})
	g.onMessageUpdate(ctx, &discordgo.MessageUpdate{Message: userMessage("m1", "£6 please"), BeforeUpdate: userMessage("m1", "£5 please")})
	g.onMessageDelete(ctx, &discordgo.MessageDelete{Message: &discordgo.Message{ID: "m1", ChannelID: "c"}})

	require.Len(t, sink.events, 3)
	assert.Equal(t, model.EventCreated, sink.events[0].Kind)
	assert.Equal(t, "£5 please", sink.events[0].Message.Content)
	assert.Equal(t, model.EventEdited, sink.events[1].Kind)
	require.NotNil(t, sink.events[1].Before)
	assert.Equal(t, "£5 please", sink.events[1].Before.Content)
	assert.Equal(t, model.Event{Kind: model.EventDeleted, Message: model.Message{ID: "m1", ChannelID: "c"}}, sink.events[2])

	require.Len(t, cmds.reqs, 1)
	assert.Equal(t, command.Request{ChatID: "c", UserID: "u1", Name: "convert", Args: []string{"5", "gbp"}}, cmds.reqs[0])
	require.Len(t, s.sends, 1)
	assert.Equal(t, "!convert ok", s.sends[0].Content)
	assert.Equal(t, "m2", s.sends[0].Reference.MessageID)
}

func TestReactionEvents(t *testing.T) {
	ctx := context.Background()
	reply := &discordgo.Message{
		ID: "r1", ChannelID: "c", Author: &discordgo.User{ID: "bot", Bot: true},
		MessageReference: &discordgo.MessageReference{MessageID: "m1"},
		Reactions:        []*discordgo.MessageReactions{{Count: 1, Emoji: &discordgo.Emoji{Name: "🇯🇵"}}},
	}
	s := &mockSession{messages: map[string]*discordgo.Message{"r1": reply, "m9": userMessage("m9", "x")}}
	g, sink, _ := newTestGateway(s)

	g.onReaction(ctx, &discordgo.MessageReaction{UserID: "u1", MessageID: "r1", ChannelID: "c"})
	g.onReaction(ctx, &discordgo.MessageReaction{UserID: "u1", MessageID: "m9", ChannelID: "c"})
	g.onReaction(ctx, &discordgo.MessageReaction{UserID: "u1", MessageID: "gone", ChannelID: "c"})

	require.Len(t, sink.events, 1)
	ev := sink.events[0]
	assert.Equal(t, model.EventReactionChanged, ev.Kind)
	assert.Equal(t, "m1", ev.Message.ReferenceID)
	assert.Equal(t, []model.Reaction{{Emoji: "🇯🇵", Count: 1}}, ev.Message.Reactions)
}

func TestReactionRemoveEmojiEvent(t *testing.T) {
	ctx := context.Background()
	reply := &discordgo.Message{
		ID: "r1", ChannelID: "c", Author: &discordgo.User{ID: "bot", Bot: true},
		MessageReference: &discordgo.MessageReference{MessageID: "m1"},
	}
	s := &mockSession{messages: map[string]*discordgo.Message{"r1": reply}}
	g, sink, _ := newTestGateway(s)
	g.SetReactionFilter(func(emoji string) bool { return emoji == "🇯🇵" })

	g.onRawEvent(ctx, &discordgo.Event{
		Type:    "MESSAGE_REACTION_REMOVE_EMOJI",
		RawData: []byte(`{"channel_id":"c","guild_id":"g","message_id":"r1","emoji":{"id":null,"name":"🇯🇵"}}`),
	})
	g.onRawEvent(ctx, &discordgo.Event{Type: "TYPING_START", RawData: []byte(`{"channel_id":"c"}`)})
	g.onRawEvent(ctx, &discordgo.Event{Type: "MESSAGE_REACTION_REMOVE_EMOJI", RawData: []byte(`not json`)})

	require.Len(t, sink.events, 1)
	assert.Equal(t, model.EventReactionChanged, sink.events[0].Kind)
	assert.Equal(t, "r1", sink.events[0].Message.ID)
	assert.Empty(t, sink.events[0].Message.Reactions)
}

func TestReactionFilterSkipsLookups(t *testing.T) {
	ctx := context.Background()
	reply := &discordgo.Message{ID: "r1", ChannelID: "c", Author: &discordgo.User{ID: "bot", Bot: true}}
	s := &mockSession{messages: map[string]*discordgo.Message{"r1": reply, "m9": userMessage("m9", "x")}}
	g, sink, _ := newTestGateway(s)
	g.SetReactionFilter(func(emoji string) bool { return emoji == "🇯🇵" })
	g.state = mapState{"m9": userMessage("m9", "x")}

	g.onReaction(ctx, &discordgo.MessageReaction{UserID: "u1", MessageID: "r1", ChannelID: "c", Emoji: discordgo.Emoji{Name: "👍"}})
	g.onReaction(ctx, &discordgo.MessageReaction{UserID: "u1", MessageID: "r1", ChannelID: "c", Emoji: discordgo.Emoji{ID: "42", Name: "🇯🇵"}})
	g.onReaction(ctx, &discordgo.MessageReaction{UserID: "u1", MessageID: "m9", ChannelID: "c", Emoji: discordgo.Emoji{Name: "🇯🇵"}})
	assert.Zero(t, s.fetches)
	assert.Empty(t, sink.events)

	g.onReaction(ctx, &discordgo.MessageReaction{UserID: "u1", MessageID: "r1", ChannelID: "c", Emoji: discordgo.Emoji{Name: "🇯🇵"}})
	g.onReaction(ctx, &discordgo.MessageReaction{MessageID: "r1", ChannelID: "c"})
	assert.Equal(t, 2, s.fetches)
	require.Len(t, sink.events, 2)
	assert.Equal(t, "r1", sink.events[0].Message.ID)
}
