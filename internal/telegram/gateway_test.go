package telegram

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/go-cmp/cmp"

	"moneyman/internal/command"
	"moneyman/internal/model"
)

// --- mocks ---

type mockAPI struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	sendErr  error
	reqErr   error
	nextID   int

	polls  []tgbotapi.Params
	onPoll func(n int) (*tgbotapi.APIResponse, error)
}

func (m *mockAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, c)
	if m.sendErr != nil {
		return tgbotapi.Message{}, m.sendErr
	}
	m.nextID++
	return tgbotapi.Message{MessageID: 100 + m.nextID}, nil
}

func (m *mockAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, c)
	if m.reqErr != nil {
		return nil, m.reqErr
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (m *mockAPI) MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error) {
	m.mu.Lock()
	m.polls = append(m.polls, params)
	n := len(m.polls)
	m.mu.Unlock()
	if endpoint != "getUpdates" || m.onPoll == nil {
		return &tgbotapi.APIResponse{Ok: true, Result: []byte("[]")}, nil
	}
	return m.onPoll(n)
}

type recordingSink struct {
	mu     sync.Mutex
	events []model.Event
}

func (s *recordingSink) Submit(_ context.Context, ev model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

type echoCommands struct{ reqs []command.Request }

func (c *echoCommands) Handle(_ context.Context, req command.Request, prefix string) string {
	c.reqs = append(c.reqs, req)
	return prefix + req.Name + " ok"
}

func newTestGateway(api *mockAPI) (*Gateway, *recordingSink, *echoCommands) {
	sink := &recordingSink{}
	cmds := &echoCommands{}
	g := newGateway(api, "999", sink, cmds, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return g, sink, cmds
}

// --- gateway operations ---

func TestSendReply(t *testing.T) {
	api := &mockAPI{}
	g, _, _ := newTestGateway(api)

	id, err := g.SendReply(context.Background(), "-100", "7", "10.00 USD is worth 9.00 EUR.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "101" {
		t.Errorf("reply id = %q, want 101", id)
	}

	msg, ok := api.sent[0].(tgbotapi.MessageConfig)
	if !ok {
		t.Fatalf("sent %T, want MessageConfig", api.sent[0])
	}
	if msg.ChatID != -100 || msg.ReplyToMessageID != 7 || msg.Text != "10.00 USD is worth 9.00 EUR." {
		t.Errorf("unexpected message: %+v", msg)
	}
	if !msg.AllowSendingWithoutReply {
		t.Error("AllowSendingWithoutReply not set")
	}
}

func TestSendReplyInvalidIDs(t *testing.T) {
	g, _, _ := newTestGateway(&mockAPI{})
	if _, err := g.SendReply(context.Background(), "chat", "7", "x"); err == nil {
		t.Error("expected error for non-numeric chat ID")
	}
	if err := g.EditMessage(context.Background(), "1", "abc", "x"); err == nil {
		t.Error("expected error for non-numeric message ID")
	}
}

func TestEditMessageErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantErr  bool
		notFound bool
	}{
		{name: "ok"},
		{name: "not modified", err: &tgbotapi.Error{Code: 400, Message: "Bad Request: message is not modified"}},
		{name: "gone", err: &tgbotapi.Error{Code: 400, Message: "Bad Request: message to edit not found"}, wantErr: true, notFound: true},
		{name: "other", err: &tgbotapi.Error{Code: 403, Message: "Forbidden: bot was kicked"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &mockAPI{sendErr: tt.err}
			g, _, _ := newTestGateway(api)

			err := g.EditMessage(context.Background(), "-100", "55", "new text")
			if (err != nil) != tt.wantErr {
				t.Fatalf("EditMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got := errors.Is(err, model.ErrNotFound); got != tt.notFound {
				t.Errorf("errors.Is(err, ErrNotFound) = %v, want %v", got, tt.notFound)
			}

			edit := api.sent[0].(tgbotapi.EditMessageTextConfig)
			if edit.ChatID != -100 || edit.MessageID != 55 || edit.Text != "new text" {
				t.Errorf("unexpected edit: %+v", edit)
			}
		})
	}
}

func TestDeleteMessage(t *testing.T) {
	api := &mockAPI{}
	g, _, _ := newTestGateway(api)

	if err := g.DeleteMessage(context.Background(), "-100", "55"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	del := api.requests[0].(tgbotapi.DeleteMessageConfig)
	if del.ChatID != -100 || del.MessageID != 55 {
		t.Errorf("unexpected delete: %+v", del)
	}

	api.reqErr = &tgbotapi.Error{Code: 400, Message: "Bad Request: message to delete not found"}
	if err := g.DeleteMessage(context.Background(), "-100", "55"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("DeleteMessage() error = %v, want ErrNotFound", err)
	}
}

func TestUnsupportedLookups(t *testing.T) {
	g, _, _ := newTestGateway(&mockAPI{})

	if _, err := g.FetchMessage(context.Background(), "1", "2"); !errors.Is(err, model.ErrNotSupported) {
		t.Errorf("FetchMessage() error = %v", err)
	}
	if _, err := g.SearchHistoryAfter(context.Background(), "1", "2", 50); !errors.Is(err, model.ErrNotSupported) {
		t.Errorf("SearchHistoryAfter() error = %v", err)
	}
	if diff := cmp.Diff("999", g.SelfID()); diff != "" {
		t.Errorf("SelfID() mismatch (-want +got):\n%s", diff)
	}
}
