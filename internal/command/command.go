// Package command implements the bot's chat commands independently of the
// transport that delivers them.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/lo"

	"moneyman/internal/model"
	"moneyman/internal/rates"
)

// RateSource is the part of the rate store commands need.
type RateSource interface {
	Cached() *model.RateSnapshot
	Refresh(ctx context.Context) (*model.RateSnapshot, error)
	KnownCurrencies(ctx context.Context) (map[string]struct{}, error)
}

// Converter builds a single conversion line.
type Converter interface {
	BuildReply(ctx context.Context, mention model.Mention, targets []string) (string, error)
}

// TargetResolver reports a chat's effective targets.
type TargetResolver interface {
	Static(ctx context.Context, chatID string) []string
}

// TargetStore persists per-chat target overrides.
type TargetStore interface {
	SetChatTargets(ctx context.Context, targets *model.ChatTargets) error
	DeleteChatTargets(ctx context.Context, chatID string) error
}

// Metrics counts handled commands.
type Metrics interface {
	IncCommand(name string)
}

// Handler answers commands.
type Handler struct {
	rates   RateSource
	conv    Converter
	targets TargetResolver
	store   TargetStore
	allowed func(userID string) bool
	metrics Metrics
	log     *slog.Logger
	now     func() time.Time
}

// Deps are the collaborators of a Handler. Store may be nil, in which case
// per-chat targets cannot be changed. Allowed reports whether a user may run
// admin commands.
type Deps struct {
	Rates   RateSource
	Conv    Converter
	Targets TargetResolver
	Store   TargetStore
	Allowed func(userID string) bool
	Metrics Metrics
	Log     *slog.Logger
}

// New creates a Handler.
func New(d Deps) *Handler {
	h := &Handler{
		rates:   d.Rates,
		conv:    d.Conv,
		targets: d.Targets,
		store:   d.Store,
		allowed: d.Allowed,
		metrics: d.Metrics,
		log:     d.Log,
		now:     time.Now,
	}
	if h.allowed == nil {
		h.allowed = func(string) bool { return true }
	}
	return h
}

// Handle runs req and returns the reply text. prefix is the command prefix
// of the transport and only affects help output.
func (h *Handler) Handle(ctx context.Context, req Request, prefix string) string {
	if h.metrics != nil {
		h.metrics.IncCommand(req.Name)
	}
	h.log.Debug("command", "name", req.Name, "chat_id", req.ChatID, "user_id", req.UserID)

	switch req.Name {
	case "start", "help":
		return helpText(prefix)
	case "ping":
		return "Pong!"
	case "rates":
		return h.handleRates(ctx, req)
	case "refresh":
		return h.handleRefresh(ctx, req)
	case "convert":
		return h.handleConvert(ctx, req, prefix)
	case "targets":
		return h.handleTargets(ctx, req, prefix)
	default:
		return fmt.Sprintf("Unknown command. Use %shelp.", prefix)
	}
}

func (h *Handler) handleRates(ctx context.Context, req Request) string {
	return FormatRates(h.rates.Cached(), h.targets.Static(ctx, req.ChatID), h.now())
}

func (h *Handler) handleRefresh(ctx context.Context, req Request) string {
	if !h.allowed(req.UserID) {
		return "You are not allowed to do that."
	}
	snap, err := h.rates.Refresh(ctx)
	if err != nil {
		h.log.Error("forced refresh", "chat_id", req.ChatID, "error", err)
		return "Could not refresh rates right now."
	}
	return fmt.Sprintf("Rates updated: %d currencies.", len(snap.Rates))
}

func (h *Handler) handleConvert(ctx context.Context, req Request, prefix string) string {
	args, err := ParseConvertArgs(req.Args)
	if err != nil {
		return fmt.Sprintf("%s\nExample: %sconvert 12.50 gbp eur jpy", capitalize(err.Error()), prefix)
	}

	to := args.Targets
	if len(to) == 0 {
		to = h.targets.Static(ctx, req.ChatID)
	}

	line, err := h.conv.BuildReply(ctx, args.Mention, to)
	switch {
	case errors.Is(err, rates.ErrUnknownCurrency):
		return fmt.Sprintf("Unknown currency in %s.", strings.Join(append([]string{args.Mention.Code}, to...), ", "))
	case err != nil:
		h.log.Error("convert command", "chat_id", req.ChatID, "error", err)
		return "Rates are unavailable right now."
	case line == "":
		return "Nothing to convert."
	}
	return line
}

func (h *Handler) handleTargets(ctx context.Context, req Request, prefix string) string {
	if len(req.Args) == 0 {
		return "Targets here: " + strings.Join(h.targets.Static(ctx, req.ChatID), ", ")
	}
	if !h.allowed(req.UserID) {
		return "You are not allowed to do that."
	}
	if h.store == nil {
		return "Per-chat targets are not available."
	}

	if len(req.Args) == 1 && strings.EqualFold(req.Args[0], "reset") {
		if err := h.store.DeleteChatTargets(ctx, req.ChatID); err != nil {
			h.log.Error("reset chat targets", "chat_id", req.ChatID, "error", err)
			return "Failed to reset targets."
		}
		return "Targets reset to defaults: " + strings.Join(h.targets.Static(ctx, req.ChatID), ", ")
	}

	codes, err := ParseCodes(req.Args)
	if err != nil {
		return fmt.Sprintf("%s\nUsage: %stargets <CODE...> | reset", capitalize(err.Error()), prefix)
	}
	known, err := h.rates.KnownCurrencies(ctx)
	if err != nil {
		h.log.Error("targets command", "chat_id", req.ChatID, "error", err)
		return "Rates are unavailable right now."
	}
	var unknown []string
	for _, c := range codes {
		if _, ok := known[c]; !ok {
			unknown = append(unknown, c)
		}
	}
	if len(unknown) > 0 {
		return "Unknown currency: " + strings.Join(unknown, ", ")
	}

	ct := &model.ChatTargets{ChatID: req.ChatID, Currencies: lo.Uniq(codes)}
	if err := h.store.SetChatTargets(ctx, ct); err != nil {
		h.log.Error("set chat targets", "chat_id", req.ChatID, "error", err)
		return "Failed to save targets."
	}
	return "Targets here: " + strings.Join(ct.Currencies, ", ")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
