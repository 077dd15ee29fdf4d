package reply

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"moneyman/internal/model"
	"moneyman/internal/targets"
)

// Defaults for Options.
const (
	DefaultEditWindow  = 20 * time.Minute
	DefaultSearchLimit = 50
)

// Gateway is the chat transport the coordinator acts through.
type Gateway interface {
	SelfID() string
	SendReply(ctx context.Context, channelID, sourceMessageID, text string) (string, error)
	EditMessage(ctx context.Context, channelID, messageID, text string) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	// FetchMessage returns model.ErrNotFound when the message is gone.
	FetchMessage(ctx context.Context, channelID, messageID string) (*model.Message, error)
	// SearchHistoryAfter lists up to limit messages posted after messageID.
	SearchHistoryAfter(ctx context.Context, channelID, messageID string, limit int) ([]model.Message, error)
}

// RateSource reports which currencies can currently be converted.
type RateSource interface {
	KnownCurrencies(ctx context.Context) (map[string]struct{}, error)
}

// Scanner extracts mentions from text.
type Scanner interface {
	Scan(text string, known, ignored map[string]struct{}) []model.Mention
}

// Builder renders mentions into reply text.
type Builder interface {
	BuildMessageReply(ctx context.Context, mentions []model.Mention, targets []string) (string, error)
}

// TargetResolver supplies target currencies.
type TargetResolver interface {
	Static(ctx context.Context, chatID string) []string
	FromReactions(reactions []model.Reaction) []string
}

// SourceCache remembers source messages so reactions can rebuild replies.
type SourceCache interface {
	Put(msg model.Message)
	Get(channelID, messageID string) (*model.Message, bool)
	Delete(channelID, messageID string)
}

// Metrics receives coordinator events.
type Metrics interface {
	IncReply(action string)
	IncGatewayError(op string)
}

type noopMetrics struct{}

func (noopMetrics) IncReply(string)        {}
func (noopMetrics) IncGatewayError(string) {}

// Deps are the collaborators of a Coordinator.
type Deps struct {
	Gateway Gateway
	Rates   RateSource
	Scanner Scanner
	Builder Builder
	Targets TargetResolver
	History *History
	Sources SourceCache
	Metrics Metrics
	Log     *slog.Logger
	Ignored []string
	Options Options
}

// Options tune coordinator behavior.
type Options struct {
	// EditWindow is the maximum age of a message whose edit may create a
	// new reply.
	EditWindow time.Duration
	// SearchLimit bounds the transport history search for lost correlations.
	SearchLimit int
}

// Coordinator maps source messages to at most one reply each and keeps the
// reply consistent with edits, deletions and reactions. Events for the same
// source message are processed one at a time.
type Coordinator struct {
	gw      Gateway
	rates   RateSource
	scanner Scanner
	builder Builder
	targets TargetResolver
	history *History
	sources SourceCache
	metrics Metrics
	log     *slog.Logger
	ignored map[string]struct{}
	opts    Options
	locks   *keyedMutex
	now     func() time.Time
}

// New creates a Coordinator.
func New(d Deps) *Coordinator {
	ignored := make(map[string]struct{}, len(d.Ignored))
	for _, code := range d.Ignored {
		ignored[code] = struct{}{}
	}
	if d.Options.EditWindow <= 0 {
		d.Options.EditWindow = DefaultEditWindow
	}
	if d.Options.SearchLimit <= 0 {
		d.Options.SearchLimit = DefaultSearchLimit
	}
	if d.Metrics == nil {
		d.Metrics = noopMetrics{}
	}
	return &Coordinator{
		gw:      d.Gateway,
		rates:   d.Rates,
		scanner: d.Scanner,
		builder: d.Builder,
		targets: d.Targets,
		history: d.History,
		sources: d.Sources,
		metrics: d.Metrics,
		log:     d.Log,
		ignored: ignored,
		opts:    d.Options,
		locks:   newKeyedMutex(),
		now:     time.Now,
	}
}

// Key returns the serialization key of an event: the source message it
// concerns. Reaction events on a reply resolve to the reply's source.
func (c *Coordinator) Key(ev model.Event) string {
	msg := ev.Message
	if ev.Kind == model.EventReactionChanged {
		if rec, ok := c.history.ByReply(msg.ChannelID, msg.ID); ok {
			return sourceKey(rec.SourceChannelID, rec.SourceMessageID)
		}
		if msg.ReferenceID != "" {
			return sourceKey(msg.ChannelID, msg.ReferenceID)
		}
	}
	return sourceKey(msg.ChannelID, msg.ID)
}

// Handle processes one event to completion. Failures are logged; nothing is
// ever posted to the chat about them.
func (c *Coordinator) Handle(ctx context.Context, ev model.Event) {
	unlock := c.locks.Lock(c.Key(ev))
	defer unlock()

	c.log.Debug("event", "kind", ev.Kind.String(), "channel_id", ev.Message.ChannelID, "message_id", ev.Message.ID)

	switch ev.Kind {
	case model.EventCreated:
		c.onCreated(ctx, ev.Message)
	case model.EventEdited:
		c.onEdited(ctx, ev.Message, ev.Before)
	case model.EventDeleted:
		c.onDeleted(ctx, ev.Message)
	case model.EventReactionChanged:
		c.onReactionChanged(ctx, ev.Message)
	default:
		c.log.Warn("unknown event kind", "kind", int(ev.Kind))
	}
}

func (c *Coordinator) onCreated(ctx context.Context, msg model.Message) {
	if msg.AuthorIsBot {
		return
	}
	c.sources.Put(msg)

	text, err := c.compute(ctx, msg, nil)
	if err != nil {
		c.log.Warn("build reply", "channel_id", msg.ChannelID, "message_id", msg.ID, "error", err)
		return
	}

	// Redelivered creations reconcile against the existing reply.
	if rec, ok := c.history.BySource(msg.ChannelID, msg.ID); ok {
		c.reconcile(ctx, &rec, msg, text, false)
		return
	}
	c.reconcile(ctx, nil, msg, text, true)
}

func (c *Coordinator) onEdited(ctx context.Context, msg model.Message, before *model.Message) {
	if msg.AuthorIsBot {
		return
	}
	c.sources.Put(msg)

	// Pins and embed unfurls arrive as edits too.
	if before != nil && before.Content == msg.Content {
		return
	}

	rec := c.findRecord(ctx, msg)
	text, err := c.compute(ctx, msg, nil)
	if err != nil {
		c.log.Warn("build reply", "channel_id", msg.ChannelID, "message_id", msg.ID, "error", err)
		return
	}

	recent := !msg.CreatedAt.IsZero() && c.now().Sub(msg.CreatedAt) < c.opts.EditWindow
	c.reconcile(ctx, rec, msg, text, recent)
}

func (c *Coordinator) onDeleted(ctx context.Context, msg model.Message) {
	// One of our replies was removed by someone else.
	if rec, ok := c.history.ByReply(msg.ChannelID, msg.ID); ok {
		c.history.Remove(rec.SourceChannelID, rec.SourceMessageID)
		return
	}
	if msg.AuthorIsBot {
		return
	}
	c.sources.Delete(msg.ChannelID, msg.ID)

	rec, ok := c.history.BySource(msg.ChannelID, msg.ID)
	if !ok {
		return
	}
	c.deleteReply(ctx, rec)
}

func (c *Coordinator) onReactionChanged(ctx context.Context, msg model.Message) {
	rec, ok := c.history.ByReply(msg.ChannelID, msg.ID)
	if !ok {
		self := c.gw.SelfID()
		if self == "" || msg.AuthorID != self || msg.ReferenceID == "" {
			return
		}
		rec = model.ReplyRecord{
			SourceMessageID: msg.ReferenceID,
			SourceChannelID: msg.ChannelID,
			ReplyMessageID:  msg.ID,
			ReplyContent:    msg.Content,
		}
		c.history.Add(rec)
	}

	src := c.source(ctx, rec.SourceChannelID, rec.SourceMessageID)
	if src == nil {
		c.log.Debug("reaction source unresolved", "channel_id", rec.SourceChannelID, "message_id", rec.SourceMessageID)
		return
	}

	text, err := c.compute(ctx, *src, c.targets.FromReactions(msg.Reactions))
	if err != nil {
		c.log.Warn("build reply", "channel_id", src.ChannelID, "message_id", src.ID, "error", err)
		return
	}
	c.reconcile(ctx, &rec, *src, text, false)
}

// compute builds the reply for src using the chat's static targets plus
// extra. An empty result means no reply should exist.
func (c *Coordinator) compute(ctx context.Context, src model.Message, extra []string) (string, error) {
	known, err := c.rates.KnownCurrencies(ctx)
	if err != nil {
		return "", err
	}
	mentions := c.scanner.Scan(src.Content, known, c.ignored)
	if len(mentions) == 0 {
		return "", nil
	}
	tg := targets.Merge(c.targets.Static(ctx, src.ChannelID), extra)
	return c.builder.BuildMessageReply(ctx, mentions, tg)
}

// reconcile applies the create/update/delete decision for one correlation.
// rec is nil when no reply exists.
func (c *Coordinator) reconcile(ctx context.Context, rec *model.ReplyRecord, src model.Message, text string, allowCreate bool) {
	switch {
	case rec == nil:
		if text != "" && allowCreate {
			c.send(ctx, src, text)
		}
	case text == "":
		c.deleteReply(ctx, *rec)
	case text != rec.ReplyContent:
		c.editReply(ctx, *rec, text)
	}
}

func (c *Coordinator) send(ctx context.Context, src model.Message, text string) {
	replyID, err := c.gw.SendReply(ctx, src.ChannelID, src.ID, text)
	if err != nil {
		c.metrics.IncGatewayError("send")
		c.log.Error("send reply", "channel_id", src.ChannelID, "message_id", src.ID, "error", err)
		return
	}
	c.history.Add(model.ReplyRecord{
		SourceMessageID: src.ID,
		SourceChannelID: src.ChannelID,
		ReplyMessageID:  replyID,
		ReplyContent:    text,
	})
	c.metrics.IncReply("sent")
}

func (c *Coordinator) editReply(ctx context.Context, rec model.ReplyRecord, text string) {
	if err := c.gw.EditMessage(ctx, rec.SourceChannelID, rec.ReplyMessageID, text); err != nil {
		c.metrics.IncGatewayError("edit")
		c.log.Error("edit reply", "channel_id", rec.SourceChannelID, "reply_id", rec.ReplyMessageID, "error", err)
		if errors.Is(err, model.ErrNotFound) {
			c.history.Remove(rec.SourceChannelID, rec.SourceMessageID)
		}
		return
	}
	c.history.UpdateContent(rec.SourceChannelID, rec.SourceMessageID, text)
	c.metrics.IncReply("edited")
}

// deleteReply removes the reply and its correlation. On a transient failure
// the correlation is kept because the reply still exists.
func (c *Coordinator) deleteReply(ctx context.Context, rec model.ReplyRecord) {
	err := c.gw.DeleteMessage(ctx, rec.SourceChannelID, rec.ReplyMessageID)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		c.metrics.IncGatewayError("delete")
		c.log.Error("delete reply", "channel_id", rec.SourceChannelID, "reply_id", rec.ReplyMessageID, "error", err)
		return
	}
	c.history.Remove(rec.SourceChannelID, rec.SourceMessageID)
	c.metrics.IncReply("deleted")
}

// findRecord looks up the reply to msg, first locally and then in the
// channel history after msg.
func (c *Coordinator) findRecord(ctx context.Context, msg model.Message) *model.ReplyRecord {
	if rec, ok := c.history.BySource(msg.ChannelID, msg.ID); ok {
		return &rec
	}

	self := c.gw.SelfID()
	if self == "" {
		return nil
	}
	found, err := c.gw.SearchHistoryAfter(ctx, msg.ChannelID, msg.ID, c.opts.SearchLimit)
	if err != nil {
		if !errors.Is(err, model.ErrNotSupported) {
			c.metrics.IncGatewayError("search")
			c.log.Warn("search history", "channel_id", msg.ChannelID, "message_id", msg.ID, "error", err)
		}
		return nil
	}
	for _, m := range found {
		if m.AuthorID != self || m.ReferenceID != msg.ID {
			continue
		}
		rec := model.ReplyRecord{
			SourceMessageID: msg.ID,
			SourceChannelID: msg.ChannelID,
			ReplyMessageID:  m.ID,
			ReplyContent:    m.Content,
		}
		c.history.Add(rec)
		return &rec
	}
	return nil
}

// source resolves a source message from the cache or the transport.
func (c *Coordinator) source(ctx context.Context, channelID, messageID string) *model.Message {
	if msg, ok := c.sources.Get(channelID, messageID); ok {
		return msg
	}
	msg, err := c.gw.FetchMessage(ctx, channelID, messageID)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) && !errors.Is(err, model.ErrNotSupported) {
			c.metrics.IncGatewayError("fetch")
			c.log.Warn("fetch source message", "channel_id", channelID, "message_id", messageID, "error", err)
		}
		return nil
	}
	c.sources.Put(*msg)
	return msg
}
