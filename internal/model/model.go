// Package model defines the domain types used across the application.
package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned by gateways when a message no longer exists
// or cannot be resolved.
var ErrNotFound = errors.New("not found")

// ErrNotSupported is returned by gateways for operations their transport
// cannot perform.
var ErrNotSupported = errors.New("not supported by transport")

// Reaction is one emoji on a message together with how many users added it.
type Reaction struct {
	Emoji  string
	Count  int
	Custom bool
}

// Message is a transport-neutral chat message.
type Message struct {
	ID          string
	ChannelID   string
	AuthorID    string
	AuthorIsBot bool
	Content     string
	CreatedAt   time.Time
	// ReferenceID is the ID of the message this one replies to, if any.
	ReferenceID string
	Reactions   []Reaction
}

// EventKind enumerates the message lifecycle events the coordinator consumes.
type EventKind int

// Supported event kinds.
const (
	EventCreated EventKind = iota + 1
	EventEdited
	EventDeleted
	EventReactionChanged
)

func (k EventKind) String() string {
	switch k {
	case EventCreated:
		return "created"
	case EventEdited:
		return "edited"
	case EventDeleted:
		return "deleted"
	case EventReactionChanged:
		return "reaction_changed"
	default:
		return "unknown"
	}
}

// Event is a single chat lifecycle event. For EventEdited, Before holds the
// previous version of the message when the transport knows it. For
// EventReactionChanged, Message is the reacted-to message with its current
// reaction set.
type Event struct {
	Kind    EventKind
	Message Message
	Before  *Message
}

// Mention is a monetary amount detected in a message.
type Mention struct {
	Code   string
	Amount decimal.Decimal
}

// Key identifies a mention for deduplication. Amounts that differ only in
// trailing zeros share a key.
func (m Mention) Key() string {
	return m.Code + " " + m.Amount.String()
}

// RateSnapshot is one fetched exchange-rate table. Rates are relative to a
// common base currency.
type RateSnapshot struct {
	FetchedAt time.Time
	Rates     map[string]float64
}

// Age returns how old the snapshot is at the given instant.
func (s *RateSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.FetchedAt)
}

// ReplyRecord correlates a source message with the bot's reply to it.
type ReplyRecord struct {
	SourceMessageID string
	SourceChannelID string
	ReplyMessageID  string
	ReplyContent    string
}

// ChatTargets is a per-chat override of the configured target currencies.
type ChatTargets struct {
	ChatID     string
	Currencies []string
	UpdatedAt  time.Time
}
