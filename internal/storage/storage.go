// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"

	"moneyman/internal/model"
)

// Storage is the interface for all persistence operations.
type Storage interface {
	// GetChatTargets returns nil, nil when the chat has no override.
	GetChatTargets(ctx context.Context, chatID string) (*model.ChatTargets, error)
	SetChatTargets(ctx context.Context, targets *model.ChatTargets) error
	DeleteChatTargets(ctx context.Context, chatID string) error

	Close() error
}
