package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"moneyman/internal/model"
	"moneyman/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// :memory: databases are per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// GetChatTargets returns the target override for a chat.
func (s *SQLite) GetChatTargets(ctx context.Context, chatID string) (*model.ChatTargets, error) {
	var codes, updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT currencies, updated_at FROM chat_targets WHERE chat_id = ?`, chatID,
	).Scan(&codes, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan chat targets: %w", err)
	}

	t := &model.ChatTargets{ChatID: chatID, Currencies: splitCodes(codes)}
	t.UpdatedAt, _ = time.Parse(timeLayout, updated)
	return t, nil
}

// SetChatTargets creates or replaces a chat's override and sets UpdatedAt.
func (s *SQLite) SetChatTargets(ctx context.Context, targets *model.ChatTargets) error {
	if len(targets.Currencies) == 0 {
		return fmt.Errorf("set chat targets %s: empty currency list", targets.ChatID)
	}
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_targets (chat_id, currencies, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(chat_id) DO UPDATE SET currencies = excluded.currencies, updated_at = excluded.updated_at`,
		targets.ChatID, strings.Join(targets.Currencies, ","), now,
	)
	if err != nil {
		return fmt.Errorf("upsert chat targets: %w", err)
	}
	targets.UpdatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// DeleteChatTargets removes a chat's override. Deleting a missing override
// is not an error.
func (s *SQLite) DeleteChatTargets(ctx context.Context, chatID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chat_targets WHERE chat_id = ?`, chatID)
	if err != nil {
		return fmt.Errorf("delete chat targets: %w", err)
	}
	return nil
}

func splitCodes(s string) []string {
	var codes []string
	for _, c := range strings.Split(s, ",") {
		if c = strings.TrimSpace(c); c != "" {
			codes = append(codes, c)
		}
	}
	return codes
}
