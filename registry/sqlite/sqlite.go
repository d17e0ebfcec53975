// Package sqlite provides a SQLite-backed link registry. The one-to-one
// invariant between Discord identity and local account is enforced by
// UNIQUE constraints and a single upsert statement, so it holds under
// concurrent linking attempts without an application-level read-then-write.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/wikiforge/discordauth/discord"
	"github.com/wikiforge/discordauth/registry"
)

const schema = `
CREATE TABLE IF NOT EXISTS identity_links (
	local_user_id     TEXT NOT NULL,
	external_id       TEXT NOT NULL,
	external_username TEXT NOT NULL,
	linked_at         INTEGER NOT NULL,
	PRIMARY KEY (local_user_id),
	UNIQUE (external_id)
);
`

// Store persists identity links in SQLite.
type Store struct {
	sqlDB *sql.DB
}

// Compile-time interface check.
var _ registry.Registry = (*Store)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite link registry, creating the schema if needed.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// FindByExternalID resolves the link holding the Discord ID.
func (s *Store) FindByExternalID(ctx context.Context, externalID string) (*registry.LinkedAccount, error) {
	return s.findOne(ctx, `SELECT local_user_id, external_id, external_username, linked_at
		FROM identity_links WHERE external_id = ?`, externalID)
}

// FindByUserID resolves the link held by the local account.
func (s *Store) FindByUserID(ctx context.Context, localUserID string) (*registry.LinkedAccount, error) {
	return s.findOne(ctx, `SELECT local_user_id, external_id, external_username, linked_at
		FROM identity_links WHERE local_user_id = ?`, localUserID)
}

func (s *Store) findOne(ctx context.Context, query, arg string) (*registry.LinkedAccount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var link registry.LinkedAccount
	var linkedAt int64
	err := s.sqlDB.QueryRowContext(ctx, query, arg).Scan(
		&link.LocalUserID, &link.ExternalID, &link.ExternalUsername, &linkedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, registry.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query link: %w", err)
	}
	link.LinkedAt = fromMillis(linkedAt)
	return &link, nil
}

// Link binds identity to localUserID with a single atomic upsert. A
// re-link of the same pair refreshes the cached username and keeps the
// original linked_at; an identity held by a different local user trips the
// UNIQUE(external_id) constraint and is reported as a conflict.
func (s *Store) Link(ctx context.Context, localUserID string, identity *discord.Identity) (*registry.LinkedAccount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if identity == nil || identity.ID == "" {
		return nil, fmt.Errorf("identity with external id is required")
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO identity_links (local_user_id, external_id, external_username, linked_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (local_user_id) DO UPDATE SET
			external_id = excluded.external_id,
			external_username = excluded.external_username,
			linked_at = CASE WHEN identity_links.external_id = excluded.external_id
				THEN identity_links.linked_at ELSE excluded.linked_at END`,
		localUserID, identity.ID, identity.Username, toMillis(time.Now()),
	)
	if err != nil {
		if isExternalIDUniqueViolation(err) {
			return nil, registry.ErrAlreadyLinkedElsewhere
		}
		return nil, fmt.Errorf("write link: %w", err)
	}

	return s.FindByUserID(ctx, localUserID)
}

// Unlink removes the local account's link, if any.
func (s *Store) Unlink(ctx context.Context, localUserID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM identity_links WHERE local_user_id = ?`, localUserID); err != nil {
		return fmt.Errorf("delete link: %w", err)
	}
	return nil
}

// List returns all links ordered by local user ID.
func (s *Store) List(ctx context.Context) ([]registry.LinkedAccount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT local_user_id, external_id, external_username, linked_at
		 FROM identity_links ORDER BY local_user_id`)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var links []registry.LinkedAccount
	for rows.Next() {
		var link registry.LinkedAccount
		var linkedAt int64
		if err := rows.Scan(&link.LocalUserID, &link.ExternalID, &link.ExternalUsername, &linkedAt); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		link.LinkedAt = fromMillis(linkedAt)
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate links: %w", err)
	}
	return links, nil
}

func isExternalIDUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_UNIQUE, sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY:
			return strings.Contains(strings.ToLower(err.Error()), "external_id")
		}
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint failed") &&
		strings.Contains(message, "identity_links.external_id")
}
