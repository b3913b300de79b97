// Package store persists recipients, channels and broadcast reports in a
// single SQLite database.
//
// A database transaction serializes each approval's read-modify-write, so
// concurrent approvals cannot lose updates the way whole-file JSON rewrites
// would.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"gatebot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

type Store struct {
	db  *sql.DB
	log logx.Logger
}

func Open(cfg Config, log logx.Logger) (*Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, fmt.Errorf("store: path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &Store{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// UpsertApproval records one successful join-request approval: the
// recipient (created on first sight, untouched afterwards), the channel
// membership, and the channel itself. Idempotent for repeated
// (recipient, channel) pairs.
func (s *Store) UpsertApproval(ctx context.Context, r Recipient, ch Channel) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	firstSeen := r.FirstSeen
	if firstSeen.IsZero() {
		firstSeen = now
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO recipients(id, username, first_name, last_name, first_seen)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(id) DO NOTHING`,
		r.ID, r.Username, r.FirstName, r.LastName, firstSeen.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO recipient_channels(recipient_id, channel_id) VALUES(?,?)
		 ON CONFLICT(recipient_id, channel_id) DO NOTHING`,
		r.ID, ch.ID,
	)
	if err != nil {
		return err
	}

	chSeen := ch.FirstSeen
	if chSeen.IsZero() {
		chSeen = now
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO channels(id, title, first_seen) VALUES(?,?,?)
		 ON CONFLICT(id) DO NOTHING`,
		ch.ID, ch.Title, chSeen.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// Recipients returns all recipients ordered by first-seen time. This is the
// broadcast snapshot; recipients approved after the query are not part of
// an already-running fan-out.
func (s *Store) Recipients(ctx context.Context) ([]Recipient, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username, first_name, last_name, first_seen
		 FROM recipients ORDER BY first_seen, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Recipient
	for rows.Next() {
		var r Recipient
		var seen string
		if err := rows.Scan(&r.ID, &r.Username, &r.FirstName, &r.LastName, &seen); err != nil {
			return nil, err
		}
		r.FirstSeen, _ = time.Parse(time.RFC3339Nano, seen)
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecipientChannels returns the approved-channel set of one recipient.
func (s *Store) RecipientChannels(ctx context.Context, recipientID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel_id FROM recipient_channels WHERE recipient_id = ? ORDER BY channel_id`,
		recipientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) CountRecipients(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM recipients`).Scan(&n)
	return n, err
}

func (s *Store) CountChannels(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM channels`).Scan(&n)
	return n, err
}

// AppendRun persists one completed broadcast summary.
func (s *Store) AppendRun(ctx context.Context, run BroadcastRun) error {
	sentAt := run.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO broadcasts(operator_id, kind, sent_at, total, successful, blocked, deleted, unsuccessful)
		 VALUES(?,?,?,?,?,?,?,?)`,
		run.OperatorID, run.Kind, sentAt.UTC().Format(time.RFC3339Nano),
		run.Total, run.Successful, run.Blocked, run.Deleted, run.Unsuccessful,
	)
	return err
}

// RunTotals sums all persisted broadcast runs.
func (s *Store) RunTotals(ctx context.Context) (RunTotals, error) {
	var t RunTotals
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(total), 0),
		        COALESCE(SUM(successful), 0),
		        COALESCE(SUM(blocked), 0),
		        COALESCE(SUM(deleted), 0),
		        COALESCE(SUM(unsuccessful), 0)
		 FROM broadcasts`,
	).Scan(&t.Runs, &t.Total, &t.Successful, &t.Blocked, &t.Deleted, &t.Unsuccessful)
	return t, err
}
