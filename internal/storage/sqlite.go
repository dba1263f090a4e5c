package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ensnotify/internal/content"
	"ensnotify/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) SeenDelivery(ctx context.Context, key DeliveryKey) (bool, error) {
	n, err := s.CountDeliveries(ctx, key)
	return n > 0, err
}

func (s *sqliteStore) CountDeliveries(ctx context.Context, key DeliveryKey) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM deliveries WHERE content_id = ? AND channel = ? AND category = ?`,
		key.ContentID, string(key.Channel), string(key.Category),
	).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *sqliteStore) RecordDelivery(ctx context.Context, key DeliveryKey) error {
	// Duplicate inserts for the same triple are benign no-ops; the primary
	// key enforces at-most-one record even when two cycles race.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries(content_id, channel, category, delivered_at)
		 VALUES(?,?,?,?)
		 ON CONFLICT(content_id, channel, category) DO NOTHING`,
		key.ContentID, string(key.Channel), string(key.Category),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) EnqueueDigest(ctx context.Context, cat content.Category, body string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO digest_queue(category, body, sent, created_at) VALUES(?,?,0,?)`,
		string(cat), body, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) UnsentDigests(ctx context.Context, cat content.Category) ([]DigestEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, category, body, sent, created_at
		   FROM digest_queue
		  WHERE category = ? AND sent = 0
		  ORDER BY id ASC`,
		string(cat),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DigestEntry
	for rows.Next() {
		var (
			e   DigestEntry
			cat string
			at  string
		)
		if err := rows.Scan(&e.ID, &cat, &e.Body, &e.Sent, &at); err != nil {
			return nil, err
		}
		e.Category = content.Category(cat)
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) MarkDigestsSent(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	ph := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		ph[i] = "?"
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE digest_queue SET sent = 1 WHERE id IN (`+strings.Join(ph, ",")+`)`,
		args...,
	)
	return err
}

func (s *sqliteStore) CreateSubscriber(ctx context.Context, sub Subscriber) (Subscriber, error) {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions(email, token, verified, onchain, offchain, calendar, created_at)
		 VALUES(?,?,?,?,?,?,?)`,
		sub.Email, sub.Token, sub.Verified, sub.OnChain, sub.OffChain, sub.Calendar,
		sub.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return Subscriber{}, ErrDuplicateEmail
		}
		return Subscriber{}, err
	}
	sub.ID, _ = res.LastInsertId()
	return sub, nil
}

func (s *sqliteStore) SubscriberByToken(ctx context.Context, token string) (Subscriber, error) {
	var (
		sub Subscriber
		at  string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, token, verified, onchain, offchain, calendar, created_at
		   FROM subscriptions WHERE token = ?`,
		token,
	).Scan(&sub.ID, &sub.Email, &sub.Token, &sub.Verified, &sub.OnChain, &sub.OffChain, &sub.Calendar, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return Subscriber{}, ErrNotFound
	}
	if err != nil {
		return Subscriber{}, err
	}
	sub.CreatedAt, _ = time.Parse(time.RFC3339Nano, at)
	return sub, nil
}

func (s *sqliteStore) MarkVerified(ctx context.Context, token string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET verified = 1 WHERE token = ?`, token)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) DeleteByToken(ctx context.Context, token string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE token = ?`, token)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) Recipients(ctx context.Context, cat content.Category) ([]string, error) {
	col, ok := categoryColumn(cat)
	if !ok {
		return nil, fmt.Errorf("unknown category %q", cat)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT email FROM subscriptions WHERE verified = 1 AND `+col+` = 1 ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, err
		}
		out = append(out, email)
	}
	return out, rows.Err()
}

// categoryColumn maps a category to its opt-in column. The name is fixed
// here rather than interpolated from input so the query stays injection-safe.
func categoryColumn(cat content.Category) (string, bool) {
	switch cat {
	case content.CategoryOnChain:
		return "onchain", true
	case content.CategoryOffChain:
		return "offchain", true
	case content.CategoryCalendar:
		return "calendar", true
	}
	return "", false
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	// modernc.org/sqlite reports constraint failures in the error text;
	// there is no exported sentinel for SQLITE_CONSTRAINT_UNIQUE.
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
