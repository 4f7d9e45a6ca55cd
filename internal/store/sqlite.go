// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/bcem/digest/internal/models"
)

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db  *sqlx.DB
	loc *time.Location
}

type messageRow struct {
	ID            int64     `db:"id"`
	SourceID      string    `db:"source_id"`
	Subject       string    `db:"subject"`
	Author        string    `db:"author"`
	Body          string    `db:"body"`
	ReceivedAt    time.Time `db:"received_at"`
	Summary       *string   `db:"summary"`
	SummaryStatus string    `db:"summary_status"`
	CreatedAt     time.Time `db:"created_at"`
}

type bucketMessageRow struct {
	BucketID int64 `db:"bucket_id"`
	messageRow
}

type bucketRow struct {
	ID            int64   `db:"id"`
	Day           string  `db:"day"`
	Summary       *string `db:"summary"`
	SummaryStatus string  `db:"summary_status"`
}

// NewSQLiteStore opens (or creates) the database at path, enables WAL mode
// and foreign keys, and applies pending migrations. ":memory:" gives a
// private in-memory database.
func NewSQLiteStore(path string, loc *time.Location) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, loc: locationOrUTC(loc)}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'")
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tableCount > 0 {
		if err := s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

const sqliteMessageColumns = `id, source_id, subject, author, body, received_at, summary, summary_status, created_at`

// FindMessage retrieves a message by source id.
func (s *SQLiteStore) FindMessage(ctx context.Context, sourceID string) (*models.Message, error) {
	var row messageRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+sqliteMessageColumns+` FROM messages WHERE source_id = ?`, sourceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message %s: %w", sourceID, err)
	}
	return s.toMessage(row), nil
}

// GetMessage retrieves a message by id.
func (s *SQLiteStore) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	var row messageRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+sqliteMessageColumns+` FROM messages WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message %d: %w", id, err)
	}
	return s.toMessage(row), nil
}

// UpsertMessage inserts the message unless its source id exists, then
// returns whichever row won.
func (s *SQLiteStore) UpsertMessage(ctx context.Context, m models.NewMessage) (*models.Message, bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (source_id, subject, author, body, received_at, summary, summary_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_id) DO NOTHING`,
		m.SourceID, m.Subject, m.Author, m.Body, m.ReceivedAt.UTC(), m.Summary,
		string(statusOrPending(m.SummaryStatus)), time.Now().UTC(),
	)
	if err != nil {
		return nil, false, &PersistenceError{Op: "insert message", Err: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, &PersistenceError{Op: "insert message", Err: err}
	}

	msg, err := s.FindMessage(ctx, m.SourceID)
	if err != nil {
		return nil, false, &PersistenceError{Op: "load message", Err: err}
	}
	return msg, affected == 1, nil
}

// SetMessageSummary replaces a message's summary and status.
func (s *SQLiteStore) SetMessageSummary(ctx context.Context, id int64, summary *string, status models.SummaryStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET summary = ?, summary_status = ? WHERE id = ?`,
		summary, string(status), id)
	if err != nil {
		return &PersistenceError{Op: "update message summary", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AttachToBucket finds or creates the day bucket and links the message.
func (s *SQLiteStore) AttachToBucket(ctx context.Context, messageID int64, day time.Time) (*models.DayBucket, error) {
	key := formatDay(day.In(s.loc))

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, &PersistenceError{Op: "begin attach", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO day_buckets (day) VALUES (?) ON CONFLICT (day) DO NOTHING`, key); err != nil {
		return nil, &PersistenceError{Op: "insert bucket", Err: err}
	}

	var row bucketRow
	if err := tx.GetContext(ctx, &row,
		`SELECT id, day, summary, summary_status FROM day_buckets WHERE day = ?`, key); err != nil {
		return nil, &PersistenceError{Op: "load bucket", Err: err}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO message_days (message_id, bucket_id) VALUES (?, ?) ON CONFLICT DO NOTHING`,
		messageID, row.ID); err != nil {
		return nil, &PersistenceError{Op: "associate message", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return nil, &PersistenceError{Op: "commit attach", Err: err}
	}
	return s.toBucket(row)
}

// SetDaySummary replaces a bucket's aggregate summary.
func (s *SQLiteStore) SetDaySummary(ctx context.Context, bucketID int64, summary *string, status models.SummaryStatus) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return &PersistenceError{Op: "begin day summary", Err: err}
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE day_buckets SET summary = ?, summary_status = ? WHERE id = ?`,
		summary, string(status), bucketID)
	if err != nil {
		return &PersistenceError{Op: "update day summary", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return &PersistenceError{Op: "commit day summary", Err: err}
	}
	return nil
}

// ListDays returns all buckets, newest first, with their messages.
func (s *SQLiteStore) ListDays(ctx context.Context) ([]models.DayBucket, error) {
	var rows []bucketRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT id, day, summary, summary_status FROM day_buckets ORDER BY day DESC`); err != nil {
		return nil, fmt.Errorf("querying buckets: %w", err)
	}
	buckets := make([]models.DayBucket, 0, len(rows))
	for _, r := range rows {
		b, err := s.toBucket(r)
		if err != nil {
			return nil, err
		}
		buckets = append(buckets, *b)
	}

	var members []bucketMessageRow
	if err := s.db.SelectContext(ctx, &members, `
		SELECT md.bucket_id, `+prefixed("m", sqliteMessageColumns)+`
		FROM message_days md
		JOIN messages m ON m.id = md.message_id`); err != nil {
		return nil, fmt.Errorf("querying bucket messages: %w", err)
	}
	attachMessages(buckets, s.toBucketMessages(members))
	return buckets, nil
}

// GetDay returns one bucket with its messages.
func (s *SQLiteStore) GetDay(ctx context.Context, id int64) (*models.DayBucket, error) {
	var row bucketRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, day, summary, summary_status FROM day_buckets WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying bucket %d: %w", id, err)
	}
	bucket, err := s.toBucket(row)
	if err != nil {
		return nil, err
	}

	var members []bucketMessageRow
	if err := s.db.SelectContext(ctx, &members, `
		SELECT md.bucket_id, `+prefixed("m", sqliteMessageColumns)+`
		FROM message_days md
		JOIN messages m ON m.id = md.message_id
		WHERE md.bucket_id = ?`, id); err != nil {
		return nil, fmt.Errorf("querying bucket messages: %w", err)
	}
	buckets := []models.DayBucket{*bucket}
	attachMessages(buckets, s.toBucketMessages(members))
	return &buckets[0], nil
}

// DayBodies returns the bodies of a bucket's messages in received order.
func (s *SQLiteStore) DayBodies(ctx context.Context, id int64) ([]string, error) {
	day, err := s.GetDay(ctx, id)
	if err != nil {
		return nil, err
	}
	bodies := make([]string, 0, len(day.Messages))
	for _, m := range day.Messages {
		bodies = append(bodies, m.Body)
	}
	return bodies, nil
}

// UnbucketedMessages returns messages left without a day association.
func (s *SQLiteStore) UnbucketedMessages(ctx context.Context) ([]models.Message, error) {
	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT `+sqliteMessageColumns+` FROM messages m
		WHERE NOT EXISTS (SELECT 1 FROM message_days md WHERE md.message_id = m.id)
		ORDER BY received_at, id`); err != nil {
		return nil, fmt.Errorf("querying unbucketed messages: %w", err)
	}
	msgs := make([]models.Message, 0, len(rows))
	for _, r := range rows {
		msgs = append(msgs, *s.toMessage(r))
	}
	return msgs, nil
}

// Ping checks database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) toMessage(r messageRow) *models.Message {
	return &models.Message{
		ID:            r.ID,
		SourceID:      r.SourceID,
		Subject:       r.Subject,
		Author:        r.Author,
		Body:          r.Body,
		ReceivedAt:    r.ReceivedAt.In(s.loc),
		Summary:       r.Summary,
		SummaryStatus: models.SummaryStatus(r.SummaryStatus),
		CreatedAt:     r.CreatedAt,
	}
}

func (s *SQLiteStore) toBucket(r bucketRow) (*models.DayBucket, error) {
	date, err := parseDay(r.Day, s.loc)
	if err != nil {
		return nil, err
	}
	return &models.DayBucket{
		ID:            r.ID,
		Date:          date,
		Summary:       r.Summary,
		SummaryStatus: models.SummaryStatus(r.SummaryStatus),
	}, nil
}

func (s *SQLiteStore) toBucketMessages(rows []bucketMessageRow) []bucketMessage {
	out := make([]bucketMessage, 0, len(rows))
	for _, r := range rows {
		out = append(out, bucketMessage{bucketID: r.BucketID, msg: *s.toMessage(r.messageRow)})
	}
	return out
}
