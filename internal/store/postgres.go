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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bcem/digest/internal/models"
)

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
	loc  *time.Location
}

// NewPostgresStore connects to url and ensures the schema exists.
func NewPostgresStore(ctx context.Context, url string, loc *time.Location) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	s := &PostgresStore{pool: pool, loc: locationOrUTC(loc)}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure digest schema: %w", err)
	}
	slog.Info("postgres store initialised")
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS messages (
			id             BIGSERIAL PRIMARY KEY,
			source_id      TEXT NOT NULL UNIQUE,
			subject        TEXT NOT NULL DEFAULT '',
			author         TEXT NOT NULL DEFAULT '',
			body           TEXT NOT NULL DEFAULT '',
			received_at    TIMESTAMPTZ NOT NULL,
			summary        TEXT,
			summary_status TEXT NOT NULL DEFAULT 'pending',
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS day_buckets (
			id             BIGSERIAL PRIMARY KEY,
			day            DATE NOT NULL UNIQUE,
			summary        TEXT,
			summary_status TEXT NOT NULL DEFAULT 'pending'
		);
		CREATE TABLE IF NOT EXISTS message_days (
			message_id BIGINT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			bucket_id  BIGINT NOT NULL REFERENCES day_buckets(id) ON DELETE CASCADE,
			PRIMARY KEY (message_id, bucket_id)
		);
		CREATE INDEX IF NOT EXISTS idx_message_days_bucket ON message_days(bucket_id);
		CREATE INDEX IF NOT EXISTS idx_messages_received ON messages(received_at);
	`)
	return err
}

const pgMessageColumns = `id, source_id, subject, author, body, received_at, summary, summary_status, created_at`

// FindMessage retrieves a message by source id.
func (s *PostgresStore) FindMessage(ctx context.Context, sourceID string) (*models.Message, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgMessageColumns+` FROM messages WHERE source_id = $1`, sourceID)
	return s.scanMessage(row)
}

// GetMessage retrieves a message by id.
func (s *PostgresStore) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgMessageColumns+` FROM messages WHERE id = $1`, id)
	return s.scanMessage(row)
}

// UpsertMessage inserts the message unless its source id exists, then
// returns whichever row won.
func (s *PostgresStore) UpsertMessage(ctx context.Context, m models.NewMessage) (*models.Message, bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO messages (source_id, subject, author, body, received_at, summary, summary_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (source_id) DO NOTHING
	`, m.SourceID, m.Subject, m.Author, m.Body, m.ReceivedAt.UTC(), m.Summary, string(statusOrPending(m.SummaryStatus)))
	if err != nil {
		return nil, false, &PersistenceError{Op: "insert message", Err: err}
	}

	msg, err := s.FindMessage(ctx, m.SourceID)
	if err != nil {
		return nil, false, &PersistenceError{Op: "load message", Err: err}
	}
	return msg, tag.RowsAffected() == 1, nil
}

// SetMessageSummary replaces a message's summary and status.
func (s *PostgresStore) SetMessageSummary(ctx context.Context, id int64, summary *string, status models.SummaryStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET summary = $1, summary_status = $2 WHERE id = $3
	`, summary, string(status), id)
	if err != nil {
		return &PersistenceError{Op: "update message summary", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AttachToBucket finds or creates the day bucket and links the message.
func (s *PostgresStore) AttachToBucket(ctx context.Context, messageID int64, day time.Time) (*models.DayBucket, error) {
	key := formatDay(day.In(s.loc))

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, &PersistenceError{Op: "begin attach", Err: err}
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO day_buckets (day) VALUES ($1::date)
		ON CONFLICT (day) DO NOTHING
	`, key); err != nil {
		return nil, &PersistenceError{Op: "insert bucket", Err: err}
	}

	bucket, err := s.scanBucket(tx.QueryRow(ctx, `
		SELECT id, to_char(day, 'YYYY-MM-DD'), summary, summary_status
		FROM day_buckets WHERE day = $1::date
	`, key))
	if err != nil {
		return nil, &PersistenceError{Op: "load bucket", Err: err}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO message_days (message_id, bucket_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, messageID, bucket.ID); err != nil {
		return nil, &PersistenceError{Op: "associate message", Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, &PersistenceError{Op: "commit attach", Err: err}
	}
	return bucket, nil
}

// SetDaySummary replaces a bucket's aggregate summary.
func (s *PostgresStore) SetDaySummary(ctx context.Context, bucketID int64, summary *string, status models.SummaryStatus) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &PersistenceError{Op: "begin day summary", Err: err}
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE day_buckets SET summary = $1, summary_status = $2 WHERE id = $3
	`, summary, string(status), bucketID)
	if err != nil {
		return &PersistenceError{Op: "update day summary", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	if err := tx.Commit(ctx); err != nil {
		return &PersistenceError{Op: "commit day summary", Err: err}
	}
	return nil
}

// ListDays returns all buckets, newest first, with their messages.
func (s *PostgresStore) ListDays(ctx context.Context) ([]models.DayBucket, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, to_char(day, 'YYYY-MM-DD'), summary, summary_status
		FROM day_buckets
		ORDER BY day DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query buckets: %w", err)
	}
	buckets, err := s.collectBuckets(rows)
	if err != nil {
		return nil, err
	}

	msgRows, err := s.pool.Query(ctx, `
		SELECT md.bucket_id, `+prefixed("m", pgMessageColumns)+`
		FROM message_days md
		JOIN messages m ON m.id = md.message_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query bucket messages: %w", err)
	}
	members, err := s.collectBucketMessages(msgRows)
	if err != nil {
		return nil, err
	}
	attachMessages(buckets, members)
	return buckets, nil
}

// GetDay returns one bucket with its messages.
func (s *PostgresStore) GetDay(ctx context.Context, id int64) (*models.DayBucket, error) {
	bucket, err := s.scanBucket(s.pool.QueryRow(ctx, `
		SELECT id, to_char(day, 'YYYY-MM-DD'), summary, summary_status
		FROM day_buckets WHERE id = $1
	`, id))
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT md.bucket_id, `+prefixed("m", pgMessageColumns)+`
		FROM message_days md
		JOIN messages m ON m.id = md.message_id
		WHERE md.bucket_id = $1
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query bucket messages: %w", err)
	}
	members, err := s.collectBucketMessages(rows)
	if err != nil {
		return nil, err
	}
	buckets := []models.DayBucket{*bucket}
	attachMessages(buckets, members)
	return &buckets[0], nil
}

// DayBodies returns the bodies of a bucket's messages in received order.
func (s *PostgresStore) DayBodies(ctx context.Context, id int64) ([]string, error) {
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
func (s *PostgresStore) UnbucketedMessages(ctx context.Context) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+pgMessageColumns+` FROM messages m
		WHERE NOT EXISTS (SELECT 1 FROM message_days md WHERE md.message_id = m.id)
		ORDER BY received_at, id`)
	if err != nil {
		return nil, fmt.Errorf("querying unbucketed messages: %w", err)
	}
	defer rows.Close()

	msgs := []models.Message{}
	for rows.Next() {
		m, err := s.scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) scanMessage(row pgx.Row) (*models.Message, error) {
	var m models.Message
	var status string
	err := row.Scan(&m.ID, &m.SourceID, &m.Subject, &m.Author, &m.Body,
		&m.ReceivedAt, &m.Summary, &status, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m.SummaryStatus = models.SummaryStatus(status)
	m.ReceivedAt = m.ReceivedAt.In(s.loc)
	return &m, nil
}

func (s *PostgresStore) scanBucket(row pgx.Row) (*models.DayBucket, error) {
	var b models.DayBucket
	var day, status string
	err := row.Scan(&b.ID, &day, &b.Summary, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if b.Date, err = parseDay(day, s.loc); err != nil {
		return nil, err
	}
	b.SummaryStatus = models.SummaryStatus(status)
	return &b, nil
}

func (s *PostgresStore) collectBuckets(rows pgx.Rows) ([]models.DayBucket, error) {
	defer rows.Close()
	buckets := []models.DayBucket{}
	for rows.Next() {
		b, err := s.scanBucket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		buckets = append(buckets, *b)
	}
	return buckets, rows.Err()
}

func (s *PostgresStore) collectBucketMessages(rows pgx.Rows) ([]bucketMessage, error) {
	defer rows.Close()
	var out []bucketMessage
	for rows.Next() {
		var bm bucketMessage
		var status string
		m := &bm.msg
		if err := rows.Scan(&bm.bucketID, &m.ID, &m.SourceID, &m.Subject, &m.Author, &m.Body,
			&m.ReceivedAt, &m.Summary, &status, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan bucket message: %w", err)
		}
		m.SummaryStatus = models.SummaryStatus(status)
		m.ReceivedAt = m.ReceivedAt.In(s.loc)
		out = append(out, bm)
	}
	return out, rows.Err()
}

func locationOrUTC(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}
