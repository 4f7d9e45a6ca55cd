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

// Package store persists messages, day buckets and the association between
// them. Uniqueness of message source ids and bucket dates is enforced by the
// database, and every create is an insert-or-return-existing so concurrent
// runs converge on one row.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bcem/digest/internal/config"
	"github.com/bcem/digest/internal/models"
)

// dayLayout is the storage form of a bucket date key.
const dayLayout = "2006-01-02"

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// PersistenceError reports a failed write. Any transaction it ran in has
// been rolled back.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Store is the persistence boundary of the pipeline and the read API.
type Store interface {
	// FindMessage returns the message with sourceID or ErrNotFound.
	FindMessage(ctx context.Context, sourceID string) (*models.Message, error)
	// GetMessage returns the message with id or ErrNotFound.
	GetMessage(ctx context.Context, id int64) (*models.Message, error)
	// UpsertMessage creates the message unless its source id is already
	// stored, in which case the existing record is returned unchanged.
	// created reports whether this call inserted the row.
	UpsertMessage(ctx context.Context, m models.NewMessage) (msg *models.Message, created bool, err error)
	// SetMessageSummary replaces a message's summary and status.
	SetMessageSummary(ctx context.Context, id int64, summary *string, status models.SummaryStatus) error
	// AttachToBucket finds or creates the bucket for day and associates the
	// message with it. Repeated calls add no duplicate association.
	AttachToBucket(ctx context.Context, messageID int64, day time.Time) (*models.DayBucket, error)
	// SetDaySummary replaces a bucket's aggregate summary in one transaction.
	SetDaySummary(ctx context.Context, bucketID int64, summary *string, status models.SummaryStatus) error
	// ListDays returns every bucket with its messages, newest date first.
	ListDays(ctx context.Context) ([]models.DayBucket, error)
	// GetDay returns one bucket with its messages or ErrNotFound.
	GetDay(ctx context.Context, id int64) (*models.DayBucket, error)
	// DayBodies returns the bodies of a bucket's messages in received order.
	DayBodies(ctx context.Context, id int64) ([]string, error)
	// UnbucketedMessages returns stored messages that have no day
	// association, oldest first.
	UnbucketedMessages(ctx context.Context) ([]models.Message, error)
	Ping(ctx context.Context) error
	Close() error
}

// Open connects to the configured backend. loc is the canonical timezone
// bucket dates are expressed in.
func Open(ctx context.Context, cfg config.DatabaseConfig, loc *time.Location) (Store, error) {
	switch cfg.Driver {
	case "postgres", "":
		return NewPostgresStore(ctx, cfg.URL, loc)
	case "sqlite":
		return NewSQLiteStore(cfg.URL, loc)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func formatDay(t time.Time) string {
	return t.Format(dayLayout)
}

func parseDay(s string, loc *time.Location) (time.Time, error) {
	d, err := time.ParseInLocation(dayLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse bucket date %q: %w", s, err)
	}
	return d, nil
}

func statusOrPending(s models.SummaryStatus) models.SummaryStatus {
	if s == "" {
		return models.SummaryPending
	}
	return s
}

// bucketMessage pairs a message with the bucket it belongs to.
type bucketMessage struct {
	bucketID int64
	msg      models.Message
}

// attachMessages distributes messages into their buckets, ordered by
// received time within each bucket.
func attachMessages(buckets []models.DayBucket, rows []bucketMessage) {
	index := make(map[int64]int, len(buckets))
	for i := range buckets {
		index[buckets[i].ID] = i
		buckets[i].Messages = []models.Message{}
	}
	for _, r := range rows {
		if i, ok := index[r.bucketID]; ok {
			buckets[i].Messages = append(buckets[i].Messages, r.msg)
		}
	}
	for i := range buckets {
		msgs := buckets[i].Messages
		sort.SliceStable(msgs, func(a, b int) bool {
			if msgs[a].ReceivedAt.Equal(msgs[b].ReceivedAt) {
				return msgs[a].ID < msgs[b].ID
			}
			return msgs[a].ReceivedAt.Before(msgs[b].ReceivedAt)
		})
	}
}

// prefixed qualifies a comma separated column list with a table alias.
func prefixed(alias, columns string) string {
	cols := strings.Split(columns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}
