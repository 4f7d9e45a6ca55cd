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

// Package queue publishes ingest events to a Redis list for downstream
// consumers.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/bcem/digest/internal/models"
)

// EventMessageIngested is the envelope type of an IngestEvent.
const EventMessageIngested = "digest.message_ingested"

// Client is the subset of Redis commands used by Publisher.
// *redis.Client satisfies it.
type Client interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// Publisher sends ingest events to Redis.
type Publisher struct {
	rdb       Client
	queueName string
}

// NewPublisher creates a new Redis publisher targeting the specified list.
func NewPublisher(rdb Client, queueName string) *Publisher {
	return &Publisher{
		rdb:       rdb,
		queueName: queueName,
	}
}

// envelope wraps an event for transport. Consumers switch on Type.
type envelope struct {
	ID          string              `json:"id"`
	Type        string              `json:"type"`
	PublishedAt string              `json:"published_at"`
	Payload     *models.IngestEvent `json:"payload"`
}

// PublishIngestEvent serialises an ingest event and LPUSHes it to the list.
// An empty EventID is filled with a new UUID.
func (p *Publisher) PublishIngestEvent(ctx context.Context, event *models.IngestEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}

	msg := envelope{
		ID:          event.EventID,
		Type:        EventMessageIngested,
		PublishedAt: time.Now().UTC().Format(time.RFC3339),
		Payload:     event,
	}
	msgJSON, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal ingest event: %w", err)
	}

	if err := p.rdb.LPush(ctx, p.queueName, string(msgJSON)).Err(); err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}

	slog.Info("published ingest event",
		"event_id", event.EventID,
		"source_id", event.SourceID,
		"run_id", event.RunID,
		"queue", p.queueName,
	)

	return nil
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}
