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

// Package models defines the data structures shared across the digest service.
package models

import "time"

// SummaryStatus records whether a stored summary is real generated content.
type SummaryStatus string

const (
	// SummaryPending means no summarization has been attempted yet.
	SummaryPending SummaryStatus = "pending"
	// SummaryOK means Summary holds generated text.
	SummaryOK SummaryStatus = "ok"
	// SummaryFailed means the generator failed; Summary is nil.
	SummaryFailed SummaryStatus = "failed"
	// SummaryEmpty means there was no content to summarize.
	SummaryEmpty SummaryStatus = "empty"
)

// Message is a stored email.
type Message struct {
	ID            int64         `json:"id"`
	SourceID      string        `json:"source_id"`
	Subject       string        `json:"subject"`
	Author        string        `json:"author,omitempty"`
	Body          string        `json:"body,omitempty"`
	ReceivedAt    time.Time     `json:"received_at"`
	Summary       *string       `json:"summary"`
	SummaryStatus SummaryStatus `json:"summary_status"`
	CreatedAt     time.Time     `json:"created_at"`
}

// NewMessage carries the fields needed to create a Message.
type NewMessage struct {
	SourceID      string
	Subject       string
	Author        string
	Body          string
	ReceivedAt    time.Time
	Summary       *string
	SummaryStatus SummaryStatus
}

// DayBucket groups the messages received on one calendar date in the
// canonical timezone.
type DayBucket struct {
	ID            int64         `json:"id"`
	Date          time.Time     `json:"date"`
	Summary       *string       `json:"summary"`
	SummaryStatus SummaryStatus `json:"summary_status"`
	Messages      []Message     `json:"messages"`
}

// IngestEvent is published to Redis for each newly stored message.
//
// Consumers decode this JSON; keep field names stable.
type IngestEvent struct {
	EventID       string        `json:"event_id"`
	RunID         string        `json:"run_id"`
	SourceID      string        `json:"source_id"`
	MessageID     int64         `json:"message_id"`
	BucketID      int64         `json:"bucket_id"`
	BucketDate    string        `json:"bucket_date"`
	Subject       string        `json:"subject"`
	Author        string        `json:"author,omitempty"`
	ReceivedAt    string        `json:"received_at"`
	SummaryStatus SummaryStatus `json:"summary_status"`
}
