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

package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bcem/digest/internal/models"
)

// DaySummaryResult is the outcome of summarizing one day bucket.
type DaySummaryResult struct {
	BucketID int64                `json:"day_id"`
	Summary  string               `json:"summary"`
	Status   models.SummaryStatus `json:"summary_status"`
	// Persisted reports whether the bucket's stored summary was replaced.
	Persisted bool `json:"persisted"`
}

// SummarizeDay recomputes a bucket's aggregate summary from the bodies of
// its messages. Only a generated summary replaces the stored one; failure
// and empty outcomes are returned with their sentinel text and leave the
// bucket untouched. A missing bucket returns store.ErrNotFound.
func (o *Orchestrator) SummarizeDay(ctx context.Context, bucketID int64) (*DaySummaryResult, error) {
	bodies, err := o.store.DayBodies(ctx, bucketID)
	if err != nil {
		return nil, fmt.Errorf("load day %d: %w", bucketID, err)
	}

	outcome := o.summarizer.SummarizeDay(ctx, bodies)
	o.metrics.Summary("day", string(outcome.Status))

	result := &DaySummaryResult{
		BucketID: bucketID,
		Summary:  outcome.Text,
		Status:   outcome.Status,
	}
	if !outcome.OK() {
		slog.Warn("day summary unavailable",
			"bucket_id", bucketID,
			"status", outcome.Status,
			"messages", len(bodies),
			"error", outcome.Err,
		)
		return result, nil
	}

	if err := o.store.SetDaySummary(ctx, bucketID, outcome.Summary(), outcome.Status); err != nil {
		return nil, fmt.Errorf("store day %d summary: %w", bucketID, err)
	}
	result.Persisted = true

	slog.Info("day summary stored", "bucket_id", bucketID, "messages", len(bodies))
	return result, nil
}

// ResummarizeMessage generates a message's summary again. A failed retry
// never replaces a summary that was already generated.
func (o *Orchestrator) ResummarizeMessage(ctx context.Context, messageID int64) (*models.Message, error) {
	msg, err := o.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("load message %d: %w", messageID, err)
	}

	outcome := o.summarizer.SummarizeMessage(ctx, msg.Body)
	o.metrics.Summary("message", string(outcome.Status))

	if !outcome.OK() && msg.SummaryStatus == models.SummaryOK {
		slog.Warn("message summary retry failed, keeping previous summary",
			"message_id", messageID,
			"error", outcome.Err,
		)
		return msg, nil
	}

	if err := o.store.SetMessageSummary(ctx, messageID, outcome.Summary(), outcome.Status); err != nil {
		return nil, fmt.Errorf("store message %d summary: %w", messageID, err)
	}
	msg.Summary = outcome.Summary()
	msg.SummaryStatus = outcome.Status
	return msg, nil
}
