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

// Package pipeline runs ingestion passes: it drains the unread messages of
// one folder into the store, one message at a time, and computes day
// summaries on demand.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bcem/digest/internal/mailbox"
	"github.com/bcem/digest/internal/metrics"
	"github.com/bcem/digest/internal/mimetext"
	"github.com/bcem/digest/internal/models"
	"github.com/bcem/digest/internal/store"
	"github.com/bcem/digest/internal/summary"
	"github.com/bcem/digest/internal/timestamp"
)

// ErrRunInProgress is returned when a run is requested while another run
// in this process has not finished.
var ErrRunInProgress = errors.New("ingestion run already in progress")

// Processing stages recorded on a Failure.
const (
	StageFetch     = "fetch"
	StageExtract   = "extract"
	StageLookup    = "lookup"
	StagePersist   = "persist"
	StageAssociate = "associate"
)

// Mailbox opens scoped mail sessions. *mailbox.Service satisfies it.
type Mailbox interface {
	WithSession(ctx context.Context, fn func(mailbox.Session) error) error
}

// Summarizer produces message and day summaries. *summary.Service satisfies it.
type Summarizer interface {
	SummarizeMessage(ctx context.Context, body string) summary.Outcome
	SummarizeDay(ctx context.Context, bodies []string) summary.Outcome
}

// Publisher receives an event for every ingested message.
type Publisher interface {
	PublishIngestEvent(ctx context.Context, event *models.IngestEvent) error
}

// SeenFilter reports whether an id is being seen for the first time.
type SeenFilter interface {
	IsNew(ctx context.Context, id string) (bool, error)
}

// Config holds the orchestrator's collaborators. Publisher, Dedup and
// Metrics are optional.
type Config struct {
	Mailbox    Mailbox
	Store      store.Store
	Summarizer Summarizer
	Resolver   *timestamp.Resolver
	Folder     string
	Publisher  Publisher
	Dedup      SeenFilter
	Metrics    *metrics.Metrics
}

// Orchestrator runs ingestion passes. Runs are serialized within a process.
type Orchestrator struct {
	mailbox    Mailbox
	store      store.Store
	summarizer Summarizer
	resolver   *timestamp.Resolver
	folder     string
	publisher  Publisher
	dedup      SeenFilter
	metrics    *metrics.Metrics

	mu sync.Mutex
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(cfg Config) *Orchestrator {
	resolver := cfg.Resolver
	if resolver == nil {
		resolver = timestamp.NewResolver(nil)
	}
	folder := cfg.Folder
	if folder == "" {
		folder = "INBOX"
	}
	return &Orchestrator{
		mailbox:    cfg.Mailbox,
		store:      cfg.Store,
		summarizer: cfg.Summarizer,
		resolver:   resolver,
		folder:     folder,
		publisher:  cfg.Publisher,
		dedup:      cfg.Dedup,
		metrics:    cfg.Metrics,
	}
}

// Item is a message that made it into the store during a run.
type Item struct {
	UID           uint32               `json:"uid"`
	SourceID      string               `json:"source_id"`
	MessageID     int64                `json:"message_id"`
	BucketID      int64                `json:"bucket_id"`
	BucketDate    string               `json:"bucket_date"`
	Subject       string               `json:"subject"`
	Created       bool                 `json:"created"`
	SummaryStatus models.SummaryStatus `json:"summary_status"`
}

// Failure is a message skipped during a run.
type Failure struct {
	UID      uint32 `json:"uid"`
	SourceID string `json:"source_id,omitempty"`
	Stage    string `json:"stage"`
	Error    string `json:"error"`
}

// RunResult summarises one ingestion pass. Reattached counts messages from
// earlier runs that were missing their day association.
type RunResult struct {
	RunID      string        `json:"run_id"`
	Folder     string        `json:"folder"`
	Found      int           `json:"found"`
	Items      []Item        `json:"items"`
	Skipped    int           `json:"skipped"`
	Failures   []Failure     `json:"failures"`
	Reattached int           `json:"reattached"`
	Elapsed    time.Duration `json:"elapsed_ns"`
}

// Run ingests the unread messages of the configured folder.
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	return o.RunFolder(ctx, o.folder)
}

// RunFolder ingests the unread messages of folder. A failure to connect or
// to enumerate unread messages fails the run; any failure while handling a
// single message skips that message and the run continues. The result is
// returned even when the run fails part way.
func (o *Orchestrator) RunFolder(ctx context.Context, folder string) (*RunResult, error) {
	if !o.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer o.mu.Unlock()

	start := time.Now()
	result := &RunResult{
		RunID:    uuid.New().String(),
		Folder:   folder,
		Items:    []Item{},
		Failures: []Failure{},
	}

	slog.Info("starting ingestion run", "run_id", result.RunID, "folder", folder)

	result.Reattached = o.reattach(ctx, result.RunID)

	err := o.mailbox.WithSession(ctx, func(sess mailbox.Session) error {
		uids, err := sess.FindUnread(folder)
		if err != nil {
			return err
		}
		result.Found = len(uids)
		slog.Info("unread messages found", "run_id", result.RunID, "folder", folder, "count", len(uids))

		for _, uid := range uids {
			if err := ctx.Err(); err != nil {
				return err
			}

			item, failure := o.process(ctx, sess, result.RunID, folder, uid)
			if failure != nil {
				slog.Warn("skipping message",
					"run_id", result.RunID,
					"uid", uid,
					"source_id", failure.SourceID,
					"stage", failure.Stage,
					"error", failure.Error,
				)
				result.Skipped++
				result.Failures = append(result.Failures, *failure)
				o.metrics.Item(metrics.OutcomeSkipped)
				continue
			}

			result.Items = append(result.Items, *item)
			if item.Created {
				o.metrics.Item(metrics.OutcomeOK)
			} else {
				o.metrics.Item(metrics.OutcomeDuplicate)
			}
		}
		return nil
	})

	result.Elapsed = time.Since(start)

	if err != nil {
		o.metrics.ObserveRun(metrics.OutcomeFailed, result.Elapsed)
		slog.Error("ingestion run failed",
			"run_id", result.RunID,
			"folder", folder,
			"processed", len(result.Items),
			"error", err,
		)
		return result, fmt.Errorf("ingestion run %s: %w", result.RunID, err)
	}

	o.metrics.ObserveRun(metrics.OutcomeOK, result.Elapsed)
	slog.Info("ingestion run complete",
		"run_id", result.RunID,
		"folder", folder,
		"found", result.Found,
		"processed", len(result.Items),
		"skipped", result.Skipped,
		"elapsed", result.Elapsed,
	)
	return result, nil
}

// process takes one message through fetch, extract, date resolution,
// summarization, persistence and association.
func (o *Orchestrator) process(ctx context.Context, sess mailbox.Session, runID, folder string, uid uint32) (*Item, *Failure) {
	fail := func(sourceID, stage string, err error) (*Item, *Failure) {
		return nil, &Failure{UID: uid, SourceID: sourceID, Stage: stage, Error: err.Error()}
	}

	raw, err := sess.Fetch(uid)
	if err != nil {
		return fail("", StageFetch, err)
	}

	content, err := mimetext.Extract(raw)
	if err != nil {
		return fail("", StageExtract, err)
	}
	for _, w := range content.Warnings {
		slog.Warn("message decode warning", "run_id", runID, "uid", uid, "error", w)
	}

	sourceID := content.MessageID
	if sourceID == "" {
		sourceID = fmt.Sprintf("imap:%s:%d:%d", folder, sess.UIDValidity(), uid)
	}

	msg, created, err := o.persist(ctx, sourceID, content)
	if err != nil {
		stage := StagePersist
		if !errors.As(err, new(*store.PersistenceError)) {
			stage = StageLookup
		}
		return fail(sourceID, stage, err)
	}

	bucket, err := o.store.AttachToBucket(ctx, msg.ID, o.resolver.DayKey(msg.ReceivedAt))
	if err != nil {
		// The message row is committed; the next run re-attaches it.
		slog.Error("message stored without day bucket",
			"run_id", runID,
			"source_id", sourceID,
			"message_id", msg.ID,
			"error", err,
		)
		return fail(sourceID, StageAssociate, err)
	}

	item := &Item{
		UID:           uid,
		SourceID:      sourceID,
		MessageID:     msg.ID,
		BucketID:      bucket.ID,
		BucketDate:    bucket.Date.Format("2006-01-02"),
		Subject:       msg.Subject,
		Created:       created,
		SummaryStatus: msg.SummaryStatus,
	}
	o.publish(ctx, runID, item, msg)
	return item, nil
}

// reattach associates messages stored by earlier runs whose bucket
// association failed. Fetched messages are already \Seen, so they would
// not come back through the unread search. Errors are logged and the run
// continues.
func (o *Orchestrator) reattach(ctx context.Context, runID string) int {
	orphans, err := o.store.UnbucketedMessages(ctx)
	if err != nil {
		slog.Warn("list unbucketed messages failed", "run_id", runID, "error", err)
		return 0
	}
	n := 0
	for _, m := range orphans {
		if _, err := o.store.AttachToBucket(ctx, m.ID, o.resolver.DayKey(m.ReceivedAt)); err != nil {
			slog.Error("re-attach message failed",
				"run_id", runID,
				"message_id", m.ID,
				"source_id", m.SourceID,
				"error", err,
			)
			continue
		}
		n++
	}
	if n > 0 {
		slog.Info("re-attached unbucketed messages", "run_id", runID, "count", n)
	}
	return n
}

// persist returns the stored message for sourceID, summarizing and
// creating it when it is not stored yet. Existing messages are returned
// unchanged and are not summarized again.
func (o *Orchestrator) persist(ctx context.Context, sourceID string, content *mimetext.Content) (*models.Message, bool, error) {
	existing, err := o.store.FindMessage(ctx, sourceID)
	if err == nil {
		slog.Debug("message already stored", "source_id", sourceID, "message_id", existing.ID)
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, fmt.Errorf("look up message: %w", err)
	}

	receivedAt, ok := o.resolver.Resolve(content.DateHeader)
	if !ok {
		slog.Warn("unparseable date header, using current time",
			"source_id", sourceID,
			"date", content.DateHeader,
		)
	}

	outcome := o.summarizer.SummarizeMessage(ctx, content.Body)
	o.metrics.Summary("message", string(outcome.Status))
	if outcome.Err != nil {
		slog.Warn("message stored without summary", "source_id", sourceID, "error", outcome.Err)
	}

	return o.store.UpsertMessage(ctx, models.NewMessage{
		SourceID:      sourceID,
		Subject:       content.Subject,
		Author:        content.Author,
		Body:          content.Body,
		ReceivedAt:    receivedAt,
		Summary:       outcome.Summary(),
		SummaryStatus: outcome.Status,
	})
}

// publish emits the ingest event. Failures are logged; the message is
// already stored.
func (o *Orchestrator) publish(ctx context.Context, runID string, item *Item, msg *models.Message) {
	if o.publisher == nil {
		return
	}
	if o.dedup != nil {
		isNew, err := o.dedup.IsNew(ctx, "ingest:"+item.SourceID)
		if err != nil {
			slog.Warn("dedup check failed", "source_id", item.SourceID, "error", err)
		} else if !isNew {
			return
		}
	} else if !item.Created {
		return
	}

	event := &models.IngestEvent{
		RunID:         runID,
		SourceID:      item.SourceID,
		MessageID:     item.MessageID,
		BucketID:      item.BucketID,
		BucketDate:    item.BucketDate,
		Subject:       msg.Subject,
		Author:        msg.Author,
		ReceivedAt:    msg.ReceivedAt.Format(time.RFC3339),
		SummaryStatus: msg.SummaryStatus,
	}
	if err := o.publisher.PublishIngestEvent(ctx, event); err != nil {
		slog.Warn("publish ingest event failed", "source_id", item.SourceID, "error", err)
	}
}
