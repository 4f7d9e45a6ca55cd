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

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bcem/digest/internal/mailbox"
	"github.com/bcem/digest/internal/models"
	"github.com/bcem/digest/internal/pipeline"
	"github.com/bcem/digest/internal/store"
	"github.com/bcem/digest/internal/summary"
)

type fakePipeline struct {
	mu        sync.Mutex
	store     store.Store
	runResult *pipeline.RunResult
	runErr    error
	dayStatus models.SummaryStatus
	dayText   string
	calls     []string
}

func (p *fakePipeline) Run(ctx context.Context) (*pipeline.RunResult, error) {
	p.record("run")
	return p.runResult, p.runErr
}

func (p *fakePipeline) SummarizeDay(ctx context.Context, id int64) (*pipeline.DaySummaryResult, error) {
	p.record(fmt.Sprintf("day:%d", id))
	if _, err := p.store.GetDay(ctx, id); err != nil {
		return nil, err
	}
	res := &pipeline.DaySummaryResult{BucketID: id, Summary: p.dayText, Status: p.dayStatus}
	if p.dayStatus == models.SummaryOK {
		text := p.dayText
		if err := p.store.SetDaySummary(ctx, id, &text, models.SummaryOK); err != nil {
			return nil, err
		}
		res.Persisted = true
	}
	return res, nil
}

func (p *fakePipeline) ResummarizeMessage(ctx context.Context, id int64) (*models.Message, error) {
	p.record(fmt.Sprintf("message:%d", id))
	return p.store.GetMessage(ctx, id)
}

func (p *fakePipeline) record(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
}

type fakeFolders struct {
	folders []string
	err     error
}

func (f *fakeFolders) ListFolders(ctx context.Context) ([]string, error) {
	return f.folders, f.err
}

type fakePinger struct{ err error }

func (f *fakePinger) Ping(ctx context.Context) error { return f.err }

type fixture struct {
	store    *store.SQLiteStore
	pipeline *fakePipeline
	mux      *http.ServeMux
	dayIDs   []int64
	msgIDs   []int64
}

// newFixture stores two days: Jan 2 with one message and Jan 1 with two.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	loc, _ := time.LoadLocation("Europe/Madrid")
	st, err := store.NewSQLiteStore(":memory:", loc)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	f := &fixture{store: st}
	ctx := context.Background()
	for i, at := range []time.Time{
		time.Date(2024, 1, 1, 9, 0, 0, 0, loc),
		time.Date(2024, 1, 1, 18, 0, 0, 0, loc),
		time.Date(2024, 1, 2, 7, 0, 0, 0, loc),
	} {
		msg, _, err := st.UpsertMessage(ctx, models.NewMessage{
			SourceID:      fmt.Sprintf("m%d@example.com", i),
			Subject:       fmt.Sprintf("Issue %d", i),
			Author:        "News <news@example.com>",
			Body:          fmt.Sprintf("body %d", i),
			ReceivedAt:    at,
			SummaryStatus: models.SummaryFailed,
		})
		if err != nil {
			t.Fatalf("upsert: %v", err)
		}
		bucket, err := st.AttachToBucket(ctx, msg.ID, time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, loc))
		if err != nil {
			t.Fatalf("attach: %v", err)
		}
		f.msgIDs = append(f.msgIDs, msg.ID)
		if len(f.dayIDs) == 0 || f.dayIDs[len(f.dayIDs)-1] != bucket.ID {
			f.dayIDs = append(f.dayIDs, bucket.ID)
		}
	}

	f.pipeline = &fakePipeline{store: st, dayStatus: models.SummaryOK, dayText: "digest"}
	f.mux = http.NewServeMux()
	NewHandler(st, f.pipeline, &fakeFolders{folders: []string{"INBOX", "Newsletters"}}, nil).Register(f.mux)
	return f
}

func (f *fixture) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

// TestListDays verifies days are newest first with messages but no bodies.
func TestListDays(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/days")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	var days []dayView
	if err := json.Unmarshal(rec.Body.Bytes(), &days); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(days) != 2 || days[0].Date != "2024-01-02" || days[1].Date != "2024-01-01" {
		t.Fatalf("days = %+v", days)
	}
	if len(days[1].Messages) != 2 {
		t.Errorf("Jan 1 messages = %d, want 2", len(days[1].Messages))
	}
	if days[1].Messages[0].Body != nil {
		t.Error("list view must not include bodies")
	}
	if days[1].Messages[0].SummaryStatus != models.SummaryFailed {
		t.Errorf("status = %q", days[1].Messages[0].SummaryStatus)
	}
}

// TestGetDay verifies detail view, not found and bad ids.
func TestGetDay(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, fmt.Sprintf("/days/%d", f.dayIDs[0]))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var day dayView
	if err := json.Unmarshal(rec.Body.Bytes(), &day); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(day.Messages) != 2 || day.Messages[0].Body == nil || *day.Messages[0].Body != "body 0" {
		t.Errorf("day = %+v", day)
	}

	tests := []struct {
		path string
		want int
	}{
		{"/days/999", http.StatusNotFound},
		{"/days/abc", http.StatusBadRequest},
		{"/days/0", http.StatusBadRequest},
	}
	for _, tt := range tests {
		if rec := f.do(t, http.MethodGet, tt.path); rec.Code != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.path, rec.Code, tt.want)
		}
	}
}

// TestSummarizeDayEndpoints verifies both summary triggers and their errors.
func TestSummarizeDayEndpoints(t *testing.T) {
	f := newFixture(t)
	id := f.dayIDs[0]

	rec := f.do(t, http.MethodPost, fmt.Sprintf("/days/%d/summarize", id))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var day dayView
	_ = json.Unmarshal(rec.Body.Bytes(), &day)
	if day.Summary == nil || *day.Summary != "digest" {
		t.Errorf("summary = %v", day.Summary)
	}

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/summarize/day/%d", id))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var res map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &res)
	if res["summary"] != "digest" || res["day_id"] != float64(id) {
		t.Errorf("response = %v", res)
	}

	f.pipeline.dayStatus = models.SummaryFailed
	f.pipeline.dayText = summary.FailedDaySentinel
	rec = f.do(t, http.MethodPost, fmt.Sprintf("/summarize/day/%d", id))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("failed summary status = %d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), summary.FailedDaySentinel) {
		t.Errorf("body = %s", rec.Body)
	}

	if rec := f.do(t, http.MethodPost, "/days/999/summarize"); rec.Code != http.StatusNotFound {
		t.Errorf("missing day status = %d, want 404", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/summarize/day/999"); rec.Code != http.StatusNotFound {
		t.Errorf("missing day status = %d, want 404", rec.Code)
	}
}

// TestResummarizeMessage verifies the message endpoint.
func TestResummarizeMessage(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, fmt.Sprintf("/messages/%d/summarize", f.msgIDs[1]))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/messages/999/summarize"); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

// TestIngest verifies run results and error status mapping.
func TestIngest(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"ok", nil, http.StatusOK},
		{"in progress", pipeline.ErrRunInProgress, http.StatusConflict},
		{"connection", fmt.Errorf("run: %w", &mailbox.ConnectionError{Addr: "imap:993", Err: errors.New("refused")}), http.StatusBadGateway},
		{"search", fmt.Errorf("run: %w", &mailbox.SearchError{Folder: "X", Err: errors.New("NO")}), http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.pipeline.runResult = &pipeline.RunResult{RunID: "r1", Items: []pipeline.Item{}, Failures: []pipeline.Failure{}}
			f.pipeline.runErr = tt.err

			rec := f.do(t, http.MethodPost, "/ingest")
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.err == nil && !strings.Contains(rec.Body.String(), `"run_id":"r1"`) {
				t.Errorf("body = %s", rec.Body)
			}
		})
	}
}

// TestListFolders verifies folder listing and upstream failure.
func TestListFolders(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/folders")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Newsletters") {
		t.Errorf("status = %d, body = %s", rec.Code, rec.Body)
	}

	mux := http.NewServeMux()
	NewHandler(f.store, f.pipeline, &fakeFolders{err: errors.New("imap down")}, nil).Register(mux)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/folders", nil))
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

// TestHealth verifies dependency checks.
func TestHealth(t *testing.T) {
	f := newFixture(t)
	if rec := f.do(t, http.MethodGet, "/health"); rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}

	mux := http.NewServeMux()
	NewHandler(f.store, f.pipeline, nil, &fakePinger{err: errors.New("down")}).Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

// TestMethodRouting verifies verbs are enforced by the mux patterns.
func TestMethodRouting(t *testing.T) {
	f := newFixture(t)
	if rec := f.do(t, http.MethodGet, "/ingest"); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /ingest status = %d, want 405", rec.Code)
	}
}
