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

// Package api serves the HTTP read operations over stored days and
// messages, plus endpoints to trigger ingestion and summaries.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/bcem/digest/internal/mailbox"
	"github.com/bcem/digest/internal/models"
	"github.com/bcem/digest/internal/pipeline"
	"github.com/bcem/digest/internal/store"
)

// Pipeline is the orchestrator surface used by the API.
type Pipeline interface {
	Run(ctx context.Context) (*pipeline.RunResult, error)
	SummarizeDay(ctx context.Context, bucketID int64) (*pipeline.DaySummaryResult, error)
	ResummarizeMessage(ctx context.Context, messageID int64) (*models.Message, error)
}

// FolderLister lists mailbox folders.
type FolderLister interface {
	ListFolders(ctx context.Context) ([]string, error)
}

// Pinger checks a dependency's health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the API endpoints.
type Handler struct {
	store    store.Store
	pipeline Pipeline
	folders  FolderLister
	redis    Pinger
}

// NewHandler creates an API handler. folders and redis may be nil.
func NewHandler(st store.Store, p Pipeline, folders FolderLister, redis Pinger) *Handler {
	return &Handler{
		store:    st,
		pipeline: p,
		folders:  folders,
		redis:    redis,
	}
}

// Register mounts the endpoints on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /days", h.listDays)
	mux.HandleFunc("GET /days/{id}", h.getDay)
	mux.HandleFunc("POST /days/{id}/summarize", h.resummarizeDay)
	mux.HandleFunc("POST /summarize/day/{id}", h.summarizeDay)
	mux.HandleFunc("POST /messages/{id}/summarize", h.resummarizeMessage)
	mux.HandleFunc("POST /ingest", h.ingest)
	mux.HandleFunc("GET /folders", h.listFolders)
}

type messageView struct {
	ID            int64                `json:"id"`
	SourceID      string               `json:"source_id"`
	Subject       string               `json:"subject"`
	Author        string               `json:"author"`
	Body          *string              `json:"body,omitempty"`
	Summary       *string              `json:"summary"`
	SummaryStatus models.SummaryStatus `json:"summary_status"`
	ReceivedAt    string               `json:"received_at"`
}

type dayView struct {
	ID            int64                `json:"id"`
	Date          string               `json:"date"`
	Summary       *string              `json:"summary"`
	SummaryStatus models.SummaryStatus `json:"summary_status"`
	Messages      []messageView        `json:"messages"`
}

func newMessageView(m models.Message, withBody bool) messageView {
	v := messageView{
		ID:            m.ID,
		SourceID:      m.SourceID,
		Subject:       m.Subject,
		Author:        m.Author,
		Summary:       m.Summary,
		SummaryStatus: m.SummaryStatus,
		ReceivedAt:    m.ReceivedAt.Format(time.RFC3339),
	}
	if withBody {
		body := m.Body
		v.Body = &body
	}
	return v
}

func newDayView(d models.DayBucket, withBody bool) dayView {
	v := dayView{
		ID:            d.ID,
		Date:          d.Date.Format("2006-01-02"),
		Summary:       d.Summary,
		SummaryStatus: d.SummaryStatus,
		Messages:      make([]messageView, 0, len(d.Messages)),
	}
	for _, m := range d.Messages {
		v.Messages = append(v.Messages, newMessageView(m, withBody))
	}
	return v
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unhealthy")
		return
	}
	if h.redis != nil {
		if err := h.redis.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "redis unhealthy")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) listDays(w http.ResponseWriter, r *http.Request) {
	days, err := h.store.ListDays(r.Context())
	if err != nil {
		slog.Error("list days failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list days")
		return
	}
	out := make([]dayView, 0, len(days))
	for _, d := range days {
		out = append(out, newDayView(d, false))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getDay(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	day, err := h.store.GetDay(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "day not found")
		return
	}
	if err != nil {
		slog.Error("get day failed", "bucket_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load day")
		return
	}
	writeJSON(w, http.StatusOK, newDayView(*day, true))
}

// resummarizeDay recomputes the day summary and returns the updated day.
func (h *Handler) resummarizeDay(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, err := h.pipeline.SummarizeDay(r.Context(), id); err != nil {
		h.summaryError(w, id, err)
		return
	}
	day, err := h.store.GetDay(r.Context(), id)
	if err != nil {
		h.summaryError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, newDayView(*day, false))
}

// summarizeDay returns the summary text, failing with 500 when only a
// failure sentinel could be produced.
func (h *Handler) summarizeDay(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	result, err := h.pipeline.SummarizeDay(r.Context(), id)
	if err != nil {
		h.summaryError(w, id, err)
		return
	}
	if result.Status == models.SummaryFailed {
		writeError(w, http.StatusInternalServerError, result.Summary)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) resummarizeMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	msg, err := h.pipeline.ResummarizeMessage(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	if err != nil {
		slog.Error("message summary failed", "message_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to summarize message")
		return
	}
	writeJSON(w, http.StatusOK, newMessageView(*msg, true))
}

func (h *Handler) ingest(w http.ResponseWriter, r *http.Request) {
	result, err := h.pipeline.Run(r.Context())
	if err != nil {
		var connErr *mailbox.ConnectionError
		var searchErr *mailbox.SearchError
		switch {
		case errors.Is(err, pipeline.ErrRunInProgress):
			writeError(w, http.StatusConflict, err.Error())
		case errors.As(err, &connErr), errors.As(err, &searchErr):
			writeError(w, http.StatusBadGateway, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) listFolders(w http.ResponseWriter, r *http.Request) {
	if h.folders == nil {
		writeError(w, http.StatusNotImplemented, "folder listing not configured")
		return
	}
	folders, err := h.folders.ListFolders(r.Context())
	if err != nil {
		slog.Error("list folders failed", "error", err)
		writeError(w, http.StatusBadGateway, "failed to list mailbox folders")
		return
	}
	if folders == nil {
		folders = []string{}
	}
	writeJSON(w, http.StatusOK, folders)
}

func (h *Handler) summaryError(w http.ResponseWriter, id int64, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "day not found")
		return
	}
	slog.Error("day summary failed", "bucket_id", id, "error", err)
	writeError(w, http.StatusInternalServerError, "failed to summarize day")
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
