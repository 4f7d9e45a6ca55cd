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

// Package summary turns message bodies into generated summaries. Generation
// failures never propagate: they come back as an Outcome carrying a sentinel
// text and a failed status so callers can persist the item regardless.
package summary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bcem/digest/internal/config"
	"github.com/bcem/digest/internal/models"
)

// Sentinel texts returned in place of a generated summary.
const (
	FailedMessageSentinel = "Summary unavailable: generation failed."
	FailedDaySentinel     = "Day summary unavailable: generation failed."
	EmptyDaySentinel      = "Nothing to summarize for this day."
)

const (
	defaultMessagePrompt = `Analyze the following text and summarize it in two parts:

1. Key points: list the main ideas, the most relevant concepts and any important conclusion.
2. Concise summary: a clear, well structured summary of no more than 100 words.

Text:`

	defaultDayPrompt = `Analyze the following set of newsletters and summarize them in two parts:

1. Outline of key points: the main topics covered, as a numbered or bulleted list, highlighting recurring themes.
2. Development: explain each point briefly and note any relation between them.

Newsletters:`
)

// ErrUnavailable wraps every generator failure recorded on an Outcome.
var ErrUnavailable = errors.New("summary unavailable")

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Outcome is the result of one summarization attempt.
type Outcome struct {
	Text   string
	Status models.SummaryStatus
	// Err is the cause when Status is failed.
	Err error
}

// OK reports whether Text is a real generated summary.
func (o Outcome) OK() bool {
	return o.Status == models.SummaryOK
}

// Summary returns the text to persist, or nil when there is no real summary.
func (o Outcome) Summary() *string {
	if !o.OK() {
		return nil
	}
	text := o.Text
	return &text
}

// Service summarizes single messages and whole days.
type Service struct {
	gen           Generator
	messagePrompt string
	dayPrompt     string
}

// NewService creates a summary service. Empty prompts use the built-in
// defaults.
func NewService(gen Generator, messagePrompt, dayPrompt string) *Service {
	if strings.TrimSpace(messagePrompt) == "" {
		messagePrompt = defaultMessagePrompt
	}
	if strings.TrimSpace(dayPrompt) == "" {
		dayPrompt = defaultDayPrompt
	}
	return &Service{gen: gen, messagePrompt: messagePrompt, dayPrompt: dayPrompt}
}

// NewFromConfig builds the service for the configured provider.
func NewFromConfig(cfg config.SummaryConfig, httpClient *http.Client) (*Service, error) {
	var gen Generator
	switch cfg.Provider {
	case "gemini", "":
		gen = NewGeminiClient(httpClient, cfg.BaseURL, cfg.Model, cfg.APIKey, cfg.Timeout)
	case "none":
		gen = Noop{}
	default:
		return nil, fmt.Errorf("unknown summary provider %q", cfg.Provider)
	}
	return NewService(gen, cfg.MessagePrompt, cfg.DayPrompt), nil
}

// SummarizeMessage summarizes one message body. An empty body yields an
// empty outcome without calling the generator.
func (s *Service) SummarizeMessage(ctx context.Context, body string) Outcome {
	if strings.TrimSpace(body) == "" {
		return Outcome{Status: models.SummaryEmpty}
	}
	text, err := s.gen.Generate(ctx, buildPrompt(s.messagePrompt, body))
	if err != nil {
		slog.Error("message summary failed", "error", err)
		return Outcome{
			Text:   FailedMessageSentinel,
			Status: models.SummaryFailed,
			Err:    fmt.Errorf("%w: %w", ErrUnavailable, err),
		}
	}
	return Outcome{Text: text, Status: models.SummaryOK}
}

// SummarizeDay summarizes the bodies of one day. Empty bodies are skipped;
// when nothing remains the generator is not called.
func (s *Service) SummarizeDay(ctx context.Context, bodies []string) Outcome {
	combined := JoinBodies(bodies)
	if combined == "" {
		return Outcome{Text: EmptyDaySentinel, Status: models.SummaryEmpty}
	}
	text, err := s.gen.Generate(ctx, buildPrompt(s.dayPrompt, combined))
	if err != nil {
		slog.Error("day summary failed", "error", err)
		return Outcome{
			Text:   FailedDaySentinel,
			Status: models.SummaryFailed,
			Err:    fmt.Errorf("%w: %w", ErrUnavailable, err),
		}
	}
	return Outcome{Text: text, Status: models.SummaryOK}
}

// JoinBodies concatenates the non-empty bodies with a single space.
func JoinBodies(bodies []string) string {
	parts := make([]string, 0, len(bodies))
	for _, b := range bodies {
		if b != "" {
			parts = append(parts, b)
		}
	}
	return strings.Join(parts, " ")
}

func buildPrompt(instructions, text string) string {
	return instructions + "\n\n" + text
}

// Noop is the generator for provider "none". Every call fails, so all
// summaries are recorded as failed and can be generated later.
type Noop struct{}

func (Noop) Generate(context.Context, string) (string, error) {
	return "", errors.New("summarization disabled")
}
