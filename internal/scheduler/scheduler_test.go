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

package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// TestRun_ImmediateFirstRun verifies the job runs before the first trigger
// and Run returns once the context is cancelled.
func TestRun_ImmediateFirstRun(t *testing.T) {
	var runs atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())

	s, err := New("ingest", "@every 1h", time.UTC, func(ctx context.Context) error {
		runs.Add(1)
		cancel()
		return nil
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	if got := runs.Load(); got != 1 {
		t.Errorf("runs = %d, want 1", got)
	}
}

// TestRun_JobErrorIsNotFatal verifies a failing job does not stop the scheduler.
func TestRun_JobErrorIsNotFatal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s, err := New("ingest", "*/5 * * * *", time.UTC, func(ctx context.Context) error {
		defer cancel()
		return errors.New("imap down")
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	s.Run(ctx)
}

// TestRun_CancelledBeforeStart verifies no job runs on a cancelled context.
func TestRun_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var runs atomic.Int32
	s, err := New("ingest", "@hourly", nil, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	s.Run(ctx)
	if runs.Load() != 0 {
		t.Errorf("runs = %d, want 0", runs.Load())
	}
}

// TestNew_InvalidSchedule verifies malformed expressions are rejected.
func TestNew_InvalidSchedule(t *testing.T) {
	for _, schedule := range []string{"", "not a cron", "@every nope", "61 * * * *"} {
		if _, err := New("ingest", schedule, time.UTC, func(context.Context) error { return nil }); err == nil {
			t.Errorf("schedule %q: expected error", schedule)
		}
	}
}
