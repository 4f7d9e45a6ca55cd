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

// Package scheduler runs a job immediately and then on a cron schedule
// until its context is cancelled.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is the scheduled work. Its error is logged, never fatal.
type Job func(ctx context.Context) error

// Scheduler triggers a Job on a cron schedule. Triggers that fire while
// the previous run is still going are skipped.
type Scheduler struct {
	name     string
	schedule string
	job      Job
	cron     *cron.Cron
	wg       sync.WaitGroup
	ctx      context.Context
}

// New validates schedule and creates a scheduler whose times are
// evaluated in loc. schedule accepts standard five-field cron expressions
// and descriptors such as "@every 15m" or "@hourly".
func New(name, schedule string, loc *time.Location, job Job) (*Scheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	s := &Scheduler{
		name:     name,
		schedule: schedule,
		job:      job,
		ctx:      context.Background(),
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
	}
	if _, err := s.cron.AddFunc(schedule, s.tick); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Run executes the job once, starts the schedule and blocks until ctx is
// cancelled. It returns after any in-flight run has finished.
func (s *Scheduler) Run(ctx context.Context) {
	s.ctx = ctx
	slog.Info("scheduler starting", "job", s.name, "schedule", s.schedule)

	s.execute(ctx)

	s.cron.Start()
	<-ctx.Done()

	slog.Info("scheduler stopping", "job", s.name)
	<-s.cron.Stop().Done()
	s.wg.Wait()
}

func (s *Scheduler) tick() {
	s.execute(s.ctx)
}

func (s *Scheduler) execute(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	s.wg.Add(1)
	defer s.wg.Done()

	start := time.Now()
	if err := s.job(ctx); err != nil {
		slog.Error("scheduled job failed", "job", s.name, "elapsed", time.Since(start), "error", err)
		return
	}
	slog.Debug("scheduled job finished", "job", s.name, "elapsed", time.Since(start))
}
