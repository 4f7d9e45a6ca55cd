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

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// TestMetrics verifies counters move with each observation.
func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRun(OutcomeOK, 2*time.Second)
	m.Item(OutcomeOK)
	m.Item(OutcomeOK)
	m.Item(OutcomeSkipped)
	m.Summary("message", "failed")

	if got := testutil.ToFloat64(m.runs.WithLabelValues(OutcomeOK)); got != 1 {
		t.Errorf("runs ok = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.items.WithLabelValues(OutcomeOK)); got != 2 {
		t.Errorf("items ok = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.items.WithLabelValues(OutcomeSkipped)); got != 1 {
		t.Errorf("items skipped = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.summaries.WithLabelValues("message", "failed")); got != 1 {
		t.Errorf("summaries = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(m.runDuration); n != 1 {
		t.Errorf("histogram series = %d, want 1", n)
	}
}

// TestMetrics_Nil verifies a nil receiver is a no-op.
func TestMetrics_Nil(t *testing.T) {
	var m *Metrics
	m.ObserveRun(OutcomeFailed, time.Second)
	m.Item(OutcomeFailed)
	m.Summary("day", "ok")
}
