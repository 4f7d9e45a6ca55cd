//go:build integration

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

package store

import (
	"context"
	"os"
	"testing"
	"time"
)

// TestPostgresStore_SharedBehaviour runs the backend checks against the
// database in DATABASE_URL. The tables are truncated first.
//
//	DATABASE_URL=postgres://... go test -tags integration ./internal/store/
func TestPostgresStore_SharedBehaviour(t *testing.T) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	loc, err := time.LoadLocation("Europe/Madrid")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	ctx := context.Background()
	s, err := NewPostgresStore(ctx, url, loc)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if _, err := s.pool.Exec(ctx, `TRUNCATE message_days, day_buckets, messages RESTART IDENTITY`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	exerciseStore(t, s)
}
