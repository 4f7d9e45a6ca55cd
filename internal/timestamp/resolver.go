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

// Package timestamp converts message origination dates into the canonical
// timezone and derives day-bucket keys from them.
package timestamp

import (
	"net/mail"
	"strings"
	"time"
)

// fallbackLayouts are tried when the header is not valid RFC 5322.
var fallbackLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05",
	"Mon, 2 Jan 2006 15:04:05 -0700 (MST)",
	"2 Jan 2006 15:04:05 -0700",
}

// Resolver normalizes timestamps to a single Location.
type Resolver struct {
	loc *time.Location
	now func() time.Time
}

// NewResolver creates a resolver for the given canonical location.
// A nil location means UTC.
func NewResolver(loc *time.Location) *Resolver {
	if loc == nil {
		loc = time.UTC
	}
	return &Resolver{loc: loc, now: time.Now}
}

// WithClock returns a copy of r that reads the current time from now.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	cp := *r
	cp.now = now
	return &cp
}

// Location returns the canonical location.
func (r *Resolver) Location() *time.Location {
	return r.loc
}

// Resolve parses a Date header value and converts it to the canonical
// location. When the header is empty or cannot be parsed the current time
// is used instead and ok is false.
func (r *Resolver) Resolve(header string) (t time.Time, ok bool) {
	header = strings.TrimSpace(header)
	if header != "" {
		if parsed, err := parse(header); err == nil {
			return parsed.In(r.loc), true
		}
	}
	return r.now().In(r.loc), false
}

// DayKey returns midnight of t's calendar date in the canonical location.
func (r *Resolver) DayKey(t time.Time) time.Time {
	local := t.In(r.loc)
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, r.loc)
}

func parse(header string) (time.Time, error) {
	t, err := mail.ParseDate(header)
	if err == nil {
		return t, nil
	}
	for _, layout := range fallbackLayouts {
		if t, lerr := time.Parse(layout, header); lerr == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}
