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

// migration is one schema step applied in version order.
type migration struct {
	version int
	sql     string
}

// migrations must be numbered sequentially from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	source_id      TEXT NOT NULL UNIQUE,
	subject        TEXT NOT NULL DEFAULT '',
	author         TEXT NOT NULL DEFAULT '',
	body           TEXT NOT NULL DEFAULT '',
	received_at    DATETIME NOT NULL,
	summary        TEXT,
	summary_status TEXT NOT NULL DEFAULT 'pending',
	created_at     DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS day_buckets (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	day            TEXT NOT NULL UNIQUE,
	summary        TEXT,
	summary_status TEXT NOT NULL DEFAULT 'pending'
);

CREATE TABLE IF NOT EXISTS message_days (
	message_id INTEGER NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	bucket_id  INTEGER NOT NULL REFERENCES day_buckets(id) ON DELETE CASCADE,
	PRIMARY KEY (message_id, bucket_id)
);

CREATE INDEX IF NOT EXISTS idx_message_days_bucket ON message_days(bucket_id);
CREATE INDEX IF NOT EXISTS idx_messages_received ON messages(received_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
