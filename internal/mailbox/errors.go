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

package mailbox

import "fmt"

// ConnectionError means a session could not be established. It is fatal
// to an ingestion run.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SearchError means the folder could not be selected or searched. It is
// fatal to an ingestion run.
type SearchError struct {
	Folder string
	Err    error
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("search folder %q: %v", e.Folder, e.Err)
}

func (e *SearchError) Unwrap() error { return e.Err }

// FetchError means one message could not be retrieved. Callers skip the
// message and continue.
type FetchError struct {
	UID uint32
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch uid %d: %v", e.UID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
