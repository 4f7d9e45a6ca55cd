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

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-sasl"
	"golang.org/x/oauth2"

	"github.com/bcem/digest/internal/config"
)

// --- Mock IMAP client ---

type mockClient struct {
	mu sync.Mutex

	folders     []string
	uids        []uint32
	uidValidity uint32
	bodies      map[uint32][]byte

	selectErr error
	searchErr error
	fetchErr  error
	loginErr  error

	loggedOut      bool
	loginUser      string
	loginPass      string
	authMech       string
	authIR         []byte
	selectReadOnly bool
	searchCriteria *imap.SearchCriteria
	fetchItems     []imap.FetchItem
}

func (m *mockClient) Login(username, password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loginUser, m.loginPass = username, password
	return m.loginErr
}

func (m *mockClient) Authenticate(auth sasl.Client) error {
	mech, ir, err := auth.Start()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authMech, m.authIR = mech, ir
	return nil
}

func (m *mockClient) Logout() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loggedOut = true
	return nil
}

func (m *mockClient) Select(name string, readOnly bool) (*imap.MailboxStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selectReadOnly = readOnly
	if m.selectErr != nil {
		return nil, m.selectErr
	}
	return &imap.MailboxStatus{Name: name, UidValidity: m.uidValidity}, nil
}

func (m *mockClient) List(ref, name string, ch chan *imap.MailboxInfo) error {
	for _, f := range m.folders {
		ch <- &imap.MailboxInfo{Name: f}
	}
	close(ch)
	return nil
}

func (m *mockClient) UidSearch(criteria *imap.SearchCriteria) ([]uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searchCriteria = criteria
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	out := make([]uint32, len(m.uids))
	copy(out, m.uids)
	return out, nil
}

func (m *mockClient) UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error {
	defer close(ch)
	m.mu.Lock()
	m.fetchItems = items
	m.mu.Unlock()
	if m.fetchErr != nil {
		return m.fetchErr
	}
	for _, uid := range m.uidsIn(seqset) {
		msg := imap.NewMessage(0, items)
		msg.Uid = uid
		if raw, ok := m.bodies[uid]; ok {
			msg.Body = map[*imap.BodySectionName]imap.Literal{
				{}: bytes.NewReader(raw),
			}
		} else {
			msg.Body = map[*imap.BodySectionName]imap.Literal{}
		}
		ch <- msg
	}
	return nil
}

func (m *mockClient) uidsIn(seqset *imap.SeqSet) []uint32 {
	var out []uint32
	for _, uid := range m.uids {
		if seqset.Contains(uid) {
			out = append(out, uid)
		}
	}
	return out
}

func newTestService(mock *mockClient, cfg config.IMAPConfig) *Service {
	if cfg.Host == "" {
		cfg.Host = "imap.test"
		cfg.Port = 993
	}
	svc := NewService(cfg, nil)
	svc.Connector = func(ctx context.Context) (Client, error) {
		return mock, nil
	}
	return svc
}

// TestWithSession_LogsOutOnEveryPath verifies the session is always released.
func TestWithSession_LogsOutOnEveryPath(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		mock := &mockClient{}
		svc := newTestService(mock, config.IMAPConfig{})
		if err := svc.WithSession(context.Background(), func(Session) error { return nil }); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !mock.loggedOut {
			t.Error("expected logout after success")
		}
	})

	t.Run("error", func(t *testing.T) {
		mock := &mockClient{}
		svc := newTestService(mock, config.IMAPConfig{})
		boom := errors.New("boom")
		err := svc.WithSession(context.Background(), func(Session) error { return boom })
		if !errors.Is(err, boom) {
			t.Fatalf("err = %v, want boom", err)
		}
		if !mock.loggedOut {
			t.Error("expected logout after error")
		}
	})

	t.Run("panic", func(t *testing.T) {
		mock := &mockClient{}
		svc := newTestService(mock, config.IMAPConfig{})
		func() {
			defer func() { _ = recover() }()
			_ = svc.WithSession(context.Background(), func(Session) error { panic("kaboom") })
		}()
		if !mock.loggedOut {
			t.Error("expected logout after panic")
		}
	})
}

// TestWithSession_ConnectFailure verifies acquisition errors are typed.
func TestWithSession_ConnectFailure(t *testing.T) {
	svc := NewService(config.IMAPConfig{Host: "imap.test", Port: 993}, nil)
	svc.Connector = func(ctx context.Context) (Client, error) {
		return nil, errors.New("connection refused")
	}

	called := false
	err := svc.WithSession(context.Background(), func(Session) error {
		called = true
		return nil
	})

	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("err = %v, want *ConnectionError", err)
	}
	if connErr.Addr != "imap.test:993" {
		t.Errorf("addr = %q", connErr.Addr)
	}
	if called {
		t.Error("fn must not run without a session")
	}
}

// TestFindUnread verifies unseen search, ordering and read/write selection.
func TestFindUnread(t *testing.T) {
	mock := &mockClient{uids: []uint32{9, 2, 5}, uidValidity: 77}
	svc := newTestService(mock, config.IMAPConfig{})

	var got []uint32
	var validity uint32
	err := svc.WithSession(context.Background(), func(s Session) error {
		var err error
		got, err = s.FindUnread("Newsletters")
		validity = s.UIDValidity()
		return err
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []uint32{2, 5, 9}
	if len(got) != len(want) {
		t.Fatalf("uids = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("uids = %v, want %v", got, want)
		}
	}
	if validity != 77 {
		t.Errorf("uid validity = %d, want 77", validity)
	}
	if mock.selectReadOnly {
		t.Error("non-peek mode must select read/write")
	}
	if len(mock.searchCriteria.WithoutFlags) != 1 || mock.searchCriteria.WithoutFlags[0] != imap.SeenFlag {
		t.Errorf("criteria = %+v, want WithoutFlags [\\Seen]", mock.searchCriteria)
	}
}

// TestFindUnread_Empty verifies an empty mailbox is not an error.
func TestFindUnread_Empty(t *testing.T) {
	mock := &mockClient{}
	svc := newTestService(mock, config.IMAPConfig{Peek: true})

	err := svc.WithSession(context.Background(), func(s Session) error {
		uids, err := s.FindUnread("INBOX")
		if len(uids) != 0 {
			t.Errorf("uids = %v, want none", uids)
		}
		return err
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !mock.selectReadOnly {
		t.Error("peek mode should select read-only")
	}
}

// TestFindUnread_Errors verifies select and search failures are SearchErrors.
func TestFindUnread_Errors(t *testing.T) {
	tests := []struct {
		name string
		mock *mockClient
	}{
		{"select", &mockClient{selectErr: errors.New("NO such mailbox")}},
		{"search", &mockClient{searchErr: errors.New("BAD search")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(tt.mock, config.IMAPConfig{})
			err := svc.WithSession(context.Background(), func(s Session) error {
				_, err := s.FindUnread("Missing")
				return err
			})
			var searchErr *SearchError
			if !errors.As(err, &searchErr) {
				t.Fatalf("err = %v, want *SearchError", err)
			}
			if searchErr.Folder != "Missing" {
				t.Errorf("folder = %q", searchErr.Folder)
			}
		})
	}
}

// TestFetch verifies raw bodies are returned and failures are FetchErrors.
func TestFetch(t *testing.T) {
	mock := &mockClient{
		uids:   []uint32{1, 2},
		bodies: map[uint32][]byte{1: []byte("Subject: hi\r\n\r\nbody")},
	}
	svc := newTestService(mock, config.IMAPConfig{Peek: true})

	err := svc.WithSession(context.Background(), func(s Session) error {
		raw, err := s.Fetch(1)
		if err != nil {
			t.Fatalf("fetch 1: %v", err)
		}
		if !strings.Contains(string(raw), "Subject: hi") {
			t.Errorf("raw = %q", raw)
		}

		_, err = s.Fetch(2)
		var fetchErr *FetchError
		if !errors.As(err, &fetchErr) || fetchErr.UID != 2 {
			t.Errorf("fetch 2 err = %v, want *FetchError for uid 2", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	found := false
	for _, item := range mock.fetchItems {
		if item == "BODY.PEEK[]" {
			found = true
		}
	}
	if !found {
		t.Errorf("fetch items = %v, want BODY.PEEK[]", mock.fetchItems)
	}
}

// TestFetch_ProtocolError verifies UID FETCH failures are wrapped.
func TestFetch_ProtocolError(t *testing.T) {
	mock := &mockClient{uids: []uint32{3}, fetchErr: errors.New("connection reset")}
	svc := newTestService(mock, config.IMAPConfig{})

	_ = svc.WithSession(context.Background(), func(s Session) error {
		_, err := s.Fetch(3)
		var fetchErr *FetchError
		if !errors.As(err, &fetchErr) {
			t.Errorf("err = %v, want *FetchError", err)
		}
		return nil
	})
}

// TestListFolders verifies folder names are collected and the session closed.
func TestListFolders(t *testing.T) {
	mock := &mockClient{folders: []string{"INBOX", "Newsletters", "Archive"}}
	svc := newTestService(mock, config.IMAPConfig{})

	folders, err := svc.ListFolders(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Join(folders, ",") != "INBOX,Newsletters,Archive" {
		t.Errorf("folders = %v", folders)
	}
	if !mock.loggedOut {
		t.Error("expected logout")
	}
}

// TestAuthenticate verifies each auth method drives the client correctly.
func TestAuthenticate(t *testing.T) {
	tokens := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok-123"})

	t.Run("password", func(t *testing.T) {
		mock := &mockClient{}
		svc := NewService(config.IMAPConfig{Auth: config.AuthPassword, Username: "u", Password: "p"}, nil)
		if err := svc.authenticate(mock); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if mock.loginUser != "u" || mock.loginPass != "p" {
			t.Errorf("login = %q/%q", mock.loginUser, mock.loginPass)
		}
	})

	t.Run("xoauth2", func(t *testing.T) {
		mock := &mockClient{}
		svc := NewService(config.IMAPConfig{Auth: config.AuthXOAuth2, Username: "u@contoso.com"}, tokens)
		if err := svc.authenticate(mock); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if mock.authMech != "XOAUTH2" {
			t.Errorf("mech = %q", mock.authMech)
		}
		want := "user=u@contoso.com\x01auth=Bearer tok-123\x01\x01"
		if string(mock.authIR) != want {
			t.Errorf("initial response = %q, want %q", mock.authIR, want)
		}
	})

	t.Run("oauthbearer", func(t *testing.T) {
		mock := &mockClient{}
		svc := NewService(config.IMAPConfig{Auth: config.AuthOAuthBearer, Username: "u", Host: "h", Port: 993}, tokens)
		if err := svc.authenticate(mock); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if mock.authMech != "OAUTHBEARER" {
			t.Errorf("mech = %q", mock.authMech)
		}
		if !strings.Contains(string(mock.authIR), "tok-123") {
			t.Errorf("initial response %q lacks token", mock.authIR)
		}
	})

	t.Run("oauth without token source", func(t *testing.T) {
		svc := NewService(config.IMAPConfig{Auth: config.AuthXOAuth2}, nil)
		if err := svc.authenticate(&mockClient{}); err == nil {
			t.Error("expected error without token source")
		}
	})

	t.Run("login rejected", func(t *testing.T) {
		mock := &mockClient{loginErr: errors.New("NO [AUTHENTICATIONFAILED]")}
		svc := NewService(config.IMAPConfig{Auth: config.AuthPassword}, nil)
		if err := svc.authenticate(mock); err == nil {
			t.Error("expected login failure")
		}
	})
}
