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

// Package mailbox opens scoped IMAP sessions and exposes the operations the
// ingestion pipeline needs: locating unread messages, fetching raw
// envelopes, and listing folders.
package mailbox

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sort"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-sasl"
	"golang.org/x/oauth2"

	"github.com/bcem/digest/internal/config"
)

var errNoBody = errors.New("server returned no message body")

// Client is the subset of the go-imap client used here.
type Client interface {
	Login(username, password string) error
	Authenticate(auth sasl.Client) error
	Logout() error
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	List(ref, name string, ch chan *imap.MailboxInfo) error
	UidSearch(criteria *imap.SearchCriteria) ([]uint32, error)
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
}

// Session is an authenticated connection scoped to one WithSession call.
type Session interface {
	// FindUnread selects folder and returns the UIDs of unseen messages in
	// ascending order.
	FindUnread(folder string) ([]uint32, error)
	// Fetch returns the raw envelope of one message.
	Fetch(uid uint32) ([]byte, error)
	// UIDValidity of the selected folder.
	UIDValidity() uint32
}

// Service creates sessions against one IMAP account.
type Service struct {
	cfg    config.IMAPConfig
	tokens oauth2.TokenSource

	// Connector dials and authenticates. Tests replace it.
	Connector func(ctx context.Context) (Client, error)
}

// NewService creates a mailbox service. tokens is only used for the OAuth
// auth methods and may be nil for password auth.
func NewService(cfg config.IMAPConfig, tokens oauth2.TokenSource) *Service {
	s := &Service{cfg: cfg, tokens: tokens}
	s.Connector = s.connect
	return s
}

// Folder returns the configured folder.
func (s *Service) Folder() string {
	return s.cfg.Folder
}

func (s *Service) connect(ctx context.Context) (Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	addr := s.cfg.Addr()
	dialer := &net.Dialer{Timeout: s.cfg.Timeout}
	tlsConfig := &tls.Config{
		ServerName:         s.cfg.Host,
		InsecureSkipVerify: s.cfg.InsecureSkipVerify,
	}

	var c *imapclient.Client
	var err error
	if s.cfg.TLS {
		c, err = imapclient.DialWithDialerTLS(dialer, addr, tlsConfig)
	} else {
		c, err = imapclient.DialWithDialer(dialer, addr)
		if err == nil && s.cfg.StartTLS {
			if err = c.StartTLS(tlsConfig); err != nil {
				_ = c.Logout()
				return nil, fmt.Errorf("starttls: %w", err)
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	c.Timeout = s.cfg.Timeout

	if err := s.authenticate(c); err != nil {
		_ = c.Logout()
		return nil, err
	}
	return c, nil
}

func (s *Service) authenticate(c Client) error {
	if s.cfg.Auth == config.AuthPassword || s.cfg.Auth == "" {
		if err := c.Login(s.cfg.Username, s.cfg.Password); err != nil {
			return fmt.Errorf("login: %w", err)
		}
		return nil
	}

	if s.tokens == nil {
		return fmt.Errorf("auth %s requires a token source", s.cfg.Auth)
	}
	tok, err := s.tokens.Token()
	if err != nil {
		return fmt.Errorf("obtain access token: %w", err)
	}
	if err := c.Authenticate(saslClient(s.cfg, tok.AccessToken)); err != nil {
		return fmt.Errorf("authenticate %s: %w", s.cfg.Auth, err)
	}
	return nil
}

// WithSession acquires a session, runs fn, and always logs out afterwards,
// including when fn fails or panics. Acquisition failures are returned as
// *ConnectionError.
func (s *Service) WithSession(ctx context.Context, fn func(Session) error) error {
	return s.withClient(ctx, func(c Client) error {
		return fn(&session{client: c, peek: s.cfg.Peek})
	})
}

// ListFolders returns the names of all folders on the account.
func (s *Service) ListFolders(ctx context.Context) ([]string, error) {
	var folders []string
	err := s.withClient(ctx, func(c Client) error {
		ch := make(chan *imap.MailboxInfo, 10)
		done := make(chan error, 1)
		go func() {
			done <- c.List("", "*", ch)
		}()
		for mbox := range ch {
			folders = append(folders, mbox.Name)
		}
		if err := <-done; err != nil {
			return fmt.Errorf("list folders: %w", err)
		}
		return nil
	})
	return folders, err
}

func (s *Service) withClient(ctx context.Context, fn func(Client) error) error {
	c, err := s.Connector(ctx)
	if err != nil {
		return &ConnectionError{Addr: s.cfg.Addr(), Err: err}
	}
	defer func() {
		if err := c.Logout(); err != nil {
			slog.Warn("imap logout failed", "error", err)
		}
	}()
	return fn(c)
}

type session struct {
	client      Client
	peek        bool
	folder      string
	uidValidity uint32
}

func (s *session) FindUnread(folder string) ([]uint32, error) {
	// A read-only EXAMINE cannot set \Seen, so only peek mode uses it.
	status, err := s.client.Select(folder, s.peek)
	if err != nil {
		return nil, &SearchError{Folder: folder, Err: err}
	}
	s.folder = folder
	s.uidValidity = status.UidValidity

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := s.client.UidSearch(criteria)
	if err != nil {
		return nil, &SearchError{Folder: folder, Err: err}
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

func (s *session) Fetch(uid uint32) ([]byte, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)

	section := &imap.BodySectionName{Peek: s.peek}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchUid}

	ch := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.client.UidFetch(seqset, items, ch)
	}()

	var raw []byte
	var readErr error
	for msg := range ch {
		if msg == nil || raw != nil {
			continue
		}
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		raw, readErr = io.ReadAll(body)
	}
	if err := <-done; err != nil {
		return nil, &FetchError{UID: uid, Err: err}
	}
	if readErr != nil {
		return nil, &FetchError{UID: uid, Err: fmt.Errorf("read body: %w", readErr)}
	}
	if raw == nil {
		return nil, &FetchError{UID: uid, Err: errNoBody}
	}
	return raw, nil
}

func (s *session) UIDValidity() uint32 {
	return s.uidValidity
}
