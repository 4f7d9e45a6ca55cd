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

// Package mimetext extracts the subject, author and readable body text from
// raw RFC 5322 messages of arbitrary MIME structure.
package mimetext

import (
	"fmt"
	"strings"

	"github.com/emersion/go-message/mail"
)

// DefaultSubject is used when a message has no subject.
const DefaultSubject = "(no subject)"

// Content is the readable content of one message.
type Content struct {
	Subject    string
	Author     string
	Body       string
	MessageID  string
	DateHeader string

	// Warnings lists recovered problems such as undecodable parts.
	Warnings []error
}

// Extract parses raw and returns its content. An empty Body is not an
// error; it means no usable text part was found.
func Extract(raw []byte) (*Content, error) {
	root, warnings, err := Parse(raw)
	if err != nil {
		return nil, err
	}

	h := mail.Header{Header: root.Header}
	c := &Content{
		Subject:    DecodeHeader(h.Get("Subject")),
		Author:     author(h),
		MessageID:  messageID(h),
		DateHeader: strings.TrimSpace(h.Get("Date")),
		Warnings:   warnings,
	}
	if c.Subject == "" {
		c.Subject = DefaultSubject
	}

	node := Select(root)
	if node == nil {
		return c, nil
	}

	text, derr := DecodeText(node)
	if derr != nil {
		c.Warnings = append(c.Warnings, derr)
	}
	if node.ContentType == typeHTML || (node == root && looksLikeHTML(text)) {
		text = HTMLToText(text)
	}
	c.Body = strings.TrimSpace(text)
	return c, nil
}

func author(h mail.Header) string {
	addrs, err := h.AddressList("From")
	if err != nil || len(addrs) == 0 {
		return DecodeHeader(h.Get("From"))
	}
	a := addrs[0]
	if a.Name == "" {
		return a.Address
	}
	return fmt.Sprintf("%s <%s>", a.Name, a.Address)
}

func messageID(h mail.Header) string {
	if id, err := h.MessageID(); err == nil && id != "" {
		return id
	}
	return strings.Trim(strings.TrimSpace(h.Get("Message-Id")), "<>")
}
