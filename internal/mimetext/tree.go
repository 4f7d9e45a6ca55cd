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

package mimetext

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/textproto"
)

// maxDepth bounds multipart nesting.
const maxDepth = 32

// Kind tags a Node as a leaf or a composite.
type Kind int

const (
	// Leaf nodes carry a payload.
	Leaf Kind = iota
	// Composite nodes carry children (multipart/*).
	Composite
)

// Node is one entity of a MIME message.
type Node struct {
	Kind        Kind
	ContentType string // lower-cased media type, e.g. "text/plain"
	Disposition string // lower-cased disposition, e.g. "attachment"
	Charset     string // declared charset, lower-cased; empty if none

	// Payload is the transfer-decoded body. It has already been converted to
	// UTF-8 when Converted is true.
	Payload   []byte
	Converted bool

	Children []*Node
	Header   message.Header
}

// IsAttachment reports whether the node is flagged as an attachment.
func (n *Node) IsAttachment() bool {
	return n.Disposition == "attachment"
}

// Parse reads a raw envelope into a Node tree. Problems decoding individual
// parts are returned as warnings; only an unreadable top-level header is an
// error.
func Parse(raw []byte) (*Node, []error, error) {
	br := bufio.NewReader(bytes.NewReader(raw))
	h, err := textproto.ReadHeader(br)
	if err != nil {
		return nil, nil, fmt.Errorf("read message header: %w", err)
	}

	var warnings []error
	root := buildNode(message.Header{Header: h}, br, 0, &warnings)
	return root, warnings, nil
}

// buildNode converts one entity, given its header and undecoded body, into
// a Node.
func buildNode(h message.Header, body io.Reader, depth int, warnings *[]error) *Node {
	mediaType, params := parseParams(h.Get("Content-Type"), "content type", warnings)
	disp, _ := parseParams(h.Get("Content-Disposition"), "content disposition", warnings)

	n := &Node{
		ContentType: mediaType,
		Disposition: disp,
		Charset:     strings.ToLower(params["charset"]),
		Header:      h,
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		n.Kind = Composite
		boundary := params["boundary"]
		switch {
		case boundary == "":
			*warnings = append(*warnings, fmt.Errorf("%s without boundary", mediaType))
			return n
		case depth >= maxDepth:
			*warnings = append(*warnings, fmt.Errorf("multipart nesting deeper than %d", maxDepth))
			return n
		}
		mr := textproto.NewMultipartReader(body, boundary)
		for {
			part, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				*warnings = append(*warnings, fmt.Errorf("read multipart: %w", err))
				break
			}
			n.Children = append(n.Children, buildNode(message.Header{Header: part.Header}, part, depth+1, warnings))
		}
		return n
	}

	n.Kind = Leaf
	raw, err := io.ReadAll(body)
	if err != nil {
		*warnings = append(*warnings, fmt.Errorf("read body: %w", err))
	}
	payload, err := transferDecode(h.Get("Content-Transfer-Encoding"), raw)
	if err != nil {
		*warnings = append(*warnings, &DecodeError{Charset: n.Charset, Err: err})
	}
	n.Payload, n.Converted = toUTF8(n.Charset, payload)
	return n
}

// parseParams splits a header of the form "value; key=val" into its
// lower-cased value and parameters. Malformed parameters (unquoted values
// with spaces, stray separators) are recovered leniently and reported as a
// warning, so the value itself is never lost.
func parseParams(header, what string, warnings *[]error) (string, map[string]string) {
	if strings.TrimSpace(header) == "" {
		return "", map[string]string{}
	}
	value, params, err := mime.ParseMediaType(header)
	if err == nil {
		return strings.ToLower(value), params
	}
	*warnings = append(*warnings, fmt.Errorf("parse %s %q: %w", what, header, err))

	fields := strings.Split(header, ";")
	value = strings.ToLower(strings.TrimSpace(fields[0]))
	params = make(map[string]string)
	for _, f := range fields[1:] {
		key, val, ok := strings.Cut(f, "=")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		val = strings.Trim(strings.TrimSpace(val), `"`)
		if key != "" {
			params[key] = val
		}
	}
	return value, params
}

// transferDecode undoes the Content-Transfer-Encoding. When decoding fails
// the raw bytes are returned with the error so readable text is kept.
func transferDecode(encoding string, raw []byte) ([]byte, error) {
	var h message.Header
	if encoding != "" {
		h.Set("Content-Transfer-Encoding", encoding)
	}
	e, err := message.New(h, bytes.NewReader(raw))
	if err != nil {
		return raw, fmt.Errorf("transfer encoding: %w", err)
	}
	decoded, err := io.ReadAll(e.Body)
	if err != nil {
		return raw, fmt.Errorf("transfer encoding %q: %w", encoding, err)
	}
	return decoded, nil
}

// toUTF8 converts b from the declared charset. It reports false, with b
// unchanged, when the charset is unknown or conversion fails.
func toUTF8(cs string, b []byte) ([]byte, bool) {
	switch cs {
	case "", "utf-8", "utf8", "us-ascii":
		return b, true
	}
	r, err := charset.Reader(cs, bytes.NewReader(b))
	if err != nil {
		return b, false
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return b, false
	}
	return out, true
}
