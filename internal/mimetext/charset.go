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
	"fmt"
	"io"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-message/charset"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DecodeError records a charset problem that was recovered by decoding
// permissively. It is reported as a warning, never returned as a failure.
type DecodeError struct {
	Charset string
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Charset == "" {
		return fmt.Sprintf("decode: %v", e.Err)
	}
	return fmt.Sprintf("decode charset %q: %v", e.Charset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// DecodeText returns the node payload as UTF-8. When the declared charset
// could not be applied, or the result is not valid UTF-8, the payload is
// decoded permissively with U+FFFD replacing invalid sequences and a
// *DecodeError is returned alongside the text.
func DecodeText(n *Node) (string, error) {
	if n.Converted && utf8.Valid(n.Payload) {
		return string(n.Payload), nil
	}

	reason := fmt.Errorf("invalid UTF-8 in payload")
	if !n.Converted {
		reason = fmt.Errorf("unsupported charset")
	}
	return permissive(n.Payload), &DecodeError{Charset: n.Charset, Err: reason}
}

// permissive decodes b as UTF-8, substituting U+FFFD for invalid bytes.
func permissive(b []byte) string {
	out, _, err := transform.Bytes(unicode.UTF8.NewDecoder(), b)
	if err != nil {
		return strings.ToValidUTF8(string(b), "\uFFFD")
	}
	return string(out)
}

// headerDecoder decodes RFC 2047 encoded-words with the declared charset and
// falls back to a permissive UTF-8 reader for charsets it does not know.
var headerDecoder = &mime.WordDecoder{
	CharsetReader: func(label string, input io.Reader) (io.Reader, error) {
		if r, err := charset.Reader(label, input); err == nil {
			return r, nil
		}
		return transform.NewReader(input, unicode.UTF8.NewDecoder()), nil
	},
}

// DecodeHeader decodes an encoded header value such as a Subject. It never
// fails: undecodable input is returned with invalid bytes replaced.
func DecodeHeader(raw string) string {
	decoded, err := headerDecoder.DecodeHeader(raw)
	if err != nil {
		decoded = raw
	}
	if !utf8.ValidString(decoded) {
		decoded = permissive([]byte(decoded))
	}
	return strings.TrimSpace(decoded)
}
