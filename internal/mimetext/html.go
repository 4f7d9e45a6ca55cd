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
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// skippedElements never contribute readable text.
var skippedElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Head:     true,
}

// HTMLToText renders markup as plain text: each non-blank text run becomes
// one trimmed line, and character references are unescaped.
func HTMLToText(markup string) string {
	z := html.NewTokenizer(strings.NewReader(markup))

	var lines []string
	skipDepth := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return strings.Join(lines, "\n")
		case html.StartTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if a == atom.Body {
				// An unclosed <head> must not swallow the document.
				skipDepth = 0
			}
			if skippedElements[a] {
				skipDepth++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if skippedElements[atom.Lookup(name)] && skipDepth > 0 {
				skipDepth--
			}
		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			text := strings.TrimSpace(string(z.Text()))
			if text != "" {
				lines = append(lines, collapseSpace(text))
			}
		}
	}
}

// looksLikeHTML reports whether s contains an HTML root marker.
func looksLikeHTML(s string) bool {
	return strings.Contains(strings.ToLower(s), "<html")
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
