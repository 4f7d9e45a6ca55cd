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

import "strings"

const (
	typePlain = "text/plain"
	typeHTML  = "text/html"
)

// Select picks the node whose content becomes the message body.
//
// A flat message is used as-is when it is text and not an attachment. In a
// multipart tree the walk is depth-first, attachments are skipped, and the
// first text/plain leaf wins outright; failing that the first text/html
// leaf is used. It returns nil when nothing is usable.
func Select(root *Node) *Node {
	if root == nil {
		return nil
	}
	if root.Kind == Leaf {
		if root.IsAttachment() || !isText(root.ContentType) {
			return nil
		}
		return root
	}

	var firstHTML *Node
	var walk func(n *Node) *Node
	walk = func(n *Node) *Node {
		if n.IsAttachment() {
			return nil
		}
		if n.Kind == Composite {
			for _, child := range n.Children {
				if found := walk(child); found != nil {
					return found
				}
			}
			return nil
		}
		switch n.ContentType {
		case typePlain:
			return n
		case typeHTML:
			if firstHTML == nil {
				firstHTML = n
			}
		}
		return nil
	}

	if plain := walk(root); plain != nil {
		return plain
	}
	return firstHTML
}

func isText(contentType string) bool {
	return contentType == "" || strings.HasPrefix(contentType, "text/")
}
