// Copyright 2024 pvfs Authors
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

package common

import "strings"

// WireSeparator separates components of an SMB wire name.
const WireSeparator = '\\'

// SplitWireName splits a wire name into its components. Empty components
// produced by leading, trailing or doubled separators are dropped.
func SplitWireName(name string) []string {
	if name == "" {
		return nil
	}
	parts := strings.FieldsFunc(name, func(r rune) bool { return r == WireSeparator || r == '/' })
	if len(parts) == 0 {
		return nil
	}
	return parts
}

// JoinWireName joins components with the wire separator.
func JoinWireName(parts ...string) string {
	return strings.Join(parts, string(WireSeparator))
}

// ParentWireName returns the wire name of the containing directory, or ""
// for names directly below the share root.
func ParentWireName(name string) string {
	parts := SplitWireName(name)
	if len(parts) <= 1 {
		return ""
	}
	return JoinWireName(parts[:len(parts)-1]...)
}

// LastWireComponent returns the final component of a wire name.
func LastWireComponent(name string) string {
	parts := SplitWireName(name)
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

// SplitStream separates "file:stream:type" into its parts. hasStream is true
// whenever a colon is present, even if the stream name is empty.
func SplitStream(component string) (base, stream, streamType string, hasStream bool) {
	i := strings.IndexByte(component, ':')
	if i < 0 {
		return component, "", "", false
	}
	base = component[:i]
	rest := component[i+1:]
	if j := strings.IndexByte(rest, ':'); j >= 0 {
		return base, rest[:j], rest[j+1:], true
	}
	return base, rest, "", true
}
