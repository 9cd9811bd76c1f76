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

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitWireName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"empty", "", nil},
		{"root", `\`, nil},
		{"simple", `foo`, []string{"foo"}},
		{"leading", `\foo\bar`, []string{"foo", "bar"}},
		{"trailing", `foo\bar\`, []string{"foo", "bar"}},
		{"doubled", `foo\\bar`, []string{"foo", "bar"}},
		{"forward_slash", `foo/bar`, []string{"foo", "bar"}},
		{"stream", `dir\file:alt`, []string{"dir", "file:alt"}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, SplitWireName(tt.input), "SplitWireName(%q)", tt.input)
		})
	}
}

func TestParentAndLast(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input  string
		parent string
		last   string
	}{
		{``, ``, ``},
		{`a`, ``, `a`},
		{`a\b`, `a`, `b`},
		{`\a\b\c`, `a\b`, `c`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.parent, ParentWireName(tt.input))
			assert.Equal(t, tt.last, LastWireComponent(tt.input))
		})
	}
}

func TestSplitStream(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input     string
		base      string
		stream    string
		typ       string
		hasStream bool
	}{
		{"file", "file", "", "", false},
		{"file:alt", "file", "alt", "", true},
		{"file:alt:$DATA", "file", "alt", "$DATA", true},
		{"file::$DATA", "file", "", "$DATA", true},
		{"file:", "file", "", "", true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			base, stream, typ, has := SplitStream(tt.input)
			assert.Equal(t, tt.base, base)
			assert.Equal(t, tt.stream, stream)
			assert.Equal(t, tt.typ, typ)
			assert.Equal(t, tt.hasStream, has)
		})
	}
}
