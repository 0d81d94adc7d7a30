// Copyright 2022 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"strings"
)

// Emitter collects generated assembly text. The generator only ever deals in
// instruction-level text; encoding into machine bytes is someone else's job.
type Emitter struct {
	lines []string
}

func NewEmitter() *Emitter {
	return &Emitter{}
}

// Printf appends one indented instruction line.
func (e *Emitter) Printf(format string, args ...interface{}) {
	e.lines = append(e.lines, "\t"+fmt.Sprintf(format, args...))
}

// Label appends a column-zero label line.
func (e *Emitter) Label(name string) {
	e.lines = append(e.lines, name+":")
}

// Raw appends a line unchanged, for pass-through source text and equates.
func (e *Emitter) Raw(line string) {
	e.lines = append(e.lines, line)
}

// Append moves another emitter's lines onto this one.
func (e *Emitter) Append(other *Emitter) {
	e.lines = append(e.lines, other.lines...)
}

// Len returns the number of collected lines.
func (e *Emitter) Len() int {
	return len(e.lines)
}

// Lines returns the collected lines.
func (e *Emitter) Lines() []string {
	return e.lines
}

func (e *Emitter) String() string {
	var builder strings.Builder
	for _, line := range e.lines {
		builder.WriteString(line)
		builder.WriteRune('\n')
	}
	return builder.String()
}
