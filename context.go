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

// FrameMode selects how parameter and local addresses are computed.
type FrameMode int

const (
	// FrameStandard addresses the frame through a dedicated base register
	// established in the prologue. Offsets stay valid no matter what the
	// body does to the stack top.
	FrameStandard FrameMode = iota
	// FrameStatic addresses the frame through the stack top directly. The
	// base register stays free for the body, but any stack-top mutation
	// after the prologue silently invalidates the computed offsets; the
	// generator does not track such changes.
	FrameStatic
)

func (m FrameMode) String() string {
	if m == FrameStatic {
		return "static"
	}
	return "standard"
}

// CompilationContext carries the only mutable state shared across
// definitions: the active frame mode with its one-slot undo, and the scope
// stack. It is passed into every definition and call-site operation.
type CompilationContext struct {
	Arch    *Architecture
	Verbose bool

	frameMode FrameMode
	prevMode  FrameMode
	hasPrev   bool

	Scopes *ScopeStack
}

// NewCompilationContext starts a unit in the standard frame mode with an
// open root scope.
func NewCompilationContext(arch *Architecture) *CompilationContext {
	return &CompilationContext{
		Arch:   arch,
		Scopes: NewScopeStack(),
	}
}

// FrameMode returns the mode that applies to the next definition.
func (c *CompilationContext) FrameMode() FrameMode {
	return c.frameMode
}

// SetFrameMode switches the mode for all subsequently defined procedures and
// remembers the previous mode for a single restore.
func (c *CompilationContext) SetFrameMode(m FrameMode) {
	c.prevMode = c.frameMode
	c.hasPrev = true
	c.frameMode = m
}

// RestoreFrameMode undoes the most recent SetFrameMode. The undo slot is a
// single level, not a stack: a second restore without an intervening set is
// a no-op returning the unchanged mode.
func (c *CompilationContext) RestoreFrameMode() FrameMode {
	if c.hasPrev {
		c.frameMode = c.prevMode
		c.hasPrev = false
	}
	return c.frameMode
}
