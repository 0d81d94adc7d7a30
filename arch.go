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

import "fmt"

// Architecture describes one code generation target. Invocation scaffolding
// is allowed to overwrite the two scratch registers at any point; any other
// register touched on behalf of an argument goes through the preservation
// planner.
type Architecture struct {
	Name         string // "x86", "x64"
	Bits         int
	WordSize     int    // native word in bytes
	StackPointer string // live stack top
	FrameBase    string // dedicated frame base under the standard frame mode
	IntScratch   string // integer scratch register, clobberable
	FloatScratch string // float scratch register, clobberable
	VaStride     int    // va_list slot stride in bytes
	ShadowSpace  int    // caller-reserved register home area, 0 on x86
}

// Is64 reports whether the target uses 64-bit words.
func (a *Architecture) Is64() bool {
	return a.Bits == 64
}

// WordTag returns the canonical type tag of the native word.
func (a *Architecture) WordTag() string {
	if a.Is64() {
		return "QWORD"
	}
	return "DWORD"
}

// architectures holds the registered targets
var architectures = map[string]*Architecture{}

// RegisterArch registers a code generation target
func RegisterArch(a *Architecture) {
	architectures[a.Name] = a
}

// GetArch returns the target for the given architecture name
func GetArch(name string) (*Architecture, error) {
	if a, ok := architectures[name]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("unsupported architecture: %s (available: x86, x64)", name)
}

func init() {
	RegisterArch(&Architecture{
		Name:         "x86",
		Bits:         32,
		WordSize:     4,
		StackPointer: "esp",
		FrameBase:    "ebp",
		IntScratch:   "eax",
		FloatScratch: "xmm7",
		VaStride:     4,
		ShadowSpace:  0,
	})
	RegisterArch(&Architecture{
		Name:         "x64",
		Bits:         64,
		WordSize:     8,
		StackPointer: "rsp",
		FrameBase:    "rbp",
		IntScratch:   "rax",
		FloatScratch: "xmm7",
		VaStride:     8,
		ShadowSpace:  32,
	})
}
