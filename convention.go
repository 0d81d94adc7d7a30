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

// CallingConvention is the contract for one way of invoking a procedure:
// where arguments go, and who removes them from the stack afterwards.
// Instances are built once at startup and never mutated; on 64-bit targets
// several names resolve to the same instance, so call sites may compare
// conventions by pointer.
type CallingConvention struct {
	ID               string
	IntegerArgRegs   []string // ordered by parameter position, empty for stack-passed
	FloatArgRegs     []string
	CalleeCleansArgs bool
}

// RegisterPassed reports whether leading arguments travel in registers.
func (c *CallingConvention) RegisterPassed() bool {
	return len(c.IntegerArgRegs) > 0
}

var (
	conventionCdecl = &CallingConvention{
		ID:               "cdecl",
		CalleeCleansArgs: false,
	}
	conventionStdcall = &CallingConvention{
		ID:               "stdcall",
		CalleeCleansArgs: true,
	}
	conventionFastcall = &CallingConvention{
		ID:               "fastcall",
		IntegerArgRegs:   []string{"rcx", "rdx", "r8", "r9"},
		FloatArgRegs:     []string{"xmm0", "xmm1", "xmm2", "xmm3"},
		CalleeCleansArgs: false,
	}
)

// DefaultConvention is used when a definition carries no convention token.
const DefaultConvention = "stdcall"

// ResolveConvention maps a convention name to its convention object for the
// given target. On 64-bit targets cdecl, c and stdcall are pure aliases of
// fastcall: there is a single register-passing ABI, and the name only
// documents intent at the call site.
func ResolveConvention(name string, arch *Architecture) (*CallingConvention, error) {
	if arch.Is64() {
		switch name {
		case "cdecl", "c", "stdcall", "fastcall":
			return conventionFastcall, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnknownConvention, name)
	}
	switch name {
	case "cdecl", "c":
		return conventionCdecl, nil
	case "stdcall":
		return conventionStdcall, nil
	case "fastcall":
		return nil, fmt.Errorf("%w: %v is only available on 64-bit targets", ErrUnknownConvention, name)
	}
	return nil, fmt.Errorf("%w: %v", ErrUnknownConvention, name)
}

// conventionDirectives are the call-site directive tokens recognized by the
// unit parser; "invoke" is the historical spelling of the default.
var conventionDirectives = map[string]string{
	"stdcall":  "stdcall",
	"ccall":    "cdecl",
	"cdecl":    "cdecl",
	"c":        "c",
	"fastcall": "fastcall",
	"invoke":   DefaultConvention,
}
