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

// roundUp rounds n up to the next multiple of align.
func roundUp(n, align int) int {
	return (n + align - 1) / align * align
}

// slotSize returns the stack slot a value of the given size occupies: at
// least one native word, word-aligned.
func slotSize(size, word int) int {
	if size < word {
		return word
	}
	return roundUp(size, word)
}

// AssignFrame computes the frame-relative offset of every parameter and
// local of a procedure being defined, in declaration order. Offsets are
// assigned exactly once, here, and are immutable afterwards.
//
// Standard mode: offsets are relative to the frame base register set up in
// the prologue. Parameters sit above the saved base and return address,
// locals below the registers preserved by the uses clause.
//
// Static mode: offsets are relative to the stack top as the prologue leaves
// it. The frame base register stays free for the body, but the engine does
// not track later stack-top changes; mutating the stack top invalidates
// every offset computed here, silently.
func AssignFrame(sym *ProcedureSymbol, arch *Architecture) {
	word := arch.WordSize
	usesBytes := len(sym.Uses) * word

	var localBytes int
	for _, local := range sym.Locals {
		localBytes += slotSize(local.Size, word)
	}
	localBytes = roundUp(localBytes, word)
	sym.LocalBytes = localBytes

	paramBase := 2 * word // saved frame base + return address
	if sym.Mode == FrameStatic {
		paramBase = localBytes + usesBytes + word // return address only
	}
	offset := paramBase
	for _, param := range sym.Parameters {
		param.Offset = offset
		offset += slotSize(param.Size, word)
	}
	sym.ParamStackBytes = offset - paramBase

	if sym.Mode == FrameStatic {
		cum := 0
		for _, local := range sym.Locals {
			local.Offset = cum
			cum += slotSize(local.Size, word)
		}
	} else {
		cum := usesBytes
		for _, local := range sym.Locals {
			cum += slotSize(local.Size, word)
			local.Offset = -cum
		}
	}
}

// frameBaseRegister returns the register frame offsets are relative to.
func frameBaseRegister(mode FrameMode, arch *Architecture) string {
	if mode == FrameStatic {
		return arch.StackPointer
	}
	return arch.FrameBase
}

// FrameExpr renders a variable's address as a base+displacement expression.
func FrameExpr(v *Variable, mode FrameMode, arch *Architecture) string {
	base := frameBaseRegister(mode, arch)
	if v.Offset < 0 {
		return fmt.Sprintf("%v-%d", base, -v.Offset)
	}
	if v.Offset == 0 {
		return base
	}
	return fmt.Sprintf("%v+%d", base, v.Offset)
}

// EmitFrameEquates writes one equate per visible frame label so the host
// macro engine can substitute them in pass-through body text. Labels
// captured from enclosing scopes are re-exported bare, with no size or type
// attached; addressing them is only valid when this procedure is invoked
// directly by its lexical parent.
func EmitFrameEquates(scopes *ScopeStack, sym *ProcedureSymbol, em *Emitter, arch *Architecture) {
	emit := func(owner *ProcedureSymbol) {
		for _, v := range owner.Parameters {
			em.Raw(fmt.Sprintf("%v equ %v", v.Name, FrameExpr(v, sym.Mode, arch)))
		}
		for _, v := range owner.Locals {
			em.Raw(fmt.Sprintf("%v equ %v", v.Name, FrameExpr(v, sym.Mode, arch)))
		}
	}
	for outer := sym.Parent; outer != nil; outer = outer.Parent {
		emit(outer)
	}
	emit(sym)
}
