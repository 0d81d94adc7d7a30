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
	"strings"
	"testing"
)

func TestDefineProcedure_StdcallSum(t *testing.T) {
	ctx := newTestCtx(t, "x86")
	sym := defineProc(t, ctx, "stdcall sum(.a:DWORD, .b:DWORD)")
	EndProcedure(ctx, sym)
	body := sym.Body().String()

	for _, want := range []string{
		"sum:",
		".a equ ebp+8",
		".b equ ebp+12",
		"push ebp",
		"mov ebp, esp",
		"leave",
		"ret 8",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q in body:\n%v", want, body)
		}
	}
	// no uses clause: the prologue preserves nothing beyond the frame base
	if strings.Count(body, "push") != 1 {
		t.Errorf("prologue must contain no register preservation:\n%v", body)
	}
}

func TestDefineProcedure_UsesClause(t *testing.T) {
	ctx := newTestCtx(t, "x86")
	sym := defineProc(t, ctx, "cdecl f() uses ebx, esi", "local x:DWORD")
	EndProcedure(ctx, sym)
	body := sym.Body().String()

	iPushB := lineIndex(body, "push ebx")
	iPushS := lineIndex(body, "push esi")
	iSub := lineIndex(body, "sub esp, 4")
	if iPushB < 0 || iPushS < 0 || iSub < 0 {
		t.Fatalf("missing preservation or locals allocation:\n%v", body)
	}
	if !(iPushB < iPushS && iPushS < iSub) {
		t.Errorf("uses pushes must precede locals allocation:\n%v", body)
	}
	// restores in reverse order, then the frame base
	iPopS := lineIndex(body, "pop esi")
	iPopB := lineIndex(body, "pop ebx")
	iPopBP := lineIndex(body, "pop ebp")
	if !(iPopS < iPopB && iPopB < iPopBP) {
		t.Errorf("epilogue must restore in reverse order:\n%v", body)
	}
	// cdecl: the callee leaves argument cleanup to callers
	if strings.Contains(body, "ret 4") || !strings.Contains(body, "ret") {
		t.Errorf("cdecl epilogue must use a bare ret:\n%v", body)
	}
}

func TestDefineProcedure_DefaultParamWidth(t *testing.T) {
	t.Run("x86", func(t *testing.T) {
		ctx := newTestCtx(t, "x86")
		sym := defineProc(t, ctx, "f(.n)")
		if sym.Parameters[0].Type != "DWORD" || sym.Parameters[0].Size != 4 {
			t.Errorf("param = %+v, want DWORD/4", sym.Parameters[0])
		}
	})
	t.Run("x64", func(t *testing.T) {
		ctx := newTestCtx(t, "x64")
		sym := defineProc(t, ctx, "f(n)")
		if sym.Parameters[0].Type != "QWORD" || sym.Parameters[0].Size != 8 {
			t.Errorf("param = %+v, want QWORD/8", sym.Parameters[0])
		}
	})
}

func TestDefineProcedure_TypeNormalization(t *testing.T) {
	ctx := newTestCtx(t, "x86")
	RegisterAggregate("Point", 8)
	sym := defineProc(t, ctx, "f(.a:dword, .b:Word, .c:Point)")
	if sym.Parameters[0].Type != "DWORD" {
		t.Errorf("fixed tags are case-normalized, got %q", sym.Parameters[0].Type)
	}
	if sym.Parameters[1].Type != "WORD" {
		t.Errorf("fixed tags are case-normalized, got %q", sym.Parameters[1].Type)
	}
	if sym.Parameters[2].Type != "Point" || sym.Parameters[2].Size != 8 {
		t.Errorf("aggregate names keep their declared spelling, got %+v", sym.Parameters[2])
	}
}

func TestDefineProcedure_StaticEpilogue(t *testing.T) {
	ctx := newTestCtx(t, "x86")
	ctx.SetFrameMode(FrameStatic)
	sym := defineProc(t, ctx, "stdcall f(.a:DWORD)", "local x:DWORD")
	EndProcedure(ctx, sym)
	body := sym.Body().String()

	if strings.Contains(body, "leave") || strings.Contains(body, "ebp") {
		t.Errorf("static frame must not use the frame base:\n%v", body)
	}
	if !strings.Contains(body, "sub esp, 4") || !strings.Contains(body, "add esp, 4") {
		t.Errorf("static frame allocates and frees locals on the stack top:\n%v", body)
	}
	if !strings.Contains(body, "ret 4") {
		t.Errorf("callee cleans 4 bytes of parameters:\n%v", body)
	}
}

func TestDefineProcedure_CapturedEquates(t *testing.T) {
	ctx := newTestCtx(t, "x86")
	defineProc(t, ctx, "outer(.x:DWORD)")
	inner := defineProc(t, ctx, ".inner(.y:DWORD)")
	body := inner.Body().String()

	if !strings.Contains(body, "outer.inner:") {
		t.Errorf("nested label must be mangled:\n%v", body)
	}
	// the parent's parameter is re-exported as a bare frame label
	if !strings.Contains(body, ".x equ ebp+8") {
		t.Errorf("captured .x must be visible:\n%v", body)
	}
	if !strings.Contains(body, ".y equ ebp+8") {
		t.Errorf("own parameter .y at its own frame offset:\n%v", body)
	}
}
