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
	"errors"
	"strings"
	"testing"
)

// emitCallText generates one top-level call site and returns its text. The
// convention may be given as a call-site directive spelling (ccall, invoke).
func emitCallText(t *testing.T, ctx *CompilationContext, convName, target string, args ...string) (string, error) {
	t.Helper()
	if name, ok := conventionDirectives[convName]; ok {
		convName = name
	}
	conv, err := ResolveConvention(convName, ctx.Arch)
	if err != nil {
		t.Fatal(err)
	}
	site := &CallSite{Convention: conv, TargetLabel: target}
	for _, text := range args {
		arg, err := ParseArgument(ctx, ctx.Scopes.Current(), text)
		if err != nil {
			return "", err
		}
		site.Args = append(site.Args, arg)
	}
	em := NewEmitter()
	if err := EmitCall(ctx, ctx.Scopes.Current(), site, em); err != nil {
		return "", err
	}
	return em.String(), nil
}

// lineIndex returns the index of the first line containing needle, or -1.
func lineIndex(text, needle string) int {
	for i, line := range strings.Split(text, "\n") {
		if strings.Contains(line, needle) {
			return i
		}
	}
	return -1
}

func TestEmitCall_ReversedEvaluationOrder(t *testing.T) {
	ctx := newTestCtx(t, "x86")
	text, err := emitCallText(t, ctx, "stdcall", "foo", "1", "2", "3")
	if err != nil {
		t.Fatal(err)
	}
	i3, i2, i1 := lineIndex(text, "push 3"), lineIndex(text, "push 2"), lineIndex(text, "push 1")
	if i3 < 0 || i2 < 0 || i1 < 0 {
		t.Fatalf("missing pushes:\n%v", text)
	}
	if !(i3 < i2 && i2 < i1) {
		t.Errorf("pushes not in reverse declared order:\n%v", text)
	}
	if lineIndex(text, "call foo") < i1 {
		t.Errorf("call before arguments:\n%v", text)
	}
}

func TestEmitCall_CleanupPolicy(t *testing.T) {
	t.Run("stdcall callee cleans", func(t *testing.T) {
		ctx := newTestCtx(t, "x86")
		text, err := emitCallText(t, ctx, "stdcall", "foo", "1", "2")
		if err != nil {
			t.Fatal(err)
		}
		if strings.Contains(text, "add esp") {
			t.Errorf("stdcall caller must not clean arguments:\n%v", text)
		}
	})
	t.Run("cdecl caller cleans", func(t *testing.T) {
		ctx := newTestCtx(t, "x86")
		text, err := emitCallText(t, ctx, "cdecl", "foo", "1", "2")
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(text, "add esp, 8") {
			t.Errorf("cdecl caller must clean 8 bytes:\n%v", text)
		}
	})
}

func TestEmitCall_SaveRestoreSequence(t *testing.T) {
	ctx := newTestCtx(t, "x86")
	text, err := emitCallText(t, ctx, "cdecl", "foo", "[eax]", "eax", "addr ecx+edx+5")
	if err != nil {
		t.Fatal(err)
	}
	iSave := lineIndex(text, "mov [esp+0], eax")
	iLea := lineIndex(text, "lea eax, [ecx+edx+5]")
	iRestore := lineIndex(text, "mov eax, [esp+4]")
	if iSave < 0 || iLea < 0 || iRestore < 0 {
		t.Fatalf("missing save/lea/restore:\n%v", text)
	}
	if !(iSave < iLea && iLea < iRestore) {
		t.Errorf("save must precede the clobber, restore must follow:\n%v", text)
	}
	if strings.Count(text, "mov eax, [esp") != 1 {
		t.Errorf("eax must be restored exactly once:\n%v", text)
	}
	// the memory argument consumes eax in place after the restore
	if lineIndex(text, "push dword [eax]") < iRestore {
		t.Errorf("[eax] pushed before eax restored:\n%v", text)
	}
}

func TestEmitCall_SingleRegisterAddressInPlace(t *testing.T) {
	ctx := newTestCtx(t, "x86")
	text, err := emitCallText(t, ctx, "cdecl", "foo", "addr ecx")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text, "push ecx") {
		t.Errorf("single-register address must push the register directly:\n%v", text)
	}
	if strings.Contains(text, "lea") || strings.Contains(text, "sub esp") {
		t.Errorf("single-register address must not use scratch or spill:\n%v", text)
	}
}

func TestEmitCall_VaListBlock(t *testing.T) {
	ctx := newTestCtx(t, "x86")
	text, err := emitCallText(t, ctx, "cdecl", "foo", `<va_list 10, [ebx], "hello">`)
	if err != nil {
		t.Fatal(err)
	}
	// one contiguous reservation of three 4-byte slots
	if !strings.Contains(text, "sub esp, 12") {
		t.Errorf("want a 12-byte block reservation:\n%v", text)
	}
	for _, want := range []string{
		"mov dword [esp+0], 10",
		"mov eax, dword [ebx]",
		"mov [esp+4], eax",
		"mov dword [esp+8], unit.const0",
		"lea eax, [esp+0]",
		"push eax",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("missing %q:\n%v", want, text)
		}
	}
	// pointer is the sole pushed argument: block + pointer cleaned together
	if !strings.Contains(text, "add esp, 16") {
		t.Errorf("cleanup must free pointer and block:\n%v", text)
	}
}

func TestEmitCall_DuplicateVaListRejected(t *testing.T) {
	ctx := newTestCtx(t, "x86")
	_, err := emitCallText(t, ctx, "cdecl", "foo", "va_list 1", "va_list 2")
	if !errors.Is(err, ErrDuplicateVaList) {
		t.Errorf("error = %v, want ErrDuplicateVaList", err)
	}
}

func TestEmitCall_SeparatedQword(t *testing.T) {
	ctx := newTestCtx(t, "x86")
	text, err := emitCallText(t, ctx, "cdecl", "foo", "edx:ecx")
	if err != nil {
		t.Fatal(err)
	}
	iHigh, iLow := lineIndex(text, "push edx"), lineIndex(text, "push ecx")
	if iHigh < 0 || iLow < 0 || iHigh > iLow {
		t.Errorf("separated qword must push high then low:\n%v", text)
	}
}

func TestEmitCall_X64RegisterLanding(t *testing.T) {
	ctx := newTestCtx(t, "x64")
	text, err := emitCallText(t, ctx, "ccall", "foo", "1", "rbx", "[rsi]", "xmm1", "5")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"mov rcx, 1",
		"mov rdx, rbx",
		"mov r8, qword [rsi]",
		"movsd xmm3, xmm1",
		"mov qword [rsp+32], 5",
		"call foo",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("missing %q:\n%v", want, text)
		}
	}
	// shadow space plus one stack slot, 16-byte aligned
	if !strings.Contains(text, "sub rsp, 48") || !strings.Contains(text, "add rsp, 48") {
		t.Errorf("want 48-byte outgoing area:\n%v", text)
	}
}

func TestEmitCall_LandingRegisterPreserved(t *testing.T) {
	ctx := newTestCtx(t, "x64")
	// the literal lands in rdx before the first argument is loaded; rcx must
	// still receive rdx's original value, taken from the spill slot
	text, err := emitCallText(t, ctx, "ccall", "foo", "rdx", "1")
	if err != nil {
		t.Fatal(err)
	}
	iSave := lineIndex(text, "mov [rsp+32], rdx")
	iLoad := lineIndex(text, "mov rdx, 1")
	iConsume := lineIndex(text, "mov rcx, [rsp+32]")
	if iSave < 0 || iLoad < 0 || iConsume < 0 {
		t.Fatalf("missing save/load/slot-read:\n%v", text)
	}
	if !(iSave < iLoad && iLoad < iConsume) {
		t.Errorf("rdx must be spilled before the literal lands and read back from the slot:\n%v", text)
	}
	if strings.Contains(text, "mov rcx, rdx") {
		t.Errorf("rcx must not be loaded from the displaced register:\n%v", text)
	}
	if strings.Contains(text, "mov rdx, [rsp") {
		t.Errorf("rdx carries an outgoing value and must not be rewritten:\n%v", text)
	}
}

func TestEmitCall_DisplacedAddressRegisterRejected(t *testing.T) {
	ctx := newTestCtx(t, "x64")
	// [rdx+8] cannot be addressed once the second argument occupies rdx
	_, err := emitCallText(t, ctx, "ccall", "foo", "[rdx+8]", "1")
	if !errors.Is(err, ErrDisplacedAddressRegister) {
		t.Errorf("error = %v, want ErrDisplacedAddressRegister", err)
	}
}

func TestEmitCall_SpecifierCompatibility(t *testing.T) {
	tests := []struct {
		arch string
		arg  string
		ok   bool
	}{
		{"x86", "dword ecx", true},
		{"x86", "qword ecx", false},
		{"x64", "qword rcx", true},
		{"x86", "double ecx", false},
		{"x86", "double xmm1", true},
		{"x86", "word xmm1", false},
		{"x86", "byte [ebx]", true},
		{"x86", "real [ebx]", true},
		{"x64", "real [rbx]", false},
		{"x86", "qword addr ecx", false},
		{"x64", "qword addr rcx", true},
		{"x86", "dword edx:ecx", false},
		{"x86", "word 42", true},
	}
	for _, tt := range tests {
		t.Run(tt.arch+"/"+tt.arg, func(t *testing.T) {
			ctx := newTestCtx(t, tt.arch)
			_, err := emitCallText(t, ctx, "stdcall", "foo", tt.arg)
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidArgumentSpecifier) {
				t.Errorf("error = %v, want ErrInvalidArgumentSpecifier", err)
			}
		})
	}
}

func TestEmitCall_StringArgument(t *testing.T) {
	ctx := newTestCtx(t, "x86")
	text, err := emitCallText(t, ctx, "cdecl", "puts", `"hi"`)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text, "push unit.const0") {
		t.Errorf("string must be pushed by pool address:\n%v", text)
	}
	pool := ctx.Scopes.Root().Pool
	if len(pool) != 1 || pool[0].Directive != "db" {
		t.Fatalf("pool = %+v, want one db entry", pool)
	}
	if pool[0].Values[len(pool[0].Values)-1] != "0" {
		t.Error("string entry must be NUL-terminated")
	}
}
