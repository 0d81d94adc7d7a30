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
	"testing"
)

func TestScopeStack_Mangling(t *testing.T) {
	scopes := NewScopeStack()
	outer := scopes.Enter("outer")
	if outer.MangledName != "outer" {
		t.Errorf("outer mangled = %q, want %q", outer.MangledName, "outer")
	}
	inner := scopes.Enter("inner")
	if inner.MangledName != "outer.inner" {
		t.Errorf("inner mangled = %q, want %q", inner.MangledName, "outer.inner")
	}
	deeper := scopes.Enter("deeper")
	if deeper.MangledName != "outer.inner.deeper" {
		t.Errorf("deeper mangled = %q, want %q", deeper.MangledName, "outer.inner.deeper")
	}
}

func TestScopeStack_ResolveDirection(t *testing.T) {
	scopes := NewScopeStack()
	scopes.Enter("outer")
	scopes.Enter("helper")
	scopes.Leave()
	scopes.Enter("inner")

	// inner sees helper, registered in outer
	if sym, err := scopes.ResolveReference("helper"); err != nil || sym.MangledName != "outer.helper" {
		t.Errorf("ResolveReference(helper) = %v, %v; want outer.helper", sym, err)
	}
	scopes.Enter("nested")
	scopes.Leave() // nested registered in inner
	scopes.Leave() // back in outer
	if _, err := scopes.ResolveReference("nested"); !errors.Is(err, ErrUnresolvedNestedName) {
		t.Errorf("outer must not see inner's children, got %v", err)
	}
}

func TestScopeStack_LookupVariableCaptured(t *testing.T) {
	scopes := NewScopeStack()
	outer := scopes.Enter("outer")
	outer.DeclareVariable(&Variable{Name: ".x", Type: "DWORD", Size: 4, IsParam: true})
	scopes.Enter("inner")

	v, captured, ok := scopes.LookupVariable(".x")
	if !ok || v.Name != ".x" {
		t.Fatalf("LookupVariable(.x) = %v, ok=%v", v, ok)
	}
	if !captured {
		t.Error(".x must be reported as captured inside inner")
	}
	scopes.Leave()
	if _, captured, _ := scopes.LookupVariable(".x"); captured {
		t.Error(".x is not captured in its own scope")
	}
}

func TestBeginProcedure_FrameModeMismatch(t *testing.T) {
	ctx := newTestCtx(t, "x86")
	defineProc(t, ctx, "outer()")
	ctx.SetFrameMode(FrameStatic)
	_, err := BeginProcedure(ctx, ".inner()")
	if !errors.Is(err, ErrFrameModeMismatch) {
		t.Errorf("error = %v, want ErrFrameModeMismatch", err)
	}
}

func TestBeginProcedure_NestedOutsideDefinition(t *testing.T) {
	ctx := newTestCtx(t, "x86")
	if _, err := BeginProcedure(ctx, ".orphan()"); err == nil {
		t.Error("nested form outside a definition must fail")
	}
}
