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

// BeginProcedure compiles a definition header:
//
//	[convention] [.]name[(param[:TYPE], ...)] [uses reg, ...]
//
// The leading dot marks the nested form. The symbol's scope opens here; the
// frame is sealed when the first body line (or endp) is seen, once all
// locals are known.
func BeginProcedure(ctx *CompilationContext, header string) (*ProcedureSymbol, error) {
	convName := DefaultConvention
	rest := strings.TrimSpace(header)

	if fields := strings.Fields(rest); len(fields) > 1 {
		if _, ok := conventionDirectives[fields[0]]; ok {
			convName = conventionDirectives[fields[0]]
			rest = strings.TrimSpace(rest[len(fields[0]):])
		}
	}
	conv, err := ResolveConvention(convName, ctx.Arch)
	if err != nil {
		return nil, err
	}

	var usesClause string
	if idx := indexOutsideParens(rest, " uses "); idx >= 0 {
		usesClause = strings.TrimSpace(rest[idx+len(" uses "):])
		rest = strings.TrimSpace(rest[:idx])
	}

	var paramList string
	name := rest
	if open := strings.IndexRune(rest, '('); open >= 0 {
		if !strings.HasSuffix(rest, ")") {
			return nil, fmt.Errorf("malformed parameter list: %v", header)
		}
		paramList = rest[open+1 : len(rest)-1]
		name = strings.TrimSpace(rest[:open])
	}
	nested := strings.HasPrefix(name, ".")
	name = strings.TrimPrefix(name, ".")
	if name == "" {
		return nil, fmt.Errorf("missing procedure name: %v", header)
	}
	if nested && !ctx.Scopes.InProcedure() {
		return nil, fmt.Errorf("nested form %v used outside a definition", header)
	}

	parent := ctx.Scopes.Current()
	sym := ctx.Scopes.Enter(name)
	sym.Convention = conv
	sym.Mode = ctx.FrameMode()
	if nested && sym.Mode != parent.Mode {
		ctx.Scopes.Leave()
		return nil, fmt.Errorf("%w: %v is %v inside a %v parent",
			ErrFrameModeMismatch, sym.MangledName, sym.Mode, parent.Mode)
	}

	for _, decl := range SplitArgs(paramList) {
		v, err := parseVariableDecl(ctx, decl, true)
		if err != nil {
			ctx.Scopes.Leave()
			return nil, err
		}
		sym.DeclareVariable(v)
	}

	for _, token := range strings.FieldsFunc(usesClause, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' }) {
		reg, ok := LookupRegister(token)
		if !ok || !reg.AvailableOn(ctx.Arch) {
			ctx.Scopes.Leave()
			return nil, fmt.Errorf("unknown register in uses clause: %v", token)
		}
		sym.Uses = append(sym.Uses, reg)
	}
	return sym, nil
}

// parseVariableDecl compiles one "name[:TYPE]" declaration. The type is a
// fixed-size tag (case-normalized to its canonical uppercase form) or a
// user aggregate name (kept as declared); without a type the variable is a
// native word.
func parseVariableDecl(ctx *CompilationContext, decl string, isParam bool) (*Variable, error) {
	name := strings.TrimSpace(decl)
	tag := ctx.Arch.WordTag()
	if colon := strings.IndexRune(decl, ':'); colon >= 0 {
		name = strings.TrimSpace(decl[:colon])
		declared := strings.TrimSpace(decl[colon+1:])
		if declared == "" {
			return nil, fmt.Errorf("missing type after colon: %v", decl)
		}
		tag, _ = NormalizeTypeTag(declared)
	}
	if name == "" {
		return nil, fmt.Errorf("missing variable name: %v", decl)
	}
	return &Variable{
		Name:    name,
		Type:    tag,
		Size:    TypeSize(tag, ctx.Arch),
		IsParam: isParam,
	}, nil
}

// AddLocals compiles one "local name[:TYPE], ..." line into the open
// definition. Legal only before the frame is sealed.
func AddLocals(ctx *CompilationContext, sym *ProcedureSymbol, tail string) error {
	for _, decl := range SplitArgs(tail) {
		v, err := parseVariableDecl(ctx, decl, false)
		if err != nil {
			return err
		}
		sym.DeclareVariable(v)
	}
	return nil
}

// SealFrame assigns every frame offset and emits the label, the frame-label
// equates and the prologue. Every offset is fixed before any reference to
// it can be resolved.
func SealFrame(ctx *CompilationContext, sym *ProcedureSymbol) {
	AssignFrame(sym, ctx.Arch)
	em := sym.Body()
	arch := ctx.Arch

	em.Label(sym.MangledName)
	EmitFrameEquates(ctx.Scopes, sym, em, arch)

	if sym.Mode == FrameStandard {
		em.Printf("push %v", arch.FrameBase)
		em.Printf("mov %v, %v", arch.FrameBase, arch.StackPointer)
	}
	for _, reg := range sym.Uses {
		em.Printf("push %v", reg.Name)
	}
	if sym.LocalBytes > 0 {
		em.Printf("sub %v, %d", arch.StackPointer, sym.LocalBytes)
	}

	// home register-passed parameters so every parameter has a stable frame
	// address
	if sym.Convention.RegisterPassed() {
		for i, param := range sym.Parameters {
			if i >= len(sym.Convention.IntegerArgRegs) {
				break
			}
			if TypeIsFloat(param.Type) {
				em.Printf("%v [%v], %v", sseMove(param.Size), FrameExpr(param, sym.Mode, arch),
					sym.Convention.FloatArgRegs[i])
				continue
			}
			src, _ := LookupRegister(sym.Convention.IntegerArgRegs[i])
			width := 8
			if param.Size <= 4 {
				width = 4
			}
			em.Printf("mov [%v], %v", FrameExpr(param, sym.Mode, arch), gprView(src.Family, width))
		}
	}
}

// EndProcedure emits the epilogue (restore preserved registers, tear down
// the frame, clean the stack per the convention's policy) and closes the
// scope.
func EndProcedure(ctx *CompilationContext, sym *ProcedureSymbol) {
	em := sym.Body()
	arch := ctx.Arch

	if sym.Mode == FrameStandard {
		if len(sym.Uses) > 0 {
			usesBytes := len(sym.Uses) * arch.WordSize
			em.Printf("lea %v, [%v-%d]", arch.StackPointer, arch.FrameBase, usesBytes)
			for i := len(sym.Uses) - 1; i >= 0; i-- {
				em.Printf("pop %v", sym.Uses[i].Name)
			}
			em.Printf("pop %v", arch.FrameBase)
		} else {
			em.Printf("leave")
		}
	} else {
		if sym.LocalBytes > 0 {
			em.Printf("add %v, %d", arch.StackPointer, sym.LocalBytes)
		}
		for i := len(sym.Uses) - 1; i >= 0; i-- {
			em.Printf("pop %v", sym.Uses[i].Name)
		}
	}

	if sym.Convention.CalleeCleansArgs && sym.ParamStackBytes > 0 {
		em.Printf("ret %d", sym.ParamStackBytes)
	} else {
		em.Printf("ret")
	}
	ctx.Scopes.Leave()
}

// indexOutsideParens finds a substring outside any parenthesized group.
func indexOutsideParens(s, substr string) int {
	depth := 0
	for i := 0; i+len(substr) <= len(s); i++ {
		switch s[i] {
		case '(', '[', '<':
			depth++
		case ')', ']', '>':
			depth--
		}
		if depth == 0 && strings.HasPrefix(s[i:], substr) {
			return i
		}
	}
	return -1
}
