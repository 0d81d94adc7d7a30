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
	"os"
	"runtime"

	"modernc.org/cc/v4"
)

// headerPrologue supplies the <stdint.h> aliases the parser needs to
// recognize fixed-width types in prototypes without pulling in system
// headers.
const headerPrologue = `typedef signed char int8_t;
typedef short int16_t;
typedef int int32_t;
typedef long long int64_t;
typedef unsigned char uint8_t;
typedef unsigned short uint16_t;
typedef unsigned int uint32_t;
typedef unsigned long long uint64_t;
`

// ImportHeader parses a C header and registers every function declaration
// as an external cdecl prototype in the current scope, so call sites get
// parameter typing for free. Struct definitions seed the aggregate-size
// registry. Imported prototypes produce no code of their own.
func ImportHeader(ctx *CompilationContext, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()

	cfg, err := cc.NewConfig(runtime.GOOS, runtime.GOARCH)
	if err != nil {
		return err
	}
	ast, err := cc.Parse(cfg, []cc.Source{
		{Name: "<predefined>", Value: cfg.Predefined},
		{Name: "<builtin>", Value: cc.Builtin},
		{Name: "<prologue>", Value: headerPrologue},
		{Name: path, Value: f},
	})
	if err != nil {
		return fmt.Errorf("failed to parse header %v: %w", path, err)
	}

	convName := "cdecl"
	if ctx.Arch.Is64() {
		convName = "fastcall"
	}
	conv, err := ResolveConvention(convName, ctx.Arch)
	if err != nil {
		return err
	}

	for tu := ast.TranslationUnit; tu != nil; tu = tu.TranslationUnit {
		external := tu.ExternalDeclaration
		if external.Position().Filename != path {
			continue
		}
		switch external.Case {
		case cc.ExternalDeclarationDecl:
			if err := importDeclaration(ctx, conv, external.Declaration); err != nil {
				return err
			}
		case cc.ExternalDeclarationFuncDef:
			if err := importPrototype(ctx, conv, external.FunctionDefinition.DeclarationSpecifiers,
				external.FunctionDefinition.Declarator); err != nil {
				return err
			}
		}
	}
	return nil
}

// importDeclaration walks one top-level declaration: function prototypes
// become external symbols, struct definitions register their size.
func importDeclaration(ctx *CompilationContext, conv *CallingConvention, decl *cc.Declaration) error {
	if decl == nil {
		return nil
	}
	if spec := decl.DeclarationSpecifiers; spec != nil && spec.TypeSpecifier != nil {
		registerStructSpecifier(ctx, spec.TypeSpecifier.StructOrUnionSpecifier)
	}
	for list := decl.InitDeclaratorList; list != nil; list = list.InitDeclaratorList {
		declarator := list.InitDeclarator.Declarator
		if declarator == nil || declarator.DirectDeclarator == nil {
			continue
		}
		if declarator.DirectDeclarator.Case != cc.DirectDeclaratorFuncParam {
			continue
		}
		if err := importPrototype(ctx, conv, decl.DeclarationSpecifiers, declarator); err != nil {
			return err
		}
	}
	return nil
}

// importPrototype registers one function signature as an external symbol.
// Adapted from the function conversion the assembly translator uses: the
// declarator's direct declarator carries the name, the parameter type list
// the typed parameters.
func importPrototype(ctx *CompilationContext, conv *CallingConvention, specs *cc.DeclarationSpecifiers, declarator *cc.Declarator) error {
	directDeclarator := declarator.DirectDeclarator
	if directDeclarator.Case != cc.DirectDeclaratorFuncParam {
		return nil
	}
	name := directDeclarator.DirectDeclarator.Token.SrcStr()
	if name == "" {
		return nil
	}

	sym := &ProcedureSymbol{
		Name:        name,
		MangledName: name,
		Convention:  conv,
		Mode:        ctx.FrameMode(),
		External:    true,
		names:       map[string]*Variable{},
		procs:       map[string]*ProcedureSymbol{},
		body:        NewEmitter(),
	}
	if directDeclarator.ParameterTypeList != nil {
		if err := importParameters(ctx, sym, directDeclarator.ParameterTypeList.ParameterList); err != nil {
			return err
		}
	}
	ctx.Scopes.Register(sym)
	if ctx.Verbose {
		fmt.Fprintf(os.Stderr, "imported prototype %v (%d params)\n", name, len(sym.Parameters))
	}
	return nil
}

// importParameters converts a C parameter list into frame variables. The
// offsets stay unassigned: external prototypes have no frame of their own,
// the typing only serves call-site size resolution.
func importParameters(ctx *CompilationContext, sym *ProcedureSymbol, params *cc.ParameterList) error {
	for ; params != nil; params = params.ParameterList {
		declaration := params.ParameterDeclaration
		if declaration == nil || declaration.Declarator == nil {
			continue
		}
		paramName := declaration.Declarator.DirectDeclarator.Token.SrcStr()
		var typeName string
		if declaration.DeclarationSpecifiers.Case == cc.DeclarationSpecifiersTypeQual {
			typeName = declaration.DeclarationSpecifiers.DeclarationSpecifiers.TypeSpecifier.Token.SrcStr()
		} else if declaration.DeclarationSpecifiers.TypeSpecifier != nil {
			typeName = declaration.DeclarationSpecifiers.TypeSpecifier.Token.SrcStr()
		}
		tag := cTypeTag(typeName, declaration.Declarator.Pointer != nil, ctx.Arch)
		sym.DeclareVariable(&Variable{
			Name:    paramName,
			Type:    tag,
			Size:    TypeSize(tag, ctx.Arch),
			IsParam: true,
		})
	}
	return nil
}

// cTypeTag maps a C type name to the generator's canonical type tags.
func cTypeTag(name string, pointer bool, arch *Architecture) string {
	if pointer {
		return arch.WordTag()
	}
	switch name {
	case "char", "_Bool", "int8_t", "uint8_t":
		return "BYTE"
	case "short", "int16_t", "uint16_t":
		return "WORD"
	case "int", "unsigned", "int32_t", "uint32_t":
		return "DWORD"
	case "int64_t", "uint64_t":
		return "QWORD"
	case "long":
		return arch.WordTag()
	case "float":
		return "REAL4"
	case "double":
		return "REAL8"
	default:
		return name // aggregate, kept as declared
	}
}

// registerStructSpecifier seeds the aggregate registry from a syntactic
// struct definition. Sizes are computed from the member specifiers with
// natural alignment; good enough for frame slot sizing, which rounds to
// word multiples anyway.
func registerStructSpecifier(ctx *CompilationContext, spec *cc.StructOrUnionSpecifier) {
	if spec == nil || spec.StructDeclarationList == nil {
		return
	}
	tag := spec.Token.SrcStr()
	if tag == "" {
		return
	}
	size := 0
	maxAlign := 1
	for list := spec.StructDeclarationList; list != nil; list = list.StructDeclarationList {
		member := list.StructDeclaration
		if member == nil || member.SpecifierQualifierList == nil {
			continue
		}
		typeName := ""
		if ts := member.SpecifierQualifierList.TypeSpecifier; ts != nil {
			typeName = ts.Token.SrcStr()
		}
		memberTag := cTypeTag(typeName, false, ctx.Arch)
		memberSize := TypeSize(memberTag, ctx.Arch)
		align := memberSize
		if align > ctx.Arch.WordSize {
			align = ctx.Arch.WordSize
		}
		if align < 1 {
			align = 1
		}
		if align > maxAlign {
			maxAlign = align
		}
		for decl := member.StructDeclaratorList; decl != nil; decl = decl.StructDeclaratorList {
			size = roundUp(size, align) + memberSize
		}
	}
	if size > 0 {
		RegisterAggregate(tag, roundUp(size, maxAlign))
	}
}
