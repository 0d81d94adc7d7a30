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
	"regexp"
	"strings"
)

// ArgKind tags the forms a call-site argument can take.
type ArgKind int

const (
	ArgRegister ArgKind = iota
	ArgMemory
	ArgImmediate
	ArgAddress
	ArgPair     // separated qword, high:low register halves
	ArgConstant // deferred into the constant pool
	ArgVaList
)

func (k ArgKind) String() string {
	switch k {
	case ArgRegister:
		return "register"
	case ArgMemory:
		return "memory"
	case ArgImmediate:
		return "immediate"
	case ArgAddress:
		return "address"
	case ArgPair:
		return "separated qword"
	case ArgConstant:
		return "constant"
	case ArgVaList:
		return "va_list"
	}
	return "unknown"
}

// Argument is one call-site argument after classification. Transient: it
// exists only while its call site is generated.
type Argument struct {
	Kind ArgKind
	Spec SizeSpec
	Text string // original source text, for diagnostics

	Reg      Register   // ArgRegister
	Expr     string     // ArgMemory/ArgAddress, frame labels already substituted
	ExprRegs []Register // registers appearing in Expr

	// DeclaredSize/DeclaredFloat carry the declared type of a memory operand
	// that names a known frame variable; zero when unknown or captured.
	DeclaredSize  int
	DeclaredFloat bool

	Imm       string // ArgImmediate, literal text kept verbatim
	High, Low Register
	Const     *ConstantPoolEntry
	Va        []Argument
}

var (
	numericLiteral = regexp.MustCompile(`^-?(0x[0-9a-fA-F]+|\d+)(\.\d+)?$`)
	identifier     = regexp.MustCompile(`\.?[A-Za-z_][A-Za-z0-9_]*`)
)

// SplitArgs splits a call-site argument list on commas, honoring <...>
// groups, brackets and string quotes.
func SplitArgs(tail string) []string {
	var (
		args    []string
		depth   int
		inStr   bool
		current strings.Builder
	)
	for _, r := range tail {
		switch {
		case inStr:
			current.WriteRune(r)
			if r == '"' {
				inStr = false
			}
		case r == '"':
			current.WriteRune(r)
			inStr = true
		case r == '<' || r == '[' || r == '(':
			depth++
			current.WriteRune(r)
		case r == '>' || r == ']' || r == ')':
			depth--
			current.WriteRune(r)
		case r == ',' && depth == 0:
			args = append(args, strings.TrimSpace(current.String()))
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	if trimmed := strings.TrimSpace(current.String()); trimmed != "" {
		args = append(args, trimmed)
	}
	return args
}

// substituteFrameLabels replaces visible frame labels in an operand
// expression with their base+displacement form and reports the declared
// size of the first resolved, non-captured variable.
func substituteFrameLabels(ctx *CompilationContext, expr string) (string, int, bool) {
	declaredSize := 0
	declaredFloat := false
	out := identifier.ReplaceAllStringFunc(expr, func(name string) string {
		if _, isReg := LookupRegister(name); isReg {
			return name
		}
		v, captured, ok := ctx.Scopes.LookupVariable(name)
		if !ok {
			return name
		}
		if !captured && declaredSize == 0 {
			declaredSize = v.Size
			declaredFloat = TypeIsFloat(v.Type)
		}
		return FrameExpr(v, ctx.Scopes.Current().Mode, ctx.Arch)
	})
	return out, declaredSize, declaredFloat
}

// exprRegisters scans an operand expression for register references. The
// frame base and stack pointer never carry argument values and are skipped.
func exprRegisters(expr string, arch *Architecture) []Register {
	var regs []Register
	for _, name := range identifier.FindAllString(expr, -1) {
		if r, ok := LookupRegister(name); ok && r.AvailableOn(arch) {
			if r.Family == "bp" || r.Family == "sp" {
				continue
			}
			duplicate := false
			for _, seen := range regs {
				if seen.SameFamily(r) {
					duplicate = true
					break
				}
			}
			if !duplicate {
				regs = append(regs, r)
			}
		}
	}
	return regs
}

// ParseArgument classifies one call-site argument. owner is the procedure
// whose constant pool receives deferred constants.
func ParseArgument(ctx *CompilationContext, owner *ProcedureSymbol, text string) (Argument, error) {
	arg := Argument{Text: text}
	rest := strings.TrimSpace(text)

	// optional leading size specifier, exact lower-case match
	if fields := strings.Fields(rest); len(fields) > 1 {
		if spec, ok := ParseSizeSpec(fields[0]); ok {
			arg.Spec = spec
			rest = strings.TrimSpace(rest[len(fields[0]):])
		}
	}

	switch {
	case strings.HasPrefix(rest, "<") && strings.HasSuffix(rest, ">"):
		inner := strings.TrimSpace(rest[1 : len(rest)-1])
		if strings.HasPrefix(inner, "va_list") {
			return parseVaList(ctx, owner, &arg, strings.TrimSpace(strings.TrimPrefix(inner, "va_list")))
		}
		return parseConstant(ctx, owner, &arg, inner)

	case strings.HasPrefix(rest, "va_list "):
		// braces droppable for a single value
		return parseVaList(ctx, owner, &arg, strings.TrimSpace(strings.TrimPrefix(rest, "va_list ")))

	case strings.HasPrefix(rest, "\"") || strings.HasPrefix(rest, "L\""):
		wide := strings.HasPrefix(rest, "L")
		body, err := unquote(strings.TrimPrefix(rest, "L"))
		if err != nil {
			return arg, err
		}
		arg.Kind = ArgConstant
		arg.Const = AddStringEntry(owner, body, wide)
		return arg, nil

	case strings.HasPrefix(rest, "["):
		if !strings.HasSuffix(rest, "]") {
			return arg, fmt.Errorf("malformed memory operand: %v", text)
		}
		arg.Kind = ArgMemory
		expr, size, isFloat := substituteFrameLabels(ctx, rest[1:len(rest)-1])
		arg.Expr = strings.TrimSpace(expr)
		arg.DeclaredSize = size
		arg.DeclaredFloat = isFloat
		arg.ExprRegs = exprRegisters(arg.Expr, ctx.Arch)
		return arg, nil

	case strings.HasPrefix(rest, "addr ") || strings.HasPrefix(rest, "&"):
		arg.Kind = ArgAddress
		inner := strings.TrimPrefix(rest, "addr ")
		inner = strings.TrimPrefix(inner, "&")
		expr, _, _ := substituteFrameLabels(ctx, strings.TrimSpace(inner))
		arg.Expr = strings.TrimSpace(expr)
		arg.ExprRegs = exprRegisters(arg.Expr, ctx.Arch)
		return arg, nil
	}

	if high, low, ok := splitRegisterPair(rest, ctx.Arch); ok {
		arg.Kind = ArgPair
		arg.High, arg.Low = high, low
		return arg, nil
	}
	if r, ok := LookupRegister(rest); ok && r.AvailableOn(ctx.Arch) {
		arg.Kind = ArgRegister
		arg.Reg = r
		return arg, nil
	}
	if numericLiteral.MatchString(rest) {
		arg.Kind = ArgImmediate
		arg.Imm = rest
		return arg, nil
	}

	// a bare frame label reads the variable's memory
	if v, captured, ok := ctx.Scopes.LookupVariable(rest); ok {
		arg.Kind = ArgMemory
		arg.Expr = FrameExpr(v, ctx.Scopes.Current().Mode, ctx.Arch)
		if !captured {
			arg.DeclaredSize = v.Size
			arg.DeclaredFloat = TypeIsFloat(v.Type)
		}
		arg.ExprRegs = exprRegisters(arg.Expr, ctx.Arch)
		return arg, nil
	}

	// anything else is an external symbol used as an immediate address
	arg.Kind = ArgImmediate
	arg.Imm = rest
	return arg, nil
}

// splitRegisterPair matches the high:low separated-qword form.
func splitRegisterPair(text string, arch *Architecture) (high, low Register, ok bool) {
	parts := strings.Split(text, ":")
	if len(parts) != 2 {
		return high, low, false
	}
	high, okHigh := LookupRegister(strings.TrimSpace(parts[0]))
	low, okLow := LookupRegister(strings.TrimSpace(parts[1]))
	if !okHigh || !okLow || high.Class != ClassGPR || low.Class != ClassGPR {
		return high, low, false
	}
	return high, low, high.AvailableOn(arch) && low.AvailableOn(arch)
}

// parseConstant builds a pool entry from a <...> constant object. Forms:
// a leading element type tag with values, bare values (native word
// elements), or "TYPE const" for a default-initialized aggregate.
func parseConstant(ctx *CompilationContext, owner *ProcedureSymbol, arg *Argument, inner string) (Argument, error) {
	arg.Kind = ArgConstant
	directive := "dd"
	if ctx.Arch.Is64() {
		directive = "dq"
	}

	if fields := strings.Fields(inner); len(fields) == 2 && fields[1] == "const" {
		// default-initialized aggregate
		size := TypeSize(fields[0], ctx.Arch)
		arg.Const = AddPoolEntry(owner, "db", []string{fmt.Sprintf("%d dup 0", size)})
		return *arg, nil
	}

	if fields := strings.Fields(inner); len(fields) > 1 {
		if spec, ok := ParseSizeSpec(fields[0]); ok {
			directive = directiveForSpec[spec]
			inner = strings.TrimSpace(inner[len(fields[0]):])
		}
	}

	values := SplitArgs(inner)
	if len(values) == 0 {
		return *arg, fmt.Errorf("empty constant object: %v", arg.Text)
	}
	arg.Const = AddPoolEntry(owner, directive, values)
	return *arg, nil
}

// parseVaList classifies the values of a va_list block. Nested va_list
// values are rejected; constants and strings inside the block defer into
// the owner's pool like any other constant argument.
func parseVaList(ctx *CompilationContext, owner *ProcedureSymbol, arg *Argument, inner string) (Argument, error) {
	arg.Kind = ArgVaList
	if strings.TrimSpace(inner) == "" {
		return *arg, fmt.Errorf("empty va_list: %v", arg.Text)
	}
	for _, valueText := range SplitArgs(inner) {
		value, err := ParseArgument(ctx, owner, valueText)
		if err != nil {
			return *arg, err
		}
		if value.Kind == ArgVaList {
			return *arg, fmt.Errorf("va_list cannot nest: %v", arg.Text)
		}
		arg.Va = append(arg.Va, value)
	}
	return *arg, nil
}

// unquote strips the surrounding quotes of a string literal and expands the
// usual escapes.
func unquote(text string) (string, error) {
	if len(text) < 2 || !strings.HasPrefix(text, "\"") || !strings.HasSuffix(text, "\"") {
		return "", fmt.Errorf("malformed string literal: %v", text)
	}
	body := text[1 : len(text)-1]
	replacer := strings.NewReplacer(`\n`, "\n", `\t`, "\t", `\"`, "\"", `\\`, "\\", `\0`, "\x00")
	return replacer.Replace(body), nil
}

// CheckSpecCompat validates an explicit size specifier against the argument
// kind per the compatibility table. Constants and va_list blocks never
// consume a specifier.
func CheckSpecCompat(arg *Argument, arch *Architecture) error {
	if arg.Spec == SpecNone {
		return nil
	}
	invalid := func() error {
		return fmt.Errorf("%w: %v is not valid for a %v argument (%v)",
			ErrInvalidArgumentSpecifier, arg.Spec, arg.Kind, arg.Text)
	}
	only64 := func() error {
		if arch.Is64() {
			return nil
		}
		return invalid()
	}
	switch arg.Kind {
	case ArgRegister:
		if arg.Reg.Class == ClassSSE {
			switch arg.Spec {
			case SpecQword, SpecDword, SpecDouble, SpecFloat:
				return nil
			}
			return invalid()
		}
		switch arg.Spec {
		case SpecQword, SpecFloat:
			return only64()
		case SpecDword, SpecWord, SpecByte:
			return nil
		}
		return invalid()
	case ArgImmediate, ArgMemory:
		return nil
	case ArgAddress:
		switch arg.Spec {
		case SpecQword:
			return only64()
		case SpecDword:
			return nil
		}
		return invalid()
	case ArgPair, ArgConstant, ArgVaList:
		return invalid()
	}
	return nil
}

// EffectiveSize resolves the operand width: the explicit specifier when
// present, otherwise inferred from the argument kind.
func (arg *Argument) EffectiveSize(arch *Architecture) int {
	if arg.Spec != SpecNone {
		return arg.Spec.Bytes()
	}
	switch arg.Kind {
	case ArgRegister:
		if arg.Reg.Class == ClassSSE {
			return 8 // SSE registers default to double
		}
		return arg.Reg.Width
	case ArgMemory:
		if arg.DeclaredSize > 0 {
			return arg.DeclaredSize
		}
		return arch.WordSize
	case ArgPair:
		return 8
	default:
		// addresses, immediates, constant addresses, va_list pointers
		return arch.WordSize
	}
}

// IsFloatValue reports whether the argument carries floating-point data, so
// a register-passing convention routes it through an SSE argument register.
func (arg *Argument) IsFloatValue() bool {
	if arg.Spec.IsFloatClass() {
		return true
	}
	if arg.Spec == SpecNone {
		if arg.Kind == ArgRegister && arg.Reg.Class == ClassSSE {
			return true
		}
		if arg.Kind == ArgMemory && arg.DeclaredFloat {
			return true
		}
	}
	return false
}
