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
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/asmfmt"
)

// Unit compiles one translation unit: a strictly ordered sequence of
// definitions and call sites. Pass one parses everything, assigns frames and
// fills per-procedure body buffers; pass two filters unreferenced constant
// pools and writes the final text.
type Unit struct {
	ctx    *CompilationContext
	Source string

	// unsealed is a definition whose local declarations are still being
	// collected; its frame is sealed by the first body line.
	unsealed *ProcedureSymbol
	finished []*ProcedureSymbol
}

func NewUnit(source string, ctx *CompilationContext) *Unit {
	return &Unit{ctx: ctx, Source: source}
}

// seal closes the local-declaration window of a pending definition.
func (u *Unit) seal() {
	if u.unsealed != nil {
		SealFrame(u.ctx, u.unsealed)
		u.unsealed = nil
	}
}

// Parse consumes the whole unit. The first hard error aborts generation;
// there is no partial-success mode.
func (u *Unit) Parse(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if err := u.parseLine(scanner.Text()); err != nil {
			return positionError(u.Source, lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if u.ctx.Scopes.InProcedure() {
		return fmt.Errorf("%v: error: unclosed definition: %v",
			u.Source, u.ctx.Scopes.Current().MangledName)
	}
	return nil
}

func (u *Unit) parseLine(raw string) error {
	line := stripComment(raw)
	if strings.TrimSpace(line) == "" {
		return nil
	}
	trimmed := strings.TrimSpace(line)
	fields := strings.Fields(trimmed)
	directive := fields[0]
	tail := strings.TrimSpace(trimmed[len(directive):])

	switch directive {
	case "proc":
		u.seal()
		sym, err := BeginProcedure(u.ctx, tail)
		if err != nil {
			return err
		}
		if u.ctx.Verbose {
			fmt.Fprintf(os.Stderr, "defining %v (%v, %v frame)\n",
				sym.MangledName, sym.Convention.ID, sym.Mode)
		}
		u.unsealed = sym
		return nil

	case "local":
		if u.unsealed == nil {
			return fmt.Errorf("local declaration after the frame is sealed: %v", trimmed)
		}
		return AddLocals(u.ctx, u.unsealed, tail)

	case "endp":
		u.seal()
		if !u.ctx.Scopes.InProcedure() {
			return fmt.Errorf("endp outside a definition")
		}
		sym := u.ctx.Scopes.Current()
		EndProcedure(u.ctx, sym)
		u.finished = append(u.finished, sym)
		return nil

	case "frame":
		u.seal()
		return u.parseFrameDirective(tail)
	}

	if _, ok := conventionDirectives[directive]; ok {
		u.seal()
		return u.parseCallSite(directive, tail)
	}

	// pass-through text: the host macro engine owns it
	u.seal()
	u.ctx.Scopes.Current().Body().Raw(line)
	return nil
}

// parseFrameDirective handles the global frame-mode switches. They affect
// only procedures defined afterwards.
func (u *Unit) parseFrameDirective(tail string) error {
	switch tail {
	case "standard":
		u.ctx.SetFrameMode(FrameStandard)
	case "static":
		u.ctx.SetFrameMode(FrameStatic)
	case "restore":
		u.ctx.RestoreFrameMode()
	default:
		return fmt.Errorf("unknown frame directive: frame %v", tail)
	}
	return nil
}

// parseCallSite compiles one invocation line: the directive token names the
// convention, then the target, then the arguments.
func (u *Unit) parseCallSite(directive, tail string) error {
	conv, err := ResolveConvention(conventionDirectives[directive], u.ctx.Arch)
	if err != nil {
		return err
	}
	parts := SplitArgs(tail)
	if len(parts) == 0 {
		return fmt.Errorf("missing invocation target")
	}
	targetName := parts[0]

	site := &CallSite{Convention: conv, TargetLabel: targetName}
	if strings.HasPrefix(targetName, ".") {
		sym, err := u.ctx.Scopes.ResolveReference(strings.TrimPrefix(targetName, "."))
		if err != nil {
			return err
		}
		site.Target = sym
		site.TargetLabel = sym.MangledName
	} else if sym, err := u.ctx.Scopes.ResolveReference(targetName); err == nil {
		site.Target = sym
		site.TargetLabel = sym.MangledName
	}

	owner := u.ctx.Scopes.Current()
	for _, argText := range parts[1:] {
		arg, err := ParseArgument(u.ctx, owner, argText)
		if err != nil {
			return err
		}
		site.Args = append(site.Args, arg)
	}
	if u.ctx.Verbose {
		fmt.Fprintf(os.Stderr, "invoking %v (%v, %d args)\n",
			site.TargetLabel, conv.ID, len(site.Args))
	}
	return EmitCall(u.ctx, owner, site, owner.Body())
}

// Generate runs the second pass: bodies in completion order, each referenced
// procedure's constant pool right after its body, unreferenced pools
// dropped. The result is run through asmfmt; if the formatter rejects the
// text it is returned unformatted.
func (u *Unit) Generate() (string, error) {
	out := NewEmitter()

	root := u.ctx.Scopes.Root()
	out.Append(root.Body())
	EmitPool(root, out)

	for _, sym := range u.finished {
		if sym.Body().Len() > 0 {
			out.Raw("")
		}
		out.Append(sym.Body())
		if sym.Referenced {
			EmitPool(sym, out)
		} else if u.ctx.Verbose && len(sym.Pool) > 0 {
			fmt.Fprintf(os.Stderr, "dropping constant pool of unreferenced %v\n", sym.MangledName)
		}
	}

	text := out.String()
	if formatted, err := asmfmt.Format(strings.NewReader(text)); err == nil {
		return string(formatted), nil
	}
	return text, nil
}

// stripComment removes a ; comment, honoring string literals.
func stripComment(line string) string {
	inStr := false
	for i, r := range line {
		switch {
		case r == '"':
			inStr = !inStr
		case r == ';' && !inStr:
			return line[:i]
		}
	}
	return line
}
