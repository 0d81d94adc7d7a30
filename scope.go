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

	"github.com/samber/lo"
)

// Variable is one parameter or local of a procedure. Its frame offset is
// assigned exactly once, when the procedure is defined, and never changes.
type Variable struct {
	Name    string
	Type    string // canonical type tag, "" once exposed to a nested scope
	Size    int
	Offset  int // relative to the frame base (standard) or stack top (static)
	IsParam bool
}

// ProcedureSymbol is one procedure known to the unit: defined in source,
// nested inside another definition, or imported as an external prototype.
// Symbols live for the whole translation unit in the scope tree.
type ProcedureSymbol struct {
	Name        string // short name as declared
	MangledName string // lexical chain joined with "."
	Convention  *CallingConvention
	Mode        FrameMode
	Parameters  []*Variable
	Locals      []*Variable
	Uses        []Register
	Parent      *ProcedureSymbol
	Children    []*ProcedureSymbol
	External    bool
	Referenced  bool

	// ParamStackBytes is the callee-cleaned stack amount for callee-cleans
	// conventions.
	ParamStackBytes int
	LocalBytes      int

	Pool []*ConstantPoolEntry

	names map[string]*Variable
	procs map[string]*ProcedureSymbol
	body  *Emitter
}

// DeclareVariable records a parameter or local under its short name.
func (p *ProcedureSymbol) DeclareVariable(v *Variable) {
	if v.IsParam {
		p.Parameters = append(p.Parameters, v)
	} else {
		p.Locals = append(p.Locals, v)
	}
	p.names[v.Name] = v
}

// Body returns the emitter collecting this procedure's instructions.
func (p *ProcedureSymbol) Body() *Emitter {
	return p.body
}

// ScopeStack tracks the lexically open procedures. The bottom entry is a
// pseudo-symbol for the unit's top level; it owns top-level call sites and
// their constant pool, and is always referenced.
type ScopeStack struct {
	root  *ProcedureSymbol
	stack []*ProcedureSymbol
}

func NewScopeStack() *ScopeStack {
	root := &ProcedureSymbol{
		Name:       "",
		Referenced: true,
		names:      map[string]*Variable{},
		procs:      map[string]*ProcedureSymbol{},
		body:       NewEmitter(),
	}
	return &ScopeStack{root: root, stack: []*ProcedureSymbol{root}}
}

// Root returns the unit-level pseudo-symbol.
func (s *ScopeStack) Root() *ProcedureSymbol {
	return s.root
}

// Current returns the innermost open scope.
func (s *ScopeStack) Current() *ProcedureSymbol {
	return s.stack[len(s.stack)-1]
}

// InProcedure reports whether a definition is open.
func (s *ScopeStack) InProcedure() bool {
	return len(s.stack) > 1
}

// Enter opens a scope for a new definition. The mangled name concatenates
// every enclosing short name with the new one, giving a globally unique
// label, and the short name becomes resolvable in the enclosing scope and
// all of its descendants.
func (s *ScopeStack) Enter(name string) *ProcedureSymbol {
	parent := s.Current()
	chain := lo.Map(s.stack[1:], func(open *ProcedureSymbol, _ int) string {
		return open.Name
	})
	chain = append(chain, name)
	sym := &ProcedureSymbol{
		Name:        name,
		MangledName: strings.Join(chain, "."),
		names:       map[string]*Variable{},
		procs:       map[string]*ProcedureSymbol{},
		body:        NewEmitter(),
	}
	if parent != s.root {
		sym.Parent = parent
	}
	parent.Children = append(parent.Children, sym)
	parent.procs[name] = sym
	s.stack = append(s.stack, sym)
	return sym
}

// Register adds an already-built symbol (an external prototype) to the
// current scope without opening it.
func (s *ScopeStack) Register(sym *ProcedureSymbol) {
	s.Current().procs[sym.Name] = sym
}

// Leave closes the innermost definition.
func (s *ScopeStack) Leave() *ProcedureSymbol {
	sym := s.Current()
	s.stack = s.stack[:len(s.stack)-1]
	return sym
}

// ResolveReference finds a procedure by short name, searching the active
// scope chain outward.
func (s *ScopeStack) ResolveReference(name string) (*ProcedureSymbol, error) {
	for i := len(s.stack) - 1; i >= 0; i-- {
		if sym, ok := s.stack[i].procs[name]; ok {
			return sym, nil
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrUnresolvedNestedName, name)
}

// LookupVariable finds a parameter or local visible in the current scope.
// Names found in an enclosing scope are captured: the caller gets the frame
// offset but a stripped type, and the value is only addressable when the
// nested procedure is invoked directly by its lexical parent (not verified
// here).
func (s *ScopeStack) LookupVariable(name string) (v *Variable, captured bool, ok bool) {
	for i := len(s.stack) - 1; i >= 1; i-- {
		if found, exists := s.stack[i].names[name]; exists {
			return found, i < len(s.stack)-1, true
		}
	}
	return nil, false, false
}

// Walk visits every symbol in the tree, parents before children.
func (s *ScopeStack) Walk(visit func(*ProcedureSymbol)) {
	var walk func(*ProcedureSymbol)
	walk = func(sym *ProcedureSymbol) {
		visit(sym)
		for _, child := range sym.Children {
			walk(child)
		}
	}
	walk(s.root)
}
