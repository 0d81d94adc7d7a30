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

// ConstantPoolEntry is one deferred literal or aggregate object. The entry
// is materialized after the body of the procedure whose call site produced
// it, and only if that procedure survives the reference pass.
type ConstantPoolEntry struct {
	Label     string
	Directive string // db, dw, dd, dq, dt
	Values    []string
	Owner     *ProcedureSymbol
}

// directiveForSpec maps a constant's element type to its data directive.
var directiveForSpec = map[SizeSpec]string{
	SpecByte:   "db",
	SpecWord:   "dw",
	SpecDword:  "dd",
	SpecFloat:  "dd",
	SpecQword:  "dq",
	SpecDouble: "dq",
	SpecReal:   "dt",
}

// poolLabelBase returns the label namespace for a symbol's pool entries.
func poolLabelBase(sym *ProcedureSymbol) string {
	if sym.MangledName == "" {
		return "unit"
	}
	return sym.MangledName
}

// AddPoolEntry defers a constant into the owner's pool and returns the entry
// whose address stands in for the constant at the call site.
func AddPoolEntry(owner *ProcedureSymbol, directive string, values []string) *ConstantPoolEntry {
	entry := &ConstantPoolEntry{
		Label:     fmt.Sprintf("%v.const%d", poolLabelBase(owner), len(owner.Pool)),
		Directive: directive,
		Values:    values,
		Owner:     owner,
	}
	owner.Pool = append(owner.Pool, entry)
	return entry
}

// AddStringEntry defers a string literal, NUL-terminated. Wide strings use
// 16-bit code units via the du directive. Assembler string syntax has no
// escapes, so control characters become numeric elements.
func AddStringEntry(owner *ProcedureSymbol, text string, wide bool) *ConstantPoolEntry {
	directive := "db"
	if wide {
		directive = "du"
	}
	var values []string
	var run strings.Builder
	flush := func() {
		if run.Len() > 0 {
			values = append(values, fmt.Sprintf("%q", run.String()))
			run.Reset()
		}
	}
	for _, b := range []byte(text) {
		if b >= 0x20 && b < 0x7f && b != '"' {
			run.WriteByte(b)
		} else {
			flush()
			values = append(values, fmt.Sprintf("%d", b))
		}
	}
	flush()
	values = append(values, "0")
	return AddPoolEntry(owner, directive, values)
}

// EmitPool writes the owner's pool entries after its body, each exactly
// once. Callers are expected to have run the reference pass first; the pool
// of an unreferenced procedure is never emitted.
func EmitPool(sym *ProcedureSymbol, em *Emitter) {
	for _, entry := range sym.Pool {
		em.Label(entry.Label)
		em.Printf("%v %v", entry.Directive, strings.Join(entry.Values, ", "))
	}
}
