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
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// RegisterClass separates general-purpose registers from SSE registers.
type RegisterClass int

const (
	ClassGPR RegisterClass = iota
	ClassSSE
)

// Register is one architectural register. Family groups overlapping views of
// the same physical register ("rax", "eax", "ax" and "al" all share family
// "a"), which is what the preservation planner compares when it decides
// whether a step destroys a value some later argument still needs.
type Register struct {
	Name   string
	Class  RegisterClass
	Family string
	Width  int // in bytes
}

// gprFamilies maps a family key to its per-width names, widest first.
var gprFamilies = map[string][4]string{
	"a":  {"rax", "eax", "ax", "al"},
	"b":  {"rbx", "ebx", "bx", "bl"},
	"c":  {"rcx", "ecx", "cx", "cl"},
	"d":  {"rdx", "edx", "dx", "dl"},
	"si": {"rsi", "esi", "si", "sil"},
	"di": {"rdi", "edi", "di", "dil"},
	"bp": {"rbp", "ebp", "bp", "bpl"},
	"sp": {"rsp", "esp", "sp", "spl"},
	"8":  {"r8", "r8d", "r8w", "r8b"},
	"9":  {"r9", "r9d", "r9w", "r9b"},
	"10": {"r10", "r10d", "r10w", "r10b"},
	"11": {"r11", "r11d", "r11w", "r11b"},
	"12": {"r12", "r12d", "r12w", "r12b"},
	"13": {"r13", "r13d", "r13w", "r13b"},
	"14": {"r14", "r14d", "r14w", "r14b"},
	"15": {"r15", "r15d", "r15w", "r15b"},
}

var gprWidths = [4]int{8, 4, 2, 1}

// registersByName indexes every known register, including xmm0-xmm15.
var registersByName = func() map[string]Register {
	m := make(map[string]Register)
	for family, names := range gprFamilies {
		for i, name := range names {
			m[name] = Register{Name: name, Class: ClassGPR, Family: family, Width: gprWidths[i]}
		}
	}
	for _, name := range lo.Map(lo.Range(16), func(n int, _ int) string {
		return fmt.Sprintf("xmm%d", n)
	}) {
		m[name] = Register{Name: name, Class: ClassSSE, Family: name, Width: 16}
	}
	return m
}()

// LookupRegister resolves a register name, case-insensitively.
func LookupRegister(name string) (Register, bool) {
	r, ok := registersByName[strings.ToLower(name)]
	return r, ok
}

// SameFamily reports whether two registers overlap the same physical
// register.
func (r Register) SameFamily(other Register) bool {
	return r.Family == other.Family
}

// IsScratch reports whether the register overlaps one of the architecture's
// clobberable scratch registers.
func (r Register) IsScratch(arch *Architecture) bool {
	if intScratch, ok := LookupRegister(arch.IntScratch); ok && r.SameFamily(intScratch) {
		return true
	}
	if floatScratch, ok := LookupRegister(arch.FloatScratch); ok && r.SameFamily(floatScratch) {
		return true
	}
	return false
}

// AvailableOn reports whether the register exists on the target: 64-bit GPR
// views and r8-r15 are x64 only.
func (r Register) AvailableOn(arch *Architecture) bool {
	if arch.Is64() {
		return true
	}
	if r.Class == ClassGPR && r.Width == 8 {
		return false
	}
	if r.Family[0] >= '0' && r.Family[0] <= '9' {
		return false
	}
	switch r.Name {
	case "sil", "dil", "bpl", "spl":
		// byte views that only exist with REX prefixes
		return false
	}
	if r.Class == ClassSSE {
		// xmm8-xmm15 need REX encoding
		n, err := strconv.Atoi(strings.TrimPrefix(r.Name, "xmm"))
		return err == nil && n < 8
	}
	return true
}
