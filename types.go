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

import "strings"

// SizeSpec is an explicit argument size specifier. The source forms are a
// closed, case-sensitive, lower-case set; anything else is not a specifier.
type SizeSpec int

const (
	SpecNone SizeSpec = iota
	SpecQword
	SpecDword
	SpecWord
	SpecByte
	SpecDouble
	SpecFloat
	SpecReal
)

var sizeSpecNames = map[string]SizeSpec{
	"qword":  SpecQword,
	"dword":  SpecDword,
	"word":   SpecWord,
	"byte":   SpecByte,
	"double": SpecDouble,
	"float":  SpecFloat,
	"real":   SpecReal,
}

// ParseSizeSpec matches a token against the specifier set. Exact lower-case
// match only: "DWORD" here is a type tag, never a specifier.
func ParseSizeSpec(token string) (SizeSpec, bool) {
	s, ok := sizeSpecNames[token]
	return s, ok
}

func (s SizeSpec) String() string {
	for name, spec := range sizeSpecNames {
		if spec == s {
			return name
		}
	}
	return "none"
}

// Bytes returns the operand width the specifier selects.
func (s SizeSpec) Bytes() int {
	switch s {
	case SpecByte:
		return 1
	case SpecWord:
		return 2
	case SpecDword, SpecFloat:
		return 4
	case SpecQword, SpecDouble:
		return 8
	case SpecReal:
		return 10
	}
	return 0
}

// IsFloatClass reports whether the specifier selects SSE/x87 data.
func (s SizeSpec) IsFloatClass() bool {
	return s == SpecDouble || s == SpecFloat || s == SpecReal
}

// fixedSizeTags are the built-in parameter/local type tags and their sizes
// in bytes. Tags are case-insensitive in source and normalized to this
// canonical uppercase form; aggregate type names are anything else and keep
// their declared spelling.
var fixedSizeTags = map[string]int{
	"BYTE":  1,
	"WORD":  2,
	"DWORD": 4,
	"QWORD": 8,
	"REAL4": 4,
	"REAL8": 8,
}

// NormalizeTypeTag canonicalizes a declared type. The second result is true
// for fixed-size tags, false for aggregate names.
func NormalizeTypeTag(tag string) (string, bool) {
	upper := strings.ToUpper(tag)
	if _, ok := fixedSizeTags[upper]; ok {
		return upper, true
	}
	return tag, false
}

// aggregateSizes records user-defined aggregate types, seeded from imported
// C headers. Unknown aggregates fall back to the native word.
var aggregateSizes = map[string]int{}

// RegisterAggregate records the size of a user-defined aggregate type.
func RegisterAggregate(name string, size int) {
	aggregateSizes[name] = size
}

// TypeSize resolves a declared type to its size on the target.
func TypeSize(tag string, arch *Architecture) int {
	canonical, fixed := NormalizeTypeTag(tag)
	if fixed {
		return fixedSizeTags[canonical]
	}
	if size, ok := aggregateSizes[canonical]; ok {
		return size
	}
	return arch.WordSize
}

// TypeIsFloat reports whether a declared type holds floating-point data, so
// the 64-bit prologue homes it through an SSE move.
func TypeIsFloat(tag string) bool {
	canonical, _ := NormalizeTypeTag(tag)
	return canonical == "REAL4" || canonical == "REAL8"
}
