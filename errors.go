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
	"fmt"
)

// Hard errors are detected while a definition or call site is being
// compiled, never while the generated code runs. Each aborts generation for
// the translation unit.
var (
	// ErrUnknownConvention is returned when a calling convention name is not
	// in the registry, or is not available on the selected architecture.
	ErrUnknownConvention = errors.New("unknown calling convention")

	// ErrInvalidArgumentSpecifier is returned when a size specifier is not
	// compatible with the argument kind it is attached to.
	ErrInvalidArgumentSpecifier = errors.New("invalid argument specifier")

	// ErrFrameModeMismatch is returned when a nested procedure is defined
	// under a frame mode different from its parent's.
	ErrFrameModeMismatch = errors.New("frame mode mismatch")

	// ErrUnresolvedNestedName is returned when a nested procedure reference
	// cannot be found in any enclosing scope.
	ErrUnresolvedNestedName = errors.New("unresolved nested procedure name")

	// ErrDuplicateVaList is returned when a call site carries more than one
	// va_list argument. The historical macro package silently let the second
	// block overwrite the first; this generator rejects it instead.
	ErrDuplicateVaList = errors.New("duplicate va_list argument")

	// ErrDisplacedAddressRegister is returned when an address expression
	// reads a register that a later-declared argument has already loaded
	// with its outgoing value. A plain register value is recovered from its
	// spill slot, but an addressing computation cannot be.
	ErrDisplacedAddressRegister = errors.New("address register displaced by outgoing value")
)

// positionError prefixes an error with a file:line location so diagnostics
// identify the offending construct.
func positionError(file string, line int, err error) error {
	return fmt.Errorf("%v:%v: error: %w", file, line, err)
}
