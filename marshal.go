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

	"github.com/samber/lo"
)

// CallSite is one invocation to generate code for. Transient: it exists
// only while its marshalling sequence is emitted.
type CallSite struct {
	Target      *ProcedureSymbol // nil for a plain external label
	TargetLabel string
	Convention  *CallingConvention
	Args        []Argument
}

// saveSlotStride is the spill slot stride; 8 bytes fits a GPR on either
// target and a scalar double.
const saveSlotStride = 8

// marshaller generates one call site. It owns the per-call-site bookkeeping:
// how much stack was reserved, how many bytes have been pushed so far, and
// where the spill slots and the va_list block live relative to the moving
// stack top.
type marshaller struct {
	ctx     *CompilationContext
	owner   *ProcedureSymbol
	site    *CallSite
	em      *Emitter
	arch    *Architecture
	plan    *RegisterPreservationPlan
	pushed  int            // bytes pushed since the reservation
	slotFor map[string]int // displaced register family -> spill slot, per step

	reserve   int // one-shot stack reservation for this call site
	saveBase  int // offset of spill slot 0 inside the reservation
	vaBase    int // offset of the va_list block inside the reservation
	vaBytes   int
	stackArgs int // outgoing stack-slot bytes, register conventions only
}

// EmitCall generates the marshalling sequence and call instruction for one
// call site into em. Arguments are evaluated in reverse declared order, the
// order both stack- and register-passing conventions consume; only the
// destinations differ.
func EmitCall(ctx *CompilationContext, owner *ProcedureSymbol, site *CallSite, em *Emitter) error {
	m := &marshaller{ctx: ctx, owner: owner, site: site, em: em, arch: ctx.Arch}

	vaCount := 0
	for i := range site.Args {
		if err := CheckSpecCompat(&site.Args[i], m.arch); err != nil {
			return err
		}
		if site.Args[i].Kind == ArgPair && m.arch.Is64() {
			return fmt.Errorf("%w: separated qword arguments are 32-bit only (%v)",
				ErrInvalidArgumentSpecifier, site.Args[i].Text)
		}
		// ten-byte reals fit neither a register nor an 8-byte outgoing slot
		if site.Convention.RegisterPassed() && site.Args[i].EffectiveSize(m.arch) == 10 {
			return fmt.Errorf("%w: ten-byte reals cannot be passed under a register convention (%v)",
				ErrInvalidArgumentSpecifier, site.Args[i].Text)
		}
		if site.Args[i].Kind == ArgVaList {
			vaCount++
			m.vaBytes += vaBlockBytes(&site.Args[i], m.arch)
		}
	}
	if vaCount > 1 {
		return fmt.Errorf("%w: call to %v carries %d va_list blocks",
			ErrDuplicateVaList, site.TargetLabel, vaCount)
	}

	// final evaluation order: reverse of declared order
	evalArgs := lo.Reverse(lo.Range(len(site.Args)))
	steps := make([]PlanStep, len(evalArgs))
	for i, declIdx := range evalArgs {
		arg := &site.Args[declIdx]
		steps[i] = PlanStep{
			Arg:           arg,
			Clobbers:      m.clobbersFor(arg, declIdx),
			LandingFamily: m.landingFamily(arg, declIdx),
		}
	}
	m.plan = BuildPreservationPlan(steps)

	m.layoutReservation()
	if m.reserve > 0 {
		m.em.Printf("sub %v, %d", m.arch.StackPointer, m.reserve)
	}

	for i, declIdx := range evalArgs {
		for _, restore := range m.plan.RestoreBefore[i] {
			m.emitRestore(restore)
		}
		for _, save := range m.plan.SaveBefore[i] {
			m.emitSave(save)
		}
		m.slotFor = map[string]int{}
		for _, sv := range m.plan.SlotSource[i] {
			m.slotFor[sv.Reg.Family] = sv.Slot
		}
		if err := m.emitArg(&site.Args[declIdx], declIdx); err != nil {
			return err
		}
	}

	m.em.Printf("call %v", site.TargetLabel)

	cleanup := m.reserve
	if !site.Convention.CalleeCleansArgs {
		cleanup += m.pushed
	}
	if cleanup > 0 {
		m.em.Printf("add %v, %d", m.arch.StackPointer, cleanup)
	}

	if site.Target != nil {
		site.Target.Referenced = true
	}
	return nil
}

// layoutReservation sizes the one-shot sub of the stack pointer: outgoing
// stack slots and shadow space (register conventions), then the spill area,
// then the va_list block. On x86 arguments are pushed below the reservation
// afterwards, so slot addresses are corrected by m.pushed as pushes happen.
func (m *marshaller) layoutReservation() {
	if m.site.Convention.RegisterPassed() {
		slots := len(m.site.Args)
		if slots < len(m.site.Convention.IntegerArgRegs) {
			slots = len(m.site.Convention.IntegerArgRegs)
		}
		m.stackArgs = slots * m.arch.WordSize
		if m.arch.ShadowSpace > m.stackArgs {
			m.stackArgs = m.arch.ShadowSpace
		}
	}
	m.saveBase = m.stackArgs
	m.vaBase = m.saveBase + m.plan.SlotCount*saveSlotStride
	m.reserve = m.vaBase + m.vaBytes
	if m.arch.Is64() {
		m.reserve = roundUp(m.reserve, 16)
	}
}

// slotAddr renders the address of spill slot i as a stack-top-relative
// operand, corrected for bytes pushed since the reservation.
func (m *marshaller) slotAddr(slot int) string {
	return fmt.Sprintf("[%v+%d]", m.arch.StackPointer, m.pushed+m.saveBase+slot*saveSlotStride)
}

// vaAddr renders the address of the va_list block plus a byte offset.
func (m *marshaller) vaAddr(off int) string {
	return fmt.Sprintf("[%v+%d]", m.arch.StackPointer, m.pushed+m.vaBase+off)
}

func (m *marshaller) emitSave(s SavedValue) {
	if s.Reg.Class == ClassSSE {
		m.em.Printf("movsd %v, %v", m.slotAddr(s.Slot), s.Reg.Name)
	} else {
		m.em.Printf("mov %v, %v", m.slotAddr(s.Slot), s.Reg.Name)
	}
}

func (m *marshaller) emitRestore(s SavedValue) {
	if s.Reg.Class == ClassSSE {
		m.em.Printf("movsd %v, %v", s.Reg.Name, m.slotAddr(s.Slot))
	} else {
		m.em.Printf("mov %v, %v", s.Reg.Name, m.slotAddr(s.Slot))
	}
}

// clobbersFor mirrors emitArg: it reports every register the argument's load
// sequence will overwrite, landing registers included, so the planner can
// protect values that later-evaluated arguments still source from them. A
// single-register address or memory operand is used in place and destroys
// nothing.
func (m *marshaller) clobbersFor(arg *Argument, declIdx int) []Register {
	conv := m.site.Convention
	intScratch, _ := LookupRegister(m.arch.IntScratch)
	floatScratch, _ := LookupRegister(m.arch.FloatScratch)

	if conv.RegisterPassed() && declIdx < len(conv.IntegerArgRegs) {
		destName := conv.IntegerArgRegs[declIdx]
		if arg.IsFloatValue() {
			destName = conv.FloatArgRegs[declIdx]
		}
		dest, _ := LookupRegister(destName)
		if arg.Kind == ArgVaList {
			return []Register{intScratch, dest} // block built in the scratch first
		}
		return []Register{dest}
	}

	size := arg.EffectiveSize(m.arch)
	switch arg.Kind {
	case ArgAddress:
		if len(arg.ExprRegs) == 1 && arg.Expr == arg.ExprRegs[0].Name {
			return nil // pushed or stored in place
		}
		return []Register{intScratch} // lea transit
	case ArgMemory:
		if conv.RegisterPassed() {
			if arg.IsFloatValue() {
				return []Register{floatScratch}
			}
			return []Register{intScratch}
		}
		if size < 4 {
			return []Register{intScratch} // movzx transit for sub-word pushes
		}
		return nil
	case ArgImmediate:
		if conv.RegisterPassed() && arg.Spec.IsFloatClass() {
			return []Register{floatScratch}
		}
	case ArgConstant:
		if conv.RegisterPassed() {
			return []Register{intScratch}
		}
	case ArgVaList:
		return []Register{intScratch} // block pointer is built in the scratch
	}
	return nil
}

// landingFamily names the register family that holds the argument's outgoing
// value once its load sequence ran, or "" for a stack destination.
func (m *marshaller) landingFamily(arg *Argument, declIdx int) string {
	conv := m.site.Convention
	if !conv.RegisterPassed() || declIdx >= len(conv.IntegerArgRegs) {
		return ""
	}
	destName := conv.IntegerArgRegs[declIdx]
	if arg.IsFloatValue() {
		destName = conv.FloatArgRegs[declIdx]
	}
	dest, _ := LookupRegister(destName)
	return dest.Family
}

// checkDisplaced rejects address expressions that read a register already
// loaded with an outgoing value. The value form of such a register is served
// from its spill slot, but an addressing computation has nowhere to go.
func (m *marshaller) checkDisplaced(arg *Argument) error {
	if arg.Kind != ArgMemory && arg.Kind != ArgAddress {
		return nil
	}
	for _, r := range arg.ExprRegs {
		if _, displaced := m.slotFor[r.Family]; displaced {
			return fmt.Errorf("%w: %v inside [%v]; declare the argument earlier or address through another register",
				ErrDisplacedAddressRegister, r.Name, arg.Expr)
		}
	}
	return nil
}

// emitArg emits the load sequence of one argument. declIdx is the declared
// position, which fixes the destination under the active convention.
func (m *marshaller) emitArg(arg *Argument, declIdx int) error {
	if err := m.checkDisplaced(arg); err != nil {
		return err
	}
	if m.site.Convention.RegisterPassed() {
		return m.emitRegisterConvArg(arg, declIdx)
	}
	return m.emitStackConvArg(arg)
}

// push emits one native-word push and advances the push counter.
func (m *marshaller) push(operand string) {
	m.em.Printf("push %v", operand)
	m.pushed += m.arch.WordSize
}

// emitStackConvArg pushes one argument under a stack-passing convention.
func (m *marshaller) emitStackConvArg(arg *Argument) error {
	size := arg.EffectiveSize(m.arch)
	switch arg.Kind {
	case ArgImmediate:
		if arg.Spec.IsFloatClass() {
			return m.pushFloatImmediate(arg)
		}
		if size == 8 && !m.arch.Is64() {
			m.push("0")
		}
		m.push(arg.Imm)
	case ArgRegister:
		if arg.Reg.Class == ClassSSE {
			m.em.Printf("sub %v, %d", m.arch.StackPointer, size)
			m.pushed += size
			m.em.Printf("%v [%v], %v", sseMove(size), m.arch.StackPointer, arg.Reg.Name)
			return nil
		}
		m.push(gprView(arg.Reg.Family, m.arch.WordSize))
	case ArgMemory:
		if size < 4 {
			scratch, _ := LookupRegister(m.arch.IntScratch)
			m.em.Printf("movzx %v, %v [%v]", gprView(scratch.Family, 4), sizeName(size), arg.Expr)
			m.push(gprView(scratch.Family, m.arch.WordSize))
		} else if size == 8 && !m.arch.Is64() {
			m.push(fmt.Sprintf("dword [%v+4]", arg.Expr))
			m.push(fmt.Sprintf("dword [%v]", arg.Expr))
		} else if size == 10 {
			m.push(fmt.Sprintf("dword [%v+8]", arg.Expr))
			m.push(fmt.Sprintf("dword [%v+4]", arg.Expr))
			m.push(fmt.Sprintf("dword [%v]", arg.Expr))
		} else {
			m.push(fmt.Sprintf("%v [%v]", sizeName(m.arch.WordSize), arg.Expr))
		}
	case ArgAddress:
		if len(arg.ExprRegs) == 1 && arg.Expr == arg.ExprRegs[0].Name {
			m.push(gprView(arg.ExprRegs[0].Family, m.arch.WordSize))
			return nil
		}
		scratch, _ := LookupRegister(m.arch.IntScratch)
		m.em.Printf("lea %v, [%v]", scratch.Name, arg.Expr)
		m.push(scratch.Name)
	case ArgPair:
		m.push(arg.High.Name)
		m.push(arg.Low.Name)
	case ArgConstant:
		m.push(arg.Const.Label)
	case ArgVaList:
		if err := m.buildVaBlock(arg); err != nil {
			return err
		}
		scratch, _ := LookupRegister(m.arch.IntScratch)
		m.em.Printf("lea %v, %v", scratch.Name, m.vaAddr(0))
		m.push(scratch.Name)
	}
	return nil
}

// pushFloatImmediate defers a float-class literal into the constant pool and
// pushes its value from there.
func (m *marshaller) pushFloatImmediate(arg *Argument) error {
	entry := AddPoolEntry(m.owner, directiveForSpec[arg.Spec], []string{arg.Imm})
	switch arg.Spec.Bytes() {
	case 4:
		m.push(fmt.Sprintf("dword [%v]", entry.Label))
	case 8:
		m.push(fmt.Sprintf("dword [%v+4]", entry.Label))
		m.push(fmt.Sprintf("dword [%v]", entry.Label))
	default: // real, 10 bytes in 12
		m.push(fmt.Sprintf("dword [%v+8]", entry.Label))
		m.push(fmt.Sprintf("dword [%v+4]", entry.Label))
		m.push(fmt.Sprintf("dword [%v]", entry.Label))
	}
	return nil
}

// emitRegisterConvArg lands one argument in its convention-mandated
// register or outgoing stack slot.
func (m *marshaller) emitRegisterConvArg(arg *Argument, declIdx int) error {
	conv := m.site.Convention
	size := arg.EffectiveSize(m.arch)
	if declIdx < len(conv.IntegerArgRegs) {
		if arg.IsFloatValue() {
			return m.loadFloatReg(arg, conv.FloatArgRegs[declIdx], size)
		}
		return m.loadIntReg(arg, conv.IntegerArgRegs[declIdx], size)
	}
	return m.storeStackSlot(arg, declIdx, size)
}

func (m *marshaller) loadIntReg(arg *Argument, destName string, size int) error {
	dest, _ := LookupRegister(destName)
	view := gprView(dest.Family, 8)
	if size <= 4 {
		view = gprView(dest.Family, 4)
	}
	switch arg.Kind {
	case ArgImmediate:
		m.em.Printf("mov %v, %v", view, arg.Imm)
	case ArgRegister:
		if slot, displaced := m.slotFor[arg.Reg.Family]; displaced {
			m.em.Printf("mov %v, %v", view, m.slotAddr(slot))
			return nil
		}
		if arg.Reg.Class == ClassSSE {
			m.em.Printf("%v %v, %v", sseToGpr(size), view, arg.Reg.Name)
			return nil
		}
		src := gprView(arg.Reg.Family, 8)
		if size <= 4 {
			src = gprView(arg.Reg.Family, 4)
		}
		m.em.Printf("mov %v, %v", view, src)
	case ArgMemory:
		if size < 4 {
			m.em.Printf("movzx %v, %v [%v]", gprView(dest.Family, 4), sizeName(size), arg.Expr)
			return nil
		}
		m.em.Printf("mov %v, %v [%v]", view, sizeName(size), arg.Expr)
	case ArgAddress:
		if len(arg.ExprRegs) == 1 && arg.Expr == arg.ExprRegs[0].Name {
			m.em.Printf("mov %v, %v", gprView(dest.Family, 8), gprView(arg.ExprRegs[0].Family, 8))
			return nil
		}
		m.em.Printf("lea %v, [%v]", gprView(dest.Family, 8), arg.Expr)
	case ArgConstant:
		m.em.Printf("lea %v, [%v]", gprView(dest.Family, 8), arg.Const.Label)
	case ArgVaList:
		if err := m.buildVaBlock(arg); err != nil {
			return err
		}
		m.em.Printf("lea %v, %v", gprView(dest.Family, 8), m.vaAddr(0))
	}
	return nil
}

func (m *marshaller) loadFloatReg(arg *Argument, destName string, size int) error {
	switch arg.Kind {
	case ArgRegister:
		if slot, displaced := m.slotFor[arg.Reg.Family]; displaced {
			m.em.Printf("%v %v, %v", sseMove(size), destName, m.slotAddr(slot))
			return nil
		}
		if arg.Reg.Class == ClassSSE {
			if arg.Reg.Name != destName {
				m.em.Printf("%v %v, %v", sseMove(size), destName, arg.Reg.Name)
			}
			return nil
		}
		m.em.Printf("%v %v, %v", sseToGpr(size), destName, arg.Reg.Name)
	case ArgMemory:
		m.em.Printf("%v %v, [%v]", sseMove(size), destName, arg.Expr)
	case ArgImmediate:
		spec := arg.Spec
		if spec == SpecNone {
			spec = SpecDouble
		}
		entry := AddPoolEntry(m.owner, directiveForSpec[spec], []string{arg.Imm})
		m.em.Printf("%v %v, [%v]", sseMove(spec.Bytes()), destName, entry.Label)
	default:
		return fmt.Errorf("%w: %v cannot be passed in a float register (%v)",
			ErrInvalidArgumentSpecifier, arg.Kind, arg.Text)
	}
	return nil
}

func (m *marshaller) storeStackSlot(arg *Argument, declIdx, size int) error {
	slot := fmt.Sprintf("[%v+%d]", m.arch.StackPointer, declIdx*m.arch.WordSize)
	scratch, _ := LookupRegister(m.arch.IntScratch)
	switch arg.Kind {
	case ArgImmediate:
		if arg.Spec.IsFloatClass() {
			fscratch, _ := LookupRegister(m.arch.FloatScratch)
			entry := AddPoolEntry(m.owner, directiveForSpec[arg.Spec], []string{arg.Imm})
			m.em.Printf("%v %v, [%v]", sseMove(size), fscratch.Name, entry.Label)
			m.em.Printf("%v %v, %v", sseMove(size), slot, fscratch.Name)
			return nil
		}
		m.em.Printf("mov %v %v, %v", sizeName(m.arch.WordSize), slot, arg.Imm)
	case ArgRegister:
		if arg.Reg.Class == ClassSSE {
			m.em.Printf("%v %v, %v", sseMove(size), slot, arg.Reg.Name)
			return nil
		}
		m.em.Printf("mov %v, %v", slot, gprView(arg.Reg.Family, m.arch.WordSize))
	case ArgMemory:
		if arg.IsFloatValue() {
			fscratch, _ := LookupRegister(m.arch.FloatScratch)
			m.em.Printf("%v %v, [%v]", sseMove(size), fscratch.Name, arg.Expr)
			m.em.Printf("%v %v, %v", sseMove(size), slot, fscratch.Name)
			return nil
		}
		if size < 4 {
			m.em.Printf("movzx %v, %v [%v]", gprView(scratch.Family, 4), sizeName(size), arg.Expr)
		} else {
			m.em.Printf("mov %v, %v [%v]", gprView(scratch.Family, size), sizeName(size), arg.Expr)
		}
		m.em.Printf("mov %v, %v", slot, scratch.Name)
	case ArgAddress:
		if len(arg.ExprRegs) == 1 && arg.Expr == arg.ExprRegs[0].Name {
			m.em.Printf("mov %v, %v", slot, gprView(arg.ExprRegs[0].Family, m.arch.WordSize))
			return nil
		}
		m.em.Printf("lea %v, [%v]", scratch.Name, arg.Expr)
		m.em.Printf("mov %v, %v", slot, scratch.Name)
	case ArgConstant:
		m.em.Printf("lea %v, [%v]", scratch.Name, arg.Const.Label)
		m.em.Printf("mov %v, %v", slot, scratch.Name)
	case ArgVaList:
		if err := m.buildVaBlock(arg); err != nil {
			return err
		}
		m.em.Printf("lea %v, %v", scratch.Name, m.vaAddr(0))
		m.em.Printf("mov %v, %v", slot, scratch.Name)
	}
	return nil
}

// vaBlockBytes sizes a va_list block: each value occupies a whole number of
// stride-sized slots.
func vaBlockBytes(arg *Argument, arch *Architecture) int {
	total := 0
	for i := range arg.Va {
		size := arg.Va[i].EffectiveSize(arch)
		total += roundUp(size, arch.VaStride)
	}
	return total
}

// buildVaBlock writes the block values into the reserved contiguous slots.
// The block pointer becomes the effective argument; the callee walks the
// slots at the architecture's stride.
func (m *marshaller) buildVaBlock(arg *Argument) error {
	scratch, _ := LookupRegister(m.arch.IntScratch)
	word := m.arch.WordSize
	off := 0
	for i := range arg.Va {
		value := &arg.Va[i]
		if err := m.checkDisplaced(value); err != nil {
			return err
		}
		size := value.EffectiveSize(m.arch)
		switch value.Kind {
		case ArgImmediate:
			m.em.Printf("mov %v %v, %v", sizeName(word), m.vaAddr(off), value.Imm)
			if size == 8 && !m.arch.Is64() {
				m.em.Printf("mov %v %v, 0", sizeName(word), m.vaAddr(off+4))
			}
		case ArgRegister:
			if slot, displaced := m.slotFor[value.Reg.Family]; displaced {
				m.em.Printf("mov %v, %v", gprView(scratch.Family, word), m.slotAddr(slot))
				m.em.Printf("mov %v, %v", m.vaAddr(off), gprView(scratch.Family, word))
			} else if value.Reg.Class == ClassSSE {
				m.em.Printf("%v %v, %v", sseMove(8), m.vaAddr(off), value.Reg.Name)
			} else {
				m.em.Printf("mov %v, %v", m.vaAddr(off), gprView(value.Reg.Family, word))
			}
		case ArgMemory:
			m.em.Printf("mov %v, %v [%v]", gprView(scratch.Family, word), sizeName(word), value.Expr)
			m.em.Printf("mov %v, %v", m.vaAddr(off), gprView(scratch.Family, word))
			if size == 8 && !m.arch.Is64() {
				m.em.Printf("mov %v, %v [%v+4]", gprView(scratch.Family, word), sizeName(word), value.Expr)
				m.em.Printf("mov %v, %v", m.vaAddr(off+4), gprView(scratch.Family, word))
			}
		case ArgAddress:
			m.em.Printf("lea %v, [%v]", scratch.Name, value.Expr)
			m.em.Printf("mov %v, %v", m.vaAddr(off), scratch.Name)
		case ArgPair:
			m.em.Printf("mov %v, %v", m.vaAddr(off), value.Low.Name)
			m.em.Printf("mov %v, %v", m.vaAddr(off+4), value.High.Name)
		case ArgConstant:
			m.em.Printf("mov %v %v, %v", sizeName(word), m.vaAddr(off), value.Const.Label)
		}
		off += roundUp(size, m.arch.VaStride)
	}
	return nil
}

// gprView returns the name of a GPR family member at the given width.
func gprView(family string, width int) string {
	names := gprFamilies[family]
	switch width {
	case 8:
		return names[0]
	case 4:
		return names[1]
	case 2:
		return names[2]
	default:
		return names[3]
	}
}

// sizeName renders an operand size prefix.
func sizeName(size int) string {
	switch size {
	case 1:
		return "byte"
	case 2:
		return "word"
	case 4:
		return "dword"
	case 10:
		return "tword"
	default:
		return "qword"
	}
}

// sseMove picks the scalar SSE move for a width.
func sseMove(size int) string {
	if size == 4 {
		return "movss"
	}
	return "movsd"
}

// sseToGpr picks the SSE/GPR transfer for a width.
func sseToGpr(size int) string {
	if size <= 4 {
		return "movd"
	}
	return "movq"
}
