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

// PlanStep is one argument in final evaluation order, annotated with the
// registers its load sequence will overwrite: the scratch register its
// scaffolding transits, and under a register-passing convention the landing
// register itself. LandingFamily names the family that holds an outgoing
// value once the step ran; that family must not be written again before the
// call. A memory or address operand built from a single register never
// clobbers anything: it is used in place.
type PlanStep struct {
	Arg           *Argument
	Clobbers      []Register
	LandingFamily string
}

// SavedValue is one scheduled spill of a register into a reserved
// per-call-site stack slot.
type SavedValue struct {
	Reg  Register
	Slot int
}

// RegisterPreservationPlan schedules the minimal save/restore traffic around
// argument evaluation for one call site. It is computed fresh per call site
// and discarded after emission.
type RegisterPreservationPlan struct {
	// SaveBefore and RestoreBefore map an evaluation-order argument index to
	// the spills/reloads emitted immediately before that argument. SlotSource
	// lists spilled values the argument must read from their slots instead:
	// once a landing register carries an outgoing value, reloading it would
	// destroy that value, so consumers go to the slot directly.
	SaveBefore    map[int][]SavedValue
	RestoreBefore map[int][]SavedValue
	SlotSource    map[int][]SavedValue
	SlotCount     int
}

// argReferences reports whether evaluating the argument still needs the
// given physical register, either as its value or inside an address
// sub-expression.
func argReferences(arg *Argument, family string) bool {
	switch arg.Kind {
	case ArgRegister:
		return arg.Reg.Family == family
	case ArgMemory, ArgAddress:
		for _, r := range arg.ExprRegs {
			if r.Family == family {
				return true
			}
		}
	case ArgPair:
		return arg.High.Family == family || arg.Low.Family == family
	case ArgVaList:
		for i := range arg.Va {
			if argReferences(&arg.Va[i], family) {
				return true
			}
		}
	}
	return false
}

// BuildPreservationPlan walks the evaluation order once. A register is
// spilled only when a step is about to overwrite it while a later argument
// still needs its current value. A spilled transit scratch is reloaded
// immediately before the step that consumes it and not again unless
// something re-clobbers it in between; a spilled landing register stays
// untouched and its consumers are pointed at the slot. Every argument
// sequence has a valid plan, so there is no error case.
func BuildPreservationPlan(steps []PlanStep) *RegisterPreservationPlan {
	type regState struct {
		reg     Register
		saved   bool
		slot    int
		inReg   bool // register still holds the caller's value
		landing bool // spilled because an outgoing value displaced it
	}
	var states []*regState
	byFamily := map[string]*regState{}
	for _, step := range steps {
		for _, r := range step.Clobbers {
			if byFamily[r.Family] == nil {
				st := &regState{reg: r, inReg: true}
				byFamily[r.Family] = st
				states = append(states, st)
			}
		}
	}

	plan := &RegisterPreservationPlan{
		SaveBefore:    map[int][]SavedValue{},
		RestoreBefore: map[int][]SavedValue{},
		SlotSource:    map[int][]SavedValue{},
	}

	neededLater := func(family string, from int) bool {
		for j := from; j < len(steps); j++ {
			if argReferences(steps[j].Arg, family) {
				return true
			}
		}
		return false
	}

	for i, step := range steps {
		// route a spilled value the step consumes
		for _, st := range states {
			if st.saved && !st.inReg && argReferences(step.Arg, st.reg.Family) {
				sv := SavedValue{Reg: st.reg, Slot: st.slot}
				if st.landing {
					plan.SlotSource[i] = append(plan.SlotSource[i], sv)
				} else {
					plan.RestoreBefore[i] = append(plan.RestoreBefore[i], sv)
					st.inReg = true
				}
			}
		}
		// spill before the step destroys a value still needed later
		for _, r := range step.Clobbers {
			st := byFamily[r.Family]
			if st.inReg && !st.saved && neededLater(st.reg.Family, i+1) {
				st.slot = plan.SlotCount
				plan.SlotCount++
				st.saved = true
				st.landing = r.Family == step.LandingFamily
				plan.SaveBefore[i] = append(plan.SaveBefore[i], SavedValue{Reg: st.reg, Slot: st.slot})
			}
			st.inReg = false
		}
	}
	return plan
}
