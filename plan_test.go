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
	"testing"

	"github.com/samber/lo"
)

// planSteps classifies a declared-order argument list at the unit's top
// level and returns the evaluation-order plan steps the marshaller would
// build under the architecture's C convention.
func planSteps(t *testing.T, ctx *CompilationContext, texts ...string) []PlanStep {
	t.Helper()
	conv, err := ResolveConvention("cdecl", ctx.Arch)
	if err != nil {
		t.Fatal(err)
	}
	site := &CallSite{Convention: conv, TargetLabel: "target"}
	for _, text := range texts {
		arg, err := ParseArgument(ctx, ctx.Scopes.Root(), text)
		if err != nil {
			t.Fatal(err)
		}
		site.Args = append(site.Args, arg)
	}
	m := &marshaller{ctx: ctx, owner: ctx.Scopes.Root(), site: site, arch: ctx.Arch}
	steps := make([]PlanStep, 0, len(site.Args))
	for _, declIdx := range lo.Reverse(lo.Range(len(site.Args))) {
		arg := &site.Args[declIdx]
		steps = append(steps, PlanStep{
			Arg:           arg,
			Clobbers:      m.clobbersFor(arg, declIdx),
			LandingFamily: m.landingFamily(arg, declIdx),
		})
	}
	return steps
}

func TestPlan_SingleRegisterAddressNeverSaves(t *testing.T) {
	ctx := newTestCtx(t, "x86")
	// eax holds a value needed only for a single-register address
	// expression: nothing may touch it
	plan := BuildPreservationPlan(planSteps(t, ctx, "[eax]", "addr eax"))
	if plan.SlotCount != 0 {
		t.Fatalf("SlotCount = %d, want 0", plan.SlotCount)
	}
	if len(plan.SaveBefore) != 0 || len(plan.RestoreBefore) != 0 {
		t.Errorf("plan has save/restore traffic: %+v %+v", plan.SaveBefore, plan.RestoreBefore)
	}
}

func TestPlan_SaveOnceRestoreOnce(t *testing.T) {
	ctx := newTestCtx(t, "x86")
	// declared: [eax], eax, addr ecx+edx+5 -> evaluated address first.
	// The lea destroys eax, which both later arguments still need.
	plan := BuildPreservationPlan(planSteps(t, ctx, "[eax]", "eax", "addr ecx+edx+5"))

	if plan.SlotCount != 1 {
		t.Fatalf("SlotCount = %d, want 1", plan.SlotCount)
	}
	if saves := plan.SaveBefore[0]; len(saves) != 1 || saves[0].Reg.Family != "a" {
		t.Fatalf("SaveBefore[0] = %+v, want one save of eax", plan.SaveBefore)
	}
	if restores := plan.RestoreBefore[1]; len(restores) != 1 || restores[0].Reg.Family != "a" {
		t.Fatalf("RestoreBefore[1] = %+v, want one restore of eax", plan.RestoreBefore)
	}
	// already restored for step 1 and not re-clobbered: step 2 must not
	// restore again
	if restores := plan.RestoreBefore[2]; len(restores) != 0 {
		t.Errorf("RestoreBefore[2] = %+v, want none", restores)
	}
}

func TestPlan_NoSaveWhenValueNotNeededLater(t *testing.T) {
	ctx := newTestCtx(t, "x86")
	// the address computation clobbers eax but no later argument cares
	plan := BuildPreservationPlan(planSteps(t, ctx, "ebx", "addr ecx+edx+5"))
	if plan.SlotCount != 0 {
		t.Errorf("SlotCount = %d, want 0 (free clobber)", plan.SlotCount)
	}
}

func TestPlan_RestoreAgainAfterReclobber(t *testing.T) {
	ctx := newTestCtx(t, "x86")
	// declared: [eax], addr ebx+ecx+1, eax, addr ecx+edx+5
	// evaluation: addr(clobbers), eax(consumes), addr(clobbers), [eax](consumes)
	plan := BuildPreservationPlan(planSteps(t, ctx,
		"[eax]", "addr ebx+ecx+1", "eax", "addr ecx+edx+5"))

	if plan.SlotCount != 1 {
		t.Fatalf("SlotCount = %d, want 1 (the slot keeps the value, one spill suffices)", plan.SlotCount)
	}
	if len(plan.RestoreBefore[1]) != 1 {
		t.Errorf("RestoreBefore[1] = %+v, want restore for eax", plan.RestoreBefore[1])
	}
	if len(plan.RestoreBefore[3]) != 1 {
		t.Errorf("RestoreBefore[3] = %+v, want second restore after re-clobber", plan.RestoreBefore[3])
	}
	if len(plan.SaveBefore[2]) != 0 {
		t.Errorf("SaveBefore[2] = %+v, want no second spill", plan.SaveBefore[2])
	}
}

func TestPlan_LandingRegisterServedFromSlot(t *testing.T) {
	ctx := newTestCtx(t, "x64")
	// declared: rdx, 1. The literal lands in rdx first, displacing the value
	// the first argument still needs; that value must come from the slot.
	plan := BuildPreservationPlan(planSteps(t, ctx, "rdx", "1"))
	if plan.SlotCount != 1 {
		t.Fatalf("SlotCount = %d, want 1 (spill rdx)", plan.SlotCount)
	}
	if saves := plan.SaveBefore[0]; len(saves) != 1 || saves[0].Reg.Family != "d" {
		t.Fatalf("SaveBefore[0] = %+v, want one save of rdx", plan.SaveBefore)
	}
	if len(plan.RestoreBefore) != 0 {
		t.Errorf("RestoreBefore = %+v, want none: a loaded landing register must stay intact", plan.RestoreBefore)
	}
	if srcs := plan.SlotSource[1]; len(srcs) != 1 || srcs[0].Reg.Family != "d" {
		t.Errorf("SlotSource[1] = %+v, want rdx served from its slot", plan.SlotSource)
	}
}

func TestPlan_FloatScratchIndependent(t *testing.T) {
	ctx := newTestCtx(t, "x64")
	// a float memory transit on x64 goes through xmm7; xmm7's own value is
	// needed by a later argument
	sym := defineProc(t, ctx, "f(d:REAL8)")
	defer ctx.Scopes.Leave()
	_ = sym

	conv, err := ResolveConvention("fastcall", ctx.Arch)
	if err != nil {
		t.Fatal(err)
	}
	site := &CallSite{Convention: conv, TargetLabel: "g"}
	// five arguments so the last declared lands in a stack slot via xmm7
	for _, text := range []string{"xmm7", "1", "2", "3", "double [d]"} {
		arg, err := ParseArgument(ctx, ctx.Scopes.Current(), text)
		if err != nil {
			t.Fatal(err)
		}
		site.Args = append(site.Args, arg)
	}
	m := &marshaller{ctx: ctx, owner: ctx.Scopes.Current(), site: site, arch: ctx.Arch}
	var steps []PlanStep
	for _, declIdx := range lo.Reverse(lo.Range(len(site.Args))) {
		arg := &site.Args[declIdx]
		steps = append(steps, PlanStep{
			Arg:           arg,
			Clobbers:      m.clobbersFor(arg, declIdx),
			LandingFamily: m.landingFamily(arg, declIdx),
		})
	}
	plan := BuildPreservationPlan(steps)
	if plan.SlotCount != 1 {
		t.Fatalf("SlotCount = %d, want 1 (spill xmm7)", plan.SlotCount)
	}
	saves, ok := plan.SaveBefore[0]
	if !ok || saves[0].Reg.Class != ClassSSE {
		t.Errorf("SaveBefore[0] = %+v, want an SSE spill", plan.SaveBefore)
	}
	if restores := plan.RestoreBefore[4]; len(restores) != 1 {
		t.Errorf("RestoreBefore[4] = %+v, want restore before xmm7 is consumed", restores)
	}
}
