// Copyright 2023 Sneller, Inc.
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

package solve

import (
	"testing"

	"github.com/SnellerInc/slpack/ir"
	"github.com/SnellerInc/slpack/pack"
)

// a uniform splat takes the broadcast whenever it beats
// explicit insertion, and insertion otherwise.
func TestSplatPrefersBroadcast(t *testing.T) {
	blk, addr := subBlock(2, 0)
	p := New(blk, testOptions(addr))
	q := &ir.Param{Name: "q", Ty: ir.Int(32)}
	op := p.Context().Make(q, q, q, q)

	h := NewHeuristic(p.Context(), nil)
	if got := h.OperandCost(op).Cost; got != h.CSplat {
		t.Fatalf("splat estimate %g, want broadcast %g", got, h.CSplat)
	}

	// with an expensive broadcast, inserting the one
	// distinct lane wins
	h2 := NewHeuristic(p.Context(), nil)
	h2.CSplat = 10
	if got := h2.OperandCost(op).Cost; got != h2.CInsert {
		t.Fatalf("splat estimate %g, want insertion %g", got, h2.CInsert)
	}
}

func TestScalarCostChains(t *testing.T) {
	blk, addr := subBlock(2, ir.OpSub)
	p := New(blk, testOptions(addr))
	h := p.Heuristic()

	load := blk.Instrs[0]
	sub := blk.Instrs[2]
	if got := h.ScalarCost(load); got != 1 {
		t.Fatalf("load chain cost %g", got)
	}
	// the sub pays for itself and its load
	if got := h.ScalarCost(sub); got != 2 {
		t.Fatalf("sub chain cost %g", got)
	}
	// constants and out-of-block values are free
	if h.ScalarCost(ir.ConstInt(32, 1)) != 0 {
		t.Fatal("constant should cost nothing")
	}
	if h.ScalarCost(&ir.Param{Name: "q", Ty: ir.Int(32)}) != 0 {
		t.Fatal("external value should cost nothing")
	}
}

// a demand some candidate produces exactly, in order, is
// estimated at that candidate's cost alone; no movement
// surcharge applies.
func TestOperandExactProducer(t *testing.T) {
	blk, addr := subBlock(4, 0)
	p := New(blk, testOptions(addr))
	h := p.Heuristic()
	l := blk.Instrs[:4]

	var loadP *pack.Pack
	for _, cand := range p.Candidates().Packs {
		if cand.Kind() == pack.Load && len(cand.Members()) == 4 {
			loadP = cand
		}
	}
	est := h.OperandCost(p.Context().Make(l[0], l[1], l[2], l[3]))
	if est.Cost != h.PackCost(loadP) {
		t.Fatalf("in-order load demand %g, pack cost %g", est.Cost, h.PackCost(loadP))
	}
	if len(est.Packs) != 1 || est.Packs[0] != loadP {
		t.Fatalf("estimate should assume the load pack, got %v", est.Packs)
	}
}

// producers of any kind count, not only load packs.
func TestOperandGeneralProducer(t *testing.T) {
	blk, addr := subBlock(4, ir.OpSub)
	p := New(blk, testOptions(addr))
	h := p.Heuristic()
	subs := blk.Instrs[4:8]

	est := h.OperandCost(p.Context().Make(subs[0], subs[1], subs[2], subs[3]))
	if len(est.Packs) != 1 || est.Packs[0].Kind() != pack.General {
		t.Fatalf("estimate should assume the arithmetic pack, got %v", est.Packs)
	}
	if est.Cost != h.PackCost(est.Packs[0]) {
		t.Fatalf("estimate %g, pack cost %g", est.Cost, h.PackCost(est.Packs[0]))
	}
	// well below inserting four two-deep scalar chains
	if base := 4 * (h.ScalarCost(subs[0]) + h.CInsert); est.Cost >= base {
		t.Fatalf("estimate %g not below insertion %g", est.Cost, base)
	}
}

// an operand pack exactly covered by a candidate load
// pack, but out of order, is estimated as that pack plus
// one permute, far below lane-by-lane insertion.
func TestOperandReusesLoadPack(t *testing.T) {
	blk, addr := subBlock(4, 0)
	p := New(blk, testOptions(addr))
	h := p.Heuristic()
	l := blk.Instrs[:4]

	// jumbled lanes of the consecutive loads
	op := p.Context().Make(l[1], l[0], l[3], l[2])
	est := h.OperandCost(op)
	var loadP *pack.Pack
	for _, cand := range p.Candidates().Packs {
		if cand.Kind() == pack.Load && len(cand.Members()) == 4 {
			loadP = cand
		}
	}
	want := h.PackCost(loadP) + h.CPerm
	if est.Cost != want {
		t.Fatalf("estimate %g, want %g", est.Cost, want)
	}
	if len(est.Packs) != 1 || est.Packs[0] != loadP {
		t.Fatalf("estimate should assume the load pack, got %v", est.Packs)
	}

	// estimates are memoized per canonical pointer
	again := h.OperandCost(p.Context().Make(l[1], l[0], l[3], l[2]))
	if again.Cost != est.Cost || len(again.Packs) != 1 || again.Packs[0] != loadP {
		t.Fatal("memoized estimate differs")
	}
}

func TestPackCost(t *testing.T) {
	blk, addr := subBlock(4, ir.OpSub)
	p := New(blk, testOptions(addr))
	h := p.Heuristic()

	var storeP *pack.Pack
	for _, cand := range p.Candidates().Packs {
		if cand.Kind() == pack.Store && len(cand.Members()) == 4 {
			storeP = cand
		}
	}
	// pack cost includes producing its demanded operand
	if h.PackCost(storeP) <= storeP.Cost() {
		t.Fatal("operand production not accounted")
	}
}
