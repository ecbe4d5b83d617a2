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

// four independent subtracts between contiguous loads
// and contiguous stores vectorize into exactly three
// 4-wide packs.
func TestVectorizeWholeChain(t *testing.T) {
	blk, addr := subBlock(4, ir.OpSub)
	p := New(blk, testOptions(addr))

	set, sol := p.SolveDP()
	// one vector load, one vector sub, one vector store
	if sol.Cost != 3 {
		t.Fatalf("solution cost %g", sol.Cost)
	}
	if set.Len() != 3 {
		t.Fatalf("committed %d packs", set.Len())
	}
	kinds := make(map[pack.Kind]int)
	for _, cand := range set.Packs() {
		if len(cand.Members()) != 4 {
			t.Fatalf("narrow pack committed: %s", cand)
		}
		kinds[cand.Kind()]++
	}
	if kinds[pack.Load] != 1 || kinds[pack.General] != 1 || kinds[pack.Store] != 1 {
		t.Fatalf("kinds = %v", kinds)
	}
	if saving := set.CostSaving(); saving != p.Baseline()-sol.Cost {
		t.Fatalf("saving %g, baseline %g, cost %g", saving, p.Baseline(), sol.Cost)
	}
	if set.CostSaving() <= 0 {
		t.Fatal("vectorization should save")
	}
}

// non-adjacent loads produce no memory candidates; the
// search returns the all-scalar baseline, not an error.
func TestNoImprovingExtension(t *testing.T) {
	blk := ir.NewBlock("b0")
	pp := &ir.Param{Name: "p", Ty: ir.Int(64)}
	addr := pack.NewStaticAddrInfo()
	l0 := blk.Load(ir.Int(32), pp)
	l1 := blk.Load(ir.Int(32), pp)
	addr.Assign(l0, "p", 0)
	addr.Assign(l1, "p", 8)
	blk.MarkLiveOut(l0)
	blk.MarkLiveOut(l1)

	opts := testOptions(addr)
	opts.Library = pack.BuiltinLibrary(2)
	p := New(blk, opts)
	if len(p.Candidates().Packs) != 0 {
		t.Fatalf("candidates = %v", p.Candidates().Packs)
	}
	set, sol := p.SolveDP()
	if set.Len() != 0 {
		t.Fatal("no packs should be committed")
	}
	if sol.Cost != p.Baseline() {
		t.Fatalf("cost %g, baseline %g", sol.Cost, p.Baseline())
	}
}

// the same subproblem reached twice returns the
// memoized solution.
func TestMemoDeterminism(t *testing.T) {
	blk, addr := subBlock(4, ir.OpSub)
	p := New(blk, testOptions(addr))

	s := newDPSolver(p.e, p.cands)
	first := s.solve(p.NewFrontier())
	hits := s.hits
	second := s.solve(p.NewFrontier())
	if s.hits <= hits {
		t.Fatal("second solve did not hit the memo")
	}
	if first.Cost != second.Cost || len(first.Packs) != len(second.Packs) {
		t.Fatal("memoized solution differs")
	}
	for i := range first.Packs {
		if first.Packs[i] != second.Packs[i] {
			t.Fatal("memoized packs differ")
		}
	}

	// a fresh engine over an identical block agrees
	blk2, addr2 := subBlock(4, ir.OpSub)
	p2 := New(blk2, testOptions(addr2))
	_, sol2 := p2.SolveDP()
	if sol2.Cost != first.Cost {
		t.Fatalf("fresh engine cost %g, want %g", sol2.Cost, first.Cost)
	}
}

// a solution must never be worse than scalarizing
// everything, whatever the block shape.
func TestSolutionBounded(t *testing.T) {
	shapes := []struct {
		n  int
		op ir.Opcode
	}{
		{2, ir.OpInvalid},
		{3, ir.OpSub},
		{4, ir.OpAdd},
		{8, ir.OpInvalid},
	}
	for _, sh := range shapes {
		blk, addr := subBlock(sh.n, sh.op)
		p := New(blk, testOptions(addr))
		_, sol := p.SolveDP()
		if sol.Cost > p.Baseline() {
			t.Errorf("n=%d op=%s: cost %g above baseline %g",
				sh.n, sh.op, sol.Cost, p.Baseline())
		}
	}
}

func TestBestSeeds(t *testing.T) {
	blk, addr := subBlock(4, ir.OpSub)
	p := New(blk, testOptions(addr))

	seeds := p.BestSeeds(3)
	if len(seeds) != 3 {
		t.Fatalf("got %d seeds", len(seeds))
	}
	// the store pack rides on the whole produced chain
	// and saves the most; the arithmetic pack is next
	if seeds[0].Kind() != pack.Store {
		t.Fatalf("best seed is %s", seeds[0])
	}
	if seeds[1].Kind() != pack.General {
		t.Fatalf("second seed is %s", seeds[1])
	}
	if len(p.BestSeeds(0)) != 0 {
		t.Fatal("zero seeds requested")
	}
}
