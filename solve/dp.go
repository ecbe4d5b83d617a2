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
	"math"

	"github.com/SnellerInc/slpack/pack"
)

// Solution is the outcome of a search: the packs to
// commit, in commit order, and the total cost of the
// completion that commits them.
type Solution struct {
	Cost  float64
	Packs []*pack.Pack
}

// dpSolver memoizes the minimal completion cost per
// distinct frontier. Many commit orders converge to the
// same frontier, so the table is what keeps the search
// polynomial in the number of reachable states.
type dpSolver struct {
	e     *env
	cands *pack.CandidateSet

	// producers maps exact interned content to the
	// candidate packs that produce it in that order,
	// driving the even/odd shuffle decomposition.
	producers map[*pack.OperandPack][]*pack.Pack

	memo map[uint64][]dpEntry

	// visited counts solved subproblems, hits counts
	// memo table hits; both are reported by the packer's
	// debug logging.
	visited int
	hits    int
}

type dpEntry struct {
	f   *Frontier
	sol Solution
}

func newDPSolver(e *env, cands *pack.CandidateSet) *dpSolver {
	s := &dpSolver{
		e:         e,
		cands:     cands,
		producers: make(map[*pack.OperandPack][]*pack.Pack),
		memo:      make(map[uint64][]dpEntry),
	}
	for _, p := range cands.Packs {
		if !p.ProducesValues() {
			continue
		}
		exact := e.ctx.Make(p.OrderedValues()...)
		s.producers[exact] = append(s.producers[exact], p)
	}
	return s
}

// solve returns the minimal cost from f to the terminal
// state, along with the packs that achieve it.
func (s *dpSolver) solve(f *Frontier) Solution {
	if f.Free().Empty() {
		return Solution{}
	}
	h := f.Hash()
	for _, e := range s.memo[h] {
		if e.f.Equal(f) {
			s.hits++
			return e.sol
		}
	}
	s.visited++

	best := Solution{Cost: math.Inf(1)}
	better := func(c float64, packs []*pack.Pack) {
		if c < best.Cost {
			best = Solution{Cost: c, Packs: packs}
		}
	}

	// demands with no exact producer may still be cheap
	// if both half-stride sub-packs have one
	for _, op := range f.UnresolvedPacks() {
		if len(s.producers[op]) > 0 {
			continue
		}
		ev, od := s.e.ctx.Even(op), s.e.ctx.Odd(op)
		if ev == nil || od == nil {
			continue
		}
		if len(s.producers[ev]) == 0 || len(s.producers[od]) == 0 {
			continue
		}
		next, c := f.ApplyShuffle(op, []*pack.OperandPack{ev, od})
		sub := s.solve(next)
		better(c+sub.Cost, sub.Packs)
	}

	// branch on the latest usable instruction: either it
	// stays scalar, or some candidate pack produces it
	focus := f.MaxUsable()
	if focus >= 0 {
		next, c := f.Scalarize(s.e.ctx.Instr(focus))
		sub := s.solve(next)
		better(c+sub.Cost, sub.Packs)

		for _, p := range s.cands.ForValue(focus) {
			if !f.AllUsable(p) {
				continue
			}
			next, c := f.Commit(p)
			sub := s.solve(next)
			packs := make([]*pack.Pack, 0, len(sub.Packs)+1)
			packs = append(packs, p)
			packs = append(packs, sub.Packs...)
			better(c+sub.Cost, packs)
		}
	}

	s.memo[h] = append(s.memo[h], dpEntry{f: f, sol: best})
	return best
}
