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

package pack

import (
	"sort"

	"golang.org/x/exp/slices"

	"github.com/SnellerInc/slpack/ir"
)

// MatchManager matches every lane operation of a
// library against every instruction of one block,
// exactly once, and answers match queries during
// candidate enumeration.
type MatchManager struct {
	matches map[*Operation][]Match
}

// NewMatchManager runs all of lib's lane operations
// over blk.
func NewMatchManager(lib *Library, blk *ir.Block) *MatchManager {
	mm := &MatchManager{matches: make(map[*Operation][]Match)}
	ops := lib.Operations()
	for _, i := range blk.Instrs {
		for _, op := range ops {
			mm.matches[op] = append(mm.matches[op], op.MatchValue(i)...)
		}
	}
	// sort by output position so per-output lookups
	// can binary-search
	for _, op := range ops {
		slices.SortStableFunc(mm.matches[op], func(a, b Match) bool {
			return a.Output.Pos() < b.Output.Pos()
		})
	}
	return mm
}

// Matches returns every match of op in the block,
// ordered by output position.
func (mm *MatchManager) Matches(op *Operation) []Match {
	return mm.matches[op]
}

// MatchesForOutput returns the matches of op whose
// output is exactly out.
func (mm *MatchManager) MatchesForOutput(op *Operation, out *ir.Instr) []Match {
	ms := mm.matches[op]
	lo := sort.Search(len(ms), func(i int) bool {
		return ms[i].Output.Pos() >= out.Pos()
	})
	hi := lo
	for hi < len(ms) && ms[hi].Output == out {
		hi++
	}
	return ms[lo:hi]
}
