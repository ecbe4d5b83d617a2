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
	"github.com/SnellerInc/slpack/bits"
	"github.com/SnellerInc/slpack/ir"
)

// Analysis records, per instruction, the transitive
// closure of everything it data- or memory-depends on
// within the block. It is computed once per block, in a
// single forward walk with one alias query per ordered
// pair of memory accesses where at least one writes.
type Analysis struct {
	ctx         *Context
	depended    []*bits.Vector
	independent []*bits.Vector // lazily built complements
}

// NewAnalysis builds the dependence records for the
// context's block using the given address oracle.
func NewAnalysis(ctx *Context, addr AddrInfo) *Analysis {
	a := &Analysis{
		ctx:         ctx,
		depended:    make([]*bits.Vector, ctx.NumInstrs()),
		independent: make([]*bits.Vector, ctx.NumInstrs()),
	}
	var memRefs []*ir.Instr
	for _, i := range ctx.Block().Instrs {
		dep := ctx.NewVector()
		for _, arg := range i.Args {
			ai, ok := arg.(*ir.Instr)
			if !ok || ai.Block() != ctx.Block() {
				continue
			}
			id := ctx.ValueID(ai)
			dep.Set(id)
			dep.Or(a.depended[id])
		}
		if i.Op == ir.OpLoad || i.Op == ir.OpStore {
			for _, prev := range memRefs {
				if i.Op != ir.OpStore && prev.Op != ir.OpStore {
					continue // two reads never conflict
				}
				if addr.MayAlias(i, prev) {
					id := ctx.ValueID(prev)
					dep.Set(id)
					dep.Or(a.depended[id])
				}
			}
			memRefs = append(memRefs, i)
		}
		a.depended[ctx.ValueID(i)] = dep
	}
	return a
}

// Depended returns the transitive-dependency bit set of
// i. Querying an instruction without a record is a
// programming error, not a runtime condition.
func (a *Analysis) Depended(i *ir.Instr) *bits.Vector {
	id := a.ctx.ValueID(i)
	dep := a.depended[id]
	if dep == nil {
		panic("pack: no dependence record for " + i.String())
	}
	return dep
}

// Independent returns the set of instructions with no
// transitive dependence relation to i in either
// direction. The complement is memoized on first use.
func (a *Analysis) Independent(i *ir.Instr) *bits.Vector {
	id := a.ctx.ValueID(i)
	if ind := a.independent[id]; ind != nil {
		return ind
	}
	related := a.Depended(i).Clone()
	related.Set(id)
	for j := 0; j < a.ctx.NumInstrs(); j++ {
		if a.depended[j].Test(id) {
			related.Set(j)
		}
	}
	ind := related.Complement()
	// ids beyond the instruction range never name
	// instructions; keep them out of the set
	for j := a.ctx.NumInstrs(); j < a.ctx.NumValues(); j++ {
		ind.Clear(j)
	}
	a.independent[id] = ind
	return ind
}

// CanAdd reports whether next can join a group with the
// given elements and depended sets without creating a
// dependence cycle or duplicate production.
func (a *Analysis) CanAdd(next *ir.Instr, elements, depended *bits.Vector) bool {
	id := a.ctx.ValueID(next)
	if elements.Test(id) || depended.Test(id) {
		return false
	}
	return !a.Depended(next).AnyCommon(elements)
}
