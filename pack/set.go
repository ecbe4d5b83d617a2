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
	"golang.org/x/exp/slices"

	"github.com/SnellerInc/slpack/ir"
)

// Set is an ordered, validated collection of committed,
// mutually independent packs for one block. It is the
// hand-off surface to the codegen collaborator.
type Set struct {
	ctx   *Context
	packs []*Pack
}

// NewSet returns an empty set over ctx.
func NewSet(ctx *Context) *Set {
	return &Set{ctx: ctx}
}

// Len returns the number of committed packs.
func (s *Set) Len() int { return len(s.packs) }

// Packs returns the committed packs in commit order.
// The caller must not modify the result.
func (s *Set) Packs() []*Pack { return s.packs }

// TryAdd commits p if it neither overlaps an existing
// pack's elements nor forms a mutual-dependence cycle
// with one; it reports whether p was added.
func (s *Set) TryAdd(p *Pack) bool {
	for _, q := range s.packs {
		if q.Elements().AnyCommon(p.Elements()) {
			return false
		}
		if q.Depended().AnyCommon(p.Elements()) && p.Depended().AnyCommon(q.Elements()) {
			return false
		}
	}
	s.packs = append(s.packs, p)
	return true
}

// Pop removes and returns the most recently added pack.
func (s *Set) Pop() *Pack {
	p := s.packs[len(s.packs)-1]
	s.packs = s.packs[:len(s.packs)-1]
	return p
}

// InOrder returns the packs sorted so that every pack
// appears after the packs it transitively depends on;
// codegen can emit them front to back.
func (s *Set) InOrder() []*Pack {
	out := slices.Clone(s.packs)
	// repeated swap passes are enough: packs in one
	// block form a DAG, so the relation is acyclic
	for changed := true; changed; {
		changed = false
		for i := 0; i < len(out); i++ {
			for j := i + 1; j < len(out); j++ {
				if out[i].Depended().AnyCommon(out[j].Elements()) {
					out[i], out[j] = out[j], out[i]
					changed = true
				}
			}
		}
	}
	return out
}

// producer returns the committed pack producing
// instruction id, if any.
func (s *Set) producer(id int) *Pack {
	for _, p := range s.packs {
		if p.ProducesValues() && p.Elements().Test(id) {
			return p
		}
	}
	return nil
}

// packed returns whether instruction id belongs to any
// committed pack.
func (s *Set) packed(id int) bool {
	for _, p := range s.packs {
		if p.Elements().Test(id) {
			return true
		}
	}
	return false
}

// CostSaving returns the scalar baseline cost of the
// packed instructions minus the vector cost of the set,
// including an estimate of the gather/insert/extract
// traffic at the set's boundary. It is a pure function
// of the current contents, so removing a pack with Pop
// restores the previous value exactly.
func (s *Set) CostSaving() float64 {
	cm := s.ctx.CostModel()
	saving := 0.0
	for _, p := range s.packs {
		for _, m := range p.Members() {
			saving += ScalarCost(cm, m)
		}
		saving -= p.Cost()
	}
	// operand packs not produced exactly by a member of
	// the set must be assembled from scalars or other
	// vectors
	produced := make(map[*OperandPack]bool)
	for _, p := range s.packs {
		if p.ProducesValues() {
			produced[s.ctx.Make(p.OrderedValues()...)] = true
		}
	}
	for _, p := range s.packs {
		for _, op := range p.OperandPacks() {
			if produced[op] {
				continue
			}
			ty := op.Type()
			inserted := make(map[ir.Value]bool)
			for lane := 0; lane < op.Len(); lane++ {
				v := op.At(lane)
				if v == nil || inserted[v] {
					continue
				}
				if _, isConst := v.(*ir.Const); isConst {
					continue
				}
				inserted[v] = true
				if vi, ok := v.(*ir.Instr); ok && s.packed(s.ctx.ValueID(vi)) {
					// produced in some vector; lanes must be shuffled over
					saving -= cm.VecElemCost(VecExtract, ty, lane)
				}
				saving -= cm.VecElemCost(VecInsert, ty, lane)
			}
		}
	}
	// packed values still demanded as scalars
	// (live-outs and unpacked in-block users) must be
	// extracted
	liveOut := make(map[*ir.Instr]bool)
	for _, lo := range s.ctx.Block().LiveOuts {
		liveOut[lo] = true
	}
	for _, p := range s.packs {
		if !p.ProducesValues() {
			continue
		}
		ty := p.VecType()
		for lane, v := range p.OrderedValues() {
			m, ok := v.(*ir.Instr)
			if !ok {
				continue
			}
			id := s.ctx.ValueID(m)
			needScalar := liveOut[m]
			for _, user := range s.ctx.InBlockUsers(id) {
				if !s.packed(user) {
					needScalar = true
					break
				}
			}
			if needScalar {
				saving -= cm.VecElemCost(VecExtract, ty, lane)
			}
		}
	}
	return saving
}
