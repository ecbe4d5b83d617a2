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
	"github.com/SnellerInc/slpack/ir"
	"github.com/SnellerInc/slpack/pack"
)

// Heuristic estimates the cheapest way to produce an
// OperandPack without committing to a search: explicit
// scalar insertion, broadcast, or reuse of a candidate
// pack that (approximately) produces the same values.
// Estimates are memoized per canonical pack pointer.
type Heuristic struct {
	ctx   *pack.Context
	cm    pack.CostModel
	cands *pack.CandidateSet // may be nil

	// candidate packs by exact interned output
	producers map[*pack.OperandPack][]*pack.Pack

	// movement constants of the heuristic's abstract
	// accounting; they deliberately do not consult the
	// cost model, so rankings stay stable across
	// targets. Change them before the first query only:
	// estimates are memoized.
	CSplat   float64
	CInsert  float64
	CPerm    float64
	CShuffle float64
	CExtract float64

	sols    map[*pack.OperandPack]Estimate
	scalars map[*ir.Instr]float64
}

// Estimate is a heuristic cost along with the candidate
// packs the estimate assumed would be committed.
type Estimate struct {
	Cost  float64
	Packs []*pack.Pack
}

func (e *Estimate) update(o Estimate) {
	if o.Cost < e.Cost {
		*e = o
	}
}

// NewHeuristic returns a Heuristic over ctx; cands may
// be nil, disabling the reuse case.
func NewHeuristic(ctx *pack.Context, cands *pack.CandidateSet) *Heuristic {
	h := &Heuristic{
		ctx:       ctx,
		cm:        ctx.CostModel(),
		cands:     cands,
		producers: make(map[*pack.OperandPack][]*pack.Pack),
		CSplat:    1,
		CInsert:   2,
		CPerm:     0.5,
		CShuffle:  0.5,
		CExtract:  1,
		sols:      make(map[*pack.OperandPack]Estimate),
		scalars:   make(map[*ir.Instr]float64),
	}
	if cands != nil {
		for _, p := range cands.Packs {
			if !p.ProducesValues() {
				continue
			}
			out := ctx.Make(p.OrderedValues()...)
			h.producers[out] = append(h.producers[out], p)
		}
	}
	return h
}

// ScalarCost returns the cost of computing v and its
// whole in-block operand chain as scalars. Constants
// and out-of-block values are free.
func (h *Heuristic) ScalarCost(v ir.Value) float64 {
	i, ok := v.(*ir.Instr)
	if !ok || i.Block() != h.ctx.Block() {
		return 0
	}
	if c, ok := h.scalars[i]; ok {
		return c
	}
	c := pack.ScalarCost(h.cm, i)
	for _, a := range i.Args {
		c += h.ScalarCost(a)
	}
	h.scalars[i] = c
	return c
}

// PackCost returns p's producing cost plus the heuristic
// cost of every operand it demands.
func (h *Heuristic) PackCost(p *pack.Pack) float64 {
	c := p.Cost()
	for _, op := range p.OperandPacks() {
		c += h.OperandCost(op).Cost
	}
	return c
}

// OperandCost returns the estimated cheapest production
// of op.
func (h *Heuristic) OperandCost(op *pack.OperandPack) Estimate {
	op = h.ctx.Dedup(op)
	if est, ok := h.sols[op]; ok {
		return est
	}
	// baseline: insert every distinct non-constant lane
	base := 0.0
	seen := make(map[ir.Value]bool)
	for _, v := range op.Values() {
		if v == nil || seen[v] {
			continue
		}
		if _, isConst := v.(*ir.Const); isConst {
			continue
		}
		seen[v] = true
		base += h.ScalarCost(v) + h.CInsert
	}
	est := Estimate{Cost: base}
	if base == 0 {
		h.sols[op] = est
		return est
	}
	if op.IsSplat() {
		est.update(Estimate{Cost: h.ScalarCost(op.Front()) + h.CSplat})
	}

	uniq := h.ctx.Uniq(op)
	extra := 0.0
	if uniq != op {
		extra = h.CShuffle
	}
	// a candidate that produces the demand exactly, in
	// order, needs no movement on top of its own cost
	for _, p := range h.producers[op] {
		est.update(Estimate{Cost: h.PackCost(p), Packs: []*pack.Pack{p}})
	}
	if uniq != op {
		for _, p := range h.producers[uniq] {
			est.update(Estimate{Cost: h.PackCost(p) + extra, Packs: []*pack.Pack{p}})
		}
	}
	if h.cands != nil {
		visited := make(map[*pack.Pack]bool)
		wanted := 0
		for _, v := range uniq.Values() {
			if _, ok := v.(*ir.Instr); ok {
				wanted++
			}
		}
		for _, v := range uniq.Values() {
			vi, ok := v.(*ir.Instr)
			if !ok || vi.Block() != h.ctx.Block() {
				continue
			}
			for _, p := range h.cands.ForValue(h.ctx.ValueID(vi)) {
				if visited[p] || p.Kind() != pack.Load {
					continue
				}
				visited[p] = true
				covered := 0
				for _, lane := range uniq.Values() {
					if li, ok := lane.(*ir.Instr); ok && p.Elements().Test(h.ctx.ValueID(li)) {
						covered++
					}
				}
				if covered == 0 {
					continue
				}
				if covered == wanted && len(p.Members()) == wanted {
					est.update(Estimate{Cost: h.PackCost(p) + h.CPerm + extra, Packs: []*pack.Pack{p}})
				} else {
					discount := float64(wanted) / float64(covered)
					est.update(Estimate{Cost: h.PackCost(p)*discount + h.CShuffle + extra, Packs: []*pack.Pack{p}})
				}
			}
		}
	}
	h.sols[op] = est
	return est
}
