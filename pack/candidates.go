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
	"fmt"
	"math/rand"

	"github.com/SnellerInc/slpack/bits"
	"github.com/SnellerInc/slpack/ir"
)

// AccessDAG is the adjacency relation between same-typed
// memory accesses: dag[a] lists the accesses immediately
// following a in memory.
type AccessDAG map[*ir.Instr][]*ir.Instr

// buildAccessDAG does a quadratic scan, asking the
// address oracle about every ordered pair.
func buildAccessDAG(accesses []*ir.Instr, addr AddrInfo) AccessDAG {
	dag := make(AccessDAG)
	for _, a1 := range accesses {
		for _, a2 := range accesses {
			if a1 != a2 && addr.IsConsecutive(a1, a2) {
				dag[a1] = append(dag[a1], a2)
			}
		}
	}
	return dag
}

// CandidateSet is the result of one enumeration pass:
// the candidate packs plus an index from instruction id
// to the candidates containing it.
type CandidateSet struct {
	Packs   []*Pack
	byValue [][]*Pack
}

// ForValue returns the candidates whose Elements contain
// instruction id.
func (cs *CandidateSet) ForValue(id int) []*Pack {
	if id >= len(cs.byValue) {
		return nil
	}
	return cs.byValue[id]
}

// Enumerator produces independent, well-formed candidate
// packs for one block. All randomized sampling draws
// from an explicit generator so enumeration is
// reproducible.
type Enumerator struct {
	ctx  *Context
	deps *Analysis
	lib  *Library
	mm   *MatchManager

	LoadDAG  AccessDAG
	StoreDAG AccessDAG

	// Widths are the pack widths tried for memory
	// chains; defaults to 2, 4, 8, 16.
	Widths []int
	// TrialCap bounds the number of lane assignments
	// tried per template before giving up.
	TrialCap int
}

// NewEnumerator builds the per-block enumeration state:
// the match table and the load/store adjacency DAGs.
func NewEnumerator(ctx *Context, deps *Analysis, lib *Library, addr AddrInfo) *Enumerator {
	var loads, stores []*ir.Instr
	for _, i := range ctx.Block().Instrs {
		switch i.Op {
		case ir.OpLoad:
			loads = append(loads, i)
		case ir.OpStore:
			stores = append(stores, i)
		}
	}
	return &Enumerator{
		ctx:      ctx,
		deps:     deps,
		lib:      lib,
		mm:       NewMatchManager(lib, ctx.Block()),
		LoadDAG:  buildAccessDAG(loads, addr),
		StoreDAG: buildAccessDAG(stores, addr),
		Widths:   []int{2, 4, 8, 16},
		TrialCap: 128,
	}
}

// Matches exposes the enumerator's match table.
func (e *Enumerator) Matches() *MatchManager { return e.mm }

// Library returns the template library enumeration
// draws from.
func (e *Enumerator) Library() *Library { return e.lib }

// SeedMemPacks returns every width-w chain of adjacent,
// mutually independent memory accesses starting at
// access.
func (e *Enumerator) SeedMemPacks(access *ir.Instr, w int) []*Pack {
	dag := e.LoadDAG
	if access.Op == ir.OpStore {
		dag = e.StoreDAG
	}
	var seeds []*Pack
	elements := e.ctx.NewVector()
	elements.Set(e.ctx.ValueID(access))
	depended := e.deps.Depended(access).Clone()

	var walk func(chain []*ir.Instr, elements, depended *bits.Vector)
	walk = func(chain []*ir.Instr, elements, depended *bits.Vector) {
		if len(chain) == w {
			seeds = append(seeds, e.memPack(chain, elements, depended))
			return
		}
		for _, next := range dag[chain[len(chain)-1]] {
			if !e.deps.CanAdd(next, elements, depended) {
				continue
			}
			ext := elements.Clone()
			ext.Set(e.ctx.ValueID(next))
			dep := depended.Clone()
			dep.Or(e.deps.Depended(next))
			walk(append(chain[:len(chain):len(chain)], next), ext, dep)
		}
	}
	walk([]*ir.Instr{access}, elements, depended)
	return seeds
}

func (e *Enumerator) memPack(chain []*ir.Instr, elements, depended *bits.Vector) *Pack {
	if chain[0].Op == ir.OpStore {
		return e.ctx.NewStorePack(chain, elements, depended)
	}
	return e.ctx.NewLoadPack(chain, elements, depended)
}

// TemplatePacks enumerates lane assignments for t:
// exhaustively when the cross product is within
// TrialCap, otherwise by randomized sampling capped at
// TrialCap trials. Assignments that double-produce a
// value or violate independence are discarded.
func (e *Enumerator) TemplatePacks(t *Template, rng *rand.Rand) []*Pack {
	lanes := t.LaneCount()
	perLane := make([][]Match, lanes)
	product := 1
	for j, lane := range t.Lanes {
		perLane[j] = e.mm.Matches(lane.Op)
		if len(perLane[j]) == 0 {
			return nil
		}
		if product <= e.TrialCap {
			product *= len(perLane[j])
		}
	}
	var packs []*Pack
	seen := make(map[string]bool)

	tryAssign := func(pick func(j int) *Match) {
		elements := e.ctx.NewVector()
		depended := e.ctx.NewVector()
		matches := make([]*Match, lanes)
		key := make([]byte, 0, 4*lanes)
		for j := 0; j < lanes; j++ {
			m := pick(j)
			if m == nil || !e.deps.CanAdd(m.Output, elements, depended) {
				return
			}
			elements.Set(e.ctx.ValueID(m.Output))
			depended.Or(e.deps.Depended(m.Output))
			matches[j] = m
			key = fmt.Appendf(key, "%d,", e.ctx.ValueID(m.Output))
		}
		if seen[string(key)] {
			return
		}
		seen[string(key)] = true
		packs = append(packs, e.ctx.NewGeneralPack(t, matches, elements, depended))
	}

	if product <= e.TrialCap {
		idx := make([]int, lanes)
		for {
			tryAssign(func(j int) *Match { return &perLane[j][idx[j]] })
			j := lanes - 1
			for j >= 0 {
				idx[j]++
				if idx[j] < len(perLane[j]) {
					break
				}
				idx[j] = 0
				j--
			}
			if j < 0 {
				break
			}
		}
		return packs
	}
	for trial := 0; trial < e.TrialCap; trial++ {
		tryAssign(func(j int) *Match {
			return &perLane[j][rng.Intn(len(perLane[j]))]
		})
	}
	return packs
}

// PhiPacks groups same-shaped phis (same type, same
// incoming edge labels) into packs of up to maxLanes
// lanes, greedily in program order, subject to
// independence.
func (e *Enumerator) PhiPacks(maxLanes int) []*Pack {
	groups := make(map[string][]*ir.Instr)
	var keys []string
	for _, i := range e.ctx.Block().Instrs {
		if i.Op != ir.OpPhi {
			continue
		}
		key := i.Ty.String()
		for _, inc := range i.Incs {
			key += "|" + inc.Pred
		}
		if groups[key] == nil {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], i)
	}
	var packs []*Pack
	for _, key := range keys {
		phis := groups[key]
		for len(phis) >= 2 {
			n := len(phis)
			if n > maxLanes {
				n = maxLanes
			}
			chunk := phis[:n]
			phis = phis[n:]
			elements := e.ctx.NewVector()
			depended := e.ctx.NewVector()
			ok := true
			for _, phi := range chunk {
				if !e.deps.CanAdd(phi, elements, depended) {
					ok = false
					break
				}
				elements.Set(e.ctx.ValueID(phi))
				depended.Or(e.deps.Depended(phi))
			}
			if ok {
				packs = append(packs, e.ctx.NewPhiPack(chunk, elements, depended))
			}
		}
	}
	return packs
}

// Enumerate runs every generator: memory chains at every
// width from every access, template matching over the
// whole library, and phi grouping. The result is indexed
// by member instruction.
func (e *Enumerator) Enumerate(rng *rand.Rand) *CandidateSet {
	cs := &CandidateSet{}
	for _, i := range e.ctx.Block().Instrs {
		if i.Op != ir.OpLoad && i.Op != ir.OpStore {
			continue
		}
		for _, w := range e.Widths {
			cs.Packs = append(cs.Packs, e.SeedMemPacks(i, w)...)
		}
	}
	for _, t := range e.lib.Templates() {
		cs.Packs = append(cs.Packs, e.TemplatePacks(t, rng)...)
	}
	maxw := 0
	for _, w := range e.Widths {
		if w > maxw {
			maxw = w
		}
	}
	cs.Packs = append(cs.Packs, e.PhiPacks(maxw)...)

	cs.byValue = make([][]*Pack, e.ctx.NumInstrs())
	for _, p := range cs.Packs {
		p.Elements().Each(func(id int) {
			cs.byValue[id] = append(cs.byValue[id], p)
		})
	}
	return cs
}
