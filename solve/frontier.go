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

// Package solve picks which candidate packs to commit.
// It drives the vectorization-progress state (Frontier)
// to a terminal state with either a memoized
// cost-minimizing solver or UCT tree search.
package solve

import (
	"encoding/binary"

	"github.com/dchest/siphash"

	"github.com/SnellerInc/slpack/bits"
	"github.com/SnellerInc/slpack/ir"
	"github.com/SnellerInc/slpack/pack"
)

// env is the immutable per-block machinery shared by
// every Frontier copy during one search.
type env struct {
	ctx  *pack.Context
	deps *pack.Analysis
	cm   pack.CostModel
	// insertFactor scales the cost of resolving a
	// demanded vector lane by scalar insertion. The
	// original accounting pays double here, roughly
	// covering the insert plus the rematerialization it
	// tends to drag in; kept adjustable.
	insertFactor float64
}

// Frontier is the search state: which instructions are
// still undecided, which may be decided next, and what
// scalar and vector demands are outstanding. Frontiers
// are copied cheaply on every transition; an instance is
// never mutated after it has been handed out.
type Frontier struct {
	env *env

	free   *bits.Vector // undecided instructions
	usable *bits.Vector // free, with every in-block user decided

	unresolvedScalars *bits.Vector
	// unresolvedPacks is kept sorted by content so that
	// frontiers reached along different decision orders
	// compare equal; all entries are interned pointers.
	unresolvedPacks []*pack.OperandPack

	cost float64 // accrued so far
}

// newFrontier returns the initial state for e's block:
// nothing decided, block live-outs demanded as scalars.
func newFrontier(e *env) *Frontier {
	f := &Frontier{
		env:               e,
		free:              e.ctx.NewVector(),
		usable:            e.ctx.NewVector(),
		unresolvedScalars: e.ctx.NewVector(),
	}
	for id := 0; id < e.ctx.NumInstrs(); id++ {
		f.free.Set(id)
	}
	for id := 0; id < e.ctx.NumInstrs(); id++ {
		if len(e.ctx.InBlockUsers(id)) == 0 {
			f.usable.Set(id)
		}
	}
	for _, lo := range e.ctx.Block().LiveOuts {
		f.unresolvedScalars.Set(e.ctx.ValueID(lo))
	}
	return f
}

// Cost returns the cost accrued along the decisions that
// produced this frontier.
func (f *Frontier) Cost() float64 { return f.cost }

// Free returns the undecided instruction set; the caller
// must not modify it.
func (f *Frontier) Free() *bits.Vector { return f.free }

// UnresolvedPacks returns the outstanding vector
// demands; the caller must not modify the slice.
func (f *Frontier) UnresolvedPacks() []*pack.OperandPack { return f.unresolvedPacks }

// Done returns whether everything is decided and no
// demand is outstanding.
func (f *Frontier) Done() bool {
	return f.free.Empty() && len(f.unresolvedPacks) == 0 && f.unresolvedScalars.Empty()
}

// Usable returns whether i may be decided next.
func (f *Frontier) Usable(i *ir.Instr) bool {
	return f.usable.Test(f.env.ctx.ValueID(i))
}

// AllUsable returns whether every live member of p is
// currently usable.
func (f *Frontier) AllUsable(p *pack.Pack) bool {
	ok := true
	p.Elements().Each(func(id int) {
		ok = ok && f.usable.Test(id)
	})
	return ok
}

// MaxUsable returns the largest usable instruction id,
// or -1 if nothing is usable.
func (f *Frontier) MaxUsable() int {
	max := -1
	f.usable.Each(func(id int) { max = id })
	return max
}

func (f *Frontier) clone() *Frontier {
	return &Frontier{
		env:               f.env,
		free:              f.free.Clone(),
		usable:            f.usable.Clone(),
		unresolvedScalars: f.unresolvedScalars.Clone(),
		unresolvedPacks:   append([]*pack.OperandPack(nil), f.unresolvedPacks...),
		cost:              f.cost,
	}
}

// freeze marks instruction id decided and promotes
// operands whose in-block users are now all decided.
func (f *Frontier) freeze(id int) {
	f.free.Clear(id)
	f.usable.Clear(id)
	i := f.env.ctx.Instr(id)
	for _, a := range i.Args {
		ai, ok := a.(*ir.Instr)
		if !ok || ai.Block() != f.env.ctx.Block() {
			continue
		}
		aid := f.env.ctx.ValueID(ai)
		if !f.free.Test(aid) {
			continue
		}
		ready := true
		for _, u := range f.env.ctx.InBlockUsers(aid) {
			if f.free.Test(u) {
				ready = false
				break
			}
		}
		if ready {
			f.usable.Set(aid)
		}
	}
}

// resolved returns whether no in-block lane of op is
// still undecided.
func (f *Frontier) resolved(op *pack.OperandPack) bool {
	for _, v := range op.Values() {
		if vi, ok := v.(*ir.Instr); ok && vi.Block() == f.env.ctx.Block() {
			if f.free.Test(f.env.ctx.ValueID(vi)) {
				return false
			}
		}
	}
	return true
}

func (f *Frontier) dropResolved() {
	kept := f.unresolvedPacks[:0]
	for _, op := range f.unresolvedPacks {
		if !f.resolved(op) {
			kept = append(kept, op)
		}
	}
	f.unresolvedPacks = kept
}

// comparePacks orders demands by content so the demand
// list has one canonical order per frontier.
func (f *Frontier) comparePacks(a, b *pack.OperandPack) int {
	if a == b {
		return 0
	}
	if a.Hash() != b.Hash() {
		if a.Hash() < b.Hash() {
			return -1
		}
		return 1
	}
	// hash ties broken by lane ids
	for i := 0; i < a.Len() && i < b.Len(); i++ {
		ai, bi := -1, -1
		if v := a.At(i); v != nil {
			ai = f.env.ctx.ValueID(v)
		}
		if v := b.At(i); v != nil {
			bi = f.env.ctx.ValueID(v)
		}
		if ai != bi {
			return ai - bi
		}
	}
	return a.Len() - b.Len()
}

// addDemand inserts op into the sorted demand list and
// pays for its external lanes. It is a no-op if op is
// already demanded.
func (f *Frontier) addDemand(op *pack.OperandPack) float64 {
	for _, have := range f.unresolvedPacks {
		if have == op {
			return 0
		}
	}
	f.insertDemand(op)
	return f.externalLaneCost(op)
}

// insertDemand places op into the sorted demand list
// without paying for its external lanes; demands with no
// undecided lane never enter the list.
func (f *Frontier) insertDemand(op *pack.OperandPack) {
	for _, have := range f.unresolvedPacks {
		if have == op {
			return
		}
	}
	if f.resolved(op) {
		// nothing left for the search to decide
		return
	}
	at := 0
	for at < len(f.unresolvedPacks) && f.comparePacks(f.unresolvedPacks[at], op) < 0 {
		at++
	}
	f.unresolvedPacks = append(f.unresolvedPacks, nil)
	copy(f.unresolvedPacks[at+1:], f.unresolvedPacks[at:])
	f.unresolvedPacks[at] = op
}

// externalLaneCost pays for lanes that no in-block
// decision can ever supply: constants fold into vector
// immediates for free, everything else arrives as a
// scalar and must be inserted (or broadcast).
func (f *Frontier) externalLaneCost(op *pack.OperandPack) float64 {
	ty := op.Type()
	external := func(v ir.Value) bool {
		if v == nil {
			return false
		}
		if _, isConst := v.(*ir.Const); isConst {
			return false
		}
		vi, isInstr := v.(*ir.Instr)
		return !isInstr || vi.Block() != f.env.ctx.Block()
	}
	if op.IsSplat() && external(op.Front()) {
		return f.env.cm.ShuffleCost(pack.ShuffleBroadcast, ty)
	}
	cost := 0.0
	seen := make(map[ir.Value]bool)
	for lane := 0; lane < op.Len(); lane++ {
		v := op.At(lane)
		if !external(v) || seen[v] {
			continue
		}
		seen[v] = true
		cost += f.env.insertFactor * f.env.cm.VecElemCost(pack.VecInsert, ty, lane)
	}
	return cost
}

// Scalarize decides that i stays scalar. It returns the
// successor frontier and the incremental cost: the
// scalar execution cost of i plus the price of filling
// every demanded vector lane that i occupies.
func (f *Frontier) Scalarize(i *ir.Instr) (*Frontier, float64) {
	id := f.env.ctx.ValueID(i)
	if !f.usable.Test(id) {
		panic("solve: Scalarize of non-usable instruction " + i.String())
	}
	next := f.clone()
	cost := pack.ScalarCost(f.env.cm, i)

	for _, op := range next.unresolvedPacks {
		if !op.HasValue(i) {
			continue
		}
		ty := op.Type()
		if op.IsSplat() {
			cost += f.env.cm.ShuffleCost(pack.ShuffleBroadcast, ty)
			continue
		}
		for lane := 0; lane < op.Len(); lane++ {
			if op.At(lane) == i {
				cost += f.env.insertFactor * f.env.cm.VecElemCost(pack.VecInsert, ty, lane)
			}
		}
	}

	next.freeze(id)
	next.unresolvedScalars.Clear(id) // produced as scalar, demand met
	for _, a := range i.Args {
		if ai, ok := a.(*ir.Instr); ok && ai.Block() == f.env.ctx.Block() {
			// i consumes a as a scalar
			next.unresolvedScalars.Set(f.env.ctx.ValueID(ai))
		}
	}
	next.dropResolved()
	next.cost += cost
	return next, cost
}

// Commit decides that p's members execute as one vector
// operation. It returns the successor frontier and the
// incremental cost: the pack's own cost, extraction of
// members still demanded as scalars, resolution of
// demanded vectors this pack supplies, and insertion of
// the pack's external input lanes. p's operand packs
// become new demands.
func (f *Frontier) Commit(p *pack.Pack) (*Frontier, float64) {
	if !f.AllUsable(p) {
		panic("solve: Commit with non-usable member")
	}
	next := f.clone()
	cost := p.Cost()
	vecTy := p.VecType()

	for lane, v := range p.OrderedValues() {
		vi, ok := v.(*ir.Instr)
		if !ok {
			continue
		}
		id := f.env.ctx.ValueID(vi)
		if next.unresolvedScalars.Test(id) && p.ProducesValues() {
			cost += f.env.cm.VecElemCost(pack.VecExtract, vecTy, lane)
			next.unresolvedScalars.Clear(id)
		}
		next.freeze(id)
	}

	if p.ProducesValues() {
		exact := f.env.ctx.Make(p.OrderedValues()...)
		for _, op := range next.unresolvedPacks {
			cost += next.resolutionCost(op, p, exact)
		}
	}

	for _, op := range p.OperandPacks() {
		cost += next.addDemand(op)
	}
	next.dropResolved()
	next.cost += cost
	return next, cost
}

// resolutionCost prices how op's demand is met by the
// freshly committed p: free if p produces exactly op,
// one permute if it produces the same values out of
// order, otherwise a gather discounted by the fraction
// of lanes p actually supplies.
func (f *Frontier) resolutionCost(op *pack.OperandPack, p *pack.Pack, exact *pack.OperandPack) float64 {
	if op == exact {
		return 0
	}
	supplied := 0
	live := 0
	counts := make(map[ir.Value]int)
	for _, m := range p.Members() {
		counts[m]++
	}
	perm := true
	for _, v := range op.Values() {
		if v == nil {
			continue
		}
		live++
		if vi, ok := v.(*ir.Instr); ok && vi.Block() == f.env.ctx.Block() &&
			p.Elements().Test(f.env.ctx.ValueID(vi)) {
			supplied++
			counts[vi]--
		} else {
			perm = false
		}
	}
	if supplied == 0 {
		return 0
	}
	ty := op.Type()
	if perm && live == len(p.Members()) {
		allUsed := true
		for _, n := range counts {
			allUsed = allUsed && n == 0
		}
		if allUsed {
			return f.env.cm.ShuffleCost(pack.ShufflePermute, ty)
		}
	}
	frac := float64(supplied) / float64(op.Len())
	return f.env.cm.ShuffleCost(pack.ShuffleGather, ty) * frac
}

// ApplyShuffle replaces the outstanding demand for op
// with demands for its decomposition into inputs,
// paying the shuffle that reassembles op from them.
func (f *Frontier) ApplyShuffle(op *pack.OperandPack, inputs []*pack.OperandPack) (*Frontier, float64) {
	at := -1
	for i, have := range f.unresolvedPacks {
		if have == op {
			at = i
			break
		}
	}
	if at < 0 {
		panic("solve: ApplyShuffle of pack that is not demanded")
	}
	next := f.clone()
	next.unresolvedPacks = append(next.unresolvedPacks[:at:at], next.unresolvedPacks[at+1:]...)
	kind := pack.ShufflePermute
	if len(inputs) > 1 {
		kind = pack.ShuffleGather
	}
	cost := f.env.cm.ShuffleCost(kind, op.Type())
	// every input lane comes from op, whose external
	// lanes were already paid when op became a demand
	for _, in := range inputs {
		next.insertDemand(in)
	}
	next.dropResolved()
	next.cost += cost
	return next, cost
}

// ScalarizeAll drives f to the terminal state using only
// Scalarize and returns the total incremental cost: the
// all-scalar completion of this frontier.
func (f *Frontier) ScalarizeAll() (*Frontier, float64) {
	cur := f
	total := 0.0
	for !cur.free.Empty() {
		id := cur.MaxUsable()
		if id < 0 {
			panic("solve: free instructions but none usable")
		}
		next, c := cur.Scalarize(f.env.ctx.Instr(id))
		cur, total = next, total+c
	}
	return cur, total
}

// Hash returns the identity hash of f's decision state.
// The accrued cost is deliberately excluded: frontiers
// reached along different paths at different cost are
// still the same subproblem.
func (f *Frontier) Hash() uint64 {
	buf := make([]byte, 8*(2+len(f.unresolvedPacks)))
	binary.LittleEndian.PutUint64(buf[0:], f.free.Hash())
	binary.LittleEndian.PutUint64(buf[8:], f.unresolvedScalars.Hash())
	for i, op := range f.unresolvedPacks {
		binary.LittleEndian.PutUint64(buf[16+8*i:], op.Hash())
	}
	return siphash.Hash(0x736c7061636b, 0, buf) // "slpack"
}

// Equal returns whether f and o are the same subproblem.
func (f *Frontier) Equal(o *Frontier) bool {
	if len(f.unresolvedPacks) != len(o.unresolvedPacks) {
		return false
	}
	for i := range f.unresolvedPacks {
		if f.unresolvedPacks[i] != o.unresolvedPacks[i] {
			return false
		}
	}
	return f.free.Equal(o.free) &&
		f.unresolvedScalars.Equal(o.unresolvedScalars)
}
