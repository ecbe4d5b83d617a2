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
	"strings"

	"golang.org/x/exp/slices"

	"github.com/SnellerInc/slpack/bits"
	"github.com/SnellerInc/slpack/ir"
)

// Kind selects the codegen strategy of a Pack.
type Kind int

const (
	// General packs execute a SIMD template over
	// matched arithmetic lanes.
	General Kind = iota
	// Load packs replace consecutive loads with one
	// vector load.
	Load
	// Store packs replace consecutive stores with one
	// vector store.
	Store
	// Phi packs merge same-shaped phis; their vector
	// inputs must be placed on the incoming edges, ahead
	// of the block's normal instruction order.
	Phi
)

func (k Kind) String() string {
	switch k {
	case General:
		return "general"
	case Load:
		return "load"
	case Store:
		return "store"
	case Phi:
		return "phi"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Pack is a decided group of scalar instructions that
// one SIMD operation replaces. Packs are immutable once
// constructed; all construction goes through a Context
// factory, which validates membership and computes the
// cost, operand demands, and ordered values eagerly.
type Pack struct {
	kind     Kind
	ctx      *Context
	producer *Template // General only
	matches  []*Match  // General only, one per lane, nil = don't care
	insts    []*ir.Instr

	elements *bits.Vector
	depended *bits.Vector
	operands []*OperandPack
	ordered  []ir.Value

	cost float64
}

// Kind returns the codegen strategy of p.
func (p *Pack) Kind() Kind { return p.kind }

// Context returns the owning context.
func (p *Pack) Context() *Context { return p.ctx }

// Producer returns the SIMD template of a General pack,
// nil otherwise.
func (p *Pack) Producer() *Template { return p.producer }

// Elements returns the ids of the instructions this
// pack produces (or, for stores, executes). The caller
// must not modify the result.
func (p *Pack) Elements() *bits.Vector { return p.elements }

// Depended returns the union of the transitive
// dependencies of every member. The caller must not
// modify the result.
func (p *Pack) Depended() *bits.Vector { return p.depended }

// OperandPacks returns the vector inputs this pack
// demands, in input order.
func (p *Pack) OperandPacks() []*OperandPack { return p.operands }

// OrderedValues returns the lane values in lane order;
// don't-care lanes are nil.
func (p *Pack) OrderedValues() []ir.Value { return p.ordered }

// Cost returns the producing cost of the vector
// operation itself, excluding operand materialization.
func (p *Pack) Cost() float64 { return p.cost }

// Leader returns the first live member instruction;
// codegen gathers non-phi operands at its position.
func (p *Pack) Leader() *ir.Instr {
	for _, i := range p.insts {
		if i != nil {
			return i
		}
	}
	panic("pack: pack with no live member")
}

// Members returns the live member instructions.
func (p *Pack) Members() []*ir.Instr {
	out := make([]*ir.Instr, 0, len(p.insts))
	for _, i := range p.insts {
		if i != nil {
			out = append(out, i)
		}
	}
	return out
}

// VecType returns the result (or, for stores, stored)
// vector type.
func (p *Pack) VecType() ir.Type {
	switch p.kind {
	case Store:
		return p.Leader().Stored().Type().Vec(len(p.insts))
	default:
		return p.Leader().Ty.Vec(len(p.insts))
	}
}

// ProducesValues returns whether the pack's lanes carry
// result values a consumer can use; store packs do not.
func (p *Pack) ProducesValues() bool { return p.kind != Store }

func (p *Pack) String() string {
	var sb strings.Builder
	name := p.kind.String()
	if p.producer != nil {
		name = p.producer.Name
	}
	fmt.Fprintf(&sb, "PACK<%s>: (", name)
	for i, v := range p.ordered {
		if i > 0 {
			sb.WriteString(", ")
		}
		if v == nil {
			sb.WriteString("undef")
		} else {
			sb.WriteString(v.String())
		}
	}
	sb.WriteByte(')')
	return sb.String()
}

func (c *Context) validate(p *Pack) *Pack {
	live := 0
	for _, i := range p.insts {
		if i == nil {
			continue
		}
		live++
		if !p.elements.Test(c.ValueID(i)) {
			panic("pack: member missing from elements bit set")
		}
	}
	if p.elements.Count() != live {
		panic("pack: duplicate value production in pack")
	}
	return p
}

// NewGeneralPack builds a pack executing producer with
// the given per-lane matches (nil lanes are don't-cares).
// elements and depended must already cover exactly the
// matched outputs and their transitive dependencies.
func (c *Context) NewGeneralPack(producer *Template, matches []*Match, elements, depended *bits.Vector) *Pack {
	if len(matches) != producer.LaneCount() {
		panic("pack: lane count mismatch")
	}
	p := &Pack{
		kind:     General,
		ctx:      c,
		producer: producer,
		matches:  matches,
		elements: elements,
		depended: depended,
	}
	for _, m := range matches {
		if m == nil {
			p.insts = append(p.insts, nil)
			p.ordered = append(p.ordered, nil)
		} else {
			p.insts = append(p.insts, m.Output)
			p.ordered = append(p.ordered, m.Output)
		}
	}
	p.operands = p.generalOperands()
	p.cost = producer.Cost(c.cm)
	return c.validate(p)
}

// generalOperands derives one OperandPack per logical
// template input by laying each lane's bound slices
// side by side, padding unbound slots with don't-cares.
func (p *Pack) generalOperands() []*OperandPack {
	type bound struct {
		s Slice
		v ir.Value
	}
	nin := p.producer.Sig.NumInputs()
	out := make([]*OperandPack, nin)
	for input := 0; input < nin; input++ {
		var ins []bound
		for j, lane := range p.producer.Lanes {
			for k, s := range lane.Slices {
				if s.Input != input {
					continue
				}
				var v ir.Value
				if p.matches[j] != nil {
					v = p.matches[j].Inputs[k]
				}
				ins = append(ins, bound{s: s, v: v})
			}
		}
		if len(ins) == 0 {
			panic("pack: template input with no bound slice")
		}
		slices.SortStableFunc(ins, func(a, b bound) bool {
			return a.s.Lo < b.s.Lo
		})
		stride := ins[0].s.Bits()
		var vals []ir.Value
		off := 0
		for _, b := range ins {
			for off < b.s.Lo {
				vals = append(vals, nil)
				off += stride
			}
			if off != b.s.Lo {
				panic("pack: misaligned input slice")
			}
			vals = append(vals, b.v)
			off += stride
		}
		for off < p.producer.Sig.InputBits[input] {
			vals = append(vals, nil)
			off += stride
		}
		out[input] = p.ctx.Make(vals...)
	}
	return out
}

// NewLoadPack builds a pack replacing consecutive loads
// with one vector load; nil lanes are don't-care slots
// used when regathering jumbled loads.
func (c *Context) NewLoadPack(loads []*ir.Instr, elements, depended *bits.Vector) *Pack {
	p := &Pack{
		kind:     Load,
		ctx:      c,
		insts:    loads,
		elements: elements,
		depended: depended,
	}
	for _, li := range loads {
		if li != nil && li.Op != ir.OpLoad {
			panic("pack: non-load in load pack")
		}
		if li == nil {
			p.ordered = append(p.ordered, nil)
		} else {
			p.ordered = append(p.ordered, li)
		}
	}
	// only the leading scalar pointer is needed;
	// no packed operand
	p.operands = nil
	ty := p.VecType()
	p.cost = c.cm.MemOpCost(MemLoad, ty, p.Leader().Ty.Size())
	return c.validate(p)
}

// NewStorePack builds a pack replacing consecutive
// stores with one vector store. Store packs produce no
// result values; only the stored values are demanded
// as a vector.
func (c *Context) NewStorePack(stores []*ir.Instr, elements, depended *bits.Vector) *Pack {
	p := &Pack{
		kind:     Store,
		ctx:      c,
		insts:    stores,
		elements: elements,
		depended: depended,
	}
	vals := make([]ir.Value, len(stores))
	for i, si := range stores {
		if si == nil || si.Op != ir.OpStore {
			panic("pack: bad member in store pack")
		}
		p.ordered = append(p.ordered, si)
		vals[i] = si.Stored()
	}
	p.operands = []*OperandPack{c.Make(vals...)}
	p.cost = c.cm.MemOpCost(MemStore, p.VecType(), p.Leader().Stored().Type().Size())
	return c.validate(p)
}

// NewPhiPack builds a pack merging same-shaped phis.
// Every phi must have identical incoming edge labels in
// identical order; the pack demands one OperandPack per
// edge. Phi packs cost nothing by themselves.
func (c *Context) NewPhiPack(phis []*ir.Instr, elements, depended *bits.Vector) *Pack {
	first := phis[0]
	for _, phi := range phis {
		if phi.Op != ir.OpPhi {
			panic("pack: non-phi in phi pack")
		}
		if len(phi.Incs) != len(first.Incs) {
			panic("pack: phi edge count mismatch")
		}
		for e := range phi.Incs {
			if phi.Incs[e].Pred != first.Incs[e].Pred {
				panic("pack: phi edge label mismatch")
			}
		}
	}
	p := &Pack{
		kind:     Phi,
		ctx:      c,
		insts:    phis,
		elements: elements,
		depended: depended,
	}
	for _, phi := range phis {
		p.ordered = append(p.ordered, phi)
	}
	for e := range first.Incs {
		vals := make([]ir.Value, len(phis))
		for i, phi := range phis {
			vals[i] = phi.Incs[e].V
		}
		p.operands = append(p.operands, c.Make(vals...))
	}
	p.cost = 0
	return c.validate(p)
}
