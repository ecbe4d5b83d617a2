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
	"encoding/binary"

	"github.com/dchest/siphash"

	"github.com/SnellerInc/slpack/bits"
	"github.com/SnellerInc/slpack/ir"
)

// Context owns the per-block value-id registry and the
// OperandPack interning table, and is the sole factory
// for Pack values. One Context serves exactly one block;
// it is not safe for concurrent use.
type Context struct {
	blk *ir.Block
	cm  CostModel

	ids  map[ir.Value]int
	vals []ir.Value
	// instruction ids are [0, ninstr) in program order;
	// external inputs and constants follow
	ninstr int

	users [][]int // instr id -> in-block user instr ids

	interned map[uint64][]*OperandPack
	evens    map[*OperandPack]*OperandPack
	odds     map[*OperandPack]*OperandPack
}

// NewContext builds the value registry for blk.
// Instructions get the ids 0..len(blk.Instrs)-1 in
// program order; every other referenced value (constants
// and block inputs) gets an id after those.
func NewContext(blk *ir.Block, cm CostModel) *Context {
	c := &Context{
		blk:      blk,
		cm:       cm,
		ids:      make(map[ir.Value]int),
		interned: make(map[uint64][]*OperandPack),
		evens:    make(map[*OperandPack]*OperandPack),
		odds:     make(map[*OperandPack]*OperandPack),
	}
	for _, i := range blk.Instrs {
		c.ids[i] = len(c.vals)
		c.vals = append(c.vals, i)
	}
	c.ninstr = len(c.vals)
	for _, i := range blk.Instrs {
		for _, a := range i.Args {
			if _, ok := c.ids[a]; !ok {
				c.ids[a] = len(c.vals)
				c.vals = append(c.vals, a)
			}
		}
	}
	c.users = make([][]int, c.ninstr)
	for _, i := range blk.Instrs {
		for _, a := range i.Args {
			if ai, ok := a.(*ir.Instr); ok && ai.Block() == blk {
				id := c.ids[ai]
				c.users[id] = append(c.users[id], c.ids[i])
			}
		}
	}
	return c
}

// Block returns the block this context describes.
func (c *Context) Block() *ir.Block { return c.blk }

// CostModel returns the cost oracle bound at construction.
func (c *Context) CostModel() CostModel { return c.cm }

// NumValues returns the total number of registered ids.
func (c *Context) NumValues() int { return len(c.vals) }

// NumInstrs returns the number of instruction ids;
// these are always the ids below NumInstrs.
func (c *Context) NumInstrs() int { return c.ninstr }

// ValueID returns the id of v. Looking up an
// unregistered value is a programming error.
func (c *Context) ValueID(v ir.Value) int {
	id, ok := c.ids[v]
	if !ok {
		panic("pack: value not registered in context: " + v.String())
	}
	return id
}

// Known returns whether v is registered.
func (c *Context) Known(v ir.Value) bool {
	_, ok := c.ids[v]
	return ok
}

// ValueAt returns the value with the given id.
func (c *Context) ValueAt(id int) ir.Value { return c.vals[id] }

// Instr returns the instruction with the given id.
func (c *Context) Instr(id int) *ir.Instr {
	if id >= c.ninstr {
		panic("pack: id does not name an instruction")
	}
	return c.vals[id].(*ir.Instr)
}

// InBlockUsers returns the instruction ids that consume
// the result of instruction id within the block.
func (c *Context) InBlockUsers(id int) []int {
	return c.users[id]
}

// NewVector returns an empty bit set sized for this
// context's id space.
func (c *Context) NewVector() *bits.Vector {
	return bits.New(len(c.vals))
}

const nilLane = ^uint32(0)

// register returns the id of v, assigning a fresh one to
// values first seen here. Every value the block
// references already has an id from construction, so
// late registrations are always external inputs; their
// ids land past NumInstrs and never enter instruction
// bit sets.
func (c *Context) register(v ir.Value) int {
	id, ok := c.ids[v]
	if !ok {
		id = len(c.vals)
		c.ids[v] = id
		c.vals = append(c.vals, v)
	}
	return id
}

func (c *Context) contentHash(vals []ir.Value) uint64 {
	buf := make([]byte, 4*len(vals))
	for i, v := range vals {
		id := nilLane
		if v != nil {
			id = uint32(c.register(v))
		}
		binary.LittleEndian.PutUint32(buf[4*i:], id)
	}
	return siphash.Hash(uint64(len(vals)), 0, buf)
}

func sameContent(a, b []ir.Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Make returns the canonical OperandPack with the given
// lane values; nil lanes are don't-cares. Two calls with
// identical positional content return the same pointer.
func (c *Context) Make(vals ...ir.Value) *OperandPack {
	h := c.contentHash(vals)
	for _, op := range c.interned[h] {
		if sameContent(op.vals, vals) {
			return op
		}
	}
	lanes := make([]ir.Value, len(vals))
	copy(lanes, vals)
	op := &OperandPack{vals: lanes, hash: h}
	op.ty = c.vectorTypeOf(lanes)
	c.interned[h] = append(c.interned[h], op)
	return op
}

func (c *Context) vectorTypeOf(vals []ir.Value) ir.Type {
	for _, v := range vals {
		if v != nil {
			return v.Type().Vec(len(vals))
		}
	}
	panic("pack: operand pack can't be all empty")
}

// Dedup returns the canonical pointer for the content
// of op. It is idempotent: Dedup(Dedup(op)) == Dedup(op).
func (c *Context) Dedup(op *OperandPack) *OperandPack {
	return c.Make(op.vals...)
}

// Uniq returns the canonical pack holding op's live
// values with later duplicate lanes removed. The result
// may be narrower than op; consumers reconstructing op
// from it pay a shuffle.
func (c *Context) Uniq(op *OperandPack) *OperandPack {
	seen := make(map[ir.Value]bool, len(op.vals))
	var vals []ir.Value
	for _, v := range op.vals {
		if v == nil || !seen[v] {
			vals = append(vals, v)
		}
		if v != nil {
			seen[v] = true
		}
	}
	return c.Make(vals...)
}

// Even returns the interned sub-pack of op's
// even-indexed lanes, or nil if op is too narrow
// to split.
func (c *Context) Even(op *OperandPack) *OperandPack {
	return c.half(c.evens, op, 0)
}

// Odd returns the interned sub-pack of op's
// odd-indexed lanes, or nil if op is too narrow
// to split.
func (c *Context) Odd(op *OperandPack) *OperandPack {
	return c.half(c.odds, op, 1)
}

func (c *Context) half(cache map[*OperandPack]*OperandPack, op *OperandPack, start int) *OperandPack {
	if half, ok := cache[op]; ok {
		return half
	}
	var half *OperandPack
	if op.Len() >= 2 {
		var vals []ir.Value
		live := false
		for i := start; i < op.Len(); i += 2 {
			vals = append(vals, op.At(i))
			live = live || op.At(i) != nil
		}
		if live {
			half = c.Make(vals...)
		}
	}
	cache[op] = half
	return half
}
