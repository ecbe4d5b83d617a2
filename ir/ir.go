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

// Package ir defines the scalar program representation
// consumed by the pack-selection engine: typed values,
// scalar instructions, and single basic blocks in
// program order. It is deliberately minimal; host
// compilers are expected to lower their own IR into
// this form one block at a time.
package ir

import "fmt"

// Type describes a scalar or vector value type.
// Lanes == 0 means scalar.
type Type struct {
	Bits  int  // width of one lane in bits
	Float bool // floating-point lanes
	Lanes int
}

// Int returns a scalar integer type of the given width.
func Int(bits int) Type { return Type{Bits: bits} }

// Float returns a scalar floating-point type of the given width.
func Float(bits int) Type { return Type{Bits: bits, Float: true} }

// Vec returns the vector type with n lanes of t.
func (t Type) Vec(n int) Type {
	if t.Lanes != 0 {
		panic("ir: Vec of vector type")
	}
	t.Lanes = n
	return t
}

// Scalar returns the lane type of t.
func (t Type) Scalar() Type {
	t.Lanes = 0
	return t
}

// IsVector returns whether t has more than zero lanes.
func (t Type) IsVector() bool { return t.Lanes != 0 }

// Size returns the size of t in bytes.
func (t Type) Size() int {
	n := t.Lanes
	if n == 0 {
		n = 1
	}
	return n * t.Bits / 8
}

func (t Type) String() string {
	base := "i"
	if t.Float {
		base = "f"
	}
	if t.Lanes != 0 {
		return fmt.Sprintf("<%d x %s%d>", t.Lanes, base, t.Bits)
	}
	return fmt.Sprintf("%s%d", base, t.Bits)
}

// Opcode identifies a scalar operation.
type Opcode int

const (
	OpInvalid Opcode = iota
	OpAdd
	OpSub
	OpMul
	OpSDiv
	OpUDiv
	OpAnd
	OpOr
	OpXor
	OpShl
	OpLShr
	OpAShr
	OpFAdd
	OpFSub
	OpFMul
	OpFDiv
	OpSMax
	OpSMin
	OpLoad
	OpStore
	OpPhi
)

var opnames = [...]string{
	OpInvalid: "invalid",
	OpAdd:     "add",
	OpSub:     "sub",
	OpMul:     "mul",
	OpSDiv:    "sdiv",
	OpUDiv:    "udiv",
	OpAnd:     "and",
	OpOr:      "or",
	OpXor:     "xor",
	OpShl:     "shl",
	OpLShr:    "lshr",
	OpAShr:    "ashr",
	OpFAdd:    "fadd",
	OpFSub:    "fsub",
	OpFMul:    "fmul",
	OpFDiv:    "fdiv",
	OpSMax:    "smax",
	OpSMin:    "smin",
	OpLoad:    "load",
	OpStore:   "store",
	OpPhi:     "phi",
}

func (o Opcode) String() string {
	if int(o) < len(opnames) {
		return opnames[o]
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// IsBinary returns whether o is a two-operand
// arithmetic or logical operation.
func (o Opcode) IsBinary() bool {
	return o >= OpAdd && o <= OpSMin
}

// Commutative returns whether the operands
// of o may be swapped without changing its result.
func (o Opcode) Commutative() bool {
	switch o {
	case OpAdd, OpMul, OpAnd, OpOr, OpXor, OpFAdd, OpFMul, OpSMax, OpSMin:
		return true
	}
	return false
}

// Value is any operand: an instruction result,
// a constant, or a block input.
type Value interface {
	Type() Type
	String() string
}

// Const is a compile-time constant value.
type Const struct {
	Ty  Type
	Val uint64 // raw bits
}

func (c *Const) Type() Type     { return c.Ty }
func (c *Const) String() string { return fmt.Sprintf("%s %d", c.Ty, c.Val) }

// ConstInt returns a scalar integer constant.
func ConstInt(bits int, v int64) *Const {
	return &Const{Ty: Int(bits), Val: uint64(v)}
}

// Param is a value defined outside the block
// (a function argument or a value produced by
// a preceding block).
type Param struct {
	Name string
	Ty   Type
}

func (p *Param) Type() Type     { return p.Ty }
func (p *Param) String() string { return "%" + p.Name }

// Incoming is one control edge into a phi.
type Incoming struct {
	Pred string // predecessor block label
	V    Value
}

// Instr is one scalar instruction inside a block.
type Instr struct {
	Op   Opcode
	Ty   Type
	Args []Value
	// Incs is populated for phis only; Args mirrors
	// the incoming values in edge order.
	Incs []Incoming
	Name string

	pos int
	blk *Block
}

func (i *Instr) Type() Type { return i.Ty }

func (i *Instr) String() string {
	if i.Name != "" {
		return "%" + i.Name
	}
	return fmt.Sprintf("%%v%d", i.pos)
}

// Pos returns the position of i in its block,
// counting from zero in program order.
func (i *Instr) Pos() int { return i.pos }

// Block returns the block containing i.
func (i *Instr) Block() *Block { return i.blk }

// Addr returns the address operand of a load or store.
func (i *Instr) Addr() Value {
	switch i.Op {
	case OpLoad:
		return i.Args[0]
	case OpStore:
		return i.Args[0]
	}
	panic("ir: Addr of non-memory instruction " + i.Op.String())
}

// Stored returns the value operand of a store.
func (i *Instr) Stored() Value {
	if i.Op != OpStore {
		panic("ir: Stored of non-store instruction")
	}
	return i.Args[1]
}

// HasResult returns whether i produces a value;
// stores do not.
func (i *Instr) HasResult() bool { return i.Op != OpStore }
