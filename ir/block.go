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

package ir

import (
	"fmt"
	"io"
)

// Block is a straight-line sequence of instructions.
// Instructions appear in program order; phis, if any,
// must come first.
type Block struct {
	Name   string
	Instrs []*Instr
	// LiveOuts lists the instructions whose results
	// are used after the block ends and therefore must
	// remain available as scalars.
	LiveOuts []*Instr
}

// NewBlock returns an empty block with the given label.
func NewBlock(name string) *Block {
	return &Block{Name: name}
}

func (b *Block) append(i *Instr) *Instr {
	i.pos = len(b.Instrs)
	i.blk = b
	b.Instrs = append(b.Instrs, i)
	return i
}

// Bin appends a binary instruction computing op(x, y).
func (b *Block) Bin(op Opcode, x, y Value) *Instr {
	if !op.IsBinary() {
		panic("ir: Bin with non-binary opcode " + op.String())
	}
	return b.append(&Instr{Op: op, Ty: x.Type(), Args: []Value{x, y}})
}

// Load appends a load of type ty from addr.
func (b *Block) Load(ty Type, addr Value) *Instr {
	return b.append(&Instr{Op: OpLoad, Ty: ty, Args: []Value{addr}})
}

// Store appends a store of v to addr.
func (b *Block) Store(addr, v Value) *Instr {
	return b.append(&Instr{Op: OpStore, Args: []Value{addr, v}})
}

// Phi appends a phi joining the given incoming edges.
func (b *Block) Phi(ty Type, incs ...Incoming) *Instr {
	args := make([]Value, len(incs))
	for i := range incs {
		args[i] = incs[i].V
	}
	return b.append(&Instr{Op: OpPhi, Ty: ty, Args: args, Incs: incs})
}

// MarkLiveOut records that the result of i
// is used after this block.
func (b *Block) MarkLiveOut(i *Instr) {
	if i.blk != b {
		panic("ir: MarkLiveOut of foreign instruction")
	}
	b.LiveOuts = append(b.LiveOuts, i)
}

// Describe writes a human-readable listing of b to dst.
func (b *Block) Describe(dst io.Writer) {
	fmt.Fprintf(dst, "%s:\n", b.Name)
	for _, i := range b.Instrs {
		if i.HasResult() {
			fmt.Fprintf(dst, "  %s = %s %s", i, i.Op, i.Ty)
		} else {
			fmt.Fprintf(dst, "  %s", i.Op)
		}
		for _, a := range i.Args {
			fmt.Fprintf(dst, " %s", a)
		}
		fmt.Fprintln(dst)
	}
}
