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
	"testing"

	"github.com/SnellerInc/slpack/ir"
)

func TestDependedTransitive(t *testing.T) {
	blk := ir.NewBlock("b0")
	p := &ir.Param{Name: "p", Ty: ir.Int(64)}
	addr := NewStaticAddrInfo()

	l0 := blk.Load(ir.Int(32), p)
	l1 := blk.Load(ir.Int(32), p)
	addr.Assign(l0, "x", 0)
	addr.Assign(l1, "x", 4)
	sum := blk.Bin(ir.OpAdd, l0, l1)
	dbl := blk.Bin(ir.OpShl, sum, ir.ConstInt(32, 1))
	st := blk.Store(p, dbl)
	addr.Assign(st, "z", 0)

	ctx := NewContext(blk, unitModel{})
	deps := NewAnalysis(ctx, addr)

	dep := deps.Depended(dbl)
	for _, want := range []*ir.Instr{l0, l1, sum} {
		if !dep.Test(ctx.ValueID(want)) {
			t.Errorf("dbl should depend on %s", want)
		}
	}
	if !deps.Depended(st).Test(ctx.ValueID(dbl)) {
		t.Error("store should depend on its stored value")
	}
	if deps.Depended(l1).Test(ctx.ValueID(l0)) {
		t.Error("two loads never conflict")
	}
}

func TestDependedAliasing(t *testing.T) {
	blk := ir.NewBlock("b0")
	p := &ir.Param{Name: "p", Ty: ir.Int(64)}
	addr := NewStaticAddrInfo()

	st := blk.Store(p, ir.ConstInt(32, 7))
	addr.Assign(st, "x", 0)
	hit := blk.Load(ir.Int(32), p) // overlaps the store
	addr.Assign(hit, "x", 0)
	miss := blk.Load(ir.Int(32), p) // different base
	addr.Assign(miss, "y", 0)
	unknown := blk.Load(ir.Int(32), p) // not in the table

	ctx := NewContext(blk, unitModel{})
	deps := NewAnalysis(ctx, addr)

	if !deps.Depended(hit).Test(ctx.ValueID(st)) {
		t.Error("aliasing load must depend on the store")
	}
	if deps.Depended(miss).Test(ctx.ValueID(st)) {
		t.Error("disjoint bases must not conflict")
	}
	if !deps.Depended(unknown).Test(ctx.ValueID(st)) {
		t.Error("unknown access must conservatively depend on the store")
	}
}

func TestCanAddAndIndependent(t *testing.T) {
	blk := ir.NewBlock("b0")
	p := &ir.Param{Name: "p", Ty: ir.Int(64)}
	addr := NewStaticAddrInfo()

	l0 := blk.Load(ir.Int(32), p)
	l1 := blk.Load(ir.Int(32), p)
	addr.Assign(l0, "x", 0)
	addr.Assign(l1, "x", 4)
	sum := blk.Bin(ir.OpAdd, l0, l1)

	ctx := NewContext(blk, unitModel{})
	deps := NewAnalysis(ctx, addr)

	elements := ctx.NewVector()
	depended := ctx.NewVector()
	elements.Set(ctx.ValueID(l0))
	depended.Or(deps.Depended(l0))
	if !deps.CanAdd(l1, elements, depended) {
		t.Error("independent load should be addable")
	}
	if deps.CanAdd(l0, elements, depended) {
		t.Error("duplicate member should be rejected")
	}
	elements.Set(ctx.ValueID(sum))
	if deps.CanAdd(l0, elements, depended) {
		t.Error("member of the group depends on the addition")
	}

	ind := deps.Independent(sum)
	if ind.Test(ctx.ValueID(l0)) || ind.Test(ctx.ValueID(l1)) {
		t.Error("operands are not independent of their user")
	}
	if ind.Test(ctx.ValueID(sum)) {
		t.Error("an instruction is never independent of itself")
	}
}
