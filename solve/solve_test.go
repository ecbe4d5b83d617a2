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
	"github.com/SnellerInc/slpack/cost"
	"github.com/SnellerInc/slpack/ir"
	"github.com/SnellerInc/slpack/pack"
)

// testModel is pinned so tests do not depend on the
// machine running them.
func testModel() *cost.Model {
	return &cost.Model{
		MaxVectorBits: 512,
		LoadCost:      1,
		StoreCost:     1,
		InsertCost:    1,
		ExtractCost:   1,
		PermuteCost:   1,
		GatherCost:    2,
		BroadcastCost: 1,
	}
}

// subBlock builds n consecutive i32 loads from "x", a
// subtract-immediate on each, and n consecutive stores
// to "z". With op == ir.OpInvalid the loads are stored
// directly.
func subBlock(n int, op ir.Opcode) (*ir.Block, *pack.StaticAddrInfo) {
	blk := ir.NewBlock("b0")
	px := &ir.Param{Name: "px", Ty: ir.Int(64)}
	pz := &ir.Param{Name: "pz", Ty: ir.Int(64)}
	addr := pack.NewStaticAddrInfo()
	vals := make([]*ir.Instr, n)
	for i := 0; i < n; i++ {
		vals[i] = blk.Load(ir.Int(32), px)
		addr.Assign(vals[i], "x", int64(4*i))
	}
	if op != ir.OpInvalid {
		c := ir.ConstInt(32, 1)
		for i := 0; i < n; i++ {
			vals[i] = blk.Bin(op, vals[i], c)
		}
	}
	for i := 0; i < n; i++ {
		st := blk.Store(pz, vals[i])
		addr.Assign(st, "z", int64(4*i))
	}
	return blk, addr
}

func testOptions(addr *pack.StaticAddrInfo) Options {
	return Options{
		CostModel: testModel(),
		Library:   pack.BuiltinLibrary(2, 4),
		Addr:      addr,
		TrialCap:  8192, // exhaustive on these block sizes
		Widths:    []int{2, 4},
	}
}
