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

// Package cost provides a table-driven default
// implementation of the pack.CostModel oracle.
// Host compilers with a real target cost model should
// implement pack.CostModel themselves; this package is
// a reasonable stand-in tuned for recent x86-64 parts.
package cost

import (
	"golang.org/x/sys/cpu"

	"github.com/SnellerInc/slpack/ir"
	"github.com/SnellerInc/slpack/pack"
)

// Model is a simple throughput-style cost model: every
// operation costs its scalar table entry once, vector or
// not, except when the vector exceeds MaxVectorBits and
// must be split.
type Model struct {
	// MaxVectorBits is the widest vector executed as one
	// operation; wider types pay proportionally.
	MaxVectorBits int
	// OpCost overrides the per-opcode base cost.
	OpCost map[ir.Opcode]float64
	// LoadCost and StoreCost are the base memory access
	// costs.
	LoadCost  float64
	StoreCost float64
	// InsertCost, ExtractCost, PermuteCost, GatherCost,
	// and BroadcastCost price data movement.
	InsertCost    float64
	ExtractCost   float64
	PermuteCost   float64
	GatherCost    float64
	BroadcastCost float64
}

var defaultOpCost = map[ir.Opcode]float64{
	ir.OpMul:  3,
	ir.OpSDiv: 20,
	ir.OpUDiv: 20,
	ir.OpFDiv: 12,
	ir.OpFMul: 4,
	ir.OpFAdd: 3,
	ir.OpFSub: 3,
}

// VectorWidth returns the widest vector in bits the
// running CPU executes natively, falling back to 128
// when feature detection has nothing better to offer.
func VectorWidth() int {
	switch {
	case cpu.X86.HasAVX512F:
		return 512
	case cpu.X86.HasAVX2:
		return 256
	default:
		return 128
	}
}

// Default returns a Model sized to the running CPU.
func Default() *Model {
	return &Model{
		MaxVectorBits: VectorWidth(),
		LoadCost:      1,
		StoreCost:     1,
		InsertCost:    1,
		ExtractCost:   1,
		PermuteCost:   1,
		GatherCost:    2,
		BroadcastCost: 1,
	}
}

func (m *Model) splits(ty ir.Type) float64 {
	if !ty.IsVector() {
		return 1
	}
	bits := ty.Bits * ty.Lanes
	if bits <= m.MaxVectorBits {
		return 1
	}
	return float64((bits + m.MaxVectorBits - 1) / m.MaxVectorBits)
}

func (m *Model) opCost(op ir.Opcode) float64 {
	if c, ok := m.OpCost[op]; ok {
		return c
	}
	if c, ok := defaultOpCost[op]; ok {
		return c
	}
	return 1
}

func (m *Model) Cost(op ir.Opcode, ty ir.Type) float64 {
	return m.opCost(op) * m.splits(ty)
}

func (m *Model) MemOpCost(kind pack.MemKind, ty ir.Type, align int) float64 {
	base := m.LoadCost
	if kind == pack.MemStore {
		base = m.StoreCost
	}
	// misaligned wide accesses straddle cache lines
	if ty.IsVector() && align < ty.Size() && ty.Size() > 16 {
		base *= 2
	}
	return base * m.splits(ty)
}

func (m *Model) ShuffleCost(kind pack.ShuffleKind, ty ir.Type) float64 {
	base := m.PermuteCost
	switch kind {
	case pack.ShuffleGather:
		base = m.GatherCost
	case pack.ShuffleBroadcast:
		base = m.BroadcastCost
	}
	return base * m.splits(ty)
}

func (m *Model) VecElemCost(op pack.VecElemOp, ty ir.Type, lane int) float64 {
	base := m.InsertCost
	if op == pack.VecExtract {
		base = m.ExtractCost
	}
	// lane 0 moves are plain scalar moves
	if lane == 0 {
		return base * 0.5
	}
	return base
}

var _ pack.CostModel = (*Model)(nil)
