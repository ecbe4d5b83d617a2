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

import "github.com/SnellerInc/slpack/ir"

// MemKind distinguishes vector memory accesses
// for cost queries.
type MemKind int

const (
	MemLoad MemKind = iota
	MemStore
)

// ShuffleKind distinguishes data-movement operations
// for cost queries.
type ShuffleKind int

const (
	// ShufflePermute reorders the lanes of a single vector.
	ShufflePermute ShuffleKind = iota
	// ShuffleGather assembles a vector from arbitrary sources.
	ShuffleGather
	// ShuffleBroadcast splats one scalar across all lanes.
	ShuffleBroadcast
)

// VecElemOp distinguishes scalar<->lane moves
// for cost queries.
type VecElemOp int

const (
	VecInsert VecElemOp = iota
	VecExtract
)

// CostModel prices scalar operations, vector operations,
// and the data movement between them. Implementations
// must be pure: the same query always returns the same
// answer for the lifetime of a block's analysis.
type CostModel interface {
	// Cost returns the cost of executing op once at
	// type ty; ty may be scalar or vector.
	Cost(op ir.Opcode, ty ir.Type) float64
	// MemOpCost returns the cost of one memory access
	// of the given kind, type, and byte alignment.
	MemOpCost(kind MemKind, ty ir.Type, align int) float64
	// ShuffleCost returns the cost of one data-movement
	// operation producing a vector of type ty.
	ShuffleCost(kind ShuffleKind, ty ir.Type) float64
	// VecElemCost returns the cost of moving one scalar
	// into or out of the given lane of a vector of type ty.
	VecElemCost(op VecElemOp, ty ir.Type, lane int) float64
}

// ScalarCost returns the cost of executing i as a
// scalar instruction under cm. Phis are free; they
// lower to register moves on the edges.
func ScalarCost(cm CostModel, i *ir.Instr) float64 {
	switch i.Op {
	case ir.OpLoad:
		return cm.MemOpCost(MemLoad, i.Ty, i.Ty.Size())
	case ir.OpStore:
		return cm.MemOpCost(MemStore, i.Stored().Type(), i.Stored().Type().Size())
	case ir.OpPhi:
		return 0
	}
	return cm.Cost(i.Op, i.Ty)
}

// AddrInfo answers address relations between scalar
// memory accesses. It stands in for the host compiler's
// alias and scalar-evolution analyses.
type AddrInfo interface {
	// IsConsecutive returns whether b accesses the
	// memory immediately following a, with no gap
	// and identical access types.
	IsConsecutive(a, b *ir.Instr) bool
	// MayAlias returns whether the accesses of a and b
	// can overlap. Implementations should answer true
	// when unsure.
	MayAlias(a, b *ir.Instr) bool
}

// StaticAddrInfo is a table-driven AddrInfo for
// embedders (and tests) that know their address
// arithmetic statically: every access is a byte
// offset from a named symbolic base, and distinct
// bases never overlap.
type StaticAddrInfo struct {
	accesses map[*ir.Instr]staticAccess
}

type staticAccess struct {
	base string
	off  int64
	size int64
}

// NewStaticAddrInfo returns an empty address table.
func NewStaticAddrInfo() *StaticAddrInfo {
	return &StaticAddrInfo{accesses: make(map[*ir.Instr]staticAccess)}
}

// Assign records that memory access i touches
// [off, off+size) bytes relative to base, where size
// is taken from the access type.
func (s *StaticAddrInfo) Assign(i *ir.Instr, base string, off int64) {
	var ty ir.Type
	switch i.Op {
	case ir.OpLoad:
		ty = i.Ty
	case ir.OpStore:
		ty = i.Stored().Type()
	default:
		panic("pack: Assign of non-memory instruction")
	}
	s.accesses[i] = staticAccess{base: base, off: off, size: int64(ty.Size())}
}

func (s *StaticAddrInfo) IsConsecutive(a, b *ir.Instr) bool {
	aa, ok1 := s.accesses[a]
	ba, ok2 := s.accesses[b]
	return ok1 && ok2 && aa.base == ba.base &&
		aa.size == ba.size && aa.off+aa.size == ba.off
}

func (s *StaticAddrInfo) MayAlias(a, b *ir.Instr) bool {
	aa, ok1 := s.accesses[a]
	ba, ok2 := s.accesses[b]
	if !ok1 || !ok2 {
		return true // unknown access; be conservative
	}
	if aa.base != ba.base {
		return false
	}
	return aa.off < ba.off+ba.size && ba.off < aa.off+aa.size
}
