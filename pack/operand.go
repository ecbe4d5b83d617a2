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
	"strings"

	"github.com/SnellerInc/slpack/ir"
)

// OperandPack is an ordered sequence of values that
// some vector operation needs as one input, before it
// is known how that input will be produced. A nil lane
// is a don't-care.
//
// OperandPacks are interned: all construction goes
// through Context.Make (or Context.Dedup), which
// guarantees that two packs with identical positional
// content are the same pointer. This makes them usable
// directly as memoization keys.
type OperandPack struct {
	vals []ir.Value
	ty   ir.Type
	hash uint64
}

// Len returns the lane count.
func (op *OperandPack) Len() int { return len(op.vals) }

// At returns the value in lane i, or nil for don't-care.
func (op *OperandPack) At(i int) ir.Value { return op.vals[i] }

// Values returns the lane values; the caller must not
// modify the result.
func (op *OperandPack) Values() []ir.Value { return op.vals }

// Front returns the first non-nil lane value.
func (op *OperandPack) Front() ir.Value {
	for _, v := range op.vals {
		if v != nil {
			return v
		}
	}
	panic("pack: operand pack with no live lane")
}

// IsSplat returns whether every live lane holds the
// same value.
func (op *OperandPack) IsSplat() bool {
	front := op.Front()
	for _, v := range op.vals {
		if v != nil && v != front {
			return false
		}
	}
	return true
}

// Type returns the materialized vector type of op.
func (op *OperandPack) Type() ir.Type { return op.ty }

// Hash returns the content hash computed at interning
// time; equal content always hashes equally.
func (op *OperandPack) Hash() uint64 { return op.hash }

func (op *OperandPack) String() string {
	var sb strings.Builder
	sb.WriteByte('(')
	for i, v := range op.vals {
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

// HasValue returns whether v occupies some lane of op.
func (op *OperandPack) HasValue(v ir.Value) bool {
	for _, lane := range op.vals {
		if lane == v {
			return true
		}
	}
	return false
}
