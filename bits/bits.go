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

// Package bits implements the fixed-capacity bit sets
// that back value-id membership tests everywhere else
// in this module.
package bits

import (
	"encoding/binary"
	"math/bits"
	"unsafe"

	"github.com/dchest/siphash"
	"golang.org/x/exp/constraints"
)

// TestBit checks if the k-th bit is set in range "in"
func TestBit[T, K constraints.Integer](in []T, k K) bool {
	return (in[uintptr(k)/(unsafe.Sizeof(in[0])*8)] & (T(1) << (uintptr(k) % (unsafe.Sizeof(in[0]) * 8)))) != 0
}

// SetBit sets the k-th bit in range "in"
func SetBit[T, K constraints.Integer](in []T, k K) {
	in[uintptr(k)/(unsafe.Sizeof(in[0])*8)] |= (T(1) << (uintptr(k) % (unsafe.Sizeof(in[0]) * 8)))
}

// ClearBit clears the k-th bit in range "in"
func ClearBit[T, K constraints.Integer](in []T, k K) {
	in[uintptr(k)/(unsafe.Sizeof(in[0])*8)] &= ^(T(1) << (uintptr(k) % (unsafe.Sizeof(in[0]) * 8)))
}

// Vector is a bit set with a fixed capacity
// determined at construction time.
// The zero value is an empty set of capacity zero.
type Vector struct {
	words []uint64
	n     int
}

// New constructs an empty Vector that can
// hold bits [0, n).
func New(n int) *Vector {
	return &Vector{words: make([]uint64, (n+63)/64), n: n}
}

// Len returns the capacity of v.
func (v *Vector) Len() int { return v.n }

// Set sets bit i.
func (v *Vector) Set(i int) { SetBit(v.words, i) }

// Clear clears bit i.
func (v *Vector) Clear(i int) { ClearBit(v.words, i) }

// Test returns whether bit i is set.
func (v *Vector) Test(i int) bool { return TestBit(v.words, i) }

// Or sets v to the union of v and o.
func (v *Vector) Or(o *Vector) {
	for i, w := range o.words {
		v.words[i] |= w
	}
}

// AndNot clears every bit of v that is set in o.
func (v *Vector) AndNot(o *Vector) {
	for i, w := range o.words {
		v.words[i] &^= w
	}
}

// AnyCommon returns whether v and o share a set bit.
func (v *Vector) AnyCommon(o *Vector) bool {
	for i, w := range o.words {
		if v.words[i]&w != 0 {
			return true
		}
	}
	return false
}

// Count returns the number of set bits.
func (v *Vector) Count() int {
	c := 0
	for _, w := range v.words {
		c += bits.OnesCount64(w)
	}
	return c
}

// Empty returns whether no bit is set.
func (v *Vector) Empty() bool {
	for _, w := range v.words {
		if w != 0 {
			return false
		}
	}
	return true
}

// Equal returns whether v and o have identical contents.
func (v *Vector) Equal(o *Vector) bool {
	if v.n != o.n {
		return false
	}
	for i, w := range v.words {
		if o.words[i] != w {
			return false
		}
	}
	return true
}

// Clone returns an independent copy of v.
func (v *Vector) Clone() *Vector {
	words := make([]uint64, len(v.words))
	copy(words, v.words)
	return &Vector{words: words, n: v.n}
}

// Complement returns a new Vector with every
// bit in [0, Len) inverted.
func (v *Vector) Complement() *Vector {
	out := New(v.n)
	for i, w := range v.words {
		out.words[i] = ^w
	}
	if tail := v.n % 64; tail != 0 {
		out.words[len(out.words)-1] &= (1 << tail) - 1
	}
	return out
}

// Each calls fn for every set bit in ascending order.
func (v *Vector) Each(fn func(i int)) {
	for wi, w := range v.words {
		for w != 0 {
			fn(wi*64 + bits.TrailingZeros64(w))
			w &= w - 1
		}
	}
}

// Members returns the set bits in ascending order.
func (v *Vector) Members() []int {
	out := make([]int, 0, v.Count())
	v.Each(func(i int) { out = append(out, i) })
	return out
}

// Hash returns a 64-bit content hash of v
// suitable for memoization keys.
func (v *Vector) Hash() uint64 {
	buf := make([]byte, 8*len(v.words))
	for i, w := range v.words {
		binary.LittleEndian.PutUint64(buf[8*i:], w)
	}
	return siphash.Hash(0, uint64(v.n), buf)
}
