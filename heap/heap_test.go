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

package heap

import (
	"math/rand"
	"slices"
	"testing"
)

func TestHeap(t *testing.T) {
	x := make([]int, 0, 1000)
	less := func(x, y int) bool {
		return x < y
	}
	for len(x) < cap(x) {
		PushSlice(&x, rand.Int(), less)
	}
	sorted := make([]int, 0, len(x))
	for len(x) > 0 {
		sorted = append(sorted, PopSlice(&x, less))
	}
	if !slices.IsSorted(sorted) {
		t.Fatal("not sorted")
	}

	for len(x) < cap(x) {
		PushSlice(&x, rand.Int(), less)
	}
	// disturb ordering, then Fix
	x[len(x)/2] = 1
	FixSlice(x, len(x)/2, less)
	sorted = sorted[:0]
	for len(x) > 0 {
		sorted = append(sorted, PopSlice(&x, less))
	}
	if !slices.IsSorted(sorted) {
		t.Fatal("not sorted after FixSlice")
	}
}

func TestOrderSlice(t *testing.T) {
	less := func(x, y int) bool {
		return x < y
	}
	x := rand.Perm(100)
	OrderSlice(x, less)
	if x[0] != 0 {
		t.Fatalf("smallest element is %d", x[0])
	}
	sorted := make([]int, 0, len(x))
	for len(x) > 0 {
		sorted = append(sorted, PopSlice(&x, less))
	}
	if !slices.IsSorted(sorted) {
		t.Fatal("OrderSlice did not establish the heap invariant")
	}
}

func TestTopK(t *testing.T) {
	less := func(x, y int) bool {
		return x < y
	}
	x := rand.Perm(1000)
	got := TopK(x, 10, less)
	if !slices.Equal(got, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}) {
		t.Fatalf("TopK = %v", got)
	}
	if len(TopK(x, 0, less)) != 0 {
		t.Fatal("TopK with k=0")
	}
	// k larger than the input returns everything
	all := TopK([]int{3, 1, 2}, 10, less)
	if !slices.Equal(all, []int{1, 2, 3}) {
		t.Fatalf("TopK over-ask = %v", all)
	}
}
