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
	"strings"
	"testing"
)

func TestTypes(t *testing.T) {
	i32 := Int(32)
	if i32.IsVector() || i32.Size() != 4 || i32.String() != "i32" {
		t.Fatalf("bad i32: %s", i32)
	}
	v := i32.Vec(4)
	if !v.IsVector() || v.Size() != 16 || v.String() != "<4 x i32>" {
		t.Fatalf("bad vector: %s", v)
	}
	if v.Scalar() != i32 {
		t.Fatal("Scalar does not invert Vec")
	}
	if Float(64).String() != "f64" {
		t.Fatalf("bad f64: %s", Float(64))
	}
}

func TestBlockBuilder(t *testing.T) {
	blk := NewBlock("loop")
	p := &Param{Name: "p", Ty: Int(64)}
	x := blk.Load(Int(32), p)
	y := blk.Bin(OpAdd, x, ConstInt(32, 1))
	st := blk.Store(p, y)
	blk.MarkLiveOut(y)

	if x.Pos() != 0 || y.Pos() != 1 || st.Pos() != 2 {
		t.Fatal("positions not assigned in program order")
	}
	for _, i := range blk.Instrs {
		if i.Block() != blk {
			t.Fatal("instruction not bound to its block")
		}
	}
	if st.HasResult() {
		t.Error("stores produce no result")
	}
	if st.Stored() != y || st.Addr() != p {
		t.Error("bad store operands")
	}
	if len(blk.LiveOuts) != 1 || blk.LiveOuts[0] != y {
		t.Error("live-out not recorded")
	}

	var sb strings.Builder
	blk.Describe(&sb)
	out := sb.String()
	for _, want := range []string{"loop:", "load", "add", "store"} {
		if !strings.Contains(out, want) {
			t.Errorf("listing missing %q:\n%s", want, out)
		}
	}
}

func TestOpcodes(t *testing.T) {
	if !OpAdd.Commutative() || OpSub.Commutative() {
		t.Error("bad commutativity")
	}
	if !OpSMin.IsBinary() || OpLoad.IsBinary() || OpPhi.IsBinary() {
		t.Error("bad binary classification")
	}
	if OpMul.String() != "mul" || OpAShr.String() != "ashr" {
		t.Error("bad opcode names")
	}
}

func TestPhi(t *testing.T) {
	blk := NewBlock("join")
	a := &Param{Name: "a", Ty: Int(32)}
	b := &Param{Name: "b", Ty: Int(32)}
	phi := blk.Phi(Int(32),
		Incoming{Pred: "left", V: a},
		Incoming{Pred: "right", V: b})
	if len(phi.Incs) != 2 || len(phi.Args) != 2 {
		t.Fatal("bad phi shape")
	}
	if phi.Args[0] != a || phi.Args[1] != b {
		t.Fatal("args must mirror incoming values")
	}
}
