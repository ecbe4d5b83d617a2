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
	"testing"

	"github.com/SnellerInc/slpack/ir"
)

func TestBuiltinLibrary(t *testing.T) {
	lib := BuiltinLibrary(4)
	// one template per opcode and bitwidth at one width
	if n := len(lib.Templates()); n != 11*4 {
		t.Fatalf("got %d templates", n)
	}
	for _, tm := range lib.Templates() {
		if tm.LaneCount() != 4 {
			t.Fatalf("template %s has %d lanes", tm.Name, tm.LaneCount())
		}
		want := ir.Int(tm.Lanes[0].Op.Bits).Vec(4)
		if tm.VecType() != want {
			t.Fatalf("template %s type %s", tm.Name, tm.VecType())
		}
	}
	// lane operations are interned per library
	seen := make(map[string]*Operation)
	for _, op := range lib.Operations() {
		if prev, ok := seen[op.String()]; ok && prev != op {
			t.Fatalf("operation %s interned twice", op)
		}
		seen[op.String()] = op
	}
}

func TestParseLibrary(t *testing.T) {
	lib, err := ParseLibrary([]byte(`
templates:
  - {name: vadd4, op: add, bits: 32, lanes: 4}
  - {op: xor, bits: 8, lanes: 16}
`))
	if err != nil {
		t.Fatal(err)
	}
	ts := lib.Templates()
	if len(ts) != 2 {
		t.Fatalf("got %d templates", len(ts))
	}
	if ts[0].Name != "vadd4" || ts[0].LaneCount() != 4 {
		t.Errorf("template 0 = %s/%d", ts[0].Name, ts[0].LaneCount())
	}
	if ts[1].Name != "xor.i8x16" {
		t.Errorf("default name = %q", ts[1].Name)
	}

	bad := []struct {
		src  string
		want string
	}{
		{`templates: [{op: load, bits: 32, lanes: 4}]`, "unsupported op"},
		{`templates: [{op: add, bits: 32, lanes: 1}]`, "bad lane count"},
		{`templates: [{op: add, bits: 24, lanes: 4}]`, "bad bitwidth"},
		{`templates: {`, "parsing template library"},
	}
	for _, tc := range bad {
		_, err := ParseLibrary([]byte(tc.src))
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: err = %v, want %q", tc.src, err, tc.want)
		}
	}
}

func TestMatchValue(t *testing.T) {
	blk := ir.NewBlock("b0")
	x := &ir.Param{Name: "x", Ty: ir.Int(32)}
	y := &ir.Param{Name: "y", Ty: ir.Int(32)}
	sum := blk.Bin(ir.OpAdd, x, y)
	diff := blk.Bin(ir.OpSub, x, y)
	fsum := blk.Bin(ir.OpFAdd, &ir.Param{Name: "fx", Ty: ir.Float(32)}, &ir.Param{Name: "fy", Ty: ir.Float(32)})

	lib := BuiltinLibrary(4)
	var add32, sub32 *Operation
	for _, op := range lib.Operations() {
		switch {
		case op.Opcode == ir.OpAdd && op.Bits == 32:
			add32 = op
		case op.Opcode == ir.OpSub && op.Bits == 32:
			sub32 = op
		}
	}

	// commutative ops match in both operand orders
	ms := add32.MatchValue(sum)
	if len(ms) != 2 {
		t.Fatalf("add matches = %d", len(ms))
	}
	if ms[0].Inputs[0] != x || ms[1].Inputs[0] != y {
		t.Error("swapped match missing")
	}
	if n := len(sub32.MatchValue(diff)); n != 1 {
		t.Fatalf("sub matches = %d", n)
	}
	if len(add32.MatchValue(fsum)) != 0 {
		t.Error("float instruction matched an integer pattern")
	}
	if len(add32.MatchValue(diff)) != 0 {
		t.Error("wrong opcode matched")
	}
}

func TestMatchManager(t *testing.T) {
	blk := ir.NewBlock("b0")
	x := &ir.Param{Name: "x", Ty: ir.Int(32)}
	a := blk.Bin(ir.OpSub, x, ir.ConstInt(32, 1))
	b := blk.Bin(ir.OpSub, x, ir.ConstInt(32, 2))

	lib := BuiltinLibrary(2)
	mm := NewMatchManager(lib, blk)
	var sub32 *Operation
	for _, op := range lib.Operations() {
		if op.Opcode == ir.OpSub && op.Bits == 32 {
			sub32 = op
		}
	}
	ms := mm.Matches(sub32)
	if len(ms) != 2 {
		t.Fatalf("got %d matches", len(ms))
	}
	// ordered by output position
	if ms[0].Output != a || ms[1].Output != b {
		t.Error("matches out of program order")
	}
	only := mm.MatchesForOutput(sub32, b)
	if len(only) != 1 || only[0].Output != b {
		t.Fatalf("MatchesForOutput = %v", only)
	}
}
