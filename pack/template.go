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
	"fmt"

	"sigs.k8s.io/yaml"

	"github.com/SnellerInc/slpack/ir"
)

// Operation is one scalar lane pattern that a SIMD
// template can execute: an opcode at a fixed bitwidth.
// Operations are interned per Library so they can be
// used as map keys.
type Operation struct {
	Opcode ir.Opcode
	Bits   int
}

func (o *Operation) String() string {
	return fmt.Sprintf("%s.i%d", o.Opcode, o.Bits)
}

// Match binds an Operation pattern to a concrete
// instruction: Output computes the pattern over Inputs.
// Commutative opcodes produce one Match per operand
// order.
type Match struct {
	Output *ir.Instr
	Inputs []ir.Value
}

// MatchValue returns the matches of o against v.
func (o *Operation) MatchValue(v ir.Value) []Match {
	i, ok := v.(*ir.Instr)
	if !ok || i.Op != o.Opcode || i.Ty.Float || i.Ty.Bits != o.Bits || i.Ty.IsVector() {
		return nil
	}
	matches := []Match{{Output: i, Inputs: i.Args}}
	if o.Opcode.Commutative() && i.Args[0] != i.Args[1] {
		matches = append(matches, Match{Output: i, Inputs: []ir.Value{i.Args[1], i.Args[0]}})
	}
	return matches
}

// Slice is a contiguous bit range [Lo, Hi) of one
// logical vector input of a template.
type Slice struct {
	Input int `json:"input"`
	Lo    int `json:"lo"`
	Hi    int `json:"hi"`
}

// Bits returns the width of s.
func (s Slice) Bits() int { return s.Hi - s.Lo }

// BoundOp is the operation one lane of a template
// executes, together with the input slices feeding
// each of its scalar operands.
type BoundOp struct {
	Op     *Operation
	Slices []Slice
}

// Signature gives the logical input and output widths
// of a template in bits.
type Signature struct {
	InputBits  []int
	OutputBits []int
}

// NumInputs returns the number of logical vector inputs.
func (s *Signature) NumInputs() int { return len(s.InputBits) }

// Template describes one SIMD operation: a fixed lane
// count, a per-lane scalar operation, and the binding
// from input slices to lane operands. Templates are
// immutable once built.
type Template struct {
	Name  string
	Sig   Signature
	Lanes []BoundOp
}

// LaneCount returns the vector width of t.
func (t *Template) LaneCount() int { return len(t.Lanes) }

// VecType returns the result vector type of t.
func (t *Template) VecType() ir.Type {
	return ir.Int(t.Lanes[0].Op.Bits).Vec(len(t.Lanes))
}

// Cost returns the cost of one execution of t under cm.
func (t *Template) Cost(cm CostModel) float64 {
	return cm.Cost(t.Lanes[0].Op.Opcode, t.VecType())
}

// Library is an immutable set of SIMD templates,
// built once at startup and shared (by pointer) across
// every block-level engine instance.
type Library struct {
	templates []*Template
	ops       map[Operation]*Operation
}

// Templates returns every template in the library.
func (l *Library) Templates() []*Template { return l.templates }

// Operations returns the distinct lane operations
// used by the library's templates.
func (l *Library) Operations() []*Operation {
	out := make([]*Operation, 0, len(l.ops))
	for _, op := range l.ops {
		out = append(out, op)
	}
	return out
}

func (l *Library) intern(opc ir.Opcode, bits int) *Operation {
	if l.ops == nil {
		l.ops = make(map[Operation]*Operation)
	}
	key := Operation{Opcode: opc, Bits: bits}
	if op, ok := l.ops[key]; ok {
		return op
	}
	op := &Operation{Opcode: opc, Bits: bits}
	l.ops[key] = op
	return op
}

// add appends a lane-parallel binary-op template:
// lane j computes op(x[j], y[j]) at the given bitwidth.
func (l *Library) add(name string, opc ir.Opcode, bits, lanes int) {
	op := l.intern(opc, bits)
	t := &Template{
		Name: name,
		Sig: Signature{
			InputBits:  []int{bits * lanes, bits * lanes},
			OutputBits: []int{bits * lanes},
		},
	}
	for j := 0; j < lanes; j++ {
		t.Lanes = append(t.Lanes, BoundOp{
			Op: op,
			Slices: []Slice{
				{Input: 0, Lo: j * bits, Hi: (j + 1) * bits},
				{Input: 1, Lo: j * bits, Hi: (j + 1) * bits},
			},
		})
	}
	l.templates = append(l.templates, t)
}

var builtinOps = []ir.Opcode{
	ir.OpAdd, ir.OpSub, ir.OpMul,
	ir.OpAnd, ir.OpOr, ir.OpXor,
	ir.OpShl, ir.OpLShr, ir.OpAShr,
	ir.OpSMax, ir.OpSMin,
}

// BuiltinLibrary returns the library of lane-parallel
// integer templates at the given vector widths, one
// template per (opcode, bitwidth, width) combination.
func BuiltinLibrary(widths ...int) *Library {
	if len(widths) == 0 {
		widths = []int{2, 4, 8, 16}
	}
	l := &Library{}
	for _, opc := range builtinOps {
		for _, bits := range []int{8, 16, 32, 64} {
			for _, w := range widths {
				name := fmt.Sprintf("%s.i%dx%d", opc, bits, w)
				l.add(name, opc, bits, w)
			}
		}
	}
	return l
}

type templateDef struct {
	Name  string `json:"name"`
	Op    string `json:"op"`
	Bits  int    `json:"bits"`
	Lanes int    `json:"lanes"`
}

type libraryDef struct {
	Templates []templateDef `json:"templates"`
}

var opcodeByName = func() map[string]ir.Opcode {
	m := make(map[string]ir.Opcode)
	for op := ir.OpAdd; op <= ir.OpPhi; op++ {
		m[op.String()] = op
	}
	return m
}()

// ParseLibrary builds a Library from a YAML target
// description of the form
//
//	templates:
//	  - {name: add.i32x4, op: add, bits: 32, lanes: 4}
func ParseLibrary(buf []byte) (*Library, error) {
	var def libraryDef
	if err := yaml.Unmarshal(buf, &def); err != nil {
		return nil, fmt.Errorf("pack: parsing template library: %w", err)
	}
	l := &Library{}
	for i := range def.Templates {
		td := &def.Templates[i]
		opc, ok := opcodeByName[td.Op]
		if !ok || !opc.IsBinary() {
			return nil, fmt.Errorf("pack: template %q: unsupported op %q", td.Name, td.Op)
		}
		if td.Lanes < 2 {
			return nil, fmt.Errorf("pack: template %q: bad lane count %d", td.Name, td.Lanes)
		}
		switch td.Bits {
		case 8, 16, 32, 64:
		default:
			return nil, fmt.Errorf("pack: template %q: bad bitwidth %d", td.Name, td.Bits)
		}
		name := td.Name
		if name == "" {
			name = fmt.Sprintf("%s.i%dx%d", opc, td.Bits, td.Lanes)
		}
		l.add(name, opc, td.Bits, td.Lanes)
	}
	return l, nil
}
