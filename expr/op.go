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

// Package expr implements the front-end of the pixel
// expression language: whitespace tokenization, token
// decoding into typed opcodes, and the frame-property
// deduplication pass that runs before code generation.
package expr

import (
	"math"
)

// OpKind is the opcode discriminator of a decoded token.
type OpKind uint8

const (
	// terminals
	MemLoad   OpKind = iota // load pixels from an input plane
	Constant                // literal constant
	LoadConst               // frame number, coordinates, frame props

	// arithmetic primitives
	Add
	Sub
	Mul
	Div
	Mod
	Sqrt
	Abs
	Max
	Min
	Cmp

	// integer conversions (float-domain results)
	Trunc
	Round
	Floor

	// logical operators
	And
	Or
	Xor
	Not

	// transcendental functions
	Exp
	Log
	Pow
	Sin
	Cos

	// ternary operator
	Ternary

	// stack helpers
	Dup
	Swap

	maxOpKind
)

var opNames = [maxOpKind]string{
	MemLoad:   "mem_load",
	Constant:  "constant",
	LoadConst: "load_const",
	Add:       "add",
	Sub:       "sub",
	Mul:       "mul",
	Div:       "div",
	Mod:       "mod",
	Sqrt:      "sqrt",
	Abs:       "abs",
	Max:       "max",
	Min:       "min",
	Cmp:       "cmp",
	Trunc:     "trunc",
	Round:     "round",
	Floor:     "floor",
	And:       "and",
	Or:        "or",
	Xor:       "xor",
	Not:       "not",
	Exp:       "exp",
	Log:       "log",
	Pow:       "pow",
	Sin:       "sin",
	Cos:       "cos",
	Ternary:   "ternary",
	Dup:       "dup",
	Swap:      "swap",
}

func (k OpKind) String() string {
	if k >= maxOpKind {
		return "invalid"
	}
	return opNames[k]
}

// NumOperands is the number of stack operands an opcode
// consumes. Dup and Swap are special-cased by the code
// generator: they require a stack deeper than their
// immediate rather than a fixed operand count.
func (k OpKind) NumOperands() int {
	switch k {
	case Add, Sub, Mul, Div, Mod, Max, Min, Cmp, And, Or, Xor, Pow:
		return 2
	case Sqrt, Abs, Trunc, Round, Floor, Not, Exp, Log, Sin, Cos:
		return 1
	case Ternary:
		return 3
	default:
		return 0
	}
}

// CmpType is the comparison sub-kind stored in the
// immediate of a Cmp opcode. Bit 2 is the negation bit.
// The encoding is part of the compiled form: the code
// generator uses the raw value as a jump-table key.
type CmpType uint32

const (
	CmpEQ  CmpType = 0
	CmpLT  CmpType = 1
	CmpLE  CmpType = 2
	CmpNEQ CmpType = 4
	CmpNLT CmpType = 5
	CmpNLE CmpType = 6
)

func (c CmpType) String() string {
	switch c {
	case CmpEQ:
		return "eq"
	case CmpLT:
		return "lt"
	case CmpLE:
		return "le"
	case CmpNEQ:
		return "neq"
	case CmpNLT:
		return "nlt"
	case CmpNLE:
		return "nle"
	}
	return "invalid"
}

// LoadConst immediate selectors. Immediates at or above
// ConstLast are per-clip frame-property references: before
// DedupProps runs they encode ConstLast+clipIndex (with the
// property name in Op.Name), afterwards ConstLast+denseIndex
// into the per-frame scalar constants.
const (
	ConstN    = 0 // frame number
	ConstX    = 1 // x coordinate vector
	ConstY    = 2 // y coordinate
	ConstLast = 3
)

// Op is one decoded opcode. Imm is a raw 32-bit cell whose
// interpretation (signed integer, unsigned, or float bits)
// depends on Kind; see the IntImm/FloatImm accessors.
//
// Frame-property loads carry their clip-and-property bundle
// in Name and Clip; Clip stays valid after DedupProps
// rewrites Imm to the dense form, which is what keeps the
// dedup pass idempotent.
type Op struct {
	Kind OpKind
	Imm  uint32
	Name string // property name, only for frame-property LoadConst
	Clip int32  // property clip index, only for frame-property LoadConst
}

// IntImm returns the immediate viewed as a signed integer.
func (o *Op) IntImm() int32 { return int32(o.Imm) }

// FloatImm returns the immediate viewed as a float.
func (o *Op) FloatImm() float32 { return math.Float32frombits(o.Imm) }

func intImm(i int32) uint32     { return uint32(i) }
func floatImm(f float32) uint32 { return math.Float32bits(f) }

// PropAccess identifies one frame property referenced by an
// expression. After DedupProps the i'th entry corresponds to
// scalar-constants slot 1+i (slot 0 is the frame number).
type PropAccess struct {
	Clip int
	Name string
}
