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

// Package vm compiles decoded pixel expressions into
// straight-line vector routines and executes them 8 lanes
// at a time over plane buffers.
//
// Compilation builds a linear SSA program from the postfix
// opcode stream (the symbolic stack exists only during this
// walk), runs a fixed pipeline of optimization passes over
// it, and finalizes the surviving values into a bytecode
// routine with one virtual 8-lane register per value.
package vm

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/dchest/siphash"
)

// lanes is the number of pixels processed per inner-loop
// step; plane widths must be a multiple of lanes*unroll.
const lanes = 8

type ssatype uint8

const (
	stIntV   ssatype = iota // 8-lane int32 vector
	stFloatV                // 8-lane float32 vector
)

func (t ssatype) String() string {
	if t == stIntV {
		return "i32x8"
	}
	return "f32x8"
}

type ssaop int

const (
	sinvalid ssaop = iota

	// terminals
	sloadu8  // load 8 bytes from input plane (imm=clip), widen
	sloadu16 // load 8 shorts from input plane (imm=clip), widen
	sloadf32 // load 8 floats from input plane (imm=clip)
	sconsti  // int constant splat (imm=value)
	sconstf  // float constant splat (imm=bits)
	sframen  // frame number splat (consts slot 0, int bits)
	sxvec    // [x, x+1, ..., x+7]
	syvec    // y splat
	sprop    // frame property splat (imm=dense index, consts slot 1+imm)

	// conversions
	scvtif  // int -> float, value conversion
	scastfi // float -> int, bit pattern
	scastif // int -> float, bit pattern

	// integer arithmetic
	saddi
	ssubi
	smuli
	sabsi
	smaxi
	smini

	// float arithmetic
	saddf
	ssubf
	smulf
	sdivf
	smodf
	ssqrtf
	sabsf
	smaxf
	sminf
	struncf
	sroundf
	sfloorf

	// comparisons; all produce a full-lane mask
	scmpi   // imm = expr.CmpType, int domain
	scmpf   // imm = expr.CmpType, float domain (SSE predicate semantics)
	sgt0i   // mask = arg > 0 (condition test)
	sgt0f   // mask = arg > 0, ordered
	sle0i   // mask = arg <= 0
	sle0f   // mask = arg <= 0, ordered

	// bitwise (mask and bit-pattern select plumbing)
	sandi
	sori
	sxori
	sandni // ^arg0 & arg1

	// transcendental helper calls; pure, so identical
	// arguments are CSE'd into a single call
	sexpf
	slogf
	ssinf
	scosf
	spowf
	spowi // integer-power expansion (imm=exponent)

	_ssamax
)

type ssaopinfo struct {
	text     string
	argtypes []ssatype
	rettype  ssatype
	bc       bcop
	// blevel is the loop level of a leaf op: levelFrame,
	// levelRow or levelStep. Interior ops use levelArgs and
	// inherit the deepest argument level.
	blevel int8
}

const (
	levelFrame = 0 // computed once per frame
	levelRow   = 1 // computed once per output row
	levelStep  = 2 // computed once per 8-lane step
	levelArgs  = -1
)

var int1Args = []ssatype{stIntV}
var int2Args = []ssatype{stIntV, stIntV}
var fp1Args = []ssatype{stFloatV}
var fp2Args = []ssatype{stFloatV, stFloatV}

var ssainfo = [_ssamax]ssaopinfo{
	sinvalid: {text: "INVALID"},

	sloadu8:  {text: "load.u8", rettype: stIntV, bc: bcloadu8, blevel: levelStep},
	sloadu16: {text: "load.u16", rettype: stIntV, bc: bcloadu16, blevel: levelStep},
	sloadf32: {text: "load.f32", rettype: stFloatV, bc: bcloadf32, blevel: levelStep},
	sconsti:  {text: "const.i32", rettype: stIntV, bc: bcsplat, blevel: levelFrame},
	sconstf:  {text: "const.f32", rettype: stFloatV, bc: bcsplat, blevel: levelFrame},
	sframen:  {text: "frameno", rettype: stIntV, bc: bcframen, blevel: levelFrame},
	sxvec:    {text: "xindex", rettype: stIntV, bc: bcxvec, blevel: levelStep},
	syvec:    {text: "yindex", rettype: stIntV, bc: bcyvec, blevel: levelRow},
	sprop:    {text: "prop", rettype: stFloatV, bc: bcprop, blevel: levelFrame},

	scvtif:  {text: "cvt.i2f", argtypes: int1Args, rettype: stFloatV, bc: bccvtif, blevel: levelArgs},
	scastfi: {text: "cast.f2i", argtypes: fp1Args, rettype: stIntV, blevel: levelArgs},
	scastif: {text: "cast.i2f", argtypes: int1Args, rettype: stFloatV, blevel: levelArgs},

	saddi: {text: "add.i32", argtypes: int2Args, rettype: stIntV, bc: bcaddi, blevel: levelArgs},
	ssubi: {text: "sub.i32", argtypes: int2Args, rettype: stIntV, bc: bcsubi, blevel: levelArgs},
	smuli: {text: "mul.i32", argtypes: int2Args, rettype: stIntV, bc: bcmuli, blevel: levelArgs},
	sabsi: {text: "abs.i32", argtypes: int1Args, rettype: stIntV, bc: bcabsi, blevel: levelArgs},
	smaxi: {text: "max.i32", argtypes: int2Args, rettype: stIntV, bc: bcmaxi, blevel: levelArgs},
	smini: {text: "min.i32", argtypes: int2Args, rettype: stIntV, bc: bcmini, blevel: levelArgs},

	saddf:   {text: "add.f32", argtypes: fp2Args, rettype: stFloatV, bc: bcaddf, blevel: levelArgs},
	ssubf:   {text: "sub.f32", argtypes: fp2Args, rettype: stFloatV, bc: bcsubf, blevel: levelArgs},
	smulf:   {text: "mul.f32", argtypes: fp2Args, rettype: stFloatV, bc: bcmulf, blevel: levelArgs},
	sdivf:   {text: "div.f32", argtypes: fp2Args, rettype: stFloatV, bc: bcdivf, blevel: levelArgs},
	smodf:   {text: "mod.f32", argtypes: fp2Args, rettype: stFloatV, bc: bcmodf, blevel: levelArgs},
	ssqrtf:  {text: "sqrt.f32", argtypes: fp1Args, rettype: stFloatV, bc: bcsqrtf, blevel: levelArgs},
	sabsf:   {text: "abs.f32", argtypes: fp1Args, rettype: stFloatV, bc: bcabsf, blevel: levelArgs},
	smaxf:   {text: "max.f32", argtypes: fp2Args, rettype: stFloatV, bc: bcmaxf, blevel: levelArgs},
	sminf:   {text: "min.f32", argtypes: fp2Args, rettype: stFloatV, bc: bcminf, blevel: levelArgs},
	struncf: {text: "trunc.f32", argtypes: fp1Args, rettype: stFloatV, bc: bctruncf, blevel: levelArgs},
	sroundf: {text: "round.f32", argtypes: fp1Args, rettype: stFloatV, bc: bcroundf, blevel: levelArgs},
	sfloorf: {text: "floor.f32", argtypes: fp1Args, rettype: stFloatV, bc: bcfloorf, blevel: levelArgs},

	scmpi: {text: "cmp.i32", argtypes: int2Args, rettype: stIntV, bc: bccmpi, blevel: levelArgs},
	scmpf: {text: "cmp.f32", argtypes: fp2Args, rettype: stIntV, bc: bccmpf, blevel: levelArgs},
	sgt0i: {text: "gt0.i32", argtypes: int1Args, rettype: stIntV, bc: bcgt0i, blevel: levelArgs},
	sgt0f: {text: "gt0.f32", argtypes: fp1Args, rettype: stIntV, bc: bcgt0f, blevel: levelArgs},
	sle0i: {text: "le0.i32", argtypes: int1Args, rettype: stIntV, bc: bcle0i, blevel: levelArgs},
	sle0f: {text: "le0.f32", argtypes: fp1Args, rettype: stIntV, bc: bcle0f, blevel: levelArgs},

	sandi:  {text: "and.i32", argtypes: int2Args, rettype: stIntV, bc: bcandi, blevel: levelArgs},
	sori:   {text: "or.i32", argtypes: int2Args, rettype: stIntV, bc: bcori, blevel: levelArgs},
	sxori:  {text: "xor.i32", argtypes: int2Args, rettype: stIntV, bc: bcxori, blevel: levelArgs},
	sandni: {text: "andn.i32", argtypes: int2Args, rettype: stIntV, bc: bcandni, blevel: levelArgs},

	sexpf: {text: "call.exp", argtypes: fp1Args, rettype: stFloatV, bc: bcexpf, blevel: levelArgs},
	slogf: {text: "call.log", argtypes: fp1Args, rettype: stFloatV, bc: bclogf, blevel: levelArgs},
	ssinf: {text: "call.sin", argtypes: fp1Args, rettype: stFloatV, bc: bcsinf, blevel: levelArgs},
	scosf: {text: "call.cos", argtypes: fp1Args, rettype: stFloatV, bc: bccosf, blevel: levelArgs},
	spowf: {text: "call.pow", argtypes: fp2Args, rettype: stFloatV, bc: bcpowf, blevel: levelArgs},
	spowi: {text: "pow.i32", argtypes: fp1Args, rettype: stFloatV, bc: bcpowi, blevel: levelArgs},
}

func (o ssaop) String() string {
	if o <= sinvalid || o >= _ssamax {
		return "INVALID"
	}
	return ssainfo[o].text
}

// value is one node of the straight-line SSA program.
type value struct {
	id   int
	op   ssaop
	args []*value
	imm  uint32
}

// rtype is the vector type produced by the value.
func (v *value) rtype() ssatype {
	return ssainfo[v.op].rettype
}

// isConst reports whether the value is a literal constant
// splat; the POW specialization and the folding passes key
// off this.
func (v *value) isConst() bool {
	return v.op == sconsti || v.op == sconstf
}

type hashcode [2]uint64

// prog is a linear SSA program under construction. values
// are appended in topological order; exprs hash-conses
// structurally identical values so that common expressions
// (including pure transcendental calls) are built once.
type prog struct {
	values []*value
	ret    *value
	exprs  map[hashcode]*value
}

func (p *prog) begin() {
	p.values = nil
	p.ret = nil
	p.exprs = make(map[hashcode]*value)
}

func (p *prog) val() *value {
	v := new(value)
	p.values = append(p.values, v)
	v.id = len(p.values) - 1
	return v
}

// hashkey produces a consistent key for hash-consing a
// candidate value from its opcode, immediate, and the
// identities of its (already-deduplicated) arguments.
func hashkey(op ssaop, imm uint32, args []*value) hashcode {
	var buf [4 + 4 + 8*4]byte
	binary.LittleEndian.PutUint32(buf[0:], uint32(op))
	binary.LittleEndian.PutUint32(buf[4:], imm)
	n := 8
	for i := range args {
		binary.LittleEndian.PutUint32(buf[n:], uint32(args[i].id))
		n += 4
	}
	lo, hi := siphash.Hash128(0, 0, buf[:n])
	return hashcode{lo, hi}
}

// ssa returns the value (op imm args...), reusing an
// existing structurally identical value when possible.
func (p *prog) ssa(op ssaop, imm uint32, args ...*value) *value {
	h := hashkey(op, imm, args)
	if v, ok := p.exprs[h]; ok && sameValue(v, op, imm, args) {
		return v
	}
	v := p.val()
	v.op = op
	v.imm = imm
	v.args = args
	p.exprs[h] = v
	return v
}

// sameValue guards against siphash collisions.
func sameValue(v *value, op ssaop, imm uint32, args []*value) bool {
	if v.op != op || v.imm != imm || len(v.args) != len(args) {
		return false
	}
	for i := range args {
		if v.args[i] != args[i] {
			return false
		}
	}
	return true
}

func (p *prog) iconst(i int32) *value {
	return p.ssa(sconsti, uint32(i))
}

func (p *prog) fconst(f float32) *value {
	return p.ssa(sconstf, math.Float32bits(f))
}

// ensureFloat inserts a value conversion if v is an
// integer vector.
func (p *prog) ensureFloat(v *value) *value {
	if v.rtype() == stFloatV {
		return v
	}
	return p.ssa(scvtif, 0, v)
}

func (v *value) String() string {
	s := fmt.Sprintf("v%d = %s", v.id, v.op)
	switch v.op {
	case sconstf:
		s += fmt.Sprintf(" %g", math.Float32frombits(v.imm))
	case sconsti:
		s += fmt.Sprintf(" %d", int32(v.imm))
	case sloadu8, sloadu16, sloadf32, sprop, spowi, scmpi, scmpf:
		s += fmt.Sprintf(" $%d", int32(v.imm))
	}
	for i := range v.args {
		s += fmt.Sprintf(" v%d", v.args[i].id)
	}
	return s
}
