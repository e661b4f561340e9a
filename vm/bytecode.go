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

package vm

import (
	"fmt"
	"strings"
)

// bcop is one finalized vector instruction. Instructions
// operate on 8-lane 32-bit virtual registers; integer ops
// view lanes as int32, float ops as float32, and the mask
// ops work on the raw bit patterns.
type bcop uint16

const (
	bcinvalid bcop = iota

	bcloadu8
	bcloadu16
	bcloadf32
	bcsplat
	bcframen
	bcxvec
	bcyvec
	bcprop

	bccvtif

	bcaddi
	bcsubi
	bcmuli
	bcabsi
	bcmaxi
	bcmini

	bcaddf
	bcsubf
	bcmulf
	bcdivf
	bcmodf
	bcsqrtf
	bcabsf
	bcmaxf
	bcminf
	bctruncf
	bcroundf
	bcfloorf

	bccmpi
	bccmpf
	bcgt0i
	bcgt0f
	bcle0i
	bcle0f

	bcandi
	bcori
	bcxori
	bcandni

	bcexpf
	bclogf
	bcsinf
	bccosf
	bcpowf
	bcpowi

	_bcmax
)

var bcNames = [_bcmax]string{
	bcinvalid: "invalid",
	bcloadu8:  "load.u8",
	bcloadu16: "load.u16",
	bcloadf32: "load.f32",
	bcsplat:   "splat",
	bcframen:  "frameno",
	bcxvec:    "xindex",
	bcyvec:    "yindex",
	bcprop:    "prop",
	bccvtif:   "cvt.i2f",
	bcaddi:    "add.i32",
	bcsubi:    "sub.i32",
	bcmuli:    "mul.i32",
	bcabsi:    "abs.i32",
	bcmaxi:    "max.i32",
	bcmini:    "min.i32",
	bcaddf:    "add.f32",
	bcsubf:    "sub.f32",
	bcmulf:    "mul.f32",
	bcdivf:    "div.f32",
	bcmodf:    "mod.f32",
	bcsqrtf:   "sqrt.f32",
	bcabsf:    "abs.f32",
	bcmaxf:    "max.f32",
	bcminf:    "min.f32",
	bctruncf:  "trunc.f32",
	bcroundf:  "round.f32",
	bcfloorf:  "floor.f32",
	bccmpi:    "cmp.i32",
	bccmpf:    "cmp.f32",
	bcgt0i:    "gt0.i32",
	bcgt0f:    "gt0.f32",
	bcle0i:    "le0.i32",
	bcle0f:    "le0.f32",
	bcandi:    "and.i32",
	bcori:     "or.i32",
	bcxori:    "xor.i32",
	bcandni:   "andn.i32",
	bcexpf:    "call.exp",
	bclogf:    "call.log",
	bcsinf:    "call.sin",
	bccosf:    "call.cos",
	bcpowf:    "call.pow",
	bcpowi:    "pow.i32",
}

func (o bcop) String() string {
	if o >= _bcmax {
		return "invalid"
	}
	return bcNames[o]
}

// bcinst is one instruction: dst = op(a, b) with an
// optional 32-bit immediate (clip index, comparison kind,
// splat bits, property slot, or integer exponent).
type bcinst struct {
	op   bcop
	dst  uint16
	a, b uint16
	imm  uint32
}

func (i *bcinst) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "r%d = %s", i.dst, i.op)
	switch i.op {
	case bcloadu8, bcloadu16, bcloadf32, bcprop, bcsplat, bccmpi, bccmpf, bcpowi:
		fmt.Fprintf(&sb, " $%d", int32(i.imm))
	}
	switch numArgs(i.op) {
	case 1:
		fmt.Fprintf(&sb, " r%d", i.a)
	case 2:
		fmt.Fprintf(&sb, " r%d r%d", i.a, i.b)
	}
	return sb.String()
}

func numArgs(op bcop) int {
	switch op {
	case bcaddi, bcsubi, bcmuli, bcmaxi, bcmini,
		bcaddf, bcsubf, bcmulf, bcdivf, bcmodf, bcmaxf, bcminf,
		bccmpi, bccmpf, bcandi, bcori, bcxori, bcandni, bcpowf:
		return 2
	case bccvtif, bcabsi, bcabsf, bcsqrtf, bctruncf, bcroundf, bcfloorf,
		bcgt0i, bcgt0f, bcle0i, bcle0f,
		bcexpf, bclogf, bcsinf, bccosf, bcpowi:
		return 1
	default:
		return 0
	}
}

// emit finalizes an optimized program into per-level
// instruction segments with one register per live value.
// Only values reachable from the return value are
// scheduled; cast ops vanish into register aliasing.
func (p *prog) emit(licm bool) (segs [3][]bcinst, nregs int, retReg uint16) {
	live := make([]bool, len(p.values))
	var mark func(v *value)
	mark = func(v *value) {
		if live[v.id] {
			return
		}
		live[v.id] = true
		for i := range v.args {
			mark(v.args[i])
		}
	}
	mark(p.ret)

	level := make([]int8, len(p.values))
	for _, v := range p.values {
		if !live[v.id] {
			continue
		}
		l := ssainfo[v.op].blevel
		if l == levelArgs {
			l = levelFrame
			for i := range v.args {
				if al := level[v.args[i].id]; al > l {
					l = al
				}
			}
		}
		if !licm {
			l = levelStep
		}
		level[v.id] = l
	}

	reg := make([]uint16, len(p.values))
	next := uint16(0)
	for _, v := range p.values {
		if !live[v.id] {
			continue
		}
		if v.op == scastfi || v.op == scastif {
			// bit-pattern casts are free
			reg[v.id] = reg[v.args[0].id]
			continue
		}
		reg[v.id] = next
		next++
		inst := bcinst{op: ssainfo[v.op].bc, dst: reg[v.id], imm: v.imm}
		if len(v.args) > 0 {
			inst.a = reg[v.args[0].id]
		}
		if len(v.args) > 1 {
			inst.b = reg[v.args[1].id]
		}
		segs[level[v.id]] = append(segs[level[v.id]], inst)
	}
	return segs, int(next), reg[p.ret.id]
}
