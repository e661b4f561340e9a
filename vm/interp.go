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
	"encoding/binary"
	"math"

	"github.com/SnellerInc/lexpr/ints"
)

// Proc is the entry point of a compiled routine.
//
// rwptrs[0] is the destination plane; rwptrs[1..numInputs]
// are the source planes, with strides indexed the same way
// (byte strides). consts slot 0 holds the frame number as
// int bits; slots 1+ hold the frame-property floats in
// dedup order. width must be a multiple of 8*unroll; the
// routine writes exactly width*height pixels.
//
// A Proc is pure and reentrant: it may be called
// concurrently on different frames.
type Proc func(rwptrs [][]byte, strides []int32, consts []float32, width, height int32)

func absi32(x int32) int32 {
	if x < 0 {
		return -x
	}
	return x
}

func maxi32(a, b int32) int32 {
	if a >= b {
		return a
	}
	return b
}

func mini32(a, b int32) int32 {
	if a <= b {
		return a
	}
	return b
}

func absf32(x float32) float32 {
	return math.Float32frombits(math.Float32bits(x) &^ 0x80000000)
}

// maxf32/minf32 follow the maxps/minps convention of
// returning the second operand when the lanes are
// unordered.
func maxf32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func minf32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func sqrtf32(x float32) float32 {
	return float32(math.Sqrt(float64(x)))
}

func modf32(a, b float32) float32 {
	return float32(math.Mod(float64(a), float64(b)))
}

// cmpi32/cmpf32 implement the six comparison sub-kinds.
// The float predicates have SSE semantics: the negated
// kinds (bit 2) are true on unordered lanes.
func cmpi32(ct uint32, a, b int32) bool {
	switch ct {
	case 0: // eq
		return a == b
	case 1: // lt
		return a < b
	case 2: // le
		return a <= b
	case 4: // neq
		return a != b
	case 5: // nlt
		return !(a < b)
	default: // nle
		return !(a <= b)
	}
}

func cmpf32(ct uint32, a, b float32) bool {
	switch ct {
	case 0:
		return a == b
	case 1:
		return a < b
	case 2:
		return a <= b
	case 4:
		return !(a == b)
	case 5:
		return !(a < b)
	default:
		return !(a <= b)
	}
}

type execState struct {
	regs    [][lanes]uint32
	rwptrs  [][]byte
	strides []int32
	consts  []float32
	x, y    int32
}

func (r *Routine) exec(seg []bcinst, st *execState) {
	for i := range seg {
		inst := &seg[i]
		dst := &st.regs[inst.dst]
		var a, b *[lanes]uint32
		switch numArgs(inst.op) {
		case 2:
			b = &st.regs[inst.b]
			fallthrough
		case 1:
			a = &st.regs[inst.a]
		}
		switch inst.op {
		case bcloadu8:
			base := st.rwptrs[inst.imm+1]
			off := int(st.y)*int(st.strides[inst.imm+1]) + int(st.x)
			for l := 0; l < lanes; l++ {
				dst[l] = uint32(base[off+l])
			}
		case bcloadu16:
			base := st.rwptrs[inst.imm+1]
			off := int(st.y)*int(st.strides[inst.imm+1]) + int(st.x)*2
			for l := 0; l < lanes; l++ {
				dst[l] = uint32(binary.LittleEndian.Uint16(base[off+2*l:]))
			}
		case bcloadf32:
			base := st.rwptrs[inst.imm+1]
			off := int(st.y)*int(st.strides[inst.imm+1]) + int(st.x)*4
			for l := 0; l < lanes; l++ {
				dst[l] = binary.LittleEndian.Uint32(base[off+4*l:])
			}
		case bcsplat:
			for l := 0; l < lanes; l++ {
				dst[l] = inst.imm
			}
		case bcframen:
			n := math.Float32bits(st.consts[0])
			for l := 0; l < lanes; l++ {
				dst[l] = n
			}
		case bcxvec:
			for l := 0; l < lanes; l++ {
				dst[l] = uint32(st.x + int32(l))
			}
		case bcyvec:
			for l := 0; l < lanes; l++ {
				dst[l] = uint32(st.y)
			}
		case bcprop:
			f := math.Float32bits(st.consts[1+inst.imm])
			for l := 0; l < lanes; l++ {
				dst[l] = f
			}
		case bccvtif:
			for l := 0; l < lanes; l++ {
				dst[l] = math.Float32bits(float32(int32(a[l])))
			}
		case bcaddi:
			for l := 0; l < lanes; l++ {
				dst[l] = uint32(int32(a[l]) + int32(b[l]))
			}
		case bcsubi:
			for l := 0; l < lanes; l++ {
				dst[l] = uint32(int32(a[l]) - int32(b[l]))
			}
		case bcmuli:
			for l := 0; l < lanes; l++ {
				dst[l] = uint32(int32(a[l]) * int32(b[l]))
			}
		case bcabsi:
			for l := 0; l < lanes; l++ {
				dst[l] = uint32(absi32(int32(a[l])))
			}
		case bcmaxi:
			for l := 0; l < lanes; l++ {
				dst[l] = uint32(maxi32(int32(a[l]), int32(b[l])))
			}
		case bcmini:
			for l := 0; l < lanes; l++ {
				dst[l] = uint32(mini32(int32(a[l]), int32(b[l])))
			}
		case bcaddf:
			for l := 0; l < lanes; l++ {
				dst[l] = math.Float32bits(math.Float32frombits(a[l]) + math.Float32frombits(b[l]))
			}
		case bcsubf:
			for l := 0; l < lanes; l++ {
				dst[l] = math.Float32bits(math.Float32frombits(a[l]) - math.Float32frombits(b[l]))
			}
		case bcmulf:
			for l := 0; l < lanes; l++ {
				dst[l] = math.Float32bits(math.Float32frombits(a[l]) * math.Float32frombits(b[l]))
			}
		case bcdivf:
			for l := 0; l < lanes; l++ {
				dst[l] = math.Float32bits(math.Float32frombits(a[l]) / math.Float32frombits(b[l]))
			}
		case bcmodf:
			for l := 0; l < lanes; l++ {
				dst[l] = math.Float32bits(modf32(math.Float32frombits(a[l]), math.Float32frombits(b[l])))
			}
		case bcsqrtf:
			for l := 0; l < lanes; l++ {
				dst[l] = math.Float32bits(sqrtf32(math.Float32frombits(a[l])))
			}
		case bcabsf:
			for l := 0; l < lanes; l++ {
				dst[l] = a[l] &^ 0x80000000
			}
		case bcmaxf:
			for l := 0; l < lanes; l++ {
				dst[l] = math.Float32bits(maxf32(math.Float32frombits(a[l]), math.Float32frombits(b[l])))
			}
		case bcminf:
			for l := 0; l < lanes; l++ {
				dst[l] = math.Float32bits(minf32(math.Float32frombits(a[l]), math.Float32frombits(b[l])))
			}
		case bctruncf:
			for l := 0; l < lanes; l++ {
				dst[l] = math.Float32bits(float32(math.Trunc(float64(math.Float32frombits(a[l])))))
			}
		case bcroundf:
			for l := 0; l < lanes; l++ {
				dst[l] = math.Float32bits(float32(math.RoundToEven(float64(math.Float32frombits(a[l])))))
			}
		case bcfloorf:
			for l := 0; l < lanes; l++ {
				dst[l] = math.Float32bits(float32(math.Floor(float64(math.Float32frombits(a[l])))))
			}
		case bccmpi:
			for l := 0; l < lanes; l++ {
				dst[l] = maskbits(cmpi32(inst.imm, int32(a[l]), int32(b[l])))
			}
		case bccmpf:
			for l := 0; l < lanes; l++ {
				dst[l] = maskbits(cmpf32(inst.imm, math.Float32frombits(a[l]), math.Float32frombits(b[l])))
			}
		case bcgt0i:
			for l := 0; l < lanes; l++ {
				dst[l] = maskbits(int32(a[l]) > 0)
			}
		case bcgt0f:
			for l := 0; l < lanes; l++ {
				dst[l] = maskbits(math.Float32frombits(a[l]) > 0)
			}
		case bcle0i:
			for l := 0; l < lanes; l++ {
				dst[l] = maskbits(int32(a[l]) <= 0)
			}
		case bcle0f:
			for l := 0; l < lanes; l++ {
				dst[l] = maskbits(math.Float32frombits(a[l]) <= 0)
			}
		case bcandi:
			for l := 0; l < lanes; l++ {
				dst[l] = a[l] & b[l]
			}
		case bcori:
			for l := 0; l < lanes; l++ {
				dst[l] = a[l] | b[l]
			}
		case bcxori:
			for l := 0; l < lanes; l++ {
				dst[l] = a[l] ^ b[l]
			}
		case bcandni:
			for l := 0; l < lanes; l++ {
				dst[l] = ^a[l] & b[l]
			}
		case bcexpf:
			for l := 0; l < lanes; l++ {
				dst[l] = math.Float32bits(expf32(math.Float32frombits(a[l])))
			}
		case bclogf:
			for l := 0; l < lanes; l++ {
				dst[l] = math.Float32bits(logf32(math.Float32frombits(a[l])))
			}
		case bcsinf:
			for l := 0; l < lanes; l++ {
				dst[l] = math.Float32bits(sincosf32(math.Float32frombits(a[l]), true))
			}
		case bccosf:
			for l := 0; l < lanes; l++ {
				dst[l] = math.Float32bits(sincosf32(math.Float32frombits(a[l]), false))
			}
		case bcpowf:
			for l := 0; l < lanes; l++ {
				dst[l] = math.Float32bits(powf32(math.Float32frombits(a[l]), math.Float32frombits(b[l])))
			}
		case bcpowi:
			for l := 0; l < lanes; l++ {
				dst[l] = math.Float32bits(powint32(math.Float32frombits(a[l]), int32(inst.imm)))
			}
		}
	}
}

func maskbits(m bool) uint32 {
	if m {
		return 0xFFFFFFFF
	}
	return 0
}

// store clamps and narrows the result register into the
// destination row. Integer outputs clamp to
// [0, 2^bits - 1] with round-half-even from float (a NaN
// lane clamps to zero); float outputs store the 32-bit
// pattern untouched.
func (r *Routine) store(st *execState) {
	res := &st.regs[r.retReg]
	dst := st.rwptrs[0]
	off := int(st.y)*int(st.strides[0]) + int(st.x)*r.out.Bytes
	if r.out.Float {
		for l := 0; l < lanes; l++ {
			binary.LittleEndian.PutUint32(dst[off+4*l:], res[l])
		}
		return
	}
	maxval := int32(1)<<r.out.Bits - 1
	var rounded [lanes]int32
	if r.retFloat {
		for l := 0; l < lanes; l++ {
			v := math.Float32frombits(res[l])
			if !(v > 0) {
				v = 0
			}
			if v > float32(maxval) {
				v = float32(maxval)
			}
			rounded[l] = roundi32(v)
		}
	} else {
		for l := 0; l < lanes; l++ {
			rounded[l] = ints.Clamp(int32(res[l]), 0, maxval)
		}
	}
	if r.out.Bytes == 1 {
		for l := 0; l < lanes; l++ {
			dst[off+l] = byte(rounded[l])
		}
	} else {
		for l := 0; l < lanes; l++ {
			binary.LittleEndian.PutUint16(dst[off+2*l:], uint16(rounded[l]))
		}
	}
}

// run executes the routine: the frame segment once, the row
// segment per output row, and the lane-step segment plus
// store per 8 pixels.
func (r *Routine) run(rwptrs [][]byte, strides []int32, consts []float32, width, height int32) {
	st := execState{
		regs:    make([][lanes]uint32, r.nregs),
		rwptrs:  rwptrs,
		strides: strides,
		consts:  consts,
	}
	r.exec(r.segs[levelFrame], &st)
	step := int32(lanes * r.unroll)
	for y := int32(0); y < height; y++ {
		st.y = y
		r.exec(r.segs[levelRow], &st)
		for x := int32(0); x < width; x += step {
			for k := 0; k < r.unroll; k++ {
				st.x = x + int32(k*lanes)
				r.exec(r.segs[levelStep], &st)
				r.store(&st)
			}
		}
	}
}
