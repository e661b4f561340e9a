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
	"math"

	"github.com/SnellerInc/lexpr/expr"
)

// Opt flag bits; bit 0 is set by default.
const (
	// FlagUseInteger keeps integer-valued intermediates in
	// the integer domain. When unset, integer loads and the
	// results of add/sub/mul/abs/max/min are promoted to
	// float immediately.
	FlagUseInteger = 1 << 0
)

// PixelFormat describes the storage of one plane.
type PixelFormat struct {
	Float bool // 32-bit float samples; integer otherwise
	Bits  int  // meaningful bits per sample (<=16 for integer)
	Bytes int  // bytes per sample: 1, 2 or 4
}

// Params is everything the code generator needs for one
// plane expression. Ops must already have been through
// expr.DedupProps; Tokens must be index-aligned with Ops.
type Params struct {
	Expr   string
	Tokens []string
	Ops    []expr.Op
	Props  []expr.PropAccess
	Inputs []PixelFormat
	Output PixelFormat
	Flags  int
}

func (p *Params) forceFloat() bool {
	return p.Flags&FlagUseInteger == 0
}

// condition produces the full-lane mask (v > 0) in v's own
// numeric domain; float lanes use the ordered compare, so a
// NaN condition selects the false branch.
func (p *prog) condition(v *value) *value {
	if v.rtype() == stFloatV {
		return p.ssa(sgt0f, 0, v)
	}
	return p.ssa(sgt0i, 0, v)
}

// binary lowers a two-operand arithmetic op, promoting to
// float when either operand is float (or forced).
func (p *prog) binary(iop, fop ssaop, l, r *value, forceFloat bool) *value {
	if l.rtype() == stFloatV || r.rtype() == stFloatV || forceFloat {
		return p.ssa(fop, 0, p.ensureFloat(l), p.ensureFloat(r))
	}
	return p.ssa(iop, 0, l, r)
}

// buildProgram walks the postfix opcode stream with a
// symbolic value stack and constructs the SSA program.
// Stack manipulation (dup/swap) is folded here by index
// manipulation; the emitted program never materializes a
// runtime stack.
func buildProgram(params *Params) (*prog, error) {
	p := new(prog)
	p.begin()

	forceFloat := params.forceFloat()
	var stack []*value

	for i := range params.Ops {
		op := &params.Ops[i]
		tok := params.Tokens[i]

		// validity checks
		if op.Kind == expr.MemLoad && int(op.IntImm()) >= len(params.Inputs) {
			return nil, fmt.Errorf("reference to undefined clip: %s", tok)
		}
		if op.Kind == expr.Dup || op.Kind == expr.Swap {
			if int(op.Imm) >= len(stack) {
				return nil, fmt.Errorf("insufficient values on stack: %s", tok)
			}
		}
		if len(stack) < op.Kind.NumOperands() {
			return nil, fmt.Errorf("insufficient values on stack: %s", tok)
		}

		pop := func() *value {
			v := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			return v
		}
		push := func(v *value) {
			stack = append(stack, v)
		}

		switch op.Kind {
		case expr.Dup:
			push(stack[len(stack)-1-int(op.Imm)])

		case expr.Swap:
			n := len(stack)
			stack[n-1], stack[n-1-int(op.Imm)] = stack[n-1-int(op.Imm)], stack[n-1]

		case expr.MemLoad:
			clip := op.IntImm()
			f := params.Inputs[clip]
			if f.Float {
				push(p.ssa(sloadf32, uint32(clip)))
				break
			}
			var v *value
			if f.Bytes == 1 {
				v = p.ssa(sloadu8, uint32(clip))
			} else {
				v = p.ssa(sloadu16, uint32(clip))
			}
			if forceFloat {
				v = p.ensureFloat(v)
			}
			push(v)

		case expr.Constant:
			f := op.FloatImm()
			if d := float64(f); d >= math.MinInt32 && d <= math.MaxInt32 && float32(int32(d)) == f {
				push(p.iconst(int32(d)))
			} else {
				push(p.fconst(f))
			}

		case expr.LoadConst:
			switch op.IntImm() {
			case expr.ConstN:
				push(p.ssa(sframen, 0))
			case expr.ConstX:
				push(p.ssa(sxvec, 0))
			case expr.ConstY:
				push(p.ssa(syvec, 0))
			default:
				push(p.ssa(sprop, uint32(op.IntImm()-expr.ConstLast)))
			}

		case expr.Add:
			r, l := pop(), pop()
			push(p.binary(saddi, saddf, l, r, forceFloat))
		case expr.Sub:
			r, l := pop(), pop()
			push(p.binary(ssubi, ssubf, l, r, forceFloat))
		case expr.Mul:
			r, l := pop(), pop()
			push(p.binary(smuli, smulf, l, r, forceFloat))
		case expr.Div:
			r, l := pop(), pop()
			push(p.ssa(sdivf, 0, p.ensureFloat(l), p.ensureFloat(r)))
		case expr.Mod:
			r, l := pop(), pop()
			push(p.ssa(smodf, 0, p.ensureFloat(l), p.ensureFloat(r)))

		case expr.Sqrt:
			x := pop()
			// sqrt(max(x, 0)): negative inputs store zero
			v := p.ssa(smaxf, 0, p.ensureFloat(x), p.fconst(0))
			push(p.ssa(ssqrtf, 0, v))

		case expr.Abs:
			x := pop()
			if x.rtype() == stFloatV || forceFloat {
				push(p.ssa(sabsf, 0, p.ensureFloat(x)))
			} else {
				push(p.ssa(sabsi, 0, x))
			}
		case expr.Max:
			r, l := pop(), pop()
			push(p.binary(smaxi, smaxf, l, r, forceFloat))
		case expr.Min:
			r, l := pop(), pop()
			push(p.binary(smini, sminf, l, r, forceFloat))

		case expr.Cmp:
			r, l := pop(), pop()
			var mask *value
			if l.rtype() == stFloatV || r.rtype() == stFloatV {
				mask = p.ssa(scmpf, op.Imm, p.ensureFloat(l), p.ensureFloat(r))
			} else {
				mask = p.ssa(scmpi, op.Imm, l, r)
			}
			push(p.ssa(sandi, 0, mask, p.iconst(1)))

		case expr.And, expr.Or, expr.Xor:
			r, l := pop(), pop()
			lm := p.condition(l)
			rm := p.condition(r)
			var combined *value
			switch op.Kind {
			case expr.And:
				combined = p.ssa(sandi, 0, lm, rm)
			case expr.Or:
				combined = p.ssa(sori, 0, lm, rm)
			default:
				combined = p.ssa(sxori, 0, lm, rm)
			}
			push(p.ssa(sandi, 0, combined, p.iconst(1)))

		case expr.Not:
			x := pop()
			var mask *value
			if x.rtype() == stFloatV {
				mask = p.ssa(sle0f, 0, x)
			} else {
				mask = p.ssa(sle0i, 0, x)
			}
			push(p.ssa(sandi, 0, mask, p.iconst(1)))

		case expr.Trunc:
			push(p.ssa(struncf, 0, p.ensureFloat(pop())))
		case expr.Round:
			push(p.ssa(sroundf, 0, p.ensureFloat(pop())))
		case expr.Floor:
			push(p.ssa(sfloorf, 0, p.ensureFloat(pop())))

		case expr.Exp:
			push(p.ssa(sexpf, 0, p.ensureFloat(pop())))
		case expr.Log:
			push(p.ssa(slogf, 0, p.ensureFloat(pop())))
		case expr.Sin:
			push(p.ssa(ssinf, 0, p.ensureFloat(pop())))
		case expr.Cos:
			push(p.ssa(scosf, 0, p.ensureFloat(pop())))

		case expr.Pow:
			r, l := pop(), pop()
			if r.op == sconsti {
				// integer-power expansion for constant
				// integer exponents
				push(p.ssa(spowi, r.imm, p.ensureFloat(l)))
			} else {
				push(p.ssa(spowf, 0, p.ensureFloat(l), p.ensureFloat(r)))
			}

		case expr.Ternary:
			f, t, c := pop(), pop(), pop()
			mask := p.condition(c)
			if t.rtype() == stFloatV || f.rtype() == stFloatV {
				tf := p.ssa(scastfi, 0, p.ensureFloat(t))
				ff := p.ssa(scastfi, 0, p.ensureFloat(f))
				bits := p.ssa(sori, 0,
					p.ssa(sandi, 0, tf, mask),
					p.ssa(sandni, 0, mask, ff))
				push(p.ssa(scastif, 0, bits))
			} else {
				push(p.ssa(sori, 0,
					p.ssa(sandi, 0, t, mask),
					p.ssa(sandni, 0, mask, f)))
			}

		default:
			return nil, fmt.Errorf("unhandled opcode %s", op.Kind)
		}
	}

	if len(stack) == 0 {
		return nil, fmt.Errorf("empty expression: %s", params.Expr)
	}
	if len(stack) > 1 {
		return nil, fmt.Errorf("unconsumed values on stack: %s", params.Expr)
	}

	res := stack[0]
	if params.Output.Float {
		res = p.ensureFloat(res)
	}
	p.ret = res
	return p, nil
}
