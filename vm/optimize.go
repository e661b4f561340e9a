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
	"math"
)

// OptLevel is the coarse optimization level of the
// finalizer.
type OptLevel uint8

const (
	// LevelNone disables the pass pipeline.
	LevelNone OptLevel = iota
	// LevelAggressive runs the configured passes.
	LevelAggressive
)

// Pass names one optimization pass of the finalizer
// pipeline. Passes that have no structural meaning on a
// straight-line register program (SROA, CFGSimplify,
// Inline) are accepted and do nothing; they exist so the
// default pipeline reads the same as the reference
// configuration.
type Pass uint8

const (
	PassSROA Pass = iota
	PassInstCombine
	PassReassociate
	PassSCCP
	PassGVN
	PassLICM
	PassCFGSimplify
	PassEarlyCSE
	PassInline
)

var passNames = [...]string{
	PassSROA:        "sroa",
	PassInstCombine: "instcombine",
	PassReassociate: "reassociate",
	PassSCCP:        "sccp",
	PassGVN:         "gvn",
	PassLICM:        "licm",
	PassCFGSimplify: "simplifycfg",
	PassEarlyCSE:    "early-cse",
	PassInline:      "inline",
}

func (p Pass) String() string {
	if int(p) < len(passNames) {
		return passNames[p]
	}
	return "invalid"
}

// Config is the module-level tuning of the finalizer,
// mirroring the coarse JIT knobs: optimization level,
// fast-math, the pass pipeline, and the loop unroll
// factor.
type Config struct {
	Level    OptLevel
	FastMath bool
	Passes   []Pass
	// Unroll is the number of 8-lane steps per inner-loop
	// iteration; plane widths must be a multiple of
	// 8*Unroll. See Tune.
	Unroll int
}

// DefaultConfig is the fixed reference pipeline:
// aggressive, fast-math, unroll 1.
func DefaultConfig() *Config {
	return &Config{
		Level:    LevelAggressive,
		FastMath: true,
		Passes: []Pass{
			PassSROA,
			PassInstCombine,
			PassReassociate,
			PassSCCP,
			PassGVN,
			PassLICM,
			PassCFGSimplify,
			PassEarlyCSE,
			PassCFGSimplify,
			PassInline,
		},
		Unroll: 1,
	}
}

// optimize runs the configured pipeline over p and reports
// whether loop-invariant hoisting was enabled.
func (p *prog) optimize(cfg *Config) (licm bool) {
	if cfg.Level == LevelNone {
		return false
	}
	for _, pass := range cfg.Passes {
		switch pass {
		case PassSCCP:
			p.sccp()
		case PassInstCombine:
			p.instcombine(cfg.FastMath)
		case PassReassociate:
			p.reassociate()
		case PassGVN, PassEarlyCSE:
			p.gvn()
		case PassLICM:
			licm = true
		case PassSROA, PassCFGSimplify, PassInline:
			// no structural effect on a straight-line
			// register program
		}
	}
	return licm
}

// rewrite replaces argument and return references through
// the replacement map, chasing chains.
func (p *prog) rewrite(repl map[*value]*value) {
	if len(repl) == 0 {
		return
	}
	chase := func(v *value) *value {
		for {
			n, ok := repl[v]
			if !ok {
				return v
			}
			v = n
		}
	}
	for _, v := range p.values {
		for i := range v.args {
			v.args[i] = chase(v.args[i])
		}
	}
	p.ret = chase(p.ret)
}

// sccp performs lane-uniform constant folding: any
// arithmetic op whose operands are all constant splats is
// rewritten into a constant splat itself. Transcendental
// calls are left alone (hoisting moves them to the frame
// segment when their arguments are constant).
func (p *prog) sccp() {
	for _, v := range p.values {
		if len(v.args) == 0 {
			continue
		}
		allconst := true
		for i := range v.args {
			if !v.args[i].isConst() {
				allconst = false
				break
			}
		}
		if !allconst {
			continue
		}
		if bits, typ, ok := foldConst(v); ok {
			if typ == stIntV {
				v.op = sconsti
			} else {
				v.op = sconstf
			}
			v.imm = bits
			v.args = nil
		}
	}
}

// foldConst evaluates v over the lane-0 scalars of its
// constant arguments using the same scalar kernels as the
// executor, so folding is bit-identical to running.
func foldConst(v *value) (bits uint32, typ ssatype, ok bool) {
	argbits := func(i int) uint32 { return v.args[i].imm }
	i32 := func(i int) int32 { return int32(argbits(i)) }
	f32 := func(i int) float32 { return math.Float32frombits(argbits(i)) }
	reti := func(x int32) (uint32, ssatype, bool) { return uint32(x), stIntV, true }
	retf := func(x float32) (uint32, ssatype, bool) { return math.Float32bits(x), stFloatV, true }
	retm := func(m bool) (uint32, ssatype, bool) {
		if m {
			return 0xFFFFFFFF, stIntV, true
		}
		return 0, stIntV, true
	}
	switch v.op {
	case scvtif:
		return retf(float32(i32(0)))
	case scastfi:
		return argbits(0), stIntV, true
	case scastif:
		return argbits(0), stFloatV, true
	case saddi:
		return reti(i32(0) + i32(1))
	case ssubi:
		return reti(i32(0) - i32(1))
	case smuli:
		return reti(i32(0) * i32(1))
	case sabsi:
		return reti(absi32(i32(0)))
	case smaxi:
		return reti(maxi32(i32(0), i32(1)))
	case smini:
		return reti(mini32(i32(0), i32(1)))
	case saddf:
		return retf(f32(0) + f32(1))
	case ssubf:
		return retf(f32(0) - f32(1))
	case smulf:
		return retf(f32(0) * f32(1))
	case sdivf:
		return retf(f32(0) / f32(1))
	case smodf:
		return retf(modf32(f32(0), f32(1)))
	case ssqrtf:
		return retf(sqrtf32(f32(0)))
	case sabsf:
		return retf(absf32(f32(0)))
	case smaxf:
		return retf(maxf32(f32(0), f32(1)))
	case sminf:
		return retf(minf32(f32(0), f32(1)))
	case struncf:
		return retf(float32(math.Trunc(float64(f32(0)))))
	case sroundf:
		return retf(float32(math.RoundToEven(float64(f32(0)))))
	case sfloorf:
		return retf(float32(math.Floor(float64(f32(0)))))
	case scmpi:
		return retm(cmpi32(v.imm, i32(0), i32(1)))
	case scmpf:
		return retm(cmpf32(v.imm, f32(0), f32(1)))
	case sgt0i:
		return retm(i32(0) > 0)
	case sgt0f:
		return retm(f32(0) > 0)
	case sle0i:
		return retm(i32(0) <= 0)
	case sle0f:
		return retm(f32(0) <= 0)
	case sandi:
		return reti(i32(0) & i32(1))
	case sori:
		return reti(i32(0) | i32(1))
	case sxori:
		return reti(i32(0) ^ i32(1))
	case sandni:
		return reti(^i32(0) & i32(1))
	case spowi:
		return retf(powint32(f32(0), int32(v.imm)))
	}
	return 0, 0, false
}

// instcombine applies algebraic identities. Integer
// identities are always safe; float identities (x+0, x*1)
// only fire under fast-math since they are not exact for
// signed zeros.
func (p *prog) instcombine(fastMath bool) {
	repl := make(map[*value]*value)
	isIConst := func(v *value, k int32) bool { return v.op == sconsti && int32(v.imm) == k }
	isFConst := func(v *value, f float32) bool {
		return v.op == sconstf && math.Float32frombits(v.imm) == f
	}
	for _, v := range p.values {
		switch v.op {
		case saddi:
			if isIConst(v.args[1], 0) {
				repl[v] = v.args[0]
			} else if isIConst(v.args[0], 0) {
				repl[v] = v.args[1]
			}
		case ssubi:
			if isIConst(v.args[1], 0) {
				repl[v] = v.args[0]
			}
		case smuli:
			if isIConst(v.args[1], 1) {
				repl[v] = v.args[0]
			} else if isIConst(v.args[0], 1) {
				repl[v] = v.args[1]
			}
		case saddf:
			if fastMath && isFConst(v.args[1], 0) {
				repl[v] = v.args[0]
			} else if fastMath && isFConst(v.args[0], 0) {
				repl[v] = v.args[1]
			}
		case ssubf:
			if fastMath && isFConst(v.args[1], 0) {
				repl[v] = v.args[0]
			}
		case smulf:
			if fastMath && isFConst(v.args[1], 1) {
				repl[v] = v.args[0]
			} else if fastMath && isFConst(v.args[0], 1) {
				repl[v] = v.args[1]
			}
		case sandi:
			if isIConst(v.args[1], -1) {
				repl[v] = v.args[0]
			} else if isIConst(v.args[0], -1) {
				repl[v] = v.args[1]
			}
		case sori:
			if isIConst(v.args[1], 0) {
				repl[v] = v.args[0]
			} else if isIConst(v.args[0], 0) {
				repl[v] = v.args[1]
			}
		case scvtif:
			if v.args[0].op == sconsti {
				v.op = sconstf
				v.imm = math.Float32bits(float32(int32(v.args[0].imm)))
				v.args = nil
			}
		case scastif:
			if v.args[0].op == scastfi {
				repl[v] = v.args[0].args[0]
			}
		case scastfi:
			if v.args[0].op == scastif {
				repl[v] = v.args[0].args[0]
			}
		}
	}
	p.rewrite(repl)
}

// reassociate canonicalizes commutative ops so that a
// constant operand sits on the right and operands are in
// creation order; this makes GVN see more duplicates.
func (p *prog) reassociate() {
	for _, v := range p.values {
		switch v.op {
		// float min/max are not commutative in unordered
		// lanes (the second operand wins), so they keep
		// their argument order
		case saddi, smuli, saddf, smulf, sandi, sori, sxori, smaxi, smini:
		case scmpi, scmpf:
			ct := v.imm
			if ct != 0 && ct != 4 { // only EQ/NEQ are symmetric
				continue
			}
		default:
			continue
		}
		a, b := v.args[0], v.args[1]
		if (a.isConst() && !b.isConst()) || (!b.isConst() && !a.isConst() && a.id > b.id) {
			v.args[0], v.args[1] = b, a
		}
	}
}

// gvn re-runs hash-consing over the whole program,
// deduplicating values that became structurally identical
// after folding and canonicalization.
func (p *prog) gvn() {
	seen := make(map[hashcode]*value, len(p.values))
	repl := make(map[*value]*value)
	chase := func(v *value) *value {
		for {
			n, ok := repl[v]
			if !ok {
				return v
			}
			v = n
		}
	}
	for _, v := range p.values {
		for i := range v.args {
			v.args[i] = chase(v.args[i])
		}
		h := hashkey(v.op, v.imm, v.args)
		if prev, ok := seen[h]; ok && sameValue(prev, v.op, v.imm, v.args) {
			repl[v] = prev
			continue
		}
		seen[h] = v
	}
	p.ret = chase(p.ret)
	p.exprs = seen
}

