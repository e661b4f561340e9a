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
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/SnellerInc/lexpr/expr"
)

// Routine is a compiled plane expression. Routines are
// immutable after Compile and may be shared: identical
// compilations (same expression, formats, flags and config)
// return the same refcounted Routine.
type Routine struct {
	id     uuid.UUID
	digest [blake2b.Size256]byte

	segs     [3][]bcinst
	nregs    int
	retReg   uint16
	retFloat bool

	out    PixelFormat
	props  []expr.PropAccess
	unroll int

	refs int32
}

// ID is the unique identity of this routine instance, used
// in diagnostics.
func (r *Routine) ID() uuid.UUID { return r.id }

// Props lists the frame properties the caller must gather
// into the scalar-constants buffer, in slot order (slot 0
// is always the frame number; Props()[i] fills slot 1+i).
func (r *Routine) Props() []expr.PropAccess { return r.props }

// Entry returns the callable entry point.
func (r *Routine) Entry() Proc { return r.run }

// Ref acquires an additional reference; see Drop.
func (r *Routine) Ref() *Routine {
	atomic.AddInt32(&r.refs, 1)
	return r
}

// Drop releases one reference; the routine is removed from
// the shared registry when the last reference goes away.
func (r *Routine) Drop() {
	if atomic.AddInt32(&r.refs, -1) != 0 {
		return
	}
	registry.Lock()
	if registry.m[r.digest] == r && atomic.LoadInt32(&r.refs) == 0 {
		delete(registry.m, r.digest)
	}
	registry.Unlock()
}

func (r *Routine) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "routine %s (%d regs, unroll %d)\n", r.id, r.nregs, r.unroll)
	names := [3]string{"frame", "row", "step"}
	for i := range r.segs {
		if len(r.segs[i]) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "%s:\n", names[i])
		for j := range r.segs[i] {
			fmt.Fprintf(&sb, "  %s\n", r.segs[i][j].String())
		}
	}
	fmt.Fprintf(&sb, "ret r%d\n", r.retReg)
	return sb.String()
}

var registry struct {
	sync.Mutex
	m map[[blake2b.Size256]byte]*Routine
}

func init() {
	registry.m = make(map[[blake2b.Size256]byte]*Routine)
}

// contentDigest keys the routine registry on everything
// that affects the compiled form.
func contentDigest(params *Params, cfg *Config) [blake2b.Size256]byte {
	h, _ := blake2b.New256(nil)
	var tmp [4]byte
	put := func(v uint32) {
		binary.LittleEndian.PutUint32(tmp[:], v)
		h.Write(tmp[:])
	}
	h.Write([]byte(params.Expr))
	put(uint32(params.Flags))
	putFormat := func(f PixelFormat) {
		v := uint32(f.Bits)<<8 | uint32(f.Bytes)
		if f.Float {
			v |= 1 << 16
		}
		put(v)
	}
	for i := range params.Inputs {
		putFormat(params.Inputs[i])
	}
	putFormat(params.Output)
	put(uint32(cfg.Level))
	if cfg.FastMath {
		put(1)
	} else {
		put(0)
	}
	for _, pass := range cfg.Passes {
		put(uint32(pass))
	}
	put(uint32(cfg.Unroll))
	var out [blake2b.Size256]byte
	h.Sum(out[:0])
	return out
}

// Compile builds (or reuses) the routine for one plane
// expression. params.Ops must already be deduplicated with
// expr.DedupProps; cfg may be nil for DefaultConfig.
func Compile(params *Params, cfg *Config) (*Routine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Unroll < 1 {
		cfg.Unroll = 1
	}
	digest := contentDigest(params, cfg)

	registry.Lock()
	if r, ok := registry.m[digest]; ok {
		registry.Unlock()
		return r.Ref(), nil
	}
	registry.Unlock()

	p, err := buildProgram(params)
	if err != nil {
		return nil, err
	}
	licm := p.optimize(cfg)
	segs, nregs, retReg := p.emit(licm)

	r := &Routine{
		id:       uuid.New(),
		digest:   digest,
		segs:     segs,
		nregs:    nregs,
		retReg:   retReg,
		retFloat: p.ret.rtype() == stFloatV,
		out:      params.Output,
		props:    append([]expr.PropAccess(nil), params.Props...),
		unroll:   cfg.Unroll,
		refs:     1,
	}

	registry.Lock()
	if prev, ok := registry.m[digest]; ok {
		// lost the compile race
		registry.Unlock()
		return prev.Ref(), nil
	}
	registry.m[digest] = r
	registry.Unlock()
	errorf("compiled %s", r.id)
	return r, nil
}
