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

package lexpr

import (
	"errors"
	"fmt"
	"math"

	"golang.org/x/exp/maps"

	"github.com/SnellerInc/lexpr/expr"
	"github.com/SnellerInc/lexpr/vm"
)

// maxInputs is the number of clip letters.
const maxInputs = 26

// maxPlanes matches the host video model.
const maxPlanes = 3

type planeOp uint8

const (
	poProcess planeOp = iota
	poCopy
	poUndefined
)

// Filter applies one compiled expression per output plane.
// Construction compiles everything; per-frame application
// cannot fail inside the expression machinery (IEEE
// sentinels flow through to the output clamp).
type Filter struct {
	clips []Clip
	vi    VideoInfo

	plane    [maxPlanes]planeOp
	routines [maxPlanes]*vm.Routine
	procs    [maxPlanes]vm.Proc

	closed bool
}

type options struct {
	format *Format
	opt    int
	config *vm.Config
}

// Option adjusts filter construction.
type Option func(*options)

// WithFormat overrides the output pixel format. Only the
// sample type and bit depth of the preset are honored; the
// plane count and subsampling must match the inputs.
func WithFormat(f Format) Option {
	return func(o *options) { o.format = &f }
}

// WithOpt sets the opt bitmask (bit 0 = use integer
// intermediates, default on).
func WithOpt(opt int) Option {
	return func(o *options) { o.opt = opt }
}

// WithConfig overrides the finalizer configuration.
func WithConfig(cfg *vm.Config) Option {
	return func(o *options) { o.config = cfg }
}

// New validates the inputs and compiles one routine per
// processed plane. On any failure no filter is installed
// and the returned error carries a single "Expr: "-prefixed
// message.
func New(clips []Clip, exprs []string, opts ...Option) (*Filter, error) {
	f, err := build(clips, exprs, opts...)
	if err != nil {
		return nil, fmt.Errorf("Expr: %w", err)
	}
	return f, nil
}

func build(clips []Clip, exprs []string, opts ...Option) (*Filter, error) {
	o := options{opt: 1}
	for _, fn := range opts {
		fn(&o)
	}

	numInputs := len(clips)
	if numInputs > maxInputs {
		return nil, errors.New("More than 26 input clips provided")
	}
	if numInputs == 0 {
		return nil, errors.New("At least one input clip is required")
	}

	vi := make([]VideoInfo, numInputs)
	for i := range clips {
		vi[i] = clips[i].Info()
	}
	for i := range vi {
		if !vi[i].constantFormat() {
			return nil, errors.New("Only clips with constant format and dimensions allowed")
		}
		if vi[0].Format.NumPlanes != vi[i].Format.NumPlanes ||
			vi[0].Format.SubSamplingW != vi[i].Format.SubSamplingW ||
			vi[0].Format.SubSamplingH != vi[i].Format.SubSamplingH ||
			vi[0].Width != vi[i].Width ||
			vi[0].Height != vi[i].Height {
			return nil, errors.New("All inputs must have the same number of planes and the same dimensions, subsampling included")
		}
		if (vi[i].Format.SampleType == SampleInteger && (vi[i].Format.BitsPerSample < 8 || vi[i].Format.BitsPerSample > 16)) ||
			(vi[i].Format.SampleType == SampleFloat && vi[i].Format.BitsPerSample != 32) {
			return nil, errors.New("Input clips must be 8-16 bit integer or 32 bit float format")
		}
	}

	f := &Filter{clips: append([]Clip(nil), clips...)}
	f.vi = vi[0]
	if o.format != nil {
		if f.vi.Format.Family == FamilyCompat {
			return nil, errors.New("No compat formats allowed")
		}
		if f.vi.Format.NumPlanes != o.format.NumPlanes {
			return nil, errors.New("The number of planes in the inputs and output must match")
		}
		f.vi.Format.SampleType = o.format.SampleType
		f.vi.Format.BitsPerSample = o.format.BitsPerSample
	}

	numPlanes := f.vi.Format.NumPlanes
	if numPlanes < 1 || numPlanes > maxPlanes {
		return nil, errors.New("Input clips must have 1-3 planes")
	}
	if len(exprs) > numPlanes {
		return nil, errors.New("More expressions given than there are planes")
	}
	if len(exprs) == 0 {
		return nil, errors.New("At least one expression is required")
	}
	var planeExpr [maxPlanes]string
	for i := 0; i < numPlanes; i++ {
		if i < len(exprs) {
			planeExpr[i] = exprs[i]
		} else {
			// reuse the last expression for the
			// remaining planes
			planeExpr[i] = exprs[len(exprs)-1]
		}
	}

	inputs := make([]vm.PixelFormat, numInputs)
	for i := range vi {
		inputs[i] = vi[i].Format.pixel()
	}

	for p := 0; p < numPlanes; p++ {
		if planeExpr[p] == "" {
			if f.vi.Format.BitsPerSample == vi[0].Format.BitsPerSample &&
				f.vi.Format.SampleType == vi[0].Format.SampleType {
				f.plane[p] = poCopy
			} else {
				f.plane[p] = poUndefined
			}
			continue
		}
		f.plane[p] = poProcess

		tokens, ops, err := expr.Parse(planeExpr[p])
		if err != nil {
			f.drop()
			return nil, err
		}
		props, err := expr.DedupProps(ops, tokens, numInputs)
		if err != nil {
			f.drop()
			return nil, err
		}
		r, err := vm.Compile(&vm.Params{
			Expr:   planeExpr[p],
			Tokens: tokens,
			Ops:    ops,
			Props:  props,
			Inputs: inputs,
			Output: f.vi.Format.pixel(),
			Flags:  o.opt,
		}, o.config)
		if err != nil {
			f.drop()
			return nil, err
		}
		f.routines[p] = r
		f.procs[p] = r.Entry()
	}
	return f, nil
}

// drop releases the routines compiled so far.
func (f *Filter) drop() {
	for p := range f.routines {
		if f.routines[p] != nil {
			f.routines[p].Drop()
			f.routines[p] = nil
			f.procs[p] = nil
		}
	}
}

// Info is the output video metadata.
func (f *Filter) Info() VideoInfo { return f.vi }

// propValue converts a frame property for the constants
// buffer; missing properties and properties that are
// neither int nor float read as a quiet NaN.
func propValue(fr *Frame, name string) float32 {
	switch v := fr.Props[name].(type) {
	case int:
		return float32(v)
	case int64:
		return float32(v)
	case float32:
		return v
	case float64:
		return float32(v)
	default:
		return float32(math.NaN())
	}
}

// Frame renders output frame n: processed planes run their
// compiled routine, copy planes are copied from clip 0, and
// undefined planes are left to the host.
func (f *Filter) Frame(n int) (*Frame, error) {
	src := make([]*Frame, len(f.clips))
	for i := range f.clips {
		fr, err := f.clips[i].Frame(n)
		if err != nil {
			return nil, err
		}
		src[i] = fr
	}

	dst := NewFrame(f.vi.Format, f.vi.Width, f.vi.Height)
	if src[0].Props != nil {
		dst.Props = maps.Clone(src[0].Props)
	}

	rwptrs := make([][]byte, len(f.clips)+1)
	strides := make([]int32, len(f.clips)+1)

	for p := 0; p < f.vi.Format.NumPlanes; p++ {
		switch f.plane[p] {
		case poCopy:
			w, h := dst.planeDims(p)
			row := w * f.vi.Format.BytesPerSample()
			for y := 0; y < h; y++ {
				copy(dst.Planes[p][y*int(dst.Strides[p]):y*int(dst.Strides[p])+row],
					src[0].Planes[p][y*int(src[0].Strides[p]):])
			}

		case poProcess:
			rwptrs[0] = dst.Planes[p]
			strides[0] = dst.Strides[p]
			for i := range src {
				rwptrs[i+1] = src[i].Planes[p]
				strides[i+1] = src[i].Strides[p]
			}

			props := f.routines[p].Props()
			consts := make([]float32, 1+len(props))
			consts[0] = math.Float32frombits(uint32(int32(n)))
			for i := range props {
				consts[1+i] = propValue(src[props[i].Clip], props[i].Name)
			}

			w, h := dst.planeDims(p)
			f.procs[p](rwptrs, strides, consts, int32(w), int32(h))
		}
	}
	return dst, nil
}

// Clone shares the compiled routines with a new filter
// instance; both must eventually be closed.
func (f *Filter) Clone() *Filter {
	c := &Filter{clips: append([]Clip(nil), f.clips...), vi: f.vi, plane: f.plane}
	for p := range f.routines {
		if f.routines[p] != nil {
			c.routines[p] = f.routines[p].Ref()
			c.procs[p] = c.routines[p].Entry()
		}
	}
	return c
}

// Close releases the compiled routines. The filter must not
// be used afterwards.
func (f *Filter) Close() {
	if f.closed {
		return
	}
	f.closed = true
	f.drop()
}
