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
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

func gray8() Format {
	return Format{Family: FamilyGray, SampleType: SampleInteger, BitsPerSample: 8, NumPlanes: 1}
}

func gray16() Format {
	return Format{Family: FamilyGray, SampleType: SampleInteger, BitsPerSample: 16, NumPlanes: 1}
}

func grayf() Format {
	return Format{Family: FamilyGray, SampleType: SampleFloat, BitsPerSample: 32, NumPlanes: 1}
}

func yuv8() Format {
	return Format{Family: FamilyYUV, SampleType: SampleInteger, BitsPerSample: 8, NumPlanes: 3, SubSamplingW: 1, SubSamplingH: 1}
}

// uniformClip renders nframes identical frames filled with
// a uniform sample value.
func uniformClip(f Format, w, h, nframes int, value float64) *MemClip {
	clip := NewMemClip(VideoInfo{Format: f, Width: w, Height: h})
	for n := 0; n < nframes; n++ {
		clip.Append(fillFrame(f, w, h, value))
	}
	return clip
}

func fillFrame(f Format, w, h int, value float64) *Frame {
	fr := NewFrame(f, w, h)
	for p := 0; p < f.NumPlanes; p++ {
		pw, ph := fr.planeDims(p)
		for y := 0; y < ph; y++ {
			for x := 0; x < pw; x++ {
				setSample(fr, p, x, y, value)
			}
		}
	}
	return fr
}

func setSample(fr *Frame, p, x, y int, value float64) {
	row := int(fr.Strides[p]) * y
	switch fr.Format.BytesPerSample() {
	case 1:
		fr.Planes[p][row+x] = byte(value)
	case 2:
		binary.LittleEndian.PutUint16(fr.Planes[p][row+2*x:], uint16(value))
	case 4:
		binary.LittleEndian.PutUint32(fr.Planes[p][row+4*x:], math.Float32bits(float32(value)))
	}
}

func getSample(fr *Frame, p, x, y int) float64 {
	row := int(fr.Strides[p]) * y
	switch fr.Format.BytesPerSample() {
	case 1:
		return float64(fr.Planes[p][row+x])
	case 2:
		return float64(binary.LittleEndian.Uint16(fr.Planes[p][row+2*x:]))
	default:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(fr.Planes[p][row+4*x:])))
	}
}

// expectUniform checks every sample of plane 0 within tol.
func expectUniform(t *testing.T, fr *Frame, want, tol float64) {
	t.Helper()
	w, h := fr.planeDims(0)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			got := getSample(fr, 0, x, y)
			if math.IsNaN(got) || math.Abs(got-want) > tol {
				t.Fatalf("sample (%d,%d): got %v; wanted %v", x, y, got, want)
			}
		}
	}
}

func oneFrame(t *testing.T, clips []Clip, exprs []string, opts ...Option) *Frame {
	t.Helper()
	f, err := New(clips, exprs, opts...)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	fr, err := f.Frame(0)
	if err != nil {
		t.Fatal(err)
	}
	return fr
}

func TestScenarioAddOne(t *testing.T) {
	clip := uniformClip(gray8(), 16, 16, 1, 100)
	fr := oneFrame(t, []Clip{clip}, []string{"x 1 +"})
	expectUniform(t, fr, 101, 0)
}

func TestScenarioSubtract(t *testing.T) {
	cx := uniformClip(gray8(), 16, 16, 1, 200)
	cy := uniformClip(gray8(), 16, 16, 1, 100)
	fr := oneFrame(t, []Clip{cx, cy}, []string{"x y -"})
	expectUniform(t, fr, 100, 0)
}

func TestScenarioDouble16(t *testing.T) {
	clip := uniformClip(gray16(), 16, 16, 1, 1000)
	fr := oneFrame(t, []Clip{clip}, []string{"x 2 *"})
	expectUniform(t, fr, 2000, 0)
}

func TestScenarioXParity(t *testing.T) {
	clip := uniformClip(gray8(), 64, 1, 1, 0)
	fr := oneFrame(t, []Clip{clip}, []string{"X 2 %"})
	for x := 0; x < 64; x++ {
		if got := getSample(fr, 0, x, 0); got != float64(x%2) {
			t.Errorf("pixel %d: got %v; wanted %d", x, got, x%2)
		}
	}
}

func TestScenarioLogExp(t *testing.T) {
	clip := uniformClip(grayf(), 16, 16, 1, 0.5)
	fr := oneFrame(t, []Clip{clip}, []string{"x log exp"})
	expectUniform(t, fr, 0.5, 1e-4)
}

func TestScenarioTernaryMax(t *testing.T) {
	cx := NewMemClip(VideoInfo{Format: gray8(), Width: 16, Height: 16})
	cy := NewMemClip(VideoInfo{Format: gray8(), Width: 16, Height: 16})
	fx := NewFrame(gray8(), 16, 16)
	fy := NewFrame(gray8(), 16, 16)
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			setSample(fx, 0, x, y, float64((x*31+y*17)%256))
			setSample(fy, 0, x, y, float64((x*13+y*41)%256))
		}
	}
	cx.Append(fx)
	cy.Append(fy)

	sel := oneFrame(t, []Clip{cx, cy}, []string{"x y > x y ?"})
	max := oneFrame(t, []Clip{cx, cy}, []string{"x y max"}, WithOpt(1))
	if !bytes.Equal(sel.Planes[0], max.Planes[0]) {
		t.Errorf("ternary select and max disagree")
	}
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			a, b := getSample(fx, 0, x, y), getSample(fy, 0, x, y)
			want := math.Max(a, b)
			if got := getSample(sel, 0, x, y); got != want {
				t.Errorf("(%d,%d): got %v; wanted %v", x, y, got, want)
			}
		}
	}
}

func TestRoundTrips(t *testing.T) {
	clip := NewMemClip(VideoInfo{Format: gray8(), Width: 16, Height: 16})
	fr := NewFrame(gray8(), 16, 16)
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			setSample(fr, 0, x, y, float64((x*7+y*29)%256))
		}
	}
	clip.Append(fr)

	ident := oneFrame(t, []Clip{clip}, []string{"x"})
	for _, src := range []string{"x 1 *", "x 0 +"} {
		got := oneFrame(t, []Clip{clip}, []string{src})
		if !bytes.Equal(got.Planes[0], ident.Planes[0]) {
			t.Errorf("%q differs from identity", src)
		}
	}
	zero := oneFrame(t, []Clip{clip}, []string{"x dup -"})
	expectUniform(t, zero, 0, 0)

	ones := uniformClip(gray8(), 16, 16, 1, 1)
	sel := oneFrame(t, []Clip{ones}, []string{"x 1 0 ?"})
	expectUniform(t, sel, 1, 0)
	sel = oneFrame(t, []Clip{ones}, []string{"x 0 1 ?"})
	expectUniform(t, sel, 0, 0)
}

func TestIdentityCopyMatchesProcessed(t *testing.T) {
	// expression "x" with a matching output format is
	// pixel-identical to the input
	clip := NewMemClip(VideoInfo{Format: gray16(), Width: 32, Height: 8})
	fr := NewFrame(gray16(), 32, 8)
	for y := 0; y < 8; y++ {
		for x := 0; x < 32; x++ {
			setSample(fr, 0, x, y, float64((x*523+y*881)%65536))
		}
	}
	clip.Append(fr)
	got := oneFrame(t, []Clip{clip}, []string{"x"})
	for y := 0; y < 8; y++ {
		for x := 0; x < 32; x++ {
			if getSample(got, 0, x, y) != getSample(fr, 0, x, y) {
				t.Fatalf("(%d,%d) differs", x, y)
			}
		}
	}
}

func TestBoundaryBehaviors(t *testing.T) {
	t.Run("saturate-high", func(t *testing.T) {
		clip := uniformClip(gray8(), 16, 1, 1, 70)
		fr := oneFrame(t, []Clip{clip}, []string{"256 x +"})
		expectUniform(t, fr, 255, 0)
	})
	t.Run("saturate-low", func(t *testing.T) {
		clip := uniformClip(gray8(), 16, 1, 1, 5)
		fr := oneFrame(t, []Clip{clip}, []string{"x 10 -"})
		expectUniform(t, fr, 0, 0)
	})
	t.Run("log-zero", func(t *testing.T) {
		clip := uniformClip(grayf(), 16, 1, 1, 0)
		fr := oneFrame(t, []Clip{clip}, []string{"0 log"})
		for x := 0; x < 16; x++ {
			if got := getSample(fr, 0, x, 0); !math.IsInf(got, -1) {
				t.Errorf("pixel %d: got %v; wanted -inf", x, got)
			}
		}
	})
	t.Run("sqrt-negative", func(t *testing.T) {
		clip := uniformClip(grayf(), 16, 1, 1, 0)
		fr := oneFrame(t, []Clip{clip}, []string{"-1 sqrt"})
		expectUniform(t, fr, 0, 0)
	})
	t.Run("sin-halfpi", func(t *testing.T) {
		clip := uniformClip(grayf(), 16, 1, 1, 0)
		fr := oneFrame(t, []Clip{clip}, []string{"pi 2 / sin"})
		expectUniform(t, fr, 1, 1e-6)
	})
	t.Run("cos-zero", func(t *testing.T) {
		clip := uniformClip(grayf(), 16, 1, 1, 0)
		fr := oneFrame(t, []Clip{clip}, []string{"0 cos"})
		expectUniform(t, fr, 1, 0)
	})
}

func TestCompileErrorMessages(t *testing.T) {
	one := []Clip{uniformClip(gray8(), 16, 16, 1, 0)}
	cases := []struct {
		exprs []string
		msg   string
	}{
		{[]string{"a +"}, "Expr: reference to undefined clip: a"},
		{[]string{"+"}, "Expr: insufficient values on stack: +"},
		{[]string{"x x"}, "Expr: unconsumed values on stack: x x"},
		{[]string{""}, ""}, // empty expression means copy, not error
		{[]string{"foo"}, "Expr: failed to convert 'foo' to float"},
		{[]string{"x dup3"}, "Expr: insufficient values on stack: dup3"},
	}
	for i := range cases {
		f, err := New(one, cases[i].exprs)
		if cases[i].msg == "" {
			if err != nil {
				t.Errorf("%v: unexpected error %v", cases[i].exprs, err)
			} else {
				f.Close()
			}
			continue
		}
		if err == nil {
			f.Close()
			t.Errorf("%v: expected error", cases[i].exprs)
			continue
		}
		if err.Error() != cases[i].msg {
			t.Errorf("%v: got %q; wanted %q", cases[i].exprs, err.Error(), cases[i].msg)
		}
	}
}

func TestWhitespaceExpressionIsEmpty(t *testing.T) {
	// an all-whitespace expression still compiles (and
	// fails) as an expression
	one := []Clip{uniformClip(gray8(), 16, 16, 1, 0)}
	_, err := New(one, []string{"   "})
	if err == nil || err.Error() != "Expr: empty expression:    " {
		t.Errorf("got %v", err)
	}
}

func TestConstructionErrors(t *testing.T) {
	g := gray8()
	base := uniformClip(g, 16, 16, 1, 0)

	t.Run("too-many-clips", func(t *testing.T) {
		clips := make([]Clip, 27)
		for i := range clips {
			clips[i] = base
		}
		_, err := New(clips, []string{"x"})
		if err == nil || err.Error() != "Expr: More than 26 input clips provided" {
			t.Errorf("got %v", err)
		}
	})
	t.Run("variable-format", func(t *testing.T) {
		variable := NewMemClip(VideoInfo{})
		_, err := New([]Clip{variable}, []string{"x"})
		if err == nil || err.Error() != "Expr: Only clips with constant format and dimensions allowed" {
			t.Errorf("got %v", err)
		}
	})
	t.Run("dimension-mismatch", func(t *testing.T) {
		other := uniformClip(g, 32, 16, 1, 0)
		_, err := New([]Clip{base, other}, []string{"x y +"})
		if err == nil || err.Error() != "Expr: All inputs must have the same number of planes and the same dimensions, subsampling included" {
			t.Errorf("got %v", err)
		}
	})
	t.Run("bad-bit-depth", func(t *testing.T) {
		f := g
		f.BitsPerSample = 17
		bad := uniformClip(f, 16, 16, 1, 0)
		_, err := New([]Clip{bad}, []string{"x"})
		if err == nil || err.Error() != "Expr: Input clips must be 8-16 bit integer or 32 bit float format" {
			t.Errorf("got %v", err)
		}
	})
	t.Run("half-float", func(t *testing.T) {
		f := Format{Family: FamilyGray, SampleType: SampleFloat, BitsPerSample: 16, NumPlanes: 1}
		bad := uniformClip(f, 16, 16, 1, 0)
		_, err := New([]Clip{bad}, []string{"x"})
		if err == nil || err.Error() != "Expr: Input clips must be 8-16 bit integer or 32 bit float format" {
			t.Errorf("got %v", err)
		}
	})
	t.Run("compat-family", func(t *testing.T) {
		f := g
		f.Family = FamilyCompat
		bad := uniformClip(f, 16, 16, 1, 0)
		_, err := New([]Clip{bad}, []string{"x"}, WithFormat(gray16()))
		if err == nil || err.Error() != "Expr: No compat formats allowed" {
			t.Errorf("got %v", err)
		}
	})
	t.Run("plane-count-mismatch", func(t *testing.T) {
		_, err := New([]Clip{base}, []string{"x"}, WithFormat(yuv8()))
		if err == nil || err.Error() != "Expr: The number of planes in the inputs and output must match" {
			t.Errorf("got %v", err)
		}
	})
	t.Run("too-many-expressions", func(t *testing.T) {
		_, err := New([]Clip{base}, []string{"x", "x"})
		if err == nil || err.Error() != "Expr: More expressions given than there are planes" {
			t.Errorf("got %v", err)
		}
	})
}

func TestPlaneCopyAndReuse(t *testing.T) {
	f := yuv8()
	clip := NewMemClip(VideoInfo{Format: f, Width: 16, Height: 16})
	fr := NewFrame(f, 16, 16)
	for p := 0; p < 3; p++ {
		pw, ph := fr.planeDims(p)
		for y := 0; y < ph; y++ {
			for x := 0; x < pw; x++ {
				setSample(fr, p, x, y, float64((p*50+x*3+y*5)%256))
			}
		}
	}
	clip.Append(fr)

	// plane 0 processed, planes 1 and 2 copied
	filt, err := New([]Clip{clip}, []string{"x 1 +", ""})
	if err != nil {
		t.Fatal(err)
	}
	defer filt.Close()
	got, err := filt.Frame(0)
	if err != nil {
		t.Fatal(err)
	}
	if s := getSample(got, 0, 3, 4); s != getSample(fr, 0, 3, 4)+1 {
		t.Errorf("plane 0 not processed: got %v", s)
	}
	for p := 1; p < 3; p++ {
		pw, ph := fr.planeDims(p)
		for y := 0; y < ph; y++ {
			for x := 0; x < pw; x++ {
				if getSample(got, p, x, y) != getSample(fr, p, x, y) {
					t.Fatalf("plane %d (%d,%d) not copied", p, x, y)
				}
			}
		}
	}

	// the last expression is reused for remaining planes
	filt2, err := New([]Clip{clip}, []string{"x", "x 1 +"})
	if err != nil {
		t.Fatal(err)
	}
	defer filt2.Close()
	got2, err := filt2.Frame(0)
	if err != nil {
		t.Fatal(err)
	}
	if s := getSample(got2, 2, 1, 1); s != getSample(fr, 2, 1, 1)+1 {
		t.Errorf("plane 2 did not reuse the last expression: got %v", s)
	}
}

func TestUndefinedPlane(t *testing.T) {
	// format override with an empty expression leaves the
	// plane undefined (zeroed here)
	f := yuv8()
	clip := uniformClip(f, 16, 16, 1, 100)
	filt, err := New([]Clip{clip}, []string{"x 2 *", ""}, WithFormat(Format{
		Family: FamilyYUV, SampleType: SampleInteger, BitsPerSample: 16,
		NumPlanes: 3, SubSamplingW: 1, SubSamplingH: 1,
	}))
	if err != nil {
		t.Fatal(err)
	}
	defer filt.Close()
	got, err := filt.Frame(0)
	if err != nil {
		t.Fatal(err)
	}
	if got.Format.BitsPerSample != 16 {
		t.Fatalf("output format not overridden")
	}
	if s := getSample(got, 0, 0, 0); s != 200 {
		t.Errorf("plane 0: got %v; wanted 200", s)
	}
	for p := 1; p < 3; p++ {
		if s := getSample(got, p, 0, 0); s != 0 {
			t.Errorf("plane %d: got %v; wanted undefined (zero)", p, s)
		}
	}
}

func TestFrameNumberAndProps(t *testing.T) {
	clip := NewMemClip(VideoInfo{Format: gray8(), Width: 16, Height: 1})
	for n := 0; n < 4; n++ {
		fr := fillFrame(gray8(), 16, 1, 10)
		fr.Props = map[string]any{"Gain": 2 + n}
		clip.Append(fr)
	}
	filt, err := New([]Clip{clip}, []string{"x x.Gain *"})
	if err != nil {
		t.Fatal(err)
	}
	defer filt.Close()
	for n := 0; n < 4; n++ {
		fr, err := filt.Frame(n)
		if err != nil {
			t.Fatal(err)
		}
		expectUniform(t, fr, float64(10*(2+n)), 0)
	}

	nf, err := New([]Clip{clip}, []string{"N"})
	if err != nil {
		t.Fatal(err)
	}
	defer nf.Close()
	for n := 0; n < 4; n++ {
		fr, err := nf.Frame(n)
		if err != nil {
			t.Fatal(err)
		}
		expectUniform(t, fr, float64(n), 0)
	}
}

func TestMissingPropReadsNaN(t *testing.T) {
	clip := NewMemClip(VideoInfo{Format: grayf(), Width: 16, Height: 1})
	fr := fillFrame(grayf(), 16, 1, 1)
	fr.Props = map[string]any{"Str": "not a number"}
	clip.Append(fr)

	for _, src := range []string{"x.Missing", "x.Str"} {
		filt, err := New([]Clip{clip}, []string{src})
		if err != nil {
			t.Fatal(err)
		}
		got, err := filt.Frame(0)
		filt.Close()
		if err != nil {
			t.Fatal(err)
		}
		for x := 0; x < 16; x++ {
			if s := getSample(got, 0, x, 0); !math.IsNaN(s) {
				t.Errorf("%q pixel %d: got %v; wanted NaN", src, x, s)
			}
		}
	}
}

func TestCloneSharesRoutines(t *testing.T) {
	clip := uniformClip(gray8(), 16, 16, 2, 50)
	f, err := New([]Clip{clip}, []string{"x 1 +"})
	if err != nil {
		t.Fatal(err)
	}
	c := f.Clone()
	f.Close()
	// the clone still works after the original is closed
	fr, err := c.Frame(1)
	if err != nil {
		t.Fatal(err)
	}
	expectUniform(t, fr, 51, 0)
	c.Close()
}

func TestOptFlagForceFloat(t *testing.T) {
	// with integer intermediates disabled the result is
	// identical for exactly representable math
	clip := uniformClip(gray8(), 16, 16, 1, 33)
	a := oneFrame(t, []Clip{clip}, []string{"x 2 * 7 +"}, WithOpt(1))
	b := oneFrame(t, []Clip{clip}, []string{"x 2 * 7 +"}, WithOpt(0))
	if !bytes.Equal(a.Planes[0], b.Planes[0]) {
		t.Errorf("opt=0 and opt=1 disagree on integer math")
	}
}
