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
	"testing"
)

func TestExpKernel(t *testing.T) {
	if got := expf32(0); got != 1 {
		t.Errorf("exp(0): got %g; wanted 1", got)
	}
	for x := -80.0; x <= 80.0; x += 0.137 {
		got := float64(expf32(float32(x)))
		want := math.Exp(float64(float32(x)))
		rel := math.Abs(got-want) / want
		if rel > 1e-6 {
			t.Errorf("exp(%g): got %g; wanted %g (rel %g)", x, got, want, rel)
		}
	}
	// clamped range: huge inputs saturate instead of
	// producing inf
	if got := expf32(1000); math.IsInf(float64(got), 1) {
		t.Errorf("exp(1000) overflowed to inf")
	}
	if got := expf32(-1000); got < 0 {
		t.Errorf("exp(-1000): got %g", got)
	}
}

func TestLogKernel(t *testing.T) {
	if got := logf32(1); got != 0 {
		t.Errorf("log(1): got %g; wanted 0", got)
	}
	for x := 1e-30; x < 1e30; x *= 2.7 {
		got := float64(logf32(float32(x)))
		want := math.Log(x)
		err := math.Abs(got - want)
		if want != 0 {
			err = err / math.Abs(want)
		}
		if err > 1e-6 {
			t.Errorf("log(%g): got %g; wanted %g", x, got, want)
		}
	}
	if got := logf32(0); !math.IsInf(float64(got), -1) {
		t.Errorf("log(0): got %g; wanted -inf", got)
	}
	if got := logf32(float32(math.Copysign(0, -1))); !math.IsInf(float64(got), -1) {
		t.Errorf("log(-0): got %g; wanted -inf", got)
	}
	if got := logf32(-1); !math.IsNaN(float64(got)) {
		t.Errorf("log(-1): got %g; wanted NaN", got)
	}
	if bits := math.Float32bits(logf32(-1)); bits != 0xFFFFFFFF {
		t.Errorf("log(-1): got bits %#x; wanted all-ones", bits)
	}
}

func TestSinCosKernel(t *testing.T) {
	if got := sincosf32(0, false); got != 1 {
		t.Errorf("cos(0): got %g; wanted exactly 1", got)
	}
	if got := sincosf32(0, true); got != 0 {
		t.Errorf("sin(0): got %g; wanted 0", got)
	}
	if got := sincosf32(math.Pi/2, true); math.Abs(float64(got)-1) > 1e-6 {
		t.Errorf("sin(pi/2): got %g; wanted 1", got)
	}
	for x := -25.0; x <= 25.0; x += 0.0917 {
		gotSin := float64(sincosf32(float32(x), true))
		gotCos := float64(sincosf32(float32(x), false))
		if err := math.Abs(gotSin - math.Sin(x)); err > 2e-6 {
			t.Errorf("sin(%g): got %g; wanted %g", x, gotSin, math.Sin(x))
		}
		if err := math.Abs(gotCos - math.Cos(x)); err > 2e-6 {
			t.Errorf("cos(%g): got %g; wanted %g", x, gotCos, math.Cos(x))
		}
	}
}

func TestPowKernels(t *testing.T) {
	if got := powint32(2, 10); got != 1024 {
		t.Errorf("pow(2,10): got %g; wanted 1024", got)
	}
	if got := powint32(2, 0); got != 1 {
		t.Errorf("pow(2,0): got %g; wanted 1", got)
	}
	if got := powint32(2, -2); got != 0.25 {
		t.Errorf("pow(2,-2): got %g; wanted 0.25", got)
	}
	if got := powint32(-3, 3); got != -27 {
		t.Errorf("pow(-3,3): got %g; wanted -27", got)
	}
	for _, c := range []struct{ x, y float64 }{
		{2, 0.5}, {10, 2}, {0.5, 3}, {255, 0.45}, {3, -1.5},
	} {
		got := float64(powf32(float32(c.x), float32(c.y)))
		want := math.Pow(c.x, c.y)
		rel := math.Abs(got-want) / want
		if rel > 1e-4 {
			t.Errorf("pow(%g,%g): got %g; wanted %g", c.x, c.y, got, want)
		}
	}
}

func TestRoundI32(t *testing.T) {
	cases := []struct {
		in   float32
		want int32
	}{
		{0, 0},
		{0.5, 0},
		{1.5, 2},
		{2.5, 2},
		{-0.5, 0},
		{-1.5, -2},
		{100.49, 100},
		{1e10, math.MinInt32},
		{-1e10, math.MinInt32},
		{float32(math.NaN()), math.MinInt32},
	}
	for i := range cases {
		if got := roundi32(cases[i].in); got != cases[i].want {
			t.Errorf("roundi32(%g): got %d; wanted %d", cases[i].in, got, cases[i].want)
		}
	}
}
