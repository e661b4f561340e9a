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

// Package lexpr is a per-pixel expression filter: each
// output plane is produced by a user-supplied postfix
// expression over up to 26 input clips, compiled once at
// construction into an 8-lane vector routine.
package lexpr

import (
	"github.com/SnellerInc/lexpr/vm"
)

// SampleType is the numeric representation of one sample.
type SampleType uint8

const (
	SampleInteger SampleType = iota
	SampleFloat
)

// ColorFamily groups plane layouts. FamilyCompat marks
// legacy packed formats, which the filter rejects.
type ColorFamily uint8

const (
	FamilyGray ColorFamily = iota
	FamilyYUV
	FamilyRGB
	FamilyCompat
)

// Format describes the pixel storage of a clip.
type Format struct {
	Family        ColorFamily
	SampleType    SampleType
	BitsPerSample int
	NumPlanes     int
	// chroma subsampling shifts; planes 1+ are
	// (width >> SubSamplingW) x (height >> SubSamplingH)
	SubSamplingW int
	SubSamplingH int
}

// BytesPerSample derives the storage width: 1 or 2 bytes
// for integer samples, 4 for float.
func (f *Format) BytesPerSample() int {
	if f.SampleType == SampleFloat {
		return 4
	}
	if f.BitsPerSample > 8 {
		return 2
	}
	return 1
}

func (f *Format) pixel() vm.PixelFormat {
	return vm.PixelFormat{
		Float: f.SampleType == SampleFloat,
		Bits:  f.BitsPerSample,
		Bytes: f.BytesPerSample(),
	}
}

// VideoInfo is the constant metadata of a clip. A zero
// Width, Height or BitsPerSample marks a variable-format
// clip, which the filter rejects.
type VideoInfo struct {
	Format    Format
	Width     int
	Height    int
	NumFrames int
}

func (vi *VideoInfo) constantFormat() bool {
	return vi.Width > 0 && vi.Height > 0 && vi.Format.BitsPerSample > 0
}
