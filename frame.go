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
	"fmt"

	"github.com/SnellerInc/lexpr/ints"
)

// frameAlignment is the guaranteed alignment of plane
// buffers and strides; the generated loads and stores rely
// on it.
const frameAlignment = 32

// Frame holds the plane buffers of one video frame plus its
// attached properties. Planes are stored row-major with a
// byte stride that is a multiple of frameAlignment.
type Frame struct {
	Format Format
	Width  int
	Height int

	Planes  [][]byte
	Strides []int32

	// Props are the frame properties; int and float values
	// are visible to expressions via the <clip>.<name>
	// syntax.
	Props map[string]any
}

// NewFrame allocates a zeroed frame with aligned strides.
func NewFrame(f Format, width, height int) *Frame {
	fr := &Frame{
		Format:  f,
		Width:   width,
		Height:  height,
		Planes:  make([][]byte, f.NumPlanes),
		Strides: make([]int32, f.NumPlanes),
	}
	for p := 0; p < f.NumPlanes; p++ {
		w, h := width, height
		if p > 0 {
			w >>= f.SubSamplingW
			h >>= f.SubSamplingH
		}
		stride := ints.AlignUp(w*f.BytesPerSample(), frameAlignment)
		fr.Planes[p] = make([]byte, stride*h)
		fr.Strides[p] = int32(stride)
	}
	return fr
}

// planeDims returns the dimensions of plane p.
func (fr *Frame) planeDims(p int) (w, h int) {
	w, h = fr.Width, fr.Height
	if p > 0 {
		w >>= fr.Format.SubSamplingW
		h >>= fr.Format.SubSamplingH
	}
	return w, h
}

// Clip is a source of frames with constant metadata. The
// filter requests input frames through this interface; the
// host decides how they are produced.
type Clip interface {
	Info() VideoInfo
	Frame(n int) (*Frame, error)
}

// MemClip is an in-memory Clip, mostly useful for tests and
// the command-line driver.
type MemClip struct {
	info   VideoInfo
	frames []*Frame
}

// NewMemClip builds a clip from pre-rendered frames, which
// must all match the given info.
func NewMemClip(info VideoInfo, frames ...*Frame) *MemClip {
	return &MemClip{info: info, frames: frames}
}

func (c *MemClip) Info() VideoInfo { return c.info }

func (c *MemClip) Frame(n int) (*Frame, error) {
	if n < 0 || n >= len(c.frames) {
		return nil, fmt.Errorf("frame %d out of range", n)
	}
	return c.frames[n], nil
}

// Append adds a frame to the clip.
func (c *MemClip) Append(fr *Frame) {
	c.frames = append(c.frames, fr)
	c.info.NumFrames = len(c.frames)
}
