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

// lexpr applies per-pixel expressions to raw planar video
// files described by a YAML job file.
//
// Usage:
//
//	lexpr -j job.yaml
//
// A job file looks like:
//
//	width: 640
//	height: 480
//	frames: 10
//	format: {sample: integer, bits: 8, planes: 1}
//	clips:
//	  - {path: in.raw, compression: zstd}
//	output: {path: out.raw}
//	expr: ["x 2 *"]
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"sigs.k8s.io/yaml"

	"github.com/SnellerInc/lexpr"
	"github.com/SnellerInc/lexpr/compr"
	"github.com/SnellerInc/lexpr/vm"
)

type fileSpec struct {
	Path string `json:"path"`
	// Compression is the whole-file compression
	// ("zstd", "s2", or empty for raw).
	Compression string `json:"compression,omitempty"`
	// Sample/Bits override the job format for this clip.
	Sample string `json:"sample,omitempty"`
	Bits   int    `json:"bits,omitempty"`
}

type formatSpec struct {
	Sample string `json:"sample"` // "integer" or "float"
	Bits   int    `json:"bits"`
	Planes int    `json:"planes,omitempty"`
	SubW   int    `json:"subsampling_w,omitempty"`
	SubH   int    `json:"subsampling_h,omitempty"`
}

type job struct {
	Width  int        `json:"width"`
	Height int        `json:"height"`
	Frames int        `json:"frames"`
	Opt    *int       `json:"opt,omitempty"`
	Format formatSpec `json:"format"`
	// OutFormat overrides sample type and bit depth of the
	// output format.
	OutFormat *formatSpec `json:"output_format,omitempty"`
	Clips     []fileSpec  `json:"clips"`
	Output    fileSpec    `json:"output"`
	Expr      []string    `json:"expr"`
}

var (
	jobfile = flag.String("j", "job.yaml", "job description file")
	verbose = flag.Bool("v", false, "verbose diagnostics")
)

func main() {
	flag.Parse()
	log.SetPrefix("lexpr: ")
	log.SetFlags(0)
	if *verbose {
		vm.Errorf = log.Printf
	}

	buf, err := os.ReadFile(*jobfile)
	if err != nil {
		log.Fatal(err)
	}
	var j job
	if err := yaml.Unmarshal(buf, &j); err != nil {
		log.Fatalf("%s: %v", *jobfile, err)
	}
	if err := run(&j); err != nil {
		log.Fatal(err)
	}
}

func (f *formatSpec) format() (lexpr.Format, error) {
	out := lexpr.Format{
		BitsPerSample: f.Bits,
		NumPlanes:     f.Planes,
		SubSamplingW:  f.SubW,
		SubSamplingH:  f.SubH,
	}
	if out.NumPlanes == 0 {
		out.NumPlanes = 1
	}
	switch f.Sample {
	case "integer", "":
		out.SampleType = lexpr.SampleInteger
	case "float":
		out.SampleType = lexpr.SampleFloat
	default:
		return out, fmt.Errorf("unknown sample type %q", f.Sample)
	}
	return out, nil
}

func readFile(spec *fileSpec) ([]byte, error) {
	buf, err := os.ReadFile(spec.Path)
	if err != nil {
		return nil, err
	}
	if spec.Compression == "" {
		return buf, nil
	}
	dec, err := compr.Decompression(spec.Compression)
	if err != nil {
		return nil, err
	}
	return dec.Decompress(buf, nil)
}

// frameBytes is the packed (tight-row) size of one frame.
func frameBytes(f *lexpr.Format, width, height int) int {
	size := 0
	for p := 0; p < f.NumPlanes; p++ {
		w, h := width, height
		if p > 0 {
			w >>= f.SubSamplingW
			h >>= f.SubSamplingH
		}
		size += w * h * f.BytesPerSample()
	}
	return size
}

// loadClip splits a packed planar file into frames with
// aligned strides.
func loadClip(spec *fileSpec, base lexpr.Format, width, height, frames int) (*lexpr.MemClip, error) {
	f := base
	if spec.Sample != "" || spec.Bits != 0 {
		fs := formatSpec{Sample: spec.Sample, Bits: spec.Bits, Planes: base.NumPlanes, SubW: base.SubSamplingW, SubH: base.SubSamplingH}
		if fs.Sample == "" {
			fs.Sample = "integer"
		}
		if fs.Bits == 0 {
			fs.Bits = base.BitsPerSample
		}
		var err error
		if f, err = fs.format(); err != nil {
			return nil, err
		}
	}
	buf, err := readFile(spec)
	if err != nil {
		return nil, err
	}
	need := frameBytes(&f, width, height) * frames
	if len(buf) < need {
		return nil, fmt.Errorf("%s: need %d bytes for %d frames, have %d", spec.Path, need, frames, len(buf))
	}
	clip := lexpr.NewMemClip(lexpr.VideoInfo{
		Format: f, Width: width, Height: height, NumFrames: frames,
	})
	off := 0
	for n := 0; n < frames; n++ {
		fr := lexpr.NewFrame(f, width, height)
		for p := 0; p < f.NumPlanes; p++ {
			w, h := width, height
			if p > 0 {
				w >>= f.SubSamplingW
				h >>= f.SubSamplingH
			}
			row := w * f.BytesPerSample()
			for y := 0; y < h; y++ {
				copy(fr.Planes[p][y*int(fr.Strides[p]):y*int(fr.Strides[p])+row], buf[off:off+row])
				off += row
			}
		}
		clip.Append(fr)
	}
	return clip, nil
}

// packFrame appends the tight-row planes of fr to dst.
func packFrame(dst []byte, fr *lexpr.Frame) []byte {
	f := &fr.Format
	for p := 0; p < f.NumPlanes; p++ {
		w, h := fr.Width, fr.Height
		if p > 0 {
			w >>= f.SubSamplingW
			h >>= f.SubSamplingH
		}
		row := w * f.BytesPerSample()
		for y := 0; y < h; y++ {
			dst = append(dst, fr.Planes[p][y*int(fr.Strides[p]):y*int(fr.Strides[p])+row]...)
		}
	}
	return dst
}

func run(j *job) error {
	if j.Width <= 0 || j.Height <= 0 || j.Frames <= 0 {
		return fmt.Errorf("width, height and frames must be positive")
	}
	cfg := vm.DefaultConfig().Tune(vm.DetectVectorLevel())
	if step := 8 * cfg.Unroll; j.Width%step != 0 {
		// the compiled routine processes whole lane groups
		cfg.Unroll = 1
		if j.Width%8 != 0 {
			return fmt.Errorf("width must be a multiple of 8, have %d", j.Width)
		}
	}
	base, err := j.Format.format()
	if err != nil {
		return err
	}

	clips := make([]lexpr.Clip, len(j.Clips))
	for i := range j.Clips {
		c, err := loadClip(&j.Clips[i], base, j.Width, j.Height, j.Frames)
		if err != nil {
			return err
		}
		clips[i] = c
	}

	opts := []lexpr.Option{
		lexpr.WithConfig(cfg),
	}
	if j.Opt != nil {
		opts = append(opts, lexpr.WithOpt(*j.Opt))
	}
	if j.OutFormat != nil {
		of, err := j.OutFormat.format()
		if err != nil {
			return err
		}
		opts = append(opts, lexpr.WithFormat(of))
	}

	filter, err := lexpr.New(clips, j.Expr, opts...)
	if err != nil {
		return err
	}
	defer filter.Close()

	var out []byte
	for n := 0; n < j.Frames; n++ {
		fr, err := filter.Frame(n)
		if err != nil {
			return err
		}
		out = packFrame(out, fr)
	}

	if j.Output.Compression != "" {
		c := compr.Compression(j.Output.Compression)
		if c == nil {
			return fmt.Errorf("unsupported compression %q", j.Output.Compression)
		}
		out = c.Compress(out, nil)
	}
	if err := os.WriteFile(j.Output.Path, out, 0644); err != nil {
		return err
	}
	if *verbose {
		log.Printf("wrote %d frames to %s", j.Frames, j.Output.Path)
	}
	return nil
}
