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

package compr

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	for _, name := range []string{"zstd", "s2"} {
		t.Run(name, func(t *testing.T) {
			src := make([]byte, 64*1024)
			rnd := rand.New(rand.NewSource(0))
			for i := range src {
				// compressible ramp with noise
				src[i] = byte(i/256) + byte(rnd.Intn(4))
			}
			c := Compression(name)
			if c == nil {
				t.Fatalf("no compressor %q", name)
			}
			comp := c.Compress(src, nil)
			d, err := Decompression(name)
			if err != nil {
				t.Fatal(err)
			}
			out, err := d.Decompress(comp, nil)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(out, src) {
				t.Errorf("%s: round trip mismatch", name)
			}
		})
	}
	if _, err := Decompression("lz77"); err == nil {
		t.Error("expected error for unknown compression")
	}
}
