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

// Package compr wraps the third-party compression used for
// raw frame files.
package compr

import (
	"fmt"
	"runtime"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
)

// Compressor compresses frame data blocks.
type Compressor interface {
	// Name is the name of the compression algorithm.
	Name() string
	// Compress appends the compressed contents of src to
	// dst and returns the result.
	Compress(src, dst []byte) []byte
}

// Decompressor decompresses frame data blocks.
type Decompressor interface {
	// Name is the name of the compression algorithm.
	Name() string
	// Decompress appends the decompressed contents of src
	// to dst and returns the result.
	Decompress(src, dst []byte) ([]byte, error)
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	e, err := zstd.NewWriter(nil)
	if err != nil {
		panic(err)
	}
	zstdEncoder = e
	d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(runtime.GOMAXPROCS(0)))
	if err != nil {
		panic(err)
	}
	zstdDecoder = d
}

type zstdCompression struct{}

func (zstdCompression) Name() string { return "zstd" }

func (zstdCompression) Compress(src, dst []byte) []byte {
	return zstdEncoder.EncodeAll(src, dst)
}

func (zstdCompression) Decompress(src, dst []byte) ([]byte, error) {
	return zstdDecoder.DecodeAll(src, dst)
}

type s2Compression struct{}

func (s2Compression) Name() string { return "s2" }

func (s2Compression) Compress(src, dst []byte) []byte {
	return append(dst, s2.Encode(nil, src)...)
}

func (s2Compression) Decompress(src, dst []byte) ([]byte, error) {
	out, err := s2.Decode(nil, src)
	if err != nil {
		return nil, err
	}
	return append(dst, out...), nil
}

// Compression returns the named Compressor, or nil if the
// name is not recognized.
func Compression(name string) Compressor {
	switch name {
	case "zstd":
		return zstdCompression{}
	case "s2":
		return s2Compression{}
	}
	return nil
}

// Decompression returns the named Decompressor.
func Decompression(name string) (Decompressor, error) {
	switch name {
	case "zstd":
		return zstdCompression{}, nil
	case "s2":
		return s2Compression{}, nil
	}
	return nil, fmt.Errorf("unsupported compression %q", name)
}
