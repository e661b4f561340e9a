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
	"os"
	"strings"

	"golang.org/x/sys/cpu"
)

// VectorLevel describes how wide the host vector units are;
// it only affects tuning (the unroll factor), never the
// lane count or the numeric results.
type VectorLevel uint32

const (
	// VectorLevelBaseline assumes 128-bit vector units.
	VectorLevelBaseline VectorLevel = iota

	// VectorLevelAVX2 requires AVX2 and FMA.
	VectorLevelAVX2

	// VectorLevelAVX512 requires baseline AVX-512
	// (F, BW, DQ, CD and VL).
	VectorLevelAVX512
)

const vectorLevelEnvVar = "LEXPR_OPT_LEVEL"

func vectorLevelFromCPUFeatures() VectorLevel {
	if cpu.X86.HasAVX512F &&
		cpu.X86.HasAVX512BW &&
		cpu.X86.HasAVX512DQ &&
		cpu.X86.HasAVX512CD &&
		cpu.X86.HasAVX512VL {
		return VectorLevelAVX512
	}
	if cpu.X86.HasAVX2 && cpu.X86.HasFMA {
		return VectorLevelAVX2
	}
	return VectorLevelBaseline
}

// DetectVectorLevel determines the vector level from the
// CPU features, with the LEXPR_OPT_LEVEL environment
// variable as an override (it can only lower the detected
// level).
func DetectVectorLevel() VectorLevel {
	detected := vectorLevelFromCPUFeatures()
	val, _ := os.LookupEnv(vectorLevelEnvVar)
	var envLevel VectorLevel
	switch strings.ToLower(val) {
	case "":
		return detected
	case "baseline", "none":
		envLevel = VectorLevelBaseline
	case "avx2":
		envLevel = VectorLevelAVX2
	case "avx512":
		envLevel = VectorLevelAVX512
	default:
		return detected
	}
	if envLevel <= detected {
		return envLevel
	}
	return detected
}

// Tune adjusts the unroll factor for the given vector
// level. The default config keeps unroll at 1; wide vector
// machines can afford processing two 8-lane steps per
// inner-loop iteration.
func (c *Config) Tune(level VectorLevel) *Config {
	if level >= VectorLevelAVX512 {
		c.Unroll = 2
	} else {
		c.Unroll = 1
	}
	return c
}
