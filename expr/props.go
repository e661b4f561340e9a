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

package expr

import (
	"fmt"
)

// DedupProps rewrites frame-property LoadConst opcodes so
// that each distinct (clip, name) pair gets a dense index in
// first-use order: the opcode immediate becomes
// ConstLast+denseIndex, and the returned table lists the
// pairs in dense order. The host materializes the per-frame
// scalar constants in exactly that order (slot 0 is always
// the frame number, so dense index i lives in slot 1+i).
//
// The pass is idempotent: it keys on the clip-and-name
// bundle recorded by the decoder, not on the immediate, so
// re-running it over an already-rewritten list reproduces
// the same immediates and the same table.
//
// tokens must be index-aligned with ops (see Parse); it is
// only used to name the offending token in errors.
func DedupProps(ops []Op, tokens []string, numInputs int) ([]PropAccess, error) {
	type key struct {
		clip int
		name string
	}
	ids := make(map[key]int)
	var table []PropAccess
	for i := range ops {
		op := &ops[i]
		if op.Kind != LoadConst || op.IntImm() < ConstLast {
			continue
		}
		clip := int(op.Clip)
		if clip >= numInputs {
			return nil, fmt.Errorf("reference to undefined clip: %s", tokens[i])
		}
		k := key{clip: clip, name: op.Name}
		id, ok := ids[k]
		if !ok {
			id = len(table)
			ids[k] = id
			table = append(table, PropAccess{Clip: clip, Name: op.Name})
		}
		op.Imm = intImm(int32(ConstLast + id))
	}
	return table, nil
}
