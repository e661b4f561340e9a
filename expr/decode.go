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
	"math"
	"strconv"
	"strings"
)

var simpleTokens = map[string]Op{
	"+":     {Kind: Add},
	"-":     {Kind: Sub},
	"*":     {Kind: Mul},
	"/":     {Kind: Div},
	"%":     {Kind: Mod},
	"sqrt":  {Kind: Sqrt},
	"abs":   {Kind: Abs},
	"max":   {Kind: Max},
	"min":   {Kind: Min},
	"<":     {Kind: Cmp, Imm: uint32(CmpLT)},
	">":     {Kind: Cmp, Imm: uint32(CmpNLE)},
	"=":     {Kind: Cmp, Imm: uint32(CmpEQ)},
	">=":    {Kind: Cmp, Imm: uint32(CmpNLT)},
	"<=":    {Kind: Cmp, Imm: uint32(CmpLE)},
	"trunc": {Kind: Trunc},
	"round": {Kind: Round},
	"floor": {Kind: Floor},
	"and":   {Kind: And},
	"or":    {Kind: Or},
	"xor":   {Kind: Xor},
	"not":   {Kind: Not},
	"?":     {Kind: Ternary},
	"exp":   {Kind: Exp},
	"log":   {Kind: Log},
	"pow":   {Kind: Pow},
	"sin":   {Kind: Sin},
	"cos":   {Kind: Cos},
	"dup":   {Kind: Dup, Imm: 0},
	"swap":  {Kind: Swap, Imm: 1},
	"pi":    {Kind: Constant, Imm: floatImm(math.Pi)},
	"N":     {Kind: LoadConst, Imm: ConstN},
	"X":     {Kind: LoadConst, Imm: ConstX},
	"Y":     {Kind: LoadConst, Imm: ConstY},
}

// clipIndex maps a clip letter to its input index:
// x, y, z are inputs 0, 1, 2 and the remaining letters
// a..w follow in alphabetical order as inputs 3..25.
func clipIndex(c byte) int32 {
	if c >= 'x' {
		return int32(c - 'x')
	}
	return int32(c-'a') + 3
}

// Decode maps a single token to its opcode.
func Decode(token string) (Op, error) {
	if op, ok := simpleTokens[token]; ok {
		return op, nil
	}
	if len(token) == 1 && token[0] >= 'a' && token[0] <= 'z' {
		return Op{Kind: MemLoad, Imm: intImm(clipIndex(token[0]))}, nil
	}
	if strings.HasPrefix(token, "dup") || strings.HasPrefix(token, "swap") {
		kind, prefix := Dup, 3
		if token[0] == 's' {
			kind, prefix = Swap, 4
		}
		idx, err := strconv.ParseInt(token[prefix:], 10, 32)
		if err != nil || idx < 0 {
			return Op{}, fmt.Errorf("illegal token: %s", token)
		}
		return Op{Kind: kind, Imm: intImm(int32(idx))}, nil
	}
	if len(token) >= 3 && token[0] >= 'a' && token[0] <= 'z' && token[1] == '.' {
		// frame property access
		return Op{
			Kind: LoadConst,
			Imm:  intImm(ConstLast + clipIndex(token[0])),
			Name: token[2:],
			Clip: clipIndex(token[0]),
		}, nil
	}
	f, err := strconv.ParseFloat(token, 32)
	if err != nil {
		return Op{}, fmt.Errorf("failed to convert '%s' to float", token)
	}
	return Op{Kind: Constant, Imm: floatImm(float32(f))}, nil
}

// Parse tokenizes and decodes an expression. The returned
// token slice is index-aligned with the opcode slice so
// that later validation can name the offending token.
func Parse(s string) ([]string, []Op, error) {
	tokens := Tokenize(s)
	ops := make([]Op, len(tokens))
	for i, tok := range tokens {
		op, err := Decode(tok)
		if err != nil {
			return nil, nil, err
		}
		ops[i] = op
	}
	return tokens, ops, nil
}
