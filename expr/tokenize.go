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

// isSpace matches the six ASCII whitespace separators
// (space, tab, CR, LF, VT, FF); multi-byte runes are
// never separators.
func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', '\v', '\f':
		return true
	}
	return false
}

// Tokenize splits an expression on ASCII whitespace into
// its tokens, preserving order. Runs of separators produce
// no empty tokens.
func Tokenize(s string) []string {
	var tokens []string
	prev := 0
	for i := 0; i < len(s); i++ {
		if isSpace(s[i]) {
			if i != prev {
				tokens = append(tokens, s[prev:i])
			}
			prev = i + 1
		}
	}
	if prev != len(s) {
		tokens = append(tokens, s[prev:])
	}
	return tokens
}
