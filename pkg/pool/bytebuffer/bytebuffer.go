// Copyright (c) 2023 The IOListener Authors. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package bytebuffer hands out pooled byte buffers backed by github.com/valyala/bytebufferpool,
// descriptors keep their owned window and autofill buffers here.
package bytebuffer

import "github.com/valyala/bytebufferpool"

// ByteBuffer is the alias of bytebufferpool.ByteBuffer.
type ByteBuffer = bytebufferpool.ByteBuffer

var (
	// Get returns an empty byte buffer from the pool.
	Get = bytebufferpool.Get
	// Put returns byte buffer to the pool.
	Put = func(b *ByteBuffer) {
		if b != nil {
			bytebufferpool.Put(b)
		}
	}
)

// GetZeroed returns a pooled buffer holding exactly size zero bytes.
func GetZeroed(size int) *ByteBuffer {
	b := Get()
	if cap(b.B) < size {
		b.B = make([]byte, size)
		return b
	}
	b.B = b.B[:size]
	for i := range b.B {
		b.B[i] = 0
	}
	return b
}
