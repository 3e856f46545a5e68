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

package iolistener

import "github.com/iolistener/iolistener/pkg/pool/bytebuffer"

// buffer is the storage of a Descriptor. Ownership is carried by the concrete type:
// an ownedBuffer goes back to the pool exactly once, a borrowedBuffer is never freed.
type buffer interface {
	bytes() []byte
	release()
}

type ownedBuffer struct {
	bb *bytebuffer.ByteBuffer
}

func newOwnedBuffer(size int) *ownedBuffer {
	return &ownedBuffer{bb: bytebuffer.GetZeroed(size)}
}

func (b *ownedBuffer) bytes() []byte {
	if b.bb == nil {
		return nil
	}
	return b.bb.B
}

func (b *ownedBuffer) release() {
	bytebuffer.Put(b.bb)
	b.bb = nil
}

type borrowedBuffer []byte

func (b borrowedBuffer) bytes() []byte {
	return b
}

func (borrowedBuffer) release() {}
