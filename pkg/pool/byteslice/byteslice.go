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


// Package byteslice provides size-classed pools of scratch byte slices,
// a descriptor takes one per windowed read and hands it back right after the copy.
package byteslice

import (
	"math/bits"
	"sync"
)

// Class bounds, requests outside them are served by make and never pooled.
const (
	MinSize = 1 << minShift
	MaxSize = 1 << maxShift

	minShift = 6
	maxShift = 24
)

var builtinPool Pool

// Pool keeps one sync.Pool per power-of-two class from MinSize to MaxSize.
type Pool struct {
	classes [maxShift - minShift + 1]sync.Pool
}

// Get returns a byte slice with given length from the built-in pool.
func Get(size int) []byte {
	return builtinPool.Get(size)
}

// Put returns the byte slice to the built-in pool.
func Put(buf []byte) {
	builtinPool.Put(buf)
}

// Get returns a slice of len size, its capacity is the class size.
func (p *Pool) Get(size int) []byte {
	if size <= 0 {
		return nil
	}
	if size > MaxSize {
		return make([]byte, size)
	}
	shift := bits.Len(uint(size - 1))
	if shift < minShift {
		shift = minShift
	}
	if ptr, _ := p.classes[shift-minShift].Get().(*[]byte); ptr != nil {
		return (*ptr)[:size]
	}
	return make([]byte, size, 1<<shift)
}

// Put files buf under the largest class its capacity covers.
func (p *Pool) Put(buf []byte) {
	c := cap(buf)
	if c < MinSize || c > MaxSize {
		return
	}
	shift := bits.Len(uint(c)) - 1
	buf = buf[:c]
	p.classes[shift-minShift].Put(&buf)
}
