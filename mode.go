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

import (
	"fmt"
	"strings"

	errorx "github.com/iolistener/iolistener/pkg/errors"
)

// Mode is the set of independent behavior flags of a Descriptor.
type Mode uint32

const (
	// ModeRead makes the descriptor read-interested.
	ModeRead Mode = 0x01
	// ModeWrite makes the descriptor write-interested.
	ModeWrite Mode = 0x02
	// ModeReadWrite is ModeRead|ModeWrite.
	ModeReadWrite = ModeRead | ModeWrite
	// ModeBlock fills the buffer before signaling subscribers and makes Out wait for completion, implies ModeBuf.
	ModeBlock Mode = 0x04
	// ModeBuf uses an internally sized buffer.
	ModeBuf Mode = 0x08
	// ModeExternalBuffer borrows a caller supplied buffer, the descriptor never allocates nor frees it.
	ModeExternalBuffer Mode = 0x10
	// ModeImmediate notifies subscribers on each readiness without buffering,
	// subscribers pull the bytes off the descriptor themselves.
	ModeImmediate Mode = 0x20
	// ModeWindowed accumulates exactly WindowSize bytes before the window-complete notification,
	// bytes past the window are discarded. Implies ModeBuf.
	ModeWindowed Mode = 0x40
	// ModeAutofill reads the available bytes into the buffer before the read notification.
	ModeAutofill Mode = 0x80

	modeMask = ModeReadWrite | ModeBlock | ModeBuf | ModeExternalBuffer | ModeImmediate | ModeWindowed | ModeAutofill
)

var modeNames = []struct {
	m    Mode
	name string
}{
	{ModeRead, "READ"},
	{ModeWrite, "WRITE"},
	{ModeBlock, "BLOCK"},
	{ModeBuf, "BUF"},
	{ModeExternalBuffer, "XBUF"},
	{ModeImmediate, "IMM"},
	{ModeWindowed, "WINDOWED"},
	{ModeAutofill, "AUTOFILL"},
}

// Has reports whether every flag of f is set in m.
func (m Mode) Has(f Mode) bool {
	return m&f == f
}

// String returns the flags joined by '|'.
func (m Mode) String() string {
	if m == 0 {
		return "0"
	}
	var names []string
	for _, n := range modeNames {
		if m&n.m != 0 {
			names = append(names, n.name)
		}
	}
	if rest := m &^ modeMask; rest != 0 {
		names = append(names, fmt.Sprintf("%#x", uint32(rest)))
	}
	return strings.Join(names, "|")
}

// Normalize checks m and returns it with the implied flags set.
//
// ModeBlock and ModeWindowed imply ModeBuf. ModeImmediate bypasses buffering and
// cannot be combined with ModeAutofill or ModeWindowed, and ModeAutofill and
// ModeWindowed are mutually exclusive ways of materializing data.
func (m Mode) Normalize() (Mode, error) {
	if rest := m &^ modeMask; rest != 0 {
		return m, fmt.Errorf("%w: unknown flags %#x", errorx.ErrInvalidMode, uint32(rest))
	}
	if m&ModeImmediate != 0 && m&(ModeAutofill|ModeWindowed) != 0 {
		return m, fmt.Errorf("%w: %s", errorx.ErrInvalidMode, m)
	}
	if m.Has(ModeAutofill | ModeWindowed) {
		return m, fmt.Errorf("%w: %s", errorx.ErrInvalidMode, m)
	}
	if m&(ModeBlock|ModeWindowed) != 0 {
		m |= ModeBuf
	}
	return m, nil
}
