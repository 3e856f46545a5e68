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

//go:build darwin || dragonfly || freebsd || linux

package iolistener

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	errorx "github.com/iolistener/iolistener/pkg/errors"
	"github.com/iolistener/iolistener/pkg/logging"
)

// fakeSys serves reads from in and accepts writes according to accept,
// -1 in accept stands for EAGAIN and an exhausted accept takes everything.
type fakeSys struct {
	in         []byte
	pendingErr error
	reads      int

	accept    []int
	writes    int
	written   []byte
	waits     int
	shutdowns []int
}

func (f *fakeSys) pending(int) (int, error) {
	if f.pendingErr != nil {
		return 0, f.pendingErr
	}
	return len(f.in), nil
}

func (f *fakeSys) read(_ int, p []byte) (int, error) {
	f.reads++
	n := copy(p, f.in)
	f.in = f.in[n:]
	return n, nil
}

func (f *fakeSys) write(_ int, p []byte) (int, error) {
	f.writes++
	n := len(p)
	if len(f.accept) > 0 {
		n, f.accept = f.accept[0], f.accept[1:]
		if n < 0 {
			return 0, unix.EAGAIN
		}
		if n > len(p) {
			n = len(p)
		}
	}
	f.written = append(f.written, p[:n]...)
	return n, nil
}

func (f *fakeSys) waitWritable(int) error {
	f.waits++
	return nil
}

func (f *fakeSys) shutdown(fd int) error {
	f.shutdowns = append(f.shutdowns, fd)
	return nil
}

func newTestDescriptor(t *testing.T, mode Mode) (*Descriptor, *fakeSys) {
	t.Helper()
	fs := &fakeSys{}
	d, err := newDescriptor(7, mode, fs, logging.Nop{})
	require.NoError(t, err)
	return d, fs
}

func TestDescriptor_WindowCompletes(t *testing.T) {
	d, fs := newTestDescriptor(t, ModeRead)
	sz, err := d.SetWindowSize(10)
	require.NoError(t, err)
	assert.Equal(t, 10, sz)
	assert.True(t, d.Mode().Has(ModeBuf|ModeWindowed))

	var windows [][]byte
	d.WindowCompleteSignal().Connect(func(d *Descriptor) (Action, error) {
		windows = append(windows, append([]byte(nil), d.Bytes()...))
		return None, nil
	})

	fs.in = []byte("abcd")
	n, action, err := d.DataIn()
	require.NoError(t, err)
	assert.Equal(t, None, action)
	assert.Equal(t, 6, n)
	assert.Empty(t, windows)
	assert.Equal(t, "abcd", string(d.Bytes()))

	fs.in = []byte("efghij")
	n, _, err = d.DataIn()
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	require.Len(t, windows, 1)
	assert.Equal(t, "abcdefghij", string(windows[0]))
	assert.Equal(t, 10, d.WindowPos())
}

func TestDescriptor_WindowPartial(t *testing.T) {
	d, fs := newTestDescriptor(t, ModeRead)
	_, err := d.SetWindowSize(10)
	require.NoError(t, err)
	var completed int
	d.WindowCompleteSignal().Connect(func(*Descriptor) (Action, error) {
		completed++
		return None, nil
	})

	for i := 0; i < 2; i++ {
		fs.in = []byte("wxyz")
		_, _, err = d.DataIn()
		require.NoError(t, err)
	}
	assert.Zero(t, completed)
	assert.Equal(t, 8, d.WindowPos())
	assert.Equal(t, 2, d.WindowSize()-d.WindowPos())
}

func TestDescriptor_WindowDiscardsExcess(t *testing.T) {
	d, fs := newTestDescriptor(t, ModeRead)
	_, err := d.SetWindowSize(4)
	require.NoError(t, err)
	var got []byte
	d.WindowCompleteSignal().Connect(func(d *Descriptor) (Action, error) {
		got = append([]byte(nil), d.Bytes()...)
		d.ResetWindow()
		return None, nil
	})

	fs.in = []byte("0123456789")
	n, _, err := d.DataIn()
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "0123", string(got))
	assert.Empty(t, fs.in, "the excess is consumed, not kept for the next window")
	assert.Zero(t, d.WindowPos())
}

func TestDescriptor_Overflow(t *testing.T) {
	d, fs := newTestDescriptor(t, ModeRead|ModeAutofill)
	d.SetMaxPacketSize(8)
	var notified int
	d.ReadSignal().Connect(func(*Descriptor) (Action, error) {
		notified++
		return None, nil
	})

	fs.in = []byte("123456789")
	n, _, err := d.DataIn()
	assert.ErrorIs(t, err, errorx.ErrOverflow)
	assert.Zero(t, n)
	assert.Zero(t, notified)
	assert.Zero(t, fs.reads)
	assert.Equal(t, 9, d.PendingSize())
}

func TestDescriptor_ZeroSignalsShutdown(t *testing.T) {
	d, fs := newTestDescriptor(t, ModeRead|ModeAutofill)
	var zero, read int
	d.ZeroSignal().Connect(func(*Descriptor) (Action, error) {
		zero++
		return None, nil
	})
	d.ReadSignal().Connect(func(*Descriptor) (Action, error) {
		read++
		return None, nil
	})

	_, _, err := d.DataIn()
	assert.ErrorIs(t, err, errorx.ErrShutdownSignaled)
	assert.Equal(t, 1, zero)

	fs.pendingErr = errors.New("ioctl failed")
	_, _, err = d.DataIn()
	assert.ErrorIs(t, err, errorx.ErrShutdownSignaled)
	assert.Equal(t, 2, zero)
	assert.Zero(t, read)
}

func TestDescriptor_ZeroSubscriberError(t *testing.T) {
	d, _ := newTestDescriptor(t, ModeRead)
	boom := errors.New("boom")
	d.ZeroSignal().Connect(func(*Descriptor) (Action, error) {
		return Shutdown, boom
	})
	_, action, err := d.DataIn()
	assert.Equal(t, Shutdown, action)
	assert.ErrorIs(t, err, errorx.ErrShutdownSignaled)
	assert.ErrorIs(t, err, boom)
}

func TestDescriptor_Autofill(t *testing.T) {
	d, fs := newTestDescriptor(t, ModeRead|ModeAutofill)
	d.SetMaxPacketSize(64)
	var got [][]byte
	d.ReadSignal().Connect(func(d *Descriptor) (Action, error) {
		got = append(got, append([]byte(nil), d.Bytes()...))
		return None, nil
	})

	fs.in = []byte{0x1b, '[', 'A'}
	n, _, err := d.DataIn()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, got, 1)
	assert.Equal(t, []byte{0x1b, '[', 'A'}, got[0])

	fs.in = []byte("q")
	_, _, err = d.DataIn()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "q", string(got[1]), "the scratch buffer is zeroed between reads")
}

func TestDescriptor_AutofillClampsToScratch(t *testing.T) {
	d, fs := newTestDescriptor(t, ModeRead|ModeAutofill)
	fs.in = make([]byte, AutofillBufferSize+100)
	n, _, err := d.DataIn()
	require.NoError(t, err)
	assert.Equal(t, AutofillBufferSize, n)
	assert.Len(t, fs.in, 100)
}

func TestDescriptor_Immediate(t *testing.T) {
	d, fs := newTestDescriptor(t, ModeRead|ModeImmediate)
	var pulled []byte
	d.ReadSignal().Connect(func(d *Descriptor) (Action, error) {
		p := make([]byte, d.PendingSize())
		n, err := fs.read(d.Fd(), p)
		pulled = p[:n]
		return None, err
	})
	fs.in = []byte("raw")
	n, _, err := d.DataIn()
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, "raw", string(pulled))
	assert.Nil(t, d.Bytes())
}

func TestDescriptor_ExternalBuffer(t *testing.T) {
	d, fs := newTestDescriptor(t, ModeRead|ModeAutofill|ModeExternalBuffer)
	fs.in = []byte("abc")
	_, _, err := d.DataIn()
	assert.ErrorIs(t, err, errorx.ErrBufferTooSmall)

	ext := make([]byte, 16)
	require.NoError(t, d.SetExternalBuffer(ext))
	n, _, err := d.DataIn()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "abc", string(ext[:3]))

	d.Destroy()
	assert.Equal(t, "abc", string(ext[:3]), "a borrowed buffer is left alone")
}

func TestDescriptor_ExternalWindow(t *testing.T) {
	d, fs := newTestDescriptor(t, ModeRead|ModeExternalBuffer)
	require.NoError(t, d.SetExternalBuffer(make([]byte, 4)))
	_, err := d.SetWindowSize(8)
	assert.ErrorIs(t, err, errorx.ErrBufferTooSmall)

	_, err = d.SetWindowSize(4)
	require.NoError(t, err)
	assert.ErrorIs(t, d.SetExternalBuffer(make([]byte, 2)), errorx.ErrBufferTooSmall)

	fs.in = []byte("wxyz")
	n, _, err := d.DataIn()
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "wxyz", string(d.Bytes()))
}

func TestDescriptor_OutWaitCompleted(t *testing.T) {
	d, fs := newTestDescriptor(t, ModeWrite)
	data := make([]byte, 100)

	fs.accept = []int{40, 60}
	remaining, err := d.Out(data, true)
	require.NoError(t, err)
	assert.Zero(t, remaining)
	assert.Equal(t, 2, fs.writes)

	fs.writes = 0
	fs.accept = []int{40, 0, 60}
	remaining, err = d.Out(data, true)
	assert.ErrorIs(t, err, errorx.ErrWriteFailed)
	assert.Equal(t, 60, remaining)
	assert.Equal(t, 2, fs.writes)
}

func TestDescriptor_OutSingleWrite(t *testing.T) {
	d, fs := newTestDescriptor(t, ModeWrite)
	fs.accept = []int{40}
	remaining, err := d.Out(make([]byte, 100), false)
	require.NoError(t, err)
	assert.Equal(t, 60, remaining)
	assert.Equal(t, 1, fs.writes)

	// BLOCK makes every write wait for completion.
	_, err = d.SetOptions(ModeWrite | ModeBlock)
	require.NoError(t, err)
	fs.writes = 0
	fs.accept = []int{10, -1, 90}
	remaining, err = d.Out(make([]byte, 100), false)
	require.NoError(t, err)
	assert.Zero(t, remaining)
	assert.Equal(t, 3, fs.writes)
	assert.Equal(t, 1, fs.waits)
}

func TestDescriptor_Post(t *testing.T) {
	d, fs := newTestDescriptor(t, ModeRead)
	assert.ErrorIs(t, d.Post([]byte("x")), errorx.ErrNotWritable)

	d, fs = newTestDescriptor(t, ModeReadWrite)
	p := []byte("hello")
	require.NoError(t, d.Post(p))
	require.NoError(t, d.Post([]byte("world")))
	p[0] = 'J'
	assert.Equal(t, 10, d.Buffered())

	fs.accept = []int{3}
	require.NoError(t, d.flush())
	assert.Equal(t, 7, d.Buffered())

	require.NoError(t, d.flush())
	assert.Zero(t, d.Buffered())
	assert.Equal(t, "helloworld", string(fs.written))
}

func TestDescriptor_DeferredRelease(t *testing.T) {
	d, fs := newTestDescriptor(t, ModeRead)
	_, err := d.SetWindowSize(2)
	require.NoError(t, err)
	old := d.buf.(*ownedBuffer)

	d.WindowCompleteSignal().Connect(func(d *Descriptor) (Action, error) {
		_, err := d.SetWindowSize(3)
		require.NoError(t, err)
		assert.NotNil(t, old.bb, "released while the notification runs")
		return None, nil
	})
	fs.in = []byte("ab")
	_, _, err = d.DataIn()
	require.NoError(t, err)
	assert.Nil(t, old.bb)
	assert.Equal(t, 3, d.WindowSize())

	cur := d.buf.(*ownedBuffer)
	d.ReadSignal().Connect(func(d *Descriptor) (Action, error) {
		d.Destroy()
		assert.NotNil(t, cur.bb)
		return None, nil
	})
	_, err = d.SetOptions(ModeRead)
	require.NoError(t, err)
	fs.in = []byte("c")
	_, _, err = d.DataIn()
	require.NoError(t, err)
	assert.Nil(t, cur.bb)
	assert.True(t, d.State().Destroy)
	assert.Equal(t, -1, d.Fd())
}

func TestDescriptor_SetOptions(t *testing.T) {
	d, _ := newTestDescriptor(t, ModeRead)
	m, err := d.SetOptions(ModeImmediate | ModeAutofill)
	assert.ErrorIs(t, err, errorx.ErrInvalidMode)
	assert.Equal(t, ModeRead, m)

	m, err = d.SetOptions(ModeReadWrite | ModeBlock)
	require.NoError(t, err)
	assert.Equal(t, ModeReadWrite|ModeBlock|ModeBuf, m)

	_, err = d.SetWindowSize(0)
	assert.ErrorIs(t, err, errorx.ErrInvalidMode)
}

func TestDescriptor_Clear(t *testing.T) {
	d, fs := newTestDescriptor(t, ModeRead)
	_, err := d.SetWindowSize(8)
	require.NoError(t, err)
	fs.in = []byte("abc")
	_, _, err = d.DataIn()
	require.NoError(t, err)

	d.Clear()
	assert.Zero(t, d.WindowPos())
	assert.Zero(t, d.WindowSize())
	assert.Zero(t, d.PendingSize())
	assert.Nil(t, d.Bytes())
}
