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
	"fmt"

	"github.com/eapache/queue"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"

	errorx "github.com/iolistener/iolistener/pkg/errors"
	"github.com/iolistener/iolistener/pkg/logging"
	"github.com/iolistener/iolistener/pkg/notify"
	"github.com/iolistener/iolistener/pkg/pool/byteslice"
)

const (
	// DefaultMaxPacketSize is the default ceiling of a single readiness-triggered read, 1 MiB.
	DefaultMaxPacketSize = 1 << 20
	// AutofillBufferSize is the size of the scratch buffer used by ModeAutofill.
	AutofillBufferSize = 4 << 10

	windowGuard = 4
)

// State is a readiness snapshot of a Descriptor.
type State struct {
	Active   bool // registered and receiving events
	Destroy  bool // marked for destruction, released once its notifications return
	Writable bool // the last event reported write readiness
	Readable bool // the last event reported read readiness
}

// Descriptor owns one OS file descriptor together with its mode flags,
// its buffer and the state of the current window transfer.
type Descriptor struct {
	fd            int
	mode          Mode
	maxPacketSize int
	pendingSize   int
	windowSize    int
	windowPos     int
	filled        int
	buf           buffer
	retired       []buffer
	busy          int
	state         State
	interest      IOEvent
	outbound      *queue.Queue

	readSignal   *notify.Signal[*Descriptor]
	writeSignal  *notify.Signal[*Descriptor]
	windowSignal *notify.Signal[*Descriptor]
	zeroSignal   *notify.Signal[*Descriptor]

	sys    sysIO
	logger logging.Logger
}

// NewDescriptor returns a standalone descriptor for fd, the caller owns it and calls Destroy when done.
func NewDescriptor(fd int, mode Mode) (*Descriptor, error) {
	return newDescriptor(fd, mode, defaultSys, logging.GetDefaultLogger())
}

func newDescriptor(fd int, mode Mode, sys sysIO, logger logging.Logger) (*Descriptor, error) {
	mode, err := mode.Normalize()
	if err != nil {
		return nil, err
	}
	return &Descriptor{
		fd:            fd,
		mode:          mode,
		maxPacketSize: DefaultMaxPacketSize,
		outbound:      queue.New(),
		readSignal:    notify.New[*Descriptor]("read"),
		writeSignal:   notify.New[*Descriptor]("write"),
		windowSignal:  notify.New[*Descriptor]("window complete"),
		zeroSignal:    notify.New[*Descriptor]("zero"),
		sys:           sys,
		logger:        logger,
	}, nil
}

// Fd returns the file descriptor, -1 once destroyed.
func (d *Descriptor) Fd() int { return d.fd }

// Mode returns the mode flags.
func (d *Descriptor) Mode() Mode { return d.mode }

// State returns the readiness snapshot.
func (d *Descriptor) State() State { return d.state }

// PendingSize returns the byte count refreshed by the last ToRead.
func (d *Descriptor) PendingSize() int { return d.pendingSize }

// WindowSize returns the number of bytes expected for the current window.
func (d *Descriptor) WindowSize() int { return d.windowSize }

// WindowPos returns the number of bytes received for the current window.
func (d *Descriptor) WindowPos() int { return d.windowPos }

// MaxPacketSize returns the ceiling of a single read.
func (d *Descriptor) MaxPacketSize() int { return d.maxPacketSize }

// SetMaxPacketSize sets the ceiling of a single read, a keyboard should set it far lower than the default.
func (d *Descriptor) SetMaxPacketSize(n int) {
	d.maxPacketSize = n
}

// ReadSignal is fired when data is ready: materialized in Bytes under ModeAutofill,
// left on the descriptor otherwise.
func (d *Descriptor) ReadSignal() *notify.Signal[*Descriptor] { return d.readSignal }

// WriteSignal is fired when the descriptor is writable.
func (d *Descriptor) WriteSignal() *notify.Signal[*Descriptor] { return d.writeSignal }

// WindowCompleteSignal is fired once WindowSize bytes have been accumulated.
func (d *Descriptor) WindowCompleteSignal() *notify.Signal[*Descriptor] { return d.windowSignal }

// ZeroSignal is fired when the descriptor reports no bytes on a read readiness, i.e. the peer hung up.
func (d *Descriptor) ZeroSignal() *notify.Signal[*Descriptor] { return d.zeroSignal }

// Bytes returns the data materialized by the last autofill read or accumulated in the current window.
// The slice is only valid until the notification that exposes it returns.
func (d *Descriptor) Bytes() []byte {
	if d.buf == nil {
		return nil
	}
	return d.buf.bytes()[:d.filled]
}

// ToRead refreshes and returns the number of bytes available on the descriptor without consuming them.
func (d *Descriptor) ToRead() int {
	n, err := d.sys.pending(d.fd)
	if err != nil {
		d.logger.Debugf("fd[%d] cannot tell the pending size: %v", d.fd, err)
		n = 0
	}
	d.pendingSize = n
	return n
}

// DataIn runs the receive algorithm for one read readiness.
//
// It returns the number of bytes read under ModeAutofill, the number of bytes still
// expected (or the window size once complete) under ModeWindowed and 0 otherwise,
// together with the action requested by the subscribers.
func (d *Descriptor) DataIn() (int, Action, error) {
	pending := d.ToRead()
	if pending <= 0 {
		d.logger.Infof("shutdown signal on file descriptor #%d", d.fd)
		action, err := d.emit(d.zeroSignal)
		return 0, action, multierr.Append(errorx.ErrShutdownSignaled, err)
	}
	if pending > d.maxPacketSize {
		d.logger.Warnf("fd[%d] packet size: %d, max set to %d, ignoring", d.fd, pending, d.maxPacketSize)
		return 0, None, errorx.ErrOverflow
	}

	switch {
	case d.mode&ModeAutofill != 0:
		return d.autofill(pending)
	case d.mode&ModeWindowed != 0:
		return d.windowIn(pending)
	}

	// Subscribers pull the bytes off the descriptor themselves.
	action, err := d.emit(d.readSignal)
	return 0, action, err
}

func (d *Descriptor) autofill(pending int) (int, Action, error) {
	if d.buf == nil {
		if d.mode&ModeExternalBuffer != 0 {
			return 0, None, fmt.Errorf("%w: no external buffer supplied to fd[%d]", errorx.ErrBufferTooSmall, d.fd)
		}
		d.buf = newOwnedBuffer(AutofillBufferSize)
	}
	buf := d.buf.bytes()
	for i := range buf {
		buf[i] = 0
	}
	if pending > len(buf) {
		pending = len(buf)
	}
	n, err := d.sys.read(d.fd, buf[:pending])
	if err != nil {
		d.filled = 0
		return 0, None, fmt.Errorf("fd[%d] autofill read: %w", d.fd, err)
	}
	d.filled = n
	action, err := d.emit(d.readSignal)
	return n, action, err
}

func (d *Descriptor) windowIn(pending int) (int, Action, error) {
	if d.buf == nil || len(d.buf.bytes()) < d.windowSize || d.windowSize == 0 {
		return 0, None, fmt.Errorf("%w: fd[%d] has no window buffer", errorx.ErrBufferTooSmall, d.fd)
	}
	d.logger.Debugf("fd[%d] windowed read of %d bytes, window %d/%d", d.fd, pending, d.windowPos, d.windowSize)

	tmp := byteslice.Get(pending)
	n, err := d.sys.read(d.fd, tmp)
	if err != nil {
		byteslice.Put(tmp)
		return d.windowSize - d.windowPos, None, fmt.Errorf("fd[%d] windowed read: %w", d.fd, err)
	}
	cn := copy(d.buf.bytes()[d.windowPos:d.windowSize], tmp[:n])
	byteslice.Put(tmp)
	if discarded := n - cn; discarded > 0 {
		d.logger.Debugf("fd[%d] discarded %d bytes past the window", d.fd, discarded)
	}
	d.windowPos += cn
	d.filled = d.windowPos

	if d.windowPos < d.windowSize {
		return d.windowSize - d.windowPos, None, nil
	}
	action, err := d.emit(d.windowSignal)
	return d.windowSize, action, err
}

// Out writes data to the descriptor. Unless waitCompleted is true or ModeBlock is set,
// it issues exactly one write and returns whatever is left. Otherwise it keeps writing
// until every byte is accepted and fails with ErrWriteFailed when a write accepts nothing.
// It returns the number of bytes not written.
func (d *Descriptor) Out(data []byte, waitCompleted bool) (int, error) {
	if !waitCompleted && d.mode&ModeBlock == 0 {
		n, err := d.sys.write(d.fd, data)
		if err != nil {
			return len(data) - n, fmt.Errorf("fd[%d] write: %w", d.fd, err)
		}
		return len(data) - n, nil
	}

	still := data
	for len(still) > 0 {
		n, err := d.sys.write(d.fd, still)
		if err == unix.EAGAIN {
			if err = d.sys.waitWritable(d.fd); err != nil {
				return len(still), fmt.Errorf("fd[%d] write: %w", d.fd, err)
			}
			continue
		}
		if err != nil {
			return len(still), fmt.Errorf("fd[%d] write: %w", d.fd, err)
		}
		if n == 0 {
			d.logger.Errorf("fd[%d] write returned 0 bytes written, %d bytes left", d.fd, len(still))
			return len(still), errorx.ErrWriteFailed
		}
		still = still[n:]
	}
	return 0, nil
}

type chunk struct {
	b []byte
}

// Post queues a copy of p, the listener writes it out when the descriptor becomes writable.
func (d *Descriptor) Post(p []byte) error {
	if d.mode&ModeWrite == 0 {
		return errorx.ErrNotWritable
	}
	if len(p) == 0 {
		return nil
	}
	d.outbound.Add(&chunk{b: append([]byte(nil), p...)})
	return nil
}

// Buffered returns the number of queued bytes not yet written.
func (d *Descriptor) Buffered() (n int) {
	for i := 0; i < d.outbound.Length(); i++ {
		n += len(d.outbound.Get(i).(*chunk).b)
	}
	return
}

// flush writes the queued bytes until the descriptor stops accepting them.
func (d *Descriptor) flush() error {
	for d.outbound.Length() > 0 {
		c := d.outbound.Peek().(*chunk)
		n, err := d.sys.write(d.fd, c.b)
		if err == unix.EAGAIN {
			return nil
		}
		if err != nil {
			return fmt.Errorf("fd[%d] flush: %w", d.fd, err)
		}
		if n < len(c.b) {
			c.b = c.b[n:]
			return nil
		}
		d.outbound.Remove()
	}
	return nil
}

// SetWindowSize starts a new window of sz bytes: the previous owned buffer is released and a
// zeroed one of sz bytes (plus a small guard) is allocated, ModeBuf and ModeWindowed are set.
// Under ModeExternalBuffer the supplied buffer is used instead and must hold sz bytes.
func (d *Descriptor) SetWindowSize(sz int) (int, error) {
	if sz <= 0 {
		return d.windowSize, fmt.Errorf("%w: window size %d", errorx.ErrInvalidMode, sz)
	}
	if d.mode&ModeAutofill != 0 || d.mode&ModeImmediate != 0 {
		return d.windowSize, fmt.Errorf("%w: windowing a %s descriptor", errorx.ErrInvalidMode, d.mode)
	}
	if d.mode&ModeExternalBuffer != 0 {
		if d.buf == nil || len(d.buf.bytes()) < sz {
			return d.windowSize, fmt.Errorf("%w: need %d bytes", errorx.ErrBufferTooSmall, sz)
		}
	} else {
		d.retire(d.buf)
		d.buf = newOwnedBuffer(sz + windowGuard)
	}
	d.mode |= ModeBuf | ModeWindowed
	d.windowPos = 0
	d.filled = 0
	d.windowSize = sz
	return d.windowSize, nil
}

// ResetWindow restarts the current window without touching the buffer.
func (d *Descriptor) ResetWindow() {
	d.windowPos = 0
	d.filled = 0
}

// SetExternalBuffer makes the descriptor borrow p, it will never be freed by the descriptor.
func (d *Descriptor) SetExternalBuffer(p []byte) error {
	if d.mode&ModeWindowed != 0 && len(p) < d.windowSize {
		return fmt.Errorf("%w: need %d bytes, got %d", errorx.ErrBufferTooSmall, d.windowSize, len(p))
	}
	d.retire(d.buf)
	d.buf = borrowedBuffer(p)
	d.mode |= ModeExternalBuffer
	d.filled = 0
	return nil
}

// SetOptions replaces the mode flags wholesale and returns the normalized flags.
func (d *Descriptor) SetOptions(mode Mode) (Mode, error) {
	mode, err := mode.Normalize()
	if err != nil {
		return d.mode, err
	}
	d.mode = mode
	return d.mode, nil
}

// Clear releases the buffer and resets the transfer counters.
func (d *Descriptor) Clear() {
	d.retire(d.buf)
	d.buf = nil
	d.windowPos, d.windowSize, d.pendingSize, d.filled = 0, 0, 0, 0
}

// Destroy disconnects every notification and releases the owned buffer, the release
// waits for the running notifications to return. The file descriptor itself is left open.
func (d *Descriptor) Destroy() {
	d.readSignal.DisconnectAll()
	d.writeSignal.DisconnectAll()
	d.windowSignal.DisconnectAll()
	d.zeroSignal.DisconnectAll()
	d.Clear()
	for d.outbound.Length() > 0 {
		d.outbound.Remove()
	}
	d.state.Active = false
	d.state.Destroy = true
	d.fd = -1
}

// retire releases b now, or once the running notifications return.
func (d *Descriptor) retire(b buffer) {
	if b == nil {
		return
	}
	if d.busy > 0 {
		d.retired = append(d.retired, b)
		return
	}
	b.release()
}

func (d *Descriptor) emit(s *notify.Signal[*Descriptor]) (Action, error) {
	d.busy++
	action, err := s.Emit(d)
	d.busy--
	if d.busy == 0 {
		for _, b := range d.retired {
			b.release()
		}
		d.retired = d.retired[:0]
	}
	return action, err
}

func (d *Descriptor) String() string {
	return fmt.Sprintf("ifd[fd=%d mode=%s window=%d/%d]", d.fd, d.mode, d.windowPos, d.windowSize)
}

// isTerminal tells whether err asks the event-loop to stop.
func isTerminal(err error) bool {
	return errors.Is(err, errorx.ErrTerminalEnd)
}
