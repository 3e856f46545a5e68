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

//go:build darwin || dragonfly || freebsd

package netpoll

import (
	"os"

	"golang.org/x/sys/unix"
)

type kqueue struct {
	fd     int
	events []unix.Kevent_t
}

// OpenPoller instantiates a kqueue poller, sizeHint is the expected number of descriptors.
func OpenPoller(sizeHint int) (Poller, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, os.NewSyscallError("kqueue", err)
	}
	unix.CloseOnExec(fd)
	return &kqueue{fd: fd, events: make([]unix.Kevent_t, NewEventList(sizeHint).Size())}, nil
}

func (p *kqueue) change(fd, filter, flags int) error {
	var ev [1]unix.Kevent_t
	unix.SetKevent(&ev[0], fd, filter, flags)
	_, err := unix.Kevent(p.fd, ev[:], nil, nil)
	return err
}

// Error and hangup conditions are always reported by kqueue through EV_EOF/EV_ERROR.
func (p *kqueue) Add(fd int, events IOEvent) error {
	if events&ReadEvents != 0 {
		if err := p.change(fd, unix.EVFILT_READ, unix.EV_ADD); err != nil {
			return os.NewSyscallError("kevent add", err)
		}
	}
	if events&EventWrite != 0 {
		if err := p.change(fd, unix.EVFILT_WRITE, unix.EV_ADD); err != nil {
			return os.NewSyscallError("kevent add", err)
		}
	}
	return nil
}

func (p *kqueue) Mod(fd int, events IOEvent) error {
	if err := p.Delete(fd); err != nil {
		return err
	}
	return p.Add(fd, events)
}

func (p *kqueue) Delete(fd int) error {
	for _, filter := range []int{unix.EVFILT_READ, unix.EVFILT_WRITE} {
		if err := p.change(fd, filter, unix.EV_DELETE); err != nil && err != unix.ENOENT {
			return os.NewSyscallError("kevent delete", err)
		}
	}
	return nil
}

func (p *kqueue) Wait(events []Event, msec int) (int, error) {
	if len(p.events) != len(events) {
		p.events = make([]unix.Kevent_t, len(events))
	}
	var ts *unix.Timespec
	if msec >= 0 {
		t := unix.NsecToTimespec(int64(msec) * 1e6)
		ts = &t
	}
	n, err := unix.Kevent(p.fd, nil, p.events, ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, err
		}
		return 0, os.NewSyscallError("kevent wait", err)
	}
	for i := 0; i < n; i++ {
		kev := &p.events[i]
		var ev IOEvent
		switch int(kev.Filter) {
		case unix.EVFILT_READ:
			ev |= EventRead
		case unix.EVFILT_WRITE:
			ev |= EventWrite
		}
		if kev.Flags&unix.EV_EOF != 0 {
			ev |= EventHup
		}
		if kev.Flags&unix.EV_ERROR != 0 {
			ev |= EventErr
		}
		events[i] = Event{Fd: int(kev.Ident), Events: ev}
	}
	return n, nil
}

func (p *kqueue) Close() error {
	return os.NewSyscallError("close", unix.Close(p.fd))
}
