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

//go:build linux

package netpoll

import (
	"os"

	"golang.org/x/sys/unix"
)

type epoll struct {
	fd     int
	events []unix.EpollEvent
}

// OpenPoller instantiates an epoll poller, sizeHint is the expected number of descriptors.
func OpenPoller(sizeHint int) (Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	return &epoll{fd: fd, events: make([]unix.EpollEvent, NewEventList(sizeHint).Size())}, nil
}

func toEpoll(events IOEvent) (ev uint32) {
	if events&EventRead != 0 {
		ev |= unix.EPOLLIN
	}
	if events&EventPri != 0 {
		ev |= unix.EPOLLPRI
	}
	if events&EventWrite != 0 {
		ev |= unix.EPOLLOUT
	}
	if events&EventErr != 0 {
		ev |= unix.EPOLLERR
	}
	if events&EventHup != 0 {
		ev |= unix.EPOLLHUP
	}
	return
}

func fromEpoll(ev uint32) (events IOEvent) {
	if ev&unix.EPOLLIN != 0 {
		events |= EventRead
	}
	if ev&unix.EPOLLPRI != 0 {
		events |= EventPri
	}
	if ev&unix.EPOLLOUT != 0 {
		events |= EventWrite
	}
	if ev&unix.EPOLLERR != 0 {
		events |= EventErr
	}
	if ev&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		events |= EventHup
	}
	return
}

func (p *epoll) Add(fd int, events IOEvent) error {
	return os.NewSyscallError("epoll_ctl add",
		unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Fd: int32(fd), Events: toEpoll(events)}))
}

func (p *epoll) Mod(fd int, events IOEvent) error {
	return os.NewSyscallError("epoll_ctl mod",
		unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Fd: int32(fd), Events: toEpoll(events)}))
}

func (p *epoll) Delete(fd int) error {
	return os.NewSyscallError("epoll_ctl del", unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil))
}

func (p *epoll) Wait(events []Event, msec int) (int, error) {
	if len(p.events) != len(events) {
		p.events = make([]unix.EpollEvent, len(events))
	}
	n, err := unix.EpollWait(p.fd, p.events, msec)
	if err != nil {
		if err == unix.EINTR {
			return 0, err
		}
		return 0, os.NewSyscallError("epoll_wait", err)
	}
	for i := 0; i < n; i++ {
		events[i] = Event{Fd: int(p.events[i].Fd), Events: fromEpoll(p.events[i].Events)}
	}
	return n, nil
}

func (p *epoll) Close() error {
	return os.NewSyscallError("close", unix.Close(p.fd))
}
