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

// Package socket provides the IPv4 TCP helpers iolistener consumers build on:
// address strings to socket addresses, host lookups, listening and accepting.
package socket

import (
	"os"

	"golang.org/x/sys/unix"
)

// Option is used for setting an option on socket.
type Option[T int | string] struct {
	SetSockOpt func(int, T) error
	Opt        T
}

func execSockOpts[T int | string](fd int, opts []Option[T]) error {
	for _, opt := range opts {
		if err := opt.SetSockOpt(fd, opt.Opt); err != nil {
			return err
		}
	}
	return nil
}

// CreateTCP creates a blocking IPv4 stream socket.
func CreateTCP() (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, os.NewSyscallError("socket", err)
	}
	unix.CloseOnExec(fd)
	return fd, nil
}

// ListenTCP creates a listening socket bound to addr, see MakeAddr for its format.
// A backlog <= 0 stands for the system maximum. SO_REUSEADDR is always set.
func ListenTCP(addr string, backlog int, opts ...Option[int]) (fd int, sa *unix.SockaddrInet4, err error) {
	if sa, err = MakeAddr(addr, "tcp"); err != nil {
		return -1, nil, err
	}
	if fd, err = CreateTCP(); err != nil {
		return -1, nil, err
	}
	defer func() {
		if err != nil {
			_ = unix.Close(fd)
			fd = -1
		}
	}()

	if err = SetReuseAddr(fd, 1); err != nil {
		return
	}
	if err = execSockOpts(fd, opts); err != nil {
		return
	}
	if err = os.NewSyscallError("bind", unix.Bind(fd, sa)); err != nil {
		return
	}
	if backlog <= 0 {
		backlog = listenerBacklogMaxSize
	}
	if err = os.NewSyscallError("listen", unix.Listen(fd, backlog)); err != nil {
		return
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		err = os.NewSyscallError("getsockname", err)
		return
	}
	if in4, ok := bound.(*unix.SockaddrInet4); ok {
		sa = in4
	}
	return
}

// DialTCP connects a new blocking socket to addr.
func DialTCP(addr string, opts ...Option[int]) (fd int, err error) {
	sa, err := MakeAddr(addr, "tcp")
	if err != nil {
		return -1, err
	}
	if fd, err = CreateTCP(); err != nil {
		return -1, err
	}
	if err = execSockOpts(fd, opts); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	for {
		err = unix.Connect(fd, sa)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		_ = unix.Close(fd)
		return -1, os.NewSyscallError("connect", err)
	}
	return fd, nil
}

// Accept blocks until the next incoming connection on fd and returns it with O_CLOEXEC set.
func Accept(fd int) (int, unix.Sockaddr, error) {
	for {
		nfd, sa, err := sysAccept(fd)
		if err == unix.EINTR || err == unix.ECONNABORTED {
			continue
		}
		if err != nil {
			return -1, nil, os.NewSyscallError("accept", err)
		}
		return nfd, sa, nil
	}
}

// SetNoDelay controls whether the operating system should delay
// packet transmission in hopes of sending fewer packets (Nagle's algorithm).
func SetNoDelay(fd, noDelay int) error {
	return os.NewSyscallError("setsockopt", unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, noDelay))
}

// SetReuseAddr enables SO_REUSEADDR option on socket.
func SetReuseAddr(fd, reuseAddr int) error {
	return os.NewSyscallError("setsockopt", unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, reuseAddr))
}

// SetRecvBuffer sets the size of the operating system's
// receive buffer associated with the connection.
func SetRecvBuffer(fd, size int) error {
	return os.NewSyscallError("setsockopt", unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, size))
}
