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
	"os"

	"golang.org/x/sys/unix"
)

// sysIO is the set of OS calls a Descriptor and a Listener issue against a file descriptor.
type sysIO interface {
	// pending returns the number of bytes available for reading without consuming them.
	pending(fd int) (int, error)
	read(fd int, p []byte) (int, error)
	write(fd int, p []byte) (int, error)
	// waitWritable blocks until fd accepts more bytes.
	waitWritable(fd int) error
	shutdown(fd int) error
}

type unixIO struct{}

var defaultSys sysIO = unixIO{}

func (unixIO) pending(fd int) (int, error) {
	n, err := unix.IoctlGetInt(fd, ioctlPending)
	return n, os.NewSyscallError("ioctl FIONREAD", err)
}

func (unixIO) read(fd int, p []byte) (int, error) {
	for {
		n, err := unix.Read(fd, p)
		if err == unix.EINTR {
			continue
		}
		if n < 0 {
			n = 0
		}
		return n, err
	}
}

func (unixIO) write(fd int, p []byte) (int, error) {
	for {
		n, err := unix.Write(fd, p)
		if err == unix.EINTR {
			continue
		}
		if n < 0 {
			n = 0
		}
		return n, err
	}
}

func (unixIO) waitWritable(fd int) error {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
	for {
		_, err := unix.Poll(fds, -1)
		if err == unix.EINTR {
			continue
		}
		return os.NewSyscallError("poll", err)
	}
}

func (unixIO) shutdown(fd int) error {
	return os.NewSyscallError("shutdown", unix.Shutdown(fd, unix.SHUT_RDWR))
}
