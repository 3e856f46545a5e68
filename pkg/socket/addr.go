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

package socket

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	errorx "github.com/iolistener/iolistener/pkg/errors"
	"github.com/iolistener/iolistener/pkg/logging"
	"github.com/iolistener/iolistener/pkg/pool/goroutine"
)

// MakeAddr parses "host:port" into an IPv4 socket address.
//
// The host is "*" for any address, a dotted quad or a name looked up for an IPv4 address.
// The port is "*" for any port, a decimal number below 65536 or a service name looked up
// for proto, "tcp" when empty.
func MakeAddr(addr, proto string) (*unix.SockaddrInet4, error) {
	if proto == "" {
		proto = "tcp"
	}
	parts := strings.Split(addr, ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("%w: %q", errorx.ErrInvalidAddress, addr)
	}
	host, service := parts[0], parts[1]

	sa := &unix.SockaddrInet4{}
	if host != "*" {
		if isDigit(host[0]) {
			ip := net.ParseIP(host).To4()
			if ip == nil {
				return nil, fmt.Errorf("%w: %q", errorx.ErrInvalidAddress, addr)
			}
			copy(sa.Addr[:], ip)
		} else {
			ip, err := lookupIPv4(host)
			if err != nil {
				return nil, err
			}
			copy(sa.Addr[:], ip)
		}
	}

	if service != "*" {
		if isDigit(service[0]) {
			port, err := strconv.Atoi(service)
			if err != nil || port < 0 || port >= 1<<16 {
				return nil, fmt.Errorf("%w: port %q", errorx.ErrInvalidAddress, service)
			}
			sa.Port = port
		} else {
			port, err := net.LookupPort(proto, service)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", errorx.ErrInvalidAddress, err)
			}
			sa.Port = port
		}
	}
	logging.Debugf("finalized socket address %s for %q", SockaddrToString(sa), addr)
	return sa, nil
}

// Host looks node up and returns its first IPv4 address as a socket address with port,
// together with the address in dotted notation.
func Host(node string, port int) (*unix.SockaddrInet4, string, error) {
	ip, err := lookupIPv4(node)
	if err != nil {
		return nil, "", err
	}
	sa := &unix.SockaddrInet4{Port: port}
	copy(sa.Addr[:], ip)
	logging.Debugf("host %s resolved to %s, port %d", node, ip, port)
	return sa, ip.String(), nil
}

// ResolveAsync runs MakeAddr on the goroutine pool and hands the result to cb,
// goroutine.DefaultWorkerPool is used when pool is nil.
func ResolveAsync(pool *goroutine.Pool, addr, proto string, cb func(*unix.SockaddrInet4, error)) error {
	if pool == nil {
		pool = goroutine.DefaultWorkerPool
	}
	return pool.Submit(func() {
		cb(MakeAddr(addr, proto))
	})
}

// MachineHostname returns the host name reported by the kernel.
func MachineHostname() (string, error) {
	return os.Hostname()
}

// SockaddrToTCPAddr converts a unix.Sockaddr to a net.TCPAddr.
// Returns nil if conversion fails.
func SockaddrToTCPAddr(sa unix.Sockaddr) *net.TCPAddr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: append(net.IP(nil), sa.Addr[:]...), Port: sa.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: append(net.IP(nil), sa.Addr[:]...), Port: sa.Port}
	}
	return nil
}

// SockaddrToString formats sa as "ip:port", "" if it is not an inet address.
func SockaddrToString(sa unix.Sockaddr) string {
	if addr := SockaddrToTCPAddr(sa); addr != nil {
		return addr.String()
	}
	return ""
}

func lookupIPv4(node string) (net.IP, error) {
	ips, err := net.LookupIP(node)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errorx.ErrInvalidAddress, err)
	}
	for _, ip := range ips {
		if ip4 := ip.To4(); ip4 != nil {
			return ip4, nil
		}
	}
	return nil, fmt.Errorf("%w: no IPv4 address for %q", errorx.ErrInvalidAddress, node)
}

func isDigit(c byte) bool {
	return '0' <= c && c <= '9'
}
