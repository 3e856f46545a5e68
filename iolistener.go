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

/*
Package iolistener is a single-threaded, descriptor-oriented I/O reactor. A Listener multiplexes
readiness events (read, write, hangup, error) over a set of OS file descriptors such as sockets,
ttys and pipes, and drives the receive and transmit state machine of each registered Descriptor,
including windowed accumulation of partial reads.

A consumer registers a file descriptor with mode flags, subscribes to the notifications of the
resulting Descriptor and runs the loop:

	l := iolistener.New(iolistener.WithTimeout(1000))
	if err := l.Init(); err != nil {
		// handle error
	}
	if err := l.AddIfd(fd, iolistener.ModeRead|iolistener.ModeAutofill); err != nil {
		// handle error
	}
	d, _ := l.QueryFd(fd)
	d.ReadSignal().Connect(func(d *iolistener.Descriptor) (iolistener.Action, error) {
		fmt.Printf("%q\n", d.Bytes())
		return iolistener.None, nil
	})
	err := l.Run()

The goroutine calling Run owns the listener: registrations happen before Run or from
notification handlers, other goroutines go through Listener.Trigger.
*/
package iolistener

import (
	"github.com/iolistener/iolistener/internal/netpoll"
	"github.com/iolistener/iolistener/pkg/notify"
)

// Action is an action that occurs after a notification has been handled.
type Action = notify.Action

const (
	// None indicates that no action should occur following a notification.
	None = notify.None

	// Close removes the descriptor from the listener once dispatch returns.
	Close = notify.Close

	// Shutdown stops the event-loop, it is the terminal end signal.
	Shutdown = notify.Shutdown
)

// Handler subscribes to the notifications of a Descriptor.
type Handler = notify.Handler[*Descriptor]

// IOEvent is a bitset of readiness conditions.
type IOEvent = netpoll.IOEvent

const (
	// EventRead reports readable data.
	EventRead = netpoll.EventRead
	// EventPri reports priority data.
	EventPri = netpoll.EventPri
	// EventWrite reports room for writing.
	EventWrite = netpoll.EventWrite
	// EventErr reports an error condition.
	EventErr = netpoll.EventErr
	// EventHup reports a hangup.
	EventHup = netpoll.EventHup

	// DefaultInterest is the interest mask a descriptor is registered with.
	DefaultInterest = EventRead | EventPri | EventErr | EventHup
)

// Poller is the readiness multiplexer a Listener waits on, see WithPoller.
type Poller = netpoll.Poller

// Event is one readiness report produced by a Poller.
type Event = netpoll.Event
