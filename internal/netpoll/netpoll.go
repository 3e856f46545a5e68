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
Package netpoll abstracts the readiness-notification facility of the OS behind the Poller interface.

The backend is OS-specific:
  - epoll on Linux - https://man7.org/linux/man-pages/man7/epoll.7.html
  - kqueue on *BSD/Darwin - https://man.freebsd.org/cgi/man.cgi?kqueue

Events are level-triggered: a descriptor that is still readable is reported again by the next Wait.
*/
package netpoll

// IOEvent is a portable bitset of readiness conditions.
type IOEvent uint32

const (
	// EventRead reports that the descriptor is readable.
	EventRead IOEvent = 1 << iota
	// EventPri reports urgent/priority data.
	EventPri
	// EventWrite reports that the descriptor is writable.
	EventWrite
	// EventErr reports an error condition.
	EventErr
	// EventHup reports a hangup.
	EventHup
)

const (
	// ReadEvents represents readable events.
	ReadEvents = EventRead | EventPri
	// ErrEvents represents exceptional events.
	ErrEvents = EventErr | EventHup
)

// IsReadEvent checks if the event is a read event.
func IsReadEvent(event IOEvent) bool {
	return event&ReadEvents != 0
}

// IsWriteEvent checks if the event is a write event.
func IsWriteEvent(event IOEvent) bool {
	return event&EventWrite != 0
}

// IsErrorEvent checks if the event is an error or hangup event.
func IsErrorEvent(event IOEvent) bool {
	return event&ErrEvents != 0
}

// Event is one readiness report.
type Event struct {
	Fd     int
	Events IOEvent
}

// Poller is the readiness multiplexer used by a listener.
type Poller interface {
	// Add registers fd with the given interest.
	Add(fd int, events IOEvent) error
	// Mod replaces the interest of a registered fd.
	Mod(fd int, events IOEvent) error
	// Delete deregisters fd.
	Delete(fd int) error
	// Wait blocks up to msec milliseconds (-1 blocks indefinitely) and fills events,
	// it returns the number of events filled. An interrupted wait returns unix.EINTR.
	Wait(events []Event, msec int) (int, error)
	// Close releases the multiplexer handle.
	Close() error
}

const (
	// InitPollEventsCap represents the initial capacity of poller event-list.
	InitPollEventsCap = 128
	// MaxPollEventsCap is the maximum limitation of events that the poller can process.
	MaxPollEventsCap = 1024
	// MinPollEventsCap is the minimum limitation of events that the poller can process.
	MinPollEventsCap = 32
)

// EventList is the buffer handed to Poller.Wait, its size follows the load.
type EventList struct {
	size   int
	Events []Event
}

// NewEventList returns an event-list of the given size clamped to [MinPollEventsCap, MaxPollEventsCap].
func NewEventList(size int) *EventList {
	if size < MinPollEventsCap {
		size = MinPollEventsCap
	} else if size > MaxPollEventsCap {
		size = MaxPollEventsCap
	}
	return &EventList{size, make([]Event, size)}
}

// Size returns the current capacity.
func (el *EventList) Size() int {
	return el.size
}

// Adjust grows the list when the last wait filled it and shrinks it when less than half was used.
func (el *EventList) Adjust(n int) {
	if n == el.size {
		el.expand()
	} else if n < el.size>>1 {
		el.shrink()
	}
}

func (el *EventList) expand() {
	if newSize := el.size << 1; newSize <= MaxPollEventsCap {
		el.size = newSize
		el.Events = make([]Event, newSize)
	}
}

func (el *EventList) shrink() {
	if newSize := el.size >> 1; newSize >= MinPollEventsCap {
		el.size = newSize
		el.Events = make([]Event, newSize)
	}
}
