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

// Package errors defines common errors for iolistener.
package errors

import "errors"

var (
	// ErrDuplicateDescriptor occurs when adding a file descriptor that is already registered in the listener.
	ErrDuplicateDescriptor = errors.New("iolistener: file descriptor is already in the poll set")
	// ErrNotFound occurs when the given file descriptor is not registered in the listener.
	ErrNotFound = errors.New("iolistener: file descriptor is not in the poll set")
	// ErrOverflow occurs when the bytes available on a descriptor exceed its max packet size,
	// the bytes are left unread and no subscriber is notified.
	ErrOverflow = errors.New("iolistener: packet size exceeds the max packet size")
	// ErrShutdownSignaled occurs when a readable descriptor reports zero or fewer bytes available,
	// which means the remote end hung up.
	ErrShutdownSignaled = errors.New("iolistener: shutdown signal on file descriptor")
	// ErrWriteFailed occurs when a write accepted zero bytes in the middle of a transfer.
	ErrWriteFailed = errors.New("iolistener: write returned 0 bytes written")
	// ErrTerminalEnd occurs when a subscriber asks the event-loop to stop.
	ErrTerminalEnd = errors.New("iolistener: terminal end requested by subscriber")
	// ErrEmptyInterest occurs when running a listener whose default interest mask is empty.
	ErrEmptyInterest = errors.New("iolistener: events poll empty, dismissing this listener")
	// ErrNotInitialized occurs when using a listener before Init is called.
	ErrNotInitialized = errors.New("iolistener: listener is not initialized")
	// ErrAlreadyInitialized occurs when calling Init more than once.
	ErrAlreadyInitialized = errors.New("iolistener: listener is already initialized")
	// ErrAlreadyRunning occurs when Run is called on a listener whose event-loop is already running.
	ErrAlreadyRunning = errors.New("iolistener: listener is already running")
	// ErrListenerInShutdown occurs when attempting to shut the listener down more than once.
	ErrListenerInShutdown = errors.New("iolistener: listener is already in shutdown")
	// ErrInvalidMode occurs when a descriptor is given an illegal combination of mode flags.
	ErrInvalidMode = errors.New("iolistener: invalid combination of descriptor mode flags")
	// ErrBufferTooSmall occurs when an external buffer cannot hold the configured window.
	ErrBufferTooSmall = errors.New("iolistener: external buffer is smaller than the window size")
	// ErrNotWritable occurs when writing through a descriptor that is not write-interested.
	ErrNotWritable = errors.New("iolistener: descriptor is not write-interested")
	// ErrNotLoopOwner occurs when mutating a running listener from outside its event-loop,
	// use Listener.Trigger instead.
	ErrNotLoopOwner = errors.New("iolistener: running listener mutated outside of its event-loop")
	// ErrNilTask occurs when trying to trigger a nil task.
	ErrNilTask = errors.New("iolistener: nil task is not allowed")
	// ErrInvalidAddress occurs when an address string cannot be parsed into a socket address.
	ErrInvalidAddress = errors.New("iolistener: invalid network address")
)
