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

import "github.com/iolistener/iolistener/pkg/logging"

// Option is a function that will set up option.
type Option func(opts *Options)

func loadOptions(options ...Option) *Options {
	opts := &Options{
		Timeout:         -1,
		MaxDescriptors:  DefaultMaxDescriptors,
		DefaultInterest: DefaultInterest,
	}
	for _, option := range options {
		option(opts)
	}
	return opts
}

// DefaultMaxDescriptors is the size hint handed to the poller when WithMaxDescriptors is not set.
const DefaultMaxDescriptors = 1024

// Options are configurations for the Listener.
type Options struct {
	// Timeout is the number of milliseconds a wait blocks before the idle notification fires,
	// -1 blocks indefinitely.
	Timeout int

	// MaxDescriptors is the expected number of registered descriptors, it sizes the first event-list.
	MaxDescriptors int

	// DefaultInterest is the interest mask new descriptors are registered with,
	// the listener refines it per descriptor mode on every re-arm.
	DefaultInterest IOEvent

	// Logger is the customized logger for logging info, if it is not set,
	// then iolistener will use the default logger powered by go.uber.org/zap.
	Logger logging.Logger

	// Poller replaces the OS readiness multiplexer, mostly useful in tests.
	Poller Poller

	// LockOSThread is used to determine whether the event-loop is bound to an OS thread.
	LockOSThread bool

	sys sysIO
}

// WithOptions sets up all options.
func WithOptions(options Options) Option {
	return func(opts *Options) {
		*opts = options
	}
}

// WithTimeout sets up the wait timeout in milliseconds.
func WithTimeout(msec int) Option {
	return func(opts *Options) {
		opts.Timeout = msec
	}
}

// WithMaxDescriptors sets up the expected number of descriptors.
func WithMaxDescriptors(n int) Option {
	return func(opts *Options) {
		opts.MaxDescriptors = n
	}
}

// WithDefaultInterest sets up the interest mask used on registration.
func WithDefaultInterest(ev IOEvent) Option {
	return func(opts *Options) {
		opts.DefaultInterest = ev
	}
}

// WithLogger sets up a customized logger.
func WithLogger(logger logging.Logger) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithPoller sets up a customized readiness multiplexer.
func WithPoller(p Poller) Option {
	return func(opts *Options) {
		opts.Poller = p
	}
}

// WithLockOSThread sets up LockOSThread mode for the event-loop.
func WithLockOSThread(lockOSThread bool) Option {
	return func(opts *Options) {
		opts.LockOSThread = lockOSThread
	}
}

func withSysIO(sys sysIO) Option {
	return func(opts *Options) {
		opts.sys = sys
	}
}
