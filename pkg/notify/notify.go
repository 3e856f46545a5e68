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

// Package notify provides typed multicast notifications: an ordered list of
// subscribers that are all invoked on each emission, yielding an aggregate outcome.
package notify

import "go.uber.org/multierr"

// Action is an action that occurs after the completion of a notification.
type Action int

const (
	// None indicates that no action should occur following a notification.
	None Action = iota

	// Close removes the descriptor from its listener.
	Close

	// Shutdown stops the event-loop.
	Shutdown
)

// String returns the name of the action.
func (a Action) String() string {
	switch a {
	case None:
		return "none"
	case Close:
		return "close"
	case Shutdown:
		return "shutdown"
	}
	return "unknown"
}

// Handler is a subscriber of a Signal.
type Handler[T any] func(T) (Action, error)

// Signal is an ordered list of subscribers for one kind of notification.
// It is not safe for concurrent use, the owner of the signal serializes access.
type Signal[T any] struct {
	name     string
	handlers []Handler[T]
}

// New returns an empty named signal.
func New[T any](name string) *Signal[T] {
	return &Signal[T]{name: name}
}

// Name returns the name given to the signal.
func (s *Signal[T]) Name() string {
	return s.name
}

// Connect appends h to the subscribers and returns its position.
func (s *Signal[T]) Connect(h Handler[T]) int {
	s.handlers = append(s.handlers, h)
	return len(s.handlers) - 1
}

// DisconnectAll drops every subscriber.
func (s *Signal[T]) DisconnectAll() {
	s.handlers = nil
}

// Len returns the number of subscribers.
func (s *Signal[T]) Len() int {
	return len(s.handlers)
}

// Empty tells whether nobody is subscribed.
func (s *Signal[T]) Empty() bool {
	return len(s.handlers) == 0
}

// Emit invokes every subscriber in registration order. The returned action is
// the strongest one requested (None < Close < Shutdown) and the returned error
// combines the errors of all subscribers.
func (s *Signal[T]) Emit(arg T) (action Action, err error) {
	// Handlers may connect more subscribers while being called,
	// those are only invoked from the next emission on.
	handlers := s.handlers
	for _, h := range handlers {
		a, e := h(arg)
		if a > action {
			action = a
		}
		err = multierr.Append(err, e)
	}
	return
}
