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

package notify

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestSignal_EmitInOrder(t *testing.T) {
	s := New[int]("test")
	assert.True(t, s.Empty())
	assert.Equal(t, "test", s.Name())

	var calls []int
	for i := 0; i < 3; i++ {
		i := i
		s.Connect(func(arg int) (Action, error) {
			calls = append(calls, i*10+arg)
			return None, nil
		})
	}
	assert.Equal(t, 3, s.Len())

	action, err := s.Emit(1)
	require.NoError(t, err)
	assert.Equal(t, None, action)
	assert.Equal(t, []int{1, 11, 21}, calls)
}

func TestSignal_AggregateOutcome(t *testing.T) {
	s := New[string]("aggregate")
	errA, errB := errors.New("a"), errors.New("b")
	var called int
	s.Connect(func(string) (Action, error) { called++; return Close, errA })
	s.Connect(func(string) (Action, error) { called++; return Shutdown, nil })
	s.Connect(func(string) (Action, error) { called++; return None, errB })

	action, err := s.Emit("x")
	assert.Equal(t, 3, called, "every subscriber must be invoked")
	assert.Equal(t, Shutdown, action)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.Len(t, multierr.Errors(err), 2)
}

func TestSignal_DisconnectAll(t *testing.T) {
	s := New[int]("disconnect")
	s.Connect(func(int) (Action, error) { return Shutdown, nil })
	s.DisconnectAll()
	assert.True(t, s.Empty())

	action, err := s.Emit(0)
	assert.NoError(t, err)
	assert.Equal(t, None, action)
}

func TestSignal_ConnectDuringEmit(t *testing.T) {
	s := New[int]("reentrant")
	var late int
	s.Connect(func(int) (Action, error) {
		s.Connect(func(int) (Action, error) { late++; return None, nil })
		return None, nil
	})
	_, _ = s.Emit(0)
	assert.Equal(t, 0, late)
	_, _ = s.Emit(0)
	assert.Equal(t, 1, late)
}

func TestAction_String(t *testing.T) {
	assert.Equal(t, "none", None.String())
	assert.Equal(t, "close", Close.String())
	assert.Equal(t, "shutdown", Shutdown.String())
	assert.Equal(t, "unknown", Action(42).String())
}
