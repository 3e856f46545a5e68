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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newPipe(t *testing.T) (r, w int) {
	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK))
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestPoller_ReadReadiness(t *testing.T) {
	p, err := OpenPoller(4)
	require.NoError(t, err)
	defer p.Close() //nolint:errcheck

	r, w := newPipe(t)
	require.NoError(t, p.Add(r, ReadEvents|ErrEvents))

	el := NewEventList(4)
	n, err := p.Wait(el.Events, 10)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing written yet, the wait must time out")

	_, err = unix.Write(w, []byte("abc"))
	require.NoError(t, err)
	n, err = p.Wait(el.Events, 1000)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, r, el.Events[0].Fd)
	assert.True(t, IsReadEvent(el.Events[0].Events))
	assert.False(t, IsErrorEvent(el.Events[0].Events))

	// Level-triggered: unread bytes are reported again.
	n, err = p.Wait(el.Events, 1000)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, p.Delete(r))
	n, err = p.Wait(el.Events, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Error(t, p.Delete(r), "deleting twice reports ENOENT")
}

func TestPoller_ModAndHangup(t *testing.T) {
	p, err := OpenPoller(4)
	require.NoError(t, err)
	defer p.Close() //nolint:errcheck

	r, w := newPipe(t)
	require.NoError(t, p.Add(w, ErrEvents))
	require.NoError(t, p.Mod(w, EventWrite|ErrEvents))

	el := NewEventList(4)
	n, err := p.Wait(el.Events, 1000)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.True(t, IsWriteEvent(el.Events[0].Events))

	require.NoError(t, p.Delete(w))
	require.NoError(t, p.Add(r, ReadEvents|ErrEvents))
	require.NoError(t, unix.Close(w))
	n, err = p.Wait(el.Events, 1000)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.True(t, IsErrorEvent(el.Events[0].Events), "closing the writer hangs up the reader")
}

func TestEventList_Adjust(t *testing.T) {
	el := NewEventList(1)
	assert.Equal(t, MinPollEventsCap, el.Size())
	el.Adjust(MinPollEventsCap)
	assert.Equal(t, MinPollEventsCap<<1, el.Size())
	assert.Len(t, el.Events, MinPollEventsCap<<1)
	el.Adjust(0)
	assert.Equal(t, MinPollEventsCap, el.Size())
	el.Adjust(0)
	assert.Equal(t, MinPollEventsCap, el.Size(), "never below the minimum")

	el = NewEventList(MaxPollEventsCap * 4)
	assert.Equal(t, MaxPollEventsCap, el.Size())
	el.Adjust(MaxPollEventsCap)
	assert.Equal(t, MaxPollEventsCap, el.Size(), "never above the maximum")
}
