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


// Package queue holds the work other goroutines hand to a listener. Producers are
// any goroutine, the single consumer is the listener's event-loop. The queue is the
// non-blocking linked list of Michael and Scott (PODC '96).
package queue

import (
	"sync"
	"sync/atomic"
)

// TaskFunc is the function executed on the event-loop.
type TaskFunc func() error

// Task is a queued TaskFunc.
type Task struct {
	Run TaskFunc
}

var taskPool = sync.Pool{New: func() interface{} { return new(Task) }}

// GetTask gets a cached Task from pool.
func GetTask() *Task {
	return taskPool.Get().(*Task)
}

// PutTask puts the used Task back in pool.
func PutTask(task *Task) {
	task.Run = nil
	taskPool.Put(task)
}

// TaskQueue is a multi-producer queue of tasks.
type TaskQueue interface {
	Enqueue(*Task)
	Dequeue() *Task
	IsEmpty() bool
	Length() int32
}

type node struct {
	task *Task
	next atomic.Pointer[node]
}

// lockFreeQueue always keeps a sentinel at head, the first task lives in head.next.
type lockFreeQueue struct {
	head atomic.Pointer[node]
	tail atomic.Pointer[node]
	n    atomic.Int32
}

// NewLockFreeQueue instantiates and returns a lock-free TaskQueue.
func NewLockFreeQueue() TaskQueue {
	q := new(lockFreeQueue)
	sentinel := new(node)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)
	return q
}

func (q *lockFreeQueue) Enqueue(task *Task) {
	n := &node{task: task}
	for {
		tail := q.tail.Load()
		next := tail.next.Load()
		if tail != q.tail.Load() {
			continue
		}
		if next != nil {
			// Another producer linked a node but has not moved tail yet.
			q.tail.CompareAndSwap(tail, next)
			continue
		}
		if tail.next.CompareAndSwap(nil, n) {
			q.tail.CompareAndSwap(tail, n)
			q.n.Add(1)
			return
		}
	}
}

// Dequeue returns nil when the queue is empty.
func (q *lockFreeQueue) Dequeue() *Task {
	for {
		head := q.head.Load()
		tail := q.tail.Load()
		next := head.next.Load()
		if head != q.head.Load() {
			continue
		}
		if next == nil {
			return nil
		}
		if head == tail {
			q.tail.CompareAndSwap(tail, next)
			continue
		}
		// Read before the swap, next becomes the sentinel afterwards.
		task := next.task
		if q.head.CompareAndSwap(head, next) {
			q.n.Add(-1)
			return task
		}
	}
}

func (q *lockFreeQueue) IsEmpty() bool {
	return q.n.Load() == 0
}

func (q *lockFreeQueue) Length() int32 {
	return q.n.Load()
}
