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


// Package goroutine wraps github.com/panjf2000/ants/v2, collaborators use it to run
// blocking work (a console event-loop, address lookups) off the caller's goroutine.
package goroutine

import (
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/iolistener/iolistener/pkg/logging"
)

const (
	// DefaultPoolSize is the capacity of DefaultWorkerPool. Each console or
	// pending lookup holds one worker, so the pool stays small.
	DefaultPoolSize = 1 << 10

	// ExpiryDuration is the interval time to clean up those expired workers.
	ExpiryDuration = 10 * time.Second
)

func init() {
	// It releases the default pool from ants.
	ants.Release()
}

// Pool is the alias of ants.Pool.
type Pool = ants.Pool

// NewPool returns a non-blocking pool of the given capacity, a panicking task
// is logged instead of taking the process down.
func NewPool(size int) (*Pool, error) {
	return ants.NewPool(size, ants.WithOptions(ants.Options{
		ExpiryDuration: ExpiryDuration,
		Nonblocking:    true,
		PanicHandler: func(v interface{}) {
			logging.Errorf("worker panic: %v", v)
		},
		Logger: poolLogger{},
	}))
}

// poolLogger routes ants diagnostics to the package logger.
type poolLogger struct{}

func (poolLogger) Printf(format string, args ...interface{}) {
	logging.Warnf(format, args...)
}

// DefaultWorkerPool is the global worker pool.
var DefaultWorkerPool = func() *Pool {
	p, err := NewPool(DefaultPoolSize)
	if err != nil {
		panic(err)
	}
	return p
}()
