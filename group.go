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

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	errorx "github.com/iolistener/iolistener/pkg/errors"
)

// LoadBalancing represents the type of load-balancing algorithm.
type LoadBalancing int

const (
	// RoundRobin assigns the next descriptor to the listener by polling the listener list.
	RoundRobin LoadBalancing = iota

	// LeastDescriptors assigns the next descriptor to the listener that is
	// serving the least number of descriptors at the current time.
	LeastDescriptors

	// SourceAddrHash assigns the next descriptor to the listener by taking the remainder of a hash code.
	SourceAddrHash
)

type (
	// loadBalancer is an interface which manipulates the listener set.
	loadBalancer interface {
		register(*Listener)
		next(int) *Listener
		iterate(func(int, *Listener) bool)
		len() int
	}

	roundRobinLoadBalancer struct {
		nextIndex int
		listeners []*Listener
	}

	leastDescriptorsLoadBalancer []*Listener

	sourceAddrHashLoadBalancer []*Listener
)

func (lb *roundRobinLoadBalancer) register(l *Listener) {
	lb.listeners = append(lb.listeners, l)
}

func (lb *roundRobinLoadBalancer) next(_ int) (l *Listener) {
	l = lb.listeners[lb.nextIndex]
	if lb.nextIndex++; lb.nextIndex >= len(lb.listeners) {
		lb.nextIndex = 0
	}
	return
}

func (lb *roundRobinLoadBalancer) iterate(f func(int, *Listener) bool) {
	for i, l := range lb.listeners {
		if !f(i, l) {
			break
		}
	}
}

func (lb *roundRobinLoadBalancer) len() int {
	return len(lb.listeners)
}

func (lb *leastDescriptorsLoadBalancer) register(l *Listener) {
	*lb = append(*lb, l)
}

func (lb *leastDescriptorsLoadBalancer) next(_ int) (l *Listener) {
	listeners := *lb
	l = listeners[0]
	least := l.loadCount()
	for _, cur := range listeners[1:] {
		if n := cur.loadCount(); n < least {
			least = n
			l = cur
		}
	}
	return
}

func (lb *leastDescriptorsLoadBalancer) iterate(f func(int, *Listener) bool) {
	for i, l := range *lb {
		if !f(i, l) {
			break
		}
	}
}

func (lb *leastDescriptorsLoadBalancer) len() int {
	return len(*lb)
}

func (lb *sourceAddrHashLoadBalancer) register(l *Listener) {
	*lb = append(*lb, l)
}

func (lb *sourceAddrHashLoadBalancer) next(hashCode int) *Listener {
	i := hashCode % len(*lb)
	if i < 0 {
		i = -i
	}
	return (*lb)[i]
}

func (lb *sourceAddrHashLoadBalancer) iterate(f func(int, *Listener) bool) {
	for i, l := range *lb {
		if !f(i, l) {
			break
		}
	}
}

func (lb *sourceAddrHashLoadBalancer) len() int {
	return len(*lb)
}

// Group is a set of initialized listeners, each running its own event-loop,
// that descriptors are spread over.
type Group struct {
	mu sync.Mutex
	lb loadBalancer
}

// NewGroup creates and initializes n listeners configured by opts.
func NewGroup(n int, balancing LoadBalancing, opts ...Option) (*Group, error) {
	if n <= 0 {
		n = 1
	}
	g := new(Group)
	switch balancing {
	case LeastDescriptors:
		g.lb = new(leastDescriptorsLoadBalancer)
	case SourceAddrHash:
		g.lb = new(sourceAddrHashLoadBalancer)
	default:
		g.lb = new(roundRobinLoadBalancer)
	}
	for i := 0; i < n; i++ {
		l := New(opts...)
		if err := l.Init(); err != nil {
			_ = g.Shutdown()
			return nil, err
		}
		g.lb.register(l)
	}
	return g, nil
}

// Next returns the listener the next descriptor goes to, hashCode only matters to SourceAddrHash.
func (g *Group) Next(hashCode int) *Listener {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lb.next(hashCode)
}

// Iterate calls f for every listener until it returns false.
func (g *Group) Iterate(f func(int, *Listener) bool) {
	g.lb.iterate(f)
}

// Len returns the number of listeners.
func (g *Group) Len() int {
	return g.lb.len()
}

// Run runs every event-loop and blocks until all of them exit. When ctx is done or one
// event-loop fails, the others are shut down. It returns the first error.
func (g *Group) Run(ctx context.Context) error {
	eg, gctx := errgroup.WithContext(ctx)
	var wg sync.WaitGroup
	g.Iterate(func(_ int, l *Listener) bool {
		wg.Add(1)
		eg.Go(func() error {
			defer wg.Done()
			// Shut down before its loop got to run is not a failure.
			if err := l.Run(); !errors.Is(err, errorx.ErrListenerInShutdown) {
				return err
			}
			return nil
		})
		return true
	})
	stopped := make(chan struct{})
	go func() {
		wg.Wait()
		close(stopped)
	}()
	eg.Go(func() error {
		select {
		case <-gctx.Done():
			_ = g.Shutdown()
		case <-stopped:
		}
		return nil
	})
	return eg.Wait()
}

// Shutdown shuts every listener down, listeners already in shutdown are skipped.
func (g *Group) Shutdown() (err error) {
	g.Iterate(func(_ int, l *Listener) bool {
		if e := l.Shutdown(); e != nil && !errors.Is(e, errorx.ErrListenerInShutdown) && !errors.Is(e, errorx.ErrNotInitialized) {
			err = multierr.Append(err, e)
		}
		return true
	})
	return
}
