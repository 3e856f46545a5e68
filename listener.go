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
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/iolistener/iolistener/internal/netpoll"
	"github.com/iolistener/iolistener/internal/queue"
	errorx "github.com/iolistener/iolistener/pkg/errors"
	"github.com/iolistener/iolistener/pkg/logging"
	"github.com/iolistener/iolistener/pkg/notify"
)

var wakeupBytes = []byte{1}

// Listener is the event-loop: it owns a set of descriptors, waits on the OS readiness
// multiplexer and dispatches every readiness event to the matching Descriptor.
type Listener struct {
	id          uuid.UUID
	opts        *Options
	logger      logging.Logger
	sys         sysIO
	poller      Poller
	events      *netpoll.EventList
	interest    IOEvent
	descriptors map[int]*Descriptor

	count       int32
	initialized int32
	terminate   int32
	running     int32
	dispatching int32

	tasks      queue.TaskQueue
	wakeMu     sync.Mutex
	wakeR      int
	wakeW      int
	wakeBuf    []byte
	wakeupCall int32

	idleSignal  *notify.Signal[*Listener]
	hupSignal   *notify.Signal[*Descriptor]
	errorSignal *notify.Signal[*Descriptor]
	zeroSignal  *notify.Signal[*Descriptor]
}

// New returns a listener configured by the given options, call Init before using it.
func New(opts ...Option) *Listener {
	options := loadOptions(opts...)
	l := &Listener{
		id:          uuid.New(),
		opts:        options,
		logger:      options.Logger,
		sys:         options.sys,
		descriptors: make(map[int]*Descriptor),
		tasks:       queue.NewLockFreeQueue(),
		wakeR:       -1,
		wakeW:       -1,
		wakeBuf:     make([]byte, 64),
		idleSignal:  notify.New[*Listener]("idle"),
		hupSignal:   notify.New[*Descriptor]("hangup"),
		errorSignal: notify.New[*Descriptor]("error"),
		zeroSignal:  notify.New[*Descriptor]("zero"),
	}
	if l.logger == nil {
		l.logger = logging.GetDefaultLogger()
	}
	if l.sys == nil {
		l.sys = defaultSys
	}
	return l
}

// ID returns the identifier the listener logs with.
func (l *Listener) ID() uuid.UUID { return l.id }

// Interest returns the default interest mask.
func (l *Listener) Interest() IOEvent { return l.interest }

// Len returns the number of registered descriptors.
func (l *Listener) Len() int { return len(l.descriptors) }

// loadCount is Len for other goroutines.
func (l *Listener) loadCount() int32 { return atomic.LoadInt32(&l.count) }

// IdleSignal is fired when a wait returns no event within the timeout.
func (l *Listener) IdleSignal() *notify.Signal[*Listener] { return l.idleSignal }

// HupSignal is fired before a descriptor reporting a hangup is removed.
func (l *Listener) HupSignal() *notify.Signal[*Descriptor] { return l.hupSignal }

// ErrorSignal is fired before a descriptor reporting an error is removed.
func (l *Listener) ErrorSignal() *notify.Signal[*Descriptor] { return l.errorSignal }

// ZeroSignal is fired before a descriptor that signaled a remote shutdown is removed.
func (l *Listener) ZeroSignal() *notify.Signal[*Descriptor] { return l.zeroSignal }

// Init creates the readiness multiplexer and sets up the default interest mask.
func (l *Listener) Init() (err error) {
	if !atomic.CompareAndSwapInt32(&l.initialized, 0, 1) {
		return errorx.ErrAlreadyInitialized
	}
	defer func() {
		if err != nil {
			atomic.StoreInt32(&l.initialized, 0)
		}
	}()

	l.poller = l.opts.Poller
	if l.poller == nil {
		if l.poller, err = netpoll.OpenPoller(l.opts.MaxDescriptors); err != nil {
			return
		}
	}
	size := l.opts.MaxDescriptors
	if size > netpoll.InitPollEventsCap {
		size = netpoll.InitPollEventsCap
	}
	l.events = netpoll.NewEventList(size)
	l.interest = l.opts.DefaultInterest

	if err = l.openWakeup(); err != nil {
		_ = l.poller.Close()
		return
	}
	l.logger.Debugf("listener %s initialized, interest %#x, timeout %dms", l.id, uint32(l.interest), l.opts.Timeout)
	return
}

func (l *Listener) openWakeup() error {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return fmt.Errorf("wakeup pipe: %w", err)
	}
	for _, fd := range p {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(p[0])
			_ = unix.Close(p[1])
			return fmt.Errorf("wakeup pipe: %w", err)
		}
	}
	if err := l.poller.Add(p[0], EventRead); err != nil {
		_ = unix.Close(p[0])
		_ = unix.Close(p[1])
		return err
	}
	l.wakeR, l.wakeW = p[0], p[1]
	return nil
}

func (l *Listener) closeWakeup() {
	l.wakeMu.Lock()
	defer l.wakeMu.Unlock()
	if l.wakeR < 0 {
		return
	}
	_ = unix.Close(l.wakeR)
	_ = unix.Close(l.wakeW)
	l.wakeR, l.wakeW = -1, -1
}

// checkOwner rejects a mutation of a running listener made outside its dispatch.
func (l *Listener) checkOwner() error {
	if atomic.LoadInt32(&l.initialized) == 0 {
		return errorx.ErrNotInitialized
	}
	if atomic.LoadInt32(&l.running) == 1 && atomic.LoadInt32(&l.dispatching) == 0 {
		return errorx.ErrNotLoopOwner
	}
	return nil
}

// AddIfd registers fd with the given mode under the default interest mask.
func (l *Listener) AddIfd(fd int, mode Mode) error {
	if err := l.checkOwner(); err != nil {
		return err
	}
	if _, ok := l.descriptors[fd]; ok {
		return fmt.Errorf("%w: fd[%d]", errorx.ErrDuplicateDescriptor, fd)
	}
	d, err := newDescriptor(fd, mode, l.sys, l.logger)
	if err != nil {
		return err
	}
	if err = l.poller.Add(fd, l.interest); err != nil {
		d.Destroy()
		return err
	}
	d.state.Active = true
	d.interest = l.interest
	l.descriptors[fd] = d
	atomic.AddInt32(&l.count, 1)
	l.logger.Debugf("listener %s added fd[%d] as %s", l.id, fd, d.mode)
	return nil
}

// RemoveIfd deregisters fd, erases its descriptor and disconnects its notifications.
func (l *Listener) RemoveIfd(fd int) error {
	if err := l.checkOwner(); err != nil {
		return err
	}
	d, ok := l.descriptors[fd]
	if !ok {
		return fmt.Errorf("%w: fd[%d]", errorx.ErrNotFound, fd)
	}
	l.remove(d)
	return nil
}

func (l *Listener) remove(d *Descriptor) {
	if d.state.Active && atomic.LoadInt32(&l.terminate) == 0 {
		if err := l.poller.Delete(d.fd); err != nil {
			l.logger.Debugf("listener %s cannot deregister fd[%d]: %v", l.id, d.fd, err)
		}
	}
	delete(l.descriptors, d.fd)
	atomic.AddInt32(&l.count, -1)
	l.logger.Debugf("listener %s removed fd[%d]", l.id, d.fd)
	d.Destroy()
}

// PauseIfd deregisters fd from the multiplexer but keeps its descriptor addressable.
func (l *Listener) PauseIfd(fd int) error {
	if err := l.checkOwner(); err != nil {
		return err
	}
	d, ok := l.descriptors[fd]
	if !ok {
		return fmt.Errorf("%w: fd[%d]", errorx.ErrNotFound, fd)
	}
	if !d.state.Active {
		return nil
	}
	if err := l.poller.Delete(fd); err != nil {
		return err
	}
	d.state.Active = false
	l.logger.Debugf("listener %s paused fd[%d]", l.id, fd)
	return nil
}

// ResumeIfd registers a paused descriptor again.
func (l *Listener) ResumeIfd(fd int) error {
	if err := l.checkOwner(); err != nil {
		return err
	}
	d, ok := l.descriptors[fd]
	if !ok {
		return fmt.Errorf("%w: fd[%d]", errorx.ErrNotFound, fd)
	}
	if d.state.Active {
		return nil
	}
	interest := l.interestOf(d)
	if err := l.poller.Add(fd, interest); err != nil {
		return err
	}
	d.state.Active = true
	d.interest = interest
	l.logger.Debugf("listener %s resumed fd[%d]", l.id, fd)
	return nil
}

// QueryFd returns the descriptor registered for fd.
func (l *Listener) QueryFd(fd int) (*Descriptor, bool) {
	d, ok := l.descriptors[fd]
	return d, ok
}

// interestOf computes the re-arm mask from the mode of d. Write interest is only
// requested while there is something to write or someone to tell.
func (l *Listener) interestOf(d *Descriptor) IOEvent {
	ev := netpoll.ErrEvents
	if d.mode&ModeRead != 0 {
		ev |= netpoll.ReadEvents
	}
	if d.mode&ModeWrite != 0 && (d.outbound.Length() > 0 || !d.writeSignal.Empty()) {
		ev |= EventWrite
	}
	return ev
}

func (l *Listener) rearm(d *Descriptor) {
	if atomic.LoadInt32(&l.terminate) == 1 || !d.state.Active || l.descriptors[d.fd] != d {
		return
	}
	interest := l.interestOf(d)
	if err := l.poller.Mod(d.fd, interest); err != nil {
		l.logger.Errorf("listener %s cannot re-arm fd[%d]: %v", l.id, d.fd, err)
		return
	}
	d.interest = interest
}

// rearmChanged re-arms the descriptors whose mask went stale without an event of their own.
func (l *Listener) rearmChanged() {
	for _, d := range l.descriptors {
		if d.state.Active && l.interestOf(d) != d.interest {
			l.rearm(d)
		}
	}
}

// Run is the event-loop, it returns nil once Shutdown has been called.
func (l *Listener) Run() error {
	if atomic.LoadInt32(&l.initialized) == 0 {
		return errorx.ErrNotInitialized
	}
	if l.interest == 0 {
		l.logger.Infof("listener %s has an empty interest mask", l.id)
		return errorx.ErrEmptyInterest
	}
	if !atomic.CompareAndSwapInt32(&l.running, 0, 1) {
		return errorx.ErrAlreadyRunning
	}
	defer atomic.StoreInt32(&l.running, 0)
	if atomic.LoadInt32(&l.terminate) == 1 {
		return errorx.ErrListenerInShutdown
	}

	if l.opts.LockOSThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}
	defer func() {
		if atomic.LoadInt32(&l.terminate) == 1 {
			l.closeWakeup()
		}
	}()

	l.rearmChanged()
	l.logger.Debugf("listener %s running with %d descriptors", l.id, len(l.descriptors))

	for atomic.LoadInt32(&l.terminate) == 0 {
		n, err := l.poller.Wait(l.events.Events, l.opts.Timeout)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			if atomic.LoadInt32(&l.terminate) == 1 {
				break
			}
			l.logger.Errorf("listener %s wait: %v", l.id, err)
			return err
		}

		atomic.StoreInt32(&l.dispatching, 1)
		if n == 0 {
			l.idle()
		}
		var chores bool
		for i := 0; i < n; i++ {
			ev := l.events.Events[i]
			if ev.Fd == l.wakeR {
				chores = true
				continue
			}
			l.handleEvent(ev)
		}
		if chores && atomic.LoadInt32(&l.terminate) == 0 {
			l.runTasks()
		}
		// Handlers may have posted to, or subscribed on, descriptors other than their own.
		if atomic.LoadInt32(&l.terminate) == 0 {
			l.rearmChanged()
		}
		atomic.StoreInt32(&l.dispatching, 0)

		l.events.Adjust(n)
	}

	l.logger.Infof("listener %s exits event-loop", l.id)
	return nil
}

func (l *Listener) idle() {
	action, err := l.idleSignal.Emit(l)
	if err != nil {
		l.logger.Errorf("listener %s idle: %v", l.id, err)
	}
	if action == Shutdown || isTerminal(err) {
		_ = l.shutdown()
	}
}

func (l *Listener) handleEvent(ev netpoll.Event) {
	d, ok := l.descriptors[ev.Fd]
	if !ok {
		l.logger.Errorf("listener %s got event %#x for unknown fd[%d], skipped", l.id, uint32(ev.Events), ev.Fd)
		return
	}
	d.state.Readable = netpoll.IsReadEvent(ev.Events)
	d.state.Writable = netpoll.IsWriteEvent(ev.Events)

	if netpoll.IsErrorEvent(ev.Events) {
		l.errHup(d, ev.Events)
		return
	}
	if d.state.Writable && d.mode&ModeWrite != 0 {
		if l.dataOut(d) {
			return
		}
	}
	if d.state.Readable && d.state.Active && l.descriptors[d.fd] == d {
		_, action, err := d.DataIn()
		if l.settle(d, action, err) {
			return
		}
	}
	l.rearm(d)
}

// dataOut flushes the queued bytes of d and fires its write notification,
// it reports whether d is gone.
func (l *Listener) dataOut(d *Descriptor) bool {
	if err := d.flush(); err != nil {
		l.logger.Warnf("listener %s: %v", l.id, err)
		l.errHup(d, EventErr)
		return true
	}
	if d.writeSignal.Empty() {
		return false
	}
	action, err := d.emit(d.writeSignal)
	return l.settle(d, action, err)
}

// settle applies the outcome of a dispatch to d, it reports whether d is gone.
func (l *Listener) settle(d *Descriptor, action Action, err error) bool {
	switch {
	case errors.Is(err, errorx.ErrShutdownSignaled):
		zaction, zerr := l.zeroSignal.Emit(d)
		if zerr != nil {
			l.logger.Errorf("listener %s zero fd[%d]: %v", l.id, d.fd, zerr)
		}
		if l.descriptors[d.fd] == d {
			l.remove(d)
		}
		if action == Shutdown || zaction == Shutdown || isTerminal(err) || isTerminal(zerr) {
			_ = l.shutdown()
		}
		return true
	case errors.Is(err, errorx.ErrOverflow):
	case err != nil && !isTerminal(err):
		l.logger.Errorf("listener %s fd[%d]: %v", l.id, d.fd, err)
	}

	if action == Shutdown || isTerminal(err) {
		l.logger.Infof("listener %s: terminal end signaled by fd[%d]", l.id, d.fd)
		_ = l.shutdown()
		return true
	}
	if action == Close {
		if l.descriptors[d.fd] == d {
			l.remove(d)
		}
		return true
	}
	return l.descriptors[d.fd] != d
}

// errHup logs the condition, fires the matching notification and removes d.
func (l *Listener) errHup(d *Descriptor, ev IOEvent) {
	signal := l.hupSignal
	if ev&EventErr != 0 {
		signal = l.errorSignal
		l.logger.Warnf("listener %s: error on fd[%d]", l.id, d.fd)
	} else {
		l.logger.Warnf("listener %s: hangup on fd[%d]", l.id, d.fd)
	}
	action, err := signal.Emit(d)
	if err != nil {
		l.logger.Errorf("listener %s %s fd[%d]: %v", l.id, signal.Name(), d.fd, err)
	}
	if l.descriptors[d.fd] == d {
		l.remove(d)
	}
	if action == Shutdown || isTerminal(err) {
		_ = l.shutdown()
	}
}

// Trigger runs fn on the event-loop goroutine, it is the way to reach a running
// listener from another goroutine. An fn returning ErrTerminalEnd stops the loop.
func (l *Listener) Trigger(fn queue.TaskFunc) error {
	if fn == nil {
		return errorx.ErrNilTask
	}
	if atomic.LoadInt32(&l.initialized) == 0 {
		return errorx.ErrNotInitialized
	}
	if atomic.LoadInt32(&l.terminate) == 1 {
		return errorx.ErrListenerInShutdown
	}
	task := queue.GetTask()
	task.Run = fn
	l.tasks.Enqueue(task)
	if atomic.CompareAndSwapInt32(&l.wakeupCall, 0, 1) {
		return l.wakeup()
	}
	return nil
}

func (l *Listener) wakeup() error {
	l.wakeMu.Lock()
	defer l.wakeMu.Unlock()
	if l.wakeW < 0 {
		return errorx.ErrListenerInShutdown
	}
	for {
		_, err := unix.Write(l.wakeW, wakeupBytes)
		switch err {
		case nil, unix.EAGAIN:
			return nil
		case unix.EINTR:
			continue
		default:
			return fmt.Errorf("wakeup: %w", err)
		}
	}
}

func (l *Listener) runTasks() {
	for {
		n, err := unix.Read(l.wakeR, l.wakeBuf)
		if n <= 0 || err != nil {
			break
		}
	}
	atomic.StoreInt32(&l.wakeupCall, 0)

	for task := l.tasks.Dequeue(); task != nil; task = l.tasks.Dequeue() {
		err := task.Run()
		queue.PutTask(task)
		if isTerminal(err) {
			_ = l.shutdown()
		} else if err != nil {
			l.logger.Errorf("listener %s task: %v", l.id, err)
		}
		if atomic.LoadInt32(&l.terminate) == 1 {
			return
		}
	}
}

// Shutdown stops the event-loop: every registered descriptor other than the standard
// streams is shut down and the multiplexer is closed. The loop exits at the next
// iteration boundary. While the loop runs the request is handed over through Trigger,
// a handler wanting to stop at once returns the Shutdown action instead.
//
// A nil error means the shutdown was accepted, not that the loop has exited: Run returns
// nil once it has. A second request fails with ErrListenerInShutdown.
func (l *Listener) Shutdown() error {
	if atomic.LoadInt32(&l.running) == 1 {
		return l.Trigger(func() error {
			if err := l.shutdown(); !errors.Is(err, errorx.ErrListenerInShutdown) {
				return err
			}
			return nil
		})
	}
	return l.shutdown()
}

// shutdown performs the request on the loop goroutine, nil means accepted.
func (l *Listener) shutdown() error {
	if atomic.LoadInt32(&l.initialized) == 0 {
		return errorx.ErrNotInitialized
	}
	if !atomic.CompareAndSwapInt32(&l.terminate, 0, 1) {
		return errorx.ErrListenerInShutdown
	}
	for fd := range l.descriptors {
		if fd <= 2 {
			continue
		}
		if err := l.sys.shutdown(fd); err != nil && !errors.Is(err, unix.ENOTSOCK) {
			l.logger.Debugf("listener %s cannot shut fd[%d] down: %v", l.id, fd, err)
		}
	}
	if err := l.poller.Close(); err != nil {
		l.logger.Warnf("listener %s closing poller: %v", l.id, err)
	}
	if atomic.LoadInt32(&l.running) == 0 {
		l.closeWakeup()
	}
	l.logger.Infof("listener %s shutdown accepted", l.id)
	return nil
}
