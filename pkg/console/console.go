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

// Package console drives a raw-mode terminal input through its own iolistener.Listener
// and reports every key sequence read from it. A single ESC byte stops the console.
package console

import (
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/iolistener/iolistener"
	errorx "github.com/iolistener/iolistener/pkg/errors"
	"github.com/iolistener/iolistener/pkg/logging"
	"github.com/iolistener/iolistener/pkg/notify"
	"github.com/iolistener/iolistener/pkg/pool/goroutine"
)

const (
	// KeyEscape pressed alone stops the console.
	KeyEscape = 0x1b

	// MaxKeySequence is the longest key sequence accepted in one read.
	MaxKeySequence = 6

	// DefaultTimeout is the idle tick of the console listener, in milliseconds.
	DefaultTimeout = 1000
)

// Option is a function that will set up option.
type Option func(opts *Options)

// Options are configurations for the Console.
type Options struct {
	// Input is the terminal file descriptor, stdin by default.
	Input int
	// Timeout is the idle tick in milliseconds.
	Timeout int
	// Logger is the customized logger, the default logger is used if it is not set.
	Logger logging.Logger
	// Pool runs the event-loop, goroutine.DefaultWorkerPool if it is not set.
	Pool *goroutine.Pool
}

// WithInput sets up the input file descriptor.
func WithInput(fd int) Option {
	return func(opts *Options) {
		opts.Input = fd
	}
}

// WithTimeout sets up the idle tick.
func WithTimeout(msec int) Option {
	return func(opts *Options) {
		opts.Timeout = msec
	}
}

// WithLogger sets up a customized logger.
func WithLogger(logger logging.Logger) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithPool sets up the goroutine pool the event-loop runs on.
func WithPool(pool *goroutine.Pool) Option {
	return func(opts *Options) {
		opts.Pool = pool
	}
}

// Console owns a terminal input and the listener reading it.
type Console struct {
	opts     *Options
	logger   logging.Logger
	listener *iolistener.Listener
	saved    *unix.Termios
	started  int32

	keySignal  *notify.Signal[[]byte]
	idleSignal *notify.Signal[*Console]

	done chan struct{}
	err  error
}

// New returns a console reading from the configured input.
func New(opts ...Option) *Console {
	options := &Options{Input: unix.Stdin, Timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(options)
	}
	if options.Logger == nil {
		options.Logger = logging.GetDefaultLogger()
	}
	if options.Pool == nil {
		options.Pool = goroutine.DefaultWorkerPool
	}
	return &Console{
		opts:       options,
		logger:     options.Logger,
		keySignal:  notify.New[[]byte]("key"),
		idleSignal: notify.New[*Console]("console idle"),
		done:       make(chan struct{}),
	}
}

// KeySignal is fired with a copy of every key sequence but the lone ESC.
func (c *Console) KeySignal() *notify.Signal[[]byte] { return c.keySignal }

// IdleSignal is fired on every idle tick of the console listener.
func (c *Console) IdleSignal() *notify.Signal[*Console] { return c.idleSignal }

// Listener returns the listener reading the input, nil before Start.
func (c *Console) Listener() *iolistener.Listener { return c.listener }

// Start puts the input in raw mode and runs the event-loop on a locked goroutine of the pool.
func (c *Console) Start() (err error) {
	if !atomic.CompareAndSwapInt32(&c.started, 0, 1) {
		return errorx.ErrAlreadyRunning
	}
	// A failed start still releases Wait.
	defer func() {
		if err != nil {
			c.err = err
			close(c.done)
		}
	}()
	l := iolistener.New(
		iolistener.WithTimeout(c.opts.Timeout),
		iolistener.WithLogger(c.logger),
		iolistener.WithLockOSThread(true),
	)
	if err = l.Init(); err != nil {
		return
	}
	defer func() {
		if err != nil {
			_ = l.Shutdown()
			c.restore()
		}
	}()

	if err = c.makeRaw(); err != nil {
		return
	}
	if err = l.AddIfd(c.opts.Input, iolistener.ModeRead|iolistener.ModeAutofill); err != nil {
		return
	}
	d, _ := l.QueryFd(c.opts.Input)
	d.SetMaxPacketSize(MaxKeySequence)
	d.ReadSignal().Connect(c.keyIn)
	l.IdleSignal().Connect(func(*iolistener.Listener) (iolistener.Action, error) {
		return c.idleSignal.Emit(c)
	})
	closed := func(*iolistener.Descriptor) (iolistener.Action, error) {
		c.logger.Infof("console input fd[%d] closed", c.opts.Input)
		return iolistener.Shutdown, nil
	}
	l.HupSignal().Connect(closed)
	l.ZeroSignal().Connect(closed)
	l.ErrorSignal().Connect(closed)
	c.listener = l

	c.logger.Infof("starting the console event-loop on fd[%d]", c.opts.Input)
	if err = c.opts.Pool.Submit(func() {
		c.err = l.Run()
		c.restore()
		close(c.done)
	}); err != nil {
		c.logger.Errorf("console event-loop not started: %v", err)
	}
	return
}

func (c *Console) keyIn(d *iolistener.Descriptor) (iolistener.Action, error) {
	seq := d.Bytes()
	if len(seq) == 1 && seq[0] == KeyEscape {
		c.logger.Infof("[ESC] pressed, terminating the console event-loop")
		return iolistener.Shutdown, nil
	}
	c.logger.Debugf("console input %d bytes in, seq:[% x]", len(seq), seq)
	return c.keySignal.Emit(append([]byte(nil), seq...))
}

// Stop asks the event-loop to exit, Wait returns once it has.
func (c *Console) Stop() error {
	if c.listener == nil {
		return errorx.ErrNotInitialized
	}
	return c.listener.Trigger(func() error { return errorx.ErrTerminalEnd })
}

// Wait blocks until the event-loop exits and returns its result.
func (c *Console) Wait() error {
	<-c.done
	return c.err
}

// Size returns the number of columns and rows of the terminal behind fd.
func Size(fd int) (cols, rows int, err error) {
	ws, err := unix.IoctlGetWinsize(fd, unix.TIOCGWINSZ)
	if err != nil {
		return 0, 0, err
	}
	return int(ws.Col), int(ws.Row), nil
}

// makeRaw switches the input to raw mode: no line editing, no echo, reads return after
// a tenth of a second even without input. A non-terminal input is left untouched.
func (c *Console) makeRaw() error {
	saved, err := unix.IoctlGetTermios(c.opts.Input, ioctlGetTermios)
	if err != nil {
		c.logger.Warnf("console input fd[%d] is not a terminal, raw mode skipped: %v", c.opts.Input, err)
		return nil
	}
	raw := *saved
	raw.Iflag &^= unix.BRKINT | unix.PARMRK | unix.ISTRIP
	raw.Iflag |= unix.IGNBRK
	raw.Cflag |= unix.CS8
	raw.Lflag &^= unix.ICANON | unix.ECHO | unix.IEXTEN | unix.TOSTOP
	raw.Cc[unix.VMIN] = 0
	raw.Cc[unix.VTIME] = 1
	raw.Cc[unix.VSTART] = 0
	raw.Cc[unix.VSTOP] = 0
	if err = unix.IoctlSetTermios(c.opts.Input, ioctlSetTermiosFlush, &raw); err != nil {
		return err
	}
	c.saved = saved
	return nil
}

func (c *Console) restore() {
	if c.saved == nil {
		return
	}
	if err := unix.IoctlSetTermios(c.opts.Input, ioctlSetTermiosFlush, c.saved); err != nil {
		c.logger.Errorf("console cannot restore fd[%d]: %v", c.opts.Input, err)
	}
	c.saved = nil
}
