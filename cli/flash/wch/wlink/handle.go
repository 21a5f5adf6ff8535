//
// Copyright (c) 2014-2019 Cesanta Software Limited
// All rights reserved
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
//
package wlink

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"
	flock "github.com/theckman/go-flock"

	"github.com/mongoose-os/wchflash/common/multierror"
)

// Pipe selects one of the two adapter endpoint pairs.
type Pipe int

const (
	PipeCommand Pipe = iota
	PipeData
)

// Link moves raw bytes to and from the adapter.
type Link interface {
	Write(ctx context.Context, pipe Pipe, p []byte) error
	Read(ctx context.Context, pipe Pipe, p []byte) (int, error)
	Close() error
}

// Opener connects to the adapter selected by path. The returned key
// identifies the physical adapter and is stable across replugs when the
// adapter has a serial number.
type Opener interface {
	OpenLink(ctx context.Context, path string) (Link, string, error)
}

// Sender issues a single command and waits for its response.
type Sender interface {
	Send(ctx context.Context, cmd *Command) (*Response, error)
}

type Options struct {
	StatusTimeout time.Duration
	BlockTimeout  time.Duration
	EraseTimeout  time.Duration
	// Number of consecutive unanswered commands after which the link is
	// considered lost.
	MaxMisses int
	// Directory for lock files, os.TempDir() if empty.
	LockDir string
}

func (o *Options) withDefaults() Options {
	r := Options{}
	if o != nil {
		r = *o
	}
	if r.StatusTimeout <= 0 {
		r.StatusTimeout = 1 * time.Second
	}
	if r.BlockTimeout <= 0 {
		r.BlockTimeout = 5 * time.Second
	}
	if r.EraseTimeout <= 0 {
		r.EraseTimeout = 30 * time.Second
	}
	if r.MaxMisses <= 0 {
		r.MaxMisses = 3
	}
	if r.LockDir == "" {
		r.LockDir = os.TempDir()
	}
	return r
}

// Handle is an open, exclusively locked connection to an adapter.
type Handle struct {
	mu     sync.Mutex
	opener Opener
	opts   Options
	path   string
	key    string
	link   Link
	lock   *flock.Flock
	speed  Speed
	alive  bool
	closed bool
	misses int
}

const maxStaleFrames = 3

var lockNameRe = regexp.MustCompile(`[^A-Za-z0-9._-]`)

func lockPath(dir, key string) string {
	return filepath.Join(dir, "wchflash-"+lockNameRe.ReplaceAllString(key, "_")+".lock")
}

// Open connects to the adapter at path and takes the device lock.
// A second Open of the same adapter fails with Busy until the first
// handle is closed.
func Open(ctx context.Context, opener Opener, path string, opts *Options) (*Handle, error) {
	o := opts.withDefaults()
	link, key, err := opener.OpenLink(ctx, path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	lp := lockPath(o.LockDir, key)
	lock := flock.NewFlock(lp)
	locked, err := lock.TryLock()
	if err != nil || !locked {
		link.Close()
		if err == nil {
			err = errors.Errorf("%s is held by another session", lp)
		}
		return nil, &ConnectionError{Kind: Busy, Path: path, Op: "open", Err: err}
	}
	glog.V(1).Infof("%s: opened %s, lock %s", path, key, lp)
	return &Handle{
		opener: opener,
		opts:   o,
		path:   path,
		key:    key,
		link:   link,
		lock:   lock,
		alive:  true,
	}, nil
}

func (h *Handle) Path() string {
	return h.path
}

func (h *Handle) Key() string {
	return h.key
}

func (h *Handle) Speed() Speed {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.speed
}

func (h *Handle) Alive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.alive && !h.closed
}

func (h *Handle) timeoutFor(c Class) time.Duration {
	switch c {
	case ClassBlock:
		return h.opts.BlockTimeout
	case ClassErase:
		return h.opts.EraseTimeout
	}
	return h.opts.StatusTimeout
}

func (h *Handle) connErr(kind ConnErrorKind, cmd *Command, err error) error {
	return &ConnectionError{Kind: kind, Path: h.path, Op: cmd.Name, Err: err}
}

// Send issues cmd and returns the adapter's response. A command that gets
// no answer within its class timeout fails with Timeout; after MaxMisses
// of those in a row, or if the device disappears, the handle is marked dead
// and every Send fails with LinkLost until Reconnect succeeds.
func (h *Handle) Send(ctx context.Context, cmd *Command) (*Response, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, h.connErr(LinkLost, cmd, errors.New("handle closed"))
	}
	if !h.alive {
		return nil, h.connErr(LinkLost, cmd, nil)
	}
	tctx, cancel := context.WithTimeout(ctx, h.timeoutFor(cmd.Class))
	defer cancel()
	resp, err := h.exchange(tctx, cmd)
	if err == nil {
		h.misses = 0
		return resp, nil
	}
	cause := errors.Cause(err)
	if de, ok := cause.(*DeviceError); ok {
		h.misses = 0
		de.Cmd, de.Op = cmd.Code, cmd.Name
		return nil, errors.Trace(de)
	}
	if ctx.Err() != nil {
		return nil, errors.Annotatef(ctx.Err(), "%s", cmd.Name)
	}
	if cause == ErrNoDevice {
		h.alive = false
		glog.Warningf("%s: device gone during %s", h.path, cmd.Name)
		return nil, h.connErr(LinkLost, cmd, err)
	}
	if cause != ErrLinkTimeout && cause != context.DeadlineExceeded && !isMalformed(err) {
		glog.Warningf("%s: %s: %s", h.path, cmd.Name, err)
	}
	h.misses++
	if h.misses >= h.opts.MaxMisses {
		h.alive = false
		glog.Warningf("%s: no response to %d commands in a row", h.path, h.misses)
		return nil, h.connErr(LinkLost, cmd, err)
	}
	return nil, h.connErr(Timeout, cmd, err)
}

func (h *Handle) exchange(ctx context.Context, cmd *Command) (*Response, error) {
	frame, err := EncodeRequest(cmd.Code, cmd.Payload)
	if err != nil {
		return nil, errors.Trace(err)
	}
	glog.V(4).Infof("%s >> % x", h.key, frame)
	if err := h.link.Write(ctx, PipeCommand, frame); err != nil {
		return nil, errors.Trace(err)
	}
	if len(cmd.Data) > 0 {
		if err := h.link.Write(ctx, PipeData, cmd.Data); err != nil {
			return nil, errors.Trace(err)
		}
	}
	buf := make([]byte, MaxFrameSize)
	for i := 0; i < maxStaleFrames; i++ {
		n, err := h.link.Read(ctx, PipeCommand, buf)
		if err != nil {
			return nil, errors.Trace(err)
		}
		glog.V(4).Infof("%s << % x", h.key, buf[:n])
		code, payload, err := DecodeResponse(buf[:n])
		if err != nil {
			return nil, err
		}
		if code != cmd.Code {
			glog.V(1).Infof("%s: discarding stale response %#02x", h.key, code)
			continue
		}
		resp := &Response{Code: code, Payload: append([]byte(nil), payload...)}
		if cmd.ReadLen > 0 {
			if resp.Data, err = h.readData(ctx, cmd.ReadLen); err != nil {
				return nil, errors.Trace(err)
			}
		}
		return resp, nil
	}
	return nil, &malformedError{"no matching response"}
}

func (h *Handle) readData(ctx context.Context, n int) ([]byte, error) {
	data := make([]byte, n)
	for got := 0; got < n; {
		m, err := h.link.Read(ctx, PipeData, data[got:])
		if err != nil {
			return nil, errors.Trace(err)
		}
		if m == 0 {
			return nil, &malformedError{"empty data packet"}
		}
		got += m
	}
	return data, nil
}

// Reconnect reopens the link to the same adapter, keeping the lock.
// The negotiated speed is reset.
func (h *Handle) Reconnect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errors.Errorf("%s: handle closed", h.path)
	}
	if h.link != nil {
		h.link.Close()
		h.link = nil
	}
	h.alive = false
	link, key, err := h.opener.OpenLink(ctx, h.path)
	if err != nil {
		return errors.Annotatef(err, "reconnect")
	}
	if key != h.key {
		link.Close()
		return &ConnectionError{
			Kind: NotFound, Path: h.path, Op: "reconnect",
			Err: errors.Errorf("expected adapter %s, found %s", h.key, key),
		}
	}
	h.link = link
	h.alive = true
	h.misses = 0
	h.speed = SpeedUnknown
	glog.Infof("%s: reconnected to %s", h.path, key)
	return nil
}

// SetSpeed negotiates the adapter-to-target link speed.
func (h *Handle) SetSpeed(ctx context.Context, family byte, s Speed) error {
	if _, err := h.Send(ctx, setSpeedCmd(family, s)); err != nil {
		return errors.Annotatef(err, "failed to set speed %s", s)
	}
	h.mu.Lock()
	h.speed = s
	h.mu.Unlock()
	return nil
}

// Close releases the link and the device lock. It is safe to call more than once.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.alive = false
	var errs error
	if h.link != nil {
		if err := h.link.Close(); err != nil {
			errs = multierror.Append(errs, errors.Annotatef(err, "close link"))
		}
		h.link = nil
	}
	if err := h.lock.Unlock(); err != nil {
		errs = multierror.Append(errs, errors.Annotatef(err, "unlock %s", h.lock.Path()))
	}
	glog.V(1).Infof("%s: closed", h.path)
	return errs
}
