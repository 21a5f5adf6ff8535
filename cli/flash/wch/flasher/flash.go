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
package flasher

import (
	"context"

	"github.com/juju/errors"

	"github.com/mongoose-os/wchflash/cli/flash/wch/chip"
	"github.com/mongoose-os/wchflash/cli/flash/wch/image"
	"github.com/mongoose-os/wchflash/cli/flash/wch/wlink"
)

// Device is the target as seen through an adapter.
type Device interface {
	wlink.Sender
	Reconnect(ctx context.Context) error
	// Alive is false once the link to the adapter is lost.
	Alive() bool
	SetSpeed(ctx context.Context, s wlink.Speed) error
	IsBlank(ctx context.Context, addr, size uint32) (bool, error)
	ReadMemory(ctx context.Context, addr uint32, buf []byte) error
	EraseChip(ctx context.Context, m wlink.EraseMethod) error
	EraseSector(ctx context.Context, addr uint32) error
	WriteBlock(ctx context.Context, addr uint32, data []byte) error
	Checksum(ctx context.Context, addr, size uint32) (uint32, error)
	Reset(ctx context.Context) error
}

var _ Device = (*wlink.Target)(nil)

// Identifier tells which chip is attached.
type Identifier interface {
	Resolve(ctx context.Context, s wlink.Sender) (*chip.Profile, error)
}

// Operation is a flash session running in the background.
type Operation struct {
	q    *eventQueue
	done chan struct{}
	res  *Result
}

// Events returns the progress of the operation. The channel is closed when
// the operation finishes. Events that the reader does not pick up in time
// are dropped, oldest first.
func (op *Operation) Events() <-chan ProgressEvent {
	return op.q.ch
}

// Wait blocks until the operation finishes and returns its result.
func (op *Operation) Wait() *Result {
	<-op.done
	return op.res
}

// Dropped is the number of progress events lost so far.
func (op *Operation) Dropped() int64 {
	return op.q.Dropped()
}

// Flash writes img to the target described by p. The image is validated
// first: an ImageError is returned without touching the device.
func Flash(ctx context.Context, dev Device, id Identifier, p *chip.Profile, img *image.Image, opts *FlashOpts) (*Operation, error) {
	s, err := NewSession(p, img, opts)
	if err != nil {
		return nil, errors.Trace(err)
	}
	sq := NewSequencer(dev, id)
	op := &Operation{
		q:    newEventQueue(s.opts.EventBuffer),
		done: make(chan struct{}),
	}
	go func() {
		defer close(op.done)
		defer op.q.close()
		op.res, _ = sq.Run(ctx, s, op.q.emit)
	}()
	return op, nil
}
