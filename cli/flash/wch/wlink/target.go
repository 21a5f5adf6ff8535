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
	"encoding/binary"

	"github.com/golang/glog"
	"github.com/juju/errors"
)

// Largest chunk moved by a single memory read command.
const ReadChunkSize = 4096

// Target exposes flash operations on the chip attached to an adapter.
type Target struct {
	h      *Handle
	family byte
}

func NewTarget(h *Handle, family byte) *Target {
	return &Target{h: h, family: family}
}

func (t *Target) Handle() *Handle {
	return t.h
}

func (t *Target) Send(ctx context.Context, cmd *Command) (*Response, error) {
	return t.h.Send(ctx, cmd)
}

func (t *Target) Reconnect(ctx context.Context) error {
	return t.h.Reconnect(ctx)
}

func (t *Target) Alive() bool {
	return t.h.Alive()
}

func (t *Target) SetSpeed(ctx context.Context, s Speed) error {
	return t.h.SetSpeed(ctx, t.family, s)
}

// IsBlank asks the adapter whether [addr, addr+size) is fully erased.
func (t *Target) IsBlank(ctx context.Context, addr, size uint32) (bool, error) {
	resp, err := t.h.Send(ctx, &Command{
		Name: "blank check", Code: CmdProgram, Class: ClassBlock,
		Payload: addrLen(ProgBlankCheck, addr, size),
	})
	if err != nil {
		return false, errors.Trace(err)
	}
	if len(resp.Payload) < 1 {
		return false, errors.Errorf("short blank check response")
	}
	return resp.Payload[0] == 1, nil
}

func (t *Target) ReadMemory(ctx context.Context, addr uint32, buf []byte) error {
	for off := 0; off < len(buf); off += ReadChunkSize {
		n := len(buf) - off
		if n > ReadChunkSize {
			n = ReadChunkSize
		}
		a := addr + uint32(off)
		p := make([]byte, 8)
		binary.BigEndian.PutUint32(p, a)
		binary.BigEndian.PutUint32(p[4:], uint32(n))
		resp, err := t.h.Send(ctx, &Command{
			Name: "read memory", Code: CmdReadMemory, Class: ClassBlock,
			Payload: p, ReadLen: n,
		})
		if err != nil {
			return errors.Annotatef(err, "read %#08x", a)
		}
		copy(buf[off:], resp.Data)
		glog.V(3).Infof("read %d @ %#08x", n, a)
	}
	return nil
}

func (t *Target) EraseChip(ctx context.Context, m EraseMethod) error {
	_, err := t.h.Send(ctx, &Command{
		Name: "erase chip", Code: CmdProgram, Class: ClassErase,
		Payload: []byte{ProgEraseChip, byte(m)},
	})
	return errors.Annotatef(err, "erase chip (%s)", m)
}

func (t *Target) EraseSector(ctx context.Context, addr uint32) error {
	p := make([]byte, 5)
	p[0] = ProgEraseSector
	binary.BigEndian.PutUint32(p[1:], addr)
	_, err := t.h.Send(ctx, &Command{Name: "erase sector", Code: CmdProgram, Class: ClassErase, Payload: p})
	return errors.Annotatef(err, "erase sector %#08x", addr)
}

// WriteBlock programs data at addr and waits for the adapter's ack.
func (t *Target) WriteBlock(ctx context.Context, addr uint32, data []byte) error {
	_, err := t.h.Send(ctx, &Command{
		Name: "write block", Code: CmdProgram, Class: ClassBlock,
		Payload: addrLen(ProgWriteBlock, addr, uint32(len(data))),
		Data:    data,
	})
	return errors.Annotatef(err, "write %d @ %#08x", len(data), addr)
}

// Checksum returns the CRC-32 (IEEE) of [addr, addr+size) computed by the adapter.
func (t *Target) Checksum(ctx context.Context, addr, size uint32) (uint32, error) {
	resp, err := t.h.Send(ctx, &Command{
		Name: "checksum", Code: CmdProgram, Class: ClassBlock,
		Payload: addrLen(ProgChecksum, addr, size),
	})
	if err != nil {
		return 0, errors.Trace(err)
	}
	if len(resp.Payload) < 4 {
		return 0, errors.Errorf("short checksum response")
	}
	return binary.BigEndian.Uint32(resp.Payload), nil
}

// Reset restarts the target so that it runs the new firmware.
func (t *Target) Reset(ctx context.Context) error {
	_, err := t.h.Send(ctx, &Command{Name: "reset", Code: CmdReset, Payload: []byte{0x01}})
	return errors.Trace(err)
}
