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
// Package wlinktest provides a simulated WCH-Link adapter with an attached
// target, for hardware-free tests of everything above the USB layer.
package wlinktest

import (
	"context"
	"encoding/binary"
	"hash/crc32"
	"sync"

	"github.com/juju/errors"

	"github.com/mongoose-os/wchflash/cli/flash/wch/wlink"
)

type Op int

const (
	OpUnknown Op = iota
	OpProbeInfo
	OpAttach
	OpDetach
	OpChipInfo
	OpSetSpeed
	OpBlankCheck
	OpRead
	OpEraseChip
	OpEraseSector
	OpWrite
	OpChecksum
	OpReset
)

var opNames = map[Op]string{
	OpUnknown: "unknown", OpProbeInfo: "probe-info", OpAttach: "attach", OpDetach: "detach",
	OpChipInfo: "chip-info", OpSetSpeed: "set-speed", OpBlankCheck: "blank-check", OpRead: "read",
	OpEraseChip: "erase-chip", OpEraseSector: "erase-sector", OpWrite: "write", OpChecksum: "checksum",
	OpReset: "reset",
}

func (op Op) String() string {
	return opNames[op]
}

// Call describes one command received by the simulator.
type Call struct {
	Op   Op
	Addr uint32
	Len  uint32
	// 1-based count of calls with this Op so far, this one included.
	N int
}

type Fault int

const (
	FaultNone Fault = iota
	// The command is swallowed, the response never comes.
	FaultTimeout
	// The adapter drops off the bus. It re-enumerates immediately unless
	// SetUnplugged(true) is called.
	FaultDisconnect
	// The adapter answers with an error frame.
	FaultDeviceError
	// The answer is garbage.
	FaultMalformed
	// Writes are applied with the first byte of the block flipped.
	FaultCorrupt
)

// Sim is a simulated adapter and target. It implements wlink.Opener.
type Sim struct {
	Name       string
	Variant    wlink.Variant
	FwMajor    byte
	FwMinor    byte
	Family     byte
	ChipID     uint32
	FlashBase  uint32
	SectorSize uint32
	// Flash size reported in the electronic signature, 0 to report nothing.
	ESIGSize uint32
	// The target does not answer attach, as when it is unpowered.
	NoTarget bool
	// Hook, if set, decides the fate of every command.
	Hook func(c Call) Fault

	mu        sync.Mutex
	flash     []byte
	gen       int
	unplugged bool
	calls     []Call
	counts    map[Op]int
	cmdQ      [][]byte
	dataQ     []byte
	pending   *pendingWrite
	timeout   bool
	speed     byte
	resets    int
}

type pendingWrite struct {
	addr  uint32
	n     uint32
	fault Fault
}

// New returns a target with erased flash of the given size.
func New(family byte, chipID uint32, flashSize, sectorSize uint32) *Sim {
	s := &Sim{
		Name:       "sim",
		Variant:    wlink.VariantLinkE,
		FwMajor:    2,
		FwMinor:    10,
		Family:     family,
		ChipID:     chipID,
		FlashBase:  0x08000000,
		SectorSize: sectorSize,
		flash:      make([]byte, flashSize),
		counts:     map[Op]int{},
	}
	for i := range s.flash {
		s.flash[i] = 0xff
	}
	return s
}

// Program sets flash contents at offset off directly, bypassing the protocol.
func (s *Sim) Program(off int, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy(s.flash[off:], data)
}

func (s *Sim) Flash() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.flash...)
}

func (s *Sim) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

func (s *Sim) Count(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[op]
}

func (s *Sim) Speed() byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speed
}

func (s *Sim) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

// SetUnplugged makes the adapter disappear (existing links fail, new
// opens return NotFound) or come back.
func (s *Sim) SetUnplugged(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unplugged = v
	if v {
		s.gen++
	}
}

func (s *Sim) OpenLink(ctx context.Context, path string) (wlink.Link, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unplugged {
		return nil, "", &wlink.ConnectionError{Kind: wlink.NotFound, Path: path, Op: "open", Err: errors.New("unplugged")}
	}
	s.cmdQ, s.dataQ, s.pending, s.timeout = nil, nil, nil, false
	return &simLink{s: s, gen: s.gen}, "sim-" + s.Name, nil
}

type simLink struct {
	s      *Sim
	gen    int
	closed bool
}

func (l *simLink) Write(ctx context.Context, pipe wlink.Pipe, p []byte) error {
	s := l.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.closed || l.gen != s.gen {
		return errors.Trace(wlink.ErrNoDevice)
	}
	if pipe == wlink.PipeData {
		s.data(p)
		return nil
	}
	code, payload, err := wlink.DecodeRequest(p)
	if err != nil {
		return errors.Trace(err)
	}
	c := decodeCall(code, payload)
	s.counts[c.Op]++
	c.N = s.counts[c.Op]
	s.calls = append(s.calls, c)
	fault := FaultNone
	if s.Hook != nil {
		fault = s.Hook(c)
	}
	switch fault {
	case FaultTimeout:
		s.timeout = true
		if c.Op == OpWrite {
			s.pending = &pendingWrite{fault: FaultTimeout}
		}
		return nil
	case FaultDisconnect:
		s.gen++
		return errors.Trace(wlink.ErrNoDevice)
	case FaultMalformed:
		s.cmdQ = append(s.cmdQ, []byte{0x00, code})
		return nil
	case FaultDeviceError:
		if c.Op == OpWrite {
			s.pending = &pendingWrite{fault: FaultDeviceError}
			return nil
		}
		s.cmdQ = append(s.cmdQ, wlink.EncodeError(0x01))
		return nil
	}
	s.exec(code, c, payload, fault)
	return nil
}

func (l *simLink) Read(ctx context.Context, pipe wlink.Pipe, p []byte) (int, error) {
	s := l.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.closed || l.gen != s.gen {
		return 0, errors.Trace(wlink.ErrNoDevice)
	}
	if pipe == wlink.PipeData {
		if len(s.dataQ) == 0 {
			return 0, errors.Trace(wlink.ErrLinkTimeout)
		}
		n := copy(p, s.dataQ)
		s.dataQ = s.dataQ[n:]
		return n, nil
	}
	if s.timeout || len(s.cmdQ) == 0 {
		s.timeout = false
		return 0, errors.Trace(wlink.ErrLinkTimeout)
	}
	f := s.cmdQ[0]
	s.cmdQ = s.cmdQ[1:]
	return copy(p, f), nil
}

func (l *simLink) Close() error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	l.closed = true
	return nil
}

func decodeCall(code byte, p []byte) Call {
	u32 := func(off int) uint32 {
		if len(p) < off+4 {
			return 0
		}
		return binary.BigEndian.Uint32(p[off:])
	}
	switch code {
	case wlink.CmdControl:
		if len(p) > 0 {
			switch p[0] {
			case wlink.CtlProbeInfo:
				return Call{Op: OpProbeInfo}
			case wlink.CtlAttachChip:
				return Call{Op: OpAttach}
			case wlink.CtlDetachChip:
				return Call{Op: OpDetach}
			}
		}
	case wlink.CmdChipInfo:
		return Call{Op: OpChipInfo}
	case wlink.CmdSetSpeed:
		return Call{Op: OpSetSpeed}
	case wlink.CmdReset:
		return Call{Op: OpReset}
	case wlink.CmdReadMemory:
		return Call{Op: OpRead, Addr: u32(0), Len: u32(4)}
	case wlink.CmdProgram:
		if len(p) > 0 {
			switch p[0] {
			case wlink.ProgEraseChip:
				return Call{Op: OpEraseChip}
			case wlink.ProgEraseSector:
				return Call{Op: OpEraseSector, Addr: u32(1)}
			case wlink.ProgWriteBlock:
				return Call{Op: OpWrite, Addr: u32(1), Len: u32(5)}
			case wlink.ProgBlankCheck:
				return Call{Op: OpBlankCheck, Addr: u32(1), Len: u32(5)}
			case wlink.ProgChecksum:
				return Call{Op: OpChecksum, Addr: u32(1), Len: u32(5)}
			}
		}
	}
	return Call{Op: OpUnknown}
}

// region returns the flash slice for [addr, addr+n) or nil if out of range.
func (s *Sim) region(addr, n uint32) []byte {
	if addr < s.FlashBase {
		return nil
	}
	off := uint64(addr - s.FlashBase)
	if off+uint64(n) > uint64(len(s.flash)) {
		return nil
	}
	return s.flash[off : off+uint64(n)]
}

func (s *Sim) reply(code byte, payload ...byte) {
	s.cmdQ = append(s.cmdQ, wlink.EncodeResponse(code, payload))
}

func (s *Sim) fail() {
	s.cmdQ = append(s.cmdQ, wlink.EncodeError(0x02))
}

func (s *Sim) exec(code byte, c Call, p []byte, fault Fault) {
	switch c.Op {
	case OpProbeInfo:
		s.reply(code, s.FwMajor, s.FwMinor, byte(s.Variant))
	case OpAttach:
		if s.NoTarget {
			s.reply(code)
			return
		}
		id := make([]byte, 5)
		id[0] = s.Family
		binary.BigEndian.PutUint32(id[1:], s.ChipID)
		s.reply(code, id...)
	case OpDetach:
		s.reply(code)
	case OpChipInfo:
		if s.ESIGSize == 0 {
			s.reply(code)
			return
		}
		kb := make([]byte, 2)
		binary.BigEndian.PutUint16(kb, uint16(s.ESIGSize/1024))
		s.reply(code, kb...)
	case OpSetSpeed:
		if len(p) > 1 {
			s.speed = p[1]
		}
		s.reply(code, 0)
	case OpReset:
		s.resets++
		s.reply(code)
	case OpBlankCheck:
		r := s.region(c.Addr, c.Len)
		if r == nil {
			s.fail()
			return
		}
		blank := byte(1)
		for _, b := range r {
			if b != 0xff {
				blank = 0
				break
			}
		}
		s.reply(code, blank)
	case OpChecksum:
		r := s.region(c.Addr, c.Len)
		if r == nil {
			s.fail()
			return
		}
		cs := make([]byte, 4)
		binary.BigEndian.PutUint32(cs, crc32.ChecksumIEEE(r))
		s.reply(code, cs...)
	case OpRead:
		r := s.region(c.Addr, c.Len)
		if r == nil {
			s.fail()
			return
		}
		s.reply(code)
		s.dataQ = append(s.dataQ, r...)
	case OpEraseChip:
		for i := range s.flash {
			s.flash[i] = 0xff
		}
		s.reply(code)
	case OpEraseSector:
		if s.SectorSize == 0 || (c.Addr-s.FlashBase)%s.SectorSize != 0 {
			s.fail()
			return
		}
		r := s.region(c.Addr, s.SectorSize)
		if r == nil {
			s.fail()
			return
		}
		for i := range r {
			r[i] = 0xff
		}
		s.reply(code)
	case OpWrite:
		s.pending = &pendingWrite{addr: c.Addr, n: c.Len, fault: fault}
	default:
		s.fail()
	}
}

func (s *Sim) data(p []byte) {
	pw := s.pending
	s.pending = nil
	if pw == nil {
		return
	}
	switch pw.fault {
	case FaultTimeout:
		return
	case FaultDeviceError:
		s.fail()
		return
	}
	r := s.region(pw.addr, pw.n)
	if r == nil || len(p) != int(pw.n) {
		s.fail()
		return
	}
	for i, b := range p {
		// Programming can only clear bits.
		r[i] &= b
	}
	if pw.fault == FaultCorrupt && len(r) > 0 {
		r[0] ^= 0x01
	}
	s.reply(wlink.CmdProgram)
}
