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
	"bytes"
	"context"
	"fmt"

	"github.com/golang/glog"
)

// Sequencer drives sessions through Idle, Backup, Erase, Write and Verify.
// It never retries anything itself: faults go to the recovery controller.
type Sequencer struct {
	dev Device
	rec *Recovery
}

func NewSequencer(dev Device, id Identifier) *Sequencer {
	return &Sequencer{dev: dev, rec: NewRecovery(dev, id)}
}

// Run drives s to a terminal phase. Cancellation of ctx is only noticed
// between phases; device operations in progress are always completed.
func (sq *Sequencer) Run(ctx context.Context, s *Session, emit func(ProgressEvent)) (*Result, error) {
	if s.Terminal() {
		return s.result, ErrSessionTerminal
	}
	dctx := context.WithoutCancel(ctx)
	glog.Infof("Flashing %s to %s, erase plan: %s", s.Image, s.Profile, &s.plan)
	for !s.Terminal() {
		if s.cursor == 0 && ctx.Err() != nil {
			sq.abort(s, sq.rec.cancelled(ctx, s, s.Phase, emit), emit)
			break
		}
		tr := sq.Step(dctx, s)
		for _, ev := range tr.Events {
			emit(ev)
		}
		if tr.Fault != nil {
			glog.Warningf("%s", tr.Fault)
			d := sq.rec.Recover(ctx, s, tr.Fault, emit)
			if d.Action == ActionAbort {
				sq.abort(s, d, emit)
				break
			}
			glog.Infof("Resuming at %s", d.Phase)
			s.enter(d.Phase)
		}
	}
	if s.Phase == Done {
		sq.finish(dctx, s, emit)
	}
	return s.result, nil
}

// Step performs the next slice of work of the session's current phase:
// a whole phase for Idle and Erase, ProgressEvery blocks for the others.
// On success the session moves on to the returned phase. On failure it
// stays where it is and the fault is returned for recovery.
func (sq *Sequencer) Step(ctx context.Context, s *Session) Transition {
	if s.Terminal() {
		return Transition{Next: s.Phase}
	}
	if s.Phase > s.reached {
		s.reached = s.Phase
	}
	var evs []ProgressEvent
	if !s.announced && s.Phase != Idle {
		evs = append(evs, ProgressEvent{Phase: s.Phase, Percent: 0, Message: entryMessage(s)})
		s.announced = true
	}
	var tr Transition
	switch s.Phase {
	case Idle:
		tr = sq.idle(ctx, s)
	case Backup:
		tr = sq.backup(ctx, s)
	case Erase:
		tr = sq.erase(ctx, s)
	case Write:
		tr = sq.write(ctx, s)
	case Verify:
		tr = sq.verify(ctx, s)
	}
	tr.Events = append(evs, tr.Events...)
	if tr.Fault == nil && tr.Next != s.Phase {
		glog.V(1).Infof("%s -> %s", s.Phase, tr.Next)
		s.enter(tr.Next)
	}
	return tr
}

func entryMessage(s *Session) string {
	switch s.Phase {
	case Backup:
		return fmt.Sprintf("Reading %d bytes @ %#08x", s.plan.size, s.plan.addr)
	case Erase:
		return fmt.Sprintf("Erasing %s", &s.plan)
	case Write:
		return fmt.Sprintf("Writing %d bytes in %d byte blocks", s.Image.Size(), s.opts.BlockSize)
	case Verify:
		if !s.Profile.Readback {
			return "Verifying checksum"
		}
		return fmt.Sprintf("Verifying %d bytes", s.Image.Size())
	}
	return ""
}

func failed(f *FlashFault) Transition {
	return Transition{Next: f.Phase, Fault: f}
}

func (sq *Sequencer) idle(ctx context.Context, s *Session) Transition {
	speed := s.Profile.SpeedFor(s.speed)
	if err := sq.dev.SetSpeed(ctx, speed); err != nil {
		return failed(deviceFault(Idle, 0, err))
	}
	glog.V(1).Infof("Link speed %s", speed)
	if !s.Profile.Readback {
		glog.Warningf("%s cannot read flash back, no backup will be taken", s.Profile.Name)
		return Transition{Next: Erase}
	}
	blank, err := sq.dev.IsBlank(ctx, s.plan.addr, s.plan.size)
	if err != nil {
		return failed(deviceFault(Idle, s.plan.addr, err))
	}
	if blank {
		glog.Infof("Target is blank, skipping backup")
		return Transition{Next: Erase}
	}
	return Transition{Next: Backup}
}

func (s *Session) chunk(remaining uint32) uint32 {
	n := s.opts.BlockSize * uint32(s.opts.ProgressEvery)
	if n > remaining {
		n = remaining
	}
	return n
}

func (sq *Sequencer) backup(ctx context.Context, s *Session) Transition {
	if s.cursor == 0 {
		s.Backup = make([]byte, s.plan.size)
		s.backedUp = false
	}
	n := s.chunk(s.plan.size - s.cursor)
	addr := s.plan.addr + s.cursor
	if err := sq.dev.ReadMemory(ctx, addr, s.Backup[s.cursor:s.cursor+n]); err != nil {
		return failed(deviceFault(Backup, addr, err))
	}
	s.cursor += n
	ev := ProgressEvent{
		Phase:   Backup,
		Percent: percent(s.blocks(s.cursor), s.blocks(s.plan.size)),
		Message: fmt.Sprintf("%d of %d bytes", s.cursor, s.plan.size),
	}
	if s.cursor < s.plan.size {
		return Transition{Next: Backup, Events: []ProgressEvent{ev}}
	}
	s.backedUp = true
	return Transition{Next: Erase, Events: []ProgressEvent{ev}}
}

func eraseRegion(ctx context.Context, dev Device, s *Session) *FlashFault {
	if s.plan.chip {
		if err := dev.EraseChip(ctx, s.Profile.EraseMethod); err != nil {
			return deviceFault(Erase, s.plan.addr, err)
		}
		return nil
	}
	for _, a := range s.plan.sectors {
		if err := dev.EraseSector(ctx, a); err != nil {
			return deviceFault(Erase, a, err)
		}
	}
	return nil
}

func (sq *Sequencer) erase(ctx context.Context, s *Session) Transition {
	if f := eraseRegion(ctx, sq.dev, s); f != nil {
		return failed(f)
	}
	return Transition{Next: Write, Events: []ProgressEvent{{Phase: Erase, Percent: 100, Message: "Erased"}}}
}

// padBlock extends the last block of an image to a whole number of words.
func padBlock(b []byte) []byte {
	if len(b)%4 == 0 {
		return b
	}
	p := make([]byte, (len(b)+3)&^3)
	copy(p, b)
	for i := len(b); i < len(p); i++ {
		p[i] = 0xff
	}
	return p
}

func (sq *Sequencer) write(ctx context.Context, s *Session) Transition {
	size := s.Image.Size()
	for i := 0; i < s.opts.ProgressEvery && s.cursor < size; i++ {
		n := s.opts.BlockSize
		if n > size-s.cursor {
			n = size - s.cursor
		}
		blk := s.Image.Data[s.cursor : s.cursor+n]
		addr := s.Profile.FlashBase + s.cursor
		s.written = true
		if err := sq.dev.WriteBlock(ctx, addr, padBlock(blk)); err != nil {
			return failed(deviceFault(Write, addr, err))
		}
		s.crc.Write(blk)
		s.cursor += n
	}
	ev := ProgressEvent{
		Phase:   Write,
		Percent: percent(s.blocks(s.cursor), s.blocks(size)),
		Message: fmt.Sprintf("%d of %d bytes", s.cursor, size),
	}
	if s.cursor < size {
		return Transition{Next: Write, Events: []ProgressEvent{ev}}
	}
	if cs := s.crc.Sum32(); cs != s.Image.Checksum {
		return Transition{Next: Write, Events: []ProgressEvent{ev}, Fault: &FlashFault{
			Kind: ChecksumMismatch, Phase: Write,
			Msg: fmt.Sprintf("sent data checksum %08x, image %08x", cs, s.Image.Checksum),
		}}
	}
	return Transition{Next: Verify, Events: []ProgressEvent{ev}}
}

func (sq *Sequencer) verify(ctx context.Context, s *Session) Transition {
	size := s.Image.Size()
	base := s.Profile.FlashBase
	if !s.Profile.Readback {
		cs, err := sq.dev.Checksum(ctx, base, size)
		if err != nil {
			return failed(deviceFault(Verify, base, err))
		}
		if cs != s.Image.Checksum {
			return failed(&FlashFault{
				Kind: VerifyMismatch, Phase: Verify, Addr: base,
				Msg: fmt.Sprintf("flash checksum %08x, image %08x", cs, s.Image.Checksum),
			})
		}
		s.cursor = size
		return Transition{Next: Done, Events: []ProgressEvent{{Phase: Verify, Percent: 100, Message: "Checksum matches"}}}
	}
	n := s.chunk(size - s.cursor)
	buf := make([]byte, n)
	addr := base + s.cursor
	if err := sq.dev.ReadMemory(ctx, addr, buf); err != nil {
		return failed(deviceFault(Verify, addr, err))
	}
	want := s.Image.Data[s.cursor : s.cursor+n]
	if !bytes.Equal(buf, want) {
		i := 0
		for buf[i] == want[i] {
			i++
		}
		return failed(&FlashFault{
			Kind: VerifyMismatch, Phase: Verify, Addr: addr + uint32(i),
			Msg: fmt.Sprintf("%#08x: got %02x, want %02x", addr+uint32(i), buf[i], want[i]),
		})
	}
	s.cursor += n
	ev := ProgressEvent{
		Phase:   Verify,
		Percent: percent(s.blocks(s.cursor), s.blocks(size)),
		Message: fmt.Sprintf("%d of %d bytes", s.cursor, size),
	}
	if s.cursor < size {
		return Transition{Next: Verify, Events: []ProgressEvent{ev}}
	}
	return Transition{Next: Done, Events: []ProgressEvent{ev}}
}

func (sq *Sequencer) finish(ctx context.Context, s *Session, emit func(ProgressEvent)) {
	if s.opts.BootFirmware {
		if err := sq.dev.Reset(ctx); err != nil {
			glog.Warningf("Failed to reset the target: %s", err)
		}
	}
	s.Backup = nil
	s.result = &Result{
		Outcome:   OutcomeDone,
		LastPhase: Done,
		Attempts:  copyAttempts(s.Attempts),
	}
	emit(ProgressEvent{Phase: Done, Percent: 100, Message: fmt.Sprintf("%d bytes written and verified", s.Image.Size())})
}

func (sq *Sequencer) abort(s *Session, d Decision, emit func(ProgressEvent)) {
	res := &Result{
		Outcome:          OutcomeAborted,
		Reason:           d.Reason,
		LastPhase:        s.reached,
		BackupAvailable:  s.backedUp,
		RestoreAttempted: d.RestoreAttempted,
		BackupRestored:   d.Restored,
		Attempts:         copyAttempts(s.Attempts),
		Err:              d.Err,
	}
	if s.backedUp {
		res.Backup = s.Backup
		res.BackupAddr = s.plan.addr
	} else {
		s.Backup = nil
	}
	s.Phase = Aborted
	s.result = res
	glog.Errorf("%s", res)
	emit(ProgressEvent{Phase: Aborted, Percent: 0, Message: res.String()})
}

func copyAttempts(m map[Phase]int) map[Phase]int {
	res := make(map[Phase]int, len(m))
	for k, v := range m {
		res[k] = v
	}
	return res
}
