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
	"github.com/juju/errors"

	"github.com/mongoose-os/wchflash/cli/flash/wch/chip"
	"github.com/mongoose-os/wchflash/cli/flash/wch/wlink"
)

type Action int

const (
	ActionRetry Action = iota
	ActionAbort
)

func (a Action) String() string {
	if a == ActionRetry {
		return "Retry"
	}
	return "Abort"
}

// Decision is the recovery controller's verdict on a fault.
type Decision struct {
	Action Action
	// Phase to resume at, for ActionRetry.
	Phase Phase
	// Why the session is aborted, for ActionAbort.
	Reason           string
	RestoreAttempted bool
	Restored         bool
	Err              error
}

func retry(p Phase) Decision {
	return Decision{Action: ActionRetry, Phase: p}
}

func abort(err error, f string, args ...interface{}) Decision {
	return Decision{Action: ActionAbort, Reason: fmt.Sprintf(f, args...), Err: err}
}

// Recovery decides what happens to a session after a phase fails.
type Recovery struct {
	dev Device
	id  Identifier
}

func NewRecovery(dev Device, id Identifier) *Recovery {
	return &Recovery{dev: dev, id: id}
}

// resumePhase is where a session continues after f. Flash that may
// have been partially programmed has to be erased again.
func resumePhase(f *FlashFault) Phase {
	switch f.Phase {
	case Write:
		return Erase
	case Verify:
		if f.Kind == VerifyMismatch {
			return Erase
		}
	}
	return f.Phase
}

// needsRestore reports whether stopping before next leaves the target
// without its previous contents.
func needsRestore(s *Session, next Phase) bool {
	return next.destructive() || s.written
}

// Recover handles fault f of session s. Each phase may fail MaxAttempts
// times; between attempts the link is re-established if it was lost and
// the target is identified again. Giving up on a phase that already
// destroyed the previous flash contents restores the backup first.
func (r *Recovery) Recover(ctx context.Context, s *Session, f *FlashFault, emit func(ProgressEvent)) Decision {
	s.LastErr = f
	if f.Kind == IdentityChanged {
		return abort(f, "%s", f)
	}
	if f.Fatal() {
		return r.giveUp(ctx, s, f, emit)
	}
	for {
		s.Attempts[f.Phase]++
		n := s.Attempts[f.Phase]
		if n >= s.opts.MaxAttempts {
			return r.giveUp(ctx, s, f, emit)
		}
		next := resumePhase(f)
		emit(ProgressEvent{
			Phase:   f.Phase,
			Message: fmt.Sprintf("%s, retrying from %s (attempt %d of %d)", f, next, n+1, s.opts.MaxAttempts),
		})
		if err := s.opts.Sleep(ctx, s.opts.RetryDelay); err != nil {
			return r.cancelled(ctx, s, next, emit)
		}
		err := r.recheck(ctx, s, f)
		if err == nil {
			return retry(next)
		}
		if ctx.Err() != nil {
			return r.cancelled(ctx, s, next, emit)
		}
		if ff, ok := errors.Cause(err).(*FlashFault); ok && ff.Kind == IdentityChanged {
			s.LastErr = ff
			return abort(ff, "%s", ff)
		}
		glog.Warningf("Re-check failed: %s", err)
		f = &FlashFault{Kind: LinkFault, Phase: f.Phase, Msg: "re-check failed", Err: err}
		s.LastErr = f
	}
}

// recheck prepares the target for another attempt: the link is reopened if
// it was lost, by the fault or by an earlier re-check, the chip must still be
// the one the session started with and the next speed of the profile's ladder
// is selected.
func (r *Recovery) recheck(ctx context.Context, s *Session, f *FlashFault) error {
	if f.linkLost() || !r.dev.Alive() {
		glog.Infof("Reconnecting")
		if err := r.dev.Reconnect(ctx); err != nil {
			return errors.Trace(err)
		}
	}
	p, err := r.id.Resolve(ctx, r.dev)
	if err != nil {
		if chip.IsUnsupported(err) {
			return &FlashFault{Kind: IdentityChanged, Phase: f.Phase, Err: err}
		}
		return errors.Trace(err)
	}
	if !s.Profile.Same(p) {
		return &FlashFault{Kind: IdentityChanged, Phase: f.Phase, Msg: fmt.Sprintf("was %s, now %s", s.Profile, p)}
	}
	s.speed++
	return errors.Trace(r.dev.SetSpeed(ctx, s.Profile.SpeedFor(s.speed)))
}

func (r *Recovery) giveUp(ctx context.Context, s *Session, f *FlashFault, emit func(ProgressEvent)) Decision {
	var d Decision
	if f.Fatal() {
		d = abort(f, "%s", f)
	} else {
		d = abort(f, "%s failed %d times, last error: %s", f.Phase, s.Attempts[f.Phase], f)
	}
	if needsRestore(s, f.Phase) {
		d.RestoreAttempted, d.Restored = r.restore(ctx, s, emit)
	}
	return d
}

// cancelled aborts s before it enters next.
func (r *Recovery) cancelled(ctx context.Context, s *Session, next Phase, emit func(ProgressEvent)) Decision {
	d := abort(ctx.Err(), "cancelled before %s", next)
	if needsRestore(s, next) {
		d.RestoreAttempted, d.Restored = r.restore(ctx, s, emit)
	}
	return d
}

// restore writes the backup back, once. It runs with its own deadline
// regardless of the session's context.
func (r *Recovery) restore(ctx context.Context, s *Session, emit func(ProgressEvent)) (attempted, ok bool) {
	if !s.backedUp {
		glog.Warningf("No backup to restore")
		return false, false
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.RestoreTimeout)
	defer cancel()
	emit(ProgressEvent{Phase: s.reached, Message: fmt.Sprintf("Restoring %d bytes of backup", len(s.Backup))})
	if err := r.writeBack(rctx, s); err != nil {
		glog.Errorf("Restoring backup failed: %s", err)
		emit(ProgressEvent{Phase: s.reached, Message: "Restoring backup failed"})
		return true, false
	}
	glog.Infof("Backup restored")
	emit(ProgressEvent{Phase: s.reached, Percent: 100, Message: "Backup restored"})
	return true, true
}

func isBlank(b []byte) bool {
	for _, c := range b {
		if c != 0xff {
			return false
		}
	}
	return true
}

func (r *Recovery) writeBack(ctx context.Context, s *Session) error {
	if r.dev.Alive() {
		if err := r.dev.SetSpeed(ctx, wlink.SpeedLow); err != nil && r.dev.Alive() {
			return errors.Trace(err)
		}
	}
	if !r.dev.Alive() {
		if err := r.dev.Reconnect(ctx); err != nil {
			return errors.Trace(err)
		}
		if err := r.dev.SetSpeed(ctx, wlink.SpeedLow); err != nil {
			return errors.Trace(err)
		}
	}
	if f := eraseRegion(ctx, r.dev, s); f != nil {
		return f
	}
	bs := s.opts.BlockSize
	for off := uint32(0); off < uint32(len(s.Backup)); off += bs {
		end := off + bs
		if end > uint32(len(s.Backup)) {
			end = uint32(len(s.Backup))
		}
		blk := s.Backup[off:end]
		if isBlank(blk) {
			continue
		}
		if err := r.dev.WriteBlock(ctx, s.plan.addr+off, padBlock(blk)); err != nil {
			return errors.Trace(err)
		}
	}
	buf := make([]byte, len(s.Backup))
	if err := r.dev.ReadMemory(ctx, s.plan.addr, buf); err != nil {
		return errors.Trace(err)
	}
	if !bytes.Equal(buf, s.Backup) {
		return errors.Errorf("flash does not match the backup after restoring")
	}
	return nil
}
