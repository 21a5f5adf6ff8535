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
	"fmt"

	"github.com/juju/errors"

	"github.com/mongoose-os/wchflash/cli/flash/wch/wlink"
)

type FaultKind int

const (
	// The adapter reported a failed erase.
	EraseFailed FaultKind = iota
	// The adapter reported a failed block write.
	WriteFailed
	// The adapter refused to read flash.
	ReadFailed
	// Flash contents differ from the image.
	VerifyMismatch
	// Timeout or link loss.
	LinkFault
	// The re-check found a different chip, or none that is supported.
	IdentityChanged
	// The data sent differs from the validated image.
	ChecksumMismatch
)

var faultKindNames = map[FaultKind]string{
	EraseFailed:      "erase failed",
	WriteFailed:      "write failed",
	ReadFailed:       "read failed",
	VerifyMismatch:   "verify mismatch",
	LinkFault:        "link fault",
	IdentityChanged:  "identity changed",
	ChecksumMismatch: "checksum mismatch",
}

func (k FaultKind) String() string {
	if s, ok := faultKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("FaultKind(%d)", int(k))
}

// FlashFault is a failure of a flash phase.
type FlashFault struct {
	Kind  FaultKind
	Phase Phase
	Addr  uint32
	Msg   string
	Err   error
}

func (f *FlashFault) Error() string {
	s := fmt.Sprintf("%s: %s", f.Phase, f.Kind)
	if f.Msg != "" {
		s += ": " + f.Msg
	}
	if f.Err != nil {
		s += ": " + f.Err.Error()
	}
	return s
}

func (f *FlashFault) Unwrap() error {
	return f.Err
}

// Fatal faults are not retried: repeating the phase cannot help.
func (f *FlashFault) Fatal() bool {
	return f.Kind == IdentityChanged || f.Kind == ChecksumMismatch
}

func (f *FlashFault) linkLost() bool {
	return f.Err != nil && wlink.IsLinkLost(f.Err)
}

func FaultKindOf(err error) (FaultKind, bool) {
	if ff, ok := errors.Cause(err).(*FlashFault); ok {
		return ff.Kind, true
	}
	return 0, false
}

// ErrSessionTerminal is returned when a finished session is run again.
var ErrSessionTerminal = errors.New("session is finished, start a new one")

// deviceFault classifies an error returned by a device operation.
func deviceFault(phase Phase, addr uint32, err error) *FlashFault {
	f := &FlashFault{Phase: phase, Addr: addr, Err: err}
	switch {
	case wlink.IsConnectionError(err):
		f.Kind = LinkFault
	case phase == Erase:
		f.Kind = EraseFailed
	case phase == Write:
		f.Kind = WriteFailed
	default:
		f.Kind = ReadFailed
	}
	return f
}
