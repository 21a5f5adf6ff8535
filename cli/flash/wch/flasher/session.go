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
	"hash"
	"hash/crc32"

	"github.com/juju/errors"

	"github.com/mongoose-os/wchflash/cli/flash/wch/chip"
	"github.com/mongoose-os/wchflash/cli/flash/wch/image"
)

// Session is one flash request. It is driven by a Sequencer until it
// reaches Done or Aborted and cannot be reused afterwards.
type Session struct {
	Profile *chip.Profile
	Image   *image.Image
	Phase   Phase
	// Failures per phase.
	Attempts map[Phase]int
	LastErr  error
	// Flash contents of the erase region captured before erasing.
	Backup []byte

	opts      FlashOpts
	plan      erasePlan
	cursor    uint32
	crc       hash.Hash32
	announced bool
	speed     int
	reached   Phase
	written   bool
	backedUp  bool
	result    *Result
}

// NewSession checks img against p and prepares a session for it.
// No hardware is involved.
func NewSession(p *chip.Profile, img *image.Image, opts *FlashOpts) (*Session, error) {
	if err := image.Validate(img, p); err != nil {
		return nil, errors.Trace(err)
	}
	o := opts.withDefaults(p)
	if o.BlockSize == 0 || o.BlockSize%4 != 0 {
		return nil, errors.NotValidf("block size %d", o.BlockSize)
	}
	return &Session{
		Profile:  p,
		Image:    img,
		Phase:    Idle,
		Attempts: make(map[Phase]int),
		opts:     o,
		plan:     planErase(p, img.Size()),
		crc:      crc32.NewIEEE(),
	}, nil
}

func (s *Session) enter(p Phase) {
	s.Phase = p
	s.cursor = 0
	s.announced = false
	if p == Write {
		s.crc.Reset()
	}
}

// LastPhase is the furthest phase the session has reached.
func (s *Session) LastPhase() Phase {
	return s.reached
}

func (s *Session) Terminal() bool {
	return s.Phase.Terminal()
}

func (s *Session) Result() *Result {
	return s.result
}

// blocks returns the number of blocks needed to cover n bytes.
func (s *Session) blocks(n uint32) int {
	return int((n + s.opts.BlockSize - 1) / s.opts.BlockSize)
}
