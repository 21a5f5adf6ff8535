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
	"time"

	"github.com/mongoose-os/wchflash/cli/flash/wch/chip"
)

type FlashOpts struct {
	// Write block size, the profile's when zero.
	BlockSize uint32
	// Blocks between progress events.
	ProgressEvery int
	// Capacity of the progress channel. When it is full, the oldest event
	// is dropped.
	EventBuffer int
	// Failures of a phase before the session gives up on it.
	MaxAttempts int
	RetryDelay  time.Duration
	// Bound on the whole backup restoration.
	RestoreTimeout time.Duration
	// Reset the target after a successful flash.
	BootFirmware bool
	Sleep        func(ctx context.Context, d time.Duration) error
}

func (o *FlashOpts) withDefaults(p *chip.Profile) FlashOpts {
	var res FlashOpts
	if o != nil {
		res = *o
	}
	if res.BlockSize == 0 {
		res.BlockSize = p.WriteBlockSize
	}
	if res.ProgressEvery <= 0 {
		res.ProgressEvery = 1
	}
	if res.EventBuffer <= 0 {
		res.EventBuffer = 64
	}
	if res.MaxAttempts <= 0 {
		res.MaxAttempts = 3
	}
	if res.RetryDelay <= 0 {
		res.RetryDelay = 2 * time.Second
	}
	if res.RestoreTimeout <= 0 {
		res.RestoreTimeout = 2 * time.Minute
	}
	if res.Sleep == nil {
		res.Sleep = chip.Sleep
	}
	return res
}
