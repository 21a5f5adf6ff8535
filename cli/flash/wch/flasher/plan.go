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

	"github.com/mongoose-os/wchflash/cli/flash/wch/chip"
)

// erasePlan is the region a session erases and backs up.
type erasePlan struct {
	chip    bool
	addr    uint32
	size    uint32
	sectors []uint32
}

// planErase covers the first size bytes of flash with as few sectors as
// possible, or with the whole chip if the target cannot erase sectors.
func planErase(p *chip.Profile, size uint32) erasePlan {
	if p.ChipEraseOnly() {
		return erasePlan{chip: true, addr: p.FlashBase, size: p.FlashSize}
	}
	ep := erasePlan{addr: p.FlashBase}
	gran := p.EraseGranularity()
	for off := uint32(0); off < size && off < p.FlashSize; off += gran {
		ep.sectors = append(ep.sectors, p.FlashBase+off)
		ep.size += gran
	}
	if ep.size > p.FlashSize {
		ep.size = p.FlashSize
	}
	return ep
}

func (ep *erasePlan) String() string {
	if ep.chip {
		return fmt.Sprintf("whole chip (%d KiB)", ep.size/1024)
	}
	return fmt.Sprintf("%d sectors @ %#08x (%d bytes)", len(ep.sectors), ep.addr, ep.size)
}
