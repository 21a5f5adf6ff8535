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
	"testing"

	"github.com/mongoose-os/wchflash/cli/flash/wch/chip"
)

func TestPlanErase(t *testing.T) {
	v30x, _ := chip.ByFamily(chip.CH32V30X)
	ch56x, _ := chip.ByFamily(chip.CH56X)
	for i, c := range []struct {
		p       *chip.Profile
		size    uint32
		chip    bool
		sectors int
		region  uint32
	}{
		{v30x, 1, false, 1, 4096},
		{v30x, 4096, false, 1, 4096},
		{v30x, 4097, false, 2, 8192},
		{v30x, 64 * 1024, false, 16, 64 * 1024},
		{v30x, 256 * 1024, false, 64, 256 * 1024},
		{ch56x, 100, true, 0, 448 * 1024},
	} {
		ep := planErase(c.p, c.size)
		if ep.chip != c.chip || len(ep.sectors) != c.sectors || ep.size != c.region || ep.addr != c.p.FlashBase {
			t.Errorf("%d: got %s", i, &ep)
		}
		for j, a := range ep.sectors {
			if want := c.p.FlashBase + uint32(j)*c.p.SectorSize; a != want {
				t.Errorf("%d: sector %d at %#x, want %#x", i, j, a, want)
			}
		}
	}
}

func TestEventQueueDropsOldest(t *testing.T) {
	q := newEventQueue(3)
	for i := 0; i < 10; i++ {
		q.emit(ProgressEvent{Phase: Write, Percent: i * 10})
	}
	q.close()
	var got []int
	for ev := range q.ch {
		got = append(got, ev.Percent)
	}
	if len(got) != 3 || got[0] != 70 || got[2] != 90 {
		t.Errorf("got %v, want [70 80 90]", got)
	}
	if q.Dropped() != 7 {
		t.Errorf("dropped %d, want 7", q.Dropped())
	}
}

func TestResumePhase(t *testing.T) {
	for i, c := range []struct {
		phase Phase
		kind  FaultKind
		want  Phase
	}{
		{Idle, LinkFault, Idle},
		{Backup, LinkFault, Backup},
		{Backup, ReadFailed, Backup},
		{Erase, EraseFailed, Erase},
		{Write, WriteFailed, Erase},
		{Write, LinkFault, Erase},
		{Verify, VerifyMismatch, Erase},
		{Verify, LinkFault, Verify},
		{Verify, ReadFailed, Verify},
	} {
		if got := resumePhase(&FlashFault{Phase: c.phase, Kind: c.kind}); got != c.want {
			t.Errorf("%d: %s in %s: got %s, want %s", i, c.kind, c.phase, got, c.want)
		}
	}
}
