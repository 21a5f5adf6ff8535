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
package chip

import (
	"fmt"
	"sort"
	"strings"

	"github.com/juju/errors"

	"github.com/mongoose-os/wchflash/cli/flash/wch/wlink"
)

type Family string

const (
	CH32V003 Family = "CH32V003"
	CH32V007 Family = "CH32V007"
	CH32V103 Family = "CH32V103"
	CH32V20X Family = "CH32V20X"
	CH32V30X Family = "CH32V30X"
	CH32V317 Family = "CH32V317"
	CH32X035 Family = "CH32X035"
	CH32L103 Family = "CH32L103"
	CH56X    Family = "CH56X"
	CH564    Family = "CH564"
	CH57X    Family = "CH57X"
	CH58X    Family = "CH58X"
	CH585    Family = "CH585"
	CH59X    Family = "CH59X"
	CH641    Family = "CH641"
	CH643    Family = "CH643"
	CH645    Family = "CH645"
	CH8571   Family = "CH8571"
)

type EraseMode int

const (
	EraseSector EraseMode = 1 << iota
	EraseChip
)

const SquadranMini = "VSD Squadran Mini"

// Profile describes the target silicon. Profiles handed out by this package
// are private copies and are not modified afterwards.
type Profile struct {
	Family     Family
	FamilyCode byte
	// Part name when the chip id is known, the family name otherwise.
	Name      string
	ChipID    uint32
	Board     string
	FlashBase uint32
	FlashSize uint32
	// Smallest erasable unit. Equals FlashSize for chips that only erase whole.
	SectorSize     uint32
	EraseModes     EraseMode
	EraseMethod    wlink.EraseMethod
	Readback       bool
	WriteBlockSize uint32
	// Speeds to use on successive attempts, first one initially.
	Speeds  []wlink.Speed
	Adapter wlink.ProbeInfo
}

func (p *Profile) ChipEraseOnly() bool {
	return p.EraseModes&EraseSector == 0
}

// EraseGranularity is the size of the smallest region that can be erased.
func (p *Profile) EraseGranularity() uint32 {
	if p.ChipEraseOnly() {
		return p.FlashSize
	}
	return p.SectorSize
}

func (p *Profile) SpeedFor(attempt int) wlink.Speed {
	if len(p.Speeds) == 0 {
		return wlink.SpeedHigh
	}
	if attempt >= len(p.Speeds) {
		attempt = len(p.Speeds) - 1
	}
	if attempt < 0 {
		attempt = 0
	}
	return p.Speeds[attempt]
}

// Same reports whether both profiles describe the same physical chip.
func (p *Profile) Same(o *Profile) bool {
	return o != nil && p.Family == o.Family && p.ChipID == o.ChipID
}

func (p *Profile) clone() *Profile {
	c := *p
	c.Speeds = append([]wlink.Speed(nil), p.Speeds...)
	return &c
}

func (p *Profile) String() string {
	s := fmt.Sprintf("%s (%s), %d KiB flash @ %#08x", p.Name, p.Family, p.FlashSize/1024, p.FlashBase)
	if p.Board != "" {
		s = p.Board + ": " + s
	}
	return s
}

var (
	fastest = []wlink.Speed{wlink.SpeedHigh, wlink.SpeedMedium, wlink.SpeedLow}
	slowest = []wlink.Speed{wlink.SpeedLow}
)

func riscv(f Family, code byte, flashKB, sector uint32) *Profile {
	return &Profile{
		Family: f, FamilyCode: code, Name: string(f),
		FlashBase: 0x08000000, FlashSize: flashKB * 1024, SectorSize: sector,
		EraseModes: EraseSector | EraseChip, Readback: true,
		WriteBlockSize: 4096, Speeds: fastest,
	}
}

func ble(f Family, code byte, flashKB uint32) *Profile {
	p := riscv(f, code, flashKB, 4096)
	p.FlashBase = 0
	return p
}

var profiles = map[byte]*Profile{}

func init() {
	v003 := riscv(CH32V003, 0x09, 16, 1024)
	v003.WriteBlockSize = 1024
	v003.Speeds = slowest
	ch56x := ble(CH56X, 0x03, 448)
	ch56x.EraseModes, ch56x.Readback = EraseChip, false
	ch8571 := ble(CH8571, 0x0a, 448)
	ch8571.EraseModes, ch8571.Readback = EraseChip, false
	for _, p := range []*Profile{
		v003,
		riscv(CH32V007, 0x4e, 32, 1024),
		riscv(CH32V103, 0x01, 64, 1024),
		riscv(CH32V20X, 0x05, 128, 4096),
		riscv(CH32V30X, 0x06, 256, 4096),
		riscv(CH32V317, 0x86, 256, 4096),
		riscv(CH32X035, 0x0d, 62, 256),
		riscv(CH32L103, 0x0e, 64, 256),
		riscv(CH641, 0x0f, 16, 256),
		riscv(CH643, 0x0c, 62, 256),
		riscv(CH645, 0x46, 128, 256),
		ch56x,
		ble(CH564, 0x14, 448),
		ble(CH57X, 0x02, 448),
		ble(CH58X, 0x07, 448),
		ble(CH585, 0x13, 448),
		ble(CH59X, 0x0b, 448),
		ch8571,
	} {
		profiles[p.FamilyCode] = p
	}
}

var partNames = map[uint32]string{
	0x00300500: "CH32V003F4P6",
	0x00310500: "CH32V003F4U6",
	0x00320500: "CH32V003A4M6",
	0x00330500: "CH32V003J4M6",
	0x30300518: "CH32V303VCT6",
	0x30310518: "CH32V303RCT6",
	0x30500518: "CH32V305RBT6",
	0x30700518: "CH32V307VCT6",
	0x30710518: "CH32V307RCT6",
	0x30730518: "CH32V307WCU6",
	0x20300500: "CH32V203C8T6",
	0x20800500: "CH32V208WBU6",
}

// Lookup returns a copy of the profile for the family code reported by the adapter.
func Lookup(code byte) (*Profile, bool) {
	p, ok := profiles[code]
	if !ok {
		return nil, false
	}
	return p.clone(), true
}

// ByFamily returns a copy of the generic profile of a family.
func ByFamily(f Family) (*Profile, bool) {
	for _, p := range profiles {
		if p.Family == f {
			return p.clone(), true
		}
	}
	return nil, false
}

func Families() []Family {
	var res []Family
	for _, p := range profiles {
		res = append(res, p.Family)
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res
}

// Part numbers that belong to a family with a different name.
var familyPrefixes = []struct {
	prefix string
	family Family
}{
	{"CH32V30", CH32V30X},
	{"CH32V20", CH32V20X},
	{"CH32V10", CH32V103},
	{"CH32X03", CH32X035},
	{"CH32L10", CH32L103},
	{"CH57", CH57X},
	{"CH58", CH58X},
	{"CH59", CH59X},
	{"CH56", CH56X},
}

// ParseFamily maps a family or part name (e.g. "ch32v307vct6") to a family.
func ParseFamily(name string) (Family, error) {
	n := strings.ToUpper(strings.TrimSpace(name))
	if n == "" {
		return "", errors.NotValidf("empty chip family")
	}
	for _, f := range Families() {
		if n == string(f) || (strings.HasPrefix(n, string(f)) && !strings.HasSuffix(string(f), "X")) {
			return f, nil
		}
	}
	for _, fp := range familyPrefixes {
		if strings.HasPrefix(n, fp.prefix) {
			return fp.family, nil
		}
	}
	return "", errors.NotValidf("chip family %q", name)
}

// squadran adjusts a profile for the VSD Squadran Mini board: its on-board
// link is a WCH-LinkE-CH32V305 and the target only erases reliably with
// power cycling, which always clears the whole chip.
func squadran(p *Profile) {
	p.Board = SquadranMini
	p.EraseMethod = wlink.ErasePowerOff
	p.EraseModes = EraseChip
	if p.Family == CH32V30X {
		p.Speeds = []wlink.Speed{wlink.SpeedLow, wlink.SpeedMedium, wlink.SpeedHigh}
	}
}
