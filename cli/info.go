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
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/juju/errors"

	"github.com/mongoose-os/wchflash/cli/flags"
	"github.com/mongoose-os/wchflash/cli/flash/wch/chip"
	"github.com/mongoose-os/wchflash/cli/flash/wch/wlink"
	"github.com/mongoose-os/wchflash/cli/ourutil"
)

func describeProfile(p *chip.Profile) []string {
	var erase []string
	if p.EraseModes&chip.EraseSector != 0 {
		erase = append(erase, fmt.Sprintf("sector (%d bytes)", p.SectorSize))
	}
	if p.EraseModes&chip.EraseChip != 0 {
		erase = append(erase, "chip ("+p.EraseMethod.String()+")")
	}
	var speeds []string
	for _, s := range p.Speeds {
		speeds = append(speeds, s.String())
	}
	res := []string{
		fmt.Sprintf("Adapter:  %s", p.Adapter.String()),
		fmt.Sprintf("Chip:     %s", p.Name),
		fmt.Sprintf("Family:   %s (%#02x)", p.Family, p.FamilyCode),
		fmt.Sprintf("Chip ID:  %#08x", p.ChipID),
		fmt.Sprintf("Flash:    %d KiB @ %#08x", p.FlashSize/1024, p.FlashBase),
		fmt.Sprintf("Erase:    %s", strings.Join(erase, ", ")),
		fmt.Sprintf("Readback: %v", p.Readback),
		fmt.Sprintf("Speeds:   %s", strings.Join(speeds, ", ")),
	}
	if p.Board != "" {
		res = append([]string{fmt.Sprintf("Board:    %s", p.Board)}, res...)
	}
	return res
}

func info() error {
	h, p, err := connect(context.Background())
	if err != nil {
		return errors.Trace(err)
	}
	defer closeDevice(h)
	if err := applyOverrides(p, *flags.Speed, *flags.EraseMethod); err != nil {
		return errors.Trace(err)
	}
	ourutil.Reportf("%s (%s)", h.Path(), h.Key())
	for _, l := range describeProfile(p) {
		fmt.Println(l)
	}
	return nil
}

func list() error {
	ais, err := wlink.List()
	if err != nil {
		return errors.Trace(err)
	}
	if len(ais) == 0 {
		ourutil.Reportf("No WCH-Link adapters found")
		return nil
	}
	for _, ai := range ais {
		if ai.Mode == wlink.ModeDAP {
			color.New(color.FgYellow).Fprintf(os.Stdout, "%s, switch it to RV mode to use it\n", ai)
			continue
		}
		fmt.Println(ai)
	}
	return nil
}
