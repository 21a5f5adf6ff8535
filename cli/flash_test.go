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
	"bytes"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/mongoose-os/wchflash/cli/flash/wch/chip"
	"github.com/mongoose-os/wchflash/cli/flash/wch/image"
	"github.com/mongoose-os/wchflash/cli/flash/wch/wlink"
	"github.com/mongoose-os/wchflash/common/fwbundle"
)

func profile(t *testing.T, f chip.Family) *chip.Profile {
	t.Helper()
	p, ok := chip.ByFamily(f)
	if !ok {
		t.Fatalf("no profile for %s", f)
	}
	return p
}

func TestApplyOverrides(t *testing.T) {
	for i, c := range []struct {
		family      chip.Family
		speed       string
		eraseMethod string
		wantSpeeds  []wlink.Speed
		wantMethod  wlink.EraseMethod
		ok          bool
	}{
		{chip.CH32V30X, "", "", []wlink.Speed{wlink.SpeedHigh, wlink.SpeedMedium, wlink.SpeedLow}, wlink.EraseDefault, true},
		{chip.CH32V30X, "medium", "", []wlink.Speed{wlink.SpeedMedium, wlink.SpeedLow}, wlink.EraseDefault, true},
		{chip.CH32V30X, "LOW", "pin-rst", []wlink.Speed{wlink.SpeedLow}, wlink.ErasePinReset, true},
		{chip.CH32V003, "high", "power-off", []wlink.Speed{wlink.SpeedHigh, wlink.SpeedLow}, wlink.ErasePowerOff, true},
		{chip.CH32V30X, "ludicrous", "", nil, 0, false},
		{chip.CH32V30X, "", "hammer", nil, 0, false},
	} {
		p := profile(t, c.family)
		err := applyOverrides(p, c.speed, c.eraseMethod)
		if !c.ok {
			if err == nil {
				t.Errorf("%d: expected an error", i)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%d: %s", i, err)
		}
		if !reflect.DeepEqual(p.Speeds, c.wantSpeeds) {
			t.Errorf("%d: speeds: got %v, want %v", i, p.Speeds, c.wantSpeeds)
		}
		if p.EraseMethod != c.wantMethod {
			t.Errorf("%d: erase method: got %s, want %s", i, p.EraseMethod, c.wantMethod)
		}
	}
}

func TestSpeedLadder(t *testing.T) {
	squadran := []wlink.Speed{wlink.SpeedLow, wlink.SpeedMedium, wlink.SpeedHigh}
	for i, c := range []struct {
		s      wlink.Speed
		speeds []wlink.Speed
		want   []wlink.Speed
	}{
		{wlink.SpeedHigh, squadran, []wlink.Speed{wlink.SpeedHigh, wlink.SpeedMedium, wlink.SpeedLow}},
		{wlink.SpeedMedium, squadran, []wlink.Speed{wlink.SpeedMedium, wlink.SpeedLow}},
		{wlink.SpeedLow, squadran, []wlink.Speed{wlink.SpeedLow}},
		{wlink.SpeedHigh, []wlink.Speed{wlink.SpeedHigh, wlink.SpeedLow}, []wlink.Speed{wlink.SpeedHigh, wlink.SpeedLow}},
	} {
		if got := speedLadder(c.s, c.speeds); !reflect.DeepEqual(got, c.want) {
			t.Errorf("%d: got %v, want %v", i, got, c.want)
		}
	}
}

func TestDefaultFirmware(t *testing.T) {
	dir := filepath.Join("opt", "wchflash")
	if got, want := defaultFirmware(dir, chip.CH32V003), filepath.Join(dir, "Firmware_Link", "FIRMWARE_CH32V003.bin"); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if got, want := defaultFirmware(dir, chip.CH32V30X), filepath.Join(dir, "Firmware_Link", "WCH-LinkE-APP-IAP.bin"); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestBackupFileName(t *testing.T) {
	ts := time.Date(2020, 10, 18, 9, 5, 3, 0, time.UTC)
	if got, want := backupFileName(profile(t, chip.CH32V30X), ts), "ch32v30x-backup-20201018-090503.bin"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestNewBundle(t *testing.T) {
	data := []byte{0x6f, 0x00, 0xc0, 0x01, 1, 2, 3, 4}
	img := image.New(data, chip.CH32V30X, filepath.Join("build", "blinky.bin"))
	fwb, err := newBundle(img, "", 0x08000000, time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if fwb.Name != "blinky" || fwb.Platform != "CH32V30X" || fwb.Board != chip.SquadranMini {
		t.Errorf("unexpected manifest: %+v", fwb.FirmwareManifest)
	}
	buf := new(bytes.Buffer)
	if err := fwbundle.WriteZipFirmwareBytes(fwb, buf); err != nil {
		t.Fatal(err)
	}
	fwb2, err := fwbundle.ReadZipFirmwareBytes(buf.Bytes(), "blinky.zip")
	if err != nil {
		t.Fatal(err)
	}
	p, err := fwb2.AppPart()
	if err != nil {
		t.Fatal(err)
	}
	got, err := p.GetData()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) || p.Addr != 0x08000000 {
		t.Errorf("got %x @ %#x", got, p.Addr)
	}
}

func TestDescribeProfile(t *testing.T) {
	p := profile(t, chip.CH32V30X)
	p.Board = chip.SquadranMini
	desc := strings.Join(describeProfile(p), "\n")
	for _, want := range []string{"VSD Squadran Mini", "256 KiB @ 0x08000000", "sector (4096 bytes)", "high, medium, low"} {
		if !strings.Contains(desc, want) {
			t.Errorf("%q not found in\n%s", want, desc)
		}
	}
}
