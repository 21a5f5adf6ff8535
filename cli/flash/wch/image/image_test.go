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
package image

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mongoose-os/wchflash/cli/flash/wch/chip"
	"github.com/mongoose-os/wchflash/common/fwbundle"
)

// j 0x1c, as emitted by the startup code of WCH SDKs.
var jalHeader = []byte{0x6f, 0x00, 0xc0, 0x01}

func firmware(n int) []byte {
	data := make([]byte, n)
	copy(data, jalHeader)
	for i := len(jalHeader); i < n; i++ {
		data[i] = byte(i)
	}
	return data
}

func profile(t *testing.T, f chip.Family) *chip.Profile {
	t.Helper()
	p, ok := chip.ByFamily(f)
	if !ok {
		t.Fatalf("no profile for %s", f)
	}
	return p
}

func TestValidate(t *testing.T) {
	v30x := profile(t, chip.CH32V30X)
	v003 := profile(t, chip.CH32V003)
	for i, c := range []struct {
		data   []byte
		family chip.Family
		p      *chip.Profile
		ok     bool
		kind   ImageErrorKind
	}{
		{firmware(64 * 1024), chip.CH32V30X, v30x, true, 0},
		{firmware(256 * 1024), chip.CH32V30X, v30x, true, 0},
		{firmware(256*1024 + 1), chip.CH32V30X, v30x, false, TooLarge},
		{firmware(16*1024 + 4), chip.CH32V003, v003, false, TooLarge},
		{firmware(1024), chip.CH32V003, v30x, false, FamilyMismatch},
		{firmware(1024), "", v30x, false, FamilyMismatch},
		{nil, chip.CH32V30X, v30x, false, BadFormat},
		{[]byte{0x6f, 0x00}, chip.CH32V30X, v30x, false, BadFormat},
		{bytes.Repeat([]byte{0xff}, 1024), chip.CH32V30X, v30x, false, BadFormat},
		{make([]byte, 1024), chip.CH32V30X, v30x, false, BadFormat},
		// lui, auipc.
		{[]byte{0x37, 0x05, 0x00, 0x20}, chip.CH32V30X, v30x, true, 0},
		{[]byte{0x97, 0x01, 0x00, 0x20}, chip.CH32V30X, v30x, true, 0},
		// c.j 0x10.
		{[]byte{0x01, 0xa8, 0x00, 0x00}, chip.CH32V30X, v30x, true, 0},
		// addi sp, sp, -16 is not a reset entry.
		{[]byte{0x13, 0x01, 0x01, 0xff}, chip.CH32V30X, v30x, false, BadFormat},
		// Text, not code.
		{[]byte("hello, world"), chip.CH32V30X, v30x, false, BadFormat},
		// A bad header takes precedence over size.
		{make([]byte, 1024*1024), chip.CH32V30X, v30x, false, BadFormat},
	} {
		err := Validate(New(c.data, c.family, fmt.Sprintf("case%d", i)), c.p)
		if c.ok {
			if err != nil {
				t.Errorf("%d: %s", i, err)
			}
			continue
		}
		k, ok := ImageErrorKindOf(err)
		if !ok {
			t.Errorf("%d: expected %s, got %v", i, c.kind, err)
			continue
		}
		if k != c.kind {
			t.Errorf("%d: got %s, want %s", i, k, c.kind)
		}
	}
}

func TestValidateDetectsModification(t *testing.T) {
	img := New(firmware(1024), chip.CH32V30X, "test")
	img.Data[100] ^= 1
	if !IsImageError(Validate(img, profile(t, chip.CH32V30X))) {
		t.Errorf("modified image accepted")
	}
}

func hexRecord(typ byte, addr uint16, data []byte) string {
	rec := []byte{byte(len(data)), byte(addr >> 8), byte(addr), typ}
	rec = append(rec, data...)
	cs := byte(0)
	for _, b := range rec {
		cs += b
	}
	rec = append(rec, -cs)
	return fmt.Sprintf(":%X\n", rec)
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	fname := filepath.Join(t.TempDir(), name)
	if err := ioutil.WriteFile(fname, data, 0644); err != nil {
		t.Fatal(err)
	}
	return fname
}

func TestLoadHex(t *testing.T) {
	var sb strings.Builder
	sb.WriteString(hexRecord(4, 0, []byte{0x08, 0x00}))
	sb.WriteString(hexRecord(0, 0, jalHeader))
	sb.WriteString(hexRecord(0, 0x10, []byte{1, 2, 3, 4}))
	sb.WriteString(hexRecord(1, 0, nil))
	img, err := Load(writeFile(t, "fw.hex", []byte(sb.String())), chip.CH32V30X)
	if err != nil {
		t.Fatal(err)
	}
	want := append(append(append([]byte{}, jalHeader...), bytes.Repeat([]byte{0xff}, 12)...), 1, 2, 3, 4)
	if !bytes.Equal(img.Data, want) {
		t.Errorf("got %x, want %x", img.Data, want)
	}
	if err := Validate(img, profile(t, chip.CH32V30X)); err != nil {
		t.Error(err)
	}
}

func TestLoadHexNotAtFlashStart(t *testing.T) {
	var sb strings.Builder
	sb.WriteString(hexRecord(4, 0, []byte{0x20, 0x00}))
	sb.WriteString(hexRecord(0, 0, jalHeader))
	sb.WriteString(hexRecord(1, 0, nil))
	_, err := Load(writeFile(t, "ram.hex", []byte(sb.String())), chip.CH32V30X)
	if k, ok := ImageErrorKindOf(err); !ok || k != BadFormat {
		t.Errorf("expected bad format, got %v", err)
	}
}

func TestLoadBin(t *testing.T) {
	data := firmware(3000)
	img, err := Load(writeFile(t, "fw.bin", data), chip.CH32V003)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(img.Data, data) || img.Family != chip.CH32V003 {
		t.Errorf("got %s", img)
	}
}

func TestLoadBundle(t *testing.T) {
	fwb := fwbundle.NewBundle()
	fwb.Platform = "ch32v307"
	p := &fwbundle.FirmwarePart{Name: "app", Type: fwbundle.AppPartType, Addr: 0x08000000}
	p.SetData(firmware(5000))
	fwb.AddPart(p)
	fname := filepath.Join(t.TempDir(), "fw.zip")
	if err := fwbundle.WriteZipFirmwareBundle(fwb, fname); err != nil {
		t.Fatal(err)
	}
	img, err := Load(fname, "")
	if err != nil {
		t.Fatal(err)
	}
	if img.Family != chip.CH32V30X {
		t.Errorf("family: got %q, want %s", img.Family, chip.CH32V30X)
	}
	if !bytes.Equal(img.Data, firmware(5000)) {
		t.Errorf("data mismatch")
	}
	// An explicit family wins over the manifest.
	img, err = Load(fname, chip.CH32V20X)
	if err != nil {
		t.Fatal(err)
	}
	if img.Family != chip.CH32V20X {
		t.Errorf("family: got %q, want %s", img.Family, chip.CH32V20X)
	}
}
