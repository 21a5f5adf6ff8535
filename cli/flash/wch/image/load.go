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
	"io/ioutil"
	"path/filepath"
	"sort"
	"strings"

	"github.com/golang/glog"
	"github.com/juju/errors"
	"github.com/marcinbor85/gohex"

	"github.com/mongoose-os/wchflash/cli/flash/wch/chip"
	"github.com/mongoose-os/wchflash/common/fwbundle"
)

// Largest image a hex file may expand to.
const maxHexSpan = 16 * 1024 * 1024

// Addresses flash is mapped at. Hex files are linked at one of them.
var flashAliases = []uint32{0x00000000, 0x08000000}

func atFlashStart(addr uint32) bool {
	for _, a := range flashAliases {
		if addr == a {
			return true
		}
	}
	return false
}

// Load reads a firmware image from a raw binary, an Intel hex file or a
// firmware bundle (.zip). If family is empty, it is taken from the bundle
// manifest when there is one and left empty otherwise.
func Load(fname string, family chip.Family) (*Image, error) {
	data, err := ioutil.ReadFile(fname)
	if err != nil {
		return nil, errors.Trace(err)
	}
	switch strings.ToLower(filepath.Ext(fname)) {
	case ".hex", ".ihex":
		data, err = flattenHex(data)
	case ".zip":
		data, family, err = fromBundle(data, fname, family)
	}
	if err != nil {
		return nil, errors.Annotatef(err, "%s", fname)
	}
	img := New(data, family, fname)
	glog.V(1).Infof("Loaded %s", img)
	return img, nil
}

// flattenHex turns the segments of a hex file into a contiguous image that
// starts at the beginning of flash. Gaps are filled with 0xff.
func flattenHex(hexData []byte) ([]byte, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(bytes.NewReader(hexData)); err != nil {
		return nil, &ImageError{Kind: BadFormat, Msg: err.Error()}
	}
	segs := mem.GetDataSegments()
	if len(segs) == 0 {
		return nil, imageErrorf(BadFormat, "hex file has no data")
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].Address < segs[j].Address })
	base := segs[0].Address
	if !atFlashStart(base) {
		return nil, imageErrorf(BadFormat, "hex data starts at %#08x, not at the start of flash", base)
	}
	last := segs[len(segs)-1]
	span := uint64(last.Address) + uint64(len(last.Data)) - uint64(base)
	if span > maxHexSpan {
		return nil, imageErrorf(TooLarge, "hex data spans %d bytes", span)
	}
	res := bytes.Repeat([]byte{0xff}, int(span))
	for _, s := range segs {
		copy(res[s.Address-base:], s.Data)
	}
	glog.V(2).Infof("hex: %d segments @ %#08x, %d bytes", len(segs), base, span)
	return res, nil
}

func fromBundle(zipData []byte, fname string, family chip.Family) ([]byte, chip.Family, error) {
	fwb, err := fwbundle.ReadZipFirmwareBytes(zipData, fname)
	if err != nil {
		return nil, "", errors.Trace(err)
	}
	if fwb.Platform != "" {
		bf, err := chip.ParseFamily(fwb.Platform)
		switch {
		case err != nil:
			glog.Warningf("Unknown bundle platform %q", fwb.Platform)
		case family == "":
			family = bf
		case family != bf:
			glog.Warningf("Bundle is built for %s, treating it as %s", bf, family)
		}
	}
	p, err := fwb.AppPart()
	if err != nil {
		return nil, "", errors.Trace(err)
	}
	if !atFlashStart(p.Addr) {
		return nil, "", imageErrorf(BadFormat, "part %s is at %#08x, not at the start of flash", p.Name, p.Addr)
	}
	data, err := p.GetData()
	if err != nil {
		return nil, "", errors.Trace(err)
	}
	return data, family, nil
}
