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
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/juju/errors"

	"github.com/mongoose-os/wchflash/cli/flash/wch/chip"
)

// Image is a firmware blob destined for the start of the target's flash.
type Image struct {
	Data     []byte
	Family   chip.Family
	Checksum uint32
	Source   string
}

func New(data []byte, family chip.Family, source string) *Image {
	return &Image{
		Data:     data,
		Family:   family,
		Checksum: crc32.ChecksumIEEE(data),
		Source:   source,
	}
}

func (img *Image) Size() uint32 {
	return uint32(len(img.Data))
}

func (img *Image) String() string {
	return fmt.Sprintf("%s (%s, %d bytes, crc32 %08x)", img.Source, img.Family, len(img.Data), img.Checksum)
}

type ImageErrorKind int

const (
	BadFormat ImageErrorKind = iota
	TooLarge
	FamilyMismatch
)

func (k ImageErrorKind) String() string {
	switch k {
	case BadFormat:
		return "bad format"
	case TooLarge:
		return "too large"
	case FamilyMismatch:
		return "family mismatch"
	}
	return fmt.Sprintf("ImageErrorKind(%d)", int(k))
}

// ImageError is always fatal: a different image is needed.
type ImageError struct {
	Kind ImageErrorKind
	Msg  string
}

func (e *ImageError) Error() string {
	return "invalid image: " + e.Kind.String() + ": " + e.Msg
}

func ImageErrorKindOf(err error) (ImageErrorKind, bool) {
	if ie, ok := errors.Cause(err).(*ImageError); ok {
		return ie.Kind, true
	}
	return 0, false
}

func IsImageError(err error) bool {
	_, ok := ImageErrorKindOf(err)
	return ok
}

func imageErrorf(kind ImageErrorKind, f string, args ...interface{}) error {
	return &ImageError{Kind: kind, Msg: fmt.Sprintf(f, args...)}
}

// RISC-V opcodes a reset vector may start with.
const (
	opLUI   = 0x37
	opAUIPC = 0x17
	opJAL   = 0x6f
)

// checkHeader verifies that the image begins with something the core can
// execute out of reset: a jump, or an address computation leading to one.
func checkHeader(data []byte) error {
	if len(data) < 4 {
		return imageErrorf(BadFormat, "image is only %d bytes long", len(data))
	}
	w := binary.LittleEndian.Uint32(data)
	switch w {
	case 0xffffffff:
		return imageErrorf(BadFormat, "image starts with erased flash")
	case 0:
		return imageErrorf(BadFormat, "image starts with zeroes")
	}
	if w&0x3 == 0x3 {
		switch w & 0x7f {
		case opJAL, opAUIPC, opLUI:
			return nil
		}
		return imageErrorf(BadFormat, "first instruction %08x is not a reset entry", w)
	}
	// Compressed: quadrant 1, funct3 5 is c.j and funct3 1 is c.jal.
	h := uint16(w)
	if h&0x3 == 0x1 {
		switch h >> 13 {
		case 1, 5:
			return nil
		}
	}
	return imageErrorf(BadFormat, "first instruction %04x is not a reset entry", h)
}

// Validate checks that img can be written to the chip described by p.
// It looks at nothing but its arguments.
func Validate(img *Image, p *chip.Profile) error {
	if img == nil || len(img.Data) == 0 {
		return imageErrorf(BadFormat, "image is empty")
	}
	if err := checkHeader(img.Data); err != nil {
		return err
	}
	if img.Size() > p.FlashSize {
		return imageErrorf(TooLarge, "%d bytes, %s has %d bytes of flash", img.Size(), p.Name, p.FlashSize)
	}
	if img.Family != p.Family {
		return imageErrorf(FamilyMismatch, "image is for %s, target is %s", img.Family, p.Family)
	}
	if crc32.ChecksumIEEE(img.Data) != img.Checksum {
		return imageErrorf(BadFormat, "checksum mismatch, image modified after loading")
	}
	return nil
}
