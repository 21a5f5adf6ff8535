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
package wlink

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/juju/errors"
)

// Command codes of the RV-mode protocol.
const (
	CmdProgram    = 0x02
	CmdReadMemory = 0x03
	CmdReset      = 0x0b
	CmdSetSpeed   = 0x0c
	CmdControl    = 0x0d
	CmdChipInfo   = 0x11
)

// CmdControl sub-commands.
const (
	CtlProbeInfo  = 0x01
	CtlAttachChip = 0x02
	CtlDetachChip = 0xff
)

// CmdProgram sub-commands.
const (
	ProgEraseChip   = 0x01
	ProgWriteBlock  = 0x02
	ProgEraseSector = 0x03
	ProgBlankCheck  = 0x0f
	ProgChecksum    = 0x10
)

const InfoESIG = 0x06

type Speed int

const (
	SpeedUnknown Speed = iota
	SpeedLow
	SpeedMedium
	SpeedHigh
)

func (s Speed) String() string {
	switch s {
	case SpeedLow:
		return "low"
	case SpeedMedium:
		return "medium"
	case SpeedHigh:
		return "high"
	}
	return "unknown"
}

// Wire code, as understood by the adapter.
func (s Speed) Code() byte {
	switch s {
	case SpeedLow:
		return 0x03
	case SpeedMedium:
		return 0x02
	}
	return 0x01
}

func ParseSpeed(s string) (Speed, error) {
	switch strings.ToLower(s) {
	case "low":
		return SpeedLow, nil
	case "medium":
		return SpeedMedium, nil
	case "high":
		return SpeedHigh, nil
	}
	return SpeedUnknown, errors.NotValidf("speed %q", s)
}

type EraseMethod int

const (
	EraseDefault EraseMethod = iota
	ErasePowerOff
	ErasePinReset
)

func (m EraseMethod) String() string {
	switch m {
	case EraseDefault:
		return "default"
	case ErasePowerOff:
		return "power-off"
	case ErasePinReset:
		return "pin-rst"
	}
	return fmt.Sprintf("EraseMethod(%d)", int(m))
}

func ParseEraseMethod(s string) (EraseMethod, error) {
	switch strings.ToLower(s) {
	case "", "default":
		return EraseDefault, nil
	case "power-off":
		return ErasePowerOff, nil
	case "pin-rst":
		return ErasePinReset, nil
	}
	return EraseDefault, errors.NotValidf("erase method %q", s)
}

// Variant is the adapter hardware model reported in probe info.
type Variant byte

const (
	VariantLink          Variant = 0x01
	VariantLinkE         Variant = 0x02
	VariantLinkS         Variant = 0x03
	VariantLinkB         Variant = 0x04
	VariantLinkW         Variant = 0x05
	VariantLinkECH32V305 Variant = 0x12
)

var variantNames = map[Variant]string{
	VariantLink:          "WCH-Link-CH549",
	VariantLinkE:         "WCH-LinkE",
	VariantLinkS:         "WCH-LinkS-CH32V203",
	VariantLinkB:         "WCH-LinkB",
	VariantLinkW:         "WCH-LinkW",
	VariantLinkECH32V305: "WCH-LinkE-CH32V305",
}

func (v Variant) Known() bool {
	_, ok := variantNames[v]
	return ok
}

func (v Variant) String() string {
	if n, ok := variantNames[v]; ok {
		return n
	}
	return fmt.Sprintf("unknown(%#02x)", byte(v))
}

type ProbeInfo struct {
	Major, Minor byte
	Variant      Variant
}

func (pi *ProbeInfo) Version() string {
	return fmt.Sprintf("%d.%d", pi.Major, pi.Minor)
}

func (pi *ProbeInfo) String() string {
	return fmt.Sprintf("%s v%s", pi.Variant, pi.Version())
}

// ChipID is what the adapter reports after attaching to the target.
// Family 0 means no target answered.
type ChipID struct {
	Family byte
	ID     uint32
}

func (c ChipID) String() string {
	return fmt.Sprintf("family %#02x id %#08x", c.Family, c.ID)
}

func addrLen(sub byte, addr, n uint32) []byte {
	p := make([]byte, 9)
	p[0] = sub
	binary.BigEndian.PutUint32(p[1:], addr)
	binary.BigEndian.PutUint32(p[5:], n)
	return p
}

func controlCmd(name string, sub byte) *Command {
	return &Command{Name: name, Code: CmdControl, Payload: []byte{sub}}
}

func setSpeedCmd(family byte, s Speed) *Command {
	return &Command{Name: "set speed", Code: CmdSetSpeed, Payload: []byte{family, s.Code()}}
}

func GetProbeInfo(ctx context.Context, s Sender) (*ProbeInfo, error) {
	resp, err := s.Send(ctx, controlCmd("probe info", CtlProbeInfo))
	if err != nil {
		return nil, errors.Trace(err)
	}
	if len(resp.Payload) < 3 {
		return nil, errors.Errorf("short probe info response (%d)", len(resp.Payload))
	}
	return &ProbeInfo{Major: resp.Payload[0], Minor: resp.Payload[1], Variant: Variant(resp.Payload[2])}, nil
}

// AttachChip connects the adapter to the target and returns its identity.
// An unpowered or absent target yields a zero ChipID and no error.
func AttachChip(ctx context.Context, s Sender) (ChipID, error) {
	resp, err := s.Send(ctx, controlCmd("attach chip", CtlAttachChip))
	if err != nil {
		return ChipID{}, errors.Trace(err)
	}
	if len(resp.Payload) < 5 {
		return ChipID{}, nil
	}
	return ChipID{Family: resp.Payload[0], ID: binary.BigEndian.Uint32(resp.Payload[1:5])}, nil
}

func DetachChip(ctx context.Context, s Sender) error {
	_, err := s.Send(ctx, controlCmd("detach chip", CtlDetachChip))
	return errors.Trace(err)
}

// ReadFlashSize returns the flash size in bytes from the target's
// electronic signature, 0 if the target does not report it.
func ReadFlashSize(ctx context.Context, s Sender) (uint32, error) {
	resp, err := s.Send(ctx, &Command{Name: "chip info", Code: CmdChipInfo, Payload: []byte{InfoESIG}})
	if err != nil {
		return 0, errors.Trace(err)
	}
	if len(resp.Payload) < 2 {
		return 0, nil
	}
	return uint32(binary.BigEndian.Uint16(resp.Payload)) * 1024, nil
}
