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
	"fmt"

	"github.com/cesanta/hid"
	"github.com/golang/glog"
	"github.com/google/gousb"
	"github.com/juju/errors"
)

type Mode string

const (
	ModeRV  Mode = "rv"
	ModeDAP Mode = "dap"
)

type AdapterInfo struct {
	Mode Mode
	// Value to pass as the adapter path, empty for DAP mode adapters.
	Path   string
	Serial string
	// USB location for RV mode, HID device path for DAP mode.
	Location string
}

func (ai AdapterInfo) String() string {
	s := fmt.Sprintf("%-4s %s", ai.Mode, ai.Location)
	if ai.Serial != "" {
		s += " sn " + ai.Serial
	}
	if ai.Path != "" {
		s += " (--port " + ai.Path + ")"
	}
	return s
}

// List returns all attached adapters. Adapters in DAP mode cannot be used
// for programming until switched back to RV mode, they are listed so that
// the operator knows why nothing else was found.
func List() ([]AdapterInfo, error) {
	res, err := listRV()
	if err != nil {
		return nil, errors.Trace(err)
	}
	dap, err := listDAP()
	if err != nil {
		glog.Warningf("HID enumeration failed: %s", err)
	}
	return append(res, dap...), nil
}

func listRV() ([]AdapterInfo, error) {
	uctx := gousb.NewContext()
	defer uctx.Close()
	var res []AdapterInfo
	descs := map[string]bool{}
	devs, err := uctx.OpenDevices(func(dd *gousb.DeviceDesc) bool {
		if dd.Vendor != VendorID || dd.Product != ProductRV {
			return false
		}
		descs[fmt.Sprintf("%d:%d", dd.Bus, dd.Address)] = true
		return true
	})
	if err != nil && len(devs) == 0 && len(descs) == 0 {
		return nil, errors.Annotatef(err, "failed to enumerate USB devices")
	}
	for _, dev := range devs {
		loc := fmt.Sprintf("%d:%d", dev.Desc.Bus, dev.Desc.Address)
		sn, _ := dev.SerialNumber()
		ai := AdapterInfo{Mode: ModeRV, Location: "usb:" + loc, Path: "usb:" + loc, Serial: sn}
		if sn != "" {
			ai.Path = "sn:" + sn
		}
		res = append(res, ai)
		delete(descs, loc)
		dev.Close()
	}
	// Devices we could see but not open, most likely for lack of permissions.
	for loc := range descs {
		res = append(res, AdapterInfo{Mode: ModeRV, Location: "usb:" + loc, Path: "usb:" + loc})
	}
	return res, nil
}

func listDAP() ([]AdapterInfo, error) {
	devs, err := hid.Devices()
	if err != nil {
		return nil, errors.Annotatef(err, "failed to enumerate HID devices")
	}
	var res []AdapterInfo
	for i, di := range devs {
		glog.V(1).Infof("%d: %04x:%04x %s", i, di.VendorID, di.ProductID, di.Path)
		if di.VendorID == uint16(VendorID) && di.ProductID == uint16(ProductDAP) {
			res = append(res, AdapterInfo{Mode: ModeDAP, Location: di.Path})
		}
	}
	return res, nil
}
