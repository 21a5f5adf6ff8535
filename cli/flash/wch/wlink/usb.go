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
	"fmt"
	"strconv"
	"strings"

	"github.com/golang/glog"
	"github.com/google/gousb"
	"github.com/juju/errors"
)

const (
	VendorID   = gousb.ID(0x1a86)
	ProductRV  = gousb.ID(0x8010)
	ProductDAP = gousb.ID(0x8012)

	epCommand = 1
	epData    = 2
)

const udevHint = "add a udev rule granting access to 1a86:8010 " +
	"(e.g. /etc/udev/rules.d/99-wch.rules) and replug the adapter"

// portSpec is a parsed adapter path: "auto", "usb:<bus>:<addr>" or "sn:<serial>".
type portSpec struct {
	bus, addr int
	serial    string
}

func parsePort(path string) (*portSpec, error) {
	switch {
	case path == "" || path == "auto":
		return &portSpec{}, nil
	case strings.HasPrefix(path, "sn:"):
		return &portSpec{serial: path[3:]}, nil
	case strings.HasPrefix(path, "usb:"):
		parts := strings.Split(path[4:], ":")
		if len(parts) == 2 {
			bus, err1 := strconv.Atoi(parts[0])
			addr, err2 := strconv.Atoi(parts[1])
			if err1 == nil && err2 == nil {
				return &portSpec{bus: bus, addr: addr}, nil
			}
		}
	}
	return nil, errors.NotValidf("adapter path %q (want auto, usb:<bus>:<addr> or sn:<serial>)", path)
}

func (ps *portSpec) matchDesc(dd *gousb.DeviceDesc) bool {
	if ps.bus != 0 && (dd.Bus != ps.bus || dd.Address != ps.addr) {
		return false
	}
	return true
}

func usbKey(dd *gousb.DeviceDesc, serial string) string {
	if serial != "" {
		return "sn-" + serial
	}
	return fmt.Sprintf("usb-%d-%d", dd.Bus, dd.Address)
}

// USBOpener opens WCH-Link adapters in RV mode through libusb.
type USBOpener struct{}

func (USBOpener) OpenLink(ctx context.Context, path string) (Link, string, error) {
	ps, err := parsePort(path)
	if err != nil {
		return nil, "", errors.Trace(err)
	}
	uctx := gousb.NewContext()
	devs, err := uctx.OpenDevices(func(dd *gousb.DeviceDesc) bool {
		glog.V(1).Infof("Dev %+v", dd)
		return dd.Vendor == VendorID && dd.Product == ProductRV && ps.matchDesc(dd)
	})
	// OpenDevices may fail overall but still return results. Only fail if no devices were returned.
	if len(devs) == 0 {
		uctx.Close()
		if err == gousb.ErrorAccess {
			return nil, "", &ConnectionError{Kind: PermissionDenied, Path: path, Op: "open", Err: errors.New(udevHint)}
		}
		if err != nil {
			glog.Warningf("USB enumeration: %s", err)
		}
		return nil, "", &ConnectionError{Kind: NotFound, Path: path, Op: "open", Err: notFoundHint()}
	}
	var res *gousb.Device
	var sn string
	for _, dev := range devs {
		if res != nil {
			dev.Close()
			continue
		}
		s, _ := dev.SerialNumber()
		if ps.serial == "" || s == ps.serial {
			res, sn = dev, s
		} else {
			dev.Close()
		}
	}
	if res == nil {
		uctx.Close()
		return nil, "", &ConnectionError{Kind: NotFound, Path: path, Op: "open", Err: errors.Errorf("no adapter with serial %q", ps.serial)}
	}
	key := usbKey(res.Desc, sn)
	l, err := newUSBLink(uctx, res)
	if err != nil {
		kind := NotFound
		switch err {
		case gousb.ErrorAccess:
			kind, err = PermissionDenied, errors.New(udevHint)
		case gousb.ErrorBusy:
			kind = Busy
		}
		return nil, "", &ConnectionError{Kind: kind, Path: path, Op: "claim", Err: err}
	}
	glog.Infof("Opened %s:%s %s", VendorID, ProductRV, key)
	return l, key, nil
}

func notFoundHint() error {
	if dap, _ := listDAP(); len(dap) > 0 {
		return errors.Errorf("adapter %s is in DAP mode, switch it to RV mode", dap[0].Path)
	}
	return errors.Errorf("no %s:%s device", VendorID, ProductRV)
}

type usbLink struct {
	uctx    *gousb.Context
	dev     *gousb.Device
	cfg     *gousb.Config
	intf    *gousb.Interface
	cmdOut  *gousb.OutEndpoint
	cmdIn   *gousb.InEndpoint
	dataOut *gousb.OutEndpoint
	dataIn  *gousb.InEndpoint
}

func newUSBLink(uctx *gousb.Context, dev *gousb.Device) (*usbLink, error) {
	l := &usbLink{uctx: uctx, dev: dev}
	dev.SetAutoDetach(true)
	var err error
	if l.cfg, err = dev.Config(1); err != nil {
		l.Close()
		return nil, err
	}
	if l.intf, err = l.cfg.Interface(0, 0); err != nil {
		l.Close()
		return nil, err
	}
	if l.cmdOut, err = l.intf.OutEndpoint(epCommand); err == nil {
		if l.cmdIn, err = l.intf.InEndpoint(epCommand); err == nil {
			if l.dataOut, err = l.intf.OutEndpoint(epData); err == nil {
				l.dataIn, err = l.intf.InEndpoint(epData)
			}
		}
	}
	if err != nil {
		l.Close()
		return nil, err
	}
	return l, nil
}

func mapUSBError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return errors.Annotatef(ErrLinkTimeout, "%s", err)
	}
	switch err {
	case gousb.ErrorNoDevice, gousb.TransferNoDevice:
		return errors.Annotatef(ErrNoDevice, "%s", err)
	case gousb.ErrorTimeout, gousb.TransferTimedOut, gousb.TransferCancelled:
		return errors.Annotatef(ErrLinkTimeout, "%s", err)
	}
	return errors.Trace(err)
}

func (l *usbLink) Write(ctx context.Context, pipe Pipe, p []byte) error {
	ep := l.cmdOut
	if pipe == PipeData {
		ep = l.dataOut
	}
	if _, err := ep.WriteContext(ctx, p); err != nil {
		return mapUSBError(ctx, err)
	}
	return nil
}

func (l *usbLink) Read(ctx context.Context, pipe Pipe, p []byte) (int, error) {
	ep := l.cmdIn
	if pipe == PipeData {
		ep = l.dataIn
	}
	n, err := ep.ReadContext(ctx, p)
	if err != nil {
		return n, mapUSBError(ctx, err)
	}
	return n, nil
}

func (l *usbLink) Close() error {
	if l.intf != nil {
		l.intf.Close()
	}
	if l.cfg != nil {
		l.cfg.Close()
	}
	var err error
	if l.dev != nil {
		err = l.dev.Close()
	}
	l.uctx.Close()
	return err
}
