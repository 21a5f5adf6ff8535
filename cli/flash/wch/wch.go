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
// Package wch programs WCH RISC-V microcontrollers through WCH-Link adapters.
package wch

import (
	"context"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/mongoose-os/wchflash/cli/flash/wch/chip"
	"github.com/mongoose-os/wchflash/cli/flash/wch/flasher"
	"github.com/mongoose-os/wchflash/cli/flash/wch/image"
	"github.com/mongoose-os/wchflash/cli/flash/wch/wlink"
	"github.com/mongoose-os/wchflash/common/multierror"
)

type OpenOpts struct {
	wlink.Options
	// USB if not set.
	Opener wlink.Opener
}

type FlashOpts struct {
	flasher.FlashOpts
	// Used for re-identification between attempts.
	Resolver chip.ResolverOpts
}

// OpenDevice opens and locks the adapter at path: "auto", "usb:<bus>:<addr>"
// or "sn:<serial>".
func OpenDevice(ctx context.Context, path string, opts *OpenOpts) (*wlink.Handle, error) {
	if opts == nil {
		opts = &OpenOpts{}
	}
	o := opts.Opener
	if o == nil {
		o = wlink.USBOpener{}
	}
	h, err := wlink.Open(ctx, o, path, &opts.Options)
	if err != nil {
		return nil, errors.Trace(err)
	}
	glog.V(1).Infof("Opened %s (%s)", h.Path(), h.Key())
	return h, nil
}

// CloseDevice detaches the target, if the adapter is still there, and
// closes the handle.
func CloseDevice(ctx context.Context, h *wlink.Handle) error {
	var errs error
	if h.Alive() {
		if err := wlink.DetachChip(ctx, h); err != nil {
			errs = multierror.Append(errs, errors.Annotatef(err, "%s: detach", h.Path()))
		}
	}
	return multierror.Append(errs, h.Close())
}

// ResolveChip identifies the adapter and the chip attached to it.
func ResolveChip(ctx context.Context, h *wlink.Handle, opts *chip.ResolverOpts) (*chip.Profile, error) {
	p, err := chip.NewResolver(opts).Resolve(ctx, h)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return p, nil
}

func ValidateImage(img *image.Image, p *chip.Profile) error {
	return image.Validate(img, p)
}

// Flash starts writing img to the chip behind h. The image is validated
// before anything is sent to the device.
func Flash(ctx context.Context, h *wlink.Handle, p *chip.Profile, img *image.Image, opts *FlashOpts) (*flasher.Operation, error) {
	if opts == nil {
		opts = &FlashOpts{}
	}
	dev := wlink.NewTarget(h, p.FamilyCode)
	op, err := flasher.Flash(ctx, dev, chip.NewResolver(&opts.Resolver), p, img, &opts.FlashOpts)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return op, nil
}
