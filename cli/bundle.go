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
	"path/filepath"
	"strings"
	"time"

	"github.com/juju/errors"

	"github.com/mongoose-os/wchflash/cli/flags"
	"github.com/mongoose-os/wchflash/cli/flash/wch/chip"
	"github.com/mongoose-os/wchflash/cli/flash/wch/image"
	"github.com/mongoose-os/wchflash/cli/ourutil"
	"github.com/mongoose-os/wchflash/common/fwbundle"
	"github.com/mongoose-os/wchflash/version"
)

// newBundle wraps img into a single part bundle.
func newBundle(img *image.Image, name string, addr uint32, now time.Time) (*fwbundle.FirmwareBundle, error) {
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(img.Source), filepath.Ext(img.Source))
	}
	fwb := fwbundle.NewBundle()
	fwb.Name = name
	fwb.Platform = string(img.Family)
	if img.Family == chip.CH32V30X {
		fwb.Board = chip.SquadranMini
	}
	fwb.BuildID = version.BuildId
	fwb.BuildTimestamp = &now
	p := &fwbundle.FirmwarePart{Name: "app", Type: fwbundle.AppPartType, Src: "app.bin", Addr: addr}
	p.SetData(img.Data)
	if err := fwb.AddPart(p); err != nil {
		return nil, errors.Trace(err)
	}
	return fwb, nil
}

func createBundle() error {
	family, err := chip.ParseFamily(*flags.Chip)
	if err != nil {
		return errors.Annotatef(err, "--chip")
	}
	img, err := image.Load(*flags.Firmware, family)
	if err != nil {
		return errors.Trace(err)
	}
	fwb, err := newBundle(img, *flags.Name, *flags.Addr, time.Now().UTC())
	if err != nil {
		return errors.Trace(err)
	}
	if err := fwbundle.WriteZipFirmwareBundle(fwb, *flags.Output); err != nil {
		return errors.Trace(err)
	}
	ourutil.Reportf("Wrote %s: %s for %s, %d bytes", *flags.Output, fwb.Name, fwb.Platform, len(img.Data))
	return nil
}
