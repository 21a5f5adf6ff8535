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
	"io/ioutil"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/golang/glog"
	"github.com/juju/errors"
	"github.com/kardianos/osext"

	"github.com/mongoose-os/wchflash/cli/flags"
	"github.com/mongoose-os/wchflash/cli/flash/wch"
	"github.com/mongoose-os/wchflash/cli/flash/wch/chip"
	"github.com/mongoose-os/wchflash/cli/flash/wch/flasher"
	"github.com/mongoose-os/wchflash/cli/flash/wch/image"
	"github.com/mongoose-os/wchflash/cli/flash/wch/wlink"
	"github.com/mongoose-os/wchflash/cli/ourutil"
)

const (
	firmwareDir         = "Firmware_Link"
	v003FirmwareName    = "FIRMWARE_CH32V003.bin"
	defaultFirmwareName = "WCH-LinkE-APP-IAP.bin"
)

func openOpts() *wch.OpenOpts {
	return &wch.OpenOpts{
		Options: wlink.Options{
			StatusTimeout: *flags.StatusTimeout,
			BlockTimeout:  *flags.BlockTimeout,
			EraseTimeout:  *flags.EraseTimeout,
			MaxMisses:     *flags.MaxMisses,
			LockDir:       *flags.LockDir,
		},
	}
}

func resolverOpts() *chip.ResolverOpts {
	return &chip.ResolverOpts{
		Attempts:    *flags.IdentifyAttempts,
		SettleDelay: *flags.SettleDelay,
	}
}

func flashOpts() *wch.FlashOpts {
	return &wch.FlashOpts{
		FlashOpts: flasher.FlashOpts{
			BlockSize:      *flags.BlockSize,
			MaxAttempts:    *flags.Attempts,
			RetryDelay:     *flags.RetryDelay,
			RestoreTimeout: *flags.RestoreTimeout,
			BootFirmware:   *flags.BootFW,
		},
		Resolver: *resolverOpts(),
	}
}

// speedLadder starts at s and continues with the profile's slower speeds,
// fastest first.
func speedLadder(s wlink.Speed, speeds []wlink.Speed) []wlink.Speed {
	res := []wlink.Speed{s}
	for _, ps := range speeds {
		if ps < s {
			res = append(res, ps)
		}
	}
	slower := res[1:]
	sort.Slice(slower, func(i, j int) bool { return slower[i] > slower[j] })
	return res
}

// applyOverrides adjusts the detected profile to --speed and --erase-method.
func applyOverrides(p *chip.Profile, speed, eraseMethod string) error {
	if speed != "" {
		s, err := wlink.ParseSpeed(speed)
		if err != nil {
			return errors.Trace(err)
		}
		p.Speeds = speedLadder(s, p.Speeds)
	}
	if eraseMethod != "" {
		m, err := wlink.ParseEraseMethod(eraseMethod)
		if err != nil {
			return errors.Trace(err)
		}
		p.EraseMethod = m
	}
	return nil
}

// defaultFirmware is the stock image shipped next to the executable.
func defaultFirmware(exeDir string, f chip.Family) string {
	name := defaultFirmwareName
	if f == chip.CH32V003 {
		name = v003FirmwareName
	}
	return filepath.Join(exeDir, firmwareDir, name)
}

func backupFileName(p *chip.Profile, now time.Time) string {
	return fmt.Sprintf("%s-backup-%s.bin", strings.ToLower(string(p.Family)), now.Format("20060102-150405"))
}

// connect opens the adapter and identifies the chip behind it. The caller
// must close the handle.
func connect(ctx context.Context) (*wlink.Handle, *chip.Profile, error) {
	h, err := wch.OpenDevice(ctx, *flags.Port, openOpts())
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	p, err := wch.ResolveChip(ctx, h, resolverOpts())
	if err != nil {
		closeDevice(h)
		return nil, nil, errors.Trace(err)
	}
	return h, p, nil
}

func closeDevice(h *wlink.Handle) {
	if err := wch.CloseDevice(context.Background(), h); err != nil {
		glog.Errorf("%s: %s", h.Path(), err)
	}
}

func loadFirmware(p *chip.Profile) (*image.Image, error) {
	fname := *flags.Firmware
	if fname == "" {
		exeDir, err := osext.ExecutableFolder()
		if err != nil {
			return nil, errors.Annotatef(err, "failed to locate the executable, please specify --firmware")
		}
		fname = defaultFirmware(exeDir, p.Family)
		ourutil.Reportf("Using %s", fname)
	}
	var family chip.Family
	if *flags.Chip != "" {
		f, err := chip.ParseFamily(*flags.Chip)
		if err != nil {
			return nil, errors.Trace(err)
		}
		family = f
	}
	img, err := image.Load(fname, family)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if img.Family == "" {
		glog.Infof("%s: assuming it is built for %s", fname, p.Family)
		img.Family = p.Family
	}
	return img, nil
}

// progressPrinter reports phase changes and every tenth percent, or every
// event with --verbose.
type progressPrinter struct {
	verbose bool
	phase   flasher.Phase
	decile  int
	started bool
}

func (pp *progressPrinter) print(ev flasher.ProgressEvent) {
	d := ev.Percent / 10
	if pp.verbose || !pp.started || ev.Phase != pp.phase || d != pp.decile || ev.Phase.Terminal() {
		ourutil.Reportf("%s", ev)
	}
	pp.started, pp.phase, pp.decile = true, ev.Phase, d
}

func saveBackup(p *chip.Profile, res *flasher.Result) {
	fname := *flags.BackupFile
	if fname == "" {
		fname = backupFileName(p, time.Now())
	}
	if err := ioutil.WriteFile(fname, res.Backup, 0644); err != nil {
		glog.Errorf("failed to save the backup: %s", err)
		color.New(color.FgRed).Fprintf(os.Stderr, "Failed to save the backup to %s: %s\n", fname, err)
		return
	}
	ourutil.Reportf("Previous firmware (%d bytes @ %#08x) saved to %s", len(res.Backup), res.BackupAddr, fname)
}

func flash() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	h, p, err := connect(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	defer closeDevice(h)
	if err := applyOverrides(p, *flags.Speed, *flags.EraseMethod); err != nil {
		return errors.Trace(err)
	}
	ourutil.Reportf("Target: %s, adapter %s", p, p.Adapter.String())

	img, err := loadFirmware(p)
	if err != nil {
		return errors.Trace(err)
	}
	if err := wch.ValidateImage(img, p); err != nil {
		return errors.Trace(err)
	}
	ourutil.Reportf("Flashing %s", img)

	op, err := wch.Flash(ctx, h, p, img, flashOpts())
	if err != nil {
		return errors.Trace(err)
	}
	pp := &progressPrinter{verbose: *verbose}
	for ev := range op.Events() {
		pp.print(ev)
	}
	res := op.Wait()
	if n := op.Dropped(); n > 0 {
		glog.V(1).Infof("%d progress events dropped", n)
	}
	if res.OK() {
		color.New(color.FgGreen).Fprintf(os.Stderr, "%s\n", res)
		return nil
	}
	color.New(color.FgRed).Fprintf(os.Stderr, "%s\n", res)
	if res.Backup != nil {
		saveBackup(p, res)
	}
	if res.Err != nil {
		return errors.Annotatef(res.Err, "flashing failed")
	}
	return errors.Errorf("flashing failed: %s", res.Reason)
}
