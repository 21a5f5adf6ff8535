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
package wch_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/mongoose-os/wchflash/cli/flash/wch"
	"github.com/mongoose-os/wchflash/cli/flash/wch/chip"
	"github.com/mongoose-os/wchflash/cli/flash/wch/flasher"
	"github.com/mongoose-os/wchflash/cli/flash/wch/image"
	"github.com/mongoose-os/wchflash/cli/flash/wch/wlink"
	"github.com/mongoose-os/wchflash/cli/flash/wch/wlink/wlinktest"
)

func noSleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

func TestSquadranEndToEnd(t *testing.T) {
	sim := wlinktest.New(0x06, 0x30700518, 256*1024, 4096)
	sim.Variant = wlink.VariantLinkECH32V305
	sim.Program(0, []byte{0x6f, 0x00, 0x00, 0x00, 'o', 'l', 'd'})
	ctx := context.Background()
	oo := &wch.OpenOpts{Opener: sim}
	oo.LockDir = t.TempDir()

	h, err := wch.OpenDevice(ctx, "auto", oo)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()
	// One session per adapter.
	if _, err := wch.OpenDevice(ctx, "auto", oo); err == nil {
		t.Fatalf("second open succeeded")
	}

	p, err := wch.ResolveChip(ctx, h, &chip.ResolverOpts{Sleep: noSleep})
	if err != nil {
		t.Fatal(err)
	}
	if p.Board != chip.SquadranMini || p.Family != chip.CH32V30X {
		t.Fatalf("resolved %s", p)
	}

	data := make([]byte, 100*1024)
	for i := range data {
		data[i] = byte(i >> 8)
	}
	copy(data, []byte{0x6f, 0x00, 0x40, 0x00})
	img := image.New(data, chip.CH32V30X, "app.bin")
	if err := wch.ValidateImage(img, p); err != nil {
		t.Fatal(err)
	}
	fo := &wch.FlashOpts{}
	fo.Sleep = noSleep
	fo.Resolver.Sleep = noSleep
	fo.BootFirmware = true
	op, err := wch.Flash(ctx, h, p, img, fo)
	if err != nil {
		t.Fatal(err)
	}
	var last flasher.ProgressEvent
	for ev := range op.Events() {
		last = ev
	}
	res := op.Wait()
	if !res.OK() {
		t.Fatal(res)
	}
	if last.Phase != flasher.Done {
		t.Errorf("last event: %s", last)
	}
	if !bytes.Equal(sim.Flash()[:len(data)], data) {
		t.Errorf("flash contents differ from the image")
	}
	if sim.Resets() != 1 {
		t.Errorf("target not reset")
	}
	if got, want := h.Speed(), wlink.SpeedLow; got != want {
		t.Errorf("speed: got %s, want %s", got, want)
	}

	if err := wch.CloseDevice(ctx, h); err != nil {
		t.Fatal(err)
	}
	if got, want := sim.Count(wlinktest.OpDetach), 1; got != want {
		t.Errorf("detached %d times, want %d", got, want)
	}
	// The adapter is free for the next session.
	h2, err := wch.OpenDevice(ctx, "auto", oo)
	if err != nil {
		t.Fatal(err)
	}
	h2.Close()
}

func TestCloseDeviceAfterUnplug(t *testing.T) {
	sim := wlinktest.New(0x05, 0x20300500, 128*1024, 4096)
	oo := &wch.OpenOpts{Opener: sim}
	oo.LockDir = t.TempDir()
	h, err := wch.OpenDevice(context.Background(), "auto", oo)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wch.ResolveChip(context.Background(), h, &chip.ResolverOpts{Sleep: noSleep}); err != nil {
		t.Fatal(err)
	}
	sim.SetUnplugged(true)
	if _, err := wlink.GetProbeInfo(context.Background(), h); err == nil {
		t.Fatal("unplugged adapter answered")
	}
	if err := wch.CloseDevice(context.Background(), h); err != nil {
		t.Errorf("close: %s", err)
	}
	if got := sim.Count(wlinktest.OpDetach); got != 0 {
		t.Errorf("detach sent to a lost adapter")
	}
}

func TestFlashRejectsForeignImage(t *testing.T) {
	sim := wlinktest.New(0x09, 0x00300500, 16*1024, 1024)
	oo := &wch.OpenOpts{Opener: sim}
	oo.LockDir = t.TempDir()
	h, err := wch.OpenDevice(context.Background(), "auto", oo)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()
	p, err := wch.ResolveChip(context.Background(), h, nil)
	if err != nil {
		t.Fatal(err)
	}
	n := len(sim.Calls())
	img := image.New([]byte{0x6f, 0, 0, 0, 1, 2, 3, 4}, chip.CH32V30X, "v307.bin")
	if _, err := wch.Flash(context.Background(), h, p, img, nil); !image.IsImageError(err) {
		t.Fatalf("expected an image error, got %v", err)
	}
	if len(sim.Calls()) != n {
		t.Errorf("device touched")
	}
}
