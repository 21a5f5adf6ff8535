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
package wlink_test

import (
	"bytes"
	"context"
	"hash/crc32"
	"testing"

	"github.com/mongoose-os/wchflash/cli/flash/wch/wlink"
	"github.com/mongoose-os/wchflash/cli/flash/wch/wlink/wlinktest"
)

func openSim(t *testing.T, sim *wlinktest.Sim, lockDir string) *wlink.Handle {
	t.Helper()
	h, err := wlink.Open(context.Background(), sim, "auto", &wlink.Options{LockDir: lockDir})
	if err != nil {
		t.Fatalf("open: %s", err)
	}
	return h
}

func newSim() *wlinktest.Sim {
	return wlinktest.New(0x06, 0x30700518, 64*1024, 4096)
}

func TestOpenBusy(t *testing.T) {
	sim := newSim()
	dir := t.TempDir()
	h := openSim(t, sim, dir)

	_, err := wlink.Open(context.Background(), sim, "auto", &wlink.Options{LockDir: dir})
	if k, ok := wlink.ConnErrorKindOf(err); !ok || k != wlink.Busy {
		t.Fatalf("second open: expected busy, got %v", err)
	}
	// The failed open must not disturb the first session.
	if _, err := wlink.GetProbeInfo(context.Background(), h); err != nil {
		t.Fatalf("probe after busy open: %s", err)
	}

	if err := h.Close(); err != nil {
		t.Fatal(err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("second close: %s", err)
	}
	h2 := openSim(t, sim, dir)
	h2.Close()
}

func TestOpenNotFound(t *testing.T) {
	sim := newSim()
	sim.SetUnplugged(true)
	_, err := wlink.Open(context.Background(), sim, "auto", &wlink.Options{LockDir: t.TempDir()})
	if k, ok := wlink.ConnErrorKindOf(err); !ok || k != wlink.NotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTimeoutThenLinkLost(t *testing.T) {
	sim := newSim()
	sim.Hook = func(c wlinktest.Call) wlinktest.Fault {
		if c.Op == wlinktest.OpProbeInfo {
			return wlinktest.FaultTimeout
		}
		return wlinktest.FaultNone
	}
	h := openSim(t, sim, t.TempDir())
	defer h.Close()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := wlink.GetProbeInfo(ctx, h)
		if !wlink.IsTimeout(err) {
			t.Fatalf("%d: expected timeout, got %v", i, err)
		}
		if !h.Alive() {
			t.Fatalf("%d: handle dead after a single timeout", i)
		}
	}
	_, err := wlink.GetProbeInfo(ctx, h)
	if !wlink.IsLinkLost(err) {
		t.Fatalf("expected link lost, got %v", err)
	}
	if h.Alive() {
		t.Fatalf("handle still alive")
	}
	// Dead handles fail fast without touching the link.
	n := sim.Count(wlinktest.OpAttach)
	if _, err := wlink.AttachChip(ctx, h); !wlink.IsLinkLost(err) {
		t.Fatalf("expected link lost, got %v", err)
	}
	if got := sim.Count(wlinktest.OpAttach); got != n {
		t.Errorf("dead handle sent a command")
	}

	sim.Hook = nil
	if err := h.Reconnect(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := wlink.GetProbeInfo(ctx, h); err != nil {
		t.Fatalf("probe after reconnect: %s", err)
	}
}

func TestSuccessResetsMisses(t *testing.T) {
	sim := newSim()
	sim.Hook = func(c wlinktest.Call) wlinktest.Fault {
		// Every other probe times out.
		if c.Op == wlinktest.OpProbeInfo && c.N%2 == 1 {
			return wlinktest.FaultTimeout
		}
		return wlinktest.FaultNone
	}
	h := openSim(t, sim, t.TempDir())
	defer h.Close()
	for i := 0; i < 10; i++ {
		_, err := wlink.GetProbeInfo(context.Background(), h)
		if i%2 == 0 && !wlink.IsTimeout(err) {
			t.Fatalf("%d: expected timeout, got %v", i, err)
		}
		if i%2 == 1 && err != nil {
			t.Fatalf("%d: %s", i, err)
		}
	}
}

func TestDisconnect(t *testing.T) {
	sim := newSim()
	sim.Hook = func(c wlinktest.Call) wlinktest.Fault {
		if c.Op == wlinktest.OpAttach && c.N == 1 {
			return wlinktest.FaultDisconnect
		}
		return wlinktest.FaultNone
	}
	h := openSim(t, sim, t.TempDir())
	defer h.Close()
	ctx := context.Background()
	if _, err := wlink.AttachChip(ctx, h); !wlink.IsLinkLost(err) {
		t.Fatalf("expected link lost, got %v", err)
	}
	sim.SetUnplugged(true)
	if err := h.Reconnect(ctx); err == nil {
		t.Fatalf("reconnect to unplugged adapter succeeded")
	}
	sim.SetUnplugged(false)
	if err := h.Reconnect(ctx); err != nil {
		t.Fatal(err)
	}
	id, err := wlink.AttachChip(ctx, h)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := id, (wlink.ChipID{Family: 0x06, ID: 0x30700518}); got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestDeviceErrorIsNotAMiss(t *testing.T) {
	sim := newSim()
	sim.Hook = func(c wlinktest.Call) wlinktest.Fault {
		if c.Op == wlinktest.OpEraseSector {
			return wlinktest.FaultDeviceError
		}
		return wlinktest.FaultNone
	}
	h := openSim(t, sim, t.TempDir())
	defer h.Close()
	tgt := wlink.NewTarget(h, 0x06)
	for i := 0; i < 5; i++ {
		err := tgt.EraseSector(context.Background(), 0x08000000)
		if !wlink.IsDeviceError(err) {
			t.Fatalf("%d: expected device error, got %v", i, err)
		}
	}
	if !h.Alive() {
		t.Errorf("device errors killed the handle")
	}
}

func TestTargetRoundTrip(t *testing.T) {
	sim := newSim()
	h := openSim(t, sim, t.TempDir())
	defer h.Close()
	ctx := context.Background()
	tgt := wlink.NewTarget(h, 0x06)

	const base = 0x08000000
	blank, err := tgt.IsBlank(ctx, base, 8192)
	if err != nil || !blank {
		t.Fatalf("fresh flash not blank: %v %v", blank, err)
	}
	data := make([]byte, 6000)
	for i := range data {
		data[i] = byte(i * 7)
	}
	if err := tgt.WriteBlock(ctx, base, data[:4096]); err != nil {
		t.Fatal(err)
	}
	if err := tgt.WriteBlock(ctx, base+4096, data[4096:]); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, len(data))
	if err := tgt.ReadMemory(ctx, base, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("readback mismatch")
	}
	cs, err := tgt.Checksum(ctx, base, uint32(len(data)))
	if err != nil {
		t.Fatal(err)
	}
	if want := crc32.ChecksumIEEE(data); cs != want {
		t.Errorf("checksum: got %#08x, want %#08x", cs, want)
	}
	if err := tgt.EraseSector(ctx, base+4096); err != nil {
		t.Fatal(err)
	}
	if blank, _ := tgt.IsBlank(ctx, base+4096, 4096); !blank {
		t.Errorf("sector not erased")
	}
	if blank, _ := tgt.IsBlank(ctx, base, 4096); blank {
		t.Errorf("neighbouring sector erased")
	}
	if err := tgt.EraseChip(ctx, wlink.ErasePowerOff); err != nil {
		t.Fatal(err)
	}
	if blank, _ := tgt.IsBlank(ctx, base, 64*1024); !blank {
		t.Errorf("chip not erased")
	}
	if err := tgt.SetSpeed(ctx, wlink.SpeedMedium); err != nil {
		t.Fatal(err)
	}
	if got, want := h.Speed(), wlink.SpeedMedium; got != want {
		t.Errorf("speed: got %s, want %s", got, want)
	}
	if got, want := sim.Speed(), wlink.SpeedMedium.Code(); got != want {
		t.Errorf("adapter speed code: got %#02x, want %#02x", got, want)
	}
}

func TestMalformedCountsAsMiss(t *testing.T) {
	sim := newSim()
	sim.Hook = func(c wlinktest.Call) wlinktest.Fault {
		if c.Op == wlinktest.OpChipInfo {
			return wlinktest.FaultMalformed
		}
		return wlinktest.FaultNone
	}
	h := openSim(t, sim, t.TempDir())
	defer h.Close()
	var err error
	for i := 0; i < 3; i++ {
		_, err = wlink.ReadFlashSize(context.Background(), h)
	}
	if !wlink.IsLinkLost(err) {
		t.Fatalf("expected link lost after repeated garbage, got %v", err)
	}
}
