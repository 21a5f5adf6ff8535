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
package flags

import (
	"time"

	flag "github.com/spf13/pflag"
)

var (
	Port = flag.String("port", "auto", "WCH-Link adapter: auto, usb:<bus>:<addr> or sn:<serial>. "+
		"If set to 'auto', the first adapter found is used.")
	Firmware = flag.String("firmware", "", "Firmware file: raw .bin, Intel .hex or a .zip bundle. "+
		"Defaults to the stock image from Firmware_Link next to the executable.")
	Chip        = flag.String("chip", "", "Chip family the firmware is built for, e.g. CH32V30X. Defaults to the detected chip.")
	Speed       = flag.String("speed", "", "Link speed: high, medium or low. Defaults to the fastest the chip supports.")
	EraseMethod = flag.String("erase-method", "", "Chip erase method: default, power-off or pin-rst")
	BlockSize   = flag.Uint32("block-size", 0, "Write block size, a multiple of 4. Defaults to the chip's.")
	BootFW      = flag.Bool("boot-firmware", true, "Reset the target into the new firmware when done")
	BackupFile  = flag.String("backup-file", "", "Where to save the backup of the old firmware if flashing fails")

	Attempts         = flag.Int("attempts", 3, "Failures of a flashing phase before giving up")
	RetryDelay       = flag.Duration("retry-delay", 2*time.Second, "Delay between attempts")
	RestoreTimeout   = flag.Duration("restore-timeout", 2*time.Minute, "Time limit for restoring the old firmware")
	IdentifyAttempts = flag.Int("identify-attempts", 3, "Chip identification attempts")
	SettleDelay      = flag.Duration("settle-delay", 500*time.Millisecond, "Delay before retrying identification, doubled each time")

	StatusTimeout = flag.Duration("status-timeout", 1*time.Second, "Timeout for adapter status commands")
	BlockTimeout  = flag.Duration("block-timeout", 5*time.Second, "Timeout for block reads and writes")
	EraseTimeout  = flag.Duration("erase-timeout", 30*time.Second, "Timeout for erase commands")
	MaxMisses     = flag.Int("max-misses", 3, "Unanswered commands after which the adapter is considered lost")
	LockDir       = flag.String("lock-dir", "", "Directory for adapter lock files. Defaults to the system temp dir.")

	Output = flag.StringP("output", "o", "", "Output file")
	Name   = flag.String("name", "", "Firmware name")
	Addr   = flag.Uint32("addr", 0x08000000, "Load address")
)
