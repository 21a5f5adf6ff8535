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
	"fmt"
	"os"
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"
	flag "github.com/spf13/pflag"

	"github.com/mongoose-os/wchflash/cli/config"
	"github.com/mongoose-os/wchflash/common/multierror"
	"github.com/mongoose-os/wchflash/common/pflagenv"
	"github.com/mongoose-os/wchflash/version"
)

const (
	envPrefix = "WCHFLASH_"
)

var (
	configFile = flag.String("config", config.DefaultPath(), "YAML file with flag defaults")
	verbose    = flag.Bool("verbose", false, "Verbose output")

	versionFlag = flag.Bool("version", false, "Print version and exit")
	helpFull    = flag.Bool("helpfull", false, "Show full help, including advanced flags")
)

var (
	flashFlags = []string{"port", "firmware", "chip", "speed", "erase-method", "block-size", "boot-firmware", "backup-file"}

	// put all commands here
	commands = []command{
		{"flash", flash, `Flash firmware to the chip attached to the adapter`, []string{}, flashFlags},
		{"info", info, `Show the adapter and the attached chip`, []string{}, []string{"port", "speed", "erase-method"}},
		{"list", list, `List attached adapters`, []string{}, []string{}},
		{"create-bundle", createBundle, `Pack a firmware image into a .zip bundle`, []string{"firmware", "output", "chip"}, []string{"name", "addr"}},
		{"version", showVersion, `Show version`, []string{}, []string{}},
	}
)

type command struct {
	name     string
	handler  handler
	short    string
	required []string
	optional []string
}

type handler func() error

func run() error {
	for _, c := range commands {
		if c.name == flag.Arg(0) {
			// check required flags
			if err := checkFlags(c.required); err != nil {
				return errors.Trace(err)
			}
			// run the handler
			if err := c.handler(); err != nil {
				return errors.Trace(err)
			}
			return nil
		}
	}
	// not found
	usage()
	return nil
}

// applyDefaults fills in flags not given on the command line, first from the
// environment and then from the defaults file.
func applyDefaults() error {
	errs := pflagenv.Parse(envPrefix)
	f := flag.Lookup("config")
	values, err := config.Load(*configFile, f.Changed)
	if err != nil {
		return multierror.Append(errs, err)
	}
	return multierror.Append(errs, pflagenv.ApplyDefaults(flag.CommandLine, values, *configFile))
}

func showVersion() error {
	vj := version.GetVersionJson()
	fmt.Printf("%s\nVersion: %s\nBuild ID: %s\n", "WCH-Link flashing tool", vj.BuildVersion, vj.BuildId)
	if !vj.BuildTimestamp.IsZero() {
		fmt.Printf("Built: %s\n", vj.BuildTimestamp.Format(time.RFC3339))
	}
	return nil
}

func main() {
	initFlags()
	flag.Parse()
	if err := applyDefaults(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	if *helpFull {
		unhideFlags()
		usage()
		return
	} else if *versionFlag {
		showVersion()
		return
	}

	glog.V(1).Infof("%s", version.GetUserAgent())
	if err := run(); err != nil {
		glog.Infof("Error: %+v", err)
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
