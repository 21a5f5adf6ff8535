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
package pflagenv

import (
	"os"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestParseFlagSet(t *testing.T) {
	fs := pflag.NewFlagSet("pflagenv-test", pflag.ContinueOnError)

	var myFlag1, myFlag2, myFlag3, myFlag4 string
	fs.StringVar(&myFlag1, "my-flag1", "def1", "")
	fs.StringVar(&myFlag2, "my-flag2", "def2", "")
	fs.StringVar(&myFlag3, "my-flag3", "def3", "")
	fs.StringVar(&myFlag4, "my-flag4", "def4", "")
	fs.Parse([]string{"--my-flag1=cl1", "--my-flag2="})

	os.Setenv("TEST_MY_FLAG1", "env1")
	os.Setenv("TEST_MY_FLAG2", "env2")
	os.Setenv("TEST_MY_FLAG3", "env3")
	defer os.Unsetenv("TEST_MY_FLAG1")
	defer os.Unsetenv("TEST_MY_FLAG2")
	defer os.Unsetenv("TEST_MY_FLAG3")
	if err := ParseFlagSet(fs, "TEST_"); err != nil {
		t.Fatal(err)
	}

	if got, want := myFlag1, "cl1"; got != want {
		t.Errorf("got: %q, want: %q", got, want)
	}

	if got, want := myFlag2, ""; got != want {
		t.Errorf("got: %q, want: %q", got, want)
	}

	if got, want := myFlag3, "env3"; got != want {
		t.Errorf("got: %q, want: %q", got, want)
	}

	if got, want := myFlag4, "def4"; got != want {
		t.Errorf("got: %q, want: %q", got, want)
	}
}

func TestParseFlagSetBadValue(t *testing.T) {
	fs := pflag.NewFlagSet("pflagenv-test", pflag.ContinueOnError)
	fs.Int("attempts", 3, "")
	fs.Parse(nil)
	os.Setenv("TEST2_ATTEMPTS", "many")
	defer os.Unsetenv("TEST2_ATTEMPTS")
	if err := ParseFlagSet(fs, "TEST2_"); err == nil {
		t.Errorf("bad value accepted")
	}
}

func TestApplyDefaults(t *testing.T) {
	fs := pflag.NewFlagSet("pflagenv-test", pflag.ContinueOnError)
	port := fs.String("port", "auto", "")
	chip := fs.String("chip", "", "")
	speed := fs.String("speed", "", "")
	delay := fs.Duration("retry-delay", 2*time.Second, "")
	fs.Parse([]string{"--port=usb:1:2"})

	os.Setenv("TEST3_CHIP", "CH32V003")
	defer os.Unsetenv("TEST3_CHIP")
	if err := ParseFlagSet(fs, "TEST3_"); err != nil {
		t.Fatal(err)
	}
	err := ApplyDefaults(fs, map[string]string{
		"port":        "sn:1234",
		"chip":        "CH32V30X",
		"speed":       "low",
		"retry-delay": "5s",
	}, "test.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := *port, "usb:1:2"; got != want {
		t.Errorf("port: got %q, want %q", got, want)
	}
	if got, want := *chip, "CH32V003"; got != want {
		t.Errorf("chip: got %q, want %q", got, want)
	}
	if got, want := *speed, "low"; got != want {
		t.Errorf("speed: got %q, want %q", got, want)
	}
	if got, want := *delay, 5*time.Second; got != want {
		t.Errorf("retry-delay: got %s, want %s", got, want)
	}
}

func TestApplyDefaultsErrors(t *testing.T) {
	fs := pflag.NewFlagSet("pflagenv-test", pflag.ContinueOnError)
	fs.Duration("retry-delay", 2*time.Second, "")
	fs.Parse(nil)
	err := ApplyDefaults(fs, map[string]string{
		"no-such-flag": "1",
		"retry-delay":  "soon",
	}, "test.yaml")
	if err == nil {
		t.Fatal("expected an error")
	}
}
