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
package config

import (
	"io/ioutil"
	"path/filepath"
	"testing"
)

func TestParse(t *testing.T) {
	res, err := Parse([]byte(`
port: sn:0123
chip: CH32V30X
attempts: 5
verbose: true
retry-delay: 3s
block-size: 4096
boot-firmware: [a.bin, b.bin]
backup-file:
`))
	if err != nil {
		t.Fatal(err)
	}
	for k, want := range map[string]string{
		"port":          "sn:0123",
		"chip":          "CH32V30X",
		"attempts":      "5",
		"verbose":       "true",
		"retry-delay":   "3s",
		"block-size":    "4096",
		"boot-firmware": "a.bin,b.bin",
		"backup-file":   "",
	} {
		if got := res[k]; got != want {
			t.Errorf("%s: got %q, want %q", k, got, want)
		}
	}
}

func TestParseErrors(t *testing.T) {
	for i, c := range []string{
		"port: [",
		"speed:\n  high: 1\n",
		"- a\n- b\n",
	} {
		if _, err := Parse([]byte(c)); err == nil {
			t.Errorf("%d: expected an error", i)
		}
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	res, err := Load(filepath.Join(dir, "missing.yaml"), false)
	if err != nil || len(res) != 0 {
		t.Errorf("missing file: got %v, %v", res, err)
	}
	if _, err := Load(filepath.Join(dir, "missing.yaml"), true); err == nil {
		t.Errorf("missing file accepted")
	}

	data := []byte("chip: CH32V003\nspeed: low\n")
	fname := filepath.Join(dir, "defaults.yaml")
	if err := ioutil.WriteFile(fname, data, 0644); err != nil {
		t.Fatal(err)
	}
	res, err = Load(fname, true)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := res["speed"], "low"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestDefaultPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	if got, want := DefaultPath(), filepath.Join(home, DefaultFileName); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if got, want := ExpandHome("~/x.yaml"), filepath.Join(home, "x.yaml"); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
