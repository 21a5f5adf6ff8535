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
// Package config reads the file of flag defaults, a flat YAML mapping from
// flag name to value:
//
//	port: sn:0123456789
//	chip: CH32V30X
//	speed: medium
//	retry-delay: 3s
package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/glog"
	"github.com/juju/errors"
	yaml "gopkg.in/yaml.v2"
)

const DefaultFileName = ".wchflash.yaml"

// DefaultPath is the defaults file in the user's home directory.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultFileName
	}
	return filepath.Join(home, DefaultFileName)
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(fname string) string {
	if !strings.HasPrefix(fname, "~/") {
		return fname
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return fname
	}
	return filepath.Join(home, fname[2:])
}

// Load reads defaults from fname. A missing file is not an error unless
// mustExist is set, an empty map is returned instead.
func Load(fname string, mustExist bool) (map[string]string, error) {
	fname = ExpandHome(fname)
	data, err := ioutil.ReadFile(fname)
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			glog.V(1).Infof("%s does not exist", fname)
			return map[string]string{}, nil
		}
		return nil, errors.Trace(err)
	}
	res, err := Parse(data)
	if err != nil {
		return nil, errors.Annotatef(err, "%s", fname)
	}
	glog.V(1).Infof("%s: %d defaults", fname, len(res))
	return res, nil
}

// Parse converts the YAML document into flag values. Lists become
// comma-separated values, nested mappings are rejected.
func Parse(data []byte) (map[string]string, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Annotatef(err, "invalid defaults file")
	}
	res := make(map[string]string, len(raw))
	for k, v := range raw {
		s, err := flagValue(v)
		if err != nil {
			return nil, errors.Annotatef(err, "%s", k)
		}
		res[k] = s
	}
	return res, nil
}

func flagValue(v interface{}) (string, error) {
	switch vv := v.(type) {
	case nil:
		return "", nil
	case []interface{}:
		var parts []string
		for _, e := range vv {
			s, err := flagValue(e)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, ","), nil
	case map[interface{}]interface{}:
		return "", errors.Errorf("nested values are not supported")
	default:
		return fmt.Sprint(vv), nil
	}
}
