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
package fwbundle

import (
	"sort"
	"time"

	"github.com/juju/errors"
)

const (
	AppPartType = "app"
)

// FirmwareBundle is a set of flash images described by a manifest.
type FirmwareBundle struct {
	FirmwareManifest
}

type FirmwareManifest struct {
	Name           string                   `json:"name,omitempty"`
	Platform       string                   `json:"platform,omitempty"`
	Board          string                   `json:"board,omitempty"`
	Description    string                   `json:"description,omitempty"`
	Version        string                   `json:"version,omitempty"`
	BuildID        string                   `json:"build_id,omitempty"`
	BuildTimestamp *time.Time               `json:"build_timestamp,omitempty"`
	Parts          map[string]*FirmwarePart `json:"parts"`
}

func NewBundle() *FirmwareBundle {
	return &FirmwareBundle{}
}

func (fwb *FirmwareBundle) AddPart(p *FirmwarePart) error {
	if p.Name == "" {
		return errors.NotValidf("unnamed part")
	}
	if fwb.Parts == nil {
		fwb.Parts = make(map[string]*FirmwarePart)
	}
	fwb.Parts[p.Name] = p
	return nil
}

func (fwb *FirmwareBundle) PartsByAddr() []*FirmwarePart {
	var pp []*FirmwarePart
	for _, p := range fwb.Parts {
		pp = append(pp, p)
	}
	sort.Slice(pp, func(i, j int) bool {
		if pp[i].Addr != pp[j].Addr {
			return pp[i].Addr < pp[j].Addr
		}
		return pp[i].Name < pp[j].Name
	})
	return pp
}

func (fwb *FirmwareBundle) GetPartData(name string) ([]byte, error) {
	p := fwb.Parts[name]
	if p == nil {
		return nil, errors.Errorf("%q: no such part", name)
	}
	return p.GetData()
}

// AppPart returns the part to be written to flash: the only part of the
// bundle, or the one of type "app" if there are several.
func (fwb *FirmwareBundle) AppPart() (*FirmwarePart, error) {
	pp := fwb.PartsByAddr()
	switch len(pp) {
	case 0:
		return nil, errors.Errorf("bundle has no parts")
	case 1:
		return pp[0], nil
	}
	var app *FirmwarePart
	for _, p := range pp {
		if p.Type != AppPartType {
			continue
		}
		if app != nil {
			return nil, errors.Errorf("bundle has more than one app part (%s, %s)", app.Name, p.Name)
		}
		app = p
	}
	if app == nil {
		return nil, errors.Errorf("bundle has %d parts, none of them is an app", len(pp))
	}
	return app, nil
}
