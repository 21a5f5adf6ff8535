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
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"

	"github.com/juju/errors"
)

type FirmwarePart struct {
	Name           string `json:"-"`
	Type           string `json:"type,omitempty"`
	Src            string `json:"src,omitempty"`
	Addr           uint32 `json:"addr,omitempty"`
	Size           uint32 `json:"size,omitempty"`
	ChecksumSHA1   string `json:"cs_sha1,omitempty"`
	ChecksumSHA256 string `json:"cs_sha256,omitempty"`

	data         []byte
	dataProvider DataProvider
}

type DataProvider func(name, src string) ([]byte, error)

func computeSHA1(data []byte) string {
	cs := sha1.Sum(data)
	return hex.EncodeToString(cs[:])
}

func computeSHA256(data []byte) string {
	cs := sha256.Sum256(data)
	return hex.EncodeToString(cs[:])
}

// SetData attaches data to the part and updates its size and checksums.
func (p *FirmwarePart) SetData(data []byte) {
	p.data = data
	p.Size = uint32(len(data))
	p.ChecksumSHA1 = computeSHA1(data)
	p.ChecksumSHA256 = computeSHA256(data)
}

func (p *FirmwarePart) SetDataProvider(dp DataProvider) {
	p.dataProvider = dp
}

// GetData returns the part's contents, verifying them against the manifest.
func (p *FirmwarePart) GetData() ([]byte, error) {
	data := p.data
	if data == nil {
		if p.Src == "" || p.dataProvider == nil {
			return nil, errors.Errorf("%s: no suitable data source", p.Name)
		}
		var err error
		data, err = p.dataProvider(p.Name, p.Src)
		if err != nil {
			return nil, errors.Annotatef(err, "%s: error retrieving data", p.Name)
		}
	}
	if p.Size != 0 && int(p.Size) != len(data) {
		return nil, errors.Errorf("%s: size does not match (want %d, got %d)", p.Name, p.Size, len(data))
	}
	if p.ChecksumSHA1 != "" {
		if cs := computeSHA1(data); cs != p.ChecksumSHA1 {
			return nil, errors.Errorf("%s: checksum does not match (want %s, got %s)", p.Name, p.ChecksumSHA1, cs)
		}
	}
	if p.ChecksumSHA256 != "" {
		if cs := computeSHA256(data); cs != p.ChecksumSHA256 {
			return nil, errors.Errorf("%s: checksum does not match (want %s, got %s)", p.Name, p.ChecksumSHA256, cs)
		}
	}
	return data, nil
}
