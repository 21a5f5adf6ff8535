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
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"io/ioutil"
	"path"
	"path/filepath"

	"github.com/golang/glog"
	"github.com/juju/errors"
)

const ManifestFileName = "manifest.json"

func ReadZipFirmwareBundle(fname string) (*FirmwareBundle, error) {
	zipData, err := ioutil.ReadFile(fname)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return ReadZipFirmwareBytes(zipData, fname)
}

func ReadZipFirmwareBytes(zipData []byte, fname string) (*FirmwareBundle, error) {
	r, err := zip.NewReader(bytes.NewReader(zipData), int64(len(zipData)))
	if err != nil {
		return nil, errors.Annotatef(err, "%s: invalid firmware file", fname)
	}
	blobs := make(map[string][]byte)
	for _, f := range r.File {
		rc, err := f.Open()
		if err != nil {
			return nil, errors.Annotatef(err, "%s: failed to open %s", fname, f.Name)
		}
		data, err := ioutil.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, errors.Annotatef(err, "%s: failed to read %s", fname, f.Name)
		}
		blobs[path.Base(f.Name)] = data
	}
	manifestData := blobs[ManifestFileName]
	if manifestData == nil {
		return nil, errors.Errorf("%s: no %s in the archive", fname, ManifestFileName)
	}
	fwb := NewBundle()
	if err := json.Unmarshal(manifestData, &fwb.FirmwareManifest); err != nil {
		return nil, errors.Annotatef(err, "%s: failed to parse manifest", fname)
	}
	for n, p := range fwb.Parts {
		p.Name = n
		p.SetDataProvider(func(name, src string) ([]byte, error) {
			data, ok := blobs[src]
			if !ok {
				return nil, errors.Errorf("%s not found in the archive", src)
			}
			return data, nil
		})
	}
	glog.V(1).Infof("%s: %s %s for %s, %d parts", fname, fwb.Name, fwb.Version, fwb.Platform, len(fwb.Parts))
	return fwb, nil
}

func WriteZipFirmwareBytes(fwb *FirmwareBundle, w io.Writer) error {
	zw := zip.NewWriter(w)
	// Sources become relative to the archive.
	for _, p := range fwb.PartsByAddr() {
		data, err := p.GetData()
		if err != nil {
			return errors.Trace(err)
		}
		p.SetData(data)
		if p.Src == "" {
			p.Src = p.Name + ".bin"
		}
		p.Src = filepath.Base(p.Src)
	}
	manifestData, err := json.MarshalIndent(&fwb.FirmwareManifest, "", "  ")
	if err != nil {
		return errors.Annotatef(err, "error marshaling manifest")
	}
	glog.V(1).Infof("Manifest:\n%s", string(manifestData))
	add := func(name string, data []byte) error {
		f, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
		if err != nil {
			return errors.Annotatef(err, "error adding %s", name)
		}
		_, err = f.Write(data)
		return errors.Annotatef(err, "error adding %s", name)
	}
	if err := add(ManifestFileName, manifestData); err != nil {
		return err
	}
	for _, p := range fwb.PartsByAddr() {
		data, _ := p.GetData()
		if err := add(p.Src, data); err != nil {
			return err
		}
	}
	return errors.Annotatef(zw.Close(), "error closing the archive")
}

func WriteZipFirmwareBundle(fwb *FirmwareBundle, fname string) error {
	buf := new(bytes.Buffer)
	if err := WriteZipFirmwareBytes(fwb, buf); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(ioutil.WriteFile(fname, buf.Bytes(), 0644))
}
