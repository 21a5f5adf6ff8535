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
package chip

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"
	goversion "github.com/mcuadros/go-version"

	"github.com/mongoose-os/wchflash/cli/flash/wch/wlink"
)

type IdentityErrorKind int

const (
	UnsupportedDevice IdentityErrorKind = iota
	NoResponse
)

func (k IdentityErrorKind) String() string {
	if k == UnsupportedDevice {
		return "unsupported device"
	}
	return "no response"
}

// IdentityError is returned by Resolve. UnsupportedDevice is fatal,
// NoResponse is transient.
type IdentityError struct {
	Kind IdentityErrorKind
	Msg  string
	Err  error
}

func (e *IdentityError) Error() string {
	s := e.Kind.String() + ": " + e.Msg
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func IsUnsupported(err error) bool {
	ie, ok := errors.Cause(err).(*IdentityError)
	return ok && ie.Kind == UnsupportedDevice
}

func IsNoResponse(err error) bool {
	ie, ok := errors.Cause(err).(*IdentityError)
	return ok && ie.Kind == NoResponse
}

func unsupported(f string, args ...interface{}) error {
	return &IdentityError{Kind: UnsupportedDevice, Msg: fmt.Sprintf(f, args...)}
}

// noResponse classifies err: transport and adapter failures mean the target
// may not be ready yet, anything else is passed through.
func noResponse(what string, err error) error {
	if err != nil && !wlink.IsConnectionError(err) && !wlink.IsDeviceError(err) {
		return errors.Annotatef(err, "%s", what)
	}
	return &IdentityError{Kind: NoResponse, Msg: what, Err: err}
}

type ResolverOpts struct {
	// Identification attempts when the target does not answer.
	Attempts int
	// Delay before the second attempt, doubled after each further one.
	SettleDelay time.Duration
	// Adapter firmware older than this is reported.
	MinAdapterVersion string
	// Replaces the real clock in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

type Resolver struct {
	opts ResolverOpts
}

func NewResolver(opts *ResolverOpts) *Resolver {
	r := &Resolver{}
	if opts != nil {
		r.opts = *opts
	}
	if r.opts.Attempts <= 0 {
		r.opts.Attempts = 3
	}
	if r.opts.SettleDelay <= 0 {
		r.opts.SettleDelay = 500 * time.Millisecond
	}
	if r.opts.MinAdapterVersion == "" {
		r.opts.MinAdapterVersion = "2.8"
	}
	if r.opts.Sleep == nil {
		r.opts.Sleep = Sleep
	}
	return r
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Resolve identifies the adapter and the target attached to it.
// NoResponse is retried with backoff, everything else is returned at once.
func (r *Resolver) Resolve(ctx context.Context, s wlink.Sender) (*Profile, error) {
	delay := r.opts.SettleDelay
	for attempt := 1; ; attempt++ {
		p, err := r.identify(ctx, s)
		if err == nil {
			glog.Infof("Target: %s, adapter %s", p, &p.Adapter)
			return p, nil
		}
		if !IsNoResponse(err) || attempt >= r.opts.Attempts {
			return nil, errors.Trace(err)
		}
		glog.Infof("%s (attempt %d/%d), retrying in %s", err, attempt, r.opts.Attempts, delay)
		if err := r.opts.Sleep(ctx, delay); err != nil {
			return nil, errors.Trace(err)
		}
		delay *= 2
	}
}

func (r *Resolver) identify(ctx context.Context, s wlink.Sender) (*Profile, error) {
	pi, err := wlink.GetProbeInfo(ctx, s)
	if err != nil {
		return nil, noResponse("adapter did not answer probe", err)
	}
	if !pi.Variant.Known() {
		return nil, unsupported("adapter %s", pi)
	}
	if goversion.Compare(pi.Version(), r.opts.MinAdapterVersion, "<") {
		glog.Warningf("Adapter firmware %s is older than %s, consider updating it", pi.Version(), r.opts.MinAdapterVersion)
	}
	id, err := wlink.AttachChip(ctx, s)
	if err != nil {
		return nil, noResponse("attach failed", err)
	}
	if id.Family == 0 {
		return nil, noResponse("target did not answer, check power and wiring", nil)
	}
	p, ok := Lookup(id.Family)
	if !ok {
		return nil, unsupported("chip %s", id)
	}
	p.ChipID = id.ID
	if n, ok := partNames[id.ID]; ok {
		p.Name = n
	}
	p.Adapter = *pi
	size, err := wlink.ReadFlashSize(ctx, s)
	if err != nil {
		return nil, noResponse("chip info failed", err)
	}
	if size > 0 && size < p.FlashSize {
		glog.V(1).Infof("%s reports %d KiB flash", p.Name, size/1024)
		p.FlashSize = size
	}
	if pi.Variant == wlink.VariantLinkECH32V305 {
		squadran(p)
	}
	return p, nil
}
