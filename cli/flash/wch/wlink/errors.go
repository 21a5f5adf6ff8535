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
package wlink

import (
	"fmt"

	"github.com/juju/errors"
)

// Link implementations return these (possibly annotated) so that Handle can
// tell a lost device from a slow one.
var (
	ErrLinkTimeout = errors.New("link timeout")
	ErrNoDevice    = errors.New("no device")
)

type ConnErrorKind int

const (
	NotFound ConnErrorKind = iota
	PermissionDenied
	Busy
	Timeout
	LinkLost
)

func (k ConnErrorKind) String() string {
	switch k {
	case NotFound:
		return "not found"
	case PermissionDenied:
		return "permission denied"
	case Busy:
		return "busy"
	case Timeout:
		return "timeout"
	case LinkLost:
		return "link lost"
	}
	return fmt.Sprintf("ConnErrorKind(%d)", int(k))
}

// ConnectionError is returned by Open and Send. All kinds are potentially
// transient: the adapter may still be enumerating, or may come back after a
// replug.
type ConnectionError struct {
	Kind ConnErrorKind
	Path string
	Op   string
	Err  error
}

func (e *ConnectionError) Error() string {
	s := e.Path
	if e.Op != "" {
		s += ": " + e.Op
	}
	s += ": " + e.Kind.String()
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// DeviceError is a failure reported by the adapter itself in an error frame.
type DeviceError struct {
	Cmd    byte
	Op     string
	Reason byte
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s (cmd %#02x): adapter reported error %#02x", e.Op, e.Cmd, e.Reason)
}

// ConnErrorKindOf returns the kind of the ConnectionError at the root of err.
func ConnErrorKindOf(err error) (ConnErrorKind, bool) {
	if ce, ok := errors.Cause(err).(*ConnectionError); ok {
		return ce.Kind, true
	}
	return 0, false
}

func IsConnectionError(err error) bool {
	_, ok := ConnErrorKindOf(err)
	return ok
}

func IsLinkLost(err error) bool {
	k, ok := ConnErrorKindOf(err)
	return ok && k == LinkLost
}

func IsTimeout(err error) bool {
	k, ok := ConnErrorKindOf(err)
	return ok && k == Timeout
}

func IsDeviceError(err error) bool {
	_, ok := errors.Cause(err).(*DeviceError)
	return ok
}
