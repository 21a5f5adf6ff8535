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
	"github.com/juju/errors"
)

// Command frames travel on the command pipe:
//
//	request:  0x81 code len payload...
//	response: 0x82 code len payload...
//	error:    0x81 0x55 len reason...
//
// Bulk data (block writes, memory reads) goes over the data pipe.
const (
	markerRequest  = 0x81
	markerResponse = 0x82
	codeError      = 0x55

	MaxPayload   = 255
	MaxFrameSize = 3 + MaxPayload
)

// Class selects the timeout applied to a command.
type Class int

const (
	ClassStatus Class = iota
	ClassBlock
	ClassErase
)

type Command struct {
	Name    string
	Code    byte
	Payload []byte
	Class   Class
	// Data, if not empty, is sent on the data pipe right after the frame.
	Data []byte
	// ReadLen bytes are read from the data pipe after the response.
	ReadLen int
}

type Response struct {
	Code    byte
	Payload []byte
	Data    []byte
}

type malformedError struct {
	msg string
}

func (e *malformedError) Error() string {
	return "malformed frame: " + e.msg
}

func isMalformed(err error) bool {
	_, ok := errors.Cause(err).(*malformedError)
	return ok
}

func EncodeRequest(code byte, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, errors.Errorf("payload too long (%d)", len(payload))
	}
	f := make([]byte, 0, 3+len(payload))
	f = append(f, markerRequest, code, byte(len(payload)))
	return append(f, payload...), nil
}

// DecodeRequest is the adapter side of EncodeRequest.
func DecodeRequest(f []byte) (byte, []byte, error) {
	if len(f) < 3 || f[0] != markerRequest {
		return 0, nil, &malformedError{"bad request header"}
	}
	if int(f[2]) != len(f)-3 {
		return 0, nil, &malformedError{"request length mismatch"}
	}
	return f[1], f[3:], nil
}

func EncodeResponse(code byte, payload []byte) []byte {
	f := make([]byte, 0, 3+len(payload))
	f = append(f, markerResponse, code, byte(len(payload)))
	return append(f, payload...)
}

func EncodeError(reason byte) []byte {
	return []byte{markerRequest, codeError, 1, reason}
}

// DecodeResponse parses a response frame. Error frames come back as
// *DeviceError with Reason set, anything unparseable as a malformed error.
func DecodeResponse(f []byte) (byte, []byte, error) {
	if len(f) < 3 {
		return 0, nil, &malformedError{"short response"}
	}
	switch {
	case f[0] == markerRequest && f[1] == codeError:
		de := &DeviceError{}
		if len(f) > 3 {
			de.Reason = f[3]
		}
		return 0, nil, de
	case f[0] != markerResponse:
		return 0, nil, &malformedError{"bad response header"}
	}
	n := int(f[2])
	if n > len(f)-3 {
		return 0, nil, &malformedError{"truncated response"}
	}
	return f[1], f[3 : 3+n], nil
}
