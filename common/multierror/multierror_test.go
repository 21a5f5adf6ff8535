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
package multierror

import (
	"testing"

	"github.com/juju/errors"
)

func TestAppend(t *testing.T) {
	var err error
	err = Append(err, errors.Errorf("an error"))
	if err == nil {
		t.Fatal(err)
	}
	if got, want := err.Error(), "an error"; got != want {
		t.Errorf("got: %q, want: %q", got, want)
	}

	err = Append(err, errors.Errorf("another error"))
	if got, want := err.Error(), "2 errors occurred:\n  an error\n  another error"; got != want {
		t.Errorf("got: %q, want: %q", got, want)
	}

	err = errors.Errorf("old error")
	err = Append(err, errors.Errorf("new error"))
	if got, want := err.Error(), "2 errors occurred:\n  old error\n  new error"; got != want {
		t.Errorf("got: %q, want: %q", got, want)
	}
}

func TestAppendNil(t *testing.T) {
	if err := Append(nil, nil, nil); err != nil {
		t.Errorf("got %v, want nil", err)
	}
	var err error
	for _, e := range []error{nil, errors.New("close failed"), nil} {
		err = Append(err, e)
	}
	me, ok := err.(*Error)
	if !ok {
		t.Fatalf("got %T", err)
	}
	if got, want := len(me.Errors()), 1; got != want {
		t.Errorf("got %d errors, want %d", got, want)
	}
}

func TestAppendFlattens(t *testing.T) {
	a := Append(nil, errors.New("a"), errors.New("b"))
	b := Append(errors.New("c"), a)
	if got, want := len(b.(*Error).Errors()), 3; got != want {
		t.Errorf("got %d errors, want %d", got, want)
	}
}
