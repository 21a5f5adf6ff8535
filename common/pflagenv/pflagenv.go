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
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/juju/errors"
	"github.com/spf13/pflag"

	"github.com/mongoose-os/wchflash/common/multierror"
)

// ParseFlagSet iterates through all non-set flags in the given FlagSet,
// checks if there is an environment variable with the uppercased flag name
// prepended with the given envPrefix, and if so, sets flag value to the
// environment variable value.
//
// It should be called after Parse is called for the given FlagSet.
func ParseFlagSet(fs *pflag.FlagSet, envPrefix string) error {
	var errs error
	for name, f := range nonSet(fs) {
		envName := getEnvName(name, envPrefix)
		v := os.Getenv(envName)
		if v == "" {
			continue
		}
		if err := set(f, v); err != nil {
			errs = multierror.Append(errs, errors.Annotatef(err, "%s", envName))
		}
	}
	return errs
}

// The same as ParseFlagSet, but operates on a default FlagSet: pflag.CommandLine
func Parse(envPrefix string) error {
	return ParseFlagSet(pflag.CommandLine, envPrefix)
}

// ApplyDefaults sets flags that are still unset from values, keyed by flag
// name. Call it after ParseFlagSet so that the command line and the
// environment take precedence. Unknown names are reported, as are values the
// flag does not accept.
func ApplyDefaults(fs *pflag.FlagSet, values map[string]string, source string) error {
	ns := nonSet(fs)
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	var errs error
	for _, name := range names {
		if fs.Lookup(name) == nil {
			errs = multierror.Append(errs, errors.Errorf("%s: unknown flag %q", source, name))
			continue
		}
		f, ok := ns[name]
		if !ok {
			continue
		}
		if err := set(f, values[name]); err != nil {
			errs = multierror.Append(errs, errors.Annotatef(err, "%s: %s", source, name))
		}
	}
	return errs
}

// nonSet returns flags not given on the command line or set since. Flags
// set here are marked Changed but do not go through FlagSet.Set, so Changed
// is what tells them apart.
func nonSet(fs *pflag.FlagSet) map[string]*pflag.Flag {
	res := make(map[string]*pflag.Flag)
	fs.VisitAll(func(f *pflag.Flag) {
		if !f.Changed {
			res[f.Name] = f
		}
	})
	return res
}

func set(f *pflag.Flag, v string) error {
	if err := f.Value.Set(v); err != nil {
		return errors.Trace(err)
	}
	f.Changed = true
	return nil
}

func getEnvName(flagName, envPrefix string) string {
	flagName = strings.ToUpper(flagName)
	flagName = strings.Replace(flagName, "-", "_", -1)
	return fmt.Sprint(envPrefix, flagName)
}
