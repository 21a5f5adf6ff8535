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
package flasher

import (
	"fmt"
	"strings"
)

type Outcome int

const (
	OutcomeDone Outcome = iota
	OutcomeAborted
)

func (o Outcome) String() string {
	if o == OutcomeDone {
		return "Done"
	}
	return "Aborted"
}

// Result is the terminal state of a session. For aborted sessions it says
// how far the session got and what state the flash was left in.
type Result struct {
	Outcome          Outcome
	Reason           string
	LastPhase        Phase
	BackupAvailable  bool
	RestoreAttempted bool
	BackupRestored   bool
	// Retained only when the session is aborted.
	Backup     []byte
	BackupAddr uint32
	Attempts   map[Phase]int
	Err        error
}

func (r *Result) OK() bool {
	return r.Outcome == OutcomeDone
}

func (r *Result) String() string {
	if r.OK() {
		return "Done"
	}
	parts := []string{
		fmt.Sprintf("Aborted in %s: %s", r.LastPhase, r.Reason),
	}
	switch {
	case !r.BackupAvailable:
		parts = append(parts, "no backup was taken")
	case !r.RestoreAttempted:
		parts = append(parts, "backup available, restoration was not attempted")
	case r.BackupRestored:
		parts = append(parts, "previous flash contents restored")
	default:
		parts = append(parts, "restoring the backup FAILED, flash contents are undefined")
	}
	return strings.Join(parts, "; ")
}
