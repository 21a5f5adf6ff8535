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

import "fmt"

type Phase int

const (
	Idle Phase = iota
	Backup
	Erase
	Write
	Verify
	Done
	Aborted
)

var phaseNames = []string{"Idle", "Backup", "Erase", "Write", "Verify", "Done", "Aborted"}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("Phase(%d)", int(p))
	}
	return phaseNames[p]
}

// Terminal phases are absorbing: a session in one of them is finished.
func (p Phase) Terminal() bool {
	return p == Done || p == Aborted
}

// Destructive phases are the ones after which the previous flash contents
// are gone.
func (p Phase) destructive() bool {
	return p == Write || p == Verify
}

// Transition is the outcome of a single step of a session: the phase to
// continue with, the events produced by the step and, if the step failed,
// the fault for the recovery controller to deal with.
type Transition struct {
	Next   Phase
	Events []ProgressEvent
	Fault  *FlashFault
}
