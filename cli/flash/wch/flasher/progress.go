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
	"sync/atomic"
)

type ProgressEvent struct {
	Phase   Phase
	Percent int
	Message string
}

func (ev ProgressEvent) String() string {
	return fmt.Sprintf("%-7s %3d%% %s", ev.Phase, ev.Percent, ev.Message)
}

func percent(done, total int) int {
	if total <= 0 || done >= total {
		return 100
	}
	return done * 100 / total
}

// eventQueue delivers progress events without ever waiting for the reader.
// When the buffer is full, the oldest pending event is dropped.
type eventQueue struct {
	ch      chan ProgressEvent
	dropped int64
}

func newEventQueue(n int) *eventQueue {
	return &eventQueue{ch: make(chan ProgressEvent, n)}
}

func (q *eventQueue) emit(ev ProgressEvent) {
	for {
		select {
		case q.ch <- ev:
			return
		default:
		}
		select {
		case <-q.ch:
			atomic.AddInt64(&q.dropped, 1)
		default:
		}
	}
}

func (q *eventQueue) close() {
	close(q.ch)
}

func (q *eventQueue) Dropped() int64 {
	return atomic.LoadInt64(&q.dropped)
}
