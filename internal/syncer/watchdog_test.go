// Copyright (c) 2026 John Earle
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

package syncer

import (
	"testing"
	"time"
)

// TestWatchdog_StoppedChannelIsNil verifies a stopped watchdog contributes a
// nil channel, which never fires in the session's select.
func TestWatchdog_StoppedChannelIsNil(t *testing.T) {
	w := newWatchdog(time.Hour)

	if w.C() != nil {
		t.Error("fresh watchdog should have nil channel")
	}

	w.start()
	if w.C() == nil {
		t.Error("started watchdog should have a live channel")
	}

	w.stop()
	if w.C() != nil {
		t.Error("stopped watchdog should have nil channel again")
	}

	// stop is idempotent
	w.stop()
}

// TestWatchdog_Ticks verifies the probe timer actually fires.
func TestWatchdog_Ticks(t *testing.T) {
	w := newWatchdog(5 * time.Millisecond)
	w.start()
	defer w.stop()

	select {
	case <-w.C():
	case <-time.After(time.Second):
		t.Fatal("watchdog never ticked")
	}
}
