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

import "time"

// watchdog drives periodic liveness probes while a session is listening.
// It catches connections that died without producing an error event or a
// push signal. Used only by the owning session's run goroutine.
type watchdog struct {
	period time.Duration
	ticker *time.Ticker
}

func newWatchdog(period time.Duration) *watchdog {
	return &watchdog{period: period}
}

// C returns the active tick channel, or nil when stopped. A nil channel
// never fires in a select.
func (w *watchdog) C() <-chan time.Time {
	if w.ticker == nil {
		return nil
	}
	return w.ticker.C
}

func (w *watchdog) start() {
	if w.ticker != nil {
		w.ticker.Reset(w.period)
		return
	}
	w.ticker = time.NewTicker(w.period)
}

func (w *watchdog) stop() {
	if w.ticker != nil {
		w.ticker.Stop()
		w.ticker = nil
	}
}
