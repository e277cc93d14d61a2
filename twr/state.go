// Copyright 2026 The go-dw3000 Contributors.
// SPDX-License-Identifier: Apache-2.0
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

package twr

import (
	"errors"
	"time"
)

// AnchorDetectionState represents the finite state machine for anchor
// visibility
type AnchorDetectionState int

const (
	StateIdle AnchorDetectionState = iota
	StateInRange
	StateRanging
)

// AnchorState tracks one anchor's visibility on the tag side
type AnchorState struct {
	LastSeenTime   time.Time
	LostTimer      *time.Timer
	LastDistance   float64
	DetectionState AnchorDetectionState
	Misses         int
	InRange        bool
}

// ErrNoResponse indicates an anchor did not answer a poll (not an error
// condition, anchors fall out of range all the time)
var ErrNoResponse = errors.New("no response from anchor")

// safeTimerStop safely stops a timer and drains its channel to prevent
// resource leaks
func safeTimerStop(timer *time.Timer) {
	if timer != nil {
		stopped := timer.Stop()
		// If Stop() returned false, the timer already fired and the value
		// was sent to C. Drain the channel to prevent blocking.
		if !stopped {
			select {
			case <-timer.C:
			default:
			}
		}
	}
}

// TransitionToRanging moves to ranging state and suspends the lost timer
func (as *AnchorState) TransitionToRanging() {
	as.DetectionState = StateRanging
	safeTimerStop(as.LostTimer)
	as.LostTimer = nil
}

// TransitionToInRange records a successful measurement and rearms the
// lost timer
func (as *AnchorState) TransitionToInRange(distance float64, timeout time.Duration, callback func()) {
	as.DetectionState = StateInRange
	as.InRange = true
	as.LastDistance = distance
	as.LastSeenTime = time.Now()
	as.Misses = 0
	safeTimerStop(as.LostTimer)
	as.LostTimer = time.AfterFunc(timeout, callback)
}

// TransitionToIdle resets to idle state
func (as *AnchorState) TransitionToIdle() {
	as.DetectionState = StateIdle
	as.InRange = false
	as.LastDistance = 0
	as.LastSeenTime = time.Time{}
	as.Misses = 0
	safeTimerStop(as.LostTimer)
	as.LostTimer = nil
}
