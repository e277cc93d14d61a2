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

import "time"

// RecoveryConfig configures automatic recovery after bus faults or host
// sleep/wake cycles
type RecoveryConfig struct {
	// Enabled enables fault detection and recovery attempts
	Enabled bool

	// TimeDiscontinuityThreshold is the minimum elapsed time beyond the
	// expected ranging interval that indicates the host slept. Default: 2s
	TimeDiscontinuityThreshold time.Duration

	// MaxRecoveryAttempts is the number of recovery attempts before
	// treating as a fatal error. Default: 3
	MaxRecoveryAttempts int

	// RecoveryBackoff is the delay between recovery attempts
	RecoveryBackoff time.Duration
}

// DefaultRecoveryConfig returns sensible defaults for recovery
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		Enabled:                    true,
		TimeDiscontinuityThreshold: 2 * time.Second,
		MaxRecoveryAttempts:        3,
		RecoveryBackoff:            500 * time.Millisecond,
	}
}

// DetectSleep checks if the elapsed time since the last ranging round
// indicates a host sleep. Returns true if elapsed time exceeds
// (rangeInterval + TimeDiscontinuityThreshold).
func (cfg RecoveryConfig) DetectSleep(elapsed, rangeInterval time.Duration) bool {
	if !cfg.Enabled {
		return false
	}
	expectedMax := rangeInterval + cfg.TimeDiscontinuityThreshold
	return elapsed > expectedMax
}

// Config holds ranging session configuration
type Config struct {
	// RangeInterval is the pause between full ranging rounds
	RangeInterval time.Duration

	// ResponseTimeout bounds the wait for each answer frame
	ResponseTimeout time.Duration

	// AnchorLostTimeout is how long an anchor may stay silent before it
	// is reported lost
	AnchorLostTimeout time.Duration

	// ReplyDelay is the responder turnaround in device ticks. Both sides
	// must agree on it when delayed transmission is not available.
	ReplyDelay int64

	// DoubleSided selects the asymmetric double-sided exchange, which
	// cancels clock drift at the cost of two extra frames
	DoubleSided bool

	// Recovery configures automatic recovery after bus faults
	Recovery RecoveryConfig
}

// DefaultConfig returns the default ranging configuration
func DefaultConfig() *Config {
	return &Config{
		RangeInterval:     100 * time.Millisecond,
		ResponseTimeout:   20 * time.Millisecond,
		AnchorLostTimeout: 2 * time.Second,
		// ~3 ms at 15.65 ps per tick, comfortable for a slow responder
		ReplyDelay:  0x0B4E9F00,
		DoubleSided: true,
		Recovery:    DefaultRecoveryConfig(),
	}
}
