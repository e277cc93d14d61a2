// go-dw3000
// Copyright (c) 2026 The go-dw3000 Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-dw3000.
//
// go-dw3000 is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-dw3000 is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-dw3000; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package dw3000

import "fmt"

// Device time constants. The DW3000 timestamps events on a 40-bit counter
// clocked at 499.2 MHz x 128, roughly 15.65 picoseconds per tick.
const (
	// TimeUnit is the duration of one device tick in seconds
	TimeUnit = 1.0 / (128 * 499.2e6)

	// SpeedOfLight is the propagation speed used for distance conversion,
	// in meters per second (RF in air)
	SpeedOfLight = 299702547.0

	// timestampBits is the width of the device timestamp counter
	timestampBits = 40
	// timestampMask masks a value to the counter width
	timestampMask = (uint64(1) << timestampBits) - 1
	// timestampWrap is the counter modulus (~17.2 seconds)
	timestampWrap = uint64(1) << timestampBits
)

// Timestamp is a 40-bit device clock tick count, as read from the TX_TIME
// and RX_TIME register files. Timestamps are monotonic modulo the 40-bit
// wrap within one session and are invalidated by a device reset.
type Timestamp uint64

// Valid reports whether the value fits in the 40-bit counter
func (t Timestamp) Valid() bool {
	return uint64(t)&^timestampMask == 0
}

// Add advances a timestamp by a tick count, wrapping at 40 bits
func (t Timestamp) Add(ticks int64) Timestamp {
	return Timestamp((uint64(t) + uint64(ticks)) & timestampMask)
}

// Sub returns t - u in ticks, interpreting the difference modulo the
// 40-bit wrap as a signed value. Two timestamps less than half the wrap
// period (~8.6 s) apart subtract correctly regardless of counter
// rollover between them.
func (t Timestamp) Sub(u Timestamp) int64 {
	diff := (uint64(t) - uint64(u)) & timestampMask
	if diff >= timestampWrap/2 {
		return int64(diff) - int64(timestampWrap)
	}
	return int64(diff)
}

// Seconds converts a tick count to seconds
func (t Timestamp) Seconds() float64 {
	return float64(t) * TimeUnit
}

func (t Timestamp) String() string {
	return fmt.Sprintf("0x%010X", uint64(t)&timestampMask)
}

// TicksToMeters converts a one-way flight time in ticks to meters
func TicksToMeters(ticks float64) float64 {
	return ticks * TimeUnit * SpeedOfLight
}
