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

// Result is the outcome of one ranging exchange
type Result struct {
	// TimeOfFlight is the one-way signal flight time in seconds
	TimeOfFlight float64
	// Distance is the estimated distance in meters
	Distance float64
	// Valid is false when the result should not be trusted, e.g. the
	// device was not antenna-delay calibrated at resolution time
	Valid bool
}

// maxPlausibleTOF caps accepted flight times at ~33 microseconds, about
// 10 km. Anything above that is a timestamp inconsistency, not a measure.
const maxPlausibleTOF = 10000.0 / SpeedOfLight

// SingleSidedExchange holds the four timestamps of a single-sided two-way
// ranging exchange: the initiator transmits a poll and receives a
// response; the responder timestamps both on its own clock and reports
// them back inside the response.
type SingleSidedExchange struct {
	// PollTX and RespRX are on the initiator clock
	PollTX Timestamp
	RespRX Timestamp
	// PollRX and RespTX are on the responder clock
	PollRX Timestamp
	RespTX Timestamp
	// ClockOffsetRatio is the responder clock frequency offset relative
	// to the initiator, as reported by the carrier integrator. Zero
	// disables drift correction.
	ClockOffsetRatio float64
}

// Resolve computes time-of-flight and distance from a single-sided
// exchange. The responder's reply delay is scaled by the measured clock
// offset to cancel first-order crystal drift. Timestamps that produce a
// negative or implausible flight time fail with ErrRangingInvalid.
func (e SingleSidedExchange) Resolve() (Result, error) {
	roundTrip := e.RespRX.Sub(e.PollTX)
	replyDelay := e.RespTX.Sub(e.PollRX)
	if roundTrip <= 0 || replyDelay <= 0 {
		return Result{}, fmt.Errorf("%w: round trip %d ticks, reply delay %d ticks",
			ErrRangingInvalid, roundTrip, replyDelay)
	}

	tofTicks := (float64(roundTrip) - float64(replyDelay)*(1.0-e.ClockOffsetRatio)) / 2.0
	return resultFromTicks(tofTicks)
}

// DoubleSidedExchange holds the six timestamps of a double-sided two-way
// ranging exchange (poll, response, final). The symmetric round trips
// cancel clock drift without needing a carrier integrator reading.
type DoubleSidedExchange struct {
	// PollTX, RespRX, FinalTX are on the initiator clock
	PollTX  Timestamp
	RespRX  Timestamp
	FinalTX Timestamp
	// PollRX, RespTX, FinalRX are on the responder clock
	PollRX  Timestamp
	RespTX  Timestamp
	FinalRX Timestamp
}

// Resolve computes time-of-flight using the asymmetric double-sided
// formula tof = (Ra*Rb - Da*Db) / (Ra + Rb + Da + Db).
func (e DoubleSidedExchange) Resolve() (Result, error) {
	ra := e.RespRX.Sub(e.PollTX)  // initiator round trip
	da := e.FinalTX.Sub(e.RespRX) // initiator reply delay
	rb := e.FinalRX.Sub(e.RespTX) // responder round trip
	db := e.RespTX.Sub(e.PollRX)  // responder reply delay

	if ra <= 0 || da <= 0 || rb <= 0 || db <= 0 {
		return Result{}, fmt.Errorf("%w: Ra=%d Da=%d Rb=%d Db=%d ticks",
			ErrRangingInvalid, ra, da, rb, db)
	}

	denom := float64(ra) + float64(rb) + float64(da) + float64(db)
	tofTicks := (float64(ra)*float64(rb) - float64(da)*float64(db)) / denom
	return resultFromTicks(tofTicks)
}

// resultFromTicks converts a flight time in ticks to a Result, rejecting
// negative and implausible values
func resultFromTicks(tofTicks float64) (Result, error) {
	tof := tofTicks * TimeUnit
	if tof < 0 {
		return Result{}, fmt.Errorf("%w: negative time of flight after correction", ErrRangingInvalid)
	}
	if tof > maxPlausibleTOF {
		return Result{}, fmt.Errorf("%w: implausible time of flight %.3g s", ErrRangingInvalid, tof)
	}
	return Result{
		TimeOfFlight: tof,
		Distance:     tof * SpeedOfLight,
		Valid:        true,
	}, nil
}

// ResolveSingleSided resolves an exchange against this device's
// calibration state: an uncalibrated device yields the computed numbers
// with Valid forced to false.
func (d *Device) ResolveSingleSided(e SingleSidedExchange) (Result, error) {
	res, err := e.Resolve()
	if err != nil {
		return Result{}, err
	}
	if !d.calibrated {
		res.Valid = false
	}
	return res, nil
}

// ResolveDoubleSided resolves a double-sided exchange against this
// device's calibration state
func (d *Device) ResolveDoubleSided(e DoubleSidedExchange) (Result, error) {
	res, err := e.Resolve()
	if err != nil {
		return Result{}, err
	}
	if !d.calibrated {
		res.Valid = false
	}
	return res, nil
}
