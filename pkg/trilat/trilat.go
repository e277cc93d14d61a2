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

// Package trilat computes 2D positions from anchor distances by linear
// least-squares trilateration. Distances come from two-way ranging, the
// anchor coordinates from a site survey.
package trilat

import (
	"errors"
	"fmt"
	"math"
)

// Point is a 2D position in meters
type Point struct {
	X float64
	Y float64
}

// Range pairs an anchor position with a measured distance
type Range struct {
	Anchor   Point
	Distance float64
}

var (
	// ErrTooFewAnchors indicates fewer than three usable ranges
	ErrTooFewAnchors = errors.New("need at least 3 anchors")
	// ErrDegenerate indicates collinear or coincident anchors
	ErrDegenerate = errors.New("anchor geometry is degenerate")
)

// Solve computes the least-squares position for a set of ranges.
//
// The quadratic range equations are linearized by subtracting the first
// anchor's equation from the others, giving an overdetermined linear
// system solved through its normal equations.
func Solve(ranges []Range) (Point, error) {
	if len(ranges) < 3 {
		return Point{}, fmt.Errorf("%w: got %d", ErrTooFewAnchors, len(ranges))
	}

	ref := ranges[0]
	x1, y1 := ref.Anchor.X, ref.Anchor.Y
	r1 := ref.Distance

	// Accumulate AtA and Atb directly, the system is only 2 unknowns
	var ata [2][2]float64
	var atb [2]float64
	for _, rng := range ranges[1:] {
		xi, yi := rng.Anchor.X, rng.Anchor.Y
		ri := rng.Distance

		ax := 2 * (xi - x1)
		ay := 2 * (yi - y1)
		b := r1*r1 - ri*ri - x1*x1 + xi*xi - y1*y1 + yi*yi

		ata[0][0] += ax * ax
		ata[0][1] += ax * ay
		ata[1][0] += ay * ax
		ata[1][1] += ay * ay
		atb[0] += ax * b
		atb[1] += ay * b
	}

	det := ata[0][0]*ata[1][1] - ata[0][1]*ata[1][0]
	if math.Abs(det) < 1e-12 {
		return Point{}, ErrDegenerate
	}

	return Point{
		X: (atb[0]*ata[1][1] - atb[1]*ata[0][1]) / det,
		Y: (ata[0][0]*atb[1] - ata[1][0]*atb[0]) / det,
	}, nil
}

// Residual returns the RMS error in meters between the solved position
// and the measured distances. Large residuals flag bad measurements or a
// stale anchor survey.
func Residual(p Point, ranges []Range) float64 {
	if len(ranges) == 0 {
		return 0
	}
	var sum float64
	for _, rng := range ranges {
		dx := p.X - rng.Anchor.X
		dy := p.Y - rng.Anchor.Y
		d := math.Hypot(dx, dy)
		sum += (d - rng.Distance) * (d - rng.Distance)
	}
	return math.Sqrt(sum / float64(len(ranges)))
}
