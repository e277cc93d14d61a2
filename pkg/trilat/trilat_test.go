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

package trilat

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rangesTo builds exact ranges from a set of anchors to a known position
func rangesTo(p Point, anchors ...Point) []Range {
	ranges := make([]Range, len(anchors))
	for i, a := range anchors {
		ranges[i] = Range{
			Anchor:   a,
			Distance: math.Hypot(p.X-a.X, p.Y-a.Y),
		}
	}
	return ranges
}

func TestSolve_ThreeAnchors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		pos     Point
		anchors []Point
	}{
		{
			name:    "inside triangle",
			pos:     Point{X: 3.0, Y: 2.5},
			anchors: []Point{{0, 0}, {10, 0}, {5, 8}},
		},
		{
			name:    "outside hull",
			pos:     Point{X: -2.0, Y: 7.0},
			anchors: []Point{{0, 0}, {10, 0}, {5, 8}},
		},
		{
			name:    "at an anchor",
			pos:     Point{X: 10, Y: 0},
			anchors: []Point{{0, 0}, {10, 0}, {5, 8}},
		},
		{
			name:    "negative coordinates",
			pos:     Point{X: -4.2, Y: -1.1},
			anchors: []Point{{-10, -10}, {10, -10}, {0, 10}},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := Solve(rangesTo(tt.pos, tt.anchors...))
			require.NoError(t, err)
			assert.InDelta(t, tt.pos.X, got.X, 1e-6)
			assert.InDelta(t, tt.pos.Y, got.Y, 1e-6)
		})
	}
}

func TestSolve_Overdetermined(t *testing.T) {
	t.Parallel()

	pos := Point{X: 4.5, Y: 3.3}
	anchors := []Point{{0, 0}, {12, 0}, {12, 9}, {0, 9}}

	got, err := Solve(rangesTo(pos, anchors...))
	require.NoError(t, err)
	assert.InDelta(t, pos.X, got.X, 1e-6)
	assert.InDelta(t, pos.Y, got.Y, 1e-6)
}

func TestSolve_NoisyRanges(t *testing.T) {
	t.Parallel()

	pos := Point{X: 4.5, Y: 3.3}
	anchors := []Point{{0, 0}, {12, 0}, {12, 9}, {0, 9}}

	ranges := rangesTo(pos, anchors...)
	// A few centimeters of measurement noise should not move the solution
	// by more than the same order
	noise := []float64{0.03, -0.02, 0.04, -0.05}
	for i := range ranges {
		ranges[i].Distance += noise[i]
	}

	got, err := Solve(ranges)
	require.NoError(t, err)
	assert.InDelta(t, pos.X, got.X, 0.2)
	assert.InDelta(t, pos.Y, got.Y, 0.2)
}

func TestSolve_TooFewAnchors(t *testing.T) {
	t.Parallel()

	_, err := Solve(nil)
	require.ErrorIs(t, err, ErrTooFewAnchors)

	_, err = Solve(rangesTo(Point{1, 1}, Point{0, 0}, Point{5, 0}))
	require.ErrorIs(t, err, ErrTooFewAnchors)
}

func TestSolve_DegenerateGeometry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		anchors []Point
	}{
		{"collinear", []Point{{0, 0}, {5, 0}, {10, 0}}},
		{"coincident", []Point{{3, 3}, {3, 3}, {3, 3}}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Solve(rangesTo(Point{1, 2}, tt.anchors...))
			require.ErrorIs(t, err, ErrDegenerate)
		})
	}
}

func TestResidual(t *testing.T) {
	t.Parallel()

	pos := Point{X: 3.0, Y: 2.5}
	ranges := rangesTo(pos, Point{0, 0}, Point{10, 0}, Point{5, 8})

	// Exact ranges resolve with near-zero residual
	assert.InDelta(t, 0, Residual(pos, ranges), 1e-9)

	// A half-meter error on one range shows up in the RMS
	ranges[0].Distance += 0.5
	resid := Residual(pos, ranges)
	assert.InDelta(t, 0.5/math.Sqrt(3), resid, 1e-9)

	assert.Zero(t, Residual(pos, nil))
}
